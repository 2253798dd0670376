package correlator

import (
	"crypto/rand"
	"encoding/base64"
	"errors"
	"fmt"
	"sync"
	"time"

	"tutorpay/internal/model"
)

var (
	// ErrTokenExpired covers both tokens that were never issued and tokens
	// already evicted; callers render both as "no longer awaiting a decision".
	ErrTokenExpired = errors.New("decision token unknown or expired")

	// ErrAlreadySettled is the fast-path contention outcome: another
	// administrator settled this token first.
	ErrAlreadySettled = errors.New("decision token already settled")
)

// record correlates one purchase's pending episode with every notification
// sent about it. Records live in process memory only; after a restart the
// purchase table remains the system of record and stale prompts resolve to
// ErrTokenExpired.
type record struct {
	purchaseID   int64
	buyerID      int64
	productType  model.ProductType
	productTitle string
	handles      []model.NotificationHandle
	settled      bool
	decision     model.Decision
	decidedBy    int64
	createdAt    time.Time
	settledAt    time.Time
}

// Settlement is the snapshot returned to the winner of a Settle race.
type Settlement struct {
	PurchaseID   int64
	BuyerID      int64
	ProductType  model.ProductType
	ProductTitle string
	Handles      []model.NotificationHandle
}

// Store is the owned, lock-protected token map. It is injected into the
// engine, never a package-level singleton.
type Store struct {
	mu      sync.Mutex
	tokens  map[string]*record
	ttl     time.Duration
	maxAge  time.Duration
	now     func() time.Time
}

// New creates a token store. ttl bounds how long settled records linger so
// that late taps still get a friendly "already handled"; maxAge caps records
// that never settle.
func New(ttl, maxAge time.Duration) *Store {
	return &Store{
		tokens: make(map[string]*record),
		ttl:    ttl,
		maxAge: maxAge,
		now:    time.Now,
	}
}

// NewWithClock is for tests that need to control time.
func NewWithClock(ttl, maxAge time.Duration, now func() time.Time) *Store {
	s := New(ttl, maxAge)
	s.now = now
	return s
}

// Open mints a fresh token for a purchase's current pending episode.
// Resubmission after a rejection opens a new token; the old record stays
// terminally settled until the sweeper evicts it.
func (s *Store) Open(p *model.Purchase) (string, error) {
	token, err := newToken()
	if err != nil {
		return "", err
	}

	s.mu.Lock()
	s.tokens[token] = &record{
		purchaseID:   p.ID,
		buyerID:      p.BuyerID,
		productType:  p.ProductType,
		productTitle: p.ProductTitle,
		createdAt:    s.now(),
	}
	s.mu.Unlock()

	return token, nil
}

// RecordHandle attaches one delivered notification to a token. Recipients the
// fan-out failed to reach are simply never recorded.
func (s *Store) RecordHandle(token string, h model.NotificationHandle) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	rec, ok := s.tokens[token]
	if !ok {
		return ErrTokenExpired
	}
	rec.handles = append(rec.handles, h)
	return nil
}

// Resolve maps a token back to its purchase id without mutating anything.
func (s *Store) Resolve(token string) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	rec, ok := s.tokens[token]
	if !ok {
		return 0, ErrTokenExpired
	}
	return rec.purchaseID, nil
}

// Settle transitions a token pending → settled under the store lock; exactly
// one caller wins, every later caller observes ErrAlreadySettled. This is a
// short-circuit in front of the purchase table's own conditional update, not
// the at-most-once guarantee itself.
func (s *Store) Settle(token string, decision model.Decision, adminID int64) (*Settlement, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	rec, ok := s.tokens[token]
	if !ok {
		return nil, ErrTokenExpired
	}
	if rec.settled {
		return nil, ErrAlreadySettled
	}
	rec.settled = true
	rec.decision = decision
	rec.decidedBy = adminID
	rec.settledAt = s.now()

	handles := make([]model.NotificationHandle, len(rec.handles))
	copy(handles, rec.handles)

	return &Settlement{
		PurchaseID:   rec.purchaseID,
		BuyerID:      rec.buyerID,
		ProductType:  rec.productType,
		ProductTitle: rec.productTitle,
		Handles:      handles,
	}, nil
}

// Reopen reverts a settlement whose store write ultimately failed, returning
// the token to pending so any administrator can retry the decision. The
// recorded handles survive. Reopening an unknown or already-pending token is
// a no-op.
func (s *Store) Reopen(token string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	rec, ok := s.tokens[token]
	if !ok || !rec.settled {
		return
	}
	rec.settled = false
	rec.decision = ""
	rec.decidedBy = 0
	rec.settledAt = time.Time{}
}

// Sweep evicts settled records older than ttl and unsettled records older
// than maxAge. It returns the number of evicted tokens.
func (s *Store) Sweep() int {
	now := s.now()

	s.mu.Lock()
	defer s.mu.Unlock()

	evicted := 0
	for token, rec := range s.tokens {
		switch {
		case rec.settled && now.Sub(rec.settledAt) > s.ttl:
			delete(s.tokens, token)
			evicted++
		case !rec.settled && now.Sub(rec.createdAt) > s.maxAge:
			delete(s.tokens, token)
			evicted++
		}
	}
	return evicted
}

// Len reports the number of live tokens.
func (s *Store) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.tokens)
}

// newToken returns 128 bits from crypto/rand as unpadded base64url,
// comfortably above the 96-bit guessing floor.
func newToken() (string, error) {
	buf := make([]byte, 16)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("generate decision token: %w", err)
	}
	return base64.RawURLEncoding.EncodeToString(buf), nil
}
