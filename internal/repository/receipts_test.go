package repository

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/jackc/pgx/v5/pgconn"

	"tutorpay/internal/model"
)

type fakeCache struct {
	seen      map[string]bool
	seenCalls int
	forgot    []string
	err       error
}

func (c *fakeCache) Seen(ctx context.Context, fingerprint string, ttl time.Duration) (bool, error) {
	c.seenCalls++
	if c.err != nil {
		return false, c.err
	}
	if c.seen[fingerprint] {
		return true, nil
	}
	if c.seen == nil {
		c.seen = make(map[string]bool)
	}
	c.seen[fingerprint] = true
	return false, nil
}

func (c *fakeCache) Forget(ctx context.Context, fingerprint string) error {
	c.forgot = append(c.forgot, fingerprint)
	return nil
}

// A fingerprint already in the recently-seen index is rejected before any
// database round trip, and in particular before the purchase row upsert: the
// repo has a nil pool here, so reaching the store would panic the test.
func TestSubmitEvidence_CacheHitSkipsStore(t *testing.T) {
	cache := &fakeCache{seen: map[string]bool{"fp-1": true}}
	repo := NewPurchaseRepo(nil, cache, 7*24*time.Hour)

	req := model.SubmitRequest{
		BuyerID:             555,
		ProductType:         model.ProductCourse,
		ProductID:           "course-1",
		EvidenceHandle:      "handle-1",
		EvidenceFingerprint: "fp-1",
	}
	_, _, err := repo.SubmitEvidence(context.Background(), req)
	if !errors.Is(err, ErrDuplicateEvidence) {
		t.Fatalf("expected ErrDuplicateEvidence, got %v", err)
	}
	if cache.seenCalls != 1 {
		t.Fatalf("expected 1 cache lookup, got %d", cache.seenCalls)
	}
	if len(cache.forgot) != 0 {
		t.Fatalf("a cache-hit duplicate must keep its mark, forgot %v", cache.forgot)
	}
}

// A duplicate discovered via the receipts constraint keeps its cache mark, so
// repeats stay on the fast path; only genuine insert failures evict the mark.
func TestReceiptInsertError_ForgetsOnlyNonDuplicates(t *testing.T) {
	cache := &fakeCache{}
	repo := NewPurchaseRepo(nil, cache, 7*24*time.Hour)
	ctx := context.Background()

	err := repo.receiptInsertError(ctx, "fp-1", 1, &pgconn.PgError{Code: "23505"})
	if !errors.Is(err, ErrDuplicateEvidence) {
		t.Fatalf("expected ErrDuplicateEvidence, got %v", err)
	}
	if len(cache.forgot) != 0 {
		t.Fatalf("constraint duplicate must not evict the cache mark, forgot %v", cache.forgot)
	}

	err = repo.receiptInsertError(ctx, "fp-1", 1, errors.New("connection reset"))
	if errors.Is(err, ErrDuplicateEvidence) {
		t.Fatalf("transient failure must not be reported as a duplicate: %v", err)
	}
	if len(cache.forgot) != 1 || cache.forgot[0] != "fp-1" {
		t.Fatalf("transient failure must evict the cache mark, forgot %v", cache.forgot)
	}
}
