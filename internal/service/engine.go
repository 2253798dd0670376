package service

import (
	"context"
	"encoding/csv"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strconv"
	"time"

	"github.com/sethvargo/go-retry"

	"tutorpay/internal/correlator"
	"tutorpay/internal/model"
	"tutorpay/internal/notifier"
	"tutorpay/internal/ratelimit"
	"tutorpay/internal/repository"
)

// TopicDecided carries DecisionEvent payloads to the buyer-notification
// worker.
const TopicDecided = "purchases.decided"

// Engine wires the limiter, the purchase store, the token correlator, the
// notifier and the bus into the decision pipeline. All shared state it holds
// (token map, limiter windows) is injected and process-local; the purchase
// table is the only system of record.
type Engine struct {
	store   PurchaseStore
	tokens  *correlator.Store
	limiter *ratelimit.Limiter
	notify  notifier.Notifier
	bus     repository.MessageBus

	admins            []int64
	submissionPolicy  ratelimit.Policy
	interactionPolicy ratelimit.Policy
}

func NewEngine(
	store PurchaseStore,
	tokens *correlator.Store,
	limiter *ratelimit.Limiter,
	notify notifier.Notifier,
	bus repository.MessageBus,
	admins []int64,
	submissionPolicy, interactionPolicy ratelimit.Policy,
) *Engine {
	return &Engine{
		store:             store,
		tokens:            tokens,
		limiter:           limiter,
		notify:            notify,
		bus:               bus,
		admins:            admins,
		submissionPolicy:  submissionPolicy,
		interactionPolicy: interactionPolicy,
	}
}

func (e *Engine) SubmitEvidence(ctx context.Context, req model.SubmitRequest) (*model.SubmitResult, error) {
	if res := e.limiter.Admit(strconv.FormatInt(req.BuyerID, 10), e.submissionPolicy); !res.Allowed {
		return nil, &RateLimitError{RetryAfter: res.RetryAfter}
	}

	// Dedup runs before the purchase row is touched: a duplicate fingerprint
	// must not flip a decided row back to pending.
	purchase, _, err := e.store.SubmitEvidence(ctx, req)
	if err != nil {
		return nil, err
	}

	token, err := e.tokens.Open(purchase)
	if err != nil {
		return nil, err
	}

	e.fanOut(ctx, token, purchase)

	return &model.SubmitResult{
		PurchaseID: purchase.ID,
		Token:      token,
		Status:     StatusAccepted,
	}, nil
}

// fanOut sends one decision prompt per administrator and records the handles
// the gateway reports. Unreachable recipients are skipped; they are simply
// absent from the settle fan-out later.
func (e *Engine) fanOut(ctx context.Context, token string, p *model.Purchase) {
	text := promptText(p)
	for _, adminID := range e.admins {
		handle, err := e.notify.PromptAdmin(ctx, adminID, text, token)
		if err != nil {
			slog.Warn("decision prompt not delivered",
				"admin_id", adminID,
				"purchase_id", p.ID,
				"error", err,
			)
			continue
		}
		if err := e.tokens.RecordHandle(token, handle); err != nil {
			slog.Warn("could not record notification handle", "token_error", err)
		}
	}
}

func (e *Engine) Decide(ctx context.Context, cb model.DecisionCallback, adminID int64) (*model.DecideResult, error) {
	if !e.isAdmin(adminID) {
		return nil, ErrNotAuthorized
	}
	if res := e.limiter.Admit(strconv.FormatInt(adminID, 10), e.interactionPolicy); !res.Allowed {
		return nil, &RateLimitError{RetryAfter: res.RetryAfter}
	}

	settlement, err := e.tokens.Settle(cb.Token, cb.Decision, adminID)
	switch {
	case errors.Is(err, correlator.ErrAlreadySettled):
		// Fast-path short-circuit: another admin already acted on this token,
		// so skip the store round trip entirely.
		return &model.DecideResult{Status: StatusAlreadyHandled}, nil
	case errors.Is(err, correlator.ErrTokenExpired):
		return &model.DecideResult{Status: StatusExpired}, nil
	case err != nil:
		return nil, err
	}

	purchase, err := e.decideWithRetry(ctx, settlement.PurchaseID, adminID, cb.Decision)
	if errors.Is(err, repository.ErrAlreadyDecided) {
		// The table, not the token map, carries the at-most-once guarantee;
		// losing here (e.g. a competing process) is the same neutral no-op.
		return &model.DecideResult{Status: StatusAlreadyHandled}, nil
	}
	if err != nil {
		// The row is still pending, so the local settlement must not stand:
		// reopen the token or every later tap would short-circuit to
		// already_handled and strand the purchase.
		e.tokens.Reopen(cb.Token)
		return nil, err
	}

	e.publishDecision(purchase, settlement, cb.Decision, adminID)

	return &model.DecideResult{Purchase: purchase, Status: StatusAccepted}, nil
}

// decideWithRetry retries transient store failures a bounded number of times.
// Retrying is always safe: the conditional update is a no-op once the
// purchase has left pending.
func (e *Engine) decideWithRetry(ctx context.Context, purchaseID, adminID int64, decision model.Decision) (*model.Purchase, error) {
	var purchase *model.Purchase
	backoff := retry.WithMaxRetries(2, retry.NewConstant(200*time.Millisecond))
	err := retry.Do(ctx, backoff, func(ctx context.Context) error {
		p, err := e.store.Decide(ctx, purchaseID, adminID, decision)
		if err != nil {
			if errors.Is(err, repository.ErrAlreadyDecided) {
				return err
			}
			return retry.RetryableError(err)
		}
		purchase = p
		return nil
	})
	if err != nil {
		return nil, err
	}
	return purchase, nil
}

func (e *Engine) publishDecision(p *model.Purchase, s *correlator.Settlement, decision model.Decision, adminID int64) {
	event := model.DecisionEvent{
		PurchaseID:   p.ID,
		BuyerID:      p.BuyerID,
		ProductType:  p.ProductType,
		ProductTitle: s.ProductTitle,
		Decision:     decision,
		DecidedBy:    adminID,
		Handles:      s.Handles,
		DecidedAt:    time.Now().UTC(),
	}
	data, err := json.Marshal(event)
	if err != nil {
		slog.Error("marshal decision event", "purchase_id", p.ID, "error", err)
		return
	}
	if err := e.bus.Publish(TopicDecided, data); err != nil {
		// The decision is committed; the event is best effort.
		slog.Error("publish decision event", "purchase_id", p.ID, "error", err)
	}
}

func (e *Engine) ListPurchases(ctx context.Context, filter model.ListFilter, page, pageSize int) ([]model.Purchase, error) {
	return e.store.List(ctx, filter, page, pageSize)
}

func (e *Engine) GetPurchase(ctx context.Context, id int64) (*model.Purchase, error) {
	return e.store.GetByID(ctx, id)
}

// ExportCSV pages through the filtered listing and writes one CSV row per
// purchase. It is a pure projection of the same query the dashboard uses.
func (e *Engine) ExportCSV(ctx context.Context, filter model.ListFilter, w io.Writer) error {
	cw := csv.NewWriter(w)
	header := []string{
		"id", "buyer_id", "product_type", "product_id", "product_title",
		"status", "amount", "discount", "payment_method", "transaction_ref",
		"decided_by", "decided_at", "created_at",
	}
	if err := cw.Write(header); err != nil {
		return err
	}

	const pageSize = 500
	for page := 1; ; page++ {
		purchases, err := e.store.List(ctx, filter, page, pageSize)
		if err != nil {
			return fmt.Errorf("export page %d: %w", page, err)
		}
		for _, p := range purchases {
			decidedBy, decidedAt := "", ""
			if p.DecidedBy != nil {
				decidedBy = strconv.FormatInt(*p.DecidedBy, 10)
			}
			if p.DecidedAt != nil {
				decidedAt = p.DecidedAt.UTC().Format(time.RFC3339)
			}
			row := []string{
				strconv.FormatInt(p.ID, 10),
				strconv.FormatInt(p.BuyerID, 10),
				string(p.ProductType),
				p.ProductID,
				p.ProductTitle,
				string(p.Status),
				strconv.FormatInt(p.Amount, 10),
				strconv.FormatInt(p.Discount, 10),
				p.PaymentMethod,
				p.TransactionRef,
				decidedBy,
				decidedAt,
				p.CreatedAt.UTC().Format(time.RFC3339),
			}
			if err := cw.Write(row); err != nil {
				return err
			}
		}
		if len(purchases) < pageSize {
			break
		}
	}

	cw.Flush()
	return cw.Error()
}

func (e *Engine) isAdmin(id int64) bool {
	for _, a := range e.admins {
		if a == id {
			return true
		}
	}
	return false
}

func promptText(p *model.Purchase) string {
	return fmt.Sprintf(
		"Payment receipt for %s %q (purchase #%d)\nBuyer: %d\nAmount: %d (discount %d)\nMethod: %s, ref %s",
		p.ProductType, p.ProductTitle, p.ID, p.BuyerID, p.Amount, p.Discount, p.PaymentMethod, p.TransactionRef,
	)
}
