package service

import (
	"context"
	"errors"
	"fmt"
	"io"
	"time"

	"tutorpay/internal/model"
)

// ErrNotAuthorized rejects decision callbacks from anyone outside the static
// admin allow-list.
var ErrNotAuthorized = errors.New("sender is not an administrator")

// RateLimitError is a policy denial carrying the retry-after hint derived
// from the offending window or penalty.
type RateLimitError struct {
	RetryAfter time.Duration
}

func (e *RateLimitError) Error() string {
	return fmt.Sprintf("rate limited, retry after %s", e.RetryAfter)
}

// Decision outcome statuses. Contention outcomes are values, not errors.
const (
	StatusAccepted       = "accepted"
	StatusAlreadyHandled = "already_handled"
	StatusExpired        = "expired"
)

// PaymentService defines the engine operations. All transport layers (HTTP,
// NATS) depend on this interface, not on the concrete engine.
type PaymentService interface {
	// SubmitEvidence runs the full submission pipeline: rate limit, pending
	// purchase upsert, receipt dedup, token mint, admin fan-out.
	SubmitEvidence(ctx context.Context, req model.SubmitRequest) (*model.SubmitResult, error)

	// Decide settles a decision callback: token resolution, the atomic
	// purchase transition, event publication. A race lost at any stage comes
	// back as a DecideResult status, never as an error.
	Decide(ctx context.Context, cb model.DecisionCallback, adminID int64) (*model.DecideResult, error)

	ListPurchases(ctx context.Context, filter model.ListFilter, page, pageSize int) ([]model.Purchase, error)
	GetPurchase(ctx context.Context, id int64) (*model.Purchase, error)

	// ExportCSV streams the same listing as a read-only CSV projection.
	ExportCSV(ctx context.Context, filter model.ListFilter, w io.Writer) error
}

// PurchaseStore is the relational store surface the engine drives. The
// concrete implementation is repository.PurchaseRepo.
type PurchaseStore interface {
	// SubmitEvidence upserts the pending purchase and attaches the receipt
	// atomically; a duplicate fingerprint leaves the row untouched.
	SubmitEvidence(ctx context.Context, req model.SubmitRequest) (*model.Purchase, *model.Receipt, error)
	Decide(ctx context.Context, purchaseID, adminID int64, decision model.Decision) (*model.Purchase, error)
	GetByID(ctx context.Context, id int64) (*model.Purchase, error)
	List(ctx context.Context, filter model.ListFilter, page, pageSize int) ([]model.Purchase, error)
}
