package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/redis/go-redis/v9"

	"tutorpay/internal/model"
)

// FingerprintCache is the short-lived recently-seen index in front of the
// durable uniqueness constraint. It exists to reject duplicates before paying
// a database round trip; it is an optimization, never a correctness boundary.
type FingerprintCache interface {
	// Seen marks a fingerprint for ttl and reports whether it was already
	// marked.
	Seen(ctx context.Context, fingerprint string, ttl time.Duration) (bool, error)
	// Forget removes a fingerprint so a failed insert does not poison
	// retries.
	Forget(ctx context.Context, fingerprint string) error
}

// attachReceipt inserts the evidence row inside the submission transaction.
// Uniqueness of the fingerprint is enforced by the receipts table constraint.
func attachReceipt(ctx context.Context, tx pgx.Tx, purchaseID int64, evidenceHandle, fingerprint string) (*model.Receipt, error) {
	rec := &model.Receipt{
		PurchaseID:          purchaseID,
		EvidenceHandle:      evidenceHandle,
		EvidenceFingerprint: fingerprint,
	}
	err := tx.QueryRow(ctx,
		`INSERT INTO receipts (purchase_id, evidence_handle, evidence_fingerprint, submitted_at)
		 VALUES ($1, $2, $3, now())
		 RETURNING id, submitted_at`,
		purchaseID, evidenceHandle, fingerprint,
	).Scan(&rec.ID, &rec.SubmittedAt)
	if err != nil {
		return nil, err
	}
	return rec, nil
}

// receiptInsertError maps a fingerprint-constraint violation to
// ErrDuplicateEvidence. The cache mark stays in place for duplicates, so
// repeats keep hitting the fast path; any other failure evicts the mark to
// not poison a retry of the same evidence.
func (r *PurchaseRepo) receiptInsertError(ctx context.Context, fingerprint string, purchaseID int64, err error) error {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == "23505" {
		return ErrDuplicateEvidence
	}
	r.forgetFingerprint(ctx, fingerprint)
	return fmt.Errorf("attach receipt to purchase %d: %w", purchaseID, err)
}

func (r *PurchaseRepo) forgetFingerprint(ctx context.Context, fingerprint string) {
	if r.cache != nil {
		_ = r.cache.Forget(ctx, fingerprint)
	}
}

// RedisFingerprintCache backs FingerprintCache with a SET NX plus expiry per
// fingerprint; Redis handles purging entries past the retention window.
type RedisFingerprintCache struct {
	rdb *redis.Client
}

func NewRedisFingerprintCache(rdb *redis.Client) *RedisFingerprintCache {
	return &RedisFingerprintCache{rdb: rdb}
}

func (c *RedisFingerprintCache) Seen(ctx context.Context, fingerprint string, ttl time.Duration) (bool, error) {
	set, err := c.rdb.SetNX(ctx, fingerprintKey(fingerprint), 1, ttl).Result()
	if err != nil {
		return false, err
	}
	return !set, nil
}

func (c *RedisFingerprintCache) Forget(ctx context.Context, fingerprint string) error {
	return c.rdb.Del(ctx, fingerprintKey(fingerprint)).Err()
}

func fingerprintKey(fingerprint string) string {
	return "receipt:fp:" + fingerprint
}
