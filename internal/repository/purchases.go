package repository

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"tutorpay/internal/model"
)

var (
	ErrNotFound = errors.New("purchase not found")

	// ErrAlreadyDecided is a contention no-op, not a failure: the conditional
	// update matched zero rows because another administrator won the race
	// (or the purchase never existed).
	ErrAlreadyDecided = errors.New("purchase already decided")

	// ErrNoPendingPurchase means evidence arrived for a product whose
	// purchase is terminally approved; nothing is awaiting evidence.
	ErrNoPendingPurchase = errors.New("no purchase is awaiting evidence")

	ErrDuplicateEvidence = errors.New("evidence already attached to a purchase")
)

type PurchaseRepo struct {
	dbPool    *pgxpool.Pool
	cache     FingerprintCache
	retention time.Duration
}

func NewPurchaseRepo(db *pgxpool.Pool, cache FingerprintCache, retention time.Duration) *PurchaseRepo {
	return &PurchaseRepo{
		dbPool:    db,
		cache:     cache,
		retention: retention,
	}
}

const purchaseColumns = `id, buyer_id, product_type, product_id, product_title, status,
	amount, discount, payment_method, transaction_ref, decided_by, decided_at, created_at, updated_at`

// SubmitEvidence upserts the pending row for a buyer/product pair and
// attaches the receipt in one transaction. The fingerprint index is consulted
// before the row is touched, and a duplicate caught by the receipts
// constraint rolls the row transition back, so a duplicate submission never
// flips a decided purchase back to pending.
//
// The upsert keeps the UNIQUE(buyer_id, product_type, product_id) row
// authoritative: a rejected purchase may retry, an approved one is terminal
// and the statement matches nothing, which surfaces as ErrNoPendingPurchase.
func (r *PurchaseRepo) SubmitEvidence(ctx context.Context, req model.SubmitRequest) (*model.Purchase, *model.Receipt, error) {
	if r.cache != nil {
		seen, err := r.cache.Seen(ctx, req.EvidenceFingerprint, r.retention)
		if err != nil {
			// Cache loss degrades to the constraint, never to acceptance.
			slog.Warn("fingerprint cache unavailable, falling through to store", "error", err)
		} else if seen {
			return nil, nil, ErrDuplicateEvidence
		}
	}

	tx, err := r.dbPool.Begin(ctx)
	if err != nil {
		return nil, nil, fmt.Errorf("begin submit tx: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	query := `
		INSERT INTO purchases
			(buyer_id, product_type, product_id, product_title, status,
			 amount, discount, payment_method, transaction_ref, created_at, updated_at)
		VALUES ($1, $2, $3, $4, 'pending', $5, $6, $7, $8, now(), now())
		ON CONFLICT (buyer_id, product_type, product_id) DO UPDATE SET
			status = 'pending',
			product_title = EXCLUDED.product_title,
			amount = EXCLUDED.amount,
			discount = EXCLUDED.discount,
			payment_method = EXCLUDED.payment_method,
			transaction_ref = EXCLUDED.transaction_ref,
			decided_by = NULL,
			decided_at = NULL,
			updated_at = now()
		WHERE purchases.status <> 'approved'
		RETURNING ` + purchaseColumns

	row := tx.QueryRow(ctx, query,
		req.BuyerID, req.ProductType, req.ProductID, req.ProductTitle,
		req.Amount, req.Discount, req.PaymentMethod, req.TransactionRef,
	)
	p, err := scanPurchase(row)
	if err != nil {
		r.forgetFingerprint(ctx, req.EvidenceFingerprint)
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil, ErrNoPendingPurchase
		}
		return nil, nil, fmt.Errorf("submit pending purchase: %w", err)
	}

	rec, err := attachReceipt(ctx, tx, p.ID, req.EvidenceHandle, req.EvidenceFingerprint)
	if err != nil {
		return nil, nil, r.receiptInsertError(ctx, req.EvidenceFingerprint, p.ID, err)
	}

	if err := tx.Commit(ctx); err != nil {
		r.forgetFingerprint(ctx, req.EvidenceFingerprint)
		return nil, nil, fmt.Errorf("commit submit tx: %w", err)
	}
	return p, rec, nil
}

// Decide performs the atomic decision transition. The conditional UPDATE is
// both the read and the write: exactly one row affected means this caller won
// and the audit row is written in the same transaction; zero rows means
// ErrAlreadyDecided. No SELECT-then-UPDATE, no application lock.
func (r *PurchaseRepo) Decide(ctx context.Context, purchaseID, adminID int64, decision model.Decision) (*model.Purchase, error) {
	tx, err := r.dbPool.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("begin decide tx: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	query := `
		UPDATE purchases
		SET status = $1, decided_by = $2, decided_at = now(), updated_at = now()
		WHERE id = $3 AND status = 'pending'
		RETURNING ` + purchaseColumns

	row := tx.QueryRow(ctx, query, decision.Terminal(), adminID, purchaseID)
	p, err := scanPurchase(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrAlreadyDecided
		}
		return nil, fmt.Errorf("decide purchase %d: %w", purchaseID, err)
	}

	_, err = tx.Exec(ctx,
		`INSERT INTO purchase_audits (purchase_id, admin_id, action, timestamp) VALUES ($1, $2, $3, now())`,
		purchaseID, adminID, decision,
	)
	if err != nil {
		return nil, fmt.Errorf("write audit for purchase %d: %w", purchaseID, err)
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("commit decide tx: %w", err)
	}
	return p, nil
}

func (r *PurchaseRepo) GetByID(ctx context.Context, id int64) (*model.Purchase, error) {
	row := r.dbPool.QueryRow(ctx, `SELECT `+purchaseColumns+` FROM purchases WHERE id = $1`, id)
	p, err := scanPurchase(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("get purchase %d: %w", id, err)
	}
	return p, nil
}

// List returns purchases matching the filter, newest first, with offset/limit
// pagination. Page numbers start at 1.
func (r *PurchaseRepo) List(ctx context.Context, filter model.ListFilter, page, pageSize int) ([]model.Purchase, error) {
	if page < 1 {
		page = 1
	}
	if pageSize < 1 || pageSize > 500 {
		pageSize = 50
	}

	var conds []string
	var args []any
	arg := func(v any) string {
		args = append(args, v)
		return fmt.Sprintf("$%d", len(args))
	}

	if filter.Status != "" {
		conds = append(conds, "status = "+arg(filter.Status))
	}
	if filter.ProductType != "" {
		conds = append(conds, "product_type = "+arg(filter.ProductType))
	}
	if filter.BuyerQuery != "" {
		conds = append(conds, "buyer_id::text LIKE "+arg("%"+filter.BuyerQuery+"%"))
	}
	if filter.ProductQuery != "" {
		conds = append(conds, "product_id LIKE "+arg("%"+filter.ProductQuery+"%"))
	}
	if !filter.CreatedFrom.IsZero() {
		conds = append(conds, "created_at >= "+arg(filter.CreatedFrom))
	}
	if !filter.CreatedTo.IsZero() {
		conds = append(conds, "created_at < "+arg(filter.CreatedTo))
	}

	query := `SELECT ` + purchaseColumns + ` FROM purchases`
	if len(conds) > 0 {
		query += " WHERE " + strings.Join(conds, " AND ")
	}
	query += " ORDER BY created_at DESC LIMIT " + arg(pageSize) + " OFFSET " + arg((page-1)*pageSize)

	rows, err := r.dbPool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list purchases: %w", err)
	}
	defer rows.Close()

	var out []model.Purchase
	for rows.Next() {
		p, err := scanPurchase(rows)
		if err != nil {
			return nil, fmt.Errorf("scan purchase row: %w", err)
		}
		out = append(out, *p)
	}
	return out, rows.Err()
}

func scanPurchase(row pgx.Row) (*model.Purchase, error) {
	var p model.Purchase
	err := row.Scan(
		&p.ID, &p.BuyerID, &p.ProductType, &p.ProductID, &p.ProductTitle, &p.Status,
		&p.Amount, &p.Discount, &p.PaymentMethod, &p.TransactionRef,
		&p.DecidedBy, &p.DecidedAt, &p.CreatedAt, &p.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	return &p, nil
}
