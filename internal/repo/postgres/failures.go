package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/recoverly-app/recoveryservice/internal/domain"
	"github.com/recoverly-app/recoveryservice/internal/repo"
)

// failureRepository implements repo.FailureRepository
type failureRepository struct {
	store *Store
}

const failureColumns = `id, customer_id, subscription_id, invoice_id, payment_intent_id,
	payment_method_id, failure_reason, failure_code, amount, currency, segment,
	retry_count, max_retry_attempts, next_retry_at, last_retry_at, status,
	resolution_type, resolved_at, created_at, updated_at`

func scanFailure(row pgx.Row) (*domain.PaymentFailure, error) {
	var f domain.PaymentFailure
	var status, segment, resolutionType string
	err := row.Scan(
		&f.ID, &f.CustomerID, &f.SubscriptionID, &f.InvoiceID, &f.PaymentIntentID,
		&f.PaymentMethodID, &f.FailureReason, &f.FailureCode, &f.Amount, &f.Currency, &segment,
		&f.RetryCount, &f.MaxRetryAttempts, &f.NextRetryAt, &f.LastRetryAt, &status,
		&resolutionType, &f.ResolvedAt, &f.CreatedAt, &f.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	f.Status = domain.FailureStatus(status)
	f.Segment = domain.CustomerSegment(segment)
	f.ResolutionType = domain.ResolutionType(resolutionType)
	return &f, nil
}

// Insert creates a new payment failure record
func (r *failureRepository) Insert(ctx context.Context, failure *domain.PaymentFailure) error {
	_, err := r.store.db.Exec(ctx, `
		INSERT INTO payment_failures (`+failureColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17, $18, $19, $20)`,
		failure.ID, failure.CustomerID, failure.SubscriptionID, failure.InvoiceID, failure.PaymentIntentID,
		failure.PaymentMethodID, failure.FailureReason, failure.FailureCode, failure.Amount, failure.Currency,
		string(failure.Segment), failure.RetryCount, failure.MaxRetryAttempts, failure.NextRetryAt,
		failure.LastRetryAt, string(failure.Status), string(failure.ResolutionType), failure.ResolvedAt,
		failure.CreatedAt, failure.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to insert payment failure: %w", err)
	}
	return nil
}

// GetByID retrieves a failure by ID
func (r *failureRepository) GetByID(ctx context.Context, id uuid.UUID) (*domain.PaymentFailure, error) {
	row := r.store.db.QueryRow(ctx, `
		SELECT `+failureColumns+` FROM payment_failures WHERE id = $1`, id)
	f, err := scanFailure(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, repo.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get payment failure: %w", err)
	}
	return f, nil
}

// FindOpenByPaymentIntent finds the non-resolved failure for a
// (customer, payment intent) pair, if any
func (r *failureRepository) FindOpenByPaymentIntent(ctx context.Context, customerID, paymentIntentID string) (*domain.PaymentFailure, error) {
	row := r.store.db.QueryRow(ctx, `
		SELECT `+failureColumns+` FROM payment_failures
		WHERE customer_id = $1 AND payment_intent_id = $2 AND status NOT IN ('resolved', 'abandoned')
		ORDER BY created_at DESC
		LIMIT 1`, customerID, paymentIntentID)
	f, err := scanFailure(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, repo.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to find open payment failure: %w", err)
	}
	return f, nil
}

// Update replaces an existing failure row by ID
func (r *failureRepository) Update(ctx context.Context, failure *domain.PaymentFailure) error {
	tag, err := r.store.db.Exec(ctx, `
		UPDATE payment_failures SET
			failure_reason = $2, failure_code = $3, amount = $4, currency = $5, segment = $6,
			payment_method_id = $7, retry_count = $8, max_retry_attempts = $9,
			next_retry_at = $10, last_retry_at = $11, status = $12,
			resolution_type = $13, resolved_at = $14, updated_at = $15
		WHERE id = $1`,
		failure.ID, failure.FailureReason, failure.FailureCode, failure.Amount, failure.Currency,
		string(failure.Segment), failure.PaymentMethodID, failure.RetryCount, failure.MaxRetryAttempts,
		failure.NextRetryAt, failure.LastRetryAt, string(failure.Status),
		string(failure.ResolutionType), failure.ResolvedAt, failure.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to update payment failure: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return repo.ErrNotFound
	}
	return nil
}

// ListDueRetries returns up to limit pending failures due for a retry
func (r *failureRepository) ListDueRetries(ctx context.Context, now time.Time, limit int) ([]*domain.PaymentFailure, error) {
	rows, err := r.store.db.Query(ctx, `
		SELECT `+failureColumns+` FROM payment_failures
		WHERE status = 'pending' AND next_retry_at IS NOT NULL AND next_retry_at <= $1
		ORDER BY created_at ASC
		LIMIT $2`, now, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list due retries: %w", err)
	}
	defer rows.Close()

	var failures []*domain.PaymentFailure
	for rows.Next() {
		f, err := scanFailure(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan payment failure: %w", err)
		}
		failures = append(failures, f)
	}
	return failures, rows.Err()
}

// CountByStatusSince counts failures that entered the given status after the cutoff
func (r *failureRepository) CountByStatusSince(ctx context.Context, status domain.FailureStatus, since time.Time) (int64, error) {
	var count int64
	err := r.store.db.QueryRow(ctx, `
		SELECT COUNT(*) FROM payment_failures
		WHERE status = $1 AND updated_at >= $2`, string(status), since).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("failed to count failures by status: %w", err)
	}
	return count, nil
}

// CountOpen counts failures still pending or retrying
func (r *failureRepository) CountOpen(ctx context.Context) (int64, error) {
	var count int64
	err := r.store.db.QueryRow(ctx, `
		SELECT COUNT(*) FROM payment_failures
		WHERE status IN ('pending', 'retrying')`).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("failed to count open failures: %w", err)
	}
	return count, nil
}
