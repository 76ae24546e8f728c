package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/recoverly-app/recoveryservice/internal/domain"
	"github.com/recoverly-app/recoveryservice/internal/repo"
)

// accountStateRepository implements repo.AccountStateRepository
type accountStateRepository struct {
	store *Store
}

const accountStateColumns = `id, customer_id, subscription_id, state, previous_state, reason,
	grace_period_end, feature_restrictions, triggered_actions, manual_override, created_at`

func scanAccountState(row pgx.Row) (*domain.AccountState, error) {
	var s domain.AccountState
	var state, previousState string
	err := row.Scan(
		&s.ID, &s.CustomerID, &s.SubscriptionID, &state, &previousState, &s.Reason,
		&s.GracePeriodEnd, &s.FeatureRestrictions, &s.TriggeredActions, &s.ManualOverride, &s.CreatedAt,
	)
	if err != nil {
		return nil, err
	}
	s.State = domain.AccessState(state)
	s.PreviousState = domain.AccessState(previousState)
	return &s, nil
}

// Insert appends a new account state row
func (r *accountStateRepository) Insert(ctx context.Context, state *domain.AccountState) error {
	_, err := r.store.db.Exec(ctx, `
		INSERT INTO account_states (`+accountStateColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)`,
		state.ID, state.CustomerID, state.SubscriptionID, string(state.State),
		string(state.PreviousState), state.Reason, state.GracePeriodEnd,
		state.FeatureRestrictions, state.TriggeredActions, state.ManualOverride, state.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to insert account state: %w", err)
	}
	return nil
}

// GetCurrent returns the latest state row for a customer
func (r *accountStateRepository) GetCurrent(ctx context.Context, customerID string) (*domain.AccountState, error) {
	row := r.store.db.QueryRow(ctx, `
		SELECT `+accountStateColumns+` FROM account_states
		WHERE customer_id = $1
		ORDER BY created_at DESC
		LIMIT 1`, customerID)
	s, err := scanAccountState(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, repo.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get current account state: %w", err)
	}
	return s, nil
}

// ListExpiredGracePeriods returns current grace_period rows past their end.
// The DISTINCT ON clause keeps only the latest row per customer so a stale
// grace_period row superseded by a newer state is never picked up.
func (r *accountStateRepository) ListExpiredGracePeriods(ctx context.Context, now time.Time, limit int) ([]*domain.AccountState, error) {
	rows, err := r.store.db.Query(ctx, `
		SELECT `+accountStateColumns+` FROM (
			SELECT DISTINCT ON (customer_id) `+accountStateColumns+`
			FROM account_states
			ORDER BY customer_id, created_at DESC
		) latest
		WHERE state = 'grace_period' AND grace_period_end IS NOT NULL AND grace_period_end <= $1
		LIMIT $2`, now, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list expired grace periods: %w", err)
	}
	defer rows.Close()

	var states []*domain.AccountState
	for rows.Next() {
		s, err := scanAccountState(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan account state: %w", err)
		}
		states = append(states, s)
	}
	return states, rows.Err()
}
