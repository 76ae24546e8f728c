package postgres

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/recoverly-app/recoveryservice/internal/repo"
)

// Store represents the PostgreSQL store implementation
type Store struct {
	db *pgxpool.Pool
}

// NewStore creates a new PostgreSQL store
func NewStore(ctx context.Context, connString string, maxConns int32) (*Store, error) {
	config, err := pgxpool.ParseConfig(connString)
	if err != nil {
		return nil, fmt.Errorf("failed to parse connection string: %w", err)
	}
	if maxConns > 0 {
		config.MaxConns = maxConns
	}

	pool, err := pgxpool.NewWithConfig(ctx, config)
	if err != nil {
		return nil, fmt.Errorf("failed to create connection pool: %w", err)
	}

	// Test the connection
	if err := pool.Ping(ctx); err != nil {
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	return &Store{db: pool}, nil
}

// NewStoreWithPool creates a new PostgreSQL store with an existing pool
func NewStoreWithPool(pool *pgxpool.Pool) (*Store, error) {
	if pool == nil {
		return nil, fmt.Errorf("database pool cannot be nil")
	}
	return &Store{db: pool}, nil
}

// Close closes the database connection
func (s *Store) Close() error {
	if s.db != nil {
		s.db.Close()
	}
	return nil
}

// Failures returns the payment failure repository implementation
func (s *Store) Failures() repo.FailureRepository {
	return &failureRepository{store: s}
}

// Campaigns returns the dunning campaign repository implementation
func (s *Store) Campaigns() repo.CampaignRepository {
	return &campaignRepository{store: s}
}

// Communications returns the dunning communication repository implementation
func (s *Store) Communications() repo.CommunicationRepository {
	return &communicationRepository{store: s}
}

// AccountStates returns the account state repository implementation
func (s *Store) AccountStates() repo.AccountStateRepository {
	return &accountStateRepository{store: s}
}

// JobRuns returns the job run repository implementation
func (s *Store) JobRuns() repo.JobRunRepository {
	return &jobRunRepository{store: s}
}
