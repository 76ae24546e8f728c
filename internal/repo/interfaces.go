package repo

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"

	"github.com/recoverly-app/recoveryservice/internal/domain"
)

// ErrNotFound is returned when a requested row does not exist.
var ErrNotFound = errors.New("not found")

type FailureRepository interface {
	// Insert creates a new payment failure record
	Insert(ctx context.Context, failure *domain.PaymentFailure) error

	// GetByID retrieves a failure by ID
	GetByID(ctx context.Context, id uuid.UUID) (*domain.PaymentFailure, error)

	// FindOpenByPaymentIntent finds the non-resolved failure for a
	// (customer, payment intent) pair, if any
	FindOpenByPaymentIntent(ctx context.Context, customerID, paymentIntentID string) (*domain.PaymentFailure, error)

	// Update replaces an existing failure row by ID
	Update(ctx context.Context, failure *domain.PaymentFailure) error

	// ListDueRetries returns up to limit pending failures with
	// next_retry_at <= now, ordered by creation time
	ListDueRetries(ctx context.Context, now time.Time, limit int) ([]*domain.PaymentFailure, error)

	// CountByStatusSince counts failures that entered the given status
	// after the cutoff; used by the analytics job
	CountByStatusSince(ctx context.Context, status domain.FailureStatus, since time.Time) (int64, error)

	// CountOpen counts failures still pending or retrying
	CountOpen(ctx context.Context) (int64, error)
}

type CampaignRepository interface {
	// Insert creates a new dunning campaign
	Insert(ctx context.Context, campaign *domain.DunningCampaign) error

	// GetByID retrieves a campaign by ID
	GetByID(ctx context.Context, id uuid.UUID) (*domain.DunningCampaign, error)

	// FindActiveByFailure finds the non-terminal campaign for a payment
	// failure, if any
	FindActiveByFailure(ctx context.Context, paymentFailureID uuid.UUID) (*domain.DunningCampaign, error)

	// Update replaces an existing campaign row by ID
	Update(ctx context.Context, campaign *domain.DunningCampaign) error

	// ListDueCommunications returns up to limit active campaigns whose
	// current step is pending and due, ordered by next_communication_at
	ListDueCommunications(ctx context.Context, now time.Time, limit int) ([]*domain.DunningCampaign, error)
}

type CommunicationRepository interface {
	// Insert records a dispatched communication
	Insert(ctx context.Context, comm *domain.DunningCommunication) error

	// ListByCampaign returns communications for a campaign ordered by
	// creation time
	ListByCampaign(ctx context.Context, campaignID uuid.UUID) ([]*domain.DunningCommunication, error)
}

type AccountStateRepository interface {
	// Insert appends a new account state row
	Insert(ctx context.Context, state *domain.AccountState) error

	// GetCurrent returns the latest state row for a customer. Latest row
	// by creation time wins; there is no versioning at the storage layer.
	GetCurrent(ctx context.Context, customerID string) (*domain.AccountState, error)

	// ListExpiredGracePeriods returns up to limit current grace_period
	// rows whose grace_period_end <= now
	ListExpiredGracePeriods(ctx context.Context, now time.Time, limit int) ([]*domain.AccountState, error)
}

type JobRunRepository interface {
	// Insert appends a job run record. Job runs are never mutated.
	Insert(ctx context.Context, run *domain.JobRun) error

	// ListRecent returns the most recent runs, optionally filtered by job
	// type (empty string for all), newest first
	ListRecent(ctx context.Context, jobType domain.JobType, limit int) ([]*domain.JobRun, error)

	// LastSuccess returns the most recent successful run for a job type
	LastSuccess(ctx context.Context, jobType domain.JobType) (*domain.JobRun, error)

	// CountSince counts runs started after the cutoff, per success flag
	CountSince(ctx context.Context, since time.Time, success bool) (int64, error)
}
