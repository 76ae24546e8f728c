package recovery

import (
	"context"
	"errors"
	"math/rand"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"github.com/recoverly-app/recoveryservice/internal/domain"
	"github.com/recoverly-app/recoveryservice/internal/events"
	"github.com/recoverly-app/recoveryservice/internal/gateway"
	"github.com/recoverly-app/recoveryservice/internal/log"
	"github.com/recoverly-app/recoveryservice/internal/metrics"
	"github.com/recoverly-app/recoveryservice/internal/repo"
)

// DefaultRetryBatchSize bounds one ProcessPendingRetries invocation.
const DefaultRetryBatchSize = 50

// DunningService is the slice of the dunning engine the scheduler needs.
type DunningService interface {
	CreateCampaign(ctx context.Context, customerID string, paymentFailureID uuid.UUID, campaignType domain.CampaignType, channels []domain.Channel, personalization map[string]string) (*domain.DunningCampaign, error)
	CancelCampaign(ctx context.Context, paymentFailureID uuid.UUID, reason string) error
}

// AccountService is the slice of the account state manager the scheduler
// signals on failures and recoveries.
type AccountService interface {
	ProcessPaymentFailure(ctx context.Context, failure *domain.PaymentFailure) (*domain.AccountState, error)
	ProcessPaymentSuccess(ctx context.Context, customerID string) (*domain.AccountState, error)
}

// FailureInput carries everything the caller knows about a failed charge.
// FailureCode is the gateway decline code; classification never talks to
// the gateway directly.
type FailureInput struct {
	CustomerID      string
	SubscriptionID  *string
	InvoiceID       *string
	PaymentIntentID *string
	PaymentMethodID *string
	FailureReason   string
	FailureCode     string
	Amount          int64
	Currency        string
	Segment         domain.CustomerSegment
	Channels        []domain.Channel
	Personalization map[string]string
}

// RetryPolicy is the scheduling decision for one upcoming retry. Action
// and Priority exist for operator visibility only.
type RetryPolicy struct {
	NextRetryAt       time.Time
	RecommendedAction string
	Priority          string
}

// RetryResult is the outcome of a single retry attempt.
type RetryResult struct {
	Success     bool
	Abandoned   bool
	NextRetryAt *time.Time
}

// BatchResult accumulates per-item outcomes of one batch pass.
type BatchResult struct {
	Processed  int
	Successful int
	Failed     int
	Abandoned  int
}

// retryIntervals maps a failure reason to its ordered base intervals in
// hours. Attempts past the last entry reuse it.
var retryIntervals = map[string][]float64{
	"insufficient_funds":      {24, 72, 168},
	"card_declined":           {2, 24, 72},
	"expired_card":            {1, 6, 24},
	"authentication_required": {0.5, 2, 12},
}

var defaultIntervals = []float64{4, 24, 72}

// Scheduler ingests payment failures, classifies them, and drives retry
// attempts against the payment gateway.
type Scheduler struct {
	failures  repo.FailureRepository
	gateway   gateway.PaymentGateway
	dunning   DunningService
	accounts  AccountService
	publisher events.Publisher
	logger    *zap.Logger
	batchSize int
}

// NewScheduler creates a retry scheduler. dunning and accounts may be nil
// in tests that only exercise retry mechanics.
func NewScheduler(failures repo.FailureRepository, gw gateway.PaymentGateway, dunning DunningService, accounts AccountService, publisher events.Publisher, logger *zap.Logger, batchSize int) *Scheduler {
	if batchSize <= 0 {
		batchSize = DefaultRetryBatchSize
	}
	return &Scheduler{
		failures:  failures,
		gateway:   gw,
		dunning:   dunning,
		accounts:  accounts,
		publisher: publisher,
		logger:    logger,
		batchSize: batchSize,
	}
}

// ProcessFailure ingests a failed charge. The first failure for a
// (customer, payment intent) pair creates a record; repeats update it in
// place with an incremented retry count. Account state and dunning side
// effects never fail the primary write.
func (s *Scheduler) ProcessFailure(ctx context.Context, input FailureInput) (*domain.PaymentFailure, error) {
	if input.CustomerID == "" {
		return nil, status.Error(codes.InvalidArgument, "customer ID is required")
	}
	if input.FailureReason == "" && input.FailureCode == "" {
		return nil, status.Error(codes.InvalidArgument, "failure reason or code is required")
	}
	if input.Amount <= 0 {
		return nil, status.Error(codes.InvalidArgument, "amount must be greater than 0")
	}

	ctx = log.WithCustomerID(ctx, input.CustomerID)
	classification := Classify(input.FailureCode, input.FailureReason)
	now := time.Now()

	var failure *domain.PaymentFailure
	if input.PaymentIntentID != nil && *input.PaymentIntentID != "" {
		existing, err := s.failures.FindOpenByPaymentIntent(ctx, input.CustomerID, *input.PaymentIntentID)
		if err != nil && !errors.Is(err, repo.ErrNotFound) {
			return nil, status.Errorf(codes.Internal, "failed to look up existing failure: %v", err)
		}
		failure = existing
	}

	if failure != nil {
		failure.RetryCount++
		failure.FailureReason = input.FailureReason
		failure.FailureCode = input.FailureCode
		failure.Amount = input.Amount
		failure.LastRetryAt = &now
		failure.UpdatedAt = now
		if input.PaymentMethodID != nil {
			failure.PaymentMethodID = input.PaymentMethodID
		}
		if failure.RetryCount >= failure.MaxRetryAttempts {
			failure.Status = domain.FailureStatusAbandoned
			failure.NextRetryAt = nil
		} else {
			policy := CalculateNextRetryTime(failure.FailureReason, failure.RetryCount)
			failure.Status = domain.FailureStatusPending
			failure.NextRetryAt = &policy.NextRetryAt
		}
		if err := s.failures.Update(ctx, failure); err != nil {
			return nil, status.Errorf(codes.Internal, "failed to update payment failure: %v", err)
		}
	} else {
		failure = &domain.PaymentFailure{
			ID:               uuid.New(),
			CustomerID:       input.CustomerID,
			SubscriptionID:   input.SubscriptionID,
			InvoiceID:        input.InvoiceID,
			PaymentIntentID:  input.PaymentIntentID,
			PaymentMethodID:  input.PaymentMethodID,
			FailureReason:    input.FailureReason,
			FailureCode:      input.FailureCode,
			Amount:           input.Amount,
			Currency:         input.Currency,
			Segment:          input.Segment,
			MaxRetryAttempts: classification.RecommendedRetryCount,
			Status:           domain.FailureStatusPending,
			CreatedAt:        now,
			UpdatedAt:        now,
		}
		if classification.RecommendedRetryCount > 0 {
			policy := CalculateNextRetryTime(input.FailureReason, 0)
			failure.NextRetryAt = &policy.NextRetryAt
		}
		if err := s.failures.Insert(ctx, failure); err != nil {
			return nil, status.Errorf(codes.Internal, "failed to record payment failure: %v", err)
		}
	}

	metrics.FailuresRecorded.WithLabelValues(failure.FailureCode, string(classification.Class)).Inc()
	log.Info(ctx, "Processed payment failure",
		zap.String("failure_id", failure.ID.String()),
		zap.String("failure_code", failure.FailureCode),
		zap.String("classification", string(classification.Class)),
		zap.String("status", string(failure.Status)),
		zap.Int("retry_count", failure.RetryCount))

	s.publish(ctx, events.EventFailureRecorded, failure, map[string]string{
		"failure_code":   failure.FailureCode,
		"classification": string(classification.Class),
	})
	if failure.Status == domain.FailureStatusAbandoned {
		s.publish(ctx, events.EventFailureAbandoned, failure, nil)
	} else if failure.NextRetryAt != nil {
		s.publish(ctx, events.EventRetryScheduled, failure, map[string]string{
			"next_retry_at": failure.NextRetryAt.Format(time.RFC3339),
		})
	}

	if s.accounts != nil {
		if _, err := s.accounts.ProcessPaymentFailure(ctx, failure); err != nil {
			log.Warn(ctx, "Account state update failed for payment failure",
				zap.Error(err),
				zap.String("failure_id", failure.ID.String()))
			metrics.RecordError("account_state", "recovery")
		}
	}

	if classification.CustomerCommunicationRequired && !failure.Status.IsTerminal() && s.dunning != nil {
		campaignType := campaignTypeFor(input.Segment, classification.Severity)
		if _, err := s.dunning.CreateCampaign(ctx, failure.CustomerID, failure.ID, campaignType, input.Channels, input.Personalization); err != nil {
			log.Warn(ctx, "Dunning campaign creation failed for payment failure",
				zap.Error(err),
				zap.String("failure_id", failure.ID.String()))
			metrics.RecordError("dunning_campaign", "recovery")
		}
	}

	return failure, nil
}

// campaignTypeFor picks the communication sequence from what we know
// about the customer. Segment wins over severity.
func campaignTypeFor(segment domain.CustomerSegment, severity Severity) domain.CampaignType {
	switch {
	case segment == domain.SegmentHighValue:
		return domain.CampaignTypeHighValue
	case segment == domain.SegmentAtRisk:
		return domain.CampaignTypeAtRisk
	case severity == SeverityCritical:
		return domain.CampaignTypeAtRisk
	default:
		return domain.CampaignTypeStandard
	}
}

// RetryPayment attempts the charge for one failure. Exhausted failures
// are marked abandoned instead of erroring; only terminal records and
// infrastructure problems produce an error.
func (s *Scheduler) RetryPayment(ctx context.Context, failureID uuid.UUID, paymentMethodID *string) (*RetryResult, error) {
	failure, err := s.failures.GetByID(ctx, failureID)
	if err != nil {
		if errors.Is(err, repo.ErrNotFound) {
			return nil, status.Errorf(codes.NotFound, "payment failure %s not found", failureID)
		}
		return nil, status.Errorf(codes.Internal, "failed to load payment failure: %v", err)
	}
	ctx = log.WithCustomerID(ctx, failure.CustomerID)

	if failure.Status.IsTerminal() {
		return nil, status.Errorf(codes.FailedPrecondition, "payment failure %s is %s", failureID, failure.Status)
	}

	now := time.Now()
	if failure.RetryCount >= failure.MaxRetryAttempts {
		failure.Status = domain.FailureStatusAbandoned
		failure.NextRetryAt = nil
		failure.UpdatedAt = now
		if err := s.failures.Update(ctx, failure); err != nil {
			return nil, status.Errorf(codes.Internal, "failed to abandon payment failure: %v", err)
		}
		metrics.RecordRetryAttempt("abandoned")
		log.Info(ctx, "Abandoned payment failure, retries exhausted",
			zap.String("failure_id", failure.ID.String()),
			zap.Int("retry_count", failure.RetryCount))
		s.publish(ctx, events.EventFailureAbandoned, failure, nil)
		return &RetryResult{Abandoned: true}, nil
	}

	methodID := failure.PaymentMethodID
	if paymentMethodID != nil && *paymentMethodID != "" {
		methodID = paymentMethodID
	}

	var chargeErr error
	succeeded := false
	if methodID == nil || *methodID == "" {
		chargeErr = errors.New("no payment method on file")
	} else {
		result, err := s.gateway.ConfirmCharge(ctx, gateway.ChargeRequest{
			Amount:           failure.Amount,
			Currency:         failure.Currency,
			CustomerRef:      failure.CustomerID,
			PaymentMethodRef: *methodID,
			Metadata: map[string]string{
				"failure_id":  failure.ID.String(),
				"retry_count": strconv.Itoa(failure.RetryCount),
			},
		})
		if err != nil {
			chargeErr = err
		} else {
			succeeded = result.Succeeded()
		}
	}

	if succeeded {
		failure.Status = domain.FailureStatusResolved
		failure.ResolutionType = domain.ResolutionRetrySucceeded
		failure.ResolvedAt = &now
		failure.LastRetryAt = &now
		failure.NextRetryAt = nil
		failure.UpdatedAt = now
		if err := s.failures.Update(ctx, failure); err != nil {
			return nil, status.Errorf(codes.Internal, "failed to mark payment failure resolved: %v", err)
		}
		metrics.RecordRetryAttempt("succeeded")
		metrics.RetryAmountRecovered.WithLabelValues(failure.Currency).Add(float64(failure.Amount))
		log.Info(ctx, "Payment retry succeeded",
			zap.String("failure_id", failure.ID.String()),
			zap.Int64("amount", failure.Amount))
		s.publish(ctx, events.EventRetrySucceeded, failure, nil)

		if s.dunning != nil {
			if err := s.dunning.CancelCampaign(ctx, failure.ID, "payment_recovered"); err != nil {
				log.Warn(ctx, "Failed to cancel dunning campaign after recovery",
					zap.Error(err),
					zap.String("failure_id", failure.ID.String()))
			}
		}
		if s.accounts != nil {
			if _, err := s.accounts.ProcessPaymentSuccess(ctx, failure.CustomerID); err != nil {
				log.Warn(ctx, "Account state update failed after recovery",
					zap.Error(err),
					zap.String("failure_id", failure.ID.String()))
				metrics.RecordError("account_state", "recovery")
			}
		}
		return &RetryResult{Success: true}, nil
	}

	failure.RetryCount++
	failure.LastRetryAt = &now
	failure.UpdatedAt = now
	if failure.RetryCount >= failure.MaxRetryAttempts {
		failure.Status = domain.FailureStatusAbandoned
		failure.NextRetryAt = nil
	} else {
		policy := CalculateNextRetryTime(failure.FailureReason, failure.RetryCount)
		failure.Status = domain.FailureStatusPending
		failure.NextRetryAt = &policy.NextRetryAt
	}
	if err := s.failures.Update(ctx, failure); err != nil {
		return nil, status.Errorf(codes.Internal, "failed to record retry outcome: %v", err)
	}

	if chargeErr != nil {
		log.Warn(ctx, "Payment retry attempt errored",
			zap.Error(chargeErr),
			zap.String("failure_id", failure.ID.String()),
			zap.Int("retry_count", failure.RetryCount))
	}

	if failure.Status == domain.FailureStatusAbandoned {
		metrics.RecordRetryAttempt("abandoned")
		s.publish(ctx, events.EventFailureAbandoned, failure, nil)
		return &RetryResult{Abandoned: true}, nil
	}

	metrics.RecordRetryAttempt("failed")
	s.publish(ctx, events.EventRetryFailed, failure, map[string]string{
		"next_retry_at": failure.NextRetryAt.Format(time.RFC3339),
	})
	return &RetryResult{NextRetryAt: failure.NextRetryAt}, nil
}

// ProcessPendingRetries is the batch entry point driven by the job
// orchestrator. It retries due failures sequentially; per-item errors are
// counted and never abort the batch.
func (s *Scheduler) ProcessPendingRetries(ctx context.Context) (BatchResult, error) {
	due, err := s.failures.ListDueRetries(ctx, time.Now(), s.batchSize)
	if err != nil {
		return BatchResult{}, status.Errorf(codes.Internal, "failed to list due retries: %v", err)
	}

	var result BatchResult
	for _, failure := range due {
		result.Processed++
		res, err := s.RetryPayment(ctx, failure.ID, nil)
		if err != nil {
			result.Failed++
			log.Error(ctx, "Retry failed with error",
				zap.Error(err),
				zap.String("failure_id", failure.ID.String()))
			continue
		}
		switch {
		case res.Success:
			result.Successful++
		case res.Abandoned:
			result.Abandoned++
		default:
			result.Failed++
		}
	}

	if result.Processed > 0 {
		log.Info(ctx, "Processed pending retries",
			zap.Int("processed", result.Processed),
			zap.Int("successful", result.Successful),
			zap.Int("failed", result.Failed),
			zap.Int("abandoned", result.Abandoned))
	}
	return result, nil
}

// CalculateNextRetryTime computes when to retry next for a failure
// reason and attempt count. A symmetric ±25% jitter spreads retries so
// many customers failing at once do not come back at once.
func CalculateNextRetryTime(failureReason string, retryCount int) RetryPolicy {
	intervals := intervalsFor(failureReason)
	idx := retryCount
	if idx >= len(intervals) {
		idx = len(intervals) - 1
	}
	base := intervals[idx]

	jittered := base * (1 + (rand.Float64()-0.5)*0.5)
	next := time.Now().Add(time.Duration(jittered * float64(time.Hour)))

	action, priority := recommendationFor(failureReason)
	return RetryPolicy{
		NextRetryAt:       next,
		RecommendedAction: action,
		Priority:          priority,
	}
}

func intervalsFor(failureReason string) []float64 {
	if iv, ok := retryIntervals[failureReason]; ok {
		return iv
	}
	reason := strings.ToLower(failureReason)
	for key, iv := range retryIntervals {
		if strings.Contains(reason, strings.ReplaceAll(key, "_", " ")) || strings.Contains(reason, key) {
			return iv
		}
	}
	return defaultIntervals
}

func recommendationFor(failureReason string) (action, priority string) {
	switch {
	case strings.Contains(failureReason, "insufficient"):
		return "Wait for funds; suggest a backup payment method", "medium"
	case strings.Contains(failureReason, "expire"):
		return "Ask the customer to update card details", "high"
	case strings.Contains(failureReason, "authentication"):
		return "Prompt the customer to complete authentication", "high"
	case strings.Contains(failureReason, "declin"):
		return "Retry later; contact issuer if declines persist", "medium"
	default:
		return "Retry on the default schedule", "low"
	}
}

func (s *Scheduler) publish(ctx context.Context, eventType events.EventType, failure *domain.PaymentFailure, data map[string]string) {
	if s.publisher == nil {
		return
	}
	event := events.NewRecoveryEvent(eventType, failure.CustomerID, failure.ID.String(), data)
	if err := s.publisher.Publish(ctx, event); err != nil {
		log.Warn(ctx, "Failed to publish recovery event",
			zap.Error(err),
			zap.String("event_type", string(eventType)))
		metrics.RecordError("event_publish", "recovery")
	}
}
