package account

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"github.com/recoverly-app/recoveryservice/internal/cache"
	"github.com/recoverly-app/recoveryservice/internal/domain"
	"github.com/recoverly-app/recoveryservice/internal/events"
	"github.com/recoverly-app/recoveryservice/internal/log"
	"github.com/recoverly-app/recoveryservice/internal/metrics"
	"github.com/recoverly-app/recoveryservice/internal/repo"
)

// DefaultGracePeriodBatchSize bounds one ProcessExpiredGracePeriods
// invocation.
const DefaultGracePeriodBatchSize = 100

// restrictedRetryThreshold is the retry count at which a customer in
// grace period loses partial access.
const restrictedRetryThreshold = 2

// statePolicy is the static capability table for one access state.
// allowedFeatures are permitted even when featureRestrictions carries
// the all_features wildcard.
type statePolicy struct {
	featureRestrictions []string
	allowedFeatures     []string
	triggeredActions    []string
}

var statePolicies = map[domain.AccessState]statePolicy{
	domain.StateActive: {
		triggeredActions: []string{"restore_full_access", "send_recovery_confirmation"},
	},
	domain.StateGracePeriod: {
		allowedFeatures:  []string{"billing_update", "data_export"},
		triggeredActions: []string{"send_grace_period_notification"},
	},
	domain.StateRestricted: {
		featureRestrictions: []string{"premium_features", "api_access", "export_report"},
		allowedFeatures:     []string{"billing_update", "data_export"},
		triggeredActions:    []string{"send_restriction_notification", "disable_premium_features"},
	},
	domain.StateSuspended: {
		featureRestrictions: []string{domain.FeatureAll},
		allowedFeatures:     []string{"billing_update", "data_export"},
		triggeredActions:    []string{"send_suspension_notification", "disable_all_features", "schedule_data_retention_warning"},
	},
	domain.StateCanceled: {
		featureRestrictions: []string{domain.FeatureAll},
		allowedFeatures:     []string{"billing_update", "data_export"},
		triggeredActions:    []string{"send_cancellation_confirmation", "schedule_data_deletion"},
	},
}

// gracePeriodLengths maps customer segment to grace window length.
// Unknown segments get the existing-customer default.
var gracePeriodLengths = map[domain.CustomerSegment]time.Duration{
	domain.SegmentNew:       3 * 24 * time.Hour,
	domain.SegmentExisting:  5 * 24 * time.Hour,
	domain.SegmentHighValue: 7 * 24 * time.Hour,
	domain.SegmentAtRisk:    1 * 24 * time.Hour,
}

const defaultGracePeriod = 5 * 24 * time.Hour

// BatchResult accumulates per-row outcomes of one batch pass.
type BatchResult struct {
	Processed  int
	Successful int
	Failed     int
}

// Manager tracks customer access posture as a finite state machine keyed
// off payment failure and recovery signals. Transitions append a new
// state row; the latest row is authoritative.
type Manager struct {
	states    repo.AccountStateRepository
	cache     *cache.StateCache
	publisher events.Publisher
	batchSize int
}

// NewManager creates an account state manager. cache may be nil when
// Redis is unavailable; reads then always hit the store.
func NewManager(states repo.AccountStateRepository, stateCache *cache.StateCache, publisher events.Publisher, batchSize int) *Manager {
	if batchSize <= 0 {
		batchSize = DefaultGracePeriodBatchSize
	}
	return &Manager{
		states:    states,
		cache:     stateCache,
		publisher: publisher,
		batchSize: batchSize,
	}
}

// ProcessPaymentFailure applies the failure transition for a customer.
// First failures open a grace period sized by segment; repeated failures
// walk the customer down through restricted to suspended, one step per
// failure, never skipping states.
func (m *Manager) ProcessPaymentFailure(ctx context.Context, failure *domain.PaymentFailure) (*domain.AccountState, error) {
	if failure == nil || failure.CustomerID == "" {
		return nil, status.Error(codes.InvalidArgument, "failure with customer ID is required")
	}
	ctx = log.WithCustomerID(ctx, failure.CustomerID)

	current, err := m.currentState(ctx, failure.CustomerID)
	if err != nil {
		return nil, err
	}

	now := time.Now()
	var (
		next           domain.AccessState
		reason         string
		gracePeriodEnd *time.Time
	)

	currentAccess := domain.StateActive
	if current != nil {
		currentAccess = current.State
	}

	switch currentAccess {
	case domain.StateActive:
		next = domain.StateGracePeriod
		reason = "payment_failure"
		end := now.Add(gracePeriodFor(failure.Segment))
		gracePeriodEnd = &end
	case domain.StateGracePeriod:
		if failure.RetryCount >= restrictedRetryThreshold {
			next = domain.StateRestricted
			reason = "payment_failure"
		} else {
			next = domain.StateGracePeriod
			reason = "payment_failure_retry"
			end := now.Add(gracePeriodFor(failure.Segment))
			gracePeriodEnd = &end
		}
	case domain.StateRestricted:
		next = domain.StateSuspended
		reason = "payment_failure"
	default:
		// suspended and canceled cannot degrade further
		next = currentAccess
		reason = "payment_failure_no_change"
		if current != nil {
			gracePeriodEnd = current.GracePeriodEnd
		}
	}

	return m.transition(ctx, failure.CustomerID, failure.SubscriptionID, current, next, reason, gracePeriodEnd)
}

// ProcessPaymentSuccess restores full access after a recovered payment,
// regardless of how degraded the account was.
func (m *Manager) ProcessPaymentSuccess(ctx context.Context, customerID string) (*domain.AccountState, error) {
	if customerID == "" {
		return nil, status.Error(codes.InvalidArgument, "customer ID is required")
	}
	ctx = log.WithCustomerID(ctx, customerID)

	current, err := m.currentState(ctx, customerID)
	if err != nil {
		return nil, err
	}
	if current != nil && current.State == domain.StateActive {
		return current, nil
	}

	var subscriptionID *string
	if current != nil {
		subscriptionID = current.SubscriptionID
	}
	return m.transition(ctx, customerID, subscriptionID, current, domain.StateActive, "payment_recovered", nil)
}

// CheckFeatureAccess reports whether a customer may use a feature. The
// check fails open: any internal error grants access, favoring
// availability over strict denial.
func (m *Manager) CheckFeatureAccess(ctx context.Context, customerID, feature string) bool {
	allowed := m.checkFeatureAccess(ctx, customerID, feature)
	metrics.RecordFeatureAccess(allowed)
	return allowed
}

func (m *Manager) checkFeatureAccess(ctx context.Context, customerID, feature string) bool {
	current, err := m.currentState(ctx, customerID)
	if err != nil {
		log.Warn(ctx, "Feature access check failed open",
			zap.Error(err),
			zap.String("customer_id", customerID),
			zap.String("feature", feature))
		metrics.RecordError("state_read", "account")
		return true
	}
	if current == nil || current.State == domain.StateActive {
		return true
	}

	policy := statePolicies[current.State]
	for _, f := range policy.allowedFeatures {
		if f == feature {
			return true
		}
	}
	for _, f := range current.FeatureRestrictions {
		if f == feature || f == domain.FeatureAll {
			return false
		}
	}
	return true
}

// ProcessExpiredGracePeriods is the batch entry point driven by the job
// orchestrator. Customers whose grace window lapsed without recovery are
// suspended.
func (m *Manager) ProcessExpiredGracePeriods(ctx context.Context) (BatchResult, error) {
	expired, err := m.states.ListExpiredGracePeriods(ctx, time.Now(), m.batchSize)
	if err != nil {
		return BatchResult{}, status.Errorf(codes.Internal, "failed to list expired grace periods: %v", err)
	}

	var result BatchResult
	for _, current := range expired {
		result.Processed++
		_, err := m.transition(ctx, current.CustomerID, current.SubscriptionID, current, domain.StateSuspended, "grace_period_expired", nil)
		if err != nil {
			result.Failed++
			log.Error(ctx, "Failed to suspend expired grace period",
				zap.Error(err),
				zap.String("customer_id", current.CustomerID))
			continue
		}
		result.Successful++
	}

	if result.Processed > 0 {
		log.Info(ctx, "Processed expired grace periods",
			zap.Int("processed", result.Processed),
			zap.Int("successful", result.Successful),
			zap.Int("failed", result.Failed))
	}
	return result, nil
}

// transition appends a new state row and fires side effects. Triggered
// actions are recorded on the row; executing them belongs to downstream
// consumers and never blocks the transition.
func (m *Manager) transition(ctx context.Context, customerID string, subscriptionID *string, current *domain.AccountState, next domain.AccessState, reason string, gracePeriodEnd *time.Time) (*domain.AccountState, error) {
	previous := domain.AccessState("")
	if current != nil {
		previous = current.State
	}

	policy := statePolicies[next]
	state := &domain.AccountState{
		ID:                  uuid.New(),
		CustomerID:          customerID,
		SubscriptionID:      subscriptionID,
		State:               next,
		PreviousState:       previous,
		Reason:              reason,
		GracePeriodEnd:      gracePeriodEnd,
		FeatureRestrictions: policy.featureRestrictions,
		TriggeredActions:    policy.triggeredActions,
		CreatedAt:           time.Now(),
	}
	if err := m.states.Insert(ctx, state); err != nil {
		return nil, status.Errorf(codes.Internal, "failed to record state transition: %v", err)
	}

	if m.cache != nil {
		if err := m.cache.Invalidate(ctx, customerID); err != nil {
			log.Warn(ctx, "Failed to invalidate state cache",
				zap.Error(err),
				zap.String("customer_id", customerID))
		}
	}

	metrics.RecordStateTransition(string(previous), string(next))
	log.Info(ctx, "Account state transition",
		zap.String("from", string(previous)),
		zap.String("to", string(next)),
		zap.String("reason", reason),
		zap.Strings("triggered_actions", policy.triggeredActions))

	if m.publisher != nil {
		event := events.NewRecoveryEvent(events.EventAccountTransition, customerID, state.ID.String(), map[string]string{
			"from":   string(previous),
			"to":     string(next),
			"reason": reason,
		})
		if err := m.publisher.Publish(ctx, event); err != nil {
			log.Warn(ctx, "Failed to publish account state event", zap.Error(err))
			metrics.RecordError("event_publish", "account")
		}
	}

	return state, nil
}

// currentState reads the customer's latest state row through the cache.
func (m *Manager) currentState(ctx context.Context, customerID string) (*domain.AccountState, error) {
	if m.cache != nil {
		if state, err := m.cache.Get(ctx, customerID); err == nil {
			metrics.StateCacheHit.Inc()
			return state, nil
		} else if !errors.Is(err, cache.ErrMiss) {
			log.Debug(ctx, "State cache read failed", zap.Error(err))
		}
		metrics.StateCacheMiss.Inc()
	}

	state, err := m.states.GetCurrent(ctx, customerID)
	if err != nil {
		if errors.Is(err, repo.ErrNotFound) {
			return nil, nil
		}
		return nil, status.Errorf(codes.Internal, "failed to read account state: %v", err)
	}

	if m.cache != nil {
		if err := m.cache.Set(ctx, state); err != nil {
			log.Debug(ctx, "State cache write failed", zap.Error(err))
		}
	}
	return state, nil
}

func gracePeriodFor(segment domain.CustomerSegment) time.Duration {
	if d, ok := gracePeriodLengths[segment]; ok {
		return d
	}
	return defaultGracePeriod
}
