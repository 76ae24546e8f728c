package account

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/recoverly-app/recoveryservice/internal/domain"
	"github.com/recoverly-app/recoveryservice/internal/events"
	"github.com/recoverly-app/recoveryservice/internal/repo/memory"
)

func newTestManager(t *testing.T) (*Manager, *memory.Store) {
	t.Helper()
	store := memory.NewStore()
	return NewManager(store.AccountStates(), nil, events.NoopPublisher{}, 0), store
}

func failureFor(customerID string, segment domain.CustomerSegment, retryCount int) *domain.PaymentFailure {
	return &domain.PaymentFailure{
		CustomerID: customerID,
		Segment:    segment,
		RetryCount: retryCount,
	}
}

func TestFirstFailureOpensGracePeriod(t *testing.T) {
	m, _ := newTestManager(t)
	ctx := context.Background()

	state, err := m.ProcessPaymentFailure(ctx, failureFor("cus_1", domain.SegmentExisting, 0))
	require.NoError(t, err)

	assert.Equal(t, domain.StateGracePeriod, state.State)
	assert.Equal(t, domain.AccessState(""), state.PreviousState)
	assert.Equal(t, "payment_failure", state.Reason)
	require.NotNil(t, state.GracePeriodEnd)
	assert.Equal(t, []string{"send_grace_period_notification"}, state.TriggeredActions)
}

func TestGracePeriodLengthBySegment(t *testing.T) {
	tests := []struct {
		segment domain.CustomerSegment
		want    time.Duration
	}{
		{domain.SegmentNew, 3 * 24 * time.Hour},
		{domain.SegmentExisting, 5 * 24 * time.Hour},
		{domain.SegmentHighValue, 7 * 24 * time.Hour},
		{domain.SegmentAtRisk, 1 * 24 * time.Hour},
		{domain.CustomerSegment("unknown"), 5 * 24 * time.Hour},
	}

	for _, tt := range tests {
		m, _ := newTestManager(t)
		before := time.Now()
		state, err := m.ProcessPaymentFailure(context.Background(), failureFor("cus_1", tt.segment, 0))
		require.NoError(t, err)
		require.NotNil(t, state.GracePeriodEnd, "segment %s", tt.segment)
		delta := state.GracePeriodEnd.Sub(before)
		assert.GreaterOrEqual(t, delta, tt.want-time.Minute, "segment %s", tt.segment)
		assert.LessOrEqual(t, delta, tt.want+time.Minute, "segment %s", tt.segment)
	}
}

func TestGracePeriodReExtendedBelowThreshold(t *testing.T) {
	m, _ := newTestManager(t)
	ctx := context.Background()

	_, err := m.ProcessPaymentFailure(ctx, failureFor("cus_1", domain.SegmentExisting, 0))
	require.NoError(t, err)

	state, err := m.ProcessPaymentFailure(ctx, failureFor("cus_1", domain.SegmentExisting, 1))
	require.NoError(t, err)

	assert.Equal(t, domain.StateGracePeriod, state.State)
	assert.Equal(t, "payment_failure_retry", state.Reason)
	assert.NotNil(t, state.GracePeriodEnd)
}

func TestDegradationWalksOneStepAtATime(t *testing.T) {
	m, _ := newTestManager(t)
	ctx := context.Background()

	// active -> grace_period
	state, err := m.ProcessPaymentFailure(ctx, failureFor("cus_1", domain.SegmentExisting, 0))
	require.NoError(t, err)
	assert.Equal(t, domain.StateGracePeriod, state.State)

	// grace_period + retryCount >= 2 -> restricted
	state, err = m.ProcessPaymentFailure(ctx, failureFor("cus_1", domain.SegmentExisting, 2))
	require.NoError(t, err)
	assert.Equal(t, domain.StateRestricted, state.State)
	assert.Equal(t, domain.StateGracePeriod, state.PreviousState)

	// restricted -> suspended
	state, err = m.ProcessPaymentFailure(ctx, failureFor("cus_1", domain.SegmentExisting, 3))
	require.NoError(t, err)
	assert.Equal(t, domain.StateSuspended, state.State)
	assert.Equal(t, []string{"send_suspension_notification", "disable_all_features", "schedule_data_retention_warning"}, state.TriggeredActions)

	// suspended absorbs further failures
	state, err = m.ProcessPaymentFailure(ctx, failureFor("cus_1", domain.SegmentExisting, 4))
	require.NoError(t, err)
	assert.Equal(t, domain.StateSuspended, state.State)
	assert.Equal(t, "payment_failure_no_change", state.Reason)
}

func TestPaymentSuccessAlwaysRestoresActive(t *testing.T) {
	for _, from := range []domain.AccessState{
		domain.StateGracePeriod,
		domain.StateRestricted,
		domain.StateSuspended,
		domain.StateCanceled,
	} {
		m, store := newTestManager(t)
		ctx := context.Background()

		require.NoError(t, store.AccountStates().Insert(ctx, &domain.AccountState{
			CustomerID: "cus_1",
			State:      from,
			CreatedAt:  time.Now(),
		}))

		state, err := m.ProcessPaymentSuccess(ctx, "cus_1")
		require.NoError(t, err)
		assert.Equal(t, domain.StateActive, state.State, "from %s", from)
		assert.Equal(t, from, state.PreviousState, "from %s", from)
		assert.Equal(t, "payment_recovered", state.Reason, "from %s", from)
	}
}

func TestPaymentSuccessWithNoHistory(t *testing.T) {
	m, _ := newTestManager(t)

	state, err := m.ProcessPaymentSuccess(context.Background(), "cus_unknown")
	require.NoError(t, err)
	assert.Equal(t, domain.StateActive, state.State)
}

func TestPaymentSuccessWhenAlreadyActive(t *testing.T) {
	m, _ := newTestManager(t)
	ctx := context.Background()

	first, err := m.ProcessPaymentSuccess(ctx, "cus_1")
	require.NoError(t, err)

	second, err := m.ProcessPaymentSuccess(ctx, "cus_1")
	require.NoError(t, err)
	assert.Equal(t, first.ID, second.ID)
}

func TestCheckFeatureAccess(t *testing.T) {
	m, store := newTestManager(t)
	ctx := context.Background()

	// no history means full access
	assert.True(t, m.CheckFeatureAccess(ctx, "cus_1", "export_report"))

	require.NoError(t, store.AccountStates().Insert(ctx, &domain.AccountState{
		CustomerID:          "cus_1",
		State:               domain.StateSuspended,
		FeatureRestrictions: []string{domain.FeatureAll},
		CreatedAt:           time.Now(),
	}))

	// allowed features override the all_features wildcard
	assert.True(t, m.CheckFeatureAccess(ctx, "cus_1", "billing_update"))
	assert.True(t, m.CheckFeatureAccess(ctx, "cus_1", "data_export"))
	assert.False(t, m.CheckFeatureAccess(ctx, "cus_1", "export_report"))
	assert.False(t, m.CheckFeatureAccess(ctx, "cus_1", "premium_features"))
}

func TestCheckFeatureAccessRestrictedState(t *testing.T) {
	m, store := newTestManager(t)
	ctx := context.Background()

	require.NoError(t, store.AccountStates().Insert(ctx, &domain.AccountState{
		CustomerID:          "cus_1",
		State:               domain.StateRestricted,
		FeatureRestrictions: []string{"premium_features", "api_access"},
		CreatedAt:           time.Now(),
	}))

	assert.False(t, m.CheckFeatureAccess(ctx, "cus_1", "premium_features"))

	// unlisted features fail open
	assert.True(t, m.CheckFeatureAccess(ctx, "cus_1", "basic_dashboard"))
}

func TestProcessExpiredGracePeriods(t *testing.T) {
	m, store := newTestManager(t)
	ctx := context.Background()

	expired := time.Now().Add(-time.Hour)
	future := time.Now().Add(48 * time.Hour)
	require.NoError(t, store.AccountStates().Insert(ctx, &domain.AccountState{
		CustomerID:     "cus_expired",
		State:          domain.StateGracePeriod,
		GracePeriodEnd: &expired,
		CreatedAt:      time.Now().Add(-3 * 24 * time.Hour),
	}))
	require.NoError(t, store.AccountStates().Insert(ctx, &domain.AccountState{
		CustomerID:     "cus_current",
		State:          domain.StateGracePeriod,
		GracePeriodEnd: &future,
		CreatedAt:      time.Now(),
	}))

	result, err := m.ProcessExpiredGracePeriods(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, result.Processed)
	assert.Equal(t, 1, result.Successful)

	state, err := store.AccountStates().GetCurrent(ctx, "cus_expired")
	require.NoError(t, err)
	assert.Equal(t, domain.StateSuspended, state.State)
	assert.Equal(t, "grace_period_expired", state.Reason)

	state, err = store.AccountStates().GetCurrent(ctx, "cus_current")
	require.NoError(t, err)
	assert.Equal(t, domain.StateGracePeriod, state.State)
}
