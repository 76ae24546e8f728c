package recovery

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/recoverly-app/recoveryservice/internal/account"
	"github.com/recoverly-app/recoveryservice/internal/domain"
	"github.com/recoverly-app/recoveryservice/internal/dunning"
	"github.com/recoverly-app/recoveryservice/internal/events"
	"github.com/recoverly-app/recoveryservice/internal/notify"
	"github.com/recoverly-app/recoveryservice/internal/repo/memory"
)

// fullStack wires the scheduler against the real dunning engine and
// account manager over the in-memory store.
func fullStack(t *testing.T, gw *stubGateway) (*Scheduler, *dunning.Engine, *account.Manager, *memory.Store) {
	t.Helper()
	store := memory.NewStore()
	notifier := notify.FuncNotifier(func(ctx context.Context, msg notify.Message) bool { return true })
	engine := dunning.NewEngine(store.Campaigns(), store.Communications(), notifier, events.NoopPublisher{}, 0)
	manager := account.NewManager(store.AccountStates(), nil, events.NoopPublisher{}, 0)
	scheduler := NewScheduler(store.Failures(), gw, engine, manager, events.NoopPublisher{}, zap.NewNop(), 0)
	return scheduler, engine, manager, store
}

func TestFirstDeclineOpensRecoveryFunnel(t *testing.T) {
	scheduler, _, _, store := fullStack(t, failingGateway())
	ctx := context.Background()
	start := time.Now()

	failure, err := scheduler.ProcessFailure(ctx, FailureInput{
		CustomerID:      "cus_e2e",
		PaymentIntentID: strPtr("pi_e2e"),
		PaymentMethodID: strPtr("pm_1"),
		FailureReason:   "card_declined",
		FailureCode:     "card_declined",
		Amount:          4999,
		Currency:        "usd",
		Segment:         domain.SegmentExisting,
		Channels:        []domain.Channel{domain.ChannelEmail, domain.ChannelSMS},
		Personalization: map[string]string{"name": "Ada", "email": "ada@example.com"},
	})
	require.NoError(t, err)

	// first retry lands on the 2h card_declined interval, jittered ±25%
	require.NotNil(t, failure.NextRetryAt)
	delta := failure.NextRetryAt.Sub(start)
	assert.GreaterOrEqual(t, delta, 90*time.Minute-time.Second)
	assert.LessOrEqual(t, delta, 150*time.Minute+time.Second)

	// the customer enters a 5 day grace period
	state, err := store.AccountStates().GetCurrent(ctx, "cus_e2e")
	require.NoError(t, err)
	assert.Equal(t, domain.StateGracePeriod, state.State)
	require.NotNil(t, state.GracePeriodEnd)
	graceDelta := state.GracePeriodEnd.Sub(start)
	assert.GreaterOrEqual(t, graceDelta, 5*24*time.Hour-time.Minute)
	assert.LessOrEqual(t, graceDelta, 5*24*time.Hour+time.Minute)

	// a standard campaign is scheduled with step 1 a day out
	campaign, err := store.Campaigns().FindActiveByFailure(ctx, failure.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.CampaignTypeStandard, campaign.CampaignType)
	assert.Equal(t, 1, campaign.SequenceStep)
	require.NotNil(t, campaign.NextCommunicationAt)
	commDelta := campaign.NextCommunicationAt.Sub(start)
	assert.GreaterOrEqual(t, commDelta, 24*time.Hour-time.Minute)
	assert.LessOrEqual(t, commDelta, 24*time.Hour+time.Minute)
}

func TestRepeatedDeclinesDegradeOneStepAtATime(t *testing.T) {
	scheduler, _, _, store := fullStack(t, failingGateway())
	ctx := context.Background()

	input := FailureInput{
		CustomerID:      "cus_e2e",
		PaymentIntentID: strPtr("pi_e2e"),
		FailureReason:   "card_declined",
		FailureCode:     "do_not_honor",
		Amount:          4999,
		Currency:        "usd",
		Segment:         domain.SegmentExisting,
	}

	_, err := scheduler.ProcessFailure(ctx, input)
	require.NoError(t, err)
	state, err := store.AccountStates().GetCurrent(ctx, "cus_e2e")
	require.NoError(t, err)
	assert.Equal(t, domain.StateGracePeriod, state.State)

	_, err = scheduler.ProcessFailure(ctx, input)
	require.NoError(t, err)
	state, err = store.AccountStates().GetCurrent(ctx, "cus_e2e")
	require.NoError(t, err)
	assert.Equal(t, domain.StateGracePeriod, state.State)
	assert.Equal(t, "payment_failure_retry", state.Reason)

	failure, err := scheduler.ProcessFailure(ctx, input)
	require.NoError(t, err)
	assert.Equal(t, 2, failure.RetryCount)
	state, err = store.AccountStates().GetCurrent(ctx, "cus_e2e")
	require.NoError(t, err)

	// grace_period moves to restricted, never straight to suspended
	assert.Equal(t, domain.StateRestricted, state.State)
	assert.Equal(t, domain.StateGracePeriod, state.PreviousState)
}

func TestRecoveredPaymentClosesTheLoop(t *testing.T) {
	scheduler, _, _, store := fullStack(t, succeedingGateway())
	ctx := context.Background()

	failure, err := scheduler.ProcessFailure(ctx, FailureInput{
		CustomerID:      "cus_e2e",
		PaymentIntentID: strPtr("pi_e2e"),
		PaymentMethodID: strPtr("pm_1"),
		FailureReason:   "card_declined",
		FailureCode:     "card_declined",
		Amount:          4999,
		Currency:        "usd",
		Segment:         domain.SegmentExisting,
		Personalization: map[string]string{"email": "ada@example.com"},
	})
	require.NoError(t, err)

	result, err := scheduler.RetryPayment(ctx, failure.ID, nil)
	require.NoError(t, err)
	require.True(t, result.Success)

	// failure resolved, campaign canceled, access restored
	stored, err := store.Failures().GetByID(ctx, failure.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.FailureStatusResolved, stored.Status)

	_, err = store.Campaigns().FindActiveByFailure(ctx, failure.ID)
	assert.Error(t, err)

	state, err := store.AccountStates().GetCurrent(ctx, "cus_e2e")
	require.NoError(t, err)
	assert.Equal(t, domain.StateActive, state.State)
	assert.Equal(t, "payment_recovered", state.Reason)
}
