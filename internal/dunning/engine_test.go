package dunning

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/recoverly-app/recoveryservice/internal/domain"
	"github.com/recoverly-app/recoveryservice/internal/events"
	"github.com/recoverly-app/recoveryservice/internal/notify"
	"github.com/recoverly-app/recoveryservice/internal/repo/memory"
)

func newTestEngine(t *testing.T, notifier notify.Notifier) (*Engine, *memory.Store) {
	t.Helper()
	if notifier == nil {
		notifier = notify.FuncNotifier(func(ctx context.Context, msg notify.Message) bool { return true })
	}
	store := memory.NewStore()
	engine := NewEngine(store.Campaigns(), store.Communications(), notifier, events.NoopPublisher{}, 0)
	return engine, store
}

func personalization() map[string]string {
	return map[string]string{
		"name":        "Ada",
		"email":       "ada@example.com",
		"phone":       "+15550001111",
		"billing_url": "https://billing.example.com",
	}
}

func TestCreateCampaign(t *testing.T) {
	engine, _ := newTestEngine(t, nil)
	ctx := context.Background()
	failureID := uuid.New()
	start := time.Now()

	campaign, err := engine.CreateCampaign(ctx, "cus_1", failureID, domain.CampaignTypeStandard,
		[]domain.Channel{domain.ChannelEmail, domain.ChannelSMS}, personalization())
	require.NoError(t, err)

	assert.Equal(t, domain.CampaignStatusActive, campaign.Status)
	assert.Equal(t, 1, campaign.SequenceStep)
	assert.Equal(t, 5, campaign.TotalSteps)
	assert.Equal(t, domain.StepStatusPending, campaign.CurrentStepStatus)
	assert.Contains(t, []domain.ABTestGroup{domain.ABGroupControl, domain.ABGroupVariantA, domain.ABGroupVariantB}, campaign.ABTestGroup)

	// standard step 1 is a day out
	require.NotNil(t, campaign.NextCommunicationAt)
	delta := campaign.NextCommunicationAt.Sub(start)
	assert.GreaterOrEqual(t, delta, 24*time.Hour-time.Minute)
	assert.LessOrEqual(t, delta, 24*time.Hour+time.Minute)
}

func TestCreateCampaignIdempotent(t *testing.T) {
	engine, _ := newTestEngine(t, nil)
	ctx := context.Background()
	failureID := uuid.New()

	first, err := engine.CreateCampaign(ctx, "cus_1", failureID, domain.CampaignTypeStandard, nil, nil)
	require.NoError(t, err)

	second, err := engine.CreateCampaign(ctx, "cus_1", failureID, domain.CampaignTypeHighValue, nil, nil)
	require.NoError(t, err)

	assert.Equal(t, first.ID, second.ID)
	assert.Equal(t, domain.CampaignTypeStandard, second.CampaignType)
}

func TestCreateCampaignValidation(t *testing.T) {
	engine, _ := newTestEngine(t, nil)
	ctx := context.Background()

	_, err := engine.CreateCampaign(ctx, "", uuid.New(), domain.CampaignTypeStandard, nil, nil)
	assert.Error(t, err)

	_, err = engine.CreateCampaign(ctx, "cus_1", uuid.Nil, domain.CampaignTypeStandard, nil, nil)
	assert.Error(t, err)
}

func TestCreateCampaignUnknownTypeFallsBackToStandard(t *testing.T) {
	engine, _ := newTestEngine(t, nil)

	campaign, err := engine.CreateCampaign(context.Background(), "cus_1", uuid.New(), domain.CampaignType("mystery"), nil, nil)
	require.NoError(t, err)
	assert.Equal(t, domain.CampaignTypeStandard, campaign.CampaignType)
	assert.Equal(t, []domain.Channel{domain.ChannelEmail}, campaign.Channels)
}

func TestAtRiskCampaignSendsImmediately(t *testing.T) {
	var sent []notify.Message
	notifier := notify.FuncNotifier(func(ctx context.Context, msg notify.Message) bool {
		sent = append(sent, msg)
		return true
	})
	engine, store := newTestEngine(t, notifier)
	ctx := context.Background()
	failureID := uuid.New()

	campaign, err := engine.CreateCampaign(ctx, "cus_1", failureID, domain.CampaignTypeAtRisk,
		[]domain.Channel{domain.ChannelEmail, domain.ChannelSMS}, personalization())
	require.NoError(t, err)

	// day-0 first step goes out synchronously over both channels
	require.Len(t, sent, 2)

	stored, err := store.Campaigns().GetByID(ctx, campaign.ID)
	require.NoError(t, err)
	assert.Equal(t, 2, stored.SequenceStep)
	assert.Equal(t, domain.StepStatusPending, stored.CurrentStepStatus)

	comms, err := store.Communications().ListByCampaign(ctx, campaign.ID)
	require.NoError(t, err)
	require.Len(t, comms, 2)
	for _, comm := range comms {
		assert.Equal(t, domain.CommunicationStatusSent, comm.Status)
		assert.Equal(t, 1, comm.Step)
		assert.NotNil(t, comm.SentAt)
	}
}

func TestSendStepCommunicationsIntersectsChannels(t *testing.T) {
	var sent []notify.Message
	notifier := notify.FuncNotifier(func(ctx context.Context, msg notify.Message) bool {
		sent = append(sent, msg)
		return true
	})
	engine, store := newTestEngine(t, notifier)
	ctx := context.Background()

	// step 3 of standard allows email+sms, but the campaign only has email
	campaign, err := engine.CreateCampaign(ctx, "cus_1", uuid.New(), domain.CampaignTypeStandard,
		[]domain.Channel{domain.ChannelEmail}, personalization())
	require.NoError(t, err)

	campaign.SequenceStep = 3
	require.NoError(t, store.Campaigns().Update(ctx, campaign))

	require.NoError(t, engine.SendStepCommunications(ctx, campaign))
	require.Len(t, sent, 1)
	assert.Equal(t, domain.ChannelEmail, sent[0].Channel)
	assert.Equal(t, "ada@example.com", sent[0].Destination)
}

func TestSendStepCommunicationsPersonalizes(t *testing.T) {
	var sent []notify.Message
	notifier := notify.FuncNotifier(func(ctx context.Context, msg notify.Message) bool {
		sent = append(sent, msg)
		return true
	})
	engine, _ := newTestEngine(t, notifier)
	ctx := context.Background()

	_, err := engine.CreateCampaign(ctx, "cus_1", uuid.New(), domain.CampaignTypeAtRisk,
		[]domain.Channel{domain.ChannelEmail}, personalization())
	require.NoError(t, err)

	require.Len(t, sent, 1)
	assert.Contains(t, sent[0].Content, "Ada")
	assert.Contains(t, sent[0].Content, "https://billing.example.com")
	assert.NotContains(t, sent[0].Content, "{{")
}

func TestCampaignCompletesAfterLastStep(t *testing.T) {
	engine, store := newTestEngine(t, nil)
	ctx := context.Background()

	campaign, err := engine.CreateCampaign(ctx, "cus_1", uuid.New(), domain.CampaignTypeStandard,
		[]domain.Channel{domain.ChannelEmail}, personalization())
	require.NoError(t, err)

	campaign.SequenceStep = campaign.TotalSteps
	require.NoError(t, store.Campaigns().Update(ctx, campaign))

	require.NoError(t, engine.SendStepCommunications(ctx, campaign))

	stored, err := store.Campaigns().GetByID(ctx, campaign.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.CampaignStatusCompleted, stored.Status)
	assert.Nil(t, stored.NextCommunicationAt)
}

func TestDeliveryFailureDoesNotAbortStep(t *testing.T) {
	notifier := notify.FuncNotifier(func(ctx context.Context, msg notify.Message) bool {
		return msg.Channel != domain.ChannelSMS
	})
	engine, store := newTestEngine(t, notifier)
	ctx := context.Background()

	campaign, err := engine.CreateCampaign(ctx, "cus_1", uuid.New(), domain.CampaignTypeAtRisk,
		[]domain.Channel{domain.ChannelEmail, domain.ChannelSMS}, personalization())
	require.NoError(t, err)

	comms, err := store.Communications().ListByCampaign(ctx, campaign.ID)
	require.NoError(t, err)
	require.Len(t, comms, 2)

	byChannel := map[domain.Channel]domain.CommunicationStatus{}
	for _, comm := range comms {
		byChannel[comm.Channel] = comm.Status
	}
	assert.Equal(t, domain.CommunicationStatusSent, byChannel[domain.ChannelEmail])
	assert.Equal(t, domain.CommunicationStatusFailed, byChannel[domain.ChannelSMS])

	// the campaign still advanced past step 1
	stored, err := store.Campaigns().GetByID(ctx, campaign.ID)
	require.NoError(t, err)
	assert.Equal(t, 2, stored.SequenceStep)
}

func TestProcessPendingCommunications(t *testing.T) {
	engine, store := newTestEngine(t, nil)
	ctx := context.Background()

	campaign, err := engine.CreateCampaign(ctx, "cus_1", uuid.New(), domain.CampaignTypeStandard,
		[]domain.Channel{domain.ChannelEmail}, personalization())
	require.NoError(t, err)

	// not due yet
	result, err := engine.ProcessPendingCommunications(ctx)
	require.NoError(t, err)
	assert.Equal(t, 0, result.Processed)

	// pull the schedule into the past
	past := time.Now().Add(-time.Minute)
	campaign.NextCommunicationAt = &past
	require.NoError(t, store.Campaigns().Update(ctx, campaign))

	result, err = engine.ProcessPendingCommunications(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, result.Processed)
	assert.Equal(t, 1, result.Successful)

	stored, err := store.Campaigns().GetByID(ctx, campaign.ID)
	require.NoError(t, err)
	assert.Equal(t, 2, stored.SequenceStep)
}

func TestCancelCampaign(t *testing.T) {
	engine, store := newTestEngine(t, nil)
	ctx := context.Background()
	failureID := uuid.New()

	campaign, err := engine.CreateCampaign(ctx, "cus_1", failureID, domain.CampaignTypeStandard,
		[]domain.Channel{domain.ChannelEmail}, nil)
	require.NoError(t, err)

	require.NoError(t, engine.CancelCampaign(ctx, failureID, "payment_recovered"))

	stored, err := store.Campaigns().GetByID(ctx, campaign.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.CampaignStatusCanceled, stored.Status)
	assert.Nil(t, stored.NextCommunicationAt)

	// cancelling again is a no-op
	require.NoError(t, engine.CancelCampaign(ctx, failureID, "payment_recovered"))
}
