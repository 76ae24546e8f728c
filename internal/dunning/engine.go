package dunning

import (
	"context"
	"errors"
	"math/rand"
	"strconv"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"github.com/recoverly-app/recoveryservice/internal/domain"
	"github.com/recoverly-app/recoveryservice/internal/events"
	"github.com/recoverly-app/recoveryservice/internal/log"
	"github.com/recoverly-app/recoveryservice/internal/metrics"
	"github.com/recoverly-app/recoveryservice/internal/notify"
	"github.com/recoverly-app/recoveryservice/internal/repo"
)

// DefaultCommunicationBatchSize bounds one ProcessPendingCommunications
// invocation.
const DefaultCommunicationBatchSize = 100

var abGroups = []domain.ABTestGroup{
	domain.ABGroupControl,
	domain.ABGroupVariantA,
	domain.ABGroupVariantB,
}

// BatchResult accumulates per-campaign outcomes of one batch pass.
type BatchResult struct {
	Processed  int
	Successful int
	Failed     int
}

// Engine runs dunning campaigns: it creates them for failures that need
// customer communication and advances them step by step on a schedule.
type Engine struct {
	campaigns repo.CampaignRepository
	comms     repo.CommunicationRepository
	notifier  notify.Notifier
	publisher events.Publisher
	batchSize int
}

// NewEngine creates a dunning engine.
func NewEngine(campaigns repo.CampaignRepository, comms repo.CommunicationRepository, notifier notify.Notifier, publisher events.Publisher, batchSize int) *Engine {
	if batchSize <= 0 {
		batchSize = DefaultCommunicationBatchSize
	}
	return &Engine{
		campaigns: campaigns,
		comms:     comms,
		notifier:  notifier,
		publisher: publisher,
		batchSize: batchSize,
	}
}

// CreateCampaign starts a dunning sequence for a payment failure. If a
// non-terminal campaign already exists for the failure it is returned
// unchanged, so repeated failures never spawn duplicate sequences. A
// day-0 first step sends synchronously before returning.
func (e *Engine) CreateCampaign(ctx context.Context, customerID string, paymentFailureID uuid.UUID, campaignType domain.CampaignType, channels []domain.Channel, personalization map[string]string) (*domain.DunningCampaign, error) {
	if customerID == "" {
		return nil, status.Error(codes.InvalidArgument, "customer ID is required")
	}
	if paymentFailureID == uuid.Nil {
		return nil, status.Error(codes.InvalidArgument, "payment failure ID is required")
	}
	ctx = log.WithCustomerID(ctx, customerID)

	existing, err := e.campaigns.FindActiveByFailure(ctx, paymentFailureID)
	if err != nil && !errors.Is(err, repo.ErrNotFound) {
		return nil, status.Errorf(codes.Internal, "failed to look up active campaign: %v", err)
	}
	if existing != nil {
		log.Debug(ctx, "Reusing active dunning campaign",
			zap.String("campaign_id", existing.ID.String()),
			zap.String("failure_id", paymentFailureID.String()))
		return existing, nil
	}

	seq := SequenceFor(campaignType)
	if _, ok := sequences[campaignType]; !ok {
		campaignType = domain.CampaignTypeStandard
	}
	if len(channels) == 0 {
		channels = []domain.Channel{domain.ChannelEmail}
	}
	if personalization == nil {
		personalization = map[string]string{}
	}

	now := time.Now()
	firstSend := now.Add(time.Duration(seq[0].Day) * 24 * time.Hour)
	campaign := &domain.DunningCampaign{
		ID:                  uuid.New(),
		CustomerID:          customerID,
		PaymentFailureID:    paymentFailureID,
		CampaignType:        campaignType,
		SequenceStep:        1,
		TotalSteps:          len(seq),
		Status:              domain.CampaignStatusActive,
		CurrentStepStatus:   domain.StepStatusPending,
		NextCommunicationAt: &firstSend,
		Channels:            channels,
		Personalization:     personalization,
		ABTestGroup:         abGroups[rand.Intn(len(abGroups))],
		CreatedAt:           now,
		UpdatedAt:           now,
	}
	if err := e.campaigns.Insert(ctx, campaign); err != nil {
		return nil, status.Errorf(codes.Internal, "failed to create campaign: %v", err)
	}

	metrics.CampaignsCreated.WithLabelValues(string(campaignType)).Inc()
	log.Info(ctx, "Created dunning campaign",
		zap.String("campaign_id", campaign.ID.String()),
		zap.String("campaign_type", string(campaignType)),
		zap.String("ab_test_group", string(campaign.ABTestGroup)),
		zap.Int("total_steps", campaign.TotalSteps))
	e.publish(ctx, events.EventCampaignCreated, campaign, map[string]string{
		"campaign_type": string(campaignType),
	})

	if seq[0].Day == 0 {
		if err := e.SendStepCommunications(ctx, campaign); err != nil {
			log.Warn(ctx, "Immediate first dunning step failed",
				zap.Error(err),
				zap.String("campaign_id", campaign.ID.String()))
			e.markStepFailed(ctx, campaign)
		}
	}

	return campaign, nil
}

// CancelCampaign terminates the active campaign for a failure, if one
// exists. Cancelling with no active campaign is not an error.
func (e *Engine) CancelCampaign(ctx context.Context, paymentFailureID uuid.UUID, reason string) error {
	campaign, err := e.campaigns.FindActiveByFailure(ctx, paymentFailureID)
	if err != nil {
		if errors.Is(err, repo.ErrNotFound) {
			return nil
		}
		return status.Errorf(codes.Internal, "failed to look up active campaign: %v", err)
	}

	campaign.Status = domain.CampaignStatusCanceled
	campaign.NextCommunicationAt = nil
	campaign.UpdatedAt = time.Now()
	if err := e.campaigns.Update(ctx, campaign); err != nil {
		return status.Errorf(codes.Internal, "failed to cancel campaign: %v", err)
	}

	log.Info(ctx, "Canceled dunning campaign",
		zap.String("campaign_id", campaign.ID.String()),
		zap.String("reason", reason))
	e.publish(ctx, events.EventCampaignCanceled, campaign, map[string]string{
		"reason": reason,
	})
	return nil
}

// ProcessPendingCommunications is the batch entry point driven by the
// job orchestrator. A campaign whose step send fails is marked failed
// and the batch moves on.
func (e *Engine) ProcessPendingCommunications(ctx context.Context) (BatchResult, error) {
	due, err := e.campaigns.ListDueCommunications(ctx, time.Now(), e.batchSize)
	if err != nil {
		return BatchResult{}, status.Errorf(codes.Internal, "failed to list due communications: %v", err)
	}

	var result BatchResult
	for _, campaign := range due {
		result.Processed++
		if err := e.SendStepCommunications(ctx, campaign); err != nil {
			result.Failed++
			log.Error(ctx, "Dunning step failed",
				zap.Error(err),
				zap.String("campaign_id", campaign.ID.String()),
				zap.Int("step", campaign.SequenceStep))
			e.markStepFailed(ctx, campaign)
			continue
		}
		result.Successful++
	}

	if result.Processed > 0 {
		log.Info(ctx, "Processed pending communications",
			zap.Int("processed", result.Processed),
			zap.Int("successful", result.Successful),
			zap.Int("failed", result.Failed))
	}
	return result, nil
}

// SendStepCommunications dispatches the campaign's current step over
// every allowed channel and advances the sequence. Per-channel delivery
// failures are recorded but do not stop the step.
func (e *Engine) SendStepCommunications(ctx context.Context, campaign *domain.DunningCampaign) error {
	ctx = log.WithCustomerID(ctx, campaign.CustomerID)
	seq := SequenceFor(campaign.CampaignType)
	if campaign.SequenceStep < 1 || campaign.SequenceStep > len(seq) {
		return status.Errorf(codes.Internal, "campaign %s step %d is out of range", campaign.ID, campaign.SequenceStep)
	}
	step := seq[campaign.SequenceStep-1]
	now := time.Now()

	for _, channel := range step.Channels {
		if !campaign.HasChannel(channel) {
			continue
		}

		key := TemplateKey{CampaignType: campaign.CampaignType, Channel: channel, Step: campaign.SequenceStep}
		tpl, ok := ResolveTemplate(key, campaign.ABTestGroup)
		if !ok {
			log.Warn(ctx, "No template for dunning step",
				zap.String("campaign_type", string(campaign.CampaignType)),
				zap.String("channel", string(channel)),
				zap.Int("step", campaign.SequenceStep))
			continue
		}
		subject, content := Render(tpl, campaign.Personalization)

		delivered := e.notifier.Send(ctx, notify.Message{
			Channel:     channel,
			Destination: destinationFor(channel, campaign),
			Subject:     subject,
			Content:     content,
		})

		comm := &domain.DunningCommunication{
			ID:         uuid.New(),
			CampaignID: campaign.ID,
			CustomerID: campaign.CustomerID,
			Channel:    channel,
			Step:       campaign.SequenceStep,
			Subject:    subject,
			Content:    content,
			CreatedAt:  now,
		}
		if delivered {
			comm.Status = domain.CommunicationStatusSent
			comm.SentAt = &now
			metrics.RecordCommunication(string(channel), "sent")
		} else {
			comm.Status = domain.CommunicationStatusFailed
			comm.FailedAt = &now
			metrics.RecordCommunication(string(channel), "failed")
			log.Warn(ctx, "Dunning communication dispatch failed",
				zap.String("campaign_id", campaign.ID.String()),
				zap.String("channel", string(channel)),
				zap.Int("step", campaign.SequenceStep))
		}
		if err := e.comms.Insert(ctx, comm); err != nil {
			return status.Errorf(codes.Internal, "failed to record communication: %v", err)
		}
	}

	return e.advance(ctx, campaign, seq, now)
}

// advance moves the campaign to the next step or completes it.
func (e *Engine) advance(ctx context.Context, campaign *domain.DunningCampaign, seq []SequenceStep, now time.Time) error {
	campaign.UpdatedAt = now
	if campaign.SequenceStep+1 > campaign.TotalSteps {
		campaign.Status = domain.CampaignStatusCompleted
		campaign.CurrentStepStatus = domain.StepStatusSent
		campaign.NextCommunicationAt = nil
		if err := e.campaigns.Update(ctx, campaign); err != nil {
			return status.Errorf(codes.Internal, "failed to complete campaign: %v", err)
		}
		log.Info(ctx, "Completed dunning campaign",
			zap.String("campaign_id", campaign.ID.String()),
			zap.Int("total_steps", campaign.TotalSteps))
		e.publish(ctx, events.EventCampaignCompleted, campaign, nil)
		return nil
	}

	campaign.SequenceStep++
	campaign.CurrentStepStatus = domain.StepStatusPending
	next := campaign.CreatedAt.Add(time.Duration(seq[campaign.SequenceStep-1].Day) * 24 * time.Hour)
	campaign.NextCommunicationAt = &next
	if err := e.campaigns.Update(ctx, campaign); err != nil {
		return status.Errorf(codes.Internal, "failed to advance campaign: %v", err)
	}
	log.Debug(ctx, "Advanced dunning campaign",
		zap.String("campaign_id", campaign.ID.String()),
		zap.Int("step", campaign.SequenceStep),
		zap.Time("next_communication_at", next))
	e.publish(ctx, events.EventCampaignAdvanced, campaign, map[string]string{
		"step": strconv.Itoa(campaign.SequenceStep),
	})
	return nil
}

// markStepFailed records a failed step without touching the schedule so
// operators can inspect stuck campaigns.
func (e *Engine) markStepFailed(ctx context.Context, campaign *domain.DunningCampaign) {
	campaign.CurrentStepStatus = domain.StepStatusFailed
	campaign.UpdatedAt = time.Now()
	if err := e.campaigns.Update(ctx, campaign); err != nil {
		log.Error(ctx, "Failed to mark campaign step failed",
			zap.Error(err),
			zap.String("campaign_id", campaign.ID.String()))
	}
}

// destinationFor picks the delivery address for a channel from the
// campaign's personalization data. In-app and push deliveries are routed
// by customer ID.
func destinationFor(channel domain.Channel, campaign *domain.DunningCampaign) string {
	switch channel {
	case domain.ChannelEmail:
		return campaign.Personalization["email"]
	case domain.ChannelSMS:
		return campaign.Personalization["phone"]
	default:
		return campaign.CustomerID
	}
}

func (e *Engine) publish(ctx context.Context, eventType events.EventType, campaign *domain.DunningCampaign, data map[string]string) {
	if e.publisher == nil {
		return
	}
	event := events.NewRecoveryEvent(eventType, campaign.CustomerID, campaign.ID.String(), data)
	if err := e.publisher.Publish(ctx, event); err != nil {
		log.Warn(ctx, "Failed to publish dunning event",
			zap.Error(err),
			zap.String("event_type", string(eventType)))
		metrics.RecordError("event_publish", "dunning")
	}
}
