package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/recoverly-app/recoveryservice/internal/domain"
	"github.com/recoverly-app/recoveryservice/internal/repo"
)

// campaignRepository implements repo.CampaignRepository
type campaignRepository struct {
	store *Store
}

const campaignColumns = `id, customer_id, payment_failure_id, campaign_type, sequence_step,
	total_steps, status, current_step_status, next_communication_at, channels,
	personalization, ab_test_group, created_at, updated_at`

func scanCampaign(row pgx.Row) (*domain.DunningCampaign, error) {
	var c domain.DunningCampaign
	var campaignType, status, stepStatus, abGroup string
	var channels []string
	var personalization []byte
	err := row.Scan(
		&c.ID, &c.CustomerID, &c.PaymentFailureID, &campaignType, &c.SequenceStep,
		&c.TotalSteps, &status, &stepStatus, &c.NextCommunicationAt, &channels,
		&personalization, &abGroup, &c.CreatedAt, &c.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	c.CampaignType = domain.CampaignType(campaignType)
	c.Status = domain.CampaignStatus(status)
	c.CurrentStepStatus = domain.StepStatus(stepStatus)
	c.ABTestGroup = domain.ABTestGroup(abGroup)
	c.Channels = make([]domain.Channel, len(channels))
	for i, ch := range channels {
		c.Channels[i] = domain.Channel(ch)
	}
	if len(personalization) > 0 {
		if err := json.Unmarshal(personalization, &c.Personalization); err != nil {
			return nil, fmt.Errorf("failed to decode personalization: %w", err)
		}
	}
	return &c, nil
}

func channelStrings(channels []domain.Channel) []string {
	out := make([]string, len(channels))
	for i, ch := range channels {
		out[i] = string(ch)
	}
	return out
}

// Insert creates a new dunning campaign
func (r *campaignRepository) Insert(ctx context.Context, campaign *domain.DunningCampaign) error {
	personalization, err := json.Marshal(campaign.Personalization)
	if err != nil {
		return fmt.Errorf("failed to encode personalization: %w", err)
	}
	_, err = r.store.db.Exec(ctx, `
		INSERT INTO dunning_campaigns (`+campaignColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14)`,
		campaign.ID, campaign.CustomerID, campaign.PaymentFailureID, string(campaign.CampaignType),
		campaign.SequenceStep, campaign.TotalSteps, string(campaign.Status),
		string(campaign.CurrentStepStatus), campaign.NextCommunicationAt,
		channelStrings(campaign.Channels), personalization, string(campaign.ABTestGroup),
		campaign.CreatedAt, campaign.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to insert dunning campaign: %w", err)
	}
	return nil
}

// GetByID retrieves a campaign by ID
func (r *campaignRepository) GetByID(ctx context.Context, id uuid.UUID) (*domain.DunningCampaign, error) {
	row := r.store.db.QueryRow(ctx, `
		SELECT `+campaignColumns+` FROM dunning_campaigns WHERE id = $1`, id)
	c, err := scanCampaign(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, repo.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get dunning campaign: %w", err)
	}
	return c, nil
}

// FindActiveByFailure finds the non-terminal campaign for a payment failure
func (r *campaignRepository) FindActiveByFailure(ctx context.Context, paymentFailureID uuid.UUID) (*domain.DunningCampaign, error) {
	row := r.store.db.QueryRow(ctx, `
		SELECT `+campaignColumns+` FROM dunning_campaigns
		WHERE payment_failure_id = $1 AND status NOT IN ('completed', 'canceled')
		ORDER BY created_at DESC
		LIMIT 1`, paymentFailureID)
	c, err := scanCampaign(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, repo.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to find active campaign: %w", err)
	}
	return c, nil
}

// Update replaces an existing campaign row by ID
func (r *campaignRepository) Update(ctx context.Context, campaign *domain.DunningCampaign) error {
	personalization, err := json.Marshal(campaign.Personalization)
	if err != nil {
		return fmt.Errorf("failed to encode personalization: %w", err)
	}
	tag, err := r.store.db.Exec(ctx, `
		UPDATE dunning_campaigns SET
			sequence_step = $2, total_steps = $3, status = $4, current_step_status = $5,
			next_communication_at = $6, channels = $7, personalization = $8, updated_at = $9
		WHERE id = $1`,
		campaign.ID, campaign.SequenceStep, campaign.TotalSteps, string(campaign.Status),
		string(campaign.CurrentStepStatus), campaign.NextCommunicationAt,
		channelStrings(campaign.Channels), personalization, campaign.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to update dunning campaign: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return repo.ErrNotFound
	}
	return nil
}

// ListDueCommunications returns up to limit active campaigns due for a step
func (r *campaignRepository) ListDueCommunications(ctx context.Context, now time.Time, limit int) ([]*domain.DunningCampaign, error) {
	rows, err := r.store.db.Query(ctx, `
		SELECT `+campaignColumns+` FROM dunning_campaigns
		WHERE status = 'active' AND current_step_status = 'pending'
			AND next_communication_at IS NOT NULL AND next_communication_at <= $1
		ORDER BY next_communication_at ASC
		LIMIT $2`, now, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list due communications: %w", err)
	}
	defer rows.Close()

	var campaigns []*domain.DunningCampaign
	for rows.Next() {
		c, err := scanCampaign(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan dunning campaign: %w", err)
		}
		campaigns = append(campaigns, c)
	}
	return campaigns, rows.Err()
}
