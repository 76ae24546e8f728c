package postgres

import (
	"context"
	"fmt"

	"github.com/google/uuid"

	"github.com/recoverly-app/recoveryservice/internal/domain"
)

// communicationRepository implements repo.CommunicationRepository
type communicationRepository struct {
	store *Store
}

// Insert records a dispatched communication
func (r *communicationRepository) Insert(ctx context.Context, comm *domain.DunningCommunication) error {
	_, err := r.store.db.Exec(ctx, `
		INSERT INTO dunning_communications
			(id, campaign_id, customer_id, channel, step, subject, content, status,
			 sent_at, delivered_at, failed_at, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)`,
		comm.ID, comm.CampaignID, comm.CustomerID, string(comm.Channel), comm.Step,
		comm.Subject, comm.Content, string(comm.Status),
		comm.SentAt, comm.DeliveredAt, comm.FailedAt, comm.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to insert dunning communication: %w", err)
	}
	return nil
}

// ListByCampaign returns communications for a campaign ordered by creation time
func (r *communicationRepository) ListByCampaign(ctx context.Context, campaignID uuid.UUID) ([]*domain.DunningCommunication, error) {
	rows, err := r.store.db.Query(ctx, `
		SELECT id, campaign_id, customer_id, channel, step, subject, content, status,
			sent_at, delivered_at, failed_at, created_at
		FROM dunning_communications
		WHERE campaign_id = $1
		ORDER BY created_at ASC`, campaignID)
	if err != nil {
		return nil, fmt.Errorf("failed to list communications: %w", err)
	}
	defer rows.Close()

	var comms []*domain.DunningCommunication
	for rows.Next() {
		var c domain.DunningCommunication
		var channel, status string
		if err := rows.Scan(
			&c.ID, &c.CampaignID, &c.CustomerID, &channel, &c.Step, &c.Subject, &c.Content, &status,
			&c.SentAt, &c.DeliveredAt, &c.FailedAt, &c.CreatedAt,
		); err != nil {
			return nil, fmt.Errorf("failed to scan dunning communication: %w", err)
		}
		c.Channel = domain.Channel(channel)
		c.Status = domain.CommunicationStatus(status)
		comms = append(comms, &c)
	}
	return comms, rows.Err()
}
