package domain

import (
	"time"

	"github.com/google/uuid"
)

// PaymentFailure represents a failed charge attempt and its retry history.
// One row exists per (customer, payment intent) pair; repeat failures for
// the same pair update the row instead of creating a new one.
type PaymentFailure struct {
	ID               uuid.UUID       `json:"id"`
	CustomerID       string          `json:"customer_id"`
	SubscriptionID   *string         `json:"subscription_id,omitempty"`
	InvoiceID        *string         `json:"invoice_id,omitempty"`
	PaymentIntentID  *string         `json:"payment_intent_id,omitempty"`
	PaymentMethodID  *string         `json:"payment_method_id,omitempty"`
	FailureReason    string          `json:"failure_reason"`
	FailureCode      string          `json:"failure_code"`
	Amount           int64           `json:"amount"` // Amount in cents
	Currency         string          `json:"currency"`
	Segment          CustomerSegment `json:"segment"`
	RetryCount       int             `json:"retry_count"`
	MaxRetryAttempts int             `json:"max_retry_attempts"`
	NextRetryAt      *time.Time      `json:"next_retry_at,omitempty"`
	LastRetryAt      *time.Time      `json:"last_retry_at,omitempty"`
	Status           FailureStatus   `json:"status"`
	ResolutionType   ResolutionType  `json:"resolution_type,omitempty"`
	ResolvedAt       *time.Time      `json:"resolved_at,omitempty"`
	CreatedAt        time.Time       `json:"created_at"`
	UpdatedAt        time.Time       `json:"updated_at"`
}

// FailureStatus represents the lifecycle state of a payment failure
type FailureStatus string

const (
	FailureStatusPending   FailureStatus = "pending"
	FailureStatusRetrying  FailureStatus = "retrying"
	FailureStatusResolved  FailureStatus = "resolved"
	FailureStatusAbandoned FailureStatus = "abandoned"
)

// IsTerminal reports whether the failure can no longer be retried.
func (s FailureStatus) IsTerminal() bool {
	return s == FailureStatusResolved || s == FailureStatusAbandoned
}

// ResolutionType records how a failure was resolved
type ResolutionType string

const (
	ResolutionRetrySucceeded ResolutionType = "retry_succeeded"
	ResolutionManual         ResolutionType = "manual"
)

// CustomerSegment drives grace-period length and campaign selection
type CustomerSegment string

const (
	SegmentNew       CustomerSegment = "new"
	SegmentExisting  CustomerSegment = "existing"
	SegmentHighValue CustomerSegment = "high_value"
	SegmentAtRisk    CustomerSegment = "at_risk"
)

// CampaignType selects the static communication sequence for a campaign
type CampaignType string

const (
	CampaignTypeStandard  CampaignType = "standard"
	CampaignTypeHighValue CampaignType = "high_value"
	CampaignTypeAtRisk    CampaignType = "at_risk"
)

// CampaignStatus represents the lifecycle state of a dunning campaign
type CampaignStatus string

const (
	CampaignStatusActive    CampaignStatus = "active"
	CampaignStatusPaused    CampaignStatus = "paused"
	CampaignStatusCompleted CampaignStatus = "completed"
	CampaignStatusCanceled  CampaignStatus = "canceled"
)

// IsTerminal reports whether the campaign has finished.
func (s CampaignStatus) IsTerminal() bool {
	return s == CampaignStatusCompleted || s == CampaignStatusCanceled
}

// StepStatus tracks delivery progress of the campaign's current step
type StepStatus string

const (
	StepStatusPending   StepStatus = "pending"
	StepStatusSent      StepStatus = "sent"
	StepStatusDelivered StepStatus = "delivered"
	StepStatusOpened    StepStatus = "opened"
	StepStatusClicked   StepStatus = "clicked"
	StepStatusFailed    StepStatus = "failed"
)

// ABTestGroup is the randomly assigned communication cohort
type ABTestGroup string

const (
	ABGroupControl  ABTestGroup = "control"
	ABGroupVariantA ABTestGroup = "variant_a"
	ABGroupVariantB ABTestGroup = "variant_b"
)

// DunningCampaign is one active recovery sequence per payment failure.
// At most one non-terminal campaign exists per PaymentFailureID.
type DunningCampaign struct {
	ID                  uuid.UUID         `json:"id"`
	CustomerID          string            `json:"customer_id"`
	PaymentFailureID    uuid.UUID         `json:"payment_failure_id"`
	CampaignType        CampaignType      `json:"campaign_type"`
	SequenceStep        int               `json:"sequence_step"` // 1-based
	TotalSteps          int               `json:"total_steps"`
	Status              CampaignStatus    `json:"status"`
	CurrentStepStatus   StepStatus        `json:"current_step_status"`
	NextCommunicationAt *time.Time        `json:"next_communication_at,omitempty"`
	Channels            []Channel         `json:"channels"`
	Personalization     map[string]string `json:"personalization"`
	ABTestGroup         ABTestGroup       `json:"ab_test_group"`
	CreatedAt           time.Time         `json:"created_at"`
	UpdatedAt           time.Time         `json:"updated_at"`
}

// HasChannel reports whether ch is among the campaign's allowed channels.
func (c *DunningCampaign) HasChannel(ch Channel) bool {
	for _, allowed := range c.Channels {
		if allowed == ch {
			return true
		}
	}
	return false
}

// Channel names an outbound communication channel
type Channel string

const (
	ChannelEmail Channel = "email"
	ChannelSMS   Channel = "sms"
	ChannelInApp Channel = "in_app"
	ChannelPush  Channel = "push"
)

// CommunicationStatus tracks the delivery state of a single message
type CommunicationStatus string

const (
	CommunicationStatusPending   CommunicationStatus = "pending"
	CommunicationStatusSent      CommunicationStatus = "sent"
	CommunicationStatusDelivered CommunicationStatus = "delivered"
	CommunicationStatusOpened    CommunicationStatus = "opened"
	CommunicationStatusClicked   CommunicationStatus = "clicked"
	CommunicationStatusBounced   CommunicationStatus = "bounced"
	CommunicationStatusFailed    CommunicationStatus = "failed"
)

// DunningCommunication records one message per channel per campaign step.
type DunningCommunication struct {
	ID          uuid.UUID           `json:"id"`
	CampaignID  uuid.UUID           `json:"campaign_id"`
	CustomerID  string              `json:"customer_id"`
	Channel     Channel             `json:"channel"`
	Step        int                 `json:"step"`
	Subject     string              `json:"subject,omitempty"`
	Content     string              `json:"content"`
	Status      CommunicationStatus `json:"status"`
	SentAt      *time.Time          `json:"sent_at,omitempty"`
	DeliveredAt *time.Time          `json:"delivered_at,omitempty"`
	FailedAt    *time.Time          `json:"failed_at,omitempty"`
	CreatedAt   time.Time           `json:"created_at"`
}

// AccessState is a customer's account access posture
type AccessState string

const (
	StateActive      AccessState = "active"
	StateGracePeriod AccessState = "grace_period"
	StateRestricted  AccessState = "restricted"
	StateSuspended   AccessState = "suspended"
	StateCanceled    AccessState = "canceled"
)

// FeatureAll is the wildcard restriction tag denying every feature not
// explicitly allowed.
const FeatureAll = "all_features"

// AccountState is one row of a customer's access-state history. The latest
// row by creation time is authoritative; readers must always take the most
// recent row.
type AccountState struct {
	ID                  uuid.UUID   `json:"id"`
	CustomerID          string      `json:"customer_id"`
	SubscriptionID      *string     `json:"subscription_id,omitempty"`
	State               AccessState `json:"state"`
	PreviousState       AccessState `json:"previous_state,omitempty"`
	Reason              string      `json:"reason"`
	GracePeriodEnd      *time.Time  `json:"grace_period_end,omitempty"`
	FeatureRestrictions []string    `json:"feature_restrictions"`
	TriggeredActions    []string    `json:"triggered_actions"`
	ManualOverride      bool        `json:"manual_override"`
	CreatedAt           time.Time   `json:"created_at"`
}

// JobType names a periodic orchestrator task
type JobType string

const (
	JobPaymentRetry          JobType = "payment_retry"
	JobDunningCampaigns      JobType = "dunning_campaigns"
	JobGracePeriodMonitoring JobType = "grace_period_monitoring"
	JobAnalyticsGeneration   JobType = "analytics_generation"
)

// ValidJobType reports whether t names a known job.
func ValidJobType(t JobType) bool {
	switch t {
	case JobPaymentRetry, JobDunningCampaigns, JobGracePeriodMonitoring, JobAnalyticsGeneration:
		return true
	default:
		return false
	}
}

// JobRun is an append-only audit record of one job invocation.
type JobRun struct {
	ID         uuid.UUID     `json:"id"`
	JobType    JobType       `json:"job_type"`
	StartTime  time.Time     `json:"start_time"`
	EndTime    time.Time     `json:"end_time"`
	Duration   time.Duration `json:"duration"`
	Success    bool          `json:"success"`
	Processed  int           `json:"processed"`
	Successful int           `json:"successful"`
	Failed     int           `json:"failed"`
	Error      string        `json:"error,omitempty"`
}
