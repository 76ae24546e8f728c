package dunning

import "github.com/recoverly-app/recoveryservice/internal/domain"

// SequenceStep is one entry of a campaign's communication schedule. Day
// is the offset in days from campaign creation.
type SequenceStep struct {
	Day      int
	Channels []domain.Channel
	Urgency  string
}

// sequences holds the static schedule per campaign type. at_risk starts
// at day 0, which triggers a synchronous first send on creation.
var sequences = map[domain.CampaignType][]SequenceStep{
	domain.CampaignTypeStandard: {
		{Day: 1, Channels: []domain.Channel{domain.ChannelEmail}, Urgency: "low"},
		{Day: 3, Channels: []domain.Channel{domain.ChannelEmail}, Urgency: "low"},
		{Day: 7, Channels: []domain.Channel{domain.ChannelEmail, domain.ChannelSMS}, Urgency: "medium"},
		{Day: 10, Channels: []domain.Channel{domain.ChannelEmail, domain.ChannelSMS}, Urgency: "high"},
		{Day: 30, Channels: []domain.Channel{domain.ChannelEmail}, Urgency: "high"},
	},
	domain.CampaignTypeHighValue: {
		{Day: 1, Channels: []domain.Channel{domain.ChannelEmail}, Urgency: "low"},
		{Day: 2, Channels: []domain.Channel{domain.ChannelEmail}, Urgency: "medium"},
		{Day: 5, Channels: []domain.Channel{domain.ChannelEmail, domain.ChannelSMS}, Urgency: "medium"},
		{Day: 7, Channels: []domain.Channel{domain.ChannelEmail, domain.ChannelSMS, domain.ChannelInApp}, Urgency: "high"},
		{Day: 14, Channels: []domain.Channel{domain.ChannelEmail, domain.ChannelSMS}, Urgency: "high"},
	},
	domain.CampaignTypeAtRisk: {
		{Day: 0, Channels: []domain.Channel{domain.ChannelEmail, domain.ChannelSMS}, Urgency: "high"},
		{Day: 2, Channels: []domain.Channel{domain.ChannelEmail, domain.ChannelSMS}, Urgency: "high"},
		{Day: 5, Channels: []domain.Channel{domain.ChannelEmail, domain.ChannelSMS}, Urgency: "high"},
		{Day: 10, Channels: []domain.Channel{domain.ChannelEmail, domain.ChannelSMS}, Urgency: "high"},
	},
}

// SequenceFor returns the schedule for a campaign type, defaulting to
// the standard sequence for unknown types.
func SequenceFor(campaignType domain.CampaignType) []SequenceStep {
	if seq, ok := sequences[campaignType]; ok {
		return seq
	}
	return sequences[domain.CampaignTypeStandard]
}
