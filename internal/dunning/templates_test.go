package dunning

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/recoverly-app/recoveryservice/internal/domain"
)

func TestSequenceTables(t *testing.T) {
	assert.Len(t, SequenceFor(domain.CampaignTypeStandard), 5)
	assert.Len(t, SequenceFor(domain.CampaignTypeHighValue), 5)
	assert.Len(t, SequenceFor(domain.CampaignTypeAtRisk), 4)

	// at_risk starts immediately
	assert.Equal(t, 0, SequenceFor(domain.CampaignTypeAtRisk)[0].Day)

	// high_value picks up in_app at step 4
	assert.Contains(t, SequenceFor(domain.CampaignTypeHighValue)[3].Channels, domain.ChannelInApp)

	// unknown types fall back to standard
	assert.Equal(t, SequenceFor(domain.CampaignTypeStandard), SequenceFor(domain.CampaignType("nope")))

	// day offsets are non-decreasing within every sequence
	for campaignType, seq := range sequences {
		for i := 1; i < len(seq); i++ {
			assert.GreaterOrEqual(t, seq[i].Day, seq[i-1].Day, "sequence %s", campaignType)
		}
	}
}

func TestEverySequenceStepHasTemplates(t *testing.T) {
	for campaignType, seq := range sequences {
		for i, step := range seq {
			for _, channel := range step.Channels {
				key := TemplateKey{CampaignType: campaignType, Channel: channel, Step: i + 1}
				_, ok := ResolveTemplate(key, domain.ABGroupControl)
				assert.True(t, ok, "missing template for %s/%s step %d", campaignType, channel, i+1)
			}
		}
	}
}

func TestResolveTemplatePrefersVariant(t *testing.T) {
	key := TemplateKey{CampaignType: domain.CampaignTypeStandard, Channel: domain.ChannelEmail, Step: 1}

	base, ok := ResolveTemplate(key, domain.ABGroupControl)
	require.True(t, ok)
	variant, ok := ResolveTemplate(key, domain.ABGroupVariantA)
	require.True(t, ok)
	assert.NotEqual(t, base.Subject, variant.Subject)

	// keys without a variant override fall back to the baseline
	key.Step = 2
	base2, ok := ResolveTemplate(key, domain.ABGroupControl)
	require.True(t, ok)
	variant2, ok := ResolveTemplate(key, domain.ABGroupVariantA)
	require.True(t, ok)
	assert.Equal(t, base2, variant2)
}

func TestResolveTemplateUnknownKey(t *testing.T) {
	key := TemplateKey{CampaignType: domain.CampaignTypeStandard, Channel: domain.ChannelPush, Step: 1}
	_, ok := ResolveTemplate(key, domain.ABGroupControl)
	assert.False(t, ok)
}

func TestRender(t *testing.T) {
	tpl := Template{
		Subject: "Hello {{name}}",
		Body:    "Visit {{billing_url}} or write to {{support_email}}. Bye {{name}}.",
	}
	subject, body := Render(tpl, map[string]string{
		"name":        "Ada",
		"billing_url": "https://billing.example.com",
	})

	assert.Equal(t, "Hello Ada", subject)
	assert.Contains(t, body, "https://billing.example.com")
	assert.Contains(t, body, "Bye Ada.")

	// unknown placeholders are left in place
	assert.Contains(t, body, "{{support_email}}")
}
