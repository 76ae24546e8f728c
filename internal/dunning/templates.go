package dunning

import (
	"strings"

	"github.com/recoverly-app/recoveryservice/internal/domain"
)

// TemplateKey identifies a message template by campaign type, channel
// and 1-based step.
type TemplateKey struct {
	CampaignType domain.CampaignType
	Channel      domain.Channel
	Step         int
}

// Template is the raw message content before personalization. Variables
// use the {{name}} form.
type Template struct {
	Subject string
	Body    string
}

// baseTemplates is the baseline content used by the control group and as
// fallback when an A/B variant has no override.
var baseTemplates = map[TemplateKey]Template{
	// standard sequence
	{domain.CampaignTypeStandard, domain.ChannelEmail, 1}: {
		Subject: "Payment issue with your subscription",
		Body:    "Hi {{name}}, we could not process your latest payment. We will retry automatically. You can update your payment details at {{billing_url}}.",
	},
	{domain.CampaignTypeStandard, domain.ChannelEmail, 2}: {
		Subject: "We still could not process your payment",
		Body:    "Hi {{name}}, your payment is still failing. Please check your card details at {{billing_url}} so you do not lose access.",
	},
	{domain.CampaignTypeStandard, domain.ChannelEmail, 3}: {
		Subject: "Action needed: your account is at risk",
		Body:    "Hi {{name}}, after several attempts your payment has not gone through. Update your payment method at {{billing_url}} to keep your account active.",
	},
	{domain.CampaignTypeStandard, domain.ChannelSMS, 3}: {
		Body: "{{name}}, your payment is failing and your account may be restricted. Update your card: {{billing_url}}",
	},
	{domain.CampaignTypeStandard, domain.ChannelEmail, 4}: {
		Subject: "Your account will be suspended soon",
		Body:    "Hi {{name}}, we have been unable to collect payment. Your account will be suspended unless you update your payment method at {{billing_url}}. Need help? Contact {{support_email}}.",
	},
	{domain.CampaignTypeStandard, domain.ChannelSMS, 4}: {
		Body: "Final reminder: update your payment method at {{billing_url}} to avoid suspension.",
	},
	{domain.CampaignTypeStandard, domain.ChannelEmail, 5}: {
		Subject: "Final notice before account closure",
		Body:    "Hi {{name}}, this is our last attempt to reach you about your failed payment. Restore your account any time at {{billing_url}}.",
	},

	// high_value sequence
	{domain.CampaignTypeHighValue, domain.ChannelEmail, 1}: {
		Subject: "A quick note about your payment",
		Body:    "Hi {{name}}, a recent payment did not go through. No action is needed yet; we will retry shortly. You can review your billing details at {{billing_url}}.",
	},
	{domain.CampaignTypeHighValue, domain.ChannelEmail, 2}: {
		Subject: "Your payment still needs attention",
		Body:    "Hi {{name}}, we retried your payment without success. Please take a moment to verify your card at {{billing_url}}, or reply to this email and we will help directly.",
	},
	{domain.CampaignTypeHighValue, domain.ChannelEmail, 3}: {
		Subject: "We want to keep your service uninterrupted",
		Body:    "Hi {{name}}, your payment continues to fail. Update your details at {{billing_url}} or contact your account manager at {{support_email}}.",
	},
	{domain.CampaignTypeHighValue, domain.ChannelSMS, 3}: {
		Body: "{{name}}, your payment needs attention to keep your service running: {{billing_url}}",
	},
	{domain.CampaignTypeHighValue, domain.ChannelEmail, 4}: {
		Subject: "Urgent: payment required to avoid interruption",
		Body:    "Hi {{name}}, your account is approaching restriction. Update your payment method now at {{billing_url}} or call us via {{support_email}}.",
	},
	{domain.CampaignTypeHighValue, domain.ChannelSMS, 4}: {
		Body: "Urgent: update your payment method to avoid service interruption: {{billing_url}}",
	},
	{domain.CampaignTypeHighValue, domain.ChannelInApp, 4}: {
		Body: "Your payment needs attention. Tap to update your billing details and keep full access.",
	},
	{domain.CampaignTypeHighValue, domain.ChannelEmail, 5}: {
		Subject: "Last chance to keep your account active",
		Body:    "Hi {{name}}, we could not collect payment despite several attempts. Restore your account at {{billing_url}}; our team at {{support_email}} is standing by.",
	},
	{domain.CampaignTypeHighValue, domain.ChannelSMS, 5}: {
		Body: "Last chance to keep your account active. Update payment: {{billing_url}}",
	},

	// at_risk sequence
	{domain.CampaignTypeAtRisk, domain.ChannelEmail, 1}: {
		Subject: "Your payment failed; immediate action needed",
		Body:    "Hi {{name}}, your payment just failed and your account is at risk. Update your payment method right away at {{billing_url}}.",
	},
	{domain.CampaignTypeAtRisk, domain.ChannelSMS, 1}: {
		Body: "{{name}}, your payment failed. Update your card now to keep access: {{billing_url}}",
	},
	{domain.CampaignTypeAtRisk, domain.ChannelEmail, 2}: {
		Subject: "Your account access is at risk",
		Body:    "Hi {{name}}, your payment is still failing. Restore it at {{billing_url}} before access is restricted.",
	},
	{domain.CampaignTypeAtRisk, domain.ChannelSMS, 2}: {
		Body: "Reminder: your payment is failing. Fix it here: {{billing_url}}",
	},
	{domain.CampaignTypeAtRisk, domain.ChannelEmail, 3}: {
		Subject: "Access restriction is imminent",
		Body:    "Hi {{name}}, without a successful payment your account will be restricted. Update your details at {{billing_url}} or contact {{support_email}}.",
	},
	{domain.CampaignTypeAtRisk, domain.ChannelSMS, 3}: {
		Body: "Your account will be restricted soon. Update payment: {{billing_url}}",
	},
	{domain.CampaignTypeAtRisk, domain.ChannelEmail, 4}: {
		Subject: "Final notice before suspension",
		Body:    "Hi {{name}}, this is the final notice before your account is suspended. You can restore access any time at {{billing_url}}.",
	},
	{domain.CampaignTypeAtRisk, domain.ChannelSMS, 4}: {
		Body: "Final notice: account suspension pending. Restore access: {{billing_url}}",
	},
}

// variantTemplates holds A/B overrides. Sparse on purpose; anything not
// overridden falls back to the baseline for that key.
var variantTemplates = map[domain.ABTestGroup]map[TemplateKey]Template{
	domain.ABGroupVariantA: {
		{domain.CampaignTypeStandard, domain.ChannelEmail, 1}: {
			Subject: "Oops, your payment did not go through",
			Body:    "Hi {{name}}, looks like your card hit a snag. It happens! We will retry soon, or you can sort it out now at {{billing_url}}.",
		},
		{domain.CampaignTypeHighValue, domain.ChannelEmail, 1}: {
			Subject: "We hit a snag with your payment",
			Body:    "Hi {{name}}, a payment on your account did not go through. We will retry automatically; you can also review your details at {{billing_url}}.",
		},
	},
	domain.ABGroupVariantB: {
		{domain.CampaignTypeStandard, domain.ChannelEmail, 1}: {
			Subject: "Keep your subscription active",
			Body:    "Hi {{name}}, your recent payment failed. To keep your subscription active without interruption, update your payment details at {{billing_url}}.",
		},
	},
}

// ResolveTemplate returns the template for a key, preferring the A/B
// group's variant and falling back to the baseline. The second return is
// false when no template exists for the key at all.
func ResolveTemplate(key TemplateKey, group domain.ABTestGroup) (Template, bool) {
	if overrides, ok := variantTemplates[group]; ok {
		if tpl, ok := overrides[key]; ok {
			return tpl, true
		}
	}
	tpl, ok := baseTemplates[key]
	return tpl, ok
}

// Render substitutes {{name}} style variables from personalization data.
// Unknown placeholders are left in place.
func Render(tpl Template, personalization map[string]string) (subject, body string) {
	subject = tpl.Subject
	body = tpl.Body
	for key, value := range personalization {
		placeholder := "{{" + key + "}}"
		subject = strings.ReplaceAll(subject, placeholder, value)
		body = strings.ReplaceAll(body, placeholder, value)
	}
	return subject, body
}
