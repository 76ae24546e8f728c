package recovery

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestClassifyKnownCodes(t *testing.T) {
	tests := []struct {
		code           string
		wantClass      FailureClass
		wantSeverity   Severity
		wantRetries    int
		wantCommunique bool
	}{
		{"insufficient_funds", ClassTemporal, SeverityMedium, 3, true},
		{"card_declined", ClassTemporal, SeverityMedium, 3, true},
		{"expired_card", ClassCustomerActionRequired, SeverityHigh, 2, true},
		{"authentication_required", ClassCustomerActionRequired, SeverityHigh, 2, true},
		{"processing_error", ClassTemporal, SeverityLow, 3, false},
		{"lost_card", ClassPermanent, SeverityCritical, 0, true},
		{"stolen_card", ClassPermanent, SeverityCritical, 0, true},
		{"fraudulent", ClassPermanent, SeverityCritical, 0, false},
	}

	for _, tt := range tests {
		t.Run(tt.code, func(t *testing.T) {
			c := Classify(tt.code, "")
			assert.Equal(t, tt.wantClass, c.Class)
			assert.Equal(t, tt.wantSeverity, c.Severity)
			assert.Equal(t, tt.wantRetries, c.RecommendedRetryCount)
			assert.Equal(t, tt.wantCommunique, c.CustomerCommunicationRequired)
		})
	}
}

func TestClassifyUnknownCodeDefaults(t *testing.T) {
	for _, code := range []string{"", "some_new_code", "weird-gateway-thing"} {
		c := Classify(code, "")
		assert.Equal(t, ClassTemporal, c.Class, "code %q", code)
		assert.Equal(t, SeverityMedium, c.Severity, "code %q", code)
		assert.Equal(t, 2, c.RecommendedRetryCount, "code %q", code)
	}
}

func TestClassifyReasonFallback(t *testing.T) {
	tests := []struct {
		reason    string
		wantClass FailureClass
	}{
		{"Insufficient funds on card", ClassTemporal},
		{"Your card has EXPIRED", ClassCustomerActionRequired},
		{"3DS authentication is required", ClassCustomerActionRequired},
		{"The card was declined by the issuer", ClassTemporal},
	}

	for _, tt := range tests {
		c := Classify("unknown_code", tt.reason)
		assert.Equal(t, tt.wantClass, c.Class, "reason %q", tt.reason)
	}
}
