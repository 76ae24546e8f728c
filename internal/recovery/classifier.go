package recovery

import "strings"

// FailureClass groups decline codes by how they should be handled
type FailureClass string

const (
	ClassTemporal               FailureClass = "temporal"
	ClassPermanent              FailureClass = "permanent"
	ClassCustomerActionRequired FailureClass = "customer_action_required"
)

// Severity grades the business impact of a failure
type Severity string

const (
	SeverityLow      Severity = "low"
	SeverityMedium   Severity = "medium"
	SeverityHigh     Severity = "high"
	SeverityCritical Severity = "critical"
)

// Classification is the retry policy derived from a decline code
type Classification struct {
	Class                         FailureClass
	Severity                      Severity
	RecommendedRetryCount         int
	CustomerCommunicationRequired bool
	EstimatedResolutionHours      float64
}

// defaultClassification is the safe policy for unknown codes.
var defaultClassification = Classification{
	Class:                         ClassTemporal,
	Severity:                      SeverityMedium,
	RecommendedRetryCount:         2,
	CustomerCommunicationRequired: true,
	EstimatedResolutionHours:      24,
}

// classificationTable maps known decline codes to their policy.
var classificationTable = map[string]Classification{
	"insufficient_funds": {
		Class:                         ClassTemporal,
		Severity:                      SeverityMedium,
		RecommendedRetryCount:         3,
		CustomerCommunicationRequired: true,
		EstimatedResolutionHours:      72,
	},
	"card_declined": {
		Class:                         ClassTemporal,
		Severity:                      SeverityMedium,
		RecommendedRetryCount:         3,
		CustomerCommunicationRequired: true,
		EstimatedResolutionHours:      48,
	},
	"generic_decline": {
		Class:                         ClassTemporal,
		Severity:                      SeverityMedium,
		RecommendedRetryCount:         3,
		CustomerCommunicationRequired: true,
		EstimatedResolutionHours:      48,
	},
	"do_not_honor": {
		Class:                         ClassTemporal,
		Severity:                      SeverityHigh,
		RecommendedRetryCount:         2,
		CustomerCommunicationRequired: true,
		EstimatedResolutionHours:      48,
	},
	"processing_error": {
		Class:                         ClassTemporal,
		Severity:                      SeverityLow,
		RecommendedRetryCount:         3,
		CustomerCommunicationRequired: false,
		EstimatedResolutionHours:      4,
	},
	"try_again_later": {
		Class:                         ClassTemporal,
		Severity:                      SeverityLow,
		RecommendedRetryCount:         3,
		CustomerCommunicationRequired: false,
		EstimatedResolutionHours:      4,
	},
	"expired_card": {
		Class:                         ClassCustomerActionRequired,
		Severity:                      SeverityHigh,
		RecommendedRetryCount:         2,
		CustomerCommunicationRequired: true,
		EstimatedResolutionHours:      24,
	},
	"incorrect_cvc": {
		Class:                         ClassCustomerActionRequired,
		Severity:                      SeverityHigh,
		RecommendedRetryCount:         1,
		CustomerCommunicationRequired: true,
		EstimatedResolutionHours:      12,
	},
	"authentication_required": {
		Class:                         ClassCustomerActionRequired,
		Severity:                      SeverityHigh,
		RecommendedRetryCount:         2,
		CustomerCommunicationRequired: true,
		EstimatedResolutionHours:      6,
	},
	"lost_card": {
		Class:                         ClassPermanent,
		Severity:                      SeverityCritical,
		RecommendedRetryCount:         0,
		CustomerCommunicationRequired: true,
		EstimatedResolutionHours:      0,
	},
	"stolen_card": {
		Class:                         ClassPermanent,
		Severity:                      SeverityCritical,
		RecommendedRetryCount:         0,
		CustomerCommunicationRequired: true,
		EstimatedResolutionHours:      0,
	},
	"invalid_account": {
		Class:                         ClassPermanent,
		Severity:                      SeverityCritical,
		RecommendedRetryCount:         0,
		CustomerCommunicationRequired: true,
		EstimatedResolutionHours:      0,
	},
	"fraudulent": {
		Class:                         ClassPermanent,
		Severity:                      SeverityCritical,
		RecommendedRetryCount:         0,
		CustomerCommunicationRequired: false,
		EstimatedResolutionHours:      0,
	},
}

// reasonFallbacks maps free-text reason fragments to known codes, used
// when the caller supplies no recognizable decline code.
var reasonFallbacks = []struct {
	fragment string
	code     string
}{
	{"insufficient", "insufficient_funds"},
	{"expire", "expired_card"},
	{"authentication", "authentication_required"},
	{"cvc", "incorrect_cvc"},
	{"fraud", "fraudulent"},
	{"declin", "card_declined"},
}

// Classify derives a retry policy from a decline code, falling back to
// the free-text failure reason and then to the default policy. It never
// fails: unknown inputs get the default.
func Classify(failureCode, failureReason string) Classification {
	if c, ok := classificationTable[failureCode]; ok {
		return c
	}

	reason := strings.ToLower(failureReason)
	for _, fb := range reasonFallbacks {
		if strings.Contains(reason, fb.fragment) {
			return classificationTable[fb.code]
		}
	}

	return defaultClassification
}
