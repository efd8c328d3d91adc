package trail

import (
	"encoding/json"
	"slices"
	"strings"
)

var (
	confidentialCollections = []string{"users", "payments", "orders"}
	internalCollections     = []string{"templates", "policies", "settings"}
	publicCollections       = []string{"documents"}
	sensitiveMarkers        = []string{"email", "phone", "ssn", "payment", "credit", "bank"}
	redactedFields          = []string{"password", "ssn", "credit_card", "bank_account"}
)

const redacted = "***REDACTED***"

// ClassifyData labels a record by its collection, falling back to a scan of
// its serialized content for sensitive field names.
func ClassifyData(collection string, data any) Classification {
	switch {
	case slices.Contains(confidentialCollections, collection):
		return ClassConfidential
	case slices.Contains(internalCollections, collection):
		return ClassInternal
	case slices.Contains(publicCollections, collection):
		return ClassPublic
	}
	if data != nil {
		if raw, err := json.Marshal(data); err == nil {
			lower := strings.ToLower(string(raw))
			for _, marker := range sensitiveMarkers {
				if strings.Contains(lower, marker) {
					return ClassConfidential
				}
			}
		}
	}
	return ClassInternal
}

// FrameworksFor: every record is SOX audited; confidential data adds GDPR and
// CCPA; payment-bearing collections add PCI DSS.
func FrameworksFor(collection string, class Classification) []Framework {
	frameworks := []Framework{SOX}
	if class == ClassConfidential || class == ClassRestricted {
		frameworks = append(frameworks, GDPR, CCPA)
	}
	if slices.Contains(confidentialCollections, collection) {
		frameworks = append(frameworks, PCIDSS)
	}
	return frameworks
}

// RetentionDays is seven years for confidential or financial data, three otherwise.
func RetentionDays(collection string, class Classification) int {
	if class == ClassConfidential || class == ClassRestricted {
		return 2555
	}
	if collection == "payments" || collection == "orders" {
		return 2555
	}
	return 1095
}

func legalBasisFor(collection string) string {
	if slices.Contains(confidentialCollections, collection) {
		return "contract"
	}
	return ""
}

// Sanitize masks credential-like fields of confidential snapshots.
func Sanitize(data map[string]any, class Classification) map[string]any {
	if data == nil || (class != ClassConfidential && class != ClassRestricted) {
		return data
	}
	out := make(map[string]any, len(data))
	for k, v := range data {
		out[k] = v
	}
	for _, f := range redactedFields {
		if v, ok := out[f]; ok && v != nil && v != "" {
			out[f] = redacted
		}
	}
	return out
}
