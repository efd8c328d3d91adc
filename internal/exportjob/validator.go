package exportjob

import (
	"strings"

	"github.com/yourorg/yourapp/apps/audit/internal/trail"
)

const maxRequesterLen = 200

// ValidateRequest checks an export request. knownChain may be nil, in which
// case chain existence is left to the worker.
func ValidateRequest(requester string, req Request, knownChain func(string) bool) []ValidationErrorItem {
	errs := make([]ValidationErrorItem, 0)
	if strings.TrimSpace(requester) == "" {
		errs = append(errs, ValidationErrorItem{Code: "EXPORT-REQ-001", Path: "requester", Message: "requester is required"})
	} else if len(requester) > maxRequesterLen {
		errs = append(errs, ValidationErrorItem{Code: "EXPORT-REQ-002", Path: "requester", Message: "requester too long"})
	}
	chainID := req.ChainID
	if chainID == "" {
		chainID = trail.DefaultChainID
	}
	if knownChain != nil && !knownChain(chainID) {
		errs = append(errs, ValidationErrorItem{Code: "EXPORT-REQ-003", Path: "chainId", Message: "unknown chain " + chainID})
	}
	if req.Format == "" {
		errs = append(errs, ValidationErrorItem{Code: "EXPORT-REQ-004", Path: "format", Message: "format is required"})
	} else if _, err := trail.ParseFormat(req.Format); err != nil {
		errs = append(errs, ValidationErrorItem{Code: "EXPORT-REQ-005", Path: "format", Message: "format must be one of json, csv, xml, pdf"})
	}
	return errs
}
