package trail

import (
	"context"
	"fmt"
	"strconv"
	"unicode/utf8"
)

const defaultRetentionDays = 2555

type PolicyChange struct {
	ChainID    string `json:"chainId,omitempty"`
	PolicyID   string `json:"policyId"`
	PolicyName string `json:"policyName"`
	Version    string `json:"version"`
	OldContent any    `json:"oldContent"`
	NewContent any    `json:"newContent"`
	ActorID    string `json:"actorId"`
	ActorEmail string `json:"actorEmail"`
	ApprovalID string `json:"approvalId,omitempty"`
}

func (s *Store) LogPolicyChange(ctx context.Context, in PolicyChange) (string, error) {
	evidence := &Evidence{Documents: []string{fmt.Sprintf("policy_%s_v%s.pdf", in.PolicyID, in.Version)}}
	if in.ApprovalID != "" {
		evidence.Approvals = []string{in.ApprovalID}
	}
	return s.CreateAuditEvent(ctx, EventInput{
		ChainID:   in.ChainID,
		EventType: EventPolicyChange,
		Actor: Actor{
			Type:      ActorUser,
			ID:        in.ActorID,
			Email:     in.ActorEmail,
			IPAddress: "policy_editor",
			UserAgent: "policy_management_system",
		},
		Resource: Resource{
			Type:           ResourcePolicy,
			ID:             in.PolicyID,
			Name:           in.PolicyName,
			Version:        in.Version,
			Classification: ClassInternal,
		},
		Action: Action{
			Operation:   OpUpdate,
			Description: fmt.Sprintf("Policy %s updated to version %s", in.PolicyName, in.Version),
			Category:    CategoryPolicyManagement,
			Outcome:     OutcomeSuccess,
		},
		Changes: GenerateDiff(in.OldContent, in.NewContent),
		Compliance: Compliance{
			Frameworks:        []Framework{GDPR, SOX, ISO27001},
			RetentionPeriod:   defaultRetentionDays,
			ProcessingPurpose: "policy_governance",
		},
		Technical: Technical{
			SourceSystem:   "policy_management",
			TransactionID:  in.ApprovalID,
			ChecksumBefore: Checksum(in.OldContent),
			ChecksumAfter:  Checksum(in.NewContent),
		},
		Evidence: evidence,
	})
}

type TemplateChange struct {
	ChainID      string `json:"chainId,omitempty"`
	TemplateID   string `json:"templateId"`
	TemplateName string `json:"templateName"`
	OldTemplate  any    `json:"oldTemplate"`
	NewTemplate  any    `json:"newTemplate"`
	ActorID      string `json:"actorId"`
	ActorEmail   string `json:"actorEmail"`
}

func (s *Store) LogTemplateChange(ctx context.Context, in TemplateChange) (string, error) {
	return s.CreateAuditEvent(ctx, EventInput{
		ChainID:   in.ChainID,
		EventType: EventTemplateUpdate,
		Actor: Actor{
			Type:      ActorUser,
			ID:        in.ActorID,
			Email:     in.ActorEmail,
			IPAddress: "template_editor",
			UserAgent: "template_management_system",
		},
		Resource: Resource{
			Type:           ResourceTemplate,
			ID:             in.TemplateID,
			Name:           in.TemplateName,
			Classification: ClassInternal,
		},
		Action: Action{
			Operation:   OpUpdate,
			Description: fmt.Sprintf("Template %s updated", in.TemplateName),
			Category:    CategoryDataProcessing,
			Outcome:     OutcomeSuccess,
		},
		Changes: GenerateDiff(in.OldTemplate, in.NewTemplate),
		Compliance: Compliance{
			Frameworks:        []Framework{GDPR, CCPA},
			RetentionPeriod:   defaultRetentionDays,
			ProcessingPurpose: "document_generation",
		},
		Technical: Technical{
			SourceSystem:   "template_engine",
			ChecksumBefore: Checksum(in.OldTemplate),
			ChecksumAfter:  Checksum(in.NewTemplate),
		},
		Evidence: &Evidence{Documents: []string{fmt.Sprintf("template_%s_backup.json", in.TemplateID)}},
	})
}

type DataAccess struct {
	ChainID    string    `json:"chainId,omitempty"`
	DataType   string    `json:"dataType"`
	DataID     string    `json:"dataId"`
	Operation  Operation `json:"operation"`
	ActorID    string    `json:"actorId"`
	ActorEmail string    `json:"actorEmail"`
	LegalBasis string    `json:"legalBasis"`
	ConsentID  string    `json:"consentId,omitempty"`
}

// LogDataAccess records a read, export or delete of personal data.
func (s *Store) LogDataAccess(ctx context.Context, in DataAccess) (string, error) {
	switch in.Operation {
	case OpRead, OpExport, OpDelete:
	default:
		return "", fmt.Errorf("%w: data access operation %q not allowed", ErrInvalidInput, in.Operation)
	}
	stamp := strconv.FormatInt(s.now().UnixMilli(), 10)
	return s.CreateAuditEvent(ctx, EventInput{
		ChainID:   in.ChainID,
		EventType: EventDataAccess,
		Actor: Actor{
			Type:      ActorUser,
			ID:        in.ActorID,
			Email:     in.ActorEmail,
			IPAddress: "data_access_system",
			UserAgent: "data_management_portal",
		},
		Resource: Resource{
			Type:           ResourceUserData,
			ID:             in.DataID,
			Name:           in.DataType,
			Classification: ClassConfidential,
		},
		Action: Action{
			Operation:   in.Operation,
			Description: fmt.Sprintf("%s operation on %s", in.Operation, in.DataType),
			Category:    CategoryDataProcessing,
			Outcome:     OutcomeSuccess,
		},
		Compliance: Compliance{
			Frameworks:        []Framework{GDPR, CCPA},
			LegalBasis:        in.LegalBasis,
			ConsentID:         in.ConsentID,
			DataSubjectRights: []string{"access", "rectification", "erasure", "portability"},
			RetentionPeriod:   defaultRetentionDays,
			ProcessingPurpose: "service_provision",
		},
		Technical: Technical{
			SourceSystem:  "data_access_portal",
			CorrelationID: "data_access_" + stamp,
		},
		Evidence: &Evidence{Logs: []string{fmt.Sprintf("data_access_%s_%s.log", in.DataID, stamp)}},
	})
}

type ConsentMethod string

const (
	ConsentWebForm ConsentMethod = "web_form"
	ConsentEmail   ConsentMethod = "email"
	ConsentPhone   ConsentMethod = "phone"
	ConsentAPI     ConsentMethod = "api"
)

type ConsentChange struct {
	ChainID     string        `json:"chainId,omitempty"`
	UserID      string        `json:"userId"`
	ConsentType string        `json:"consentType"`
	OldConsent  any           `json:"oldConsent"`
	NewConsent  any           `json:"newConsent"`
	Method      ConsentMethod `json:"method"`
}

func (s *Store) LogConsentChange(ctx context.Context, in ConsentChange) (string, error) {
	switch in.Method {
	case ConsentWebForm, ConsentEmail, ConsentPhone, ConsentAPI:
	default:
		return "", fmt.Errorf("%w: consent method %q not allowed", ErrInvalidInput, in.Method)
	}
	return s.CreateAuditEvent(ctx, EventInput{
		ChainID:   in.ChainID,
		EventType: EventConsentChange,
		Actor: Actor{
			Type:      ActorUser,
			ID:        in.UserID,
			IPAddress: "consent_portal",
			UserAgent: "consent_management_system",
		},
		Resource: Resource{
			Type:           ResourceUserData,
			ID:             "consent_" + in.UserID,
			Name:           in.ConsentType,
			Classification: ClassConfidential,
		},
		Action: Action{
			Operation:   OpUpdate,
			Description: fmt.Sprintf("Consent %s updated via %s", in.ConsentType, in.Method),
			Category:    CategoryDataProcessing,
			Outcome:     OutcomeSuccess,
		},
		Changes: GenerateDiff(in.OldConsent, in.NewConsent),
		Compliance: Compliance{
			Frameworks:        []Framework{GDPR, CCPA},
			LegalBasis:        "consent",
			DataSubjectRights: []string{"withdraw_consent"},
			RetentionPeriod:   defaultRetentionDays,
			ProcessingPurpose: "consent_management",
		},
		Technical: Technical{
			SourceSystem:   "consent_manager",
			ChecksumBefore: Checksum(in.OldConsent),
			ChecksumAfter:  Checksum(in.NewConsent),
		},
		Evidence: &Evidence{Documents: []string{fmt.Sprintf("consent_%s_%d.json", in.UserID, s.now().UnixMilli())}},
	})
}

type DataExport struct {
	ChainID     string `json:"chainId,omitempty"`
	DataType    string `json:"dataType"`
	DataID      string `json:"dataId"`
	Format      string `json:"format"`
	Destination string `json:"destination,omitempty"`
	ActorID     string `json:"actorId"`
	ActorEmail  string `json:"actorEmail"`
	LegalBasis  string `json:"legalBasis,omitempty"`
}

// LogDataExport records a portability export handed to a data subject or third party.
func (s *Store) LogDataExport(ctx context.Context, in DataExport) (string, error) {
	description := fmt.Sprintf("%s exported as %s", in.DataType, in.Format)
	if in.Destination != "" {
		description += " to " + in.Destination
	}
	return s.CreateAuditEvent(ctx, EventInput{
		ChainID:   in.ChainID,
		EventType: EventDataExport,
		Actor:     Actor{Type: ActorUser, ID: in.ActorID, Email: in.ActorEmail},
		Resource: Resource{
			Type:           ResourceUserData,
			ID:             in.DataID,
			Name:           in.DataType,
			Classification: ClassConfidential,
		},
		Action: Action{
			Operation:   OpExport,
			Description: description,
			Category:    CategoryDataProcessing,
			Outcome:     OutcomeSuccess,
		},
		Compliance: Compliance{
			Frameworks:        []Framework{GDPR, CCPA},
			LegalBasis:        in.LegalBasis,
			DataSubjectRights: []string{"portability"},
			RetentionPeriod:   defaultRetentionDays,
			ProcessingPurpose: "data_portability",
		},
		Technical: Technical{SourceSystem: "data_export_service"},
	})
}

type DataDeletion struct {
	ChainID    string         `json:"chainId,omitempty"`
	DataType   string         `json:"dataType"`
	DataID     string         `json:"dataId"`
	Reason     string         `json:"reason"`
	LegalBasis string         `json:"legalBasis,omitempty"`
	Snapshot   map[string]any `json:"snapshot,omitempty"`
	ActorID    string         `json:"actorId"`
	ActorEmail string         `json:"actorEmail"`
}

// LogDataDeletion records an erasure. The deleted snapshot is only kept as a
// checksum and as redacted deletion entries.
func (s *Store) LogDataDeletion(ctx context.Context, in DataDeletion) (string, error) {
	before := Sanitize(in.Snapshot, ClassConfidential)
	input := EventInput{
		ChainID:   in.ChainID,
		EventType: EventDataDeletion,
		Actor:     Actor{Type: ActorUser, ID: in.ActorID, Email: in.ActorEmail},
		Resource: Resource{
			Type:           ResourceUserData,
			ID:             in.DataID,
			Name:           in.DataType,
			Classification: ClassConfidential,
		},
		Action: Action{
			Operation:   OpDelete,
			Description: fmt.Sprintf("%s %s erased: %s", in.DataType, in.DataID, in.Reason),
			Category:    CategoryDataProcessing,
			Outcome:     OutcomeSuccess,
		},
		Changes: GenerateDiff(before, nil),
		Compliance: Compliance{
			Frameworks:        []Framework{GDPR, CCPA},
			LegalBasis:        in.LegalBasis,
			DataSubjectRights: []string{"erasure"},
			RetentionPeriod:   defaultRetentionDays,
			ProcessingPurpose: "right_to_erasure",
		},
		Technical: Technical{SourceSystem: "data_deletion_service"},
	}
	if in.Snapshot != nil {
		input.Technical.ChecksumBefore = Checksum(in.Snapshot)
	}
	return s.CreateAuditEvent(ctx, input)
}

type BreachIncident struct {
	ChainID        string         `json:"chainId,omitempty"`
	IncidentID     string         `json:"incidentId"`
	Description    string         `json:"description"`
	ResourceType   ResourceType   `json:"resourceType"`
	ResourceID     string         `json:"resourceId"`
	Classification Classification `json:"classification"`
	ReportedBy     string         `json:"reportedBy"`
	Contained      bool           `json:"contained"`
	Frameworks     []Framework    `json:"frameworks,omitempty"`
	Evidence       []string       `json:"evidence,omitempty"`
}

// LogBreachIncident records a security incident. Uncontained incidents are
// logged with a pending outcome.
func (s *Store) LogBreachIncident(ctx context.Context, in BreachIncident) (string, error) {
	outcome := OutcomePending
	if in.Contained {
		outcome = OutcomeSuccess
	}
	class := in.Classification
	if class == "" {
		class = ClassRestricted
	}
	resourceType := in.ResourceType
	if resourceType == "" {
		resourceType = ResourceSystem
	}
	frameworks := in.Frameworks
	if len(frameworks) == 0 {
		frameworks = []Framework{GDPR, CCPA, ISO27001, SOC2}
	}
	var evidence *Evidence
	if len(in.Evidence) > 0 {
		evidence = &Evidence{Logs: in.Evidence}
	}
	return s.CreateAuditEvent(ctx, EventInput{
		ChainID:   in.ChainID,
		EventType: EventBreachIncident,
		Actor:     Actor{Type: ActorSystem, ID: in.ReportedBy},
		Resource: Resource{
			Type:           resourceType,
			ID:             in.ResourceID,
			Classification: class,
		},
		Action: Action{
			Operation:   OpCreate,
			Description: fmt.Sprintf("Breach incident %s: %s", in.IncidentID, in.Description),
			Category:    CategorySecurity,
			Outcome:     outcome,
		},
		Compliance: Compliance{
			Frameworks:        frameworks,
			RetentionPeriod:   defaultRetentionDays,
			ProcessingPurpose: "incident_response",
		},
		Technical: Technical{SourceSystem: "incident_response", CorrelationID: in.IncidentID},
		Evidence:  evidence,
	})
}

// DocumentChange is a create, update or delete of a stored record. A nil
// Before means create and a nil After means delete.
type DocumentChange struct {
	ChainID     string         `json:"chainId,omitempty"`
	Collection  string         `json:"collection"`
	DocumentID  string         `json:"documentId"`
	Before      map[string]any `json:"before,omitempty"`
	After       map[string]any `json:"after,omitempty"`
	ActorID     string         `json:"actorId,omitempty"`
	ActorEmail  string         `json:"actorEmail,omitempty"`
	ExecutionID string         `json:"executionId,omitempty"`
}

// LogDocumentChange classifies the record, redacts confidential fields and
// derives the frameworks and retention from the classification.
func (s *Store) LogDocumentChange(ctx context.Context, in DocumentChange) (string, error) {
	if in.Before == nil && in.After == nil {
		return "", fmt.Errorf("%w: document change for %s/%s has no snapshot", ErrInvalidInput, in.Collection, in.DocumentID)
	}
	op := OpUpdate
	switch {
	case in.Before == nil:
		op = OpCreate
	case in.After == nil:
		op = OpDelete
	}
	current := in.After
	if current == nil {
		current = in.Before
	}
	class := ClassifyData(in.Collection, current)
	before := truncateValues(Sanitize(in.Before, class))
	after := truncateValues(Sanitize(in.After, class))

	actor := actorFromRecord(current)
	if in.ActorID != "" {
		actor.ID = in.ActorID
	}
	if in.ActorEmail != "" {
		actor.Email = in.ActorEmail
	}

	input := EventInput{
		ChainID:   in.ChainID,
		EventType: documentEventType(in.Collection),
		Actor:     actor,
		Resource: Resource{
			Type:           documentResourceType(in.Collection),
			ID:             in.DocumentID,
			Name:           in.Collection + "/" + in.DocumentID,
			Classification: class,
		},
		Action: Action{
			Operation:   op,
			Description: fmt.Sprintf("%s %s/%s", op, in.Collection, in.DocumentID),
			Category:    documentCategory(in.Collection),
			Outcome:     OutcomeSuccess,
		},
		Changes: GenerateDiff(before, after),
		Compliance: Compliance{
			Frameworks:      FrameworksFor(in.Collection, class),
			LegalBasis:      legalBasisFor(in.Collection),
			RetentionPeriod: RetentionDays(in.Collection, class),
		},
		Technical: Technical{
			SourceSystem:  "document_change_trigger",
			TransactionID: in.ExecutionID,
		},
	}
	if in.Before != nil {
		input.Technical.ChecksumBefore = Checksum(in.Before)
	}
	if in.After != nil {
		input.Technical.ChecksumAfter = Checksum(in.After)
	}
	return s.CreateAuditEvent(ctx, input)
}

func documentEventType(collection string) EventType {
	switch collection {
	case "users":
		return EventUserAction
	case "policies":
		return EventPolicyChange
	case "templates":
		return EventTemplateUpdate
	case "settings", "feature_flags":
		return EventSystemConfig
	case "payments", "orders":
		return EventComplianceCheck
	}
	return EventUserAction
}

func documentResourceType(collection string) ResourceType {
	switch collection {
	case "users", "payments", "orders":
		return ResourceUserData
	case "policies":
		return ResourcePolicy
	case "templates":
		return ResourceTemplate
	case "settings", "feature_flags":
		return ResourceSystem
	}
	return ResourceDocument
}

func documentCategory(collection string) Category {
	switch collection {
	case "users":
		return CategoryUserManagement
	case "policies":
		return CategoryPolicyManagement
	case "payments", "orders":
		return CategoryCompliance
	}
	return CategoryDataProcessing
}

func actorFromRecord(data map[string]any) Actor {
	pick := func(keys ...string) string {
		for _, k := range keys {
			if v, ok := data[k].(string); ok && v != "" {
				return v
			}
		}
		return ""
	}
	actor := Actor{
		Type:      ActorUser,
		ID:        pick("userId", "createdBy", "uid"),
		Email:     pick("userEmail", "email"),
		Role:      pick("userRole", "role"),
		IPAddress: pick("ipAddress"),
		UserAgent: pick("userAgent"),
	}
	if actor.ID == "" {
		actor.Type = ActorSystem
		actor.ID = "unknown"
	}
	return actor
}

const maxValueLength = 1000

func truncateValues(data map[string]any) map[string]any {
	if data == nil {
		return nil
	}
	out := make(map[string]any, len(data))
	for k, v := range data {
		if s, ok := v.(string); ok && len(s) > maxValueLength {
			cut := maxValueLength
			for cut > 0 && !utf8.RuneStart(s[cut]) {
				cut--
			}
			v = s[:cut] + "...[TRUNCATED]"
		}
		out[k] = v
	}
	return out
}
