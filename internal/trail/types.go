package trail

import (
	"slices"
	"time"
)

type EventType string

const (
	EventPolicyChange    EventType = "policy_change"
	EventTemplateUpdate  EventType = "template_update"
	EventDataAccess      EventType = "data_access"
	EventConsentChange   EventType = "consent_change"
	EventDataExport      EventType = "data_export"
	EventDataDeletion    EventType = "data_deletion"
	EventBreachIncident  EventType = "breach_incident"
	EventUserAction      EventType = "user_action"
	EventSystemConfig    EventType = "system_config"
	EventComplianceCheck EventType = "compliance_check"
	EventAuditAccess     EventType = "audit_access"
)

var eventTypes = []EventType{
	EventPolicyChange, EventTemplateUpdate, EventDataAccess, EventConsentChange,
	EventDataExport, EventDataDeletion, EventBreachIncident, EventUserAction,
	EventSystemConfig, EventComplianceCheck, EventAuditAccess,
}

// Valid reports whether t is one of the known event types.
func (t EventType) Valid() bool {
	return slices.Contains(eventTypes, t)
}

func (t ActorType) Valid() bool {
	return slices.Contains([]ActorType{ActorUser, ActorSystem, ActorAPI, ActorAdmin, ActorAutomated}, t)
}

func (t ResourceType) Valid() bool {
	return slices.Contains([]ResourceType{
		ResourceDocument, ResourceTemplate, ResourcePolicy, ResourceUserData, ResourceSystem, ResourceDatabase,
	}, t)
}

func (c Classification) Valid() bool {
	return slices.Contains([]Classification{ClassPublic, ClassInternal, ClassConfidential, ClassRestricted}, c)
}

func (o Operation) Valid() bool {
	return slices.Contains([]Operation{OpCreate, OpRead, OpUpdate, OpDelete, OpExport, OpImport, OpApprove, OpReject}, o)
}

func (c Category) Valid() bool {
	return slices.Contains([]Category{
		CategoryDataProcessing, CategoryPolicyManagement, CategoryUserManagement, CategorySecurity, CategoryCompliance,
	}, c)
}

func (o Outcome) Valid() bool {
	return slices.Contains([]Outcome{OutcomeSuccess, OutcomeFailure, OutcomePartial, OutcomePending}, o)
}

func (c ChangeType) Valid() bool {
	return slices.Contains([]ChangeType{ChangeAddition, ChangeModification, ChangeDeletion}, c)
}

func (f Framework) Valid() bool {
	return slices.Contains([]Framework{GDPR, CCPA, SOX, HIPAA, PCIDSS, ISO27001, SOC2}, f)
}

type ActorType string

const (
	ActorUser      ActorType = "user"
	ActorSystem    ActorType = "system"
	ActorAPI       ActorType = "api"
	ActorAdmin     ActorType = "admin"
	ActorAutomated ActorType = "automated"
)

type ResourceType string

const (
	ResourceDocument ResourceType = "document"
	ResourceTemplate ResourceType = "template"
	ResourcePolicy   ResourceType = "policy"
	ResourceUserData ResourceType = "user_data"
	ResourceSystem   ResourceType = "system"
	ResourceDatabase ResourceType = "database"
)

type Classification string

const (
	ClassPublic       Classification = "public"
	ClassInternal     Classification = "internal"
	ClassConfidential Classification = "confidential"
	ClassRestricted   Classification = "restricted"
)

type Operation string

const (
	OpCreate  Operation = "create"
	OpRead    Operation = "read"
	OpUpdate  Operation = "update"
	OpDelete  Operation = "delete"
	OpExport  Operation = "export"
	OpImport  Operation = "import"
	OpApprove Operation = "approve"
	OpReject  Operation = "reject"
)

type Category string

const (
	CategoryDataProcessing   Category = "data_processing"
	CategoryPolicyManagement Category = "policy_management"
	CategoryUserManagement   Category = "user_management"
	CategorySecurity         Category = "security"
	CategoryCompliance       Category = "compliance"
)

type Outcome string

const (
	OutcomeSuccess Outcome = "success"
	OutcomeFailure Outcome = "failure"
	OutcomePartial Outcome = "partial"
	OutcomePending Outcome = "pending"
)

type ChangeType string

const (
	ChangeAddition     ChangeType = "addition"
	ChangeModification ChangeType = "modification"
	ChangeDeletion     ChangeType = "deletion"
)

type Framework string

const (
	GDPR     Framework = "gdpr"
	CCPA     Framework = "ccpa"
	SOX      Framework = "sox"
	HIPAA    Framework = "hipaa"
	PCIDSS   Framework = "pci_dss"
	ISO27001 Framework = "iso27001"
	SOC2     Framework = "soc2"
)

// SupportedFrameworks is the static list reported by GetAuditMetrics.
var SupportedFrameworks = []Framework{GDPR, SOX, ISO27001, SOC2, CCPA, HIPAA}

type Severity string

const (
	SeverityLow      Severity = "low"
	SeverityMedium   Severity = "medium"
	SeverityHigh     Severity = "high"
	SeverityCritical Severity = "critical"
)

// GenesisHash is the previousHash of the first event in every chain.
const GenesisHash = "0000000000000000000000000000000000000000000000000000000000000000"

type Actor struct {
	Type              ActorType `json:"type"`
	ID                string    `json:"id"`
	Email             string    `json:"email,omitempty"`
	Role              string    `json:"role,omitempty"`
	SessionID         string    `json:"sessionId,omitempty"`
	IPAddress         string    `json:"ipAddress,omitempty"`
	UserAgent         string    `json:"userAgent,omitempty"`
	DeviceFingerprint string    `json:"deviceFingerprint,omitempty"`
}

type Resource struct {
	Type           ResourceType   `json:"type"`
	ID             string         `json:"id"`
	Name           string         `json:"name,omitempty"`
	Version        string         `json:"version,omitempty"`
	Classification Classification `json:"classification"`
}

type Action struct {
	Operation   Operation `json:"operation"`
	Description string    `json:"description"`
	Category    Category  `json:"category"`
	Outcome     Outcome   `json:"outcome"`
}

type FieldChange struct {
	Field      string     `json:"field"`
	OldValue   any        `json:"oldValue,omitempty"`
	NewValue   any        `json:"newValue,omitempty"`
	ChangeType ChangeType `json:"changeType"`
	Diff       string     `json:"diff,omitempty"`
}

type Compliance struct {
	Frameworks        []Framework `json:"frameworks"`
	LegalBasis        string      `json:"legalBasis,omitempty"`
	RetentionPeriod   int         `json:"retentionPeriod,omitempty"`
	DataSubjectRights []string    `json:"dataSubjectRights,omitempty"`
	ConsentID         string      `json:"consentId,omitempty"`
	ProcessingPurpose string      `json:"processingPurpose,omitempty"`
}

type Technical struct {
	SourceSystem    string `json:"sourceSystem"`
	TransactionID   string `json:"transactionId,omitempty"`
	CorrelationID   string `json:"correlationId,omitempty"`
	BatchID         string `json:"batchId,omitempty"`
	ChecksumBefore  string `json:"checksumBefore,omitempty"`
	ChecksumAfter   string `json:"checksumAfter,omitempty"`
	BackupReference string `json:"backupReference,omitempty"`
}

// Evidence holds references to attachments, never their content.
type Evidence struct {
	Screenshots []string `json:"screenshots,omitempty"`
	Documents   []string `json:"documents,omitempty"`
	Logs        []string `json:"logs,omitempty"`
	Signatures  []string `json:"signatures,omitempty"`
	Approvals   []string `json:"approvals,omitempty"`
}

type Integrity struct {
	Signature     string   `json:"signature"`
	WitnessHashes []string `json:"witnessHashes,omitempty"`
	MerkleRoot    string   `json:"merkleRoot,omitempty"`
	Immutable     bool     `json:"immutable"`
}

type AuditEvent struct {
	ID           string        `json:"id"`
	Sequence     int           `json:"sequence"`
	Timestamp    time.Time     `json:"timestamp"`
	PreviousHash string        `json:"previousHash"`
	CurrentHash  string        `json:"currentHash,omitempty"`
	EventType    EventType     `json:"eventType"`
	Actor        Actor         `json:"actor"`
	Resource     Resource      `json:"resource"`
	Action       Action        `json:"action"`
	Changes      []FieldChange `json:"changes,omitempty"`
	Compliance   Compliance    `json:"compliance"`
	Technical    Technical     `json:"technical"`
	Evidence     *Evidence     `json:"evidence,omitempty"`
	Integrity    *Integrity    `json:"integrity,omitempty"`
}

// EventInput is an AuditEvent without the fields the store computes.
type EventInput struct {
	ChainID    string        `json:"chainId,omitempty"`
	EventType  EventType     `json:"eventType"`
	Actor      Actor         `json:"actor"`
	Resource   Resource      `json:"resource"`
	Action     Action        `json:"action"`
	Changes    []FieldChange `json:"changes,omitempty"`
	Compliance Compliance    `json:"compliance"`
	Technical  Technical     `json:"technical"`
	Evidence   *Evidence     `json:"evidence,omitempty"`
}

type ChainMetadata struct {
	TotalEvents          int         `json:"totalEvents"`
	FirstEvent           *time.Time  `json:"firstEvent,omitempty"`
	LastEvent            *time.Time  `json:"lastEvent,omitempty"`
	IntegrityVerified    bool        `json:"integrityVerified"`
	LastIntegrityCheck   *time.Time  `json:"lastIntegrityCheck,omitempty"`
	ComplianceFrameworks []Framework `json:"complianceFrameworks"`
}

type Chain struct {
	ID          string        `json:"id"`
	Name        string        `json:"name"`
	Description string        `json:"description,omitempty"`
	CreatedAt   time.Time     `json:"createdAt"`
	Events      []AuditEvent  `json:"events"`
	Metadata    ChainMetadata `json:"metadata"`
}

// ChainSpec describes a chain to create.
type ChainSpec struct {
	ID                   string      `json:"id"`
	Name                 string      `json:"name"`
	Description          string      `json:"description,omitempty"`
	ComplianceFrameworks []Framework `json:"complianceFrameworks,omitempty"`
}

type IntegrityFinding struct {
	EventID  string   `json:"eventId"`
	Error    string   `json:"error"`
	Severity Severity `json:"severity"`
}

type VerificationResult struct {
	IsValid          bool               `json:"isValid"`
	TotalEvents      int                `json:"totalEvents"`
	VerifiedEvents   int                `json:"verifiedEvents"`
	FailedEvents     int                `json:"failedEvents"`
	Errors           []IntegrityFinding `json:"errors"`
	LastVerified     time.Time          `json:"lastVerified"`
	NextVerification time.Time          `json:"nextVerification"`
}

type IntegrityStatus string

const (
	StatusVerified IntegrityStatus = "verified"
	StatusPending  IntegrityStatus = "pending"
	StatusFailed   IntegrityStatus = "failed"
)

func cloneEvent(e AuditEvent) AuditEvent {
	out := e
	if e.Changes != nil {
		out.Changes = make([]FieldChange, len(e.Changes))
		for i, c := range e.Changes {
			c.OldValue = copyValue(c.OldValue)
			c.NewValue = copyValue(c.NewValue)
			out.Changes[i] = c
		}
	}
	out.Compliance.Frameworks = cloneStrings(e.Compliance.Frameworks)
	out.Compliance.DataSubjectRights = cloneStrings(e.Compliance.DataSubjectRights)
	if e.Evidence != nil {
		ev := Evidence{
			Screenshots: cloneStrings(e.Evidence.Screenshots),
			Documents:   cloneStrings(e.Evidence.Documents),
			Logs:        cloneStrings(e.Evidence.Logs),
			Signatures:  cloneStrings(e.Evidence.Signatures),
			Approvals:   cloneStrings(e.Evidence.Approvals),
		}
		out.Evidence = &ev
	}
	if e.Integrity != nil {
		in := *e.Integrity
		in.WitnessHashes = cloneStrings(e.Integrity.WitnessHashes)
		out.Integrity = &in
	}
	return out
}

func cloneChain(c Chain) Chain {
	out := c
	out.Events = make([]AuditEvent, len(c.Events))
	for i, e := range c.Events {
		out.Events[i] = cloneEvent(e)
	}
	out.Metadata = cloneMetadata(c.Metadata)
	return out
}

func cloneMetadata(m ChainMetadata) ChainMetadata {
	out := m
	out.ComplianceFrameworks = cloneStrings(m.ComplianceFrameworks)
	out.FirstEvent = cloneTime(m.FirstEvent)
	out.LastEvent = cloneTime(m.LastEvent)
	out.LastIntegrityCheck = cloneTime(m.LastIntegrityCheck)
	return out
}

func cloneStrings[T ~string](in []T) []T {
	if in == nil {
		return nil
	}
	return append([]T(nil), in...)
}

func cloneTime(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	v := *t
	return &v
}
