package audit

import (
	"time"
)

// EventCategory classifies audit events by their primary purpose so stores can
// apply different retention and routing.
type EventCategory string

const (
	// CategoryCompliance covers changes to the system of record: profiles
	// created or updated. Long retention.
	CategoryCompliance EventCategory = "compliance"

	// CategorySecurity covers signature and authority violations. These feed
	// alerting.
	CategorySecurity EventCategory = "security"

	// CategoryOperations covers routine reads and infrastructure failures.
	CategoryOperations EventCategory = "operations"
)

// Event is emitted from the profile service to capture key actions. Keep it
// transport-agnostic so stores and sinks can fan out.
type Event struct {
	Category  EventCategory
	Timestamp time.Time
	UserID    string
	// Subject is the API client or publisher that caused the event.
	Subject   string
	Action    string
	Decision  string
	Reason    string
	Attribute string
	Condition string
	RequestID string
	Severity  Severity
}

type AuditEvent string

const (
	EventProfileCreated     AuditEvent = "profile_created"
	EventProfileUpdated     AuditEvent = "profile_updated"
	EventProfileUnchanged   AuditEvent = "profile_unchanged"
	EventProfileRead        AuditEvent = "profile_read"
	EventSchemaRejected     AuditEvent = "schema_rejected"
	EventPublisherRejected  AuditEvent = "publisher_rejected"
	EventSignatureRejected  AuditEvent = "signature_rejected"
	EventKeyUnavailable     AuditEvent = "key_unavailable"
	EventWriteConflict      AuditEvent = "write_conflict"
	EventDocumentsRefreshed AuditEvent = "documents_refreshed"
)

var eventCategories = map[AuditEvent]EventCategory{
	EventProfileCreated:    CategoryCompliance,
	EventProfileUpdated:    CategoryCompliance,
	EventSchemaRejected:    CategoryCompliance,
	EventPublisherRejected: CategorySecurity,
	EventSignatureRejected: CategorySecurity,

	EventProfileUnchanged:   CategoryOperations,
	EventProfileRead:        CategoryOperations,
	EventKeyUnavailable:     CategoryOperations,
	EventWriteConflict:      CategoryOperations,
	EventDocumentsRefreshed: CategoryOperations,
}

// Category returns the EventCategory for this audit event.
// Unknown events default to CategoryOperations.
func (e AuditEvent) Category() EventCategory {
	if cat, ok := eventCategories[e]; ok {
		return cat
	}
	return CategoryOperations
}

// Severity levels for security events.
type Severity string

const (
	SeverityInfo     Severity = "info"
	SeverityWarning  Severity = "warning"
	SeverityCritical Severity = "critical"
)
