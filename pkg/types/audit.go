package types

import "time"

// Audit event and object type constants (§3 "Audit entry").
const (
	EventCreate = "CREATE"
	EventUpdate = "UPDATE"
	EventDelete = "DELETE"

	ObjectTask   = "task"
	ObjectColumn = "column"
	ObjectBoard  = "board"
)

// AuditEntry is an append-only row populated by database triggers, never
// written directly by application code (§4.5).
type AuditEntry struct {
	ID        int64
	Timestamp time.Time
	EventType string
	ObjectType string
	ObjectID  string
	FieldName string // empty for CREATE/DELETE.
	OldValue  string // empty when not applicable.
	NewValue  string // empty when not applicable.
	Actor     string // "unknown" when no actor was recorded.
}

// AuditFilter selects rows for GetHistory.
type AuditFilter struct {
	ObjectType string
	ObjectID   string
	EventType  string
	Actor      string
	Since      *time.Time
	Until      *time.Time
	Limit      int // capped at 1000 by the audit service.
	Offset     int
}

// AuditPage is the paginated result of GetHistory.
type AuditPage struct {
	Entries []AuditEntry
	Total   int
	HasMore bool
}

// AuditStats is the aggregate produced by GetStats.
type AuditStats struct {
	ByEventType  map[string]int
	ByObjectType map[string]int
	RecentActors []string // up to 10, most recent distinct actors.
}
