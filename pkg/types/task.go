package types

import "time"

// Task is a unit of work with a stable global id (26-char sortable ULID),
// a per-board short id, a position within its column, and link-graph
// membership (§3).
type Task struct {
	ID          string // 26-char ULID, sortable, prefix-searchable.
	BoardID     string
	BoardTaskID int // positive, unique within board, never reused.
	ColumnID    string
	Title       string
	Description string
	Position    int
	CreatedBy   string
	AssignedTo  string
	ParentID    string // optional self-reference.
	Labels      []string
	Files       []string
	BlockedReason string
	Version     int // optimistic-concurrency token; increments on every update.
	DueDate     *time.Time
	StartedAt   *time.Time
	CompletedAt *time.Time
	Archived    bool
	ArchivedAt  *time.Time
	UpdatedBy   string
	CreatedAt   time.Time
	UpdatedAt   time.Time

	// DependsOn is a read-through, backwards-compat view of the
	// blocked_by edges touching this task, populated from task_links.
	// It is never written to directly — see §9 Open Question.
	DependsOn []string
}

// TaskFilter selects tasks for ListTasks.
type TaskFilter struct {
	ColumnID        string
	Agent           string
	Blocked         *bool
	IncludeArchived bool
}

// UpdateTaskInput carries the partial fields UpdateTask may change.
// A nil pointer means "leave unchanged"; a non-nil pointer to the zero
// value is a deliberate clear (e.g. clearing a description).
type UpdateTaskInput struct {
	Title         *string
	Description   *string
	AssignedTo    *string
	Labels        *[]string
	Files         *[]string
	BlockedReason *string
	DueDate       **time.Time
	ParentID      *string
	UpdatedBy     string
}

// AddTaskInput carries the fields AddTask accepts.
type AddTaskInput struct {
	Title       string
	Description string
	ColumnID    string // defaults to "todo" when empty.
	CreatedBy   string
	DependsOn   []string // declared at creation; validated for cycles.
	Labels      []string
	Files       []string
	DueDate     *time.Time
}
