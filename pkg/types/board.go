package types

import "time"

// Board is the top-level container of columns and tasks for one project.
// Exactly one board is expected per database in v1 (§3), but every
// relationship is board-scoped so a second board needs no migration.
type Board struct {
	ID             string // UUID v7, stable opaque id.
	Name           string
	MaxBoardTaskID int    // highest board_task_id ever allocated; never decreases.
	ActiveScorer   string // name of the scorer registered as this board's default "combined" view; empty until set.
	CreatedAt      time.Time
	UpdatedAt      time.Time
}

// Column is an ordered bucket of tasks belonging to exactly one board.
type Column struct {
	ID         string // typically a stable slug: "todo", "in_progress", ...
	BoardID    string
	Name       string
	Position   int
	WipLimit   int  // 0 means unlimited.
	IsTerminal bool // entering this column stamps CompletedAt.
}

// ColumnConfig describes one column to create during board initialization.
// Carried verbatim from the caller's BoardConfig; nothing here is baked
// into the board service (§4.2).
type ColumnConfig struct {
	ID         string
	Name       string
	WipLimit   int
	IsTerminal bool
}

// BoardConfig drives InitializeBoard. There is no built-in default: the
// caller (CLI, tests, ...) supplies DEFAULT_CONFIG explicitly.
type BoardConfig struct {
	Name    string
	Columns []ColumnConfig
}
