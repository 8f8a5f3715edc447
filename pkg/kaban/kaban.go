// Package kaban is the single public front door external collaborators
// (CLI, TUI, MCP server) import. It wires the Store and every internal
// service together behind one Engine, mirroring the teacher's pkg/sqlite
// (a thin public factory over internal/sqlite) — generalized here to wire
// the Store, five services and the Markdown codec instead of one backend
// (§9: "model as a scoped, owned
// resource carried by the service structs, created once at process
// start... No globals").
package kaban

import (
	"context"

	"github.com/kaban-dev/kaban/internal/audit"
	"github.com/kaban-dev/kaban/internal/board"
	"github.com/kaban-dev/kaban/internal/dependency"
	"github.com/kaban-dev/kaban/internal/markdown"
	"github.com/kaban-dev/kaban/internal/scoring"
	"github.com/kaban-dev/kaban/internal/store"
	"github.com/kaban-dev/kaban/internal/task"
	"github.com/kaban-dev/kaban/pkg/types"
)

// Engine owns the database and every service built on top of it. Callers
// construct exactly one per open database.
type Engine struct {
	store      *store.Store
	Board      *board.Service
	Task       *task.Service
	Dependency *dependency.Service
	Audit      *audit.Service
	Scoring    *scoring.Service
}

// DefaultConfig is the DEFAULT_CONFIG named in §4.2: backlog, todo,
// in_progress (WIP 3), review (WIP 2), done (terminal). It is not baked
// into the board service — callers pass it (or their own) to
// InitializeBoard explicitly.
func DefaultConfig(boardName string) types.BoardConfig {
	return types.BoardConfig{
		Name: boardName,
		Columns: []types.ColumnConfig{
			{ID: "backlog", Name: "Backlog"},
			{ID: "todo", Name: "To Do"},
			{ID: "in_progress", Name: "In Progress", WipLimit: 3},
			{ID: "review", Name: "Review", WipLimit: 2},
			{ID: "done", Name: "Done", IsTerminal: true},
		},
	}
}

// Open opens (creating if needed) the SQLite database at path and wires
// every service against it. Callers should call InitializeBoard before
// using the task service against a fresh database.
func Open(path string) (*Engine, error) {
	st, err := store.Open(path)
	if err != nil {
		return nil, err
	}

	boardSvc := board.New(st)
	depSvc := dependency.New(st)
	taskSvc := task.New(st, boardSvc, depSvc)
	auditSvc := audit.New(st)
	scoringSvc := scoring.NewDefaultRegistry(depSvc.BlockingCount)

	return &Engine{
		store:      st,
		Board:      boardSvc,
		Task:       taskSvc,
		Dependency: depSvc,
		Audit:      auditSvc,
		Scoring:    scoringSvc,
	}, nil
}

// Close releases the underlying database connection.
func (e *Engine) Close() error {
	return e.store.Close()
}

// ExportMarkdown renders the board's current state via the Markdown codec
// (§4.7), pulling every column's tasks fresh from the task service.
func (e *Engine) ExportMarkdown(ctx context.Context, opts types.MarkdownExportOptions) (string, error) {
	b, err := e.Board.GetBoard(ctx)
	if err != nil {
		return "", err
	}
	cols, err := e.Board.GetColumns(ctx)
	if err != nil {
		return "", err
	}

	doc := markdown.Board{Name: b.Name}
	for _, c := range cols {
		tasks, err := e.Task.ListTasks(ctx, types.TaskFilter{ColumnID: c.ID, IncludeArchived: opts.IncludeArchived})
		if err != nil {
			return "", err
		}
		doc.Columns = append(doc.Columns, markdown.Column{
			Config: types.ColumnConfig{ID: c.ID, Name: c.Name, WipLimit: c.WipLimit, IsTerminal: c.IsTerminal},
			Tasks:  tasks,
		})
	}

	return markdown.Serialize(doc, opts), nil
}

// ParseMarkdown exposes the codec's Parse for import tooling; wiring the
// parsed result back into the task/board services is a caller concern
// (typically an out-of-scope "import" CLI command walking ParsedBoard).
func ParseMarkdown(doc string) types.ParsedBoard {
	return markdown.Parse(doc)
}
