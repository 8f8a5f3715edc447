// This file defines the ordered schema migrations applied by Store.Open.
// Implements §4.1 "Schema migrations": each script is named NNNN_<tag>,
// split on a statement-break marker, executed in order inside one
// transaction per script, and recorded in __migrations atomically.
//
// There is exactly one schema lineage here (no older CREATE-script variant
// predates it) — see DESIGN.md for the §9 Open Question on this point.
package store

import "strings"

const stmtBreak = "\n-- STEP --\n"

// migration is one NNNN_<tag> script.
type migration struct {
	version string
	sql     string
}

// statements splits a migration's SQL on the statement-break marker.
func (m migration) statements() []string {
	parts := strings.Split(m.sql, stmtBreak)
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p != "" {
			out = append(out, p)
		}
	}
	return out
}

// migrations lists every schema migration in application order. Adding a
// new one is additive: append, never edit a shipped entry.
var migrations = []migration{
	{version: "0001_init_schema", sql: initSchemaSQL},
	{version: "0002_audit_triggers", sql: auditTriggersSQL},
}

const initSchemaSQL = `
CREATE TABLE IF NOT EXISTS boards (
    id TEXT PRIMARY KEY,
    name TEXT NOT NULL,
    max_board_task_id INTEGER NOT NULL DEFAULT 0,
    active_scorer TEXT NOT NULL DEFAULT '',
    created_by TEXT,
    updated_by TEXT,
    created_at TEXT NOT NULL,
    updated_at TEXT NOT NULL
);
` + stmtBreak + `
CREATE TABLE IF NOT EXISTS columns (
    id TEXT PRIMARY KEY,
    board_id TEXT NOT NULL REFERENCES boards(id) ON DELETE CASCADE,
    name TEXT NOT NULL,
    position INTEGER NOT NULL,
    wip_limit INTEGER NOT NULL DEFAULT 0,
    is_terminal INTEGER NOT NULL DEFAULT 0,
    created_by TEXT,
    updated_by TEXT
);
` + stmtBreak + `
CREATE UNIQUE INDEX IF NOT EXISTS idx_columns_board_position ON columns(board_id, position);
` + stmtBreak + `
CREATE TABLE IF NOT EXISTS tasks (
    id TEXT PRIMARY KEY,
    board_id TEXT NOT NULL REFERENCES boards(id) ON DELETE CASCADE,
    board_task_id INTEGER NOT NULL,
    column_id TEXT NOT NULL REFERENCES columns(id),
    title TEXT NOT NULL,
    description TEXT NOT NULL DEFAULT '',
    position INTEGER NOT NULL,
    created_by TEXT,
    assigned_to TEXT,
    parent_id TEXT REFERENCES tasks(id) ON DELETE SET NULL,
    labels TEXT NOT NULL DEFAULT '[]',
    files TEXT NOT NULL DEFAULT '[]',
    blocked_reason TEXT NOT NULL DEFAULT '',
    version INTEGER NOT NULL DEFAULT 1,
    due_date TEXT,
    started_at TEXT,
    completed_at TEXT,
    archived INTEGER NOT NULL DEFAULT 0,
    archived_at TEXT,
    updated_by TEXT,
    created_at TEXT NOT NULL,
    updated_at TEXT NOT NULL,
    UNIQUE (board_id, board_task_id)
);
` + stmtBreak + `
CREATE UNIQUE INDEX IF NOT EXISTS idx_tasks_column_position ON tasks(column_id, position);
` + stmtBreak + `
CREATE INDEX IF NOT EXISTS idx_tasks_board ON tasks(board_id);
` + stmtBreak + `
CREATE INDEX IF NOT EXISTS idx_tasks_archived ON tasks(archived);
` + stmtBreak + `
CREATE INDEX IF NOT EXISTS idx_tasks_assigned_to ON tasks(assigned_to);
` + stmtBreak + `
CREATE TABLE IF NOT EXISTS task_links (
    from_task_id TEXT NOT NULL REFERENCES tasks(id) ON DELETE CASCADE,
    to_task_id TEXT NOT NULL REFERENCES tasks(id) ON DELETE CASCADE,
    link_type TEXT NOT NULL,
    created_at TEXT NOT NULL,
    PRIMARY KEY (from_task_id, to_task_id, link_type)
);
` + stmtBreak + `
CREATE INDEX IF NOT EXISTS idx_task_links_to ON task_links(to_task_id, link_type);
` + stmtBreak + `
CREATE TABLE IF NOT EXISTS audit_log (
    id INTEGER PRIMARY KEY AUTOINCREMENT,
    timestamp TEXT NOT NULL,
    event_type TEXT NOT NULL,
    object_type TEXT NOT NULL,
    object_id TEXT NOT NULL,
    field_name TEXT NOT NULL DEFAULT '',
    old_value TEXT NOT NULL DEFAULT '',
    new_value TEXT NOT NULL DEFAULT '',
    actor TEXT
);
` + stmtBreak + `
CREATE INDEX IF NOT EXISTS idx_audit_object ON audit_log(object_type, object_id);
` + stmtBreak + `
CREATE INDEX IF NOT EXISTS idx_audit_timestamp ON audit_log(timestamp);
` + stmtBreak + `
CREATE INDEX IF NOT EXISTS idx_audit_actor ON audit_log(actor);
`

// auditTriggersSQL installs the triggers that make the audit log
// language-agnostic (§4.5, §9 design note): application code only has to
// set updated_by/created_by before a mutating statement, and a row change
// and its audit entry share the originating transaction automatically.
//
// Distinctness is implemented explicitly rather than relying on SQL
// "IS DISTINCT FROM" (not universally available across the bun/libsql
// targets this schema is meant to stay compatible with) so that
// NULL<->value transitions are still detected.
const auditTriggersSQL = `
CREATE TRIGGER IF NOT EXISTS trg_boards_insert AFTER INSERT ON boards
BEGIN
    INSERT INTO audit_log(timestamp, event_type, object_type, object_id, new_value, actor)
    VALUES (NEW.updated_at, 'CREATE', 'board', NEW.id, json_object('name', NEW.name), NEW.created_by);
END;
` + stmtBreak + `
CREATE TRIGGER IF NOT EXISTS trg_boards_update_name AFTER UPDATE ON boards
WHEN (OLD.name IS NULL AND NEW.name IS NOT NULL)
  OR (OLD.name IS NOT NULL AND NEW.name IS NULL)
  OR (OLD.name IS NOT NULL AND NEW.name IS NOT NULL AND OLD.name != NEW.name)
BEGIN
    INSERT INTO audit_log(timestamp, event_type, object_type, object_id, field_name, old_value, new_value, actor)
    VALUES (NEW.updated_at, 'UPDATE', 'board', NEW.id, 'name', OLD.name, NEW.name, NEW.updated_by);
END;
` + stmtBreak + `
CREATE TRIGGER IF NOT EXISTS trg_boards_delete AFTER DELETE ON boards
BEGIN
    INSERT INTO audit_log(timestamp, event_type, object_type, object_id, old_value, actor)
    VALUES (OLD.updated_at, 'DELETE', 'board', OLD.id, json_object('name', OLD.name), OLD.updated_by);
END;
` + stmtBreak + `
CREATE TRIGGER IF NOT EXISTS trg_columns_insert AFTER INSERT ON columns
BEGIN
    INSERT INTO audit_log(timestamp, event_type, object_type, object_id, new_value, actor)
    VALUES (strftime('%Y-%m-%dT%H:%M:%SZ', 'now'), 'CREATE', 'column', NEW.id, json_object('name', NEW.name), NEW.created_by);
END;
` + stmtBreak + `
CREATE TRIGGER IF NOT EXISTS trg_columns_update_name AFTER UPDATE ON columns
WHEN (OLD.name IS NULL AND NEW.name IS NOT NULL)
  OR (OLD.name IS NOT NULL AND NEW.name IS NULL)
  OR (OLD.name IS NOT NULL AND NEW.name IS NOT NULL AND OLD.name != NEW.name)
BEGIN
    INSERT INTO audit_log(timestamp, event_type, object_type, object_id, field_name, old_value, new_value, actor)
    VALUES (strftime('%Y-%m-%dT%H:%M:%SZ', 'now'), 'UPDATE', 'column', NEW.id, 'name', OLD.name, NEW.name, NEW.updated_by);
END;
` + stmtBreak + `
CREATE TRIGGER IF NOT EXISTS trg_columns_update_position AFTER UPDATE ON columns
WHEN OLD.position IS NOT NEW.position
BEGIN
    INSERT INTO audit_log(timestamp, event_type, object_type, object_id, field_name, old_value, new_value, actor)
    VALUES (strftime('%Y-%m-%dT%H:%M:%SZ', 'now'), 'UPDATE', 'column', NEW.id, 'position', CAST(OLD.position AS TEXT), CAST(NEW.position AS TEXT), NEW.updated_by);
END;
` + stmtBreak + `
CREATE TRIGGER IF NOT EXISTS trg_columns_update_wip_limit AFTER UPDATE ON columns
WHEN OLD.wip_limit IS NOT NEW.wip_limit
BEGIN
    INSERT INTO audit_log(timestamp, event_type, object_type, object_id, field_name, old_value, new_value, actor)
    VALUES (strftime('%Y-%m-%dT%H:%M:%SZ', 'now'), 'UPDATE', 'column', NEW.id, 'wipLimit', CAST(OLD.wip_limit AS TEXT), CAST(NEW.wip_limit AS TEXT), NEW.updated_by);
END;
` + stmtBreak + `
CREATE TRIGGER IF NOT EXISTS trg_columns_delete AFTER DELETE ON columns
BEGIN
    INSERT INTO audit_log(timestamp, event_type, object_type, object_id, old_value, actor)
    VALUES (strftime('%Y-%m-%dT%H:%M:%SZ', 'now'), 'DELETE', 'column', OLD.id, json_object('name', OLD.name), OLD.updated_by);
END;
` + stmtBreak + `
CREATE TRIGGER IF NOT EXISTS trg_tasks_insert AFTER INSERT ON tasks
BEGIN
    INSERT INTO audit_log(timestamp, event_type, object_type, object_id, new_value, actor)
    VALUES (NEW.created_at, 'CREATE', 'task', NEW.id, json_object('title', NEW.title, 'columnId', NEW.column_id), NEW.created_by);
END;
` + stmtBreak + `
CREATE TRIGGER IF NOT EXISTS trg_tasks_update_title AFTER UPDATE ON tasks
WHEN (OLD.title IS NULL AND NEW.title IS NOT NULL)
  OR (OLD.title IS NOT NULL AND NEW.title IS NULL)
  OR (OLD.title IS NOT NULL AND NEW.title IS NOT NULL AND OLD.title != NEW.title)
BEGIN
    INSERT INTO audit_log(timestamp, event_type, object_type, object_id, field_name, old_value, new_value, actor)
    VALUES (NEW.updated_at, 'UPDATE', 'task', NEW.id, 'title', OLD.title, NEW.title, NEW.updated_by);
END;
` + stmtBreak + `
CREATE TRIGGER IF NOT EXISTS trg_tasks_update_column AFTER UPDATE ON tasks
WHEN OLD.column_id IS NOT NEW.column_id
BEGIN
    INSERT INTO audit_log(timestamp, event_type, object_type, object_id, field_name, old_value, new_value, actor)
    VALUES (NEW.updated_at, 'UPDATE', 'task', NEW.id, 'columnId', OLD.column_id, NEW.column_id, NEW.updated_by);
END;
` + stmtBreak + `
CREATE TRIGGER IF NOT EXISTS trg_tasks_update_assigned_to AFTER UPDATE ON tasks
WHEN (OLD.assigned_to IS NULL AND NEW.assigned_to IS NOT NULL)
  OR (OLD.assigned_to IS NOT NULL AND NEW.assigned_to IS NULL)
  OR (OLD.assigned_to IS NOT NULL AND NEW.assigned_to IS NOT NULL AND OLD.assigned_to != NEW.assigned_to)
BEGIN
    INSERT INTO audit_log(timestamp, event_type, object_type, object_id, field_name, old_value, new_value, actor)
    VALUES (NEW.updated_at, 'UPDATE', 'task', NEW.id, 'assignedTo', COALESCE(OLD.assigned_to, ''), COALESCE(NEW.assigned_to, ''), NEW.updated_by);
END;
` + stmtBreak + `
CREATE TRIGGER IF NOT EXISTS trg_tasks_update_description AFTER UPDATE ON tasks
WHEN (OLD.description IS NULL AND NEW.description IS NOT NULL)
  OR (OLD.description IS NOT NULL AND NEW.description IS NULL)
  OR (OLD.description IS NOT NULL AND NEW.description IS NOT NULL AND OLD.description != NEW.description)
BEGIN
    INSERT INTO audit_log(timestamp, event_type, object_type, object_id, field_name, old_value, new_value, actor)
    VALUES (NEW.updated_at, 'UPDATE', 'task', NEW.id, 'description', OLD.description, NEW.description, NEW.updated_by);
END;
` + stmtBreak + `
CREATE TRIGGER IF NOT EXISTS trg_tasks_update_archived AFTER UPDATE ON tasks
WHEN OLD.archived IS NOT NEW.archived
BEGIN
    INSERT INTO audit_log(timestamp, event_type, object_type, object_id, field_name, old_value, new_value, actor)
    VALUES (NEW.updated_at, 'UPDATE', 'task', NEW.id, 'archived', CAST(OLD.archived AS TEXT), CAST(NEW.archived AS TEXT), NEW.updated_by);
END;
` + stmtBreak + `
CREATE TRIGGER IF NOT EXISTS trg_tasks_update_labels AFTER UPDATE ON tasks
WHEN (OLD.labels IS NULL AND NEW.labels IS NOT NULL)
  OR (OLD.labels IS NOT NULL AND NEW.labels IS NULL)
  OR (OLD.labels IS NOT NULL AND NEW.labels IS NOT NULL AND OLD.labels != NEW.labels)
BEGIN
    INSERT INTO audit_log(timestamp, event_type, object_type, object_id, field_name, old_value, new_value, actor)
    VALUES (NEW.updated_at, 'UPDATE', 'task', NEW.id, 'labels', OLD.labels, NEW.labels, NEW.updated_by);
END;
` + stmtBreak + `
CREATE TRIGGER IF NOT EXISTS trg_tasks_update_position AFTER UPDATE ON tasks
WHEN OLD.position IS NOT NEW.position
BEGIN
    INSERT INTO audit_log(timestamp, event_type, object_type, object_id, field_name, old_value, new_value, actor)
    VALUES (NEW.updated_at, 'UPDATE', 'task', NEW.id, 'position', CAST(OLD.position AS TEXT), CAST(NEW.position AS TEXT), NEW.updated_by);
END;
` + stmtBreak + `
CREATE TRIGGER IF NOT EXISTS trg_tasks_delete AFTER DELETE ON tasks
BEGIN
    INSERT INTO audit_log(timestamp, event_type, object_type, object_id, old_value, actor)
    VALUES (strftime('%Y-%m-%dT%H:%M:%SZ', 'now'), 'DELETE', 'task', OLD.id, json_object('title', OLD.title, 'columnId', OLD.column_id), OLD.updated_by);
END;
`
