// This file is the Store's typed query surface (§4.1: "a typed query API
// used by the other services") — the row hydration every service that
// reads a task shares, so the column list and NULL handling live in one
// place instead of once per caller.
package store

import (
	"database/sql"
	"encoding/json"
	"time"

	"github.com/kaban-dev/kaban/pkg/types"
)

// TaskColumns is the column list, in order, every task SELECT in the
// codebase uses so ScanTask's positional Scan stays correct everywhere.
const TaskColumns = `id, board_id, board_task_id, column_id, title, description,
	position, created_by, assigned_to, parent_id, labels, files,
	blocked_reason, version, due_date, started_at, completed_at,
	archived, archived_at, updated_by, created_at, updated_at`

// TaskColumnsAliased is TaskColumns with each column prefixed by alias,
// for queries that join tasks against another table.
func TaskColumnsAliased(alias string) string {
	cols := []string{"id", "board_id", "board_task_id", "column_id", "title", "description",
		"position", "created_by", "assigned_to", "parent_id", "labels", "files",
		"blocked_reason", "version", "due_date", "started_at", "completed_at",
		"archived", "archived_at", "updated_by", "created_at", "updated_at"}
	out := ""
	for i, c := range cols {
		if i > 0 {
			out += ", "
		}
		out += alias + "." + c
	}
	return out
}

type rowScanner interface {
	Scan(dest ...any) error
}

// ScanTask hydrates one tasks row produced by a SELECT TaskColumns query.
func ScanTask(row rowScanner) (types.Task, error) {
	var t types.Task
	var createdBy, assignedTo, parentID, updatedBy sql.NullString
	var dueDate, startedAt, completedAt, archivedAt sql.NullString
	var labels, files string
	var archived int
	var createdAt, updatedAt string

	if err := row.Scan(&t.ID, &t.BoardID, &t.BoardTaskID, &t.ColumnID, &t.Title, &t.Description,
		&t.Position, &createdBy, &assignedTo, &parentID, &labels, &files,
		&t.BlockedReason, &t.Version, &dueDate, &startedAt, &completedAt,
		&archived, &archivedAt, &updatedBy, &createdAt, &updatedAt); err != nil {
		return types.Task{}, err
	}

	t.CreatedBy = createdBy.String
	t.AssignedTo = assignedTo.String
	t.ParentID = parentID.String
	t.UpdatedBy = updatedBy.String
	t.Archived = archived != 0

	_ = json.Unmarshal([]byte(labels), &t.Labels)
	_ = json.Unmarshal([]byte(files), &t.Files)

	t.DueDate = parseNullableTime(dueDate)
	t.StartedAt = parseNullableTime(startedAt)
	t.CompletedAt = parseNullableTime(completedAt)
	t.ArchivedAt = parseNullableTime(archivedAt)
	t.CreatedAt, _ = time.Parse(time.RFC3339, createdAt)
	t.UpdatedAt, _ = time.Parse(time.RFC3339, updatedAt)

	return t, nil
}

// ScanTasks hydrates every row of a multi-row task query, closing rows
// when done.
func ScanTasks(rows *sql.Rows) ([]types.Task, error) {
	defer rows.Close()
	var tasks []types.Task
	for rows.Next() {
		t, err := ScanTask(rows)
		if err != nil {
			return nil, err
		}
		tasks = append(tasks, t)
	}
	return tasks, rows.Err()
}

func parseNullableTime(s sql.NullString) *time.Time {
	if !s.Valid || s.String == "" {
		return nil
	}
	t, err := time.Parse(time.RFC3339, s.String)
	if err != nil {
		return nil
	}
	return &t
}

// FormatTime renders t the way every timestamp column is stored: UTC
// RFC3339. Used by every service that writes a task/column/board row.
func FormatTime(t time.Time) string {
	return t.UTC().Format(time.RFC3339)
}

// FormatNullableTime renders *t if non-nil, else a NULL parameter.
func FormatNullableTime(t *time.Time) any {
	if t == nil {
		return nil
	}
	return FormatTime(*t)
}

// MarshalStrings JSON-encodes a string slice for a labels/files column,
// normalizing nil to "[]" so the column's NOT NULL constraint holds.
func MarshalStrings(ss []string) string {
	if ss == nil {
		ss = []string{}
	}
	b, _ := json.Marshal(ss)
	return string(b)
}
