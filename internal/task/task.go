// Package task implements the task service (§4.3, component C3): add,
// get/resolve, list, update, move, archive/restore, delete, assign, and
// the dependency-editing delegates, plus the ID resolution algorithm.
//
// Grounded on the teacher's crumbsTable (internal/sqlite/crumbs_table.go):
// the same Get/Set/Fetch/hydrate-row shape and explicit begin/defer-
// rollback/commit transactions, generalized to kaban's richer task model
// (position/WIP/archival/short-id invariants the teacher's crumbs do not
// have).
package task

import (
	"context"
	"database/sql"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/oklog/ulid/v2"

	"github.com/kaban-dev/kaban/internal/dependency"
	"github.com/kaban-dev/kaban/internal/store"
	"github.com/kaban-dev/kaban/internal/validate"
	"github.com/kaban-dev/kaban/pkg/kabanerr"
	"github.com/kaban-dev/kaban/pkg/types"
)

// BoardLookup is the narrow view of the board service the task service
// needs: resolving a column and finding the board. Expressed as an
// interface so task does not import board directly and so tests can
// supply a stub (§9: "ids as foreign keys; resolve lazily").
type BoardLookup interface {
	GetBoard(ctx context.Context) (*types.Board, error)
	GetColumn(ctx context.Context, idOrName string) (*types.Column, error)
}

type Service struct {
	store *store.Store
	board BoardLookup
	dep   *dependency.Service
}

func New(s *store.Store, board BoardLookup, dep *dependency.Service) *Service {
	return &Service{store: s, board: board, dep: dep}
}

const defaultColumnID = "todo"

// inProgressColumnID is the one column whose entry stamps startedAt,
// exactly as spec'd ("Sets startedAt on first entry to in_progress") —
// not generalized to "any non-backlog/non-terminal column".
const inProgressColumnID = "in_progress"

// AddTask persists a new task with a fresh global id, an atomically
// allocated board_task_id, and position = max+1 in its column (§4.3).
// Declared dependencies are added after the task row is committed, each
// through the dependency service in its own transaction. If one of them
// fails (unknown id, cycle), that error is returned and the task stays
// persisted with the dependencies added before the failure; the
// operation is not rolled back as a whole.
func (s *Service) AddTask(ctx context.Context, in types.AddTaskInput) (*types.Task, error) {
	if err := validate.Title(in.Title); err != nil {
		return nil, err
	}
	if err := validate.Description(in.Description); err != nil {
		return nil, err
	}
	if err := validate.Labels(in.Labels); err != nil {
		return nil, err
	}

	columnID := in.ColumnID
	if columnID == "" {
		columnID = defaultColumnID
	}

	board, err := s.board.GetBoard(ctx)
	if err != nil {
		return nil, err
	}
	col, err := s.board.GetColumn(ctx, columnID)
	if err != nil {
		return nil, err
	}

	id := ulid.Make().String()
	now := time.Now().UTC()

	var result types.Task
	err = s.store.WithTx(ctx, func(tx *sql.Tx) error {
		// Allocate from boards.max_board_task_id rather than MAX(board_task_id)
		// over live rows: the latter reissues a deleted task's highest id the
		// moment it's removed, violating "never reused" (§3, §8 property 3).
		var boardTaskID int
		err := tx.QueryRowContext(ctx,
			`UPDATE boards SET max_board_task_id = max_board_task_id + 1 WHERE id = ? RETURNING max_board_task_id`,
			board.ID).Scan(&boardTaskID)
		if err != nil {
			return fmt.Errorf("task: allocate board_task_id: %w", err)
		}

		var position int
		err = tx.QueryRowContext(ctx,
			`SELECT COALESCE(MAX(position), -1) + 1 FROM tasks WHERE column_id = ?`, col.ID).
			Scan(&position)
		if err != nil {
			return fmt.Errorf("task: allocate position: %w", err)
		}

		nowStr := store.FormatTime(now)
		_, err = tx.ExecContext(ctx, `
			INSERT INTO tasks(id, board_id, board_task_id, column_id, title, description, position,
				created_by, assigned_to, parent_id, labels, files, blocked_reason, version,
				due_date, started_at, completed_at, archived, archived_at, updated_by, created_at, updated_at)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, NULL, NULL, ?, ?, '', 1, ?, NULL, NULL, 0, NULL, ?, ?, ?)`,
			id, board.ID, boardTaskID, col.ID, in.Title, in.Description, position,
			in.CreatedBy, store.MarshalStrings(in.Labels), store.MarshalStrings(in.Files),
			store.FormatNullableTime(in.DueDate), in.CreatedBy, nowStr, nowStr)
		if err != nil {
			return fmt.Errorf("task: insert: %w", err)
		}

		result = types.Task{
			ID: id, BoardID: board.ID, BoardTaskID: boardTaskID, ColumnID: col.ID,
			Title: in.Title, Description: in.Description, Position: position,
			CreatedBy: in.CreatedBy, Labels: in.Labels, Files: in.Files,
			Version: 1, DueDate: in.DueDate, CreatedAt: now, UpdatedAt: now,
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	for _, otherID := range in.DependsOn {
		resolved, err := s.ResolveTask(ctx, otherID)
		if err != nil {
			return nil, err
		}
		if err := s.dep.AddDependency(ctx, result.ID, resolved.ID); err != nil {
			return nil, err
		}
	}

	return &result, nil
}

// GetTask resolves id (full global id, short id, or ≥4-char prefix) and
// returns the task, or NOT_FOUND/AMBIGUOUS_ID. Unlike ResolveTask, it
// populates DependsOn from task_links (§9 Open Question: DependsOn stays
// a read-through view rather than a stored column, joined only on a
// single-task fetch so ListTasks doesn't pay an N+1 cost on every row).
func (s *Service) GetTask(ctx context.Context, id string) (*types.Task, error) {
	t, err := s.ResolveTask(ctx, id)
	if err != nil {
		return nil, err
	}
	links, err := s.dep.GetLinks(ctx, t.ID)
	if err != nil {
		return nil, err
	}
	t.DependsOn = links.BlockedBy
	return t, nil
}

// ResolveTask implements the ID resolution algorithm (§4.3): strip a
// leading '#'; all-digits => board_task_id lookup; 26-char base32 => full
// global id; >=4-char base32 => unambiguous prefix search; else NOT_FOUND.
func (s *Service) ResolveTask(ctx context.Context, raw string) (*types.Task, error) {
	id := strings.TrimPrefix(raw, "#")
	if id == "" {
		return nil, kabanerr.New(kabanerr.NotFound, "empty task id")
	}

	if isAllDigits(id) {
		return s.getByBoardTaskID(ctx, id)
	}

	if len(id) == 26 && isBase32(id) {
		return s.getByGlobalID(ctx, strings.ToUpper(id))
	}

	if len(id) >= 4 && isBase32(id) {
		return s.getByPrefix(ctx, strings.ToUpper(id))
	}

	return nil, kabanerr.Newf(kabanerr.NotFound, "no task %q", raw)
}

func isAllDigits(s string) bool {
	for _, r := range s {
		if r < '0' || r > '9' {
			return false
		}
	}
	return true
}

const base32Alphabet = "0123456789ABCDEFGHJKMNPQRSTVWXYZabcdefghjkmnpqrstvwxyz"

func isBase32(s string) bool {
	for _, r := range s {
		if !strings.ContainsRune(base32Alphabet, r) {
			return false
		}
	}
	return true
}

func (s *Service) getByBoardTaskID(ctx context.Context, digits string) (*types.Task, error) {
	board, err := s.board.GetBoard(ctx)
	if err != nil {
		return nil, err
	}
	n, err := strconv.Atoi(digits)
	if err != nil {
		return nil, kabanerr.Newf(kabanerr.NotFound, "no task #%s", digits)
	}
	row := s.store.DB().QueryRowContext(ctx,
		`SELECT `+store.TaskColumns+` FROM tasks WHERE board_id = ? AND board_task_id = ?`,
		board.ID, n)
	t, err := store.ScanTask(row)
	if err == sql.ErrNoRows {
		return nil, kabanerr.Newf(kabanerr.NotFound, "no task #%s", digits)
	}
	if err != nil {
		return nil, fmt.Errorf("task: get by board_task_id: %w", err)
	}
	return &t, nil
}

func (s *Service) getByGlobalID(ctx context.Context, id string) (*types.Task, error) {
	row := s.store.DB().QueryRowContext(ctx,
		`SELECT `+store.TaskColumns+` FROM tasks WHERE id = ?`, id)
	t, err := store.ScanTask(row)
	if err == sql.ErrNoRows {
		return nil, kabanerr.Newf(kabanerr.NotFound, "no task %s", id)
	}
	if err != nil {
		return nil, fmt.Errorf("task: get by id: %w", err)
	}
	return &t, nil
}

func (s *Service) getByPrefix(ctx context.Context, prefix string) (*types.Task, error) {
	rows, err := s.store.DB().QueryContext(ctx,
		`SELECT `+store.TaskColumns+` FROM tasks WHERE id LIKE ? || '%'`, prefix)
	if err != nil {
		return nil, fmt.Errorf("task: prefix search: %w", err)
	}
	matches, err := store.ScanTasks(rows)
	if err != nil {
		return nil, err
	}
	switch len(matches) {
	case 0:
		return nil, kabanerr.Newf(kabanerr.NotFound, "no task matching prefix %s", prefix)
	case 1:
		return &matches[0], nil
	default:
		return nil, kabanerr.Newf(kabanerr.AmbiguousID, "prefix %s matches %d tasks", prefix, len(matches))
	}
}

// ListTasks returns tasks matching filter, ordered by (columnId, position),
// excluding archived tasks unless IncludeArchived is set.
func (s *Service) ListTasks(ctx context.Context, filter types.TaskFilter) ([]types.Task, error) {
	query := `SELECT ` + store.TaskColumns + ` FROM tasks WHERE 1=1`
	var args []any

	if filter.ColumnID != "" {
		query += ` AND column_id = ?`
		args = append(args, filter.ColumnID)
	}
	if filter.Agent != "" {
		query += ` AND assigned_to = ?`
		args = append(args, filter.Agent)
	}
	if !filter.IncludeArchived {
		query += ` AND archived = 0`
	}
	query += ` ORDER BY column_id, position`

	rows, err := s.store.DB().QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("task: list: %w", err)
	}
	tasks, err := store.ScanTasks(rows)
	if err != nil {
		return nil, err
	}

	if filter.Blocked != nil {
		filtered := make([]types.Task, 0, len(tasks))
		for _, t := range tasks {
			blocked, err := s.dep.IsBlocked(ctx, t.ID)
			if err != nil {
				return nil, err
			}
			if blocked == *filter.Blocked {
				filtered = append(filtered, t)
			}
		}
		tasks = filtered
	}

	return tasks, nil
}

// ListReady returns non-archived, non-blocked tasks sitting in a
// non-terminal column — a supplemented query (SPEC_FULL "ListReady")
// agent front-ends use to claim the next piece of work without
// reimplementing blocker logic.
func (s *Service) ListReady(ctx context.Context, filter types.TaskFilter) ([]types.Task, error) {
	notBlocked := false
	filter.Blocked = &notBlocked
	tasks, err := s.ListTasks(ctx, filter)
	if err != nil {
		return nil, err
	}

	cols, err := s.columnIsTerminalMap(ctx)
	if err != nil {
		return nil, err
	}

	ready := make([]types.Task, 0, len(tasks))
	for _, t := range tasks {
		if !cols[t.ColumnID] {
			ready = append(ready, t)
		}
	}
	return ready, nil
}

func (s *Service) columnIsTerminalMap(ctx context.Context) (map[string]bool, error) {
	rows, err := s.store.DB().QueryContext(ctx, `SELECT id, is_terminal FROM columns`)
	if err != nil {
		return nil, fmt.Errorf("task: load columns: %w", err)
	}
	defer rows.Close()
	m := map[string]bool{}
	for rows.Next() {
		var id string
		var isTerminal int
		if err := rows.Scan(&id, &isTerminal); err != nil {
			return nil, err
		}
		m[id] = isTerminal != 0
	}
	return m, rows.Err()
}

// UpdateTask writes only the fields set in in, bumps version, and leaves
// board_task_id untouched. Per-field UPDATE audits are produced by the
// store's triggers, not by this function.
func (s *Service) UpdateTask(ctx context.Context, id string, in types.UpdateTaskInput) (*types.Task, error) {
	existing, err := s.ResolveTask(ctx, id)
	if err != nil {
		return nil, err
	}

	if in.Title != nil {
		if err := validate.Title(*in.Title); err != nil {
			return nil, err
		}
	}
	if in.Description != nil {
		if err := validate.Description(*in.Description); err != nil {
			return nil, err
		}
	}
	if in.Labels != nil {
		if err := validate.Labels(*in.Labels); err != nil {
			return nil, err
		}
	}
	if in.AssignedTo != nil && *in.AssignedTo != "" {
		if err := validate.AgentName(*in.AssignedTo); err != nil {
			return nil, err
		}
	}

	set := []string{"version = version + 1", "updated_by = ?", "updated_at = ?"}
	args := []any{in.UpdatedBy, store.FormatTime(time.Now())}

	if in.Title != nil {
		set = append(set, "title = ?")
		args = append(args, *in.Title)
	}
	if in.Description != nil {
		set = append(set, "description = ?")
		args = append(args, *in.Description)
	}
	if in.AssignedTo != nil {
		set = append(set, "assigned_to = ?")
		args = append(args, nullIfEmpty(*in.AssignedTo))
	}
	if in.Labels != nil {
		set = append(set, "labels = ?")
		args = append(args, store.MarshalStrings(*in.Labels))
	}
	if in.Files != nil {
		set = append(set, "files = ?")
		args = append(args, store.MarshalStrings(*in.Files))
	}
	if in.BlockedReason != nil {
		set = append(set, "blocked_reason = ?")
		args = append(args, *in.BlockedReason)
	}
	if in.DueDate != nil {
		set = append(set, "due_date = ?")
		args = append(args, store.FormatNullableTime(*in.DueDate))
	}
	if in.ParentID != nil {
		set = append(set, "parent_id = ?")
		args = append(args, nullIfEmpty(*in.ParentID))
	}

	args = append(args, existing.ID, existing.Version)

	err = s.store.WithTx(ctx, func(tx *sql.Tx) error {
		res, err := tx.ExecContext(ctx,
			`UPDATE tasks SET `+strings.Join(set, ", ")+` WHERE id = ? AND version = ?`, args...)
		if err != nil {
			return fmt.Errorf("task: update: %w", err)
		}
		n, _ := res.RowsAffected()
		if n == 0 {
			return kabanerr.New(kabanerr.Conflict, "task was modified concurrently; refetch and retry")
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	return s.getByGlobalID(ctx, existing.ID)
}

func nullIfEmpty(s string) any {
	if s == "" {
		return nil
	}
	return s
}

// MoveTask moves a task to targetColumnID, enforcing the WIP limit unless
// force is set, stamping startedAt on first entry into "in_progress", and
// completedAt on first entry into a terminal column. Refuses with BLOCKED
// if unresolved blockers exist, unless the destination is backlog or
// terminal (§4.3, §4.4 "Move integration").
func (s *Service) MoveTask(ctx context.Context, id, targetColumnID string, force bool) (*types.Task, error) {
	existing, err := s.ResolveTask(ctx, id)
	if err != nil {
		return nil, err
	}
	target, err := s.board.GetColumn(ctx, targetColumnID)
	if err != nil {
		return nil, err
	}

	now := time.Now().UTC()
	err = s.store.WithTx(ctx, func(tx *sql.Tx) error {
		if !isExemptColumn(target) {
			blockers, err := dependency.GetBlockersTx(ctx, tx, existing.ID)
			if err != nil {
				return err
			}
			if len(blockers) > 0 {
				ids := make([]string, len(blockers))
				for i, b := range blockers {
					ids[i] = fmt.Sprintf("#%d", b.BoardTaskID)
				}
				return kabanerr.New(kabanerr.Blocked, "task has unresolved blockers").
					WithPayload(kabanerr.BlockedPayload{Blockers: ids})
			}
		}

		if !force && target.WipLimit > 0 {
			var count int
			err := tx.QueryRowContext(ctx,
				`SELECT COUNT(*) FROM tasks WHERE column_id = ? AND archived = 0`, target.ID).Scan(&count)
			if err != nil {
				return fmt.Errorf("task: wip check: %w", err)
			}
			if count >= target.WipLimit {
				return kabanerr.Newf(kabanerr.Validation, "Column '%s' at WIP limit (%d/%d)", target.Name, count, target.WipLimit).
					WithPayload(kabanerr.WIPPayload{ColumnID: target.ID, ColumnName: target.Name, Limit: target.WipLimit, Current: count})
			}
		}

		var position int
		err := tx.QueryRowContext(ctx,
			`SELECT COALESCE(MAX(position), -1) + 1 FROM tasks WHERE column_id = ?`, target.ID).
			Scan(&position)
		if err != nil {
			return fmt.Errorf("task: allocate position: %w", err)
		}

		set := []string{"column_id = ?", "position = ?", "version = version + 1", "updated_at = ?"}
		args := []any{target.ID, position, store.FormatTime(now)}

		if target.ID == inProgressColumnID {
			if existing.StartedAt == nil {
				set = append(set, "started_at = ?")
				args = append(args, store.FormatTime(now))
			}
		}
		if target.IsTerminal {
			if existing.CompletedAt == nil {
				set = append(set, "completed_at = ?")
				args = append(args, store.FormatTime(now))
			}
		}

		args = append(args, existing.ID)
		_, err = tx.ExecContext(ctx, `UPDATE tasks SET `+strings.Join(set, ", ")+` WHERE id = ?`, args...)
		if err != nil {
			return fmt.Errorf("task: move: %w", err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	return s.getByGlobalID(ctx, existing.ID)
}

func isExemptColumn(col *types.Column) bool {
	return col.ID == "backlog" || col.IsTerminal
}

// ArchiveTask soft-deletes a task: sets archived and archivedAt.
func (s *Service) ArchiveTask(ctx context.Context, id string) (*types.Task, error) {
	return s.setArchived(ctx, id, true)
}

// RestoreTask reverses ArchiveTask.
func (s *Service) RestoreTask(ctx context.Context, id string) (*types.Task, error) {
	return s.setArchived(ctx, id, false)
}

func (s *Service) setArchived(ctx context.Context, id string, archived bool) (*types.Task, error) {
	existing, err := s.ResolveTask(ctx, id)
	if err != nil {
		return nil, err
	}
	now := store.FormatTime(time.Now())
	err = s.store.WithTx(ctx, func(tx *sql.Tx) error {
		var archivedAt any
		if archived {
			archivedAt = now
		}
		_, err := tx.ExecContext(ctx,
			`UPDATE tasks SET archived = ?, archived_at = ?, version = version + 1, updated_at = ? WHERE id = ?`,
			boolToInt(archived), archivedAt, now, existing.ID)
		if err != nil {
			return fmt.Errorf("task: set archived: %w", err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return s.getByGlobalID(ctx, existing.ID)
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

// DeleteTask hard-deletes a task; task_links cascade via foreign keys.
func (s *Service) DeleteTask(ctx context.Context, id string) error {
	existing, err := s.ResolveTask(ctx, id)
	if err != nil {
		return err
	}
	return s.store.WithTx(ctx, func(tx *sql.Tx) error {
		res, err := tx.ExecContext(ctx, `DELETE FROM tasks WHERE id = ?`, existing.ID)
		if err != nil {
			return fmt.Errorf("task: delete: %w", err)
		}
		n, _ := res.RowsAffected()
		if n == 0 {
			return kabanerr.Newf(kabanerr.NotFound, "no task %s", existing.ID)
		}
		return nil
	})
}

// Assign sets a task's assignee, validating the agent name.
func (s *Service) Assign(ctx context.Context, id, agent, updatedBy string) (*types.Task, error) {
	if err := validate.AgentName(agent); err != nil {
		return nil, err
	}
	return s.UpdateTask(ctx, id, types.UpdateTaskInput{AssignedTo: &agent, UpdatedBy: updatedBy})
}

// Unassign clears a task's assignee.
func (s *Service) Unassign(ctx context.Context, id, updatedBy string) (*types.Task, error) {
	empty := ""
	return s.UpdateTask(ctx, id, types.UpdateTaskInput{AssignedTo: &empty, UpdatedBy: updatedBy})
}

// AddDependency resolves both ids and delegates to the dependency service.
func (s *Service) AddDependency(ctx context.Context, taskID, otherID string) error {
	t, err := s.ResolveTask(ctx, taskID)
	if err != nil {
		return err
	}
	o, err := s.ResolveTask(ctx, otherID)
	if err != nil {
		return err
	}
	return s.dep.AddDependency(ctx, t.ID, o.ID)
}

// RemoveDependency resolves both ids and delegates to the dependency service.
func (s *Service) RemoveDependency(ctx context.Context, taskID, otherID string) error {
	t, err := s.ResolveTask(ctx, taskID)
	if err != nil {
		return err
	}
	o, err := s.ResolveTask(ctx, otherID)
	if err != nil {
		return err
	}
	return s.dep.RemoveDependency(ctx, t.ID, o.ID)
}
