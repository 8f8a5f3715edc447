// Package dependency implements the dependency service (§4.4, component
// C4): the task_links graph, mirror maintenance for blocks/blocked_by,
// symmetric related links, and cycle detection on the blocked_by
// sub-graph.
//
// Grounded on the teacher's linksTable (internal/sqlite/links_table.go):
// the same uniqueness-on-triple, explicit-transaction insert/delete shape,
// generalized from a single link type to kaban's three (blocks,
// blocked_by, related) with mirror maintenance the teacher's table does
// not need.
package dependency

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/kaban-dev/kaban/internal/store"
	"github.com/kaban-dev/kaban/pkg/kabanerr"
	"github.com/kaban-dev/kaban/pkg/types"
)

type Service struct {
	store *store.Store
}

func New(s *store.Store) *Service {
	return &Service{store: s}
}

// AddDependency records blocked_by(taskID, otherID) — taskID is blocked by
// otherID — and its mirror blocks(otherID, taskID), after confirming the
// edge introduces no cycle (§4.4). taskID == otherID is an immediate
// CYCLE.
func (s *Service) AddDependency(ctx context.Context, taskID, otherID string) error {
	if taskID == otherID {
		return kabanerr.New(kabanerr.Cycle, "a task cannot depend on itself").
			WithPayload(kabanerr.CyclePayload{Path: []string{taskID, taskID}})
	}

	return s.store.WithTx(ctx, func(tx *sql.Tx) error {
		if err := ensureTaskExists(ctx, tx, taskID); err != nil {
			return err
		}
		if err := ensureTaskExists(ctx, tx, otherID); err != nil {
			return err
		}

		path, err := findPath(ctx, tx, otherID, taskID)
		if err != nil {
			return err
		}
		if path != nil {
			full := append([]string{taskID}, path...)
			return kabanerr.New(kabanerr.Cycle, "adding this dependency would create a cycle").
				WithPayload(kabanerr.CyclePayload{Path: full})
		}

		now := time.Now().UTC().Format(time.RFC3339)
		if err := insertLink(ctx, tx, taskID, otherID, types.LinkBlockedBy, now); err != nil {
			return err
		}
		if err := insertLink(ctx, tx, otherID, taskID, types.LinkBlocks, now); err != nil {
			return err
		}
		return nil
	})
}

// RemoveDependency deletes blocked_by(taskID, otherID) and its mirror.
func (s *Service) RemoveDependency(ctx context.Context, taskID, otherID string) error {
	return s.store.WithTx(ctx, func(tx *sql.Tx) error {
		res, err := tx.ExecContext(ctx,
			`DELETE FROM task_links WHERE from_task_id = ? AND to_task_id = ? AND link_type = ?`,
			taskID, otherID, types.LinkBlockedBy)
		if err != nil {
			return fmt.Errorf("dependency: delete blocked_by: %w", err)
		}
		n, _ := res.RowsAffected()
		if n == 0 {
			return kabanerr.New(kabanerr.NotFound, "no such dependency")
		}
		_, err = tx.ExecContext(ctx,
			`DELETE FROM task_links WHERE from_task_id = ? AND to_task_id = ? AND link_type = ?`,
			otherID, taskID, types.LinkBlocks)
		if err != nil {
			return fmt.Errorf("dependency: delete blocks mirror: %w", err)
		}
		return nil
	})
}

// AddRelated records a symmetric related(A,B) link, stored both directions
// (§3, §4.4).
func (s *Service) AddRelated(ctx context.Context, taskID, otherID string) error {
	if taskID == otherID {
		return kabanerr.New(kabanerr.Validation, "a task cannot relate to itself")
	}
	return s.store.WithTx(ctx, func(tx *sql.Tx) error {
		if err := ensureTaskExists(ctx, tx, taskID); err != nil {
			return err
		}
		if err := ensureTaskExists(ctx, tx, otherID); err != nil {
			return err
		}
		now := time.Now().UTC().Format(time.RFC3339)
		if err := insertLink(ctx, tx, taskID, otherID, types.LinkRelated, now); err != nil {
			return err
		}
		return insertLink(ctx, tx, otherID, taskID, types.LinkRelated, now)
	})
}

func insertLink(ctx context.Context, tx *sql.Tx, from, to, linkType, createdAt string) error {
	_, err := tx.ExecContext(ctx,
		`INSERT INTO task_links(from_task_id, to_task_id, link_type, created_at) VALUES (?, ?, ?, ?)
		 ON CONFLICT(from_task_id, to_task_id, link_type) DO NOTHING`,
		from, to, linkType, createdAt)
	if err != nil {
		return fmt.Errorf("dependency: insert link: %w", err)
	}
	return nil
}

func ensureTaskExists(ctx context.Context, tx *sql.Tx, taskID string) error {
	var id string
	err := tx.QueryRowContext(ctx, `SELECT id FROM tasks WHERE id = ?`, taskID).Scan(&id)
	if err == sql.ErrNoRows {
		return kabanerr.Newf(kabanerr.NotFound, "no task %q", taskID)
	}
	if err != nil {
		return fmt.Errorf("dependency: check task %s: %w", taskID, err)
	}
	return nil
}

// findPath performs a depth-first search over blocked_by edges starting
// at start, looking for target. It returns the discovered path
// (start, ..., target) or nil if target is unreachable. The traversal
// reads the graph fresh inside the caller's transaction — no caching
// (§4.4: "no racing writer can sneak a second edge past the check").
func findPath(ctx context.Context, tx *sql.Tx, start, target string) ([]string, error) {
	visited := map[string]bool{}
	var path []string

	var dfs func(node string) (bool, error)
	dfs = func(node string) (bool, error) {
		if node == target {
			path = append(path, node)
			return true, nil
		}
		if visited[node] {
			return false, nil
		}
		visited[node] = true

		rows, err := tx.QueryContext(ctx,
			`SELECT to_task_id FROM task_links WHERE from_task_id = ? AND link_type = ?`,
			node, types.LinkBlockedBy)
		if err != nil {
			return false, fmt.Errorf("dependency: traverse blocked_by: %w", err)
		}
		var next []string
		for rows.Next() {
			var n string
			if err := rows.Scan(&n); err != nil {
				rows.Close()
				return false, err
			}
			next = append(next, n)
		}
		if err := rows.Err(); err != nil {
			rows.Close()
			return false, err
		}
		rows.Close()

		for _, n := range next {
			found, err := dfs(n)
			if err != nil {
				return false, err
			}
			if found {
				path = append(path, node)
				return true, nil
			}
		}
		return false, nil
	}

	found, err := dfs(start)
	if err != nil {
		return nil, err
	}
	if !found {
		return nil, nil
	}
	// dfs appends from target back to start; reverse to get start->target.
	reversed := make([]string, len(path))
	for i, n := range path {
		reversed[len(path)-1-i] = n
	}
	return reversed, nil
}

// GetLinks returns every link touching taskID, grouped by direction/type.
func (s *Service) GetLinks(ctx context.Context, taskID string) (*types.TaskLinks, error) {
	links := &types.TaskLinks{}

	rows, err := s.store.DB().QueryContext(ctx,
		`SELECT to_task_id FROM task_links WHERE from_task_id = ? AND link_type = ?`, taskID, types.LinkBlocks)
	if err != nil {
		return nil, fmt.Errorf("dependency: query blocks: %w", err)
	}
	links.Blocks, err = scanIDs(rows)
	if err != nil {
		return nil, err
	}

	rows, err = s.store.DB().QueryContext(ctx,
		`SELECT to_task_id FROM task_links WHERE from_task_id = ? AND link_type = ?`, taskID, types.LinkBlockedBy)
	if err != nil {
		return nil, fmt.Errorf("dependency: query blocked_by: %w", err)
	}
	links.BlockedBy, err = scanIDs(rows)
	if err != nil {
		return nil, err
	}

	rows, err = s.store.DB().QueryContext(ctx,
		`SELECT to_task_id FROM task_links WHERE from_task_id = ? AND link_type = ?`, taskID, types.LinkRelated)
	if err != nil {
		return nil, fmt.Errorf("dependency: query related: %w", err)
	}
	links.Related, err = scanIDs(rows)
	if err != nil {
		return nil, err
	}

	return links, nil
}

func scanIDs(rows *sql.Rows) ([]string, error) {
	defer rows.Close()
	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

// GetBlockers returns the tasks that currently block taskID: its
// blocked_by targets that are neither completed nor archived.
func (s *Service) GetBlockers(ctx context.Context, taskID string) ([]types.Task, error) {
	return GetBlockersTx(ctx, s.store.DB(), taskID)
}

// blockersQuerier is satisfied by both *sql.DB and *sql.Tx, letting
// GetBlockersTx run either as a standalone read (via GetBlockers) or as
// part of a caller's transaction — needed so MoveTask can check blockers
// in the same transaction that performs the move, closing the
// check-then-act window a separate pre-transaction read would leave open.
type blockersQuerier interface {
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
}

// GetBlockersTx is GetBlockers against an explicit querier, so callers that
// need the read and a subsequent write to be atomic (§4.4: "no racing
// writer can sneak a second edge past the check") can run it inside their
// own *sql.Tx.
func GetBlockersTx(ctx context.Context, q blockersQuerier, taskID string) ([]types.Task, error) {
	rows, err := q.QueryContext(ctx, `
		SELECT `+store.TaskColumnsAliased("t")+`
		FROM task_links l
		JOIN tasks t ON t.id = l.to_task_id
		WHERE l.from_task_id = ? AND l.link_type = ?
		  AND t.completed_at IS NULL AND t.archived = 0
	`, taskID, types.LinkBlockedBy)
	if err != nil {
		return nil, fmt.Errorf("dependency: get blockers: %w", err)
	}
	return store.ScanTasks(rows)
}

// IsBlocked reports whether taskID has any unresolved blocker.
func (s *Service) IsBlocked(ctx context.Context, taskID string) (bool, error) {
	var count int
	err := s.store.DB().QueryRowContext(ctx, `
		SELECT COUNT(*) FROM task_links l
		JOIN tasks t ON t.id = l.to_task_id
		WHERE l.from_task_id = ? AND l.link_type = ?
		  AND t.completed_at IS NULL AND t.archived = 0
	`, taskID, types.LinkBlockedBy).Scan(&count)
	if err != nil {
		return false, fmt.Errorf("dependency: is blocked: %w", err)
	}
	return count > 0, nil
}

// BlockingCount returns the number of unresolved tasks that taskID itself
// blocks — the input to the scoring framework's "blocking" scorer (§4.6,
// SPEC_FULL's named extension point).
func (s *Service) BlockingCount(ctx context.Context, taskID string) (int, error) {
	var count int
	err := s.store.DB().QueryRowContext(ctx, `
		SELECT COUNT(*) FROM task_links l
		JOIN tasks t ON t.id = l.to_task_id
		WHERE l.from_task_id = ? AND l.link_type = ?
		  AND t.completed_at IS NULL AND t.archived = 0
	`, taskID, types.LinkBlocks).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("dependency: blocking count: %w", err)
	}
	return count, nil
}

// BoardDependencyStats returns a board-wide rollup of the dependency
// graph's health, grounded on evanmschultz-kan's DependencyRollup
// (SPEC_FULL "Supplemented Features").
type BoardDependencyStats struct {
	TotalTasks                int
	TasksWithDependencies     int
	DependencyEdges           int
	BlockedTasks              int
	UnresolvedDependencyEdges int
}

func (s *Service) BoardDependencyStats(ctx context.Context, boardID string) (*BoardDependencyStats, error) {
	stats := &BoardDependencyStats{}

	err := s.store.DB().QueryRowContext(ctx,
		`SELECT COUNT(*) FROM tasks WHERE board_id = ? AND archived = 0`, boardID).Scan(&stats.TotalTasks)
	if err != nil {
		return nil, fmt.Errorf("dependency: count tasks: %w", err)
	}

	err = s.store.DB().QueryRowContext(ctx, `
		SELECT COUNT(DISTINCT l.from_task_id) FROM task_links l
		JOIN tasks t ON t.id = l.from_task_id
		WHERE l.link_type = ? AND t.board_id = ?
	`, types.LinkBlockedBy, boardID).Scan(&stats.TasksWithDependencies)
	if err != nil {
		return nil, fmt.Errorf("dependency: count tasks with deps: %w", err)
	}

	err = s.store.DB().QueryRowContext(ctx, `
		SELECT COUNT(*) FROM task_links l
		JOIN tasks t ON t.id = l.from_task_id
		WHERE l.link_type = ? AND t.board_id = ?
	`, types.LinkBlockedBy, boardID).Scan(&stats.DependencyEdges)
	if err != nil {
		return nil, fmt.Errorf("dependency: count dep edges: %w", err)
	}

	err = s.store.DB().QueryRowContext(ctx, `
		SELECT COUNT(DISTINCT l.from_task_id) FROM task_links l
		JOIN tasks src ON src.id = l.from_task_id
		JOIN tasks dst ON dst.id = l.to_task_id
		WHERE l.link_type = ? AND src.board_id = ? AND src.archived = 0
		  AND dst.completed_at IS NULL AND dst.archived = 0
	`, types.LinkBlockedBy, boardID).Scan(&stats.BlockedTasks)
	if err != nil {
		return nil, fmt.Errorf("dependency: count blocked tasks: %w", err)
	}

	err = s.store.DB().QueryRowContext(ctx, `
		SELECT COUNT(*) FROM task_links l
		JOIN tasks src ON src.id = l.from_task_id
		JOIN tasks dst ON dst.id = l.to_task_id
		WHERE l.link_type = ? AND src.board_id = ?
		  AND dst.completed_at IS NULL AND dst.archived = 0
	`, types.LinkBlockedBy, boardID).Scan(&stats.UnresolvedDependencyEdges)
	if err != nil {
		return nil, fmt.Errorf("dependency: count unresolved edges: %w", err)
	}

	return stats, nil
}

