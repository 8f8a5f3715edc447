// Package board implements the board service (§4.2, component C2): CRUD
// for the single board and its columns, column resolution, and the
// per-board active scorer name.
//
// Grounded on the teacher's crumbsTable (internal/sqlite/crumbs_table.go):
// the same Get/Set/hydrate-row/explicit-transaction shape, generalized from
// a flat properties bag to kaban's boards/columns tables.
package board

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/kaban-dev/kaban/internal/store"
	"github.com/kaban-dev/kaban/internal/validate"
	"github.com/kaban-dev/kaban/pkg/kabanerr"
	"github.com/kaban-dev/kaban/pkg/types"
)

// Service is the board service. It assumes exactly one board per database
// (§3: "exactly one board is expected per database in v1") but every query
// is board-scoped so a second board could be added without a schema change.
type Service struct {
	store *store.Store
}

func New(s *store.Store) *Service {
	return &Service{store: s}
}

// InitializeBoard creates the board and its columns from config if no
// board exists yet. Idempotent: a no-op when a board is already present.
// No defaults are baked in here — the caller supplies config (§4.2).
func (s *Service) InitializeBoard(ctx context.Context, config types.BoardConfig, actor string) (*types.Board, error) {
	existing, err := s.getBoardRow(ctx, s.store.DB())
	if err != nil && !kabanerr.Is(err, kabanerr.NotFound) {
		return nil, err
	}
	if existing != nil {
		return existing, nil
	}

	for _, c := range config.Columns {
		if err := validate.ColumnID(c.ID); err != nil {
			return nil, err
		}
	}

	id := uuid.Must(uuid.NewV7()).String()
	now := time.Now().UTC()

	var board *types.Board
	err = s.store.WithTx(ctx, func(tx *sql.Tx) error {
		_, err := tx.ExecContext(ctx,
			`INSERT INTO boards(id, name, max_board_task_id, created_by, updated_by, created_at, updated_at)
			 VALUES (?, ?, 0, ?, ?, ?, ?)`,
			id, config.Name, actor, actor, now.Format(time.RFC3339), now.Format(time.RFC3339))
		if err != nil {
			return fmt.Errorf("board: insert board: %w", err)
		}

		for i, c := range config.Columns {
			cid := c.ID
			if cid == "" {
				return kabanerr.New(kabanerr.Validation, "column id must not be empty").WithField("columns")
			}
			_, err := tx.ExecContext(ctx,
				`INSERT INTO columns(id, board_id, name, position, wip_limit, is_terminal, created_by, updated_by)
				 VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
				cid, id, c.Name, i, c.WipLimit, boolToInt(c.IsTerminal), actor, actor)
			if err != nil {
				return fmt.Errorf("board: insert column %s: %w", cid, err)
			}
		}

		board = &types.Board{ID: id, Name: config.Name, MaxBoardTaskID: 0, CreatedAt: now, UpdatedAt: now}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return board, nil
}

// GetBoard returns the single board, or a NOT_FOUND error if init has not
// run yet.
func (s *Service) GetBoard(ctx context.Context) (*types.Board, error) {
	return s.getBoardRow(ctx, s.store.DB())
}

func (s *Service) getBoardRow(ctx context.Context, q querier) (*types.Board, error) {
	row := q.QueryRowContext(ctx,
		`SELECT id, name, max_board_task_id, active_scorer, created_at, updated_at FROM boards LIMIT 1`)
	var b types.Board
	var createdAt, updatedAt string
	if err := row.Scan(&b.ID, &b.Name, &b.MaxBoardTaskID, &b.ActiveScorer, &createdAt, &updatedAt); err != nil {
		if err == sql.ErrNoRows {
			return nil, kabanerr.New(kabanerr.NotFound, "board not initialized")
		}
		return nil, fmt.Errorf("board: get board: %w", err)
	}
	b.CreatedAt, _ = time.Parse(time.RFC3339, createdAt)
	b.UpdatedAt, _ = time.Parse(time.RFC3339, updatedAt)
	return &b, nil
}

// GetColumns returns every column of the board, ordered by position.
func (s *Service) GetColumns(ctx context.Context) ([]types.Column, error) {
	b, err := s.GetBoard(ctx)
	if err != nil {
		return nil, err
	}
	rows, err := s.store.DB().QueryContext(ctx,
		`SELECT id, board_id, name, position, wip_limit, is_terminal FROM columns
		 WHERE board_id = ? ORDER BY position`, b.ID)
	if err != nil {
		return nil, fmt.Errorf("board: list columns: %w", err)
	}
	defer rows.Close()

	var cols []types.Column
	for rows.Next() {
		var c types.Column
		var isTerminal int
		if err := rows.Scan(&c.ID, &c.BoardID, &c.Name, &c.Position, &c.WipLimit, &isTerminal); err != nil {
			return nil, fmt.Errorf("board: scan column: %w", err)
		}
		c.IsTerminal = isTerminal != 0
		cols = append(cols, c)
	}
	return cols, rows.Err()
}

// GetColumn resolves idOrName against column ids first, then names
// (case-sensitive on both, columns are few and operator-named).
func (s *Service) GetColumn(ctx context.Context, idOrName string) (*types.Column, error) {
	cols, err := s.GetColumns(ctx)
	if err != nil {
		return nil, err
	}
	for _, c := range cols {
		if c.ID == idOrName {
			return &c, nil
		}
	}
	for _, c := range cols {
		if c.Name == idOrName {
			return &c, nil
		}
	}
	return nil, kabanerr.Newf(kabanerr.NotFound, "no column %q", idOrName).WithField("columnId")
}

// GetTerminalColumn returns the first column with IsTerminal set, used by
// the task service to decide whether a move completes a task.
func (s *Service) GetTerminalColumn(ctx context.Context) (*types.Column, error) {
	cols, err := s.GetColumns(ctx)
	if err != nil {
		return nil, err
	}
	for _, c := range cols {
		if c.IsTerminal {
			return &c, nil
		}
	}
	return nil, kabanerr.New(kabanerr.NotFound, "no terminal column configured")
}

// SetScorerForBoard records the name of the scorer the board treats as its
// default ranking view (the "combined" scorer, or any registered override).
// Kept in its own column so it does not alias the board's display name in
// the audit trail.
func (s *Service) SetScorerForBoard(ctx context.Context, scorerName string, actor string) error {
	b, err := s.GetBoard(ctx)
	if err != nil {
		return err
	}
	return s.store.WithTx(ctx, func(tx *sql.Tx) error {
		_, err := tx.ExecContext(ctx,
			`UPDATE boards SET active_scorer = ?, updated_by = ?, updated_at = ? WHERE id = ?`,
			scorerName, actor, time.Now().UTC().Format(time.RFC3339), b.ID)
		if err != nil {
			return fmt.Errorf("board: set scorer: %w", err)
		}
		return nil
	})
}

type querier interface {
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
