// Package audit implements the audit query service (§4.5, component C5):
// read access to the trigger-populated audit_log table, with filtering,
// pagination, and aggregate statistics. No application code ever writes
// to audit_log directly — every row comes from a Store trigger (§4.5,
// §9 "Trigger-based audit is language-agnostic by construction").
//
// Grounded on the teacher's linksTable Fetch method
// (internal/sqlite/links_table.go) for the query-building and row-scan
// shape; the over-fetch-one-row hasMore pagination is new code with no
// grounding, and GetStats' rollup shape is grounded on evanmschultz-kan's
// DependencyRollup (SPEC_FULL "Supplemented Features").
package audit

import (
	"context"
	"fmt"
	"time"

	"github.com/kaban-dev/kaban/internal/store"
	"github.com/kaban-dev/kaban/pkg/types"
)

type Service struct {
	store *store.Store
}

func New(s *store.Store) *Service {
	return &Service{store: s}
}

const maxLimit = 1000

// GetHistory returns entries matching filter, ordered timestamp DESC,
// with a pre-filter total and a hasMore flag computed by over-fetching
// one extra row (§4.5).
func (s *Service) GetHistory(ctx context.Context, filter types.AuditFilter) (*types.AuditPage, error) {
	limit := filter.Limit
	if limit <= 0 || limit > maxLimit {
		limit = maxLimit
	}

	where, args := buildWhere(filter)

	var total int
	err := s.store.DB().QueryRowContext(ctx,
		`SELECT COUNT(*) FROM audit_log `+where, args...).Scan(&total)
	if err != nil {
		return nil, fmt.Errorf("audit: count: %w", err)
	}

	query := `SELECT id, timestamp, event_type, object_type, object_id, field_name, old_value, new_value, actor
		FROM audit_log ` + where + ` ORDER BY timestamp DESC, id DESC LIMIT ? OFFSET ?`
	queryArgs := append(append([]any{}, args...), limit+1, filter.Offset)

	rows, err := s.store.DB().QueryContext(ctx, query, queryArgs...)
	if err != nil {
		return nil, fmt.Errorf("audit: query: %w", err)
	}
	defer rows.Close()

	var entries []types.AuditEntry
	for rows.Next() {
		var e types.AuditEntry
		var ts string
		var actor any
		if err := rows.Scan(&e.ID, &ts, &e.EventType, &e.ObjectType, &e.ObjectID,
			&e.FieldName, &e.OldValue, &e.NewValue, &actor); err != nil {
			return nil, fmt.Errorf("audit: scan: %w", err)
		}
		e.Timestamp, _ = time.Parse(time.RFC3339, ts)
		if a, ok := actor.(string); ok && a != "" {
			e.Actor = a
		} else {
			e.Actor = "unknown"
		}
		entries = append(entries, e)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	hasMore := len(entries) > limit
	if hasMore {
		entries = entries[:limit]
	}

	return &types.AuditPage{Entries: entries, Total: total, HasMore: hasMore}, nil
}

func buildWhere(filter types.AuditFilter) (string, []any) {
	clauses := []string{"1=1"}
	var args []any

	if filter.ObjectType != "" {
		clauses = append(clauses, "object_type = ?")
		args = append(args, filter.ObjectType)
	}
	if filter.ObjectID != "" {
		clauses = append(clauses, "object_id = ?")
		args = append(args, filter.ObjectID)
	}
	if filter.EventType != "" {
		clauses = append(clauses, "event_type = ?")
		args = append(args, filter.EventType)
	}
	if filter.Actor != "" {
		clauses = append(clauses, "actor = ?")
		args = append(args, filter.Actor)
	}
	if filter.Since != nil {
		clauses = append(clauses, "timestamp >= ?")
		args = append(args, store.FormatTime(*filter.Since))
	}
	if filter.Until != nil {
		clauses = append(clauses, "timestamp <= ?")
		args = append(args, store.FormatTime(*filter.Until))
	}

	where := "WHERE "
	for i, c := range clauses {
		if i > 0 {
			where += " AND "
		}
		where += c
	}
	return where, args
}

// GetTaskHistory is GetHistory scoped to one task's object rows.
func (s *Service) GetTaskHistory(ctx context.Context, taskID string) (*types.AuditPage, error) {
	return s.GetHistory(ctx, types.AuditFilter{ObjectType: types.ObjectTask, ObjectID: taskID})
}

// GetRecentChanges is GetHistory with no filter beyond the limit — the
// most recent activity across the whole board.
func (s *Service) GetRecentChanges(ctx context.Context, limit int) (*types.AuditPage, error) {
	return s.GetHistory(ctx, types.AuditFilter{Limit: limit})
}

// GetChangesByActor is GetHistory scoped to one actor.
func (s *Service) GetChangesByActor(ctx context.Context, actor string, limit int) (*types.AuditPage, error) {
	return s.GetHistory(ctx, types.AuditFilter{Actor: actor, Limit: limit})
}

// GetStats aggregates counts by event type and object type, plus the 10
// most recent distinct actors (§4.5).
func (s *Service) GetStats(ctx context.Context) (*types.AuditStats, error) {
	stats := &types.AuditStats{
		ByEventType:  map[string]int{},
		ByObjectType: map[string]int{},
	}

	rows, err := s.store.DB().QueryContext(ctx, `SELECT event_type, COUNT(*) FROM audit_log GROUP BY event_type`)
	if err != nil {
		return nil, fmt.Errorf("audit: stats by event: %w", err)
	}
	for rows.Next() {
		var k string
		var n int
		if err := rows.Scan(&k, &n); err != nil {
			rows.Close()
			return nil, err
		}
		stats.ByEventType[k] = n
	}
	if err := rows.Err(); err != nil {
		rows.Close()
		return nil, err
	}
	rows.Close()

	rows, err = s.store.DB().QueryContext(ctx, `SELECT object_type, COUNT(*) FROM audit_log GROUP BY object_type`)
	if err != nil {
		return nil, fmt.Errorf("audit: stats by object: %w", err)
	}
	for rows.Next() {
		var k string
		var n int
		if err := rows.Scan(&k, &n); err != nil {
			rows.Close()
			return nil, err
		}
		stats.ByObjectType[k] = n
	}
	if err := rows.Err(); err != nil {
		rows.Close()
		return nil, err
	}
	rows.Close()

	rows, err = s.store.DB().QueryContext(ctx, `
		SELECT actor FROM audit_log
		WHERE actor IS NOT NULL AND actor != ''
		GROUP BY actor ORDER BY MAX(timestamp) DESC LIMIT 10`)
	if err != nil {
		return nil, fmt.Errorf("audit: recent actors: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		var a string
		if err := rows.Scan(&a); err != nil {
			return nil, err
		}
		stats.RecentActors = append(stats.RecentActors, a)
	}
	return stats, rows.Err()
}
