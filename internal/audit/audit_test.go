package audit

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kaban-dev/kaban/internal/board"
	"github.com/kaban-dev/kaban/internal/dependency"
	"github.com/kaban-dev/kaban/internal/store"
	"github.com/kaban-dev/kaban/internal/task"
	"github.com/kaban-dev/kaban/pkg/types"
)

func setupService(t *testing.T) (*Service, *task.Service) {
	t.Helper()
	st, err := store.Open(filepath.Join(t.TempDir(), "board.db"))
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() })

	boardSvc := board.New(st)
	depSvc := dependency.New(st)
	taskSvc := task.New(st, boardSvc, depSvc)

	ctx := context.Background()
	_, err = boardSvc.InitializeBoard(ctx, types.BoardConfig{
		Name: "Test Board",
		Columns: []types.ColumnConfig{
			{ID: "todo", Name: "To Do"},
			{ID: "done", Name: "Done", IsTerminal: true},
		},
	}, "user")
	require.NoError(t, err)

	return New(st), taskSvc
}

// Scenario G — Audit trail (§8): create, update title, move column,
// delete, each producing one trigger-written row queryable back through
// GetTaskHistory in reverse chronological order.
func TestGetTaskHistoryRecordsFullLifecycle(t *testing.T) {
	auditSvc, taskSvc := setupService(t)
	ctx := context.Background()

	created, err := taskSvc.AddTask(ctx, types.AddTaskInput{Title: "Original", ColumnID: "todo", CreatedBy: "user"})
	require.NoError(t, err)

	newTitle := "Renamed"
	_, err = taskSvc.UpdateTask(ctx, created.ID, types.UpdateTaskInput{Title: &newTitle, UpdatedBy: "user"})
	require.NoError(t, err)

	_, err = taskSvc.MoveTask(ctx, created.ID, "done", false)
	require.NoError(t, err)

	require.NoError(t, taskSvc.DeleteTask(ctx, created.ID))

	page, err := auditSvc.GetTaskHistory(ctx, created.ID)
	require.NoError(t, err)
	require.Len(t, page.Entries, 4)

	// Newest first.
	assert.Equal(t, types.EventDelete, page.Entries[0].EventType)
	assert.Equal(t, types.EventUpdate, page.Entries[1].EventType)
	assert.Equal(t, "columnId", page.Entries[1].FieldName)
	assert.Equal(t, types.EventUpdate, page.Entries[2].EventType)
	assert.Equal(t, "title", page.Entries[2].FieldName)
	assert.Equal(t, "Original", page.Entries[2].OldValue)
	assert.Equal(t, "Renamed", page.Entries[2].NewValue)
	assert.Equal(t, types.EventCreate, page.Entries[3].EventType)

	for _, e := range page.Entries {
		assert.Equal(t, types.ObjectTask, e.ObjectType)
		assert.Equal(t, created.ID, e.ObjectID)
		assert.Equal(t, "user", e.Actor)
	}
}

func TestGetHistoryPaginatesWithHasMore(t *testing.T) {
	auditSvc, taskSvc := setupService(t)
	ctx := context.Background()

	for i := 0; i < 5; i++ {
		_, err := taskSvc.AddTask(ctx, types.AddTaskInput{Title: "T", ColumnID: "todo", CreatedBy: "user"})
		require.NoError(t, err)
	}

	page, err := auditSvc.GetHistory(ctx, types.AuditFilter{Limit: 2})
	require.NoError(t, err)
	assert.Len(t, page.Entries, 2)
	assert.Equal(t, 5, page.Total)
	assert.True(t, page.HasMore)

	page2, err := auditSvc.GetHistory(ctx, types.AuditFilter{Limit: 2, Offset: 4})
	require.NoError(t, err)
	assert.Len(t, page2.Entries, 1)
	assert.False(t, page2.HasMore)
}

func TestGetChangesByActorFiltersRows(t *testing.T) {
	auditSvc, taskSvc := setupService(t)
	ctx := context.Background()

	_, err := taskSvc.AddTask(ctx, types.AddTaskInput{Title: "By alice", ColumnID: "todo", CreatedBy: "alice"})
	require.NoError(t, err)
	_, err = taskSvc.AddTask(ctx, types.AddTaskInput{Title: "By bob", ColumnID: "todo", CreatedBy: "bob"})
	require.NoError(t, err)

	page, err := auditSvc.GetChangesByActor(ctx, "alice", 10)
	require.NoError(t, err)
	require.Len(t, page.Entries, 1)
	assert.Equal(t, "alice", page.Entries[0].Actor)
}

func TestGetStatsAggregatesByEventAndObjectType(t *testing.T) {
	auditSvc, taskSvc := setupService(t)
	ctx := context.Background()

	created, err := taskSvc.AddTask(ctx, types.AddTaskInput{Title: "T", ColumnID: "todo", CreatedBy: "user"})
	require.NoError(t, err)
	require.NoError(t, taskSvc.DeleteTask(ctx, created.ID))

	stats, err := auditSvc.GetStats(ctx)
	require.NoError(t, err)

	assert.GreaterOrEqual(t, stats.ByEventType[types.EventCreate], 1)
	assert.GreaterOrEqual(t, stats.ByEventType[types.EventDelete], 1)
	assert.GreaterOrEqual(t, stats.ByObjectType[types.ObjectTask], 2)
	assert.Contains(t, stats.RecentActors, "user")
}
