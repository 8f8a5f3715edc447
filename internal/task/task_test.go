package task

import (
	"context"
	"path/filepath"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kaban-dev/kaban/internal/board"
	"github.com/kaban-dev/kaban/internal/dependency"
	"github.com/kaban-dev/kaban/internal/store"
	"github.com/kaban-dev/kaban/pkg/kabanerr"
	"github.com/kaban-dev/kaban/pkg/types"
)

func setupService(t *testing.T) (*Service, *board.Service, *dependency.Service) {
	t.Helper()
	st, err := store.Open(filepath.Join(t.TempDir(), "board.db"))
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() })

	boardSvc := board.New(st)
	depSvc := dependency.New(st)
	taskSvc := New(st, boardSvc, depSvc)

	ctx := context.Background()
	_, err = boardSvc.InitializeBoard(ctx, types.BoardConfig{
		Name: "Test Board",
		Columns: []types.ColumnConfig{
			{ID: "backlog", Name: "Backlog"},
			{ID: "todo", Name: "To Do"},
			{ID: "in_progress", Name: "In Progress", WipLimit: 3},
			{ID: "review", Name: "Review", WipLimit: 2},
			{ID: "done", Name: "Done", IsTerminal: true},
		},
	}, "user")
	require.NoError(t, err)

	return taskSvc, boardSvc, depSvc
}

// Scenario A — Init and add (§8).
func TestAddTaskScenarioA(t *testing.T) {
	taskSvc, _, _ := setupService(t)
	ctx := context.Background()

	task, err := taskSvc.AddTask(ctx, types.AddTaskInput{Title: "Task 1", CreatedBy: "user"})
	require.NoError(t, err)

	assert.Equal(t, 1, task.BoardTaskID)
	assert.Equal(t, "todo", task.ColumnID)
	assert.Equal(t, 0, task.Position)
	assert.Equal(t, 1, task.Version)
}

func TestAddTaskAllocatesSequentialBoardTaskIDs(t *testing.T) {
	taskSvc, _, _ := setupService(t)
	ctx := context.Background()

	t1, err := taskSvc.AddTask(ctx, types.AddTaskInput{Title: "First", CreatedBy: "user"})
	require.NoError(t, err)
	t2, err := taskSvc.AddTask(ctx, types.AddTaskInput{Title: "Second", CreatedBy: "user"})
	require.NoError(t, err)

	assert.Equal(t, 1, t1.BoardTaskID)
	assert.Equal(t, 2, t2.BoardTaskID)
}

func TestAddTaskNeverReusesBoardTaskIDAfterDelete(t *testing.T) {
	taskSvc, _, _ := setupService(t)
	ctx := context.Background()

	_, err := taskSvc.AddTask(ctx, types.AddTaskInput{Title: "First", CreatedBy: "user"})
	require.NoError(t, err)
	second, err := taskSvc.AddTask(ctx, types.AddTaskInput{Title: "Second", CreatedBy: "user"})
	require.NoError(t, err)
	require.Equal(t, 2, second.BoardTaskID)

	require.NoError(t, taskSvc.DeleteTask(ctx, second.ID))

	third, err := taskSvc.AddTask(ctx, types.AddTaskInput{Title: "Third", CreatedBy: "user"})
	require.NoError(t, err)
	assert.Equal(t, 3, third.BoardTaskID)
}

// §8 testable property 8 — N concurrent AddTask calls on the same board
// allocate board_task_id exactly {max+1..max+N}, with no duplicates or
// gaps, because allocation increments boards.max_board_task_id inside
// the same transaction that inserts the row rather than computing
// MAX(board_task_id) over a snapshot that a racing writer could share.
func TestAddTaskConcurrentCallsAllocateDistinctSequentialBoardTaskIDs(t *testing.T) {
	taskSvc, _, _ := setupService(t)
	ctx := context.Background()

	const n = 20
	ids := make([]int, n)
	errs := make([]error, n)

	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			task, err := taskSvc.AddTask(ctx, types.AddTaskInput{Title: "T", CreatedBy: "user"})
			errs[i] = err
			if err == nil {
				ids[i] = task.BoardTaskID
			}
		}(i)
	}
	wg.Wait()

	seen := make(map[int]bool, n)
	for i, err := range errs {
		require.NoError(t, err)
		assert.False(t, seen[ids[i]], "board_task_id %d allocated more than once", ids[i])
		seen[ids[i]] = true
	}
	for want := 1; want <= n; want++ {
		assert.True(t, seen[want], "board_task_id %d never allocated", want)
	}
}

func TestAddTaskRejectsBadTitle(t *testing.T) {
	taskSvc, _, _ := setupService(t)
	ctx := context.Background()

	_, err := taskSvc.AddTask(ctx, types.AddTaskInput{Title: "", CreatedBy: "user"})
	require.Error(t, err)
	assert.True(t, kabanerr.Is(err, kabanerr.Validation))
}

func TestAddTaskRejectsUnknownColumn(t *testing.T) {
	taskSvc, _, _ := setupService(t)
	ctx := context.Background()

	_, err := taskSvc.AddTask(ctx, types.AddTaskInput{Title: "X", ColumnID: "nope", CreatedBy: "user"})
	require.Error(t, err)
	assert.True(t, kabanerr.Is(err, kabanerr.NotFound))
}

func TestResolveTaskByShortFullAndPrefix(t *testing.T) {
	taskSvc, _, _ := setupService(t)
	ctx := context.Background()

	created, err := taskSvc.AddTask(ctx, types.AddTaskInput{Title: "Task 1", CreatedBy: "user"})
	require.NoError(t, err)

	byShort, err := taskSvc.ResolveTask(ctx, "#1")
	require.NoError(t, err)
	assert.Equal(t, created.ID, byShort.ID)

	byBareDigits, err := taskSvc.ResolveTask(ctx, "1")
	require.NoError(t, err)
	assert.Equal(t, created.ID, byBareDigits.ID)

	byFull, err := taskSvc.ResolveTask(ctx, created.ID)
	require.NoError(t, err)
	assert.Equal(t, created.ID, byFull.ID)

	byPrefix, err := taskSvc.ResolveTask(ctx, created.ID[:6])
	require.NoError(t, err)
	assert.Equal(t, created.ID, byPrefix.ID)
}

func TestResolveTaskNotFound(t *testing.T) {
	taskSvc, _, _ := setupService(t)
	_, err := taskSvc.ResolveTask(context.Background(), "999")
	require.Error(t, err)
	assert.True(t, kabanerr.Is(err, kabanerr.NotFound))
}

// Scenario B — Move and complete (§8).
func TestMoveTaskScenarioB(t *testing.T) {
	taskSvc, _, _ := setupService(t)
	ctx := context.Background()

	t1, err := taskSvc.AddTask(ctx, types.AddTaskInput{Title: "Task 1", ColumnID: "todo", CreatedBy: "user"})
	require.NoError(t, err)
	_, err = taskSvc.AddTask(ctx, types.AddTaskInput{Title: "Task 2", ColumnID: "todo", CreatedBy: "user"})
	require.NoError(t, err)

	moved, err := taskSvc.MoveTask(ctx, "#1", "in_progress", false)
	require.NoError(t, err)
	require.NotNil(t, moved.StartedAt)

	done, err := taskSvc.MoveTask(ctx, "#1", "done", false)
	require.NoError(t, err)
	require.NotNil(t, done.CompletedAt)

	doneTasks, err := taskSvc.ListTasks(ctx, types.TaskFilter{ColumnID: "done"})
	require.NoError(t, err)
	require.Len(t, doneTasks, 1)
	assert.Equal(t, t1.ID, doneTasks[0].ID)
}

// Scenario D — WIP enforcement (§8).
func TestMoveTaskEnforcesWIPLimit(t *testing.T) {
	taskSvc, _, _ := setupService(t)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		task, err := taskSvc.AddTask(ctx, types.AddTaskInput{Title: "T", ColumnID: "todo", CreatedBy: "user"})
		require.NoError(t, err)
		_, err = taskSvc.MoveTask(ctx, task.ID, "in_progress", false)
		require.NoError(t, err)
	}

	fourth, err := taskSvc.AddTask(ctx, types.AddTaskInput{Title: "Fourth", ColumnID: "todo", CreatedBy: "user"})
	require.NoError(t, err)

	_, err = taskSvc.MoveTask(ctx, fourth.ID, "in_progress", false)
	require.Error(t, err)
	assert.True(t, kabanerr.Is(err, kabanerr.Validation))

	_, err = taskSvc.MoveTask(ctx, fourth.ID, "in_progress", true)
	require.NoError(t, err)
}

// §8 testable property 4 — the number of non-archived tasks in a
// WIP-limited column never exceeds the limit, even under concurrent
// MoveTask calls, because the WIP count and the move both run inside the
// same transaction (no separate pre-transaction read a racing writer
// could get past).
func TestMoveTaskConcurrentCallsNeverExceedWIPLimit(t *testing.T) {
	taskSvc, _, _ := setupService(t)
	ctx := context.Background()

	const n = 6 // column's WipLimit is 3, set in setupService
	taskIDs := make([]string, n)
	for i := 0; i < n; i++ {
		task, err := taskSvc.AddTask(ctx, types.AddTaskInput{Title: "T", ColumnID: "todo", CreatedBy: "user"})
		require.NoError(t, err)
		taskIDs[i] = task.ID
	}

	errs := make([]error, n)
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, err := taskSvc.MoveTask(ctx, taskIDs[i], "in_progress", false)
			errs[i] = err
		}(i)
	}
	wg.Wait()

	successes := 0
	for _, err := range errs {
		if err == nil {
			successes++
			continue
		}
		assert.True(t, kabanerr.Is(err, kabanerr.Validation), "unexpected error: %v", err)
	}
	assert.LessOrEqual(t, successes, 3)

	inProgress, err := taskSvc.ListTasks(ctx, types.TaskFilter{ColumnID: "in_progress"})
	require.NoError(t, err)
	assert.Len(t, inProgress, successes)
	assert.LessOrEqual(t, len(inProgress), 3)
}

// Scenario E — Archived hidden (§8).
func TestArchiveHidesFromDefaultListing(t *testing.T) {
	taskSvc, _, _ := setupService(t)
	ctx := context.Background()

	task, err := taskSvc.AddTask(ctx, types.AddTaskInput{Title: "Task 1", CreatedBy: "user"})
	require.NoError(t, err)

	_, err = taskSvc.ArchiveTask(ctx, task.ID)
	require.NoError(t, err)

	visible, err := taskSvc.ListTasks(ctx, types.TaskFilter{})
	require.NoError(t, err)
	assert.Empty(t, visible)

	withArchived, err := taskSvc.ListTasks(ctx, types.TaskFilter{IncludeArchived: true})
	require.NoError(t, err)
	require.Len(t, withArchived, 1)

	restored, err := taskSvc.RestoreTask(ctx, task.ID)
	require.NoError(t, err)
	assert.False(t, restored.Archived)
}

func TestUpdateTaskBumpsVersion(t *testing.T) {
	taskSvc, _, _ := setupService(t)
	ctx := context.Background()

	task, err := taskSvc.AddTask(ctx, types.AddTaskInput{Title: "Original", CreatedBy: "user"})
	require.NoError(t, err)
	assert.Equal(t, 1, task.Version)

	newTitle := "Updated"
	updated, err := taskSvc.UpdateTask(ctx, task.ID, types.UpdateTaskInput{Title: &newTitle, UpdatedBy: "user"})
	require.NoError(t, err)
	assert.Equal(t, "Updated", updated.Title)
	assert.Equal(t, 2, updated.Version)
}

func TestMoveTaskBlockedByUnresolvedDependency(t *testing.T) {
	taskSvc, _, _ := setupService(t)
	ctx := context.Background()

	blocker, err := taskSvc.AddTask(ctx, types.AddTaskInput{Title: "Blocker", ColumnID: "todo", CreatedBy: "user"})
	require.NoError(t, err)
	blocked, err := taskSvc.AddTask(ctx, types.AddTaskInput{Title: "Blocked", ColumnID: "todo", CreatedBy: "user"})
	require.NoError(t, err)

	require.NoError(t, taskSvc.AddDependency(ctx, blocked.ID, blocker.ID))

	_, err = taskSvc.MoveTask(ctx, blocked.ID, "in_progress", false)
	require.Error(t, err)
	assert.True(t, kabanerr.Is(err, kabanerr.Blocked))

	// Moving to backlog is exempt from the blocker check.
	_, err = taskSvc.MoveTask(ctx, blocked.ID, "backlog", false)
	require.NoError(t, err)

	_, err = taskSvc.MoveTask(ctx, blocker.ID, "done", false)
	require.NoError(t, err)

	_, err = taskSvc.MoveTask(ctx, blocked.ID, "in_progress", false)
	assert.NoError(t, err)
}

func TestDeleteTaskRemovesRow(t *testing.T) {
	taskSvc, _, _ := setupService(t)
	ctx := context.Background()

	task, err := taskSvc.AddTask(ctx, types.AddTaskInput{Title: "To delete", CreatedBy: "user"})
	require.NoError(t, err)

	require.NoError(t, taskSvc.DeleteTask(ctx, task.ID))

	_, err = taskSvc.GetTask(ctx, task.ID)
	assert.True(t, kabanerr.Is(err, kabanerr.NotFound))
}

func TestAssignValidatesAgentName(t *testing.T) {
	taskSvc, _, _ := setupService(t)
	ctx := context.Background()

	task, err := taskSvc.AddTask(ctx, types.AddTaskInput{Title: "T", CreatedBy: "user"})
	require.NoError(t, err)

	_, err = taskSvc.Assign(ctx, task.ID, "bad agent name!", "user")
	assert.True(t, kabanerr.Is(err, kabanerr.Validation))

	assigned, err := taskSvc.Assign(ctx, task.ID, "claude", "user")
	require.NoError(t, err)
	assert.Equal(t, "claude", assigned.AssignedTo)
}

func TestListReadyExcludesBlockedAndTerminal(t *testing.T) {
	taskSvc, _, _ := setupService(t)
	ctx := context.Background()

	blocker, err := taskSvc.AddTask(ctx, types.AddTaskInput{Title: "Blocker", ColumnID: "todo", CreatedBy: "user"})
	require.NoError(t, err)
	blocked, err := taskSvc.AddTask(ctx, types.AddTaskInput{Title: "Blocked", ColumnID: "todo", CreatedBy: "user"})
	require.NoError(t, err)
	require.NoError(t, taskSvc.AddDependency(ctx, blocked.ID, blocker.ID))

	ready, err := taskSvc.ListReady(ctx, types.TaskFilter{})
	require.NoError(t, err)

	var readyIDs []string
	for _, r := range ready {
		readyIDs = append(readyIDs, r.ID)
	}
	assert.Contains(t, readyIDs, blocker.ID)
	assert.NotContains(t, readyIDs, blocked.ID)
}
