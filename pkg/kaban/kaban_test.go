package kaban

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kaban-dev/kaban/pkg/types"
)

func openEngine(t *testing.T) *Engine {
	t.Helper()
	e, err := Open(filepath.Join(t.TempDir(), "board.db"))
	require.NoError(t, err)
	t.Cleanup(func() { e.Close() })
	return e
}

func TestOpenWiresAllServices(t *testing.T) {
	e := openEngine(t)
	assert.NotNil(t, e.Board)
	assert.NotNil(t, e.Task)
	assert.NotNil(t, e.Dependency)
	assert.NotNil(t, e.Audit)
	assert.NotNil(t, e.Scoring)
}

func TestEndToEndAddMoveExportRoundTrip(t *testing.T) {
	e := openEngine(t)
	ctx := context.Background()

	_, err := e.Board.InitializeBoard(ctx, DefaultConfig("My Board"), "user")
	require.NoError(t, err)

	task, err := e.Task.AddTask(ctx, types.AddTaskInput{Title: "Ship it", CreatedBy: "user"})
	require.NoError(t, err)

	_, err = e.Task.MoveTask(ctx, task.ID, "in_progress", false)
	require.NoError(t, err)

	doc, err := e.ExportMarkdown(ctx, types.MarkdownExportOptions{IncludeMetadata: true})
	require.NoError(t, err)
	assert.Contains(t, doc, "My Board")
	assert.Contains(t, doc, "Ship it")

	parsed := ParseMarkdown(doc)
	require.Empty(t, parsed.Errors)
	assert.Equal(t, "My Board", parsed.BoardName)

	history, err := e.Audit.GetTaskHistory(ctx, task.ID)
	require.NoError(t, err)
	assert.GreaterOrEqual(t, len(history.Entries), 2)
}

func TestScoringRanksAddedTasks(t *testing.T) {
	e := openEngine(t)
	ctx := context.Background()

	_, err := e.Board.InitializeBoard(ctx, DefaultConfig("Board"), "user")
	require.NoError(t, err)

	_, err = e.Task.AddTask(ctx, types.AddTaskInput{Title: "Low", Labels: []string{"low"}, CreatedBy: "user"})
	require.NoError(t, err)
	urgent, err := e.Task.AddTask(ctx, types.AddTaskInput{Title: "Urgent", Labels: []string{"critical"}, CreatedBy: "user"})
	require.NoError(t, err)

	tasks, err := e.Task.ListTasks(ctx, types.TaskFilter{})
	require.NoError(t, err)

	ranked, err := e.Scoring.RankTasks(ctx, tasks, time.Now().UTC())
	require.NoError(t, err)
	require.NotEmpty(t, ranked)
	assert.Equal(t, urgent.ID, ranked[0].Task.ID)
}
