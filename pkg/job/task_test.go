package job

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ajitpratap0/datapkg/pkg/errors"
)

func TestTaskLifecycle(t *testing.T) {
	var seen []string
	root := NewTask("Finding package file...", func(n *TaskNode) {
		seen = append(seen, string(n.Status())+":"+n.Message())
	})

	root.SetMessage("Found package file")
	sub := root.AddSubTask("Inspecting people.csv")
	sub.End(TaskSuccess, "")
	root.End(TaskSuccess, "Found acme/people")

	assert.Equal(t, TaskSuccess, root.Status())
	assert.Equal(t, "Found acme/people", root.Message())
	require.Len(t, root.SubTasks(), 1)
	assert.Equal(t, "Inspecting people.csv", root.SubTasks()[0].Message())
	assert.Equal(t, 1, sub.(*TaskNode).Depth())
	assert.Equal(t, []string{
		"RUNNING:Finding package file...",
		"RUNNING:Found package file",
		"RUNNING:Inspecting people.csv",
		"SUCCESS:Inspecting people.csv",
		"SUCCESS:Found acme/people",
	}, seen)
}

func TestTaskEndTwicePanics(t *testing.T) {
	task := NewTask("Checking edit permissions...", nil)
	task.End(TaskError, "NOT_AUTHORIZED")

	assertInternalPanic(t, func() { task.End(TaskSuccess, "again") })
	assertInternalPanic(t, func() { task.SetMessage("late") })
	assert.Equal(t, TaskError, task.Status())
	assert.Equal(t, "NOT_AUTHORIZED", task.Message())
}

func TestTaskCannotEndRunning(t *testing.T) {
	task := NewTask("x", nil)
	assertInternalPanic(t, func() { task.End(TaskRunning, "") })
	assert.Equal(t, TaskRunning, task.Status())
}

func assertInternalPanic(t *testing.T, fn func()) {
	t.Helper()
	defer func() {
		r := recover()
		require.NotNil(t, r)
		err, ok := r.(error)
		require.True(t, ok)
		assert.True(t, errors.IsType(err, errors.ErrorTypeInternal))
	}()
	fn()
}
