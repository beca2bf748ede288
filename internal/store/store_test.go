package store

import (
	"path/filepath"
	"sync"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/netfleet/upgrade-orchestrator/internal/constants"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	st, err := Open(filepath.Join(t.TempDir(), "test.sqlite"), zerolog.Nop())
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() })
	return st
}

func TestTryEnqueue_CaseInsensitiveDedup(t *testing.T) {
	st := newTestStore(t)

	_, err := st.TryEnqueue("SW-CORE-01", constants.OperationPrecheck)
	require.NoError(t, err)

	_, err = st.TryEnqueue("sw-core-01", constants.OperationRefresh)
	assert.ErrorIs(t, err, ErrAlreadyQueued)

	_, err = st.TryEnqueue("Sw-Core-01", constants.OperationPrecheck)
	assert.ErrorIs(t, err, ErrAlreadyQueued)

	// a different device is unaffected
	_, err = st.TryEnqueue("sw-core-02", constants.OperationPrecheck)
	assert.NoError(t, err)

	assert.Len(t, st.Queue(), 2)
}

func TestTryEnqueue_ConcurrentSameDevice(t *testing.T) {
	st := newTestStore(t)

	const attempts = 16
	var wg sync.WaitGroup
	errs := make([]error, attempts)

	wg.Add(attempts)
	for i := 0; i < attempts; i++ {
		go func(i int) {
			defer wg.Done()
			_, errs[i] = st.TryEnqueue("sw-core-01", constants.OperationPrecheck)
		}(i)
	}
	wg.Wait()

	accepted := 0
	for _, err := range errs {
		if err == nil {
			accepted++
		} else {
			assert.ErrorIs(t, err, ErrAlreadyQueued)
		}
	}
	assert.Equal(t, 1, accepted, "exactly one concurrent submission wins")
}

func TestDequeue_Idempotent(t *testing.T) {
	st := newTestStore(t)

	_, err := st.TryEnqueue("sw-core-01", constants.OperationPrecheck)
	require.NoError(t, err)

	require.NoError(t, st.Dequeue("SW-CORE-01"))
	require.NoError(t, st.Dequeue("sw-core-01"), "second dequeue is a no-op")

	// the device can be enqueued again after completion
	_, err = st.TryEnqueue("sw-core-01", constants.OperationPrecheck)
	assert.NoError(t, err)
}

func TestMarkRunning(t *testing.T) {
	st := newTestStore(t)

	_, err := st.TryEnqueue("sw-core-01", constants.OperationUpgradeAuto)
	require.NoError(t, err)
	require.NoError(t, st.MarkRunning("sw-core-01"))

	queue := st.Queue()
	require.Len(t, queue, 1)
	assert.Equal(t, constants.QueueStateInProgress, queue[0].State)
}

func TestTaskLifecycle(t *testing.T) {
	st := newTestStore(t)

	task, err := st.CreateTask("sw-core-01")
	require.NoError(t, err)
	require.NotEmpty(t, task.TaskID)
	assert.Equal(t, constants.TaskStatusQueued, task.Status)

	require.NoError(t, st.SetStatus(task.TaskID, constants.TaskStatusRunning))
	require.NoError(t, st.AppendLog(task.TaskID, "Checking connectivity..."))
	require.NoError(t, st.AppendLog(task.TaskID, "Connected to sw-core-01."))

	got, err := st.Task(task.TaskID)
	require.NoError(t, err)
	assert.Equal(t, constants.TaskStatusRunning, got.Status)
	assert.Contains(t, got.LogOutput, "Checking connectivity...\nConnected to sw-core-01.")

	finalLog := "Checking connectivity...\nConnected to sw-core-01.\nPrecheck completed successfully."
	require.NoError(t, st.SetTerminal(task.TaskID, constants.TaskStatusCompleted, finalLog))

	got, err = st.Task(task.TaskID)
	require.NoError(t, err)
	assert.Equal(t, constants.TaskStatusCompleted, got.Status)
	assert.Equal(t, finalLog, got.LogOutput)
}

func TestTask_NotFound(t *testing.T) {
	st := newTestStore(t)

	_, err := st.Task("no-such-task")
	assert.Error(t, err)
}

func TestHistory_NewestFirst(t *testing.T) {
	st := newTestStore(t)

	first, err := st.CreateTask("sw-core-01")
	require.NoError(t, err)
	second, err := st.CreateTask("sw-core-02")
	require.NoError(t, err)

	history, err := st.History()
	require.NoError(t, err)
	require.Len(t, history, 2)

	// created_at of the second task is >= the first; on a tie either order is
	// acceptable, so only assert both are present and ordering is non-ascending
	assert.False(t, history[0].CreatedAt.Before(history[1].CreatedAt))
	ids := []string{history[0].TaskID, history[1].TaskID}
	assert.Contains(t, ids, first.TaskID)
	assert.Contains(t, ids, second.TaskID)
}
