package scheduler

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"testing"
	"time"

	"github.com/sequentcrm/sequent/pkg/execution"
	"github.com/sequentcrm/sequent/pkg/models"
	"github.com/sequentcrm/sequent/pkg/persistence/memory"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type resumedTimer struct {
	executionID string
	epoch       int
}

type fakeResumer struct {
	resumeErr error
	resumed   []resumedTimer
	failed    map[string]error
}

func newFakeResumer() *fakeResumer {
	return &fakeResumer{failed: make(map[string]error)}
}

func (r *fakeResumer) Resume(_ context.Context, executionID string, epoch int) error {
	if r.resumeErr != nil {
		return r.resumeErr
	}

	r.resumed = append(r.resumed, resumedTimer{executionID, epoch})

	return nil
}

func (r *fakeResumer) FailWaiting(_ context.Context, executionID string, cause error) error {
	r.failed[executionID] = cause

	return nil
}

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelError}))
}

func seedTimer(t *testing.T, backend *memory.Persistence, executionID string, resumeAt time.Time, epoch, attempts int) {
	t.Helper()

	require.NoError(t, backend.Timers().Schedule(context.Background(), &models.Timer{
		ExecutionID: executionID,
		ResumeAt:    resumeAt,
		Epoch:       epoch,
		Attempts:    attempts,
	}))
}

func TestTimerScheduler_ScheduleAndCancel(t *testing.T) {
	ctx := context.Background()
	backend := memory.NewPersistence()
	scheduler := NewTimerScheduler(backend.Timers(), testLogger())

	resumeAt := time.Now().UTC().Add(time.Hour)
	require.NoError(t, scheduler.ScheduleResume(ctx, "exec-1", resumeAt, 2))

	due, err := backend.Timers().Due(ctx, resumeAt, 10)
	require.NoError(t, err)
	require.Len(t, due, 1)
	assert.Equal(t, "exec-1", due[0].ExecutionID)
	assert.Equal(t, 2, due[0].Epoch)

	require.NoError(t, scheduler.CancelResume(ctx, "exec-1"))

	// Cancelling an execution without a timer is not an error.
	require.NoError(t, scheduler.CancelResume(ctx, "exec-1"))
}

func TestTimerScheduler_ScheduleReplacesExisting(t *testing.T) {
	ctx := context.Background()
	backend := memory.NewPersistence()
	scheduler := NewTimerScheduler(backend.Timers(), testLogger())

	require.NoError(t, scheduler.ScheduleResume(ctx, "exec-1", time.Now().UTC().Add(time.Hour), 0))
	require.NoError(t, scheduler.ScheduleResume(ctx, "exec-1", time.Now().UTC().Add(2*time.Hour), 1))

	due, err := backend.Timers().Due(ctx, time.Now().UTC().Add(3*time.Hour), 10)
	require.NoError(t, err)
	require.Len(t, due, 1)
	assert.Equal(t, 1, due[0].Epoch)
}

func TestDispatcher_DeliversDueTimers(t *testing.T) {
	ctx := context.Background()
	backend := memory.NewPersistence()
	resumer := newFakeResumer()
	dispatcher := NewDispatcher(backend.Timers(), resumer, testLogger(), WithWorkers(2))

	now := time.Now().UTC()
	seedTimer(t, backend, "exec-due", now.Add(-time.Minute), 3, 0)
	seedTimer(t, backend, "exec-future", now.Add(time.Hour), 0, 0)

	dispatcher.dispatchDue(ctx)

	require.Len(t, resumer.resumed, 1)
	assert.Equal(t, "exec-due", resumer.resumed[0].executionID)
	assert.Equal(t, 3, resumer.resumed[0].epoch)

	// The delivered timer is gone; the future one remains.
	remaining, err := backend.Timers().Due(ctx, now.Add(2*time.Hour), 10)
	require.NoError(t, err)
	require.Len(t, remaining, 1)
	assert.Equal(t, "exec-future", remaining[0].ExecutionID)
}

func TestDispatcher_DropsStaleTimer(t *testing.T) {
	ctx := context.Background()
	backend := memory.NewPersistence()
	resumer := newFakeResumer()
	resumer.resumeErr = execution.ErrStaleResume
	dispatcher := NewDispatcher(backend.Timers(), resumer, testLogger())

	seedTimer(t, backend, "exec-1", time.Now().UTC().Add(-time.Minute), 0, 0)

	dispatcher.dispatchDue(ctx)

	assert.Empty(t, resumer.failed)

	remaining, err := backend.Timers().Due(ctx, time.Now().UTC().Add(time.Hour), 10)
	require.NoError(t, err)
	assert.Empty(t, remaining, "stale timer must be deleted, not retried")
}

func TestDispatcher_DropsTimerForTerminalExecution(t *testing.T) {
	ctx := context.Background()
	backend := memory.NewPersistence()
	resumer := newFakeResumer()
	resumer.resumeErr = execution.ErrNotWaiting
	dispatcher := NewDispatcher(backend.Timers(), resumer, testLogger())

	seedTimer(t, backend, "exec-1", time.Now().UTC().Add(-time.Minute), 0, 0)

	dispatcher.dispatchDue(ctx)

	assert.Empty(t, resumer.failed)

	remaining, err := backend.Timers().Due(ctx, time.Now().UTC().Add(time.Hour), 10)
	require.NoError(t, err)
	assert.Empty(t, remaining)
}

func TestDispatcher_BacksOffTransientFailure(t *testing.T) {
	ctx := context.Background()
	backend := memory.NewPersistence()
	resumer := newFakeResumer()
	resumer.resumeErr = errors.New("engine unavailable")
	dispatcher := NewDispatcher(backend.Timers(), resumer, testLogger())

	now := time.Now().UTC()
	seedTimer(t, backend, "exec-1", now.Add(-time.Minute), 0, 0)

	dispatcher.dispatchDue(ctx)

	assert.Empty(t, resumer.failed)

	// The timer is pushed into the future with one attempt burned.
	rescheduled, err := backend.Timers().Due(ctx, now.Add(time.Hour), 10)
	require.NoError(t, err)
	require.Len(t, rescheduled, 1)
	assert.Equal(t, 1, rescheduled[0].Attempts)
	assert.True(t, rescheduled[0].ResumeAt.After(now))
}

func TestDispatcher_ExhaustedTimerFailsExecution(t *testing.T) {
	ctx := context.Background()
	backend := memory.NewPersistence()
	resumer := newFakeResumer()
	resumer.resumeErr = errors.New("engine unavailable")
	dispatcher := NewDispatcher(backend.Timers(), resumer, testLogger(), WithMaxAttempts(3))

	seedTimer(t, backend, "exec-1", time.Now().UTC().Add(-time.Minute), 0, 2)

	dispatcher.dispatchDue(ctx)

	require.Contains(t, resumer.failed, "exec-1")
	assert.ErrorIs(t, resumer.failed["exec-1"], ErrResumeExhausted)

	remaining, err := backend.Timers().Due(ctx, time.Now().UTC().Add(time.Hour), 10)
	require.NoError(t, err)
	assert.Empty(t, remaining)
}

func TestDispatcher_StartStopIdempotent(t *testing.T) {
	ctx := context.Background()
	backend := memory.NewPersistence()
	dispatcher := NewDispatcher(backend.Timers(), newFakeResumer(), testLogger(),
		WithPollInterval(time.Hour))

	require.NoError(t, dispatcher.Start(ctx))
	require.NoError(t, dispatcher.Start(ctx))
	require.NoError(t, dispatcher.Stop(ctx))
	require.NoError(t, dispatcher.Stop(ctx))
}
