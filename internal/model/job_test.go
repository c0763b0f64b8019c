package model

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestJob_StateMachine(t *testing.T) {
	t.Run("start from pending", func(t *testing.T) {
		job := &Job{Status: JobStatusPending}
		require.NoError(t, job.Start())
		assert.Equal(t, JobStatusRunning, job.Status)
		assert.NotNil(t, job.StartedAt)
	})

	t.Run("start from waiting", func(t *testing.T) {
		job := &Job{Status: JobStatusWaiting}
		require.NoError(t, job.Start())
		assert.Equal(t, JobStatusRunning, job.Status)
	})

	t.Run("start from running is rejected", func(t *testing.T) {
		job := &Job{Status: JobStatusRunning}
		assert.ErrorIs(t, job.Start(), ErrJobNotStartable)
	})

	t.Run("started_at only stamped once", func(t *testing.T) {
		job := &Job{Status: JobStatusPending}
		require.NoError(t, job.Start())
		first := job.StartedAt

		// 锁竞争退回等待再重新启动，开始时间不变
		require.NoError(t, job.Wait())
		require.NoError(t, job.Start())
		assert.Equal(t, first, job.StartedAt)
	})

	t.Run("complete sets progress 100", func(t *testing.T) {
		job := &Job{Status: JobStatusRunning, Progress: 60}
		require.NoError(t, job.Complete())
		assert.Equal(t, JobStatusCompleted, job.Status)
		assert.Equal(t, 100, job.Progress)
		assert.NotNil(t, job.CompletedAt)
	})

	t.Run("fail keeps last progress", func(t *testing.T) {
		job := &Job{Status: JobStatusRunning, Progress: 60}
		require.NoError(t, job.Fail("ai gateway error"))
		assert.Equal(t, JobStatusFailed, job.Status)
		assert.Equal(t, 60, job.Progress)
		assert.Equal(t, "ai gateway error", job.ErrorMessage)
	})

	t.Run("cancel from waiting", func(t *testing.T) {
		job := &Job{Status: JobStatusWaiting}
		require.NoError(t, job.Cancel())
		assert.Equal(t, JobStatusCancelled, job.Status)
	})

	t.Run("skip records reason", func(t *testing.T) {
		job := &Job{Status: JobStatusPending}
		require.NoError(t, job.Skip("branch not in scope"))
		assert.Equal(t, JobStatusSkipped, job.Status)
		assert.Equal(t, "branch not in scope", job.ErrorMessage)
		assert.Equal(t, 100, job.Progress)
	})

	t.Run("terminal states reject all transitions", func(t *testing.T) {
		for _, status := range []string{JobStatusCompleted, JobStatusFailed, JobStatusCancelled, JobStatusSkipped} {
			job := &Job{Status: status}
			assert.True(t, job.IsTerminal(), status)
			assert.Error(t, job.Start(), status)
			assert.ErrorIs(t, job.Wait(), ErrJobTerminal, status)
			assert.ErrorIs(t, job.Complete(), ErrJobTerminal, status)
			assert.ErrorIs(t, job.Fail("x"), ErrJobTerminal, status)
			assert.ErrorIs(t, job.Cancel(), ErrJobTerminal, status)
			assert.ErrorIs(t, job.Skip("x"), ErrJobTerminal, status)
		}
	})

	t.Run("waiting is not terminal", func(t *testing.T) {
		job := &Job{Status: JobStatusWaiting}
		assert.False(t, job.IsTerminal())
	})
}

func TestJob_SetProgress(t *testing.T) {
	job := &Job{Status: JobStatusRunning, Progress: 40}

	// 单调不减：回退被忽略
	job.SetProgress(25)
	assert.Equal(t, 40, job.Progress)

	job.SetProgress(60)
	assert.Equal(t, 60, job.Progress)

	// 超过 100 截断
	job.SetProgress(150)
	assert.Equal(t, 100, job.Progress)

	// 终态后不再变化
	require.NoError(t, job.Fail("boom"))
	job.SetProgress(99)
	assert.Equal(t, 100, job.Progress)
}
