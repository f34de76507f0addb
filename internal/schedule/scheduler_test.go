package schedule

import (
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestScheduler_After(t *testing.T) {
	s := New()
	done := make(chan struct{})

	_, err := s.After(5*time.Millisecond, func() { close(done) })
	require.NoError(t, err)

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("task did not run")
	}
	assert.Eventually(t, func() bool { return s.Pending() == 0 }, time.Second, 5*time.Millisecond)
}

func TestTask_Cancel(t *testing.T) {
	s := New()
	var ran atomic.Bool

	task, err := s.After(50*time.Millisecond, func() { ran.Store(true) })
	require.NoError(t, err)
	assert.Equal(t, 1, s.Pending())

	assert.True(t, task.Cancel())
	assert.False(t, task.Cancel())
	assert.Equal(t, 0, s.Pending())

	time.Sleep(100 * time.Millisecond)
	assert.False(t, ran.Load())

	var nilTask *Task
	assert.False(t, nilTask.Cancel())
}

func TestScheduler_Stop(t *testing.T) {
	s := New()
	var ran atomic.Int32

	for i := 0; i < 3; i++ {
		_, err := s.After(time.Hour, func() { ran.Add(1) })
		require.NoError(t, err)
	}

	assert.Equal(t, 3, s.Stop())
	assert.Equal(t, 0, s.Pending())

	_, err := s.After(time.Millisecond, func() { ran.Add(1) })
	assert.ErrorIs(t, err, ErrStopped)

	time.Sleep(20 * time.Millisecond)
	assert.Equal(t, int32(0), ran.Load())
}
