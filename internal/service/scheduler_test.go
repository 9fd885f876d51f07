package service

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fireRecorder struct {
	mu    sync.Mutex
	fired []string
}

func (r *fireRecorder) handler(sessionID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.fired = append(r.fired, sessionID)
}

func (r *fireRecorder) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.fired)
}

func TestSchedulerArmFires(t *testing.T) {
	scheduler := NewTerminationScheduler(testLogger())
	defer scheduler.Stop()

	recorder := &fireRecorder{}
	scheduler.SetHandler(recorder.handler)

	scheduler.Arm("s1", 10*time.Millisecond)
	require.True(t, scheduler.Armed("s1"))

	require.Eventually(t, func() bool {
		return recorder.count() == 1
	}, time.Second, 5*time.Millisecond)
	assert.False(t, scheduler.Armed("s1"), "fired timer leaves the table")
}

func TestSchedulerDisarmCancels(t *testing.T) {
	scheduler := NewTerminationScheduler(testLogger())
	defer scheduler.Stop()

	recorder := &fireRecorder{}
	scheduler.SetHandler(recorder.handler)

	scheduler.Arm("s1", 20*time.Millisecond)
	scheduler.Disarm("s1")
	assert.False(t, scheduler.Armed("s1"))

	time.Sleep(60 * time.Millisecond)
	assert.Zero(t, recorder.count())
}

func TestSchedulerReArmReplacesTimer(t *testing.T) {
	scheduler := NewTerminationScheduler(testLogger())
	defer scheduler.Stop()

	recorder := &fireRecorder{}
	scheduler.SetHandler(recorder.handler)

	scheduler.Arm("s1", time.Hour)
	scheduler.Arm("s1", 10*time.Millisecond)

	require.Eventually(t, func() bool {
		return recorder.count() == 1
	}, time.Second, 5*time.Millisecond)

	time.Sleep(30 * time.Millisecond)
	assert.Equal(t, 1, recorder.count(), "replaced timer must not fire twice")
}

func TestSchedulerDisarmUnknownIsNoOp(t *testing.T) {
	scheduler := NewTerminationScheduler(testLogger())
	defer scheduler.Stop()

	scheduler.Disarm("never-armed")
}
