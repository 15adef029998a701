package jobs

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func fastScheduler() *Scheduler {
	return NewScheduler(&SchedulerConfig{Resolution: 5 * time.Millisecond})
}

func TestScheduler_RunsOnInterval(t *testing.T) {
	s := fastScheduler()
	var runs atomic.Int32
	s.Register(&CronJob{
		ID:       "count",
		Schedule: Every(10 * time.Millisecond),
		Enabled:  true,
		Task: func(context.Context) error {
			runs.Add(1)
			return nil
		},
	})

	s.Start(context.Background())
	assert.Eventually(t, func() bool { return runs.Load() >= 3 }, time.Second, 5*time.Millisecond)
	s.Stop()

	after := runs.Load()
	time.Sleep(40 * time.Millisecond)
	assert.Equal(t, after, runs.Load(), "no runs after Stop")
}

func TestScheduler_DisabledJobDoesNotRun(t *testing.T) {
	s := fastScheduler()
	var runs atomic.Int32
	s.Register(&CronJob{
		ID:       "off",
		Schedule: Every(time.Millisecond),
		Task: func(context.Context) error {
			runs.Add(1)
			return nil
		},
	})

	s.Start(context.Background())
	time.Sleep(30 * time.Millisecond)
	assert.Zero(t, runs.Load())

	s.Enable("off")
	assert.Eventually(t, func() bool { return runs.Load() > 0 }, time.Second, 5*time.Millisecond)
	require.NoError(t, s.Close(context.Background()))
}

func TestScheduler_FailingAndPanickingJobsKeepRunning(t *testing.T) {
	s := fastScheduler()
	var failing, panicking atomic.Int32
	s.Register(&CronJob{
		ID: "fail", Schedule: Every(time.Millisecond), Enabled: true,
		Task: func(context.Context) error {
			failing.Add(1)
			return errors.New("nope")
		},
	})
	s.Register(&CronJob{
		ID: "panic", Schedule: Every(time.Millisecond), Enabled: true,
		Task: func(context.Context) error {
			panicking.Add(1)
			panic("boom")
		},
	})

	s.Start(context.Background())
	assert.Eventually(t, func() bool {
		return failing.Load() >= 2 && panicking.Load() >= 2
	}, time.Second, 5*time.Millisecond)
	s.Stop()
}

func TestScheduler_RunNowAndList(t *testing.T) {
	s := fastScheduler()
	s.Register(&CronJob{ID: "b", Schedule: Every(time.Hour), Task: func(context.Context) error { return nil }})
	s.Register(&CronJob{ID: "a", Schedule: Every(time.Hour), Task: func(context.Context) error { panic("x") }})

	assert.NoError(t, s.RunNow(context.Background(), "b"))
	assert.ErrorContains(t, s.RunNow(context.Background(), "a"), "panic: x")
	assert.Error(t, s.RunNow(context.Background(), "missing"))

	list := s.List()
	require.Len(t, list, 2)
	assert.Equal(t, "a", list[0].ID)

	next, ok := s.NextRun("b")
	assert.True(t, ok)
	assert.True(t, next.After(time.Now().Add(59*time.Minute)))

	s.Unregister("b")
	_, ok = s.NextRun("b")
	assert.False(t, ok)
}

type fakeStreams struct {
	heartbeats atomic.Int32
	cleanups   atomic.Int32
	timeout    atomic.Int64
}

func (f *fakeStreams) SendHeartbeat(context.Context) int {
	f.heartbeats.Add(1)
	return 3
}

func (f *fakeStreams) CleanupStaleConnections(timeout time.Duration) int {
	f.cleanups.Add(1)
	f.timeout.Store(int64(timeout))
	return 1
}

func TestRegisterStreamJobs(t *testing.T) {
	s := fastScheduler()
	streams := &fakeStreams{}
	RegisterStreamJobs(s, streams, &StreamJobsConfig{
		HeartbeatInterval: 10 * time.Millisecond,
		CleanupInterval:   10 * time.Millisecond,
		StaleTimeout:      time.Minute,
	})
	require.Len(t, s.List(), 2)

	s.Start(context.Background())
	defer s.Stop()
	assert.Eventually(t, func() bool {
		return streams.heartbeats.Load() > 0 && streams.cleanups.Load() > 0
	}, time.Second, 5*time.Millisecond)
	assert.Equal(t, int64(time.Minute), streams.timeout.Load())
}

func TestRegisterStreamJobs_ZeroIntervalSkips(t *testing.T) {
	s := fastScheduler()
	RegisterStreamJobs(s, &fakeStreams{}, &StreamJobsConfig{CleanupInterval: time.Minute})

	list := s.List()
	require.Len(t, list, 1)
	assert.Equal(t, "stream-cleanup", list[0].ID)
}
