package supervisor

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeRunner blocks until stopped, or fails immediately when crash is
// set.
type fakeRunner struct {
	crash  bool
	stopCh chan struct{}
	once   sync.Once
}

func newFakeRunner(crash bool) *fakeRunner {
	return &fakeRunner{crash: crash, stopCh: make(chan struct{})}
}

func (f *fakeRunner) Run(ctx context.Context) error {
	if f.crash {
		return context.DeadlineExceeded
	}
	select {
	case <-f.stopCh:
		return nil
	case <-ctx.Done():
		return nil
	}
}

func (f *fakeRunner) Stop(grace time.Duration) {
	f.once.Do(func() { close(f.stopCh) })
}

func TestSupervisorStartsConfiguredWorkerCount(t *testing.T) {
	var started atomic.Int32
	s := NewSupervisor(Config{
		Workers: 3,
		Grace:   time.Second,
		Factory: func(name string) Runner {
			started.Add(1)
			return newFakeRunner(false)
		},
	})
	s.Start()

	require.Eventually(t, func() bool {
		return started.Load() == 3
	}, 2*time.Second, 10*time.Millisecond)

	s.Stop()
	assert.Equal(t, int32(3), started.Load(), "healthy workers must not be restarted")
}

func TestSupervisorRestartsCrashedWorker(t *testing.T) {
	var builds atomic.Int32
	s := NewSupervisor(Config{
		Workers:        1,
		Grace:          time.Second,
		RestartBackoff: 5 * time.Millisecond,
		MaxRestarts:    100,
		Factory: func(name string) Runner {
			// First instance crashes; replacements stay up.
			return newFakeRunner(builds.Add(1) == 1)
		},
	})
	s.Start()

	require.Eventually(t, func() bool {
		return builds.Load() >= 2
	}, 2*time.Second, 10*time.Millisecond, "crashed worker should be replaced")

	s.Stop()
}

func TestSupervisorGivesUpAfterRestartBudget(t *testing.T) {
	s := NewSupervisor(Config{
		Workers:        1,
		Grace:          time.Second,
		RestartBackoff: time.Millisecond,
		MaxRestarts:    3,
		RestartWindow:  time.Minute,
		Factory: func(name string) Runner {
			return newFakeRunner(true)
		},
	})
	s.Start()

	select {
	case err := <-s.Done():
		assert.ErrorContains(t, err, "giving up")
	case <-time.After(5 * time.Second):
		t.Fatal("supervisor never declared the slot fatal")
	}

	s.Stop()
}

func TestSupervisorStopIsIdempotentDuringBackoff(t *testing.T) {
	var builds atomic.Int32
	s := NewSupervisor(Config{
		Workers:        1,
		Grace:          time.Second,
		RestartBackoff: time.Hour, // park the slot in backoff
		MaxRestarts:    100,
		Factory: func(name string) Runner {
			builds.Add(1)
			return newFakeRunner(true)
		},
	})
	s.Start()

	require.Eventually(t, func() bool {
		return builds.Load() == 1
	}, 2*time.Second, 10*time.Millisecond)

	done := make(chan struct{})
	go func() {
		s.Stop()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Stop did not interrupt restart backoff")
	}
}
