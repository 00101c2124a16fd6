package supervisor

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/vcon-dev/vcon-server-sub000/pkg/log"
	"github.com/vcon-dev/vcon-server-sub000/pkg/metrics"
)

// Runner is one supervised processing loop. Run blocks until Stop is
// called or the loop fails; Stop waits up to grace for in-flight work.
type Runner interface {
	Run(ctx context.Context) error
	Stop(grace time.Duration)
}

// Factory builds a fresh Runner for the named slot. A restarted worker
// is always a new instance; loops hold no state worth preserving.
type Factory func(name string) Runner

// Config holds supervisor construction parameters
type Config struct {
	Factory Factory
	Workers int
	Grace   time.Duration

	// Restart policy. Zero values take the defaults below.
	RestartBackoff time.Duration
	MaxRestarts    int
	RestartWindow  time.Duration
}

const (
	defaultRestartBackoff = time.Second
	defaultMaxRestarts    = 5
	defaultRestartWindow  = 5 * time.Minute
	maxRestartBackoff     = 30 * time.Second
)

// Supervisor keeps a fixed pool of workers alive. A worker that exits
// unexpectedly is restarted with exponential backoff; a worker slot that
// keeps crashing inside the restart window is declared fatal, which
// surfaces on Done so the process can exit rather than flap forever.
type Supervisor struct {
	cfg Config

	mu       sync.Mutex
	runners  map[string]Runner
	stopping bool

	stopCh   chan struct{}
	stopOnce sync.Once
	wg       sync.WaitGroup
	fatalCh  chan error
}

// NewSupervisor creates a supervisor instance
func NewSupervisor(cfg Config) *Supervisor {
	if cfg.RestartBackoff <= 0 {
		cfg.RestartBackoff = defaultRestartBackoff
	}
	if cfg.MaxRestarts <= 0 {
		cfg.MaxRestarts = defaultMaxRestarts
	}
	if cfg.RestartWindow <= 0 {
		cfg.RestartWindow = defaultRestartWindow
	}
	return &Supervisor{
		cfg:     cfg,
		runners: make(map[string]Runner),
		stopCh:  make(chan struct{}),
		fatalCh: make(chan error, cfg.Workers),
	}
}

// Start launches the worker pool
func (s *Supervisor) Start() {
	logger := log.WithComponent("supervisor")
	logger.Info().Int("workers", s.cfg.Workers).Msg("starting worker pool")
	for i := 0; i < s.cfg.Workers; i++ {
		name := fmt.Sprintf("worker-%d", i)
		s.wg.Add(1)
		go s.supervise(name)
	}
}

// Done reports a fatal condition: a worker slot exceeded its restart
// budget. The process should treat this as unrecoverable.
func (s *Supervisor) Done() <-chan error {
	return s.fatalCh
}

// Stop shuts down every worker, giving each up to the configured grace
// period, and waits for all supervision loops to exit.
func (s *Supervisor) Stop() {
	s.mu.Lock()
	s.stopping = true
	runners := make([]Runner, 0, len(s.runners))
	for _, r := range s.runners {
		runners = append(runners, r)
	}
	s.mu.Unlock()

	s.stopOnce.Do(func() { close(s.stopCh) })

	var wg sync.WaitGroup
	for _, r := range runners {
		wg.Add(1)
		go func(r Runner) {
			defer wg.Done()
			r.Stop(s.cfg.Grace)
		}(r)
	}
	wg.Wait()
	s.wg.Wait()
	logger := log.WithComponent("supervisor")
	logger.Info().Msg("worker pool stopped")
}

// supervise owns one worker slot: run, and on unexpected exit restart
// with backoff until the restart budget for the window is spent.
func (s *Supervisor) supervise(name string) {
	defer s.wg.Done()
	logger := log.WithComponent("supervisor").With().Str("worker", name).Logger()

	var restarts []time.Time
	backoff := s.cfg.RestartBackoff

	for {
		r := s.cfg.Factory(name)
		if !s.setRunner(name, r) {
			return
		}
		err := r.Run(context.Background())
		s.clearRunner(name)

		if s.isStopping() {
			return
		}

		if err != nil {
			logger.Error().Err(err).Msg("worker exited unexpectedly")
		} else {
			logger.Error().Msg("worker loop returned without shutdown request")
		}

		now := time.Now()
		restarts = append(restarts, now)
		restarts = pruneOlderThan(restarts, now.Add(-s.cfg.RestartWindow))
		if len(restarts) > s.cfg.MaxRestarts {
			fatal := fmt.Errorf("worker %s restarted %d times within %s, giving up", name, len(restarts), s.cfg.RestartWindow)
			logger.Error().Err(fatal).Msg("restart budget exhausted")
			s.fatalCh <- fatal
			return
		}

		metrics.WorkerRestarts.Inc()
		logger.Warn().Dur("backoff", backoff).Int("recent_restarts", len(restarts)).Msg("restarting worker")
		select {
		case <-s.stopCh:
			return
		case <-time.After(backoff):
		}
		backoff *= 2
		if backoff > maxRestartBackoff {
			backoff = maxRestartBackoff
		}
	}
}

func pruneOlderThan(ts []time.Time, cutoff time.Time) []time.Time {
	kept := ts[:0]
	for _, t := range ts {
		if t.After(cutoff) {
			kept = append(kept, t)
		}
	}
	return kept
}

// setRunner registers the slot's current runner. It refuses during
// shutdown so Stop's snapshot always covers every running worker.
func (s *Supervisor) setRunner(name string, r Runner) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.stopping {
		return false
	}
	s.runners[name] = r
	return true
}

func (s *Supervisor) clearRunner(name string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.runners, name)
}

func (s *Supervisor) isStopping() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.stopping
}
