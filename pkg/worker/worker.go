package worker

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/vcon-dev/vcon-server-sub000/pkg/chain"
	"github.com/vcon-dev/vcon-server-sub000/pkg/config"
	"github.com/vcon-dev/vcon-server-sub000/pkg/log"
	"github.com/vcon-dev/vcon-server-sub000/pkg/metrics"
	"github.com/vcon-dev/vcon-server-sub000/pkg/queue"
)

// maxConsecutivePopErrors before the worker gives up and lets the
// supervisor restart it.
const maxConsecutivePopErrors = 5

// Worker is one processing loop: it blocks on the union of all enabled
// chains' ingress queues, and runs every matching chain for each popped
// UUID serially. Workers hold no cross-item state; everything shared
// lives in Redis.
type Worker struct {
	name     string
	client   *queue.Client
	cfg      *config.Config
	executor *chain.Executor
	settings config.Settings

	stopCh   chan struct{}
	stopOnce sync.Once
	done     chan struct{}
	cancel   context.CancelFunc

	mu             sync.Mutex
	inflightUUID   string
	inflightQueue  string
	inflightActive bool
}

// Config holds worker construction parameters
type Config struct {
	Name     string
	Client   *queue.Client
	Cfg      *config.Config
	Executor *chain.Executor
	Settings config.Settings
}

// NewWorker creates a worker instance
func NewWorker(cfg *Config) *Worker {
	return &Worker{
		name:     cfg.Name,
		client:   cfg.Client,
		cfg:      cfg.Cfg,
		executor: cfg.Executor,
		settings: cfg.Settings,
		stopCh:   make(chan struct{}),
		done:     make(chan struct{}),
	}
}

// Run executes the worker loop until Stop is called or the context is
// cancelled. It returns an error only on persistent infrastructure
// failure, which the supervisor treats as an unexpected exit.
func (w *Worker) Run(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	w.cancel = cancel
	defer cancel()
	defer close(w.done)

	logger := log.WithComponent("worker").With().Str("worker", w.name).Logger()
	queues := w.cfg.IngressQueues()
	if len(queues) == 0 {
		logger.Warn().Msg("no enabled chains with ingress queues, worker idle")
		<-w.stopCh
		return nil
	}

	logger.Info().Strs("queues", queues).Msg("worker started")
	metrics.WorkersAlive.Inc()
	defer metrics.WorkersAlive.Dec()

	popErrors := 0
	for {
		select {
		case <-w.stopCh:
			logger.Info().Msg("worker stopping between items")
			return nil
		case <-ctx.Done():
			return nil
		default:
		}

		queueName, uuid, ok, err := w.client.BlockingPop(ctx, queues, w.settings.PopTimeout)
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			popErrors++
			logger.Error().Err(err).Int("consecutive", popErrors).Msg("pop failed")
			if popErrors >= maxConsecutivePopErrors {
				return fmt.Errorf("redis unreachable after %d attempts: %w", popErrors, err)
			}
			time.Sleep(time.Second)
			continue
		}
		popErrors = 0
		if !ok {
			// Timeout with nothing to pop; loop to re-check shutdown.
			continue
		}

		metrics.ItemsPopped.WithLabelValues(queueName).Inc()
		w.setInflight(uuid, queueName)
		w.dispatch(ctx, queueName, uuid)
		w.clearInflight()
	}
}

// dispatch runs every enabled chain subscribed to the popped queue,
// serially, so one worker bounds memory and external API concurrency.
// Chains are independent: one failing does not affect its siblings.
func (w *Worker) dispatch(ctx context.Context, queueName, uuid string) {
	logger := log.WithComponent("worker").With().
		Str("worker", w.name).
		Str("queue", queueName).
		Str("vcon_uuid", uuid).
		Logger()

	chains := w.cfg.ChainsForQueue(queueName)
	if len(chains) == 0 {
		logger.Warn().Msg("popped item with no matching enabled chain, dropping")
		return
	}

	for _, chainCfg := range chains {
		result := w.executor.Execute(ctx, chainCfg, uuid)
		logger.Info().
			Str("chain", chainCfg.Name).
			Str("outcome", string(result.Outcome)).
			Msg("chain executed")
	}
}

// Stop signals shutdown and waits for the worker to exit. A worker in
// the middle of a chain gets up to grace to finish; past that, the
// in-flight UUID is pushed back onto the head of its originating queue
// and the loop is cancelled. A worker between items exits immediately.
func (w *Worker) Stop(grace time.Duration) {
	w.stopOnce.Do(func() { close(w.stopCh) })

	select {
	case <-w.done:
		return
	case <-time.After(grace):
	}

	logger := log.WithComponent("worker").With().Str("worker", w.name).Logger()
	if uuid, queueName, active := w.inflight(); active {
		rctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := w.client.PushLeft(rctx, queueName, uuid); err != nil {
			logger.Error().Err(err).Str("vcon_uuid", uuid).Msg("failed to requeue in-flight item")
		} else {
			logger.Warn().Str("vcon_uuid", uuid).Str("queue", queueName).
				Msg("grace elapsed, requeued in-flight item at queue head")
		}
	}
	if w.cancel != nil {
		w.cancel()
	}
	<-w.done
}

func (w *Worker) setInflight(uuid, queueName string) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.inflightUUID = uuid
	w.inflightQueue = queueName
	w.inflightActive = true
}

func (w *Worker) clearInflight() {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.inflightActive = false
	w.inflightUUID = ""
	w.inflightQueue = ""
}

func (w *Worker) inflight() (uuid, queueName string, active bool) {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.inflightUUID, w.inflightQueue, w.inflightActive
}
