package chain

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/vcon-dev/vcon-server-sub000/pkg/cache"
	"github.com/vcon-dev/vcon-server-sub000/pkg/config"
	"github.com/vcon-dev/vcon-server-sub000/pkg/log"
	"github.com/vcon-dev/vcon-server-sub000/pkg/metrics"
	"github.com/vcon-dev/vcon-server-sub000/pkg/queue"
	"github.com/vcon-dev/vcon-server-sub000/pkg/registry"
	"github.com/vcon-dev/vcon-server-sub000/pkg/types"
)

// Outcome classifies one chain execution.
type Outcome string

const (
	// OutcomeSuccess: all stages ran, at least one storage persisted
	// (or none were configured), UUID emitted to egress queues.
	OutcomeSuccess Outcome = "success"
	// OutcomeFiltered: a stage returned no UUID; clean halt, no
	// storage fan-out, no egress, no DLQ.
	OutcomeFiltered Outcome = "filtered"
	// OutcomeFailed: a stage errored or every storage failed; the
	// original UUID went to the chain's DLQ.
	OutcomeFailed Outcome = "failed"
)

// MarkerKeyPrefix prefixes the failure-marker keys written next to DLQ
// entries.
const MarkerKeyPrefix = "DLQ:marker:"

// MarkerKey returns the failure-marker key for a UUID.
func MarkerKey(uuid string) string {
	return MarkerKeyPrefix + uuid
}

// Result reports one execution of a chain for one UUID.
type Result struct {
	Outcome        Outcome
	FinalUUID      string
	FailedStage    string
	Classification types.Classification
	Err            error
	FailedStorages []string
}

// Executor runs one vCon through a chain: sequential stages with
// filter/halt semantics, storage fan-out, failure classification, DLQ
// placement and egress emission.
type Executor struct {
	client   *queue.Client
	cache    *cache.Cache
	registry *registry.Registry
	settings config.Settings
}

// NewExecutor wires an executor over the shared Redis client, cache and
// stage registry.
func NewExecutor(client *queue.Client, c *cache.Cache, reg *registry.Registry, settings config.Settings) *Executor {
	return &Executor{
		client:   client,
		cache:    c,
		registry: reg,
		settings: settings,
	}
}

// Execute runs uuid through the chain. The entry UUID is what lands on
// the DLQ when a stage fails, even if an earlier stage had already
// handed processing to a different document.
func (e *Executor) Execute(ctx context.Context, chainCfg *config.ChainConfig, uuid string) Result {
	logger := log.WithChain(chainCfg.Name).With().Str("vcon_uuid", uuid).Logger()
	chainTimer := metrics.NewTimer()

	currentUUID := uuid
	for _, ref := range chainCfg.Stages {
		next, err := e.runStage(ctx, chainCfg, ref, currentUUID)
		if err != nil {
			classification := registry.Classify(err)
			logger.Error().Err(err).
				Str("stage", ref.Name).
				Str("classification", string(classification)).
				Msg("stage failed, halting chain")
			e.deadLetter(ctx, chainCfg, uuid, ref.Name, classification, err)
			return e.finish(chainCfg, chainTimer, Result{
				Outcome:        OutcomeFailed,
				FinalUUID:      currentUUID,
				FailedStage:    ref.Name,
				Classification: classification,
				Err:            err,
			})
		}
		if next == "" {
			logger.Debug().Str("stage", ref.Name).Msg("stage filtered item")
			return e.finish(chainCfg, chainTimer, Result{
				Outcome:   OutcomeFiltered,
				FinalUUID: currentUUID,
			})
		}
		if next != currentUUID {
			// The stage handed processing to another document. The new
			// UUID must exist; continuing a chain on a phantom item is
			// a permanent failure. The original is not re-enqueued.
			if _, err := e.cache.Get(ctx, next); err != nil {
				err = registry.Permanent(fmt.Errorf("stage %s returned unknown uuid %s: %w", ref.Name, next, err))
				logger.Error().Err(err).Str("stage", ref.Name).Msg("stage returned unknown uuid")
				e.deadLetter(ctx, chainCfg, uuid, ref.Name, types.ClassificationPermanent, err)
				return e.finish(chainCfg, chainTimer, Result{
					Outcome:        OutcomeFailed,
					FinalUUID:      currentUUID,
					FailedStage:    ref.Name,
					Classification: types.ClassificationPermanent,
					Err:            err,
				})
			}
			logger.Info().
				Str("stage", ref.Name).
				Str("next_uuid", next).
				Msg("stage transferred processing to another vcon")
		}
		currentUUID = next
	}

	failed := e.fanOut(ctx, chainCfg, currentUUID)
	if len(chainCfg.Storages) > 0 && len(failed) == len(chainCfg.Storages) {
		err := fmt.Errorf("all %d storages failed", len(chainCfg.Storages))
		logger.Error().Err(err).Msg("total storage failure, halting chain")
		e.deadLetter(ctx, chainCfg, uuid, "storage", types.ClassificationRecoverable, err)
		return e.finish(chainCfg, chainTimer, Result{
			Outcome:        OutcomeFailed,
			FinalUUID:      currentUUID,
			FailedStage:    "storage",
			Classification: types.ClassificationRecoverable,
			Err:            err,
			FailedStorages: failed,
		})
	}

	for _, egress := range chainCfg.EgressQueues {
		if err := e.client.PushRight(ctx, egress, currentUUID); err != nil {
			logger.Error().Err(err).Str("queue", egress).Msg("egress push failed")
		}
	}

	return e.finish(chainCfg, chainTimer, Result{
		Outcome:        OutcomeSuccess,
		FinalUUID:      currentUUID,
		FailedStorages: failed,
	})
}

func (e *Executor) finish(chainCfg *config.ChainConfig, timer *metrics.Timer, r Result) Result {
	timer.ObserveDuration(metrics.ChainDuration.WithLabelValues(chainCfg.Name))
	metrics.ChainExecutions.WithLabelValues(chainCfg.Name, string(r.Outcome)).Inc()
	return r
}

// runStage invokes one link under the chain's per-stage time bound with
// chain-level options merged over the stage's declared defaults.
func (e *Executor) runStage(ctx context.Context, chainCfg *config.ChainConfig, ref config.StageRef, uuid string) (string, error) {
	link, defaults, err := e.registry.ResolveLink(ref.Name)
	if err != nil {
		return "", registry.Permanent(err)
	}
	opts := config.Options(defaults).Merge(ref.Options)

	sctx, cancel := context.WithTimeout(ctx, e.stageTimeout(chainCfg))
	defer cancel()

	timer := metrics.NewTimer()
	next, err := link.Run(sctx, uuid, opts)
	timer.ObserveDuration(metrics.StageDuration.WithLabelValues(chainCfg.Name, ref.Name))

	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) || errors.Is(sctx.Err(), context.DeadlineExceeded) {
			return "", registry.Recoverable(fmt.Errorf("stage %s timed out after %s: %w",
				ref.Name, e.stageTimeout(chainCfg), err))
		}
		return "", err
	}
	return next, nil
}

func (e *Executor) stageTimeout(chainCfg *config.ChainConfig) time.Duration {
	if chainCfg.Timeout > 0 {
		return chainCfg.Timeout.Std()
	}
	return e.settings.StageTimeout
}

// fanOut dispatches save calls to every configured storage and returns
// the names of the ones that failed. Siblings are independent: one
// failure never cancels the others.
func (e *Executor) fanOut(ctx context.Context, chainCfg *config.ChainConfig, uuid string) []string {
	if len(chainCfg.Storages) == 0 {
		return nil
	}

	errs := make([]error, len(chainCfg.Storages))
	if e.settings.FanoutMode == config.FanoutSequential {
		for i, name := range chainCfg.Storages {
			errs[i] = e.save(ctx, chainCfg, name, uuid)
		}
	} else {
		var wg sync.WaitGroup
		for i, name := range chainCfg.Storages {
			wg.Add(1)
			go func(i int, name string) {
				defer wg.Done()
				errs[i] = e.save(ctx, chainCfg, name, uuid)
			}(i, name)
		}
		wg.Wait()
	}

	var failed []string
	logger := log.WithChain(chainCfg.Name)
	for i, err := range errs {
		if err != nil {
			failed = append(failed, chainCfg.Storages[i])
			metrics.StorageFailures.WithLabelValues(chainCfg.Storages[i]).Inc()
			logger.Error().Err(err).
				Str("storage", chainCfg.Storages[i]).
				Str("vcon_uuid", uuid).
				Msg("storage save failed")
		}
	}
	return failed
}

func (e *Executor) save(ctx context.Context, chainCfg *config.ChainConfig, name, uuid string) error {
	storage, opts, err := e.registry.ResolveStorage(name)
	if err != nil {
		return err
	}

	// Each save gets its own deadline equal to the stage timeout.
	sctx, cancel := context.WithTimeout(ctx, e.stageTimeout(chainCfg))
	defer cancel()

	timer := metrics.NewTimer()
	err = storage.Save(sctx, uuid, opts)
	timer.ObserveDuration(metrics.StorageDuration.WithLabelValues(name))
	return err
}

// deadLetter places the original UUID on the chain's DLQ (named after
// its first ingress queue), extends the document TTL to the DLQ
// retention value, and writes a structured failure marker alongside.
func (e *Executor) deadLetter(ctx context.Context, chainCfg *config.ChainConfig, uuid, stage string, classification types.Classification, cause error) {
	dlq := queue.DLQName(chainCfg.IngressQueues[0])
	logger := log.WithChain(chainCfg.Name)

	if err := e.client.PushRight(ctx, dlq, uuid); err != nil {
		logger.Error().Err(err).Str("queue", dlq).Msg("DLQ push failed")
		return
	}
	if err := e.cache.ExtendTTL(ctx, uuid, e.cache.DLQTTL()); err != nil {
		logger.Warn().Err(err).Str("vcon_uuid", uuid).Msg("failed to extend TTL for DLQ entry")
	}

	marker := types.FailureMarker{
		UUID:           uuid,
		Chain:          chainCfg.Name,
		Stage:          stage,
		Classification: classification,
		Error:          cause.Error(),
		FailedAt:       time.Now().UTC(),
	}
	if err := e.client.SetJSON(ctx, MarkerKey(uuid), marker, e.cache.DLQTTL()); err != nil {
		logger.Warn().Err(err).Str("vcon_uuid", uuid).Msg("failed to write failure marker")
	}

	metrics.DLQPlacements.WithLabelValues(chainCfg.IngressQueues[0], string(classification)).Inc()
}
