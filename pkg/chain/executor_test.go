package chain

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vcon-dev/vcon-server-sub000/pkg/cache"
	"github.com/vcon-dev/vcon-server-sub000/pkg/config"
	"github.com/vcon-dev/vcon-server-sub000/pkg/queue"
	"github.com/vcon-dev/vcon-server-sub000/pkg/registry"
	"github.com/vcon-dev/vcon-server-sub000/pkg/types"
)

const testChainsYAML = `
stages:
  tag:
    module: append_tag
  sampler:
    module: sampler
  flaky:
    module: flaky
  fatal:
    module: fatal
  slow:
    module: slow
  deflect:
    module: deflect
    options:
      target: ""

storages:
  okA:
    module: mem
  okB:
    module: mem
  broken:
    module: mem
    options:
      fail: true

chains:
  demo:
    stages: [tag]
    storages: [okA, okB]
    ingress_queues: [q1]
    egress_queues: [eq1]
    timeout: 30s
  filtered:
    stages: [sampler, tag]
    storages: [okA]
    ingress_queues: [q2]
    egress_queues: [eq2]
  failing:
    stages: [flaky]
    storages: [okA]
    ingress_queues: [q3]
    egress_queues: [eq3]
  fatalchain:
    stages: [fatal]
    ingress_queues: [q3]
  partial:
    stages: [tag]
    storages: [okA, broken]
    ingress_queues: [q4]
    egress_queues: [eq4]
  total:
    stages: [tag]
    storages: [broken]
    ingress_queues: [q5]
    egress_queues: [eq5]
  nostorage:
    stages: [tag]
    ingress_queues: [q6]
    egress_queues: [eq6]
  slowchain:
    stages: [slow]
    ingress_queues: [q7]
    timeout: 100ms
  deflecting:
    stages: [deflect, tag]
    ingress_queues: [q8]
    egress_queues: [eq8]
`

type saveRecorder struct {
	mu    sync.Mutex
	saved map[string][]string
}

func (r *saveRecorder) record(storage, uuid string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.saved[storage] = append(r.saved[storage], uuid)
}

func (r *saveRecorder) uuids(storage string) []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.saved[storage]...)
}

type memStorage struct {
	name     string
	fail     bool
	recorder *saveRecorder
}

func (s *memStorage) Name() string { return s.name }

func (s *memStorage) Save(ctx context.Context, uuid string, opts config.Options) error {
	if s.fail {
		return errors.New("storage unavailable")
	}
	s.recorder.record(s.name, uuid)
	return nil
}

type testEnv struct {
	client   *queue.Client
	cache    *cache.Cache
	cfg      *config.Config
	exec     *Executor
	recorder *saveRecorder
	mr       *miniredis.Miniredis
}

func newTestEnv(t *testing.T, fanout string) *testEnv {
	t.Helper()
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { rdb.Close() })
	client := queue.NewClientFromRedis(rdb)

	c := cache.New(client, cache.Config{
		DocTTL:   time.Hour,
		IndexTTL: 24 * time.Hour,
		DLQTTL:   7 * 24 * time.Hour,
	})

	cfg, err := config.Parse([]byte(testChainsYAML))
	require.NoError(t, err)

	recorder := &saveRecorder{saved: make(map[string][]string)}
	reg := registry.New(cfg)
	reg.RegisterLinkModule("append_tag", func(stage string, defaults config.Options) (registry.Link, error) {
		return registry.LinkFunc(func(ctx context.Context, uuid string, opts config.Options) (string, error) {
			doc, err := c.Get(ctx, uuid)
			if err != nil {
				return "", err
			}
			if err := doc.SetTag("processed", "true"); err != nil {
				return "", err
			}
			return uuid, c.Put(ctx, doc)
		}), nil
	})
	reg.RegisterLinkModule("sampler", func(stage string, defaults config.Options) (registry.Link, error) {
		return registry.LinkFunc(func(ctx context.Context, uuid string, opts config.Options) (string, error) {
			return "", nil
		}), nil
	})
	reg.RegisterLinkModule("flaky", func(stage string, defaults config.Options) (registry.Link, error) {
		return registry.LinkFunc(func(ctx context.Context, uuid string, opts config.Options) (string, error) {
			return "", registry.Recoverable(errors.New("upstream 503"))
		}), nil
	})
	reg.RegisterLinkModule("fatal", func(stage string, defaults config.Options) (registry.Link, error) {
		return registry.LinkFunc(func(ctx context.Context, uuid string, opts config.Options) (string, error) {
			return "", registry.Permanent(errors.New("malformed vcon"))
		}), nil
	})
	reg.RegisterLinkModule("slow", func(stage string, defaults config.Options) (registry.Link, error) {
		return registry.LinkFunc(func(ctx context.Context, uuid string, opts config.Options) (string, error) {
			<-ctx.Done()
			return "", ctx.Err()
		}), nil
	})
	reg.RegisterLinkModule("deflect", func(stage string, defaults config.Options) (registry.Link, error) {
		return registry.LinkFunc(func(ctx context.Context, uuid string, opts config.Options) (string, error) {
			return opts.String("target", ""), nil
		}), nil
	})
	reg.RegisterStorageModule("mem", func(name string, opts config.Options) (registry.Storage, error) {
		fail, _ := opts["fail"].(bool)
		return &memStorage{name: name, fail: fail, recorder: recorder}, nil
	})

	settings := config.DefaultSettings()
	settings.FanoutMode = fanout
	settings.StageTimeout = 2 * time.Second

	return &testEnv{
		client:   client,
		cache:    c,
		cfg:      cfg,
		exec:     NewExecutor(client, c, reg, settings),
		recorder: recorder,
		mr:       mr,
	}
}

func (env *testEnv) seed(t *testing.T, uuid string) {
	t.Helper()
	require.NoError(t, env.cache.Put(context.Background(), &types.VCon{
		UUID:      uuid,
		Vcon:      "0.0.1",
		CreatedAt: "2024-01-01T00:00:00Z",
	}))
}

func (env *testEnv) queueItems(t *testing.T, q string) []string {
	t.Helper()
	items, err := env.client.Range(context.Background(), q, 0, -1)
	require.NoError(t, err)
	return items
}

func TestExecuteHappyPath(t *testing.T) {
	env := newTestEnv(t, config.FanoutParallel)
	ctx := context.Background()
	env.seed(t, "U1")

	result := env.exec.Execute(ctx, env.cfg.Chains["demo"], "U1")

	assert.Equal(t, OutcomeSuccess, result.Outcome)
	assert.Equal(t, "U1", result.FinalUUID)

	// The stage mutation is visible in the cache
	doc, err := env.cache.Get(ctx, "U1")
	require.NoError(t, err)
	assert.Equal(t, "true", doc.GetTag("processed"))

	// Both storages received the save, egress got the UUID, DLQ empty
	assert.Equal(t, []string{"U1"}, env.recorder.uuids("okA"))
	assert.Equal(t, []string{"U1"}, env.recorder.uuids("okB"))
	assert.Equal(t, []string{"U1"}, env.queueItems(t, "eq1"))
	assert.Empty(t, env.queueItems(t, "DLQ:q1"))
}

func TestExecuteFiltered(t *testing.T) {
	env := newTestEnv(t, config.FanoutParallel)
	ctx := context.Background()
	env.seed(t, "U2")

	result := env.exec.Execute(ctx, env.cfg.Chains["filtered"], "U2")

	assert.Equal(t, OutcomeFiltered, result.Outcome)

	// Downstream stages never ran
	doc, err := env.cache.Get(ctx, "U2")
	require.NoError(t, err)
	assert.Empty(t, doc.GetTag("processed"))

	assert.Empty(t, env.recorder.uuids("okA"))
	assert.Empty(t, env.queueItems(t, "eq2"))
	assert.Empty(t, env.queueItems(t, "DLQ:q2"))
}

func TestExecuteStageFailureGoesToDLQ(t *testing.T) {
	env := newTestEnv(t, config.FanoutParallel)
	ctx := context.Background()
	env.seed(t, "U3")

	result := env.exec.Execute(ctx, env.cfg.Chains["failing"], "U3")

	assert.Equal(t, OutcomeFailed, result.Outcome)
	assert.Equal(t, "flaky", result.FailedStage)
	assert.Equal(t, types.ClassificationRecoverable, result.Classification)

	assert.Empty(t, env.recorder.uuids("okA"))
	assert.Empty(t, env.queueItems(t, "eq3"))
	assert.Equal(t, []string{"U3"}, env.queueItems(t, "DLQ:q3"))

	// Document TTL was extended to the DLQ retention value
	assert.Greater(t, env.mr.TTL(cache.Key("U3")), 6*24*time.Hour)

	// Failure marker written alongside
	var marker types.FailureMarker
	ok, err := env.client.GetJSON(ctx, MarkerKey("U3"), &marker)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "failing", marker.Chain)
	assert.Equal(t, "flaky", marker.Stage)
	assert.Equal(t, types.ClassificationRecoverable, marker.Classification)
}

func TestExecutePermanentClassification(t *testing.T) {
	env := newTestEnv(t, config.FanoutParallel)
	ctx := context.Background()
	env.seed(t, "U3b")

	result := env.exec.Execute(ctx, env.cfg.Chains["fatalchain"], "U3b")

	assert.Equal(t, OutcomeFailed, result.Outcome)
	assert.Equal(t, types.ClassificationPermanent, result.Classification)

	var marker types.FailureMarker
	ok, err := env.client.GetJSON(ctx, MarkerKey("U3b"), &marker)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, types.ClassificationPermanent, marker.Classification)
}

func TestExecutePartialStorageFailureIsSuccess(t *testing.T) {
	env := newTestEnv(t, config.FanoutParallel)
	ctx := context.Background()
	env.seed(t, "U4")

	result := env.exec.Execute(ctx, env.cfg.Chains["partial"], "U4")

	assert.Equal(t, OutcomeSuccess, result.Outcome)
	assert.Equal(t, []string{"broken"}, result.FailedStorages)
	assert.Equal(t, []string{"U4"}, env.recorder.uuids("okA"))
	assert.Equal(t, []string{"U4"}, env.queueItems(t, "eq4"))
	assert.Empty(t, env.queueItems(t, "DLQ:q4"))
}

func TestExecuteTotalStorageFailureFailsChain(t *testing.T) {
	env := newTestEnv(t, config.FanoutParallel)
	ctx := context.Background()
	env.seed(t, "U5")

	result := env.exec.Execute(ctx, env.cfg.Chains["total"], "U5")

	assert.Equal(t, OutcomeFailed, result.Outcome)
	assert.Equal(t, "storage", result.FailedStage)
	assert.Empty(t, env.queueItems(t, "eq5"))
	assert.Equal(t, []string{"U5"}, env.queueItems(t, "DLQ:q5"))
}

func TestExecuteZeroStoragesStillEmitsEgress(t *testing.T) {
	env := newTestEnv(t, config.FanoutParallel)
	ctx := context.Background()
	env.seed(t, "U6")

	result := env.exec.Execute(ctx, env.cfg.Chains["nostorage"], "U6")

	assert.Equal(t, OutcomeSuccess, result.Outcome)
	assert.Equal(t, []string{"U6"}, env.queueItems(t, "eq6"))
}

func TestExecuteStageTimeoutIsRecoverable(t *testing.T) {
	env := newTestEnv(t, config.FanoutParallel)
	ctx := context.Background()
	env.seed(t, "U7")

	result := env.exec.Execute(ctx, env.cfg.Chains["slowchain"], "U7")

	assert.Equal(t, OutcomeFailed, result.Outcome)
	assert.Equal(t, types.ClassificationRecoverable, result.Classification)
	assert.Equal(t, []string{"U7"}, env.queueItems(t, "DLQ:q7"))
}

func TestExecuteDeflectToExistingUUID(t *testing.T) {
	env := newTestEnv(t, config.FanoutParallel)
	ctx := context.Background()
	env.seed(t, "U8")
	env.seed(t, "U8-target")

	chainCfg := env.cfg.Chains["deflecting"]
	chainCfg.Stages[0].Options = config.Options{"target": "U8-target"}

	result := env.exec.Execute(ctx, chainCfg, "U8")

	assert.Equal(t, OutcomeSuccess, result.Outcome)
	assert.Equal(t, "U8-target", result.FinalUUID)
	// Subsequent stages operated on the transferred document
	doc, err := env.cache.Get(ctx, "U8-target")
	require.NoError(t, err)
	assert.Equal(t, "true", doc.GetTag("processed"))
	// The original was neither re-enqueued nor emitted
	assert.Equal(t, []string{"U8-target"}, env.queueItems(t, "eq8"))
}

func TestExecuteDeflectToUnknownUUIDFailsPermanently(t *testing.T) {
	env := newTestEnv(t, config.FanoutParallel)
	ctx := context.Background()
	env.seed(t, "U9")

	chainCfg := env.cfg.Chains["deflecting"]
	chainCfg.Stages[0].Options = config.Options{"target": "ghost"}

	result := env.exec.Execute(ctx, chainCfg, "U9")

	assert.Equal(t, OutcomeFailed, result.Outcome)
	assert.Equal(t, types.ClassificationPermanent, result.Classification)
	assert.Equal(t, []string{"U9"}, env.queueItems(t, "DLQ:q8"))
}

func TestExecuteSequentialFanout(t *testing.T) {
	env := newTestEnv(t, config.FanoutSequential)
	ctx := context.Background()
	env.seed(t, "U10")

	result := env.exec.Execute(ctx, env.cfg.Chains["partial"], "U10")

	assert.Equal(t, OutcomeSuccess, result.Outcome)
	assert.Equal(t, []string{"U10"}, env.recorder.uuids("okA"))
}
