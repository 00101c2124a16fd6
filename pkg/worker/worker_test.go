package worker

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vcon-dev/vcon-server-sub000/pkg/cache"
	"github.com/vcon-dev/vcon-server-sub000/pkg/chain"
	"github.com/vcon-dev/vcon-server-sub000/pkg/config"
	"github.com/vcon-dev/vcon-server-sub000/pkg/queue"
	"github.com/vcon-dev/vcon-server-sub000/pkg/registry"
	"github.com/vcon-dev/vcon-server-sub000/pkg/types"
)

const workerTestYAML = `
stages:
  tag:
    module: append_tag
  block:
    module: block

storages: {}

chains:
  chainA:
    stages: [tag]
    ingress_queues: [q1]
    egress_queues: [eqA]
  chainB:
    stages: [tag]
    ingress_queues: [q1]
    egress_queues: [eqB]
  blocking:
    stages: [block]
    ingress_queues: [qslow]
    timeout: 30s
`

type workerEnv struct {
	client  *queue.Client
	cache   *cache.Cache
	cfg     *config.Config
	worker  *Worker
	started chan string
	release chan struct{}
}

func newWorkerEnv(t *testing.T) *workerEnv {
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

	cfg, err := config.Parse([]byte(workerTestYAML))
	require.NoError(t, err)

	env := &workerEnv{
		client:  client,
		cache:   c,
		cfg:     cfg,
		started: make(chan string, 8),
		release: make(chan struct{}),
	}

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
	reg.RegisterLinkModule("block", func(stage string, defaults config.Options) (registry.Link, error) {
		return registry.LinkFunc(func(ctx context.Context, uuid string, opts config.Options) (string, error) {
			env.started <- uuid
			select {
			case <-env.release:
				return uuid, nil
			case <-ctx.Done():
				return "", ctx.Err()
			}
		}), nil
	})

	settings := config.DefaultSettings()
	settings.PopTimeout = 500 * time.Millisecond
	settings.StageTimeout = 10 * time.Second

	executor := chain.NewExecutor(client, c, reg, settings)
	env.worker = NewWorker(&Config{
		Name:     "worker-1",
		Client:   client,
		Cfg:      cfg,
		Executor: executor,
		Settings: settings,
	})
	return env
}

func (env *workerEnv) seed(t *testing.T, uuid string) {
	t.Helper()
	require.NoError(t, env.cache.Put(context.Background(), &types.VCon{
		UUID:      uuid,
		Vcon:      "0.0.1",
		CreatedAt: "2024-01-01T00:00:00Z",
	}))
}

func (env *workerEnv) queueItems(t *testing.T, q string) []string {
	t.Helper()
	items, err := env.client.Range(context.Background(), q, 0, -1)
	require.NoError(t, err)
	return items
}

func TestWorkerDispatchesToAllMatchingChains(t *testing.T) {
	env := newWorkerEnv(t)
	ctx := context.Background()
	env.seed(t, "U5")

	go env.worker.Run(ctx)

	require.NoError(t, env.client.PushRight(ctx, "q1", "U5"))

	// Both chains subscribed to q1 execute independently
	require.Eventually(t, func() bool {
		return len(env.queueItems(t, "eqA")) == 1 && len(env.queueItems(t, "eqB")) == 1
	}, 5*time.Second, 50*time.Millisecond, "both chains should emit to their egress queues")

	assert.Equal(t, []string{"U5"}, env.queueItems(t, "eqA"))
	assert.Equal(t, []string{"U5"}, env.queueItems(t, "eqB"))

	doc, err := env.cache.Get(ctx, "U5")
	require.NoError(t, err)
	assert.Equal(t, "true", doc.GetTag("processed"))

	env.worker.Stop(2 * time.Second)
}

func TestWorkerStopsBetweenItems(t *testing.T) {
	env := newWorkerEnv(t)

	go env.worker.Run(context.Background())
	time.Sleep(100 * time.Millisecond)

	done := make(chan struct{})
	go func() {
		env.worker.Stop(5 * time.Second)
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(3 * time.Second):
		t.Fatal("idle worker did not stop promptly")
	}
}

func TestWorkerRequeuesInflightItemWhenGraceElapses(t *testing.T) {
	env := newWorkerEnv(t)
	ctx := context.Background()
	env.seed(t, "U-slow")

	go env.worker.Run(ctx)

	require.NoError(t, env.client.PushRight(ctx, "qslow", "U-slow"))

	// Wait until the blocking stage owns the item
	select {
	case <-env.started:
	case <-time.After(5 * time.Second):
		t.Fatal("blocking stage never started")
	}

	// Grace is far shorter than the stage; the item must come back to
	// the head of its originating queue.
	env.worker.Stop(100 * time.Millisecond)

	items := env.queueItems(t, "qslow")
	require.Len(t, items, 1)
	assert.Equal(t, "U-slow", items[0])
}

func TestWorkerFinishesChainWithinGrace(t *testing.T) {
	env := newWorkerEnv(t)
	ctx := context.Background()
	env.seed(t, "U-ok")

	go env.worker.Run(ctx)

	require.NoError(t, env.client.PushRight(ctx, "qslow", "U-ok"))

	select {
	case <-env.started:
	case <-time.After(5 * time.Second):
		t.Fatal("blocking stage never started")
	}

	// Release the stage shortly after Stop begins; the chain completes
	// within grace and nothing is requeued.
	go func() {
		time.Sleep(200 * time.Millisecond)
		close(env.release)
	}()
	env.worker.Stop(5 * time.Second)

	assert.Empty(t, env.queueItems(t, "qslow"))
	assert.Empty(t, env.queueItems(t, "DLQ:qslow"))
}
