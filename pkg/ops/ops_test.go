package ops

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vcon-dev/vcon-server-sub000/pkg/auth"
	"github.com/vcon-dev/vcon-server-sub000/pkg/cache"
	"github.com/vcon-dev/vcon-server-sub000/pkg/config"
	"github.com/vcon-dev/vcon-server-sub000/pkg/dlq"
	"github.com/vcon-dev/vcon-server-sub000/pkg/queue"
	"github.com/vcon-dev/vcon-server-sub000/pkg/types"
)

func newTestFacade(t *testing.T) (*Facade, *queue.Client) {
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

	cfg, err := config.Parse([]byte(`
ingress_auth:
  q1: "alpha-key"
stages: {}
storages: {}
chains: {}
`))
	require.NoError(t, err)

	return New(client, c, dlq.NewManager(client, c), auth.NewValidator(cfg)), client
}

func sampleDoc(uuid, createdAt string) *types.VCon {
	return &types.VCon{
		UUID:      uuid,
		Vcon:      "0.0.1",
		CreatedAt: createdAt,
		Parties:   []types.Party{{Tel: "+15551234567", Name: "Alice"}},
	}
}

func TestSubmitCachesAndQueues(t *testing.T) {
	f, client := newTestFacade(t)
	ctx := context.Background()

	require.NoError(t, f.Submit(ctx, sampleDoc("U1", "2024-01-01T00:00:00Z"), []string{"q1", "q2"}))

	for _, q := range []string{"q1", "q2"} {
		items, err := client.Range(ctx, q, 0, -1)
		require.NoError(t, err)
		assert.Equal(t, []string{"U1"}, items, q)
	}

	doc, err := f.Fetch(ctx, "U1")
	require.NoError(t, err)
	assert.Equal(t, "U1", doc.UUID)
}

func TestSubmitRejectsMissingUUID(t *testing.T) {
	f, _ := newTestFacade(t)
	assert.Error(t, f.Submit(context.Background(), &types.VCon{Vcon: "0.0.1"}, []string{"q1"}))
}

func TestExternalSubmitGatedByKey(t *testing.T) {
	f, client := newTestFacade(t)
	ctx := context.Background()

	err := f.ExternalSubmit(ctx, "q1", "wrong-key", sampleDoc("U2", "2024-01-01T00:00:00Z"))
	assert.ErrorIs(t, err, ErrUnauthorized)

	// Rejected request leaves no trace
	items, rerr := client.Range(ctx, "q1", 0, -1)
	require.NoError(t, rerr)
	assert.Empty(t, items)
	_, ferr := f.Fetch(ctx, "U2")
	assert.ErrorIs(t, ferr, ErrNotFound)

	require.NoError(t, f.ExternalSubmit(ctx, "q1", "alpha-key", sampleDoc("U2", "2024-01-01T00:00:00Z")))
	items, rerr = client.Range(ctx, "q1", 0, -1)
	require.NoError(t, rerr)
	assert.Equal(t, []string{"U2"}, items)
}

func TestSearchAndListByTime(t *testing.T) {
	f, _ := newTestFacade(t)
	ctx := context.Background()

	require.NoError(t, f.Submit(ctx, sampleDoc("U1", "2024-01-01T00:00:00Z"), nil))
	require.NoError(t, f.Submit(ctx, sampleDoc("U2", "2024-06-01T00:00:00Z"), nil))

	uuids, err := f.Search(ctx, cache.Filter{Tel: "15551234567"})
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"U1", "U2"}, uuids)

	uuids, err = f.ListByTime(ctx,
		time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC),
		time.Date(2024, 12, 31, 0, 0, 0, 0, time.UTC))
	require.NoError(t, err)
	assert.Equal(t, []string{"U2"}, uuids)
}

func TestDeleteRemovesDocumentAndIndexes(t *testing.T) {
	f, _ := newTestFacade(t)
	ctx := context.Background()

	require.NoError(t, f.Submit(ctx, sampleDoc("U1", "2024-01-01T00:00:00Z"), nil))
	require.NoError(t, f.Delete(ctx, "U1"))

	_, err := f.Fetch(ctx, "U1")
	assert.ErrorIs(t, err, ErrNotFound)

	uuids, err := f.Search(ctx, cache.Filter{Tel: "15551234567"})
	require.NoError(t, err)
	assert.Empty(t, uuids)
}

func TestDLQOperationsThroughFacade(t *testing.T) {
	f, client := newTestFacade(t)
	ctx := context.Background()

	require.NoError(t, f.Submit(ctx, sampleDoc("U7", "2024-01-01T00:00:00Z"), nil))
	require.NoError(t, client.PushRight(ctx, queue.DLQName("q1"), "U7"))

	items, err := f.DLQList(ctx, "q1")
	require.NoError(t, err)
	assert.Equal(t, []string{"U7"}, items)

	moved, err := f.DLQReprocess(ctx, "q1")
	require.NoError(t, err)
	assert.Equal(t, 1, moved)

	queued, err := client.Range(ctx, "q1", 0, -1)
	require.NoError(t, err)
	assert.Equal(t, []string{"U7"}, queued)

	removed, err := f.DLQPurge(ctx, "q1", "missing")
	require.NoError(t, err)
	assert.False(t, removed)
}
