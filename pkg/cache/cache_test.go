package cache

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vcon-dev/vcon-server-sub000/pkg/queue"
	"github.com/vcon-dev/vcon-server-sub000/pkg/types"
)

// memBackend is an in-memory storage backend for tests.
type memBackend struct {
	name    string
	docs    map[string]*types.VCon
	getErr  error
	deleted chan string
}

func newMemBackend(name string) *memBackend {
	return &memBackend{
		name:    name,
		docs:    make(map[string]*types.VCon),
		deleted: make(chan string, 8),
	}
}

func (m *memBackend) Name() string { return m.name }

func (m *memBackend) Get(ctx context.Context, uuid string) (*types.VCon, error) {
	if m.getErr != nil {
		return nil, m.getErr
	}
	return m.docs[uuid], nil
}

func (m *memBackend) Delete(ctx context.Context, uuid string) error {
	delete(m.docs, uuid)
	m.deleted <- uuid
	return nil
}

func testVCon(uuid, tel, name string) *types.VCon {
	return &types.VCon{
		UUID:      uuid,
		Vcon:      "0.0.1",
		CreatedAt: "2024-01-01T00:00:00Z",
		Parties:   []types.Party{{Tel: tel, Mailto: "Alice@Example.COM", Name: name}},
	}
}

func newTestCache(t *testing.T) (*Cache, *queue.Client, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { rdb.Close() })
	client := queue.NewClientFromRedis(rdb)
	c := New(client, Config{
		DocTTL:    time.Hour,
		IndexTTL:  24 * time.Hour,
		DLQTTL:    7 * 24 * time.Hour,
		SortedSet: "vcons",
	})
	return c, client, mr
}

func TestPutAndGet(t *testing.T) {
	c, client, mr := newTestCache(t)
	ctx := context.Background()

	vcon := testVCon("U1", "+1 (555) 123-4567", "Alice")
	require.NoError(t, c.Put(ctx, vcon))

	assert.InDelta(t, time.Hour, mr.TTL(Key("U1")), float64(time.Second))

	got, err := c.Get(ctx, "U1")
	require.NoError(t, err)
	assert.Equal(t, "U1", got.UUID)
	assert.Equal(t, "+1 (555) 123-4567", got.Parties[0].Tel)

	// Hit does not refresh the TTL
	mr.FastForward(30 * time.Minute)
	_, err = c.Get(ctx, "U1")
	require.NoError(t, err)
	assert.InDelta(t, 30*time.Minute, mr.TTL(Key("U1")), float64(time.Second))

	// Sorted set scored by created_at epoch
	created := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	uuids, err := c.ListByTime(ctx, created.Add(-time.Minute), created.Add(time.Minute))
	require.NoError(t, err)
	assert.Equal(t, []string{"U1"}, uuids)

	// Index memberships with normalization applied
	members, err := client.SMembers(ctx, "tel:15551234567")
	require.NoError(t, err)
	assert.Equal(t, []string{"U1"}, members)
	members, err = client.SMembers(ctx, "mailto:alice@example.com")
	require.NoError(t, err)
	assert.Equal(t, []string{"U1"}, members)
	assert.InDelta(t, 24*time.Hour, mr.TTL("name:alice"), float64(time.Second))
}

func TestGetMissReturnsNotFound(t *testing.T) {
	c, _, _ := newTestCache(t)
	c.SetBackends([]Getter{newMemBackend("empty")}, nil)

	_, err := c.Get(context.Background(), "missing")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestGetPullThrough(t *testing.T) {
	c, client, mr := newTestCache(t)
	ctx := context.Background()

	broken := newMemBackend("broken")
	broken.getErr = errors.New("connection refused")
	backend := newMemBackend("pgA")
	backend.docs["U6"] = testVCon("U6", "+15550001111", "Bob")
	c.SetBackends([]Getter{broken, backend}, nil)

	got, err := c.Get(ctx, "U6")
	require.NoError(t, err)
	assert.Equal(t, "U6", got.UUID)

	// Document is cached with the configured TTL
	assert.True(t, mr.Exists(Key("U6")))
	assert.InDelta(t, time.Hour, mr.TTL(Key("U6")), float64(time.Second))

	// Indexes reflect the pulled document
	members, err := client.SMembers(ctx, "tel:15550001111")
	require.NoError(t, err)
	assert.Equal(t, []string{"U6"}, members)
}

func TestPutRebuildsStaleIndexes(t *testing.T) {
	c, client, _ := newTestCache(t)
	ctx := context.Background()

	require.NoError(t, c.Put(ctx, testVCon("U1", "+15551111111", "Alice")))
	require.NoError(t, c.Put(ctx, testVCon("U1", "+15552222222", "Alice")))

	stale, err := client.SMembers(ctx, "tel:15551111111")
	require.NoError(t, err)
	assert.Empty(t, stale)

	current, err := client.SMembers(ctx, "tel:15552222222")
	require.NoError(t, err)
	assert.Equal(t, []string{"U1"}, current)
}

func TestDelete(t *testing.T) {
	c, client, mr := newTestCache(t)
	ctx := context.Background()

	backend := newMemBackend("pgA")
	backend.docs["U1"] = testVCon("U1", "+15551234567", "Alice")
	c.SetBackends([]Getter{backend}, []Deleter{backend})

	require.NoError(t, c.Put(ctx, testVCon("U1", "+15551234567", "Alice")))
	require.NoError(t, c.Delete(ctx, "U1"))

	assert.False(t, mr.Exists(Key("U1")))

	members, err := client.SMembers(ctx, "tel:15551234567")
	require.NoError(t, err)
	assert.Empty(t, members)

	uuids, err := c.ListByTime(ctx, time.Unix(0, 0), time.Now().Add(time.Hour))
	require.NoError(t, err)
	assert.Empty(t, uuids)

	// Best-effort propagation reaches the backend
	select {
	case uuid := <-backend.deleted:
		assert.Equal(t, "U1", uuid)
	case <-time.After(2 * time.Second):
		t.Fatal("delete was not propagated to storage backend")
	}
}

func TestSearchIntersection(t *testing.T) {
	c, _, _ := newTestCache(t)
	ctx := context.Background()

	require.NoError(t, c.Put(ctx, testVCon("U1", "+15551234567", "Alice")))
	require.NoError(t, c.Put(ctx, testVCon("U2", "+15551234567", "Carol")))

	uuids, err := c.Search(ctx, Filter{Tel: "+1 (555) 123-4567"})
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"U1", "U2"}, uuids)

	uuids, err = c.Search(ctx, Filter{Tel: "15551234567", Name: "Alice "})
	require.NoError(t, err)
	assert.Equal(t, []string{"U1"}, uuids)

	uuids, err = c.Search(ctx, Filter{})
	require.NoError(t, err)
	assert.Empty(t, uuids)
}

func TestExtendAndRestoreTTL(t *testing.T) {
	c, _, mr := newTestCache(t)
	ctx := context.Background()

	require.NoError(t, c.Put(ctx, testVCon("U3", "", "")))
	require.NoError(t, c.ExtendTTL(ctx, "U3", 7*24*time.Hour))
	assert.InDelta(t, 7*24*time.Hour, mr.TTL(Key("U3")), float64(time.Second))

	require.NoError(t, c.RestoreTTL(ctx, "U3"))
	assert.InDelta(t, time.Hour, mr.TTL(Key("U3")), float64(time.Second))

	// TTL of 0 disables expiry (DLQ retention disabled)
	require.NoError(t, c.ExtendTTL(ctx, "U3", 0))
	assert.Equal(t, time.Duration(0), mr.TTL(Key("U3")))
}
