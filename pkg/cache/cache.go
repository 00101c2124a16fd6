package cache

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/vcon-dev/vcon-server-sub000/pkg/log"
	"github.com/vcon-dev/vcon-server-sub000/pkg/metrics"
	"github.com/vcon-dev/vcon-server-sub000/pkg/queue"
	"github.com/vcon-dev/vcon-server-sub000/pkg/types"
)

// ErrNotFound is returned when a UUID is neither cached nor held by any
// storage backend.
var ErrNotFound = errors.New("vcon not found")

// KeyPrefix is the cache key prefix for vCon documents.
const KeyPrefix = "vcon:"

// Key returns the cache key for a UUID.
func Key(uuid string) string {
	return KeyPrefix + uuid
}

// Getter is a storage backend the cache can pull documents from on a
// miss. Backends that cannot read return (nil, nil).
type Getter interface {
	Name() string
	Get(ctx context.Context, uuid string) (*types.VCon, error)
}

// Deleter is a storage backend that supports delete propagation.
type Deleter interface {
	Name() string
	Delete(ctx context.Context, uuid string) error
}

// Config carries the cache TTL policy. Three independent expirations:
// the document itself, the party secondary indexes (deliberately longer
// so pull-through reads don't rebuild them on every access), and
// DLQ-resident documents (0 disables DLQ expiry).
type Config struct {
	DocTTL    time.Duration
	IndexTTL  time.Duration
	DLQTTL    time.Duration
	SortedSet string
}

// Cache is the pull-through vCon cache fronting the storage backends.
// Concurrent writers to the same UUID compose last-writer-wins on the
// document and set-union on the indexes; serialization per UUID comes
// from the worker layer's atomic pop, not from locks here.
type Cache struct {
	client   *queue.Client
	cfg      Config
	getters  []Getter
	deleters []Deleter
}

// New creates a cache over the given Redis client.
func New(client *queue.Client, cfg Config) *Cache {
	if cfg.SortedSet == "" {
		cfg.SortedSet = "vcons"
	}
	return &Cache{client: client, cfg: cfg}
}

// SetBackends wires the storage backends used for pull-through reads
// and best-effort delete propagation. Called once at startup after the
// registry has resolved the configured storages.
func (c *Cache) SetBackends(getters []Getter, deleters []Deleter) {
	c.getters = getters
	c.deleters = deleters
}

// DLQTTL exposes the configured DLQ retention for the chain executor.
func (c *Cache) DLQTTL() time.Duration {
	return c.cfg.DLQTTL
}

// Get returns the document for uuid. A cache hit is returned as-is
// without touching the TTL. On a miss each backend is probed in
// declared order; the first hit is written back through the cache with
// the configured TTL, the sorted-set entry and party indexes are
// refreshed, and the document is returned. ErrNotFound when every
// backend misses.
func (c *Cache) Get(ctx context.Context, uuid string) (*types.VCon, error) {
	var vcon types.VCon
	hit, err := c.client.GetJSON(ctx, Key(uuid), &vcon)
	if err != nil {
		return nil, fmt.Errorf("cache read failed for %s: %w", uuid, err)
	}
	if hit {
		metrics.CacheHits.Inc()
		return &vcon, nil
	}
	metrics.CacheMisses.Inc()

	logger := log.WithComponent("cache")
	for _, backend := range c.getters {
		doc, err := backend.Get(ctx, uuid)
		if err != nil {
			logger.Warn().Err(err).
				Str("backend", backend.Name()).
				Str("vcon_uuid", uuid).
				Msg("storage probe failed")
			continue
		}
		if doc == nil {
			continue
		}
		metrics.CachePullThroughs.WithLabelValues(backend.Name()).Inc()
		if err := c.Put(ctx, doc); err != nil {
			return nil, fmt.Errorf("pull-through write failed for %s: %w", uuid, err)
		}
		return doc, nil
	}
	return nil, ErrNotFound
}

// Put stores the document with the cache TTL, upserts the sorted-set
// entry scored by created_at epoch, and rebuilds the party secondary
// indexes for this UUID (stale memberships removed, current added).
func (c *Cache) Put(ctx context.Context, vcon *types.VCon) error {
	if vcon == nil || vcon.UUID == "" {
		return errors.New("cannot cache vcon without uuid")
	}

	// Read the previous document outside the pipeline so stale index
	// memberships can be removed.
	var prev types.VCon
	hadPrev, err := c.client.GetJSON(ctx, Key(vcon.UUID), &prev)
	if err != nil {
		return fmt.Errorf("failed to read previous document: %w", err)
	}

	score := c.scoreFor(vcon)
	newKeys := indexKeys(vcon)
	var staleKeys []string
	if hadPrev {
		staleKeys = diffKeys(indexKeys(&prev), newKeys)
	}

	data, err := vcon.MarshalJSON()
	if err != nil {
		return fmt.Errorf("failed to marshal vcon %s: %w", vcon.UUID, err)
	}

	return c.client.Pipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Set(ctx, Key(vcon.UUID), data, c.cfg.DocTTL)
		pipe.ZAdd(ctx, c.cfg.SortedSet, redis.Z{Score: score, Member: vcon.UUID})
		for _, key := range staleKeys {
			pipe.SRem(ctx, key, vcon.UUID)
		}
		for _, key := range newKeys {
			pipe.SAdd(ctx, key, vcon.UUID)
			pipe.Expire(ctx, key, c.cfg.IndexTTL)
		}
		return nil
	})
}

// Delete removes the document, sorted-set entry and index memberships,
// then propagates the delete to the storage backends best-effort. The
// propagation never blocks pipeline progress; failures are logged.
func (c *Cache) Delete(ctx context.Context, uuid string) error {
	var prev types.VCon
	hadPrev, err := c.client.GetJSON(ctx, Key(uuid), &prev)
	if err != nil {
		return fmt.Errorf("failed to read document for delete: %w", err)
	}

	err = c.client.Pipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Del(ctx, Key(uuid))
		pipe.ZRem(ctx, c.cfg.SortedSet, uuid)
		if hadPrev {
			for _, key := range indexKeys(&prev) {
				pipe.SRem(ctx, key, uuid)
			}
		}
		return nil
	})
	if err != nil {
		return err
	}

	for _, backend := range c.deleters {
		go func(d Deleter) {
			dctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
			defer cancel()
			if err := d.Delete(dctx, uuid); err != nil {
				logger := log.WithComponent("cache")
				logger.Warn().Err(err).
					Str("backend", d.Name()).
					Str("vcon_uuid", uuid).
					Msg("delete propagation failed")
			}
		}(backend)
	}
	return nil
}

// ExtendTTL raises the document TTL, used when an item moves to a DLQ
// so it outlives the normal cache expiry. A ttl of 0 removes the expiry.
func (c *Cache) ExtendTTL(ctx context.Context, uuid string, ttl time.Duration) error {
	return c.client.Expire(ctx, Key(uuid), ttl)
}

// RestoreTTL resets the document TTL to the normal cache value, used
// when a DLQ item is reprocessed.
func (c *Cache) RestoreTTL(ctx context.Context, uuid string) error {
	return c.client.Expire(ctx, Key(uuid), c.cfg.DocTTL)
}

// ListByTime returns UUIDs whose created_at falls within [start, end].
func (c *Cache) ListByTime(ctx context.Context, start, end time.Time) ([]string, error) {
	return c.client.ZRangeByScore(ctx, c.cfg.SortedSet,
		float64(start.Unix()), float64(end.Unix()))
}

func (c *Cache) scoreFor(vcon *types.VCon) float64 {
	ts, err := vcon.CreatedAtTime()
	if err != nil {
		logger := log.WithComponent("cache")
		logger.Warn().Err(err).
			Str("vcon_uuid", vcon.UUID).
			Msg("unparseable created_at, indexing at epoch zero")
		return 0
	}
	return float64(ts.Unix())
}

// diffKeys returns entries of old not present in new.
func diffKeys(old, new []string) []string {
	current := make(map[string]bool, len(new))
	for _, k := range new {
		current[k] = true
	}
	var stale []string
	for _, k := range old {
		if !current[k] {
			stale = append(stale, k)
		}
	}
	return stale
}
