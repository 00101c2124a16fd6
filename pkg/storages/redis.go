package storages

import (
	"context"
	"fmt"

	"github.com/vcon-dev/vcon-server-sub000/pkg/config"
	"github.com/vcon-dev/vcon-server-sub000/pkg/queue"
	"github.com/vcon-dev/vcon-server-sub000/pkg/registry"
	"github.com/vcon-dev/vcon-server-sub000/pkg/types"
)

// RedisStorage persists documents in a second Redis endpoint (or
// logical database) without TTL, so documents outlive the cache's
// expiry and pull-through reads can rehydrate from here.
type RedisStorage struct {
	name   string
	source registry.DocumentSource
	client *queue.Client
	prefix string
}

// NewRedisStorage connects to the "url" option. The key prefix defaults
// to the cache's document prefix so keyspaces read alike.
func NewRedisStorage(name string, source registry.DocumentSource, opts config.Options) (*RedisStorage, error) {
	url := opts.String("url", "")
	if url == "" {
		return nil, fmt.Errorf("redis storage %q requires a url option", name)
	}
	client, err := queue.NewClient(url)
	if err != nil {
		return nil, err
	}
	return &RedisStorage{
		name:   name,
		source: source,
		client: client,
		prefix: opts.String("prefix", "vcon:"),
	}, nil
}

// newRedisStorageFromClient is the test seam.
func newRedisStorageFromClient(name string, source registry.DocumentSource, client *queue.Client) *RedisStorage {
	return &RedisStorage{name: name, source: source, client: client, prefix: "vcon:"}
}

func (s *RedisStorage) Name() string {
	return s.name
}

// Save persists the current cached document without expiry.
func (s *RedisStorage) Save(ctx context.Context, uuid string, opts config.Options) error {
	doc, err := s.source.Get(ctx, uuid)
	if err != nil {
		return fmt.Errorf("failed to load %s for save: %w", uuid, err)
	}
	return s.client.SetJSON(ctx, s.prefix+uuid, doc, 0)
}

// Get returns the stored document, or (nil, nil) when absent.
func (s *RedisStorage) Get(ctx context.Context, uuid string) (*types.VCon, error) {
	var doc types.VCon
	ok, err := s.client.GetJSON(ctx, s.prefix+uuid, &doc)
	if err != nil || !ok {
		return nil, err
	}
	return &doc, nil
}

// Delete removes the stored document.
func (s *RedisStorage) Delete(ctx context.Context, uuid string) error {
	return s.client.Delete(ctx, s.prefix+uuid)
}

// Close releases the connection pool.
func (s *RedisStorage) Close() error {
	return s.client.Close()
}
