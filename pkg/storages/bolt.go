package storages

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	bolt "go.etcd.io/bbolt"

	"github.com/vcon-dev/vcon-server-sub000/pkg/config"
	"github.com/vcon-dev/vcon-server-sub000/pkg/registry"
	"github.com/vcon-dev/vcon-server-sub000/pkg/types"
)

var bucketVcons = []byte("vcons")

// BoltStorage persists documents in a local BoltDB file, one key per
// UUID. Suited to single-node deployments and tests; it does not share
// state across workers on different hosts.
type BoltStorage struct {
	name   string
	source registry.DocumentSource
	db     *bolt.DB
}

// NewBoltStorage opens (or creates) the database at the "path" option.
func NewBoltStorage(name string, source registry.DocumentSource, opts config.Options) (*BoltStorage, error) {
	path := opts.String("path", "")
	if path == "" {
		return nil, fmt.Errorf("bolt storage %q requires a path option", name)
	}

	db, err := bolt.Open(path, 0600, &bolt.Options{Timeout: 5 * time.Second})
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	err = db.Update(func(tx *bolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists(bucketVcons)
		return err
	})
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to create bucket: %w", err)
	}
	return &BoltStorage{name: name, source: source, db: db}, nil
}

func (s *BoltStorage) Name() string {
	return s.name
}

// Save persists the current cached document (upsert).
func (s *BoltStorage) Save(ctx context.Context, uuid string, opts config.Options) error {
	doc, err := s.source.Get(ctx, uuid)
	if err != nil {
		return fmt.Errorf("failed to load %s for save: %w", uuid, err)
	}
	data, err := json.Marshal(doc)
	if err != nil {
		return err
	}
	return s.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketVcons).Put([]byte(uuid), data)
	})
}

// Get returns the stored document, or (nil, nil) when absent.
func (s *BoltStorage) Get(ctx context.Context, uuid string) (*types.VCon, error) {
	var doc *types.VCon
	err := s.db.View(func(tx *bolt.Tx) error {
		data := tx.Bucket(bucketVcons).Get([]byte(uuid))
		if data == nil {
			return nil
		}
		doc = &types.VCon{}
		return json.Unmarshal(data, doc)
	})
	if err != nil {
		return nil, err
	}
	return doc, nil
}

// Delete removes the stored document. Missing keys are not an error.
func (s *BoltStorage) Delete(ctx context.Context, uuid string) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketVcons).Delete([]byte(uuid))
	})
}

// Close closes the database
func (s *BoltStorage) Close() error {
	return s.db.Close()
}
