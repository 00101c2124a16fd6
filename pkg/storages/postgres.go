package storages

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq"

	"github.com/vcon-dev/vcon-server-sub000/pkg/config"
	"github.com/vcon-dev/vcon-server-sub000/pkg/registry"
	"github.com/vcon-dev/vcon-server-sub000/pkg/types"
)

// PostgresStorage persists documents as JSONB rows keyed by UUID.
type PostgresStorage struct {
	name   string
	source registry.DocumentSource
	db     *sqlx.DB
	table  string
}

// NewPostgresStorage opens a connection pool against the "dsn" option.
// The schema is created on first open so a fresh database works without
// manual migration.
func NewPostgresStorage(name string, source registry.DocumentSource, opts config.Options) (*PostgresStorage, error) {
	dsn := opts.String("dsn", "")
	if dsn == "" {
		return nil, fmt.Errorf("postgres storage %q requires a dsn option", name)
	}
	table := opts.String("table", "vcons")

	db, err := sqlx.Open("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open postgres: %w", err)
	}
	db.SetMaxOpenConns(int(opts.Float("max_connections", 5)))

	schema := fmt.Sprintf(`
		CREATE TABLE IF NOT EXISTS %s (
			uuid       TEXT PRIMARY KEY,
			vcon       JSONB NOT NULL,
			updated_at TIMESTAMPTZ NOT NULL DEFAULT now()
		)`, table)
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to ensure schema: %w", err)
	}

	return &PostgresStorage{name: name, source: source, db: db, table: table}, nil
}

func (s *PostgresStorage) Name() string {
	return s.name
}

// Save upserts the current cached document.
func (s *PostgresStorage) Save(ctx context.Context, uuid string, opts config.Options) error {
	doc, err := s.source.Get(ctx, uuid)
	if err != nil {
		return fmt.Errorf("failed to load %s for save: %w", uuid, err)
	}
	data, err := json.Marshal(doc)
	if err != nil {
		return err
	}

	query := fmt.Sprintf(`
		INSERT INTO %s (uuid, vcon, updated_at) VALUES ($1, $2, now())
		ON CONFLICT (uuid) DO UPDATE SET vcon = EXCLUDED.vcon, updated_at = now()`, s.table)
	if _, err := s.db.ExecContext(ctx, query, uuid, data); err != nil {
		return fmt.Errorf("failed to save %s: %w", uuid, err)
	}
	return nil
}

// Get returns the stored document, or (nil, nil) when absent.
func (s *PostgresStorage) Get(ctx context.Context, uuid string) (*types.VCon, error) {
	var data []byte
	query := fmt.Sprintf("SELECT vcon FROM %s WHERE uuid = $1", s.table)
	err := s.db.GetContext(ctx, &data, query, uuid)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read %s: %w", uuid, err)
	}
	var doc types.VCon
	if err := json.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("corrupt document for %s: %w", uuid, err)
	}
	return &doc, nil
}

// Delete removes the stored row. Missing rows are not an error.
func (s *PostgresStorage) Delete(ctx context.Context, uuid string) error {
	query := fmt.Sprintf("DELETE FROM %s WHERE uuid = $1", s.table)
	_, err := s.db.ExecContext(ctx, query, uuid)
	return err
}

// Close releases the connection pool.
func (s *PostgresStorage) Close() error {
	return s.db.Close()
}
