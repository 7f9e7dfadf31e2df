package checkpoint

import (
	"context"
	"errors"
	"fmt"
	"net/url"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

const createCheckpointTable = `
CREATE TABLE IF NOT EXISTS note_checkpoints (
	name     text PRIMARY KEY,
	document jsonb NOT NULL,
	saved_at timestamptz NOT NULL DEFAULT now()
)`

// PostgresBackend keeps the document in one row of note_checkpoints.
type PostgresBackend struct {
	pool *pgxpool.Pool
	name string
	host string
}

// OpenPostgresBackend connects and makes sure the table exists. The
// checkpoint_name query parameter selects the row (default "default"); it
// is removed before the URL is handed to pgx.
func OpenPostgresBackend(ctx context.Context, u *url.URL) (*PostgresBackend, error) {
	dsn := *u
	q := dsn.Query()
	name := q.Get("checkpoint_name")
	if name == "" {
		name = "default"
	}
	q.Del("checkpoint_name")
	dsn.RawQuery = q.Encode()

	cfg, err := pgxpool.ParseConfig(dsn.String())
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidLocation, err)
	}
	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping postgres: %w", err)
	}
	if _, err := pool.Exec(ctx, createCheckpointTable); err != nil {
		pool.Close()
		return nil, fmt.Errorf("create checkpoint table: %w", err)
	}
	return &PostgresBackend{pool: pool, name: name, host: u.Host}, nil
}

func (p *PostgresBackend) Load(ctx context.Context) ([]byte, error) {
	var doc []byte
	err := p.pool.QueryRow(ctx,
		`SELECT document FROM note_checkpoints WHERE name = $1`, p.name).Scan(&doc)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read postgres checkpoint: %w", err)
	}
	return doc, nil
}

func (p *PostgresBackend) Save(ctx context.Context, data []byte) error {
	_, err := p.pool.Exec(ctx, `
		INSERT INTO note_checkpoints (name, document, saved_at)
		VALUES ($1, $2, now())
		ON CONFLICT (name) DO UPDATE SET document = EXCLUDED.document, saved_at = EXCLUDED.saved_at`,
		p.name, data)
	if err != nil {
		return fmt.Errorf("write postgres checkpoint: %w", err)
	}
	return nil
}

func (p *PostgresBackend) Close() error {
	p.pool.Close()
	return nil
}

func (p *PostgresBackend) String() string { return "postgres:" + p.host + "/" + p.name }
