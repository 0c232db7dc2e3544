package session

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

const postgresSchema = `CREATE TABLE IF NOT EXISTS contact_sessions (
	key            TEXT PRIMARY KEY,
	last_submit_at TIMESTAMPTZ NOT NULL,
	expires_at     TIMESTAMPTZ NOT NULL
)`

// Postgres is a Backend in the contact_sessions table.
type Postgres struct {
	pool *pgxpool.Pool
}

func NewPostgres(pool *pgxpool.Pool) *Postgres {
	return &Postgres{pool: pool}
}

// ConnectPostgres opens a pool for dsn and creates the table if needed.
func ConnectPostgres(ctx context.Context, dsn string) (*Postgres, error) {
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, fmt.Errorf("postgres: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("postgres ping: %w", err)
	}
	p := &Postgres{pool: pool}
	if err := p.Migrate(ctx); err != nil {
		pool.Close()
		return nil, err
	}
	return p, nil
}

func (p *Postgres) Migrate(ctx context.Context) error {
	_, err := p.pool.Exec(ctx, postgresSchema)
	return err
}

func (p *Postgres) Close() error {
	p.pool.Close()
	return nil
}

func (p *Postgres) Get(ctx context.Context, key string) (Record, bool, error) {
	var rec Record
	err := p.pool.QueryRow(ctx,
		`SELECT last_submit_at, expires_at FROM contact_sessions WHERE key = $1`,
		key).Scan(&rec.Last, &rec.Expires)
	if errors.Is(err, pgx.ErrNoRows) {
		return Record{}, false, nil
	}
	if err != nil {
		return Record{}, false, err
	}
	return rec, true, nil
}

func (p *Postgres) Put(ctx context.Context, key string, rec Record) error {
	_, err := p.pool.Exec(ctx,
		`INSERT INTO contact_sessions (key, last_submit_at, expires_at) VALUES ($1, $2, $3)
		 ON CONFLICT (key) DO UPDATE SET last_submit_at = EXCLUDED.last_submit_at, expires_at = EXCLUDED.expires_at`,
		key, rec.Last, rec.Expires)
	return err
}

func (p *Postgres) Sweep(ctx context.Context, now time.Time) (int, error) {
	tag, err := p.pool.Exec(ctx, `DELETE FROM contact_sessions WHERE expires_at <= $1`, now)
	if err != nil {
		return 0, err
	}
	return int(tag.RowsAffected()), nil
}
