package sink

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

// Schema is the SQL DDL for the utterances table. Execute it via
// [Postgres.Migrate] or apply it manually during deployment.
const Schema = `
CREATE TABLE IF NOT EXISTS utterances (
    id           UUID PRIMARY KEY,
    created_at   TIMESTAMPTZ NOT NULL,
    duration_s   DOUBLE PRECISION NOT NULL,
    sample_rate  INTEGER NOT NULL,
    channels     INTEGER NOT NULL DEFAULT 1,
    text         TEXT NOT NULL DEFAULT '',
    is_wake_word BOOLEAN NOT NULL DEFAULT FALSE,
    partial      BOOLEAN NOT NULL DEFAULT FALSE
);
CREATE INDEX IF NOT EXISTS idx_utterances_created_at ON utterances(created_at);
CREATE INDEX IF NOT EXISTS idx_utterances_wake ON utterances(created_at) WHERE is_wake_word;
`

// DB is the database interface used by [Postgres]. Both *pgxpool.Pool and
// *pgx.Conn satisfy it.
type DB interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
}

// Postgres stores one row per utterance. Audio is not stored.
type Postgres struct {
	db    DB
	close func()
}

var _ Sink = (*Postgres)(nil)

// NewPostgres wraps an existing connection or pool. The caller owns db and
// should call [Postgres.Migrate] before the first write.
func NewPostgres(db DB) *Postgres {
	return &Postgres{db: db}
}

// OpenPostgres connects a pool to dsn and applies [Schema]. Close releases
// the pool.
func OpenPostgres(ctx context.Context, dsn string) (*Postgres, error) {
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, fmt.Errorf("sink: postgres: connect: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("sink: postgres: ping: %w", err)
	}
	p := &Postgres{db: pool, close: pool.Close}
	if err := p.Migrate(ctx); err != nil {
		pool.Close()
		return nil, err
	}
	return p, nil
}

// Name implements [Named].
func (p *Postgres) Name() string { return "postgres" }

// Migrate executes [Schema].
func (p *Postgres) Migrate(ctx context.Context) error {
	if _, err := p.db.Exec(ctx, Schema); err != nil {
		return fmt.Errorf("sink: postgres: migrate: %w", err)
	}
	return nil
}

// Write inserts rec. Re-delivering the same utterance is a no-op.
func (p *Postgres) Write(ctx context.Context, rec Record) error {
	const query = `
		INSERT INTO utterances (
			id, created_at, duration_s, sample_rate, channels, text, is_wake_word, partial
		) VALUES ($1,$2,$3,$4,$5,$6,$7,$8)
		ON CONFLICT (id) DO NOTHING`

	_, err := p.db.Exec(ctx, query,
		rec.UtteranceID, rec.CreatedAt, rec.Duration, rec.SampleRate,
		max(rec.Channels, 1), rec.Text, rec.IsWakeWord, rec.Partial,
	)
	if err != nil {
		return fmt.Errorf("sink: postgres: insert: %w", err)
	}
	return nil
}

// Ping checks the connection when the underlying DB supports it.
// Connections without a Ping method always report healthy.
func (p *Postgres) Ping(ctx context.Context) error {
	pinger, ok := p.db.(interface{ Ping(context.Context) error })
	if !ok {
		return nil
	}
	if err := pinger.Ping(ctx); err != nil {
		return fmt.Errorf("sink: postgres: ping: %w", err)
	}
	return nil
}

// Close releases the pool when it was opened by [OpenPostgres].
func (p *Postgres) Close() error {
	if p.close != nil {
		p.close()
		p.close = nil
	}
	return nil
}
