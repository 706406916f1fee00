package audit

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/darasahub/voicenav/internal/command"
)

// schema creates the voice_commands table on first connect. The table is
// append-only; retention is handled operationally.
const schema = `
CREATE TABLE IF NOT EXISTS voice_commands (
    id         BIGSERIAL PRIMARY KEY,
    time       TIMESTAMPTZ      NOT NULL,
    role       TEXT             NOT NULL,
    transcript TEXT             NOT NULL,
    executed   BOOLEAN          NOT NULL,
    phrase     TEXT             NOT NULL DEFAULT '',
    target     TEXT             NOT NULL DEFAULT '',
    score      DOUBLE PRECISION NOT NULL
);
CREATE INDEX IF NOT EXISTS voice_commands_time_idx ON voice_commands (time DESC);
`

// PostgresLog is a PostgreSQL-backed [Recorder] holding the utterance audit
// trail in a voice_commands table. All methods are safe for concurrent use.
type PostgresLog struct {
	pool *pgxpool.Pool
}

// Compile-time interface check.
var _ Recorder = (*PostgresLog)(nil)

// NewPostgresLog connects to the database at dsn and ensures the
// voice_commands table exists.
func NewPostgresLog(ctx context.Context, dsn string) (*PostgresLog, error) {
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, fmt.Errorf("audit: create pool: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("audit: ping: %w", err)
	}
	if _, err := pool.Exec(ctx, schema); err != nil {
		pool.Close()
		return nil, fmt.Errorf("audit: migrate: %w", err)
	}
	return &PostgresLog{pool: pool}, nil
}

// Record implements [Recorder].
func (l *PostgresLog) Record(ctx context.Context, e Entry) error {
	const q = `
		INSERT INTO voice_commands (time, role, transcript, executed, phrase, target, score)
		VALUES ($1, $2, $3, $4, $5, $6, $7)`

	_, err := l.pool.Exec(ctx, q, e.Time, string(e.Role), e.Transcript, e.Executed, e.Phrase, e.Target, e.Score)
	if err != nil {
		return fmt.Errorf("audit: record: %w", err)
	}
	return nil
}

// Recent implements [Recorder].
func (l *PostgresLog) Recent(ctx context.Context, n int) ([]Entry, error) {
	if n <= 0 {
		n = 50
	}
	const q = `
		SELECT time, role, transcript, executed, phrase, target, score
		FROM   voice_commands
		ORDER  BY time DESC
		LIMIT  $1`

	rows, err := l.pool.Query(ctx, q, n)
	if err != nil {
		return nil, fmt.Errorf("audit: query recent: %w", err)
	}
	defer rows.Close()

	var entries []Entry
	for rows.Next() {
		var e Entry
		var role string
		if err := rows.Scan(&e.Time, &role, &e.Transcript, &e.Executed, &e.Phrase, &e.Target, &e.Score); err != nil {
			return nil, fmt.Errorf("audit: scan: %w", err)
		}
		e.Role = command.Role(role)
		entries = append(entries, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("audit: rows: %w", err)
	}
	return entries, nil
}

// Ping reports whether the database is reachable. Used as a readiness check.
func (l *PostgresLog) Ping(ctx context.Context) error {
	return l.pool.Ping(ctx)
}

// Close releases the connection pool.
func (l *PostgresLog) Close() {
	l.pool.Close()
}
