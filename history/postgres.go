package history

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/hupe1980/obsmesh/observation"
)

// DBPool abstracts *pgxpool.Pool so the store can be tested with pgxmock.
type DBPool interface {
	Ping(ctx context.Context) error
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

const (
	sqlCreateTable = `CREATE TABLE IF NOT EXISTS observations (
    seq BIGSERIAL PRIMARY KEY,
    session_id TEXT NOT NULL,
    kind TEXT NOT NULL,
    cause TEXT NOT NULL DEFAULT '',
    body JSON NOT NULL
)`
	sqlCreateIndex = `CREATE INDEX IF NOT EXISTS idx_observations_session ON observations (session_id, seq)`

	sqlInsert       = `INSERT INTO observations (session_id, kind, cause, body) VALUES ($1, $2, $3, $4)`
	sqlList         = `SELECT body FROM observations WHERE session_id = $1 ORDER BY seq`
	sqlListByCause  = `SELECT body FROM observations WHERE session_id = $1 AND cause = $2 ORDER BY seq`
	sqlListByKind   = `SELECT body FROM observations WHERE session_id = $1 AND kind = $2 ORDER BY seq`
	sqlCount        = `SELECT COUNT(*) FROM observations WHERE session_id = $1`
	sqlListSessions = `SELECT DISTINCT session_id FROM observations ORDER BY session_id`
)

// PostgresStore persists observations in their wire form, one row per
// observation, so any process sharing the codec's registry can read them back.
// The body column is JSON rather than JSONB: rows keep the exact bytes the
// codec produced, so opaque observations read back unmodified.
type PostgresStore struct {
	pool  DBPool
	codec *observation.Codec
}

// PostgresOptions configures NewPostgresStore.
type PostgresOptions struct {
	// Codec serializes rows. Defaults to a strict codec over the default registry.
	Codec *observation.Codec
	// SkipSchema disables CREATE TABLE IF NOT EXISTS on startup.
	SkipSchema bool
}

// NewPostgresStore verifies the connection and ensures the schema exists.
func NewPostgresStore(ctx context.Context, pool DBPool, optFns ...func(o *PostgresOptions)) (*PostgresStore, error) {
	opts := PostgresOptions{}
	for _, fn := range optFns {
		fn(&opts)
	}
	if opts.Codec == nil {
		c, err := observation.NewCodec(observation.PolicyStrict)
		if err != nil {
			return nil, err
		}
		opts.Codec = c
	}

	if err := pool.Ping(ctx); err != nil {
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	s := &PostgresStore{pool: pool, codec: opts.Codec}
	if !opts.SkipSchema {
		if err := s.EnsureSchema(ctx); err != nil {
			return nil, err
		}
	}
	return s, nil
}

// EnsureSchema creates the observations table and index if needed.
func (s *PostgresStore) EnsureSchema(ctx context.Context) error {
	for _, stmt := range []string{sqlCreateTable, sqlCreateIndex} {
		if _, err := s.pool.Exec(ctx, stmt); err != nil {
			return fmt.Errorf("ensure schema: %w", err)
		}
	}
	return nil
}

// Append inserts o at the end of the session's log.
func (s *PostgresStore) Append(ctx context.Context, sessionID string, o observation.Observation) error {
	if o.IsZero() {
		return ErrZeroObservation
	}
	body, err := s.codec.Serialize(o)
	if err != nil {
		return fmt.Errorf("append: %w", err)
	}
	if _, err := s.pool.Exec(ctx, sqlInsert, sessionID, string(o.Kind()), o.Cause(), body); err != nil {
		return fmt.Errorf("append: %w", err)
	}
	return nil
}

// List returns the session's log in append order.
func (s *PostgresStore) List(ctx context.Context, sessionID string) ([]observation.Observation, error) {
	return s.query(ctx, sqlList, sessionID)
}

// ByCause returns the observations produced by one action.
func (s *PostgresStore) ByCause(ctx context.Context, sessionID, cause string) ([]observation.Observation, error) {
	return s.query(ctx, sqlListByCause, sessionID, cause)
}

// ByKind returns the observations of one kind.
func (s *PostgresStore) ByKind(ctx context.Context, sessionID string, kind observation.Kind) ([]observation.Observation, error) {
	return s.query(ctx, sqlListByKind, sessionID, string(kind))
}

// Len returns the number of observations in the session's log.
func (s *PostgresStore) Len(ctx context.Context, sessionID string) (int, error) {
	var n int64
	if err := s.pool.QueryRow(ctx, sqlCount, sessionID).Scan(&n); err != nil {
		return 0, fmt.Errorf("count: %w", err)
	}
	return int(n), nil
}

// Sessions returns the sorted ids of all sessions with at least one observation.
func (s *PostgresStore) Sessions(ctx context.Context) ([]string, error) {
	rows, err := s.pool.Query(ctx, sqlListSessions)
	if err != nil {
		return nil, fmt.Errorf("list sessions: %w", err)
	}
	ids, err := pgx.CollectRows(rows, pgx.RowTo[string])
	if err != nil {
		return nil, fmt.Errorf("list sessions: %w", err)
	}
	return ids, nil
}

func (s *PostgresStore) query(ctx context.Context, sql string, args ...any) ([]observation.Observation, error) {
	rows, err := s.pool.Query(ctx, sql, args...)
	if err != nil {
		return nil, fmt.Errorf("query observations: %w", err)
	}
	bodies, err := pgx.CollectRows(rows, pgx.RowTo[[]byte])
	if err != nil {
		return nil, fmt.Errorf("query observations: %w", err)
	}

	out := make([]observation.Observation, 0, len(bodies))
	for i, body := range bodies {
		o, err := s.codec.Deserialize(body)
		if err != nil {
			return nil, fmt.Errorf("decode row %d: %w", i, err)
		}
		out = append(out, o)
	}
	return out, nil
}
