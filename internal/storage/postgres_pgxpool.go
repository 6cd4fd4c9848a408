package storage

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/jackc/pgx/v5/stdlib"

	"github.com/bher20/erateestimator/internal/metrics"
	"github.com/bher20/erateestimator/internal/migrate"
)

// PostgresPoolStorage talks to Postgres through a pgx connection pool.
// Advisory locks are held on a dedicated connection until released.
type PostgresPoolStorage struct {
	pool *pgxpool.Pool

	lockMu sync.Mutex
	locks  map[int64]*pgxpool.Conn
}

func OpenPostgresPool(ctx context.Context, dsn string) (*PostgresPoolStorage, error) {
	if dsn == "" {
		dsn = "postgres://localhost:5432/erateestimator?sslmode=disable"
	}

	cfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, err
	}

	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, err
	}

	return &PostgresPoolStorage{pool: pool, locks: make(map[int64]*pgxpool.Conn)}, nil
}

func (s *PostgresPoolStorage) Close() error {
	s.lockMu.Lock()
	for key, conn := range s.locks {
		conn.Release()
		delete(s.locks, key)
	}
	s.lockMu.Unlock()
	s.pool.Close()
	return nil
}

func (s *PostgresPoolStorage) Ping(ctx context.Context) error {
	return s.pool.Ping(ctx)
}

// Migrate applies the embedded goose migrations through a database/sql
// handle that shares this pool.
func (s *PostgresPoolStorage) Migrate(ctx context.Context) error {
	db := stdlib.OpenDBFromPool(s.pool)
	defer db.Close()
	return migrate.UpDB(ctx, db, "postgrespool")
}

// ReportPoolStats publishes pool usage to prometheus.
func (s *PostgresPoolStorage) ReportPoolStats() {
	st := s.pool.Stat()
	metrics.UpdateDBPoolMetrics("postgrespool",
		float64(st.TotalConns()),
		float64(st.IdleConns()),
		float64(st.AcquiredConns()),
		st.AcquireCount(),
	)
}

func (s *PostgresPoolStorage) GetRatesSnapshot(ctx context.Context, source string) (*RatesSnapshot, error) {
	list, err := s.ListRatesSnapshots(ctx, source, 1)
	if err != nil || len(list) == 0 {
		return nil, err
	}
	return &list[0], nil
}

func (s *PostgresPoolStorage) SaveRatesSnapshot(ctx context.Context, snap RatesSnapshot) error {
	prepareSnapshot(&snap)
	_, err := s.pool.Exec(ctx, `
		INSERT INTO rates_snapshots (id, source, payload, versions, fetched_at)
		VALUES ($1,$2,$3,$4,$5)
	`, snap.ID, snap.Source, snap.Payload, snap.Versions, snap.FetchedAt)
	return err
}

func (s *PostgresPoolStorage) ListRatesSnapshots(ctx context.Context, source string, limit int) ([]RatesSnapshot, error) {
	query := `
		SELECT id, source, payload, versions, fetched_at
		FROM rates_snapshots
		WHERE source=$1
		ORDER BY fetched_at DESC`
	args := []any{source}
	if limit > 0 {
		query += ` LIMIT $2`
		args = append(args, limit)
	}

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []RatesSnapshot
	for rows.Next() {
		var snap RatesSnapshot
		if err := rows.Scan(&snap.ID, &snap.Source, &snap.Payload, &snap.Versions, &snap.FetchedAt); err != nil {
			return nil, err
		}
		out = append(out, snap)
	}
	return out, rows.Err()
}

func (s *PostgresPoolStorage) GetSetting(ctx context.Context, key string) (string, error) {
	var value string
	err := s.pool.QueryRow(ctx, `SELECT value FROM settings WHERE key=$1`, key).Scan(&value)
	if errors.Is(err, pgx.ErrNoRows) {
		return "", nil
	}
	return value, err
}

func (s *PostgresPoolStorage) SetSetting(ctx context.Context, key, value string) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO settings (key, value, updated_at)
		VALUES ($1,$2,$3)
		ON CONFLICT (key) DO UPDATE SET
			value=EXCLUDED.value,
			updated_at=EXCLUDED.updated_at
	`, key, value, time.Now().UTC())
	return err
}

func (s *PostgresPoolStorage) UpdateScheduledJob(ctx context.Context, name string, started time.Time, dur time.Duration, success bool, errMsg string) error {
	job := newScheduledJob(name, started.UTC(), dur, success, errMsg)
	_, err := s.pool.Exec(ctx, `
		INSERT INTO scheduled_jobs (name, last_run_at, last_duration_ms, last_success, last_error)
		VALUES ($1,$2,$3,$4,$5)
		ON CONFLICT (name) DO UPDATE SET
			last_run_at=EXCLUDED.last_run_at,
			last_duration_ms=EXCLUDED.last_duration_ms,
			last_success=EXCLUDED.last_success,
			last_error=EXCLUDED.last_error
	`, job.Name, job.LastRunAt, job.LastDurationMs, job.LastSuccess, job.LastError)
	return err
}

func (s *PostgresPoolStorage) GetScheduledJob(ctx context.Context, name string) (*ScheduledJob, error) {
	var job ScheduledJob
	err := s.pool.QueryRow(ctx, `
		SELECT name, last_run_at, last_duration_ms, last_success, last_error
		FROM scheduled_jobs
		WHERE name=$1
	`, name).Scan(&job.Name, &job.LastRunAt, &job.LastDurationMs, &job.LastSuccess, &job.LastError)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &job, nil
}

const apiTokenColumns = `id, name, token_hash, role, created_at, expires_at, last_used_at`

func scanAPIToken(row pgx.Row) (*APIToken, error) {
	var tok APIToken
	if err := row.Scan(&tok.ID, &tok.Name, &tok.TokenHash, &tok.Role, &tok.CreatedAt, &tok.ExpiresAt, &tok.LastUsedAt); err != nil {
		return nil, err
	}
	return &tok, nil
}

func (s *PostgresPoolStorage) CreateAPIToken(ctx context.Context, tok APIToken) error {
	prepareToken(&tok)
	_, err := s.pool.Exec(ctx, `
		INSERT INTO api_tokens (`+apiTokenColumns+`)
		VALUES ($1,$2,$3,$4,$5,$6,$7)
	`, tok.ID, tok.Name, tok.TokenHash, tok.Role, tok.CreatedAt, tok.ExpiresAt, tok.LastUsedAt)
	return err
}

func (s *PostgresPoolStorage) GetAPITokenByHash(ctx context.Context, hash string) (*APIToken, error) {
	tok, err := scanAPIToken(s.pool.QueryRow(ctx,
		`SELECT `+apiTokenColumns+` FROM api_tokens WHERE token_hash=$1`, hash))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	return tok, err
}

func (s *PostgresPoolStorage) ListAPITokens(ctx context.Context) ([]APIToken, error) {
	rows, err := s.pool.Query(ctx, `SELECT `+apiTokenColumns+` FROM api_tokens ORDER BY created_at ASC`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []APIToken
	for rows.Next() {
		tok, err := scanAPIToken(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *tok)
	}
	return out, rows.Err()
}

func (s *PostgresPoolStorage) DeleteAPIToken(ctx context.Context, id string) error {
	_, err := s.pool.Exec(ctx, `DELETE FROM api_tokens WHERE id=$1`, id)
	return err
}

func (s *PostgresPoolStorage) TouchAPIToken(ctx context.Context, id string, at time.Time) error {
	_, err := s.pool.Exec(ctx, `UPDATE api_tokens SET last_used_at=$2 WHERE id=$1`, id, at.UTC())
	return err
}

// AcquireAdvisoryLock takes a session-level lock on a connection that stays
// checked out until ReleaseAdvisoryLock.
func (s *PostgresPoolStorage) AcquireAdvisoryLock(ctx context.Context, key int64) (bool, error) {
	s.lockMu.Lock()
	defer s.lockMu.Unlock()
	if _, held := s.locks[key]; held {
		return false, nil
	}

	conn, err := s.pool.Acquire(ctx)
	if err != nil {
		return false, fmt.Errorf("acquire conn: %w", err)
	}
	var ok bool
	if err := conn.QueryRow(ctx, `SELECT pg_try_advisory_lock($1)`, key).Scan(&ok); err != nil {
		conn.Release()
		return false, err
	}
	if !ok {
		conn.Release()
		return false, nil
	}
	s.locks[key] = conn
	return true, nil
}

func (s *PostgresPoolStorage) ReleaseAdvisoryLock(ctx context.Context, key int64) (bool, error) {
	s.lockMu.Lock()
	conn, held := s.locks[key]
	delete(s.locks, key)
	s.lockMu.Unlock()
	if !held {
		return false, nil
	}
	defer conn.Release()

	var ok bool
	err := conn.QueryRow(ctx, `SELECT pg_advisory_unlock($1)`, key).Scan(&ok)
	return ok, err
}
