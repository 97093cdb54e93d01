package storage

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/nexusflow/taskqueue/internal/config"
	"github.com/nexusflow/taskqueue/internal/logger"
)

// PostgresStore is the only Store implementation: a pgx connection pool
// plus the query methods in queries.go, locks.go, dlq.go and metrics_store.go.
type PostgresStore struct {
	pool *pgxpool.Pool

	lockMu   sync.Mutex
	lockConn *pgxpool.Conn
}

// pinnedLockConn returns a single connection held for the lifetime of the
// store and reused for every advisory-lock call. pg_advisory_lock is
// session-scoped: acquiring on one pooled connection and releasing from
// another would silently no-op, so lock traffic cannot go through the
// ordinary per-call pool.Acquire path.
func (s *PostgresStore) pinnedLockConn(ctx context.Context) (*pgxpool.Conn, error) {
	s.lockMu.Lock()
	defer s.lockMu.Unlock()
	if s.lockConn != nil {
		return s.lockConn, nil
	}
	conn, err := s.pool.Acquire(ctx)
	if err != nil {
		return nil, err
	}
	s.lockConn = conn
	return conn, nil
}

// Connect opens a pooled connection, retrying with linear backoff the same
// way the rest of the pack's Postgres-facing code does on startup, since a
// freshly-started database or a cold container network is a common and
// purely transient failure at boot.
func Connect(ctx context.Context, cfg config.StorageConfig) (*PostgresStore, error) {
	poolCfg, err := pgxpool.ParseConfig(cfg.ConnectionString)
	if err != nil {
		return nil, errors.Join(ErrFailedToOpenConnection, err)
	}
	poolCfg.MaxConns = cfg.MaxOpenConns
	poolCfg.MinConns = cfg.MaxIdleConns
	poolCfg.HealthCheckPeriod = cfg.HealthCheckPeriod
	poolCfg.MaxConnIdleTime = cfg.MaxConnIdleTime
	poolCfg.MaxConnLifetime = cfg.MaxConnLifetime

	attempts := cfg.RetryAttempts
	if attempts <= 0 {
		attempts = 1
	}

	var lastErr error
	for i := range attempts {
		pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
		if err != nil {
			lastErr = err
			logger.Warn().Err(err).Int("attempt", i+1).Msg("storage: connect failed")
			time.Sleep(time.Duration(i+1) * cfg.RetryInterval)
			continue
		}
		if err := pool.Ping(ctx); err != nil {
			pool.Close()
			lastErr = err
			logger.Warn().Err(err).Int("attempt", i+1).Msg("storage: ping failed")
			time.Sleep(time.Duration(i+1) * cfg.RetryInterval)
			continue
		}
		return &PostgresStore{pool: pool}, nil
	}

	return nil, errors.Join(ErrFailedToOpenConnection, lastErr)
}

func (s *PostgresStore) Close() {
	s.lockMu.Lock()
	if s.lockConn != nil {
		s.lockConn.Release()
		s.lockConn = nil
	}
	s.lockMu.Unlock()
	s.pool.Close()
}

func (s *PostgresStore) Healthy(ctx context.Context) Health {
	start := time.Now()
	err := s.pool.Ping(ctx)
	h := Health{Latency: time.Since(start), OK: err == nil}
	if err != nil {
		h.Err = errors.Join(ErrHealthcheckFailed, err)
	}
	return h
}
