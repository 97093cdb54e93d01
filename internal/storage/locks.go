package storage

// Advisory locks are session-scoped: pg_try_advisory_lock and
// pg_advisory_unlock operate on whatever connection they run on, and the
// server releases them automatically if that connection drops. Running
// every call through a single dedicated connection (rather than letting
// the pool pick one per call) is what makes "acquire on conn A, release on
// conn A" hold; LockManager is built against that guarantee.

import "context"

func (s *PostgresStore) TryAdvisoryLock(ctx context.Context, lockID int64) (bool, error) {
	conn, err := s.pinnedLockConn(ctx)
	if err != nil {
		return false, err
	}
	var ok bool
	err = conn.QueryRow(ctx, `SELECT pg_try_advisory_lock($1)`, lockID).Scan(&ok)
	return ok, err
}

func (s *PostgresStore) ReleaseAdvisoryLock(ctx context.Context, lockID int64) error {
	conn, err := s.pinnedLockConn(ctx)
	if err != nil {
		return err
	}
	var ok bool
	return conn.QueryRow(ctx, `SELECT pg_advisory_unlock($1)`, lockID).Scan(&ok)
}

func (s *PostgresStore) CheckAdvisoryLock(ctx context.Context, lockID int64) (bool, error) {
	var granted bool
	err := s.pool.QueryRow(ctx, `
		SELECT EXISTS (
			SELECT 1 FROM pg_locks
			WHERE locktype = 'advisory' AND objid = $1 AND granted
		)`, lockID).Scan(&granted)
	return granted, err
}
