package postgres

import (
	"context"
	"fmt"
	"hash/fnv"

	"ebbridge/internal/core/apperror"
)

// AdvisoryLocker implements the run-level single-writer lock and the
// per-mutation posting lock on postgres advisory locks. Both locks are
// session-scoped on a dedicated connection, so a crashed process releases
// them automatically.
type AdvisoryLocker struct {
	pool *Pool
}

// NewAdvisoryLocker creates an AdvisoryLocker.
func NewAdvisoryLocker(pool *Pool) *AdvisoryLocker {
	return &AdvisoryLocker{pool: pool}
}

// AcquireRunLock takes the company lock without blocking. A held lock means
// another run is active for the company.
func (l *AdvisoryLocker) AcquireRunLock(ctx context.Context, company string) (func(), error) {
	key := lockKey("run", company, 0)

	conn, err := l.pool.Acquire(ctx)
	if err != nil {
		return nil, fmt.Errorf("acquire lock connection: %w", err)
	}

	var acquired bool
	if err := conn.QueryRow(ctx, "SELECT pg_try_advisory_lock($1)", key).Scan(&acquired); err != nil {
		conn.Release()
		return nil, fmt.Errorf("try run lock: %w", err)
	}
	if !acquired {
		conn.Release()
		return nil, apperror.NewRunLocked(company)
	}

	release := func() {
		// Unlock on a background context; release must succeed even when
		// the run context is already cancelled.
		_, _ = conn.Exec(context.Background(), "SELECT pg_advisory_unlock($1)", key)
		conn.Release()
	}
	return release, nil
}

// WithMutationLock serializes the posting critical section for one mutation
// id across concurrent runs.
func (l *AdvisoryLocker) WithMutationLock(ctx context.Context, company string, mutationID int64, fn func(ctx context.Context) error) error {
	key := lockKey("mutation", company, mutationID)

	conn, err := l.pool.Acquire(ctx)
	if err != nil {
		return fmt.Errorf("acquire lock connection: %w", err)
	}
	defer conn.Release()

	if _, err := conn.Exec(ctx, "SELECT pg_advisory_lock($1)", key); err != nil {
		return fmt.Errorf("mutation lock: %w", err)
	}
	defer func() {
		_, _ = conn.Exec(context.Background(), "SELECT pg_advisory_unlock($1)", key)
	}()

	return fn(ctx)
}

// lockKey folds the lock scope into the signed 64-bit key space of
// pg_advisory_lock.
func lockKey(scope, company string, n int64) int64 {
	h := fnv.New64a()
	_, _ = h.Write([]byte(scope))
	_, _ = h.Write([]byte{0})
	_, _ = h.Write([]byte(company))
	_, _ = h.Write([]byte{0})
	_, _ = fmt.Fprintf(h, "%d", n)
	return int64(h.Sum64())
}
