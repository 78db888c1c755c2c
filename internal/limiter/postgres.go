package limiter

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

const (
	selectBlock = `SELECT blocked_until FROM reveal_limiter WHERE doc_id=$1`

	resetFailures = `
INSERT INTO reveal_limiter (doc_id, fail_count, blocked_until, updated_at)
VALUES ($1,0,'epoch',now())
ON CONFLICT (doc_id)
DO UPDATE SET fail_count=0, blocked_until='epoch', updated_at=now()`

	countFailure = `
INSERT INTO reveal_limiter (doc_id, fail_count, blocked_until, updated_at)
VALUES ($1,1,'epoch',now())
ON CONFLICT (doc_id) DO UPDATE
SET
  fail_count = CASE WHEN now() - reveal_limiter.updated_at > $2::interval THEN 1 ELSE reveal_limiter.fail_count + 1 END,
  updated_at = now()
RETURNING fail_count`

	setBlock = `UPDATE reveal_limiter SET blocked_until=$2 WHERE doc_id=$1`
)

// Querier is the subset of a pgx pool the limiter uses.
type Querier interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// PG keeps counters in the reveal_limiter table. Failures older than window
// restart the count; maxFails failures within it block the id for blockFor.
type PG struct {
	pool     Querier
	window   time.Duration
	maxFails int
	blockFor time.Duration
	now      func() time.Time
}

var _ Limiter = (*PG)(nil)

// NewPG constructs a PostgreSQL-backed limiter.
func NewPG(q Querier, window time.Duration, maxFails int, blockFor time.Duration) *PG {
	return &PG{pool: q, window: window, maxFails: maxFails, blockFor: blockFor, now: time.Now}
}

// Allow implements Limiter.
func (l *PG) Allow(ctx context.Context, id string) (bool, time.Duration, error) {
	var blockedUntil time.Time
	err := l.pool.QueryRow(ctx, selectBlock, id).Scan(&blockedUntil)
	switch {
	case err == nil:
		if now := l.now(); blockedUntil.After(now) {
			return false, blockedUntil.Sub(now), nil
		}
		return true, 0, nil
	case errors.Is(err, pgx.ErrNoRows):
		return true, 0, nil
	default:
		return false, 0, err
	}
}

// Success implements Limiter.
func (l *PG) Success(ctx context.Context, id string) error {
	_, err := l.pool.Exec(ctx, resetFailures, id)
	return err
}

// Failure implements Limiter.
func (l *PG) Failure(ctx context.Context, id string) (bool, time.Duration, error) {
	var fails int
	if err := l.pool.QueryRow(ctx, countFailure, id, l.window).Scan(&fails); err != nil {
		return false, 0, err
	}
	if fails < l.maxFails {
		return false, 0, nil
	}
	if _, err := l.pool.Exec(ctx, setBlock, id, l.now().Add(l.blockFor)); err != nil {
		return false, 0, err
	}
	return true, l.blockFor, nil
}
