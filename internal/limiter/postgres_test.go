package limiter

import (
	"context"
	"errors"
	"regexp"
	"testing"
	"time"

	"github.com/jackc/pgx/v5"
	pgxmock "github.com/pashagolub/pgxmock/v3"
)

var t0 = time.Date(2026, 10, 17, 12, 0, 0, 0, time.UTC)

func newLimiter(t *testing.T, maxFails int) (*PG, pgxmock.PgxPoolIface) {
	t.Helper()
	mock, err := pgxmock.NewPool()
	if err != nil {
		t.Fatalf("pgxmock: %v", err)
	}
	l := NewPG(mock, 15*time.Minute, maxFails, 10*time.Minute)
	l.now = func() time.Time { return t0 }
	return l, mock
}

func TestAllow_NoRow_Allows(t *testing.T) {
	l, mock := newLimiter(t, 5)
	defer mock.Close()
	mock.ExpectQuery(regexp.QuoteMeta(selectBlock)).WithArgs("doc").WillReturnError(pgx.ErrNoRows)

	ok, dur, err := l.Allow(context.Background(), "doc")
	if err != nil || !ok || dur != 0 {
		t.Fatalf("Allow no-row: ok=%v dur=%v err=%v", ok, dur, err)
	}
}

func TestAllow_BlockedUntilFuture(t *testing.T) {
	l, mock := newLimiter(t, 5)
	defer mock.Close()
	mock.ExpectQuery(regexp.QuoteMeta(selectBlock)).WithArgs("doc").
		WillReturnRows(pgxmock.NewRows([]string{"blocked_until"}).AddRow(t0.Add(7 * time.Minute)))

	ok, dur, err := l.Allow(context.Background(), "doc")
	if err != nil || ok || dur != 7*time.Minute {
		t.Fatalf("Allow blocked: ok=%v dur=%v err=%v", ok, dur, err)
	}
}

func TestAllow_PastBlock_Allows(t *testing.T) {
	l, mock := newLimiter(t, 5)
	defer mock.Close()
	mock.ExpectQuery(regexp.QuoteMeta(selectBlock)).WithArgs("doc").
		WillReturnRows(pgxmock.NewRows([]string{"blocked_until"}).AddRow(t0.Add(-time.Minute)))

	ok, dur, err := l.Allow(context.Background(), "doc")
	if err != nil || !ok || dur != 0 {
		t.Fatalf("Allow past: ok=%v dur=%v err=%v", ok, dur, err)
	}
}

func TestAllow_DBError_Propagates(t *testing.T) {
	l, mock := newLimiter(t, 5)
	defer mock.Close()
	mock.ExpectQuery(regexp.QuoteMeta(selectBlock)).WithArgs("doc").WillReturnError(errors.New("db boom"))

	ok, _, err := l.Allow(context.Background(), "doc")
	if err == nil || ok {
		t.Fatalf("want error propagate, got ok=%v err=%v", ok, err)
	}
}

func TestSuccess_Resets(t *testing.T) {
	l, mock := newLimiter(t, 5)
	defer mock.Close()
	mock.ExpectExec(regexp.QuoteMeta(resetFailures)).WithArgs("doc").
		WillReturnResult(pgxmock.NewResult("INSERT", 1))

	if err := l.Success(context.Background(), "doc"); err != nil {
		t.Fatalf("success err: %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("expectations: %v", err)
	}
}

func TestFailure_Increments_NoBlock(t *testing.T) {
	l, mock := newLimiter(t, 5)
	defer mock.Close()
	mock.ExpectQuery(regexp.QuoteMeta(countFailure)).WithArgs("doc", 15*time.Minute).
		WillReturnRows(pgxmock.NewRows([]string{"fail_count"}).AddRow(2))

	blocked, dur, err := l.Failure(context.Background(), "doc")
	if err != nil || blocked || dur != 0 {
		t.Fatalf("Failure no block: blocked=%v dur=%v err=%v", blocked, dur, err)
	}
}

func TestFailure_BlocksAtThreshold(t *testing.T) {
	l, mock := newLimiter(t, 5)
	defer mock.Close()
	mock.ExpectQuery(regexp.QuoteMeta(countFailure)).WithArgs("doc", 15*time.Minute).
		WillReturnRows(pgxmock.NewRows([]string{"fail_count"}).AddRow(5))
	mock.ExpectExec(regexp.QuoteMeta(setBlock)).WithArgs("doc", t0.Add(10*time.Minute)).
		WillReturnResult(pgxmock.NewResult("UPDATE", 1))

	blocked, dur, err := l.Failure(context.Background(), "doc")
	if err != nil || !blocked || dur != 10*time.Minute {
		t.Fatalf("Failure block: blocked=%v dur=%v err=%v", blocked, dur, err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("expectations: %v", err)
	}
}

func TestFailure_DBErrorOnReturning(t *testing.T) {
	l, mock := newLimiter(t, 5)
	defer mock.Close()
	mock.ExpectQuery(regexp.QuoteMeta(countFailure)).WithArgs("doc", 15*time.Minute).
		WillReturnError(errors.New("query error"))

	if _, _, err := l.Failure(context.Background(), "doc"); err == nil {
		t.Fatalf("want error from returning fail_count")
	}
}
