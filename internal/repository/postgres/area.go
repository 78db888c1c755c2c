package postgres

import (
	"context"
	"errors"

	"github.com/jackc/pgx/v5"

	"github.com/and161185/consent-keeper/internal/errs"
)

const (
	selectArea = `SELECT value FROM storage_areas WHERE name=$1`
	upsertArea = `INSERT INTO storage_areas (name, value, updated_at) VALUES ($1,$2,now())
ON CONFLICT (name) DO UPDATE SET value=EXCLUDED.value, updated_at=now()`
)

// Area is one row of storage_areas. Store is a blind upsert; it does not
// compare against what Load returned.
type Area struct {
	db   *DB
	name string
}

// NewArea constructs an area named name.
func NewArea(db *DB, name string) *Area { return &Area{db: db, name: name} }

// Load returns the row value or errs.ErrNotFound.
func (a *Area) Load(ctx context.Context) ([]byte, error) {
	var v string
	err := a.db.Pool.QueryRow(ctx, selectArea, a.name).Scan(&v)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, errs.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return []byte(v), nil
}

// Store upserts the row value.
func (a *Area) Store(ctx context.Context, value []byte) error {
	_, err := a.db.Pool.Exec(ctx, upsertArea, a.name, string(value))
	return err
}
