package memory

import (
	"context"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// DB is a no-op DBPort for in-memory wiring. The memory repositories
// ignore the executor argument, so transactions degrade to plain calls.
type DB struct{}

// NewDB creates the in-memory database port
func NewDB() *DB { return &DB{} }

// GetDB implements ports.DBPort. There is no pool in memory mode.
func (d *DB) GetDB() *pgxpool.Pool { return nil }

// WithTransaction implements ports.TransactionManager without
// transactional semantics.
func (d *DB) WithTransaction(ctx context.Context, fn func(ctx context.Context, tx pgx.Tx) error) error {
	return fn(ctx, nil)
}
