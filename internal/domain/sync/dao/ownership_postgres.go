package dao

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// OwnershipPostgres answers whether a principal owns a child record
type OwnershipPostgres struct {
	pool *pgxpool.Pool
}

// NewOwnershipPostgres creates a new PostgreSQL ownership store
func NewOwnershipPostgres(pool *pgxpool.Pool) *OwnershipPostgres {
	return &OwnershipPostgres{pool: pool}
}

// Owns reports whether principalID is the parent of childID. An unknown
// child is reported as not owned.
func (r *OwnershipPostgres) Owns(ctx context.Context, childID, principalID string) (bool, error) {
	var parentID string
	err := r.pool.QueryRow(ctx, "SELECT parent_id FROM children WHERE id = $1", childID).Scan(&parentID)
	if err == pgx.ErrNoRows {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("checking ownership: %w", err)
	}

	return parentID == principalID, nil
}
