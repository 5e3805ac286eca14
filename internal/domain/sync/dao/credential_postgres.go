package dao

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/vadim/kidsight/internal/domain/sync/entity"
)

// CredentialPostgres implements credential lookup for PostgreSQL. The
// synchronizer never writes credentials; connector setup owns that.
type CredentialPostgres struct {
	pool *pgxpool.Pool
}

// NewCredentialPostgres creates a new PostgreSQL credential repository
func NewCredentialPostgres(pool *pgxpool.Pool) *CredentialPostgres {
	return &CredentialPostgres{pool: pool}
}

// GetAuthorized returns the child's authorized credential record, or nil when
// the child has none.
func (r *CredentialPostgres) GetAuthorized(ctx context.Context, childID string) (*entity.Credential, error) {
	query := `
		SELECT id, child_id, instance_id, token, status, created_at
		FROM provider_credentials
		WHERE child_id = $1 AND status = $2
		ORDER BY created_at DESC
		LIMIT 1
	`

	var cred entity.Credential
	err := r.pool.QueryRow(ctx, query, childID, entity.CredentialStatusAuthorized).Scan(
		&cred.ID,
		&cred.ChildID,
		&cred.InstanceID,
		&cred.Token,
		&cred.Status,
		&cred.CreatedAt,
	)
	if err == pgx.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("getting credential: %w", err)
	}

	return &cred, nil
}
