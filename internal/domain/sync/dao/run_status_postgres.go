package dao

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/vadim/kidsight/internal/domain/sync/entity"
)

// RunStatusPostgres records the last completed run per child. Runs themselves
// are ephemeral; only the latest summary and its time are kept, to drive the
// scheduler.
type RunStatusPostgres struct {
	pool *pgxpool.Pool
}

// NewRunStatusPostgres creates a new PostgreSQL run status repository
func NewRunStatusPostgres(pool *pgxpool.Pool) *RunStatusPostgres {
	return &RunStatusPostgres{pool: pool}
}

// Record upserts the run summary for a child
func (r *RunStatusPostgres) Record(ctx context.Context, childID string, summary *entity.RunSummary, at time.Time) error {
	query := `
		INSERT INTO child_sync_status (child_id, last_synced_at, conversations_processed, messages_imported)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (child_id) DO UPDATE SET
			last_synced_at = EXCLUDED.last_synced_at,
			conversations_processed = EXCLUDED.conversations_processed,
			messages_imported = EXCLUDED.messages_imported
	`

	_, err := r.pool.Exec(ctx, query,
		childID,
		at,
		summary.ConversationsProcessed,
		summary.MessagesImported,
	)
	if err != nil {
		return fmt.Errorf("recording run status: %w", err)
	}

	return nil
}

// ChildrenNeedingSync returns children with provider credentials whose last
// run is older than the threshold, least recently synced first.
func (r *RunStatusPostgres) ChildrenNeedingSync(ctx context.Context, olderThan time.Duration, limit int) ([]string, error) {
	query := `
		SELECT c.id::text
		FROM children c
		JOIN provider_credentials pc ON pc.child_id = c.id AND pc.status = 'authorized'
		LEFT JOIN child_sync_status s ON c.id = s.child_id
		WHERE s.child_id IS NULL
		   OR s.last_synced_at < $1
		ORDER BY COALESCE(s.last_synced_at, '1970-01-01'::timestamptz) ASC
		LIMIT $2
	`

	threshold := time.Now().Add(-olderThan)
	rows, err := r.pool.Query(ctx, query, threshold, limit)
	if err != nil {
		return nil, fmt.Errorf("getting children needing sync: %w", err)
	}
	defer rows.Close()

	var childIDs []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("scanning child id: %w", err)
		}
		childIDs = append(childIDs, id)
	}

	return childIDs, nil
}
