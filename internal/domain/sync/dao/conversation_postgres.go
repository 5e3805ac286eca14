package dao

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/vadim/kidsight/internal/domain/sync/entity"
)

// ConversationPostgres implements conversation repository for PostgreSQL
type ConversationPostgres struct {
	pool *pgxpool.Pool
}

// NewConversationPostgres creates a new PostgreSQL conversation repository
func NewConversationPostgres(pool *pgxpool.Pool) *ConversationPostgres {
	return &ConversationPostgres{pool: pool}
}

// FindByName looks up a conversation by its matching key
// (child_id, external_name). Returns nil when absent.
func (r *ConversationPostgres) FindByName(ctx context.Context, childID, externalName string) (*entity.Conversation, error) {
	query := `
		SELECT id, child_id, external_name, is_group, last_message_at, created_at, updated_at
		FROM conversations
		WHERE child_id = $1 AND external_name = $2
	`

	row := r.pool.QueryRow(ctx, query, childID, externalName)
	conv, err := scanConversation(row)
	if err != nil {
		return nil, fmt.Errorf("finding conversation: %w", err)
	}
	return conv, nil
}

// Create inserts a new conversation record
func (r *ConversationPostgres) Create(ctx context.Context, conv *entity.Conversation) error {
	query := `
		INSERT INTO conversations (id, child_id, external_name, is_group, last_message_at, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $6)
	`

	now := time.Now()
	_, err := r.pool.Exec(ctx, query,
		conv.ID,
		conv.ChildID,
		conv.ExternalName,
		conv.IsGroup,
		conv.LastMessageAt,
		now,
	)
	if err != nil {
		return fmt.Errorf("creating conversation: %w", err)
	}

	conv.CreatedAt = now
	conv.UpdatedAt = now
	return nil
}

// TouchLastMessageAt moves last_message_at forward when a run observed newer
// activity.
func (r *ConversationPostgres) TouchLastMessageAt(ctx context.Context, id string, at time.Time) error {
	query := `
		UPDATE conversations
		SET last_message_at = $2, updated_at = now()
		WHERE id = $1 AND (last_message_at IS NULL OR last_message_at < $2)
	`

	_, err := r.pool.Exec(ctx, query, id, at)
	if err != nil {
		return fmt.Errorf("touching conversation: %w", err)
	}
	return nil
}

// ListByChild retrieves conversations for a child with pagination, most
// recently active first.
func (r *ConversationPostgres) ListByChild(ctx context.Context, childID string, limit, offset int) ([]entity.Conversation, error) {
	query := `
		SELECT id, child_id, external_name, is_group, last_message_at, created_at, updated_at
		FROM conversations
		WHERE child_id = $1
		ORDER BY last_message_at DESC NULLS LAST, updated_at DESC
		LIMIT $2 OFFSET $3
	`

	rows, err := r.pool.Query(ctx, query, childID, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("querying conversations: %w", err)
	}
	defer rows.Close()

	var conversations []entity.Conversation
	for rows.Next() {
		conv, err := scanConversation(rows)
		if err != nil {
			return nil, fmt.Errorf("scanning conversation row: %w", err)
		}
		conversations = append(conversations, *conv)
	}

	return conversations, nil
}

// Count returns the total count of conversations for a child
func (r *ConversationPostgres) Count(ctx context.Context, childID string) (int64, error) {
	var count int64
	err := r.pool.QueryRow(ctx, "SELECT COUNT(*) FROM conversations WHERE child_id = $1", childID).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("counting conversations: %w", err)
	}
	return count, nil
}

func scanConversation(row pgx.Row) (*entity.Conversation, error) {
	var conv entity.Conversation
	var lastMessageAt *time.Time

	err := row.Scan(
		&conv.ID,
		&conv.ChildID,
		&conv.ExternalName,
		&conv.IsGroup,
		&lastMessageAt,
		&conv.CreatedAt,
		&conv.UpdatedAt,
	)
	if err == pgx.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	conv.LastMessageAt = lastMessageAt
	return &conv, nil
}
