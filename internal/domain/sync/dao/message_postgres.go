package dao

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/vadim/kidsight/internal/domain/sync/entity"
)

// MessagePostgres implements message repository for PostgreSQL
type MessagePostgres struct {
	pool *pgxpool.Pool
}

// NewMessagePostgres creates a new PostgreSQL message repository
func NewMessagePostgres(pool *pgxpool.Pool) *MessagePostgres {
	return &MessagePostgres{pool: pool}
}

// ExistingByTimestamps returns the stored messages of a conversation whose
// timestamps intersect the given set, in a single query. This keeps the dedup
// cost at one round-trip per fetched batch regardless of batch size.
func (r *MessagePostgres) ExistingByTimestamps(ctx context.Context, conversationID string, timestamps []time.Time) ([]entity.Message, error) {
	if len(timestamps) == 0 {
		return nil, nil
	}

	query := `
		SELECT id, conversation_id, external_message_id, ts, media_url
		FROM messages
		WHERE conversation_id = $1 AND ts = ANY($2)
	`

	rows, err := r.pool.Query(ctx, query, conversationID, timestamps)
	if err != nil {
		return nil, fmt.Errorf("querying existing messages: %w", err)
	}
	defer rows.Close()

	var messages []entity.Message
	for rows.Next() {
		var msg entity.Message
		var externalID, mediaURL *string

		if err := rows.Scan(&msg.ID, &msg.ConversationID, &externalID, &msg.Timestamp, &mediaURL); err != nil {
			return nil, fmt.Errorf("scanning existing message: %w", err)
		}
		if externalID != nil {
			msg.ExternalMessageID = *externalID
		}
		if mediaURL != nil {
			msg.MediaURL = *mediaURL
		}
		messages = append(messages, msg)
	}

	return messages, nil
}

// InsertBatch writes all new messages of a conversation batch in one grouped
// operation. Rows colliding on a dedup key are silently skipped, so a
// concurrent or retried run inserting the same message is not an error. The
// returned count covers rows actually inserted.
func (r *MessagePostgres) InsertBatch(ctx context.Context, msgs []entity.Message) (int, error) {
	if len(msgs) == 0 {
		return 0, nil
	}

	batch := &pgx.Batch{}
	query := `
		INSERT INTO messages (
			id, conversation_id, child_id, sender_label, is_from_child,
			message_type, ts, text_content, text_excerpt, media_url,
			media_thumbnail, external_message_id, created_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)
		ON CONFLICT DO NOTHING
	`

	now := time.Now()
	for _, msg := range msgs {
		batch.Queue(query,
			msg.ID,
			msg.ConversationID,
			msg.ChildID,
			msg.SenderLabel,
			msg.IsFromChild,
			msg.Type,
			msg.Timestamp,
			msg.TextContent,
			msg.TextExcerpt,
			nullable(msg.MediaURL),
			nullable(msg.MediaThumbnail),
			nullable(msg.ExternalMessageID),
			now,
		)
	}

	results := r.pool.SendBatch(ctx, batch)
	defer results.Close()

	inserted := 0
	for range msgs {
		tag, err := results.Exec()
		if err != nil {
			return inserted, fmt.Errorf("executing batch insert: %w", err)
		}
		inserted += int(tag.RowsAffected())
	}

	return inserted, nil
}

// BackfillMediaURL fills in a missing media URL on an already-stored message.
// Every other field of a stored message is immutable.
func (r *MessagePostgres) BackfillMediaURL(ctx context.Context, messageID, mediaURL string) error {
	query := `
		UPDATE messages
		SET media_url = $2
		WHERE id = $1 AND media_url IS NULL
	`

	_, err := r.pool.Exec(ctx, query, messageID, mediaURL)
	if err != nil {
		return fmt.Errorf("backfilling media url: %w", err)
	}
	return nil
}

// ListByConversation retrieves messages for a conversation with pagination,
// newest first. The child filter keeps one family's data from leaking into
// another's reads.
func (r *MessagePostgres) ListByConversation(ctx context.Context, conversationID, childID string, limit, offset int) ([]entity.Message, error) {
	query := `
		SELECT id, conversation_id, child_id, sender_label, is_from_child,
		       message_type, ts, text_content, text_excerpt, media_url,
		       media_thumbnail, external_message_id, created_at
		FROM messages
		WHERE conversation_id = $1 AND child_id = $2
		ORDER BY ts DESC
		LIMIT $3 OFFSET $4
	`

	rows, err := r.pool.Query(ctx, query, conversationID, childID, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("querying messages: %w", err)
	}
	defer rows.Close()

	var messages []entity.Message
	for rows.Next() {
		var msg entity.Message
		var mediaURL, mediaThumbnail, externalID *string

		err := rows.Scan(
			&msg.ID,
			&msg.ConversationID,
			&msg.ChildID,
			&msg.SenderLabel,
			&msg.IsFromChild,
			&msg.Type,
			&msg.Timestamp,
			&msg.TextContent,
			&msg.TextExcerpt,
			&mediaURL,
			&mediaThumbnail,
			&externalID,
			&msg.CreatedAt,
		)
		if err != nil {
			return nil, fmt.Errorf("scanning message row: %w", err)
		}

		if mediaURL != nil {
			msg.MediaURL = *mediaURL
		}
		if mediaThumbnail != nil {
			msg.MediaThumbnail = *mediaThumbnail
		}
		if externalID != nil {
			msg.ExternalMessageID = *externalID
		}
		messages = append(messages, msg)
	}

	return messages, nil
}

// Count returns the total count of messages in a conversation
func (r *MessagePostgres) Count(ctx context.Context, conversationID, childID string) (int64, error) {
	var count int64
	err := r.pool.QueryRow(ctx, "SELECT COUNT(*) FROM messages WHERE conversation_id = $1 AND child_id = $2", conversationID, childID).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("counting messages: %w", err)
	}
	return count, nil
}

// nullable converts an empty string to a SQL NULL
func nullable(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}
