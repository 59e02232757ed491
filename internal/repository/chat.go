package repository

import (
	"context"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/thanhnguyen96/discord-bot-pinky/internal/model"
)

type ChatHistoryRepository struct {
	pool *pgxpool.Pool
}

func NewChatHistoryRepository(pool *pgxpool.Pool) *ChatHistoryRepository {
	return &ChatHistoryRepository{pool: pool}
}

// Insert stores a chat message. A message already present for the same
// (channel_id, discord_message_id) pair is silently skipped; the return
// value reports whether a new row was written.
func (r *ChatHistoryRepository) Insert(ctx context.Context, channelID, userID, message, discordMessageID string, createdAt time.Time) (bool, error) {
	tag, err := r.pool.Exec(ctx, `
		INSERT INTO chat_histories (channel_id, user_id, message, discord_message_id, created_at)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (channel_id, discord_message_id) DO NOTHING
	`, channelID, userID, message, discordMessageID, createdAt)
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() > 0, nil
}

// History returns up to limit of the most recent messages for a channel,
// ordered oldest first. The newest rows are selected DESC and then reversed
// so callers always see chronological order.
func (r *ChatHistoryRepository) History(ctx context.Context, channelID string, limit int) ([]model.ChatMessage, error) {
	if limit <= 0 || limit > 200 {
		limit = 20
	}

	rows, err := r.pool.Query(ctx, `
		SELECT id, channel_id, user_id, message, discord_message_id, created_at
		FROM chat_histories
		WHERE channel_id = $1
		ORDER BY created_at DESC
		LIMIT $2
	`, channelID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var msgs []model.ChatMessage
	for rows.Next() {
		var m model.ChatMessage
		if err := rows.Scan(&m.ID, &m.ChannelID, &m.UserID, &m.Message, &m.DiscordMessageID, &m.CreatedAt); err != nil {
			return nil, err
		}
		msgs = append(msgs, m)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	// Reverse for chronological order (oldest first)
	for i, j := 0, len(msgs)-1; i < j; i, j = i+1, j-1 {
		msgs[i], msgs[j] = msgs[j], msgs[i]
	}

	return msgs, nil
}

// ClearChannel deletes all stored messages for a channel.
// Returns the number of deleted rows.
func (r *ChatHistoryRepository) ClearChannel(ctx context.Context, channelID string) (int64, error) {
	tag, err := r.pool.Exec(ctx, `
		DELETE FROM chat_histories WHERE channel_id = $1
	`, channelID)
	if err != nil {
		return 0, err
	}
	return tag.RowsAffected(), nil
}
