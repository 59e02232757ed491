package repository

import (
	"context"
	"errors"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/thanhnguyen96/discord-bot-pinky/internal/model"
)

type SettingsRepository struct {
	pool *pgxpool.Pool
}

func NewSettingsRepository(pool *pgxpool.Pool) *SettingsRepository {
	return &SettingsRepository{pool: pool}
}

// Get returns the settings row for a channel, or nil when none exists.
func (r *SettingsRepository) Get(ctx context.Context, channelID string) (*model.ChannelSetting, error) {
	var cs model.ChannelSetting
	err := r.pool.QueryRow(ctx, `
		SELECT channel_id, settings FROM channel_settings WHERE channel_id = $1
	`, channelID).Scan(&cs.ChannelID, &cs.Settings)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &cs, nil
}

// Upsert writes the full settings blob for a channel.
func (r *SettingsRepository) Upsert(ctx context.Context, channelID string, settings model.Settings) error {
	_, err := r.pool.Exec(ctx, `
		INSERT INTO channel_settings (channel_id, settings, updated_at)
		VALUES ($1, $2, NOW())
		ON CONFLICT (channel_id) DO UPDATE SET settings = $2, updated_at = NOW()
	`, channelID, settings)
	return err
}

// LoadAll returns every settings row, used to seed in-memory state at startup.
func (r *SettingsRepository) LoadAll(ctx context.Context) ([]model.ChannelSetting, error) {
	rows, err := r.pool.Query(ctx, `SELECT channel_id, settings FROM channel_settings`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var all []model.ChannelSetting
	for rows.Next() {
		var cs model.ChannelSetting
		if err := rows.Scan(&cs.ChannelID, &cs.Settings); err != nil {
			return nil, err
		}
		all = append(all, cs)
	}
	return all, rows.Err()
}
