package model

import "time"

// ChatMessage is a stored conversation row. Both user messages and the bot's
// own replies are persisted here; UserID distinguishes them.
type ChatMessage struct {
	ID               int64     `json:"id"`
	ChannelID        string    `json:"channel_id"`
	UserID           string    `json:"user_id"`
	Message          string    `json:"message"`
	DiscordMessageID string    `json:"discord_message_id"`
	CreatedAt        time.Time `json:"created_at"`
}

// ChannelSetting is the persisted per-channel settings row.
type ChannelSetting struct {
	ChannelID string   `json:"channel_id"`
	Settings  Settings `json:"settings"`
}
