package handler

import (
	"context"
	"time"

	"github.com/gofiber/fiber/v2"

	"github.com/thanhnguyen96/discord-bot-pinky/internal/service"
)

// StatusHandler exposes runtime bot state for operators.
type StatusHandler struct {
	chat    *service.ChatService
	state   *service.ChannelState
	history service.HistoryStore
}

func NewStatusHandler(chat *service.ChatService, state *service.ChannelState, history service.HistoryStore) *StatusHandler {
	return &StatusHandler{chat: chat, state: state, history: history}
}

func (h *StatusHandler) Status(c *fiber.Ctx) error {
	return c.JSON(fiber.Map{
		"active_sessions":          h.chat.SessionCount(),
		"free_chat_channels":       h.state.FreeChatCount(),
		"chatbot_enabled_channels": h.state.ChatbotEnabledCount(),
	})
}

// ResetChannel is the admin-side equivalent of /reset_chat: it drops the
// channel's session and wipes its stored history.
func (h *StatusHandler) ResetChannel(c *fiber.Ctx) error {
	channelID := c.Params("id")
	if channelID == "" {
		return c.Status(400).JSON(fiber.Map{"error": "channel id required"})
	}

	h.chat.Invalidate(channelID)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	deleted, err := h.history.ClearChannel(ctx, channelID)
	if err != nil {
		return c.Status(500).JSON(fiber.Map{"error": "session reset, clearing history failed"})
	}

	return c.JSON(fiber.Map{"deleted_messages": deleted})
}
