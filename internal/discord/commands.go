package discord

import (
	"context"
	"fmt"
	"log"
	"strings"
	"time"

	"github.com/bwmarrin/discordgo"

	"github.com/thanhnguyen96/discord-bot-pinky/internal/model"
	"github.com/thanhnguyen96/discord-bot-pinky/internal/service"
)

const maxRememberFetch = 100

// CommandHandler registers and dispatches the bot's slash commands.
type CommandHandler struct {
	chat    *service.ChatService
	state   *service.ChannelState
	history service.HistoryStore
}

func NewCommandHandler(chat *service.ChatService, state *service.ChannelState, history service.HistoryStore) *CommandHandler {
	return &CommandHandler{chat: chat, state: state, history: history}
}

func commandDefinitions() []*discordgo.ApplicationCommand {
	manageMessages := int64(discordgo.PermissionManageMessages)
	minCount := float64(1)
	return []*discordgo.ApplicationCommand{
		{
			Name:        "toggle_chatbot",
			Description: "Toggle the chatbot (on mention/free_chat) on or off.",
		},
		{
			Name:        "toggle_free_chat",
			Description: "Toggle free chat in the current channel (bot responds to all messages).",
		},
		{
			Name:        "reset_chat",
			Description: "Resets the chatbot's conversation history for this channel.",
		},
		{
			Name:        "remember",
			Description: "Re-ingest recent channel messages into the chatbot's memory.",
			Options: []*discordgo.ApplicationCommandOption{
				{
					Type:        discordgo.ApplicationCommandOptionInteger,
					Name:        "count",
					Description: "How many recent messages to remember (max 100).",
					Required:    true,
					MinValue:    &minCount,
				},
			},
		},
		{
			Name:                     "clear",
			Description:              "Clear up to 99 messages in the current channel (requires permissions).",
			DefaultMemberPermissions: &manageMessages,
		},
	}
}

// Register overwrites the bot's slash commands, guild-scoped when guildID is
// set (instant propagation for testing), global otherwise.
func (h *CommandHandler) Register(s *discordgo.Session, appID, guildID string) error {
	cmds := commandDefinitions()
	if _, err := s.ApplicationCommandBulkOverwrite(appID, guildID, cmds); err != nil {
		return fmt.Errorf("overwrite application commands: %w", err)
	}
	scope := "global"
	if guildID != "" {
		scope = "guild " + guildID
	}
	log.Printf("[commands] Registered %d slash commands (%s)", len(cmds), scope)
	return nil
}

// Handle dispatches a slash command invocation.
func (h *CommandHandler) Handle(s *discordgo.Session, i *discordgo.InteractionCreate) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	name := i.ApplicationCommandData().Name
	switch name {
	case "toggle_chatbot":
		h.cmdToggle(ctx, s, i, model.FlagChatbotEnabled, "Chatbot")
	case "toggle_free_chat":
		h.cmdToggle(ctx, s, i, model.FlagFreeChat, "Free chat")
	case "reset_chat":
		h.cmdResetChat(ctx, s, i)
	case "remember":
		h.cmdRemember(ctx, s, i)
	case "clear":
		h.cmdClear(s, i)
	default:
		log.Printf("[commands] [%s] unknown command %q", i.ChannelID, name)
		respondEphemeral(s, i, "Sorry, I don't know how to handle that command.")
	}
}

func (h *CommandHandler) cmdToggle(ctx context.Context, s *discordgo.Session, i *discordgo.InteractionCreate, flag, label string) {
	newValue, err := h.state.Toggle(ctx, flag, i.ChannelID)

	status := "DISABLED"
	if newValue {
		status = "ENABLED"
	}
	if err != nil {
		respond(s, i, fmt.Sprintf("%s is now %s for this channel. (Failed to save setting to DB)", label, status))
		return
	}
	respond(s, i, fmt.Sprintf("%s is now %s for this channel. Settings saved.", label, status))
}

// cmdResetChat drops the channel's active session and wipes its stored
// history. The session goes first so a failed delete never leaves a stuck
// session behind.
func (h *CommandHandler) cmdResetChat(ctx context.Context, s *discordgo.Session, i *discordgo.InteractionCreate) {
	h.chat.Invalidate(i.ChannelID)

	if _, err := h.history.ClearChannel(ctx, i.ChannelID); err != nil {
		log.Printf("[commands] [%s] clearing history failed: %v", i.ChannelID, err)
		respondEphemeral(s, i, "Chat session for this channel has been reset, but clearing stored history failed.")
		return
	}

	log.Printf("[commands] [%s] cleared DB history and active session", i.ChannelID)
	respondEphemeral(s, i, "Chat session for this channel has been reset, and all associated chat history from the database for this channel has been cleared.")
}

// cmdRemember backfills history from the channel itself: fetch recent
// messages, persist the non-empty ones oldest first, then drop the session
// so the next message rehydrates with the new context.
func (h *CommandHandler) cmdRemember(ctx context.Context, s *discordgo.Session, i *discordgo.InteractionCreate) {
	deferEphemeral(s, i)

	requested := optionInt(i, "count")
	if requested <= 0 {
		editResponse(s, i, "Please provide a positive number of messages to remember.")
		return
	}

	fetchCount := requested
	if fetchCount > maxRememberFetch {
		fetchCount = maxRememberFetch
	}

	fetched, err := s.ChannelMessages(i.ChannelID, fetchCount, "", "", "")
	if err != nil {
		log.Printf("[commands] [%s] fetching messages for remember failed: %v", i.ChannelID, err)
		editResponse(s, i, "Sorry, I encountered an error while trying to remember messages.")
		return
	}
	if len(fetched) == 0 {
		editResponse(s, i, "No messages found to remember in this channel.")
		return
	}

	// ChannelMessages returns newest first
	attempted, saved := 0, 0
	for idx := len(fetched) - 1; idx >= 0; idx-- {
		msg := fetched[idx]
		if strings.TrimSpace(msg.Content) == "" && len(msg.Embeds) == 0 && len(msg.Attachments) == 0 {
			continue
		}
		attempted++
		inserted, err := h.history.Insert(ctx, i.ChannelID, msg.Author.ID, msg.Content, msg.ID, msg.Timestamp)
		if err != nil {
			log.Printf("[commands] [%s] saving remembered message %s failed: %v", i.ChannelID, msg.ID, err)
			continue
		}
		if inserted {
			saved++
		}
	}

	h.chat.Invalidate(i.ChannelID)

	summary := fmt.Sprintf("Fetched %d message(s). ", len(fetched))
	if requested > maxRememberFetch {
		summary += fmt.Sprintf("(You requested %d, but I can fetch a maximum of %d at a time). ", requested, maxRememberFetch)
	}
	summary += fmt.Sprintf("Attempted to save %d non-empty message(s), successfully saved %d new message(s) to history. My memory for this channel has been refreshed.", attempted, saved)
	editResponse(s, i, summary)
}

func (h *CommandHandler) cmdClear(s *discordgo.Session, i *discordgo.InteractionCreate) {
	if i.GuildID == "" {
		respondEphemeral(s, i, "This command can only be used in a server.")
		return
	}

	perms, err := s.UserChannelPermissions(s.State.User.ID, i.ChannelID)
	if err != nil || perms&discordgo.PermissionManageMessages == 0 {
		respondEphemeral(s, i, "I don't have permission to manage messages in this channel.")
		return
	}

	deferEphemeral(s, i)

	fetched, err := s.ChannelMessages(i.ChannelID, 99, "", "", "")
	if err != nil {
		log.Printf("[commands] [%s] fetching messages for clear failed: %v", i.ChannelID, err)
		editResponse(s, i, "Failed to clear messages.")
		return
	}

	var ids []string
	for _, msg := range fetched {
		if !msg.Pinned {
			ids = append(ids, msg.ID)
		}
	}
	if len(ids) == 0 {
		editResponse(s, i, "No messages found to clear (or all recent messages are pinned).")
		return
	}

	if err := s.ChannelMessagesBulkDelete(i.ChannelID, ids); err != nil {
		log.Printf("[commands] [%s] bulk delete failed: %v", i.ChannelID, err)
		editResponse(s, i, "Failed to clear messages. Make sure I have the 'Manage Messages' permission and messages are not older than 14 days.")
		return
	}
	editResponse(s, i, fmt.Sprintf("Successfully cleared %d messages.", len(ids)))
}

func optionInt(i *discordgo.InteractionCreate, name string) int {
	for _, opt := range i.ApplicationCommandData().Options {
		if opt.Name == name {
			return int(opt.IntValue())
		}
	}
	return 0
}

func respond(s *discordgo.Session, i *discordgo.InteractionCreate, content string) {
	err := s.InteractionRespond(i.Interaction, &discordgo.InteractionResponse{
		Type: discordgo.InteractionResponseChannelMessageWithSource,
		Data: &discordgo.InteractionResponseData{Content: content},
	})
	if err != nil {
		log.Printf("[commands] [%s] responding to interaction failed: %v", i.ChannelID, err)
	}
}

func respondEphemeral(s *discordgo.Session, i *discordgo.InteractionCreate, content string) {
	err := s.InteractionRespond(i.Interaction, &discordgo.InteractionResponse{
		Type: discordgo.InteractionResponseChannelMessageWithSource,
		Data: &discordgo.InteractionResponseData{
			Content: content,
			Flags:   discordgo.MessageFlagsEphemeral,
		},
	})
	if err != nil {
		log.Printf("[commands] [%s] responding to interaction failed: %v", i.ChannelID, err)
	}
}

func deferEphemeral(s *discordgo.Session, i *discordgo.InteractionCreate) {
	err := s.InteractionRespond(i.Interaction, &discordgo.InteractionResponse{
		Type: discordgo.InteractionResponseDeferredChannelMessageWithSource,
		Data: &discordgo.InteractionResponseData{Flags: discordgo.MessageFlagsEphemeral},
	})
	if err != nil {
		log.Printf("[commands] [%s] deferring interaction failed: %v", i.ChannelID, err)
	}
}

func editResponse(s *discordgo.Session, i *discordgo.InteractionCreate, content string) {
	_, err := s.InteractionResponseEdit(i.Interaction, &discordgo.WebhookEdit{Content: &content})
	if err != nil {
		log.Printf("[commands] [%s] editing interaction response failed: %v", i.ChannelID, err)
	}
}
