package discord

import (
	"context"
	"fmt"
	"log"
	"regexp"
	"strings"
	"time"

	"github.com/bwmarrin/discordgo"
	"github.com/google/uuid"

	"github.com/thanhnguyen96/discord-bot-pinky/internal/service"
)

const (
	replyMentionPromptEmpty = "You mentioned me! What can I help you with today?"
	replyBlocked            = "My safety filters prevented a response for that prompt (Reason: %s). Please try something else."
	replyProviderDown       = "Sorry, I couldn't connect to the AI service or an error occurred during our conversation."
	replyEmptyResponse      = "I received an empty or no response from the AI. Please try again."
)

const responderTimeout = 60 * time.Second

// reactDirective matches a leading '<react:emoji>' token the model may
// prepend per its persona instructions. Its absence is normal.
var reactDirective = regexp.MustCompile(`^<react:([^<>:\s]+)>\s*`)

// transport is the slice of the Discord session the router needs to answer
// a message. *discordgo.Session satisfies it through sessionTransport.
type transport interface {
	Typing(channelID string) error
	Reply(m *discordgo.MessageCreate, content string) (*discordgo.Message, error)
	Send(channelID, content string) (*discordgo.Message, error)
	React(channelID, messageID, emoji string) error
}

type sessionTransport struct {
	s *discordgo.Session
}

func (t sessionTransport) Typing(channelID string) error {
	return t.s.ChannelTyping(channelID)
}

func (t sessionTransport) Reply(m *discordgo.MessageCreate, content string) (*discordgo.Message, error) {
	return t.s.ChannelMessageSendReply(m.ChannelID, content, m.Reference())
}

func (t sessionTransport) Send(channelID, content string) (*discordgo.Message, error) {
	return t.s.ChannelMessageSend(channelID, content)
}

func (t sessionTransport) React(channelID, messageID, emoji string) error {
	return t.s.MessageReactionAdd(channelID, messageID, emoji)
}

// MessageRouter gates inbound messages and drives the chat service.
type MessageRouter struct {
	chat    *service.ChatService
	state   *service.ChannelState
	history service.HistoryStore
	maxLen  int
}

func NewMessageRouter(chat *service.ChatService, state *service.ChannelState, history service.HistoryStore, maxLen int) *MessageRouter {
	if maxLen <= 0 {
		maxLen = 2000
	}
	return &MessageRouter{chat: chat, state: state, history: history, maxLen: maxLen}
}

// Route decides whether a message deserves a generated reply and, if so,
// runs the persist / generate / deliver cycle.
func (r *MessageRouter) Route(s *discordgo.Session, m *discordgo.MessageCreate) {
	r.handle(sessionTransport{s: s}, s.State.User.ID, m)
}

func (r *MessageRouter) handle(t transport, botUserID string, m *discordgo.MessageCreate) {
	channelID := m.ChannelID
	isMentioned := mentionsUser(m, botUserID)

	if !r.shouldHandle(channelID, isMentioned) {
		return
	}

	prompt, askForInput := derivePrompt(m.Content, botUserID, isMentioned, r.state.IsFreeChat(channelID))
	if prompt == "" {
		if askForInput {
			r.reply(t, m, replyMentionPromptEmpty)
		}
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), responderTimeout)
	defer cancel()

	if _, err := r.history.Insert(ctx, channelID, m.Author.ID, prompt, m.ID, m.Timestamp); err != nil {
		log.Printf("[router] [%s] persisting user message failed: %v", channelID, err)
	}

	_ = t.Typing(channelID)

	turn := m.Author.ID + "|" + prompt
	reply, err := r.chat.Send(ctx, channelID, turn)
	if err != nil {
		log.Printf("[router] [%s] responder call failed: %v", channelID, err)
		r.reply(t, m, replyProviderDown)
		return
	}
	if reply.Blocked() {
		log.Printf("[router] [%s] prompt blocked: %s", channelID, reply.BlockedReason)
		r.reply(t, m, fmt.Sprintf(replyBlocked, reply.BlockedReason))
		return
	}

	emoji, text := parseReactionDirective(reply.Text)
	if emoji != "" {
		if err := t.React(channelID, m.ID, emoji); err != nil {
			log.Printf("[router] [%s] adding reaction %q failed: %v", channelID, emoji, err)
		}
	}
	if text == "" {
		r.reply(t, m, replyEmptyResponse)
		return
	}

	r.deliver(ctx, t, botUserID, m, text)
}

// shouldHandle is the routing gate: the chatbot must be enabled for the
// channel, and the message must either land in a free-chat channel or
// mention the bot.
func (r *MessageRouter) shouldHandle(channelID string, mentioned bool) bool {
	return r.state.IsChatbotEnabled(channelID) && (r.state.IsFreeChat(channelID) || mentioned)
}

// derivePrompt reduces message content to its prompt text. A mention
// outside free chat has the mention stripped; everything else is taken as
// is. askForInput marks the mention-outside-free-chat case, which earns a
// canned nudge instead of silence when nothing is left after stripping.
func derivePrompt(content, botUserID string, mentioned, freeChat bool) (prompt string, askForInput bool) {
	if mentioned && !freeChat {
		return stripBotMention(content, botUserID), true
	}
	return strings.TrimSpace(content), false
}

// deliver sends the generated text, chunked at the transport limit, and
// persists the full untruncated reply under the first chunk's message id.
func (r *MessageRouter) deliver(ctx context.Context, t transport, botUserID string, m *discordgo.MessageCreate, text string) {
	chunks := chunkMessage(text, r.maxLen)

	var first *discordgo.Message
	for i, chunk := range chunks {
		var (
			sent *discordgo.Message
			err  error
		)
		if i == 0 {
			sent, err = t.Reply(m, chunk)
		} else {
			sent, err = t.Send(m.ChannelID, chunk)
		}
		if err != nil {
			log.Printf("[router] [%s] sending reply chunk %d/%d failed: %v", m.ChannelID, i+1, len(chunks), err)
			continue
		}
		if first == nil {
			first = sent
		}
	}

	messageID := "synthetic_bot_" + uuid.NewString()
	createdAt := time.Now()
	if first != nil {
		messageID = first.ID
		createdAt = first.Timestamp
	}

	if _, err := r.history.Insert(ctx, m.ChannelID, botUserID, text, messageID, createdAt); err != nil {
		log.Printf("[router] [%s] persisting bot reply failed: %v", m.ChannelID, err)
	}
}

func (r *MessageRouter) reply(t transport, m *discordgo.MessageCreate, content string) {
	if _, err := t.Reply(m, content); err != nil {
		log.Printf("[router] [%s] sending reply failed: %v", m.ChannelID, err)
	}
}

func mentionsUser(m *discordgo.MessageCreate, userID string) bool {
	for _, u := range m.Mentions {
		if u.ID == userID {
			return true
		}
	}
	return false
}

// stripBotMention removes every mention of the bot from the prompt text.
func stripBotMention(content, botID string) string {
	content = strings.ReplaceAll(content, "<@"+botID+">", "")
	content = strings.ReplaceAll(content, "<@!"+botID+">", "")
	return strings.TrimSpace(content)
}

// parseReactionDirective splits off a leading '<react:emoji>' token.
func parseReactionDirective(text string) (emoji, rest string) {
	match := reactDirective.FindStringSubmatch(text)
	if match == nil {
		return "", strings.TrimSpace(text)
	}
	return match[1], strings.TrimSpace(text[len(match[0]):])
}

// chunkMessage splits text into rune-safe pieces of at most max characters.
func chunkMessage(text string, max int) []string {
	runes := []rune(text)
	if len(runes) <= max {
		return []string{text}
	}
	var chunks []string
	for start := 0; start < len(runes); start += max {
		end := start + max
		if end > len(runes) {
			end = len(runes)
		}
		chunks = append(chunks, string(runes[start:end]))
	}
	return chunks
}
