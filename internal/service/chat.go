package service

import (
	"context"
	"fmt"
	"log"
	"sync"
	"time"

	openai "github.com/sashabaranov/go-openai"
	"golang.org/x/sync/singleflight"

	"github.com/thanhnguyen96/discord-bot-pinky/internal/model"
)

// personaPrompt seeds every new session. Message turns arrive in
// '{userId}|{message}' form; replies may open with a '<react:{emoji}>'
// directive which the transport layer applies as a reaction.
const personaPrompt = "You're Pinky, a humorous, naughty Vietnamese girl in a Discord channel, chatting with me as a friend. " +
	"Use Vietnamese only, be brief when necessary. " +
	"My messages will be in '{userId}|{message}' format. Tag users with <@userId>. " +
	"React with start your response with '<react:{discord_emoji}>'."

const personaAck = "Got it. I will remember this"

// historyPlaceholder stands in for the author display name in replayed
// history; the original name is not reliably known after the fact.
const historyPlaceholder = "*"

// HistoryStore is the slice of the persistence layer the chat service needs.
type HistoryStore interface {
	Insert(ctx context.Context, channelID, userID, message, discordMessageID string, createdAt time.Time) (bool, error)
	History(ctx context.Context, channelID string, limit int) ([]model.ChatMessage, error)
	ClearChannel(ctx context.Context, channelID string) (int64, error)
}

// ChatService owns the per-channel session cache and history hydration.
type ChatService struct {
	store        HistoryStore
	responder    Responder
	historyLimit int

	mu       sync.RWMutex
	sessions map[string]Session
	gen      map[string]uint64
	creating singleflight.Group

	botUserID string
}

func NewChatService(store HistoryStore, responder Responder, historyLimit int) *ChatService {
	if historyLimit <= 0 {
		historyLimit = 20
	}
	return &ChatService{
		store:        store,
		responder:    responder,
		historyLimit: historyLimit,
		sessions:     make(map[string]Session),
		gen:          make(map[string]uint64),
	}
}

// SetBotUserID records the bot's own user id once the gateway session is
// ready; stored rows with this author replay as assistant turns.
func (s *ChatService) SetBotUserID(id string) {
	s.mu.Lock()
	s.botUserID = id
	s.mu.Unlock()
}

// GetOrCreate returns the channel's active session, hydrating and starting a
// new one if none exists. Creation is serialized per channel: two first
// messages racing on the same channel resolve to the same session. A
// hydration overtaken by Invalidate is discarded and retried, so the cached
// session never carries history from before the reset.
func (s *ChatService) GetOrCreate(ctx context.Context, channelID string) (Session, error) {
	for {
		s.mu.RLock()
		sess, ok := s.sessions[channelID]
		s.mu.RUnlock()
		if ok {
			return sess, nil
		}

		v, err, _ := s.creating.Do(channelID, func() (interface{}, error) {
			s.mu.RLock()
			existing, ok := s.sessions[channelID]
			startGen := s.gen[channelID]
			s.mu.RUnlock()
			if ok {
				return existing, nil
			}

			turns := s.buildInitialTurns(ctx, channelID)
			created := s.responder.StartSession(turns)

			s.mu.Lock()
			defer s.mu.Unlock()
			if s.gen[channelID] != startGen {
				// Invalidated while hydrating: the history we replayed
				// is stale. Drop this session and let the caller retry.
				return nil, nil
			}
			s.sessions[channelID] = created
			return created, nil
		})
		if err != nil {
			return nil, err
		}
		if v == nil {
			continue
		}
		return v.(Session), nil
	}
}

// Invalidate drops the cached session for a channel and marks any in-flight
// hydration stale. The next qualifying message rehydrates from the store.
// Safe to call when no session exists.
func (s *ChatService) Invalidate(channelID string) {
	s.mu.Lock()
	delete(s.sessions, channelID)
	s.gen[channelID]++
	s.mu.Unlock()
}

// Send resolves the channel session and forwards one turn.
func (s *ChatService) Send(ctx context.Context, channelID, turn string) (Reply, error) {
	sess, err := s.GetOrCreate(ctx, channelID)
	if err != nil {
		return Reply{}, fmt.Errorf("get session for %s: %w", channelID, err)
	}
	return sess.Send(ctx, turn)
}

// SessionCount reports the number of active cached sessions.
func (s *ChatService) SessionCount() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.sessions)
}

// buildInitialTurns assembles the persona preamble plus a bounded window of
// persisted history, oldest first. A store failure degrades to the preamble
// alone rather than blocking the new session.
func (s *ChatService) buildInitialTurns(ctx context.Context, channelID string) []Turn {
	turns := []Turn{
		{Role: openai.ChatMessageRoleUser, Text: personaPrompt},
		{Role: openai.ChatMessageRoleAssistant, Text: personaAck},
	}

	history, err := s.store.History(ctx, channelID, s.historyLimit)
	if err != nil {
		log.Printf("[chat] [%s] loading history failed, starting with preamble only: %v", channelID, err)
		return turns
	}

	s.mu.RLock()
	botID := s.botUserID
	s.mu.RUnlock()

	for _, msg := range history {
		if msg.UserID == botID {
			turns = append(turns, Turn{Role: openai.ChatMessageRoleAssistant, Text: msg.Message})
		} else {
			turns = append(turns, Turn{
				Role: openai.ChatMessageRoleUser,
				Text: fmt.Sprintf("%s|%s|%s", msg.UserID, historyPlaceholder, msg.Message),
			})
		}
	}

	log.Printf("[chat] [%s] hydrated session with %d stored messages", channelID, len(history))
	return turns
}
