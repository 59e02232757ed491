package service

import (
	"context"
	"fmt"
	"sync"

	openai "github.com/sashabaranov/go-openai"
)

// Turn is one conversation message, tagged with the provider role.
type Turn struct {
	Role string
	Text string
}

// Reply is the outcome of one exchange: either generated text, or a
// content-policy block carrying the provider's reason.
type Reply struct {
	Text          string
	BlockedReason string
}

// Blocked reports whether the provider refused to answer.
func (r Reply) Blocked() bool { return r.BlockedReason != "" }

// Session is an opaque handle to one channel's conversation. The handle owns
// its own turn history and grows it with each successful exchange.
type Session interface {
	Send(ctx context.Context, text string) (Reply, error)
}

// Responder starts provider-backed conversation sessions.
type Responder interface {
	StartSession(initialTurns []Turn) Session
}

// OpenAIResponder talks to an OpenAI-compatible chat completion endpoint.
type OpenAIResponder struct {
	client *openai.Client
	model  string
}

func NewOpenAIResponder(apiKey, baseURL, model string) *OpenAIResponder {
	cfg := openai.DefaultConfig(apiKey)
	if baseURL != "" {
		cfg.BaseURL = baseURL
	}
	return &OpenAIResponder{
		client: openai.NewClientWithConfig(cfg),
		model:  model,
	}
}

func (r *OpenAIResponder) StartSession(initialTurns []Turn) Session {
	messages := make([]openai.ChatCompletionMessage, 0, len(initialTurns))
	for _, t := range initialTurns {
		messages = append(messages, openai.ChatCompletionMessage{Role: t.Role, Content: t.Text})
	}
	return &openAISession{client: r.client, model: r.model, messages: messages}
}

type openAISession struct {
	client *openai.Client
	model  string

	mu       sync.Mutex
	messages []openai.ChatCompletionMessage
}

// Send forwards one user turn and appends both sides of the exchange to the
// session history. A failed or blocked exchange leaves the history untouched
// so a retry replays the same context.
func (s *openAISession) Send(ctx context.Context, text string) (Reply, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	attempt := append(append([]openai.ChatCompletionMessage{}, s.messages...), openai.ChatCompletionMessage{
		Role:    openai.ChatMessageRoleUser,
		Content: text,
	})

	resp, err := s.client.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model:    s.model,
		Messages: attempt,
	})
	if err != nil {
		return Reply{}, fmt.Errorf("chat completion: %w", err)
	}
	if len(resp.Choices) == 0 {
		return Reply{}, nil
	}

	choice := resp.Choices[0]
	if choice.FinishReason == openai.FinishReasonContentFilter {
		return Reply{BlockedReason: string(choice.FinishReason)}, nil
	}

	s.messages = append(attempt, openai.ChatCompletionMessage{
		Role:    openai.ChatMessageRoleAssistant,
		Content: choice.Message.Content,
	})
	return Reply{Text: choice.Message.Content}, nil
}
