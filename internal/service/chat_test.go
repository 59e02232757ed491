package service

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	openai "github.com/sashabaranov/go-openai"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/thanhnguyen96/discord-bot-pinky/internal/model"
)

// fakeHistoryStore is an in-memory HistoryStore with switchable failure.
type fakeHistoryStore struct {
	mu           sync.Mutex
	messages     map[string][]model.ChatMessage
	failAll      bool
	historyCalls int
}

func newFakeHistoryStore() *fakeHistoryStore {
	return &fakeHistoryStore{messages: make(map[string][]model.ChatMessage)}
}

func (f *fakeHistoryStore) Insert(_ context.Context, channelID, userID, message, discordMessageID string, createdAt time.Time) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failAll {
		return false, errors.New("store down")
	}
	for _, m := range f.messages[channelID] {
		if m.DiscordMessageID == discordMessageID {
			return false, nil
		}
	}
	f.messages[channelID] = append(f.messages[channelID], model.ChatMessage{
		ChannelID:        channelID,
		UserID:           userID,
		Message:          message,
		DiscordMessageID: discordMessageID,
		CreatedAt:        createdAt,
	})
	return true, nil
}

func (f *fakeHistoryStore) History(_ context.Context, channelID string, limit int) ([]model.ChatMessage, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.historyCalls++
	if f.failAll {
		return nil, errors.New("store down")
	}
	msgs := f.messages[channelID]
	if len(msgs) > limit {
		msgs = msgs[len(msgs)-limit:]
	}
	out := make([]model.ChatMessage, len(msgs))
	copy(out, msgs)
	return out, nil
}

func (f *fakeHistoryStore) ClearChannel(_ context.Context, channelID string) (int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failAll {
		return 0, errors.New("store down")
	}
	n := int64(len(f.messages[channelID]))
	delete(f.messages, channelID)
	return n, nil
}

// scriptedResponder hands out scripted sessions and records every start.
type scriptedResponder struct {
	mu         sync.Mutex
	started    [][]Turn
	replies    []Reply
	sendErr    error
	startDelay time.Duration
}

func (r *scriptedResponder) StartSession(initialTurns []Turn) Session {
	if r.startDelay > 0 {
		time.Sleep(r.startDelay)
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.started = append(r.started, initialTurns)
	return &scriptedSession{owner: r}
}

func (r *scriptedResponder) startCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.started)
}

// scriptedSession serves its responder's scripted replies in order.
type scriptedSession struct {
	owner *scriptedResponder
}

func (s *scriptedSession) Send(_ context.Context, _ string) (Reply, error) {
	s.owner.mu.Lock()
	defer s.owner.mu.Unlock()
	if s.owner.sendErr != nil {
		return Reply{}, s.owner.sendErr
	}
	if len(s.owner.replies) == 0 {
		return Reply{}, nil
	}
	next := s.owner.replies[0]
	s.owner.replies = s.owner.replies[1:]
	return next, nil
}

func seedHistory(store *fakeHistoryStore, channelID, botID string) {
	base := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	_, _ = store.Insert(context.Background(), channelID, "111", "hello there", "m1", base)
	_, _ = store.Insert(context.Background(), channelID, botID, "chào bạn", "m2", base.Add(time.Minute))
	_, _ = store.Insert(context.Background(), channelID, "222", "how are you", "m3", base.Add(2*time.Minute))
}

func TestGetOrCreateHydratesFromStore(t *testing.T) {
	store := newFakeHistoryStore()
	responder := &scriptedResponder{}
	svc := NewChatService(store, responder, 20)
	svc.SetBotUserID("bot-1")
	seedHistory(store, "chan-1", "bot-1")

	_, err := svc.GetOrCreate(context.Background(), "chan-1")
	require.NoError(t, err)
	require.Equal(t, 1, responder.startCount())

	turns := responder.started[0]
	require.Len(t, turns, 5)

	// Preamble comes first
	assert.Equal(t, openai.ChatMessageRoleUser, turns[0].Role)
	assert.Contains(t, turns[0].Text, "{userId}|{message}")
	assert.Equal(t, openai.ChatMessageRoleAssistant, turns[1].Role)

	// History follows in chronological order, bot rows as assistant turns
	assert.Equal(t, "111|*|hello there", turns[2].Text)
	assert.Equal(t, openai.ChatMessageRoleUser, turns[2].Role)
	assert.Equal(t, "chào bạn", turns[3].Text)
	assert.Equal(t, openai.ChatMessageRoleAssistant, turns[3].Role)
	assert.Equal(t, "222|*|how are you", turns[4].Text)
}

func TestGetOrCreateConcurrentSingleton(t *testing.T) {
	store := newFakeHistoryStore()
	responder := &scriptedResponder{startDelay: 10 * time.Millisecond}
	svc := NewChatService(store, responder, 20)

	const workers = 16
	sessions := make([]Session, workers)
	var wg sync.WaitGroup
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func(idx int) {
			defer wg.Done()
			sess, err := svc.GetOrCreate(context.Background(), "chan-race")
			assert.NoError(t, err)
			sessions[idx] = sess
		}(i)
	}
	wg.Wait()

	require.Equal(t, 1, responder.startCount(), "hydration and session start must run once")
	for i := 1; i < workers; i++ {
		assert.Same(t, sessions[0], sessions[i])
	}
}

func TestInvalidateForcesRehydration(t *testing.T) {
	store := newFakeHistoryStore()
	responder := &scriptedResponder{}
	svc := NewChatService(store, responder, 20)

	first, err := svc.GetOrCreate(context.Background(), "chan-2")
	require.NoError(t, err)

	svc.Invalidate("chan-2")
	svc.Invalidate("chan-2") // idempotent

	second, err := svc.GetOrCreate(context.Background(), "chan-2")
	require.NoError(t, err)

	assert.Equal(t, 2, responder.startCount())
	assert.Equal(t, 2, store.historyCalls)
	assert.NotSame(t, first, second)
}

func TestHydrationDegradesOnStoreFailure(t *testing.T) {
	store := newFakeHistoryStore()
	store.failAll = true
	responder := &scriptedResponder{}
	svc := NewChatService(store, responder, 20)

	_, err := svc.GetOrCreate(context.Background(), "chan-3")
	require.NoError(t, err, "store failure must not block session creation")
	require.Equal(t, 1, responder.startCount())
	assert.Len(t, responder.started[0], 2, "preamble only")
}

func TestSendBlockedRetainsSession(t *testing.T) {
	store := newFakeHistoryStore()
	responder := &scriptedResponder{replies: []Reply{{BlockedReason: "SAFETY"}, {Text: "ok"}}}
	svc := NewChatService(store, responder, 20)

	reply, err := svc.Send(context.Background(), "chan-4", "111|something spicy")
	require.NoError(t, err)
	assert.True(t, reply.Blocked())
	assert.Equal(t, "SAFETY", reply.BlockedReason)

	// A follow-up send reuses the session: no second hydration
	reply, err = svc.Send(context.Background(), "chan-4", "111|something tame")
	require.NoError(t, err)
	assert.Equal(t, "ok", reply.Text)
	assert.Equal(t, 1, responder.startCount())
}

func TestSendProviderFailureRetainsSession(t *testing.T) {
	store := newFakeHistoryStore()
	responder := &scriptedResponder{sendErr: errors.New("connection refused")}
	svc := NewChatService(store, responder, 20)

	_, err := svc.Send(context.Background(), "chan-5", "111|hello")
	require.Error(t, err)

	responder.mu.Lock()
	responder.sendErr = nil
	responder.replies = []Reply{{Text: "recovered"}}
	responder.mu.Unlock()

	reply, err := svc.Send(context.Background(), "chan-5", "111|hello again")
	require.NoError(t, err)
	assert.Equal(t, "recovered", reply.Text)
	assert.Equal(t, 1, responder.startCount(), "failure must not invalidate the session")
}

// gatedResponder blocks its first StartSession until released, so a test
// can interleave an Invalidate with an in-flight hydration.
type gatedResponder struct {
	scriptedResponder
	entered  chan struct{}
	release  chan struct{}
	gateOnce sync.Once
}

func newGatedResponder() *gatedResponder {
	return &gatedResponder{
		entered: make(chan struct{}),
		release: make(chan struct{}),
	}
}

func (r *gatedResponder) StartSession(initialTurns []Turn) Session {
	r.gateOnce.Do(func() {
		close(r.entered)
		<-r.release
	})
	return r.scriptedResponder.StartSession(initialTurns)
}

func TestInvalidateDuringHydrationDiscardsStaleSession(t *testing.T) {
	store := newFakeHistoryStore()
	responder := newGatedResponder()
	svc := NewChatService(store, responder, 20)
	svc.SetBotUserID("bot-1")
	seedHistory(store, "chan-7", "bot-1")

	done := make(chan Session, 1)
	go func() {
		sess, err := svc.GetOrCreate(context.Background(), "chan-7")
		assert.NoError(t, err)
		done <- sess
	}()

	// Wait until hydration has read the old history, then reset the channel
	// underneath it before letting the session start finish.
	<-responder.entered
	svc.Invalidate("chan-7")
	_, err := store.ClearChannel(context.Background(), "chan-7")
	require.NoError(t, err)
	close(responder.release)

	sess := <-done
	require.NotNil(t, sess)

	// The pre-reset hydration was discarded and creation ran again against
	// the cleared store: the surviving session saw the preamble only.
	require.Equal(t, 2, responder.startCount())
	assert.Len(t, responder.started[0], 5, "first start carried the old history")
	assert.Len(t, responder.started[1], 2, "retry saw the cleared channel")

	again, err := svc.GetOrCreate(context.Background(), "chan-7")
	require.NoError(t, err)
	assert.Same(t, sess, again)
	assert.Equal(t, 2, responder.startCount())
}

func TestHistoryWindowBound(t *testing.T) {
	store := newFakeHistoryStore()
	for i := 0; i < 30; i++ {
		_, _ = store.Insert(context.Background(), "chan-6", "111", fmt.Sprintf("msg %d", i),
			fmt.Sprintf("m%d", i), time.Date(2025, 6, 1, 12, i, 0, 0, time.UTC))
	}
	responder := &scriptedResponder{}
	svc := NewChatService(store, responder, 20)

	_, err := svc.GetOrCreate(context.Background(), "chan-6")
	require.NoError(t, err)

	turns := responder.started[0]
	require.Len(t, turns, 22, "preamble plus the 20 most recent messages")
	assert.Equal(t, "111|*|msg 10", turns[2].Text, "window keeps the newest rows")
	assert.Equal(t, "111|*|msg 29", turns[21].Text)
}
