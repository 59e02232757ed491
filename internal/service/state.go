package service

import (
	"context"
	"fmt"
	"log"
	"sync"

	"github.com/thanhnguyen96/discord-bot-pinky/internal/model"
)

// SettingsStore is the slice of the persistence layer channel state needs.
type SettingsStore interface {
	Get(ctx context.Context, channelID string) (*model.ChannelSetting, error)
	Upsert(ctx context.Context, channelID string, settings model.Settings) error
	LoadAll(ctx context.Context) ([]model.ChannelSetting, error)
}

// ChannelState holds the per-channel routing flags. The in-memory sets are
// authoritative for the running process; the store only matters at startup
// and across restarts.
type ChannelState struct {
	store SettingsStore

	mu             sync.RWMutex
	freeChat       map[string]struct{}
	chatbotEnabled map[string]struct{}
}

func NewChannelState(store SettingsStore) *ChannelState {
	return &ChannelState{
		store:          store,
		freeChat:       make(map[string]struct{}),
		chatbotEnabled: make(map[string]struct{}),
	}
}

// Load replaces both flag sets with the persisted settings. Replacing
// rather than merging means a repeated Load cannot resurrect flags that
// were cleared since the previous one.
func (c *ChannelState) Load(ctx context.Context) error {
	all, err := c.store.LoadAll(ctx)
	if err != nil {
		return fmt.Errorf("load channel settings: %w", err)
	}

	freeChat := make(map[string]struct{})
	chatbotEnabled := make(map[string]struct{})
	for _, cs := range all {
		if cs.Settings.Bool(model.FlagFreeChat) {
			freeChat[cs.ChannelID] = struct{}{}
		}
		if cs.Settings.Bool(model.FlagChatbotEnabled) {
			chatbotEnabled[cs.ChannelID] = struct{}{}
		}
	}

	c.mu.Lock()
	c.freeChat = freeChat
	c.chatbotEnabled = chatbotEnabled
	free, enabled := len(c.freeChat), len(c.chatbotEnabled)
	c.mu.Unlock()

	log.Printf("[state] loaded settings: %d free-chat channels, %d chatbot-enabled channels", free, enabled)
	return nil
}

func (c *ChannelState) IsFreeChat(channelID string) bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	_, ok := c.freeChat[channelID]
	return ok
}

func (c *ChannelState) IsChatbotEnabled(channelID string) bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	_, ok := c.chatbotEnabled[channelID]
	return ok
}

// FreeChatCount and ChatbotEnabledCount report flagged-channel totals.
func (c *ChannelState) FreeChatCount() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.freeChat)
}

func (c *ChannelState) ChatbotEnabledCount() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.chatbotEnabled)
}

// Toggle flips the named flag for a channel. The in-memory flip happens
// first and stands even when persisting fails: the caller gets the new value
// plus the persistence error and decides how to report the degraded write.
func (c *ChannelState) Toggle(ctx context.Context, flag, channelID string) (bool, error) {
	c.mu.Lock()
	set, err := c.setFor(flag)
	if err != nil {
		c.mu.Unlock()
		return false, err
	}
	_, had := set[channelID]
	if had {
		delete(set, channelID)
	} else {
		set[channelID] = struct{}{}
	}
	newValue := !had
	c.mu.Unlock()

	if err := c.persist(ctx, flag, channelID, newValue); err != nil {
		log.Printf("[state] [%s] persisting %s=%v failed (in-memory toggle stands): %v", channelID, flag, newValue, err)
		return newValue, err
	}
	return newValue, nil
}

// setFor resolves a flag name to its set. Callers hold c.mu.
func (c *ChannelState) setFor(flag string) (map[string]struct{}, error) {
	switch flag {
	case model.FlagFreeChat:
		return c.freeChat, nil
	case model.FlagChatbotEnabled:
		return c.chatbotEnabled, nil
	}
	return nil, fmt.Errorf("unknown channel flag %q", flag)
}

// persist read-merge-writes the settings blob so other flags survive.
func (c *ChannelState) persist(ctx context.Context, flag, channelID string, value bool) error {
	current, err := c.store.Get(ctx, channelID)
	if err != nil {
		return err
	}

	var settings model.Settings
	if current != nil {
		settings = current.Settings
	}
	settings.SetBool(flag, value)

	return c.store.Upsert(ctx, channelID, settings)
}
