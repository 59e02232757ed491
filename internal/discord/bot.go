package discord

import (
	"context"
	"errors"
	"log"
	"sync"
	"time"

	"github.com/bwmarrin/discordgo"

	"github.com/thanhnguyen96/discord-bot-pinky/internal/config"
	"github.com/thanhnguyen96/discord-bot-pinky/internal/service"
)

// Bot manages the Discord gateway connection and event dispatch.
type Bot struct {
	session  *discordgo.Session
	cfg      *config.Config
	chat     *service.ChatService
	state    *service.ChannelState
	history  service.HistoryStore
	commands *CommandHandler
	router   *MessageRouter

	seedOnce sync.Once
}

// NewBot creates and configures the Discord bot.
func NewBot(
	cfg *config.Config,
	chat *service.ChatService,
	state *service.ChannelState,
	history service.HistoryStore,
) (*Bot, error) {
	s, err := discordgo.New("Bot " + cfg.BotToken)
	if err != nil {
		return nil, err
	}

	s.Identify.Intents = discordgo.IntentsGuilds |
		discordgo.IntentsGuildMessages |
		discordgo.IntentsMessageContent |
		discordgo.IntentsGuildMembers

	bot := &Bot{
		session:  s,
		cfg:      cfg,
		chat:     chat,
		state:    state,
		history:  history,
		commands: NewCommandHandler(chat, state, history),
		router:   NewMessageRouter(chat, state, history, cfg.MaxMessageLength),
	}

	s.AddHandler(bot.onReady)
	s.AddHandler(bot.onMessageCreate)
	s.AddHandler(bot.onInteractionCreate)

	return bot, nil
}

// Start opens the Discord gateway connection.
func (b *Bot) Start() error {
	if err := b.session.Open(); err != nil {
		return err
	}
	log.Println("[discord-bot] Bot connected to Discord")
	return nil
}

// Stop closes the Discord gateway connection.
func (b *Bot) Stop() {
	_ = b.session.Close()
	log.Println("[discord-bot] Bot disconnected")
}

// GatewayStatus reports the logged-in bot user and heartbeat latency, or an
// error while the gateway connection is down.
func (b *Bot) GatewayStatus() (string, time.Duration, error) {
	if b.session == nil || b.session.State == nil || b.session.State.User == nil {
		return "", 0, errors.New("gateway not connected")
	}
	if !b.session.DataReady {
		return "", 0, errors.New("gateway not ready")
	}
	return b.session.State.User.Username, b.session.HeartbeatLatency(), nil
}

// onReady fires again on every gateway re-identify. Seeding and command
// registration must run once per process, otherwise a reconnect would
// overwrite in-memory toggles with the (possibly stale) persisted view.
func (b *Bot) onReady(s *discordgo.Session, r *discordgo.Ready) {
	log.Printf("[discord-bot] Ready, logged in as %s#%s", r.User.Username, r.User.Discriminator)

	b.chat.SetBotUserID(r.User.ID)

	b.seedOnce.Do(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
		defer cancel()
		if err := b.state.Load(ctx); err != nil {
			log.Printf("[discord-bot] Loading channel settings failed: %v", err)
		}

		if err := b.commands.Register(s, r.User.ID, b.cfg.GuildID); err != nil {
			log.Printf("[discord-bot] Registering slash commands failed: %v", err)
		}
	})
}

func (b *Bot) onMessageCreate(s *discordgo.Session, m *discordgo.MessageCreate) {
	if m.Author == nil || m.Author.Bot {
		return
	}
	b.router.Route(s, m)
}

func (b *Bot) onInteractionCreate(s *discordgo.Session, i *discordgo.InteractionCreate) {
	if i.Type != discordgo.InteractionApplicationCommand {
		return
	}
	b.commands.Handle(s, i)
}
