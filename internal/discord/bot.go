// Package discord provides the Discord bot layer for voxbridge. It owns
// the discordgo.Session lifecycle, routes slash command interactions to
// registered handlers, forwards guild messages to the text chat handler and
// checks admin permissions against the guild settings.
package discord

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"

	"github.com/bwmarrin/discordgo"

	"github.com/MrWong99/voxbridge/pkg/audio"
	discordaudio "github.com/MrWong99/voxbridge/pkg/audio/discord"
)

// Config holds Discord bot configuration.
type Config struct {
	// Token is the bot token without the "Bot " prefix.
	Token string

	// GuildID registers slash commands in one guild, which is instant.
	// Empty registers them globally.
	GuildID string
}

// MessageHandler receives guild messages written by humans.
type MessageHandler func(m *discordgo.Message)

// Bot owns the Discord gateway connection and routes interactions
// to registered command handlers.
type Bot struct {
	mu        sync.RWMutex
	session   *discordgo.Session
	platform  *discordaudio.Platform
	router    *CommandRouter
	guildID   string
	commands  []*discordgo.ApplicationCommand
	onMessage MessageHandler
	connected atomic.Bool
	closeOnce sync.Once
}

// New creates a Bot, registers its event handlers and connects to Discord.
func New(_ context.Context, cfg Config) (*Bot, error) {
	session, err := discordgo.New("Bot " + cfg.Token)
	if err != nil {
		return nil, fmt.Errorf("discord: create session: %w", err)
	}

	session.Identify.Intents = discordgo.IntentsGuildMessages |
		discordgo.IntentsGuildVoiceStates |
		discordgo.IntentsGuilds |
		discordgo.IntentsMessageContent

	b := &Bot{
		session:  session,
		platform: discordaudio.New(session),
		router:   NewCommandRouter(),
		guildID:  cfg.GuildID,
	}

	session.AddHandler(func(s *discordgo.Session, i *discordgo.InteractionCreate) {
		b.router.Handle(s, i)
	})
	session.AddHandler(func(_ *discordgo.Session, m *discordgo.MessageCreate) {
		b.handleMessage(m.Message)
	})
	session.AddHandler(func(_ *discordgo.Session, _ *discordgo.Ready) {
		b.connected.Store(true)
		slog.Info("discord gateway ready")
	})
	session.AddHandler(func(_ *discordgo.Session, _ *discordgo.Resumed) {
		b.connected.Store(true)
	})
	session.AddHandler(func(_ *discordgo.Session, _ *discordgo.Disconnect) {
		b.connected.Store(false)
		slog.Warn("discord gateway disconnected")
	})

	if err := session.Open(); err != nil {
		return nil, fmt.Errorf("discord: open session: %w", err)
	}
	b.connected.Store(true)
	return b, nil
}

// Platform returns the audio.Platform for voice channel connections.
func (b *Bot) Platform() audio.Platform {
	return b.platform
}

// GuildID returns the guild commands are registered in, or "" for global.
func (b *Bot) GuildID() string {
	return b.guildID
}

// Session returns the REST surface of the discordgo session.
func (b *Bot) Session() Session {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.session
}

// Router returns the command router for registering handlers.
func (b *Bot) Router() *CommandRouter {
	return b.router
}

// Connected reports whether the gateway connection is up.
func (b *Bot) Connected() bool {
	return b.connected.Load()
}

// OnMessage sets the handler for guild messages. Messages from bots,
// including this one, are never delivered.
func (b *Bot) OnMessage(h MessageHandler) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.onMessage = h
}

func (b *Bot) handleMessage(m *discordgo.Message) {
	if m == nil || m.Author == nil || m.Author.Bot || m.GuildID == "" {
		return
	}
	b.mu.RLock()
	h := b.onMessage
	b.mu.RUnlock()
	if h != nil {
		h(m)
	}
}

// BotUserID returns the bot's own user ID once the gateway is ready.
func (b *Bot) BotUserID() string {
	b.mu.RLock()
	defer b.mu.RUnlock()
	if b.session.State == nil || b.session.State.User == nil {
		return ""
	}
	return b.session.State.User.ID
}

// UserVoiceChannel returns the voice channel userID is connected to in
// guildID, according to the gateway state cache.
func (b *Bot) UserVoiceChannel(guildID, userID string) (string, bool) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	vs, err := b.session.State.VoiceState(guildID, userID)
	if err != nil || vs == nil || vs.ChannelID == "" {
		return "", false
	}
	return vs.ChannelID, true
}

// DisplayName returns how userID appears in guildID: the nickname, then the
// global name, then the username. Unknown users are rendered as a mention.
func (b *Bot) DisplayName(guildID, userID string) string {
	b.mu.RLock()
	defer b.mu.RUnlock()
	m, err := b.session.State.Member(guildID, userID)
	if err != nil || m == nil || m.User == nil {
		return "<@" + userID + ">"
	}
	switch {
	case m.Nick != "":
		return m.Nick
	case m.User.GlobalName != "":
		return m.User.GlobalName
	default:
		return m.User.Username
	}
}

// ChannelName returns the name of channelID, or its mention when the
// channel cannot be resolved.
func (b *Bot) ChannelName(channelID string) string {
	b.mu.RLock()
	defer b.mu.RUnlock()
	if ch, err := b.session.State.Channel(channelID); err == nil && ch.Name != "" {
		return ch.Name
	}
	if ch, err := b.session.Channel(channelID); err == nil && ch.Name != "" {
		return ch.Name
	}
	return "<#" + channelID + ">"
}

// Run registers slash commands with the Discord API and blocks until
// ctx is cancelled.
func (b *Bot) Run(ctx context.Context) error {
	appID := b.BotUserID()

	cmds := b.router.ApplicationCommands()
	if len(cmds) > 0 {
		registered, err := b.session.ApplicationCommandBulkOverwrite(appID, b.guildID, cmds, discordgo.WithContext(ctx))
		if err != nil {
			return fmt.Errorf("discord: register commands: %w", err)
		}
		b.mu.Lock()
		b.commands = registered
		b.mu.Unlock()
		slog.Info("discord commands registered", "count", len(registered), "guild_id", b.guildID)
	}

	<-ctx.Done()
	return ctx.Err()
}

// Close disconnects from Discord. Guild-scoped commands are unregistered;
// global ones are kept since they take up to an hour to propagate.
func (b *Bot) Close() error {
	var closeErr error
	b.closeOnce.Do(func() {
		b.mu.Lock()
		defer b.mu.Unlock()

		if b.guildID != "" && len(b.commands) > 0 && b.session.State.User != nil {
			appID := b.session.State.User.ID
			for _, cmd := range b.commands {
				if err := b.session.ApplicationCommandDelete(appID, b.guildID, cmd.ID); err != nil {
					slog.Warn("discord: failed to delete command", "name", cmd.Name, "err", err)
				}
			}
		}

		b.connected.Store(false)
		if err := b.session.Close(); err != nil {
			closeErr = fmt.Errorf("discord: close session: %w", err)
		}

		slog.Info("discord bot closed")
	})
	return closeErr
}
