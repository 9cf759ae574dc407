package commands

import (
	"context"
	"log/slog"
	"strings"
	"time"

	"github.com/bwmarrin/discordgo"

	"github.com/MrWong99/voxbridge/internal/assistant"
	"github.com/MrWong99/voxbridge/internal/discord"
	"github.com/MrWong99/voxbridge/internal/settings"
)

// MsgChatFailed is the reply when a text request fails.
const MsgChatFailed = "Sorry, I encountered an error while processing your request."

// chatTimeout bounds one text reply including attachment downloads.
const chatTimeout = 2 * time.Minute

// Replier produces a text reply for a turn.
type Replier interface {
	Reply(ctx context.Context, turn assistant.Turn) (string, error)
}

// VoiceOutput speaks text in a guild's voice session.
type VoiceOutput interface {
	ChannelID(guildID string) (string, bool)

	// Say queues text for playback behind any reply already queued.
	Say(guildID string, turn assistant.Turn, text string) error
}

// ChatLocator is the gateway state the chat handler needs.
type ChatLocator interface {
	Locator
	BotUserID() string
}

// ChatConfig holds the dependencies of a [ChatHandler].
type ChatConfig struct {
	Replier     Replier
	Voice       VoiceOutput
	Locator     ChatLocator
	Settings    *settings.Service
	Poster      *discord.Poster
	Attachments *AttachmentDescriber
}

// ChatHandler answers guild text messages. A message is answered when it
// mentions the bot, or when its author is in the voice channel the bot is
// connected to; in the latter case the reply is also spoken.
type ChatHandler struct {
	cfg ChatConfig
}

// NewChatHandler creates a ChatHandler.
func NewChatHandler(cfg ChatConfig) *ChatHandler {
	if cfg.Attachments == nil {
		cfg.Attachments = NewAttachmentDescriber(nil)
	}
	return &ChatHandler{cfg: cfg}
}

// Handle implements [discord.MessageHandler].
func (h *ChatHandler) Handle(m *discordgo.Message) {
	ctx, cancel := context.WithTimeout(context.Background(), chatTimeout)
	defer cancel()
	h.handle(ctx, m)
}

func (h *ChatHandler) handle(ctx context.Context, m *discordgo.Message) {
	if m.Author == nil || m.Author.Bot {
		return
	}
	botID := h.cfg.Locator.BotUserID()
	mentioned := mentions(m, botID)
	inVoice := h.sharesVoice(m.GuildID, m.Author.ID)
	if !mentioned && !inVoice {
		return
	}

	prompt := strings.TrimSpace(m.Content)
	if mentioned {
		prompt = stripMention(prompt, botID)
	}
	if len(m.Attachments) > 0 {
		prompt = BuildPrompt(prompt, h.cfg.Attachments.DescribeAll(ctx, m.Attachments))
	}
	if prompt == "" {
		return
	}

	log := slog.With("guild_id", m.GuildID, "user_id", m.Author.ID)
	log.Info("discord: processing message", "in_voice", inVoice, "attachments", len(m.Attachments))

	prefs, err := h.cfg.Settings.User(ctx, m.Author.ID)
	if err != nil {
		log.Warn("discord: load user preferences", "err", err)
		prefs = *settings.NewUserPreferences(m.Author.ID)
	}
	turn := assistant.Turn{
		GuildID:     m.GuildID,
		ChannelID:   m.ChannelID,
		UserID:      m.Author.ID,
		UserName:    m.Author.Username,
		Prompt:      prompt,
		Tier:        assistant.TierName(prefs.Tier),
		Model:       prefs.Model,
		TTSProvider: prefs.TTSProvider,
	}

	reply, err := h.cfg.Replier.Reply(ctx, turn)
	if err != nil {
		log.Warn("discord: text reply failed", "err", err)
		if err := h.cfg.Poster.Reply(ctx, m, MsgChatFailed); err != nil {
			log.Warn("discord: send failure notice", "err", err)
		}
		return
	}
	if err := h.cfg.Poster.Reply(ctx, m, reply); err != nil {
		log.Warn("discord: send reply", "err", err)
		return
	}

	if !inVoice || h.muted(ctx, m.GuildID) {
		return
	}
	if err := h.cfg.Voice.Say(m.GuildID, turn, reply); err != nil {
		log.Warn("discord: queue spoken reply", "err", err)
	}
}

// sharesVoice reports whether userID is in the voice channel the bot is
// connected to in guildID.
func (h *ChatHandler) sharesVoice(guildID, userID string) bool {
	botChannel, ok := h.cfg.Voice.ChannelID(guildID)
	if !ok {
		return false
	}
	userChannel, ok := h.cfg.Locator.UserVoiceChannel(guildID, userID)
	return ok && userChannel == botChannel
}

func (h *ChatHandler) muted(ctx context.Context, guildID string) bool {
	ss, err := h.cfg.Settings.Server(ctx, guildID)
	return err == nil && ss.Muted
}

func mentions(m *discordgo.Message, userID string) bool {
	if userID == "" {
		return false
	}
	for _, u := range m.Mentions {
		if u != nil && u.ID == userID {
			return true
		}
	}
	return false
}

// stripMention removes both mention forms of userID.
func stripMention(content, userID string) string {
	content = strings.ReplaceAll(content, "<@"+userID+">", "")
	content = strings.ReplaceAll(content, "<@!"+userID+">", "")
	return strings.TrimSpace(content)
}
