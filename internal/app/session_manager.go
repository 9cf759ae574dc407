package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/bwmarrin/discordgo"

	"github.com/MrWong99/voxbridge/internal/assistant"
	"github.com/MrWong99/voxbridge/internal/discord/voicecmd"
	"github.com/MrWong99/voxbridge/internal/observe"
	"github.com/MrWong99/voxbridge/internal/queue"
	"github.com/MrWong99/voxbridge/internal/settings"
	"github.com/MrWong99/voxbridge/internal/voice"
	"github.com/MrWong99/voxbridge/pkg/audio"
	"github.com/MrWong99/voxbridge/pkg/provider/tts"
)

// transcriptionFooter marks the embed that mirrors a spoken request.
const transcriptionFooter = "🎙️ Voice transcription"

// Transcriber turns an utterance into text.
type Transcriber interface {
	Transcribe(ctx context.Context, u voice.Utterance) (string, error)
}

// Responder runs response cycles.
type Responder interface {
	Respond(ctx context.Context, turn assistant.Turn) error
	Speak(ctx context.Context, turn assistant.Turn, text string) error
}

// Poster sends text and embeds to a text channel.
type Poster interface {
	Post(ctx context.Context, channelID, content string) error
	PostEmbed(ctx context.Context, channelID string, embed *discordgo.MessageEmbed) error
}

// Names resolves display names for transcription embeds.
type Names interface {
	DisplayName(guildID, userID string) string
}

// guildState is the per-guild state that lives as long as a voice session.
type guildState struct {
	sess        *voice.Session
	textChannel string
	queue       *queue.Queue
}

// SessionManager joins and leaves voice channels and runs the voice
// pipeline for every guild: transcription, admin shortcuts, permission
// checks and the queued response cycle. All exported methods are safe for
// concurrent use.
type SessionManager struct {
	voice       *voice.Manager
	transcriber Transcriber
	responder   Responder
	settings    *settings.Service
	poster      Poster
	names       Names
	shortcuts   *voicecmd.Filter
	metrics     *observe.Metrics

	mu     sync.Mutex
	guilds map[string]*guildState
}

// SessionManagerConfig holds all dependencies for a [SessionManager].
type SessionManagerConfig struct {
	Platform    audio.Platform
	Transcriber Transcriber
	Responder   Responder
	Settings    *settings.Service
	Poster      Poster

	// Names may be nil, in which case speakers are shown as mentions.
	Names Names

	Segmenter        voice.SegmenterConfig
	EndAfterSilence  time.Duration
	ResubscribeDelay time.Duration
	ReconnectTimeout time.Duration

	Metrics *observe.Metrics
}

// NewSessionManager creates a SessionManager with the given dependencies.
func NewSessionManager(cfg SessionManagerConfig) *SessionManager {
	sm := &SessionManager{
		transcriber: cfg.Transcriber,
		responder:   cfg.Responder,
		settings:    cfg.Settings,
		poster:      cfg.Poster,
		names:       cfg.Names,
		shortcuts:   voicecmd.New(),
		metrics:     cfg.Metrics,
		guilds:      make(map[string]*guildState),
	}
	sm.voice = voice.NewManager(voice.ManagerConfig{
		Platform:         cfg.Platform,
		Handler:          sm,
		Segmenter:        cfg.Segmenter,
		EndAfterSilence:  cfg.EndAfterSilence,
		ResubscribeDelay: cfg.ResubscribeDelay,
		ReconnectTimeout: cfg.ReconnectTimeout,
		OnSessionEnd:     sm.sessionEnded,
		Metrics:          cfg.Metrics,
	})
	return sm
}

// Join connects to voiceChannelID, mirrors replies to textChannelID and
// starts listening to userID. A session already running in the guild is
// replaced.
func (sm *SessionManager) Join(ctx context.Context, guildID, voiceChannelID, textChannelID, userID string) error {
	sess, err := sm.voice.Join(ctx, guildID, voiceChannelID)
	if err != nil {
		return fmt.Errorf("session: join: %w", err)
	}

	if ss, err := sm.settings.Server(ctx, guildID); err != nil {
		slog.Warn("session: load guild settings", "guild_id", guildID, "err", err)
	} else {
		sess.SetLanguage(ss.Voice.Language)
	}

	st := &guildState{sess: sess, textChannel: textChannelID}
	st.queue = queue.New(queue.Config{
		Name:    guildID,
		Alive:   sess.Alive,
		OnError: func(item queue.Item, err error) { sm.reportFailure(guildID, textChannelID, item, err) },
		Metrics: sm.metrics,
	})

	sm.mu.Lock()
	sm.guilds[guildID] = st
	sm.mu.Unlock()

	if err := sess.Listen(userID); err != nil {
		_ = sm.voice.Leave(guildID)
		return fmt.Errorf("session: listen to %s: %w", userID, err)
	}

	slog.Info("session started",
		"guild_id", guildID,
		"channel_id", voiceChannelID,
		"text_channel_id", textChannelID,
		"user_id", userID,
	)
	return nil
}

// Leave ends the guild's session. It returns [voice.ErrNotConnected] when
// there is none.
func (sm *SessionManager) Leave(guildID string) error {
	if err := sm.voice.Leave(guildID); err != nil {
		if errors.Is(err, voice.ErrNotConnected) {
			return err
		}
		return fmt.Errorf("session: leave: %w", err)
	}
	slog.Info("session stopped", "guild_id", guildID)
	return nil
}

// ChannelID returns the voice channel the guild's session is connected to.
func (sm *SessionManager) ChannelID(guildID string) (string, bool) {
	return sm.voice.ChannelID(guildID)
}

// SetLanguage changes the transcription language of a live session.
func (sm *SessionManager) SetLanguage(guildID, language string) {
	if sess, ok := sm.voice.Session(guildID); ok {
		sess.SetLanguage(language)
	}
}

// SetMuted mutes or unmutes the guild.
func (sm *SessionManager) SetMuted(ctx context.Context, guildID string, muted bool) error {
	_, err := sm.settings.UpdateServer(ctx, guildID, func(ss *settings.ServerSettings) error {
		ss.Muted = muted
		return nil
	})
	return err
}

// Say queues text for playback in the guild's session behind any reply
// already queued.
func (sm *SessionManager) Say(guildID string, turn assistant.Turn, text string) error {
	st, ok := sm.guild(guildID)
	if !ok {
		return voice.ErrNotConnected
	}
	turn.Sink = st.sess.Conn()
	turn.Voice = sm.guildVoice(context.Background(), guildID)
	_, err := st.queue.Enqueue(queue.Item{
		Label: "text",
		Run: func(ctx context.Context) error {
			return sm.responder.Speak(ctx, turn, text)
		},
	})
	return err
}

// Count returns the number of live sessions.
func (sm *SessionManager) Count() int {
	return sm.voice.Count()
}

// Close ends every session.
func (sm *SessionManager) Close() error {
	return sm.voice.Close()
}

// HandleUtterance implements [voice.Handler]. It runs on the session's
// dispatcher, so only one utterance per guild is processed at a time; the
// response cycle itself is queued.
func (sm *SessionManager) HandleUtterance(ctx context.Context, u voice.Utterance) error {
	st, ok := sm.guild(u.GuildID)
	if !ok {
		return nil
	}
	log := observe.GuildLogger(ctx, u.GuildID).With("user_id", u.UserID)

	text, err := sm.transcriber.Transcribe(ctx, u)
	if err != nil {
		sm.post(ctx, st.textChannel, assistant.UserMessage(err))
		return err
	}

	ss, err := sm.settings.Server(ctx, u.GuildID)
	if err != nil {
		sm.post(ctx, st.textChannel, assistant.MsgGeneric)
		return fmt.Errorf("session: load guild settings: %w", err)
	}

	name := sm.displayName(u.GuildID, u.UserID)
	if err := sm.poster.PostEmbed(ctx, st.textChannel, TranscriptionEmbed(name, text)); err != nil {
		log.Warn("session: post transcription", "err", err)
	}

	if ss.IsAdmin(u.UserID) {
		matched, reply, err := sm.shortcuts.Check(ctx, u.GuildID, text, sm)
		if matched {
			if err != nil {
				sm.post(ctx, st.textChannel, assistant.UserMessage(err))
				return err
			}
			sm.post(ctx, st.textChannel, reply)
			return nil
		}
	}

	if ss.Muted {
		log.Debug("session: guild muted, ignoring utterance")
		return nil
	}
	if !ss.IsUserAllowed(u.UserID) {
		log.Debug("session: speaker not allowed, ignoring utterance")
		return nil
	}

	prefs, err := sm.settings.User(ctx, u.UserID)
	if err != nil {
		log.Warn("session: load user preferences", "err", err)
		prefs = *settings.NewUserPreferences(u.UserID)
	}

	turn := assistant.Turn{
		GuildID:     u.GuildID,
		ChannelID:   st.textChannel,
		UserID:      u.UserID,
		UserName:    name,
		Prompt:      text,
		Tier:        assistant.TierName(prefs.Tier),
		Model:       prefs.Model,
		TTSProvider: prefs.TTSProvider,
		Voice:       tts.Voice{ID: ss.Voice.VoiceID, Language: ss.Voice.Language},
		Sink:        st.sess.Conn(),
		VoiceInput:  true,
	}
	id, err := st.queue.Enqueue(queue.Item{
		Label: "voice",
		Run: func(ctx context.Context) error {
			return sm.responder.Respond(ctx, turn)
		},
	})
	if err != nil {
		return fmt.Errorf("session: enqueue response: %w", err)
	}
	log.Debug("session: response queued", "item_id", id)
	return nil
}

// TranscriptionEmbed mirrors a spoken request in the text channel.
func TranscriptionEmbed(speaker, text string) *discordgo.MessageEmbed {
	return &discordgo.MessageEmbed{
		Author:      &discordgo.MessageEmbedAuthor{Name: speaker},
		Description: text,
		Color:       0x0099ff,
		Footer:      &discordgo.MessageEmbedFooter{Text: transcriptionFooter},
	}
}

func (sm *SessionManager) guild(guildID string) (*guildState, bool) {
	sm.mu.Lock()
	defer sm.mu.Unlock()
	st, ok := sm.guilds[guildID]
	return st, ok
}

// sessionEnded runs whenever the voice manager tears down a guild's
// session. It may be called with the manager lock held. The ended session
// is already closed, so a live one belongs to a newer Join.
func (sm *SessionManager) sessionEnded(guildID string) {
	sm.mu.Lock()
	st, ok := sm.guilds[guildID]
	if !ok || st.sess.Alive() {
		sm.mu.Unlock()
		return
	}
	delete(sm.guilds, guildID)
	sm.mu.Unlock()
	st.queue.Close()
}

func (sm *SessionManager) reportFailure(guildID, channelID string, item queue.Item, err error) {
	if errors.Is(err, context.Canceled) {
		// The session ended while the reply was running.
		return
	}
	slog.Warn("session: response failed",
		"guild_id", guildID,
		"item_id", item.ID,
		"label", item.Label,
		"err", err,
	)
	sm.post(context.Background(), channelID, assistant.UserMessage(err))
}

func (sm *SessionManager) guildVoice(ctx context.Context, guildID string) tts.Voice {
	ss, err := sm.settings.Server(ctx, guildID)
	if err != nil {
		return tts.Voice{}
	}
	return tts.Voice{ID: ss.Voice.VoiceID, Language: ss.Voice.Language}
}

func (sm *SessionManager) displayName(guildID, userID string) string {
	if sm.names == nil {
		return "<@" + userID + ">"
	}
	return sm.names.DisplayName(guildID, userID)
}

// post sends a best-effort notice.
func (sm *SessionManager) post(ctx context.Context, channelID, content string) {
	if channelID == "" || content == "" {
		return
	}
	if err := sm.poster.Post(ctx, channelID, content); err != nil {
		slog.Warn("session: post message", "channel_id", channelID, "err", err)
	}
}
