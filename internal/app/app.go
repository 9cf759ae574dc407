// Package app wires all voxbridge subsystems into a running application.
//
// The App struct owns the full lifecycle: New creates and connects all
// subsystems, Run serves the ops endpoints and the Discord gateway, and
// Shutdown tears everything down in order.
//
// For testing, inject doubles via functional options (WithSettingsStore,
// WithMetrics). When an option is not provided, New creates real
// implementations from the config.
package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"golang.org/x/sync/errgroup"

	"github.com/MrWong99/voxbridge/internal/assistant"
	"github.com/MrWong99/voxbridge/internal/config"
	"github.com/MrWong99/voxbridge/internal/discord"
	"github.com/MrWong99/voxbridge/internal/discord/commands"
	"github.com/MrWong99/voxbridge/internal/health"
	"github.com/MrWong99/voxbridge/internal/observe"
	"github.com/MrWong99/voxbridge/internal/playback"
	"github.com/MrWong99/voxbridge/internal/resilience"
	"github.com/MrWong99/voxbridge/internal/settings"
	"github.com/MrWong99/voxbridge/internal/transcribe"
	"github.com/MrWong99/voxbridge/internal/voice"
	"github.com/MrWong99/voxbridge/pkg/audio"
)

// readHeaderTimeout bounds slow clients on the ops listener.
const readHeaderTimeout = 5 * time.Second

// Gateway is the Discord connection the application runs on.
type Gateway interface {
	Platform() audio.Platform
	Session() discord.Session
	Router() *discord.CommandRouter
	OnMessage(h discord.MessageHandler)
	Connected() bool
	BotUserID() string
	UserVoiceChannel(guildID, userID string) (string, bool)
	ChannelName(channelID string) string
	DisplayName(guildID, userID string) string
	Run(ctx context.Context) error
	Close() error
}

var _ Gateway = (*discord.Bot)(nil)

// App owns all subsystem lifetimes and runs the voice assistant.
type App struct {
	cfg       *config.Config
	providers *Providers
	gateway   Gateway

	// Subsystems, initialised in New and torn down in Shutdown.
	store       settings.Store
	settings    *settings.Service
	metrics     *observe.Metrics
	transcriber *transcribe.Gateway
	chain       *resilience.TTSChain
	assistant   *assistant.Assistant
	sessions    *SessionManager
	health      *health.Handler
	logLevel    *slog.LevelVar

	// closers are called in order during Shutdown.
	closers []func() error

	// stopOnce guards the Shutdown path.
	stopOnce sync.Once
}

// Option is a functional option for New. Use these to inject test doubles.
type Option func(*App)

// WithSettingsStore injects a settings store instead of creating one from
// config.
func WithSettingsStore(s settings.Store) Option {
	return func(a *App) { a.store = s }
}

// WithMetrics injects a metrics instance instead of [observe.DefaultMetrics].
func WithMetrics(m *observe.Metrics) Option {
	return func(a *App) { a.metrics = m }
}

// WithLogLevel lets [App.ApplyConfig] change the log level at runtime.
func WithLogLevel(lv *slog.LevelVar) Option {
	return func(a *App) { a.logLevel = lv }
}

// New creates an App by wiring all subsystems together. The providers come
// from main.go via the config registry and gw is the connected Discord bot.
func New(ctx context.Context, cfg *config.Config, providers *Providers, gw Gateway, opts ...Option) (*App, error) {
	if providers == nil || providers.STT == nil {
		return nil, errors.New("app: an stt provider is required")
	}
	a := &App{
		cfg:       cfg,
		providers: providers,
		gateway:   gw,
	}
	for _, o := range opts {
		o(a)
	}
	if a.metrics == nil {
		a.metrics = observe.DefaultMetrics()
	}

	// ── 1. Settings ──────────────────────────────────────────────────────
	if err := a.initSettings(ctx); err != nil {
		return nil, fmt.Errorf("app: init settings: %w", err)
	}

	// ── 2. Speech pipeline ───────────────────────────────────────────────
	if err := a.initSpeech(); err != nil {
		return nil, fmt.Errorf("app: init speech: %w", err)
	}

	// ── 3. Assistant + voice sessions ────────────────────────────────────
	poster := discord.NewPoster(gw.Session())
	asst, err := assistant.New(assistant.Config{
		LLMs:               providers.LLMs,
		TTS:                a.chain,
		Player:             playback.NewController(a.metrics),
		Poster:             poster,
		Tiers:              cfg.Assistant.TierTable(),
		SystemPrompt:       cfg.Assistant.SystemPrompt,
		LLMTimeout:         cfg.Assistant.LLMTimeout,
		LongReplyThreshold: cfg.Assistant.LongReplyThreshold,
		Metrics:            a.metrics,
	})
	if err != nil {
		return nil, fmt.Errorf("app: init assistant: %w", err)
	}
	a.assistant = asst

	seg := cfg.Audio.Segmenter
	a.sessions = NewSessionManager(SessionManagerConfig{
		Platform:    gw.Platform(),
		Transcriber: a.transcriber,
		Responder:   asst,
		Settings:    a.settings,
		Poster:      poster,
		Names:       gw,
		Segmenter: voice.SegmenterConfig{
			SampleRate:       seg.SampleRate,
			Channels:         seg.Channels,
			MaxBuffer:        seg.MaxBuffer,
			CheckInterval:    seg.CheckInterval,
			SilenceThreshold: seg.SilenceThreshold,
			MinAudioBytes:    seg.MinAudioBytes,
		},
		EndAfterSilence:  cfg.Audio.EndAfterSilence,
		ResubscribeDelay: cfg.Audio.ResubscribeDelay,
		ReconnectTimeout: cfg.Audio.ReconnectTimeout,
		Metrics:          a.metrics,
	})

	// ── 4. Commands ──────────────────────────────────────────────────────
	a.initCommands(poster)

	// ── 5. Health ────────────────────────────────────────────────────────
	a.health = health.New(
		health.Gateway(gw.Connected),
		health.ScratchDir(cfg.Audio.ScratchDir),
		health.Ping("settings", a.settings),
	)
	a.health.Report("sessions", func() any { return a.sessions.Count() })

	return a, nil
}

// initSettings opens the configured store unless one was injected.
func (a *App) initSettings(ctx context.Context) error {
	if a.store == nil {
		switch a.cfg.Settings.EffectiveBackend() {
		case config.SettingsPostgres:
			pool, err := pgxpool.New(ctx, a.cfg.Settings.PostgresDSN)
			if err != nil {
				return fmt.Errorf("connect postgres: %w", err)
			}
			store := settings.NewPostgresStore(pool)
			if err := store.Migrate(ctx); err != nil {
				pool.Close()
				return fmt.Errorf("migrate postgres: %w", err)
			}
			a.closers = append(a.closers, func() error {
				pool.Close()
				return nil
			})
			a.store = store
			slog.Info("settings store ready", "backend", "postgres")
		default:
			store, err := settings.NewFileStore(a.cfg.Settings.Dir)
			if err != nil {
				return err
			}
			a.store = store
			slog.Info("settings store ready", "backend", "file", "dir", a.cfg.Settings.Dir)
		}
	}
	a.settings = settings.NewService(a.store, settings.WithAdminInactivity(a.cfg.Settings.AdminInactivity))
	return nil
}

// initSpeech builds the transcription gateway and the TTS fallback chain.
func (a *App) initSpeech() error {
	tr, err := transcribe.New(a.providers.STT,
		transcribe.WithScratchDir(a.cfg.Audio.ScratchDir),
		transcribe.WithMinDuration(a.cfg.Audio.MinDuration),
		transcribe.WithQuietRMS(a.cfg.Audio.QuietRMS),
		transcribe.WithMetrics(a.metrics),
		transcribe.WithProviderName(a.providers.STTName),
	)
	if err != nil {
		return err
	}
	a.transcriber = tr

	chain, err := resilience.NewTTSChain(a.providers.TTS,
		resilience.WithScratchDir(a.cfg.Audio.ScratchDir),
		resilience.WithMetrics(a.metrics),
	)
	if err != nil {
		return err
	}
	if len(a.cfg.Assistant.TTSOrder) > 0 {
		if err := chain.SetOrder(a.cfg.Assistant.TTSOrder); err != nil {
			return err
		}
	}
	a.chain = chain
	return nil
}

// initCommands registers the slash commands and the text chat handler.
func (a *App) initCommands(poster *discord.Poster) {
	router := a.gateway.Router()
	perms := discord.NewPermissionChecker(a.settings)

	prefs := commands.NewPreferenceCommands(a.settings, a.assistant,
		a.providers.TTSNames(), ModelKeys(a.cfg.Assistant.ModelCatalog()))
	prefs.Register(router)
	commands.NewGuildCommands(a.settings, perms, a.sessions).Register(router)
	commands.NewVoiceCommands(a.sessions, a.gateway, a.settings, prefs).Register(router)

	chat := commands.NewChatHandler(commands.ChatConfig{
		Replier:  a.assistant,
		Voice:    a.sessions,
		Locator:  a.gateway,
		Settings: a.settings,
		Poster:   poster,
	})
	a.gateway.OnMessage(chat.Handle)
}

// Sessions returns the voice session manager.
func (a *App) Sessions() *SessionManager {
	return a.sessions
}

// Run serves the ops endpoints, runs the Discord gateway and the admin
// expiry loop, and blocks until ctx is cancelled or one of them fails.
func (a *App) Run(ctx context.Context) error {
	mux := http.NewServeMux()
	a.health.Register(mux)
	mux.Handle("/metrics", observe.MetricsHandler())

	g, ctx := errgroup.WithContext(ctx)

	if addr := a.cfg.Server.ListenAddr; addr != "" {
		srv := &http.Server{
			Addr:              addr,
			Handler:           observe.Middleware(a.metrics)(mux),
			ReadHeaderTimeout: readHeaderTimeout,
		}
		g.Go(func() error {
			slog.Info("ops server listening", "addr", addr)
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return fmt.Errorf("app: ops server: %w", err)
			}
			return nil
		})
		g.Go(func() error {
			<-ctx.Done()
			shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), readHeaderTimeout)
			defer cancel()
			return srv.Shutdown(shutdownCtx)
		})
	}

	g.Go(func() error {
		return a.gateway.Run(ctx)
	})
	g.Go(func() error {
		return a.settings.Run(ctx, a.cfg.Settings.ExpiryInterval)
	})

	slog.Info("app running")
	err := g.Wait()
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}

// ApplyConfig applies the hot-reloadable parts of a configuration change.
func (a *App) ApplyConfig(diff config.ConfigDiff) {
	if diff.LogLevelChanged && a.logLevel != nil {
		a.logLevel.Set(SlogLevel(diff.NewLogLevel))
		slog.Info("log level changed", "level", diff.NewLogLevel)
	}
	if diff.TiersChanged {
		a.assistant.SetTiers(diff.NewTiers)
		slog.Info("tiers reloaded", "count", len(diff.NewTiers))
	}
	if diff.TTSOrderChanged {
		if err := a.chain.SetOrder(diff.NewTTSOrder); err != nil {
			slog.Warn("tts order not applied", "order", diff.NewTTSOrder, "err", err)
		} else {
			slog.Info("tts order changed", "order", diff.NewTTSOrder)
		}
	}
}

// Shutdown tears down all subsystems. It respects the context deadline: if
// ctx expires before all closers finish, remaining closers are skipped and
// the context error is returned.
func (a *App) Shutdown(ctx context.Context) error {
	var shutdownErr error
	a.stopOnce.Do(func() {
		slog.Info("shutting down", "sessions", a.sessions.Count(), "closers", len(a.closers))

		if err := a.sessions.Close(); err != nil {
			slog.Warn("voice sessions close error", "err", err)
		}
		if err := a.gateway.Close(); err != nil {
			slog.Warn("discord close error", "err", err)
		}

		for i, closer := range a.closers {
			select {
			case <-ctx.Done():
				slog.Warn("shutdown deadline exceeded", "remaining", len(a.closers)-i)
				shutdownErr = ctx.Err()
				return
			default:
			}
			if err := closer(); err != nil {
				slog.Warn("closer error", "index", i, "err", err)
			}
		}

		slog.Info("shutdown complete")
	})
	return shutdownErr
}

// SlogLevel maps a configured log level to its slog level.
func SlogLevel(level config.LogLevel) slog.Level {
	switch level {
	case config.LogDebug:
		return slog.LevelDebug
	case config.LogWarn:
		return slog.LevelWarn
	case config.LogError:
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
