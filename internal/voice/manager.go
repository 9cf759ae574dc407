package voice

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/MrWong99/voxbridge/internal/observe"
	"github.com/MrWong99/voxbridge/internal/session"
	"github.com/MrWong99/voxbridge/pkg/audio"
)

// ErrNotConnected is returned when a guild has no voice session.
var ErrNotConnected = errors.New("voice: not connected in this guild")

// ManagerConfig holds the dependencies of a [Manager].
type ManagerConfig struct {
	Platform audio.Platform
	Handler  Handler

	Segmenter        SegmenterConfig
	EndAfterSilence  time.Duration
	ResubscribeDelay time.Duration

	// ReconnectTimeout bounds transport recovery. Defaults to 5s.
	ReconnectTimeout time.Duration

	// OnSessionEnd is called after a session has been torn down, whether
	// by Leave or because its transport was lost. It may run while Join
	// holds the manager lock and must not call back into the Manager. May
	// be nil.
	OnSessionEnd func(guildID string)

	Metrics *observe.Metrics
}

type managed struct {
	sess      *Session
	channelID string
	recon     *session.Reconnector
}

// Manager owns at most one [Session] per guild. All exported methods are
// safe for concurrent use.
type Manager struct {
	cfg ManagerConfig

	mu       sync.Mutex
	sessions map[string]*managed
}

// NewManager creates a Manager.
func NewManager(cfg ManagerConfig) *Manager {
	return &Manager{cfg: cfg, sessions: make(map[string]*managed)}
}

// Join connects to channelID and returns the guild's new session. An
// existing session in the guild is torn down first.
func (m *Manager) Join(ctx context.Context, guildID, channelID string) (*Session, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if old, ok := m.sessions[guildID]; ok {
		slog.Info("voice: replacing existing session", "guild_id", guildID, "old_channel_id", old.channelID, "channel_id", channelID)
		delete(m.sessions, guildID)
		if err := old.teardown(guildID); err != nil {
			slog.Warn("voice: teardown of replaced session", "guild_id", guildID, "err", err)
		}
		m.ended(guildID)
	}

	conn, err := m.cfg.Platform.Connect(ctx, guildID, channelID)
	if err != nil {
		return nil, fmt.Errorf("voice: connect to channel %s: %w", channelID, err)
	}

	sess, err := NewSession(SessionConfig{
		GuildID:          guildID,
		Conn:             conn,
		Handler:          m.cfg.Handler,
		Segmenter:        m.cfg.Segmenter,
		EndAfterSilence:  m.cfg.EndAfterSilence,
		ResubscribeDelay: m.cfg.ResubscribeDelay,
		Metrics:          m.cfg.Metrics,
	})
	if err != nil {
		_ = conn.Disconnect()
		return nil, err
	}

	entry := &managed{sess: sess, channelID: channelID}
	entry.recon = session.NewReconnector(session.ReconnectorConfig{
		Conn:      conn,
		GuildID:   guildID,
		Timeout:   m.cfg.ReconnectTimeout,
		OnDestroy: func() { m.lost(guildID, sess) },
		Metrics:   m.cfg.Metrics,
	})
	entry.recon.Monitor(context.WithoutCancel(ctx))
	m.sessions[guildID] = entry

	if m.cfg.Metrics != nil {
		m.cfg.Metrics.ActiveSessions.Add(ctx, 1)
	}
	slog.Info("voice: joined channel", "guild_id", guildID, "channel_id", channelID)
	return sess, nil
}

// Leave tears down the guild's session and disconnects.
func (m *Manager) Leave(guildID string) error {
	m.mu.Lock()
	entry, ok := m.sessions[guildID]
	if !ok {
		m.mu.Unlock()
		return ErrNotConnected
	}
	delete(m.sessions, guildID)
	m.mu.Unlock()

	err := entry.teardown(guildID)
	m.ended(guildID)
	return err
}

// Session returns the guild's session.
func (m *Manager) Session(guildID string) (*Session, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	entry, ok := m.sessions[guildID]
	if !ok {
		return nil, false
	}
	return entry.sess, true
}

// ChannelID returns the voice channel the guild's session is connected to.
func (m *Manager) ChannelID(guildID string) (string, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	entry, ok := m.sessions[guildID]
	if !ok {
		return "", false
	}
	return entry.channelID, true
}

// Count returns the number of live sessions.
func (m *Manager) Count() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.sessions)
}

// Close tears down every session.
func (m *Manager) Close() error {
	m.mu.Lock()
	entries := m.sessions
	m.sessions = make(map[string]*managed)
	m.mu.Unlock()

	var errs []error
	for guildID, entry := range entries {
		if err := entry.teardown(guildID); err != nil {
			errs = append(errs, err)
		}
		m.ended(guildID)
	}
	return errors.Join(errs...)
}

// teardown closes the session before disconnecting so the capture pair is
// released while the connection is still valid.
func (e *managed) teardown(guildID string) error {
	e.recon.Stop()
	e.sess.Close()
	if err := e.sess.Conn().Disconnect(); err != nil {
		return fmt.Errorf("voice: disconnect guild %s: %w", guildID, err)
	}
	return nil
}

// lost handles a connection the reconnector gave up on. It only acts if
// sess is still the guild's current session.
func (m *Manager) lost(guildID string, sess *Session) {
	m.mu.Lock()
	entry, ok := m.sessions[guildID]
	if !ok || entry.sess != sess {
		m.mu.Unlock()
		return
	}
	delete(m.sessions, guildID)
	m.mu.Unlock()

	slog.Warn("voice: session lost with its transport", "guild_id", guildID)
	sess.Close()
	m.ended(guildID)
}

func (m *Manager) ended(guildID string) {
	if m.cfg.Metrics != nil {
		m.cfg.Metrics.ActiveSessions.Add(context.Background(), -1)
	}
	if m.cfg.OnSessionEnd != nil {
		m.cfg.OnSessionEnd(guildID)
	}
}
