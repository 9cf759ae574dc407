// Package session keeps a voice connection's transport healthy.
//
// A [Reconnector] watches an [audio.Connection]'s state. When the transport
// drops it gives the platform a bounded window to start recovering on its
// own; if it does not, the connection is torn down and the owner notified.
package session

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/MrWong99/voxbridge/internal/observe"
	"github.com/MrWong99/voxbridge/pkg/audio"
)

// DefaultRecoveryTimeout is how long a dropped connection may take to reach
// Signalling or Connecting.
const DefaultRecoveryTimeout = 5 * time.Second

// ReconnectorConfig configures a [Reconnector].
type ReconnectorConfig struct {
	// Conn is the connection to watch. Its state callback is taken over.
	Conn audio.Connection

	// GuildID is used for logging only.
	GuildID string

	// Timeout bounds the recovery race. Defaults to 5s.
	Timeout time.Duration

	// OnDestroy is called once when the connection is given up, either
	// because recovery timed out or because the platform destroyed it. May
	// be nil.
	OnDestroy func()

	// Metrics records recovery outcomes. May be nil.
	Metrics *observe.Metrics
}

// Reconnector monitors one connection. On a disconnect it races the
// Signalling and Connecting states against the timeout: either one arriving
// means the platform is recovering; neither arriving means the connection
// is disconnected for good.
//
// All methods are safe for concurrent use.
type Reconnector struct {
	conn      audio.Connection
	guildID   string
	timeout   time.Duration
	onDestroy func()
	metrics   *observe.Metrics

	states   chan audio.State
	done     chan struct{}
	stopOnce sync.Once
	gaveUp   sync.Once
}

// NewReconnector creates a new [Reconnector]. Call [Reconnector.Monitor]
// to start watching.
func NewReconnector(cfg ReconnectorConfig) *Reconnector {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = DefaultRecoveryTimeout
	}
	return &Reconnector{
		conn:      cfg.Conn,
		guildID:   cfg.GuildID,
		timeout:   timeout,
		onDestroy: cfg.OnDestroy,
		metrics:   cfg.Metrics,
		states:    make(chan audio.State, 16),
		done:      make(chan struct{}),
	}
}

// Monitor registers for state changes and starts the watch loop. The loop
// ends when ctx ends, [Reconnector.Stop] is called, or the connection is
// given up.
func (r *Reconnector) Monitor(ctx context.Context) {
	r.conn.OnStateChange(r.notify)
	go r.monitorLoop(ctx)
}

// notify forwards a state without blocking the platform's event goroutine.
func (r *Reconnector) notify(st audio.State) {
	select {
	case r.states <- st:
	case <-r.done:
	default:
		slog.Warn("reconnector: state queue full, dropping state", "guild_id", r.guildID, "state", st.String())
	}
}

// Stop halts monitoring. It does not disconnect. Safe to call multiple
// times.
func (r *Reconnector) Stop() {
	r.stopOnce.Do(func() {
		close(r.done)
	})
}

func (r *Reconnector) monitorLoop(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case <-r.done:
			return
		case st := <-r.states:
			switch st {
			case audio.StateDestroyed:
				slog.Info("reconnector: connection destroyed", "guild_id", r.guildID)
				r.giveUp(ctx, false)
				return
			case audio.StateDisconnected:
				if !r.awaitRecovery(ctx) {
					return
				}
			}
		}
	}
}

// awaitRecovery waits for the platform to start recovering. It reports
// whether monitoring should continue.
func (r *Reconnector) awaitRecovery(ctx context.Context) bool {
	slog.Warn("reconnector: voice transport disconnected, waiting for recovery",
		"guild_id", r.guildID,
		"timeout", r.timeout,
	)

	timer := time.NewTimer(r.timeout)
	defer timer.Stop()
	for {
		select {
		case <-ctx.Done():
			return false
		case <-r.done:
			return false
		case <-timer.C:
			slog.Warn("reconnector: no recovery within timeout, destroying connection",
				"guild_id", r.guildID,
				"timeout", r.timeout,
			)
			r.giveUp(ctx, true)
			return false
		case st := <-r.states:
			switch st {
			case audio.StateSignalling, audio.StateConnecting, audio.StateReady:
				slog.Info("reconnector: voice transport recovering", "guild_id", r.guildID, "state", st.String())
				r.record(ctx, "recovered")
				return true
			case audio.StateDestroyed:
				r.giveUp(ctx, false)
				return false
			}
		}
	}
}

// giveUp disconnects (when the platform has not already) and notifies the
// owner exactly once.
func (r *Reconnector) giveUp(ctx context.Context, disconnect bool) {
	r.gaveUp.Do(func() {
		if disconnect {
			if err := r.conn.Disconnect(); err != nil {
				slog.Warn("reconnector: disconnect failed", "guild_id", r.guildID, "err", err)
			}
		}
		r.record(ctx, "destroyed")
		if r.onDestroy != nil {
			r.onDestroy()
		}
	})
}

func (r *Reconnector) record(ctx context.Context, outcome string) {
	if r.metrics != nil {
		r.metrics.RecordReconnect(ctx, outcome)
	}
}
