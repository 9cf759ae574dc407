// Package audio defines the interfaces and types for voice platform
// connectivity and PCM handling within voxbridge.
//
// The primary abstractions are:
//
//   - [Platform]: joins a voice channel and returns a [Connection].
//   - [Connection]: an active voice session: per-user [Subscription]s for
//     capture, a single-player [Sink] for playback, and lifecycle events.
//
// The Discord implementation lives in audio/discord; tests use audio/mock.
package audio

import (
	"context"
	"errors"
	"time"
)

// ErrSinkBusy is returned by [Sink.Attach] when another player already owns
// the output.
var ErrSinkBusy = errors.New("audio: sink already has an attached player")

// ErrClosed is returned when an operation is attempted on a connection that
// has been disconnected.
var ErrClosed = errors.New("audio: connection closed")

// EventType classifies participant lifecycle events emitted by a [Connection].
type EventType int

const (
	// EventJoin is emitted when a participant enters the voice channel.
	EventJoin EventType = iota

	// EventLeave is emitted when a participant leaves the voice channel.
	EventLeave
)

// String returns the human-readable name of the event type.
func (e EventType) String() string {
	switch e {
	case EventJoin:
		return "JOIN"
	case EventLeave:
		return "LEAVE"
	default:
		return "UNKNOWN"
	}
}

// Event describes a participant lifecycle change on a voice channel.
type Event struct {
	Type     EventType
	UserID   string
	Username string
}

// State is the transport state of a voice connection.
type State int

const (
	// StateReady means the connection is established and can send and receive.
	StateReady State = iota

	// StateSignalling means the platform is negotiating a new voice server
	// (e.g. after the bot was moved between channels).
	StateSignalling

	// StateConnecting means the transport is (re)opening its sockets.
	StateConnecting

	// StateDisconnected means the transport dropped. It may recover on its
	// own through Signalling or Connecting.
	StateDisconnected

	// StateDestroyed is terminal; the connection will not recover.
	StateDestroyed
)

// String returns the human-readable name of the state.
func (s State) String() string {
	switch s {
	case StateReady:
		return "READY"
	case StateSignalling:
		return "SIGNALLING"
	case StateConnecting:
		return "CONNECTING"
	case StateDisconnected:
		return "DISCONNECTED"
	case StateDestroyed:
		return "DESTROYED"
	default:
		return "UNKNOWN"
	}
}

// Subscription is a live decoded audio stream for one user.
//
// The subscription owns its decoder. Frames is closed when the platform ends
// the stream (the user has been silent for the end-after-silence duration) or
// when Close is called. Close releases the decoder and is idempotent.
type Subscription interface {
	// UserID identifies whose audio this subscription carries.
	UserID() string

	// Frames delivers decoded 16-bit little-endian PCM frames in arrival order.
	Frames() <-chan AudioFrame

	// Close stops delivery and destroys the decoder. Safe to call more than once.
	Close() error
}

// Sink is the playback side of a voice connection.
type Sink interface {
	// Attach claims the sink for a single player. Frames written to the
	// returned channel are encoded and sent to the channel participants in
	// write order; writes block while the transport is busy. release must be
	// called when the player is done; it does not close frames, returns once
	// every frame written before it has been handed to the transport and is
	// a no-op after the first call.
	//
	// Only one player may be attached at a time. A second Attach before the
	// first release returns [ErrSinkBusy].
	Attach() (frames chan<- AudioFrame, release func(), err error)
}

// Connection represents an active session on a voice channel.
//
// Implementations must be safe for concurrent use.
type Connection interface {
	Sink

	// Subscribe opens a decoded audio stream for userID. The stream ends by
	// itself after endAfterSilence without packets from that user; a zero
	// value means the stream only ends on Close or Disconnect.
	Subscribe(userID string, endAfterSilence time.Duration) (Subscription, error)

	// OnParticipantChange registers cb for join/leave events. Only one
	// callback may be registered; later calls replace it. cb runs on an
	// internal goroutine and must not block.
	OnParticipantChange(cb func(Event))

	// OnStateChange registers cb for transport state transitions. Same
	// registration rules as OnParticipantChange.
	OnStateChange(cb func(State))

	// Disconnect tears down the connection and closes all subscriptions.
	// Subsequent calls are no-ops and return nil.
	Disconnect() error
}

// Platform is the entry point for a voice-channel provider.
//
// Implementations must be safe for concurrent use.
type Platform interface {
	// Connect joins the voice channel channelID in guild guildID. ctx governs
	// the connection attempt only.
	Connect(ctx context.Context, guildID, channelID string) (Connection, error)
}
