package voice

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/MrWong99/voxbridge/internal/observe"
	"github.com/MrWong99/voxbridge/pkg/audio"
)

// Session defaults.
const (
	DefaultEndAfterSilence  = time.Second
	DefaultResubscribeDelay = 100 * time.Millisecond
)

var (
	// ErrInvalidTransition is returned when a lifecycle change is not
	// allowed from the current state.
	ErrInvalidTransition = errors.New("voice: invalid session state transition")

	// ErrSessionClosed is returned by operations on a closed session.
	ErrSessionClosed = errors.New("voice: session closed")
)

// State is the lifecycle state of a [Session].
type State int

const (
	StateIdle State = iota
	StateListening
	StateCleaning
)

// String returns the lower-case state name.
func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateListening:
		return "listening"
	case StateCleaning:
		return "cleaning"
	default:
		return "unknown"
	}
}

// validTransitions is the complete lifecycle graph.
var validTransitions = map[State]State{
	StateIdle:      StateListening,
	StateListening: StateCleaning,
	StateCleaning:  StateIdle,
}

// Utterance is one segment of a speaker's audio ready for transcription.
type Utterance struct {
	GuildID string
	UserID  string

	// PCM is 16-bit little-endian audio in SampleRate/Channels.
	PCM        []byte
	SampleRate int
	Channels   int

	Trigger  Trigger
	Language string

	CapturedAt time.Time
}

// Duration returns the playback length of the PCM.
func (u Utterance) Duration() time.Duration {
	return audio.PCMDuration(len(u.PCM), u.SampleRate, u.Channels)
}

// Handler consumes utterances. Calls for one session never overlap.
type Handler interface {
	HandleUtterance(ctx context.Context, u Utterance) error
}

// HandlerFunc adapts a function to [Handler].
type HandlerFunc func(ctx context.Context, u Utterance) error

// HandleUtterance calls f.
func (f HandlerFunc) HandleUtterance(ctx context.Context, u Utterance) error { return f(ctx, u) }

// Ticker is the part of *time.Ticker the session uses.
type Ticker interface {
	C() <-chan time.Time
	Stop()
}

type stdTicker struct{ t *time.Ticker }

func (t stdTicker) C() <-chan time.Time { return t.t.C }
func (t stdTicker) Stop()               { t.t.Stop() }

func newStdTicker(d time.Duration) Ticker { return stdTicker{time.NewTicker(d)} }

// SessionConfig configures a [Session].
type SessionConfig struct {
	GuildID string

	// Conn is the voice connection. The session does not disconnect it.
	Conn audio.Connection

	// Handler receives every dispatched utterance.
	Handler Handler

	Segmenter SegmenterConfig

	// EndAfterSilence is passed to Subscribe; the platform ends the stream
	// after this much silence. Defaults to 1s.
	EndAfterSilence time.Duration

	// ResubscribeDelay is the pause between a stream ending and the next
	// Subscribe. Defaults to 100ms.
	ResubscribeDelay time.Duration

	// Language is attached to every utterance.
	Language string

	Metrics *observe.Metrics
}

// Session listens to one speaker on one voice connection.
//
// Each Listen call creates one capture pair: a subscription (which owns the
// decoder) and a silence ticker. The pair is torn down before a new one is
// created, so at most one is live at any time.
type Session struct {
	cfg       SessionConfig
	seg       *Segmenter
	newTicker func(time.Duration) Ticker
	log       *slog.Logger

	ctx    context.Context
	cancel context.CancelFunc
	alive  atomic.Bool

	dispatchDone chan struct{}

	mu       sync.Mutex
	state    State
	userID   string
	language string
	stopLoop context.CancelFunc
	loopDone chan struct{}
}

// NewSession creates an idle session and starts its dispatcher.
func NewSession(cfg SessionConfig) (*Session, error) {
	if cfg.Conn == nil {
		return nil, errors.New("voice: session needs a connection")
	}
	if cfg.Handler == nil {
		return nil, errors.New("voice: session needs a handler")
	}
	if cfg.EndAfterSilence <= 0 {
		cfg.EndAfterSilence = DefaultEndAfterSilence
	}
	if cfg.ResubscribeDelay <= 0 {
		cfg.ResubscribeDelay = DefaultResubscribeDelay
	}

	ctx, cancel := context.WithCancel(context.Background())
	s := &Session{
		cfg:          cfg,
		seg:          NewSegmenter(cfg.Segmenter, cfg.Metrics),
		newTicker:    newStdTicker,
		log:          slog.With("guild_id", cfg.GuildID),
		ctx:          ctx,
		cancel:       cancel,
		dispatchDone: make(chan struct{}),
		language:     cfg.Language,
	}
	s.alive.Store(true)
	go s.dispatch()
	return s, nil
}

// GuildID returns the guild this session belongs to.
func (s *Session) GuildID() string { return s.cfg.GuildID }

// Conn returns the voice connection.
func (s *Session) Conn() audio.Connection { return s.cfg.Conn }

// Alive reports whether the session has not been closed. Work dispatched
// before Close checks this before touching the session.
func (s *Session) Alive() bool { return s.alive.Load() }

// Done is closed once the dispatcher has exited after Close.
func (s *Session) Done() <-chan struct{} { return s.dispatchDone }

// State returns the lifecycle state.
func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// UserID returns the speaker being listened to, or "".
func (s *Session) UserID() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.userID
}

// SetLanguage changes the language attached to future utterances.
func (s *Session) SetLanguage(lang string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.language = lang
}

// Listen starts capturing userID. A session that is already listening is
// cleaned first, so the previous capture pair is gone before the new one
// exists.
func (s *Session) Listen(userID string) error {
	if userID == "" {
		return errors.New("voice: listen needs a user ID")
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.Alive() {
		return ErrSessionClosed
	}
	if s.state == StateListening {
		if err := s.cleanLocked(); err != nil {
			return err
		}
	}
	if err := s.transitionLocked(StateListening); err != nil {
		return err
	}

	loopCtx, stop := context.WithCancel(s.ctx)
	done := make(chan struct{})
	s.userID = userID
	s.seg.SetSpeaker(userID)
	s.stopLoop = stop
	s.loopDone = done
	go s.listenLoop(loopCtx, userID, done)

	s.log.Info("voice: listening", "user_id", userID)
	return nil
}

// Stop ends listening and returns the session to Idle.
func (s *Session) Stop() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.cleanLocked()
}

// Close stops listening, discards buffered audio and stops the
// dispatcher. An utterance already being handled runs to completion.
// Safe to call more than once.
func (s *Session) Close() {
	s.mu.Lock()
	if s.state == StateListening {
		if err := s.cleanLocked(); err != nil {
			s.log.Warn("voice: clean on close", "err", err)
		}
	}
	wasAlive := s.alive.Swap(false)
	s.mu.Unlock()

	if !wasAlive {
		return
	}
	s.cancel()
	s.seg.Reset()
	s.log.Info("voice: session closed")
}

// cleanLocked moves Listening → Cleaning → Idle, tearing down the capture
// pair and dropping audio not yet taken in between.
func (s *Session) cleanLocked() error {
	if err := s.transitionLocked(StateCleaning); err != nil {
		return err
	}
	if s.stopLoop != nil {
		s.stopLoop()
		<-s.loopDone
	}
	s.stopLoop, s.loopDone = nil, nil
	s.userID = ""
	s.seg.Reset()
	return s.transitionLocked(StateIdle)
}

func (s *Session) transitionLocked(to State) error {
	if next, ok := validTransitions[s.state]; !ok || next != to {
		return fmt.Errorf("%w: %s → %s", ErrInvalidTransition, s.state, to)
	}
	s.log.Debug("voice: session state", "from", s.state.String(), "to", to.String())
	s.state = to
	return nil
}

// listenLoop subscribes, captures until the platform ends the stream, and
// subscribes again after a short delay until ctx ends.
func (s *Session) listenLoop(ctx context.Context, userID string, done chan struct{}) {
	defer close(done)
	for {
		sub, err := s.cfg.Conn.Subscribe(userID, s.cfg.EndAfterSilence)
		switch {
		case errors.Is(err, audio.ErrClosed):
			s.log.Info("voice: connection closed, listener exiting", "user_id", userID)
			return
		case err != nil:
			s.log.Warn("voice: subscribe failed", "user_id", userID, "err", err)
		default:
			s.capture(ctx, sub)
		}

		if ctx.Err() != nil {
			return
		}
		s.log.Debug("voice: audio stream ended, resubscribing", "user_id", userID)
		select {
		case <-ctx.Done():
			return
		case <-time.After(s.cfg.ResubscribeDelay):
		}
	}
}

// capture feeds one subscription into the segmenter. The subscription and
// the ticker are released on every return path.
func (s *Session) capture(ctx context.Context, sub audio.Subscription) {
	ticker := s.newTicker(s.seg.Config().CheckInterval)
	defer ticker.Stop()
	defer func() {
		if err := sub.Close(); err != nil {
			s.log.Warn("voice: close subscription", "err", err)
		}
	}()

	cfg := s.seg.Config()
	conv := audio.FormatConverter{Target: audio.Format{SampleRate: cfg.SampleRate, Channels: cfg.Channels}}
	frames := sub.Frames()
	for {
		select {
		case <-ctx.Done():
			return
		case f, ok := <-frames:
			if !ok {
				return
			}
			src := audio.Format{SampleRate: f.SampleRate, Channels: f.Channels}
			if src.SampleRate == 0 || src.Channels == 0 {
				src = conv.Target
			}
			s.seg.OnFrame(conv.Convert(f.Data, src))
		case <-ticker.C():
			s.seg.Tick()
		}
	}
}

// dispatch hands snapshots to the handler one at a time.
func (s *Session) dispatch() {
	defer close(s.dispatchDone)
	for {
		select {
		case <-s.ctx.Done():
			return
		case snap := <-s.seg.Snapshots():
			s.handle(snap)
			s.seg.Release()
		}
	}
}

func (s *Session) handle(snap Snapshot) {
	defer func() {
		if r := recover(); r != nil {
			s.log.Error("voice: panic while handling utterance", "panic", r)
		}
	}()

	s.mu.Lock()
	u := Utterance{
		GuildID:    s.cfg.GuildID,
		UserID:     snap.UserID,
		PCM:        snap.PCM,
		SampleRate: s.seg.Config().SampleRate,
		Channels:   s.seg.Config().Channels,
		Trigger:    snap.Trigger,
		Language:   s.language,
		CapturedAt: snap.TakenAt,
	}
	s.mu.Unlock()

	// Teardown does not cancel an utterance already taken; its result is
	// discarded downstream via Alive.
	ctx := context.WithoutCancel(s.ctx)
	if err := s.cfg.Handler.HandleUtterance(ctx, u); err != nil {
		s.log.Warn("voice: utterance handling failed", "user_id", u.UserID, "trigger", u.Trigger.String(), "err", err)
	}
}
