package discord

import (
	"log/slog"
	"sync"
	"time"

	"github.com/MrWong99/voxbridge/pkg/audio"
)

// Compile-time interface assertion.
var _ audio.Subscription = (*subscription)(nil)

const subscriptionBuffer = 64

// subscription is one user's decoded audio stream. It owns an Opus decoder
// and an end-after-silence timer; both are released by end.
type subscription struct {
	userID string
	frames chan audio.AudioFrame

	mu      sync.Mutex
	dec     frameDecoder
	timer   *time.Timer
	silence time.Duration
	closed  bool

	// onEnd detaches the subscription from its connection.
	onEnd func(*subscription)
}

func newSubscription(userID string, dec frameDecoder, endAfterSilence time.Duration, onEnd func(*subscription)) *subscription {
	s := &subscription{
		userID:  userID,
		frames:  make(chan audio.AudioFrame, subscriptionBuffer),
		dec:     dec,
		silence: endAfterSilence,
		onEnd:   onEnd,
	}
	if endAfterSilence > 0 {
		s.timer = time.AfterFunc(endAfterSilence, s.end)
	}
	return s
}

func (s *subscription) UserID() string { return s.userID }

func (s *subscription) Frames() <-chan audio.AudioFrame { return s.frames }

// Close ends the stream and destroys the decoder. Idempotent.
func (s *subscription) Close() error {
	s.end()
	return nil
}

// deliver decodes one packet and forwards it without blocking the receive
// loop. A full buffer drops the frame.
func (s *subscription) deliver(opus []byte, ts time.Duration) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	if s.timer != nil {
		s.timer.Reset(s.silence)
	}

	pcm, err := s.dec.decode(opus)
	if err != nil {
		slog.Warn("discord: opus decode error", "user_id", s.userID, "err", err)
		return
	}
	frame := audio.AudioFrame{
		Data:       pcm,
		SampleRate: opusSampleRate,
		Channels:   captureChannels,
		Timestamp:  ts,
	}
	select {
	case s.frames <- frame:
	default:
		slog.Debug("discord: subscription buffer full, dropping frame", "user_id", s.userID)
	}
}

func (s *subscription) end() {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.closed = true
	if s.timer != nil {
		s.timer.Stop()
	}
	s.dec = nil
	close(s.frames)
	s.mu.Unlock()

	if s.onEnd != nil {
		s.onEnd(s)
	}
}
