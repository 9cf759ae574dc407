// Package voice turns a live voice connection into discrete utterances.
//
// A [Session] owns one guild's [audio.Connection] and listens to a single
// speaker at a time. Decoded frames feed a [Segmenter], which cuts the
// stream into [Utterance] values when the speaker pauses or the buffer hits
// its size cap. Utterances travel over a bounded channel to one dispatcher
// goroutine per session, which hands them to a [Handler].
//
// The [Manager] keeps at most one Session per guild.
package voice

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/MrWong99/voxbridge/internal/observe"
	"github.com/MrWong99/voxbridge/pkg/audio"
)

// Segmenter defaults.
const (
	DefaultSampleRate       = 48000
	DefaultChannels         = 1
	DefaultMaxBuffer        = 2 * time.Second
	DefaultCheckInterval    = 100 * time.Millisecond
	DefaultSilenceThreshold = 500 * time.Millisecond
	DefaultMinAudioBytes    = 4800
)

// SegmenterConfig controls how the PCM stream is cut into utterances.
type SegmenterConfig struct {
	// SampleRate and Channels describe the buffered PCM. Incoming frames in
	// another format are converted.
	SampleRate int
	Channels   int

	// MaxBuffer is the hard cap on buffered audio. Crossing it dispatches
	// the buffer even while the speaker is still talking.
	MaxBuffer time.Duration

	// CheckInterval is the silence tick period.
	CheckInterval time.Duration

	// SilenceThreshold is both the gap that marks the start of silence and
	// the confirmation window after it.
	SilenceThreshold time.Duration

	// MinAudioBytes is the smallest snapshot worth transcribing. Smaller
	// ones are discarded.
	MinAudioBytes int
}

// WithDefaults returns a copy of c with zero fields set to their defaults.
func (c SegmenterConfig) WithDefaults() SegmenterConfig {
	if c.SampleRate <= 0 {
		c.SampleRate = DefaultSampleRate
	}
	if c.Channels <= 0 {
		c.Channels = DefaultChannels
	}
	if c.MaxBuffer <= 0 {
		c.MaxBuffer = DefaultMaxBuffer
	}
	if c.CheckInterval <= 0 {
		c.CheckInterval = DefaultCheckInterval
	}
	if c.SilenceThreshold <= 0 {
		c.SilenceThreshold = DefaultSilenceThreshold
	}
	if c.MinAudioBytes <= 0 {
		c.MinAudioBytes = DefaultMinAudioBytes
	}
	return c
}

// CapBytes is MaxBuffer expressed in bytes of 16-bit PCM.
func (c SegmenterConfig) CapBytes() int {
	return int(int64(audio.BytesPerSecond(c.SampleRate, c.Channels)) * int64(c.MaxBuffer) / int64(time.Second))
}

// Trigger names what caused a snapshot.
type Trigger int

const (
	// TriggerSilence means the speaker paused long enough.
	TriggerSilence Trigger = iota

	// TriggerCap means the buffer crossed its size cap.
	TriggerCap
)

// String returns "silence" or "cap".
func (t Trigger) String() string {
	if t == TriggerCap {
		return "cap"
	}
	return "silence"
}

// Snapshot is a buffer taken from the [Segmenter]. UserID is the speaker
// the audio was captured from.
type Snapshot struct {
	UserID  string
	PCM     []byte
	Trigger Trigger
	TakenAt time.Time
}

// Segmenter buffers PCM and emits snapshots on silence or when the cap is
// crossed. At most one snapshot is in flight: after a snapshot has been
// received from [Segmenter.Snapshots], no new one is taken until
// [Segmenter.Release] is called.
//
// OnFrame and Tick may be called from different goroutines.
type Segmenter struct {
	cfg       SegmenterConfig
	capBytes  int
	now       func() time.Time
	metrics   *observe.Metrics
	snapshots chan Snapshot

	mu           sync.Mutex
	speaker      string
	buf          []byte
	lastChunk    time.Time
	silenceStart time.Time
	processing   bool
}

// NewSegmenter creates a Segmenter. m may be nil.
func NewSegmenter(cfg SegmenterConfig, m *observe.Metrics) *Segmenter {
	cfg = cfg.WithDefaults()
	s := &Segmenter{
		cfg:       cfg,
		capBytes:  cfg.CapBytes(),
		now:       time.Now,
		metrics:   m,
		snapshots: make(chan Snapshot, 1),
	}
	s.lastChunk = s.now()
	return s
}

// Config returns the effective configuration.
func (s *Segmenter) Config() SegmenterConfig { return s.cfg }

// Snapshots delivers taken buffers. The channel holds at most one.
func (s *Segmenter) Snapshots() <-chan Snapshot { return s.snapshots }

// OnFrame appends chunk, refreshes the arrival clock and clears any
// pending silence. Crossing the cap with nothing in flight takes the buffer.
func (s *Segmenter) OnFrame(chunk []byte) {
	if len(chunk) == 0 {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	s.lastChunk = s.now()
	s.silenceStart = time.Time{}
	s.buf = append(s.buf, chunk...)

	if len(s.buf) > s.capBytes && !s.processing {
		s.takeLocked(TriggerCap)
	}
}

// Tick runs one silence check. Once nothing has arrived for longer than the
// threshold, silence starts; once silence itself has lasted longer than the
// threshold, a non-empty buffer is taken if nothing is in flight.
func (s *Segmenter) Tick() {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	threshold := s.cfg.SilenceThreshold
	if s.silenceStart.IsZero() && now.Sub(s.lastChunk) > threshold {
		s.silenceStart = now
	}
	if !s.silenceStart.IsZero() && now.Sub(s.silenceStart) > threshold && len(s.buf) > 0 && !s.processing {
		s.takeLocked(TriggerSilence)
	}
}

// takeLocked resets the buffer and either discards it (too small) or
// publishes it as the in-flight snapshot.
func (s *Segmenter) takeLocked(trigger Trigger) {
	pcm := s.buf
	s.buf = nil

	if len(pcm) < s.cfg.MinAudioBytes {
		slog.Debug("voice: discarding short buffer", "bytes", len(pcm), "min_bytes", s.cfg.MinAudioBytes)
		s.record("too_small")
		return
	}

	s.processing = true
	select {
	case s.snapshots <- Snapshot{UserID: s.speaker, PCM: pcm, Trigger: trigger, TakenAt: s.now()}:
		s.record("dispatched")
	default:
		// Unreachable while Release is paired with every receive.
		s.processing = false
		slog.Warn("voice: snapshot channel full, dropping buffer", "bytes", len(pcm))
		s.record("dropped")
	}
}

// Release marks the in-flight snapshot as done so the next one can be
// taken.
func (s *Segmenter) Release() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.processing = false
}

// Reset drops buffered audio and clears the silence marker. An in-flight
// snapshot stays in flight.
func (s *Segmenter) Reset() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.buf = nil
	s.silenceStart = time.Time{}
	s.lastChunk = s.now()
}

// SetSpeaker drops buffered audio and attributes everything buffered from
// now on to userID.
func (s *Segmenter) SetSpeaker(userID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.speaker = userID
	s.buf = nil
	s.silenceStart = time.Time{}
	s.lastChunk = s.now()
}

// Buffered returns the number of buffered bytes.
func (s *Segmenter) Buffered() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.buf)
}

// InFlight reports whether a snapshot is being processed.
func (s *Segmenter) InFlight() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.processing
}

func (s *Segmenter) record(outcome string) {
	if s.metrics != nil {
		s.metrics.RecordUtterance(context.Background(), outcome)
	}
}
