// Package transcribe turns finished utterances into text.
//
// The [Gateway] wraps an utterance's PCM in a WAV container on disk, hands
// the file to an [stt.Provider] and removes it again. Anything that does not
// yield usable text is reported as a [*Failure] carrying a [Reason], so
// callers can tell a quiet speaker from a broken backend. There is no
// fallback between STT providers.
package transcribe

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	"github.com/MrWong99/voxbridge/internal/observe"
	"github.com/MrWong99/voxbridge/internal/voice"
	"github.com/MrWong99/voxbridge/pkg/audio"
	"github.com/MrWong99/voxbridge/pkg/provider/stt"
)

// Defaults for the quality gates.
const (
	DefaultMinDuration = 100 * time.Millisecond
	DefaultQuietRMS    = 100.0
)

// Reason classifies why no transcript was produced.
type Reason int

const (
	ReasonTranscriptionFailed Reason = iota
	ReasonAudioTooShort
	ReasonAudioTooQuiet
	ReasonUnintelligible
)

// String returns the reason code, e.g. "AUDIO_TOO_QUIET".
func (r Reason) String() string {
	switch r {
	case ReasonTranscriptionFailed:
		return "TRANSCRIPTION_FAILED"
	case ReasonAudioTooShort:
		return "AUDIO_TOO_SHORT"
	case ReasonAudioTooQuiet:
		return "AUDIO_TOO_QUIET"
	case ReasonUnintelligible:
		return "UNINTELLIGIBLE"
	default:
		return "UNKNOWN"
	}
}

// Failure is returned whenever Transcribe produces no text.
type Failure struct {
	Reason Reason

	// Err is the underlying provider or I/O error, if any.
	Err error
}

func (f *Failure) Error() string {
	if f.Err != nil {
		return fmt.Sprintf("transcribe: %s: %v", f.Reason, f.Err)
	}
	return "transcribe: " + f.Reason.String()
}

func (f *Failure) Unwrap() error { return f.Err }

// ReasonOf extracts the failure reason from err.
func ReasonOf(err error) (Reason, bool) {
	var f *Failure
	if errors.As(err, &f) {
		return f.Reason, true
	}
	return 0, false
}

// Option configures a [Gateway].
type Option func(*Gateway)

// WithScratchDir sets where temporary WAV files are written. Defaults to
// os.TempDir()/voxbridge.
func WithScratchDir(dir string) Option {
	return func(g *Gateway) { g.scratchDir = dir }
}

// WithMinDuration sets the shortest utterance worth sending.
func WithMinDuration(d time.Duration) Option {
	return func(g *Gateway) { g.minDuration = d }
}

// WithQuietRMS sets the RMS level below which audio counts as silence.
// Zero disables the check.
func WithQuietRMS(level float64) Option {
	return func(g *Gateway) { g.quietRMS = level }
}

// WithMetrics records STT latency and failures.
func WithMetrics(m *observe.Metrics) Option {
	return func(g *Gateway) { g.metrics = m }
}

// WithProviderName sets the provider label used in metrics. Defaults to
// "stt".
func WithProviderName(name string) Option {
	return func(g *Gateway) { g.providerName = name }
}

// Gateway transcribes utterances through one STT provider. Safe for
// concurrent use.
type Gateway struct {
	provider     stt.Provider
	providerName string
	scratchDir   string
	minDuration  time.Duration
	quietRMS     float64
	metrics      *observe.Metrics
}

// New creates a Gateway.
func New(p stt.Provider, opts ...Option) (*Gateway, error) {
	if p == nil {
		return nil, errors.New("transcribe: provider must not be nil")
	}
	g := &Gateway{
		provider:     p,
		providerName: "stt",
		scratchDir:   filepath.Join(os.TempDir(), "voxbridge"),
		minDuration:  DefaultMinDuration,
		quietRMS:     DefaultQuietRMS,
	}
	for _, o := range opts {
		o(g)
	}
	return g, nil
}

// Transcribe returns the trimmed text spoken in u. It never returns empty
// text with a nil error.
func (g *Gateway) Transcribe(ctx context.Context, u voice.Utterance) (text string, err error) {
	ctx, span := observe.StartSpan(ctx, "stt.transcribe")
	defer func() { observe.EndSpan(span, err) }()
	span.SetAttributes(
		attribute.String("guild.id", u.GuildID),
		attribute.Int("audio.bytes", len(u.PCM)),
	)

	log := observe.GuildLogger(ctx, u.GuildID).With("user_id", u.UserID)
	defer func() {
		if reason, ok := ReasonOf(err); ok {
			log.Info("transcription produced no text", "reason", reason.String(), "err", err)
			if g.metrics != nil {
				g.metrics.RecordTranscriptionFailure(ctx, reason.String())
			}
		}
	}()

	if u.SampleRate <= 0 || u.Channels <= 0 {
		return "", &Failure{Reason: ReasonTranscriptionFailed, Err: fmt.Errorf("invalid format %d Hz %d ch", u.SampleRate, u.Channels)}
	}
	if d := u.Duration(); d < g.minDuration {
		return "", &Failure{Reason: ReasonAudioTooShort, Err: fmt.Errorf("%v of audio, need %v", d, g.minDuration)}
	}
	if g.quietRMS > 0 {
		if level := audio.RMS(u.PCM); level < g.quietRMS {
			return "", &Failure{Reason: ReasonAudioTooQuiet, Err: fmt.Errorf("rms %.1f below %.1f", level, g.quietRMS)}
		}
	}

	path, err := g.writeWAV(u)
	if err != nil {
		return "", &Failure{Reason: ReasonTranscriptionFailed, Err: err}
	}
	defer func() {
		if rmErr := os.Remove(path); rmErr != nil && !errors.Is(rmErr, os.ErrNotExist) {
			slog.Warn("transcribe: remove temp file", "path", path, "err", rmErr)
		}
	}()

	start := time.Now()
	raw, err := g.provider.Transcribe(ctx, stt.Request{Path: path, Language: u.Language})
	g.record(ctx, time.Since(start), err)
	if err != nil {
		return "", &Failure{Reason: ReasonTranscriptionFailed, Err: err}
	}

	text = strings.TrimSpace(raw)
	if text == "" {
		return "", &Failure{Reason: ReasonUnintelligible}
	}
	log.Debug("transcribed utterance", "chars", len(text), "duration", u.Duration())
	return text, nil
}

// writeWAV stores u as a WAV file in the scratch directory.
func (g *Gateway) writeWAV(u voice.Utterance) (string, error) {
	if err := os.MkdirAll(g.scratchDir, 0o755); err != nil {
		return "", fmt.Errorf("create scratch dir: %w", err)
	}
	f, err := os.CreateTemp(g.scratchDir, "utterance-*.wav")
	if err != nil {
		return "", fmt.Errorf("create temp file: %w", err)
	}
	path := f.Name()
	if err := audio.WriteWAV(f, u.PCM, u.SampleRate, u.Channels); err != nil {
		_ = f.Close()
		_ = os.Remove(path)
		return "", fmt.Errorf("write wav: %w", err)
	}
	if err := f.Close(); err != nil {
		_ = os.Remove(path)
		return "", fmt.Errorf("close wav: %w", err)
	}
	return path, nil
}

func (g *Gateway) record(ctx context.Context, d time.Duration, err error) {
	if g.metrics == nil {
		return
	}
	status := "ok"
	if err != nil {
		status = "error"
		g.metrics.RecordProviderError(ctx, g.providerName, "stt")
	}
	g.metrics.RecordProviderRequest(ctx, g.providerName, "stt", status)
	g.metrics.STTDuration.Record(ctx, d.Seconds(), metric.WithAttributes(attribute.String("provider", g.providerName)))
}
