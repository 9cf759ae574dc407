package playback

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"time"

	"go.opentelemetry.io/otel/attribute"

	"github.com/MrWong99/voxbridge/internal/observe"
	"github.com/MrWong99/voxbridge/pkg/audio"
)

var (
	// ErrMissingAudio is returned when the job's file does not exist.
	ErrMissingAudio = errors.New("playback: audio file does not exist")

	// ErrEmptyAudio is returned when the job's file is empty.
	ErrEmptyAudio = errors.New("playback: audio file is empty")
)

// Job is one finished audio file to be played. The controller owns Path
// from the moment Play is called.
type Job struct {
	Path string
	Sink audio.Sink
}

// Controller plays jobs. It holds no per-call state and is safe for
// concurrent use, though one sink accepts only one player at a time.
type Controller struct {
	metrics *observe.Metrics
}

// NewController creates a Controller. m may be nil.
func NewController(m *observe.Metrics) *Controller {
	return &Controller{metrics: m}
}

// Play loads job.Path, plays it to completion on job.Sink and removes the
// file. The file is removed on every return path. Play returns after the
// sink has sent the last frame, and an attached sink is always released.
func (c *Controller) Play(ctx context.Context, job Job) (err error) {
	ctx, span := observe.StartSpan(ctx, "playback.play")
	defer func() { observe.EndSpan(span, err) }()
	defer removeFile(job.Path)

	if job.Sink == nil {
		return errors.New("playback: job has no sink")
	}
	info, err := os.Stat(job.Path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return fmt.Errorf("%w: %s", ErrMissingAudio, job.Path)
		}
		return fmt.Errorf("playback: stat %s: %w", job.Path, err)
	}
	if info.Size() == 0 {
		return fmt.Errorf("%w: %s", ErrEmptyAudio, job.Path)
	}

	data, err := os.ReadFile(job.Path)
	if err != nil {
		return fmt.Errorf("playback: read %s: %w", job.Path, err)
	}
	wav, err := audio.ParseWAV(data)
	if err != nil {
		return fmt.Errorf("playback: load %s: %w", job.Path, err)
	}
	if len(wav.PCM) == 0 {
		return fmt.Errorf("%w: %s has no samples", ErrEmptyAudio, job.Path)
	}

	frames, release, err := job.Sink.Attach()
	if err != nil {
		return fmt.Errorf("playback: attach player: %w", err)
	}

	player := NewPlayer(wav.PCM, audio.Format{SampleRate: wav.SampleRate, Channels: wav.Channels}, frames)
	span.SetAttributes(attribute.Float64("audio.seconds", player.Duration().Seconds()))

	start := time.Now()
	player.Start(ctx)
	<-player.Idle()
	// Idle fires once the last frame is queued; the sink may still be
	// sending its buffer.
	release()
	if c.metrics != nil {
		c.metrics.PlaybackDuration.Record(ctx, time.Since(start).Seconds())
	}

	if err := player.Err(); err != nil {
		return fmt.Errorf("playback: interrupted: %w", err)
	}
	slog.Debug("playback: finished", "path", job.Path, "audio", player.Duration())
	return nil
}

func removeFile(path string) {
	if path == "" {
		return
	}
	if err := os.Remove(path); err != nil && !errors.Is(err, os.ErrNotExist) {
		slog.Warn("playback: remove audio file", "path", path, "err", err)
	}
}
