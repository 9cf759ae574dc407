// Package playback plays finished reply audio into a voice connection.
//
// A [Controller] is stateless: every [Controller.Play] call loads one WAV
// file, creates one [Player] for it, attaches that player to the sink and
// returns once the player is idle. Serialising calls per connection is the
// caller's job; the sink rejects a second concurrent player with
// [audio.ErrSinkBusy].
package playback

import (
	"context"
	"sync"
	"time"

	"github.com/MrWong99/voxbridge/pkg/audio"
)

// PlayerState is the lifecycle of a [Player].
type PlayerState int

const (
	PlayerBuffering PlayerState = iota
	PlayerPlaying
	PlayerIdle
)

// String returns the lower-case state name.
func (s PlayerState) String() string {
	switch s {
	case PlayerBuffering:
		return "buffering"
	case PlayerPlaying:
		return "playing"
	case PlayerIdle:
		return "idle"
	default:
		return "unknown"
	}
}

// outputFormat is what the voice transport expects.
var outputFormat = audio.Format{SampleRate: audio.DiscordSampleRate, Channels: audio.DiscordChannels}

// frameBytes is one 20ms frame of 48kHz stereo 16-bit PCM.
const frameBytes = audio.FrameSamples * audio.DiscordChannels * 2

// Player streams one PCM resource to an attached sink in 20ms frames.
type Player struct {
	pcm    []byte
	frames chan<- audio.AudioFrame

	mu    sync.Mutex
	state PlayerState
	err   error
	idle  chan struct{}
}

// NewPlayer converts pcm from src to the transport format and prepares it
// for playback on frames.
func NewPlayer(pcm []byte, src audio.Format, frames chan<- audio.AudioFrame) *Player {
	conv := audio.FormatConverter{Target: outputFormat}
	return &Player{
		pcm:    conv.Convert(pcm, src),
		frames: frames,
		idle:   make(chan struct{}),
	}
}

// Duration returns the playback length.
func (p *Player) Duration() time.Duration {
	return audio.PCMDuration(len(p.pcm), outputFormat.SampleRate, outputFormat.Channels)
}

// State returns the current state.
func (p *Player) State() PlayerState {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.state
}

// Idle is closed when the player stops, whether it finished or failed.
func (p *Player) Idle() <-chan struct{} { return p.idle }

// Err returns why the player stopped early, or nil. Valid after Idle.
func (p *Player) Err() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.err
}

// Start begins playback in its own goroutine. It must be called once.
func (p *Player) Start(ctx context.Context) {
	p.setState(PlayerPlaying)
	go p.run(ctx)
}

func (p *Player) run(ctx context.Context) {
	var err error
	defer func() {
		p.mu.Lock()
		p.err = err
		p.state = PlayerIdle
		p.mu.Unlock()
		close(p.idle)
	}()

	var ts time.Duration
	for off := 0; off < len(p.pcm); off += frameBytes {
		end := min(off+frameBytes, len(p.pcm))
		frame := audio.AudioFrame{
			Data:       p.pcm[off:end],
			SampleRate: outputFormat.SampleRate,
			Channels:   outputFormat.Channels,
			Timestamp:  ts,
		}
		select {
		case <-ctx.Done():
			err = ctx.Err()
			return
		case p.frames <- frame:
		}
		ts += audio.FrameDuration
	}
}

func (p *Player) setState(s PlayerState) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.state = s
}
