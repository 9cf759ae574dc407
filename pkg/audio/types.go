package audio

import "time"

// Discord voice runs at 48 kHz with 20 ms Opus frames.
const (
	DiscordSampleRate = 48000
	DiscordChannels   = 2

	// FrameDuration is the length of one Opus frame.
	FrameDuration = 20 * time.Millisecond

	// FrameSamples is the number of samples per channel in one 20 ms frame
	// at [DiscordSampleRate].
	FrameSamples = 960
)

// AudioFrame represents a single frame of audio data flowing through the pipeline.
// Frames are the atomic unit of audio transport: decoded from a user's
// subscription, buffered by the segmenter, and written to a sink for playback.
type AudioFrame struct {
	// PCM audio data, 16-bit little-endian.
	Data []byte

	// SampleRate in Hz (48000 for Discord Opus).
	SampleRate int

	// Channels: 1 for mono (capture), 2 for stereo (Discord output).
	Channels int

	// Timestamp marks when this frame was captured, relative to stream start.
	Timestamp time.Duration
}

// BytesPerSecond returns the PCM byte rate for 16-bit audio at the given
// format.
func BytesPerSecond(sampleRate, channels int) int {
	return sampleRate * channels * 2
}

// PCMDuration returns the playback length of n bytes of 16-bit PCM.
func PCMDuration(n, sampleRate, channels int) time.Duration {
	bps := BytesPerSecond(sampleRate, channels)
	if bps <= 0 {
		return 0
	}
	return time.Duration(int64(n) * int64(time.Second) / int64(bps))
}
