package discord

import (
	"fmt"

	"layeh.com/gopus"

	"github.com/MrWong99/voxbridge/pkg/audio"
)

// Discord voice uses 48 kHz Opus at 20 ms frame size. Capture is decoded to
// mono (what the transcription path wants); playback is encoded as stereo.
const (
	opusSampleRate      = audio.DiscordSampleRate
	opusFrameSize       = audio.FrameSamples
	captureChannels     = 1
	playbackChannels    = audio.DiscordChannels
	playbackFrameBytes  = opusFrameSize * playbackChannels * 2 // 3840
	maxOpusPacketLength = 4000
)

// frameDecoder turns one Opus packet into little-endian PCM.
type frameDecoder interface {
	decode(opus []byte) ([]byte, error)
}

// opusDecoder wraps a gopus decoder for a single subscription. Each
// subscription gets its own decoder so decoder state follows one speaker.
type opusDecoder struct {
	dec *gopus.Decoder
}

func newOpusDecoder() (frameDecoder, error) {
	dec, err := gopus.NewDecoder(opusSampleRate, captureChannels)
	if err != nil {
		return nil, fmt.Errorf("discord: create opus decoder: %w", err)
	}
	return &opusDecoder{dec: dec}, nil
}

func (d *opusDecoder) decode(opus []byte) ([]byte, error) {
	pcm, err := d.dec.Decode(opus, opusFrameSize, false)
	if err != nil {
		return nil, fmt.Errorf("discord: opus decode: %w", err)
	}
	return int16sToBytes(pcm), nil
}

// opusEncoder wraps a gopus encoder for the playback stream.
type opusEncoder struct {
	enc *gopus.Encoder
}

func newOpusEncoder() (*opusEncoder, error) {
	enc, err := gopus.NewEncoder(opusSampleRate, playbackChannels, gopus.Audio)
	if err != nil {
		return nil, fmt.Errorf("discord: create opus encoder: %w", err)
	}
	return &opusEncoder{enc: enc}, nil
}

// encode encodes exactly one 20 ms frame of interleaved stereo PCM.
func (e *opusEncoder) encode(pcm []byte) ([]byte, error) {
	opus, err := e.enc.Encode(bytesToInt16s(pcm), opusFrameSize, maxOpusPacketLength)
	if err != nil {
		return nil, fmt.Errorf("discord: opus encode: %w", err)
	}
	return opus, nil
}

func int16sToBytes(pcm []int16) []byte {
	b := make([]byte, len(pcm)*2)
	for i, s := range pcm {
		b[i*2] = byte(s)
		b[i*2+1] = byte(s >> 8)
	}
	return b
}

func bytesToInt16s(b []byte) []int16 {
	pcm := make([]int16, len(b)/2)
	for i := range pcm {
		pcm[i] = int16(b[i*2]) | int16(b[i*2+1])<<8
	}
	return pcm
}
