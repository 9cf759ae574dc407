package whisper

import (
	"encoding/binary"
	"fmt"
	"os"

	"github.com/MrWong99/voxbridge/pkg/audio"
)

// whisperSampleRate is the only input rate whisper.cpp accepts.
const whisperSampleRate = 16000

// pcmToFloat32 converts 16-bit signed little-endian PCM audio to float32
// samples normalised to the range [-1.0, 1.0]. Any trailing odd byte is
// ignored.
func pcmToFloat32(pcm []byte) []float32 {
	n := len(pcm) / 2
	samples := make([]float32, n)
	for i := range n {
		sample := int16(binary.LittleEndian.Uint16(pcm[i*2 : i*2+2]))
		samples[i] = float32(sample) / 32768.0
	}
	return samples
}

// loadSamples reads a 16-bit PCM WAV file and returns 16 kHz mono float32
// samples ready for inference.
func loadSamples(path string) ([]float32, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("whisper: read audio: %w", err)
	}
	info, err := audio.ParseWAV(data)
	if err != nil {
		return nil, fmt.Errorf("whisper: %w", err)
	}
	conv := audio.FormatConverter{Target: audio.Format{SampleRate: whisperSampleRate, Channels: 1}}
	pcm := conv.Convert(info.PCM, audio.Format{SampleRate: info.SampleRate, Channels: info.Channels})
	return pcmToFloat32(pcm), nil
}
