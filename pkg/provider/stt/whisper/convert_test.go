package whisper

import (
	"encoding/binary"
	"math"
	"os"
	"path/filepath"
	"testing"

	"github.com/MrWong99/voxbridge/pkg/audio"
)

func TestPcmToFloat32(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name  string
		value int16
		want  float32
	}{
		{"max positive", 32767, 32767.0 / 32768.0},
		{"max negative", -32768, -1.0},
		{"zero", 0, 0.0},
		{"mid positive", 16384, 0.5},
		{"mid negative", -16384, -0.5},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			pcm := make([]byte, 2)
			binary.LittleEndian.PutUint16(pcm, uint16(tt.value))
			out := pcmToFloat32(pcm)
			if math.Abs(float64(out[0]-tt.want)) > 1e-6 {
				t.Errorf("pcmToFloat32(%d) = %f; want %f", tt.value, out[0], tt.want)
			}
		})
	}
}

func TestPcmToFloat32_OddByteIgnored(t *testing.T) {
	t.Parallel()

	if out := pcmToFloat32([]byte{0, 0, 1}); len(out) != 1 {
		t.Fatalf("expected 1 sample, got %d", len(out))
	}
	if out := pcmToFloat32(nil); len(out) != 0 {
		t.Fatalf("expected 0 samples, got %d", len(out))
	}
}

func TestLoadSamples_ResamplesTo16kMono(t *testing.T) {
	t.Parallel()

	// 100 ms of 48 kHz stereo → 1600 samples at 16 kHz mono.
	path := filepath.Join(t.TempDir(), "in.wav")
	if err := os.WriteFile(path, audio.EncodeWAV(make([]byte, 4800*2*2), 48000, 2), 0o600); err != nil {
		t.Fatal(err)
	}
	samples, err := loadSamples(path)
	if err != nil {
		t.Fatalf("loadSamples: %v", err)
	}
	if len(samples) != 1600 {
		t.Errorf("got %d samples, want 1600", len(samples))
	}
}

func TestLoadSamples_InvalidFile(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "bad.wav")
	if err := os.WriteFile(path, []byte("not a wav"), 0o600); err != nil {
		t.Fatal(err)
	}
	if _, err := loadSamples(path); err == nil {
		t.Fatal("expected error for invalid WAV")
	}
}
