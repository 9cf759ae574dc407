package audio_test

import (
	"encoding/binary"
	"testing"

	"github.com/MrWong99/voxbridge/pkg/audio"
)

// samplesToBytes converts a slice of int16 samples to little-endian byte representation.
func samplesToBytes(samples []int16) []byte {
	buf := make([]byte, len(samples)*2)
	for i, s := range samples {
		binary.LittleEndian.PutUint16(buf[i*2:], uint16(s))
	}
	return buf
}

// bytesToSamples converts a little-endian byte slice to int16 samples.
func bytesToSamples(b []byte) []int16 {
	samples := make([]int16, len(b)/2)
	for i := range samples {
		samples[i] = int16(binary.LittleEndian.Uint16(b[i*2:]))
	}
	return samples
}

func equalSamples(t *testing.T, got, want []int16) {
	t.Helper()
	if len(got) != len(want) {
		t.Fatalf("length mismatch: got %d, want %d", len(got), len(want))
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("sample %d: got %d, want %d", i, got[i], want[i])
		}
	}
}

func TestMonoToStereo(t *testing.T) {
	t.Parallel()
	got := bytesToSamples(audio.MonoToStereo(samplesToBytes([]int16{100, 200, 300})))
	equalSamples(t, got, []int16{100, 100, 200, 200, 300, 300})
}

func TestMonoToStereo_OddLengthInput(t *testing.T) {
	t.Parallel()
	// Two complete samples plus one trailing byte.
	pcm := []byte{0x64, 0x00, 0xC8, 0x00, 0xFF}
	stereo := audio.MonoToStereo(pcm)
	if len(stereo) != 8 {
		t.Fatalf("expected 8 bytes for 2 complete mono samples, got %d", len(stereo))
	}
	equalSamples(t, bytesToSamples(stereo), []int16{100, 100, 200, 200})
}

func TestStereoToMono(t *testing.T) {
	t.Parallel()
	got := bytesToSamples(audio.StereoToMono(samplesToBytes([]int16{100, 200, -100, -200})))
	equalSamples(t, got, []int16{150, -150})
}

func TestStereoToMono_Clamping(t *testing.T) {
	t.Parallel()
	got := bytesToSamples(audio.StereoToMono(samplesToBytes([]int16{32767, 32767})))
	equalSamples(t, got, []int16{32767})
}

func TestResample16(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name     string
		samples  []int16
		channels int
		src, dst int
		wantLen  int
	}{
		{name: "same rate", samples: []int16{100, 200, 300}, channels: 1, src: 48000, dst: 48000, wantLen: 3},
		{name: "mono upsample 3x", samples: []int16{1000, 2000}, channels: 1, src: 16000, dst: 48000, wantLen: 6},
		{name: "mono downsample 3x", samples: []int16{100, 200, 300, 400, 500, 600}, channels: 1, src: 48000, dst: 16000, wantLen: 2},
		{name: "stereo upsample 3x", samples: []int16{100, 200, 300, 400}, channels: 2, src: 16000, dst: 48000, wantLen: 12},
		{name: "zero src rate", samples: []int16{100, 200}, channels: 1, src: 0, dst: 48000, wantLen: 2},
		{name: "zero dst rate", samples: []int16{100, 200}, channels: 1, src: 48000, dst: 0, wantLen: 2},
		{name: "negative rate", samples: []int16{100, 200}, channels: 1, src: -1, dst: 48000, wantLen: 2},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			out := audio.Resample16(samplesToBytes(tt.samples), tt.channels, tt.src, tt.dst)
			if got := len(out) / 2; got != tt.wantLen {
				t.Errorf("got %d samples, want %d", got, tt.wantLen)
			}
		})
	}
}

func TestResample16_Interpolation(t *testing.T) {
	t.Parallel()
	got := bytesToSamples(audio.Resample16(samplesToBytes([]int16{1000, 2000}), 1, 16000, 48000))
	if got[0] != 1000 {
		t.Errorf("first sample: got %d, want 1000", got[0])
	}
	if last := got[len(got)-1]; last < 1800 || last > 2200 {
		t.Errorf("last sample: got %d, want close to 2000", last)
	}
}

func TestFormatConverter_NoOp(t *testing.T) {
	t.Parallel()
	conv := audio.FormatConverter{Target: audio.Format{SampleRate: 48000, Channels: 2}}
	pcm := samplesToBytes([]int16{100, 200})
	out := conv.Convert(pcm, audio.Format{SampleRate: 48000, Channels: 2})
	if &out[0] != &pcm[0] {
		t.Error("expected same slice (zero allocation) for matching format")
	}
}

func TestFormatConverter_MonoToStereo(t *testing.T) {
	t.Parallel()
	conv := audio.FormatConverter{Target: audio.Format{SampleRate: 48000, Channels: 2}}
	out := conv.Convert(samplesToBytes([]int16{100, 200, 300}), audio.Format{SampleRate: 48000, Channels: 1})
	equalSamples(t, bytesToSamples(out), []int16{100, 100, 200, 200, 300, 300})
}

func TestFormatConverter_FullConversion(t *testing.T) {
	t.Parallel()
	// 16 kHz mono → 48 kHz stereo: 2 samples become 6 frames of 2 samples.
	conv := audio.FormatConverter{Target: audio.Format{SampleRate: 48000, Channels: 2}}
	out := conv.Convert(samplesToBytes([]int16{1000, 2000}), audio.Format{SampleRate: 16000, Channels: 1})
	got := bytesToSamples(out)
	if len(got) != 12 {
		t.Fatalf("expected 12 samples, got %d", len(got))
	}
	if got[0] != got[1] {
		t.Errorf("L/R mismatch in first frame: %d vs %d", got[0], got[1])
	}
}

func TestFormatConverter_OddByteCount(t *testing.T) {
	t.Parallel()
	conv := audio.FormatConverter{Target: audio.Format{SampleRate: 48000, Channels: 1}}
	for _, src := range []audio.Format{
		{SampleRate: 22050, Channels: 1},
		{SampleRate: 48000, Channels: 1},
	} {
		if out := conv.Convert([]byte{1, 2, 3}, src); out != nil {
			t.Errorf("%s: expected nil for odd byte count, got %d bytes", src, len(out))
		}
	}
}

func TestFormat_String(t *testing.T) {
	t.Parallel()
	tests := map[audio.Format]string{
		{SampleRate: 48000, Channels: 2}: "48000Hz stereo",
		{SampleRate: 16000, Channels: 1}: "16000Hz mono",
		{SampleRate: 44100, Channels: 6}: "44100Hz 6ch",
	}
	for f, want := range tests {
		if got := f.String(); got != want {
			t.Errorf("Format%v.String() = %q, want %q", f, got, want)
		}
	}
}
