package audio

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"
)

// WAVHeaderSize is the size of the canonical PCM RIFF/WAVE header.
const WAVHeaderSize = 44

const bitsPerSample = 16

// ErrInvalidWAV is returned by [ParseWAV] for payloads that are not a
// 16-bit PCM RIFF/WAVE container.
var ErrInvalidWAV = errors.New("audio: invalid WAV container")

// WAVHeader returns the canonical 44-byte header for dataLen bytes of 16-bit
// PCM at the given sample rate and channel count:
//
//	0  "RIFF"   4  36+dataLen   8  "WAVE"
//	12 "fmt "   16 16           20 1 (PCM)   22 channels
//	24 rate     28 byte rate    32 block align   34 16
//	36 "data"   40 dataLen
func WAVHeader(dataLen, sampleRate, channels int) []byte {
	blockAlign := channels * bitsPerSample / 8
	byteRate := sampleRate * blockAlign

	buf := make([]byte, WAVHeaderSize)

	copy(buf[0:4], "RIFF")
	binary.LittleEndian.PutUint32(buf[4:8], uint32(36+dataLen)) // file size − 8
	copy(buf[8:12], "WAVE")

	copy(buf[12:16], "fmt ")
	binary.LittleEndian.PutUint32(buf[16:20], 16)                 // sub-chunk size (PCM)
	binary.LittleEndian.PutUint16(buf[20:22], 1)                  // audio format: PCM
	binary.LittleEndian.PutUint16(buf[22:24], uint16(channels))   // num channels
	binary.LittleEndian.PutUint32(buf[24:28], uint32(sampleRate)) // sample rate
	binary.LittleEndian.PutUint32(buf[28:32], uint32(byteRate))   // byte rate
	binary.LittleEndian.PutUint16(buf[32:34], uint16(blockAlign)) // block align
	binary.LittleEndian.PutUint16(buf[34:36], bitsPerSample)      // bits per sample

	copy(buf[36:40], "data")
	binary.LittleEndian.PutUint32(buf[40:44], uint32(dataLen))

	return buf
}

// EncodeWAV wraps pcm in a canonical WAV container.
func EncodeWAV(pcm []byte, sampleRate, channels int) []byte {
	out := make([]byte, 0, WAVHeaderSize+len(pcm))
	out = append(out, WAVHeader(len(pcm), sampleRate, channels)...)
	return append(out, pcm...)
}

// WriteWAV writes pcm as a WAV container to w.
func WriteWAV(w io.Writer, pcm []byte, sampleRate, channels int) error {
	if _, err := w.Write(WAVHeader(len(pcm), sampleRate, channels)); err != nil {
		return fmt.Errorf("audio: write WAV header: %w", err)
	}
	if _, err := w.Write(pcm); err != nil {
		return fmt.Errorf("audio: write WAV data: %w", err)
	}
	return nil
}

// WAVInfo is the decoded content of a WAV container.
type WAVInfo struct {
	SampleRate    int
	Channels      int
	BitsPerSample int

	// PCM is the payload of the data chunk. It aliases the parsed buffer.
	PCM []byte
}

// ParseWAV walks the RIFF chunks of wav and returns the format and PCM payload.
// The fmt chunk size may vary, so chunks are walked rather than assuming the
// 44-byte layout. Only 16-bit PCM is accepted.
//
// Servers that stream WAV often write 0 or 0xFFFFFFFF as the data size; the
// payload then extends to the end of the buffer.
func ParseWAV(wav []byte) (WAVInfo, error) {
	if len(wav) < 12 {
		return WAVInfo{}, fmt.Errorf("%w: %d bytes is too short", ErrInvalidWAV, len(wav))
	}
	if string(wav[0:4]) != "RIFF" || string(wav[8:12]) != "WAVE" {
		return WAVInfo{}, fmt.Errorf("%w: missing RIFF/WAVE identifiers", ErrInvalidWAV)
	}

	var info WAVInfo
	foundFmt := false

	offset := 12
	for offset+8 <= len(wav) {
		chunkID := string(wav[offset : offset+4])
		chunkSize := int(binary.LittleEndian.Uint32(wav[offset+4 : offset+8]))

		switch chunkID {
		case "fmt ":
			if chunkSize < 16 || offset+8+16 > len(wav) {
				return WAVInfo{}, fmt.Errorf("%w: truncated fmt chunk", ErrInvalidWAV)
			}
			f := wav[offset+8:]
			if format := binary.LittleEndian.Uint16(f[0:2]); format != 1 {
				return WAVInfo{}, fmt.Errorf("%w: unsupported audio format %d", ErrInvalidWAV, format)
			}
			info.Channels = int(binary.LittleEndian.Uint16(f[2:4]))
			info.SampleRate = int(binary.LittleEndian.Uint32(f[4:8]))
			info.BitsPerSample = int(binary.LittleEndian.Uint16(f[14:16]))
			foundFmt = true
		case "data":
			if !foundFmt {
				return WAVInfo{}, fmt.Errorf("%w: data chunk before fmt chunk", ErrInvalidWAV)
			}
			if info.BitsPerSample != bitsPerSample {
				return WAVInfo{}, fmt.Errorf("%w: %d bits per sample", ErrInvalidWAV, info.BitsPerSample)
			}
			start := offset + 8
			end := start + chunkSize
			if chunkSize <= 0 || end > len(wav) || end < start {
				end = len(wav)
			}
			info.PCM = wav[start:end]
			return info, nil
		}

		// Chunks are word-aligned: pad by one if the size is odd.
		offset += 8 + chunkSize
		if chunkSize%2 != 0 {
			offset++
		}
	}
	return WAVInfo{}, fmt.Errorf("%w: missing data chunk", ErrInvalidWAV)
}
