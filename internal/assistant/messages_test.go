package assistant

import (
	"context"
	"errors"
	"fmt"
	"net"
	"slices"
	"testing"

	"github.com/MrWong99/voxbridge/internal/transcribe"
)

func TestUserMessage(t *testing.T) {
	t.Parallel()

	dialErr := &net.OpError{Op: "dial", Net: "tcp", Err: errors.New("connection refused")}
	tests := []struct {
		name string
		err  error
		want string
	}{
		{"too quiet", &transcribe.Failure{Reason: transcribe.ReasonAudioTooQuiet}, MsgTooQuiet},
		{"too short", &transcribe.Failure{Reason: transcribe.ReasonAudioTooShort}, MsgTooShort},
		{"unintelligible", &transcribe.Failure{Reason: transcribe.ReasonUnintelligible}, MsgUnintelligible},
		{"stt backend down", &transcribe.Failure{Reason: transcribe.ReasonTranscriptionFailed, Err: errors.New("500")}, MsgAudioFailed},
		{"stt network", &transcribe.Failure{Reason: transcribe.ReasonTranscriptionFailed, Err: dialErr}, MsgNetwork},
		{"wrapped dial error", fmt.Errorf("assistant: complete: %w", dialErr), MsgNetwork},
		{"deadline", fmt.Errorf("x: %w", context.DeadlineExceeded), MsgNetwork},
		{"anything else", errors.New("secret internal detail"), MsgGeneric},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			if got := UserMessage(tt.err); got != tt.want {
				t.Errorf("UserMessage = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestThinkingResponse(t *testing.T) {
	t.Parallel()

	for range 20 {
		if r := ThinkingResponse(); !slices.Contains(ThinkingResponses, r) {
			t.Fatalf("unexpected thinking response %q", r)
		}
	}
}

func TestSentenceSplitter(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name   string
		chunks []string
		want   []string
		rest   string
	}{
		{
			name:   "sentences across chunks",
			chunks: []string{"Hi the", "re. How are", " you? Fine"},
			want:   []string{"Hi there.", "How are you?"},
			rest:   "Fine",
		},
		{
			name:   "decimal stays whole",
			chunks: []string{"Version 3.5 is out. "},
			want:   []string{"Version 3.5 is out."},
		},
		{
			name:   "mark runs",
			chunks: []string{"Really?! Yes... ok"},
			want:   []string{"Really?!", "Yes..."},
			rest:   "ok",
		},
		{
			name:   "terminal at chunk end waits for whitespace",
			chunks: []string{"Done.", " Next"},
			want:   []string{"Done."},
			rest:   "Next",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			var s SentenceSplitter
			var got []string
			for _, c := range tt.chunks {
				got = append(got, s.Push(c)...)
			}
			if !slices.Equal(got, tt.want) {
				t.Errorf("sentences = %q, want %q", got, tt.want)
			}
			if rest := s.Flush(); rest != tt.rest {
				t.Errorf("rest = %q, want %q", rest, tt.rest)
			}
		})
	}
}
