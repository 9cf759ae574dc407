package assistant

import (
	"context"
	"errors"
	"math/rand/v2"
	"net"

	"github.com/MrWong99/voxbridge/internal/transcribe"
)

// User-facing messages. Raw error text never reaches a channel.
const (
	MsgTooQuiet       = "I couldn't hear you clearly. Please try speaking a bit louder."
	MsgTooShort       = "That was too short for me to catch. Please try again."
	MsgUnintelligible = "Sorry, I couldn't make out what you said."
	MsgAudioFailed    = "Sorry, I had trouble processing that audio."
	MsgNetwork        = "I'm having trouble reaching my services right now. Please try again in a moment."
	MsgGeneric        = "Sorry, I encountered an error processing your request."
)

// UserMessage maps err to a message safe to show in Discord.
func UserMessage(err error) string {
	if reason, ok := transcribe.ReasonOf(err); ok {
		switch reason {
		case transcribe.ReasonAudioTooQuiet:
			return MsgTooQuiet
		case transcribe.ReasonAudioTooShort:
			return MsgTooShort
		case transcribe.ReasonUnintelligible:
			return MsgUnintelligible
		}
		if isNetwork(err) {
			return MsgNetwork
		}
		return MsgAudioFailed
	}
	if isNetwork(err) {
		return MsgNetwork
	}
	return MsgGeneric
}

func isNetwork(err error) bool {
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var netErr net.Error
	return errors.As(err, &netErr)
}

// ThinkingResponses are posted when a voice request starts processing.
var ThinkingResponses = []string{
	"Let me think about that for a moment...",
	"Processing your request...",
	"Analyzing your message...",
	"Working on it...",
	"Give me a second...",
}

// ThinkingResponse returns a random entry of [ThinkingResponses].
func ThinkingResponse() string {
	return ThinkingResponses[rand.IntN(len(ThinkingResponses))]
}
