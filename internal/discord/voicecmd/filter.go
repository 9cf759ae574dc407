// Package voicecmd implements spoken shortcuts for the guild admin. A
// transcript that matches one of the patterns is executed as a command
// instead of being sent to the language model.
//
// Only transcripts from the guild admin are checked; the caller decides who
// that is.
package voicecmd

import (
	"context"
	"fmt"
	"log/slog"
	"regexp"
	"strings"
)

// Controls is what the shortcuts act on.
type Controls interface {
	SetMuted(ctx context.Context, guildID string, muted bool) error
	Leave(guildID string) error
}

// Pattern pairs a compiled regex with the action to execute when it matches.
type Pattern struct {
	// Regex is matched against the normalised transcript.
	Regex *regexp.Regexp

	// Name is a human-readable label for logging.
	Name string

	// Action executes the shortcut and returns the confirmation to post.
	Action func(ctx context.Context, ctl Controls, guildID string) (string, error)
}

// Filter checks admin transcripts against a set of patterns.
//
// Filter is stateless and safe for concurrent use.
type Filter struct {
	patterns []Pattern
}

// New creates a Filter with the built-in shortcuts.
func New() *Filter {
	return &Filter{patterns: defaultPatterns()}
}

// Check tests whether text matches a shortcut. On a match the action runs
// on ctl and Check returns (true, confirmation, err). Without a match it
// returns (false, "", nil).
func (f *Filter) Check(ctx context.Context, guildID, text string, ctl Controls) (bool, string, error) {
	normalized := normalize(text)
	if normalized == "" {
		return false, "", nil
	}

	for _, p := range f.patterns {
		if !p.Regex.MatchString(normalized) {
			continue
		}

		reply, err := p.Action(ctx, ctl, guildID)
		if err != nil {
			slog.Warn("voicecmd: command failed",
				"pattern", p.Name,
				"guild_id", guildID,
				"error", err,
			)
			return true, "", fmt.Errorf("voicecmd: %s: %w", p.Name, err)
		}

		slog.Info("voicecmd: command executed",
			"pattern", p.Name,
			"guild_id", guildID,
		)
		return true, reply, nil
	}

	return false, "", nil
}

// normalize lower-cases text and strips the punctuation STT adds around
// short phrases.
func normalize(text string) string {
	text = strings.ToLower(strings.TrimSpace(text))
	return strings.Trim(text, " .,!?;:\"'")
}

// defaultPatterns returns the built-in shortcuts.
func defaultPatterns() []Pattern {
	return []Pattern{
		{
			Name:  "unmute",
			Regex: regexp.MustCompile(`^(unmute|start listening)( yourself)?$`),
			Action: func(ctx context.Context, ctl Controls, guildID string) (string, error) {
				if err := ctl.SetMuted(ctx, guildID, false); err != nil {
					return "", err
				}
				return "Bot has been unmuted.", nil
			},
		},
		{
			Name:  "mute",
			Regex: regexp.MustCompile(`^(stop listening|mute|mute yourself|be quiet)$`),
			Action: func(ctx context.Context, ctl Controls, guildID string) (string, error) {
				if err := ctl.SetMuted(ctx, guildID, true); err != nil {
					return "", err
				}
				return "Bot has been muted.", nil
			},
		},
		{
			Name:  "leave",
			Regex: regexp.MustCompile(`^(leave|leave the channel|disconnect|goodbye)$`),
			Action: func(_ context.Context, ctl Controls, guildID string) (string, error) {
				if err := ctl.Leave(guildID); err != nil {
					return "", err
				}
				return "Left the voice channel!", nil
			},
		},
	}
}
