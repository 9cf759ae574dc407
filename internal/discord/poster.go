package discord

import (
	"context"
	"fmt"
	"strings"

	"github.com/bwmarrin/discordgo"

	"github.com/MrWong99/voxbridge/internal/assistant"
)

// MaxMessageLength is Discord's limit for message content, in characters.
const MaxMessageLength = 2000

// Poster sends text to channels, splitting anything over
// [MaxMessageLength] into several messages.
type Poster struct {
	s Session
}

var _ assistant.Poster = (*Poster)(nil)

// NewPoster creates a Poster that sends through s.
func NewPoster(s Session) *Poster {
	return &Poster{s: s}
}

// Post implements [assistant.Poster].
func (p *Poster) Post(ctx context.Context, channelID, content string) error {
	for _, part := range SplitMessage(content, MaxMessageLength) {
		if err := ctx.Err(); err != nil {
			return err
		}
		if _, err := p.s.ChannelMessageSend(channelID, part, discordgo.WithContext(ctx)); err != nil {
			return fmt.Errorf("discord: send message to %s: %w", channelID, err)
		}
	}
	return nil
}

// Reply answers msg. Only the first part of a split reply references msg.
func (p *Poster) Reply(ctx context.Context, msg *discordgo.Message, content string) error {
	for n, part := range SplitMessage(content, MaxMessageLength) {
		var err error
		if n == 0 {
			_, err = p.s.ChannelMessageSendReply(msg.ChannelID, part, msg.Reference(), discordgo.WithContext(ctx))
		} else {
			_, err = p.s.ChannelMessageSend(msg.ChannelID, part, discordgo.WithContext(ctx))
		}
		if err != nil {
			return fmt.Errorf("discord: reply in %s: %w", msg.ChannelID, err)
		}
	}
	return nil
}

// PostEmbed sends a single embed.
func (p *Poster) PostEmbed(ctx context.Context, channelID string, embed *discordgo.MessageEmbed) error {
	if _, err := p.s.ChannelMessageSendEmbed(channelID, embed, discordgo.WithContext(ctx)); err != nil {
		return fmt.Errorf("discord: send embed to %s: %w", channelID, err)
	}
	return nil
}

// SplitMessage cuts content into parts of at most limit characters,
// preferring to break after a newline, then after a space. Empty content
// yields no parts.
func SplitMessage(content string, limit int) []string {
	if limit < 1 {
		limit = MaxMessageLength
	}
	content = strings.TrimSpace(content)
	var parts []string
	for content != "" {
		cut := runeOffset(content, limit)
		if cut == len(content) {
			parts = append(parts, content)
			break
		}
		head := content[:cut]
		if i := strings.LastIndexByte(head, '\n'); i > 0 {
			head = head[:i+1]
		} else if i := strings.LastIndexByte(head, ' '); i > 0 {
			head = head[:i+1]
		}
		parts = append(parts, strings.TrimSpace(head))
		content = strings.TrimSpace(content[len(head):])
	}
	return parts
}

// runeOffset returns the byte offset just past the first n runes of s.
func runeOffset(s string, n int) int {
	for i := range s {
		if n == 0 {
			return i
		}
		n--
	}
	return len(s)
}
