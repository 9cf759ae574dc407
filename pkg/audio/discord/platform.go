// Package discord provides an [audio.Platform] implementation backed by
// Discord voice channels via the bwmarrin/discordgo library. It bridges
// Discord's Opus transport with voxbridge's PCM [audio.AudioFrame] pipeline.
//
// The platform borrows an active *discordgo.Session owned by the bot layer.
// Each call to [Platform.Connect] joins a voice channel and returns a
// [Connection] offering per-user subscriptions and a single-player sink.
package discord

import (
	"context"
	"fmt"

	"github.com/bwmarrin/discordgo"

	"github.com/MrWong99/voxbridge/pkg/audio"
)

// Compile-time interface assertion.
var _ audio.Platform = (*Platform)(nil)

// Platform implements [audio.Platform] using discordgo voice connections.
//
// Platform is safe for concurrent use.
type Platform struct {
	session *discordgo.Session
}

// New creates a Discord Platform for the given session.
func New(session *discordgo.Session) *Platform {
	return &Platform{session: session}
}

// Connect joins channelID in guildID and returns an active [audio.Connection].
// The ctx governs the join only; an already-cancelled ctx aborts before joining.
func (p *Platform) Connect(ctx context.Context, guildID, channelID string) (audio.Connection, error) {
	if err := ctx.Err(); err != nil {
		return nil, fmt.Errorf("discord: join voice channel %q: %w", channelID, err)
	}

	// mute=false (we send audio), deaf=false (we receive audio).
	vc, err := p.session.ChannelVoiceJoin(guildID, channelID, false, false)
	if err != nil {
		return nil, fmt.Errorf("discord: join voice channel %q: %w", channelID, err)
	}

	botUserID := ""
	if p.session.State != nil && p.session.State.User != nil {
		botUserID = p.session.State.User.ID
	}
	return newConnection(vc, p.session, guildID, botUserID), nil
}
