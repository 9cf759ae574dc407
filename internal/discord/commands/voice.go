package commands

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/bwmarrin/discordgo"

	"github.com/MrWong99/voxbridge/internal/discord"
	"github.com/MrWong99/voxbridge/internal/settings"
	"github.com/MrWong99/voxbridge/internal/voice"
)

// joinTimeout bounds connecting to a voice channel.
const joinTimeout = 30 * time.Second

// Voice messages.
const (
	MsgJoinNotInVoice = "You need to be in a voice channel first!"
	MsgJoinFailed     = "Failed to join the voice channel."
	MsgLeft           = "Left the voice channel!"
)

// VoiceControl joins and leaves voice channels on behalf of the commands.
type VoiceControl interface {
	// Join connects to voiceChannelID, mirrors text to textChannelID and
	// listens to userID.
	Join(ctx context.Context, guildID, voiceChannelID, textChannelID, userID string) error
	Leave(guildID string) error
	ChannelID(guildID string) (string, bool)
}

// Locator answers questions about the gateway state.
type Locator interface {
	UserVoiceChannel(guildID, userID string) (string, bool)
	ChannelName(channelID string) string
}

// VoiceCommands holds the dependencies for /join and /leave.
type VoiceCommands struct {
	voice    VoiceControl
	locator  Locator
	settings *settings.Service
	prefs    *PreferenceCommands
}

// NewVoiceCommands creates VoiceCommands. prefs renders the caller's
// settings in the join confirmation.
func NewVoiceCommands(voice VoiceControl, locator Locator, svc *settings.Service, prefs *PreferenceCommands) *VoiceCommands {
	return &VoiceCommands{voice: voice, locator: locator, settings: svc, prefs: prefs}
}

// Register registers /join and /leave with the router.
func (vc *VoiceCommands) Register(router *discord.CommandRouter) {
	defs := vc.Definitions()
	router.RegisterCommand("join", defs[0], vc.handleJoin)
	router.RegisterCommand("leave", defs[1], vc.handleLeave)
}

// Definitions returns the /join and /leave definitions.
func (vc *VoiceCommands) Definitions() []*discordgo.ApplicationCommand {
	return []*discordgo.ApplicationCommand{
		{Name: "join", Description: "Join your voice channel and start listening to you"},
		{Name: "leave", Description: "Leave the voice channel"},
	}
}

// handleJoin connects to the caller's voice channel. The caller becomes
// admin when the guild has none. While an admin is set, only the admin can
// move a bot that is already connected.
func (vc *VoiceCommands) handleJoin(s discord.Session, i *discordgo.InteractionCreate) {
	userID := discord.UserID(i)
	channelID, ok := vc.locator.UserVoiceChannel(i.GuildID, userID)
	if !ok {
		discord.RespondEphemeral(s, i, MsgJoinNotInVoice)
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), joinTimeout)
	defer cancel()

	ss, err := vc.settings.Server(ctx, i.GuildID)
	if err != nil {
		discord.RespondError(s, i, err)
		return
	}
	if _, connected := vc.voice.ChannelID(i.GuildID); connected && ss.AdminID != "" && !ss.IsAdmin(userID) {
		discord.RespondEphemeral(s, i, discord.MsgNotAdmin)
		return
	}

	// Connecting takes longer than the interaction deadline.
	discord.DeferReply(s, i)

	if err := vc.voice.Join(ctx, i.GuildID, channelID, i.ChannelID, userID); err != nil {
		slog.Warn("discord: join voice channel", "guild_id", i.GuildID, "channel_id", channelID, "err", err)
		discord.FollowUp(s, i, MsgJoinFailed)
		return
	}

	if _, err := vc.settings.UpdateServer(ctx, i.GuildID, func(ss *settings.ServerSettings) error {
		ss.ChannelID = channelID
		if ss.AdminID == "" {
			ss.AdminID = userID
		}
		return nil
	}); err != nil {
		slog.Warn("discord: record joined channel", "guild_id", i.GuildID, "err", err)
	}

	summary, err := vc.prefs.Describe(ctx, userID)
	if err != nil {
		slog.Warn("discord: load preferences for join summary", "user_id", userID, "err", err)
		discord.FollowUp(s, i, fmt.Sprintf("Joined %s!", vc.locator.ChannelName(channelID)))
		return
	}
	discord.FollowUp(s, i, fmt.Sprintf("Joined %s!\n\n%s", vc.locator.ChannelName(channelID), summary))
}

// handleLeave disconnects. It is open to everyone while the guild has no
// admin.
func (vc *VoiceCommands) handleLeave(s discord.Session, i *discordgo.InteractionCreate) {
	ctx, cancel := context.WithTimeout(context.Background(), commandTimeout)
	defer cancel()

	ss, err := vc.settings.Server(ctx, i.GuildID)
	if err != nil {
		discord.RespondError(s, i, err)
		return
	}
	if ss.AdminID != "" && !ss.IsAdmin(discord.UserID(i)) {
		discord.RespondEphemeral(s, i, discord.MsgNotAdmin)
		return
	}

	err = vc.voice.Leave(i.GuildID)
	switch {
	case errors.Is(err, voice.ErrNotConnected):
		discord.RespondEphemeral(s, i, discord.MsgNotInVoice)
	case err != nil:
		// The session is gone even when the disconnect failed.
		slog.Warn("discord: leave voice channel", "guild_id", i.GuildID, "err", err)
		discord.Respond(s, i, MsgLeft)
	default:
		discord.Respond(s, i, MsgLeft)
	}
}
