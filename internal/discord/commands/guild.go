// Package commands implements Discord slash command handlers for voxbridge.
package commands

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/bwmarrin/discordgo"

	"github.com/MrWong99/voxbridge/internal/discord"
	"github.com/MrWong99/voxbridge/internal/settings"
)

// Confirmation messages.
const (
	MsgAdminTransferred   = "Admin privileges transferred to"
	MsgUserAdded          = "User added to allowed list."
	MsgUserRemoved        = "User removed from allowed list."
	MsgListeningEveryone  = "Now listening to everyone in the channel."
	MsgListeningWhitelist = "Now listening only to whitelisted users."
	MsgMuted              = "Bot has been muted."
	MsgUnmuted            = "Bot has been unmuted."
	MsgVoiceUpdated       = "Voice settings updated."
	MsgListenUsage        = "Available subcommands: add @user, remove @user, everyone, whitelist"
)

// embedColor is used for configuration and status embeds.
const embedColor = 0x0099ff

// commandTimeout bounds settings reads and writes done by a handler.
const commandTimeout = 10 * time.Second

// LanguageSetter changes the transcription language of a live voice
// session. Guilds without a session are ignored.
type LanguageSetter interface {
	SetLanguage(guildID, language string)
}

// GuildCommands holds the dependencies for the guild administration
// commands: /listen, /mute, /unmute, /status, /transfer-admin and /config.
type GuildCommands struct {
	settings *settings.Service
	perms    *discord.PermissionChecker
	voice    LanguageSetter
}

// NewGuildCommands creates GuildCommands. voice may be nil.
func NewGuildCommands(svc *settings.Service, perms *discord.PermissionChecker, voice LanguageSetter) *GuildCommands {
	return &GuildCommands{settings: svc, perms: perms, voice: voice}
}

// Register registers the guild command group with the router.
func (gc *GuildCommands) Register(router *discord.CommandRouter) {
	defs := gc.Definitions()
	listen, mute, unmute, status, transfer, config := defs[0], defs[1], defs[2], defs[3], defs[4], defs[5]

	router.RegisterCommand("listen", listen, func(s discord.Session, i *discordgo.InteractionCreate) {
		discord.RespondEphemeral(s, i, MsgListenUsage)
	})
	router.RegisterHandler("listen/add", gc.handleListenAdd)
	router.RegisterHandler("listen/remove", gc.handleListenRemove)
	router.RegisterHandler("listen/everyone", gc.handleListenMode(true))
	router.RegisterHandler("listen/whitelist", gc.handleListenMode(false))

	router.RegisterCommand("mute", mute, gc.handleMute(true))
	router.RegisterCommand("unmute", unmute, gc.handleMute(false))
	router.RegisterCommand("status", status, gc.handleStatus)
	router.RegisterCommand("transfer-admin", transfer, gc.handleTransferAdmin)

	router.RegisterCommand("config", config, gc.handleConfigShow)
	router.RegisterHandler("config/language", gc.handleConfigLanguage)
	router.RegisterHandler("config/voice", gc.handleConfigVoice)
}

// Definitions returns the ApplicationCommand definitions for Discord in
// the order listen, mute, unmute, status, transfer-admin, config.
func (gc *GuildCommands) Definitions() []*discordgo.ApplicationCommand {
	userOpt := func(desc string) []*discordgo.ApplicationCommandOption {
		return []*discordgo.ApplicationCommandOption{{
			Type:        discordgo.ApplicationCommandOptionUser,
			Name:        "user",
			Description: desc,
			Required:    true,
		}}
	}
	return []*discordgo.ApplicationCommand{
		{
			Name:        "listen",
			Description: "Choose who the bot listens to",
			Options: []*discordgo.ApplicationCommandOption{
				{Type: discordgo.ApplicationCommandOptionSubCommand, Name: "add", Description: "Allow a user", Options: userOpt("User to allow")},
				{Type: discordgo.ApplicationCommandOptionSubCommand, Name: "remove", Description: "Disallow a user", Options: userOpt("User to remove")},
				{Type: discordgo.ApplicationCommandOptionSubCommand, Name: "everyone", Description: "Listen to everyone in the channel"},
				{Type: discordgo.ApplicationCommandOptionSubCommand, Name: "whitelist", Description: "Listen only to allowed users"},
			},
		},
		{Name: "mute", Description: "Stop the bot from listening and speaking"},
		{Name: "unmute", Description: "Let the bot listen and speak again"},
		{Name: "status", Description: "Show your permission status"},
		{Name: "transfer-admin", Description: "Hand admin privileges to another user", Options: userOpt("New admin")},
		{
			Name:        "config",
			Description: "Show or change the bot configuration",
			Options: []*discordgo.ApplicationCommandOption{
				{Type: discordgo.ApplicationCommandOptionSubCommand, Name: "show", Description: "Show the current configuration"},
				{
					Type: discordgo.ApplicationCommandOptionSubCommand, Name: "language", Description: "Set the speech language",
					Options: []*discordgo.ApplicationCommandOption{{
						Type: discordgo.ApplicationCommandOptionString, Name: "language", Description: "Language code, e.g. en or de", Required: true,
					}},
				},
				{
					Type: discordgo.ApplicationCommandOptionSubCommand, Name: "voice", Description: "Set the TTS voice",
					Options: []*discordgo.ApplicationCommandOption{{
						Type: discordgo.ApplicationCommandOptionString, Name: "voice_id", Description: "Provider voice ID", Required: true,
					}},
				},
			},
		},
	}
}

// admin runs fn with the guild settings if the caller is the admin and
// answers the interaction otherwise.
func (gc *GuildCommands) admin(s discord.Session, i *discordgo.InteractionCreate, fn func(ctx context.Context, ss settings.ServerSettings)) {
	ctx, cancel := context.WithTimeout(context.Background(), commandTimeout)
	defer cancel()

	ss, err := gc.perms.RequireAdmin(ctx, i.GuildID, discord.UserID(i))
	if err != nil {
		discord.RespondDenied(s, i, err)
		return
	}
	fn(ctx, ss)
}

// update applies fn to the guild settings and responds with msg.
func (gc *GuildCommands) update(ctx context.Context, s discord.Session, i *discordgo.InteractionCreate, msg string, fn func(*settings.ServerSettings)) bool {
	_, err := gc.settings.UpdateServer(ctx, i.GuildID, func(ss *settings.ServerSettings) error {
		fn(ss)
		return nil
	})
	if err != nil {
		discord.RespondError(s, i, fmt.Errorf("update settings for guild %s: %w", i.GuildID, err))
		return false
	}
	discord.Respond(s, i, msg)
	return true
}

func (gc *GuildCommands) handleListenAdd(s discord.Session, i *discordgo.InteractionCreate) {
	gc.admin(s, i, func(ctx context.Context, _ settings.ServerSettings) {
		target, ok := targetUser(i)
		if !ok {
			discord.RespondEphemeral(s, i, discord.MsgInvalidUser)
			return
		}
		gc.update(ctx, s, i, MsgUserAdded+" "+mention(target), func(ss *settings.ServerSettings) {
			ss.AddAllowedUser(target)
		})
	})
}

func (gc *GuildCommands) handleListenRemove(s discord.Session, i *discordgo.InteractionCreate) {
	gc.admin(s, i, func(ctx context.Context, _ settings.ServerSettings) {
		target, ok := targetUser(i)
		if !ok {
			discord.RespondEphemeral(s, i, discord.MsgInvalidUser)
			return
		}
		gc.update(ctx, s, i, MsgUserRemoved+" "+mention(target), func(ss *settings.ServerSettings) {
			ss.RemoveAllowedUser(target)
		})
	})
}

func (gc *GuildCommands) handleListenMode(everyone bool) discord.HandlerFunc {
	msg := MsgListeningWhitelist
	if everyone {
		msg = MsgListeningEveryone
	}
	return func(s discord.Session, i *discordgo.InteractionCreate) {
		gc.admin(s, i, func(ctx context.Context, _ settings.ServerSettings) {
			gc.update(ctx, s, i, msg, func(ss *settings.ServerSettings) {
				ss.ListenToEveryone = everyone
			})
		})
	}
}

func (gc *GuildCommands) handleMute(mute bool) discord.HandlerFunc {
	msg := MsgUnmuted
	if mute {
		msg = MsgMuted
	}
	return func(s discord.Session, i *discordgo.InteractionCreate) {
		gc.admin(s, i, func(ctx context.Context, _ settings.ServerSettings) {
			gc.update(ctx, s, i, msg, func(ss *settings.ServerSettings) {
				ss.Muted = mute
			})
		})
	}
}

func (gc *GuildCommands) handleTransferAdmin(s discord.Session, i *discordgo.InteractionCreate) {
	gc.admin(s, i, func(ctx context.Context, _ settings.ServerSettings) {
		target, ok := targetUser(i)
		if !ok {
			discord.RespondEphemeral(s, i, discord.MsgInvalidUser)
			return
		}
		gc.update(ctx, s, i, MsgAdminTransferred+" "+mention(target), func(ss *settings.ServerSettings) {
			ss.AdminID = target
		})
	})
}

// handleStatus is open to everyone.
func (gc *GuildCommands) handleStatus(s discord.Session, i *discordgo.InteractionCreate) {
	ctx, cancel := context.WithTimeout(context.Background(), commandTimeout)
	defer cancel()

	ss, err := gc.settings.Server(ctx, i.GuildID)
	if err != nil {
		discord.RespondError(s, i, err)
		return
	}
	userID := discord.UserID(i)
	discord.RespondEmbed(s, i, StatusEmbed(ss, userID))
}

func (gc *GuildCommands) handleConfigShow(s discord.Session, i *discordgo.InteractionCreate) {
	gc.admin(s, i, func(_ context.Context, ss settings.ServerSettings) {
		discord.RespondEmbed(s, i, ConfigEmbed(ss))
	})
}

func (gc *GuildCommands) handleConfigLanguage(s discord.Session, i *discordgo.InteractionCreate) {
	gc.admin(s, i, func(ctx context.Context, _ settings.ServerSettings) {
		lang, _ := discord.Option(i, "language")
		lang = strings.ToLower(strings.TrimSpace(lang))
		if lang == "" {
			discord.RespondEphemeral(s, i, "Please provide a language code.")
			return
		}
		if gc.update(ctx, s, i, MsgVoiceUpdated, func(ss *settings.ServerSettings) {
			ss.UpdateVoice(settings.VoiceSettings{Language: lang})
		}) && gc.voice != nil {
			gc.voice.SetLanguage(i.GuildID, lang)
		}
	})
}

func (gc *GuildCommands) handleConfigVoice(s discord.Session, i *discordgo.InteractionCreate) {
	gc.admin(s, i, func(ctx context.Context, _ settings.ServerSettings) {
		voiceID, _ := discord.Option(i, "voice_id")
		voiceID = strings.TrimSpace(voiceID)
		if voiceID == "" {
			discord.RespondEphemeral(s, i, "Please provide a voice ID.")
			return
		}
		gc.update(ctx, s, i, MsgVoiceUpdated, func(ss *settings.ServerSettings) {
			ss.UpdateVoice(settings.VoiceSettings{VoiceID: voiceID})
		})
	})
}

// ConfigEmbed renders the guild configuration.
func ConfigEmbed(ss settings.ServerSettings) *discordgo.MessageEmbed {
	admin := "None"
	if ss.AdminID != "" {
		admin = mention(ss.AdminID)
	}
	mode := "Whitelist"
	if ss.ListenToEveryone {
		mode = "Everyone"
	}
	allowed := "None"
	if len(ss.AllowedUsers) > 0 {
		mentions := make([]string, len(ss.AllowedUsers))
		for n, id := range ss.AllowedUsers {
			mentions[n] = mention(id)
		}
		allowed = strings.Join(mentions, ", ")
	}
	status := "Active"
	if ss.Muted {
		status = "Muted"
	}
	return &discordgo.MessageEmbed{
		Title: "Voice Bot Configuration",
		Color: embedColor,
		Fields: []*discordgo.MessageEmbedField{
			{Name: "Admin", Value: admin},
			{Name: "Listening Mode", Value: mode},
			{Name: "Allowed Users", Value: allowed},
			{Name: "Status", Value: status},
			{Name: "Voice Settings", Value: fmt.Sprintf("Language: %s\nVoice ID: %s", ss.Voice.Language, ss.Voice.VoiceID)},
		},
	}
}

// StatusEmbed renders userID's permissions in the guild.
func StatusEmbed(ss settings.ServerSettings, userID string) *discordgo.MessageEmbed {
	allowed := "Not Allowed"
	if ss.IsUserAllowed(userID) {
		allowed = "Allowed"
	}
	admin := "No"
	if ss.IsAdmin(userID) {
		admin = "Yes"
	}
	return &discordgo.MessageEmbed{
		Title: "Your Voice Bot Status",
		Color: embedColor,
		Fields: []*discordgo.MessageEmbedField{
			{Name: "Permission Status", Value: allowed},
			{Name: "Admin Status", Value: admin},
		},
	}
}

// targetUser returns the user option of a command. Bots are rejected.
func targetUser(i *discordgo.InteractionCreate) (string, bool) {
	id, ok := discord.Option(i, "user")
	if !ok {
		return "", false
	}
	if res := i.ApplicationCommandData().Resolved; res != nil {
		if u, found := res.Users[id]; found && u.Bot {
			return "", false
		}
	}
	return id, true
}

func mention(userID string) string {
	return "<@" + userID + ">"
}
