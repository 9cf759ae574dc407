package discord

import (
	"context"
	"errors"

	"github.com/bwmarrin/discordgo"

	"github.com/MrWong99/voxbridge/internal/settings"
)

// Refusal messages shown to users.
const (
	MsgNotAdmin     = "Only the admin can use this command."
	MsgNoAdmin      = "No admin is set for this server."
	MsgNotInVoice   = "Bot is not in a voice channel."
	MsgInvalidUser  = "Invalid user mentioned."
	MsgNoPermission = "You do not have permission to use this command."
)

var (
	// ErrNotAdmin is returned when a non-admin runs an admin command.
	ErrNotAdmin = errors.New("discord: " + MsgNotAdmin)

	// ErrNoAdmin is returned when the guild has no admin yet.
	ErrNoAdmin = errors.New("discord: " + MsgNoAdmin)
)

// PermissionChecker decides who may run admin commands. The admin of a
// guild is stored in its server settings.
type PermissionChecker struct {
	settings *settings.Service
}

// NewPermissionChecker creates a PermissionChecker backed by svc.
func NewPermissionChecker(svc *settings.Service) *PermissionChecker {
	return &PermissionChecker{settings: svc}
}

// RequireAdmin returns the guild settings when userID is the guild admin.
// Otherwise it returns [ErrNoAdmin] or [ErrNotAdmin]; use [Refusal] for the
// message to show.
func (p *PermissionChecker) RequireAdmin(ctx context.Context, guildID, userID string) (settings.ServerSettings, error) {
	ss, err := p.settings.Server(ctx, guildID)
	if err != nil {
		return settings.ServerSettings{}, err
	}
	switch {
	case ss.AdminID == "":
		return ss, ErrNoAdmin
	case !ss.IsAdmin(userID):
		return ss, ErrNotAdmin
	}
	return ss, nil
}

// IsAllowed reports whether the bot should respond to userID in guildID.
func (p *PermissionChecker) IsAllowed(ctx context.Context, guildID, userID string) (bool, error) {
	ss, err := p.settings.Server(ctx, guildID)
	if err != nil {
		return false, err
	}
	return ss.IsUserAllowed(userID), nil
}

// Refusal returns the message for a permission error, or "" if err is not
// one.
func Refusal(err error) string {
	switch {
	case errors.Is(err, ErrNoAdmin):
		return MsgNoAdmin
	case errors.Is(err, ErrNotAdmin):
		return MsgNotAdmin
	}
	return ""
}

// RespondDenied answers an interaction that failed RequireAdmin. Storage
// errors get the generic message.
func RespondDenied(s Session, i *discordgo.InteractionCreate, err error) {
	if msg := Refusal(err); msg != "" {
		RespondEphemeral(s, i, msg)
		return
	}
	RespondError(s, i, err)
}
