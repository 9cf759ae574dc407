// Package settings persists per-guild and per-user settings.
//
// A [Store] is the persistence backend ([FileStore] for single-host setups,
// [PostgresStore] when DATABASE_URL is configured). A [Service] sits in
// front of it, caches reads, collapses concurrent cache misses with
// singleflight and serialises read-modify-write updates.
package settings

import (
	"slices"
	"time"
)

// Defaults for new records.
const (
	DefaultLanguage = "en"
	DefaultVoiceID  = "default"
	DefaultTier     = "free"
	DefaultModel    = "gpt35"
)

// VoiceSettings selects how the bot speaks in a guild.
type VoiceSettings struct {
	Language string `json:"language"`
	VoiceID  string `json:"voiceId"`
}

// ServerSettings is the per-guild configuration.
type ServerSettings struct {
	GuildID   string `json:"guildId"`
	ChannelID string `json:"channelId,omitempty"`

	// AdminID is the user allowed to run admin commands. Empty means no
	// admin; the next user to join becomes one.
	AdminID string `json:"adminId,omitempty"`

	// AllowedUsers is kept sorted and free of duplicates.
	AllowedUsers []string `json:"allowedUsers"`

	ListenToEveryone bool          `json:"isListeningToEveryone"`
	Muted            bool          `json:"isMuted"`
	LastActive       time.Time     `json:"lastActive"`
	Voice            VoiceSettings `json:"voiceSettings"`
}

// NewServerSettings returns the defaults for a guild.
func NewServerSettings(guildID string, now time.Time) *ServerSettings {
	return &ServerSettings{
		GuildID:      guildID,
		AllowedUsers: []string{},
		LastActive:   now,
		Voice:        VoiceSettings{Language: DefaultLanguage, VoiceID: DefaultVoiceID},
	}
}

// Clone returns a deep copy.
func (s *ServerSettings) Clone() *ServerSettings {
	c := *s
	c.AllowedUsers = slices.Clone(s.AllowedUsers)
	if c.AllowedUsers == nil {
		c.AllowedUsers = []string{}
	}
	return &c
}

// IsAdmin reports whether userID is the guild admin.
func (s *ServerSettings) IsAdmin(userID string) bool {
	return userID != "" && s.AdminID == userID
}

// IsUserAllowed reports whether the bot should listen to userID: everyone
// mode, an allow-listed user, or the admin.
func (s *ServerSettings) IsUserAllowed(userID string) bool {
	if s.ListenToEveryone || s.IsAdmin(userID) {
		return true
	}
	_, found := slices.BinarySearch(s.AllowedUsers, userID)
	return found
}

// AddAllowedUser adds userID to the allow list.
func (s *ServerSettings) AddAllowedUser(userID string) {
	i, found := slices.BinarySearch(s.AllowedUsers, userID)
	if !found {
		s.AllowedUsers = slices.Insert(s.AllowedUsers, i, userID)
	}
}

// RemoveAllowedUser removes userID from the allow list.
func (s *ServerSettings) RemoveAllowedUser(userID string) {
	if i, found := slices.BinarySearch(s.AllowedUsers, userID); found {
		s.AllowedUsers = slices.Delete(s.AllowedUsers, i, i+1)
	}
}

// UpdateVoice merges the non-empty fields of v.
func (s *ServerSettings) UpdateVoice(v VoiceSettings) {
	if v.Language != "" {
		s.Voice.Language = v.Language
	}
	if v.VoiceID != "" {
		s.Voice.VoiceID = v.VoiceID
	}
}

// normalize repairs records written by older versions or by hand.
func (s *ServerSettings) normalize() {
	if s.AllowedUsers == nil {
		s.AllowedUsers = []string{}
	}
	slices.Sort(s.AllowedUsers)
	s.AllowedUsers = slices.Compact(s.AllowedUsers)
	if s.Voice.Language == "" {
		s.Voice.Language = DefaultLanguage
	}
	if s.Voice.VoiceID == "" {
		s.Voice.VoiceID = DefaultVoiceID
	}
}

// UserPreferences is the per-user configuration.
type UserPreferences struct {
	UserID string `json:"userId"`

	// Tier is "free" or "premium".
	Tier string `json:"tier"`

	// TTSProvider overrides the tier's provider when set.
	TTSProvider string `json:"ttsProvider,omitempty"`

	// Model is a model key such as "gpt35".
	Model string `json:"model"`
}

// NewUserPreferences returns the defaults for a user.
func NewUserPreferences(userID string) *UserPreferences {
	return &UserPreferences{UserID: userID, Tier: DefaultTier, Model: DefaultModel}
}
