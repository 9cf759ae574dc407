package commands

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/bwmarrin/discordgo"

	"github.com/MrWong99/voxbridge/internal/assistant"
	"github.com/MrWong99/voxbridge/internal/discord"
	"github.com/MrWong99/voxbridge/internal/discord/mock"
	"github.com/MrWong99/voxbridge/internal/settings"
	"github.com/MrWong99/voxbridge/internal/voice"
	"github.com/MrWong99/voxbridge/pkg/provider/llm"
	llmmock "github.com/MrWong99/voxbridge/pkg/provider/llm/mock"
)

const testGuild = "guild-1"

// slash builds an application command interaction from userID in
// testGuild. A non-empty sub nests opts under that subcommand.
func slash(userID, name, sub string, opts ...*discordgo.ApplicationCommandInteractionDataOption) *discordgo.InteractionCreate {
	data := discordgo.ApplicationCommandInteractionData{Name: name, Options: opts}
	if sub != "" {
		data.Options = []*discordgo.ApplicationCommandInteractionDataOption{{
			Type:    discordgo.ApplicationCommandOptionSubCommand,
			Name:    sub,
			Options: opts,
		}}
	}
	return &discordgo.InteractionCreate{
		Interaction: &discordgo.Interaction{
			Type:      discordgo.InteractionApplicationCommand,
			GuildID:   testGuild,
			ChannelID: "text-1",
			Member:    &discordgo.Member{User: &discordgo.User{ID: userID}},
			Data:      data,
		},
	}
}

func userOption(id string) *discordgo.ApplicationCommandInteractionDataOption {
	return &discordgo.ApplicationCommandInteractionDataOption{Type: discordgo.ApplicationCommandOptionUser, Name: "user", Value: id}
}

func stringOption(name, value string) *discordgo.ApplicationCommandInteractionDataOption {
	return &discordgo.ApplicationCommandInteractionDataOption{Type: discordgo.ApplicationCommandOptionString, Name: name, Value: value}
}

// lastContent returns the content of the latest response or follow-up.
func lastContent(t *testing.T, s *mock.Session) string {
	t.Helper()
	if f := s.LastFollowUp(); f != nil {
		return f.Content
	}
	resp := s.LastResponse()
	if resp == nil || resp.Data == nil {
		t.Fatal("no interaction response recorded")
	}
	return resp.Data.Content
}

func lastEmbed(t *testing.T, s *mock.Session) *discordgo.MessageEmbed {
	t.Helper()
	resp := s.LastResponse()
	if resp == nil || resp.Data == nil || len(resp.Data.Embeds) != 1 {
		t.Fatal("no embed response recorded")
	}
	return resp.Data.Embeds[0]
}

func newSettings(t *testing.T) *settings.Service {
	t.Helper()
	store, err := settings.NewFileStore(t.TempDir())
	if err != nil {
		t.Fatalf("NewFileStore: %v", err)
	}
	return settings.NewService(store)
}

func setAdmin(t *testing.T, svc *settings.Service, adminID string) {
	t.Helper()
	if _, err := svc.UpdateServer(context.Background(), testGuild, func(s *settings.ServerSettings) error {
		s.AdminID = adminID
		return nil
	}); err != nil {
		t.Fatal(err)
	}
}

func serverSettings(t *testing.T, svc *settings.Service) settings.ServerSettings {
	t.Helper()
	ss, err := svc.Server(context.Background(), testGuild)
	if err != nil {
		t.Fatal(err)
	}
	return ss
}

// newAssistant returns an assistant whose every model answers reply.
func newAssistant(t *testing.T, reply string) *assistant.Assistant {
	t.Helper()
	llms := make(map[string]llm.Provider)
	for key := range assistant.Models {
		llms[key] = &llmmock.Provider{CompleteResponse: &llm.CompletionResponse{Content: reply}}
	}
	a, err := assistant.New(assistant.Config{LLMs: llms, Poster: discord.NewPoster(&mock.Session{})})
	if err != nil {
		t.Fatal(err)
	}
	return a
}

// fakeVoice implements VoiceControl, LanguageSetter and VoiceOutput.
type fakeVoice struct {
	mu        sync.Mutex
	channels  map[string]string
	joins     []string
	languages map[string]string
	said      []string
	joinErr   error
}

func newFakeVoice() *fakeVoice {
	return &fakeVoice{channels: make(map[string]string), languages: make(map[string]string)}
}

func (f *fakeVoice) Join(_ context.Context, guildID, voiceChannelID, textChannelID, userID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.joinErr != nil {
		return f.joinErr
	}
	f.channels[guildID] = voiceChannelID
	f.joins = append(f.joins, voiceChannelID+"/"+textChannelID+"/"+userID)
	return nil
}

func (f *fakeVoice) Leave(guildID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := f.channels[guildID]; !ok {
		return voice.ErrNotConnected
	}
	delete(f.channels, guildID)
	return nil
}

func (f *fakeVoice) ChannelID(guildID string) (string, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	ch, ok := f.channels[guildID]
	return ch, ok
}

func (f *fakeVoice) SetLanguage(guildID, language string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.languages[guildID] = language
}

func (f *fakeVoice) Say(guildID string, turn assistant.Turn, text string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := f.channels[guildID]; !ok {
		return voice.ErrNotConnected
	}
	f.said = append(f.said, text)
	return nil
}

func (f *fakeVoice) spoken() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.said...)
}

// fakeLocator answers from a fixed voice state table.
type fakeLocator struct {
	botID  string
	voices map[string]string // user ID → voice channel ID
}

func (l fakeLocator) UserVoiceChannel(_, userID string) (string, bool) {
	ch, ok := l.voices[userID]
	return ch, ok
}

func (l fakeLocator) ChannelName(channelID string) string { return "name-of-" + channelID }

func (l fakeLocator) BotUserID() string { return l.botID }

var errBoom = errors.New("boom")
