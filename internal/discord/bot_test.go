package discord

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/bwmarrin/discordgo"

	"github.com/MrWong99/voxbridge/internal/assistant"
	"github.com/MrWong99/voxbridge/internal/discord/mock"
	"github.com/MrWong99/voxbridge/internal/settings"
)

// slash builds an application command interaction from userID. A non-empty
// sub nests opts under that subcommand.
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
			Type:    discordgo.InteractionApplicationCommand,
			GuildID: "guild-1",
			Member:  &discordgo.Member{User: &discordgo.User{ID: userID}},
			Data:    data,
		},
	}
}

func content(t *testing.T, s *mock.Session) string {
	t.Helper()
	resp := s.LastResponse()
	if resp == nil || resp.Data == nil {
		t.Fatal("no interaction response recorded")
	}
	return resp.Data.Content
}

func TestNewCommandRouter(t *testing.T) {
	t.Parallel()

	r := NewCommandRouter()
	if r == nil {
		t.Fatal("NewCommandRouter() returned nil")
	}
	if len(r.commands) != 0 {
		t.Errorf("expected empty commands map, got %d entries", len(r.commands))
	}
}

func TestCommandRouter_ApplicationCommands(t *testing.T) {
	t.Parallel()

	r := NewCommandRouter()
	noop := func(Session, *discordgo.InteractionCreate) {}

	listen := &discordgo.ApplicationCommand{Name: "listen"}
	r.RegisterCommand("mute", &discordgo.ApplicationCommand{Name: "mute"}, noop)
	r.RegisterCommand("listen/add", listen, noop)
	r.RegisterCommand("listen/remove", listen, noop)
	r.RegisterHandler("listen/everyone", noop)

	cmds := r.ApplicationCommands()
	if len(cmds) != 2 {
		t.Fatalf("expected 2 deduplicated commands, got %d", len(cmds))
	}
	if cmds[0].Name != "listen" || cmds[1].Name != "mute" {
		t.Errorf("commands not sorted by name: %q, %q", cmds[0].Name, cmds[1].Name)
	}
}

func TestCommandRouter_Handle(t *testing.T) {
	t.Parallel()

	r := NewCommandRouter()
	var got []string
	record := func(key string) HandlerFunc {
		return func(Session, *discordgo.InteractionCreate) { got = append(got, key) }
	}
	r.RegisterCommand("config", &discordgo.ApplicationCommand{Name: "config"}, record("config"))
	r.RegisterHandler("config/voice", record("config/voice"))
	r.RegisterCommand("status", &discordgo.ApplicationCommand{Name: "status"}, record("status"))

	s := &mock.Session{}
	r.Handle(s, slash("u1", "status", ""))
	r.Handle(s, slash("u1", "config", "voice"))
	r.Handle(s, slash("u1", "config", "language"))

	want := []string{"status", "config/voice", "config"}
	if strings.Join(got, ",") != strings.Join(want, ",") {
		t.Errorf("dispatch order = %v, want %v", got, want)
	}
	if len(s.Responses) != 0 {
		t.Errorf("router should not respond for known commands, got %d responses", len(s.Responses))
	}
}

func TestCommandRouter_HandleUnknown(t *testing.T) {
	t.Parallel()

	r := NewCommandRouter()
	s := &mock.Session{}
	r.Handle(s, slash("u1", "nope", ""))

	if got := content(t, s); got != "Unknown command." {
		t.Errorf("content = %q", got)
	}
	if s.LastResponse().Data.Flags != discordgo.MessageFlagsEphemeral {
		t.Error("unknown command response should be ephemeral")
	}
}

func TestCommandRouter_HandlerPanicRecovered(t *testing.T) {
	t.Parallel()

	r := NewCommandRouter()
	r.RegisterCommand("boom", &discordgo.ApplicationCommand{Name: "boom"}, func(Session, *discordgo.InteractionCreate) {
		panic("handler bug")
	})
	r.Handle(&mock.Session{}, slash("u1", "boom", ""))
}

func TestOption(t *testing.T) {
	t.Parallel()

	i := slash("u1", "listen", "add", &discordgo.ApplicationCommandInteractionDataOption{
		Type:  discordgo.ApplicationCommandOptionUser,
		Name:  "user",
		Value: "target-42",
	})
	if v, ok := Option(i, "user"); !ok || v != "target-42" {
		t.Errorf("Option(user) = %q, %v", v, ok)
	}
	if _, ok := Option(i, "missing"); ok {
		t.Error("Option(missing) should report false")
	}

	top := slash("u1", "settier", "", &discordgo.ApplicationCommandInteractionDataOption{
		Type:  discordgo.ApplicationCommandOptionString,
		Name:  "tier",
		Value: "premium",
	})
	if v, ok := Option(top, "tier"); !ok || v != "premium" {
		t.Errorf("top-level Option(tier) = %q, %v", v, ok)
	}
}

func TestUserID(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name  string
		inter *discordgo.InteractionCreate
		want  string
	}{
		{"guild member", slash("member-1", "status", ""), "member-1"},
		{
			"direct message",
			&discordgo.InteractionCreate{Interaction: &discordgo.Interaction{User: &discordgo.User{ID: "dm-1"}}},
			"dm-1",
		},
		{"nobody", &discordgo.InteractionCreate{Interaction: &discordgo.Interaction{}}, ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			if got := UserID(tt.inter); got != tt.want {
				t.Errorf("UserID() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestRespondError_HidesRawError(t *testing.T) {
	t.Parallel()

	s := &mock.Session{}
	RespondError(s, slash("u1", "status", ""), errors.New("pq: password authentication failed for user bot"))

	got := content(t, s)
	if strings.Contains(got, "password") {
		t.Fatalf("raw error leaked to the user: %q", got)
	}
	if got != assistant.MsgGeneric {
		t.Errorf("content = %q, want %q", got, assistant.MsgGeneric)
	}
}

func newSettings(t *testing.T) *settings.Service {
	t.Helper()
	store, err := settings.NewFileStore(t.TempDir())
	if err != nil {
		t.Fatalf("NewFileStore: %v", err)
	}
	return settings.NewService(store)
}

func TestPermissionChecker_RequireAdmin(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	svc := newSettings(t)
	perms := NewPermissionChecker(svc)

	if _, err := perms.RequireAdmin(ctx, "g1", "alice"); !errors.Is(err, ErrNoAdmin) {
		t.Fatalf("no admin yet: err = %v, want ErrNoAdmin", err)
	}

	if _, err := svc.UpdateServer(ctx, "g1", func(s *settings.ServerSettings) error {
		s.AdminID = "alice"
		return nil
	}); err != nil {
		t.Fatal(err)
	}

	tests := []struct {
		user    string
		wantErr error
		wantMsg string
	}{
		{"alice", nil, ""},
		{"bob", ErrNotAdmin, MsgNotAdmin},
		{"", ErrNotAdmin, MsgNotAdmin},
	}
	for _, tt := range tests {
		ss, err := perms.RequireAdmin(ctx, "g1", tt.user)
		if !errors.Is(err, tt.wantErr) {
			t.Errorf("RequireAdmin(%q) err = %v, want %v", tt.user, err, tt.wantErr)
		}
		if got := Refusal(err); got != tt.wantMsg {
			t.Errorf("Refusal(%q) = %q, want %q", tt.user, got, tt.wantMsg)
		}
		if ss.GuildID != "g1" {
			t.Errorf("settings should be returned even on refusal, got %+v", ss)
		}
	}
}

func TestPermissionChecker_IsAllowed(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	svc := newSettings(t)
	perms := NewPermissionChecker(svc)
	if _, err := svc.UpdateServer(ctx, "g1", func(s *settings.ServerSettings) error {
		s.AdminID = "alice"
		s.AddAllowedUser("carol")
		return nil
	}); err != nil {
		t.Fatal(err)
	}

	for user, want := range map[string]bool{"alice": true, "carol": true, "dave": false} {
		got, err := perms.IsAllowed(ctx, "g1", user)
		if err != nil {
			t.Fatal(err)
		}
		if got != want {
			t.Errorf("IsAllowed(%q) = %v, want %v", user, got, want)
		}
	}
}

func TestRespondDenied(t *testing.T) {
	t.Parallel()

	tests := []struct {
		err  error
		want string
	}{
		{ErrNotAdmin, MsgNotAdmin},
		{ErrNoAdmin, MsgNoAdmin},
		{errors.New("disk full"), assistant.MsgGeneric},
	}
	for _, tt := range tests {
		s := &mock.Session{}
		RespondDenied(s, slash("u1", "mute", ""), tt.err)
		if got := content(t, s); got != tt.want {
			t.Errorf("RespondDenied(%v) = %q, want %q", tt.err, got, tt.want)
		}
	}
}
