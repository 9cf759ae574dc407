package assistant

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/MrWong99/voxbridge/internal/playback"
	"github.com/MrWong99/voxbridge/internal/resilience"
	audiomock "github.com/MrWong99/voxbridge/pkg/audio/mock"
	"github.com/MrWong99/voxbridge/pkg/provider/llm"
	llmmock "github.com/MrWong99/voxbridge/pkg/provider/llm/mock"
)

// ─── Fakes ───────────────────────────────────────────────────────────────────

// fakeTTS writes the requested text into the "audio" file so fakePlayer can
// tell what was spoken.
type fakeTTS struct {
	dir string
	err error

	mu   sync.Mutex
	reqs []resilience.TTSRequest
}

func (f *fakeTTS) Synthesize(_ context.Context, req resilience.TTSRequest) (string, error) {
	f.mu.Lock()
	f.reqs = append(f.reqs, req)
	n := len(f.reqs)
	f.mu.Unlock()
	if f.err != nil {
		return "", f.err
	}
	path := filepath.Join(f.dir, fmt.Sprintf("reply-%d.wav", n))
	return path, os.WriteFile(path, []byte(req.Text), 0o644)
}

func (f *fakeTTS) requests() []resilience.TTSRequest {
	f.mu.Lock()
	defer f.mu.Unlock()
	return slices.Clone(f.reqs)
}

type fakePlayer struct {
	delay time.Duration

	mu     sync.Mutex
	spoken []string
}

func (p *fakePlayer) Play(_ context.Context, job playback.Job) error {
	defer os.Remove(job.Path)
	time.Sleep(p.delay)
	data, err := os.ReadFile(job.Path)
	if err != nil {
		return err
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	p.spoken = append(p.spoken, string(data))
	return nil
}

func (p *fakePlayer) said() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return slices.Clone(p.spoken)
}

type fakePoster struct {
	mu    sync.Mutex
	posts []string
}

func (p *fakePoster) Post(_ context.Context, _ string, content string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.posts = append(p.posts, content)
	return nil
}

func (p *fakePoster) all() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return slices.Clone(p.posts)
}

type fixture struct {
	a      *Assistant
	tts    *fakeTTS
	player *fakePlayer
	poster *fakePoster
}

func newFixture(t *testing.T, llms map[string]llm.Provider) *fixture {
	t.Helper()
	f := &fixture{
		tts:    &fakeTTS{dir: t.TempDir()},
		player: &fakePlayer{},
		poster: &fakePoster{},
	}
	a, err := New(Config{LLMs: llms, TTS: f.tts, Player: f.player, Poster: f.poster})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	f.a = a
	return f
}

func voiceTurn(tier TierName, model string) Turn {
	return Turn{
		GuildID:    "g1",
		ChannelID:  "c1",
		UserID:     "u1",
		Prompt:     "what is go?",
		Tier:       tier,
		Model:      model,
		Sink:       &audiomock.Connection{},
		VoiceInput: true,
	}
}

// ─── Tests ───────────────────────────────────────────────────────────────────

func TestRespond_ShortReply(t *testing.T) {
	t.Parallel()

	gpt := &llmmock.Provider{CompleteResponse: &llm.CompletionResponse{Content: "Go is a language."}}
	f := newFixture(t, map[string]llm.Provider{ModelGPT35: gpt})

	if err := f.a.Respond(t.Context(), voiceTurn(TierFree, ModelGPT35)); err != nil {
		t.Fatalf("Respond: %v", err)
	}

	posts := f.poster.all()
	if len(posts) != 2 {
		t.Fatalf("posts = %q, want thinking notice and reply", posts)
	}
	if !slices.Contains(ThinkingResponses, posts[0]) {
		t.Errorf("first post %q is not a thinking response", posts[0])
	}
	if posts[1] != "Go is a language." {
		t.Errorf("reply post = %q", posts[1])
	}
	if got := f.player.said(); !slices.Equal(got, []string{"Go is a language."}) {
		t.Errorf("spoken = %q", got)
	}

	calls := gpt.Calls()
	if len(calls) != 1 {
		t.Fatalf("LLM calls = %d, want 1", len(calls))
	}
	req := calls[0].Req
	if req.MaxTokens != 100 || req.Temperature != 0.7 {
		t.Errorf("request limits = %d tokens, temperature %v", req.MaxTokens, req.Temperature)
	}
	if len(req.Messages) != 1 || req.Messages[0].Content != "what is go?" || req.Messages[0].Role != llm.RoleUser {
		t.Errorf("messages = %+v", req.Messages)
	}

	reqs := f.tts.requests()
	if reqs[0].Provider != "huggingface" || reqs[0].Premium || !reqs[0].VoiceInput {
		t.Errorf("TTS request = %+v, want huggingface, free, voice input", reqs[0])
	}
}

func TestRespond_LongReplySpeaksSummary(t *testing.T) {
	t.Parallel()

	long := strings.Repeat("Go has goroutines. ", 15)
	gpt := &llmmock.Provider{
		CompleteFunc: func(_ context.Context, req llm.CompletionRequest) (*llm.CompletionResponse, error) {
			if strings.HasPrefix(req.Messages[0].Content, "Summarize this") {
				return &llm.CompletionResponse{Content: "Go is concurrent."}, nil
			}
			return &llm.CompletionResponse{Content: long}, nil
		},
	}
	f := newFixture(t, map[string]llm.Provider{ModelGPT35: gpt})

	if err := f.a.Respond(t.Context(), voiceTurn(TierFree, "")); err != nil {
		t.Fatalf("Respond: %v", err)
	}

	calls := gpt.Calls()
	if len(calls) != 2 {
		t.Fatalf("LLM calls = %d, want 2", len(calls))
	}
	if want := "Summarize this in 2-3 sentences while keeping the main points: " + long; calls[1].Req.Messages[0].Content != want {
		t.Errorf("summary prompt = %q", calls[1].Req.Messages[0].Content)
	}
	posts := f.poster.all()
	if posts[len(posts)-1] != long {
		t.Error("full reply was not posted to the channel")
	}
	want := "Here's a summary: Go is concurrent.\nCheck the chat for the complete response."
	if got := f.player.said(); !slices.Equal(got, []string{want}) {
		t.Errorf("spoken = %q, want %q", got, want)
	}
}

func TestRespond_TextOnly(t *testing.T) {
	t.Parallel()

	gpt := &llmmock.Provider{CompleteResponse: &llm.CompletionResponse{Content: "hi"}}
	f := newFixture(t, map[string]llm.Provider{ModelGPT35: gpt})

	turn := voiceTurn(TierFree, ModelGPT35)
	turn.Sink = nil
	turn.VoiceInput = false
	if err := f.a.Respond(t.Context(), turn); err != nil {
		t.Fatalf("Respond: %v", err)
	}
	if got := f.poster.all(); !slices.Equal(got, []string{"hi"}) {
		t.Errorf("posts = %q, want only the reply", got)
	}
	if len(f.tts.requests()) != 0 {
		t.Error("TTS called for a text-only turn")
	}
}

func TestRespond_Streaming(t *testing.T) {
	t.Parallel()

	claude := &llmmock.Provider{StreamChunks: []llm.Chunk{
		{Text: "Hello there. How"},
		{Text: " are you? I'm"},
		{Text: " fine", FinishReason: "stop"},
	}}
	f := newFixture(t, map[string]llm.Provider{ModelGPT35: &llmmock.Provider{}, ModelClaude: claude})

	if err := f.a.Respond(t.Context(), voiceTurn(TierPremium, ModelClaude)); err != nil {
		t.Fatalf("Respond: %v", err)
	}

	want := []string{"Hello there.", "How are you?", "I'm fine"}
	if got := f.player.said(); !slices.Equal(got, want) {
		t.Errorf("spoken = %q, want %q", got, want)
	}
	posts := f.poster.all()
	if posts[len(posts)-1] != "Hello there. How are you? I'm fine" {
		t.Errorf("posted reply = %q", posts[len(posts)-1])
	}
	for _, r := range f.tts.requests() {
		if r.Provider != "elevenlabs" || !r.Premium {
			t.Errorf("TTS request = %+v, want elevenlabs premium", r)
		}
	}
	if claude.StreamCalls[0].Req.MaxTokens != 250 {
		t.Errorf("max tokens = %d, want 250", claude.StreamCalls[0].Req.MaxTokens)
	}
}

func TestRespond_StreamFailure(t *testing.T) {
	t.Parallel()

	gpt := &llmmock.Provider{StreamChunks: []llm.Chunk{
		{Text: "Partial answer. "},
		{Text: "rate limited", FinishReason: llm.FinishReasonError},
	}}
	f := newFixture(t, map[string]llm.Provider{ModelGPT35: gpt})

	err := f.a.Respond(t.Context(), voiceTurn(TierPremium, ModelGPT35))
	if !errors.Is(err, llm.ErrStream) {
		t.Fatalf("err = %v, want ErrStream", err)
	}
	if got := f.player.said(); !slices.Equal(got, []string{"Partial answer."}) {
		t.Errorf("spoken = %q", got)
	}
}

func TestRespond_StreamingOutlastsLLMTimeout(t *testing.T) {
	t.Parallel()

	claude := &llmmock.Provider{StreamChunks: []llm.Chunk{
		{Text: "One. Two. Three.", FinishReason: "stop"},
	}}
	player := &fakePlayer{delay: 60 * time.Millisecond}
	poster := &fakePoster{}
	a, err := New(Config{
		LLMs:       map[string]llm.Provider{ModelClaude: claude},
		TTS:        &fakeTTS{dir: t.TempDir()},
		Player:     player,
		Poster:     poster,
		LLMTimeout: 100 * time.Millisecond,
	})
	if err != nil {
		t.Fatal(err)
	}

	if err := a.Respond(t.Context(), voiceTurn(TierPremium, ModelClaude)); err != nil {
		t.Fatalf("Respond: %v", err)
	}
	if got, want := player.said(), []string{"One.", "Two.", "Three."}; !slices.Equal(got, want) {
		t.Errorf("spoken = %q, want %q", got, want)
	}
	posts := poster.all()
	if len(posts) == 0 || posts[len(posts)-1] != "One. Two. Three." {
		t.Errorf("posts = %q, want full reply last", posts)
	}
}

func TestRespond_TTSProviderOverride(t *testing.T) {
	t.Parallel()

	gpt := &llmmock.Provider{CompleteResponse: &llm.CompletionResponse{Content: "ok"}}
	f := newFixture(t, map[string]llm.Provider{ModelGPT35: gpt})

	turn := voiceTurn(TierFree, ModelGPT35)
	turn.TTSProvider = "coqui"
	if err := f.a.Respond(t.Context(), turn); err != nil {
		t.Fatalf("Respond: %v", err)
	}
	if p := f.tts.requests()[0].Provider; p != "coqui" {
		t.Errorf("provider = %q, want coqui", p)
	}
}

func TestRespond_TTSFailureSurfaces(t *testing.T) {
	t.Parallel()

	gpt := &llmmock.Provider{CompleteResponse: &llm.CompletionResponse{Content: "ok"}}
	f := newFixture(t, map[string]llm.Provider{ModelGPT35: gpt})
	f.tts.err = &resilience.ExhaustedError{Last: errors.New("down"), Tried: []string{"huggingface"}}

	err := f.a.Respond(t.Context(), voiceTurn(TierFree, ModelGPT35))
	if !errors.Is(err, resilience.ErrAllProvidersFailed) {
		t.Errorf("err = %v, want ErrAllProvidersFailed", err)
	}
	if UserMessage(err) != MsgGeneric {
		t.Errorf("UserMessage = %q, want generic", UserMessage(err))
	}
}

func TestRespond_LLMTimeout(t *testing.T) {
	t.Parallel()

	slow := &llmmock.Provider{
		CompleteFunc: func(ctx context.Context, _ llm.CompletionRequest) (*llm.CompletionResponse, error) {
			<-ctx.Done()
			return nil, ctx.Err()
		},
	}
	a, err := New(Config{
		LLMs:       map[string]llm.Provider{ModelGPT35: slow},
		Poster:     &fakePoster{},
		LLMTimeout: 20 * time.Millisecond,
	})
	if err != nil {
		t.Fatal(err)
	}

	turn := voiceTurn(TierFree, ModelGPT35)
	turn.Sink = nil
	err = a.Respond(t.Context(), turn)
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("err = %v, want DeadlineExceeded", err)
	}
	if UserMessage(err) != MsgNetwork {
		t.Errorf("UserMessage = %q, want network message", UserMessage(err))
	}
}

func TestResolveModel(t *testing.T) {
	t.Parallel()

	all := map[string]llm.Provider{
		ModelGPT35:  &llmmock.Provider{},
		ModelGPT4:   &llmmock.Provider{},
		ModelClaude: &llmmock.Provider{},
	}
	noClaude := map[string]llm.Provider{
		ModelGPT35: &llmmock.Provider{},
	}

	tests := []struct {
		name      string
		llms      map[string]llm.Provider
		tier      TierName
		requested string
		want      string
	}{
		{name: "free keeps gpt35", llms: all, tier: TierFree, requested: ModelGPT35, want: ModelGPT35},
		{name: "free cannot use gpt4", llms: all, tier: TierFree, requested: ModelGPT4, want: ModelGPT35},
		{name: "premium uses claude", llms: all, tier: TierPremium, requested: ModelClaude, want: ModelClaude},
		{name: "unconfigured model falls back", llms: noClaude, tier: TierPremium, requested: ModelClaude, want: ModelGPT35},
		{name: "empty request uses tier default", llms: all, tier: TierPremium, requested: "", want: ModelGPT35},
		{name: "unknown tier acts as free", llms: all, tier: "gold", requested: ModelGPT4, want: ModelGPT35},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			a, err := New(Config{LLMs: tt.llms, Poster: &fakePoster{}})
			if err != nil {
				t.Fatal(err)
			}
			got, _, err := a.ResolveModel(tt.tier, tt.requested)
			if err != nil {
				t.Fatalf("ResolveModel: %v", err)
			}
			if got != tt.want {
				t.Errorf("model = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestResolveModel_NoneAvailable(t *testing.T) {
	t.Parallel()

	a, err := New(Config{LLMs: map[string]llm.Provider{ModelMixtral: &llmmock.Provider{}}, Poster: &fakePoster{}})
	if err != nil {
		t.Fatal(err)
	}
	if _, _, err := a.ResolveModel(TierFree, ""); !errors.Is(err, ErrNoModel) {
		t.Errorf("err = %v, want ErrNoModel", err)
	}
}

func TestReply(t *testing.T) {
	t.Parallel()

	gpt := &llmmock.Provider{CompleteResponse: &llm.CompletionResponse{Content: "typed answer"}}
	f := newFixture(t, map[string]llm.Provider{ModelGPT35: gpt})

	got, err := f.a.Reply(t.Context(), Turn{Prompt: "hey", Tier: TierFree})
	if err != nil {
		t.Fatalf("Reply: %v", err)
	}
	if got != "typed answer" {
		t.Errorf("reply = %q", got)
	}
	if len(f.poster.all()) != 0 {
		t.Error("Reply must not post")
	}
}

func TestParseTier(t *testing.T) {
	t.Parallel()

	tests := []struct {
		in      string
		want    TierName
		wantErr bool
	}{
		{in: "free", want: TierFree},
		{in: " PREMIUM ", want: TierPremium},
		{in: "gold", wantErr: true},
	}
	for _, tt := range tests {
		got, err := ParseTier(tt.in)
		if (err != nil) != tt.wantErr {
			t.Errorf("ParseTier(%q) err = %v", tt.in, err)
		}
		if got != tt.want {
			t.Errorf("ParseTier(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}
