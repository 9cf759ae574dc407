// Package assistant runs one request/response cycle: a prompt goes to the
// LLM chosen by the user's tier and preferences, the reply is mirrored to
// the text channel and, when a voice sink is present, spoken through the
// TTS fallback chain and played back.
//
// Cycles are not serialised here. Callers run them through a per-session
// queue so that playback never overlaps.
package assistant

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	"github.com/MrWong99/voxbridge/internal/observe"
	"github.com/MrWong99/voxbridge/internal/playback"
	"github.com/MrWong99/voxbridge/internal/resilience"
	"github.com/MrWong99/voxbridge/pkg/audio"
	"github.com/MrWong99/voxbridge/pkg/provider/llm"
	"github.com/MrWong99/voxbridge/pkg/provider/tts"
)

// Defaults.
const (
	DefaultLLMTimeout         = 30 * time.Second
	DefaultLongReplyThreshold = 200

	summaryPrompt = "Summarize this in 2-3 sentences while keeping the main points: "
)

var (
	// ErrNoModel is returned when no configured LLM can serve a request.
	ErrNoModel = errors.New("assistant: no language model available")

	// ErrEmptyReply is returned when the LLM answered with nothing.
	ErrEmptyReply = errors.New("assistant: empty reply")
)

// Synthesizer turns text into a WAV file on disk. The caller owns the file.
type Synthesizer interface {
	Synthesize(ctx context.Context, req resilience.TTSRequest) (string, error)
}

// Player plays a file to completion and removes it.
type Player interface {
	Play(ctx context.Context, job playback.Job) error
}

// Poster sends plain text to a Discord text channel.
type Poster interface {
	Post(ctx context.Context, channelID, content string) error
}

// Turn is one user request.
type Turn struct {
	GuildID   string
	ChannelID string
	UserID    string
	UserName  string

	Prompt string

	// Tier and Model come from the user's preferences. A model the tier
	// does not allow falls back to the tier default.
	Tier  TierName
	Model string

	// TTSProvider overrides the tier's preferred provider when set.
	TTSProvider string
	Voice       tts.Voice

	// Sink receives the spoken reply. Nil means text only.
	Sink audio.Sink

	// VoiceInput marks requests that were spoken rather than typed.
	VoiceInput bool
}

// Config configures an [Assistant].
type Config struct {
	// LLMs maps model keys to backends. Missing keys make that model
	// unavailable.
	LLMs map[string]llm.Provider

	TTS    Synthesizer
	Player Player
	Poster Poster

	// Tiers defaults to [DefaultTiers].
	Tiers map[TierName]Tier

	SystemPrompt       string
	LLMTimeout         time.Duration
	LongReplyThreshold int

	Metrics *observe.Metrics
}

// Assistant executes turns. It is safe for concurrent use.
type Assistant struct {
	llms         map[string]llm.Provider
	tts          Synthesizer
	player       Player
	poster       Poster
	systemPrompt string
	llmTimeout   time.Duration
	longReply    int
	metrics      *observe.Metrics

	mu    sync.RWMutex
	tiers map[TierName]Tier
}

// New creates an Assistant.
func New(cfg Config) (*Assistant, error) {
	if len(cfg.LLMs) == 0 {
		return nil, ErrNoModel
	}
	if cfg.Poster == nil {
		return nil, errors.New("assistant: poster must not be nil")
	}
	a := &Assistant{
		llms:         cfg.LLMs,
		tts:          cfg.TTS,
		player:       cfg.Player,
		poster:       cfg.Poster,
		systemPrompt: cfg.SystemPrompt,
		llmTimeout:   cfg.LLMTimeout,
		longReply:    cfg.LongReplyThreshold,
		metrics:      cfg.Metrics,
		tiers:        cfg.Tiers,
	}
	if a.llmTimeout <= 0 {
		a.llmTimeout = DefaultLLMTimeout
	}
	if a.longReply <= 0 {
		a.longReply = DefaultLongReplyThreshold
	}
	if a.tiers == nil {
		a.tiers = DefaultTiers()
	}
	return a, nil
}

// SetTiers replaces the tier table.
func (a *Assistant) SetTiers(tiers map[TierName]Tier) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.tiers = tiers
}

// Tier returns the definition of name, falling back to the free tier.
func (a *Assistant) Tier(name TierName) Tier {
	a.mu.RLock()
	defer a.mu.RUnlock()
	if t, ok := a.tiers[name]; ok {
		return t
	}
	return a.tiers[TierFree]
}

// ResolveModel picks the model a turn will use: the requested one if the
// tier allows it and it is configured, otherwise the first configured model
// the tier allows.
func (a *Assistant) ResolveModel(tier TierName, requested string) (string, llm.Provider, error) {
	t := a.Tier(tier)
	if t.Allows(requested) {
		if p, ok := a.llms[requested]; ok {
			return requested, p, nil
		}
	}
	for _, key := range t.AllowedModels {
		if p, ok := a.llms[key]; ok {
			return key, p, nil
		}
	}
	return "", nil, fmt.Errorf("%w for tier %s", ErrNoModel, tier)
}

// Respond runs a full cycle for turn: a thinking notice for spoken
// requests, the completion, the text mirror and, with a sink, the spoken
// reply.
func (a *Assistant) Respond(ctx context.Context, turn Turn) (err error) {
	ctx, span := observe.StartSpan(ctx, "assistant.respond")
	defer func() { observe.EndSpan(span, err) }()
	span.SetAttributes(
		attribute.String("guild.id", turn.GuildID),
		attribute.Bool("voice.input", turn.VoiceInput),
	)

	if turn.VoiceInput {
		a.post(ctx, turn.ChannelID, ThinkingResponse())
	}

	tier := a.Tier(turn.Tier)
	if tier.Streaming && turn.Sink != nil {
		return a.respondStreaming(ctx, turn, tier)
	}

	reply, err := a.complete(ctx, turn, turn.Prompt)
	if err != nil {
		return err
	}
	if err := a.poster.Post(ctx, turn.ChannelID, reply); err != nil {
		return fmt.Errorf("assistant: post reply: %w", err)
	}
	if turn.Sink == nil {
		return nil
	}

	spoken := reply
	if len(reply) > a.longReply {
		summary, err := a.complete(ctx, turn, summaryPrompt+reply)
		if err != nil {
			return fmt.Errorf("assistant: summarise long reply: %w", err)
		}
		spoken = "Here's a summary: " + summary + "\nCheck the chat for the complete response."
	}
	return a.speak(ctx, turn, spoken)
}

// Reply answers a text message without speaking. The reply is returned,
// not posted.
func (a *Assistant) Reply(ctx context.Context, turn Turn) (string, error) {
	ctx, span := observe.StartSpan(ctx, "assistant.reply")
	reply, err := a.complete(ctx, turn, turn.Prompt)
	observe.EndSpan(span, err)
	return reply, err
}

// Speak synthesises text and plays it on turn.Sink.
func (a *Assistant) Speak(ctx context.Context, turn Turn, text string) error {
	if turn.Sink == nil {
		return errors.New("assistant: turn has no sink")
	}
	return a.speak(ctx, turn, text)
}

// respondStreaming speaks each sentence as soon as it is complete and
// posts the whole reply at the end.
func (a *Assistant) respondStreaming(ctx context.Context, turn Turn, tier Tier) error {
	key, provider, err := a.ResolveModel(turn.Tier, turn.Model)
	if err != nil {
		return err
	}

	llmCtx, cancel := context.WithTimeout(ctx, a.llmTimeout)
	defer cancel()

	start := time.Now()
	chunks, err := provider.StreamCompletion(llmCtx, a.request(tier, turn.Prompt))
	if err != nil {
		a.recordLLM(ctx, key, time.Since(start), err)
		return fmt.Errorf("assistant: stream completion: %w", err)
	}

	stream := readSentences(llmCtx, chunks, func(err error) {
		a.recordLLM(ctx, key, time.Since(start), err)
	})

	spokeAny := false
	for {
		sentence, err := stream.next(ctx)
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return fmt.Errorf("assistant: stream completion: %w", err)
		}
		// A failed speak returns and the deferred cancel ends the stream.
		if err := a.speak(ctx, turn, sentence); err != nil {
			return err
		}
		spokeAny = true
	}
	if !spokeAny {
		return ErrEmptyReply
	}
	if err := a.poster.Post(ctx, turn.ChannelID, stream.Text()); err != nil {
		return fmt.Errorf("assistant: post reply: %w", err)
	}
	return nil
}

func (a *Assistant) complete(ctx context.Context, turn Turn, prompt string) (string, error) {
	key, provider, err := a.ResolveModel(turn.Tier, turn.Model)
	if err != nil {
		return "", err
	}
	tier := a.Tier(turn.Tier)

	ctx, cancel := context.WithTimeout(ctx, a.llmTimeout)
	defer cancel()

	start := time.Now()
	resp, err := provider.Complete(ctx, a.request(tier, prompt))
	a.recordLLM(ctx, key, time.Since(start), err)
	if err != nil {
		return "", fmt.Errorf("assistant: complete with %s: %w", key, err)
	}
	if resp == nil || resp.Content == "" {
		return "", ErrEmptyReply
	}
	return resp.Content, nil
}

func (a *Assistant) request(tier Tier, prompt string) llm.CompletionRequest {
	return llm.CompletionRequest{
		Messages:     []llm.Message{{Role: llm.RoleUser, Content: prompt}},
		Temperature:  Temperature,
		MaxTokens:    tier.MaxTokens,
		SystemPrompt: a.systemPrompt,
	}
}

func (a *Assistant) speak(ctx context.Context, turn Turn, text string) error {
	if a.tts == nil || a.player == nil {
		return errors.New("assistant: voice output is not configured")
	}
	provider := turn.TTSProvider
	if provider == "" {
		provider = a.Tier(turn.Tier).TTSProvider
	}
	path, err := a.tts.Synthesize(ctx, resilience.TTSRequest{
		Text:       text,
		Provider:   provider,
		Premium:    turn.Tier == TierPremium,
		VoiceInput: turn.VoiceInput,
		Voice:      turn.Voice,
	})
	if err != nil {
		return fmt.Errorf("assistant: synthesize: %w", err)
	}
	if err := a.player.Play(ctx, playback.Job{Path: path, Sink: turn.Sink}); err != nil {
		return fmt.Errorf("assistant: play: %w", err)
	}
	return nil
}

// post sends a best-effort notice; failures are only logged.
func (a *Assistant) post(ctx context.Context, channelID, content string) {
	if err := a.poster.Post(ctx, channelID, content); err != nil {
		slog.Warn("assistant: post notice", "channel_id", channelID, "err", err)
	}
}

func (a *Assistant) recordLLM(ctx context.Context, key string, d time.Duration, err error) {
	if a.metrics == nil {
		return
	}
	status := "ok"
	if err != nil {
		status = "error"
		a.metrics.RecordProviderError(ctx, key, "llm")
	}
	a.metrics.RecordProviderRequest(ctx, key, "llm", status)
	a.metrics.LLMDuration.Record(ctx, d.Seconds(), metric.WithAttributes(attribute.String("model", key)))
}
