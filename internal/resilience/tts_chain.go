package resilience

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	"github.com/MrWong99/voxbridge/internal/observe"
	"github.com/MrWong99/voxbridge/pkg/audio"
	"github.com/MrWong99/voxbridge/pkg/provider/tts"
)

var (
	// ErrAllProvidersFailed is wrapped by every [ExhaustedError].
	ErrAllProvidersFailed = errors.New("resilience: all TTS providers failed")

	// ErrEmptyText is returned when a synthesis request carries no text.
	ErrEmptyText = errors.New("resilience: text must not be empty")
)

// TTSRequest is one synthesis request.
type TTSRequest struct {
	// Text is spoken verbatim.
	Text string

	// Provider is the preferred provider ID; it is tried first. Unknown or
	// empty IDs keep the configured order.
	Provider string

	// Premium marks requests from premium-tier users.
	Premium bool

	// VoiceInput marks requests that answer a spoken question.
	VoiceInput bool

	// Voice is forwarded to every provider.
	Voice tts.Voice
}

// TTSProviderSpec binds a provider ID to its backend and retry policy.
type TTSProviderSpec struct {
	ID       string
	Provider tts.Provider
	Retry    RetryPolicy
}

// ExhaustedError is returned when every provider in the order failed or was
// skipped.
type ExhaustedError struct {
	// Last is the error of the last provider tried.
	Last error

	// Tried lists every provider in the order they were considered.
	Tried []string

	// Attempts is the total number of backend calls made.
	Attempts int
}

func (e *ExhaustedError) Error() string {
	return fmt.Sprintf("resilience: all TTS providers failed after %d attempts (tried %s): last error: %v",
		e.Attempts, strings.Join(e.Tried, ", "), e.Last)
}

// Unwrap exposes both [ErrAllProvidersFailed] and the last provider error.
func (e *ExhaustedError) Unwrap() []error {
	return []error{ErrAllProvidersFailed, e.Last}
}

// ChainOption configures a [TTSChain].
type ChainOption func(*TTSChain)

// WithScratchDir sets where synthesized WAV files are written. Defaults to
// os.TempDir()/voxbridge.
func WithScratchDir(dir string) ChainOption {
	return func(c *TTSChain) { c.scratchDir = dir }
}

// WithMetrics records per-provider requests and overall latency.
func WithMetrics(m *observe.Metrics) ChainOption {
	return func(c *TTSChain) { c.metrics = m }
}

// WithBreakerConfig sets the template for the per-provider circuit breakers.
// The Name field is replaced by the provider ID.
func WithBreakerConfig(cfg CircuitBreakerConfig) ChainOption {
	return func(c *TTSChain) { c.breakerCfg = cfg }
}

// TTSChain synthesizes speech by trying providers in a configured order.
type TTSChain struct {
	scratchDir string
	metrics    *observe.Metrics
	breakerCfg CircuitBreakerConfig
	sleep      sleepFunc

	specs    map[string]TTSProviderSpec
	breakers map[string]*CircuitBreaker

	mu    sync.RWMutex
	order []string
}

// NewTTSChain builds a chain whose static order is the order of specs.
func NewTTSChain(specs []TTSProviderSpec, opts ...ChainOption) (*TTSChain, error) {
	if len(specs) == 0 {
		return nil, errors.New("resilience: at least one TTS provider is required")
	}
	c := &TTSChain{
		scratchDir: filepath.Join(os.TempDir(), "voxbridge"),
		sleep:      sleepCtx,
		specs:      make(map[string]TTSProviderSpec, len(specs)),
		breakers:   make(map[string]*CircuitBreaker, len(specs)),
	}
	for _, o := range opts {
		o(c)
	}
	for _, s := range specs {
		if s.ID == "" || s.Provider == nil {
			return nil, fmt.Errorf("resilience: TTS provider spec %q is incomplete", s.ID)
		}
		if _, dup := c.specs[s.ID]; dup {
			return nil, fmt.Errorf("resilience: duplicate TTS provider %q", s.ID)
		}
		c.specs[s.ID] = s
		bc := c.breakerCfg
		bc.Name = "tts/" + s.ID
		c.breakers[s.ID] = NewCircuitBreaker(bc)
		c.order = append(c.order, s.ID)
	}
	return c, nil
}

// Order returns a copy of the configured order with requested moved to the
// front. The configured order itself is never modified.
func (c *TTSChain) Order(requested string) []string {
	c.mu.RLock()
	order := slices.Clone(c.order)
	c.mu.RUnlock()

	i := slices.Index(order, requested)
	if i <= 0 {
		return order
	}
	copy(order[1:i+1], order[:i])
	order[0] = requested
	return order
}

// SetOrder replaces the configured order. Every ID must be registered and
// appear at most once; registered providers left out are no longer used.
func (c *TTSChain) SetOrder(ids []string) error {
	if len(ids) == 0 {
		return errors.New("resilience: TTS order must not be empty")
	}
	seen := make(map[string]bool, len(ids))
	for _, id := range ids {
		if _, ok := c.specs[id]; !ok {
			return fmt.Errorf("resilience: unknown TTS provider %q", id)
		}
		if seen[id] {
			return fmt.Errorf("resilience: TTS provider %q listed twice", id)
		}
		seen[id] = true
	}
	c.mu.Lock()
	c.order = slices.Clone(ids)
	c.mu.Unlock()
	return nil
}

// Breaker returns the circuit breaker guarding provider id, or nil.
func (c *TTSChain) Breaker(id string) *CircuitBreaker {
	return c.breakers[id]
}

// Synthesize produces speech for req and writes it to a new WAV file in the
// scratch directory. The caller owns the returned file.
func (c *TTSChain) Synthesize(ctx context.Context, req TTSRequest) (path string, err error) {
	if strings.TrimSpace(req.Text) == "" {
		return "", ErrEmptyText
	}

	ctx, span := observe.StartSpan(ctx, "tts.synthesize")
	defer func() { observe.EndSpan(span, err) }()

	start := time.Now()
	wav, provider, err := c.synthesize(ctx, req)
	if c.metrics != nil {
		c.metrics.TTSDuration.Record(ctx, time.Since(start).Seconds(),
			metric.WithAttributes(attribute.Bool("ok", err == nil)))
	}
	if err != nil {
		return "", err
	}
	span.SetAttributes(attribute.String("tts.provider", provider))

	if err := os.MkdirAll(c.scratchDir, 0o755); err != nil {
		return "", fmt.Errorf("resilience: create scratch dir: %w", err)
	}
	path = filepath.Join(c.scratchDir, uuid.NewString()+".wav")
	if err := os.WriteFile(path, wav, 0o600); err != nil {
		return "", fmt.Errorf("resilience: write audio: %w", err)
	}
	return path, nil
}

func (c *TTSChain) synthesize(ctx context.Context, req TTSRequest) ([]byte, string, error) {
	order := c.Order(req.Provider)
	log := observe.Logger(ctx).With("requested_provider", req.Provider, "premium", req.Premium)
	log.Debug("tts fallback order", "order", order)

	var (
		lastErr  error
		attempts int
	)
	for i, id := range order {
		spec := c.specs[id]
		var wav []byte
		err := c.breakers[id].Execute(func() error {
			return spec.Retry.do(ctx, c.sleep, func(ctx context.Context) error {
				attempts++
				out, err := spec.Provider.Synthesize(ctx, req.Text, req.Voice)
				if err == nil && !hasAudio(out) {
					err = tts.ErrEmptyAudio
				}
				c.recordAttempt(ctx, id, err)
				if err != nil {
					log.Warn("tts attempt failed", "provider", id, "attempt", attempts, "err", err)
					return err
				}
				wav = out
				return nil
			})
		})
		if err == nil {
			log.Info("tts succeeded", "provider", id, "attempts", attempts)
			return wav, id, nil
		}

		lastErr = fmt.Errorf("%s: %w", id, err)
		next := "none"
		if i+1 < len(order) {
			next = order[i+1]
		}
		if errors.Is(err, ErrCircuitOpen) {
			log.Info("tts provider skipped, circuit open", "provider", id, "next", next)
		} else {
			log.Warn("tts provider failed", "provider", id, "next", next, "err", err)
		}
		if ctx.Err() != nil {
			return nil, "", &ExhaustedError{Last: lastErr, Tried: order[:i+1], Attempts: attempts}
		}
	}

	exhausted := &ExhaustedError{Last: lastErr, Tried: order, Attempts: attempts}
	log.Error("all tts providers failed", "tried", order, "attempts", attempts, "err", lastErr)
	return nil, "", exhausted
}

func (c *TTSChain) recordAttempt(ctx context.Context, provider string, err error) {
	if c.metrics == nil {
		return
	}
	status := "ok"
	if err != nil {
		status = "error"
		c.metrics.RecordProviderError(ctx, provider, "tts")
	}
	c.metrics.RecordProviderRequest(ctx, provider, "tts", status)
}

// hasAudio reports whether wav holds at least one sample beyond the header.
func hasAudio(wav []byte) bool {
	return len(wav) > audio.WAVHeaderSize
}
