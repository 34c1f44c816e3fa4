package gateway

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"shopassist/internal/domain"
	"shopassist/internal/metrics"
)

const (
	fallbackReason         = "popular pick from our catalog"
	troubleMessage         = "I'm having trouble connecting right now — please try again in a moment."
	fallbackWithProducts   = "I couldn't reach my full brain just now, but here are a few options worth a look:"
	maxFallbackSuggestions = 3
)

// Gateway turns a user utterance plus context into a safe, well-formed
// AssistantTurn. It never returns an error: every failure mode (guardrail
// trip, missing client, transport error, malformed reply) degrades to a
// valid turn, because a conversational surface must always have something
// to say.
type Gateway struct {
	client      domain.CompletionClient // nil when no credentials are configured
	guard       *Guardrails
	prompt      *PromptBuilder
	limiter     *rateLimiter
	model       string
	maxTokens   int
	temperature float64
	logger      *slog.Logger
}

type Config struct {
	Client      domain.CompletionClient
	StoreName   string
	Model       string
	MaxTokens   int
	Temperature float64
	RateBurst   int
	RatePerMin  float64
	Logger      *slog.Logger
}

func New(cfg Config) *Gateway {
	if cfg.MaxTokens <= 0 {
		cfg.MaxTokens = 800
	}
	if cfg.Temperature <= 0 {
		cfg.Temperature = 0.7
	}
	return &Gateway{
		client:      cfg.Client,
		guard:       NewGuardrails(cfg.Logger),
		prompt:      NewPromptBuilder(cfg.StoreName, cfg.Logger),
		limiter:     newRateLimiter(cfg.RateBurst, cfg.RatePerMin),
		model:       cfg.Model,
		maxTokens:   cfg.MaxTokens,
		temperature: cfg.Temperature,
		logger:      cfg.Logger,
	}
}

// Generate produces the assistant turn for one user message.
func (g *Gateway) Generate(ctx context.Context, userMessage string, gctx Context, candidates []domain.ProductSummary) domain.AssistantTurn {
	if g.guard.Blocked(userMessage) {
		return RefusalTurn()
	}

	if g.client == nil {
		g.logger.Warn("completion client unavailable, serving fallback turn")
		return g.fallbackTurn(candidates)
	}

	// Local rate-limit exhaustion degrades the same way as a remote 429.
	if !g.limiter.allow() {
		g.logger.Warn("completion rate limit exhausted, serving fallback turn")
		metrics.CompletionErrors.Inc()
		return g.fallbackTurn(candidates)
	}

	start := time.Now()
	raw, err := g.client.Complete(ctx, domain.CompletionRequest{
		Messages:    g.prompt.BuildMessages(userMessage, gctx, candidates),
		Model:       g.model,
		MaxTokens:   g.maxTokens,
		Temperature: g.temperature,
	})
	metrics.CompletionLatency.Observe(time.Since(start).Seconds())
	if err != nil {
		g.logger.Error("completion failed, serving fallback turn", "error", err)
		metrics.CompletionErrors.Inc()
		return g.fallbackTurn(candidates)
	}

	return ParseResponse(raw)
}

// fallbackTurn is the deterministic answer when the remote service cannot
// help: surface a few candidates if we have them, otherwise admit trouble.
func (g *Gateway) fallbackTurn(candidates []domain.ProductSummary) domain.AssistantTurn {
	turn := domain.AssistantTurn{
		Message:           troubleMessage,
		SuggestedProducts: []domain.SuggestedProduct{},
		Actions:           []string{},
		MemoryUpdates:     map[string]string{},
	}
	if len(candidates) == 0 {
		return turn
	}

	turn.Message = fallbackWithProducts
	for i, c := range candidates {
		if i >= maxFallbackSuggestions {
			break
		}
		turn.SuggestedProducts = append(turn.SuggestedProducts, domain.SuggestedProduct{
			ProductID: c.ID,
			Reason:    fallbackReason,
		})
	}
	return turn
}

// BuildPrompt exposes the assembled system prompt, mainly for diagnostics.
func (g *Gateway) BuildPrompt(gctx Context, candidates []domain.ProductSummary) string {
	return g.prompt.BuildSystemPrompt(gctx, candidates)
}

// rateLimiter is a token bucket throttling remote completion calls. allow
// is non-blocking: an empty bucket degrades the turn instead of queueing it.
type rateLimiter struct {
	mu       sync.Mutex
	tokens   float64
	max      float64
	rate     float64 // tokens per second
	lastTime time.Time
}

func newRateLimiter(maxBurst int, ratePerMinute float64) *rateLimiter {
	if maxBurst <= 0 {
		maxBurst = 5
	}
	if ratePerMinute <= 0 {
		ratePerMinute = 30
	}
	return &rateLimiter{
		tokens:   float64(maxBurst),
		max:      float64(maxBurst),
		rate:     ratePerMinute / 60.0,
		lastTime: time.Now(),
	}
}

func (rl *rateLimiter) allow() bool {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	now := time.Now()
	elapsed := now.Sub(rl.lastTime).Seconds()
	rl.tokens += elapsed * rl.rate
	if rl.tokens > rl.max {
		rl.tokens = rl.max
	}
	rl.lastTime = now

	if rl.tokens >= 1.0 {
		rl.tokens -= 1.0
		return true
	}
	return false
}
