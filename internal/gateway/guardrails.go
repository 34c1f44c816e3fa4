package gateway

import (
	"log/slog"
	"regexp"

	"shopassist/internal/domain"
	"shopassist/internal/metrics"
)

// Guardrails is the pre-send check that keeps sensitive payment data out of
// the chat. A trip never reaches the remote generation service: the gateway
// answers with a fixed refusal that redirects the user into the proper
// secure checkout flow instead.
type Guardrails struct {
	patterns []*regexp.Regexp
	logger   *slog.Logger
}

// The pattern set mirrors what a storefront must never discuss in chat:
// card numbers (spaced, dashed, or bare), CVV/CVC codes, one-time passwords
// and verification codes, national identifiers, and passwords.
var sensitivePatterns = []string{
	`\b(?:\d[ -]?){13,19}\b`,
	`(?i)\b(?:cvv2?|cvc|security\s+code)\b`,
	`(?i)\b(?:otp|one[- ]time\s+(?:password|code)|verification\s+code|2fa\s+code)\b`,
	`(?i)\b(?:ssn|social\s+security|national\s+id|passport\s+number|tax\s+id)\b`,
	`(?i)\b(?:password|passcode|pin\s+(?:code|number))\b`,
	`(?i)\b(?:card\s+number|credit\s+card\s+details|expiry\s+date|expiration\s+date)\b`,
}

func NewGuardrails(logger *slog.Logger) *Guardrails {
	compiled := make([]*regexp.Regexp, 0, len(sensitivePatterns))
	for _, p := range sensitivePatterns {
		compiled = append(compiled, regexp.MustCompile(p))
	}
	return &Guardrails{patterns: compiled, logger: logger}
}

// Blocked reports whether the message matches any sensitive-data pattern.
func (g *Guardrails) Blocked(message string) bool {
	for _, re := range g.patterns {
		if re.MatchString(message) {
			g.logger.Warn("message blocked by guardrail", "pattern", re.String())
			metrics.GuardrailBlocks.Inc()
			return true
		}
	}
	return false
}

const refusalMessage = "I can't help with card numbers, verification codes, or passwords here in chat — " +
	"and I'll never ask for them. Let's get you to our secure checkout instead, where your payment details stay protected."

// RefusalTurn is the fixed turn returned on a guardrail trip. It carries a
// checkout redirect so the conversation lands in the proper secure flow.
func RefusalTurn() domain.AssistantTurn {
	return domain.AssistantTurn{
		Message:           refusalMessage,
		SuggestedProducts: []domain.SuggestedProduct{},
		Actions:           []string{domain.ActionBeginCheckout},
		MemoryUpdates:     map[string]string{},
		ToolCalls: []domain.ToolCall{{
			ID:        "guardrail-checkout",
			Name:      domain.ToolOpenCheckout,
			Arguments: map[string]any{},
		}},
	}
}
