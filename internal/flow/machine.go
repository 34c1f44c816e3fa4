package flow

import (
	"log/slog"
	"regexp"
	"sync"

	"shopassist/internal/domain"
)

// The text heuristic and the tool-call pass are two deliberately redundant
// state updaters: the generation service sometimes narrates intent in prose
// without emitting the matching tool call, and vice versa. Availability wins
// over strict consistency; the tool-call pass runs second and wins ties.

var (
	greetingRe  = regexp.MustCompile(`(?i)\b(hi|hello|hey|good (morning|afternoon|evening)|help me get started|what can you do)\b`)
	checkoutRe  = regexp.MustCompile(`(?i)\b(check\s?out|buy now|purchase|place (my |the )?order|complete (my |the )?order|proceed to payment)\b`)
	cartRe      = regexp.MustCompile(`(?i)\b(cart|basket|my items|shopping bag)\b`)
	compareRe   = regexp.MustCompile(`(?i)\b(compare|comparison|recommend|recommendation|suggest|which (one )?is (better|best)|best)\b`)
	attributeRe = regexp.MustCompile(`(?i)\b(features?|specs?|specifications?|price|color|colour|size|battery|warranty|material)\b`)
)

// TextResult is the outcome of one heuristic pass over raw message text.
type TextResult struct {
	State    domain.FlowState
	Category string // non-empty when the text named a known category
}

// NextFromText is the pure text-driven transition: (state, text) -> state.
// Unmatched text leaves the state unchanged, which is the implicit
// "continue current context" policy.
func NextFromText(vocab *Vocabulary, current domain.FlowState, text string) TextResult {
	switch {
	case greetingRe.MatchString(text):
		return TextResult{State: domain.FlowInitial}
	case checkoutRe.MatchString(text):
		return TextResult{State: domain.FlowCheckout}
	case cartRe.MatchString(text):
		return TextResult{State: domain.FlowCart}
	}

	if cat, ok := vocab.Match(text); ok {
		return TextResult{State: domain.FlowBrowsingProducts, Category: cat}
	}

	if compareRe.MatchString(text) {
		if current == domain.FlowBrowsingProducts || current == domain.FlowViewingProduct {
			return TextResult{State: current}
		}
		return TextResult{State: domain.FlowBrowsingProducts}
	}

	// Attribute questions while viewing a product keep the state sticky.
	if attributeRe.MatchString(text) && current == domain.FlowViewingProduct {
		return TextResult{State: current}
	}

	return TextResult{State: current}
}

// NextFromTool is the pure tool-driven transition, applied after dispatch.
// inCartView reports whether the UI panel currently shows the cart, which is
// the only case where a cart mutation pulls the flow into the cart stage.
func NextFromTool(current domain.FlowState, toolName string, inCartView bool) domain.FlowState {
	switch toolName {
	case domain.ToolShowProduct:
		return domain.FlowViewingProduct
	case domain.ToolAddToCart, domain.ToolRemoveFromCart:
		if inCartView {
			return domain.FlowCart
		}
		return current
	case domain.ToolOpenCheckout:
		return domain.FlowCheckout
	}
	return current
}

// Machine tracks one session's shopping stage. It is revisited every turn;
// no state is terminal.
type Machine struct {
	mu           sync.Mutex
	state        domain.FlowState
	lastCategory string
	vocab        *Vocabulary
	logger       *slog.Logger
}

func NewMachine(vocab *Vocabulary, logger *slog.Logger) *Machine {
	if vocab == nil {
		vocab = DefaultVocabulary()
	}
	return &Machine{
		state:  domain.FlowInitial,
		vocab:  vocab,
		logger: logger,
	}
}

func (m *Machine) State() domain.FlowState {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

func (m *Machine) LastCategory() string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.lastCategory
}

func (m *Machine) Vocabulary() *Vocabulary {
	return m.vocab
}

// ApplyText runs the heuristic pass over user or assistant text.
func (m *Machine) ApplyText(text string) domain.FlowState {
	m.mu.Lock()
	defer m.mu.Unlock()

	res := NextFromText(m.vocab, m.state, text)
	if res.Category != "" {
		m.lastCategory = res.Category
	}
	if res.State != m.state {
		m.logger.Debug("flow state changed by text", "from", m.state, "to", res.State, "category", res.Category)
		m.state = res.State
	}
	return m.state
}

// ApplyTool runs the dispatcher pass after a tool call executed.
func (m *Machine) ApplyTool(toolName string, inCartView bool) domain.FlowState {
	m.mu.Lock()
	defer m.mu.Unlock()

	next := NextFromTool(m.state, toolName, inCartView)
	if next != m.state {
		m.logger.Debug("flow state changed by tool", "from", m.state, "to", next, "tool", toolName)
		m.state = next
	}
	return m.state
}

// RecordCategory notes a category explicitly, e.g. when a search term names
// one. Returns the canonical name and whether the term was recognized.
func (m *Machine) RecordCategory(term string) (string, bool) {
	cat, ok := m.vocab.MatchTerm(term)
	if !ok {
		return "", false
	}
	m.mu.Lock()
	m.lastCategory = cat
	m.mu.Unlock()
	return cat, true
}

// Reset returns the machine to the initial stage for a fresh session.
func (m *Machine) Reset() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.state = domain.FlowInitial
	m.lastCategory = ""
}
