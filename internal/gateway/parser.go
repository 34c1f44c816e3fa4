package gateway

import (
	"encoding/json"
	"fmt"
	"regexp"
	"strings"

	"shopassist/internal/dispatch"
	"shopassist/internal/domain"
	"shopassist/internal/metrics"
)

// The generation model is asked for a bare JSON object but routinely wraps
// it in prose, code fences, or almost-JSON. ParseResponse finds the first
// top-level {...} span, tries a strict decode, repairs once on failure, and
// falls back to a clarifying question rather than ever failing the turn.

const (
	defaultAssistantMessage = "I've updated your results — anything else I can help you find?"
	clarifyMessage          = "I didn't quite catch that — could you tell me a bit more about what you're looking for?"
	outOfStockMessage       = "The items you asked about are out of stock right now, but I can suggest some similar alternatives if you'd like."
)

// rawTurn is the wire shape of the model reply. Array and map fields decode
// leniently: anything malformed collapses to empty rather than erroring.
type rawTurn struct {
	AssistantMessage  string          `json:"assistant_message"`
	SuggestedProducts json.RawMessage `json:"suggested_products"`
	Actions           json.RawMessage `json:"actions"`
	MemoryUpdates     json.RawMessage `json:"memory_updates"`
	ToolCalls         json.RawMessage `json:"tool_calls"`
}

// rawToolCall mirrors the function-call wire shape. Arguments arrive as an
// object or as a JSON-encoded string depending on the upstream model.
type rawToolCall struct {
	ID        string          `json:"id"`
	Name      string          `json:"name"`
	Arguments json.RawMessage `json:"arguments"`
}

// ParseResponse turns a raw completion blob into a valid AssistantTurn.
func ParseResponse(raw string) domain.AssistantTurn {
	content := strings.TrimSpace(raw)

	// Strip markdown code fences if present.
	if strings.HasPrefix(content, "```") {
		lines := strings.Split(content, "\n")
		if len(lines) >= 3 && strings.HasPrefix(lines[len(lines)-1], "```") {
			content = strings.TrimSpace(strings.Join(lines[1:len(lines)-1], "\n"))
		}
	}

	start, end := findJSONBounds(content)
	if start < 0 {
		metrics.ParseFallbacks.Inc()
		return clarifyTurn()
	}
	candidate := content[start:end]

	var rt rawTurn
	if err := json.Unmarshal([]byte(candidate), &rt); err != nil {
		repaired := repairJSON(candidate)
		if err := json.Unmarshal([]byte(repaired), &rt); err != nil {
			metrics.ParseFallbacks.Inc()
			return clarifyTurn()
		}
		metrics.ParseRepairs.Inc()
	}

	return normalizeTurn(rt)
}

// findJSONBounds locates the first top-level JSON object in s.
// Returns the start index and end+1 index, or (-1, -1) if not found.
func findJSONBounds(s string) (int, int) {
	start := strings.IndexByte(s, '{')
	if start < 0 {
		return -1, -1
	}

	depth := 0
	inStr := false
	for i := start; i < len(s); i++ {
		ch := s[i]
		if inStr {
			if ch == '\\' {
				i++ // skip escaped character
				continue
			}
			if ch == '"' {
				inStr = false
			}
			continue
		}
		switch ch {
		case '"':
			inStr = true
		case '{':
			depth++
		case '}':
			depth--
			if depth == 0 {
				return start, i + 1
			}
		}
	}
	return -1, -1
}

var (
	singleQuotedRe  = regexp.MustCompile(`'[^']*'\s*[:,}\]]|:\s*'`)
	bareKeyRe       = regexp.MustCompile(`([{,]\s*)([A-Za-z_][A-Za-z0-9_]*)\s*:`)
	trailingCommaRe = regexp.MustCompile(`,\s*([}\]])`)
	smartQuotes     = strings.NewReplacer("“", `"`, "”", `"`, "‘", "'", "’", "'")
)

// repairJSON is the best-effort pass over almost-JSON: normalize quote
// characters, quote bare keys, strip trailing commas. Applied at most once.
func repairJSON(s string) string {
	s = smartQuotes.Replace(s)
	if singleQuotedRe.MatchString(s) {
		s = strings.ReplaceAll(s, "'", `"`)
	}
	s = bareKeyRe.ReplaceAllString(s, `$1"$2":`)
	s = trailingCommaRe.ReplaceAllString(s, "$1")
	return s
}

func normalizeTurn(rt rawTurn) domain.AssistantTurn {
	turn := domain.AssistantTurn{
		Message:           strings.TrimSpace(rt.AssistantMessage),
		SuggestedProducts: []domain.SuggestedProduct{},
		Actions:           []string{},
		MemoryUpdates:     map[string]string{},
	}

	if len(rt.SuggestedProducts) > 0 {
		var products []domain.SuggestedProduct
		if err := json.Unmarshal(rt.SuggestedProducts, &products); err == nil && products != nil {
			turn.SuggestedProducts = products
		}
	}
	if len(rt.Actions) > 0 {
		var actions []string
		if err := json.Unmarshal(rt.Actions, &actions); err == nil && actions != nil {
			turn.Actions = actions
		}
	}
	if len(rt.MemoryUpdates) > 0 {
		var updates map[string]string
		if err := json.Unmarshal(rt.MemoryUpdates, &updates); err == nil && updates != nil {
			turn.MemoryUpdates = updates
		}
	}

	// Explicit tool_calls win over the action shorthand when both appear.
	turn.ToolCalls = explicitToolCalls(rt.ToolCalls)
	if len(turn.ToolCalls) == 0 {
		turn.ToolCalls = actionToolCalls(turn.Actions)
	}

	if turn.Message == "" {
		if hasAction(turn.Actions, domain.ActionRequestAlternatives) && len(turn.SuggestedProducts) == 0 {
			turn.Message = outOfStockMessage
		} else {
			turn.Message = defaultAssistantMessage
		}
	}

	return turn
}

// explicitToolCalls decodes a model-emitted tool_calls array. Unknown tool
// names are dropped before the dispatcher ever sees them.
func explicitToolCalls(raw json.RawMessage) []domain.ToolCall {
	if len(raw) == 0 {
		return nil
	}
	var rcs []rawToolCall
	if err := json.Unmarshal(raw, &rcs); err != nil {
		return nil
	}
	var calls []domain.ToolCall
	for i, rc := range rcs {
		if !knownTool(rc.Name) {
			continue
		}
		id := rc.ID
		if id == "" {
			id = fmt.Sprintf("call_%d", i)
		}
		calls = append(calls, domain.ToolCall{
			ID:        id,
			Name:      rc.Name,
			Arguments: decodeArgs(rc.Arguments),
		})
	}
	return calls
}

// decodeArgs collapses both argument shapes to the dispatcher's canonical
// mapping, empty on decode failure.
func decodeArgs(raw json.RawMessage) map[string]any {
	if len(raw) == 0 {
		return map[string]any{}
	}
	var text string
	if err := json.Unmarshal(raw, &text); err == nil {
		return dispatch.TextArgs(text).Normalize()
	}
	var m map[string]any
	if err := json.Unmarshal(raw, &m); err != nil || m == nil {
		return map[string]any{}
	}
	return dispatch.ParsedArgs(m).Normalize()
}

func knownTool(name string) bool {
	switch name {
	case domain.ToolSearchProducts, domain.ToolShowProduct,
		domain.ToolAddToCart, domain.ToolRemoveFromCart, domain.ToolOpenCheckout:
		return true
	}
	return false
}

// actionToolCalls maps the model's action strings onto dispatcher tool
// calls. Actions may carry an argument after a colon, e.g. "SHOW_PRODUCT:42".
// Unknown actions map to nothing; the dispatcher never sees them.
func actionToolCalls(actions []string) []domain.ToolCall {
	var calls []domain.ToolCall
	for i, a := range actions {
		verb, arg, _ := strings.Cut(a, ":")
		verb = strings.ToUpper(strings.TrimSpace(verb))
		arg = strings.TrimSpace(arg)

		call := domain.ToolCall{
			ID:        fmt.Sprintf("action_%d", i),
			Arguments: map[string]any{},
		}
		switch verb {
		case domain.ActionBeginCheckout:
			call.Name = domain.ToolOpenCheckout
		case "SEARCH_PRODUCTS":
			call.Name = domain.ToolSearchProducts
			if arg != "" {
				call.Arguments["query"] = arg
			}
		case "SHOW_PRODUCT":
			call.Name = domain.ToolShowProduct
			if arg != "" {
				call.Arguments["id"] = arg
			}
		case "ADD_TO_CART":
			call.Name = domain.ToolAddToCart
			if arg != "" {
				call.Arguments["id"] = arg
			}
		case "REMOVE_FROM_CART":
			call.Name = domain.ToolRemoveFromCart
			if arg != "" {
				call.Arguments["id"] = arg
			}
		default:
			// REQUEST_ALTERNATIVES and anything unrecognized stay
			// message-level; there is no catalog side effect to run.
			continue
		}
		calls = append(calls, call)
	}
	return calls
}

func hasAction(actions []string, want string) bool {
	for _, a := range actions {
		verb, _, _ := strings.Cut(a, ":")
		if strings.EqualFold(strings.TrimSpace(verb), want) {
			return true
		}
	}
	return false
}

func clarifyTurn() domain.AssistantTurn {
	return domain.AssistantTurn{
		Message:           clarifyMessage,
		SuggestedProducts: []domain.SuggestedProduct{},
		Actions:           []string{},
		MemoryUpdates:     map[string]string{},
	}
}
