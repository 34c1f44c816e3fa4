package domain

import "time"

type Role string

const (
	RoleSystem    Role = "system"
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// Message is one entry in a session's conversation log. The log is
// append-only; timestamps are non-decreasing within a conversation.
type Message struct {
	ID        string     `json:"id"`
	Role      Role       `json:"role"`
	Content   string     `json:"content"`
	Timestamp time.Time  `json:"timestamp"`
	ToolCalls []ToolCall `json:"tool_calls,omitempty"`
}

// Tool names the assistant may emit. Anything else is logged and skipped.
const (
	ToolSearchProducts = "searchProducts"
	ToolShowProduct    = "showProduct"
	ToolAddToCart      = "addToCart"
	ToolRemoveFromCart = "removeFromCart"
	ToolOpenCheckout   = "openCheckout"
)

type ToolCall struct {
	ID        string         `json:"id"`
	Name      string         `json:"name"`
	Arguments map[string]any `json:"arguments"`
}

// Action strings the generation model emits in its reply. The gateway maps
// them onto tool calls before the dispatcher sees the turn.
const (
	ActionBeginCheckout       = "BEGIN_CHECKOUT"
	ActionRequestAlternatives = "REQUEST_ALTERNATIVES"
)

// SuggestedProduct is one product recommendation inside an assistant turn.
type SuggestedProduct struct {
	ProductID string `json:"productId"`
	Reason    string `json:"reason"`
}

// AssistantTurn is the normalized result of one generation round trip.
// Every gateway code path, including all failure branches, produces a valid
// turn: a conversational surface must always have something to say.
type AssistantTurn struct {
	Message           string             `json:"assistant_message"`
	SuggestedProducts []SuggestedProduct `json:"suggested_products"`
	Actions           []string           `json:"actions"`
	MemoryUpdates     map[string]string  `json:"memory_updates"`
	ToolCalls         []ToolCall         `json:"-"`
}
