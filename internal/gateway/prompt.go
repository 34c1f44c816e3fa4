package gateway

import (
	"fmt"
	"log/slog"
	"strings"

	"shopassist/internal/domain"
)

// Context is everything the gateway knows about the session when it builds
// a prompt: recent history, learned preferences, and the flow stage.
type Context struct {
	History      []domain.Message
	Preferences  map[string]string
	Stage        domain.FlowState
	LastCategory string
	Categories   []string
}

// PromptBuilder assembles the instruction, context, and product blocks for
// one completion call.
type PromptBuilder struct {
	storeName string
	logger    *slog.Logger
}

func NewPromptBuilder(storeName string, logger *slog.Logger) *PromptBuilder {
	if storeName == "" {
		storeName = "our store"
	}
	return &PromptBuilder{storeName: storeName, logger: logger}
}

// BuildSystemPrompt emits the system instruction block followed by the
// session context block and the candidate products block.
func (p *PromptBuilder) BuildSystemPrompt(gctx Context, candidates []domain.ProductSummary) string {
	identity := fmt.Sprintf(`# Shopping Assistant for %s

You are a friendly, knowledgeable shopping assistant embedded in the storefront. You help visitors find products, compare options, manage their cart, and get to checkout.

## Selling principles
1. Understand the need before recommending. Ask one short clarifying question when the request is vague.
2. Recommend at most 3 products per reply, each with a concrete reason tied to what the user said.
3. Be honest about stock and price. Never invent products, discounts, or delivery promises.
4. Nudge, don't push: one gentle suggestion per reply at most, and drop it if the user declines.
5. NEVER ask for or discuss card numbers, CVV codes, one-time passwords, verification codes, national IDs, or account passwords. Payment happens only inside the secure checkout flow.

## Reply format
Respond with a single JSON object, no surrounding prose:
{"assistant_message": "...", "suggested_products": [{"productId": "...", "reason": "..."}], "actions": [], "memory_updates": {}}

Allowed actions: "SEARCH_PRODUCTS:<query>", "SHOW_PRODUCT:<id>", "ADD_TO_CART:<id>", "REMOVE_FROM_CART:<id>", "BEGIN_CHECKOUT", "REQUEST_ALTERNATIVES".
Put durable facts about the user (name, budget, tastes) into memory_updates.`, p.storeName)

	var sb strings.Builder
	sb.WriteString(identity)

	sb.WriteString("\n\n## Store context\n")
	fmt.Fprintf(&sb, "Categories: %s\n", strings.Join(gctx.Categories, ", "))
	fmt.Fprintf(&sb, "Shopping stage: %s\n", gctx.Stage)
	if gctx.LastCategory != "" {
		fmt.Fprintf(&sb, "Last browsed category: %s\n", gctx.LastCategory)
	}
	if len(gctx.Preferences) > 0 {
		sb.WriteString("Known preferences:\n")
		for k, v := range gctx.Preferences {
			fmt.Fprintf(&sb, "- %s: %s\n", k, v)
		}
	}

	sb.WriteString("\n## Candidate products\n")
	sb.WriteString(p.productsBlock(candidates))

	return sb.String()
}

// productsBlock renders one line per candidate, or the appropriate notice
// when there are none or all are out of stock.
func (p *PromptBuilder) productsBlock(candidates []domain.ProductSummary) string {
	if len(candidates) == 0 {
		return "No matching products were found. Say so plainly and ask what else might help.\n"
	}

	allOut := true
	for _, c := range candidates {
		if c.InStock {
			allOut = false
			break
		}
	}
	if allOut {
		var sb strings.Builder
		sb.WriteString("All matching products are OUT OF STOCK. Tell the user, emit the REQUEST_ALTERNATIVES action, and recommend similar in-stock alternatives.\n")
		for _, c := range candidates {
			fmt.Fprintf(&sb, "- [%s] %s (%s) $%.2f — out of stock\n", c.ID, c.Name, c.Category, c.Price)
		}
		return sb.String()
	}

	var sb strings.Builder
	for _, c := range candidates {
		stock := "in stock"
		if !c.InStock {
			stock = "out of stock"
		}
		fmt.Fprintf(&sb, "- [%s] %s (%s) $%.2f — %s\n", c.ID, c.Name, c.Category, c.Price, stock)
	}
	return sb.String()
}

// BuildMessages constructs [system + history + user message] for one call.
func (p *PromptBuilder) BuildMessages(userMessage string, gctx Context, candidates []domain.ProductSummary) []domain.CompletionMessage {
	messages := []domain.CompletionMessage{
		{Role: domain.RoleSystem, Content: p.BuildSystemPrompt(gctx, candidates)},
	}
	for _, m := range gctx.History {
		messages = append(messages, domain.CompletionMessage{Role: m.Role, Content: m.Content})
	}
	messages = append(messages, domain.CompletionMessage{Role: domain.RoleUser, Content: userMessage})
	return messages
}
