package dispatch

import (
	"context"
	"fmt"
	"log/slog"
	"math/rand"
	"strings"
	"sync"
	"time"

	"shopassist/internal/domain"
	"shopassist/internal/flow"
	"shopassist/internal/metrics"
)

const (
	defaultQuantity      = 1
	defaultSuggestChance = 0.3
	defaultSuggestDelay  = 4 * time.Second
	relatedItemsLimit    = 3
)

// CheckoutModeSetter is the hook into the voice controller: entering
// checkout must suppress capture immediately.
type CheckoutModeSetter interface {
	SetCheckoutMode(on bool)
}

// Dispatcher executes tool calls from an assistant turn, in arrival order.
// Order matters: a later addToCart depends on panel and flow state set by
// an earlier showProduct, so calls are never parallelized.
type Dispatcher struct {
	catalog domain.CatalogService
	cart    domain.CartService
	flow    *flow.Machine
	bus     domain.UIBus
	voice   CheckoutModeSetter // optional
	logger  *slog.Logger

	suggestChance float64
	suggestDelay  time.Duration
	randFloat     func() float64

	// OnSuggestion receives delayed upsell/related-item messages so the
	// orchestrator can append them to the conversation log.
	OnSuggestion func(text string)

	mu              sync.Mutex
	panel           domain.Panel
	searchText      string
	selectedProduct string
	timers          []*time.Timer
	closed          bool
}

type Config struct {
	Catalog       domain.CatalogService
	Cart          domain.CartService
	Flow          *flow.Machine
	Bus           domain.UIBus
	Voice         CheckoutModeSetter
	SuggestChance float64
	SuggestDelay  time.Duration
	RandFloat     func() float64 // override for deterministic tests
	Logger        *slog.Logger
}

func New(cfg Config) *Dispatcher {
	if cfg.SuggestChance <= 0 {
		cfg.SuggestChance = defaultSuggestChance
	}
	if cfg.SuggestDelay <= 0 {
		cfg.SuggestDelay = defaultSuggestDelay
	}
	if cfg.RandFloat == nil {
		cfg.RandFloat = rand.Float64
	}
	return &Dispatcher{
		catalog:       cfg.Catalog,
		cart:          cfg.Cart,
		flow:          cfg.Flow,
		bus:           cfg.Bus,
		voice:         cfg.Voice,
		logger:        cfg.Logger,
		suggestChance: cfg.SuggestChance,
		suggestDelay:  cfg.SuggestDelay,
		randFloat:     cfg.RandFloat,
		panel:         domain.PanelChat,
	}
}

// Dispatch runs every tool call of a turn. A failing call never fails the
// turn; the error is logged and the remaining calls still run.
func (d *Dispatcher) Dispatch(ctx context.Context, calls []domain.ToolCall) {
	for _, tc := range calls {
		metrics.ToolExecutions.Inc()
		args := ParsedArgs(tc.Arguments).Normalize()

		switch tc.Name {
		case domain.ToolSearchProducts:
			d.searchProducts(args)
		case domain.ToolShowProduct:
			d.showProduct(ctx, args)
		case domain.ToolAddToCart:
			d.addToCart(ctx, args)
		case domain.ToolRemoveFromCart:
			d.removeFromCart(ctx, args)
		case domain.ToolOpenCheckout:
			d.openCheckout()
		default:
			d.logger.Warn("unknown tool call ignored", "tool", tc.Name, "id", tc.ID)
			continue
		}

		d.flow.ApplyTool(tc.Name, d.CurrentPanel() == domain.PanelCart)
	}
}

func (d *Dispatcher) searchProducts(args map[string]any) {
	query := ArgString(args, "query")
	if query == "" {
		query = ArgString(args, "category")
	}

	d.setSearch(query)
	d.setPanel(domain.PanelProductList)

	if cat, ok := d.flow.RecordCategory(query); ok {
		d.logger.Debug("search term recorded as category", "category", cat)
	}
}

func (d *Dispatcher) showProduct(ctx context.Context, args map[string]any) {
	id := ArgString(args, "id")
	if id == "" {
		d.logger.Warn("showProduct without id, skipping")
		return
	}

	d.setSelectedProduct(id)
	d.setPanel(domain.PanelProductDetail)

	// Related-item nudges are skipped most turns; being pushy loses sales.
	category := ArgString(args, "category")
	if category == "" {
		category = d.flow.LastCategory()
	}
	if category != "" && d.randFloat() < d.suggestChance {
		d.scheduleSuggestion(ctx, category, "You might also like %s — it pairs well with what you're viewing.")
	}
}

func (d *Dispatcher) addToCart(ctx context.Context, args map[string]any) {
	id := ArgString(args, "id")
	if id == "" {
		d.logger.Warn("addToCart without id, skipping")
		return
	}
	qty := ArgInt(args, "quantity", defaultQuantity)

	if err := d.cart.AddItem(ctx, id, qty); err != nil {
		// Cart failures must not crash the conversation.
		d.logger.Error("cart add failed", "product", id, "quantity", qty, "error", err)
		metrics.CartFailures.Inc()
		return
	}

	if category := d.flow.LastCategory(); category != "" && d.randFloat() < d.suggestChance {
		d.scheduleSuggestion(ctx, category, "Nice choice! Shoppers who bought this often add %s.")
	}
}

func (d *Dispatcher) removeFromCart(ctx context.Context, args map[string]any) {
	id := ArgString(args, "id")
	if id == "" {
		d.logger.Warn("removeFromCart without id, skipping")
		return
	}
	qty := ArgInt(args, "quantity", defaultQuantity)

	if err := d.cart.RemoveItem(ctx, id, qty); err != nil {
		d.logger.Error("cart remove failed", "product", id, "quantity", qty, "error", err)
		metrics.CartFailures.Inc()
	}
}

func (d *Dispatcher) openCheckout() {
	d.setPanel(domain.PanelCheckout)
	if d.voice != nil {
		d.voice.SetCheckoutMode(true)
	}
}

// scheduleSuggestion queues a delayed related-items message. Each timer
// closure captures its own content, so unrelated suggestions may interleave
// freely without reordering the turn that spawned them.
func (d *Dispatcher) scheduleSuggestion(ctx context.Context, category, format string) {
	d.mu.Lock()
	if d.closed {
		d.mu.Unlock()
		return
	}
	timer := time.AfterFunc(d.suggestDelay, func() {
		d.fireSuggestion(ctx, category, format)
	})
	d.timers = append(d.timers, timer)
	d.mu.Unlock()
}

func (d *Dispatcher) fireSuggestion(ctx context.Context, category, format string) {
	related, err := d.catalog.RelatedProducts(ctx, category, relatedItemsLimit)
	if err != nil {
		d.logger.Warn("related products lookup failed", "category", category, "error", err)
		return
	}
	var names []string
	for _, p := range related {
		if p.InStock && p.ID != d.SelectedProduct() {
			names = append(names, p.Name)
		}
	}
	if len(names) == 0 {
		return
	}

	text := fmt.Sprintf(format, strings.Join(names, ", "))
	d.bus.Publish(domain.UIEvent{Type: domain.UIEventSuggestion, Text: text})
	if d.OnSuggestion != nil {
		d.OnSuggestion(text)
	}
}

// Close cancels any pending suggestion timers.
func (d *Dispatcher) Close() {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.closed = true
	for _, t := range d.timers {
		t.Stop()
	}
	d.timers = nil
}

func (d *Dispatcher) setPanel(p domain.Panel) {
	d.mu.Lock()
	d.panel = p
	d.mu.Unlock()
	d.bus.Publish(domain.UIEvent{Type: domain.UIEventPanel, Panel: p})
}

func (d *Dispatcher) setSearch(query string) {
	d.mu.Lock()
	d.searchText = query
	d.mu.Unlock()
	d.bus.Publish(domain.UIEvent{Type: domain.UIEventSearch, Text: query})
}

func (d *Dispatcher) setSelectedProduct(id string) {
	d.mu.Lock()
	d.selectedProduct = id
	d.mu.Unlock()
	d.bus.Publish(domain.UIEvent{Type: domain.UIEventProduct, ProductID: id})
}

func (d *Dispatcher) CurrentPanel() domain.Panel {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.panel
}

func (d *Dispatcher) SearchText() string {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.searchText
}

func (d *Dispatcher) SelectedProduct() string {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.selectedProduct
}
