package dispatch

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"sync"
	"testing"
	"time"

	"shopassist/internal/domain"
	"shopassist/internal/flow"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))
}

// recordingBus keeps published events for assertions.
type recordingBus struct {
	mu     sync.Mutex
	events []domain.UIEvent
}

func (b *recordingBus) Publish(ev domain.UIEvent) {
	b.mu.Lock()
	b.events = append(b.events, ev)
	b.mu.Unlock()
}
func (b *recordingBus) Subscribe() <-chan domain.UIEvent { return nil }
func (b *recordingBus) Close()                           {}

type fakeCatalog struct {
	related []domain.ProductSummary
	err     error
}

func (f *fakeCatalog) Search(ctx context.Context, query string) ([]domain.ProductSummary, error) {
	return nil, nil
}
func (f *fakeCatalog) GetProduct(ctx context.Context, id string) (*domain.ProductSummary, error) {
	return nil, nil
}
func (f *fakeCatalog) RelatedProducts(ctx context.Context, category string, limit int) ([]domain.ProductSummary, error) {
	return f.related, f.err
}

type cartCall struct {
	op      string
	id      string
	qty     int
	panelAt domain.Panel
}

// fakeCart records each call together with the panel visible at call time.
type fakeCart struct {
	mu       sync.Mutex
	calls    []cartCall
	err      error
	panelOf  func() domain.Panel
}

func (f *fakeCart) record(op, id string, qty int) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	var panel domain.Panel
	if f.panelOf != nil {
		panel = f.panelOf()
	}
	f.calls = append(f.calls, cartCall{op: op, id: id, qty: qty, panelAt: panel})
	return f.err
}

func (f *fakeCart) AddItem(ctx context.Context, id string, qty int) error {
	return f.record("add", id, qty)
}
func (f *fakeCart) RemoveItem(ctx context.Context, id string, qty int) error {
	return f.record("remove", id, qty)
}

type fakeVoice struct {
	mu       sync.Mutex
	checkout bool
}

func (f *fakeVoice) SetCheckoutMode(on bool) {
	f.mu.Lock()
	f.checkout = on
	f.mu.Unlock()
}

func testDispatcher(t *testing.T, cart *fakeCart, catalog *fakeCatalog, rng func() float64) (*Dispatcher, *flow.Machine, *recordingBus, *fakeVoice) {
	t.Helper()
	machine := flow.NewMachine(nil, testLogger())
	bus := &recordingBus{}
	voice := &fakeVoice{}
	d := New(Config{
		Catalog:       catalog,
		Cart:          cart,
		Flow:          machine,
		Bus:           bus,
		Voice:         voice,
		SuggestChance: 0.3,
		SuggestDelay:  10 * time.Millisecond,
		RandFloat:     rng,
		Logger:        testLogger(),
	})
	t.Cleanup(d.Close)
	return d, machine, bus, voice
}

func never() float64  { return 1.0 }
func always() float64 { return 0.0 }

func TestDispatch_ShowThenAddOrdering(t *testing.T) {
	cart := &fakeCart{}
	d, machine, _, _ := testDispatcher(t, cart, &fakeCatalog{}, never)
	cart.panelOf = d.CurrentPanel

	d.Dispatch(context.Background(), []domain.ToolCall{
		{ID: "1", Name: domain.ToolShowProduct, Arguments: map[string]any{"id": "7"}},
		{ID: "2", Name: domain.ToolAddToCart, Arguments: map[string]any{"id": "7"}},
	})

	if len(cart.calls) != 1 {
		t.Fatalf("cart calls = %+v", cart.calls)
	}
	call := cart.calls[0]
	if call.op != "add" || call.id != "7" || call.qty != 1 {
		t.Fatalf("cart call = %+v", call)
	}
	// The product-detail panel must already be set when the cart call fires.
	if call.panelAt != domain.PanelProductDetail {
		t.Fatalf("panel at cart call = %s", call.panelAt)
	}
	// And the cart add (outside cart view) must not revert the flow state.
	if machine.State() != domain.FlowViewingProduct {
		t.Fatalf("flow state = %s, want viewing_product", machine.State())
	}
	if d.SelectedProduct() != "7" {
		t.Fatalf("selected product = %q", d.SelectedProduct())
	}
}

func TestDispatch_SearchRecordsCategory(t *testing.T) {
	d, machine, bus, _ := testDispatcher(t, &fakeCart{}, &fakeCatalog{}, never)

	d.Dispatch(context.Background(), []domain.ToolCall{
		{ID: "1", Name: domain.ToolSearchProducts, Arguments: map[string]any{"query": "laptops"}},
	})

	if d.SearchText() != "laptops" {
		t.Fatalf("search text = %q", d.SearchText())
	}
	if d.CurrentPanel() != domain.PanelProductList {
		t.Fatalf("panel = %s", d.CurrentPanel())
	}
	if machine.LastCategory() != "laptops" {
		t.Fatalf("last category = %q", machine.LastCategory())
	}

	bus.mu.Lock()
	defer bus.mu.Unlock()
	var sawSearch, sawPanel bool
	for _, ev := range bus.events {
		switch ev.Type {
		case domain.UIEventSearch:
			sawSearch = ev.Text == "laptops"
		case domain.UIEventPanel:
			sawPanel = ev.Panel == domain.PanelProductList
		}
	}
	if !sawSearch || !sawPanel {
		t.Fatalf("missing bus events: search=%v panel=%v", sawSearch, sawPanel)
	}
}

func TestDispatch_CartFailureSwallowed(t *testing.T) {
	cart := &fakeCart{err: errors.New("cart service down")}
	d, machine, _, _ := testDispatcher(t, cart, &fakeCatalog{}, never)

	d.Dispatch(context.Background(), []domain.ToolCall{
		{ID: "1", Name: domain.ToolAddToCart, Arguments: map[string]any{"id": "7"}},
		{ID: "2", Name: domain.ToolShowProduct, Arguments: map[string]any{"id": "8"}},
	})

	// The failing add must not stop the following call.
	if d.SelectedProduct() != "8" {
		t.Fatalf("selected product = %q", d.SelectedProduct())
	}
	if machine.State() != domain.FlowViewingProduct {
		t.Fatalf("flow state = %s", machine.State())
	}
}

func TestDispatch_OpenCheckout(t *testing.T) {
	d, machine, _, voice := testDispatcher(t, &fakeCart{}, &fakeCatalog{}, never)

	d.Dispatch(context.Background(), []domain.ToolCall{
		{ID: "1", Name: domain.ToolOpenCheckout, Arguments: map[string]any{}},
	})

	if d.CurrentPanel() != domain.PanelCheckout {
		t.Fatalf("panel = %s", d.CurrentPanel())
	}
	if machine.State() != domain.FlowCheckout {
		t.Fatalf("flow state = %s", machine.State())
	}
	voice.mu.Lock()
	defer voice.mu.Unlock()
	if !voice.checkout {
		t.Fatal("checkout mode not set on voice controller")
	}
}

func TestDispatch_UnknownToolSkipped(t *testing.T) {
	d, machine, _, _ := testDispatcher(t, &fakeCart{}, &fakeCatalog{}, never)

	d.Dispatch(context.Background(), []domain.ToolCall{
		{ID: "1", Name: "teleportProduct", Arguments: map[string]any{"id": "7"}},
	})

	if machine.State() != domain.FlowInitial {
		t.Fatalf("flow state = %s, unknown tool must not transition", machine.State())
	}
	if d.CurrentPanel() != domain.PanelChat {
		t.Fatalf("panel = %s", d.CurrentPanel())
	}
}

func TestDispatch_DelayedSuggestionFires(t *testing.T) {
	catalog := &fakeCatalog{related: []domain.ProductSummary{
		{ID: "p9", Name: "USB-C Hub", InStock: true},
	}}
	d, _, _, _ := testDispatcher(t, &fakeCart{}, catalog, always)

	got := make(chan string, 1)
	d.OnSuggestion = func(text string) { got <- text }

	d.Dispatch(context.Background(), []domain.ToolCall{
		{ID: "1", Name: domain.ToolShowProduct, Arguments: map[string]any{"id": "7", "category": "accessories"}},
	})

	select {
	case text := <-got:
		if text == "" {
			t.Fatal("empty suggestion text")
		}
	case <-time.After(time.Second):
		t.Fatal("suggestion never fired")
	}
}

func TestDispatch_SuggestionSkippedMostTurns(t *testing.T) {
	catalog := &fakeCatalog{related: []domain.ProductSummary{{ID: "p9", Name: "Hub", InStock: true}}}
	d, _, _, _ := testDispatcher(t, &fakeCart{}, catalog, never)

	fired := make(chan string, 1)
	d.OnSuggestion = func(text string) { fired <- text }

	d.Dispatch(context.Background(), []domain.ToolCall{
		{ID: "1", Name: domain.ToolShowProduct, Arguments: map[string]any{"id": "7", "category": "accessories"}},
	})

	select {
	case <-fired:
		t.Fatal("suggestion fired despite unfavorable roll")
	case <-time.After(50 * time.Millisecond):
	}
}

func TestClose_CancelsPendingSuggestions(t *testing.T) {
	catalog := &fakeCatalog{related: []domain.ProductSummary{{ID: "p9", Name: "Hub", InStock: true}}}
	machine := flow.NewMachine(nil, testLogger())
	d := New(Config{
		Catalog:       catalog,
		Cart:          &fakeCart{},
		Flow:          machine,
		Bus:           &recordingBus{},
		SuggestChance: 1.0,
		SuggestDelay:  30 * time.Millisecond,
		RandFloat:     always,
		Logger:        testLogger(),
	})

	fired := make(chan string, 1)
	d.OnSuggestion = func(text string) { fired <- text }

	d.Dispatch(context.Background(), []domain.ToolCall{
		{ID: "1", Name: domain.ToolShowProduct, Arguments: map[string]any{"id": "7", "category": "accessories"}},
	})
	d.Close()

	select {
	case <-fired:
		t.Fatal("suggestion fired after Close")
	case <-time.After(100 * time.Millisecond):
	}
}
