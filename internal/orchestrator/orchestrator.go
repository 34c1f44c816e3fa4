package orchestrator

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"shopassist/internal/dispatch"
	"shopassist/internal/domain"
	"shopassist/internal/flow"
	"shopassist/internal/gateway"
	"shopassist/internal/metrics"
)

const (
	defaultMaxCandidates = 8
	defaultHistoryLimit  = 30
	titleMaxLen          = 60
)

type turnState int

const (
	stateIdle turnState = iota
	stateAwaitingResponse
)

// Speaker voices assistant replies. The voice controller implements it;
// a nil speaker keeps the session text-only.
type Speaker interface {
	Speak(text string)
}

// Orchestrator runs the conversation loop for one session: it owns the
// message log, routes each user message through the domain check, the flow
// machine and the generation gateway, and hands the resulting tool calls
// to the dispatcher.
type Orchestrator struct {
	gateway    *gateway.Gateway
	dispatcher *dispatch.Dispatcher
	flow       *flow.Machine
	catalog    domain.CatalogService
	store      domain.HistoryStore
	bus        domain.UIBus
	speaker    Speaker
	check      *DomainCheck
	logger     *slog.Logger

	maxCandidates int
	historyLimit  int

	mu             sync.Mutex
	state          turnState
	turnToken      string
	conversationID string
	title          string
	messages       []domain.Message
	preferences    map[string]string
}

type Config struct {
	Gateway       *gateway.Gateway
	Dispatcher    *dispatch.Dispatcher
	Flow          *flow.Machine
	Catalog       domain.CatalogService
	Store         domain.HistoryStore
	Bus           domain.UIBus
	Speaker       Speaker
	MaxCandidates int
	HistoryLimit  int
	Logger        *slog.Logger
}

func New(ctx context.Context, cfg Config) *Orchestrator {
	if cfg.MaxCandidates <= 0 {
		cfg.MaxCandidates = defaultMaxCandidates
	}
	if cfg.HistoryLimit <= 0 {
		cfg.HistoryLimit = defaultHistoryLimit
	}
	o := &Orchestrator{
		gateway:        cfg.Gateway,
		dispatcher:     cfg.Dispatcher,
		flow:           cfg.Flow,
		catalog:        cfg.Catalog,
		store:          cfg.Store,
		bus:            cfg.Bus,
		speaker:        cfg.Speaker,
		check:          NewDomainCheck(cfg.Flow.Vocabulary()),
		logger:         cfg.Logger,
		maxCandidates:  cfg.MaxCandidates,
		historyLimit:   cfg.HistoryLimit,
		conversationID: uuid.NewString(),
		preferences:    map[string]string{},
	}
	if cfg.Store != nil {
		if prefs, err := cfg.Store.GetPreferences(ctx); err == nil {
			o.preferences = prefs
		} else {
			cfg.Logger.Warn("preference load failed", "error", err)
		}
	}
	if cfg.Dispatcher != nil {
		cfg.Dispatcher.OnSuggestion = func(text string) {
			o.appendAssistant(ctx, text, nil)
		}
	}
	metrics.ActiveSessions.Inc()
	return o
}

// HandleUserMessage processes one user message end to end. The turn cycle
// is strictly linear: input that arrives while a previous generation is
// still in flight is dropped, matching the disabled input surface.
func (o *Orchestrator) HandleUserMessage(ctx context.Context, text string) {
	text = strings.TrimSpace(text)
	if text == "" {
		return
	}
	msg := domain.Message{
		ID:        uuid.NewString(),
		Role:      domain.RoleUser,
		Content:   text,
		Timestamp: time.Now(),
	}

	// The idle check and the turn reservation share one critical section:
	// two concurrent inputs can never both pass the check. The history
	// snapshot is taken before the append so the in-flight message reaches
	// the prompt builder exactly once, as the trailing user message.
	o.mu.Lock()
	if o.state == stateAwaitingResponse {
		o.mu.Unlock()
		o.logger.Debug("message dropped, previous turn still pending")
		return
	}
	o.state = stateAwaitingResponse
	token := uuid.NewString()
	o.turnToken = token
	historyTail := o.historyTailLocked()
	o.messages = append(o.messages, msg)
	if o.title == "" {
		o.title = truncateTitle(text)
	}
	o.mu.Unlock()

	metrics.TurnsTotal.Inc()
	o.bus.Publish(domain.UIEvent{Type: domain.UIEventMessage, Message: &msg})

	// Off-catalog inquiries get a canned redirect without a model call.
	if redirect, mismatch := o.check.Check(text); mismatch {
		o.logger.Info("domain mismatch redirect", "message", text)
		o.releaseTurn(token)
		o.appendAssistant(ctx, redirect, nil)
		o.speak(redirect)
		return
	}

	stage := o.flow.ApplyText(text)
	candidates := o.selectCandidates(ctx, text)

	o.mu.Lock()
	gctx := gateway.Context{
		History:      historyTail,
		Preferences:  o.preferencesCopyLocked(),
		Stage:        stage,
		LastCategory: o.flow.LastCategory(),
		Categories:   o.flow.Vocabulary().CategoryNames(),
	}
	o.mu.Unlock()

	go func() {
		// A panic anywhere downstream must not leave the session stuck
		// in awaiting_response.
		defer func() {
			if r := recover(); r != nil {
				o.logger.Error("turn processing panicked", "panic", r)
				o.abortTurn(ctx, token)
			}
		}()
		turn := o.gateway.Generate(ctx, text, gctx, candidates)
		o.completeTurn(ctx, token, turn)
	}()
}

const apologyMessage = "Sorry, something went wrong on my side — let's try that again."

// releaseTurn returns the session to idle if the token still owns the turn.
func (o *Orchestrator) releaseTurn(token string) {
	o.mu.Lock()
	if o.turnToken == token {
		o.state = stateIdle
		o.turnToken = ""
	}
	o.mu.Unlock()
}

// abortTurn recovers a broken turn with a generic apology.
func (o *Orchestrator) abortTurn(ctx context.Context, token string) {
	o.mu.Lock()
	if token != o.turnToken {
		o.mu.Unlock()
		return
	}
	o.state = stateIdle
	o.mu.Unlock()
	o.appendAssistant(ctx, apologyMessage, nil)
}

// completeTurn applies a finished generation, unless the session has moved
// on to a newer turn in the meantime.
func (o *Orchestrator) completeTurn(ctx context.Context, token string, turn domain.AssistantTurn) {
	o.mu.Lock()
	if token != o.turnToken || o.state != stateAwaitingResponse {
		o.mu.Unlock()
		metrics.StaleTurnsDropped.Inc()
		o.logger.Debug("stale turn dropped", "token", token)
		return
	}
	o.state = stateIdle
	o.mu.Unlock()

	o.appendAssistant(ctx, turn.Message, turn.ToolCalls)

	// Second heuristic pass: assistant prose moves the flow too, then the
	// tool-call pass below wins any tie within the turn.
	o.flow.ApplyText(turn.Message)

	for _, sp := range turn.SuggestedProducts {
		o.bus.Publish(domain.UIEvent{
			Type:      domain.UIEventSuggestion,
			ProductID: sp.ProductID,
			Text:      sp.Reason,
		})
	}

	for key, value := range turn.MemoryUpdates {
		o.mu.Lock()
		o.preferences[key] = value
		o.mu.Unlock()
		if o.store != nil {
			if err := o.store.SavePreference(ctx, key, value); err != nil {
				o.logger.Warn("preference save failed", "key", key, "error", err)
			}
		}
	}

	if o.dispatcher != nil && len(turn.ToolCalls) > 0 {
		o.dispatcher.Dispatch(ctx, turn.ToolCalls)
	}

	o.speak(turn.Message)
	o.save(ctx)
}

// selectCandidates pulls a shortlist from the catalog for the prompt. A
// failed lookup degrades to an empty shortlist, never to a failed turn.
func (o *Orchestrator) selectCandidates(ctx context.Context, text string) []domain.ProductSummary {
	query := text
	if cat, ok := o.flow.Vocabulary().Match(text); ok {
		query = cat
	} else if last := o.flow.LastCategory(); last != "" {
		query = last
	}

	results, err := o.catalog.Search(ctx, query)
	if err != nil {
		o.logger.Warn("candidate search failed", "query", query, "error", err)
		return nil
	}
	if len(results) > o.maxCandidates {
		results = results[:o.maxCandidates]
	}
	return results
}

func (o *Orchestrator) appendAssistant(ctx context.Context, text string, calls []domain.ToolCall) {
	msg := domain.Message{
		ID:        uuid.NewString(),
		Role:      domain.RoleAssistant,
		Content:   text,
		Timestamp: time.Now(),
		ToolCalls: calls,
	}
	o.mu.Lock()
	o.messages = append(o.messages, msg)
	o.mu.Unlock()
	o.bus.Publish(domain.UIEvent{Type: domain.UIEventMessage, Message: &msg})
	o.save(ctx)
}

// NewConversation saves the current log and starts a fresh one. The flow
// machine and dispatcher panel state reset with it.
func (o *Orchestrator) NewConversation(ctx context.Context) {
	o.save(ctx)
	o.mu.Lock()
	o.conversationID = uuid.NewString()
	o.title = ""
	o.messages = nil
	o.state = stateIdle
	o.turnToken = ""
	o.mu.Unlock()
	o.flow.Reset()
}

// LoadConversation replaces the live log with a saved one.
func (o *Orchestrator) LoadConversation(ctx context.Context, id string) error {
	item, err := o.store.GetConversation(ctx, id)
	if err != nil {
		return err
	}
	if item == nil {
		return fmt.Errorf("conversation %s not found", id)
	}
	o.mu.Lock()
	o.conversationID = item.ID
	o.title = item.Title
	o.messages = append([]domain.Message(nil), item.Messages...)
	o.state = stateIdle
	o.turnToken = ""
	o.mu.Unlock()
	o.flow.Reset()
	return nil
}

func (o *Orchestrator) Messages() []domain.Message {
	o.mu.Lock()
	defer o.mu.Unlock()
	return append([]domain.Message(nil), o.messages...)
}

func (o *Orchestrator) Preferences() map[string]string {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.preferencesCopyLocked()
}

func (o *Orchestrator) ConversationID() string {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.conversationID
}

// Close saves the conversation and releases the session slot.
func (o *Orchestrator) Close(ctx context.Context) {
	o.save(ctx)
	metrics.ActiveSessions.Dec()
}

func (o *Orchestrator) save(ctx context.Context) {
	if o.store == nil {
		return
	}
	o.mu.Lock()
	if len(o.messages) == 0 {
		o.mu.Unlock()
		return
	}
	item := domain.ConversationHistoryItem{
		ID:        o.conversationID,
		Title:     o.title,
		Timestamp: time.Now(),
		Messages:  append([]domain.Message(nil), o.messages...),
	}
	o.mu.Unlock()

	if err := o.store.SaveConversation(ctx, item); err != nil {
		o.logger.Warn("conversation save failed", "conversation", item.ID, "error", err)
	}
}

func (o *Orchestrator) speak(text string) {
	if o.speaker != nil {
		o.speaker.Speak(text)
	}
}

func (o *Orchestrator) historyTailLocked() []domain.Message {
	msgs := o.messages
	if len(msgs) > o.historyLimit {
		msgs = msgs[len(msgs)-o.historyLimit:]
	}
	return append([]domain.Message(nil), msgs...)
}

func (o *Orchestrator) preferencesCopyLocked() map[string]string {
	out := make(map[string]string, len(o.preferences))
	for k, v := range o.preferences {
		out[k] = v
	}
	return out
}

func truncateTitle(text string) string {
	if len(text) <= titleMaxLen {
		return text
	}
	return text[:titleMaxLen-1] + "…"
}
