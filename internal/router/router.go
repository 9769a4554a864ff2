// Package router selects the handler for a turn and runs it through a
// middleware chain.
package router

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"

	"github.com/boddenberg/support-agent-go/internal/conversation"
	"github.com/boddenberg/support-agent-go/internal/domain"
	"github.com/boddenberg/support-agent-go/internal/memory"
	"github.com/boddenberg/support-agent-go/internal/port"
	"github.com/boddenberg/support-agent-go/internal/rag"
)

var tracer = otel.Tracer("router")

// Handler produces a response for the intents it accepts.
type Handler interface {
	Name() string
	Version() string
	CanHandle(intent domain.Intent, hctx *HandlerContext) bool
	Handle(ctx context.Context, message string, intent domain.Intent, hctx *HandlerContext) (*domain.Response, error)
}

// Prioritized is implemented by handlers that want a non-zero priority.
// Higher runs first.
type Prioritized interface {
	Priority() int
}

// Signals are the per-turn analysis results handlers may consult.
type Signals struct {
	OriginalIntent   domain.IntentType
	Repetition       conversation.Repetition
	FrustrationLevel domain.FrustrationLevel
	NeedsEscalation  bool
}

// HandlerContext is everything a handler may read during a turn. State is
// owned by the orchestrator; handlers must treat it as read-only.
type HandlerContext struct {
	State        *domain.ConversationState
	Profile      *domain.AgentProfile
	Env          port.Env
	StateManager *conversation.StateManager
	Memory       *memory.System
	RAG          *rag.Engine
	Frustration  *conversation.FrustrationHandler
	Repetition   *conversation.RepetitionDetector

	// RAGContext is the retrieved text joined for prompting, when a
	// handler performed retrieval.
	RAGContext string
	Retrieval  *domain.RAGResult
	Signals    Signals
	Metadata   map[string]any
}

// RouteFunc is one step of the routing chain.
type RouteFunc func(ctx context.Context, message string, intent domain.Intent, hctx *HandlerContext) (*domain.Response, error)

// Middleware wraps the rest of the chain. The first middleware added is the
// outermost.
type Middleware func(next RouteFunc) RouteFunc

// Router holds handlers in registration order, indexed by name.
type Router struct {
	mu         sync.RWMutex
	handlers   []Handler
	index      map[string]int
	fallback   Handler
	middleware []Middleware
	logger     *zap.Logger
}

// New creates an empty router.
func New(logger *zap.Logger) *Router {
	return &Router{index: map[string]int{}, logger: logger}
}

// Register adds h. A handler with the same name is replaced in place and
// keeps its registration position.
func (r *Router) Register(h Handler) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if i, ok := r.index[h.Name()]; ok {
		r.handlers[i] = h
		return
	}
	r.index[h.Name()] = len(r.handlers)
	r.handlers = append(r.handlers, h)
}

// SetDefault sets the handler used when no registered handler accepts the intent.
func (r *Router) SetDefault(h Handler) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.fallback = h
}

// Use appends middleware to the chain.
func (r *Router) Use(mw ...Middleware) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.middleware = append(r.middleware, mw...)
}

// Remove unregisters a handler by name. Reports whether it existed.
func (r *Router) Remove(name string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	i, ok := r.index[name]
	if !ok {
		return false
	}
	r.handlers = append(r.handlers[:i], r.handlers[i+1:]...)
	r.reindex()
	return true
}

// Clear drops every handler, the default and the middleware.
func (r *Router) Clear() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.handlers = nil
	r.index = map[string]int{}
	r.fallback = nil
	r.middleware = nil
}

// Handlers returns the registered handlers in resolution order.
func (r *Router) Handlers() []Handler {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.ordered()
}

// Handler looks up a handler by name.
func (r *Router) Handler(name string) (Handler, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	i, ok := r.index[name]
	if !ok {
		return nil, false
	}
	return r.handlers[i], true
}

// Middleware returns a copy of the middleware chain.
func (r *Router) Middleware() []Middleware {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return append([]Middleware(nil), r.middleware...)
}

// Route resolves a handler for intent and runs it through the middleware
// chain. Returns *domain.ErrRouting when nothing accepts the intent and no
// default is set.
func (r *Router) Route(ctx context.Context, message string, intent domain.Intent, hctx *HandlerContext) (*domain.Response, error) {
	ctx, span := tracer.Start(ctx, "Router.Route")
	defer span.End()
	span.SetAttributes(attribute.String("intent.type", string(intent.Type)))

	r.mu.RLock()
	handlers := r.ordered()
	fallback := r.fallback
	chain := append([]Middleware(nil), r.middleware...)
	r.mu.RUnlock()

	final := func(ctx context.Context, message string, intent domain.Intent, hctx *HandlerContext) (*domain.Response, error) {
		h := resolve(handlers, fallback, intent, hctx)
		if h == nil {
			return nil, &domain.ErrRouting{IntentType: intent.Type}
		}
		span.SetAttributes(attribute.String("handler.name", h.Name()))
		return dispatch(ctx, h, message, intent, hctx)
	}

	next := RouteFunc(final)
	for i := len(chain) - 1; i >= 0; i-- {
		next = chain[i](next)
	}
	return next(ctx, message, intent, hctx)
}

func resolve(handlers []Handler, fallback Handler, intent domain.Intent, hctx *HandlerContext) Handler {
	for _, h := range handlers {
		if h.CanHandle(intent, hctx) {
			return h
		}
	}
	return fallback
}

// dispatch runs h and fills in the attribution fields it left empty.
func dispatch(ctx context.Context, h Handler, message string, intent domain.Intent, hctx *HandlerContext) (*domain.Response, error) {
	start := time.Now()
	resp, err := h.Handle(ctx, message, intent, hctx)
	if err != nil {
		return nil, fmt.Errorf("handler %s: %w", h.Name(), err)
	}
	if resp == nil {
		return nil, fmt.Errorf("handler %s returned no response", h.Name())
	}
	if resp.Metadata.HandlerName == "" {
		resp.Metadata.HandlerName = h.Name()
	}
	if resp.Metadata.HandlerVersion == "" {
		resp.Metadata.HandlerVersion = h.Version()
	}
	if resp.Metadata.ProcessingTimeMs == 0 {
		resp.Metadata.ProcessingTimeMs = time.Since(start).Milliseconds()
	}
	return resp, nil
}

// ordered returns handlers sorted by priority, highest first, ties in
// registration order. Caller holds the lock.
func (r *Router) ordered() []Handler {
	out := append([]Handler(nil), r.handlers...)
	sort.SliceStable(out, func(i, j int) bool {
		return PriorityOf(out[i]) > PriorityOf(out[j])
	})
	return out
}

func (r *Router) reindex() {
	r.index = make(map[string]int, len(r.handlers))
	for i, h := range r.handlers {
		r.index[h.Name()] = i
	}
}

// PriorityOf returns h's priority, 0 when it does not declare one.
func PriorityOf(h Handler) int {
	if p, ok := h.(Prioritized); ok {
		return p.Priority()
	}
	return 0
}

// ============================================================================
// Function handlers
// ============================================================================

// Func adapts plain functions to Handler. A nil CanHandleFunc accepts
// every intent.
type Func struct {
	HandlerName     string
	HandlerVersion  string
	HandlerPriority int
	CanHandleFunc   func(intent domain.Intent, hctx *HandlerContext) bool
	HandleFunc      RouteFunc
}

func (f *Func) Name() string    { return f.HandlerName }
func (f *Func) Version() string { return f.HandlerVersion }
func (f *Func) Priority() int   { return f.HandlerPriority }

func (f *Func) CanHandle(intent domain.Intent, hctx *HandlerContext) bool {
	if f.CanHandleFunc == nil {
		return true
	}
	return f.CanHandleFunc(intent, hctx)
}

func (f *Func) Handle(ctx context.Context, message string, intent domain.Intent, hctx *HandlerContext) (*domain.Response, error) {
	return f.HandleFunc(ctx, message, intent, hctx)
}

// ForIntents returns a CanHandleFunc accepting only the given intent types.
func ForIntents(types ...domain.IntentType) func(domain.Intent, *HandlerContext) bool {
	set := make(map[domain.IntentType]bool, len(types))
	for _, t := range types {
		set[t] = true
	}
	return func(intent domain.Intent, _ *HandlerContext) bool { return set[intent.Type] }
}
