// Package router classifies the multiplexer's notification stream into
// per-session events, lifecycle broadcasts, and everything else, applying
// bounded drop-on-overflow buffering throughout.
package router

import (
	"context"
	"encoding/json"
	"log/slog"
	"sync"

	"github.com/driftwire/agentcli/internal/events"
	"github.com/driftwire/agentcli/internal/wire"
)

// SessionResolver looks up a session's Broadcast by id. The registry
// package implements this; router depends only on the interface to avoid
// an import cycle.
type SessionResolver interface {
	BroadcastFor(sessionID string) (*Broadcast, bool)
	ExpectedModel(sessionID string) (string, bool)
}

// Metrics receives optional observability callbacks.
type Metrics interface {
	IncOtherDropped()
	IncSessionEventDropped()
	IncJournalWriteError()
}

// EventRecorder optionally persists every dispatched session event for
// later inspection (internal/journal implements this).
type EventRecorder interface {
	Record(ctx context.Context, sessionID string, env events.Envelope) error
}

type sessionEventParams struct {
	SessionID string          `json:"sessionId"`
	Event     json.RawMessage `json:"event"`
}

type lifecycleParams struct {
	Type json.RawMessage `json:"type"`
}

// LifecycleEvent is the normalized payload delivered to lifecycle
// subscribers.
type LifecycleEvent struct {
	Type string
	Raw  json.RawMessage
}

// LifecycleHandler receives lifecycle broadcasts. filterType == "" means
// "any type".
type LifecycleHandler func(LifecycleEvent)

// Router consumes a notifications channel and fans messages out.
type Router struct {
	resolver SessionResolver
	logger   *slog.Logger
	metrics  Metrics
	recorder EventRecorder

	otherCh chan *wire.Message

	mu           sync.Mutex
	lifecycle    []lifecycleSub
	nextSubID    int
}

type lifecycleSub struct {
	id      int
	filter  string
	handler LifecycleHandler
}

// Option configures a Router at construction.
type Option func(*Router)

// WithLogger attaches a structured logger.
func WithLogger(l *slog.Logger) Option { return func(r *Router) { r.logger = l } }

// WithMetrics attaches an optional Metrics sink.
func WithMetrics(m Metrics) Option { return func(r *Router) { r.metrics = m } }

// WithEventRecorder attaches an optional diagnostic recorder; every
// dispatched session event is persisted through it in addition to being
// broadcast to subscribers.
func WithEventRecorder(rec EventRecorder) Option {
	return func(r *Router) { r.recorder = rec }
}

// WithOtherBuffer sets the capacity of the "other notifications" queue
// (default 4096).
func WithOtherBuffer(n int) Option {
	return func(r *Router) {
		if n > 0 {
			r.otherCh = make(chan *wire.Message, n)
		}
	}
}

// New builds a Router that looks sessions up through resolver.
func New(resolver SessionResolver, opts ...Option) *Router {
	r := &Router{
		resolver: resolver,
		logger:   slog.Default(),
		otherCh:  make(chan *wire.Message, 4096),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Other returns the queue applications can poll for unclassified
// notifications.
func (r *Router) Other() <-chan *wire.Message { return r.otherCh }

// OnLifecycle registers handler for lifecycle broadcasts. filterType == ""
// subscribes to every lifecycle type. Returns an unsubscribe function.
func (r *Router) OnLifecycle(filterType string, handler LifecycleHandler) (unsubscribe func()) {
	r.mu.Lock()
	id := r.nextSubID
	r.nextSubID++
	r.lifecycle = append(r.lifecycle, lifecycleSub{id: id, filter: filterType, handler: handler})
	r.mu.Unlock()

	return func() {
		r.mu.Lock()
		defer r.mu.Unlock()
		for i, sub := range r.lifecycle {
			if sub.id == id {
				r.lifecycle = append(r.lifecycle[:i], r.lifecycle[i+1:]...)
				return
			}
		}
	}
}

// Run drains notifications until the channel closes (connection
// terminated) or ctx is done.
func (r *Router) Run(ctx context.Context, notifications <-chan *wire.Message) {
	for {
		select {
		case msg, ok := <-notifications:
			if !ok {
				close(r.otherCh)
				return
			}
			r.dispatch(ctx, msg)
		case <-ctx.Done():
			return
		}
	}
}

func (r *Router) dispatch(ctx context.Context, msg *wire.Message) {
	switch msg.Method {
	case "session.event":
		r.handleSessionEvent(ctx, msg.Params)
	case "session.lifecycle":
		r.handleLifecycle(msg.Params)
	default:
		r.enqueueOther(msg)
	}
}

func (r *Router) handleSessionEvent(ctx context.Context, raw json.RawMessage) {
	var params sessionEventParams
	if err := json.Unmarshal(raw, &params); err != nil {
		r.logger.Warn("router: malformed session.event params", "error", err)
		return
	}
	if params.SessionID == "" {
		return
	}

	env, err := events.Decode(params.Event)
	if err != nil {
		r.logger.Warn("router: malformed event envelope", "sessionId", params.SessionID, "error", err)
		return
	}

	if env.Type == events.TypeSessionStart {
		r.checkSelectedModel(params.SessionID, env)
	}

	if r.recorder != nil {
		if err := r.recorder.Record(ctx, params.SessionID, env); err != nil {
			if r.metrics != nil {
				r.metrics.IncJournalWriteError()
			}
			r.logger.Warn("router: failed to record event in journal", "sessionId", params.SessionID, "error", err)
		}
	}

	broadcast, ok := r.resolver.BroadcastFor(params.SessionID)
	if !ok {
		// Unknown or deleted session: drop. (A destroyed session still
		// resolves; its closed broadcast drops the event in Publish.)
		if r.metrics != nil {
			r.metrics.IncSessionEventDropped()
		}
		return
	}
	broadcast.Publish(env)
}

func (r *Router) checkSelectedModel(sessionID string, env events.Envelope) {
	expected, ok := r.resolver.ExpectedModel(sessionID)
	if !ok || expected == "" {
		return
	}
	var payload struct {
		SelectedModel string `json:"selectedModel"`
	}
	if err := json.Unmarshal(env.Data, &payload); err != nil || payload.SelectedModel == "" {
		return
	}
	if payload.SelectedModel != expected {
		r.logger.Warn("router: server substituted a different model",
			"sessionId", sessionID, "requested", expected, "selected", payload.SelectedModel)
	}
}

func (r *Router) handleLifecycle(raw json.RawMessage) {
	var typed lifecycleParams
	var typeStr string
	if err := json.Unmarshal(raw, &typed); err == nil && len(typed.Type) > 0 {
		_ = json.Unmarshal(typed.Type, &typeStr)
	}
	ev := LifecycleEvent{Type: typeStr, Raw: raw}

	r.mu.Lock()
	subs := make([]lifecycleSub, len(r.lifecycle))
	copy(subs, r.lifecycle)
	r.mu.Unlock()

	for _, sub := range subs {
		if sub.filter != "" && sub.filter != ev.Type {
			continue
		}
		r.invokeLifecycleHandler(sub.handler, ev)
	}
}

func (r *Router) invokeLifecycleHandler(handler LifecycleHandler, ev LifecycleEvent) {
	defer func() {
		if rec := recover(); rec != nil {
			r.logger.Error("router: lifecycle handler panicked", "recovered", rec)
		}
	}()
	handler(ev)
}

func (r *Router) enqueueOther(msg *wire.Message) {
	select {
	case r.otherCh <- msg:
	default:
		if r.metrics != nil {
			r.metrics.IncOtherDropped()
		}
		r.logger.Warn("router: other-notifications queue full, dropping", "method", msg.Method)
	}
}
