// Package registry tracks live sessions: their IO (event broadcast, send
// serialization) and the callback handlers a session was configured with.
// It is the direct generalization of the donor's ActiveSession /
// ActiveSessionManager pair (internal/session/active.go) from a
// coding-agent-specific session model to the wire-agnostic session model
// this module's specification describes.
package registry

import (
	"sync"
	"time"

	"github.com/driftwire/agentcli/internal/router"
)

// RecordConfig is the set of callback handlers and derived fields a
// session is created with. The root package is responsible for validating
// and translating the public SessionConfig into this shape; registry
// itself only stores and serves it.
type RecordConfig struct {
	WorkspacePath     string
	ExpectedModel     string
	ToolHandlers      map[string]ToolHandler
	ToolTimeout       time.Duration
	PermissionHandler PermissionHandler
	UserInputHandler  UserInputHandler
	Hooks             map[string]HookHandler
}

const defaultToolTimeout = 120 * time.Second

// Record is one session's configuration, including the terminal-state
// "destroyed" flag (P3). All accessors are safe for concurrent use.
type Record struct {
	mu sync.RWMutex

	destroyed bool

	workspacePath     string
	expectedModel     string
	toolHandlers      map[string]ToolHandler
	toolTimeout       time.Duration
	permissionHandler PermissionHandler
	userInputHandler  UserInputHandler
	hooks             map[string]HookHandler
}

func newRecord(cfg RecordConfig) *Record {
	timeout := cfg.ToolTimeout
	if timeout <= 0 {
		timeout = defaultToolTimeout
	}
	return &Record{
		workspacePath:     cfg.WorkspacePath,
		expectedModel:     cfg.ExpectedModel,
		toolHandlers:      cfg.ToolHandlers,
		toolTimeout:       timeout,
		permissionHandler: cfg.PermissionHandler,
		userInputHandler:  cfg.UserInputHandler,
		hooks:             cfg.Hooks,
	}
}

// Destroyed reports whether Destroy has already been called on this
// session (P3: a destroyed session answers every further operation
// without performing any RPC).
func (rec *Record) Destroyed() bool {
	rec.mu.RLock()
	defer rec.mu.RUnlock()
	return rec.destroyed
}

func (rec *Record) markDestroyed() {
	rec.mu.Lock()
	defer rec.mu.Unlock()
	rec.destroyed = true
}

// WorkspacePath returns the session's configured workspace root.
func (rec *Record) WorkspacePath() string {
	rec.mu.RLock()
	defer rec.mu.RUnlock()
	return rec.workspacePath
}

// ExpectedModel returns the model the session was created with, if any.
func (rec *Record) ExpectedModel() (string, bool) {
	rec.mu.RLock()
	defer rec.mu.RUnlock()
	return rec.expectedModel, rec.expectedModel != ""
}

// ToolHandler looks up the registered handler for a tool name.
func (rec *Record) ToolHandler(name string) (ToolHandler, bool) {
	rec.mu.RLock()
	defer rec.mu.RUnlock()
	h, ok := rec.toolHandlers[name]
	return h, ok
}

// ToolTimeout returns the per-call timeout tool handlers must answer
// within (default 120s).
func (rec *Record) ToolTimeout() time.Duration {
	rec.mu.RLock()
	defer rec.mu.RUnlock()
	return rec.toolTimeout
}

// PermissionHandler returns the session's permission callback, or nil if
// none was configured (deny-by-default applies).
func (rec *Record) PermissionHandler() PermissionHandler {
	rec.mu.RLock()
	defer rec.mu.RUnlock()
	return rec.permissionHandler
}

// UserInputHandler returns the session's user-input callback, or nil.
func (rec *Record) UserInputHandler() UserInputHandler {
	rec.mu.RLock()
	defer rec.mu.RUnlock()
	return rec.userInputHandler
}

// Hook looks up the registered handler for a hook kind.
func (rec *Record) Hook(kind string) (HookHandler, bool) {
	rec.mu.RLock()
	defer rec.mu.RUnlock()
	h, ok := rec.hooks[kind]
	return h, ok
}

// IO is the per-session plumbing a Record does not own: the event
// broadcast and the single exclusive send lock that serializes the
// "outstanding send-and-collect" contract. Generalized from the donor's
// SessionLockMap (internal/session/locks.go), which keyed a sync.Map of
// per-session RWMutexes; here one session needs exactly one exclusive
// mutex, since concurrent sends to the same session are never valid.
type IO struct {
	Broadcast *router.Broadcast
	SendLock  sync.Mutex
}

func newIO(bufferSize int) *IO {
	return &IO{Broadcast: router.NewBroadcast(bufferSize)}
}

// Metrics receives optional observability callbacks.
type Metrics interface {
	SetActiveSessions(n int)
}

// Registry is one Client's table of live sessions, playing the role
// of the donor's ActiveSessionManager but holding Record/IO pairs instead
// of a single merged struct, so the wire-dispatch surface (Record) and
// the concurrency plumbing (IO) can be reasoned about independently.
type Registry struct {
	mu      sync.RWMutex
	records map[string]*Record
	io      map[string]*IO

	eventBufferSize int
	metrics         Metrics
}

// Option configures a Registry at construction.
type Option func(*Registry)

// WithEventBufferSize overrides the default per-subscriber broadcast
// buffer size (1024) used for every session created afterward.
func WithEventBufferSize(n int) Option {
	return func(r *Registry) { r.eventBufferSize = n }
}

// WithMetrics attaches an optional Metrics sink.
func WithMetrics(m Metrics) Option {
	return func(r *Registry) { r.metrics = m }
}

func (r *Registry) reportActiveSessions() {
	if r.metrics == nil {
		return
	}
	r.metrics.SetActiveSessions(r.Count())
}

// New builds an empty Registry.
func New(opts ...Option) *Registry {
	r := &Registry{
		records: make(map[string]*Record),
		io:      make(map[string]*IO),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Create registers a new session. It is the caller's responsibility to
// ensure sessionID is not already present; Create overwrites silently
// otherwise (the root package takes the id from the server's
// session.create or session.resume reply, so collisions cannot occur in practice).
func (r *Registry) Create(sessionID string, cfg RecordConfig) (*Record, *IO) {
	rec := newRecord(cfg)
	io := newIO(r.eventBufferSize)

	r.mu.Lock()
	r.records[sessionID] = rec
	r.io[sessionID] = io
	r.mu.Unlock()
	r.reportActiveSessions()

	return rec, io
}

// Get returns the Record for sessionID.
func (r *Registry) Get(sessionID string) (*Record, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	rec, ok := r.records[sessionID]
	return rec, ok
}

// IOFor returns the IO for sessionID.
func (r *Registry) IOFor(sessionID string) (*IO, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	io, ok := r.io[sessionID]
	return io, ok
}

// BroadcastFor implements router.SessionResolver. A destroyed session's
// broadcast is already closed but its entry is not removed, so in-flight
// subscribers still see the closed channel rather than a silent drop.
func (r *Registry) BroadcastFor(sessionID string) (*router.Broadcast, bool) {
	io, ok := r.IOFor(sessionID)
	if !ok {
		return nil, false
	}
	return io.Broadcast, true
}

// ExpectedModel implements router.SessionResolver.
func (r *Registry) ExpectedModel(sessionID string) (string, bool) {
	rec, ok := r.Get(sessionID)
	if !ok {
		return "", false
	}
	return rec.ExpectedModel()
}

// Destroy marks sessionID's Record as terminal and closes its broadcast,
// cascading to every subscriber, but keeps the entry around so further
// operations resolve to a clean "already destroyed" answer instead of
// "unknown session" (P3). Safe to call more than once.
func (r *Registry) Destroy(sessionID string) {
	rec, ok := r.Get(sessionID)
	if !ok {
		return
	}
	rec.markDestroyed()

	if io, ok := r.IOFor(sessionID); ok {
		io.Broadcast.Close()
	}
}

// Delete removes sessionID's entries entirely. Used for bulk cleanup
// (DestroyAll) once no further lookups are expected.
func (r *Registry) Delete(sessionID string) {
	r.mu.Lock()
	delete(r.records, sessionID)
	delete(r.io, sessionID)
	r.mu.Unlock()
	r.reportActiveSessions()
}

// Count returns the number of tracked sessions, including destroyed ones
// not yet deleted.
func (r *Registry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.records)
}

// SessionIDs returns a snapshot of every tracked session id.
func (r *Registry) SessionIDs() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	ids := make([]string, 0, len(r.records))
	for id := range r.records {
		ids = append(ids, id)
	}
	return ids
}

// DestroyAll marks every tracked session destroyed and closes its
// broadcast, without removing the entries (mirrors Destroy's semantics
// across the whole table; used on client Stop/process exit).
func (r *Registry) DestroyAll() {
	r.mu.RLock()
	ids := make([]string, 0, len(r.records))
	for id := range r.records {
		ids = append(ids, id)
	}
	r.mu.RUnlock()

	for _, id := range ids {
		r.Destroy(id)
	}
}
