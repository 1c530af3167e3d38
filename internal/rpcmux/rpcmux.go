// Package rpcmux implements the bidirectional JSON-RPC request/response
// multiplexer: it correlates outgoing requests with incoming responses,
// dispatches incoming server->client requests to an installed handler on
// independent goroutines, and fans notifications out on a bounded channel
// for the router to consume.
package rpcmux

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/driftwire/agentcli/internal/wire"
)

// IDGenerator mints unique request identifiers. google/uuid.NewString is
// the default; a counter-based generator is provided for deterministic
// tests.
type IDGenerator func() string

// RequestHandler answers an inbound server->client request. It MUST NOT
// block the reader: Conn always invokes it on its own goroutine.
type RequestHandler func(ctx context.Context, method string, params json.RawMessage) (result json.RawMessage, rpcErr *wire.Error)

// Metrics receives optional observability callbacks. A nil Metrics is
// valid; every method is called only when non-nil.
type Metrics interface {
	ObserveRoundTrip(method string, d time.Duration, failed bool)
	SetPendingCount(n int)
	IncNotificationDropped()
}

// Transport is the minimal read/write seam a Conn needs; internal/transport
// implementations satisfy this via internal/wire's Reader/Writer.
type Transport interface {
	Read(ctx context.Context) (*wire.Message, error)
	Write(ctx context.Context, msg *wire.Message) error
}

type pendingEntry struct {
	method string
	ch     chan *wire.Message
	start  time.Time
}

// Conn is one multiplexed JSON-RPC connection over a single transport.
type Conn struct {
	transport Transport
	genID     IDGenerator
	logger    *slog.Logger
	metrics   Metrics

	notifications chan *wire.Message

	mu       sync.Mutex
	pending  map[string]*pendingEntry
	handler  RequestHandler
	closed   bool
	closeErr error
}

// Option configures a Conn at construction.
type Option func(*Conn)

// WithIDGenerator overrides the default UUID-based ID generator.
func WithIDGenerator(gen IDGenerator) Option {
	return func(c *Conn) { c.genID = gen }
}

// WithLogger attaches a structured logger; defaults to slog.Default().
func WithLogger(logger *slog.Logger) Option {
	return func(c *Conn) { c.logger = logger }
}

// WithMetrics attaches an optional Metrics sink.
func WithMetrics(m Metrics) Option {
	return func(c *Conn) { c.metrics = m }
}

// WithNotificationBuffer sets the capacity of the notifications channel
// (default 4096, per the specification's buffer table).
func WithNotificationBuffer(n int) Option {
	return func(c *Conn) {
		if n > 0 {
			c.notifications = make(chan *wire.Message, n)
		}
	}
}

// New builds a Conn over transport. Call Run to start the reader loop.
func New(transport Transport, opts ...Option) *Conn {
	c := &Conn{
		transport:     transport,
		logger:        slog.Default(),
		notifications: make(chan *wire.Message, 4096),
		pending:       make(map[string]*pendingEntry),
	}
	for _, opt := range opts {
		opt(c)
	}
	if c.genID == nil {
		c.genID = defaultIDGenerator()
	}
	return c
}

// SetRequestHandler installs the single entry point for inbound
// server->client requests. Must be called before Run.
func (c *Conn) SetRequestHandler(h RequestHandler) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.handler = h
}

// Notifications returns the channel the router should drain. It is closed
// once the connection terminates.
func (c *Conn) Notifications() <-chan *wire.Message {
	return c.notifications
}

// ErrConnectionClosed is returned by Call once the connection has
// terminated without a recorded cause; when Run records the terminating
// error, Call and every still pending call get a -32000 error carrying
// that cause instead.
var ErrConnectionClosed = &wire.Error{Code: wire.CodeConnectionClosed, Message: "Connection closed"}

// Call sends a request and blocks for the matching response, honoring
// ctx's deadline/cancellation. On timeout or cancellation the pending
// entry is removed before returning.
func (c *Conn) Call(ctx context.Context, method string, params any) (json.RawMessage, error) {
	raw, err := json.Marshal(params)
	if err != nil {
		return nil, fmt.Errorf("marshaling params for %s: %w", method, err)
	}

	id := wire.NewID(c.genID())
	ch := make(chan *wire.Message, 1)

	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil, c.closedError()
	}
	c.pending[id.String()] = &pendingEntry{method: method, ch: ch, start: time.Now()}
	c.reportPendingLocked()
	c.mu.Unlock()

	msg := wire.NewCall(id, method, raw)
	if err := c.transport.Write(ctx, msg); err != nil {
		c.removePending(id.String())
		return nil, fmt.Errorf("writing %s request: %w", method, err)
	}

	select {
	case resp := <-ch:
		if resp.Error != nil {
			return nil, resp.Error
		}
		return resp.Result, nil
	case <-ctx.Done():
		c.removePending(id.String())
		return nil, ctx.Err()
	}
}

func (c *Conn) removePending(id string) *pendingEntry {
	c.mu.Lock()
	defer c.mu.Unlock()
	entry := c.pending[id]
	delete(c.pending, id)
	c.reportPendingLocked()
	return entry
}

func (c *Conn) reportPendingLocked() {
	if c.metrics != nil {
		c.metrics.SetPendingCount(len(c.pending))
	}
}

func (c *Conn) closedError() error {
	if c.closeErr != nil {
		return c.closeErr
	}
	return ErrConnectionClosed
}

// Run blocks reading messages until the transport returns an error (EOF or
// otherwise), then drains all pending calls with a synthetic connection
// closed error and returns the terminating error. It must be called
// exactly once, on its own goroutine, for the lifetime of the connection.
func (c *Conn) Run(ctx context.Context) error {
	for {
		msg, err := c.transport.Read(ctx)
		if err != nil {
			c.terminate(err)
			return err
		}

		switch {
		case msg.IsResponse():
			c.completeResponse(msg)
		case msg.IsRequest():
			c.dispatchRequest(ctx, msg)
		case msg.IsNotification():
			c.publishNotification(msg)
		}
	}
}

func (c *Conn) completeResponse(msg *wire.Message) {
	id := msg.ID.String()
	entry := c.removePending(id)
	if entry == nil {
		// Unknown id: a retransmitted or already-timed-out response. Harmless.
		return
	}
	if c.metrics != nil {
		c.metrics.ObserveRoundTrip(entry.method, time.Since(entry.start), msg.Error != nil)
	}
	entry.ch <- msg
}

func (c *Conn) dispatchRequest(ctx context.Context, msg *wire.Message) {
	c.mu.Lock()
	handler := c.handler
	c.mu.Unlock()

	id := *msg.ID
	method := msg.Method
	params := msg.Params

	go func() {
		var result json.RawMessage
		var rpcErr *wire.Error
		if handler == nil {
			rpcErr = &wire.Error{Code: wire.CodeMethodNotFound, Message: fmt.Sprintf("no handler installed for %q", method)}
		} else {
			result, rpcErr = handler(ctx, method, params)
		}

		var reply *wire.Message
		if rpcErr != nil {
			reply = wire.NewErrorResponse(id, rpcErr)
		} else {
			reply = wire.NewResultResponse(id, result)
		}
		if err := c.transport.Write(ctx, reply); err != nil {
			c.logger.Warn("rpcmux: failed to reply to server request", "method", method, "error", err)
		}
	}()
}

func (c *Conn) publishNotification(msg *wire.Message) {
	select {
	case c.notifications <- msg:
	default:
		if c.metrics != nil {
			c.metrics.IncNotificationDropped()
		}
		c.logger.Warn("rpcmux: notifications channel full, dropping", "method", msg.Method)
	}
}

// terminate completes every pending call with a synthetic connection
// closed error and closes the notifications channel. Safe to call once;
// subsequent calls are no-ops.
func (c *Conn) terminate(cause error) {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	c.closed = true
	if cause != nil {
		c.closeErr = &wire.Error{Code: wire.CodeConnectionClosed, Message: "Connection closed: " + cause.Error()}
	}
	pending := c.pending
	c.pending = make(map[string]*pendingEntry)
	c.mu.Unlock()

	synthetic := c.closedError().(*wire.Error)
	for id, entry := range pending {
		entry.ch <- wire.NewErrorResponse(wire.NewID(id), synthetic)
	}
	close(c.notifications)
}

// Closed reports whether the connection has already terminated.
func (c *Conn) Closed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closed
}
