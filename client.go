// Package agentcli drives an external assistant CLI subprocess over a
// bidirectional JSON-RPC 2.0 protocol: create sessions, send prompts,
// subscribe to event streams, and answer the server's tool/permission/
// user-input/hook callbacks mid-turn.
package agentcli

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/robfig/cron/v3"
	"golang.org/x/sync/singleflight"

	"github.com/driftwire/agentcli/internal/journal"
	"github.com/driftwire/agentcli/internal/logging"
	"github.com/driftwire/agentcli/internal/registry"
	"github.com/driftwire/agentcli/internal/router"
	"github.com/driftwire/agentcli/internal/rpcmux"
	"github.com/driftwire/agentcli/internal/supervisor"
	"github.com/driftwire/agentcli/internal/telemetry"
	"github.com/driftwire/agentcli/internal/transport"
)

// Status is the Client's connection lifecycle state.
type Status int32

const (
	StatusDisconnected Status = iota
	StatusConnecting
	StatusConnected
	StatusError
)

func (s Status) String() string {
	switch s {
	case StatusDisconnected:
		return "disconnected"
	case StatusConnecting:
		return "connecting"
	case StatusConnected:
		return "connected"
	case StatusError:
		return "error"
	default:
		return "unknown"
	}
}

// expectedProtocolVersion is the only protocolVersion this client speaks;
// bumping it requires a server-side change, no negotiation is implemented.
const expectedProtocolVersion = 2

// ModelInfo is one entry in the client's model list cache.
type ModelInfo struct {
	ID       string `json:"id"`
	Name     string `json:"name,omitempty"`
	Provider string `json:"provider,omitempty"`
}

// SessionSummary is one entry returned by ListSessions.
type SessionSummary struct {
	SessionID string          `json:"sessionId"`
	Context   json.RawMessage `json:"context,omitempty"`
}

// Client owns one connection to the assistant CLI: the managed/unmanaged
// transport, the RPC multiplexer, the notification router, and the
// session registry. All mutable connection state lives behind mu so
// status reads and transitions never observe a torn combination of
// transport/conn/supervisor (the "one logical state cell" discipline).
type Client struct {
	opts    ClientOptions
	logger  *slog.Logger
	metrics *telemetry.Metrics

	reg *registry.Registry

	restartLimiter *supervisor.RestartLimiter
	journal        *journal.Journal
	cronSched      *cron.Cron

	mu         sync.Mutex
	status     Status
	stopping   bool
	stream       transport.Stream
	conn         *rpcmux.Conn
	sup          *supervisor.Supervisor
	cancelRun    context.CancelFunc
	stderrTail   []string
	activeRouter *router.Router

	restarting atomic.Bool

	modelsGroup singleflight.Group
	modelsMu    sync.Mutex
	modelsCache []ModelInfo
	modelsValid bool
}

// NewClient validates opts and builds a Client. It does not connect; call
// Start to spawn/connect.
func NewClient(opts ClientOptions) (*Client, error) {
	validated, err := opts.Validate()
	if err != nil {
		return nil, err
	}

	logger := validated.Logger
	if logger == nil {
		logger = logging.New(logging.Options{})
	}

	regOpts := []registry.Option{registry.WithEventBufferSize(validated.SubscriberBufferSize)}
	if validated.Metrics != nil {
		regOpts = append(regOpts, registry.WithMetrics(validated.Metrics))
	}

	return &Client{
		opts:           validated,
		logger:         logger,
		metrics:        validated.Metrics,
		reg:            registry.New(regOpts...),
		restartLimiter: supervisor.DefaultRestartLimiter(),
	}, nil
}

// Status reports the client's current connection state.
func (c *Client) Status() Status {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.status
}

func (c *Client) setStatus(s Status) {
	c.mu.Lock()
	c.status = s
	c.mu.Unlock()
}

// Start spawns (if managed) or connects to the assistant CLI, performs
// the handshake race, and transitions the client to connected.
func (c *Client) Start(ctx context.Context) error {
	c.mu.Lock()
	if c.status == StatusConnected || c.status == StatusConnecting {
		c.mu.Unlock()
		return nil
	}
	c.status = StatusConnecting
	c.stopping = false
	c.mu.Unlock()

	stream, sup, err := c.openTransport(ctx)
	if err != nil {
		c.setStatus(StatusError)
		return err
	}

	muxOpts := []rpcmux.Option{rpcmux.WithLogger(c.logger), rpcmux.WithNotificationBuffer(c.opts.NotificationQueueSize)}
	routerOpts := []router.Option{router.WithLogger(c.logger), router.WithOtherBuffer(c.opts.RouterQueueSize)}
	if c.metrics != nil {
		muxOpts = append(muxOpts, rpcmux.WithMetrics(c.metrics))
		routerOpts = append(routerOpts, router.WithMetrics(c.metrics))
	}
	if c.opts.EventJournalPath != "" {
		if c.journal == nil {
			j, err := journal.Open(c.opts.EventJournalPath)
			if err != nil {
				c.setStatus(StatusError)
				return fmt.Errorf("agentcli: opening event journal: %w", err)
			}
			c.journal = j
		}
		routerOpts = append(routerOpts, router.WithEventRecorder(c.journal))
	}
	conn := rpcmux.New(stream, muxOpts...)

	dispatcher := registry.NewDispatcher(c.reg, c.logger)
	conn.SetRequestHandler(dispatcher.Handle)

	runCtx, cancel := context.WithCancel(context.Background())

	rtr := router.New(c.reg, routerOpts...)

	connDone := make(chan error, 1)
	go func() { connDone <- conn.Run(runCtx) }()
	go rtr.Run(runCtx, conn.Notifications())

	if err := c.handshake(ctx, conn, sup); err != nil {
		cancel()
		_ = stream.Close()
		if sup != nil {
			_ = sup.ForceKill()
		}
		c.setStatus(StatusError)
		return err
	}

	cronSched := c.buildKeepalive(conn)

	c.mu.Lock()
	if c.cronSched != nil {
		c.cronSched.Stop()
	}
	c.stream = stream
	c.conn = conn
	c.sup = sup
	c.cancelRun = cancel
	c.activeRouter = rtr
	c.cronSched = cronSched
	c.status = StatusConnected
	c.mu.Unlock()

	if sup != nil {
		go c.watchExit(sup)
	}
	go c.watchConnDone(connDone)

	return nil
}

// openTransport builds the transport per ClientOptions: an unmanaged TCP
// dial to CLIURL, or a managed child (stdio, or TCP with a port the child
// announces on stderr).
func (c *Client) openTransport(ctx context.Context) (transport.Stream, *supervisor.Supervisor, error) {
	if c.opts.CLIURL != "" {
		host, port, err := transport.ParseCLIURL(c.opts.CLIURL)
		if err != nil {
			return nil, nil, &ConfigError{Message: err.Error()}
		}
		stream, err := transport.DialTCP(ctx, host, port)
		if err != nil {
			return nil, nil, &StartupError{Message: err.Error()}
		}
		return stream, nil, nil
	}

	env := make([]string, 0, len(c.opts.Env)+1)
	for k, v := range c.opts.Env {
		env = append(env, k+"="+v)
	}
	if c.opts.GithubToken != "" {
		env = append(env, "GITHUB_TOKEN="+c.opts.GithubToken)
	}

	sup, err := supervisor.New(ctx, supervisor.Config{Path: c.opts.CLIPath, Args: c.opts.CLIArgs, Env: env}, c.logger)
	if err != nil {
		return nil, nil, &StartupError{Message: err.Error()}
	}

	if c.opts.useStdio() {
		return transport.NewStdio(sup.Stdin(), sup.Stdout()), sup, nil
	}

	port, err := c.awaitAnnouncedPort(sup)
	if err != nil {
		_ = sup.ForceKill()
		return nil, nil, err
	}
	stream, err := transport.DialTCP(ctx, "localhost", port)
	if err != nil {
		_ = sup.ForceKill()
		return nil, nil, &StartupError{Message: err.Error(), Stderr: sup.StderrTail()}
	}
	return stream, sup, nil
}

// buildKeepalive builds and starts a cron schedule issuing a best-effort
// idle ping against conn, if ClientOptions.KeepaliveCron was set.
// KeepaliveCron's Validate already rejected a malformed expression, so
// AddFunc failing here would only indicate a library-internal surprise.
func (c *Client) buildKeepalive(conn *rpcmux.Conn) *cron.Cron {
	if c.opts.KeepaliveCron == "" {
		return nil
	}

	sched := cron.New()
	_, err := sched.AddFunc(c.opts.KeepaliveCron, func() {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if _, err := conn.Call(ctx, "ping", struct{}{}); err != nil {
			c.logger.Warn("agentcli: keepalive ping failed", "error", err)
		}
	})
	if err != nil {
		c.logger.Error("agentcli: keepalive-cron schedule rejected at runtime", "error", err)
		return nil
	}
	sched.Start()
	return sched
}

func (c *Client) awaitAnnouncedPort(sup *supervisor.Supervisor) (int, error) {
	deadline := time.After(c.opts.HandshakeTimeout)
	poll := time.NewTicker(20 * time.Millisecond)
	defer poll.Stop()
	for {
		for _, line := range sup.StderrTail() {
			if port, ok := transport.ParsePortAnnouncement(line); ok {
				return port, nil
			}
		}
		select {
		case res := <-sup.Exited():
			return 0, &StartupError{Message: fmt.Sprintf("child exited before announcing a port (code %d)", res.Code), Stderr: res.Stderr}
		case <-deadline:
			return 0, &StartupError{Message: "timed out waiting for port announcement", Stderr: sup.StderrTail()}
		case <-poll.C:
		}
	}
}

type pingResult struct {
	raw json.RawMessage
	err error
}

// handshake races the ping response against child exit and a timeout;
// the first to complete determines the outcome (the "handshake race").
func (c *Client) handshake(ctx context.Context, conn *rpcmux.Conn, sup *supervisor.Supervisor) error {
	pingCh := make(chan pingResult, 1)
	go func() {
		result, err := conn.Call(ctx, "ping", struct{}{})
		pingCh <- pingResult{raw: result, err: err}
	}()

	var exited <-chan supervisor.ExitResult
	if sup != nil {
		exited = sup.Exited()
	}

	select {
	case res := <-pingCh:
		if res.err != nil {
			stderr := []string{}
			if sup != nil {
				stderr = sup.StderrTail()
			}
			return &StartupError{Message: res.err.Error(), Stderr: stderr}
		}
		return c.checkProtocolVersion(res.raw)
	case exit := <-exited:
		return &StartupError{Message: fmt.Sprintf("child exited before handshake completed (code %d)", exit.Code), Stderr: exit.Stderr}
	case <-time.After(c.opts.HandshakeTimeout):
		stderr := []string{}
		if sup != nil {
			stderr = sup.StderrTail()
		}
		return &StartupError{Message: "handshake timed out", Stderr: stderr}
	}
}

func (c *Client) checkProtocolVersion(raw json.RawMessage) error {
	var payload struct {
		ProtocolVersion int `json:"protocolVersion"`
	}
	if err := json.Unmarshal(raw, &payload); err != nil || payload.ProtocolVersion == 0 {
		return &ProtocolVersionMismatch{Want: expectedProtocolVersion, Got: payload.ProtocolVersion}
	}
	if payload.ProtocolVersion != expectedProtocolVersion {
		return &ProtocolVersionMismatch{Want: expectedProtocolVersion, Got: payload.ProtocolVersion}
	}
	return nil
}

// watchExit observes the managed child's exit and triggers auto-restart
// (if enabled and the client isn't intentionally stopping).
func (c *Client) watchExit(sup *supervisor.Supervisor) {
	result := <-sup.Exited()

	c.mu.Lock()
	stopping := c.stopping
	status := c.status
	c.mu.Unlock()

	if stopping {
		c.logger.Debug("agentcli: child exited during shutdown", "code", result.Code)
		return
	}
	if status == StatusConnected && c.opts.AutoRestart {
		c.triggerAutoRestart()
		return
	}
	c.setStatus(StatusError)
	c.logger.Warn("agentcli: child exited unexpectedly", "code", result.Code)
}

// watchConnDone observes the multiplexer's Run loop terminating (reader
// EOF/error), the other auto-restart trigger.
func (c *Client) watchConnDone(done <-chan error) {
	err := <-done

	c.mu.Lock()
	stopping := c.stopping
	status := c.status
	c.mu.Unlock()

	if stopping {
		return
	}
	if status == StatusConnected && c.opts.AutoRestart {
		c.triggerAutoRestart()
		return
	}
	c.setStatus(StatusError)
	c.logger.Warn("agentcli: connection closed unexpectedly", "error", err)
}

// triggerAutoRestart is a single-shot compare-and-set guard preventing
// re-entrant restarts; it performs stop; start on its own goroutine, rate
// limited per §4.3 (expansion) so a crash-looping child cannot spin the
// restart loop without bound.
func (c *Client) triggerAutoRestart() {
	if !c.restarting.CompareAndSwap(false, true) {
		return
	}
	if !c.restartLimiter.Allow() {
		c.restarting.Store(false)
		c.setStatus(StatusError)
		c.logger.Error("agentcli: auto-restart rate limit exceeded, giving up")
		return
	}
	if c.metrics != nil {
		c.metrics.IncProcessRestart()
	}
	go func() {
		defer c.restarting.Store(false)
		ctx := context.Background()
		if err := c.Stop(ctx); err != nil {
			c.logger.Warn("agentcli: auto-restart stop step reported errors", "error", err)
		}
		if err := c.Start(ctx); err != nil {
			c.logger.Error("agentcli: auto-restart failed", "error", err)
		}
	}()
}

// Stop gracefully tears down the connection: destroys every session
// (collecting but not aborting on errors), closes the transport (which
// unblocks the reader), and asks a managed child to terminate gracefully.
// Idempotent.
func (c *Client) Stop(ctx context.Context) error {
	c.mu.Lock()
	if c.status == StatusDisconnected {
		c.mu.Unlock()
		return nil
	}
	c.stopping = true
	stream := c.stream
	conn := c.conn
	sup := c.sup
	cancel := c.cancelRun
	cronSched := c.cronSched
	j := c.journal
	c.mu.Unlock()

	var errs []error

	if conn != nil {
		for _, id := range c.reg.SessionIDs() {
			destroyCtx, cancelDestroy := context.WithTimeout(ctx, 5*time.Second)
			_, err := conn.Call(destroyCtx, "session.destroy", map[string]any{"sessionId": id})
			cancelDestroy()
			if err != nil {
				errs = append(errs, fmt.Errorf("destroying session %s: %w", id, err))
			}
		}
	}
	c.reg.DestroyAll()

	if cronSched != nil {
		cronSched.Stop()
	}
	if cancel != nil {
		cancel()
	}
	if stream != nil {
		if err := stream.Close(); err != nil {
			errs = append(errs, fmt.Errorf("closing transport: %w", err))
		}
	}
	if sup != nil {
		if err := sup.Stop(); err != nil {
			errs = append(errs, fmt.Errorf("stopping child: %w", err))
		}
	}
	if j != nil {
		if err := j.Close(); err != nil {
			errs = append(errs, fmt.Errorf("closing event journal: %w", err))
		}
	}

	c.clearModelsCache()

	c.mu.Lock()
	c.status = StatusDisconnected
	c.stopping = false
	c.stream = nil
	c.conn = nil
	c.sup = nil
	c.cancelRun = nil
	c.activeRouter = nil
	c.cronSched = nil
	c.journal = nil
	c.mu.Unlock()

	return errors.Join(errs...)
}

// ForceStop tears the connection down immediately: no polite session
// destroy or graceful child shutdown, just terminate everything.
func (c *Client) ForceStop(ctx context.Context) error {
	c.mu.Lock()
	if c.status == StatusDisconnected {
		c.mu.Unlock()
		return nil
	}
	c.stopping = true
	stream := c.stream
	sup := c.sup
	cancel := c.cancelRun
	cronSched := c.cronSched
	j := c.journal
	c.mu.Unlock()

	c.reg.DestroyAll()

	var errs []error
	if cronSched != nil {
		cronSched.Stop()
	}
	if cancel != nil {
		cancel()
	}
	if stream != nil {
		if err := stream.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	if sup != nil {
		if err := sup.ForceKill(); err != nil {
			errs = append(errs, err)
		}
	}
	if j != nil {
		if err := j.Close(); err != nil {
			errs = append(errs, err)
		}
	}

	c.clearModelsCache()

	c.mu.Lock()
	c.status = StatusDisconnected
	c.stopping = false
	c.stream = nil
	c.conn = nil
	c.sup = nil
	c.cancelRun = nil
	c.activeRouter = nil
	c.cronSched = nil
	c.journal = nil
	c.mu.Unlock()

	return errors.Join(errs...)
}

func (c *Client) connOrClosed() (*rpcmux.Conn, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.conn == nil {
		return nil, &ConnectionClosedError{}
	}
	return c.conn, nil
}

// CreateSession validates cfg, translates it to wire form, and creates a
// new session. requestPermission/requestUserInput/hooks/envValueMode are
// always advertised on the wire regardless of whether handlers are set
// (deny-by-default), matching the server's required bit-level contract.
func (c *Client) CreateSession(ctx context.Context, cfg SessionConfig) (*Session, error) {
	return c.createOrResume(ctx, "session.create", "", cfg)
}

// ResumeSession resumes a previously created session by id.
func (c *Client) ResumeSession(ctx context.Context, sessionID string, cfg SessionConfig) (*Session, error) {
	return c.createOrResume(ctx, "session.resume", sessionID, cfg)
}

func (c *Client) createOrResume(ctx context.Context, method, sessionID string, cfg SessionConfig) (*Session, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	conn, err := c.connOrClosed()
	if err != nil {
		return nil, err
	}

	payload := cfg.toWire()
	if sessionID != "" {
		payload["sessionId"] = sessionID
	}

	raw, err := conn.Call(ctx, method, payload)
	if err != nil {
		return nil, err
	}

	var reply struct {
		SessionID     string `json:"sessionId"`
		WorkspacePath string `json:"workspacePath"`
	}
	if err := json.Unmarshal(raw, &reply); err != nil {
		return nil, fmt.Errorf("agentcli: decoding %s reply: %w", method, err)
	}

	c.reg.Create(reply.SessionID, cfg.toRecordConfig(reply.WorkspacePath))
	return &Session{id: reply.SessionID, client: c}, nil
}

// ListModels returns the cached model list, fetching it on first use.
// Concurrent callers during the first fetch share the same in-flight
// request rather than issuing duplicate RPCs.
func (c *Client) ListModels(ctx context.Context) ([]ModelInfo, error) {
	c.modelsMu.Lock()
	if c.modelsValid {
		cached := c.modelsCache
		c.modelsMu.Unlock()
		return cached, nil
	}
	c.modelsMu.Unlock()

	v, err, _ := c.modelsGroup.Do("models.list", func() (any, error) {
		conn, err := c.connOrClosed()
		if err != nil {
			return nil, err
		}
		raw, err := conn.Call(ctx, "models.list", struct{}{})
		if err != nil {
			return nil, err
		}
		var models []ModelInfo
		if err := json.Unmarshal(raw, &models); err != nil {
			return nil, fmt.Errorf("agentcli: decoding models.list reply: %w", err)
		}
		c.modelsMu.Lock()
		c.modelsCache = models
		c.modelsValid = true
		c.modelsMu.Unlock()
		return models, nil
	})
	if err != nil {
		return nil, err
	}
	return v.([]ModelInfo), nil
}

func (c *Client) clearModelsCache() {
	c.modelsMu.Lock()
	c.modelsCache = nil
	c.modelsValid = false
	c.modelsMu.Unlock()
}

// ListSessions lists sessions known to the server, optionally filtered.
func (c *Client) ListSessions(ctx context.Context, filter map[string]string) ([]SessionSummary, error) {
	conn, err := c.connOrClosed()
	if err != nil {
		return nil, err
	}
	raw, err := conn.Call(ctx, "session.list", map[string]any{"filter": filter})
	if err != nil {
		return nil, err
	}
	var sessions []SessionSummary
	if err := json.Unmarshal(raw, &sessions); err != nil {
		return nil, fmt.Errorf("agentcli: decoding session.list reply: %w", err)
	}
	return sessions, nil
}

// OnLifecycle registers handler for session lifecycle broadcasts
// (filterType == "" subscribes to every type). Returns an unsubscribe
// function.
func (c *Client) OnLifecycle(filterType string, handler LifecycleHandler) (unsubscribe func()) {
	// Lifecycle subscriptions are meaningful only while connected; the
	// router is rebuilt on each Start, so registrations made before the
	// first Start are intentionally not retained across restarts.
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.activeRouter == nil {
		return func() {}
	}
	return c.activeRouter.OnLifecycle(filterType, handler)
}
