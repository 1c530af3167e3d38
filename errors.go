package agentcli

import (
	"fmt"
	"strings"

	"github.com/driftwire/agentcli/internal/wire"
)

// ConfigError is returned from NewClient, CreateSession, or ResumeSession
// when the supplied options are invalid: an unknown key, a malformed
// cli-url, an MCP server entry of the wrong shape, a provider given
// without a model, or two mutually exclusive options set together.
type ConfigError struct {
	Message string
}

func (e *ConfigError) Error() string { return "agentcli: config error: " + e.Message }

// StartupError is returned from Client.Start when the child process
// fails or exits before the handshake completes, or the handshake itself
// times out. It always carries the captured stderr tail so a caller can
// see why the CLI failed to come up.
type StartupError struct {
	Message string
	Stderr  []string
}

func (e *StartupError) Error() string {
	if len(e.Stderr) == 0 {
		return "agentcli: startup error: " + e.Message
	}
	return fmt.Sprintf("agentcli: startup error: %s (stderr: %s)", e.Message, strings.Join(e.Stderr, " | "))
}

// ProtocolVersionMismatch is returned when the server's ping response
// does not carry the expected protocol version.
type ProtocolVersionMismatch struct {
	Want int
	Got  int
}

func (e *ProtocolVersionMismatch) Error() string {
	return fmt.Sprintf("agentcli: protocol version mismatch: want %d, got %d", e.Want, e.Got)
}

// ConnectionClosedError is returned by Client and Session operations when
// the client holds no connection (before Start or after Stop), and by
// SendAndWait when the session's event stream closes. Calls pending when
// the connection terminates, and calls made on a terminated connection
// before Stop, fail with an RpcError whose Code is -32000 instead.
type ConnectionClosedError struct {
	Cause error
}

func (e *ConnectionClosedError) Error() string {
	if e.Cause == nil {
		return "agentcli: connection closed"
	}
	return "agentcli: connection closed: " + e.Cause.Error()
}

func (e *ConnectionClosedError) Unwrap() error { return e.Cause }

// TimeoutError is returned by SendAndWait when the turn does not settle
// within its timeout; the send lock and subscription are released before
// it is returned. It is not used for single requests: a request whose
// context expires returns ctx.Err() (context.DeadlineExceeded or
// context.Canceled), with its pending entry already removed.
type TimeoutError struct {
	Op string
}

func (e *TimeoutError) Error() string { return "agentcli: timed out waiting for " + e.Op }

// RpcError is the error surfaced when the server replies with a
// JSON-RPC {error} object. It is a direct alias of the wire envelope's
// error type so callers can inspect Code/Message/Data.
type RpcError = wire.Error

// SessionDestroyedError is returned by every operation on a session
// handle once that session has been destroyed.
type SessionDestroyedError struct {
	SessionID string
}

func (e *SessionDestroyedError) Error() string {
	return fmt.Sprintf("agentcli: session %q already destroyed", e.SessionID)
}

// SessionErrorEvent is returned by SendAndWait when the server emits a
// session.error event instead of completing normally.
type SessionErrorEvent struct {
	SessionID string
	Message   string
}

func (e *SessionErrorEvent) Error() string {
	return fmt.Sprintf("agentcli: session %q reported an error: %s", e.SessionID, e.Message)
}

// HandlerError describes a failure of a user-supplied lifecycle, tool,
// permission, or hook handler. The dispatcher and router do not construct
// it: a tool handler error becomes a failure ToolResult, a permission
// handler error becomes a denial, a hook or user-input handler error is
// answered to the server as a JSON-RPC error, and a panicking lifecycle
// handler is recovered and logged.
type HandlerError struct {
	Handler string
	Cause   error
}

func (e *HandlerError) Error() string {
	return fmt.Sprintf("agentcli: %s handler failed: %v", e.Handler, e.Cause)
}

func (e *HandlerError) Unwrap() error { return e.Cause }
