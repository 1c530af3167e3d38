package agentcli

import (
	"fmt"
	"log/slog"
	"time"

	"github.com/driftwire/agentcli/internal/registry"
	"github.com/driftwire/agentcli/internal/telemetry"
	"github.com/driftwire/agentcli/internal/transport"
	"github.com/driftwire/agentcli/internal/wireconv"
	"github.com/robfig/cron/v3"
)

// Default queue sizes and timeouts, per the specification's buffer table
// and timeout defaults.
const (
	DefaultWriterQueueSize       = 1024
	DefaultReaderQueueSize       = 1024
	DefaultNotificationQueueSize = 4096
	DefaultRouterQueueSize       = 4096
	DefaultSubscriberBufferSize  = 1024

	DefaultHandshakeTimeout = 60 * time.Second
	DefaultSendAndWaitTimeout = 180 * time.Second
	DefaultToolTimeout        = 120 * time.Second
)

// ClientOptions configures a Client's connection to the assistant CLI.
// Unknown-key rejection is naturally provided by Go's typed struct (there
// is no loose map to carry unrecognized fields); Validate enforces the
// remaining cross-field invariants.
type ClientOptions struct {
	// CLIPath and CLIArgs spawn a managed child process. Mutually
	// exclusive with CLIURL.
	CLIPath string
	CLIArgs []string

	// CLIURL connects to an already-running CLI instead of spawning one.
	// Accepts "PORT", "HOST:PORT", or "scheme://HOST:PORT". Mutually
	// exclusive with CLIPath and with UseStdio=true.
	CLIURL string

	// UseStdio selects stdio framing for a managed child. nil (the zero
	// value) means "default to stdio"; Go's bool zero value can't tell
	// "unset" from "explicitly false", so this is a pointer the same way
	// the reference client SDK this module's wire behavior was checked
	// against resolves the same default. Set to a false pointer to have
	// the managed child announce a TCP port instead.
	UseStdio *bool

	// Env is merged into the managed child's environment.
	Env map[string]string

	// GithubToken maps to a well-known auth environment variable for the
	// managed child. Rejected together with CLIURL, since auth for an
	// externally managed CLI is owned by that server.
	GithubToken string
	// UseLoggedInUser is rejected together with CLIURL for the same reason.
	UseLoggedInUser bool

	AutoRestart bool

	// KeepaliveCron, when non-empty, is a standard five-field cron
	// expression scheduling a best-effort idle ping to the assistant CLI
	// (e.g. "*/5 * * * *" for every five minutes). A malformed expression
	// fails Validate rather than failing silently at Start.
	KeepaliveCron string

	// EventJournalPath, when non-empty, opens a SQLite-backed diagnostic
	// journal at this path (directory) and records every session event
	// the router dispatches, for after-the-fact replay/inspection.
	EventJournalPath string

	WriterQueueSize       int
	ReaderQueueSize       int
	NotificationQueueSize int
	RouterQueueSize       int
	SubscriberBufferSize  int

	HandshakeTimeout time.Duration

	Logger  *slog.Logger
	Metrics *telemetry.Metrics
}

// Validate enforces ClientOptions' cross-field invariants and fills in
// defaults for zero-valued queue sizes and timeouts. It does not mutate
// the receiver; callers should use the returned copy.
func (o ClientOptions) Validate() (ClientOptions, error) {
	if o.CLIURL != "" {
		if o.CLIPath != "" {
			return o, &ConfigError{Message: "cli-url is mutually exclusive with cli-path"}
		}
		if o.UseStdio != nil && *o.UseStdio {
			return o, &ConfigError{Message: "cli-url is mutually exclusive with use-stdio=true"}
		}
		if o.GithubToken != "" || o.UseLoggedInUser {
			return o, &ConfigError{Message: "cli-url is mutually exclusive with github-token/use-logged-in-user: auth is owned by the external server"}
		}
		if _, _, err := transport.ParseCLIURL(o.CLIURL); err != nil {
			return o, &ConfigError{Message: fmt.Sprintf("cli-url: %v", err)}
		}
	}
	if o.CLIURL == "" && o.CLIPath == "" {
		return o, &ConfigError{Message: "one of cli-path or cli-url is required"}
	}

	if o.WriterQueueSize < 0 || o.ReaderQueueSize < 0 || o.NotificationQueueSize < 0 ||
		o.RouterQueueSize < 0 || o.SubscriberBufferSize < 0 {
		return o, &ConfigError{Message: "queue sizes must be >= 0"}
	}
	if o.HandshakeTimeout < 0 {
		return o, &ConfigError{Message: "handshake timeout must be >= 0"}
	}
	if o.KeepaliveCron != "" {
		if _, err := cron.ParseStandard(o.KeepaliveCron); err != nil {
			return o, &ConfigError{Message: fmt.Sprintf("keepalive-cron: %v", err)}
		}
	}

	if o.WriterQueueSize == 0 {
		o.WriterQueueSize = DefaultWriterQueueSize
	}
	if o.ReaderQueueSize == 0 {
		o.ReaderQueueSize = DefaultReaderQueueSize
	}
	if o.NotificationQueueSize == 0 {
		o.NotificationQueueSize = DefaultNotificationQueueSize
	}
	if o.RouterQueueSize == 0 {
		o.RouterQueueSize = DefaultRouterQueueSize
	}
	if o.SubscriberBufferSize == 0 {
		o.SubscriberBufferSize = DefaultSubscriberBufferSize
	}
	if o.HandshakeTimeout == 0 {
		o.HandshakeTimeout = DefaultHandshakeTimeout
	}
	return o, nil
}

// useStdio resolves UseStdio's pointer-with-nil-default encoding: a
// managed child uses stdio framing unless the caller explicitly set
// UseStdio to a false pointer.
func (o ClientOptions) useStdio() bool {
	return o.UseStdio == nil || *o.UseStdio
}

// SystemMessageMode selects how SystemMessage.Content combines with the
// server's own system prompt.
type SystemMessageMode string

const (
	SystemMessageAppend  SystemMessageMode = "append"
	SystemMessageReplace SystemMessageMode = "replace"
)

// SystemMessage overrides or extends the session's system prompt.
type SystemMessage struct {
	Mode    SystemMessageMode
	Content string
}

// MCPServerType mirrors internal/wireconv's server type enum so callers
// don't need to import an internal package to construct one.
type MCPServerType = wireconv.MCPServerType

const (
	MCPServerHTTP  = wireconv.MCPServerHTTP
	MCPServerSSE   = wireconv.MCPServerSSE
	MCPServerStdio = wireconv.MCPServerStdio
	MCPServerLocal = wireconv.MCPServerLocal
)

// MCPServerConfig describes one auxiliary MCP server a session may use.
// Local/stdio servers are launched by command+args; http/sse servers are
// dialed by URL. Exactly one shape applies depending on ServerType.
type MCPServerConfig struct {
	ServerType MCPServerType

	// Local/stdio shape.
	Command string
	Args    []string

	// Remote (http/sse) shape.
	URL     string
	Headers map[string]string
	Timeout time.Duration

	Tools []string
}

func (m MCPServerConfig) validate(name string) error {
	switch m.ServerType {
	case MCPServerStdio, MCPServerLocal:
		if m.Command == "" {
			return &ConfigError{Message: fmt.Sprintf("mcp server %q: command is required for server-type %q", name, m.ServerType)}
		}
	case MCPServerHTTP, MCPServerSSE:
		if m.URL == "" {
			return &ConfigError{Message: fmt.Sprintf("mcp server %q: url is required for server-type %q", name, m.ServerType)}
		}
	default:
		return &ConfigError{Message: fmt.Sprintf("mcp server %q: unknown server-type %q", name, m.ServerType)}
	}
	return nil
}

// toWire renders one MCP server entry in wire form, applying the
// documented mcp- prefix-strip exception via internal/wireconv.
func (m MCPServerConfig) toWire() map[string]any {
	out := map[string]any{
		wireconv.MCPWireKey("mcp-server-type"): string(m.ServerType),
		wireconv.MCPWireKey("mcp-tools"):       m.Tools,
	}
	switch m.ServerType {
	case MCPServerStdio, MCPServerLocal:
		out[wireconv.MCPWireKey("mcp-command")] = m.Command
		out[wireconv.MCPWireKey("mcp-args")] = m.Args
	case MCPServerHTTP, MCPServerSSE:
		out[wireconv.MCPWireKey("mcp-url")] = m.URL
		out[wireconv.MCPWireKey("mcp-headers")] = m.Headers
		if m.Timeout > 0 {
			out[wireconv.MCPWireKey("mcp-timeout")] = m.Timeout.Milliseconds()
		}
	}
	return out
}

// SessionConfig configures a session at creation or resumption time.
type SessionConfig struct {
	Model    string
	Provider string

	Tools          []string
	PermittedTools []string
	ExcludedTools  []string

	SystemMessage *SystemMessage

	MCPServers map[string]MCPServerConfig

	CustomAgents      []string
	SkillDirectories  []string
	ConfigDirectories []string

	ReasoningEffort string
	Streaming       bool

	InfiniteSessionsThreshold int

	WorkingDirectory string
	DisableResume    bool

	ToolHandlers      map[string]ToolHandler
	ToolTimeout       time.Duration
	PermissionHandler PermissionHandler
	UserInputHandler  UserInputHandler
	Hooks             map[string]HookHandler
}

// Validate enforces "model required when provider set" and MCP server
// shape, per §3/§4.6.
func (c SessionConfig) Validate() error {
	if c.Provider != "" && c.Model == "" {
		return &ConfigError{Message: "model is required when provider is set (BYOK)"}
	}
	for name, server := range c.MCPServers {
		if err := server.validate(name); err != nil {
			return err
		}
	}
	return nil
}

// toWire translates a validated SessionConfig into the wire payload the
// server expects, always including requestPermission/requestUserInput/
// hooks/envValueMode even when the corresponding handler is absent —
// omitting any of these is observed to make the server reject the
// request outright.
func (c SessionConfig) toWire() map[string]any {
	mcp := make(map[string]any, len(c.MCPServers))
	for name, server := range c.MCPServers {
		mcp[name] = server.toWire()
	}

	payload := map[string]any{
		"model":                     c.Model,
		"provider":                  c.Provider,
		"tools":                     c.Tools,
		"permittedTools":            c.PermittedTools,
		"excludedTools":             c.ExcludedTools,
		"mcpServers":                mcp,
		"customAgents":              c.CustomAgents,
		"skillDirectories":          c.SkillDirectories,
		"configDirectories":         c.ConfigDirectories,
		"reasoningEffort":           c.ReasoningEffort,
		"streaming":                 c.Streaming,
		"infiniteSessionsThreshold": c.InfiniteSessionsThreshold,
		"workingDirectory":          c.WorkingDirectory,
		"disableResume":             c.DisableResume,
		"requestPermission":         true,
		"requestUserInput":          true,
		"hooks":                     hookNames(c.Hooks),
		"envValueMode":              "direct",
	}
	if c.SystemMessage != nil {
		payload["systemMessage"] = map[string]any{
			"mode":    string(c.SystemMessage.Mode),
			"content": c.SystemMessage.Content,
		}
	}
	return payload
}

func hookNames(hooks map[string]HookHandler) []string {
	names := make([]string, 0, len(hooks))
	for name := range hooks {
		names = append(names, name)
	}
	return names
}

// toRecordConfig builds the registry.RecordConfig carried alongside the
// session record, once the server has accepted the session.
func (c SessionConfig) toRecordConfig(workspacePath string) registry.RecordConfig {
	return registry.RecordConfig{
		WorkspacePath:     workspacePath,
		ExpectedModel:     c.Model,
		ToolHandlers:      c.ToolHandlers,
		ToolTimeout:       c.ToolTimeout,
		PermissionHandler: c.PermissionHandler,
		UserInputHandler:  c.UserInputHandler,
		Hooks:             c.Hooks,
	}
}
