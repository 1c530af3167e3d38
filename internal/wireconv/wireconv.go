// Package wireconv converts between the library's idiomatic field casing
// and the wire protocol's camelCase JSON keys, including the one documented
// exception for MCP server entries (strip "mcp-" before camelCasing).
package wireconv

import "strings"

// mcpPrefix is the idiomatic-side prefix stripped before camelCasing MCP
// server fields. This is the single exception to the generic converter
// below; any future exception must be added explicitly here, not folded
// into the generic rules.
const mcpPrefix = "mcp-"

// ToWire converts an idiomatic, hyphen-or-snake-cased field name (e.g.
// "session-id", "tool_call_id") to its camelCase wire form
// ("sessionId", "toolCallId").
func ToWire(name string) string {
	if strings.HasPrefix(name, mcpPrefix) {
		if wire, ok := mcpWireKeys[name]; ok {
			return wire
		}
		name = strings.TrimPrefix(name, mcpPrefix)
	}
	return camelCase(name)
}

// FromWire converts a camelCase wire field name back to the idiomatic
// hyphenated form ("sessionId" -> "session-id"). It is the inverse of
// ToWire for the generic (non-MCP) case; MCP fields are not reconstructible
// from the wire name alone since the "mcp-" prefix is lost on the wire, so
// callers that need it back must track the MCP-ness out of band (the
// session config types do, since MCP fields only ever appear inside an
// MCPServerConfig).
func FromWire(name string) string {
	var b strings.Builder
	for i, r := range name {
		if r >= 'A' && r <= 'Z' {
			if i > 0 {
				b.WriteByte('-')
			}
			b.WriteRune(r - 'A' + 'a')
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}

func camelCase(name string) string {
	parts := splitWords(name)
	if len(parts) == 0 {
		return ""
	}
	var b strings.Builder
	b.WriteString(strings.ToLower(parts[0]))
	for _, p := range parts[1:] {
		if p == "" {
			continue
		}
		b.WriteString(strings.ToUpper(p[:1]))
		if len(p) > 1 {
			b.WriteString(strings.ToLower(p[1:]))
		}
	}
	return b.String()
}

func splitWords(name string) []string {
	return strings.FieldsFunc(name, func(r rune) bool {
		return r == '-' || r == '_'
	})
}

// mcpWireKeys maps each "mcp-"-prefixed idiomatic MCP server field name
// directly to its wire key, per §6 of the specification: mcp-command -> command, mcp-args -> args, mcp-tools ->
// tools, mcp-server-type -> type, mcp-timeout -> timeout, mcp-url -> url,
// mcp-headers -> headers.
var mcpWireKeys = map[string]string{
	"mcp-command":     "command",
	"mcp-args":        "args",
	"mcp-tools":       "tools",
	"mcp-server-type": "type",
	"mcp-timeout":     "timeout",
	"mcp-url":         "url",
	"mcp-headers":     "headers",
}

// MCPWireKey returns the wire key for an idiomatic MCP field name,
// falling back to the generic prefix-strip-then-camelCase rule for fields
// not in the fixed table above.
func MCPWireKey(idiomatic string) string {
	if wire, ok := mcpWireKeys[idiomatic]; ok {
		return wire
	}
	return ToWire(idiomatic)
}

// MCPServerType renders a server type constant in its wire string form.
type MCPServerType string

const (
	MCPServerHTTP  MCPServerType = "http"
	MCPServerSSE   MCPServerType = "sse"
	MCPServerStdio MCPServerType = "stdio"
	MCPServerLocal MCPServerType = "local"
)
