package wireconv

import (
	"strings"
	"testing"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"
)

func TestToWire(t *testing.T) {
	cases := map[string]string{
		"session-id":     "sessionId",
		"tool-call-id":   "toolCallId",
		"workspace-path": "workspacePath",
		"mcp-command":    "command",
		"mcp-server-type": "type",
	}
	for in, want := range cases {
		if got := ToWire(in); got != want {
			t.Errorf("ToWire(%q) = %q, want %q", in, got, want)
		}
	}
}

func TestFromWireRoundTrip(t *testing.T) {
	cases := []string{"session-id", "tool-call-id", "workspace-path", "protocol-version"}
	for _, idiomatic := range cases {
		wire := ToWire(idiomatic)
		back := FromWire(wire)
		if back != idiomatic {
			t.Errorf("FromWire(ToWire(%q)) = %q, want %q", idiomatic, back, idiomatic)
		}
	}
}

// TestIdiomaticWireRoundTripIsIdentity is P7: for any non-MCP idiomatic
// field name built from lowercase-alphanumeric words (each starting with
// a letter) joined by hyphens,
// FromWire(ToWire(x)) reproduces x exactly.
func TestIdiomaticWireRoundTripIsIdentity(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 200
	properties := gopter.NewProperties(parameters)

	wordGen := gen.RegexMatch(`[a-z][a-z0-9]{0,7}`)

	properties.Property("wire round trip is the identity", prop.ForAll(
		func(words []string) bool {
			if len(words) == 0 {
				return true
			}
			idiomatic := strings.Join(words, "-")
			if strings.HasPrefix(idiomatic, "mcp-") {
				return true // MCP fields are the documented exception, not round-trippable.
			}
			return FromWire(ToWire(idiomatic)) == idiomatic
		},
		gen.SliceOfN(3, wordGen),
	))

	properties.TestingRun(t)
}

func TestMCPWireKeyTable(t *testing.T) {
	cases := map[string]string{
		"mcp-command":     "command",
		"mcp-args":        "args",
		"mcp-tools":       "tools",
		"mcp-server-type": "type",
		"mcp-timeout":     "timeout",
		"mcp-url":         "url",
		"mcp-headers":     "headers",
	}
	for in, want := range cases {
		if got := MCPWireKey(in); got != want {
			t.Errorf("MCPWireKey(%q) = %q, want %q", in, got, want)
		}
	}
}
