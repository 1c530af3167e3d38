package registry

import "context"

// ToolInvocation describes one tool.call dispatched by the server.
type ToolInvocation struct {
	SessionID  string
	ToolCallID string
	ToolName   string
	Arguments  []byte
}

// ToolResultKind is the closed enum a tool handler's outcome is normalized
// to before being wrapped in the RPC reply.
type ToolResultKind string

const (
	ToolResultSuccess  ToolResultKind = "success"
	ToolResultFailure  ToolResultKind = "failure"
	ToolResultDenied   ToolResultKind = "denied"
	ToolResultRejected ToolResultKind = "rejected"
)

// ToolResult is the normalized shape every tool handler outcome converges
// to, regardless of how the handler itself failed or succeeded.
type ToolResult struct {
	TextResultForLLM string         `json:"textResultForLlm"`
	ResultType       ToolResultKind `json:"resultType"`
	Error            string         `json:"error,omitempty"`
	ToolTelemetry    map[string]any `json:"toolTelemetry"`
}

// ToolHandler answers a tool.call for a registered tool name.
type ToolHandler func(ctx context.Context, inv ToolInvocation) (ToolResult, error)

// PermissionKind is the closed enum of permission decision outcomes.
type PermissionKind string

const (
	PermissionApproved                      PermissionKind = "approved"
	PermissionDeniedByRules                 PermissionKind = "denied-by-rules"
	PermissionDeniedInteractivelyByUser     PermissionKind = "denied-interactively-by-user"
	PermissionDeniedNoApprovalRuleNoHandler PermissionKind = "denied-no-approval-rule-and-could-not-request-from-user"
)

// PermissionRequest carries the server's permission.request payload.
type PermissionRequest struct {
	SessionID string
	Raw       []byte
}

// PermissionResult is the handler's decision, replied to the server.
type PermissionResult struct {
	Kind PermissionKind `json:"kind"`
}

// PermissionHandler decides whether a potentially dangerous operation may
// proceed. A nil handler means deny-by-default.
type PermissionHandler func(ctx context.Context, req PermissionRequest) (PermissionResult, error)

// ApproveAll is a ready-made PermissionHandler that approves every
// request (P8).
func ApproveAll(ctx context.Context, req PermissionRequest) (PermissionResult, error) {
	return PermissionResult{Kind: PermissionApproved}, nil
}

// UserInputRequest carries a userInput.request payload.
type UserInputRequest struct {
	Question      string
	Choices       []string
	AllowFreeform bool
}

// UserInputResponse is the handler's answer.
type UserInputResponse struct {
	Answer      string
	WasFreeform bool
}

// UserInputHandler answers a userInput.request.
type UserInputHandler func(ctx context.Context, req UserInputRequest) (UserInputResponse, error)

// HookHandler answers a hooks.invoke for one hook kind.
type HookHandler func(ctx context.Context, input []byte) (map[string]any, error)
