package agentcli

import "github.com/driftwire/agentcli/internal/registry"

// Callback types a caller registers on a SessionConfig. These are direct
// aliases of internal/registry's types: registry owns the dispatch
// machinery, this package just gives callers outside the module a name
// for the same shapes.

type (
	ToolInvocation     = registry.ToolInvocation
	ToolResult         = registry.ToolResult
	ToolResultKind     = registry.ToolResultKind
	ToolHandler        = registry.ToolHandler
	PermissionKind     = registry.PermissionKind
	PermissionRequest  = registry.PermissionRequest
	PermissionResult   = registry.PermissionResult
	PermissionHandler  = registry.PermissionHandler
	UserInputRequest   = registry.UserInputRequest
	UserInputResponse  = registry.UserInputResponse
	UserInputHandler   = registry.UserInputHandler
	HookHandler        = registry.HookHandler
)

const (
	ToolResultSuccess  = registry.ToolResultSuccess
	ToolResultFailure  = registry.ToolResultFailure
	ToolResultDenied   = registry.ToolResultDenied
	ToolResultRejected = registry.ToolResultRejected

	PermissionApproved                     = registry.PermissionApproved
	PermissionDeniedByRules                = registry.PermissionDeniedByRules
	PermissionDeniedInteractivelyByUser    = registry.PermissionDeniedInteractivelyByUser
	PermissionDeniedNoApprovalRuleNoHandler = registry.PermissionDeniedNoApprovalRuleNoHandler
)

// ApproveAll is a ready-made PermissionHandler that approves every
// request (P8).
var ApproveAll PermissionHandler = registry.ApproveAll
