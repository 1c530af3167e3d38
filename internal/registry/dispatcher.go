package registry

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/driftwire/agentcli/internal/wire"
)

// Dispatcher answers the server->client requests the CLI issues mid-turn:
// tool.call, permission.request, userInput.request and hooks.invoke. Its
// Handle method has the exact shape of rpcmux.RequestHandler so it can be
// installed directly via Conn.SetRequestHandler without registry needing
// to import rpcmux.
type Dispatcher struct {
	registry *Registry
	logger   *slog.Logger
}

// NewDispatcher builds a Dispatcher over registry.
func NewDispatcher(reg *Registry, logger *slog.Logger) *Dispatcher {
	if logger == nil {
		logger = slog.Default()
	}
	return &Dispatcher{registry: reg, logger: logger}
}

// Handle routes one inbound request to the matching per-session handler.
func (d *Dispatcher) Handle(ctx context.Context, method string, params json.RawMessage) (json.RawMessage, *wire.Error) {
	switch method {
	case "tool.call":
		return d.handleToolCall(ctx, params)
	case "permission.request":
		return d.handlePermissionRequest(ctx, params)
	case "userInput.request":
		return d.handleUserInputRequest(ctx, params)
	case "hooks.invoke":
		return d.handleHookInvoke(ctx, params)
	default:
		return nil, &wire.Error{Code: wire.CodeMethodNotFound, Message: fmt.Sprintf("no dispatcher for %q", method)}
	}
}

type toolCallParams struct {
	SessionID  string          `json:"sessionId"`
	ToolCallID string          `json:"toolCallId"`
	Name       string          `json:"name"`
	Arguments  json.RawMessage `json:"arguments"`
}

// handleToolCall looks up the session and the named tool handler. An
// unknown session is a protocol-level error (-32001); an unknown tool
// within a known session is a normal, normalized failure result, since
// the server itself is responsible for only invoking tools it was told
// the session registered.
func (d *Dispatcher) handleToolCall(ctx context.Context, raw json.RawMessage) (json.RawMessage, *wire.Error) {
	var params toolCallParams
	if err := json.Unmarshal(raw, &params); err != nil {
		return nil, &wire.Error{Code: wire.CodeInvalidParams, Message: err.Error()}
	}

	rec, ok := d.registry.Get(params.SessionID)
	if !ok {
		return nil, &wire.Error{Code: wire.CodeUnknownSession, Message: fmt.Sprintf("unknown session %q", params.SessionID)}
	}
	if rec.Destroyed() {
		return nil, &wire.Error{Code: wire.CodeUnknownSession, Message: fmt.Sprintf("session %q already destroyed", params.SessionID)}
	}

	handler, ok := rec.ToolHandler(params.Name)
	if !ok {
		return wrapToolResult(ToolResult{
			ResultType:       ToolResultFailure,
			TextResultForLLM: fmt.Sprintf("no handler registered for tool %q", params.Name),
		})
	}

	callCtx, cancel := context.WithTimeout(ctx, rec.ToolTimeout())
	defer cancel()

	result, err := handler(callCtx, ToolInvocation{
		SessionID:  params.SessionID,
		ToolCallID: params.ToolCallID,
		ToolName:   params.Name,
		Arguments:  params.Arguments,
	})
	if err != nil {
		result = ToolResult{ResultType: ToolResultFailure, TextResultForLLM: err.Error()}
	}
	if result.ResultType == "" {
		result.ResultType = ToolResultSuccess
	}
	return wrapToolResult(result)
}

// wrapToolResult applies the nested {"result":{"result": ...}} reply
// envelope the CLI expects for tool.call responses.
func wrapToolResult(result ToolResult) (json.RawMessage, *wire.Error) {
	raw, err := json.Marshal(struct {
		Result ToolResult `json:"result"`
	}{Result: result})
	if err != nil {
		return nil, &wire.Error{Code: wire.CodeInternalError, Message: err.Error()}
	}
	outer, err := json.Marshal(struct {
		Result json.RawMessage `json:"result"`
	}{Result: raw})
	if err != nil {
		return nil, &wire.Error{Code: wire.CodeInternalError, Message: err.Error()}
	}
	return outer, nil
}

type permissionRequestParams struct {
	SessionID string `json:"sessionId"`
}

// handlePermissionRequest is deny-by-default: an unknown session, a
// destroyed session, or a session with no permission handler configured
// all resolve to a denial rather than an RPC error, mirroring the closed
// PermissionKind enum's "no approval rule and could not request from
// user" outcome.
func (d *Dispatcher) handlePermissionRequest(ctx context.Context, raw json.RawMessage) (json.RawMessage, *wire.Error) {
	var params permissionRequestParams
	if err := json.Unmarshal(raw, &params); err != nil {
		return nil, &wire.Error{Code: wire.CodeInvalidParams, Message: err.Error()}
	}

	rec, ok := d.registry.Get(params.SessionID)
	if !ok || rec.Destroyed() {
		return marshalPermissionResult(PermissionResult{Kind: PermissionDeniedNoApprovalRuleNoHandler})
	}

	handler := rec.PermissionHandler()
	if handler == nil {
		return marshalPermissionResult(PermissionResult{Kind: PermissionDeniedNoApprovalRuleNoHandler})
	}

	result, err := handler(ctx, PermissionRequest{SessionID: params.SessionID, Raw: raw})
	if err != nil {
		d.logger.Warn("registry: permission handler returned an error, denying", "sessionId", params.SessionID, "error", err)
		return marshalPermissionResult(PermissionResult{Kind: PermissionDeniedNoApprovalRuleNoHandler})
	}
	if result.Kind == "" {
		result.Kind = PermissionDeniedNoApprovalRuleNoHandler
	}
	return marshalPermissionResult(result)
}

func marshalPermissionResult(result PermissionResult) (json.RawMessage, *wire.Error) {
	raw, err := json.Marshal(result)
	if err != nil {
		return nil, &wire.Error{Code: wire.CodeInternalError, Message: err.Error()}
	}
	return raw, nil
}

type userInputRequestParams struct {
	SessionID     string   `json:"sessionId"`
	Question      string   `json:"question"`
	Choices       []string `json:"choices"`
	AllowFreeform bool     `json:"allowFreeform"`
}

func (d *Dispatcher) handleUserInputRequest(ctx context.Context, raw json.RawMessage) (json.RawMessage, *wire.Error) {
	var params userInputRequestParams
	if err := json.Unmarshal(raw, &params); err != nil {
		return nil, &wire.Error{Code: wire.CodeInvalidParams, Message: err.Error()}
	}

	rec, ok := d.registry.Get(params.SessionID)
	if !ok {
		return nil, &wire.Error{Code: wire.CodeUnknownSession, Message: fmt.Sprintf("unknown session %q", params.SessionID)}
	}
	if rec.Destroyed() {
		return nil, &wire.Error{Code: wire.CodeUnknownSession, Message: fmt.Sprintf("session %q already destroyed", params.SessionID)}
	}

	handler := rec.UserInputHandler()
	if handler == nil {
		return nil, &wire.Error{Code: wire.CodeInternalError, Message: "no userInput handler configured for session"}
	}

	resp, err := handler(ctx, UserInputRequest{
		Question:      params.Question,
		Choices:       params.Choices,
		AllowFreeform: params.AllowFreeform,
	})
	if err != nil {
		return nil, &wire.Error{Code: wire.CodeInternalError, Message: err.Error()}
	}

	out, err := json.Marshal(resp)
	if err != nil {
		return nil, &wire.Error{Code: wire.CodeInternalError, Message: err.Error()}
	}
	return out, nil
}

type hookInvokeParams struct {
	SessionID string          `json:"sessionId"`
	Hook      string          `json:"hook"`
	Input     json.RawMessage `json:"input"`
}

func (d *Dispatcher) handleHookInvoke(ctx context.Context, raw json.RawMessage) (json.RawMessage, *wire.Error) {
	var params hookInvokeParams
	if err := json.Unmarshal(raw, &params); err != nil {
		return nil, &wire.Error{Code: wire.CodeInvalidParams, Message: err.Error()}
	}

	rec, ok := d.registry.Get(params.SessionID)
	if !ok || rec.Destroyed() {
		// No hook configured for a session that no longer exists: answer
		// with an empty decision rather than failing the CLI's turn.
		return json.RawMessage(`{}`), nil
	}

	handler, ok := rec.Hook(params.Hook)
	if !ok {
		return json.RawMessage(`{}`), nil
	}

	result, err := handler(ctx, params.Input)
	if err != nil {
		return nil, &wire.Error{Code: wire.CodeInternalError, Message: err.Error()}
	}
	out, err := json.Marshal(result)
	if err != nil {
		return nil, &wire.Error{Code: wire.CodeInternalError, Message: err.Error()}
	}
	return out, nil
}
