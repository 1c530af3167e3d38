package agentcli

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/driftwire/agentcli/internal/events"
	"github.com/driftwire/agentcli/internal/registry"
)

// Session is a handle to one live session on the assistant CLI. All
// operations resolve the session's Record on every call rather than
// caching it, so a Destroy from any goroutine is immediately visible to
// every other holder of the same handle (P3).
type Session struct {
	id     string
	client *Client
}

// ID returns the session's server-assigned id.
func (s *Session) ID() string { return s.id }

func (s *Session) record() (*registry.Record, *registry.IO, error) {
	rec, ok := s.client.reg.Get(s.id)
	if !ok {
		return nil, nil, &SessionDestroyedError{SessionID: s.id}
	}
	if rec.Destroyed() {
		return nil, nil, &SessionDestroyedError{SessionID: s.id}
	}
	io, ok := s.client.reg.IOFor(s.id)
	if !ok {
		return nil, nil, &SessionDestroyedError{SessionID: s.id}
	}
	return rec, io, nil
}

// SendOptions carries one prompt turn.
type SendOptions struct {
	Prompt      string
	Attachments []json.RawMessage
	Mode        string
}

func (o SendOptions) toWire(sessionID string) map[string]any {
	payload := map[string]any{
		"sessionId":   sessionID,
		"prompt":      o.Prompt,
		"attachments": o.Attachments,
	}
	if o.Mode != "" {
		payload["mode"] = o.Mode
	}
	return payload
}

// Send submits a prompt and returns as soon as the server has accepted
// it, without waiting for any event. The session's send lock serializes
// this against any other in-flight SendAndWait/SendAsync/Send on the
// same session, since the server does not support overlapping turns.
func (s *Session) Send(ctx context.Context, opts SendOptions) (string, error) {
	_, io, err := s.record()
	if err != nil {
		return "", err
	}

	conn, err := s.client.connOrClosed()
	if err != nil {
		return "", err
	}

	io.SendLock.Lock()
	defer io.SendLock.Unlock()

	raw, err := conn.Call(ctx, "session.send", opts.toWire(s.id))
	if err != nil {
		return "", err
	}
	var reply struct {
		MessageID string `json:"messageId"`
	}
	if err := json.Unmarshal(raw, &reply); err != nil {
		return "", fmt.Errorf("agentcli: decoding session.send reply: %w", err)
	}
	return reply.MessageID, nil
}

// SendAndWait submits a prompt and blocks until the turn settles: either
// session.idle (in which case the last-seen assistant.message event for
// this turn is returned, per "last assistant message wins") or
// session.error (returned as a *SessionErrorEvent). The subscription is
// established before the send RPC so no event between send and subscribe
// can be missed. timeout <= 0 uses DefaultSendAndWaitTimeout.
func (s *Session) SendAndWait(ctx context.Context, opts SendOptions, timeout time.Duration) (Event, error) {
	if timeout <= 0 {
		timeout = DefaultSendAndWaitTimeout
	}

	_, io, err := s.record()
	if err != nil {
		return Event{}, err
	}
	conn, err := s.client.connOrClosed()
	if err != nil {
		return Event{}, err
	}

	io.SendLock.Lock()
	defer io.SendLock.Unlock()

	sub := io.Broadcast.Subscribe()
	defer sub.Unsubscribe()

	if _, err := conn.Call(ctx, "session.send", opts.toWire(s.id)); err != nil {
		return Event{}, err
	}

	deadline := time.NewTimer(timeout)
	defer deadline.Stop()

	var lastAssistant Event
	haveAssistant := false
	for {
		select {
		case ev, ok := <-sub.Chan:
			if !ok {
				return Event{}, &ConnectionClosedError{}
			}
			switch ev.Type {
			case events.TypeAssistantMessage:
				lastAssistant = ev
				haveAssistant = true
			case events.TypeSessionIdle:
				if haveAssistant {
					return lastAssistant, nil
				}
				return ev, nil
			case events.TypeSessionError:
				msg, _ := ev.Content()
				return Event{}, &SessionErrorEvent{SessionID: s.id, Message: msg}
			}
		case <-deadline.C:
			return Event{}, &TimeoutError{Op: "session turn to settle"}
		case <-ctx.Done():
			return Event{}, ctx.Err()
		}
	}
}

// SendAsync submits a prompt and returns a channel forwarding every event
// of the turn. The channel is closed, and the send lock/subscription
// released, once session.idle or session.error is observed (both are
// forwarded before closing). If the send RPC itself fails, the lock and
// subscription are released at once and no channel is returned.
func (s *Session) SendAsync(ctx context.Context, opts SendOptions) (<-chan Event, error) {
	_, io, err := s.record()
	if err != nil {
		return nil, err
	}
	conn, err := s.client.connOrClosed()
	if err != nil {
		return nil, err
	}

	io.SendLock.Lock()
	sub := io.Broadcast.Subscribe()

	if _, err := conn.Call(ctx, "session.send", opts.toWire(s.id)); err != nil {
		sub.Unsubscribe()
		io.SendLock.Unlock()
		return nil, err
	}

	out := make(chan Event, cap(sub.Chan))
	go func() {
		defer close(out)
		defer sub.Unsubscribe()
		defer io.SendLock.Unlock()
		for {
			select {
			case ev, ok := <-sub.Chan:
				if !ok {
					return
				}
				out <- ev
				if ev.Type == events.TypeSessionIdle || ev.Type == events.TypeSessionError {
					return
				}
			case <-ctx.Done():
				return
			}
		}
	}()
	return out, nil
}

// Abort requests cancellation of the session's current turn, if any.
// Idempotent.
func (s *Session) Abort(ctx context.Context) error {
	if _, _, err := s.record(); err != nil {
		return err
	}
	conn, err := s.client.connOrClosed()
	if err != nil {
		return err
	}
	_, err = conn.Call(ctx, "session.abort", map[string]any{"sessionId": s.id})
	return err
}

// GetMessages returns the session's raw message history as the server
// reports it.
func (s *Session) GetMessages(ctx context.Context) (json.RawMessage, error) {
	if _, _, err := s.record(); err != nil {
		return nil, err
	}
	conn, err := s.client.connOrClosed()
	if err != nil {
		return nil, err
	}
	return conn.Call(ctx, "session.getMessages", map[string]any{"sessionId": s.id})
}

// GetCurrentModel returns the model the session is presently using.
func (s *Session) GetCurrentModel(ctx context.Context) (string, error) {
	if _, _, err := s.record(); err != nil {
		return "", err
	}
	conn, err := s.client.connOrClosed()
	if err != nil {
		return "", err
	}
	raw, err := conn.Call(ctx, "session.model.getCurrent", map[string]any{"sessionId": s.id})
	if err != nil {
		return "", err
	}
	var reply struct {
		Model string `json:"model"`
	}
	if err := json.Unmarshal(raw, &reply); err != nil {
		return "", fmt.Errorf("agentcli: decoding session.model.getCurrent reply: %w", err)
	}
	return reply.Model, nil
}

// SwitchModel changes the session's active model.
func (s *Session) SwitchModel(ctx context.Context, model string) error {
	if _, _, err := s.record(); err != nil {
		return err
	}
	conn, err := s.client.connOrClosed()
	if err != nil {
		return err
	}
	_, err = conn.Call(ctx, "session.model.switchTo", map[string]any{"sessionId": s.id, "model": model})
	return err
}

// Destroy tears the session down: it attempts a best-effort session.destroy
// RPC (errors are returned but destruction proceeds regardless), then
// marks the session destroyed locally so every further operation on this
// handle (or any other handle sharing this id) returns
// SessionDestroyedError instead of performing an RPC (P3). Idempotent.
func (s *Session) Destroy(ctx context.Context) error {
	rec, ok := s.client.reg.Get(s.id)
	if ok && rec.Destroyed() {
		return nil
	}

	var rpcErr error
	if conn, err := s.client.connOrClosed(); err == nil {
		destroyCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
		_, rpcErr = conn.Call(destroyCtx, "session.destroy", map[string]any{"sessionId": s.id})
		cancel()
	}

	s.client.reg.Destroy(s.id)
	return rpcErr
}
