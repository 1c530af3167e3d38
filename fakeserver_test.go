package agentcli

import (
	"context"
	"encoding/json"
	"net"
	"testing"

	"github.com/driftwire/agentcli/internal/wire"
)

// fakeServer stands in for the assistant CLI: it accepts one TCP
// connection and lets a test script request/response pairs directly in
// wire form, without spawning a real subprocess.
type fakeServer struct {
	t        *testing.T
	listener net.Listener
	conn     net.Conn
	r        *wire.Reader
	w        *wire.Writer
}

func newFakeServer(t *testing.T) *fakeServer {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listening: %v", err)
	}
	return &fakeServer{t: t, listener: ln}
}

func (f *fakeServer) addr() string { return f.listener.Addr().String() }

// accept blocks for the client's single connection attempt.
func (f *fakeServer) accept() {
	f.t.Helper()
	conn, err := f.listener.Accept()
	if err != nil {
		f.t.Fatalf("accepting: %v", err)
	}
	f.conn = conn
	f.r = wire.NewReader(conn)
	f.w = wire.NewWriter(conn)
}

// next reads the next inbound message from the client.
func (f *fakeServer) next() *wire.Message {
	f.t.Helper()
	msg, err := f.r.Read(context.Background())
	if err != nil {
		f.t.Fatalf("reading from client: %v", err)
	}
	return msg
}

// reply answers req with a success result.
func (f *fakeServer) reply(req *wire.Message, result any) {
	f.t.Helper()
	raw, err := json.Marshal(result)
	if err != nil {
		f.t.Fatalf("marshaling result: %v", err)
	}
	if err := f.w.Write(context.Background(), wire.NewResultResponse(*req.ID, raw)); err != nil {
		f.t.Fatalf("writing response: %v", err)
	}
}

// call sends a server-initiated request (e.g. tool.call, permission.request)
// and waits for the client's reply, returning its raw result.
func (f *fakeServer) call(id, method string, params any) json.RawMessage {
	f.t.Helper()
	raw, err := json.Marshal(params)
	if err != nil {
		f.t.Fatalf("marshaling params: %v", err)
	}
	if err := f.w.Write(context.Background(), wire.NewCall(wire.NewID(id), method, raw)); err != nil {
		f.t.Fatalf("writing request: %v", err)
	}
	resp, err := f.r.Read(context.Background())
	if err != nil {
		f.t.Fatalf("reading reply: %v", err)
	}
	if resp.Error != nil {
		f.t.Fatalf("reply to %s errored: %+v", method, resp.Error)
	}
	return resp.Result
}

// notify sends a server-initiated notification (no id).
func (f *fakeServer) notify(method string, params any) {
	f.t.Helper()
	raw, err := json.Marshal(params)
	if err != nil {
		f.t.Fatalf("marshaling params: %v", err)
	}
	if err := f.w.Write(context.Background(), wire.NewNotification(method, raw)); err != nil {
		f.t.Fatalf("writing notification: %v", err)
	}
}

// handlePing answers the client's initial ping handshake with the given
// protocol version (0 means omit the field, simulating a malformed reply).
func (f *fakeServer) handlePing(protocolVersion int) {
	f.t.Helper()
	req := f.next()
	if req.Method != "ping" {
		f.t.Fatalf("expected ping, got %q", req.Method)
	}
	if protocolVersion == 0 {
		f.reply(req, map[string]any{})
		return
	}
	f.reply(req, map[string]any{"protocolVersion": protocolVersion})
}

// drain starts a background goroutine that answers every further inbound
// request with an empty success result and ignores notifications, so a
// test's explicit script doesn't need to account for Client.Stop's
// best-effort session.destroy calls once the scripted exchange is done.
func (f *fakeServer) drain() {
	go func() {
		for {
			msg, err := f.r.Read(context.Background())
			if err != nil {
				return
			}
			if msg.IsRequest() {
				f.reply(msg, map[string]any{})
			}
		}
	}()
}

func (f *fakeServer) close() {
	if f.conn != nil {
		_ = f.conn.Close()
	}
	_ = f.listener.Close()
}

func newTestClient(t *testing.T, url string) *Client {
	t.Helper()
	c, err := NewClient(ClientOptions{CLIURL: url})
	if err != nil {
		t.Fatalf("NewClient: %v", err)
	}
	return c
}
