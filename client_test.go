package agentcli

import (
	"context"
	"strings"
	"sync"
	"testing"
)

func TestStartHandshakeSucceeds(t *testing.T) {
	fs := newFakeServer(t)
	defer fs.close()

	c := newTestClient(t, fs.addr())

	done := make(chan error, 1)
	go func() { done <- c.Start(context.Background()) }()

	fs.accept()
	fs.handlePing(2)

	if err := <-done; err != nil {
		t.Fatalf("Start: %v", err)
	}
	if c.Status() != StatusConnected {
		t.Fatalf("status = %v, want connected", c.Status())
	}
	_ = c.Stop(context.Background())
}

func TestStartFailsOnProtocolVersionMismatch(t *testing.T) {
	fs := newFakeServer(t)
	defer fs.close()

	c := newTestClient(t, fs.addr())

	done := make(chan error, 1)
	go func() { done <- c.Start(context.Background()) }()

	fs.accept()
	fs.handlePing(7)

	err := <-done
	if _, ok := err.(*ProtocolVersionMismatch); !ok {
		t.Fatalf("err = %v (%T), want *ProtocolVersionMismatch", err, err)
	}
	if c.Status() != StatusError {
		t.Fatalf("status = %v, want error", c.Status())
	}
}

// TestStartFailsWhenChildExitsBeforeHandshake is scenario 5 / P9: a
// managed child that exits immediately with code 2 and stderr "bad flag"
// must fail Start with a StartupError embedding both.
func TestStartFailsWhenChildExitsBeforeHandshake(t *testing.T) {
	c, err := NewClient(ClientOptions{
		CLIPath: "/bin/sh",
		CLIArgs: []string{"-c", "echo 'bad flag' >&2; exit 2"},
	})
	if err != nil {
		t.Fatalf("NewClient: %v", err)
	}

	err = c.Start(context.Background())
	startupErr, ok := err.(*StartupError)
	if !ok {
		t.Fatalf("err = %v (%T), want *StartupError", err, err)
	}
	if got := startupErr.Error(); !strings.Contains(got, "bad flag") {
		t.Errorf("message %q does not contain captured stderr", got)
	}
	if c.Status() != StatusError {
		t.Fatalf("status = %v, want error", c.Status())
	}
}

// TestListSessionsFilter is scenario 6: listSessions with a filter returns
// only the matching session.
func TestListSessionsFilter(t *testing.T) {
	fs := newFakeServer(t)
	defer fs.close()

	c := newTestClient(t, fs.addr())
	startAndHandshake(t, c, fs)
	defer c.Stop(context.Background())

	result := make(chan []SessionSummary, 1)
	errCh := make(chan error, 1)
	go func() {
		sessions, err := c.ListSessions(context.Background(), map[string]string{"repository": "o/a"})
		result <- sessions
		errCh <- err
	}()

	req := fs.next()
	if req.Method != "session.list" {
		t.Fatalf("method = %q, want session.list", req.Method)
	}
	fs.reply(req, []map[string]any{
		{"sessionId": "s-1", "context": map[string]any{"repository": "o/a"}},
	})

	if err := <-errCh; err != nil {
		t.Fatalf("ListSessions: %v", err)
	}
	sessions := <-result
	if len(sessions) != 1 || sessions[0].SessionID != "s-1" {
		t.Fatalf("sessions = %+v", sessions)
	}
}

// TestListModelsSharesInFlightFetch verifies the "promise pattern": all
// concurrent callers during the first fetch observe exactly one
// models.list RPC and share its result.
func TestListModelsSharesInFlightFetch(t *testing.T) {
	fs := newFakeServer(t)
	defer fs.close()

	c := newTestClient(t, fs.addr())
	startAndHandshake(t, c, fs)
	defer c.Stop(context.Background())

	const callers = 5
	var wg sync.WaitGroup
	results := make([][]ModelInfo, callers)
	errs := make([]error, callers)
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			results[i], errs[i] = c.ListModels(context.Background())
		}(i)
	}

	req := fs.next()
	if req.Method != "models.list" {
		t.Fatalf("method = %q, want models.list", req.Method)
	}
	fs.reply(req, []ModelInfo{{ID: "m1", Name: "Model One"}})

	wg.Wait()
	for i, err := range errs {
		if err != nil {
			t.Fatalf("caller %d: %v", i, err)
		}
		if len(results[i]) != 1 || results[i][0].ID != "m1" {
			t.Fatalf("caller %d: results = %+v", i, results[i])
		}
	}

	// A second call must be served from cache: no further RPC is sent.
	cached, err := c.ListModels(context.Background())
	if err != nil {
		t.Fatalf("second ListModels: %v", err)
	}
	if len(cached) != 1 || cached[0].ID != "m1" {
		t.Fatalf("cached = %+v", cached)
	}
}

// startAndHandshake runs Start against fs concurrently and completes the
// ping handshake, leaving the client connected.
func startAndHandshake(t *testing.T, c *Client, fs *fakeServer) {
	t.Helper()
	done := make(chan error, 1)
	go func() { done <- c.Start(context.Background()) }()
	fs.accept()
	fs.handlePing(2)
	if err := <-done; err != nil {
		t.Fatalf("Start: %v", err)
	}
}
