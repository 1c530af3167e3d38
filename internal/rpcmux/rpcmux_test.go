package rpcmux

import (
	"context"
	"encoding/json"
	"fmt"
	"testing"
	"time"

	"github.com/driftwire/agentcli/internal/wire"
	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"
)

// fakeTransport is an in-memory Transport driven directly by the test,
// standing in for a real byte stream so the multiplexer can be exercised
// without spawning a process.
type fakeTransport struct {
	in  chan *wire.Message
	out chan *wire.Message
}

func newFakeTransport() *fakeTransport {
	return &fakeTransport{
		in:  make(chan *wire.Message, 16),
		out: make(chan *wire.Message, 16),
	}
}

func (f *fakeTransport) Read(ctx context.Context) (*wire.Message, error) {
	select {
	case msg, ok := <-f.in:
		if !ok {
			return nil, context.Canceled
		}
		return msg, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (f *fakeTransport) Write(ctx context.Context, msg *wire.Message) error {
	select {
	case f.out <- msg:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func TestCallReceivesMatchingResponse(t *testing.T) {
	ft := newFakeTransport()
	conn := New(ft, WithIDGenerator(NewCounterIDGenerator()))
	go conn.Run(context.Background())

	go func() {
		req := <-ft.out
		ft.in <- wire.NewResultResponse(*req.ID, json.RawMessage(`{"pong":true}`))
	}()

	result, err := conn.Call(context.Background(), "ping", map[string]any{})
	if err != nil {
		t.Fatalf("Call() error = %v", err)
	}
	if string(result) != `{"pong":true}` {
		t.Errorf("Call() result = %s", result)
	}
}

// TestPendingEmptiedAfterCall verifies P1: after a completed call, the
// pending table no longer contains its id.
func TestPendingEmptiedAfterCall(t *testing.T) {
	ft := newFakeTransport()
	conn := New(ft, WithIDGenerator(NewCounterIDGenerator()))
	go conn.Run(context.Background())

	go func() {
		req := <-ft.out
		ft.in <- wire.NewResultResponse(*req.ID, nil)
	}()

	if _, err := conn.Call(context.Background(), "ping", nil); err != nil {
		t.Fatalf("Call() error = %v", err)
	}

	conn.mu.Lock()
	n := len(conn.pending)
	conn.mu.Unlock()
	if n != 0 {
		t.Errorf("pending table has %d entries after completed call, want 0", n)
	}
}

func TestCallTimeoutRemovesPendingEntry(t *testing.T) {
	ft := newFakeTransport()
	conn := New(ft, WithIDGenerator(NewCounterIDGenerator()))
	go conn.Run(context.Background())

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	_, err := conn.Call(ctx, "slow", nil)
	if err == nil {
		t.Fatal("Call() expected timeout error, got nil")
	}

	conn.mu.Lock()
	n := len(conn.pending)
	conn.mu.Unlock()
	if n != 0 {
		t.Errorf("pending table has %d entries after timeout, want 0", n)
	}
}

func TestConnectionClosedCompletesAllPending(t *testing.T) {
	ft := newFakeTransport()
	conn := New(ft, WithIDGenerator(NewCounterIDGenerator()))
	done := make(chan error, 1)
	go func() { done <- conn.Run(context.Background()) }()

	results := make(chan error, 2)
	for i := 0; i < 2; i++ {
		go func() {
			_, err := conn.Call(context.Background(), "ping", nil)
			results <- err
		}()
	}

	// Give both calls time to register before severing the transport.
	time.Sleep(10 * time.Millisecond)
	close(ft.in)
	<-done

	for i := 0; i < 2; i++ {
		if err := <-results; err == nil {
			t.Error("Call() expected connection closed error, got nil")
		}
	}
}

func TestRequestHandlerDispatchedConcurrently(t *testing.T) {
	ft := newFakeTransport()
	conn := New(ft, WithIDGenerator(NewCounterIDGenerator()))

	handlerStarted := make(chan struct{}, 2)
	release := make(chan struct{})
	conn.SetRequestHandler(func(ctx context.Context, method string, params json.RawMessage) (json.RawMessage, *wire.Error) {
		handlerStarted <- struct{}{}
		<-release
		return json.RawMessage(`{"ok":true}`), nil
	})

	go conn.Run(context.Background())

	id := wire.NewID("srv-1")
	ft.in <- wire.NewCall(id, "tool.call", json.RawMessage(`{}`))

	select {
	case <-handlerStarted:
	case <-time.After(time.Second):
		t.Fatal("handler never started")
	}

	// The reader loop must not be blocked by the in-flight handler: a
	// second inbound request queues and is independently dispatched.
	ft.in <- wire.NewCall(wire.NewID("srv-2"), "tool.call", json.RawMessage(`{}`))

	close(release)

	seen := map[string]bool{}
	for i := 0; i < 2; i++ {
		select {
		case resp := <-ft.out:
			seen[resp.ID.String()] = true
		case <-time.After(time.Second):
			t.Fatal("did not receive both replies")
		}
	}
	if !seen["srv-1"] || !seen["srv-2"] {
		t.Errorf("seen = %v, want both srv-1 and srv-2", seen)
	}
}

// TestPendingTableEmptiedAfterAnyNumberOfCalls generalizes
// TestPendingEmptiedAfterCall into P1 proper: whatever number of calls
// run concurrently, and whatever order the server answers them in, the
// pending table is empty again once every call has returned.
func TestPendingTableEmptiedAfterAnyNumberOfCalls(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 50
	properties := gopter.NewProperties(parameters)

	properties.Property("pending table is empty after N concurrent calls settle", prop.ForAll(
		func(n int) bool {
			ft := newFakeTransport()
			conn := New(ft, WithIDGenerator(NewCounterIDGenerator()))
			go conn.Run(context.Background())

			done := make(chan struct{}, n)
			for i := 0; i < n; i++ {
				go func() {
					conn.Call(context.Background(), "ping", nil)
					done <- struct{}{}
				}()
			}

			// Drain requests as they arrive and reply in reverse of
			// however they were written, so completion order never
			// matches issue order.
			reqs := make([]*wire.Message, 0, n)
			for i := 0; i < n; i++ {
				reqs = append(reqs, <-ft.out)
			}
			for i := len(reqs) - 1; i >= 0; i-- {
				ft.in <- wire.NewResultResponse(*reqs[i].ID, nil)
			}

			for i := 0; i < n; i++ {
				<-done
			}

			conn.mu.Lock()
			leftover := len(conn.pending)
			conn.mu.Unlock()
			return leftover == 0
		},
		gen.IntRange(1, 20),
	))

	properties.TestingRun(t)
}

// TestEachCallReceivesExactlyItsOwnResponse is P2: with N concurrent
// calls and replies delivered in reverse of their arrival order, every
// Call still returns the result addressed to its own request id, never
// another call's.
func TestEachCallReceivesExactlyItsOwnResponse(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 50
	properties := gopter.NewProperties(parameters)

	properties.Property("each call gets exactly its own response", prop.ForAll(
		func(n int) bool {
			ft := newFakeTransport()
			conn := New(ft, WithIDGenerator(NewCounterIDGenerator()))
			go conn.Run(context.Background())

			type outcome struct {
				method string
				result string
			}
			results := make(chan outcome, n)
			for i := 0; i < n; i++ {
				go func(i int) {
					method := fmt.Sprintf("op-%d", i)
					raw, err := conn.Call(context.Background(), method, nil)
					if err != nil {
						results <- outcome{method: method, result: "ERROR"}
						return
					}
					var body struct {
						Echo string `json:"echo"`
					}
					json.Unmarshal(raw, &body)
					results <- outcome{method: method, result: body.Echo}
				}(i)
			}

			reqs := make([]*wire.Message, 0, n)
			for i := 0; i < n; i++ {
				reqs = append(reqs, <-ft.out)
			}
			for i := len(reqs) - 1; i >= 0; i-- {
				payload, _ := json.Marshal(struct {
					Echo string `json:"echo"`
				}{Echo: reqs[i].Method})
				ft.in <- wire.NewResultResponse(*reqs[i].ID, payload)
			}

			for i := 0; i < n; i++ {
				o := <-results
				if o.result != o.method {
					return false
				}
			}
			return true
		},
		gen.IntRange(1, 20),
	))

	properties.TestingRun(t)
}
