package agentcli

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"
)

// TestConcurrentSendOnSameSessionIsStrictlySerialized generalizes
// TestConcurrentSendSameSessionSerialized into P4 proper: whatever number
// of goroutines call Send concurrently on one session, the server sees
// exactly that many session.send requests arrive one at a time, each
// answered before the next is written.
func TestConcurrentSendOnSameSessionIsStrictlySerialized(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 20
	properties := gopter.NewProperties(parameters)

	properties.Property("N concurrent sends on one session reach the server strictly one at a time", prop.ForAll(
		func(n int) bool {
			fs := newFakeServer(t)
			defer fs.close()
			c := newTestClient(t, fs.addr())
			startAndHandshake(t, c, fs)
			defer c.Stop(context.Background())

			sessDone := make(chan *Session, 1)
			go func() {
				s, _ := c.CreateSession(context.Background(), SessionConfig{Model: "m1"})
				sessDone <- s
			}()
			req := fs.next()
			fs.reply(req, map[string]any{"sessionId": "s-1", "workspacePath": "/work"})
			sess := <-sessDone
			defer sess.Destroy(context.Background())

			results := make(chan error, n)
			for i := 0; i < n; i++ {
				go func() {
					_, err := sess.Send(context.Background(), SendOptions{Prompt: "go"})
					results <- err
				}()
			}

			ok := true
			for i := 0; i < n; i++ {
				req := fs.next()
				if req.Method != "session.send" {
					ok = false
				}
				fs.reply(req, map[string]any{"messageId": "msg"})
			}
			fs.drain()

			for i := 0; i < n; i++ {
				if err := <-results; err != nil {
					ok = false
				}
			}
			return ok
		},
		gen.IntRange(1, 6),
	))

	properties.TestingRun(t)
}

// TestApproveAllAlwaysApproves generalizes
// TestApproveAllApprovesEveryPermissionRequest into P8 proper: however
// many permission.request calls a session configured with ApproveAll
// receives, every single one comes back approved.
func TestApproveAllAlwaysApproves(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 20
	properties := gopter.NewProperties(parameters)

	properties.Property("ApproveAll approves every permission request", prop.ForAll(
		func(n int) bool {
			fs := newFakeServer(t)
			defer fs.close()
			c := newTestClient(t, fs.addr())
			startAndHandshake(t, c, fs)
			defer c.Stop(context.Background())

			sessDone := make(chan *Session, 1)
			go func() {
				s, _ := c.CreateSession(context.Background(), SessionConfig{
					Model:             "m1",
					PermissionHandler: ApproveAll,
				})
				sessDone <- s
			}()
			req := fs.next()
			fs.reply(req, map[string]any{"sessionId": "s-1", "workspacePath": "/work"})
			sess := <-sessDone
			defer sess.Destroy(context.Background())

			for i := 0; i < n; i++ {
				raw := fs.call("p-rep", "permission.request", map[string]any{"sessionId": sess.ID()})
				var result PermissionResult
				if err := json.Unmarshal(raw, &result); err != nil {
					return false
				}
				if result.Kind != PermissionApproved {
					return false
				}
			}

			fs.drain()
			return true
		},
		gen.IntRange(1, 6),
	))

	properties.TestingRun(t)
}
