package router

import (
	"fmt"
	"testing"

	"github.com/driftwire/agentcli/internal/events"
	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"
)

// TestSlowSubscriberDoesNotBlockOthers verifies P6: dropping events for one
// slow subscriber does not prevent another subscriber of the same
// broadcast from seeing later events.
func TestSlowSubscriberDoesNotBlockOthers(t *testing.T) {
	b := NewBroadcast(2)
	slow := b.Subscribe()
	fast := b.Subscribe()
	defer slow.Unsubscribe()
	defer fast.Unsubscribe()

	// Fast subscriber drains as we go; slow never reads, forcing overflow.
	for i := 0; i < 10; i++ {
		b.Publish(events.Envelope{ID: string(rune('a' + i)), Type: events.TypeAssistantMessage})
		<-fast.Chan
	}

	// Slow subscriber's channel should contain only its most recent 2
	// events (buffer size), not be empty or have blocked publishing.
	count := 0
	for {
		select {
		case <-slow.Chan:
			count++
		default:
			goto done
		}
	}
done:
	if count != 2 {
		t.Errorf("slow subscriber buffered %d events, want 2 (sliding window)", count)
	}
}

func TestBroadcastCloseCascadesToSubscribers(t *testing.T) {
	b := NewBroadcast(4)
	sub := b.Subscribe()
	b.Close()

	if _, ok := <-sub.Chan; ok {
		t.Error("subscriber channel should be closed after Broadcast.Close()")
	}
}

func TestSubscribeAfterCloseReturnsClosedChannel(t *testing.T) {
	b := NewBroadcast(4)
	b.Close()
	sub := b.Subscribe()
	if _, ok := <-sub.Chan; ok {
		t.Error("subscribing after Close() should yield an already-closed channel")
	}
}

// TestSlowSubscriberRetainsOnlyMostRecentEvents generalizes
// TestSlowSubscriberDoesNotBlockOthers into P6 proper: for any buffer
// size and any number of published events, a subscriber that never reads
// ends up holding exactly min(published, bufferSize) events, and they are
// always the most recently published ones, never older ones the sliding
// window should have dropped.
func TestSlowSubscriberRetainsOnlyMostRecentEvents(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 50
	properties := gopter.NewProperties(parameters)

	properties.Property("a never-draining subscriber keeps only its most recent bufferSize events", prop.ForAll(
		func(bufferSize, published int) bool {
			b := NewBroadcast(bufferSize)
			slow := b.Subscribe()
			defer slow.Unsubscribe()

			ids := make([]string, published)
			for i := 0; i < published; i++ {
				ids[i] = fmt.Sprintf("ev-%d", i)
				b.Publish(events.Envelope{ID: ids[i], Type: events.TypeAssistantMessage})
			}

			want := bufferSize
			if published < bufferSize {
				want = published
			}

			var got []string
		drain:
			for {
				select {
				case ev := <-slow.Chan:
					got = append(got, ev.ID)
				default:
					break drain
				}
			}

			if len(got) != want {
				return false
			}
			wantIDs := ids[published-want:]
			for i, id := range got {
				if id != wantIDs[i] {
					return false
				}
			}
			return true
		},
		gen.IntRange(1, 8),
		gen.IntRange(0, 30),
	))

	properties.TestingRun(t)
}
