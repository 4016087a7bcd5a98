package broker

import (
	"testing"
	"time"
)

func TestNotifier_PublishNoSubscribers(t *testing.T) {
	n := NewNotifier(100)
	// Should not panic and should not block
	n.Publish(Event{Type: MessageAvailable, Queue: QueueFulfillment})
}

func TestNotifier_FilterExcludesNonMatching(t *testing.T) {
	n := NewNotifier(100)
	sub := n.Subscribe("sub-1", "demo-fulfill")

	n.Publish(Event{Type: MessageAvailable, Queue: QueueAnalytics})

	select {
	case ev := <-sub.Ch:
		t.Fatalf("received unexpected event: %+v", ev)
	case <-time.After(50 * time.Millisecond):
		// Expected - event filtered out
	}
}

func TestNotifier_FilterIncludesPrefixMatches(t *testing.T) {
	n := NewNotifier(100)
	sub := n.Subscribe("sub-2", "demo-fulfill")

	n.Publish(Event{Type: MessageDeadLettered, Queue: DeadLetterName(QueueFulfillment), MessageID: "m-1"})

	select {
	case ev := <-sub.Ch:
		if ev.MessageID != "m-1" || ev.Type != MessageDeadLettered {
			t.Errorf("unexpected event %+v", ev)
		}
		if ev.Timestamp == 0 {
			t.Error("expected timestamp to be filled in")
		}
	case <-time.After(time.Second):
		t.Fatal("subscriber did not receive event within timeout")
	}
}

func TestNotifier_FullChannelDropsEvent(t *testing.T) {
	n := NewNotifier(1)
	sub := n.Subscribe("sub-3")
	sub.Ch <- Event{Queue: "fill"}

	done := make(chan struct{})
	go func() {
		n.Publish(Event{Queue: "other"})
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(100 * time.Millisecond):
		t.Fatal("publish blocked when channel was full")
	}

	if ev := <-sub.Ch; ev.Queue != "fill" {
		t.Errorf("expected 'fill', got '%s'", ev.Queue)
	}
}

func TestNotifier_UnsubscribeClosesChannel(t *testing.T) {
	n := NewNotifier(100)
	sub := n.Subscribe("")
	if sub.ID == "" {
		t.Fatal("expected generated subscriber id")
	}

	n.Unsubscribe(sub.ID)

	select {
	case _, ok := <-sub.Ch:
		if ok {
			t.Fatal("channel should be closed after unsubscribe")
		}
	case <-time.After(100 * time.Millisecond):
		t.Fatal("channel was not closed within timeout")
	}
}
