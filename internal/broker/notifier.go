package broker

import (
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
)

// EventType represents the type of broker event.
type EventType int

const (
	MessageAvailable EventType = iota
	MessageDeadLettered
	QueuePurged
)

func (t EventType) String() string {
	switch t {
	case MessageAvailable:
		return "available"
	case MessageDeadLettered:
		return "dead-lettered"
	case QueuePurged:
		return "purged"
	}
	return "unknown"
}

// Event is emitted on queue activity.
type Event struct {
	Type          EventType
	Queue         string
	MessageID     string
	CorrelationID string
	Timestamp     int64
}

// Notifier is an in-process pub/sub bus for broker events. Workers use it
// to wake up as soon as their queue has work instead of waiting a full poll.
type Notifier struct {
	subscribers sync.Map
	bufferSize  int
}

// NewNotifier creates a new notifier instance.
func NewNotifier(bufferSize int) *Notifier {
	return &Notifier{
		bufferSize: bufferSize,
	}
}

// Publish sends an event to all subscribers whose filters match its queue.
// Non-blocking: if a subscriber's channel is full, the event is dropped.
func (n *Notifier) Publish(ev Event) {
	if ev.Timestamp == 0 {
		ev.Timestamp = time.Now().UnixMilli()
	}
	n.subscribers.Range(func(_, value interface{}) bool {
		sub := value.(*Subscriber)
		if sub.matches(ev.Queue) {
			select {
			case sub.Ch <- ev:
			default:
				// Channel full; a waiting worker already has a wake-up pending.
			}
		}
		return true
	})
}

// Subscribe adds a subscriber. filters are queue-name prefixes; none means all.
func (n *Notifier) Subscribe(id string, filters ...string) *Subscriber {
	if id == "" {
		id = "sub_" + uuid.NewString()
	}
	sub := &Subscriber{
		ID:      id,
		Filters: filters,
		Ch:      make(chan Event, n.bufferSize),
	}
	n.subscribers.Store(sub.ID, sub)
	return sub
}

// Unsubscribe removes a subscriber and closes its channel.
func (n *Notifier) Unsubscribe(subID string) {
	if value, ok := n.subscribers.LoadAndDelete(subID); ok {
		close(value.(*Subscriber).Ch)
	}
}

// Subscriber represents a notification subscriber.
type Subscriber struct {
	ID      string
	Filters []string
	Ch      chan Event
}

func (s *Subscriber) matches(queue string) bool {
	if len(s.Filters) == 0 {
		return true
	}
	for _, f := range s.Filters {
		if f == "" || strings.HasPrefix(queue, f) {
			return true
		}
	}
	return false
}
