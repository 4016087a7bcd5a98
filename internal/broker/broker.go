// Package broker is an in-process stand-in for a managed topic/queue service:
// one or more topics fan out to queues through attribute filter policies,
// queues hand out messages under a visibility timeout and redrive messages
// that exceed their receive count to a dead-letter queue.
package broker

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"k8s.io/utils/clock"

	"github.com/fanoutlab/fanoutlab/internal/errors"
)

// Receive limits.
const (
	MaxReceiveBatch          = 10
	DefaultVisibilityTimeout = 30 * time.Second
)

// QueueOptions configures a queue.
type QueueOptions struct {
	VisibilityTimeout time.Duration
	// MaxReceiveCount > 0 enables redrive to DeadLetterQueue.
	MaxReceiveCount int
	DeadLetterQueue string
}

// QueueStats counts messages by visibility.
type QueueStats struct {
	Name       string `json:"name"`
	Visible    int    `json:"visible"`
	NotVisible int    `json:"notVisible"`
	Delayed    int    `json:"delayed"`
	Error      string `json:"error,omitempty"`
}

// PublishResult reports where a published message was delivered.
type PublishResult struct {
	MessageID string   `json:"messageId"`
	Queues    []string `json:"queues"`
}

// DeadLetterHook is called after a message is moved to a dead-letter queue.
type DeadLetterHook func(ctx context.Context, source, dlq string, msg Message)

type subscription struct {
	queue  string
	filter FilterPolicy
}

type entry struct {
	msg       Message
	visibleAt time.Time
}

type queue struct {
	name    string
	opts    QueueOptions
	entries []*entry
}

// Broker holds topics and queues in memory.
type Broker struct {
	mu       sync.Mutex
	clock    clock.PassiveClock
	topics   map[string][]subscription
	queues   map[string]*queue
	notifier *Notifier
	hooks    []DeadLetterHook
}

// New creates an empty broker. A nil clock means the real clock.
func New(clk clock.PassiveClock) *Broker {
	if clk == nil {
		clk = clock.RealClock{}
	}
	return &Broker{
		clock:    clk,
		topics:   make(map[string][]subscription),
		queues:   make(map[string]*queue),
		notifier: NewNotifier(16),
	}
}

// Notifier returns the broker's event bus.
func (b *Broker) Notifier() *Notifier {
	return b.notifier
}

// OnDeadLetter registers a hook run for every dead-lettered message.
func (b *Broker) OnDeadLetter(hook DeadLetterHook) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.hooks = append(b.hooks, hook)
}

// CreateQueue creates a queue, or updates the options of an existing one.
func (b *Broker) CreateQueue(name string, opts QueueOptions) error {
	if name == "" {
		return errors.NewValidationError("queue name is required")
	}
	if opts.VisibilityTimeout <= 0 {
		opts.VisibilityTimeout = DefaultVisibilityTimeout
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	if q, ok := b.queues[name]; ok {
		q.opts = opts
		return nil
	}
	b.queues[name] = &queue{name: name, opts: opts}
	return nil
}

// CreateTopic creates a topic with no subscriptions. Existing topics are kept.
func (b *Broker) CreateTopic(name string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if _, ok := b.topics[name]; !ok {
		b.topics[name] = nil
	}
}

// Subscribe delivers messages published to topic into queue when filter matches.
func (b *Broker) Subscribe(topic, queueName string, filter FilterPolicy) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	subs, ok := b.topics[topic]
	if !ok {
		return errors.NewNotFound(errors.ErrCategoryBroker, "topic not found: "+topic)
	}
	if _, ok := b.queues[queueName]; !ok {
		return queueNotFound(queueName)
	}
	for i := range subs {
		if subs[i].queue == queueName {
			subs[i].filter = filter
			return nil
		}
	}
	b.topics[topic] = append(subs, subscription{queue: queueName, filter: filter})
	return nil
}

// Route returns the queues a message with attrs would be delivered to.
func (b *Broker) Route(topic string, attrs map[string]string) []string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.routeLocked(topic, attrs)
}

func (b *Broker) routeLocked(topic string, attrs map[string]string) []string {
	var out []string
	for _, s := range b.topics[topic] {
		if s.filter.Matches(attrs) {
			out = append(out, s.queue)
		}
	}
	return out
}

// Publish fans a message out to every matching subscribed queue.
func (b *Broker) Publish(ctx context.Context, topic string, body []byte, attrs map[string]string) (*PublishResult, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	b.mu.Lock()
	if _, ok := b.topics[topic]; !ok {
		b.mu.Unlock()
		return nil, errors.NewNotFound(errors.ErrCategoryBroker, "topic not found: "+topic)
	}
	res := &PublishResult{MessageID: uuid.NewString()}
	now := b.clock.Now()
	for _, name := range b.routeLocked(topic, attrs) {
		q := b.queues[name]
		q.entries = append(q.entries, b.newEntry(string(body), attrs, now, 0))
		res.Queues = append(res.Queues, name)
	}
	b.mu.Unlock()

	cid := correlationOf(body)
	for _, name := range res.Queues {
		b.notifier.Publish(Event{Type: MessageAvailable, Queue: name, MessageID: res.MessageID, CorrelationID: cid, Timestamp: now.UnixMilli()})
	}
	return res, nil
}

// Send enqueues one message directly. delay postpones its first visibility.
func (b *Broker) Send(ctx context.Context, queueName string, body []byte, attrs map[string]string, delay time.Duration) (string, error) {
	ids, err := b.SendBatch(ctx, queueName, [][]byte{body}, attrs, delay)
	if err != nil {
		return "", err
	}
	return ids[0], nil
}

// SendBatch enqueues several messages sharing attributes and delay.
func (b *Broker) SendBatch(ctx context.Context, queueName string, bodies [][]byte, attrs map[string]string, delay time.Duration) ([]string, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	b.mu.Lock()
	q, ok := b.queues[queueName]
	if !ok {
		b.mu.Unlock()
		return nil, queueNotFound(queueName)
	}
	now := b.clock.Now()
	ids := make([]string, 0, len(bodies))
	for _, body := range bodies {
		e := b.newEntry(string(body), attrs, now, delay)
		q.entries = append(q.entries, e)
		ids = append(ids, e.msg.ID)
	}
	b.mu.Unlock()

	if len(ids) > 0 {
		b.notifier.Publish(Event{Type: MessageAvailable, Queue: queueName, MessageID: ids[0], Timestamp: now.UnixMilli()})
	}
	return ids, nil
}

// Receive returns up to max visible messages and hides them for visibility
// (or the queue default when visibility <= 0). Each returned message carries
// a fresh receipt handle. Messages that already reached the queue's max
// receive count are moved to its dead-letter queue instead.
func (b *Broker) Receive(ctx context.Context, queueName string, max int, visibility time.Duration) ([]Message, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	max = clampBatch(max)

	b.mu.Lock()
	q, ok := b.queues[queueName]
	if !ok {
		b.mu.Unlock()
		return nil, queueNotFound(queueName)
	}
	if visibility <= 0 {
		visibility = q.opts.VisibilityTimeout
	}

	now := b.clock.Now()
	dlq := b.queues[q.opts.DeadLetterQueue]
	var (
		out   []Message
		moved []Message
		keep  = q.entries[:0]
	)
	for _, e := range q.entries {
		if len(out) >= max || e.visibleAt.After(now) {
			keep = append(keep, e)
			continue
		}
		if dlq != nil && q.opts.MaxReceiveCount > 0 && e.msg.ReceiveCount >= q.opts.MaxReceiveCount {
			e.msg.ReceiptHandle = uuid.NewString()
			e.visibleAt = now
			dlq.entries = append(dlq.entries, e)
			moved = append(moved, e.msg)
			continue
		}
		e.msg.ReceiveCount++
		e.msg.ReceiptHandle = uuid.NewString()
		e.visibleAt = now.Add(visibility)
		out = append(out, cloneMessage(e.msg))
		keep = append(keep, e)
	}
	q.entries = keep
	hooks := append([]DeadLetterHook(nil), b.hooks...)
	dlqName := q.opts.DeadLetterQueue
	b.mu.Unlock()

	for _, m := range moved {
		b.notifier.Publish(Event{Type: MessageDeadLettered, Queue: dlqName, MessageID: m.ID, CorrelationID: m.CorrelationID(), Timestamp: now.UnixMilli()})
		for _, h := range hooks {
			h(ctx, queueName, dlqName, cloneMessage(m))
		}
	}
	return out, nil
}

// Peek returns up to max currently visible messages without changing them.
func (b *Broker) Peek(ctx context.Context, queueName string, max int) ([]Message, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	max = clampBatch(max)

	b.mu.Lock()
	defer b.mu.Unlock()
	q, ok := b.queues[queueName]
	if !ok {
		return nil, queueNotFound(queueName)
	}
	now := b.clock.Now()
	out := []Message{}
	for _, e := range q.entries {
		if len(out) >= max {
			break
		}
		if !e.visibleAt.After(now) {
			out = append(out, cloneMessage(e.msg))
		}
	}
	return out, nil
}

// Delete removes the message currently held under receipt.
func (b *Broker) Delete(ctx context.Context, queueName, receipt string) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	q, ok := b.queues[queueName]
	if !ok {
		return queueNotFound(queueName)
	}
	for i, e := range q.entries {
		if e.msg.ReceiptHandle == receipt {
			q.entries = append(q.entries[:i], q.entries[i+1:]...)
			return nil
		}
	}
	return errors.New(errors.ErrCategoryBroker, errors.CodeReceiptInvalid, "receipt handle is not valid for queue "+queueName)
}

// Purge drops every message in a queue and returns how many were dropped.
func (b *Broker) Purge(ctx context.Context, queueName string) (int, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}

	b.mu.Lock()
	q, ok := b.queues[queueName]
	if !ok {
		b.mu.Unlock()
		return 0, queueNotFound(queueName)
	}
	n := len(q.entries)
	q.entries = nil
	b.mu.Unlock()

	b.notifier.Publish(Event{Type: QueuePurged, Queue: queueName, Timestamp: b.clock.Now().UnixMilli()})
	return n, nil
}

// Retry sends body to source and deletes the dead-lettered copy by receipt.
func (b *Broker) Retry(ctx context.Context, dlq, source, receipt string, body []byte) error {
	if source == "" || receipt == "" || body == nil {
		return errors.NewValidationError("source, receipt and body are required")
	}
	if !b.hasQueue(dlq) {
		return queueNotFound(dlq)
	}
	if _, err := b.Send(ctx, source, body, nil, 0); err != nil {
		return err
	}
	return b.Delete(ctx, dlq, receipt)
}

// Burst sends n small throttling messages to queueName, clamped to 1..500.
func (b *Broker) Burst(ctx context.Context, queueName string, n int) (int, error) {
	if n <= 0 {
		n = 120
	}
	if n > 500 {
		n = 500
	}

	now := b.clock.Now().UnixMilli()
	sent := 0
	for sent < n {
		size := n - sent
		if size > MaxReceiveBatch {
			size = MaxReceiveBatch
		}
		bodies := make([][]byte, 0, size)
		for i := 0; i < size; i++ {
			body, _ := json.Marshal(map[string]any{"kind": "thr", "i": sent + i + 1, "t": now})
			bodies = append(bodies, body)
		}
		if _, err := b.SendBatch(ctx, queueName, bodies, nil, 0); err != nil {
			return sent, err
		}
		sent += size
	}
	return sent, nil
}

// Stats counts the messages of one queue.
func (b *Broker) Stats(queueName string) QueueStats {
	b.mu.Lock()
	defer b.mu.Unlock()

	st := QueueStats{Name: queueName}
	q, ok := b.queues[queueName]
	if !ok {
		st.Error = fmt.Sprintf("queue %s does not exist", queueName)
		return st
	}
	now := b.clock.Now()
	for _, e := range q.entries {
		switch {
		case !e.visibleAt.After(now):
			st.Visible++
		case e.msg.ReceiveCount == 0:
			st.Delayed++
		default:
			st.NotVisible++
		}
	}
	return st
}

// QueueNames lists queues in name order.
func (b *Broker) QueueNames() []string {
	b.mu.Lock()
	defer b.mu.Unlock()
	names := make([]string, 0, len(b.queues))
	for n := range b.queues {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}

func (b *Broker) hasQueue(name string) bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	_, ok := b.queues[name]
	return ok
}

func (b *Broker) newEntry(body string, attrs map[string]string, now time.Time, delay time.Duration) *entry {
	return &entry{
		msg: Message{
			ID:            uuid.NewString(),
			Body:          body,
			Attributes:    copyAttrs(attrs),
			ReceiptHandle: uuid.NewString(),
			SentAt:        now,
		},
		visibleAt: now.Add(delay),
	}
}

func cloneMessage(m Message) Message {
	m.Attributes = copyAttrs(m.Attributes)
	return m
}

func clampBatch(max int) int {
	if max < 1 {
		return MaxReceiveBatch
	}
	if max > MaxReceiveBatch {
		return MaxReceiveBatch
	}
	return max
}

func queueNotFound(name string) error {
	return errors.New(errors.ErrCategoryBroker, errors.CodeQueueNotFound, "queue not found: "+name)
}
