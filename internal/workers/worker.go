// Package workers contains the fanout consumers. Each Worker polls one queue,
// wakes early when the broker announces a new message, runs its Handler and
// deletes the messages the handler accepted. Rejected messages stay on the
// queue until their visibility timeout expires, so repeated failures end in
// the dead-letter queue.
package workers

import (
	"context"
	"fmt"
	"log"
	"sync"
	"time"

	"k8s.io/utils/clock"

	"github.com/fanoutlab/fanoutlab/internal/broker"
)

// Config holds polling settings.
type Config struct {
	// PollInterval bounds the time between receives when no wake-up arrives.
	PollInterval time.Duration
	// BatchSize is the receive batch, 1..10.
	BatchSize int
}

// DefaultConfig returns the default polling settings.
func DefaultConfig() Config {
	return Config{PollInterval: time.Second, BatchSize: broker.MaxReceiveBatch}
}

// Worker binds a Handler to a queue.
type Worker struct {
	config  Config
	broker  *broker.Broker
	queue   string
	handler Handler
	clock   clock.WithTicker

	mu      sync.Mutex
	running bool
	cancel  context.CancelFunc
	done    chan struct{}
}

// New creates a worker for queue. A nil clock means the real clock.
func New(cfg Config, b *broker.Broker, queue string, h Handler, clk clock.WithTicker) *Worker {
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = DefaultConfig().PollInterval
	}
	if clk == nil {
		clk = clock.RealClock{}
	}
	return &Worker{config: cfg, broker: b, queue: queue, handler: h, clock: clk}
}

// Queue returns the queue the worker consumes.
func (w *Worker) Queue() string {
	return w.queue
}

// Start begins the poll loop. It runs until the context is cancelled or Stop is called.
func (w *Worker) Start(ctx context.Context) error {
	w.mu.Lock()
	if w.running {
		w.mu.Unlock()
		return fmt.Errorf("workers: %s is already running", w.handler.Name())
	}

	ctx, cancel := context.WithCancel(ctx)
	w.cancel = cancel
	w.running = true
	w.done = make(chan struct{})
	w.mu.Unlock()

	sub := w.broker.Notifier().Subscribe("", w.queue)
	go w.run(ctx, sub)
	return nil
}

// Stop stops the poll loop and waits for the in-flight batch.
func (w *Worker) Stop() error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if !w.running {
		return nil
	}

	w.cancel()
	<-w.done
	w.running = false
	return nil
}

func (w *Worker) run(ctx context.Context, sub *broker.Subscriber) {
	defer close(w.done)
	defer w.broker.Notifier().Unsubscribe(sub.ID)

	ticker := w.clock.NewTicker(w.config.PollInterval)
	defer ticker.Stop()

	w.drain(ctx)
	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-sub.Ch:
			if !ok {
				return
			}
			if ev.Type == broker.MessageAvailable && ev.Queue == w.queue {
				w.drain(ctx)
			}
		case <-ticker.C():
			w.drain(ctx)
		}
	}
}

// drain polls until a receive comes back empty.
func (w *Worker) drain(ctx context.Context) {
	for ctx.Err() == nil {
		n, err := w.PollOnce(ctx)
		if err != nil {
			log.Printf("workers: %s receive from %s failed: %v", w.handler.Name(), w.queue, err)
			return
		}
		if n == 0 {
			return
		}
	}
}

// PollOnce receives one batch and handles it. It returns how many messages
// were received; handler failures are logged, not returned.
func (w *Worker) PollOnce(ctx context.Context) (int, error) {
	msgs, err := w.broker.Receive(ctx, w.queue, w.config.BatchSize, 0)
	if err != nil {
		return 0, err
	}
	for _, m := range msgs {
		if err := w.handler.Handle(ctx, m); err != nil {
			log.Printf("workers: %s failed message %s (receive %d): %v", w.handler.Name(), m.ID, m.ReceiveCount, err)
			continue
		}
		if err := w.broker.Delete(ctx, w.queue, m.ReceiptHandle); err != nil {
			log.Printf("workers: %s could not delete message %s: %v", w.handler.Name(), m.ID, err)
		}
	}
	return len(msgs), nil
}

// Pool runs the three fanout consumers.
type Pool struct {
	workers []*Worker
}

// NewPool wires the fulfillment, analytics and shipping consumers to their
// queues and installs the dead-letter step writer on the broker.
func NewPool(cfg Config, b *broker.Broker, deps Deps) *Pool {
	b.OnDeadLetter(DeadLetterRecorder(deps.Store, deps.Clock))
	return &Pool{workers: []*Worker{
		New(cfg, b, broker.QueueFulfillment, NewFulfillment(deps.Store, deps.Clock), deps.Clock),
		New(cfg, b, broker.QueueAnalytics, NewAnalytics(deps.Store, deps.Clock), deps.Clock),
		New(cfg, b, broker.QueueShipping, NewShipping(deps.Store, deps.Clock), deps.Clock),
	}}
}

// Workers returns the pool members.
func (p *Pool) Workers() []*Worker {
	return p.workers
}

// Start starts every worker.
func (p *Pool) Start(ctx context.Context) error {
	for _, w := range p.workers {
		if err := w.Start(ctx); err != nil {
			p.Stop()
			return err
		}
	}
	log.Printf("Workers started: %d consumers", len(p.workers))
	return nil
}

// Stop stops every worker.
func (p *Pool) Stop() {
	for _, w := range p.workers {
		_ = w.Stop()
	}
}
