package domain

import (
	"context"
	"encoding/json"
	"log"
	"time"

	"k8s.io/utils/clock"

	"github.com/fanoutlab/fanoutlab/internal/broker"
	"github.com/fanoutlab/fanoutlab/internal/catalog"
	"github.com/fanoutlab/fanoutlab/internal/errors"
	"github.com/fanoutlab/fanoutlab/internal/storage"
	"github.com/fanoutlab/fanoutlab/internal/trace"
)

// Indexer records published correlation ids.
type Indexer interface {
	Register(ctx context.Context, e catalog.Entry) error
}

// Publisher writes the published and routes steps of a message, then
// publishes it on the fanout topic.
type Publisher struct {
	broker   *broker.Broker
	topic    string
	recorder *trace.Recorder
	clock    clock.PassiveClock
	index    Indexer
}

// NewPublisher creates a publisher. index may be nil.
func NewPublisher(b *broker.Broker, topic string, store storage.ObjectStorage, clk clock.PassiveClock, index Indexer) *Publisher {
	if clk == nil {
		clk = clock.RealClock{}
	}
	if topic == "" {
		topic = broker.TopicFanout
	}
	return &Publisher{broker: b, topic: topic, recorder: trace.NewRecorder(store, clk), clock: clk, index: index}
}

// Message is an event to publish. Fields are merged into the body as-is.
type Message struct {
	CorrelationID string
	EventType     string
	Priority      string
	OrderID       string
	Fields        map[string]any
}

// Body returns the JSON document sent on the topic.
func (m Message) Body() map[string]any {
	body := make(map[string]any, len(m.Fields)+4)
	body["orderId"] = m.OrderID
	body["eventType"] = m.EventType
	body["priority"] = m.Priority
	for k, v := range m.Fields {
		body[k] = v
	}
	body["correlationId"] = m.CorrelationID
	return body
}

// Attributes returns the filter attributes of the message.
func (m Message) Attributes() map[string]string {
	return map[string]string{"eventType": m.EventType, "priority": m.Priority}
}

// Routes evaluates the topic's filter policies for attrs.
func (p *Publisher) Routes(attrs map[string]string) trace.RouteDecision {
	var rd trace.RouteDecision
	for _, q := range p.broker.Route(p.topic, attrs) {
		switch q {
		case broker.QueueFulfillment:
			rd.Fulfillment = true
		case broker.QueueAnalytics:
			rd.Analytics = true
		case broker.QueueShipping:
			rd.Shipping = true
		}
	}
	return rd
}

// Publish records 00-published and 01-routes for the message and publishes it.
func (p *Publisher) Publish(ctx context.Context, m Message) (*broker.PublishResult, error) {
	if m.CorrelationID == "" {
		return nil, errors.NewValidationError("correlation id is required")
	}
	body := m.Body()
	attrs := m.Attributes()

	if err := p.recorder.RecordPublished(ctx, m.CorrelationID, body); err != nil {
		return nil, err
	}
	if err := p.recorder.RecordRoutes(ctx, m.CorrelationID, p.Routes(attrs)); err != nil {
		return nil, err
	}

	data, err := json.Marshal(body)
	if err != nil {
		return nil, errors.NewInternalError("failed to encode message", err)
	}
	res, err := p.broker.Publish(ctx, p.topic, data, attrs)
	if err != nil {
		return nil, err
	}

	if p.index != nil {
		entry := catalog.Entry{CorrelationID: m.CorrelationID, EventType: m.EventType, OrderID: m.OrderID, PublishedAt: p.clock.Now()}
		if err := p.index.Register(ctx, entry); err != nil {
			log.Printf("domain: failed to index %s: %v", m.CorrelationID, err)
		}
	}
	return res, nil
}

func (p *Publisher) now() time.Time {
	return p.clock.Now()
}
