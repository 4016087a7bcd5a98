package workers

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"net/url"

	"k8s.io/utils/clock"

	"github.com/fanoutlab/fanoutlab/internal/broker"
	"github.com/fanoutlab/fanoutlab/internal/errors"
	"github.com/fanoutlab/fanoutlab/internal/steps"
	"github.com/fanoutlab/fanoutlab/internal/storage"
	"github.com/fanoutlab/fanoutlab/internal/trace"
)

// Consumer names, as matched by forceFail.
const (
	NameFulfillment = "fulfillment"
	NameAnalytics   = "analytics"
	NameShipping    = "shipping"
)

// Handler processes one received message. A nil error means the message
// can be deleted from its queue.
type Handler interface {
	Name() string
	Handle(ctx context.Context, msg broker.Message) error
}

// ErrForcedFailure is returned when a message asked the consumer to fail.
var ErrForcedFailure = errors.New(errors.ErrCategoryBroker, errors.CodeUnexpected, "forced failure")

type base struct {
	store    storage.ObjectStorage
	recorder *trace.Recorder
	clock    clock.PassiveClock
}

func newBase(store storage.ObjectStorage, clk clock.PassiveClock) base {
	if clk == nil {
		clk = clock.RealClock{}
	}
	return base{store: store, recorder: trace.NewRecorder(store, clk), clock: clk}
}

func (b base) writeJSON(ctx context.Context, key string, doc any) error {
	data, err := json.Marshal(doc)
	if err != nil {
		return errors.NewInternalError("failed to encode "+key, err)
	}
	if err := b.store.Put(ctx, key, data, storage.ContentTypeJSON); err != nil {
		return errors.NewTransient(errors.ErrCategoryStorage, "failed to write "+key, err)
	}
	return nil
}

func (b base) now() int64 {
	return b.clock.Now().UnixMilli()
}

// correlationOf falls back to a generated id so that a message without one
// still leaves a trace.
func (b base) correlationOf(m *OrderMessage) string {
	if steps.ValidCorrelationID(m.CorrelationID) {
		return m.CorrelationID
	}
	return fmt.Sprintf("c-%d", b.now())
}

// Fulfillment reserves stock for an order.
type Fulfillment struct{ base }

// NewFulfillment creates the fulfillment consumer.
func NewFulfillment(store storage.ObjectStorage, clk clock.PassiveClock) *Fulfillment {
	return &Fulfillment{newBase(store, clk)}
}

func (*Fulfillment) Name() string { return NameFulfillment }

func (f *Fulfillment) Handle(ctx context.Context, msg broker.Message) error {
	m, err := ParseOrderMessage(msg.Body)
	if err != nil {
		return err
	}
	cid := f.correlationOf(m)

	if m.ShouldFail(NameFulfillment) {
		if err := f.recorder.Record(ctx, cid, steps.NameFulfillmentReceived, map[string]any{"forced": true, "receiveCount": msg.ReceiveCount}); err != nil {
			return err
		}
		if err := f.recorder.Record(ctx, cid, steps.NameFulfillmentFailed, map[string]any{"error": "forced failure", "receiveCount": msg.ReceiveCount}); err != nil {
			return err
		}
		return ErrForcedFailure
	}

	if err := f.recorder.Record(ctx, cid, steps.NameFulfillmentReceived, map[string]any{
		"timestamp":    f.now(),
		"receiveCount": msg.ReceiveCount,
		"orderId":      m.OrderID,
		"eventType":    m.EventType,
	}); err != nil {
		return err
	}

	orderKey := "orders/" + orderSegment(m.OrderID) + ".json"
	if err := f.writeJSON(ctx, orderKey, map[string]any{
		"orderId":       m.OrderID,
		"product":       m.ProductName(),
		"quantity":      m.Qty(),
		"price":         m.UnitPrice(),
		"correlationId": cid,
	}); err != nil {
		return err
	}

	for _, p := range m.Products() {
		if err := f.recorder.Record(ctx, cid, steps.ReservedName(p), map[string]any{"product": p, "quantity": m.Qty()}); err != nil {
			return err
		}
	}

	return f.recorder.Record(ctx, cid, steps.NameFulfillmentProcessed, map[string]any{"timestamp": f.now(), "s3key": orderKey})
}

// Analytics records per-event metrics documents.
type Analytics struct{ base }

// NewAnalytics creates the analytics consumer.
func NewAnalytics(store storage.ObjectStorage, clk clock.PassiveClock) *Analytics {
	return &Analytics{newBase(store, clk)}
}

func (*Analytics) Name() string { return NameAnalytics }

func (a *Analytics) Handle(ctx context.Context, msg broker.Message) error {
	m, err := ParseOrderMessage(msg.Body)
	if err != nil {
		return err
	}
	cid := a.correlationOf(m)

	if m.ShouldFail(NameAnalytics) {
		if err := a.recorder.Record(ctx, cid, steps.NameAnalyticsReceived, map[string]any{"forced": true, "receiveCount": msg.ReceiveCount}); err != nil {
			return err
		}
		if err := a.recorder.Record(ctx, cid, steps.NameAnalyticsFailed, map[string]any{"error": "forced failure", "receiveCount": msg.ReceiveCount}); err != nil {
			return err
		}
		return ErrForcedFailure
	}

	if err := a.recorder.Record(ctx, cid, steps.NameAnalyticsReceived, map[string]any{
		"timestamp":    a.now(),
		"receiveCount": msg.ReceiveCount,
		"orderId":      m.OrderID,
		"eventType":    m.EventType,
	}); err != nil {
		return err
	}

	eventType := m.EventType
	if eventType == "" {
		eventType = "Event"
	}
	key := AnalyticsPrefix + url.PathEscape(eventType) + "/" + orderSegment(m.OrderID) + ".json"
	if err := a.writeJSON(ctx, key, AnalyticsRecord{
		OrderID:       m.OrderID,
		ProductID:     m.ProductName(),
		Quantity:      m.Qty(),
		Price:         m.UnitPrice(),
		CorrelationID: cid,
	}); err != nil {
		return err
	}

	for _, p := range m.Products() {
		if err := a.recorder.Record(ctx, cid, steps.UpdatedName(p), map[string]any{"product": p, "eventType": eventType}); err != nil {
			return err
		}
	}

	return a.recorder.Record(ctx, cid, steps.NameAnalyticsProcessed, map[string]any{"timestamp": a.now(), "s3key": key})
}

// AnalyticsPrefix is where analytics documents are written.
const AnalyticsPrefix = "analytics/"

// AnalyticsRecord is the document the analytics consumer writes per order.
type AnalyticsRecord struct {
	OrderID       string  `json:"orderId"`
	ProductID     string  `json:"productId"`
	Quantity      int     `json:"quantity"`
	Price         float64 `json:"price"`
	CorrelationID string  `json:"correlationId"`
}

// Shipping prepares a shipment for OrderShipped events.
type Shipping struct{ base }

// NewShipping creates the shipping consumer.
func NewShipping(store storage.ObjectStorage, clk clock.PassiveClock) *Shipping {
	return &Shipping{newBase(store, clk)}
}

func (*Shipping) Name() string { return NameShipping }

func (s *Shipping) Handle(ctx context.Context, msg broker.Message) error {
	m, err := ParseOrderMessage(msg.Body)
	if err != nil {
		m = &OrderMessage{raw: map[string]any{"raw": msg.Body}}
	}
	cid := m.CorrelationID
	if !steps.ValidCorrelationID(cid) {
		cid = fmt.Sprintf("no-cid-%d", s.now())
	}

	if err := s.process(ctx, cid, m, msg); err != nil {
		if werr := s.recorder.Record(ctx, cid, steps.NameShippingFailed, map[string]any{"error": err.Error(), "body": msg.Body}); werr != nil {
			return werr
		}
		return err
	}
	return nil
}

func (s *Shipping) process(ctx context.Context, cid string, m *OrderMessage, msg broker.Message) error {
	if m.ShouldFail(NameShipping) {
		if err := s.recorder.Record(ctx, cid, steps.NameShippingReceived, map[string]any{"forced": true, "message": m.Raw()}); err != nil {
			return err
		}
		return ErrForcedFailure
	}

	if err := s.recorder.Record(ctx, cid, steps.NameShippingReceived, map[string]any{
		"receiveCount": msg.ReceiveCount,
		"message":      m.Raw(),
	}); err != nil {
		return err
	}

	orderID := m.OrderID
	if orderID == "" {
		orderID = "unknown"
	}
	artifact := map[string]any{
		"orderId":       orderID,
		"correlationId": cid,
		"carrier":       "Acme Logistics",
		"tracking":      fmt.Sprintf("TRK-%d", s.now()),
		"status":        "READY_TO_SHIP",
	}
	key := fmt.Sprintf("shipping/OrderShipped/%s-%s.json", orderSegment(orderID), cid)
	if err := s.writeJSON(ctx, key, artifact); err != nil {
		return err
	}
	return s.recorder.Record(ctx, cid, steps.NameShippingProcessed, map[string]any{"s3key": key, "artifact": artifact})
}

// DeadLetterRecorder returns a broker hook that writes the 50-dlq step for
// every dead-lettered message carrying a correlation id.
func DeadLetterRecorder(store storage.ObjectStorage, clk clock.PassiveClock) broker.DeadLetterHook {
	rec := trace.NewRecorder(store, clk)
	return func(ctx context.Context, source, dlq string, msg broker.Message) {
		cid := msg.CorrelationID()
		if !steps.ValidCorrelationID(cid) {
			return
		}
		err := rec.Record(ctx, cid, steps.NameDeadLettered, map[string]any{
			"queue":        source,
			"dlq":          dlq,
			"messageId":    msg.ID,
			"receiveCount": msg.ReceiveCount,
		})
		if err != nil {
			log.Printf("workers: failed to record dead letter for %s: %v", cid, err)
		}
	}
}

func orderSegment(orderID string) string {
	if orderID == "" {
		return "no-id"
	}
	return url.PathEscape(orderID)
}

// Deps are the collaborators shared by the consumers.
type Deps struct {
	Store storage.ObjectStorage
	Clock clock.WithTicker
}
