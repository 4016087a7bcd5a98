package domain

import (
	"context"

	"github.com/google/uuid"

	"github.com/fanoutlab/fanoutlab/internal/errors"
)

// fanoutSeedEvents exercises every subscription filter: OrderPlaced/high
// reaches fulfillment and analytics, OrderUpdated/low only fulfillment,
// OrderShipped/high analytics and shipping.
var fanoutSeedEvents = []struct {
	eventType string
	priority  string
}{
	{"OrderPlaced", "high"},
	{"OrderUpdated", "low"},
	{"OrderShipped", "high"},
}

// SeedFanoutTrace publishes the three demo events, each under a fresh
// correlation id, and returns the ids in publish order.
func (s *Service) SeedFanoutTrace(ctx context.Context) ([]string, error) {
	if s.publisher == nil {
		return nil, errors.NewInternalError("no publisher configured", nil)
	}
	ids := make([]string, 0, len(fanoutSeedEvents))
	for _, e := range fanoutSeedEvents {
		cid := uuid.NewString()
		_, err := s.publisher.Publish(ctx, Message{
			CorrelationID: cid,
			EventType:     e.eventType,
			Priority:      e.priority,
			OrderID:       uuid.NewString(),
			Fields: map[string]any{
				"product":  "StartUp book",
				"quantity": 1,
				"price":    10,
			},
		})
		if err != nil {
			return ids, err
		}
		ids = append(ids, cid)
	}
	return ids, nil
}

// CustomEvent is a user-composed event.
type CustomEvent struct {
	OrderID       string         `json:"orderId,omitempty"`
	EventType     string         `json:"eventType"`
	Priority      string         `json:"priority,omitempty"`
	CorrelationID string         `json:"correlationId,omitempty"`
	Payload       map[string]any `json:"payload,omitempty"`
}

// SeedCustom publishes a custom event. Missing ids are generated and the
// priority defaults to high.
func (s *Service) SeedCustom(ctx context.Context, ev CustomEvent) (correlationID, orderID string, err error) {
	if s.publisher == nil {
		return "", "", errors.NewInternalError("no publisher configured", nil)
	}
	if ev.EventType == "" {
		return "", "", errors.NewValidationError("eventType is required")
	}
	if ev.OrderID == "" {
		ev.OrderID = uuid.NewString()
	}
	if ev.CorrelationID == "" {
		ev.CorrelationID = uuid.NewString()
	}
	if ev.Priority == "" {
		ev.Priority = "high"
	}
	_, err = s.publisher.Publish(ctx, Message{
		CorrelationID: ev.CorrelationID,
		EventType:     ev.EventType,
		Priority:      ev.Priority,
		OrderID:       ev.OrderID,
		Fields:        ev.Payload,
	})
	if err != nil {
		return "", "", err
	}
	return ev.CorrelationID, ev.OrderID, nil
}
