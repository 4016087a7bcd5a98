package workers

import (
	"encoding/json"
	"strconv"
	"strings"

	"github.com/fanoutlab/fanoutlab/internal/errors"
)

// UnknownProduct is used when a message names no product.
const UnknownProduct = "UNKNOWN"

// OrderMessage is the body published on the fanout topic.
type OrderMessage struct {
	CorrelationID string          `json:"correlationId"`
	EventType     string          `json:"eventType"`
	OrderID       string          `json:"orderId"`
	Product       string          `json:"product,omitempty"`
	ProductID     string          `json:"productId,omitempty"`
	Quantity      json.Number     `json:"quantity,omitempty"`
	Price         json.Number     `json:"price,omitempty"`
	Priority      string          `json:"priority,omitempty"`
	Items         []OrderItem     `json:"items,omitempty"`
	ForceFail     json.RawMessage `json:"forceFail,omitempty"`

	raw map[string]any
}

// OrderItem is one line of a multi-product message.
type OrderItem struct {
	SKU string `json:"sku"`
	Qty int    `json:"qty"`
}

// ParseOrderMessage decodes a queue message body.
func ParseOrderMessage(body string) (*OrderMessage, error) {
	var m OrderMessage
	dec := json.NewDecoder(strings.NewReader(body))
	dec.UseNumber()
	if err := dec.Decode(&m); err != nil {
		return nil, errors.NewMalformed(errors.ErrCategoryBroker, "message body is not a JSON object", err)
	}
	var raw map[string]any
	if err := json.Unmarshal([]byte(body), &raw); err == nil {
		m.raw = raw
	}
	return &m, nil
}

// Raw returns the decoded body as a generic document.
func (m *OrderMessage) Raw() map[string]any {
	if m.raw == nil {
		return map[string]any{}
	}
	return m.raw
}

// ProductName returns product, then productId, then UnknownProduct.
func (m *OrderMessage) ProductName() string {
	switch {
	case m.Product != "":
		return m.Product
	case m.ProductID != "":
		return m.ProductID
	default:
		return UnknownProduct
	}
}

// Products lists the products a message touches: item SKUs when present,
// otherwise the single product.
func (m *OrderMessage) Products() []string {
	var out []string
	for _, it := range m.Items {
		if it.SKU != "" {
			out = append(out, it.SKU)
		}
	}
	if len(out) == 0 {
		out = append(out, m.ProductName())
	}
	return out
}

// Qty returns the quantity, defaulting to 1.
func (m *OrderMessage) Qty() int {
	if m.Quantity == "" {
		return 1
	}
	if n, err := strconv.Atoi(string(m.Quantity)); err == nil {
		return n
	}
	if f, err := m.Quantity.Float64(); err == nil {
		return int(f)
	}
	return 1
}

// UnitPrice returns the price, defaulting to 0.
func (m *OrderMessage) UnitPrice() float64 {
	if f, err := m.Price.Float64(); err == nil {
		return f
	}
	return 0
}

// ShouldFail reports whether forceFail targets consumer. It accepts true,
// "all", a consumer name or a list of names, compared case-insensitively.
func (m *OrderMessage) ShouldFail(consumer string) bool {
	return shouldFail(m.ForceFail, consumer)
}

func shouldFail(raw json.RawMessage, consumer string) bool {
	if len(raw) == 0 {
		return false
	}
	var v any
	if err := json.Unmarshal(raw, &v); err != nil {
		return false
	}
	switch ff := v.(type) {
	case bool:
		return ff
	case string:
		return strings.EqualFold(ff, "all") || strings.EqualFold(ff, consumer)
	case []any:
		for _, s := range ff {
			if name, ok := s.(string); ok && strings.EqualFold(name, consumer) {
				return true
			}
		}
	}
	return false
}
