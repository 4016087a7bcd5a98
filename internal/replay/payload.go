package replay

import (
	"bytes"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"math/rand/v2"
	"strings"
	"time"

	"github.com/golang/snappy"
	"github.com/google/uuid"

	"github.com/fanoutlab/fanoutlab/internal/errors"
)

// OrderItem is one line of the default payload.
type OrderItem struct {
	SKU string `json:"sku"`
	Qty int    `json:"qty"`
}

// OrderData is the data section of an OrderCreated event.
type OrderData struct {
	OrderID    string      `json:"orderId"`
	CustomerID string      `json:"customerId"`
	Total      float64     `json:"total"`
	Currency   string      `json:"currency"`
	Items      []OrderItem `json:"items"`
	CreatedAt  string      `json:"createdAt"`
}

// OrderCreated is the event replayed when no payload is supplied.
type OrderCreated struct {
	EventType     string    `json:"eventType"`
	EventID       string    `json:"eventId"`
	TenantID      string    `json:"tenantId"`
	SchemaVersion int       `json:"schemaVersion"`
	MsgStatus     string    `json:"msgStatus"`
	MsgType       string    `json:"msgType"`
	Data          OrderData `json:"data"`
}

// DefaultPayload generates a fresh OrderCreated payload.
func DefaultPayload(now time.Time) json.RawMessage {
	ev := OrderCreated{
		EventType:     "OrderCreated",
		EventID:       uuid.NewString(),
		TenantID:      "acme",
		SchemaVersion: 1,
		MsgStatus:     "NEW",
		MsgType:       "domain",
		Data: OrderData{
			OrderID:    fmt.Sprintf("ORD-%04d", rand.IntN(10000)),
			CustomerID: "CUS-1029",
			Total:      149.9,
			Currency:   "USD",
			Items: []OrderItem{
				{SKU: "SKU-BOOK-1", Qty: 1},
				{SKU: "SKU-MUG-2", Qty: 2},
			},
			CreatedAt: now.UTC().Format(time.RFC3339),
		},
	}
	data, _ := json.Marshal(ev)
	return data
}

// EncodePayload packs a payload into a URL-safe share token.
func EncodePayload(payload json.RawMessage) (string, error) {
	var compact bytes.Buffer
	if err := json.Compact(&compact, payload); err != nil {
		return "", errors.NewMalformed(errors.ErrCategoryReplay, "payload is not valid JSON", err)
	}
	return base64.RawURLEncoding.EncodeToString(snappy.Encode(nil, compact.Bytes())), nil
}

// DecodePayload unpacks a share token. Tokens holding plain base64 JSON
// (standard or URL alphabet, padded or not) are accepted as well.
func DecodePayload(token string) (json.RawMessage, error) {
	token = strings.TrimSpace(token)
	if token == "" {
		return nil, errors.NewValidationError("empty payload token")
	}

	raw, err := decodeBase64(token)
	if err != nil {
		return nil, errors.NewMalformed(errors.ErrCategoryReplay, "payload token is not base64", err)
	}

	if decoded, err := snappy.Decode(nil, raw); err == nil && json.Valid(decoded) {
		return decoded, nil
	}
	if json.Valid(raw) {
		return raw, nil
	}
	return nil, errors.NewMalformed(errors.ErrCategoryReplay, "payload token does not hold JSON", nil)
}

func decodeBase64(s string) ([]byte, error) {
	encodings := []*base64.Encoding{
		base64.RawURLEncoding,
		base64.URLEncoding,
		base64.StdEncoding,
		base64.RawStdEncoding,
	}
	var lastErr error
	for _, enc := range encodings {
		b, err := enc.DecodeString(s)
		if err == nil {
			return b, nil
		}
		lastErr = err
	}
	return nil, lastErr
}
