package broker

import (
	"encoding/json"
	"time"
)

// Message is a queued message as returned to consumers.
type Message struct {
	ID            string            `json:"id"`
	Body          string            `json:"body"`
	Attributes    map[string]string `json:"attributes,omitempty"`
	ReceiptHandle string            `json:"receipt"`
	ReceiveCount  int               `json:"receiveCount"`
	SentAt        time.Time         `json:"sentAt"`
}

// CorrelationID returns the correlationId field of a JSON body, if any.
func (m Message) CorrelationID() string {
	return correlationOf([]byte(m.Body))
}

// JSONBody returns the body as JSON, or as a JSON string when it is not JSON.
func (m Message) JSONBody() json.RawMessage {
	if json.Valid([]byte(m.Body)) {
		return json.RawMessage(m.Body)
	}
	quoted, _ := json.Marshal(m.Body)
	return quoted
}

func correlationOf(body []byte) string {
	var probe struct {
		CorrelationID string `json:"correlationId"`
	}
	if err := json.Unmarshal(body, &probe); err != nil {
		return ""
	}
	return probe.CorrelationID
}

func copyAttrs(attrs map[string]string) map[string]string {
	if len(attrs) == 0 {
		return nil
	}
	out := make(map[string]string, len(attrs))
	for k, v := range attrs {
		out[k] = v
	}
	return out
}
