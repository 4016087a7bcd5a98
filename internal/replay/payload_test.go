package replay

import (
	"encoding/base64"
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/fanoutlab/fanoutlab/internal/errors"
)

func TestDefaultPayload(t *testing.T) {
	now := time.Date(2024, 1, 2, 3, 4, 5, 0, time.UTC)
	var ev OrderCreated
	require.NoError(t, json.Unmarshal(DefaultPayload(now), &ev))

	require.Equal(t, "OrderCreated", ev.EventType)
	require.Equal(t, "acme", ev.TenantID)
	require.NotEmpty(t, ev.EventID)
	require.Regexp(t, `^ORD-\d{4}$`, ev.Data.OrderID)
	require.Len(t, ev.Data.Items, 2)
	require.Equal(t, "2024-01-02T03:04:05Z", ev.Data.CreatedAt)

	require.NotEqual(t, ev.EventID, eventOf(DefaultPayload(now)).EventID)
}

func TestPayloadCodecRoundTrip(t *testing.T) {
	payload := json.RawMessage(`{ "eventType": "OrderCreated", "data": {"orderId": "ORD-1"} }`)

	token, err := EncodePayload(payload)
	require.NoError(t, err)
	require.NotContains(t, token, "+")
	require.NotContains(t, token, "/")
	require.NotContains(t, token, "=")

	got, err := DecodePayload(token)
	require.NoError(t, err)
	require.JSONEq(t, string(payload), string(got))
}

func TestDecodePayload_PlainBase64(t *testing.T) {
	payload := `{"eventType":"OrderShipped","n":1}`
	for _, enc := range []*base64.Encoding{base64.StdEncoding, base64.URLEncoding, base64.RawStdEncoding} {
		got, err := DecodePayload(enc.EncodeToString([]byte(payload)))
		require.NoError(t, err)
		require.JSONEq(t, payload, string(got))
	}
}

func TestDecodePayload_Errors(t *testing.T) {
	_, err := DecodePayload("")
	require.Equal(t, errors.ErrCategoryValidation, errors.GetCategory(err))

	_, err = DecodePayload("***")
	require.True(t, errors.IsMalformed(err))

	_, err = DecodePayload(base64.StdEncoding.EncodeToString([]byte("plain text")))
	require.True(t, errors.IsMalformed(err))

	_, err = EncodePayload(json.RawMessage(`{`))
	require.True(t, errors.IsMalformed(err))
}
