package decoder

import (
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/restream-labs/eventpipe/internal/model"
)

const orderPayload = `{
	"event_type": "order",
	"order_id": "O-1001",
	"customer_id": "c-42",
	"order_date": "2025-11-04T10:15:30Z",
	"status": "confirmed",
	"items": [
		{"product_id": "p-1", "product_name": "Widget", "quantity": 2, "price": 19.99},
		{"product_id": "p-2", "product_name": "Gadget", "quantity": 1, "price": 5.00}
	],
	"shipping_address": {"street": "1 Main St", "city": "Springfield", "country": "US"},
	"total_amount": 44.98
}`

func TestDecodeOrder(t *testing.T) {
	d := New()
	event, err := d.Decode([]byte(orderPayload), time.Now())
	require.NoError(t, err)

	order, ok := event.(*model.OrderEvent)
	require.True(t, ok, "expected *model.OrderEvent, got %T", event)

	assert.Equal(t, model.TypeOrder, order.EventType())
	assert.Equal(t, "O-1001", order.EventID())
	assert.Equal(t, "c-42", order.CustomerID)
	assert.Equal(t, "confirmed", order.Status)
	require.Len(t, order.Items, 2)
	assert.Equal(t, "p-1", order.Items[0].ProductID)
	assert.Equal(t, 2, order.Items[0].Quantity)
	assert.Equal(t, "Springfield", order.ShippingAddress.City)
	assert.InDelta(t, 44.98, order.TotalAmount, 0.001)
	assert.Equal(t, time.Date(2025, 11, 4, 10, 15, 30, 0, time.UTC), order.OccurredAt())
	assert.False(t, order.ProcessedAt().IsZero())
}

func TestDecodeInventory(t *testing.T) {
	payload := `{
		"event_type": "inventory",
		"inventory_id": "inv-7",
		"product_id": "p-9",
		"warehouse_id": "warehouse-sf-01",
		"quantity_change": -3,
		"quantity_after": 97,
		"reason": "sale",
		"timestamp": "2025-11-04T10:15:30Z"
	}`

	d := New()
	event, err := d.Decode([]byte(payload), time.Now())
	require.NoError(t, err)

	inv, ok := event.(*model.InventoryEvent)
	require.True(t, ok)
	assert.Equal(t, model.TypeInventory, inv.EventType())
	assert.Equal(t, "inv-7", inv.EventID())
	assert.Equal(t, -3, inv.QuantityChange)
	assert.Equal(t, 97, inv.QuantityAfter)
	assert.Equal(t, "sale", inv.Reason)
}

func TestDecodeUserActivity(t *testing.T) {
	payload := `{
		"event_type": "user_activity",
		"user_id": "u-5",
		"activity_type": "page_view",
		"ip_address": "10.0.0.1",
		"user_agent": "Mozilla/5.0",
		"timestamp": "2025-11-04T10:15:30Z",
		"metadata": {"session_id": "s-1", "platform": "web"}
	}`

	d := New()
	event, err := d.Decode([]byte(payload), time.Now())
	require.NoError(t, err)

	act, ok := event.(*model.UserActivityEvent)
	require.True(t, ok)
	assert.Equal(t, "u-5", act.UserID)
	assert.Equal(t, "page_view", act.ActivityType)
	assert.Equal(t, "web", act.Metadata["platform"])
	assert.NotEmpty(t, act.EventID(), "activity gets a content-derived id")
}

func TestDecodeContentIDStableAcrossRedelivery(t *testing.T) {
	payload := []byte(`{
		"event_type": "user_activity",
		"user_id": "u-5",
		"activity_type": "login",
		"timestamp": "2025-11-04T10:15:30Z"
	}`)

	d := New()
	first, err := d.Decode(payload, time.Now())
	require.NoError(t, err)
	second, err := d.Decode(payload, time.Now().Add(time.Minute))
	require.NoError(t, err)

	assert.Equal(t, first.EventID(), second.EventID(),
		"redelivered payload must keep the same id so sink writes stay idempotent")
}

func TestDecodeFailures(t *testing.T) {
	tests := []struct {
		name    string
		payload string
		kind    Kind
		field   string
	}{
		{
			name:    "truncated JSON",
			payload: `{"event_type": "order", "order_id":`,
			kind:    KindSyntax,
		},
		{
			name:    "not JSON at all",
			payload: `hello world`,
			kind:    KindSyntax,
		},
		{
			name:    "unknown event type",
			payload: `{"event_type": "refund", "refund_id": "r-1"}`,
			kind:    KindUnknownType,
		},
		{
			name:    "missing event type",
			payload: `{"order_id": "O-1"}`,
			kind:    KindUnknownType,
		},
		{
			name:    "order without customer",
			payload: `{"event_type": "order", "order_id": "O-1", "order_date": "2025-11-04T10:15:30Z", "status": "pending", "items": [{"product_id": "p-1", "quantity": 1, "price": 1}]}`,
			kind:    KindInvalidField,
			field:   "customer_id",
		},
		{
			name:    "order with empty items",
			payload: `{"event_type": "order", "order_id": "O-1", "customer_id": "c-1", "order_date": "2025-11-04T10:15:30Z", "status": "pending", "items": []}`,
			kind:    KindInvalidField,
			field:   "items",
		},
		{
			name:    "order item without quantity",
			payload: `{"event_type": "order", "order_id": "O-1", "customer_id": "c-1", "order_date": "2025-11-04T10:15:30Z", "status": "pending", "items": [{"product_id": "p-1", "price": 1}]}`,
			kind:    KindInvalidField,
			field:   "items[0].quantity",
		},
		{
			name:    "inventory without warehouse",
			payload: `{"event_type": "inventory", "product_id": "p-1", "quantity_change": 1, "timestamp": "2025-11-04T10:15:30Z"}`,
			kind:    KindInvalidField,
			field:   "warehouse_id",
		},
		{
			name:    "activity without user",
			payload: `{"event_type": "user_activity", "activity_type": "login", "timestamp": "2025-11-04T10:15:30Z"}`,
			kind:    KindInvalidField,
			field:   "user_id",
		},
		{
			name:    "mistyped quantity_change",
			payload: `{"event_type": "inventory", "product_id": "p-1", "warehouse_id": "w-1", "quantity_change": "three", "timestamp": "2025-11-04T10:15:30Z"}`,
			kind:    KindInvalidField,
			field:   "quantity_change",
		},
		{
			name:    "unparseable timestamp",
			payload: `{"event_type": "inventory", "product_id": "p-1", "warehouse_id": "w-1", "quantity_change": 1, "timestamp": "yesterday"}`,
			kind:    KindInvalidField,
		},
	}

	d := New()
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			event, err := d.Decode([]byte(tt.payload), time.Now())
			require.Error(t, err)
			assert.Nil(t, event)

			var decErr *DecodeError
			require.True(t, errors.As(err, &decErr), "error must be a *DecodeError, got %T", err)
			assert.Equal(t, tt.kind, decErr.Kind)
			if tt.field != "" {
				assert.Equal(t, tt.field, decErr.Field)
			}
			assert.Equal(t, string(tt.kind), decErr.Reason())
			assert.NotEmpty(t, decErr.Error())
		})
	}
}

func TestStampNeverPrecedesArrival(t *testing.T) {
	arrival := time.Date(2025, 11, 4, 12, 0, 0, 0, time.UTC)

	// Clock behind arrival, e.g. skew between broker and pipeline hosts.
	skewed := NewWithClock(func() time.Time { return arrival.Add(-time.Hour) })
	event, err := skewed.Decode([]byte(orderPayload), arrival)
	require.NoError(t, err)
	assert.Equal(t, arrival, event.ProcessedAt())

	// Clock ahead of arrival: the later time wins.
	ahead := NewWithClock(func() time.Time { return arrival.Add(time.Minute) })
	event, err = ahead.Decode([]byte(orderPayload), arrival)
	require.NoError(t, err)
	assert.Equal(t, arrival.Add(time.Minute), event.ProcessedAt())
}

func TestDecodedEventMarshalsWithCreatedAt(t *testing.T) {
	d := NewWithClock(func() time.Time {
		return time.Date(2025, 11, 4, 12, 0, 0, 0, time.UTC)
	})
	event, err := d.Decode([]byte(orderPayload), time.Time{})
	require.NoError(t, err)

	data, err := json.Marshal(event)
	require.NoError(t, err)

	var out map[string]interface{}
	require.NoError(t, json.Unmarshal(data, &out))
	assert.Equal(t, "order", out["event_type"])
	assert.Equal(t, "2025-11-04T12:00:00Z", out["created_at"])
}
