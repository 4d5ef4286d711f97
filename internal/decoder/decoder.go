// Package decoder parses raw transport payloads into typed events.
//
// Decode failures are expected steady-state traffic: malformed producers
// exist, and the pipeline routes their payloads to the dead-letter stream
// rather than treating them as faults.
package decoder

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/restream-labs/eventpipe/internal/model"
)

// Kind classifies a decode failure.
type Kind string

const (
	// KindSyntax means the payload is not valid JSON.
	KindSyntax Kind = "syntax"

	// KindUnknownType means event_type is absent or not a recognized value.
	KindUnknownType Kind = "unknown_type"

	// KindInvalidField means a required field is missing or mistyped.
	KindInvalidField Kind = "invalid_field"
)

// DecodeError describes a rejected payload. Raw carries the original bytes
// for diagnostic logging and the dead-letter stream.
type DecodeError struct {
	Kind  Kind
	Field string
	Raw   []byte
	Err   error
}

func (e *DecodeError) Error() string {
	switch e.Kind {
	case KindSyntax:
		return fmt.Sprintf("decode: malformed payload: %v", e.Err)
	case KindUnknownType:
		return fmt.Sprintf("decode: unrecognized event_type %q", e.Field)
	default:
		if e.Err != nil {
			return fmt.Sprintf("decode: invalid field %s: %v", e.Field, e.Err)
		}
		return fmt.Sprintf("decode: missing required field %s", e.Field)
	}
}

func (e *DecodeError) Unwrap() error { return e.Err }

// Reason returns a short label for metrics and DLQ subjects.
func (e *DecodeError) Reason() string { return string(e.Kind) }

// Decoder turns raw payloads into validated events.
type Decoder struct {
	now func() time.Time
}

// New creates a Decoder using the wall clock.
func New() *Decoder {
	return &Decoder{now: time.Now}
}

// NewWithClock creates a Decoder with an injected clock, for tests.
func NewWithClock(now func() time.Time) *Decoder {
	return &Decoder{now: now}
}

// Decode parses and validates one payload. arrival is the transport
// delivery time; the stamped processing timestamp never precedes it.
// The returned error, when non-nil, is always a *DecodeError.
func (d *Decoder) Decode(raw []byte, arrival time.Time) (model.Event, error) {
	var probe struct {
		EventType string `json:"event_type"`
	}
	if err := json.Unmarshal(raw, &probe); err != nil {
		return nil, &DecodeError{Kind: KindSyntax, Raw: raw, Err: err}
	}

	var (
		event model.Event
		err   error
	)
	switch model.Type(probe.EventType) {
	case model.TypeOrder:
		event, err = d.decodeOrder(raw, arrival)
	case model.TypeInventory:
		event, err = d.decodeInventory(raw, arrival)
	case model.TypeUserActivity:
		event, err = d.decodeUserActivity(raw, arrival)
	default:
		return nil, &DecodeError{Kind: KindUnknownType, Field: probe.EventType, Raw: raw}
	}
	if err != nil {
		return nil, err
	}

	return event, nil
}

func (d *Decoder) decodeOrder(raw []byte, arrival time.Time) (model.Event, error) {
	var e model.OrderEvent
	if err := json.Unmarshal(raw, &e); err != nil {
		return nil, fieldError(raw, err)
	}
	switch {
	case e.OrderID == "":
		return nil, missing(raw, "order_id")
	case e.CustomerID == "":
		return nil, missing(raw, "customer_id")
	case e.OrderDate.IsZero():
		return nil, missing(raw, "order_date")
	case e.Status == "":
		return nil, missing(raw, "status")
	case len(e.Items) == 0:
		return nil, missing(raw, "items")
	}
	for i, item := range e.Items {
		if item.ProductID == "" {
			return nil, missing(raw, fmt.Sprintf("items[%d].product_id", i))
		}
		if item.Quantity <= 0 {
			return nil, missing(raw, fmt.Sprintf("items[%d].quantity", i))
		}
	}
	e.EventTypeTag = model.TypeOrder
	e.CreatedAt = d.stamp(arrival)
	return &e, nil
}

func (d *Decoder) decodeInventory(raw []byte, arrival time.Time) (model.Event, error) {
	var e model.InventoryEvent
	if err := json.Unmarshal(raw, &e); err != nil {
		return nil, fieldError(raw, err)
	}
	switch {
	case e.ProductID == "":
		return nil, missing(raw, "product_id")
	case e.WarehouseID == "":
		return nil, missing(raw, "warehouse_id")
	case e.Timestamp.IsZero():
		return nil, missing(raw, "timestamp")
	}
	// Some producers omit inventory_id; fall back to a content-derived id
	// so redelivered payloads keep the same sink key.
	if e.InventoryID == "" {
		e.InventoryID = contentID(raw)
	}
	e.EventTypeTag = model.TypeInventory
	e.CreatedAt = d.stamp(arrival)
	return &e, nil
}

func (d *Decoder) decodeUserActivity(raw []byte, arrival time.Time) (model.Event, error) {
	var e model.UserActivityEvent
	if err := json.Unmarshal(raw, &e); err != nil {
		return nil, fieldError(raw, err)
	}
	switch {
	case e.UserID == "":
		return nil, missing(raw, "user_id")
	case e.Timestamp.IsZero():
		return nil, missing(raw, "timestamp")
	case e.ActivityType == "":
		return nil, missing(raw, "activity_type")
	}
	// Activity payloads carry no natural id.
	if e.ActivityID == "" {
		e.ActivityID = contentID(raw)
	}
	e.EventTypeTag = model.TypeUserActivity
	e.CreatedAt = d.stamp(arrival)
	return &e, nil
}

// stamp produces the processing timestamp. It never precedes the
// transport arrival time, even under clock skew.
func (d *Decoder) stamp(arrival time.Time) time.Time {
	now := d.now().UTC()
	if now.Before(arrival) {
		return arrival.UTC()
	}
	return now
}

// contentID derives a stable identifier from the payload bytes. Hashing the
// raw payload keeps the id identical across broker redeliveries, which is
// what makes downstream upserts idempotent.
func contentID(raw []byte) string {
	sum := sha256.Sum256(raw)
	return hex.EncodeToString(sum[:16])
}

func missing(raw []byte, field string) *DecodeError {
	return &DecodeError{Kind: KindInvalidField, Field: field, Raw: raw}
}

func fieldError(raw []byte, err error) *DecodeError {
	var typeErr *json.UnmarshalTypeError
	if errors.As(err, &typeErr) {
		return &DecodeError{Kind: KindInvalidField, Field: typeErr.Field, Raw: raw, Err: err}
	}
	var parseErr *time.ParseError
	if errors.As(err, &parseErr) {
		return &DecodeError{Kind: KindInvalidField, Field: "timestamp", Raw: raw, Err: err}
	}
	return &DecodeError{Kind: KindSyntax, Raw: raw, Err: err}
}
