// Package model defines the event types flowing through the pipeline.
//
// Event is a closed sum over the three business event variants. The decoder
// is the only producer; everything downstream treats events as immutable.
package model

import "time"

// Type discriminates the event variants. It mirrors the event_type field
// carried on every inbound payload.
type Type string

const (
	TypeOrder        Type = "order"
	TypeInventory    Type = "inventory"
	TypeUserActivity Type = "user_activity"
)

// Types lists every recognized event type.
var Types = []Type{TypeOrder, TypeInventory, TypeUserActivity}

// Valid reports whether t is one of the recognized event types.
func (t Type) Valid() bool {
	switch t {
	case TypeOrder, TypeInventory, TypeUserActivity:
		return true
	}
	return false
}

// Event is the decoded, validated form of an inbound payload.
//
// EventID is stable across broker redelivery of the same payload, so both
// sinks can use it as an upsert key and retries never duplicate rows or
// objects. OccurredAt is the business timestamp used for partitioning;
// ProcessedAt is stamped by the decoder at ingestion time.
type Event interface {
	EventType() Type
	EventID() string
	OccurredAt() time.Time
	ProcessedAt() time.Time

	// sealed keeps the variant set closed so the router's dispatch
	// stays exhaustive.
	sealed()
}

// LineItem is one ordered product on an order event.
type LineItem struct {
	ProductID   string  `json:"product_id"`
	ProductName string  `json:"product_name,omitempty"`
	Quantity    int     `json:"quantity"`
	Price       float64 `json:"price"`
}

// Address is a structured shipping address.
type Address struct {
	Street  string `json:"street"`
	City    string `json:"city"`
	Country string `json:"country"`
}

// OrderEvent records a placed or updated customer order.
type OrderEvent struct {
	EventTypeTag    Type       `json:"event_type"`
	OrderID         string     `json:"order_id"`
	CustomerID      string     `json:"customer_id"`
	OrderDate       time.Time  `json:"order_date"`
	Status          string     `json:"status"`
	Items           []LineItem `json:"items"`
	ShippingAddress Address    `json:"shipping_address"`
	TotalAmount     float64    `json:"total_amount,omitempty"`
	CreatedAt       time.Time  `json:"created_at"`
}

func (e *OrderEvent) EventType() Type        { return TypeOrder }
func (e *OrderEvent) EventID() string        { return e.OrderID }
func (e *OrderEvent) OccurredAt() time.Time  { return e.OrderDate }
func (e *OrderEvent) ProcessedAt() time.Time { return e.CreatedAt }
func (e *OrderEvent) sealed()                {}

// InventoryEvent records a stock level change in a warehouse.
type InventoryEvent struct {
	EventTypeTag   Type      `json:"event_type"`
	InventoryID    string    `json:"inventory_id,omitempty"`
	ProductID      string    `json:"product_id"`
	WarehouseID    string    `json:"warehouse_id"`
	Timestamp      time.Time `json:"timestamp"`
	QuantityChange int       `json:"quantity_change"`
	QuantityAfter  int       `json:"quantity_after"`
	Reason         string    `json:"reason,omitempty"`
	CreatedAt      time.Time `json:"created_at"`
}

func (e *InventoryEvent) EventType() Type        { return TypeInventory }
func (e *InventoryEvent) EventID() string        { return e.InventoryID }
func (e *InventoryEvent) OccurredAt() time.Time  { return e.Timestamp }
func (e *InventoryEvent) ProcessedAt() time.Time { return e.CreatedAt }
func (e *InventoryEvent) sealed()                {}

// UserActivityEvent records a single user action on the storefront.
type UserActivityEvent struct {
	EventTypeTag Type              `json:"event_type"`
	ActivityID   string            `json:"activity_id,omitempty"`
	UserID       string            `json:"user_id"`
	Timestamp    time.Time         `json:"timestamp"`
	ActivityType string            `json:"activity_type"`
	IPAddress    string            `json:"ip_address,omitempty"`
	UserAgent    string            `json:"user_agent,omitempty"`
	Metadata     map[string]string `json:"metadata,omitempty"`
	CreatedAt    time.Time         `json:"created_at"`
}

func (e *UserActivityEvent) EventType() Type        { return TypeUserActivity }
func (e *UserActivityEvent) EventID() string        { return e.ActivityID }
func (e *UserActivityEvent) OccurredAt() time.Time  { return e.Timestamp }
func (e *UserActivityEvent) ProcessedAt() time.Time { return e.CreatedAt }
func (e *UserActivityEvent) sealed()                {}
