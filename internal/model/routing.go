package model

// Destination identifies one of the three logical sink targets. It names
// both the analytical table and the top-level archive category.
type Destination string

const (
	DestOrders       Destination = "orders"
	DestInventory    Destination = "inventory"
	DestUserActivity Destination = "user_activity"
)

// Destinations lists every routing target.
var Destinations = []Destination{DestOrders, DestInventory, DestUserActivity}

// RoutingDecision carries one event from the router to the dual-sink
// writer. Produced per event and discarded after the writes are terminal.
type RoutingDecision struct {
	Event       Event
	Destination Destination

	// ArchiveKey is the full object key for the archive sink,
	// {destination}/{year}/{month}/{day}/{hour}/{minute}/{event-id}.
	ArchiveKey string

	// Payload is the serialized event written to the archive object and
	// reused for nested analytical columns.
	Payload []byte
}
