// Package router maps decoded events onto sink destinations.
package router

import (
	"fmt"

	"github.com/restream-labs/eventpipe/internal/model"
)

// Resolve returns the destination for a decoded event. The mapping is pure
// and total over the sealed variant set: the decoder guarantees the tag is
// one of the three recognized values, so there is no fallback branch.
func Resolve(e model.Event) model.Destination {
	switch e.(type) {
	case *model.OrderEvent:
		return model.DestOrders
	case *model.InventoryEvent:
		return model.DestInventory
	case *model.UserActivityEvent:
		return model.DestUserActivity
	default:
		// Unreachable while model.Event stays sealed.
		panic(fmt.Sprintf("router: unhandled event variant %T", e))
	}
}
