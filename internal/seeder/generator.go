// Package seeder publishes realistic test events to the inbound stream,
// for exercising the pipeline end to end without real producers.
package seeder

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/brianvoe/gofakeit/v6"
	"github.com/google/uuid"
)

// Generator produces event payloads in the shapes real producers emit.
type Generator struct {
	faker *gofakeit.Faker
}

// NewGenerator creates a generator. seed 0 randomizes.
func NewGenerator(seed int64) *Generator {
	return &Generator{faker: gofakeit.New(seed)}
}

// Order returns a well-formed order event payload.
func (g *Generator) Order() []byte {
	itemCount := g.faker.Number(1, 4)
	items := make([]map[string]interface{}, 0, itemCount)
	total := 0.0
	for i := 0; i < itemCount; i++ {
		qty := g.faker.Number(1, 3)
		price := g.faker.Price(5, 500)
		total += float64(qty) * price
		items = append(items, map[string]interface{}{
			"product_id":   uuid.NewString(),
			"product_name": g.faker.ProductName(),
			"quantity":     qty,
			"price":        price,
		})
	}

	payload := map[string]interface{}{
		"event_type":  "order",
		"order_id":    fmt.Sprintf("O-%d", g.faker.Number(100000, 999999)),
		"customer_id": uuid.NewString(),
		"order_date":  time.Now().UTC().Format(time.RFC3339),
		"status":      g.faker.RandomString([]string{"pending", "confirmed", "shipped", "delivered"}),
		"items":       items,
		"shipping_address": map[string]interface{}{
			"street":  g.faker.Street(),
			"city":    g.faker.City(),
			"country": g.faker.Country(),
		},
		"total_amount": total,
	}
	return mustMarshal(payload)
}

// Inventory returns a well-formed inventory event payload.
func (g *Generator) Inventory() []byte {
	change := g.faker.Number(-50, 50)
	if change == 0 {
		change = -1
	}
	after := g.faker.Number(0, 1000)

	payload := map[string]interface{}{
		"event_type":      "inventory",
		"inventory_id":    uuid.NewString(),
		"product_id":      uuid.NewString(),
		"warehouse_id":    fmt.Sprintf("warehouse-%s-%02d", g.faker.RandomString([]string{"sf", "ny", "tx"}), g.faker.Number(1, 9)),
		"quantity_change": change,
		"quantity_after":  after,
		"reason":          g.faker.RandomString([]string{"sale", "restock", "return", "damage"}),
		"timestamp":       time.Now().UTC().Format(time.RFC3339),
	}
	return mustMarshal(payload)
}

// UserActivity returns a well-formed user activity event payload.
func (g *Generator) UserActivity() []byte {
	payload := map[string]interface{}{
		"event_type":    "user_activity",
		"user_id":       uuid.NewString(),
		"activity_type": g.faker.RandomString([]string{"page_view", "search", "add_to_cart", "checkout", "login", "logout"}),
		"ip_address":    g.faker.IPv4Address(),
		"user_agent":    g.faker.UserAgent(),
		"timestamp":     time.Now().UTC().Format(time.RFC3339),
		"metadata": map[string]string{
			"session_id": uuid.NewString(),
			"platform":   g.faker.RandomString([]string{"web", "ios", "android"}),
		},
	}
	return mustMarshal(payload)
}

// Malformed returns a payload the decoder will reject, for exercising the
// dead-letter path.
func (g *Generator) Malformed() []byte {
	switch g.faker.Number(0, 2) {
	case 0:
		return []byte(`{"event_type": "order", "order_id":`) // truncated JSON
	case 1:
		return mustMarshal(map[string]interface{}{
			"event_type": "unknown",
			"payload":    g.faker.HackerPhrase(),
		})
	default:
		return mustMarshal(map[string]interface{}{
			"event_type": "order",
			"order_id":   fmt.Sprintf("O-%d", g.faker.Number(1000, 9999)),
			// missing everything else
		})
	}
}

func mustMarshal(v interface{}) []byte {
	data, err := json.Marshal(v)
	if err != nil {
		panic(err)
	}
	return data
}
