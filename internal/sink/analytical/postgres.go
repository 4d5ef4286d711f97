// Package analytical writes routed events into the analytical store: three
// PostgreSQL tables keyed by event id, with nested collections kept as
// JSONB columns rather than flattened into join tables.
package analytical

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/restream-labs/eventpipe/internal/model"
	"github.com/restream-labs/eventpipe/internal/sink"
)

// Config holds connection settings for the analytical store.
type Config struct {
	URL             string
	MaxConns        int32
	MinConns        int32
	MaxConnLifetime time.Duration
	MaxConnIdleTime time.Duration
}

// Sink is the PostgreSQL implementation of the analytical destination.
type Sink struct {
	pool *pgxpool.Pool
}

// New connects to PostgreSQL and verifies the connection.
func New(ctx context.Context, cfg Config) (*Sink, error) {
	poolCfg, err := pgxpool.ParseConfig(cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("parse postgres config: %w", err)
	}
	if cfg.MaxConns > 0 {
		poolCfg.MaxConns = cfg.MaxConns
	}
	if cfg.MinConns > 0 {
		poolCfg.MinConns = cfg.MinConns
	}
	if cfg.MaxConnLifetime > 0 {
		poolCfg.MaxConnLifetime = cfg.MaxConnLifetime
	}
	if cfg.MaxConnIdleTime > 0 {
		poolCfg.MaxConnIdleTime = cfg.MaxConnIdleTime
	}

	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("create connection pool: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}

	return &Sink{pool: pool}, nil
}

// NewWithPool wraps an existing pool, for tests.
func NewWithPool(pool *pgxpool.Pool) *Sink {
	return &Sink{pool: pool}
}

func (s *Sink) Name() string { return "analytical" }

// Write upserts one event into the table matching its destination. The
// upsert key is the event id, so a retried write overwrites the existing
// row instead of appending a duplicate.
func (s *Sink) Write(ctx context.Context, dec *model.RoutingDecision) error {
	var err error
	switch e := dec.Event.(type) {
	case *model.OrderEvent:
		err = s.writeOrder(ctx, e)
	case *model.InventoryEvent:
		err = s.writeInventory(ctx, e)
	case *model.UserActivityEvent:
		err = s.writeUserActivity(ctx, e)
	default:
		return sink.Permanent(fmt.Errorf("no table for event variant %T", dec.Event))
	}
	if err != nil {
		return classify(err)
	}
	return nil
}

func (s *Sink) writeOrder(ctx context.Context, e *model.OrderEvent) error {
	items, err := json.Marshal(e.Items)
	if err != nil {
		return sink.Permanent(fmt.Errorf("marshal items: %w", err))
	}
	address, err := json.Marshal(e.ShippingAddress)
	if err != nil {
		return sink.Permanent(fmt.Errorf("marshal shipping_address: %w", err))
	}

	query := `
		INSERT INTO orders (order_id, customer_id, order_date, status, items, shipping_address, total_amount, created_at)
		VALUES ($1, $2, $3, $4, $5::jsonb, $6::jsonb, $7, $8)
		ON CONFLICT (order_id) DO UPDATE SET
			customer_id = EXCLUDED.customer_id,
			order_date = EXCLUDED.order_date,
			status = EXCLUDED.status,
			items = EXCLUDED.items,
			shipping_address = EXCLUDED.shipping_address,
			total_amount = EXCLUDED.total_amount,
			created_at = EXCLUDED.created_at
	`
	_, err = s.pool.Exec(ctx, query,
		e.OrderID, e.CustomerID, e.OrderDate, e.Status,
		string(items), string(address), e.TotalAmount, e.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("upsert order %s: %w", e.OrderID, err)
	}
	return nil
}

func (s *Sink) writeInventory(ctx context.Context, e *model.InventoryEvent) error {
	query := `
		INSERT INTO inventory (inventory_id, product_id, warehouse_id, event_time, quantity_change, quantity_after, reason, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		ON CONFLICT (inventory_id) DO UPDATE SET
			product_id = EXCLUDED.product_id,
			warehouse_id = EXCLUDED.warehouse_id,
			event_time = EXCLUDED.event_time,
			quantity_change = EXCLUDED.quantity_change,
			quantity_after = EXCLUDED.quantity_after,
			reason = EXCLUDED.reason,
			created_at = EXCLUDED.created_at
	`
	_, err := s.pool.Exec(ctx, query,
		e.InventoryID, e.ProductID, e.WarehouseID, e.Timestamp,
		e.QuantityChange, e.QuantityAfter, e.Reason, e.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("upsert inventory %s: %w", e.InventoryID, err)
	}
	return nil
}

func (s *Sink) writeUserActivity(ctx context.Context, e *model.UserActivityEvent) error {
	metadata, err := json.Marshal(e.Metadata)
	if err != nil {
		return sink.Permanent(fmt.Errorf("marshal metadata: %w", err))
	}

	query := `
		INSERT INTO user_activity (activity_id, user_id, event_time, activity_type, ip_address, user_agent, metadata, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7::jsonb, $8)
		ON CONFLICT (activity_id) DO UPDATE SET
			user_id = EXCLUDED.user_id,
			event_time = EXCLUDED.event_time,
			activity_type = EXCLUDED.activity_type,
			ip_address = EXCLUDED.ip_address,
			user_agent = EXCLUDED.user_agent,
			metadata = EXCLUDED.metadata,
			created_at = EXCLUDED.created_at
	`
	_, err = s.pool.Exec(ctx, query,
		e.ActivityID, e.UserID, e.Timestamp, e.ActivityType,
		e.IPAddress, e.UserAgent, string(metadata), e.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("upsert user_activity %s: %w", e.ActivityID, err)
	}
	return nil
}

// Ping verifies database connectivity.
func (s *Sink) Ping(ctx context.Context) error {
	return s.pool.Ping(ctx)
}

// Close releases the connection pool.
func (s *Sink) Close() {
	s.pool.Close()
}

// classify maps a database error onto the sink error taxonomy. Connection,
// resource, and serialization failures are retryable; any other server
// rejection (bad column, constraint violation, type mismatch) is not.
func classify(err error) error {
	if err == nil {
		return nil
	}
	if sink.IsPermanent(err) {
		return err
	}

	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		switch {
		case strings.HasPrefix(pgErr.Code, "08"), // connection exception
			strings.HasPrefix(pgErr.Code, "53"), // insufficient resources
			strings.HasPrefix(pgErr.Code, "57"), // operator intervention
			pgErr.Code == "40001",               // serialization failure
			pgErr.Code == "40P01":               // deadlock detected
			return sink.Transient(err)
		default:
			return sink.Permanent(err)
		}
	}

	// Network faults, timeouts, closed pools: retryable.
	return sink.Transient(err)
}
