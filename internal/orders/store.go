package orders

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"commercegate/internal/common/database"
	"commercegate/internal/common/money"
)

// Store is the order persistence surface checkout depends on.
type Store interface {
	Get(ctx context.Context, orderID string) (*Order, error)
	Create(ctx context.Context, order *Order) error
	MarkConfirmed(ctx context.Context, orderID string) error
	MarkCancelled(ctx context.Context, orderID string) error
}

// PostgresStore implements Store using PostgreSQL.
type PostgresStore struct {
	pool *pgxpool.Pool
}

// NewPostgresStore creates a new PostgreSQL store.
func NewPostgresStore(pool *pgxpool.Pool) *PostgresStore {
	return &PostgresStore{pool: pool}
}

// Get retrieves an order by ID.
func (s *PostgresStore) Get(ctx context.Context, orderID string) (*Order, error) {
	query := `
		SELECT id, customer_id, total_minor, currency, status,
			   created_at, updated_at, confirmed_at
		FROM orders
		WHERE id = $1
	`

	var o Order
	var currency string
	err := s.pool.QueryRow(ctx, query, orderID).Scan(
		&o.ID, &o.CustomerID, &o.TotalMinor, &currency, &o.Status,
		&o.CreatedAt, &o.UpdatedAt, &o.ConfirmedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, database.ErrNotFound
		}
		return nil, fmt.Errorf("get order: %w", err)
	}
	o.Currency = money.Currency(currency)
	return &o, nil
}

// Create inserts a new order.
func (s *PostgresStore) Create(ctx context.Context, order *Order) error {
	query := `
		INSERT INTO orders (id, customer_id, total_minor, currency, status, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
	`

	_, err := s.pool.Exec(ctx, query,
		order.ID, order.CustomerID, order.TotalMinor, string(order.Currency),
		order.Status, order.CreatedAt, order.UpdatedAt,
	)
	if err != nil {
		if database.IsUniqueViolation(err) {
			return database.ErrAlreadyExists
		}
		return fmt.Errorf("insert order: %w", err)
	}
	return nil
}

// MarkConfirmed moves a pending order to confirmed. Confirming an already
// confirmed order is a no-op so payment completion can be replayed.
func (s *PostgresStore) MarkConfirmed(ctx context.Context, orderID string) error {
	query := `
		UPDATE orders SET status = $2, confirmed_at = $3, updated_at = $3
		WHERE id = $1 AND status != $2
	`

	_, err := s.pool.Exec(ctx, query, orderID, OrderConfirmed, time.Now().UTC())
	if err != nil {
		return fmt.Errorf("confirm order: %w", err)
	}
	return nil
}

// MarkCancelled moves an order to cancelled.
func (s *PostgresStore) MarkCancelled(ctx context.Context, orderID string) error {
	query := `
		UPDATE orders SET status = $2, updated_at = $3
		WHERE id = $1
	`

	_, err := s.pool.Exec(ctx, query, orderID, OrderCancelled, time.Now().UTC())
	if err != nil {
		return fmt.Errorf("cancel order: %w", err)
	}
	return nil
}
