package shipping

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"commercegate/internal/common/database"
	"commercegate/internal/common/money"
	"commercegate/internal/domain"
)

// Store is the shipment persistence surface. One shipment per order and
// provider is enforced by a unique constraint.
type Store interface {
	Create(ctx context.Context, record *domain.ShipmentRecord) error
	Update(ctx context.Context, record *domain.ShipmentRecord) error
	Get(ctx context.Context, id string) (*domain.ShipmentRecord, error)
	GetByTrackingNumber(ctx context.Context, provider, trackingNumber string) (*domain.ShipmentRecord, error)
	GetByOrderID(ctx context.Context, orderID string) ([]*domain.ShipmentRecord, error)
}

// PostgresStore implements Store using PostgreSQL.
type PostgresStore struct {
	pool *pgxpool.Pool
}

// NewPostgresStore creates a new PostgreSQL store.
func NewPostgresStore(pool *pgxpool.Pool) *PostgresStore {
	return &PostgresStore{pool: pool}
}

// Create inserts a new shipment record.
func (s *PostgresStore) Create(ctx context.Context, record *domain.ShipmentRecord) error {
	query := `
		INSERT INTO shipments (
			id, order_id, provider, region, provider_shipment_id, tracking_number,
			status, cost_minor, cost_currency, method, weight_grams, dimensions,
			declared_minor, declared_currency, estimated_delivery,
			error_code, error_message, created_at, updated_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17, $18, $19)
	`

	dims, _ := json.Marshal(record.Dimensions)

	_, err := s.pool.Exec(ctx, query,
		record.ID, record.OrderID, record.Provider, record.Region,
		nullStr(record.ProviderShipmentID), nullStr(record.TrackingNumber),
		record.Status, record.Cost.AmountMinor, string(record.Cost.Currency),
		record.Method, record.WeightGrams, dims,
		record.DeclaredValue.AmountMinor, string(record.DeclaredValue.Currency),
		record.EstimatedDelivery, nullStr(record.ErrorCode), nullStr(record.ErrorMessage),
		record.CreatedAt, record.UpdatedAt,
	)
	if err != nil {
		if database.IsUniqueViolation(err) {
			return database.ErrAlreadyExists
		}
		return fmt.Errorf("insert shipment: %w", err)
	}
	return nil
}

// Update writes the mutable fields of a shipment record.
func (s *PostgresStore) Update(ctx context.Context, record *domain.ShipmentRecord) error {
	query := `
		UPDATE shipments SET
			provider_shipment_id = $2, tracking_number = $3, status = $4,
			cost_minor = $5, cost_currency = $6, estimated_delivery = $7,
			error_code = $8, error_message = $9, updated_at = $10
		WHERE id = $1
	`

	record.UpdatedAt = time.Now().UTC()

	_, err := s.pool.Exec(ctx, query,
		record.ID, nullStr(record.ProviderShipmentID), nullStr(record.TrackingNumber),
		record.Status, record.Cost.AmountMinor, string(record.Cost.Currency),
		record.EstimatedDelivery, nullStr(record.ErrorCode), nullStr(record.ErrorMessage),
		record.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("update shipment: %w", err)
	}
	return nil
}

const shipmentColumns = `
	id, order_id, provider, region, provider_shipment_id, tracking_number,
	status, cost_minor, cost_currency, method, weight_grams, dimensions,
	declared_minor, declared_currency, estimated_delivery,
	error_code, error_message, created_at, updated_at
`

// Get retrieves a shipment record by ID.
func (s *PostgresStore) Get(ctx context.Context, id string) (*domain.ShipmentRecord, error) {
	query := `SELECT ` + shipmentColumns + ` FROM shipments WHERE id = $1`
	return s.scan(s.pool.QueryRow(ctx, query, id))
}

// GetByTrackingNumber retrieves a shipment record by provider and tracking
// number.
func (s *PostgresStore) GetByTrackingNumber(ctx context.Context, provider, trackingNumber string) (*domain.ShipmentRecord, error) {
	query := `SELECT ` + shipmentColumns + ` FROM shipments WHERE provider = $1 AND tracking_number = $2`
	return s.scan(s.pool.QueryRow(ctx, query, provider, trackingNumber))
}

// GetByOrderID lists shipments for an order.
func (s *PostgresStore) GetByOrderID(ctx context.Context, orderID string) ([]*domain.ShipmentRecord, error) {
	query := `SELECT ` + shipmentColumns + ` FROM shipments WHERE order_id = $1 ORDER BY created_at`

	rows, err := s.pool.Query(ctx, query, orderID)
	if err != nil {
		return nil, fmt.Errorf("list shipments: %w", err)
	}
	defer rows.Close()

	var records []*domain.ShipmentRecord
	for rows.Next() {
		record, err := s.scan(rows)
		if err != nil {
			return nil, err
		}
		records = append(records, record)
	}
	return records, rows.Err()
}

func (s *PostgresStore) scan(row pgx.Row) (*domain.ShipmentRecord, error) {
	var rec domain.ShipmentRecord
	var providerShipmentID, trackingNumber, errorCode, errorMessage *string
	var costCurrency, declaredCurrency string
	var dims []byte

	err := row.Scan(
		&rec.ID, &rec.OrderID, &rec.Provider, &rec.Region, &providerShipmentID, &trackingNumber,
		&rec.Status, &rec.Cost.AmountMinor, &costCurrency, &rec.Method, &rec.WeightGrams, &dims,
		&rec.DeclaredValue.AmountMinor, &declaredCurrency, &rec.EstimatedDelivery,
		&errorCode, &errorMessage, &rec.CreatedAt, &rec.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, database.ErrNotFound
		}
		return nil, fmt.Errorf("scan shipment: %w", err)
	}

	rec.Cost.Currency = money.Currency(costCurrency)
	rec.DeclaredValue.Currency = money.Currency(declaredCurrency)
	if providerShipmentID != nil {
		rec.ProviderShipmentID = *providerShipmentID
	}
	if trackingNumber != nil {
		rec.TrackingNumber = *trackingNumber
	}
	if errorCode != nil {
		rec.ErrorCode = *errorCode
	}
	if errorMessage != nil {
		rec.ErrorMessage = *errorMessage
	}
	if len(dims) > 0 {
		_ = json.Unmarshal(dims, &rec.Dimensions)
	}
	return &rec, nil
}

func nullStr(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}
