package payments

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

// Store is the payment persistence surface. The unique constraint on
// idempotency_key is the at-most-once guarantee; Create surfaces it as
// database.ErrAlreadyExists.
type Store interface {
	Create(ctx context.Context, record *domain.PaymentRecord) error
	Update(ctx context.Context, record *domain.PaymentRecord) error
	Get(ctx context.Context, id string) (*domain.PaymentRecord, error)
	GetByIdempotencyKey(ctx context.Context, key string) (*domain.PaymentRecord, error)
	GetByProviderPaymentID(ctx context.Context, provider, providerPaymentID string) (*domain.PaymentRecord, error)
}

// PostgresStore implements Store using PostgreSQL.
type PostgresStore struct {
	pool *pgxpool.Pool
}

// NewPostgresStore creates a new PostgreSQL store.
func NewPostgresStore(pool *pgxpool.Pool) *PostgresStore {
	return &PostgresStore{pool: pool}
}

// Create inserts a new payment record.
func (s *PostgresStore) Create(ctx context.Context, record *domain.PaymentRecord) error {
	query := `
		INSERT INTO payments (
			id, order_id, provider, region, provider_payment_id,
			amount_minor, currency, status, idempotency_key, redirect_url,
			error_code, error_message, metadata,
			completed_at, refunded_at, created_at, updated_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17)
	`

	metadata, _ := json.Marshal(record.Metadata)

	_, err := s.pool.Exec(ctx, query,
		record.ID, record.OrderID, record.Provider, record.Region, nullStr(record.ProviderPaymentID),
		record.Amount.AmountMinor, string(record.Amount.Currency), record.Status, record.IdempotencyKey,
		nullStr(record.RedirectURL), nullStr(record.ErrorCode), nullStr(record.ErrorMessage), metadata,
		record.CompletedAt, record.RefundedAt, record.CreatedAt, record.UpdatedAt,
	)
	if err != nil {
		if database.IsUniqueViolation(err) {
			return database.ErrAlreadyExists
		}
		return fmt.Errorf("insert payment: %w", err)
	}
	return nil
}

// Update writes the mutable fields of a payment record.
func (s *PostgresStore) Update(ctx context.Context, record *domain.PaymentRecord) error {
	query := `
		UPDATE payments SET
			provider_payment_id = $2, status = $3, redirect_url = $4,
			error_code = $5, error_message = $6, metadata = $7,
			completed_at = $8, refunded_at = $9, updated_at = $10
		WHERE id = $1
	`

	record.UpdatedAt = time.Now().UTC()
	metadata, _ := json.Marshal(record.Metadata)

	_, err := s.pool.Exec(ctx, query,
		record.ID, nullStr(record.ProviderPaymentID), record.Status, nullStr(record.RedirectURL),
		nullStr(record.ErrorCode), nullStr(record.ErrorMessage), metadata,
		record.CompletedAt, record.RefundedAt, record.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("update payment: %w", err)
	}
	return nil
}

const paymentColumns = `
	id, order_id, provider, region, provider_payment_id,
	amount_minor, currency, status, idempotency_key, redirect_url,
	error_code, error_message, metadata,
	completed_at, refunded_at, created_at, updated_at
`

// Get retrieves a payment record by ID.
func (s *PostgresStore) Get(ctx context.Context, id string) (*domain.PaymentRecord, error) {
	query := `SELECT ` + paymentColumns + ` FROM payments WHERE id = $1`
	return s.scan(s.pool.QueryRow(ctx, query, id))
}

// GetByIdempotencyKey retrieves a payment record by idempotency key.
func (s *PostgresStore) GetByIdempotencyKey(ctx context.Context, key string) (*domain.PaymentRecord, error) {
	query := `SELECT ` + paymentColumns + ` FROM payments WHERE idempotency_key = $1`
	return s.scan(s.pool.QueryRow(ctx, query, key))
}

// GetByProviderPaymentID retrieves a payment record by the provider's
// payment identifier.
func (s *PostgresStore) GetByProviderPaymentID(ctx context.Context, provider, providerPaymentID string) (*domain.PaymentRecord, error) {
	query := `SELECT ` + paymentColumns + ` FROM payments WHERE provider = $1 AND provider_payment_id = $2`
	return s.scan(s.pool.QueryRow(ctx, query, provider, providerPaymentID))
}

func (s *PostgresStore) scan(row pgx.Row) (*domain.PaymentRecord, error) {
	var p domain.PaymentRecord
	var providerPaymentID, redirectURL, errorCode, errorMessage *string
	var currency string
	var metadata []byte

	err := row.Scan(
		&p.ID, &p.OrderID, &p.Provider, &p.Region, &providerPaymentID,
		&p.Amount.AmountMinor, &currency, &p.Status, &p.IdempotencyKey, &redirectURL,
		&errorCode, &errorMessage, &metadata,
		&p.CompletedAt, &p.RefundedAt, &p.CreatedAt, &p.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, database.ErrNotFound
		}
		return nil, fmt.Errorf("scan payment: %w", err)
	}

	p.Amount.Currency = money.Currency(currency)
	if providerPaymentID != nil {
		p.ProviderPaymentID = *providerPaymentID
	}
	if redirectURL != nil {
		p.RedirectURL = *redirectURL
	}
	if errorCode != nil {
		p.ErrorCode = *errorCode
	}
	if errorMessage != nil {
		p.ErrorMessage = *errorMessage
	}
	if len(metadata) > 0 {
		_ = json.Unmarshal(metadata, &p.Metadata)
	}
	return &p, nil
}

func nullStr(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}
