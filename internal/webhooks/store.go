package webhooks

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"

	"commercegate/internal/common/database"
	"commercegate/internal/domain"
)

// Store is the webhook audit log. The unique constraint on
// (provider, event_id) makes replayed deliveries visible as
// database.ErrAlreadyExists.
type Store interface {
	Insert(ctx context.Context, event *domain.WebhookEvent) error
	Delete(ctx context.Context, provider, eventID string) error
}

// PostgresStore implements Store using PostgreSQL.
type PostgresStore struct {
	pool *pgxpool.Pool
}

// NewPostgresStore creates a new PostgreSQL store.
func NewPostgresStore(pool *pgxpool.Pool) *PostgresStore {
	return &PostgresStore{pool: pool}
}

// Insert records a received webhook event.
func (s *PostgresStore) Insert(ctx context.Context, event *domain.WebhookEvent) error {
	query := `
		INSERT INTO webhook_events (
			provider, event_id, event_type, provider_payment_id,
			tracking_number, payload, received_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7)
	`

	_, err := s.pool.Exec(ctx, query,
		event.Provider, event.ID, string(event.Type), nullStr(event.ProviderPaymentID),
		nullStr(event.TrackingNumber), []byte(event.RawPayload), event.ReceivedAt,
	)
	if err != nil {
		if database.IsUniqueViolation(err) {
			return database.ErrAlreadyExists
		}
		return fmt.Errorf("insert webhook event: %w", err)
	}
	return nil
}

// Delete removes an audit row so a provider redelivery can reprocess the
// event after a transient processing failure.
func (s *PostgresStore) Delete(ctx context.Context, provider, eventID string) error {
	_, err := s.pool.Exec(ctx, `DELETE FROM webhook_events WHERE provider = $1 AND event_id = $2`, provider, eventID)
	if err != nil {
		return fmt.Errorf("delete webhook event: %w", err)
	}
	return nil
}

func nullStr(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}
