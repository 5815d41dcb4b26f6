package payments

import (
	"context"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"commercegate/internal/common/apperror"
	"commercegate/internal/common/database"
	"commercegate/internal/common/money"
	"commercegate/internal/domain"
	"commercegate/internal/orders"
	"commercegate/internal/providers"
	"commercegate/internal/region"
)

// fakeStore is an in-memory payments.Store.
type fakeStore struct {
	byID   map[string]*domain.PaymentRecord
	byKey  map[string]*domain.PaymentRecord
	byPPID map[string]*domain.PaymentRecord

	failKey bool // Create loses the insert race
	// hideFirstLookup makes the first GetByIdempotencyKey miss, simulating
	// a concurrent writer that commits between the fast-path read and the
	// insert.
	hideFirstLookup bool
	keyLookups      int
}

func newFakeStore() *fakeStore {
	return &fakeStore{
		byID:   make(map[string]*domain.PaymentRecord),
		byKey:  make(map[string]*domain.PaymentRecord),
		byPPID: make(map[string]*domain.PaymentRecord),
	}
}

func (s *fakeStore) Create(ctx context.Context, record *domain.PaymentRecord) error {
	if _, dup := s.byKey[record.IdempotencyKey]; dup || s.failKey {
		return database.ErrAlreadyExists
	}
	clone := *record
	s.byID[record.ID] = &clone
	s.byKey[record.IdempotencyKey] = &clone
	return nil
}

func (s *fakeStore) Update(ctx context.Context, record *domain.PaymentRecord) error {
	clone := *record
	s.byID[record.ID] = &clone
	s.byKey[record.IdempotencyKey] = &clone
	if record.ProviderPaymentID != "" {
		s.byPPID[record.Provider+"|"+record.ProviderPaymentID] = &clone
	}
	return nil
}

func (s *fakeStore) Get(ctx context.Context, id string) (*domain.PaymentRecord, error) {
	record, ok := s.byID[id]
	if !ok {
		return nil, database.ErrNotFound
	}
	clone := *record
	return &clone, nil
}

func (s *fakeStore) GetByIdempotencyKey(ctx context.Context, key string) (*domain.PaymentRecord, error) {
	s.keyLookups++
	if s.hideFirstLookup && s.keyLookups == 1 {
		return nil, database.ErrNotFound
	}
	record, ok := s.byKey[key]
	if !ok {
		return nil, database.ErrNotFound
	}
	clone := *record
	return &clone, nil
}

func (s *fakeStore) GetByProviderPaymentID(ctx context.Context, provider, ppid string) (*domain.PaymentRecord, error) {
	record, ok := s.byPPID[provider+"|"+ppid]
	if !ok {
		return nil, database.ErrNotFound
	}
	clone := *record
	return &clone, nil
}

// fakeOrderStore is an in-memory orders.Store.
type fakeOrderStore struct {
	orders    map[string]*orders.Order
	confirmed []string
}

func newFakeOrderStore(o ...*orders.Order) *fakeOrderStore {
	s := &fakeOrderStore{orders: make(map[string]*orders.Order)}
	for _, order := range o {
		s.orders[order.ID] = order
	}
	return s
}

func (s *fakeOrderStore) Get(ctx context.Context, id string) (*orders.Order, error) {
	order, ok := s.orders[id]
	if !ok {
		return nil, database.ErrNotFound
	}
	return order, nil
}

func (s *fakeOrderStore) Create(ctx context.Context, order *orders.Order) error {
	s.orders[order.ID] = order
	return nil
}

func (s *fakeOrderStore) MarkConfirmed(ctx context.Context, id string) error {
	s.confirmed = append(s.confirmed, id)
	if order, ok := s.orders[id]; ok {
		order.Status = orders.OrderConfirmed
	}
	return nil
}

func (s *fakeOrderStore) MarkCancelled(ctx context.Context, id string) error {
	if order, ok := s.orders[id]; ok {
		order.Status = orders.OrderCancelled
	}
	return nil
}

// fakeAdapter is a scriptable providers.PaymentProvider.
type fakeAdapter struct {
	name        string
	createCalls int
	createFn    func(req *providers.CreatePaymentRequest) (*providers.PaymentResult, error)
	verifyFn    func(ppid string) (*providers.PaymentResult, error)
	refundCalls int
	refundFn    func(ppid string, amount money.Money) (*providers.PaymentResult, error)
}

func (f *fakeAdapter) Name() string { return f.name }

func (f *fakeAdapter) CreatePayment(ctx context.Context, req *providers.CreatePaymentRequest) (*providers.PaymentResult, error) {
	f.createCalls++
	return f.createFn(req)
}

func (f *fakeAdapter) VerifyPayment(ctx context.Context, ppid string) (*providers.PaymentResult, error) {
	return f.verifyFn(ppid)
}

func (f *fakeAdapter) RefundPayment(ctx context.Context, ppid string, amount money.Money, reason string) (*providers.PaymentResult, error) {
	f.refundCalls++
	return f.refundFn(ppid, amount)
}

func (f *fakeAdapter) ValidateWebhook(payload []byte, signature string) bool { return true }

func (f *fakeAdapter) ParseWebhook(payload []byte) (*domain.WebhookEvent, error) { return nil, nil }

// fakeFactory returns the same adapter for every region.
type fakeFactory struct {
	adapter *fakeAdapter
}

func (f *fakeFactory) PaymentProvider(regionCode string) (providers.PaymentProvider, error) {
	return f.adapter, nil
}

func (f *fakeFactory) PaymentProviderByName(provider string) (providers.PaymentProvider, error) {
	return f.adapter, nil
}

func newTestService(t *testing.T, store *fakeStore, orderStore *fakeOrderStore, adapter *fakeAdapter) *Service {
	t.Helper()

	registry, err := region.NewRegistry()
	require.NoError(t, err)

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	return NewService(store, orderStore, &fakeFactory{adapter: adapter}, registry, nil, logger)
}

func pendingOrder(total int64, currency money.Currency) *orders.Order {
	return &orders.Order{
		ID:         "ord_1",
		CustomerID: "cus_1",
		TotalMinor: total,
		Currency:   currency,
		Status:     orders.OrderPending,
		CreatedAt:  time.Now().UTC(),
	}
}

func initiateReq(key string) *InitiatePaymentRequest {
	return &InitiatePaymentRequest{
		OrderID:        "ord_1",
		Region:         "IN",
		Amount:         money.New(250000, money.INR),
		IdempotencyKey: key,
		Customer:       domain.Customer{ID: "cus_1", Email: "a@example.com", Name: "A"},
		BillingAddress: domain.Address{Line1: "1 MG Road", City: "Bengaluru", PostalCode: "560001", Country: "IN"},
	}
}

func TestInitiatePayment(t *testing.T) {
	store := newFakeStore()
	adapter := &fakeAdapter{
		name: "razorpay",
		createFn: func(req *providers.CreatePaymentRequest) (*providers.PaymentResult, error) {
			return &providers.PaymentResult{
				ProviderPaymentID: "order_R1",
				Status:            domain.PaymentPending,
				RawStatus:         "created",
			}, nil
		},
	}
	svc := newTestService(t, store, newFakeOrderStore(pendingOrder(250000, money.INR)), adapter)

	record, err := svc.InitiatePayment(context.Background(), initiateReq("key-1"))
	require.NoError(t, err)
	assert.Equal(t, "order_R1", record.ProviderPaymentID)
	assert.Equal(t, domain.PaymentPending, record.Status)
	assert.Equal(t, "razorpay", record.Provider)
	assert.Equal(t, "IN", record.Region)
	assert.Equal(t, 1, adapter.createCalls)
}

func TestInitiatePaymentIdempotentReplay(t *testing.T) {
	store := newFakeStore()
	adapter := &fakeAdapter{
		name: "razorpay",
		createFn: func(req *providers.CreatePaymentRequest) (*providers.PaymentResult, error) {
			return &providers.PaymentResult{ProviderPaymentID: "order_R1", Status: domain.PaymentPending}, nil
		},
	}
	svc := newTestService(t, store, newFakeOrderStore(pendingOrder(250000, money.INR)), adapter)

	first, err := svc.InitiatePayment(context.Background(), initiateReq("key-1"))
	require.NoError(t, err)

	second, err := svc.InitiatePayment(context.Background(), initiateReq("key-1"))
	require.NoError(t, err)

	assert.Equal(t, first.ID, second.ID)
	assert.Equal(t, 1, adapter.createCalls, "replay must not hit the provider again")
}

func TestInitiatePaymentConcurrentInsertFallsBack(t *testing.T) {
	// Simulate losing the insert race: the store reports a unique
	// violation although the fast-path lookup saw nothing.
	store := newFakeStore()
	winner := domain.NewPaymentRecord("pay_winner", "ord_1", "razorpay", "IN",
		money.New(250000, money.INR), "key-1", nil)
	store.byKey["key-1"] = winner
	store.byID["pay_winner"] = winner
	store.failKey = true
	store.hideFirstLookup = true

	adapter := &fakeAdapter{name: "razorpay", createFn: func(req *providers.CreatePaymentRequest) (*providers.PaymentResult, error) {
		t.Fatal("provider must not be called when the insert loses the race")
		return nil, nil
	}}
	svc := newTestService(t, store, newFakeOrderStore(pendingOrder(250000, money.INR)), adapter)

	record, err := svc.InitiatePayment(context.Background(), initiateReq("key-1"))
	require.NoError(t, err)
	assert.Equal(t, "pay_winner", record.ID)
	assert.Equal(t, 0, adapter.createCalls)
}

func TestInitiatePaymentValidation(t *testing.T) {
	store := newFakeStore()
	adapter := &fakeAdapter{name: "razorpay"}
	svc := newTestService(t, store, newFakeOrderStore(pendingOrder(250000, money.INR)), adapter)

	tests := []struct {
		name   string
		mutate func(req *InitiatePaymentRequest)
	}{
		{name: "missing idempotency key", mutate: func(r *InitiatePaymentRequest) { r.IdempotencyKey = "" }},
		{name: "non-positive amount", mutate: func(r *InitiatePaymentRequest) { r.Amount = money.New(0, money.INR) }},
		{name: "currency does not match region", mutate: func(r *InitiatePaymentRequest) { r.Amount = money.New(250000, money.USD) }},
		{name: "unknown order", mutate: func(r *InitiatePaymentRequest) { r.OrderID = "ord_missing" }},
		{name: "amount off by more than tolerance", mutate: func(r *InitiatePaymentRequest) { r.Amount = money.New(250002, money.INR) }},
		{name: "billing country does not match region", mutate: func(r *InitiatePaymentRequest) { r.BillingAddress.Country = "US" }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := initiateReq("key-" + tt.name)
			tt.mutate(req)
			_, err := svc.InitiatePayment(context.Background(), req)
			require.Error(t, err)
			assert.True(t, apperror.IsValidation(err))
			assert.Equal(t, 0, adapter.createCalls)
		})
	}
}

func TestInitiatePaymentDerivesRegionFromBillingCountry(t *testing.T) {
	store := newFakeStore()
	adapter := &fakeAdapter{name: "razorpay", createFn: func(req *providers.CreatePaymentRequest) (*providers.PaymentResult, error) {
		return &providers.PaymentResult{ProviderPaymentID: "order_R1", Status: domain.PaymentPending}, nil
	}}
	svc := newTestService(t, store, newFakeOrderStore(pendingOrder(250000, money.INR)), adapter)

	req := initiateReq("key-1")
	req.Region = ""
	record, err := svc.InitiatePayment(context.Background(), req)
	require.NoError(t, err)
	assert.Equal(t, "IN", record.Region)
	assert.Equal(t, "razorpay", record.Provider)
}

func TestInitiatePaymentToleratesOneMinorUnit(t *testing.T) {
	store := newFakeStore()
	adapter := &fakeAdapter{name: "razorpay", createFn: func(req *providers.CreatePaymentRequest) (*providers.PaymentResult, error) {
		return &providers.PaymentResult{ProviderPaymentID: "order_R1", Status: domain.PaymentPending}, nil
	}}
	svc := newTestService(t, store, newFakeOrderStore(pendingOrder(250000, money.INR)), adapter)

	req := initiateReq("key-1")
	req.Amount = money.New(250001, money.INR)
	_, err := svc.InitiatePayment(context.Background(), req)
	require.NoError(t, err)
}

func TestInitiatePaymentRejectsNonPendingOrder(t *testing.T) {
	order := pendingOrder(250000, money.INR)
	order.Status = orders.OrderConfirmed

	adapter := &fakeAdapter{name: "razorpay"}
	svc := newTestService(t, newFakeStore(), newFakeOrderStore(order), adapter)

	_, err := svc.InitiatePayment(context.Background(), initiateReq("key-1"))
	require.Error(t, err)
	assert.True(t, apperror.IsValidation(err))
}

func TestInitiatePaymentProviderFailure(t *testing.T) {
	store := newFakeStore()
	adapter := &fakeAdapter{name: "razorpay", createFn: func(req *providers.CreatePaymentRequest) (*providers.PaymentResult, error) {
		return nil, &apperror.ProviderError{Provider: "razorpay", Code: "BAD_REQUEST_ERROR", Message: "rejected"}
	}}
	svc := newTestService(t, store, newFakeOrderStore(pendingOrder(250000, money.INR)), adapter)

	_, err := svc.InitiatePayment(context.Background(), initiateReq("key-1"))
	require.Error(t, err)

	// The record persists as failed with the provider's code.
	persisted, err := store.GetByIdempotencyKey(context.Background(), "key-1")
	require.NoError(t, err)
	assert.Equal(t, domain.PaymentFailed, persisted.Status)
	assert.Equal(t, "BAD_REQUEST_ERROR", persisted.ErrorCode)
}

func TestInitiatePaymentTimeoutLeavesPending(t *testing.T) {
	store := newFakeStore()
	adapter := &fakeAdapter{name: "razorpay", createFn: func(req *providers.CreatePaymentRequest) (*providers.PaymentResult, error) {
		return nil, apperror.Timeout("razorpay", "create_payment", time.Second)
	}}
	svc := newTestService(t, store, newFakeOrderStore(pendingOrder(250000, money.INR)), adapter)

	_, err := svc.InitiatePayment(context.Background(), initiateReq("key-1"))
	require.Error(t, err)
	assert.True(t, apperror.IsTimeout(err))

	persisted, err := store.GetByIdempotencyKey(context.Background(), "key-1")
	require.NoError(t, err)
	assert.Equal(t, domain.PaymentPending, persisted.Status, "the provider may have created the payment; keep the record for reconciliation")
}

func TestVerifyPaymentAdvances(t *testing.T) {
	store := newFakeStore()
	adapter := &fakeAdapter{name: "razorpay",
		createFn: func(req *providers.CreatePaymentRequest) (*providers.PaymentResult, error) {
			return &providers.PaymentResult{ProviderPaymentID: "order_R1", Status: domain.PaymentPending}, nil
		},
		verifyFn: func(ppid string) (*providers.PaymentResult, error) {
			return &providers.PaymentResult{ProviderPaymentID: ppid, Status: domain.PaymentCompleted, RawStatus: "paid"}, nil
		},
	}
	orderStore := newFakeOrderStore(pendingOrder(250000, money.INR))
	svc := newTestService(t, store, orderStore, adapter)

	created, err := svc.InitiatePayment(context.Background(), initiateReq("key-1"))
	require.NoError(t, err)

	verified, err := svc.VerifyPayment(context.Background(), created.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.PaymentCompleted, verified.Status)
	require.NotNil(t, verified.CompletedAt)
	assert.Contains(t, orderStore.confirmed, "ord_1", "completion confirms the order")
}

func TestVerifyPaymentTerminalSkipsProvider(t *testing.T) {
	store := newFakeStore()
	record := domain.NewPaymentRecord("pay_1", "ord_1", "razorpay", "IN",
		money.New(250000, money.INR), "key-1", nil)
	require.NoError(t, record.MarkFailed("X", "failed"))
	store.byID["pay_1"] = record

	adapter := &fakeAdapter{name: "razorpay", verifyFn: func(ppid string) (*providers.PaymentResult, error) {
		t.Fatal("terminal records must not reach the provider")
		return nil, nil
	}}
	svc := newTestService(t, store, newFakeOrderStore(), adapter)

	verified, err := svc.VerifyPayment(context.Background(), "pay_1")
	require.NoError(t, err)
	assert.Equal(t, domain.PaymentFailed, verified.Status)
}

func TestRefundPayment(t *testing.T) {
	store := newFakeStore()
	record := domain.NewPaymentRecord("pay_1", "ord_1", "razorpay", "IN",
		money.New(250000, money.INR), "key-1", nil)
	record.ProviderPaymentID = "order_R1"
	require.NoError(t, record.Transition(domain.PaymentProcessing))
	require.NoError(t, record.Transition(domain.PaymentCompleted))
	store.byID["pay_1"] = record

	adapter := &fakeAdapter{name: "razorpay", refundFn: func(ppid string, amount money.Money) (*providers.PaymentResult, error) {
		assert.Equal(t, int64(250000), amount.AmountMinor, "zero amount means full refund")
		return &providers.PaymentResult{ProviderPaymentID: ppid, Status: domain.PaymentRefunded,
			Metadata: map[string]string{"refund_id": "rfnd_1"}}, nil
	}}
	svc := newTestService(t, store, newFakeOrderStore(), adapter)

	refunded, err := svc.RefundPayment(context.Background(), "pay_1", money.Money{}, "customer request")
	require.NoError(t, err)
	assert.Equal(t, domain.PaymentRefunded, refunded.Status)
	assert.Equal(t, "rfnd_1", refunded.Metadata["refund_id"])
	require.NotNil(t, refunded.RefundedAt)
}

func TestRefundPaymentRejectsNonCompleted(t *testing.T) {
	store := newFakeStore()
	record := domain.NewPaymentRecord("pay_1", "ord_1", "razorpay", "IN",
		money.New(250000, money.INR), "key-1", nil)
	store.byID["pay_1"] = record

	adapter := &fakeAdapter{name: "razorpay", refundFn: func(ppid string, amount money.Money) (*providers.PaymentResult, error) {
		t.Fatal("non-completed payments must be rejected before the provider call")
		return nil, nil
	}}
	svc := newTestService(t, store, newFakeOrderStore(), adapter)

	_, err := svc.RefundPayment(context.Background(), "pay_1", money.Money{}, "")
	require.Error(t, err)
	assert.True(t, apperror.IsIllegalTransition(err))
	assert.Equal(t, 0, adapter.refundCalls)
}

func TestRefundPaymentValidatesAmount(t *testing.T) {
	store := newFakeStore()
	record := domain.NewPaymentRecord("pay_1", "ord_1", "razorpay", "IN",
		money.New(250000, money.INR), "key-1", nil)
	record.ProviderPaymentID = "order_R1"
	require.NoError(t, record.Transition(domain.PaymentProcessing))
	require.NoError(t, record.Transition(domain.PaymentCompleted))
	store.byID["pay_1"] = record

	adapter := &fakeAdapter{name: "razorpay"}
	svc := newTestService(t, store, newFakeOrderStore(), adapter)

	_, err := svc.RefundPayment(context.Background(), "pay_1", money.New(250000, money.USD), "")
	require.Error(t, err, "refund currency must match")

	_, err = svc.RefundPayment(context.Background(), "pay_1", money.New(250001, money.INR), "")
	require.Error(t, err, "refund may not exceed the captured amount")
	assert.Equal(t, 0, adapter.refundCalls)
}

func webhookEvent(eventType domain.WebhookEventType, ppid string) *domain.WebhookEvent {
	return &domain.WebhookEvent{
		ID:                "razorpay:test:" + ppid,
		Provider:          "razorpay",
		Type:              eventType,
		ProviderPaymentID: ppid,
		ReceivedAt:        time.Now().UTC(),
	}
}

func TestApplyWebhookEventCompletesPending(t *testing.T) {
	store := newFakeStore()
	record := domain.NewPaymentRecord("pay_1", "ord_1", "razorpay", "IN",
		money.New(250000, money.INR), "key-1", nil)
	record.ProviderPaymentID = "order_R1"
	store.byID["pay_1"] = record
	store.byPPID["razorpay|order_R1"] = record

	adapter := &fakeAdapter{name: "razorpay"}
	orderStore := newFakeOrderStore(pendingOrder(250000, money.INR))
	svc := newTestService(t, store, orderStore, adapter)

	err := svc.ApplyWebhookEvent(context.Background(), webhookEvent(domain.WebhookPaymentCompleted, "order_R1"))
	require.NoError(t, err)

	updated, err := store.Get(context.Background(), "pay_1")
	require.NoError(t, err)
	assert.Equal(t, domain.PaymentCompleted, updated.Status, "completion on a pending record walks through processing")
	assert.Contains(t, orderStore.confirmed, "ord_1")
}

func TestApplyWebhookEventIllegalTransitionDiscarded(t *testing.T) {
	store := newFakeStore()
	record := domain.NewPaymentRecord("pay_1", "ord_1", "razorpay", "IN",
		money.New(250000, money.INR), "key-1", nil)
	record.ProviderPaymentID = "order_R1"
	require.NoError(t, record.Transition(domain.PaymentProcessing))
	require.NoError(t, record.Transition(domain.PaymentCompleted))
	store.byID["pay_1"] = record
	store.byPPID["razorpay|order_R1"] = record

	svc := newTestService(t, store, newFakeOrderStore(), &fakeAdapter{name: "razorpay"})

	// A late authorized event cannot pull a completed payment backward.
	err := svc.ApplyWebhookEvent(context.Background(), webhookEvent(domain.WebhookPaymentAuthorized, "order_R1"))
	require.NoError(t, err, "illegal transitions are discarded, not errors")

	updated, err := store.Get(context.Background(), "pay_1")
	require.NoError(t, err)
	assert.Equal(t, domain.PaymentCompleted, updated.Status)
}

func TestApplyWebhookEventUnknownPayment(t *testing.T) {
	svc := newTestService(t, newFakeStore(), newFakeOrderStore(), &fakeAdapter{name: "razorpay"})

	err := svc.ApplyWebhookEvent(context.Background(), webhookEvent(domain.WebhookPaymentCompleted, "order_unknown"))
	require.NoError(t, err, "events for unknown payments are acknowledged and dropped")
}

func TestApplyWebhookEventIgnoresShipmentEvents(t *testing.T) {
	svc := newTestService(t, newFakeStore(), newFakeOrderStore(), &fakeAdapter{name: "razorpay"})

	err := svc.ApplyWebhookEvent(context.Background(), &domain.WebhookEvent{
		Provider: "shiprocket",
		Type:     domain.WebhookShipmentUpdate,
	})
	require.NoError(t, err)
}

func TestApplyWebhookEventFailureRecordsError(t *testing.T) {
	store := newFakeStore()
	record := domain.NewPaymentRecord("pay_1", "ord_1", "razorpay", "IN",
		money.New(250000, money.INR), "key-1", nil)
	record.ProviderPaymentID = "order_R1"
	store.byID["pay_1"] = record
	store.byPPID["razorpay|order_R1"] = record

	svc := newTestService(t, store, newFakeOrderStore(), &fakeAdapter{name: "razorpay"})

	event := webhookEvent(domain.WebhookPaymentFailed, "order_R1")
	event.ErrorCode = "BAD_REQUEST_ERROR"
	event.ErrorMessage = "card declined"
	require.NoError(t, svc.ApplyWebhookEvent(context.Background(), event))

	updated, err := store.Get(context.Background(), "pay_1")
	require.NoError(t, err)
	assert.Equal(t, domain.PaymentFailed, updated.Status)
	assert.Equal(t, "BAD_REQUEST_ERROR", updated.ErrorCode)
	assert.Equal(t, "card declined", updated.ErrorMessage)
}
