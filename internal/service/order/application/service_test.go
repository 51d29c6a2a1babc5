package application

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"circuitbay/internal/pkg/resilience"
	"circuitbay/internal/service/order/application/saga"
	"circuitbay/internal/service/order/domain"
	"circuitbay/internal/service/order/port"

	"go.opentelemetry.io/otel"
)

var testNow = time.Date(2026, 8, 1, 12, 0, 0, 0, time.UTC)

type memOrderRepo struct {
	mu   sync.Mutex
	byID map[string]*domain.Order
	seq  int64
}

func newMemOrderRepo() *memOrderRepo {
	return &memOrderRepo{byID: make(map[string]*domain.Order)}
}

func (r *memOrderRepo) Create(ctx context.Context, order *domain.Order) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.seq++
	order.OrderNumber = fmt.Sprintf("CB-%06d", r.seq)
	cp := *order
	r.byID[order.ID] = &cp
	return nil
}

func (r *memOrderRepo) Get(ctx context.Context, id string) (*domain.Order, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	o, ok := r.byID[id]
	if !ok {
		return nil, domain.ErrOrderNotFound
	}
	cp := *o
	return &cp, nil
}

func (r *memOrderRepo) Update(ctx context.Context, order *domain.Order) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	stored, ok := r.byID[order.ID]
	if !ok {
		return domain.ErrOrderNotFound
	}
	if stored.Version != order.Version {
		return domain.ErrConcurrentModification
	}
	cp := *order
	cp.Version++
	r.byID[order.ID] = &cp
	order.Version++
	return nil
}

type memSagaStore struct {
	mu   sync.Mutex
	byID map[string]*domain.SagaRecord
}

func newMemSagaStore() *memSagaStore {
	return &memSagaStore{byID: make(map[string]*domain.SagaRecord)}
}

func (s *memSagaStore) clone(r *domain.SagaRecord) *domain.SagaRecord {
	cp := *r
	cp.Steps = append([]domain.StepRecord(nil), r.Steps...)
	return &cp
}

func (s *memSagaStore) Create(ctx context.Context, record *domain.SagaRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.byID[record.ID] = s.clone(record)
	return nil
}

func (s *memSagaStore) Get(ctx context.Context, id string) (*domain.SagaRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	r, ok := s.byID[id]
	if !ok {
		return nil, domain.ErrSagaNotFound
	}
	return s.clone(r), nil
}

func (s *memSagaStore) GetByOrder(ctx context.Context, orderID string) (*domain.SagaRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, r := range s.byID {
		if r.OrderID == orderID {
			return s.clone(r), nil
		}
	}
	return nil, domain.ErrSagaNotFound
}

func (s *memSagaStore) Update(ctx context.Context, record *domain.SagaRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.byID[record.ID] = s.clone(record)
	return nil
}

func (s *memSagaStore) FindInFlight(ctx context.Context) ([]*domain.SagaRecord, error) {
	return nil, nil
}

type stubInventory struct{}

func (stubInventory) Reserve(ctx context.Context, componentID, orderID string, quantity int) (string, error) {
	return "rsv-1", nil
}
func (stubInventory) Commit(ctx context.Context, reservationID string) error  { return nil }
func (stubInventory) Release(ctx context.Context, reservationID string) error { return nil }

type stubPayment struct{}

func (stubPayment) Initiate(ctx context.Context, orderID, sellerID string, amountMinor int64, currency, method string) (*port.PaymentSession, error) {
	return &port.PaymentSession{PaymentID: "pay-1", PayURL: "https://gateway.test/pay-1"}, nil
}
func (stubPayment) Abandon(ctx context.Context, paymentID string) error         { return nil }
func (stubPayment) HoldInEscrow(ctx context.Context, paymentID string) error    { return nil }
func (stubPayment) ConfirmDelivery(ctx context.Context, paymentID string) error { return nil }
func (stubPayment) ReleaseByTimer(ctx context.Context, paymentID string) error  { return nil }
func (stubPayment) Refund(ctx context.Context, paymentID string, amountMinor int64, reason string) error {
	return nil
}

type recordingNotifier struct {
	mu     sync.Mutex
	byType map[string][]port.Notification
}

func newRecordingNotifier() *recordingNotifier {
	return &recordingNotifier{byType: make(map[string][]port.Notification)}
}

func (n *recordingNotifier) Notify(ctx context.Context, notification port.Notification) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.byType[notification.Event.EventType()] = append(n.byType[notification.Event.EventType()], notification)
	return nil
}

type fakeQuoteService struct {
	agreed *port.AgreedQuote
	err    error
}

func (f *fakeQuoteService) ConsumeAccepted(ctx context.Context, quoteID, orderID string) (*port.AgreedQuote, error) {
	if f.err != nil {
		return nil, f.err
	}
	return f.agreed, nil
}

type fixedPricer struct {
	unit int64
	tax  int64
}

func (p fixedPricer) PriceOrder(ctx context.Context, componentID string, quantity int64) (int64, int64, error) {
	return p.unit, p.tax, nil
}

func (p fixedPricer) TaxOn(ctx context.Context, subtotalMinor int64) (int64, error) {
	return subtotalMinor * 18 / 100, nil
}

type recordingPublisher struct {
	mu     sync.Mutex
	events []domain.SagaEvent
}

func (p *recordingPublisher) Publish(ctx context.Context, event domain.SagaEvent) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, event)
	return nil
}

type serviceFixture struct {
	orders    *memOrderRepo
	sagas     *memSagaStore
	notifier  *recordingNotifier
	quotes    *fakeQuoteService
	publisher *recordingPublisher
	svc       *OrderApplicationService
}

func newServiceFixture(t *testing.T) *serviceFixture {
	t.Helper()
	f := &serviceFixture{
		orders:    newMemOrderRepo(),
		sagas:     newMemSagaStore(),
		notifier:  newRecordingNotifier(),
		quotes:    &fakeQuoteService{},
		publisher: &recordingPublisher{},
	}
	tracer := otel.Tracer("test")
	orch := saga.NewOrchestrator(f.orders, f.sagas, stubInventory{}, stubPayment{}, f.notifier, tracer, "USD")
	orch.SetClock(func() time.Time { return testNow })
	orch.SetRetryPolicy(resilience.RetryPolicy{BaseDelay: 0, Attempts: 2})
	f.svc = NewOrderApplicationService(f.orders, orch, f.quotes, fixedPricer{unit: 1250, tax: 625}, f.notifier, f.publisher, tracer, 1000)
	f.svc.SetClock(func() time.Time { return testNow })
	return f
}

func createRequest(quantity int64) *CreateOrderRequest {
	return &CreateOrderRequest{
		BuyerID:     "buyer-1",
		SellerID:    "seller-1",
		ComponentID: "STM32F407",
		Quantity:    quantity,
		Address: domain.Address{
			Line1:      "1 Fab Lane",
			City:       "Shenzhen",
			PostalCode: "518000",
			Country:    "CN",
		},
	}
}

func TestCreateOrderDirectPath(t *testing.T) {
	f := newServiceFixture(t)

	resp, err := f.svc.CreateOrder(context.Background(), createRequest(10))
	if err != nil {
		t.Fatalf("CreateOrder: %v", err)
	}
	if resp.OrderNumber != "CB-000001" {
		t.Fatalf("unexpected order number %q", resp.OrderNumber)
	}
	if resp.Status != domain.StatusPending {
		t.Fatalf("expected pending, got %q", resp.Status)
	}
	if resp.TotalMinor != 10*1250+625 {
		t.Fatalf("unexpected total %d", resp.TotalMinor)
	}
	if resp.PayURL == "" {
		t.Fatal("expected a payment URL from the started saga")
	}
	if len(f.notifier.byType["order_created"]) != 1 {
		t.Fatal("expected an order_created notification")
	}

	record, err := f.sagas.GetByOrder(context.Background(), resp.OrderID)
	if err != nil {
		t.Fatalf("saga not created: %v", err)
	}
	if record.Phase != domain.PhaseAwaitingPayment {
		t.Fatalf("expected awaiting_payment, got %q", record.Phase)
	}
}

func TestCreateOrderAboveThresholdRequiresQuote(t *testing.T) {
	f := newServiceFixture(t)

	_, err := f.svc.CreateOrder(context.Background(), createRequest(1001))
	var ve *domain.ValidationError
	if !errors.As(err, &ve) {
		t.Fatalf("expected ValidationError, got %v", err)
	}
	if len(f.orders.byID) != 0 {
		t.Fatal("rejected order must not be persisted")
	}
}

func TestCreateOrderFromAcceptedQuote(t *testing.T) {
	f := newServiceFixture(t)
	f.quotes.agreed = &port.AgreedQuote{
		QuoteID:        "q-1",
		BuyerID:        "buyer-1",
		SellerID:       "seller-2",
		ComponentID:    "STM32F407",
		Quantity:       5000,
		UnitPriceMinor: 900,
	}

	req := createRequest(5000)
	req.QuoteID = "q-1"
	resp, err := f.svc.CreateOrder(context.Background(), req)
	if err != nil {
		t.Fatalf("CreateOrder: %v", err)
	}
	if !resp.IsBulkOrder {
		t.Fatal("5000 units must be a bulk order")
	}
	subtotal := int64(5000 * 900)
	if resp.TotalMinor != subtotal+subtotal*18/100 {
		t.Fatalf("unexpected total %d", resp.TotalMinor)
	}

	order, _ := f.orders.Get(context.Background(), resp.OrderID)
	if order.QuoteID != "q-1" || order.SellerID != "seller-2" {
		t.Fatalf("agreed quote terms not applied: %+v", order)
	}
}

func TestCreateOrderQuoteConsumptionFailureAborts(t *testing.T) {
	f := newServiceFixture(t)
	f.quotes.err = errors.New("quote already consumed")

	req := createRequest(5000)
	req.QuoteID = "q-1"
	if _, err := f.svc.CreateOrder(context.Background(), req); err == nil {
		t.Fatal("expected quote consumption failure to abort creation")
	}
	if len(f.orders.byID) != 0 {
		t.Fatal("no order must be persisted when the quote cannot be consumed")
	}
}

func TestTransitionToDeliveredPublishesConfirmation(t *testing.T) {
	f := newServiceFixture(t)
	resp, err := f.svc.CreateOrder(context.Background(), createRequest(10))
	if err != nil {
		t.Fatalf("CreateOrder: %v", err)
	}

	for _, target := range []domain.Status{domain.StatusConfirmed, domain.StatusProcessing, domain.StatusShipped, domain.StatusDelivered} {
		if _, err := f.svc.Transition(context.Background(), &TransitionRequest{OrderID: resp.OrderID, Target: target}); err != nil {
			t.Fatalf("transition to %q: %v", target, err)
		}
	}

	record, _ := f.sagas.GetByOrder(context.Background(), resp.OrderID)
	var delivered []domain.SagaEvent
	for _, ev := range f.publisher.events {
		if ev.Type == domain.SagaEventDeliveryConfirmed {
			delivered = append(delivered, ev)
		}
	}
	if len(delivered) != 1 {
		t.Fatalf("expected one delivery confirmation event, got %d", len(delivered))
	}
	if delivered[0].SagaID != record.ID || delivered[0].Fence != record.Fence {
		t.Fatalf("event must carry the current fencing token: %+v vs fence %d", delivered[0], record.Fence)
	}
}

func TestPaymentCallbackAppliedCarriesFence(t *testing.T) {
	f := newServiceFixture(t)
	resp, err := f.svc.CreateOrder(context.Background(), createRequest(10))
	if err != nil {
		t.Fatalf("CreateOrder: %v", err)
	}

	if err := f.svc.PaymentCallbackApplied(context.Background(), resp.OrderID, "pay-1", true); err != nil {
		t.Fatalf("PaymentCallbackApplied: %v", err)
	}
	if len(f.publisher.events) != 1 {
		t.Fatalf("expected one saga event, got %d", len(f.publisher.events))
	}
	ev := f.publisher.events[0]
	if ev.Type != domain.SagaEventPaymentCallback || ev.Payload["status"] != "completed" || ev.Payload["payment_id"] != "pay-1" {
		t.Fatalf("unexpected event %+v", ev)
	}
	record, _ := f.sagas.GetByOrder(context.Background(), resp.OrderID)
	if ev.Fence != record.Fence {
		t.Fatalf("event fence %d must match record fence %d", ev.Fence, record.Fence)
	}
}

func TestCancelBeforePayment(t *testing.T) {
	f := newServiceFixture(t)
	resp, err := f.svc.CreateOrder(context.Background(), createRequest(10))
	if err != nil {
		t.Fatalf("CreateOrder: %v", err)
	}

	if err := f.svc.Cancel(context.Background(), &CancelRequest{OrderID: resp.OrderID, Reason: "changed mind"}); err != nil {
		t.Fatalf("Cancel: %v", err)
	}
	order, _ := f.orders.Get(context.Background(), resp.OrderID)
	if order.Status != domain.StatusCancelled {
		t.Fatalf("expected cancelled, got %q", order.Status)
	}
	record, _ := f.sagas.GetByOrder(context.Background(), resp.OrderID)
	if record.Phase != domain.PhaseCompensated {
		t.Fatalf("expected compensated saga, got %q", record.Phase)
	}
}
