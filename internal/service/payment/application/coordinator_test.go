package application

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"circuitbay/internal/service/payment/domain"
	"circuitbay/internal/service/payment/port"

	"go.opentelemetry.io/otel"
)

type memPaymentRepo struct {
	mu        sync.Mutex
	byID      map[string]*domain.Payment
	updateErr error // 一次性注入的更新失败
}

func newMemPaymentRepo() *memPaymentRepo {
	return &memPaymentRepo{byID: make(map[string]*domain.Payment)}
}

func (r *memPaymentRepo) Create(ctx context.Context, p *domain.Payment) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	cp := *p
	r.byID[p.ID] = &cp
	return nil
}

func (r *memPaymentRepo) Get(ctx context.Context, id string) (*domain.Payment, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	p, ok := r.byID[id]
	if !ok {
		return nil, domain.ErrPaymentNotFound
	}
	cp := *p
	return &cp, nil
}

func (r *memPaymentRepo) GetByGatewayTx(ctx context.Context, txID string) (*domain.Payment, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, p := range r.byID {
		if p.GatewayTxID == txID {
			cp := *p
			return &cp, nil
		}
	}
	return nil, domain.ErrPaymentNotFound
}

func (r *memPaymentRepo) Update(ctx context.Context, p *domain.Payment) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.updateErr != nil {
		err := r.updateErr
		r.updateErr = nil
		return err
	}
	if _, ok := r.byID[p.ID]; !ok {
		return domain.ErrPaymentNotFound
	}
	cp := *p
	r.byID[p.ID] = &cp
	return nil
}

func (r *memPaymentRepo) failNextUpdate(err error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.updateErr = err
}

func (r *memPaymentRepo) FindDueEscrows(ctx context.Context, now time.Time, limit int) ([]*domain.Payment, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []*domain.Payment
	for _, p := range r.byID {
		if until, ok := p.HeldUntil(); ok && !until.After(now) {
			cp := *p
			out = append(out, &cp)
			if len(out) == limit {
				break
			}
		}
	}
	return out, nil
}

type fakeGateway struct {
	mu           sync.Mutex
	sessionErr   error
	refundErr    error
	sessions     int
	refunds      []int64
	abandoned    []string
	nextSession  string
}

func (g *fakeGateway) CreateSession(ctx context.Context, amountMinor int64, currency, method string) (*port.Session, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.sessionErr != nil {
		return nil, g.sessionErr
	}
	g.sessions++
	id := g.nextSession
	if id == "" {
		id = "gw-tx-1"
	}
	return &port.Session{SessionID: id, PayURL: "https://gw.example/pay/" + id, ExpiresAt: time.Now().Add(30 * time.Minute)}, nil
}

func (g *fakeGateway) RefundTransaction(ctx context.Context, gatewayTxID string, amountMinor int64, reason string) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.refundErr != nil {
		return g.refundErr
	}
	g.refunds = append(g.refunds, amountMinor)
	return nil
}

func (g *fakeGateway) AbandonSession(ctx context.Context, sessionID string) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.abandoned = append(g.abandoned, sessionID)
	return nil
}

type memDedup struct {
	mu   sync.Mutex
	seen map[string]bool
}

func newMemDedup() *memDedup { return &memDedup{seen: make(map[string]bool)} }

func (d *memDedup) AlreadyApplied(ctx context.Context, txID string) (bool, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.seen[txID], nil
}

func (d *memDedup) MarkApplied(ctx context.Context, txID string) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.seen[txID] = true
	return nil
}

type fakeDisputes struct{ open bool }

func (d *fakeDisputes) HasOpenDispute(ctx context.Context, orderID string) (bool, error) {
	return d.open, nil
}

type fakePayouts struct {
	mu      sync.Mutex
	payouts []string
}

func (p *fakePayouts) EmitSellerPayout(ctx context.Context, paymentID, orderID, sellerID string, amountMinor int64) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.payouts = append(p.payouts, paymentID)
	return nil
}

type fixture struct {
	coord    *Coordinator
	repo     *memPaymentRepo
	gateway  *fakeGateway
	disputes *fakeDisputes
	payouts  *fakePayouts
	now      time.Time
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	f := &fixture{
		repo:     newMemPaymentRepo(),
		gateway:  &fakeGateway{},
		disputes: &fakeDisputes{},
		payouts:  &fakePayouts{},
		now:      time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC),
	}
	f.coord = NewCoordinator(f.repo, f.gateway, newMemDedup(), f.disputes, f.payouts, otel.Tracer("test"), 7*24*time.Hour)
	f.coord.SetClock(func() time.Time { return f.now })
	return f
}

func (f *fixture) completedPayment(t *testing.T) *domain.Payment {
	t.Helper()
	ctx := context.Background()
	p, _, err := f.coord.Initiate(ctx, "order-1", "seller-1", 11800, "INR", "upi")
	if err != nil {
		t.Fatalf("initiate failed: %v", err)
	}
	if _, applied, err := f.coord.HandleCallback(ctx, Callback{GatewayTxID: p.GatewayTxID, Status: "success", AmountMinor: 11800}); err != nil || !applied {
		t.Fatalf("callback failed: applied=%v err=%v", applied, err)
	}
	return p
}

func TestInitiate_CreatesPendingPayment(t *testing.T) {
	f := newFixture(t)
	p, session, err := f.coord.Initiate(context.Background(), "order-1", "seller-1", 5000, "INR", "card")
	if err != nil {
		t.Fatal(err)
	}
	if p.Status != domain.StatusPending {
		t.Errorf("expected pending, got %s", p.Status)
	}
	if session.SessionID != p.GatewayTxID {
		t.Errorf("gateway tx id must match session id")
	}
	if _, ok := p.Escrow.(domain.EscrowNone); !ok {
		t.Errorf("new payment must have no escrow, got %s", p.Escrow.Label())
	}
}

func TestInitiate_GatewayUnavailable(t *testing.T) {
	f := newFixture(t)
	f.gateway.sessionErr = port.ErrGatewayUnavailable
	_, _, err := f.coord.Initiate(context.Background(), "order-1", "seller-1", 5000, "INR", "card")
	if !errors.Is(err, port.ErrGatewayUnavailable) {
		t.Errorf("expected ErrGatewayUnavailable, got: %v", err)
	}
}

func TestHandleCallback_Idempotent(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	p, _, err := f.coord.Initiate(ctx, "order-1", "seller-1", 5000, "INR", "upi")
	if err != nil {
		t.Fatal(err)
	}

	cb := Callback{GatewayTxID: p.GatewayTxID, Status: "success", AmountMinor: 5000}
	_, applied, err := f.coord.HandleCallback(ctx, cb)
	if err != nil || !applied {
		t.Fatalf("first delivery must apply: applied=%v err=%v", applied, err)
	}

	// 同一回调重复投递：不再二次应用
	_, applied, err = f.coord.HandleCallback(ctx, cb)
	if err != nil {
		t.Fatalf("replay must not error: %v", err)
	}
	if applied {
		t.Error("replayed callback must not be applied twice")
	}

	got, _ := f.repo.Get(ctx, p.ID)
	if got.Status != domain.StatusCompleted {
		t.Errorf("expected completed, got %s", got.Status)
	}
}

func TestHandleCallback_AmountMismatchRejected(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	p, _, _ := f.coord.Initiate(ctx, "order-1", "seller-1", 5000, "INR", "upi")

	_, _, err := f.coord.HandleCallback(ctx, Callback{GatewayTxID: p.GatewayTxID, Status: "success", AmountMinor: 4999})
	if err == nil {
		t.Fatal("expected error on amount mismatch")
	}
}

func TestHandleCallback_Failure(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	p, _, _ := f.coord.Initiate(ctx, "order-1", "seller-1", 5000, "INR", "upi")

	_, applied, err := f.coord.HandleCallback(ctx, Callback{GatewayTxID: p.GatewayTxID, Status: "failed", AmountMinor: 5000})
	if err != nil || !applied {
		t.Fatalf("applied=%v err=%v", applied, err)
	}
	got, _ := f.repo.Get(ctx, p.ID)
	if got.Status != domain.StatusFailed {
		t.Errorf("expected failed, got %s", got.Status)
	}
}

func TestHandleCallback_GatewayRetryAfterFailedDelivery(t *testing.T) {
	// 第一次投递在落库时失败：去重键不能被消耗，
	// 网关按原样重投的同一回调必须被应用，而不是当成重放丢弃。
	f := newFixture(t)
	ctx := context.Background()
	p, _, err := f.coord.Initiate(ctx, "order-1", "seller-1", 5000, "INR", "upi")
	if err != nil {
		t.Fatal(err)
	}

	f.repo.failNextUpdate(errors.New("connection reset by peer"))
	cb := Callback{GatewayTxID: p.GatewayTxID, Status: "success", AmountMinor: 5000}
	if _, applied, err := f.coord.HandleCallback(ctx, cb); err == nil || applied {
		t.Fatalf("failed delivery must surface the error: applied=%v err=%v", applied, err)
	}
	got, _ := f.repo.Get(ctx, p.ID)
	if got.Status != domain.StatusPending {
		t.Fatalf("payment must stay pending after a failed delivery, got %s", got.Status)
	}

	_, applied, err := f.coord.HandleCallback(ctx, cb)
	if err != nil || !applied {
		t.Fatalf("gateway retry must be applied: applied=%v err=%v", applied, err)
	}
	got, _ = f.repo.Get(ctx, p.ID)
	if got.Status != domain.StatusCompleted {
		t.Errorf("expected completed after retry, got %s", got.Status)
	}
}

func TestHoldInEscrow_OnlyFromCompleted(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	p, _, _ := f.coord.Initiate(ctx, "order-1", "seller-1", 5000, "INR", "upi")

	err := f.coord.HoldInEscrow(ctx, p.ID)
	var ite *domain.InvalidTransitionError
	if !errors.As(err, &ite) {
		t.Fatalf("expected InvalidTransitionError for pending payment, got: %v", err)
	}
}

func TestEscrow_TimerReleaseAfterSevenDays(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	p := f.completedPayment(t)

	if err := f.coord.HoldInEscrow(ctx, p.ID); err != nil {
		t.Fatal(err)
	}

	// 6 天后还不到期
	f.now = f.now.Add(6 * 24 * time.Hour)
	due, _ := f.coord.FindDueEscrows(ctx, 10)
	if len(due) != 0 {
		t.Errorf("escrow must not be due before 7 days, got %d", len(due))
	}

	// 第 7 天到期
	f.now = f.now.Add(24 * time.Hour)
	due, _ = f.coord.FindDueEscrows(ctx, 10)
	if len(due) != 1 {
		t.Fatalf("expected 1 due escrow, got %d", len(due))
	}

	if err := f.coord.Release(ctx, p.ID, domain.TriggerTimer); err != nil {
		t.Fatal(err)
	}
	got, _ := f.repo.Get(ctx, p.ID)
	rel, ok := got.Escrow.(domain.EscrowReleased)
	if !ok {
		t.Fatalf("expected released escrow, got %s", got.Escrow.Label())
	}
	if rel.Trigger != domain.TriggerTimer {
		t.Errorf("expected timer trigger, got %s", rel.Trigger)
	}
	if len(f.payouts.payouts) != 1 {
		t.Errorf("expected a seller payout event, got %d", len(f.payouts.payouts))
	}
}

func TestEscrow_EarlyDeliveryConfirmation(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	p := f.completedPayment(t)
	if err := f.coord.HoldInEscrow(ctx, p.ID); err != nil {
		t.Fatal(err)
	}

	// 2 天后买家确认收货，立即放款
	f.now = f.now.Add(48 * time.Hour)
	if err := f.coord.ConfirmDelivery(ctx, p.ID); err != nil {
		t.Fatal(err)
	}
	got, _ := f.repo.Get(ctx, p.ID)
	rel, ok := got.Escrow.(domain.EscrowReleased)
	if !ok {
		t.Fatalf("expected released escrow, got %s", got.Escrow.Label())
	}
	if rel.Trigger != domain.TriggerDelivery {
		t.Errorf("expected delivery trigger, got %s", rel.Trigger)
	}
}

func TestRelease_DeferredOnOpenDispute(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	p := f.completedPayment(t)
	if err := f.coord.HoldInEscrow(ctx, p.ID); err != nil {
		t.Fatal(err)
	}

	f.disputes.open = true
	err := f.coord.Release(ctx, p.ID, domain.TriggerTimer)
	if !errors.Is(err, domain.ErrEscrowDisputed) {
		t.Fatalf("expected ErrEscrowDisputed, got: %v", err)
	}
	got, _ := f.repo.Get(ctx, p.ID)
	if _, ok := got.Escrow.(domain.EscrowHeld); !ok {
		t.Errorf("escrow must stay held while disputed, got %s", got.Escrow.Label())
	}
}

func TestRefund_FromHeld(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	p := f.completedPayment(t)
	if err := f.coord.HoldInEscrow(ctx, p.ID); err != nil {
		t.Fatal(err)
	}

	if err := f.coord.Refund(ctx, p.ID, 11800, "buyer cancelled"); err != nil {
		t.Fatal(err)
	}
	got, _ := f.repo.Get(ctx, p.ID)
	if got.Status != domain.StatusRefunded {
		t.Errorf("expected refunded, got %s", got.Status)
	}
	ref, ok := got.Escrow.(domain.EscrowRefunded)
	if !ok {
		t.Fatalf("expected refunded escrow, got %s", got.Escrow.Label())
	}
	if ref.AmountMinor != 11800 {
		t.Errorf("expected full refund amount, got %d", ref.AmountMinor)
	}
	// 幂等
	if err := f.coord.Refund(ctx, p.ID, 11800, "again"); err != nil {
		t.Errorf("second refund must be a no-op, got: %v", err)
	}
	if len(f.gateway.refunds) != 1 {
		t.Errorf("gateway refund must run once, got %d", len(f.gateway.refunds))
	}
}

func TestRefund_AfterReleaseRejected(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	p := f.completedPayment(t)
	if err := f.coord.HoldInEscrow(ctx, p.ID); err != nil {
		t.Fatal(err)
	}
	if err := f.coord.Release(ctx, p.ID, domain.TriggerTimer); err != nil {
		t.Fatal(err)
	}

	err := f.coord.Refund(ctx, p.ID, 1000, "too late")
	var ite *domain.InvalidTransitionError
	if !errors.As(err, &ite) {
		t.Errorf("expected InvalidTransitionError after release, got: %v", err)
	}
}

func TestAbandon_OnlyPending(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	p, _, _ := f.coord.Initiate(ctx, "order-1", "seller-1", 5000, "INR", "upi")

	if err := f.coord.Abandon(ctx, p.ID); err != nil {
		t.Fatal(err)
	}
	got, _ := f.repo.Get(ctx, p.ID)
	if got.Status != domain.StatusFailed {
		t.Errorf("abandoned payment should be failed, got %s", got.Status)
	}
	if len(f.gateway.abandoned) != 1 {
		t.Errorf("expected gateway session abandoned once, got %d", len(f.gateway.abandoned))
	}

	// 已完成的支付不能被 Abandon 改状态
	f.gateway.nextSession = "gw-tx-2"
	p2 := f.completedPayment(t)
	if err := f.coord.Abandon(ctx, p2.ID); err != nil {
		t.Fatal(err)
	}
	got2, _ := f.repo.Get(ctx, p2.ID)
	if got2.Status != domain.StatusCompleted {
		t.Errorf("completed payment must not be abandoned, got %s", got2.Status)
	}
}

func TestVerifyCallbackSignature(t *testing.T) {
	body := []byte(`{"gatewayTxId":"gw-1","status":"success","amount":100}`)
	sig := SignCallback("secret", body)
	if !VerifyCallbackSignature("secret", body, sig) {
		t.Error("valid signature rejected")
	}
	if VerifyCallbackSignature("secret", body, "deadbeef") {
		t.Error("invalid signature accepted")
	}
	if VerifyCallbackSignature("other", body, sig) {
		t.Error("signature with wrong secret accepted")
	}
}
