package application

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"circuitbay/internal/service/quote/domain"
	"circuitbay/internal/service/quote/port"

	"go.opentelemetry.io/otel"
)

type memQuoteRepo struct {
	mu   sync.Mutex
	byID map[string]*domain.BulkQuote
}

func newMemQuoteRepo() *memQuoteRepo {
	return &memQuoteRepo{byID: make(map[string]*domain.BulkQuote)}
}

func (r *memQuoteRepo) Create(ctx context.Context, q *domain.BulkQuote) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	cp := *q
	r.byID[q.ID] = &cp
	return nil
}

func (r *memQuoteRepo) Get(ctx context.Context, id string) (*domain.BulkQuote, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	q, ok := r.byID[id]
	if !ok {
		return nil, domain.ErrQuoteNotFound
	}
	cp := *q
	return &cp, nil
}

func (r *memQuoteRepo) Update(ctx context.Context, q *domain.BulkQuote) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	stored, ok := r.byID[q.ID]
	if !ok {
		return domain.ErrQuoteNotFound
	}
	if stored.Version != q.Version {
		return domain.ErrQuoteConflict
	}
	cp := *q
	cp.Version++
	r.byID[q.ID] = &cp
	q.Version++
	return nil
}

func (r *memQuoteRepo) FindInactiveBefore(ctx context.Context, cutoff time.Time, limit int) ([]*domain.BulkQuote, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []*domain.BulkQuote
	for _, q := range r.byID {
		if !q.Terminal() && !q.UpdatedAt.After(cutoff) {
			cp := *q
			out = append(out, &cp)
			if len(out) == limit {
				break
			}
		}
	}
	return out, nil
}

type fixedPricer struct {
	unitMinor int64
	err       error
}

func (p *fixedPricer) OpeningUnitPrice(ctx context.Context, componentID string, quantity int64) (int64, error) {
	return p.unitMinor, p.err
}

type recordingNotifier struct {
	mu     sync.Mutex
	events []port.Notification
}

func (n *recordingNotifier) Notify(ctx context.Context, event port.Notification) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.events = append(n.events, event)
	return nil
}

func (n *recordingNotifier) byType(t string) []port.Notification {
	n.mu.Lock()
	defer n.mu.Unlock()
	var out []port.Notification
	for _, e := range n.events {
		if e.Type == t {
			out = append(out, e)
		}
	}
	return out
}

func newTestNegotiator(t *testing.T) (*Negotiator, *memQuoteRepo, *recordingNotifier, *time.Time) {
	t.Helper()
	repo := newMemQuoteRepo()
	notifier := &recordingNotifier{}
	clock := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	neg := NewNegotiator(repo, &fixedPricer{unitMinor: 8500}, notifier, otel.Tracer("test"), 1000, 72*time.Hour)
	neg.SetClock(func() time.Time { return clock })
	return neg, repo, notifier, &clock
}

func TestRequestBelowThresholdRejected(t *testing.T) {
	neg, _, _, _ := newTestNegotiator(t)
	ctx := context.Background()

	if _, err := neg.Request(ctx, "buyer-1", "seller-1", "comp-1", 1000); !errors.Is(err, domain.ErrNotEligible) {
		t.Fatalf("quantity 1000 should not be eligible for negotiation, got %v", err)
	}
	if _, err := neg.Request(ctx, "buyer-1", "seller-1", "comp-1", 1001); err != nil {
		t.Fatalf("quantity 1001 should open a negotiation: %v", err)
	}
}

func TestStrictAlternation(t *testing.T) {
	neg, _, _, _ := newTestNegotiator(t)
	ctx := context.Background()

	quote, err := neg.Request(ctx, "buyer-1", "seller-1", "comp-1", 2000)
	if err != nil {
		t.Fatal(err)
	}

	// 买家刚发起，不能自己还价
	var invalid *domain.InvalidTransitionError
	if _, err := neg.Counter(ctx, quote.ID, 8000, 0); !errors.As(err, &invalid) {
		t.Fatalf("buyer countering before the seller moved should be rejected, got %v", err)
	}

	if _, err := neg.Quote(ctx, quote.ID, 9000, 0); err != nil {
		t.Fatalf("seller opening quote failed: %v", err)
	}
	// 卖家不能连续出价两次
	if _, err := neg.Quote(ctx, quote.ID, 8800, 0); !errors.As(err, &invalid) {
		t.Fatalf("seller quoting twice in a row should be rejected, got %v", err)
	}

	if _, err := neg.Counter(ctx, quote.ID, 8000, 0); err != nil {
		t.Fatalf("buyer counter failed: %v", err)
	}
	// 买家不能连续还价两次
	if _, err := neg.Counter(ctx, quote.ID, 7500, 0); !errors.As(err, &invalid) {
		t.Fatalf("buyer countering twice in a row should be rejected, got %v", err)
	}

	// 上一步出招的一方不能接受自己的出价
	if _, err := neg.Accept(ctx, quote.ID, domain.ActorBuyer); !errors.As(err, &invalid) {
		t.Fatalf("buyer accepting their own counter should be rejected, got %v", err)
	}
	got, err := neg.Accept(ctx, quote.ID, domain.ActorSeller)
	if err != nil {
		t.Fatalf("seller accepting buyer counter failed: %v", err)
	}
	if got.Status != domain.StatusAccepted {
		t.Fatalf("expected accepted, got %s", got.Status)
	}
	if got.UnitPriceMinor != 8000 {
		t.Fatalf("agreed price should be the last counter, got %d", got.UnitPriceMinor)
	}
}

func TestRejectEndsNegotiationWithoutOrder(t *testing.T) {
	neg, _, _, _ := newTestNegotiator(t)
	ctx := context.Background()

	quote, _ := neg.Request(ctx, "buyer-1", "seller-1", "comp-1", 2000)
	if _, err := neg.Quote(ctx, quote.ID, 9000, 0); err != nil {
		t.Fatal(err)
	}
	got, err := neg.Reject(ctx, quote.ID, domain.ActorBuyer)
	if err != nil {
		t.Fatal(err)
	}
	if got.Status != domain.StatusRejected {
		t.Fatalf("expected rejected, got %s", got.Status)
	}

	if _, err := neg.ConsumeAccepted(ctx, quote.ID, "order-1"); err == nil {
		t.Fatal("rejected quote must not be consumable into an order")
	}
}

func TestAcceptedConsumedExactlyOnce(t *testing.T) {
	neg, _, _, _ := newTestNegotiator(t)
	ctx := context.Background()

	quote, _ := neg.Request(ctx, "buyer-1", "seller-1", "comp-1", 5000)
	if _, err := neg.Quote(ctx, quote.ID, 9000, 0); err != nil {
		t.Fatal(err)
	}
	if _, err := neg.Accept(ctx, quote.ID, domain.ActorBuyer); err != nil {
		t.Fatal(err)
	}

	consumed, err := neg.ConsumeAccepted(ctx, quote.ID, "order-1")
	if err != nil {
		t.Fatalf("first consumption failed: %v", err)
	}
	if consumed.ConsumedBy != "order-1" {
		t.Fatalf("expected consumed by order-1, got %q", consumed.ConsumedBy)
	}
	if consumed.AgreedTotalMinor() != 9000*5000 {
		t.Fatalf("unexpected agreed total %d", consumed.AgreedTotalMinor())
	}

	if _, err := neg.ConsumeAccepted(ctx, quote.ID, "order-2"); !errors.Is(err, domain.ErrQuoteConsumed) {
		t.Fatalf("second consumption should fail with ErrQuoteConsumed, got %v", err)
	}
}

func TestExpireInactiveQuotes(t *testing.T) {
	neg, _, notifier, clock := newTestNegotiator(t)
	ctx := context.Background()

	stale, _ := neg.Request(ctx, "buyer-1", "seller-1", "comp-1", 2000)
	if _, err := neg.Quote(ctx, stale.ID, 9000, 0); err != nil {
		t.Fatal(err)
	}

	// 71 小时后另一单还在活跃窗口内
	*clock = clock.Add(71 * time.Hour)
	fresh, _ := neg.Request(ctx, "buyer-2", "seller-1", "comp-2", 3000)

	expired, err := neg.ExpireInactive(ctx, 100)
	if err != nil {
		t.Fatal(err)
	}
	if expired != 0 {
		t.Fatalf("no quote should expire before the window elapses, got %d", expired)
	}

	*clock = clock.Add(2 * time.Hour)
	expired, err = neg.ExpireInactive(ctx, 100)
	if err != nil {
		t.Fatal(err)
	}
	if expired != 1 {
		t.Fatalf("exactly the stale quote should expire, got %d", expired)
	}

	got, _ := neg.Quote(ctx, fresh.ID, 9100, 0)
	if got.Status != domain.StatusQuoted {
		t.Fatalf("fresh quote should still be negotiable, got %s", got.Status)
	}

	staleNow, err := neg.Accept(ctx, stale.ID, domain.ActorBuyer)
	if staleNow != nil || err == nil {
		t.Fatal("expired quote must reject further moves")
	}
	events := notifier.byType("quote_expired")
	if len(events) != 1 {
		t.Fatalf("expected one expiry notification, got %d", len(events))
	}
	if events[0].QuoteID != stale.ID || events[0].RecipientID != stale.BuyerID {
		t.Fatalf("expiry notification misrouted: %+v", events[0])
	}
}
