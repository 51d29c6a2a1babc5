package application

import (
	"context"
	"errors"
	"sync"
	"testing"

	"circuitbay/internal/service/inventory/domain"
)

// 内存版 ReservationStore
type memReservationStore struct {
	mu   sync.Mutex
	byID map[string]*domain.Reservation
}

func newMemReservationStore() *memReservationStore {
	return &memReservationStore{byID: make(map[string]*domain.Reservation)}
}

func (s *memReservationStore) Create(ctx context.Context, r *domain.Reservation) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *r
	s.byID[r.ID] = &cp
	return nil
}

func (s *memReservationStore) Get(ctx context.Context, id string) (*domain.Reservation, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	r, ok := s.byID[id]
	if !ok {
		return nil, domain.ErrReservationNotFound
	}
	cp := *r
	return &cp, nil
}

func (s *memReservationStore) Update(ctx context.Context, r *domain.Reservation) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.byID[r.ID]; !ok {
		return domain.ErrReservationNotFound
	}
	cp := *r
	s.byID[r.ID] = &cp
	return nil
}

func (s *memReservationStore) SumActive(ctx context.Context, componentID string) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	sum := 0
	for _, r := range s.byID {
		if r.ComponentID == componentID && r.Active() {
			sum += r.Quantity
		}
	}
	return sum, nil
}

func (s *memReservationStore) FindActiveByOrder(ctx context.Context, orderID string) ([]*domain.Reservation, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []*domain.Reservation
	for _, r := range s.byID {
		if r.OrderID == orderID && r.Active() {
			cp := *r
			out = append(out, &cp)
		}
	}
	return out, nil
}

// 内存版 StockStore
type memStockStore struct {
	mu   sync.Mutex
	byID map[string]*domain.ComponentStock
}

func newMemStockStore() *memStockStore {
	return &memStockStore{byID: make(map[string]*domain.ComponentStock)}
}

func (s *memStockStore) Get(ctx context.Context, componentID string) (*domain.ComponentStock, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	st, ok := s.byID[componentID]
	if !ok {
		return nil, domain.ErrUnknownComponent
	}
	cp := *st
	return &cp, nil
}

func (s *memStockStore) Upsert(ctx context.Context, stock *domain.ComponentStock) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *stock
	s.byID[stock.ComponentID] = &cp
	return nil
}

// 本地互斥锁实现 ComponentLocker
type localLocker struct {
	mu    sync.Mutex
	locks map[string]*sync.Mutex
}

func newLocalLocker() *localLocker {
	return &localLocker{locks: make(map[string]*sync.Mutex)}
}

func (l *localLocker) Lock(ctx context.Context, componentID string) (func(), error) {
	l.mu.Lock()
	m, ok := l.locks[componentID]
	if !ok {
		m = &sync.Mutex{}
		l.locks[componentID] = m
	}
	l.mu.Unlock()
	m.Lock()
	return m.Unlock, nil
}

// 记录目录通知的 mock，同时充当挂牌量来源
type mockCatalog struct {
	mu         sync.Mutex
	outOfStock []string
	backStock  []string
	listings   map[string]int
	listingErr error
}

func (m *mockCatalog) MarkOutOfStock(ctx context.Context, componentID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.outOfStock = append(m.outOfStock, componentID)
	return nil
}

func (m *mockCatalog) MarkBackInStock(ctx context.Context, componentID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.backStock = append(m.backStock, componentID)
	return nil
}

func (m *mockCatalog) ListedInventory(ctx context.Context, componentID string) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.listingErr != nil {
		return 0, m.listingErr
	}
	listed, ok := m.listings[componentID]
	if !ok {
		return 0, errors.New("component not listed in catalog")
	}
	return listed, nil
}

func newTestLedger(t *testing.T, componentID string, listed int) (*Ledger, *mockCatalog) {
	t.Helper()
	catalog := &mockCatalog{listings: map[string]int{}}
	l := NewLedger(newMemReservationStore(), newMemStockStore(), catalog, catalog, newLocalLocker())
	if err := l.SyncListing(context.Background(), componentID, listed); err != nil {
		t.Fatalf("sync listing failed: %v", err)
	}
	return l, catalog
}

func TestReserve_ExhaustionScenario(t *testing.T) {
	// 挂牌 50：O1 预占 50 成功并触发售罄通知；O2 再占 1 必须失败；
	// O1 取消释放后库存恢复可用。
	ctx := context.Background()
	l, catalog := newTestLedger(t, "comp-C", 50)

	resID, err := l.Reserve(ctx, "comp-C", "order-1", 50)
	if err != nil {
		t.Fatalf("expected reserve to succeed, got: %v", err)
	}
	if len(catalog.outOfStock) != 1 || catalog.outOfStock[0] != "comp-C" {
		t.Errorf("expected out-of-stock notification for comp-C, got %v", catalog.outOfStock)
	}

	if _, err := l.Reserve(ctx, "comp-C", "order-2", 1); !errors.Is(err, domain.ErrInsufficientInventory) {
		t.Errorf("expected ErrInsufficientInventory, got: %v", err)
	}

	if err := l.Release(ctx, resID); err != nil {
		t.Fatalf("release failed: %v", err)
	}
	avail, err := l.Available(ctx, "comp-C")
	if err != nil {
		t.Fatal(err)
	}
	if avail != 50 {
		t.Errorf("expected availability restored to 50, got %d", avail)
	}
	if len(catalog.backStock) != 1 {
		t.Errorf("expected back-in-stock notification, got %v", catalog.backStock)
	}
}

func TestReserve_NoPartialReservation(t *testing.T) {
	ctx := context.Background()
	l, _ := newTestLedger(t, "comp-A", 10)

	if _, err := l.Reserve(ctx, "comp-A", "order-1", 11); !errors.Is(err, domain.ErrInsufficientInventory) {
		t.Fatalf("expected ErrInsufficientInventory, got: %v", err)
	}
	avail, _ := l.Available(ctx, "comp-A")
	if avail != 10 {
		t.Errorf("failed reserve must not hold anything, availability = %d", avail)
	}
}

func TestReserve_ConcurrentConservation(t *testing.T) {
	// 100 个并发预占请求争抢 30 个库存，成功的总量不能超挂牌量，可用量不可为负。
	ctx := context.Background()
	l, _ := newTestLedger(t, "comp-B", 30)

	var wg sync.WaitGroup
	var mu sync.Mutex
	succeeded := 0
	for i := 0; i < 100; i++ {
		wg.Add(1)
		go func(n int) {
			defer wg.Done()
			_, err := l.Reserve(ctx, "comp-B", "order-x", 1)
			if err == nil {
				mu.Lock()
				succeeded++
				mu.Unlock()
			} else if !errors.Is(err, domain.ErrInsufficientInventory) {
				t.Errorf("unexpected error: %v", err)
			}
		}(i)
	}
	wg.Wait()

	if succeeded != 30 {
		t.Errorf("expected exactly 30 successful reservations, got %d", succeeded)
	}
	avail, _ := l.Available(ctx, "comp-B")
	if avail != 0 {
		t.Errorf("expected availability 0, got %d", avail)
	}
}

func TestCommit_Idempotent(t *testing.T) {
	ctx := context.Background()
	l, _ := newTestLedger(t, "comp-D", 10)

	resID, err := l.Reserve(ctx, "comp-D", "order-1", 4)
	if err != nil {
		t.Fatal(err)
	}
	if err := l.Commit(ctx, resID); err != nil {
		t.Fatalf("first commit failed: %v", err)
	}
	if err := l.Commit(ctx, resID); err != nil {
		t.Fatalf("second commit must be a no-op, got: %v", err)
	}

	// committed 预占仍然占用额度
	avail, _ := l.Available(ctx, "comp-D")
	if avail != 6 {
		t.Errorf("expected availability 6, got %d", avail)
	}
}

func TestCommit_ReleasedReservationRejected(t *testing.T) {
	ctx := context.Background()
	l, _ := newTestLedger(t, "comp-E", 10)

	resID, _ := l.Reserve(ctx, "comp-E", "order-1", 2)
	if err := l.Release(ctx, resID); err != nil {
		t.Fatal(err)
	}
	if err := l.Commit(ctx, resID); !errors.Is(err, domain.ErrReservationReleased) {
		t.Errorf("expected ErrReservationReleased, got: %v", err)
	}
}

func TestRelease_Idempotent(t *testing.T) {
	ctx := context.Background()
	l, _ := newTestLedger(t, "comp-F", 10)

	resID, _ := l.Reserve(ctx, "comp-F", "order-1", 3)
	if err := l.Release(ctx, resID); err != nil {
		t.Fatal(err)
	}
	if err := l.Release(ctx, resID); err != nil {
		t.Fatalf("second release must be a no-op, got: %v", err)
	}
	avail, _ := l.Available(ctx, "comp-F")
	if avail != 10 {
		t.Errorf("double release must not double-restore, availability = %d", avail)
	}
}

func TestReleaseByOrder(t *testing.T) {
	ctx := context.Background()
	l, _ := newTestLedger(t, "comp-G", 20)

	if _, err := l.Reserve(ctx, "comp-G", "order-9", 5); err != nil {
		t.Fatal(err)
	}
	if _, err := l.Reserve(ctx, "comp-G", "order-9", 7); err != nil {
		t.Fatal(err)
	}

	if err := l.ReleaseByOrder(ctx, "order-9"); err != nil {
		t.Fatal(err)
	}
	avail, _ := l.Available(ctx, "comp-G")
	if avail != 20 {
		t.Errorf("expected all reservations released, availability = %d", avail)
	}
}

func TestReserve_SeedsListingOnFirstSight(t *testing.T) {
	// 台账从未见过 comp-H：预占时应从目录拉挂牌量落账，而不是报未知元器件
	ctx := context.Background()
	catalog := &mockCatalog{listings: map[string]int{"comp-H": 40}}
	l := NewLedger(newMemReservationStore(), newMemStockStore(), catalog, catalog, newLocalLocker())

	if _, err := l.Reserve(ctx, "comp-H", "order-10", 10); err != nil {
		t.Fatalf("reserve on unseeded component must seed from catalog, got: %v", err)
	}
	avail, err := l.Available(ctx, "comp-H")
	if err != nil {
		t.Fatal(err)
	}
	if avail != 30 {
		t.Errorf("expected 40 listed - 10 held = 30 available, got %d", avail)
	}
}

func TestReserve_ListingFetchFailurePropagates(t *testing.T) {
	ctx := context.Background()
	catalog := &mockCatalog{listingErr: errors.New("catalog unreachable")}
	reservations := newMemReservationStore()
	l := NewLedger(reservations, newMemStockStore(), catalog, catalog, newLocalLocker())

	if _, err := l.Reserve(ctx, "comp-I", "order-11", 1); err == nil {
		t.Fatal("expected reserve to fail when the listing cannot be fetched")
	}
	if n, _ := reservations.SumActive(ctx, "comp-I"); n != 0 {
		t.Errorf("no reservation must be created on listing failure, got %d held", n)
	}
}
