package application

import (
	"errors"
	"testing"

	"circuitbay/internal/service/pricing/domain"
	"circuitbay/internal/service/pricing/infrastructure"
)

func newPricer(t *testing.T) *Pricer {
	t.Helper()
	engine, err := infrastructure.NewCelRuleEngine()
	if err != nil {
		t.Fatalf("failed to create rule engine: %v", err)
	}
	return NewPricer(engine, 1800) // 18% GST
}

var testTiers = []domain.Tier{
	{Name: "tier-100", Rule: "quantity > 100 && quantity <= 1000", UnitPriceMinor: 900},
	{Name: "tier-1000", Rule: "quantity > 1000", UnitPriceMinor: 750},
}

func TestPrice_BasePrice(t *testing.T) {
	p := newPricer(t)
	q, err := p.Price(10, 1000, testTiers, false)
	if err != nil {
		t.Fatal(err)
	}
	if q.UnitPriceMinor != 1000 || q.TierName != "" {
		t.Errorf("expected base price 1000, got %d (tier %q)", q.UnitPriceMinor, q.TierName)
	}
	if q.SubtotalMinor != 10000 {
		t.Errorf("expected subtotal 10000, got %d", q.SubtotalMinor)
	}
	if q.TaxMinor != 1800 {
		t.Errorf("expected tax 1800, got %d", q.TaxMinor)
	}
	if q.TotalMinor != 11800 {
		t.Errorf("expected total 11800, got %d", q.TotalMinor)
	}
}

func TestPrice_TierSelection(t *testing.T) {
	p := newPricer(t)

	cases := []struct {
		quantity int
		wantUnit int64
		wantTier string
	}{
		{100, 1000, ""},
		{101, 900, "tier-100"},
		{1000, 900, "tier-100"},
		{1001, 750, "tier-1000"},
	}
	for _, c := range cases {
		q, err := p.Price(c.quantity, 1000, testTiers, c.quantity > 100)
		if err != nil {
			t.Fatalf("quantity %d: %v", c.quantity, err)
		}
		if q.UnitPriceMinor != c.wantUnit {
			t.Errorf("quantity %d: expected unit %d, got %d", c.quantity, c.wantUnit, q.UnitPriceMinor)
		}
		if q.TierName != c.wantTier {
			t.Errorf("quantity %d: expected tier %q, got %q", c.quantity, c.wantTier, q.TierName)
		}
	}
}

func TestPrice_MinorUnitMath(t *testing.T) {
	// 税额向下取整，不出现小数派萨
	p := newPricer(t)
	q, err := p.Price(3, 333, nil, false)
	if err != nil {
		t.Fatal(err)
	}
	if q.SubtotalMinor != 999 {
		t.Errorf("expected subtotal 999, got %d", q.SubtotalMinor)
	}
	if q.TaxMinor != 179 { // 999 * 0.18 = 179.82 → 179
		t.Errorf("expected tax 179, got %d", q.TaxMinor)
	}
}

func TestPrice_NoApplicableTier(t *testing.T) {
	p := newPricer(t)
	_, err := p.Price(5, 0, nil, false)
	if !errors.Is(err, domain.ErrNoApplicableTier) {
		t.Errorf("expected ErrNoApplicableTier, got: %v", err)
	}
}

func TestPrice_InvalidRule(t *testing.T) {
	p := newPricer(t)
	_, err := p.Price(5, 100, []domain.Tier{{Name: "bad", Rule: "quantity >", UnitPriceMinor: 1}}, false)
	if err == nil {
		t.Fatal("expected error for malformed rule")
	}
}
