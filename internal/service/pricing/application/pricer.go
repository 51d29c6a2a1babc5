// internal/service/pricing/application/pricer.go
package application

import (
	"fmt"

	"circuitbay/internal/service/pricing/domain"
)

// Pricer 负责订单与大宗报价的定价：选梯度价、算小计和税。
type Pricer struct {
	engine        RuleEngineFunc
	taxBasisPoint int64
}

// RuleEngineFunc 与 domain.RuleEngine 等价的函数形式，便于测试注入。
type RuleEngineFunc interface {
	Evaluate(rule string, fact domain.Fact) (bool, error)
}

func NewPricer(engine RuleEngineFunc, taxBasisPoints int64) *Pricer {
	return &Pricer{engine: engine, taxBasisPoint: taxBasisPoints}
}

// Price 计算给定数量的报价。
// 依次对各梯度规则求值，命中的里面取单价最低的一档；都没命中用基础单价。
func (p *Pricer) Price(quantity int, basePriceMinor int64, tiers []domain.Tier, isBulk bool) (*domain.Quotation, error) {
	if quantity <= 0 {
		return nil, fmt.Errorf("quantity must be positive, got %d", quantity)
	}

	unit := basePriceMinor
	tierName := ""
	matched := basePriceMinor > 0

	fact := domain.Fact{
		Quantity: quantity,
		IsBulk:   isBulk,
		Total:    int64(quantity) * basePriceMinor,
	}

	for _, tier := range tiers {
		ok, err := p.engine.Evaluate(tier.Rule, fact)
		if err != nil {
			return nil, fmt.Errorf("tier rule %q failed to evaluate: %w", tier.Name, err)
		}
		if !ok {
			continue
		}
		if !matched || tier.UnitPriceMinor < unit {
			unit = tier.UnitPriceMinor
			tierName = tier.Name
		}
		matched = true
	}

	if !matched {
		return nil, domain.ErrNoApplicableTier
	}

	subtotal := int64(quantity) * unit
	tax := p.TaxOn(subtotal)
	return &domain.Quotation{
		UnitPriceMinor: unit,
		SubtotalMinor:  subtotal,
		TaxMinor:       tax,
		TotalMinor:     subtotal + tax,
		TierName:       tierName,
	}, nil
}

// TaxOn 对小计金额按基点计税，向下取整。
func (p *Pricer) TaxOn(subtotalMinor int64) int64 {
	return subtotalMinor * p.taxBasisPoint / 10000
}
