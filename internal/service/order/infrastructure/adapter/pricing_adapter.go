package adapter

import (
	"context"

	invinfra "circuitbay/internal/service/inventory/infrastructure"
	"circuitbay/internal/service/order/domain"
	pricingapp "circuitbay/internal/service/pricing/application"
	pricingdomain "circuitbay/internal/service/pricing/domain"
)

// PricingAdapter 组合目录档案与定价引擎：
// 从 Catalog 取基础价和梯度价配置，由 CEL 定价器选档计税。
// 同时充当询价机的开盘建议价来源。
type PricingAdapter struct {
	catalog *invinfra.CatalogHTTPAdapter
	pricer  *pricingapp.Pricer
}

func NewPricingAdapter(catalog *invinfra.CatalogHTTPAdapter, pricer *pricingapp.Pricer) *PricingAdapter {
	return &PricingAdapter{catalog: catalog, pricer: pricer}
}

// PriceOrder 实现订单侧的 port.Pricer。
func (a *PricingAdapter) PriceOrder(ctx context.Context, componentID string, quantity int64) (int64, int64, error) {
	quotation, err := a.quote(ctx, componentID, quantity)
	if err != nil {
		return 0, 0, err
	}
	return quotation.UnitPriceMinor, quotation.TaxMinor, nil
}

// TaxOn 实现订单侧的补税计算。
func (a *PricingAdapter) TaxOn(ctx context.Context, subtotalMinor int64) (int64, error) {
	return a.pricer.TaxOn(subtotalMinor), nil
}

// OpeningUnitPrice 实现询价侧的 port.OpeningPricer。
func (a *PricingAdapter) OpeningUnitPrice(ctx context.Context, componentID string, quantity int64) (int64, error) {
	quotation, err := a.quote(ctx, componentID, quantity)
	if err != nil {
		return 0, err
	}
	return quotation.UnitPriceMinor, nil
}

func (a *PricingAdapter) quote(ctx context.Context, componentID string, quantity int64) (*pricingdomain.Quotation, error) {
	component, err := a.catalog.GetComponent(ctx, componentID)
	if err != nil {
		return nil, err
	}

	tiers := make([]pricingdomain.Tier, 0, len(component.Tiers))
	for _, t := range component.Tiers {
		tiers = append(tiers, pricingdomain.Tier{
			Name:           t.Name,
			Rule:           t.Rule,
			UnitPriceMinor: t.UnitPriceMinor,
		})
	}

	isBulk := quantity > domain.BulkOrderThreshold
	return a.pricer.Price(int(quantity), component.BasePriceMinor, tiers, isBulk)
}
