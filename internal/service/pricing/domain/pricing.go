// internal/service/pricing/domain/pricing.go
package domain

import "errors"

// 所有金额一律使用最小货币单位（派萨），避免浮点误差。
// 税和大宗梯度价在创建 Payment 之前算好，之后不可变。

// ErrNoApplicableTier 表示没有任何梯度规则命中，也没有配置基础单价。
var ErrNoApplicableTier = errors.New("no applicable pricing tier")

// Tier 是一档大宗梯度价：规则是一条 CEL 表达式，对事实求值为 true 时命中。
type Tier struct {
	Name           string
	Rule           string // 例如 "quantity >= 500 && quantity < 2000"
	UnitPriceMinor int64
}

// Fact 是梯度规则求值时可见的事实集合。
type Fact struct {
	Quantity int   `json:"quantity"`
	IsBulk   bool  `json:"is_bulk"`
	Total    int64 `json:"total"`
}

// RuleEngine 是规则求值的端口，由 CEL 适配器实现。
type RuleEngine interface {
	Evaluate(rule string, fact Fact) (bool, error)
}

// Quotation 是一次定价计算的结果。
type Quotation struct {
	UnitPriceMinor int64
	SubtotalMinor  int64
	TaxMinor       int64
	TotalMinor     int64
	TierName       string // 命中的梯度，空串表示基础价
}
