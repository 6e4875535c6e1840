package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// DiscountType distinguishes percentage discounts from fixed amounts
type DiscountType string

const (
	DiscountTypePercentage DiscountType = "percentage"
	DiscountTypeFixed      DiscountType = "fixed"
)

// PromoCode is a discount coupon. UsedCount is incremented exactly once
// per successful application.
type PromoCode struct {
	ValidFrom     time.Time       `json:"valid_from"`
	ValidTo       *time.Time      `json:"valid_to"`
	CreatedAt     time.Time       `json:"created_at"`
	MaxUses       *int            `json:"max_uses"`
	PlanIDs       []string        `json:"plan_ids"`
	ID            string          `json:"id"`
	Code          string          `json:"code"`
	DiscountType  DiscountType    `json:"discount_type"`
	DiscountValue decimal.Decimal `json:"discount_value"`
	UsedCount     int             `json:"used_count"`
	IsActive      bool            `json:"is_active"`
}

// IsValidAt reports whether the code is inside its validity window and
// has uses left.
func (p *PromoCode) IsValidAt(now time.Time) bool {
	if !p.IsActive {
		return false
	}
	if now.Before(p.ValidFrom) {
		return false
	}
	if p.ValidTo != nil && now.After(*p.ValidTo) {
		return false
	}
	if p.MaxUses != nil && p.UsedCount >= *p.MaxUses {
		return false
	}
	return true
}

// AppliesToPlan reports allow-list membership. An empty allow-list
// applies to every plan.
func (p *PromoCode) AppliesToPlan(planID string) bool {
	if len(p.PlanIDs) == 0 {
		return true
	}
	for _, id := range p.PlanIDs {
		if id == planID {
			return true
		}
	}
	return false
}

// DiscountFor computes the discount against a plan price, clamped to the
// price itself and rounded half-up to two decimal places.
func (p *PromoCode) DiscountFor(price Money) Money {
	var discount decimal.Decimal
	switch p.DiscountType {
	case DiscountTypePercentage:
		discount = price.Amount.Mul(p.DiscountValue).Div(decimal.NewFromInt(100))
	case DiscountTypeFixed:
		discount = p.DiscountValue
	default:
		return Money{Amount: decimal.Zero, Currency: price.Currency}
	}
	if discount.GreaterThan(price.Amount) {
		discount = price.Amount
	}
	return Money{Amount: discount.Round(2), Currency: price.Currency}
}
