package plan

import (
	"context"

	"github.com/shopspring/decimal"

	"subscription-service/internal/domain"
	"subscription-service/internal/domain/ports"
	"subscription-service/pkg/timeutil"
)

// Calculator resolves plans and computes charge amounts: promo
// discounts and upgrade proration.
type Calculator struct {
	plans  ports.PlanRepository
	promos ports.PromoCodeRepository
	logger ports.Logger
	clock  timeutil.Clock
}

// NewCalculator creates a plan calculator
func NewCalculator(plans ports.PlanRepository, promos ports.PromoCodeRepository, logger ports.Logger, clock timeutil.Clock) *Calculator {
	if clock == nil {
		clock = timeutil.Now
	}
	return &Calculator{plans: plans, promos: promos, logger: logger, clock: clock}
}

// GetPlan loads a plan open for new subscriptions. Inactive plans are
// reported as not found so retired plans stay invisible.
func (c *Calculator) GetPlan(ctx context.Context, tx ports.DBTX, planID string) (*domain.Plan, error) {
	plan, err := c.plans.GetByID(ctx, tx, planID)
	if err != nil {
		return nil, err
	}
	if !plan.IsActive {
		return nil, domain.ErrPlanNotFound
	}
	return plan, nil
}

// ListPlans returns all plans open for new subscriptions
func (c *Calculator) ListPlans(ctx context.Context) ([]*domain.Plan, error) {
	return c.plans.ListActive(ctx, nil)
}

// ApplyPromo validates a promo code against the plan and user and
// returns the discounted price. Each user can redeem a code once.
func (c *Calculator) ApplyPromo(ctx context.Context, tx ports.DBTX, plan *domain.Plan, code, userID string) (domain.Money, *domain.PromoCode, error) {
	promo, err := c.promos.GetByCode(ctx, tx, code)
	if err != nil {
		return domain.Money{}, nil, err
	}

	now := c.clock()
	if !promo.IsValidAt(now) {
		return domain.Money{}, nil, domain.ErrInvalidPromoCode
	}
	if !promo.AppliesToPlan(plan.ID) {
		return domain.Money{}, nil, domain.ErrInvalidPromoCode
	}

	redeemed, err := c.promos.HasUserRedeemed(ctx, tx, promo.ID, userID)
	if err != nil {
		return domain.Money{}, nil, err
	}
	if redeemed {
		return domain.Money{}, nil, domain.ErrInvalidPromoCode
	}

	discount := promo.DiscountFor(plan.Price)
	price, err := plan.Price.Sub(discount)
	if err != nil {
		return domain.Money{}, nil, err
	}

	c.logger.Info("promo code applied",
		ports.String("code", promo.Code),
		ports.String("plan_id", plan.ID),
		ports.String("discount", discount.String()),
	)
	return price.Round(), promo, nil
}

// Prorate computes the amount due on an upgrade: the new plan's price
// for the remaining whole days of the period, minus the old plan's
// price for the days already used. The result never goes below zero.
func (c *Calculator) Prorate(sub *domain.Subscription, oldPlan, newPlan *domain.Plan) (domain.Money, error) {
	if oldPlan.Price.Currency != newPlan.Price.Currency {
		return domain.Money{}, domain.NewDomainError(domain.ErrorCodeInvalidInput, "plan currencies do not match")
	}

	total := sub.TotalDays()
	if total <= 0 {
		return newPlan.Price.Round(), nil
	}

	remaining := sub.RemainingDays(c.clock())
	used := total - remaining
	days := decimal.NewFromInt(int64(total))
	newShare := newPlan.Price.Amount.Mul(decimal.NewFromInt(int64(remaining))).Div(days)
	oldShare := oldPlan.Price.Amount.Mul(decimal.NewFromInt(int64(used))).Div(days)

	due := newShare.Sub(oldShare)
	if due.IsNegative() {
		due = decimal.Zero
	}
	return domain.Money{Amount: due.Round(2), Currency: newPlan.Price.Currency}, nil
}
