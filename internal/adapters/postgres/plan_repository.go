package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgtype"

	"subscription-service/internal/domain"
	"subscription-service/internal/domain/ports"
)

// PlanRepository implements ports.PlanRepository on pgx
type PlanRepository struct {
	db ports.DBPort
}

// NewPlanRepository creates a new plan repository
func NewPlanRepository(db ports.DBPort) *PlanRepository {
	return &PlanRepository{db: db}
}

func (r *PlanRepository) querier(tx ports.DBTX) ports.DBTX {
	if tx != nil {
		return tx
	}
	return r.db.GetDB()
}

const planColumns = `
	id, name, description, price_amount, price_currency,
	billing_cycle_days, trial_period_days, max_retries, is_active, created_at`

// GetByID retrieves a plan by its ID
func (r *PlanRepository) GetByID(ctx context.Context, tx ports.DBTX, id string) (*domain.Plan, error) {
	query := `SELECT` + planColumns + ` FROM plans WHERE id = $1`

	row := r.querier(tx).QueryRow(ctx, query, id)
	plan, err := scanPlan(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, domain.ErrPlanNotFound
		}
		return nil, fmt.Errorf("get plan by id: %w", err)
	}
	return plan, nil
}

// ListActive returns all plans open for new subscriptions
func (r *PlanRepository) ListActive(ctx context.Context, tx ports.DBTX) ([]*domain.Plan, error) {
	query := `SELECT` + planColumns + ` FROM plans WHERE is_active = true ORDER BY price_amount ASC`

	rows, err := r.querier(tx).Query(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("list active plans: %w", err)
	}
	defer rows.Close()

	var plans []*domain.Plan
	for rows.Next() {
		plan, err := scanPlan(rows)
		if err != nil {
			return nil, fmt.Errorf("scan plan: %w", err)
		}
		plans = append(plans, plan)
	}
	return plans, rows.Err()
}

// Create inserts a new plan
func (r *PlanRepository) Create(ctx context.Context, tx ports.DBTX, plan *domain.Plan) error {
	price, err := numericFromMoney(plan.Price)
	if err != nil {
		return err
	}

	query := `
		INSERT INTO plans (
			id, name, description, price_amount, price_currency,
			billing_cycle_days, trial_period_days, max_retries, is_active, created_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)`

	_, err = r.querier(tx).Exec(ctx, query,
		plan.ID, plan.Name, plan.Description, price, plan.Price.Currency,
		plan.BillingCycleDays, plan.TrialPeriodDays, plan.MaxRetries, plan.IsActive, plan.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("create plan: %w", err)
	}
	return nil
}

func scanPlan(row pgx.Row) (*domain.Plan, error) {
	var plan domain.Plan
	var price pgtype.Numeric
	var currency string

	err := row.Scan(
		&plan.ID, &plan.Name, &plan.Description, &price, &currency,
		&plan.BillingCycleDays, &plan.TrialPeriodDays, &plan.MaxRetries, &plan.IsActive, &plan.CreatedAt,
	)
	if err != nil {
		return nil, err
	}

	plan.Price, err = moneyFromNumeric(price, currency)
	if err != nil {
		return nil, err
	}
	return &plan, nil
}
