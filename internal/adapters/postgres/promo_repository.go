package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgtype"

	"subscription-service/internal/domain"
	"subscription-service/internal/domain/ports"
)

// PromoCodeRepository implements ports.PromoCodeRepository on pgx
type PromoCodeRepository struct {
	db ports.DBPort
}

// NewPromoCodeRepository creates a new promo code repository
func NewPromoCodeRepository(db ports.DBPort) *PromoCodeRepository {
	return &PromoCodeRepository{db: db}
}

func (r *PromoCodeRepository) querier(tx ports.DBTX) ports.DBTX {
	if tx != nil {
		return tx
	}
	return r.db.GetDB()
}

// GetByCode retrieves a promo code by its public code
func (r *PromoCodeRepository) GetByCode(ctx context.Context, tx ports.DBTX, code string) (*domain.PromoCode, error) {
	query := `
		SELECT id, code, discount_type, discount_value, valid_from, valid_to,
		       max_uses, used_count, plan_ids, is_active, created_at
		FROM promo_codes WHERE code = $1`

	var promo domain.PromoCode
	var discountType string
	var discountValue pgtype.Numeric
	var validTo *time.Time
	var maxUses pgtype.Int4

	err := r.querier(tx).QueryRow(ctx, query, code).Scan(
		&promo.ID, &promo.Code, &discountType, &discountValue, &promo.ValidFrom, &validTo,
		&maxUses, &promo.UsedCount, &promo.PlanIDs, &promo.IsActive, &promo.CreatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, domain.ErrPromoCodeNotFound
		}
		return nil, fmt.Errorf("get promo code: %w", err)
	}

	promo.DiscountType = domain.DiscountType(discountType)
	promo.DiscountValue, err = decimalFromNumeric(discountValue)
	if err != nil {
		return nil, err
	}
	promo.ValidTo = validTo
	promo.MaxUses = ptrFromInt4(maxUses)
	return &promo, nil
}

// Create inserts a promo code
func (r *PromoCodeRepository) Create(ctx context.Context, tx ports.DBTX, promo *domain.PromoCode) error {
	discountValue, err := numericFromDecimal(promo.DiscountValue)
	if err != nil {
		return err
	}

	query := `
		INSERT INTO promo_codes (
			id, code, discount_type, discount_value, valid_from, valid_to,
			max_uses, used_count, plan_ids, is_active, created_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)`

	_, err = r.querier(tx).Exec(ctx, query,
		promo.ID, promo.Code, string(promo.DiscountType), discountValue,
		promo.ValidFrom, tsFromPtr(promo.ValidTo),
		int4FromPtr(promo.MaxUses), promo.UsedCount, promo.PlanIDs, promo.IsActive, promo.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("create promo code: %w", err)
	}
	return nil
}

// IncrementUsage bumps the global counter and records the redemption
func (r *PromoCodeRepository) IncrementUsage(ctx context.Context, tx ports.DBTX, promoID, userID string) error {
	q := r.querier(tx)

	tag, err := q.Exec(ctx,
		`UPDATE promo_codes SET used_count = used_count + 1 WHERE id = $1`, promoID)
	if err != nil {
		return fmt.Errorf("increment promo usage: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrPromoCodeNotFound
	}

	_, err = q.Exec(ctx,
		`INSERT INTO promo_redemptions (promo_id, user_id, created_at) VALUES ($1, $2, now())`,
		promoID, userID)
	if err != nil {
		return fmt.Errorf("record promo redemption: %w", err)
	}
	return nil
}

// HasUserRedeemed reports whether the user already used this code
func (r *PromoCodeRepository) HasUserRedeemed(ctx context.Context, tx ports.DBTX, promoID, userID string) (bool, error) {
	var exists bool
	err := r.querier(tx).QueryRow(ctx,
		`SELECT EXISTS(SELECT 1 FROM promo_redemptions WHERE promo_id = $1 AND user_id = $2)`,
		promoID, userID).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("check promo redemption: %w", err)
	}
	return exists, nil
}
