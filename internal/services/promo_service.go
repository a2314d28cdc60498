package services

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log"
	"strings"
	"time"

	"github.com/go-redis/redis/v8"

	"github.com/coinclub/backend/internal/models"
)

var (
	ErrPromoNotFound        = errors.New("promo code not found")
	ErrPromoExhausted       = errors.New("promo code exhausted")
	ErrPromoAlreadyRedeemed = errors.New("promo code already redeemed")
	ErrPromoInProgress      = errors.New("promo redemption already in progress")
)

// PromoService redeems promo codes. A short-lived SET NX claim in Redis stops
// the same user double-submitting a code across concurrent requests; the
// durable uniqueness lives in the promo_redemptions primary key.
type PromoService struct {
	db    *sql.DB
	redis *redis.Client
}

func NewPromoService(db *sql.DB, rdb *redis.Client) *PromoService {
	return &PromoService{db: db, redis: rdb}
}

const promoClaimTTL = 30 * time.Second

// Redeem credits the code's reward to the user exactly once.
func (ps *PromoService) Redeem(ctx context.Context, userID int64, code string) (*models.PromoCode, error) {
	code = strings.ToUpper(strings.TrimSpace(code))
	if code == "" {
		return nil, ErrPromoNotFound
	}

	claimKey := fmt.Sprintf("promo:claim:%s:%d", code, userID)
	claimed, err := ps.redis.SetNX(ctx, claimKey, "1", promoClaimTTL).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to claim promo %s: %w", code, err)
	}
	if !claimed {
		return nil, ErrPromoInProgress
	}
	defer func() {
		if err := ps.redis.Del(context.Background(), claimKey).Err(); err != nil {
			log.Printf("[PROMO] failed to release claim %s: %v", claimKey, err)
		}
	}()

	tx, err := ps.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	var promo models.PromoCode
	err = tx.QueryRowContext(ctx, `
		SELECT code, reward, max_uses, uses, created_at
		FROM promo_codes
		WHERE code = $1
		FOR UPDATE`, code).
		Scan(&promo.Code, &promo.Reward, &promo.MaxUses, &promo.Uses, &promo.CreatedAt)
	if err == sql.ErrNoRows {
		return nil, ErrPromoNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to lock promo %s: %w", code, err)
	}

	if promo.Uses >= promo.MaxUses {
		return nil, ErrPromoExhausted
	}

	var already bool
	if err := tx.QueryRowContext(ctx,
		`SELECT EXISTS(SELECT 1 FROM promo_redemptions WHERE code = $1 AND user_id = $2)`,
		code, userID).Scan(&already); err != nil {
		return nil, err
	}
	if already {
		return nil, ErrPromoAlreadyRedeemed
	}

	if _, err := tx.ExecContext(ctx,
		`UPDATE promo_codes SET uses = uses + 1 WHERE code = $1`, code); err != nil {
		return nil, fmt.Errorf("failed to count promo use: %w", err)
	}

	if _, err := tx.ExecContext(ctx,
		`INSERT INTO promo_redemptions (code, user_id, redeemed_at) VALUES ($1, $2, NOW())`,
		code, userID); err != nil {
		return nil, fmt.Errorf("failed to record redemption: %w", err)
	}

	result, err := tx.ExecContext(ctx,
		`UPDATE users SET coins = coins + $1, updated_at = NOW() WHERE id = $2`,
		promo.Reward, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to credit reward: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return nil, err
	}
	if affected == 0 {
		return nil, ErrAccountNotFound
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("failed to commit redemption: %w", err)
	}

	promo.Uses++
	log.Printf("[PROMO] user %d redeemed %s for %d coins", userID, code, promo.Reward)
	return &promo, nil
}
