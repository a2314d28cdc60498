package services

import (
	"context"
	"database/sql"
	"fmt"
	"log"
	"time"

	"github.com/go-redis/redis/v8"

	"github.com/coinclub/backend/internal/config"
)

// Messenger is the outbound chat boundary. Implementations must not panic;
// delivery failure is a return value and the caller decides whether to log.
type Messenger interface {
	Send(chatID int64, text string) error
}

// VelocityGuard counts a sender's transfers in a trailing window and
// escalates to a transfer ban past the threshold. Escalation is monotonic:
// nothing in this service ever lifts the ban.
type VelocityGuard struct {
	db        *sql.DB
	redis     *redis.Client
	accounts  *AccountService
	messenger Messenger
	cfg       *config.TransferConfig
}

func NewVelocityGuard(db *sql.DB, rdb *redis.Client, accounts *AccountService, messenger Messenger, cfg *config.TransferConfig) *VelocityGuard {
	return &VelocityGuard{
		db:        db,
		redis:     rdb,
		accounts:  accounts,
		messenger: messenger,
		cfg:       cfg,
	}
}

// CheckSender evaluates the velocity rule for one sender. Called from the
// side-effect pipeline after each commit, never from the transfer path itself.
func (vg *VelocityGuard) CheckSender(ctx context.Context, senderID int64) error {
	since := time.Now().Add(-vg.cfg.VelocityWindow)

	var count int
	err := vg.db.QueryRowContext(ctx, `
		SELECT COUNT(*)
		FROM transfer_coins
		WHERE sender_id = $1 AND created_at > $2`, senderID, since).Scan(&count)
	if err != nil {
		return fmt.Errorf("failed to count transfers for %d: %w", senderID, err)
	}

	if count < vg.cfg.VelocityThreshold {
		return nil
	}

	whitelisted, err := vg.accounts.IsWhitelisted(ctx, senderID)
	if err != nil {
		return fmt.Errorf("failed to check whitelist for %d: %w", senderID, err)
	}
	if whitelisted {
		return nil
	}

	if err := vg.accounts.SetTransferBan(ctx, senderID, true); err != nil {
		return fmt.Errorf("failed to ban sender %d: %w", senderID, err)
	}

	// Informational marker so support tooling can see why the ban fired.
	if err := vg.redis.Set(ctx, fmt.Sprintf("transfer:banned:%d", senderID), count, vg.cfg.VelocityWindow).Err(); err != nil {
		log.Printf("[VELOCITY] failed to set ban marker for %d: %v", senderID, err)
	}

	log.Printf("[VELOCITY] sender %d banned: %d transfers in %s", senderID, count, vg.cfg.VelocityWindow)

	if vg.cfg.AdminChatID != 0 {
		if err := vg.messenger.Send(vg.cfg.AdminChatID,
			fmt.Sprintf("Transfer ban: user %d made %d transfers in %s", senderID, count, vg.cfg.VelocityWindow)); err != nil {
			log.Printf("[VELOCITY] admin notification failed: %v", err)
		}
	}
	if err := vg.messenger.Send(senderID,
		"Transfers from your account are temporarily disabled. Contact support."); err != nil {
		log.Printf("[VELOCITY] sender notification failed: %v", err)
	}

	return nil
}
