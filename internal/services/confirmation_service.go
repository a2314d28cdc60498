package services

import (
	"context"
	"errors"
	"fmt"
	"log"

	"github.com/go-redis/redis/v8"

	"github.com/coinclub/backend/internal/config"
	"github.com/coinclub/backend/internal/models"
)

var (
	// ErrOfferExpired covers both a lapsed TTL and a marker consumed by an
	// earlier button press; the user sees "data outdated" either way.
	ErrOfferExpired = errors.New("transfer offer expired")
	// ErrOfferPending means an identical offer is already awaiting a decision.
	ErrOfferPending = errors.New("transfer offer already pending")
)

// ConfirmationService runs the in-chat confirm/reject handshake. The pending
// marker lives in Redis keyed by the (sender, recipient, amount) triple, and
// its TTL is the only timeout mechanism: nothing actively expires offers, the
// next Confirm or Reject simply finds the key gone.
type ConfirmationService struct {
	redis     *redis.Client
	transfers *TransferService
	checker   *EligibilityChecker
	cfg       *config.TransferConfig
}

func NewConfirmationService(rdb *redis.Client, transfers *TransferService, checker *EligibilityChecker, cfg *config.TransferConfig) *ConfirmationService {
	return &ConfirmationService{
		redis:     rdb,
		transfers: transfers,
		checker:   checker,
		cfg:       cfg,
	}
}

func pendingKey(senderID, recipientID, amount int64) string {
	return fmt.Sprintf("transfer:pending:%d:%d:%d", senderID, recipientID, amount)
}

// Propose checks eligibility and, if the transfer is allowed, stores the
// pending marker. SET NX doubles as a duplicate guard: re-proposing the same
// triple while an offer is live returns ErrOfferPending.
func (cs *ConfirmationService) Propose(ctx context.Context, senderID, recipientID, amount int64) (AccessResult, error) {
	result := cs.checker.Check(ctx, senderID, recipientID, amount)
	if !result.Allowed {
		return result, nil
	}

	ok, err := cs.redis.SetNX(ctx, pendingKey(senderID, recipientID, amount), "1", cs.cfg.PendingTTL).Result()
	if err != nil {
		log.Printf("[CONFIRM] failed to store pending marker for %d->%d: %v", senderID, recipientID, err)
		return denied(ReasonInternalError), err
	}
	if !ok {
		return result, ErrOfferPending
	}
	return result, nil
}

// Confirm consumes the pending marker and executes the transfer. The marker
// is deleted before anything else so a duplicate button tap cannot execute
// twice: the second tap finds no marker and gets ErrOfferExpired. Eligibility
// is re-checked because the world may have changed during the wait.
func (cs *ConfirmationService) Confirm(ctx context.Context, senderID, recipientID, amount int64) (*models.TransferRecord, error) {
	deleted, err := cs.redis.Del(ctx, pendingKey(senderID, recipientID, amount)).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to consume pending marker: %w", err)
	}
	if deleted == 0 {
		return nil, ErrOfferExpired
	}

	result := cs.checker.Check(ctx, senderID, recipientID, amount)
	if !result.Allowed {
		return nil, ReasonError(result.Reason)
	}

	return cs.transfers.Execute(ctx, senderID, recipientID, amount)
}

// Reject deletes the pending marker without touching the ledger.
func (cs *ConfirmationService) Reject(ctx context.Context, senderID, recipientID, amount int64) error {
	deleted, err := cs.redis.Del(ctx, pendingKey(senderID, recipientID, amount)).Result()
	if err != nil {
		return fmt.Errorf("failed to delete pending marker: %w", err)
	}
	if deleted == 0 {
		return ErrOfferExpired
	}
	return nil
}
