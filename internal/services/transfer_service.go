package services

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log"

	"github.com/coinclub/backend/internal/models"
)

var (
	ErrInvalidAmount     = errors.New("amount must be positive")
	ErrSelfTransfer      = errors.New("sender and recipient are the same account")
	ErrInsufficientFunds = errors.New("insufficient funds")
)

// Enqueuer receives committed transfer records for asynchronous side effects.
type Enqueuer interface {
	Enqueue(record *models.TransferRecord)
}

// TransferService owns the atomic debit+credit+log-append. It is the sole
// authority on whether a transfer happens; the eligibility checker only
// predicts the outcome.
type TransferService struct {
	db      *sql.DB
	checker *EligibilityChecker
	effects Enqueuer
}

func NewTransferService(db *sql.DB, checker *EligibilityChecker) *TransferService {
	return &TransferService{db: db, checker: checker}
}

// SetEffects attaches the side-effect pipeline. Wired once at startup; nil
// means committed transfers produce no notifications (used in tests).
func (ts *TransferService) SetEffects(effects Enqueuer) {
	ts.effects = effects
}

type lockedAccount struct {
	id    int64
	coins int64
}

// Execute debits the sender, credits the recipient and appends the transfer
// record in one database transaction. Both user rows are locked in ascending
// id order so two opposite transfers cannot deadlock. The balance check runs
// under the lock, which is what stops two concurrent transfers from the same
// sender from jointly overdrawing the account.
func (ts *TransferService) Execute(ctx context.Context, senderID, recipientID, amount int64) (*models.TransferRecord, error) {
	if amount <= 0 {
		return nil, ErrInvalidAmount
	}
	if senderID == recipientID {
		return nil, ErrSelfTransfer
	}

	tx, err := ts.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	firstLock, secondLock := senderID, recipientID
	if senderID > recipientID {
		firstLock, secondLock = recipientID, senderID
	}

	first, err := ts.lockAccount(ctx, tx, firstLock)
	if err != nil {
		return nil, err
	}
	second, err := ts.lockAccount(ctx, tx, secondLock)
	if err != nil {
		return nil, err
	}

	sender := first
	if sender.id != senderID {
		sender = second
	}

	if sender.coins < amount {
		return nil, ErrInsufficientFunds
	}

	// The coins >= $1 guard repeats the check inside the UPDATE itself, so
	// even a future caller that skips the row lock cannot drive the balance
	// negative.
	result, err := tx.ExecContext(ctx, `
		UPDATE users
		SET coins = coins - $1, updated_at = NOW()
		WHERE id = $2 AND coins >= $1`, amount, senderID)
	if err != nil {
		return nil, fmt.Errorf("failed to debit sender %d: %w", senderID, err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return nil, err
	}
	if affected == 0 {
		return nil, ErrInsufficientFunds
	}

	if _, err := tx.ExecContext(ctx, `
		UPDATE users
		SET coins = coins + $1, updated_at = NOW()
		WHERE id = $2`, amount, recipientID); err != nil {
		return nil, fmt.Errorf("failed to credit recipient %d: %w", recipientID, err)
	}

	record := &models.TransferRecord{
		SenderID:    senderID,
		RecipientID: recipientID,
		Amount:      amount,
	}
	err = tx.QueryRowContext(ctx, `
		INSERT INTO transfer_coins (sender_id, recipient_id, amount)
		VALUES ($1, $2, $3)
		RETURNING id, created_at`, senderID, recipientID, amount).
		Scan(&record.ID, &record.CreatedAt)
	if err != nil {
		return nil, fmt.Errorf("failed to append transfer record: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("failed to commit transfer: %w", err)
	}

	log.Printf("[TRANSFER] %d -> %d amount=%d record=%d", senderID, recipientID, amount, record.ID)

	if ts.effects != nil {
		ts.effects.Enqueue(record)
	}

	return record, nil
}

func (ts *TransferService) lockAccount(ctx context.Context, tx *sql.Tx, id int64) (*lockedAccount, error) {
	var account lockedAccount
	err := tx.QueryRowContext(ctx, `
		SELECT id, coins
		FROM users
		WHERE id = $1
		FOR UPDATE`, id).Scan(&account.id, &account.coins)
	if err == sql.ErrNoRows {
		return nil, ErrAccountNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to lock account %d: %w", id, err)
	}
	return &account, nil
}

// CheckTransfer is the read-only pre-flight exposed to callers.
func (ts *TransferService) CheckTransfer(ctx context.Context, senderID, recipientID, amount int64) AccessResult {
	return ts.checker.Check(ctx, senderID, recipientID, amount)
}

// SendCoins runs the eligibility check and, if it passes, executes the
// transfer. Execute re-validates under its locks regardless, so a stale check
// result can only turn into an error, never an overdraft.
func (ts *TransferService) SendCoins(ctx context.Context, senderID, recipientID, amount int64) (*models.TransferRecord, error) {
	result := ts.checker.Check(ctx, senderID, recipientID, amount)
	if !result.Allowed {
		return nil, ReasonError(result.Reason)
	}
	return ts.Execute(ctx, senderID, recipientID, amount)
}

// ListTransfers returns an account's transfer records, most recent first.
func (ts *TransferService) ListTransfers(ctx context.Context, accountID int64, direction models.TransferDirection, offset, limit int) ([]models.TransferRecord, error) {
	if limit <= 0 || limit > 100 {
		limit = 50
	}
	if offset < 0 {
		offset = 0
	}

	var where string
	switch direction {
	case models.DirectionIn:
		where = "recipient_id = $1"
	case models.DirectionOut:
		where = "sender_id = $1"
	case models.DirectionAll:
		where = "(sender_id = $1 OR recipient_id = $1)"
	default:
		return nil, fmt.Errorf("unknown transfer direction %q", direction)
	}

	rows, err := ts.db.QueryContext(ctx, `
		SELECT id, sender_id, recipient_id, amount, created_at
		FROM transfer_coins
		WHERE `+where+`
		ORDER BY id DESC
		LIMIT $2 OFFSET $3`, accountID, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("failed to list transfers for %d: %w", accountID, err)
	}
	defer rows.Close()

	var records []models.TransferRecord
	for rows.Next() {
		var r models.TransferRecord
		if err := rows.Scan(&r.ID, &r.SenderID, &r.RecipientID, &r.Amount, &r.CreatedAt); err != nil {
			return nil, err
		}
		records = append(records, r)
	}
	return records, rows.Err()
}

// ReasonError converts a denial reason into the matching sentinel error.
func ReasonError(reason ReasonCode) error {
	switch reason {
	case ReasonInvalidAmount:
		return ErrInvalidAmount
	case ReasonSelfTransfer:
		return ErrSelfTransfer
	case ReasonInsufficientFunds:
		return ErrInsufficientFunds
	case ReasonSenderUnregistered, ReasonRecipientUnregistered:
		return ErrAccountNotFound
	default:
		return fmt.Errorf("transfer not allowed: %s", reason)
	}
}

// ErrorReason is the inverse mapping, used by the chat flows to keep a single
// wording table for executor failures.
func ErrorReason(err error) ReasonCode {
	switch {
	case errors.Is(err, ErrInvalidAmount):
		return ReasonInvalidAmount
	case errors.Is(err, ErrSelfTransfer):
		return ReasonSelfTransfer
	case errors.Is(err, ErrInsufficientFunds):
		return ReasonInsufficientFunds
	case errors.Is(err, ErrAccountNotFound):
		return ReasonRecipientUnregistered
	default:
		return ReasonInternalError
	}
}
