package services

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/go-redis/redis/v8"

	"github.com/coinclub/backend/internal/models"
)

var ErrNoWizard = errors.New("no active transfer wizard")

// WizardService drives the private two-stage transfer flow: pick a recipient,
// enter an amount. State is serialized JSON in Redis keyed by sender and has
// no TTL; it persists until the user completes, backs out, or aborts. There is
// no separate confirm step: the explicit recipient stage is the confirmation.
type WizardService struct {
	redis     *redis.Client
	accounts  *AccountService
	transfers *TransferService
}

func NewWizardService(rdb *redis.Client, accounts *AccountService, transfers *TransferService) *WizardService {
	return &WizardService{
		redis:     rdb,
		accounts:  accounts,
		transfers: transfers,
	}
}

func wizardKey(senderID int64) string {
	return fmt.Sprintf("transfer:wizard:%d", senderID)
}

func (ws *WizardService) save(ctx context.Context, senderID int64, state *models.WizardState) error {
	data, err := json.Marshal(state)
	if err != nil {
		return err
	}
	return ws.redis.Set(ctx, wizardKey(senderID), string(data), 0).Err()
}

// Start enters the wizard at the recipient stage.
func (ws *WizardService) Start(ctx context.Context, senderID int64) error {
	return ws.save(ctx, senderID, &models.WizardState{Stage: models.StageRecipient})
}

// Get loads the sender's wizard state, ErrNoWizard if none is active.
func (ws *WizardService) Get(ctx context.Context, senderID int64) (*models.WizardState, error) {
	data, err := ws.redis.Get(ctx, wizardKey(senderID)).Bytes()
	if err == redis.Nil {
		return nil, ErrNoWizard
	}
	if err != nil {
		return nil, err
	}
	var state models.WizardState
	if err := json.Unmarshal(data, &state); err != nil {
		return nil, fmt.Errorf("corrupt wizard state for %d: %w", senderID, err)
	}
	return &state, nil
}

// SubmitRecipient resolves the handle and advances to the amount stage. A
// resolution failure reports its reason code and the wizard stays where it is.
func (ws *WizardService) SubmitRecipient(ctx context.Context, senderID int64, handle string) (*models.WizardState, ReasonCode, error) {
	state, err := ws.Get(ctx, senderID)
	if err != nil {
		return nil, ReasonInternalError, err
	}
	if state.Stage != models.StageRecipient {
		return state, ReasonInternalError, fmt.Errorf("wizard for %d is in stage %q, not %q", senderID, state.Stage, models.StageRecipient)
	}

	recipientID, err := ws.accounts.ResolveIdentity(ctx, handle)
	if errors.Is(err, ErrAccountNotFound) {
		return state, ReasonRecipientUnregistered, nil
	}
	if err != nil {
		return state, ReasonInternalError, err
	}
	if recipientID == senderID {
		return state, ReasonSelfTransfer, nil
	}

	recipient, err := ws.accounts.GetAccount(ctx, recipientID)
	if errors.Is(err, ErrAccountNotFound) {
		return state, ReasonRecipientUnregistered, nil
	}
	if err != nil {
		return state, ReasonInternalError, err
	}
	if recipient.Banned {
		return state, ReasonRecipientBanned, nil
	}

	name := recipient.DisplayName
	if name == "" {
		name = recipient.Username
	}
	state = &models.WizardState{
		Stage:         models.StageAmount,
		RecipientID:   recipientID,
		RecipientName: name,
	}
	if err := ws.save(ctx, senderID, state); err != nil {
		return nil, ReasonInternalError, err
	}
	return state, ReasonAllowed, nil
}

// SubmitAmount parses the amount and executes the transfer. On success the
// wizard state is cleared; on any user-reportable failure the wizard stays in
// the amount stage so the sender can retry.
func (ws *WizardService) SubmitAmount(ctx context.Context, senderID int64, input string) (*models.TransferRecord, ReasonCode, error) {
	state, err := ws.Get(ctx, senderID)
	if err != nil {
		return nil, ReasonInternalError, err
	}
	if state.Stage != models.StageAmount {
		return nil, ReasonInternalError, fmt.Errorf("wizard for %d is in stage %q, not %q", senderID, state.Stage, models.StageAmount)
	}

	amount, err := strconv.ParseInt(strings.TrimSpace(input), 10, 64)
	if err != nil || amount <= 0 {
		return nil, ReasonInvalidAmount, nil
	}

	result := ws.transfers.CheckTransfer(ctx, senderID, state.RecipientID, amount)
	if !result.Allowed {
		return nil, result.Reason, nil
	}

	record, err := ws.transfers.Execute(ctx, senderID, state.RecipientID, amount)
	if err != nil {
		reason := ErrorReason(err)
		if reason == ReasonInternalError {
			return nil, reason, err
		}
		return nil, reason, nil
	}

	if err := ws.Clear(ctx, senderID); err != nil {
		// The transfer committed; a stale wizard key is only a UX nuisance.
		return record, ReasonAllowed, err
	}
	return record, ReasonAllowed, nil
}

// Back steps the wizard one stage back. From the amount stage it returns to
// recipient selection (dropping the chosen recipient); from the recipient
// stage it exits and returns nil state.
func (ws *WizardService) Back(ctx context.Context, senderID int64) (*models.WizardState, error) {
	state, err := ws.Get(ctx, senderID)
	if err != nil {
		return nil, err
	}
	if state.Stage == models.StageAmount {
		state = &models.WizardState{Stage: models.StageRecipient}
		if err := ws.save(ctx, senderID, state); err != nil {
			return nil, err
		}
		return state, nil
	}
	if err := ws.Clear(ctx, senderID); err != nil {
		return nil, err
	}
	return nil, nil
}

// Clear drops the wizard state entirely.
func (ws *WizardService) Clear(ctx context.Context, senderID int64) error {
	return ws.redis.Del(ctx, wizardKey(senderID)).Err()
}
