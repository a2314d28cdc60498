package services

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/google/uuid"

	"github.com/coinclub/backend/internal/config"
	"github.com/coinclub/backend/internal/models"
)

// CallbackPayload is the JSON body delivered to a recipient's endpoint.
type CallbackPayload struct {
	DeliveryID  string    `json:"deliveryId"`
	RecordID    int64     `json:"id"`
	SenderID    int64     `json:"senderId"`
	RecipientID int64     `json:"recipientId"`
	Amount      int64     `json:"amount"`
	CreatedAt   time.Time `json:"createdAt"`
}

// CallbackService delivers signed transfer notifications to registered
// endpoints. The signature is HMAC-SHA256 over the exact request body with
// the recipient's secret, hex-encoded in the X-Signature header.
type CallbackService struct {
	client *http.Client
	cfg    *config.TransferConfig
}

func NewCallbackService(cfg *config.TransferConfig) *CallbackService {
	return &CallbackService{
		client: &http.Client{Timeout: cfg.CallbackTimeout},
		cfg:    cfg,
	}
}

func (cb *CallbackService) Enabled() bool {
	return cb.cfg.CallbacksEnabled
}

// Sign computes the hex HMAC-SHA256 of payload under secret.
func (cb *CallbackService) Sign(payload []byte, secret string) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(payload)
	return hex.EncodeToString(mac.Sum(nil))
}

// Deliver posts the signed record to url. Any failure is the caller's to log;
// a committed transfer is never affected by the outcome.
func (cb *CallbackService) Deliver(ctx context.Context, record *models.TransferRecord, url, secret string) error {
	payload := CallbackPayload{
		DeliveryID:  uuid.NewString(),
		RecordID:    record.ID,
		SenderID:    record.SenderID,
		RecipientID: record.RecipientID,
		Amount:      record.Amount,
		CreatedAt:   record.CreatedAt,
	}

	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("failed to marshal callback payload: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("failed to build callback request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Signature", cb.Sign(body, secret))
	req.Header.Set("X-Delivery-Id", payload.DeliveryID)

	resp, err := cb.client.Do(req)
	if err != nil {
		return fmt.Errorf("callback delivery to %s failed: %w", url, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("callback endpoint %s returned %d", url, resp.StatusCode)
	}
	return nil
}
