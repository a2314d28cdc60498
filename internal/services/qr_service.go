package services

import (
	"bytes"
	"encoding/base64"
	"fmt"
	"image/png"
	"strconv"
	"strings"

	"github.com/skip2/go-qrcode"

	"github.com/coinclub/backend/internal/config"
)

// QRService builds receive-coins deep links. Scanning the QR opens the bot
// with a start payload that drops the payer straight into the transfer
// wizard's amount stage for the encoded recipient.
type QRService struct {
	cfg *config.TransferConfig
}

func NewQRService(cfg *config.TransferConfig) *QRService {
	return &QRService{cfg: cfg}
}

const receivePrefix = "pay_"

// ReceiveLink returns the t.me deep link for receiving coins.
func (s *QRService) ReceiveLink(userID int64) string {
	return fmt.Sprintf("https://t.me/%s?start=%s%d", s.cfg.BotUsername, receivePrefix, userID)
}

// ReceiveQR renders the receive link as a base64-encoded PNG.
func (s *QRService) ReceiveQR(userID int64) (string, error) {
	qr, err := qrcode.New(s.ReceiveLink(userID), qrcode.Medium)
	if err != nil {
		return "", err
	}

	var buf bytes.Buffer
	if err := png.Encode(&buf, qr.Image(256)); err != nil {
		return "", err
	}

	return base64.StdEncoding.EncodeToString(buf.Bytes()), nil
}

// ParseStartPayload extracts the recipient id from a /start deep-link
// payload, reporting ok=false for anything that is not a receive link.
func (s *QRService) ParseStartPayload(payload string) (int64, bool) {
	if !strings.HasPrefix(payload, receivePrefix) {
		return 0, false
	}
	id, err := strconv.ParseInt(strings.TrimPrefix(payload, receivePrefix), 10, 64)
	if err != nil || id <= 0 {
		return 0, false
	}
	return id, true
}
