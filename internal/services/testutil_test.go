package services

import (
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/mock"

	"github.com/coinclub/backend/internal/config"
)

var accountTestColumns = []string{
	"id", "username", "display_name", "coins", "banned", "banned_transfer",
	"menu", "callback_url", "callback_secret", "created_at", "updated_at",
}

func accountRows(id, coins int64, banned, bannedTransfer bool) *sqlmock.Rows {
	return sqlmock.NewRows(accountTestColumns).
		AddRow(id, "player", "Player", coins, banned, bannedTransfer, "main", "", "", time.Now(), time.Now())
}

func accountRowsWithCallback(id, coins int64, url, secret string) *sqlmock.Rows {
	return sqlmock.NewRows(accountTestColumns).
		AddRow(id, "player", "Player", coins, false, false, "main", url, secret, time.Now(), time.Now())
}

const accountQuery = `SELECT id, username, display_name, coins, banned, banned_transfer, menu, (.+) FROM users WHERE id = \$1`

const lockQuery = `SELECT id, coins FROM users WHERE id = \$1 FOR UPDATE`

type MockMessenger struct {
	mock.Mock
}

func (m *MockMessenger) Send(chatID int64, text string) error {
	args := m.Called(chatID, text)
	return args.Error(0)
}

func testConfig() *config.TransferConfig {
	return &config.TransferConfig{
		PendingTTL:        60 * time.Second,
		VelocityWindow:    10 * time.Minute,
		VelocityThreshold: 50,
		CallbacksEnabled:  true,
		CallbackTimeout:   2 * time.Second,
		AdminChatID:       999,
		BotUsername:       "coinclub_test_bot",
		QueueSize:         16,
	}
}
