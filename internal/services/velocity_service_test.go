package services

import (
	"context"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/go-redis/redismock/v8"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
)

const countQuery = `SELECT COUNT\(\*\) FROM transfer_coins WHERE sender_id = \$1 AND created_at > \$2`
const whitelistQuery = `SELECT EXISTS\(SELECT 1 FROM transfer_whitelist WHERE user_id = \$1\)`
const banQuery = `UPDATE users SET banned_transfer = \$1, updated_at = NOW\(\) WHERE id = \$2`

func newVelocityGuard(t *testing.T) (*VelocityGuard, sqlmock.Sqlmock, redismock.ClientMock, *MockMessenger) {
	t.Helper()
	db, dbMock, err := sqlmock.New()
	assert.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	rdb, redisMock := redismock.NewClientMock()
	messenger := new(MockMessenger)
	guard := NewVelocityGuard(db, rdb, NewAccountService(db), messenger, testConfig())
	return guard, dbMock, redisMock, messenger
}

func TestVelocityGuard_CheckSender(t *testing.T) {
	ctx := context.Background()
	cfg := testConfig()

	t.Run("below threshold does nothing", func(t *testing.T) {
		guard, dbMock, redisMock, messenger := newVelocityGuard(t)

		dbMock.ExpectQuery(countQuery).WithArgs(int64(100), sqlmock.AnyArg()).
			WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(cfg.VelocityThreshold - 1))

		assert.NoError(t, guard.CheckSender(ctx, 100))
		assert.NoError(t, dbMock.ExpectationsWereMet())
		assert.NoError(t, redisMock.ExpectationsWereMet())
		messenger.AssertNotCalled(t, "Send", mock.Anything, mock.Anything)
	})

	t.Run("at threshold bans and notifies", func(t *testing.T) {
		guard, dbMock, redisMock, messenger := newVelocityGuard(t)

		dbMock.ExpectQuery(countQuery).WithArgs(int64(100), sqlmock.AnyArg()).
			WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(cfg.VelocityThreshold))
		dbMock.ExpectQuery(whitelistQuery).WithArgs(int64(100)).
			WillReturnRows(sqlmock.NewRows([]string{"exists"}).AddRow(false))
		dbMock.ExpectExec(banQuery).WithArgs(true, int64(100)).
			WillReturnResult(sqlmock.NewResult(0, 1))
		redisMock.Regexp().ExpectSet("transfer:banned:100", `\d+`, cfg.VelocityWindow).SetVal("OK")
		messenger.On("Send", cfg.AdminChatID, mock.Anything).Return(nil)
		messenger.On("Send", int64(100), mock.Anything).Return(nil)

		assert.NoError(t, guard.CheckSender(ctx, 100))
		assert.NoError(t, dbMock.ExpectationsWereMet())
		assert.NoError(t, redisMock.ExpectationsWereMet())
		messenger.AssertExpectations(t)
	})

	t.Run("whitelisted sender is exempt", func(t *testing.T) {
		guard, dbMock, redisMock, messenger := newVelocityGuard(t)

		dbMock.ExpectQuery(countQuery).WithArgs(int64(100), sqlmock.AnyArg()).
			WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(cfg.VelocityThreshold + 20))
		dbMock.ExpectQuery(whitelistQuery).WithArgs(int64(100)).
			WillReturnRows(sqlmock.NewRows([]string{"exists"}).AddRow(true))

		assert.NoError(t, guard.CheckSender(ctx, 100))
		assert.NoError(t, dbMock.ExpectationsWereMet())
		assert.NoError(t, redisMock.ExpectationsWereMet())
		messenger.AssertNotCalled(t, "Send", mock.Anything, mock.Anything)
	})

	t.Run("notification failure does not undo the ban", func(t *testing.T) {
		guard, dbMock, redisMock, messenger := newVelocityGuard(t)

		dbMock.ExpectQuery(countQuery).WithArgs(int64(100), sqlmock.AnyArg()).
			WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(cfg.VelocityThreshold))
		dbMock.ExpectQuery(whitelistQuery).WithArgs(int64(100)).
			WillReturnRows(sqlmock.NewRows([]string{"exists"}).AddRow(false))
		dbMock.ExpectExec(banQuery).WithArgs(true, int64(100)).
			WillReturnResult(sqlmock.NewResult(0, 1))
		redisMock.Regexp().ExpectSet("transfer:banned:100", `\d+`, cfg.VelocityWindow).SetVal("OK")
		messenger.On("Send", mock.Anything, mock.Anything).Return(assert.AnError)

		assert.NoError(t, guard.CheckSender(ctx, 100))
		assert.NoError(t, dbMock.ExpectationsWereMet())
	})

	t.Run("count failure surfaces", func(t *testing.T) {
		guard, dbMock, _, _ := newVelocityGuard(t)

		dbMock.ExpectQuery(countQuery).WithArgs(int64(100), sqlmock.AnyArg()).
			WillReturnError(assert.AnError)

		assert.Error(t, guard.CheckSender(ctx, 100))
	})
}
