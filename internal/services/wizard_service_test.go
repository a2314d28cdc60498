package services

import (
	"context"
	"database/sql"
	"encoding/json"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/go-redis/redismock/v8"
	"github.com/stretchr/testify/assert"

	"github.com/coinclub/backend/internal/models"
)

func newWizardService(t *testing.T) (*WizardService, sqlmock.Sqlmock, redismock.ClientMock) {
	t.Helper()
	db, dbMock, err := sqlmock.New()
	assert.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	rdb, redisMock := redismock.NewClientMock()
	accounts := NewAccountService(db)
	transfers := NewTransferService(db, NewEligibilityChecker(accounts))
	return NewWizardService(rdb, accounts, transfers), dbMock, redisMock
}

func wizardJSON(t *testing.T, state models.WizardState) string {
	t.Helper()
	data, err := json.Marshal(state)
	assert.NoError(t, err)
	return string(data)
}

func TestWizardService_Start(t *testing.T) {
	service, _, redisMock := newWizardService(t)

	redisMock.Regexp().ExpectSet("transfer:wizard:100", `.*recipient.*`, 0).SetVal("OK")

	assert.NoError(t, service.Start(context.Background(), 100))
	assert.NoError(t, redisMock.ExpectationsWereMet())
}

func TestWizardService_Get(t *testing.T) {
	ctx := context.Background()

	t.Run("no active wizard", func(t *testing.T) {
		service, _, redisMock := newWizardService(t)
		redisMock.ExpectGet("transfer:wizard:100").RedisNil()

		_, err := service.Get(ctx, 100)
		assert.ErrorIs(t, err, ErrNoWizard)
	})

	t.Run("loads stored state", func(t *testing.T) {
		service, _, redisMock := newWizardService(t)
		redisMock.ExpectGet("transfer:wizard:100").SetVal(wizardJSON(t, models.WizardState{
			Stage:         models.StageAmount,
			RecipientID:   200,
			RecipientName: "Alice",
		}))

		state, err := service.Get(ctx, 100)
		assert.NoError(t, err)
		assert.Equal(t, models.StageAmount, state.Stage)
		assert.Equal(t, int64(200), state.RecipientID)
		assert.Equal(t, "Alice", state.RecipientName)
	})

	t.Run("corrupt state is an error", func(t *testing.T) {
		service, _, redisMock := newWizardService(t)
		redisMock.ExpectGet("transfer:wizard:100").SetVal("{not json")

		_, err := service.Get(ctx, 100)
		assert.Error(t, err)
		assert.NotErrorIs(t, err, ErrNoWizard)
	})
}

func TestWizardService_SubmitRecipient(t *testing.T) {
	ctx := context.Background()
	atRecipient := func(t *testing.T, redisMock redismock.ClientMock) {
		redisMock.ExpectGet("transfer:wizard:100").SetVal(wizardJSON(t, models.WizardState{Stage: models.StageRecipient}))
	}

	t.Run("username resolves and advances to amount stage", func(t *testing.T) {
		service, dbMock, redisMock := newWizardService(t)
		atRecipient(t, redisMock)
		dbMock.ExpectQuery(`SELECT id FROM users WHERE username = \$1`).WithArgs("alice").
			WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow(200))
		dbMock.ExpectQuery(accountQuery).WithArgs(int64(200)).
			WillReturnRows(accountRows(200, 10, false, false))
		redisMock.Regexp().ExpectSet("transfer:wizard:100", `.*amount.*`, 0).SetVal("OK")

		state, reason, err := service.SubmitRecipient(ctx, 100, "@Alice")
		assert.NoError(t, err)
		assert.Equal(t, ReasonAllowed, reason)
		assert.Equal(t, models.StageAmount, state.Stage)
		assert.Equal(t, int64(200), state.RecipientID)
		assert.NoError(t, dbMock.ExpectationsWereMet())
		assert.NoError(t, redisMock.ExpectationsWereMet())
	})

	t.Run("numeric id resolves", func(t *testing.T) {
		service, dbMock, redisMock := newWizardService(t)
		atRecipient(t, redisMock)
		dbMock.ExpectQuery(`SELECT EXISTS\(SELECT 1 FROM users WHERE id = \$1\)`).WithArgs(int64(200)).
			WillReturnRows(sqlmock.NewRows([]string{"exists"}).AddRow(true))
		dbMock.ExpectQuery(accountQuery).WithArgs(int64(200)).
			WillReturnRows(accountRows(200, 10, false, false))
		redisMock.Regexp().ExpectSet("transfer:wizard:100", `.*amount.*`, 0).SetVal("OK")

		state, reason, err := service.SubmitRecipient(ctx, 100, "200")
		assert.NoError(t, err)
		assert.Equal(t, ReasonAllowed, reason)
		assert.Equal(t, int64(200), state.RecipientID)
	})

	t.Run("unknown handle keeps the recipient stage", func(t *testing.T) {
		service, dbMock, redisMock := newWizardService(t)
		atRecipient(t, redisMock)
		dbMock.ExpectQuery(`SELECT id FROM users WHERE username = \$1`).WithArgs("nobody").
			WillReturnError(sql.ErrNoRows)
		dbMock.ExpectQuery(`SELECT id FROM users WHERE LOWER\(display_name\) = \$1 LIMIT 1`).WithArgs("nobody").
			WillReturnError(sql.ErrNoRows)

		state, reason, err := service.SubmitRecipient(ctx, 100, "@nobody")
		assert.NoError(t, err)
		assert.Equal(t, ReasonRecipientUnregistered, reason)
		assert.Equal(t, models.StageRecipient, state.Stage)
	})

	t.Run("self as recipient", func(t *testing.T) {
		service, dbMock, redisMock := newWizardService(t)
		atRecipient(t, redisMock)
		dbMock.ExpectQuery(`SELECT EXISTS\(SELECT 1 FROM users WHERE id = \$1\)`).WithArgs(int64(100)).
			WillReturnRows(sqlmock.NewRows([]string{"exists"}).AddRow(true))

		_, reason, err := service.SubmitRecipient(ctx, 100, "100")
		assert.NoError(t, err)
		assert.Equal(t, ReasonSelfTransfer, reason)
	})

	t.Run("banned recipient", func(t *testing.T) {
		service, dbMock, redisMock := newWizardService(t)
		atRecipient(t, redisMock)
		dbMock.ExpectQuery(`SELECT id FROM users WHERE username = \$1`).WithArgs("alice").
			WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow(200))
		dbMock.ExpectQuery(accountQuery).WithArgs(int64(200)).
			WillReturnRows(accountRows(200, 10, true, false))

		_, reason, err := service.SubmitRecipient(ctx, 100, "@alice")
		assert.NoError(t, err)
		assert.Equal(t, ReasonRecipientBanned, reason)
	})

	t.Run("wrong stage is an internal error", func(t *testing.T) {
		service, _, redisMock := newWizardService(t)
		redisMock.ExpectGet("transfer:wizard:100").SetVal(wizardJSON(t, models.WizardState{
			Stage:       models.StageAmount,
			RecipientID: 200,
		}))

		_, reason, err := service.SubmitRecipient(ctx, 100, "@alice")
		assert.Error(t, err)
		assert.Equal(t, ReasonInternalError, reason)
	})
}

func TestWizardService_SubmitAmount(t *testing.T) {
	ctx := context.Background()
	atAmount := func(t *testing.T, redisMock redismock.ClientMock) {
		redisMock.ExpectGet("transfer:wizard:100").SetVal(wizardJSON(t, models.WizardState{
			Stage:         models.StageAmount,
			RecipientID:   200,
			RecipientName: "Alice",
		}))
	}

	t.Run("valid amount executes and clears the wizard", func(t *testing.T) {
		service, dbMock, redisMock := newWizardService(t)
		atAmount(t, redisMock)
		dbMock.ExpectQuery(accountQuery).WithArgs(int64(100)).
			WillReturnRows(accountRows(100, 100, false, false))
		dbMock.ExpectQuery(accountQuery).WithArgs(int64(200)).
			WillReturnRows(accountRows(200, 10, false, false))
		dbMock.ExpectBegin()
		dbMock.ExpectQuery(lockQuery).WithArgs(int64(100)).
			WillReturnRows(sqlmock.NewRows([]string{"id", "coins"}).AddRow(100, 100))
		dbMock.ExpectQuery(lockQuery).WithArgs(int64(200)).
			WillReturnRows(sqlmock.NewRows([]string{"id", "coins"}).AddRow(200, 10))
		dbMock.ExpectExec(debitQuery).WithArgs(int64(25), int64(100)).
			WillReturnResult(sqlmock.NewResult(0, 1))
		dbMock.ExpectExec(creditQuery).WithArgs(int64(25), int64(200)).
			WillReturnResult(sqlmock.NewResult(0, 1))
		dbMock.ExpectQuery(insertQuery).WithArgs(int64(100), int64(200), int64(25)).
			WillReturnRows(sqlmock.NewRows([]string{"id", "created_at"}).AddRow(7, time.Now()))
		dbMock.ExpectCommit()
		redisMock.ExpectDel("transfer:wizard:100").SetVal(1)

		record, reason, err := service.SubmitAmount(ctx, 100, " 25 ")
		assert.NoError(t, err)
		assert.Equal(t, ReasonAllowed, reason)
		assert.Equal(t, int64(7), record.ID)
		assert.NoError(t, dbMock.ExpectationsWereMet())
		assert.NoError(t, redisMock.ExpectationsWereMet())
	})

	t.Run("garbage amount keeps the wizard", func(t *testing.T) {
		service, dbMock, redisMock := newWizardService(t)
		atAmount(t, redisMock)

		_, reason, err := service.SubmitAmount(ctx, 100, "lots")
		assert.NoError(t, err)
		assert.Equal(t, ReasonInvalidAmount, reason)
		assert.NoError(t, dbMock.ExpectationsWereMet())
	})

	t.Run("non-positive amount keeps the wizard", func(t *testing.T) {
		service, _, redisMock := newWizardService(t)
		atAmount(t, redisMock)

		_, reason, err := service.SubmitAmount(ctx, 100, "-5")
		assert.NoError(t, err)
		assert.Equal(t, ReasonInvalidAmount, reason)
	})

	t.Run("ineligible transfer keeps the wizard", func(t *testing.T) {
		service, dbMock, redisMock := newWizardService(t)
		atAmount(t, redisMock)
		dbMock.ExpectQuery(accountQuery).WithArgs(int64(100)).
			WillReturnRows(accountRows(100, 10, false, false))

		_, reason, err := service.SubmitAmount(ctx, 100, "25")
		assert.NoError(t, err)
		assert.Equal(t, ReasonInsufficientFunds, reason)
		assert.NoError(t, dbMock.ExpectationsWereMet())
	})

	t.Run("no active wizard", func(t *testing.T) {
		service, _, redisMock := newWizardService(t)
		redisMock.ExpectGet("transfer:wizard:100").RedisNil()

		_, reason, err := service.SubmitAmount(ctx, 100, "25")
		assert.ErrorIs(t, err, ErrNoWizard)
		assert.Equal(t, ReasonInternalError, reason)
	})
}

func TestWizardService_Back(t *testing.T) {
	ctx := context.Background()

	t.Run("from amount back to recipient", func(t *testing.T) {
		service, _, redisMock := newWizardService(t)
		redisMock.ExpectGet("transfer:wizard:100").SetVal(wizardJSON(t, models.WizardState{
			Stage:         models.StageAmount,
			RecipientID:   200,
			RecipientName: "Alice",
		}))
		redisMock.Regexp().ExpectSet("transfer:wizard:100", `.*recipient.*`, 0).SetVal("OK")

		state, err := service.Back(ctx, 100)
		assert.NoError(t, err)
		assert.Equal(t, models.StageRecipient, state.Stage)
		assert.Zero(t, state.RecipientID)
		assert.NoError(t, redisMock.ExpectationsWereMet())
	})

	t.Run("from recipient exits the wizard", func(t *testing.T) {
		service, _, redisMock := newWizardService(t)
		redisMock.ExpectGet("transfer:wizard:100").SetVal(wizardJSON(t, models.WizardState{Stage: models.StageRecipient}))
		redisMock.ExpectDel("transfer:wizard:100").SetVal(1)

		state, err := service.Back(ctx, 100)
		assert.NoError(t, err)
		assert.Nil(t, state)
		assert.NoError(t, redisMock.ExpectationsWereMet())
	})
}
