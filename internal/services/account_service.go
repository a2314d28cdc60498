package services

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/coinclub/backend/internal/models"
)

var ErrAccountNotFound = errors.New("account not found")

// AccountService is the read/write surface over the users table that the
// transfer core needs. General profile management lives elsewhere.
type AccountService struct {
	db *sql.DB
}

func NewAccountService(db *sql.DB) *AccountService {
	return &AccountService{db: db}
}

const accountColumns = `id, username, display_name, coins, banned, banned_transfer, menu,
		COALESCE(callback_url, ''), COALESCE(callback_secret, ''), created_at, updated_at`

func (s *AccountService) scanAccount(row *sql.Row) (*models.Account, error) {
	var a models.Account
	err := row.Scan(&a.ID, &a.Username, &a.DisplayName, &a.Coins, &a.Banned, &a.BannedTransfer,
		&a.Menu, &a.CallbackURL, &a.CallbackSecret, &a.CreatedAt, &a.UpdatedAt)
	if err == sql.ErrNoRows {
		return nil, ErrAccountNotFound
	}
	if err != nil {
		return nil, err
	}
	return &a, nil
}

func (s *AccountService) GetAccount(ctx context.Context, id int64) (*models.Account, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT `+accountColumns+`
		FROM users
		WHERE id = $1`, id)
	return s.scanAccount(row)
}

// EnsureAccount creates a user row on first contact. Existing rows keep their
// balance and flags; only the last-seen username is refreshed.
func (s *AccountService) EnsureAccount(ctx context.Context, id int64, username, displayName string) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO users (id, username, display_name, coins, banned, banned_transfer, menu, created_at, updated_at)
		VALUES ($1, $2, $3, 0, false, false, 'main', NOW(), NOW())
		ON CONFLICT (id) DO UPDATE SET username = $2, updated_at = NOW()`,
		id, strings.ToLower(username), displayName)
	if err != nil {
		return fmt.Errorf("failed to ensure account %d: %w", id, err)
	}
	return nil
}

// ResolveIdentity maps a user-supplied handle to an account id. Accepts a
// numeric id, an @username, or a bare name which falls back to a lookup by
// stored display name.
func (s *AccountService) ResolveIdentity(ctx context.Context, handle string) (int64, error) {
	handle = strings.TrimSpace(handle)
	if handle == "" {
		return 0, ErrAccountNotFound
	}

	if id, err := strconv.ParseInt(handle, 10, 64); err == nil {
		var exists bool
		if err := s.db.QueryRowContext(ctx,
			`SELECT EXISTS(SELECT 1 FROM users WHERE id = $1)`, id).Scan(&exists); err != nil {
			return 0, err
		}
		if !exists {
			return 0, ErrAccountNotFound
		}
		return id, nil
	}

	name := strings.ToLower(strings.TrimPrefix(handle, "@"))

	var id int64
	err := s.db.QueryRowContext(ctx,
		`SELECT id FROM users WHERE username = $1`, name).Scan(&id)
	if err == nil {
		return id, nil
	}
	if err != sql.ErrNoRows {
		return 0, err
	}

	err = s.db.QueryRowContext(ctx,
		`SELECT id FROM users WHERE LOWER(display_name) = $1 LIMIT 1`, name).Scan(&id)
	if err == sql.ErrNoRows {
		return 0, ErrAccountNotFound
	}
	if err != nil {
		return 0, err
	}
	return id, nil
}

func (s *AccountService) SetMenu(ctx context.Context, id int64, menu string) error {
	result, err := s.db.ExecContext(ctx,
		`UPDATE users SET menu = $1, updated_at = NOW() WHERE id = $2`, menu, id)
	if err != nil {
		return err
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return ErrAccountNotFound
	}
	return nil
}

// SetTransferBan flags an account so the eligibility checker refuses further
// outgoing transfers. Lifting the ban is an administrative action.
func (s *AccountService) SetTransferBan(ctx context.Context, id int64, banned bool) error {
	result, err := s.db.ExecContext(ctx,
		`UPDATE users SET banned_transfer = $1, updated_at = NOW() WHERE id = $2`, banned, id)
	if err != nil {
		return err
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return ErrAccountNotFound
	}
	return nil
}

// IsWhitelisted reports whether the account is exempt from the velocity guard.
func (s *AccountService) IsWhitelisted(ctx context.Context, id int64) (bool, error) {
	var exists bool
	err := s.db.QueryRowContext(ctx,
		`SELECT EXISTS(SELECT 1 FROM transfer_whitelist WHERE user_id = $1)`, id).Scan(&exists)
	return exists, err
}
