package models

import "time"

// Account is the subset of the user record the transfer core cares about.
// Coins are integer-valued and never negative; the debit SQL enforces that,
// not the schema.
type Account struct {
	ID             int64     `json:"id" db:"id"`
	Username       string    `json:"username" db:"username"`
	DisplayName    string    `json:"displayName" db:"display_name"`
	Coins          int64     `json:"coins" db:"coins"`
	Banned         bool      `json:"banned" db:"banned"`
	BannedTransfer bool      `json:"bannedTransfer" db:"banned_transfer"`
	Menu           string    `json:"menu" db:"menu"`
	CallbackURL    string    `json:"callbackUrl,omitempty" db:"callback_url"`
	CallbackSecret string    `json:"-" db:"callback_secret"`
	CreatedAt      time.Time `json:"createdAt" db:"created_at"`
	UpdatedAt      time.Time `json:"updatedAt" db:"updated_at"`
}
