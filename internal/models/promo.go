package models

import "time"

// PromoCode is an administratively created code crediting a fixed reward.
type PromoCode struct {
	Code      string    `json:"code" db:"code"`
	Reward    int64     `json:"reward" db:"reward"`
	MaxUses   int       `json:"maxUses" db:"max_uses"`
	Uses      int       `json:"uses" db:"uses"`
	CreatedAt time.Time `json:"createdAt" db:"created_at"`
}
