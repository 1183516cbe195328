package models

import (
	"time"
)

// WalletType identifies the bucket a token balance belongs to.
type WalletType string

const (
	WalletTypeStandard    WalletType = "STANDARD"
	WalletTypeBonus       WalletType = "BONUS"
	WalletTypePromotional WalletType = "PROMOTIONAL"
)

// ValidWalletType reports whether t is one of the known wallet types.
func ValidWalletType(t WalletType) bool {
	switch t {
	case WalletTypeStandard, WalletTypeBonus, WalletTypePromotional:
		return true
	}
	return false
}

// Wallet is a per-user token balance bucket. A user owns at most one
// active wallet per type; STANDARD is the primary wallet used for
// project-creation gating. Balances are mutated only through the ledger
// service, never written directly by callers.
type Wallet struct {
	ID             uint       `gorm:"primarykey" json:"id"`
	UserID         uint       `gorm:"not null;index:idx_wallets_user_type,priority:1" json:"user_id"`
	WalletType     WalletType `gorm:"type:varchar(32);not null;default:'STANDARD';index:idx_wallets_user_type,priority:2" json:"wallet_type"`
	BalanceTokens  int64      `gorm:"not null;default:0" json:"balance_tokens"`
	IsActive       bool       `gorm:"not null;default:true" json:"is_active"`
	LastTokenReset *time.Time `json:"last_token_reset"`
	ExpiresAt      *time.Time `json:"expires_at"`
	CreatedAt      time.Time  `json:"created_at"`
	UpdatedAt      time.Time  `json:"updated_at"`
}

// Expired reports whether the wallet has an expiry in the past.
func (w *Wallet) Expired(now time.Time) bool {
	return w.ExpiresAt != nil && w.ExpiresAt.Before(now)
}
