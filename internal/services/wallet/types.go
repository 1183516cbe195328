package wallet

import (
	"sitegen/internal/models"
)

// Config holds the billing policy knobs.
type Config struct {
	// DailyAllotment is the balance a STANDARD wallet is restored to
	// by the daily reset.
	DailyAllotment int64
	// RequiredProjectTokens is the total balance a user needs to
	// create a project.
	RequiredProjectTokens int64
}

// TokenSummary aggregates a user's active, non-expired wallets.
// Derived on every call, never cached.
type TokenSummary struct {
	TotalBalance     int64           `json:"total_balance"`
	RequiredTokens   int64           `json:"required_tokens"`
	CanCreateProject bool            `json:"can_create_project"`
	Wallets          []models.Wallet `json:"wallets"`
}
