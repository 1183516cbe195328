package models

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// LedgerEntryType classifies a balance-changing event.
type LedgerEntryType string

const (
	EntryTypeAdminAdjustment LedgerEntryType = "ADMIN_ADJUSTMENT"
	EntryTypeDailyReset      LedgerEntryType = "DAILY_RESET"
	EntryTypeTokenPurchase   LedgerEntryType = "TOKEN_PURCHASE"
	EntryTypeProjectCreation LedgerEntryType = "PROJECT_CREATION_DEBIT"
	EntryTypeInitialGrant    LedgerEntryType = "INITIAL_GRANT"
	EntryTypeWalletExpiry    LedgerEntryType = "WALLET_EXPIRY"
)

// LedgerEntry is an immutable audit record of a single balance-changing
// event. Entries are append-only: summing Amount over a wallet's entries
// in created-at order reconstructs its current balance. An entry is only
// ever created inside the same database transaction as the balance
// mutation it describes.
type LedgerEntry struct {
	ID          uint            `gorm:"primarykey" json:"id"`
	Reference   string          `gorm:"type:uuid;uniqueIndex;not null" json:"reference"`
	UserID      uint            `gorm:"not null;index" json:"user_id"`
	WalletID    *uint           `gorm:"index:idx_ledger_wallet_created,priority:1" json:"wallet_id"`
	Amount      int64           `gorm:"not null" json:"amount"`
	Type        LedgerEntryType `gorm:"type:varchar(40);not null" json:"type"`
	Description string          `json:"description"`
	Metadata    JSON            `gorm:"type:jsonb" json:"metadata"`
	CreatedAt   time.Time       `gorm:"index:idx_ledger_wallet_created,priority:2" json:"created_at"`
}

func (e *LedgerEntry) BeforeCreate(tx *gorm.DB) error {
	if e.Reference == "" {
		e.Reference = uuid.NewString()
	}
	return nil
}
