package ledger

import (
	"sitegen/internal/models"
)

// RecordParams describes a single balance-changing event. Amount is
// signed: positive credits, negative debits. WalletID may be nil for
// user-level entries recorded before any wallet exists (for example an
// admin note); no balance is touched in that case.
type RecordParams struct {
	UserID      uint
	WalletID    *uint
	Amount      int64
	Type        models.LedgerEntryType
	Description string
	Metadata    map[string]interface{}
}

// ReconcileReport compares a wallet's live balance against the replayed
// sum of its ledger entries.
type ReconcileReport struct {
	WalletID      uint  `json:"wallet_id"`
	BalanceTokens int64 `json:"balance_tokens"`
	LedgerSum     int64 `json:"ledger_sum"`
	Consistent    bool  `json:"consistent"`
}
