package ledger

// Transaction history pagination bounds.
const (
	DefaultHistoryLimit = 50
	MaxHistoryLimit     = 200
)
