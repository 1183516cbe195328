package ledger

import "errors"

// Service errors
var (
	ErrWalletNotFound      = errors.New("wallet not found")
	ErrInsufficientBalance = errors.New("insufficient balance")
	ErrInvalidAmount       = errors.New("invalid amount")
	ErrWalletInactive      = errors.New("wallet is not active")
	ErrStorageConflict     = errors.New("storage conflict")
)
