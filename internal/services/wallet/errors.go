package wallet

import "errors"

// Service errors
var (
	ErrWalletAlreadyActive = errors.New("an active wallet of this type already exists")
	ErrInvalidWalletType   = errors.New("invalid wallet type")
	ErrInvalidAmount       = errors.New("invalid amount")
)
