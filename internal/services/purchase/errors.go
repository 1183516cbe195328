package purchase

import "errors"

var (
	ErrUnknownPack        = errors.New("unknown token pack")
	ErrPaymentNotComplete = errors.New("payment not complete")
	ErrIntentMismatch     = errors.New("payment intent does not belong to user")
	ErrAlreadyConfirmed   = errors.New("payment intent already confirmed")
)
