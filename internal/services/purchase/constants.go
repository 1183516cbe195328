package purchase

import "time"

const (
	// Confirmation markers outlive any realistic retry window.
	confirmationTTL = 90 * 24 * time.Hour

	confirmationKeyPrefix = "billing:purchase:confirmed:"
)
