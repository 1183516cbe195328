package wallet

// Default policy values
const (
	DefaultDailyAllotment        = 5
	DefaultRequiredProjectTokens = 5
)
