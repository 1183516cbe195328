package purchase

// Pack is a purchasable bundle of generation tokens.
type Pack struct {
	ID         string `json:"id"`
	Tokens     int64  `json:"tokens"`
	PriceCents int64  `json:"price_cents"`
	Currency   string `json:"currency"`
}

// Packs lists the purchasable bundles in display order.
var Packs = []Pack{
	{ID: "starter", Tokens: 25, PriceCents: 500, Currency: "usd"},
	{ID: "builder", Tokens: 100, PriceCents: 1500, Currency: "usd"},
	{ID: "studio", Tokens: 500, PriceCents: 5000, Currency: "usd"},
}

func packByID(id string) (Pack, bool) {
	for _, p := range Packs {
		if p.ID == id {
			return p, true
		}
	}
	return Pack{}, false
}

// PurchaseIntent is returned to the client so it can complete the
// payment with Stripe.js using the client secret.
type PurchaseIntent struct {
	IntentID     string `json:"intent_id"`
	ClientSecret string `json:"client_secret"`
	Pack         Pack   `json:"pack"`
}

// ConfirmResult reports the outcome of a confirmed purchase.
type ConfirmResult struct {
	IntentID      string `json:"intent_id"`
	TokensGranted int64  `json:"tokens_granted"`
}
