package domain

// AccountUpdate is one notification from the account-update stream.
type AccountUpdate struct {
	Pubkey  string // watched account (obligation or reserve)
	Slot    uint64 // ledger slot of the update
	Payload []byte // raw account data, decoded elsewhere
}

// PriceUpdate is one notification from the price stream, already resolved
// from the oracle account to the asset mint it prices.
type PriceUpdate struct {
	Mint    string // asset mint the oracle prices
	Pubkey  string // oracle account pubkey
	Slot    uint64 // ledger slot of the update
	Payload []byte // raw oracle account data
}
