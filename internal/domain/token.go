package domain

// Mint is a fungible token definition.
type Mint struct {
	Address   Address `json:"address"`
	Authority Address `json:"authority"`
	Supply    uint64  `json:"supply"`
	Decimals  uint8   `json:"decimals"`
}

// TokenAccount holds one owner's balance of one mint.
type TokenAccount struct {
	Address Address `json:"address"`
	Mint    Address `json:"mint"`
	Owner   Address `json:"owner"`
	Amount  uint64  `json:"amount"`
}
