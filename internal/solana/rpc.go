package solana

import "context"

// RPCClient is the subset of Solana JSON-RPC used for wallet balance lookups.
type RPCClient interface {
	// GetBalance returns the native balance of pubkey in lamports.
	GetBalance(ctx context.Context, pubkey string) (uint64, error)

	// GetTokenAccountsByOwner returns owner's SPL token accounts for mint.
	GetTokenAccountsByOwner(ctx context.Context, owner, mint string) ([]TokenAccount, error)
}

// TokenAccount is one SPL token account with its parsed balance.
type TokenAccount struct {
	Pubkey string
	Mint   string
	Owner  string
	Amount TokenAmount
}

// TokenAmount is a raw SPL amount and its mint decimals.
type TokenAmount struct {
	Amount   string // integer string in base units
	Decimals int32
}
