package solana

import (
	"context"
	"fmt"
	"math/big"

	"github.com/shopspring/decimal"
)

// NativeAssetID selects the wallet's SOL balance. Any other asset ID is
// treated as an SPL token mint address.
const NativeAssetID = "SOL"

const lamportsDecimals = 9

// BalanceOracle reads wallet balances from a Solana RPC node.
type BalanceOracle struct {
	rpc RPCClient
}

// NewBalanceOracle creates a BalanceOracle backed by rpc.
func NewBalanceOracle(rpc RPCClient) *BalanceOracle {
	return &BalanceOracle{rpc: rpc}
}

// GetExternalBalance returns the wallet's balance of assetID in whole units.
func (o *BalanceOracle) GetExternalBalance(ctx context.Context, wallet, assetID string) (decimal.Decimal, error) {
	if assetID == "" || assetID == NativeAssetID {
		lamports, err := o.rpc.GetBalance(ctx, wallet)
		if err != nil {
			return decimal.Zero, fmt.Errorf("get balance: %w", err)
		}
		return decimal.NewFromBigInt(new(big.Int).SetUint64(lamports), -lamportsDecimals), nil
	}

	if err := ValidateAddress(assetID); err != nil {
		return decimal.Zero, fmt.Errorf("asset mint: %w", err)
	}
	accounts, err := o.rpc.GetTokenAccountsByOwner(ctx, wallet, assetID)
	if err != nil {
		return decimal.Zero, fmt.Errorf("get token accounts: %w", err)
	}

	total := decimal.Zero
	for _, a := range accounts {
		amount, err := decimal.NewFromString(a.Amount.Amount)
		if err != nil {
			return decimal.Zero, fmt.Errorf("token account %s amount %q: %w", a.Pubkey, a.Amount.Amount, err)
		}
		total = total.Add(amount.Shift(-a.Amount.Decimals))
	}
	return total, nil
}
