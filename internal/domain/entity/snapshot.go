package entity

import "math/big"

// TickerInfo is a live price attachment for one token on one chain.
type TickerInfo struct {
	PriceUSD     float64
	Change24Hour float64
	Currency     string
}

// AssignedTokenSnapshot is an immutable view of a token record plus an optional
// price ticker. Identity is the (contract, chain) key; the aggregate balance set
// collapses duplicates by that identity.
type AssignedTokenSnapshot struct {
	Key        TokenKey
	Name       string
	Symbol     string
	Decimals   uint8
	Type       TokenType
	RawBalance string
	Ticker     *TickerInfo
}

// SnapshotFromRecord builds a snapshot from the record's current state.
// The ticker may be nil when no price is known.
func SnapshotFromRecord(r TokenRecord, ticker *TickerInfo) AssignedTokenSnapshot {
	return AssignedTokenSnapshot{
		Key:        r.Key(),
		Name:       r.Name,
		Symbol:     r.Symbol,
		Decimals:   r.Decimals,
		Type:       r.Type,
		RawBalance: r.RawBalance(),
		Ticker:     ticker,
	}
}

// WalletBalance is the aggregate view over all enabled holdings of one wallet.
// It is always rebuilt from the store contents, never patched in place.
type WalletBalance struct {
	WalletAddress string
	Tokens        map[TokenKey]AssignedTokenSnapshot
}

// TotalValueUSD sums the priced portion of the balance. Tokens without a ticker
// contribute nothing.
func (b WalletBalance) TotalValueUSD() float64 {
	var total float64
	for _, snap := range b.Tokens {
		if snap.Ticker == nil {
			continue
		}
		total += snap.Ticker.PriceUSD * rawToFloat(snap.RawBalance, snap.Decimals)
	}
	return total
}

func rawToFloat(raw string, decimals uint8) float64 {
	amount, ok := new(big.Int).SetString(raw, 10)
	if !ok {
		return 0
	}
	divisor := new(big.Float).SetInt(new(big.Int).Exp(big.NewInt(10), big.NewInt(int64(decimals)), nil))
	value, _ := new(big.Float).Quo(new(big.Float).SetInt(amount), divisor).Float64()
	return value
}
