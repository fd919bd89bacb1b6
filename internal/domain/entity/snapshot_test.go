package entity

import (
	"math/big"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestRawBalance(t *testing.T) {
	t.Run("fungible", func(t *testing.T) {
		rec := TokenRecord{Type: TokenTypeERC20, Amount: big.NewInt(500)}
		assert.Equal(t, "500", rec.RawBalance())

		rec.Amount = nil
		assert.Equal(t, "0", rec.RawBalance())
	})

	t.Run("non-fungible counts owned IDs", func(t *testing.T) {
		rec := TokenRecord{Type: TokenTypeERC721, OwnedIDs: []string{"1", "7", "42"}}
		assert.Equal(t, "3", rec.RawBalance())
		assert.True(t, rec.HasBalance())

		rec.OwnedIDs = nil
		assert.Equal(t, "0", rec.RawBalance())
		assert.False(t, rec.HasBalance())
	})
}

func TestSnapshotFromRecord(t *testing.T) {
	rec := TokenRecord{
		ContractAddress: "0x000000000000000000000000000000000000000a",
		ChainID:         1,
		Name:            "Dai Stablecoin",
		Symbol:          "DAI",
		Decimals:        18,
		Type:            TokenTypeERC20,
		Amount:          big.NewInt(1000),
		Enabled:         true,
	}
	ticker := &TickerInfo{PriceUSD: 1.0, Currency: "USD"}

	snap := SnapshotFromRecord(rec, ticker)
	assert.Equal(t, rec.Key(), snap.Key)
	assert.Equal(t, "1000", snap.RawBalance)
	assert.Same(t, ticker, snap.Ticker)

	unpriced := SnapshotFromRecord(rec, nil)
	assert.Nil(t, unpriced.Ticker)
}

func TestTotalValueUSD(t *testing.T) {
	ethKey := TokenKey{ContractAddress: ZeroAddress, ChainID: 1}
	daiKey := TokenKey{ContractAddress: "0x000000000000000000000000000000000000000a", ChainID: 1}
	nftKey := TokenKey{ContractAddress: "0x000000000000000000000000000000000000000b", ChainID: 1}

	balance := WalletBalance{
		WalletAddress: "0x00000000000000000000000000000000000000aa",
		Tokens: map[TokenKey]AssignedTokenSnapshot{
			// 2 ETH at 3000 USD.
			ethKey: {
				Key: ethKey, Decimals: 18, Type: TokenTypeNative,
				RawBalance: "2000000000000000000",
				Ticker:     &TickerInfo{PriceUSD: 3000},
			},
			// 150.5 DAI at 1 USD.
			daiKey: {
				Key: daiKey, Decimals: 18, Type: TokenTypeERC20,
				RawBalance: "150500000000000000000",
				Ticker:     &TickerInfo{PriceUSD: 1},
			},
			// Unpriced holding contributes nothing.
			nftKey: {
				Key: nftKey, Type: TokenTypeERC721, RawBalance: "3",
			},
		},
	}

	assert.InDelta(t, 6150.5, balance.TotalValueUSD(), 1e-9)
}
