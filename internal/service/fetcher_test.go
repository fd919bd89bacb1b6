package service

import (
	"context"
	"math/big"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"wallet_aggregator/internal/config"
	"wallet_aggregator/internal/domain/entity"
)

func newTestBundle(t *testing.T, classifier *fakeClassifier, delegate FetcherDelegate, limit rate.Limit) *Bundle {
	t.Helper()
	return NewBundle(
		config.NetworkNode{ChainID: 1, Name: "Ethereum", NativeSymbol: "ETH", NativeDecimals: 18},
		testWallet,
		classifier,
		delegate,
		limit,
		4,
		zap.NewNop(),
	)
}

func TestRefreshBalance(t *testing.T) {
	t.Run("first refresh discovers the native record", func(t *testing.T) {
		classifier := newFakeClassifier()
		classifier.native = big.NewInt(123)
		delegate := &fakeDelegate{}
		bundle := newTestBundle(t, classifier, delegate, rate.Inf)

		require.NoError(t, bundle.Fetcher.RefreshBalance(context.Background(), RefreshNativeOnly, true))

		record, ok := bundle.Store.TokenByContract(entity.ZeroAddress)
		require.True(t, ok)
		assert.Equal(t, entity.TokenTypeNative, record.Type)
		assert.Equal(t, "123", record.RawBalance())
		assert.Equal(t, "ETH", record.Symbol)

		discovered, updated, failed := delegate.counts()
		assert.Equal(t, 1, discovered)
		assert.Equal(t, 0, updated)
		assert.Equal(t, 0, failed)
	})

	t.Run("changed native balance fires the update event and a delta", func(t *testing.T) {
		classifier := newFakeClassifier()
		classifier.native = big.NewInt(100)
		delegate := &fakeDelegate{}
		bundle := newTestBundle(t, classifier, delegate, rate.Inf)

		require.NoError(t, bundle.Fetcher.RefreshBalance(context.Background(), RefreshNativeOnly, true))
		classifier.mu.Lock()
		classifier.native = big.NewInt(250)
		classifier.mu.Unlock()
		require.NoError(t, bundle.Fetcher.RefreshBalance(context.Background(), RefreshNativeOnly, true))

		_, updated, _ := delegate.counts()
		assert.Equal(t, 1, updated)

		deltas := bundle.TxStore.Deltas(entity.ZeroAddress)
		require.Len(t, deltas, 1)
		assert.Equal(t, "100", deltas[0].Previous)
		assert.Equal(t, "250", deltas[0].Current)
	})

	t.Run("token refresh updates changed fungible balances only", func(t *testing.T) {
		classifier := newFakeClassifier()
		delegate := &fakeDelegate{}
		bundle := newTestBundle(t, classifier, delegate, rate.Inf)

		require.NoError(t, bundle.Store.CommitBatch([]entity.CommitRecord{
			entity.TokenCommit(entity.TokenRecord{
				ContractAddress: contractFungible, ChainID: 1, Symbol: "DAI", Decimals: 18,
				Type: entity.TokenTypeERC20, Amount: big.NewInt(10), Enabled: true,
			}),
		}))
		classifier.balances[contractFungible] = big.NewInt(99)

		require.NoError(t, bundle.Fetcher.RefreshBalance(context.Background(), RefreshTokensOnly, true))

		record, _ := bundle.Store.TokenByContract(contractFungible)
		assert.Equal(t, "99", record.RawBalance())
		_, updated, _ := delegate.counts()
		assert.Equal(t, 1, updated)

		// Unchanged balance on the next pass: no further update event.
		require.NoError(t, bundle.Fetcher.RefreshBalance(context.Background(), RefreshTokensOnly, true))
		_, updated, _ = delegate.counts()
		assert.Equal(t, 1, updated)
	})

	t.Run("staleness guard skips unforced refreshes", func(t *testing.T) {
		classifier := newFakeClassifier()
		classifier.native = big.NewInt(1)
		delegate := &fakeDelegate{}
		// One refresh per hour: the second unforced call must be skipped.
		bundle := newTestBundle(t, classifier, delegate, rate.Every(time.Hour))

		require.NoError(t, bundle.Fetcher.RefreshBalance(context.Background(), RefreshNativeOnly, false))
		require.NoError(t, bundle.Fetcher.RefreshBalance(context.Background(), RefreshNativeOnly, false))

		discovered, _, _ := delegate.counts()
		assert.Equal(t, 1, discovered)

		// force bypasses the guard.
		classifier.mu.Lock()
		classifier.native = big.NewInt(2)
		classifier.mu.Unlock()
		require.NoError(t, bundle.Fetcher.RefreshBalance(context.Background(), RefreshNativeOnly, true))
		_, updated, _ := delegate.counts()
		assert.Equal(t, 1, updated)
	})
}
