package service

import (
	"context"
	"math/big"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"wallet_aggregator/internal/config"
	"wallet_aggregator/internal/domain/entity"
)

func testConfig() *config.Config {
	return &config.Config{
		Wallet: config.WalletConfig{
			Address:                testWallet,
			RefreshIntervalSeconds: 60,
			AutoFetch:              true,
		},
		Networks: []config.NetworkNode{
			{ChainID: 1, Name: "Ethereum", NativeSymbol: "ETH", NativeDecimals: 18},
			{ChainID: 56, Name: "BNB Chain", NativeSymbol: "BNB", NativeDecimals: 18},
		},
		Detection:   config.DetectionConfig{MaxConcurrentProbes: 2},
		Performance: config.PerformanceConfig{MaxConcurrentRoutines: 4},
	}
}

func newTestAggregator(t *testing.T) (*Aggregator, *fakeClassifier) {
	t.Helper()
	classifier := newFakeClassifier()
	aggregator := NewAggregator(
		testConfig(),
		classifier,
		nil,
		&fakeHistory{},
		newMemCheckpoints(),
		zap.NewNop(),
	)
	return aggregator, classifier
}

func seedToken(t *testing.T, a *Aggregator, chain entity.ChainID, contract, symbol string, amount int64) {
	t.Helper()
	bundle, ok := a.Bundle(chain)
	require.True(t, ok)
	require.NoError(t, bundle.Store.CommitBatch([]entity.CommitRecord{
		entity.TokenCommit(entity.TokenRecord{
			ContractAddress: contract,
			ChainID:         chain,
			Symbol:          symbol,
			Decimals:        18,
			Type:            entity.TokenTypeERC20,
			Amount:          big.NewInt(amount),
			Enabled:         true,
		}),
	}))
}

func TestUpdateServers(t *testing.T) {
	t.Run("reconciliation is idempotent", func(t *testing.T) {
		a, _ := newTestAggregator(t)
		a.UpdateServers([]entity.ChainID{1, 56})

		first, ok := a.Bundle(1)
		require.True(t, ok)
		second, ok := a.Bundle(56)
		require.True(t, ok)

		a.UpdateServers([]entity.ChainID{1, 56})

		again1, _ := a.Bundle(1)
		again56, _ := a.Bundle(56)
		assert.Same(t, first, again1)
		assert.Same(t, second, again56)
	})

	t.Run("removed chain loses bundle, subscriptions and balance share", func(t *testing.T) {
		a, _ := newTestAggregator(t)
		a.UpdateServers([]entity.ChainID{1, 56})
		seedToken(t, a, 1, contractFungible, "DAI", 100)
		seedToken(t, a, 56, contractPartner, "CAKE", 200)

		removedSub := a.SubscribeTokenBalance(contractPartner, 56)
		keptSub := a.SubscribeTokenBalance(contractFungible, 1)
		kept1, _ := a.Bundle(1)

		a.UpdateServers([]entity.ChainID{1})

		_, ok := a.Bundle(56)
		assert.False(t, ok)

		// Removed chain's observable is closed.
		select {
		case _, open := <-removedSub:
			// Drain the initial emission, then expect closure.
			if open {
				_, open = <-removedSub
				assert.False(t, open)
			}
		case <-time.After(time.Second):
			t.Fatal("removed subscription was not closed")
		}

		// The surviving chain is untouched.
		again1, _ := a.Bundle(1)
		assert.Same(t, kept1, again1)
		select {
		case snap := <-keptSub:
			require.NotNil(t, snap)
			assert.Equal(t, "DAI", snap.Symbol)
		case <-time.After(time.Second):
			t.Fatal("kept subscription lost its value")
		}

		balance := a.CurrentBalance()
		assert.Len(t, balance.Tokens, 1)
		_, has56 := balance.Tokens[entity.TokenKey{ContractAddress: contractPartner, ChainID: 56}]
		assert.False(t, has56)
	})

	t.Run("unknown chain is ignored", func(t *testing.T) {
		a, _ := newTestAggregator(t)
		a.UpdateServers([]entity.ChainID{999})
		assert.Empty(t, a.ActiveChains())
	})
}

func TestCurrentBalance(t *testing.T) {
	t.Run("native holding without ticker", func(t *testing.T) {
		a, _ := newTestAggregator(t)
		a.UpdateServers([]entity.ChainID{1})

		bundle, _ := a.Bundle(1)
		amount, _ := new(big.Int).SetString("1000000000000000000", 10)
		require.NoError(t, bundle.Store.CommitBatch([]entity.CommitRecord{
			entity.TokenCommit(entity.TokenRecord{
				ContractAddress: entity.ZeroAddress,
				ChainID:         1,
				Name:            "Ethereum",
				Symbol:          "ETH",
				Decimals:        18,
				Type:            entity.TokenTypeNative,
				Amount:          amount,
				Enabled:         true,
			}),
		}))

		balance := a.CurrentBalance()
		require.Len(t, balance.Tokens, 1)
		snap := balance.Tokens[entity.TokenKey{ContractAddress: entity.ZeroAddress, ChainID: 1}]
		assert.Equal(t, "1000000000000000000", snap.RawBalance)
		assert.Nil(t, snap.Ticker)
		assert.Zero(t, balance.TotalValueUSD())
	})

	t.Run("pure function of store and tickers", func(t *testing.T) {
		a, _ := newTestAggregator(t)
		a.UpdateServers([]entity.ChainID{1})
		seedToken(t, a, 1, contractFungible, "DAI", 100)

		first := a.CurrentBalance()
		second := a.CurrentBalance()
		assert.Equal(t, first, second)
	})

	t.Run("identity deduplicates across recomputation", func(t *testing.T) {
		a, _ := newTestAggregator(t)
		a.UpdateServers([]entity.ChainID{1})
		seedToken(t, a, 1, contractFungible, "DAI", 100)
		// Re-commit the same contract with a new balance: still one snapshot.
		seedToken(t, a, 1, contractFungible, "DAI", 300)

		balance := a.CurrentBalance()
		require.Len(t, balance.Tokens, 1)
		snap := balance.Tokens[entity.TokenKey{ContractAddress: contractFungible, ChainID: 1}]
		assert.Equal(t, "300", snap.RawBalance)
	})
}

func TestTokenSubscriptions(t *testing.T) {
	t.Run("unsubscribe then resubscribe creates a fresh observer", func(t *testing.T) {
		a, _ := newTestAggregator(t)
		a.UpdateServers([]entity.ChainID{1})
		seedToken(t, a, 1, contractFungible, "DAI", 100)

		first := a.SubscribeTokenBalance(contractFungible, 1)
		<-first // initial emission
		a.UnsubscribeTokenBalance(contractFungible, 1)
		_, open := <-first
		assert.False(t, open)

		second := a.SubscribeTokenBalance(contractFungible, 1)
		snap := <-second
		require.NotNil(t, snap)
		assert.Equal(t, "100", snap.RawBalance)

		// A store mutation reaches the fresh observer only.
		bundle, _ := a.Bundle(1)
		bundle.Store.UpdateRecord(contractFungible, entity.BalanceChanged, func(record *entity.TokenRecord) {
			record.Amount = big.NewInt(500)
		})
		select {
		case snap := <-second:
			require.NotNil(t, snap)
			assert.Equal(t, "500", snap.RawBalance)
		case <-time.After(time.Second):
			t.Fatal("fresh observer did not receive the update")
		}
	})

	t.Run("same key returns the cached observable", func(t *testing.T) {
		a, _ := newTestAggregator(t)
		a.UpdateServers([]entity.ChainID{1})
		seedToken(t, a, 1, contractFungible, "DAI", 100)

		first := a.SubscribeTokenBalance(contractFungible, 1)
		second := a.SubscribeTokenBalance(contractFungible, 1)
		assert.Equal(t, first, second)
	})

	t.Run("unknown chain emits nil without panicking", func(t *testing.T) {
		a, _ := newTestAggregator(t)
		ch := a.SubscribeTokenBalance(contractFungible, 999)
		select {
		case snap := <-ch:
			assert.Nil(t, snap)
		case <-time.After(time.Second):
			t.Fatal("expected an immediate nil emission")
		}
	})

	t.Run("subscription placed before the chain activates attaches on activation", func(t *testing.T) {
		a, _ := newTestAggregator(t)
		ch := a.SubscribeTokenBalance(contractPartner, 56)
		assert.Nil(t, <-ch)

		a.UpdateServers([]entity.ChainID{56})
		seedToken(t, a, 56, contractPartner, "CAKE", 200)

		select {
		case snap := <-ch:
			require.NotNil(t, snap)
			assert.Equal(t, "CAKE", snap.Symbol)
			assert.Equal(t, "200", snap.RawBalance)
		case <-time.After(time.Second):
			t.Fatal("observable stayed silent after the chain activated")
		}

		// The attached entry tears down like any other on chain removal.
		a.UpdateServers(nil)
		_, open := <-ch
		assert.False(t, open)
	})

	t.Run("unsubscribe of absent key is a no-op", func(t *testing.T) {
		a, _ := newTestAggregator(t)
		a.UnsubscribeTokenBalance(contractFungible, 1)
	})
}

func TestRefreshAllBalances(t *testing.T) {
	a, classifier := newTestAggregator(t)
	classifier.native = big.NewInt(5)
	a.UpdateServers([]entity.ChainID{1})
	seedToken(t, a, 1, contractFungible, "DAI", 100)
	classifier.mu.Lock()
	classifier.balances[contractFungible] = big.NewInt(250)
	classifier.mu.Unlock()

	// One combined pass covers both the native record and token balances.
	a.RefreshAllBalances(context.Background())

	bundle, ok := a.Bundle(1)
	require.True(t, ok)
	native, ok := bundle.Store.TokenByContract(entity.ZeroAddress)
	require.True(t, ok)
	assert.Equal(t, "5", native.RawBalance())
	token, ok := bundle.Store.TokenByContract(contractFungible)
	require.True(t, ok)
	assert.Equal(t, "250", token.RawBalance())
}

func TestStartStop(t *testing.T) {
	a, classifier := newTestAggregator(t)
	classifier.native = big.NewInt(1)
	a.UpdateServers([]entity.ChainID{1})

	assert.False(t, a.IsRunning())
	a.Start()
	assert.True(t, a.IsRunning())

	// Start while running only resets the timer.
	a.Start()
	assert.True(t, a.IsRunning())

	a.Stop()
	assert.False(t, a.IsRunning())
	a.Stop()
	assert.False(t, a.IsRunning())
}

func TestWalletBalanceObservable(t *testing.T) {
	a, _ := newTestAggregator(t)
	a.UpdateServers([]entity.ChainID{1})

	sub := a.SubscribeWalletBalance()
	seedToken(t, a, 1, contractFungible, "DAI", 100)

	// A commit alone does not publish; publication happens on the
	// recomputation path.
	a.BalancesUpdated(1)

	select {
	case balance := <-sub:
		assert.Equal(t, testWallet, balance.WalletAddress)
		assert.Len(t, balance.Tokens, 1)
	case <-time.After(time.Second):
		t.Fatal("wallet balance observable did not emit")
	}
}
