package service

import (
	"context"
	"fmt"
	"math/big"
	"sync"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"

	"wallet_aggregator/internal/domain/entity"
	"wallet_aggregator/internal/port"
)

// RefreshPolicy selects which subset of holdings a refresh re-fetches.
type RefreshPolicy int

const (
	// RefreshAll re-fetches native and token balances.
	RefreshAll RefreshPolicy = iota
	// RefreshNativeOnly re-fetches only the native-currency balance.
	RefreshNativeOnly
	// RefreshTokensOnly re-fetches only non-native token balances.
	RefreshTokensOnly
)

// FetcherDelegate is the narrow callback surface a fetcher holds toward its
// owner. No lifetime ownership is implied.
type FetcherDelegate interface {
	// TokensDiscovered fires when the fetcher inserted a record that was not
	// in the store before.
	TokensDiscovered(chain entity.ChainID)
	// BalancesUpdated fires when at least one existing balance changed.
	BalancesUpdated(chain entity.ChainID)
	// FetchFailed reports a refresh that could not complete.
	FetchFailed(chain entity.ChainID, err error)
}

// Fetcher refreshes balances of one chain's holdings against the network and
// writes the results into the bundle's token store.
type Fetcher struct {
	chainID        entity.ChainID
	wallet         string
	nativeName     string
	nativeSymbol   string
	nativeDecimals uint8

	store      port.TokenStore
	txStore    port.TransactionStore
	classifier port.ContractClassifier
	delegate   FetcherDelegate
	logger     *zap.Logger

	// limiter is the staleness guard: unforced refreshes inside the window are
	// no-ops, so an overlapping timer tick costs nothing. force bypasses it.
	limiter   *rate.Limiter
	maxProbes int
}

// NewFetcher creates a fetcher for one chain.
func NewFetcher(
	chainID entity.ChainID,
	wallet string,
	nativeName string,
	nativeSymbol string,
	nativeDecimals uint8,
	store port.TokenStore,
	txStore port.TransactionStore,
	classifier port.ContractClassifier,
	delegate FetcherDelegate,
	minRefreshInterval rate.Limit,
	maxProbes int,
	logger *zap.Logger,
) *Fetcher {
	if maxProbes <= 0 {
		maxProbes = 1
	}
	return &Fetcher{
		chainID:        chainID,
		wallet:         wallet,
		nativeName:     nativeName,
		nativeSymbol:   nativeSymbol,
		nativeDecimals: nativeDecimals,
		store:          store,
		txStore:        txStore,
		classifier:     classifier,
		delegate:       delegate,
		logger:         logger.Named("Fetcher").With(zap.Uint64("chainID", uint64(chainID))),
		limiter:        rate.NewLimiter(minRefreshInterval, 1),
		maxProbes:      maxProbes,
	}
}

// RefreshBalance re-fetches the selected subset of holdings. With force=false
// a refresh inside the staleness window is skipped.
func (f *Fetcher) RefreshBalance(ctx context.Context, policy RefreshPolicy, force bool) error {
	if !force && !f.limiter.Allow() {
		f.logger.Debug("Refresh skipped by staleness guard")
		return nil
	}

	var discovered, updated bool
	var firstErr error

	if policy == RefreshAll || policy == RefreshNativeOnly {
		d, u, err := f.refreshNative(ctx)
		discovered = discovered || d
		updated = updated || u
		if err != nil {
			firstErr = err
		}
	}
	if policy == RefreshAll || policy == RefreshTokensOnly {
		u, err := f.refreshTokens(ctx)
		updated = updated || u
		if err != nil && firstErr == nil {
			firstErr = err
		}
	}

	if discovered {
		f.delegate.TokensDiscovered(f.chainID)
	}
	if updated {
		f.delegate.BalancesUpdated(f.chainID)
	}
	if firstErr != nil {
		f.delegate.FetchFailed(f.chainID, firstErr)
		return firstErr
	}
	return nil
}

// refreshNative fetches the native-currency balance, creating the native record
// on first sight.
func (f *Fetcher) refreshNative(ctx context.Context) (discovered, updated bool, err error) {
	balance, err := f.classifier.NativeBalance(ctx, f.chainID, f.wallet)
	if err != nil {
		return false, false, fmt.Errorf("native balance refresh failed: %w", err)
	}

	existing, ok := f.store.TokenByContract(entity.ZeroAddress)
	if !ok {
		record := entity.TokenRecord{
			ContractAddress: entity.ZeroAddress,
			ChainID:         f.chainID,
			Name:            f.nativeName,
			Symbol:          f.nativeSymbol,
			Decimals:        f.nativeDecimals,
			Type:            entity.TokenTypeNative,
			Amount:          balance,
			Enabled:         true,
		}
		if err := f.store.CommitBatch([]entity.CommitRecord{entity.TokenCommit(record)}); err != nil {
			return false, false, err
		}
		return true, false, nil
	}

	if existing.Amount != nil && existing.Amount.Cmp(balance) == 0 {
		return false, false, nil
	}
	f.txStore.RecordDelta(entity.ZeroAddress, existing.RawBalance(), balance.String())
	f.store.UpdateRecord(entity.ZeroAddress, entity.BalanceChanged, func(record *entity.TokenRecord) {
		record.Amount = balance
	})
	return false, true, nil
}

// refreshTokens re-fetches every enabled non-native record concurrently.
// Per-token failures are isolated; the first error is reported after the pass.
func (f *Fetcher) refreshTokens(ctx context.Context) (bool, error) {
	tokens := f.store.EnabledTokens()

	type fetchResult struct {
		contract string
		previous string
		balance  *big.Int
	}

	results := make(chan fetchResult, len(tokens))
	eg, egCtx := errgroup.WithContext(ctx)
	eg.SetLimit(f.maxProbes)

	var errMu sync.Mutex
	var firstErr error
	for _, token := range tokens {
		// Owned-ID sets of non-fungible holdings are maintained by the
		// detection engine; the fetcher only tracks scalar balances.
		if !token.Type.IsFungible() || token.Type == entity.TokenTypeNative {
			continue
		}
		tok := token
		eg.Go(func() error {
			balance, err := f.classifier.BalanceOf(egCtx, tok.ContractAddress, f.chainID, f.wallet, tok.Type)
			if err != nil {
				f.logger.Warn("Token balance refresh failed",
					zap.String("contract", tok.ContractAddress), zap.Error(err))
				errMu.Lock()
				if firstErr == nil {
					firstErr = err
				}
				errMu.Unlock()
				return nil // isolate per-token failures
			}
			results <- fetchResult{contract: tok.ContractAddress, previous: tok.RawBalance(), balance: balance}
			return nil
		})
	}
	_ = eg.Wait()
	close(results)

	var updated bool
	for res := range results {
		if res.balance.String() == res.previous {
			continue
		}
		f.txStore.RecordDelta(res.contract, res.previous, res.balance.String())
		balance := res.balance
		f.store.UpdateRecord(res.contract, entity.BalanceChanged, func(record *entity.TokenRecord) {
			record.Amount = balance
		})
		updated = true
	}
	return updated, firstErr
}
