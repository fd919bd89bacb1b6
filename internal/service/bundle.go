package service

import (
	"sync/atomic"

	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"wallet_aggregator/internal/config"
	"wallet_aggregator/internal/domain/entity"
	"wallet_aggregator/internal/port"
	"wallet_aggregator/internal/store"
)

// Bundle owns the token store, balance fetcher and transaction store for one
// chain. Exactly one bundle exists per active chain; bundles for removed chains
// are torn down, not retained.
type Bundle struct {
	ChainID entity.ChainID
	Store   port.TokenStore
	TxStore port.TransactionStore
	Fetcher *Fetcher

	closed atomic.Bool
}

// NewBundle wires a fresh store, transaction store and fetcher for the chain.
// The delegate is the owner's narrow callback surface.
func NewBundle(
	network config.NetworkNode,
	wallet string,
	classifier port.ContractClassifier,
	delegate FetcherDelegate,
	minRefreshInterval rate.Limit,
	maxProbes int,
	logger *zap.Logger,
) *Bundle {
	chainID := entity.ChainID(network.ChainID)
	tokenStore := store.NewTokenStore(chainID, logger)
	txStore := store.NewTransactionStore()

	nativeName := network.Name
	if nativeName == "" {
		nativeName = network.NativeSymbol
	}
	fetcher := NewFetcher(
		chainID,
		wallet,
		nativeName,
		network.NativeSymbol,
		network.NativeDecimals,
		tokenStore,
		txStore,
		classifier,
		delegate,
		minRefreshInterval,
		maxProbes,
		logger,
	)

	return &Bundle{
		ChainID: chainID,
		Store:   tokenStore,
		TxStore: txStore,
		Fetcher: fetcher,
	}
}

// Close marks the bundle as torn down. In-flight detection runs against a
// closed bundle discard their results instead of committing.
func (b *Bundle) Close() {
	b.closed.Store(true)
}

// Closed reports whether the bundle has been torn down.
func (b *Bundle) Closed() bool {
	return b.closed.Load()
}
