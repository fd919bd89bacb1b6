package service

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"wallet_aggregator/internal/config"
	"wallet_aggregator/internal/domain/entity"
	"wallet_aggregator/internal/metrics"
	"wallet_aggregator/internal/port"
)

// watchlistSetter is implemented by ticker sources that want to know which
// tokens are worth pricing.
type watchlistSetter interface {
	SetWatchlist(keys []entity.TokenKey)
}

// tokenSubscription is one per-token subscription cache entry. At most one
// entry exists per (contract, chain) key.
type tokenSubscription struct {
	key     entity.TokenKey
	ch      chan *entity.AssignedTokenSnapshot
	store   port.TokenStore
	handle  uint64
	watched bool
}

// Aggregator is the top-level wallet balance orchestrator. It owns the set of
// per-chain service bundles, the periodic refresh timer, the per-token
// subscription cache and the aggregate balance observable.
//
// All bundle-set mutations, subscription-cache mutations and balance
// recomputations are serialized on the aggregator mutex.
type Aggregator struct {
	wallet     string
	logger     *zap.Logger
	classifier port.ContractClassifier
	ticker     port.TickerSource
	engine     *DetectionEngine

	interval   time.Duration
	autoFetch  bool
	fetchLimit int
	networks   map[entity.ChainID]config.NetworkNode

	mu         sync.Mutex
	bundles    map[entity.ChainID]*Bundle
	tokenSubs  map[entity.TokenKey]*tokenSubscription
	walletSubs []chan entity.WalletBalance
	timerStop  chan struct{}
	running    bool
}

// NewAggregator creates the aggregator for one wallet. Networks passed here
// define the universe UpdateServers can activate.
func NewAggregator(
	cfg *config.Config,
	classifier port.ContractClassifier,
	tickerSource port.TickerSource,
	history port.InteractionHistoryProvider,
	checkpoints port.CheckpointStore,
	logger *zap.Logger,
) *Aggregator {
	networks := make(map[entity.ChainID]config.NetworkNode, len(cfg.Networks))
	for _, n := range cfg.Networks {
		networks[entity.ChainID(n.ChainID)] = n
	}

	a := &Aggregator{
		wallet:     cfg.Wallet.Address,
		logger:     logger.Named("Aggregator"),
		classifier: classifier,
		ticker:     tickerSource,
		interval:   time.Duration(cfg.Wallet.RefreshIntervalSeconds) * time.Second,
		autoFetch:  cfg.Wallet.AutoFetch,
		fetchLimit: cfg.Performance.MaxConcurrentRoutines,
		networks:   networks,
		bundles:    make(map[entity.ChainID]*Bundle),
		tokenSubs:  make(map[entity.TokenKey]*tokenSubscription),
	}
	a.engine = NewDetectionEngine(
		classifier,
		history,
		checkpoints,
		cfg.Detection.MaxConcurrentProbes,
		func() string { return a.wallet },
		a.tokensChanged,
		logger,
	)
	if tickerSource != nil {
		tickerSource.OnUpdate(a.tickerUpdated)
	}
	return a
}

// Wallet returns the tracked wallet address.
func (a *Aggregator) Wallet() string { return a.wallet }

// Start arms the recurring refresh and performs one immediately. Calling Start
// while running only resets the timer.
func (a *Aggregator) Start() {
	a.mu.Lock()
	if a.running {
		close(a.timerStop)
	}
	a.running = true
	stop := make(chan struct{})
	a.timerStop = stop
	a.mu.Unlock()

	a.logger.Info("Aggregator started", zap.Duration("interval", a.interval))
	go a.runTimer(stop)
	go a.refreshCycle(context.Background(), RefreshAll, true)
}

// Stop cancels the refresh timer. Idempotent.
func (a *Aggregator) Stop() {
	a.mu.Lock()
	defer a.mu.Unlock()
	if !a.running {
		return
	}
	close(a.timerStop)
	a.running = false
	a.logger.Info("Aggregator stopped")
}

// IsRunning reflects timer validity.
func (a *Aggregator) IsRunning() bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.running
}

func (a *Aggregator) runTimer(stop chan struct{}) {
	ticker := time.NewTicker(a.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			if !a.autoFetch {
				metrics.RefreshCycles.WithLabelValues("skipped").Inc()
				continue
			}
			// Overlap with a slow previous cycle is tolerated here; the
			// per-chain staleness guard turns the extra tick into a no-op.
			a.refreshCycle(context.Background(), RefreshAll, false)
		case <-stop:
			return
		}
	}
}

// UpdateServers reconciles the active bundles to exactly match desired.
// Existing bundles for still-desired chains are left untouched, preserving
// their caches and subscriptions.
func (a *Aggregator) UpdateServers(desired []entity.ChainID) {
	a.mu.Lock()

	want := make(map[entity.ChainID]struct{}, len(desired))
	for _, chain := range desired {
		want[chain] = struct{}{}
	}

	var added, removed int
	for chain, bundle := range a.bundles {
		if _, ok := want[chain]; ok {
			continue
		}
		bundle.Close()
		delete(a.bundles, chain)
		a.dropChainSubscriptionsLocked(chain)
		removed++
	}
	for chain := range want {
		if _, ok := a.bundles[chain]; ok {
			continue
		}
		network, ok := a.networks[chain]
		if !ok {
			a.logger.Warn("Ignoring unknown chain in UpdateServers", zap.Uint64("chainID", uint64(chain)))
			continue
		}
		bundle := NewBundle(
			network,
			a.wallet,
			a.classifier,
			a, // the aggregator is the fetcher's delegate
			minRefreshLimit(a.interval),
			a.fetchLimit,
			a.logger,
		)
		a.bundles[chain] = bundle
		a.attachChainSubscriptionsLocked(chain, bundle)
		added++
	}
	metrics.ActiveBundles.Set(float64(len(a.bundles)))
	a.mu.Unlock()

	if added > 0 || removed > 0 {
		a.logger.Info("Bundles reconciled", zap.Int("added", added), zap.Int("removed", removed))
		a.recomputeAndPublish()
	}
}

// attachChainSubscriptionsLocked wires the store observer for every cache entry
// created before the chain had a bundle, then emits the current view so the
// observable stops being silent once the token shows up.
func (a *Aggregator) attachChainSubscriptionsLocked(chain entity.ChainID, bundle *Bundle) {
	for key, sub := range a.tokenSubs {
		if key.ChainID != chain || sub.watched {
			continue
		}
		sub.store = bundle.Store
		sub.handle = bundle.Store.Subscribe(func(change entity.TokenChange) {
			if change.Key == key {
				a.pushTokenSnapshot(key)
			}
		})
		sub.watched = true
		sendLatestSnapshot(sub.ch, a.snapshotForKeyLocked(key))
	}
}

// dropChainSubscriptionsLocked tears down every subscription cache entry of a
// removed chain: observer handles released, channels closed, keys reusable.
func (a *Aggregator) dropChainSubscriptionsLocked(chain entity.ChainID) {
	for key, sub := range a.tokenSubs {
		if key.ChainID != chain {
			continue
		}
		if sub.watched {
			sub.store.Unsubscribe(sub.handle)
		}
		close(sub.ch)
		delete(a.tokenSubs, key)
	}
	metrics.SubscriptionCacheSize.Set(float64(len(a.tokenSubs)))
}

// RefreshEthBalance forces an immediate native-balance refresh on all bundles.
func (a *Aggregator) RefreshEthBalance(ctx context.Context) {
	a.refreshCycle(ctx, RefreshNativeOnly, true)
}

// RefreshTokenBalances forces an immediate token-balance refresh on all bundles.
func (a *Aggregator) RefreshTokenBalances(ctx context.Context) {
	a.refreshCycle(ctx, RefreshTokensOnly, true)
}

// RefreshAllBalances forces one combined native-and-token refresh cycle, the
// same shape the timer runs.
func (a *Aggregator) RefreshAllBalances(ctx context.Context) {
	a.refreshCycle(ctx, RefreshAll, true)
}

// refreshCycle refreshes every bundle and kicks the detection phases.
// The bundle list is snapshotted so the mutex is not held across network calls.
func (a *Aggregator) refreshCycle(ctx context.Context, policy RefreshPolicy, force bool) {
	started := time.Now()

	a.mu.Lock()
	bundles := make([]*Bundle, 0, len(a.bundles))
	for _, bundle := range a.bundles {
		bundles = append(bundles, bundle)
	}
	a.mu.Unlock()

	var wg sync.WaitGroup
	var failed bool
	var failedMu sync.Mutex
	for _, bundle := range bundles {
		b := bundle
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := b.Fetcher.RefreshBalance(ctx, policy, force); err != nil {
				failedMu.Lock()
				failed = true
				failedMu.Unlock()
			}
		}()

		if policy != RefreshNativeOnly {
			wallet := a.wallet
			go a.engine.DetectTransactedTokens(ctx, b, wallet, entity.TokenClassERC20)
			go a.engine.DetectTransactedTokens(ctx, b, wallet, entity.TokenClassNonERC20)
			if network, ok := a.networks[b.ChainID]; ok && len(network.PartnerTokens) > 0 {
				go a.engine.DetectPartnerTokens(ctx, b, wallet, network.PartnerTokens)
			}
		}
	}
	wg.Wait()

	metrics.RefreshSeconds.Observe(time.Since(started).Seconds())
	if failed {
		metrics.RefreshCycles.WithLabelValues("failed").Inc()
	} else {
		metrics.RefreshCycles.WithLabelValues("success").Inc()
	}
	a.recomputeAndPublish()
}

// CurrentBalance recomputes the aggregate balance from the current store
// contents plus the current ticker map. Pure with respect to those inputs.
func (a *Aggregator) CurrentBalance() entity.WalletBalance {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.currentBalanceLocked()
}

func (a *Aggregator) currentBalanceLocked() entity.WalletBalance {
	balance := entity.WalletBalance{
		WalletAddress: a.wallet,
		Tokens:        make(map[entity.TokenKey]entity.AssignedTokenSnapshot),
	}
	for _, bundle := range a.bundles {
		for _, record := range bundle.Store.EnabledTokens() {
			var tickerInfo *entity.TickerInfo
			if a.ticker != nil {
				if info, ok := a.ticker.Ticker(record.Key()); ok {
					tickerInfo = &info
				}
			}
			// Set semantics: duplicates by (contract, chain) identity collapse.
			balance.Tokens[record.Key()] = entity.SnapshotFromRecord(record, tickerInfo)
		}
	}
	metrics.BalanceRecomputations.Inc()
	return balance
}

// SubscribeWalletBalance returns an observable receiving every recomputed
// aggregate balance. Slow consumers see the latest value, not every
// intermediate one.
func (a *Aggregator) SubscribeWalletBalance() <-chan entity.WalletBalance {
	a.mu.Lock()
	defer a.mu.Unlock()
	ch := make(chan entity.WalletBalance, 1)
	a.walletSubs = append(a.walletSubs, ch)
	return ch
}

// SubscribeTokenBalance returns the per-token observable for the key, creating
// the cache entry and the underlying store observer on first call. Unknown
// chains or contracts yield an observable that emits nil until the token
// becomes available.
func (a *Aggregator) SubscribeTokenBalance(contract string, chain entity.ChainID) <-chan *entity.AssignedTokenSnapshot {
	key := entity.TokenKey{ContractAddress: contract, ChainID: chain}

	a.mu.Lock()
	defer a.mu.Unlock()

	if sub, ok := a.tokenSubs[key]; ok {
		return sub.ch
	}

	sub := &tokenSubscription{
		key: key,
		ch:  make(chan *entity.AssignedTokenSnapshot, 1),
	}
	if bundle, ok := a.bundles[chain]; ok {
		sub.store = bundle.Store
		sub.handle = bundle.Store.Subscribe(func(change entity.TokenChange) {
			if change.Key == key {
				a.pushTokenSnapshot(key)
			}
		})
		sub.watched = true
	}
	a.tokenSubs[key] = sub
	metrics.SubscriptionCacheSize.Set(float64(len(a.tokenSubs)))

	// Emit the current view immediately; nil when the token is not enabled yet.
	sendLatestSnapshot(sub.ch, a.snapshotForKeyLocked(key))
	return sub.ch
}

// UnsubscribeTokenBalance releases the observer and clears the cache entry.
// Idempotent on absent keys.
func (a *Aggregator) UnsubscribeTokenBalance(contract string, chain entity.ChainID) {
	key := entity.TokenKey{ContractAddress: contract, ChainID: chain}

	a.mu.Lock()
	defer a.mu.Unlock()

	sub, ok := a.tokenSubs[key]
	if !ok {
		return
	}
	if sub.watched {
		sub.store.Unsubscribe(sub.handle)
	}
	close(sub.ch)
	delete(a.tokenSubs, key)
	metrics.SubscriptionCacheSize.Set(float64(len(a.tokenSubs)))
}

func (a *Aggregator) snapshotForKeyLocked(key entity.TokenKey) *entity.AssignedTokenSnapshot {
	bundle, ok := a.bundles[key.ChainID]
	if !ok {
		return nil
	}
	record, ok := bundle.Store.TokenByContract(key.ContractAddress)
	if !ok || !record.Enabled {
		return nil
	}
	var tickerInfo *entity.TickerInfo
	if a.ticker != nil {
		if info, ok := a.ticker.Ticker(key); ok {
			tickerInfo = &info
		}
	}
	snapshot := entity.SnapshotFromRecord(record, tickerInfo)
	return &snapshot
}

func (a *Aggregator) pushTokenSnapshot(key entity.TokenKey) {
	a.mu.Lock()
	defer a.mu.Unlock()
	sub, ok := a.tokenSubs[key]
	if !ok {
		return
	}
	sendLatestSnapshot(sub.ch, a.snapshotForKeyLocked(key))
}

// recomputeAndPublish rebuilds the aggregate balance and pushes it to all
// wallet-balance observers. Serialized on the aggregator mutex so concurrent
// recomputations cannot interleave.
func (a *Aggregator) recomputeAndPublish() {
	a.mu.Lock()
	balance := a.currentBalanceLocked()
	subs := append([]chan entity.WalletBalance(nil), a.walletSubs...)

	keys := make([]entity.TokenKey, 0, len(balance.Tokens))
	for key := range balance.Tokens {
		keys = append(keys, key)
	}
	a.mu.Unlock()

	if setter, ok := a.ticker.(watchlistSetter); ok && setter != nil {
		setter.SetWatchlist(keys)
	}
	for _, ch := range subs {
		sendLatestBalance(ch, balance)
	}
}

// tokensChanged is the detection engine's commit signal.
func (a *Aggregator) tokensChanged(chain entity.ChainID) {
	a.logger.Debug("Tokens changed", zap.Uint64("chainID", uint64(chain)))
	a.recomputeAndPublish()
}

// tickerUpdated is the price source's update notification.
func (a *Aggregator) tickerUpdated() {
	a.recomputeAndPublish()
}

// TokensDiscovered implements FetcherDelegate.
func (a *Aggregator) TokensDiscovered(chain entity.ChainID) {
	a.logger.Debug("Fetcher discovered tokens", zap.Uint64("chainID", uint64(chain)))
	a.recomputeAndPublish()
}

// BalancesUpdated implements FetcherDelegate.
func (a *Aggregator) BalancesUpdated(chain entity.ChainID) {
	a.recomputeAndPublish()
}

// FetchFailed implements FetcherDelegate. Transient failures leave the views
// stale until the next successful cycle; nothing surfaces to observers.
func (a *Aggregator) FetchFailed(chain entity.ChainID, err error) {
	a.logger.Warn("Balance fetch failed", zap.Uint64("chainID", uint64(chain)), zap.Error(err))
}

// ActiveChains returns the chains with a live bundle.
func (a *Aggregator) ActiveChains() []entity.ChainID {
	a.mu.Lock()
	defer a.mu.Unlock()
	chains := make([]entity.ChainID, 0, len(a.bundles))
	for chain := range a.bundles {
		chains = append(chains, chain)
	}
	return chains
}

// Bundle returns the bundle for a chain, if active.
func (a *Aggregator) Bundle(chain entity.ChainID) (*Bundle, bool) {
	a.mu.Lock()
	defer a.mu.Unlock()
	bundle, ok := a.bundles[chain]
	return bundle, ok
}

// sendLatestBalance delivers latest-wins on a buffered channel.
func sendLatestBalance(ch chan entity.WalletBalance, balance entity.WalletBalance) {
	for {
		select {
		case ch <- balance:
			return
		default:
			select {
			case <-ch:
			default:
			}
		}
	}
}

func sendLatestSnapshot(ch chan *entity.AssignedTokenSnapshot, snapshot *entity.AssignedTokenSnapshot) {
	for {
		select {
		case ch <- snapshot:
			return
		default:
			select {
			case <-ch:
			default:
			}
		}
	}
}

// minRefreshLimit derives the fetcher staleness guard from the timer interval:
// at most one unforced refresh per half interval.
func minRefreshLimit(interval time.Duration) rate.Limit {
	if interval <= 0 {
		interval = time.Minute
	}
	return rate.Limit(1 / (interval / 2).Seconds())
}
