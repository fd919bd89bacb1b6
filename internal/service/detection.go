package service

import (
	"context"
	"errors"
	"math/big"
	"sync"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"wallet_aggregator/internal/domain/entity"
	"wallet_aggregator/internal/metrics"
	"wallet_aggregator/internal/port"
)

// detectionPhase names the two independent detection strategies.
type detectionPhase string

const (
	phaseTransacted detectionPhase = "transacted"
	phasePartner    detectionPhase = "partner"
)

// phaseKey identifies one single-flight slot: one phase of one class on one chain.
type phaseKey struct {
	chain entity.ChainID
	phase detectionPhase
	class entity.TokenClass
}

// exclusionSnapshot is the dedup view taken once at scan launch. Candidate
// computation within a run is deterministic against this snapshot, not against
// the live store.
type exclusionSnapshot struct {
	enabled  map[string]struct{}
	deleted  map[string]struct{}
	hidden   map[string]struct{}
	delegate map[string]struct{}
}

func snapshotExclusions(s port.TokenStore) exclusionSnapshot {
	return exclusionSnapshot{
		enabled:  s.EnabledAddresses(),
		deleted:  s.DeletedContracts(),
		hidden:   s.HiddenContracts(),
		delegate: s.DelegateContracts(),
	}
}

func (e exclusionSnapshot) excludes(contract string) bool {
	if _, ok := e.enabled[contract]; ok {
		return true
	}
	if _, ok := e.deleted[contract]; ok {
		return true
	}
	if _, ok := e.hidden[contract]; ok {
		return true
	}
	_, ok := e.delegate[contract]
	return ok
}

// DetectionEngine discovers token contracts a wallet holds and feeds them into
// the per-chain token stores. Each phase per chain is single-flight: a launch
// while the phase is already running is a silent no-op.
type DetectionEngine struct {
	logger      *zap.Logger
	classifier  port.ContractClassifier
	history     port.InteractionHistoryProvider
	checkpoints port.CheckpointStore
	maxProbes   int

	// activeWallet returns the wallet the owner currently tracks. A scan whose
	// wallet no longer matches at commit time aborts without mutating the store.
	activeWallet func() string

	// onTokensChanged fires at most once per run, after a non-empty commit.
	onTokensChanged func(chain entity.ChainID)

	mu      sync.Mutex
	running map[phaseKey]bool
}

// NewDetectionEngine creates the engine. activeWallet and onTokensChanged are
// the owner's capability callbacks.
func NewDetectionEngine(
	classifier port.ContractClassifier,
	history port.InteractionHistoryProvider,
	checkpoints port.CheckpointStore,
	maxProbes int,
	activeWallet func() string,
	onTokensChanged func(chain entity.ChainID),
	logger *zap.Logger,
) *DetectionEngine {
	if maxProbes <= 0 {
		maxProbes = 1
	}
	return &DetectionEngine{
		logger:          logger.Named("DetectionEngine"),
		classifier:      classifier,
		history:         history,
		checkpoints:     checkpoints,
		maxProbes:       maxProbes,
		activeWallet:    activeWallet,
		onTokensChanged: onTokensChanged,
		running:         make(map[phaseKey]bool),
	}
}

// tryAcquire claims a single-flight slot. The caller must release it on every
// exit path.
func (e *DetectionEngine) tryAcquire(key phaseKey) bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.running[key] {
		return false
	}
	e.running[key] = true
	return true
}

func (e *DetectionEngine) release(key phaseKey) {
	e.mu.Lock()
	defer e.mu.Unlock()
	delete(e.running, key)
}

// DetectTransactedTokens scans the wallet's interaction history since the last
// checkpoint and commits every new token contract it can classify. Returns
// false when the phase was already running.
func (e *DetectionEngine) DetectTransactedTokens(ctx context.Context, bundle *Bundle, wallet string, class entity.TokenClass) bool {
	key := phaseKey{chain: bundle.ChainID, phase: phaseTransacted, class: class}
	if !e.tryAcquire(key) {
		metrics.DetectionRuns.WithLabelValues(string(phaseTransacted), "skipped").Inc()
		return false
	}
	// The flag clear must survive every exit path, a wedged flag would
	// permanently disable this phase for the chain.
	defer e.release(key)

	logger := e.logger.With(
		zap.Uint64("chainID", uint64(bundle.ChainID)),
		zap.String("class", string(class)))

	ckKey := entity.CheckpointKey{ChainID: bundle.ChainID, Wallet: wallet, Class: class}
	var startBlock uint64
	if last, ok := e.checkpoints.LastScannedBlock(ckKey); ok {
		startBlock = last + 1
	}

	history, err := e.history.ContractsInteractedSince(ctx, wallet, bundle.ChainID, startBlock, class)
	if err != nil {
		logger.Warn("History query failed", zap.Error(err))
		metrics.DetectionRuns.WithLabelValues(string(phaseTransacted), "failed").Inc()
		return true
	}

	// The checkpoint advances whenever the history query succeeded, even with
	// zero candidates, so future scans never re-scan this range.
	if history.HasMaxBlock {
		if err := e.checkpoints.Advance(ckKey, history.MaxBlockSeen); err != nil {
			logger.Warn("Checkpoint advance failed", zap.Error(err))
		}
	}

	exclusions := snapshotExclusions(bundle.Store)
	candidates := make([]string, 0, len(history.Contracts))
	for _, contract := range history.Contracts {
		if !exclusions.excludes(contract) {
			candidates = append(candidates, contract)
		}
	}
	logger.Debug("Transacted scan candidates",
		zap.Int("detected", len(history.Contracts)), zap.Int("candidates", len(candidates)))

	commits := e.classifyCandidates(ctx, bundle, wallet, candidates, false)
	e.commit(logger, phaseTransacted, bundle, wallet, commits)
	return true
}

// DetectPartnerTokens probes a fixed allow-list. Before fetching full metadata
// it checks the wallet's balance on each candidate; a zero balance
// short-circuits to no action without recording an exclusion.
func (e *DetectionEngine) DetectPartnerTokens(ctx context.Context, bundle *Bundle, wallet string, allowList []string) bool {
	key := phaseKey{chain: bundle.ChainID, phase: phasePartner}
	if !e.tryAcquire(key) {
		metrics.DetectionRuns.WithLabelValues(string(phasePartner), "skipped").Inc()
		return false
	}
	defer e.release(key)

	logger := e.logger.With(zap.Uint64("chainID", uint64(bundle.ChainID)))

	exclusions := snapshotExclusions(bundle.Store)
	candidates := make([]string, 0, len(allowList))
	for _, contract := range allowList {
		if !exclusions.excludes(contract) {
			candidates = append(candidates, contract)
		}
	}

	commits := e.classifyCandidates(ctx, bundle, wallet, candidates, true)
	e.commit(logger, phasePartner, bundle, wallet, commits)
	return true
}

// classifyCandidates classifies every candidate concurrently and builds the
// commit batch. Per-candidate failures never abort the batch.
func (e *DetectionEngine) classifyCandidates(ctx context.Context, bundle *Bundle, wallet string, candidates []string, balanceGated bool) []entity.CommitRecord {
	var mu sync.Mutex
	var commits []entity.CommitRecord

	eg, egCtx := errgroup.WithContext(ctx)
	eg.SetLimit(e.maxProbes)

	for _, candidate := range candidates {
		contract := candidate
		eg.Go(func() error {
			record, ok := e.classifyOne(egCtx, bundle, wallet, contract, balanceGated)
			if !ok {
				return nil
			}
			mu.Lock()
			commits = append(commits, record)
			mu.Unlock()
			return nil
		})
	}
	_ = eg.Wait()
	return commits
}

// classifyOne resolves one candidate to a commit record, or to no action.
func (e *DetectionEngine) classifyOne(ctx context.Context, bundle *Bundle, wallet string, contract string, balanceGated bool) (entity.CommitRecord, bool) {
	logger := e.logger.With(
		zap.Uint64("chainID", uint64(bundle.ChainID)), zap.String("contract", contract))

	if balanceGated {
		// Cheap probe first: a wallet that never held the token skips the full
		// metadata round trip. Zero balance is no action, not an exclusion.
		balance, err := e.classifier.BalanceOf(ctx, contract, bundle.ChainID, wallet, entity.TokenTypeERC20)
		if err != nil {
			logger.Debug("Partner balance probe failed", zap.Error(err))
			return entity.CommitRecord{}, false
		}
		if balance == nil || balance.Sign() == 0 {
			return entity.CommitRecord{}, false
		}
	}

	classification, err := e.classifier.Classify(ctx, contract, bundle.ChainID, wallet)
	switch {
	case errors.Is(err, port.ErrNetworkUnreachable):
		// Transient: the candidate stays eligible for future scans.
		logger.Debug("Classification unreachable", zap.Error(err))
		return entity.CommitRecord{}, false
	case errors.Is(err, port.ErrNotAToken):
		// The network answered and the contract is not a token: exclude it so
		// future scans skip it without re-probing.
		return entity.DeletedCommit(contract, bundle.ChainID), true
	case err != nil:
		logger.Debug("Classification failed", zap.Error(err))
		return entity.CommitRecord{}, false
	}

	switch classification.Kind {
	case port.ClassifiedDelegate:
		return entity.DelegateCommit(contract, bundle.ChainID), true
	case port.ClassifiedNonFungible:
		if balanceGated && len(classification.OwnedIDs) == 0 {
			return entity.CommitRecord{}, false
		}
		return entity.TokenCommit(entity.TokenRecord{
			ContractAddress: contract,
			ChainID:         bundle.ChainID,
			Name:            classification.Name,
			Symbol:          classification.Symbol,
			Type:            classification.Type,
			OwnedIDs:        classification.OwnedIDs,
			Enabled:         true,
		}), true
	default:
		amount := classification.Amount
		// A freshly discovered fungible token must not momentarily display as
		// zero: keep any pre-existing stored balance until the next refresh.
		if amount == nil || amount.Sign() == 0 {
			if existing, ok := bundle.Store.TokenByContract(contract); ok && existing.Amount != nil {
				amount = existing.Amount
			}
		}
		if amount == nil {
			amount = big.NewInt(0)
		}
		return entity.TokenCommit(entity.TokenRecord{
			ContractAddress: contract,
			ChainID:         bundle.ChainID,
			Name:            classification.Name,
			Symbol:          classification.Symbol,
			Decimals:        classification.Decimals,
			Type:            classification.Type,
			Amount:          amount,
			Enabled:         true,
		}), true
	}
}

// commit applies the batch atomically. The run is abandoned when the active
// wallet changed mid-scan or the bundle was torn down; in-flight network calls
// are not aborted, only their results discarded.
func (e *DetectionEngine) commit(logger *zap.Logger, phase detectionPhase, bundle *Bundle, wallet string, commits []entity.CommitRecord) {
	if e.activeWallet() != wallet || bundle.Closed() {
		logger.Debug("Detection run abandoned", zap.Int("discarded", len(commits)))
		metrics.DetectionRuns.WithLabelValues(string(phase), "cancelled").Inc()
		return
	}
	if len(commits) == 0 {
		metrics.DetectionRuns.WithLabelValues(string(phase), "empty").Inc()
		return
	}
	if err := bundle.Store.CommitBatch(commits); err != nil {
		logger.Warn("Batch commit failed", zap.Error(err))
		metrics.DetectionRuns.WithLabelValues(string(phase), "failed").Inc()
		return
	}

	var tokensAdded int
	for _, commit := range commits {
		if commit.Kind == entity.CommitToken {
			tokensAdded++
		}
	}
	logger.Info("Detection batch committed",
		zap.Int("records", len(commits)), zap.Int("tokens", tokensAdded))
	metrics.DetectionRuns.WithLabelValues(string(phase), "committed").Inc()
	metrics.TokensDiscovered.Add(float64(tokensAdded))

	e.onTokensChanged(bundle.ChainID)
}
