package store

import (
	"math/big"
	"sync"

	"go.uber.org/zap"

	"wallet_aggregator/internal/domain/entity"
	"wallet_aggregator/internal/port"
)

// TokenStore is the in-memory token store for one chain. All writers go through
// the store mutex; change notifications are emitted after the mutation is
// visible, outside the lock, in commit order.
type TokenStore struct {
	chainID entity.ChainID
	logger  *zap.Logger

	mu         sync.RWMutex
	tokens     map[string]entity.TokenRecord
	exclusions map[entity.ExclusionKind]map[string]struct{}

	subMu       sync.Mutex
	subscribers map[uint64]port.ChangeObserver
	nextHandle  uint64
}

// NewTokenStore creates an empty store for the chain.
func NewTokenStore(chainID entity.ChainID, logger *zap.Logger) *TokenStore {
	return &TokenStore{
		chainID: chainID,
		logger:  logger.Named("TokenStore").With(zap.Uint64("chainID", uint64(chainID))),
		tokens:  make(map[string]entity.TokenRecord),
		exclusions: map[entity.ExclusionKind]map[string]struct{}{
			entity.ExclusionDeleted:  {},
			entity.ExclusionHidden:   {},
			entity.ExclusionDelegate: {},
		},
		subscribers: make(map[uint64]port.ChangeObserver),
	}
}

// EnabledTokens implements port.TokenStore.
func (s *TokenStore) EnabledTokens() []entity.TokenRecord {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]entity.TokenRecord, 0, len(s.tokens))
	for _, rec := range s.tokens {
		if rec.Enabled {
			out = append(out, cloneRecord(rec))
		}
	}
	return out
}

// EnabledAddresses implements port.TokenStore.
func (s *TokenStore) EnabledAddresses() map[string]struct{} {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make(map[string]struct{}, len(s.tokens))
	for addr, rec := range s.tokens {
		if rec.Enabled {
			out[addr] = struct{}{}
		}
	}
	return out
}

// DeletedContracts implements port.TokenStore.
func (s *TokenStore) DeletedContracts() map[string]struct{} {
	return s.exclusionSet(entity.ExclusionDeleted)
}

// HiddenContracts implements port.TokenStore.
func (s *TokenStore) HiddenContracts() map[string]struct{} {
	return s.exclusionSet(entity.ExclusionHidden)
}

// DelegateContracts implements port.TokenStore.
func (s *TokenStore) DelegateContracts() map[string]struct{} {
	return s.exclusionSet(entity.ExclusionDelegate)
}

func (s *TokenStore) exclusionSet(kind entity.ExclusionKind) map[string]struct{} {
	s.mu.RLock()
	defer s.mu.RUnlock()
	src := s.exclusions[kind]
	out := make(map[string]struct{}, len(src))
	for addr := range src {
		out[addr] = struct{}{}
	}
	return out
}

// TokenByContract implements port.TokenStore.
func (s *TokenStore) TokenByContract(contract string) (entity.TokenRecord, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	rec, ok := s.tokens[contract]
	if !ok {
		return entity.TokenRecord{}, false
	}
	return cloneRecord(rec), true
}

// CommitBatch implements port.TokenStore. The whole batch becomes visible under
// one write lock; notifications follow once the lock is released.
func (s *TokenStore) CommitBatch(records []entity.CommitRecord) error {
	if len(records) == 0 {
		return nil
	}

	var changes []entity.TokenChange
	s.mu.Lock()
	for _, rec := range records {
		switch rec.Kind {
		case entity.CommitToken:
			prev, existed := s.tokens[rec.Token.ContractAddress]
			s.tokens[rec.Token.ContractAddress] = cloneRecord(rec.Token)
			kind := entity.BalanceChanged
			if existed && prev.RawBalance() == rec.Token.RawBalance() {
				kind = entity.MetadataChanged
			}
			changes = append(changes, entity.TokenChange{Key: rec.Token.Key(), Kind: kind})
		case entity.CommitDelegateContract:
			s.exclusions[entity.ExclusionDelegate][rec.ContractAddress] = struct{}{}
		case entity.CommitDeletedContract:
			s.exclusions[entity.ExclusionDeleted][rec.ContractAddress] = struct{}{}
		}
	}
	s.mu.Unlock()

	s.logger.Debug("Committed batch",
		zap.Int("records", len(records)),
		zap.Int("tokenChanges", len(changes)))
	for _, change := range changes {
		s.notify(change)
	}
	return nil
}

// UpdateRecord implements port.TokenStore.
func (s *TokenStore) UpdateRecord(contract string, kind entity.ChangeKind, mutation port.TokenMutation) bool {
	s.mu.Lock()
	rec, ok := s.tokens[contract]
	if !ok {
		s.mu.Unlock()
		return false
	}
	mutation(&rec)
	s.tokens[contract] = rec
	key := rec.Key()
	s.mu.Unlock()

	s.notify(entity.TokenChange{Key: key, Kind: kind})
	return true
}

// DeleteToken implements port.TokenStore. User removal also hides the contract
// so the next detection run does not re-add it.
func (s *TokenStore) DeleteToken(contract string) bool {
	s.mu.Lock()
	rec, ok := s.tokens[contract]
	if !ok {
		s.mu.Unlock()
		return false
	}
	delete(s.tokens, contract)
	s.exclusions[entity.ExclusionHidden][contract] = struct{}{}
	key := rec.Key()
	s.mu.Unlock()

	s.notify(entity.TokenChange{Key: key, Kind: entity.Deleted})
	return true
}

// Subscribe implements port.TokenStore.
func (s *TokenStore) Subscribe(observer port.ChangeObserver) uint64 {
	s.subMu.Lock()
	defer s.subMu.Unlock()
	s.nextHandle++
	handle := s.nextHandle
	s.subscribers[handle] = observer
	return handle
}

// Unsubscribe implements port.TokenStore.
func (s *TokenStore) Unsubscribe(handle uint64) {
	s.subMu.Lock()
	defer s.subMu.Unlock()
	delete(s.subscribers, handle)
}

func (s *TokenStore) notify(change entity.TokenChange) {
	s.subMu.Lock()
	observers := make([]port.ChangeObserver, 0, len(s.subscribers))
	for _, obs := range s.subscribers {
		observers = append(observers, obs)
	}
	s.subMu.Unlock()

	for _, obs := range observers {
		obs(change)
	}
}

func cloneRecord(rec entity.TokenRecord) entity.TokenRecord {
	out := rec
	if rec.Amount != nil {
		out.Amount = new(big.Int).Set(rec.Amount)
	}
	if rec.OwnedIDs != nil {
		out.OwnedIDs = append([]string(nil), rec.OwnedIDs...)
	}
	return out
}
