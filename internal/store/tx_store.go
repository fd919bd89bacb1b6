package store

import (
	"sync"
	"time"

	"wallet_aggregator/internal/port"
)

// TransactionStore keeps fetch-observed balance movements per contract for one
// chain. In-memory, bounded per contract.
type TransactionStore struct {
	mu        sync.RWMutex
	deltas    map[string][]port.BalanceDelta
	maxPerKey int
}

const defaultMaxDeltasPerContract = 256

// NewTransactionStore creates an empty transaction store.
func NewTransactionStore() *TransactionStore {
	return &TransactionStore{
		deltas:    make(map[string][]port.BalanceDelta),
		maxPerKey: defaultMaxDeltasPerContract,
	}
}

// RecordDelta implements port.TransactionStore.
func (s *TransactionStore) RecordDelta(contract string, previous, current string) {
	if previous == current {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	list := append(s.deltas[contract], port.BalanceDelta{
		Contract: contract,
		Previous: previous,
		Current:  current,
		UnixTime: time.Now().Unix(),
	})
	if len(list) > s.maxPerKey {
		list = list[len(list)-s.maxPerKey:]
	}
	s.deltas[contract] = list
}

// Deltas implements port.TransactionStore.
func (s *TransactionStore) Deltas(contract string) []port.BalanceDelta {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]port.BalanceDelta(nil), s.deltas[contract]...)
}
