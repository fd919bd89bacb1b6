package service

import (
	"context"
	"math/big"
	"sync"

	"wallet_aggregator/internal/domain/entity"
	"wallet_aggregator/internal/port"
)

// fakeClassifier answers classification and balance probes from fixed maps.
type fakeClassifier struct {
	mu              sync.Mutex
	classifications map[string]port.Classification
	classifyErrs    map[string]error
	balances        map[string]*big.Int
	native          *big.Int
	classifyCalls   map[string]int
}

func newFakeClassifier() *fakeClassifier {
	return &fakeClassifier{
		classifications: make(map[string]port.Classification),
		classifyErrs:    make(map[string]error),
		balances:        make(map[string]*big.Int),
		native:          big.NewInt(0),
		classifyCalls:   make(map[string]int),
	}
}

func (f *fakeClassifier) Classify(_ context.Context, contract string, _ entity.ChainID, _ string) (port.Classification, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.classifyCalls[contract]++
	if err, ok := f.classifyErrs[contract]; ok {
		return port.Classification{}, err
	}
	return f.classifications[contract], nil
}

func (f *fakeClassifier) BalanceOf(_ context.Context, contract string, _ entity.ChainID, _ string, _ entity.TokenType) (*big.Int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if balance, ok := f.balances[contract]; ok {
		return new(big.Int).Set(balance), nil
	}
	return big.NewInt(0), nil
}

func (f *fakeClassifier) NativeBalance(_ context.Context, _ entity.ChainID, _ string) (*big.Int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return new(big.Int).Set(f.native), nil
}

func (f *fakeClassifier) calls(contract string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.classifyCalls[contract]
}

// fakeHistory replays a fixed interaction history and records the start blocks
// it was queried with.
type fakeHistory struct {
	mu          sync.Mutex
	contracts   []string
	maxBlock    uint64
	hasMaxBlock bool
	err         error
	startBlocks []uint64
}

func (f *fakeHistory) ContractsInteractedSince(_ context.Context, _ string, _ entity.ChainID, startBlock uint64, _ entity.TokenClass) (port.InteractionHistory, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.startBlocks = append(f.startBlocks, startBlock)
	if f.err != nil {
		return port.InteractionHistory{}, f.err
	}
	return port.InteractionHistory{
		Contracts:    append([]string(nil), f.contracts...),
		MaxBlockSeen: f.maxBlock,
		HasMaxBlock:  f.hasMaxBlock,
	}, nil
}

// memCheckpoints is an in-memory monotonic checkpoint store.
type memCheckpoints struct {
	mu     sync.Mutex
	blocks map[string]uint64
}

func newMemCheckpoints() *memCheckpoints {
	return &memCheckpoints{blocks: make(map[string]uint64)}
}

func (m *memCheckpoints) LastScannedBlock(key entity.CheckpointKey) (uint64, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	block, ok := m.blocks[key.String()]
	return block, ok
}

func (m *memCheckpoints) Advance(key entity.CheckpointKey, block uint64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if current, ok := m.blocks[key.String()]; ok && block <= current {
		return nil
	}
	m.blocks[key.String()] = block
	return nil
}

// fakeDelegate counts fetcher callbacks.
type fakeDelegate struct {
	mu         sync.Mutex
	discovered int
	updated    int
	failed     int
}

func (d *fakeDelegate) TokensDiscovered(entity.ChainID) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.discovered++
}

func (d *fakeDelegate) BalancesUpdated(entity.ChainID) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.updated++
}

func (d *fakeDelegate) FetchFailed(entity.ChainID, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.failed++
}

func (d *fakeDelegate) counts() (discovered, updated, failed int) {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.discovered, d.updated, d.failed
}
