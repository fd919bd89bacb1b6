package port

import (
	"context"
	"errors"
	"math/big"

	"wallet_aggregator/internal/domain/entity"
)

// ErrNetworkUnreachable marks classification or probe failures where the network
// itself could not be reached. The candidate stays eligible for future scans.
var ErrNetworkUnreachable = errors.New("network unreachable")

// ErrNotAToken marks contracts that answered but do not behave as any supported
// token standard. They are recorded as deleted-contract exclusions.
var ErrNotAToken = errors.New("contract is not a token")

// InteractionHistory is the result of one transacted-contract history query.
type InteractionHistory struct {
	Contracts    []string
	MaxBlockSeen uint64
	// HasMaxBlock is false when the provider saw no blocks at all, in which
	// case the checkpoint must not advance.
	HasMaxBlock bool
}

// InteractionHistoryProvider lists contracts a wallet has interacted with.
type InteractionHistoryProvider interface {
	// ContractsInteractedSince returns all contract addresses the wallet touched
	// from startBlock onward for the given token class, plus the maximum block
	// number observed. startBlock == 0 means scan from genesis.
	ContractsInteractedSince(ctx context.Context, wallet string, chain entity.ChainID, startBlock uint64, class entity.TokenClass) (InteractionHistory, error)
}

// ClassificationKind is the outcome of classifying one contract.
type ClassificationKind int

const (
	// ClassifiedFungible carries ERC-20 style metadata and a scalar balance.
	ClassifiedFungible ClassificationKind = iota
	// ClassifiedNonFungible carries collection metadata and owned item IDs.
	ClassifiedNonFungible
	// ClassifiedDelegate marks a proxy/delegate contract.
	ClassifiedDelegate
)

// Classification is the successful result of a classifier call.
type Classification struct {
	Kind     ClassificationKind
	Type     entity.TokenType
	Name     string
	Symbol   string
	Decimals uint8
	Amount   *big.Int
	OwnedIDs []string
}

// ContractClassifier determines token type, metadata and balance of an unknown
// contract via read-only calls. Stateless.
type ContractClassifier interface {
	// Classify probes the contract. Failures are reported as
	// ErrNetworkUnreachable (transient) or ErrNotAToken (permanent).
	Classify(ctx context.Context, contract string, chain entity.ChainID, wallet string) (Classification, error)

	// BalanceOf fetches the wallet's balance on a contract tentatively known to
	// be of the given type, without fetching full metadata.
	BalanceOf(ctx context.Context, contract string, chain entity.ChainID, wallet string, tokenType entity.TokenType) (*big.Int, error)

	// NativeBalance fetches the wallet's native-currency balance on the chain.
	NativeBalance(ctx context.Context, chain entity.ChainID, wallet string) (*big.Int, error)
}

// CheckpointStore persists detection scan positions. Monotonic: Advance with a
// block below the stored one is a no-op.
type CheckpointStore interface {
	LastScannedBlock(key entity.CheckpointKey) (uint64, bool)
	Advance(key entity.CheckpointKey, block uint64) error
}
