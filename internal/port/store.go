package port

import "wallet_aggregator/internal/domain/entity"

// TokenMutation mutates a stored record in place under the store's write lock.
type TokenMutation func(record *entity.TokenRecord)

// ChangeObserver receives store change notifications. Delivery order follows
// commit order; observers must not call back into the store.
type ChangeObserver func(change entity.TokenChange)

// TokenStore is the single source of truth for token records on one chain.
// Implementations serialize writers; readers see committed state only.
type TokenStore interface {
	// EnabledTokens returns all enabled records for the chain.
	EnabledTokens() []entity.TokenRecord

	// EnabledAddresses returns the contract addresses of all enabled records.
	EnabledAddresses() map[string]struct{}

	// DeletedContracts returns contracts confirmed absent or invalid.
	DeletedContracts() map[string]struct{}

	// HiddenContracts returns contracts suppressed by the user.
	HiddenContracts() map[string]struct{}

	// DelegateContracts returns known proxy/delegate contracts.
	DelegateContracts() map[string]struct{}

	// TokenByContract returns the record for the contract, if present.
	TokenByContract(contract string) (entity.TokenRecord, bool)

	// CommitBatch applies all records atomically. Change notifications for the
	// batch are emitted after the whole batch is visible.
	CommitBatch(records []entity.CommitRecord) error

	// UpdateRecord applies the mutation to an existing record and emits the
	// given change kind. Unknown contracts are a no-op returning false.
	UpdateRecord(contract string, kind entity.ChangeKind, mutation TokenMutation) bool

	// DeleteToken removes a record and inserts a hidden-contract exclusion so
	// detection does not immediately re-add it.
	DeleteToken(contract string) bool

	// Subscribe registers a change observer and returns a handle for Unsubscribe.
	Subscribe(observer ChangeObserver) uint64

	// Unsubscribe releases an observer handle. Unknown handles are a no-op.
	Unsubscribe(handle uint64)
}

// TransactionStore records balance movements observed by the fetcher for one
// chain. Consumed read-only outside the bundle.
type TransactionStore interface {
	// RecordDelta appends an observed balance change for the contract.
	RecordDelta(contract string, previous, current string)

	// Deltas returns all recorded movements for the contract, oldest first.
	Deltas(contract string) []BalanceDelta
}

// BalanceDelta is one observed balance movement.
type BalanceDelta struct {
	Contract string
	Previous string
	Current  string
	UnixTime int64
}
