package entity

// ChangeKind enumerates the record mutations the token store reports.
// Observers filter on the kind instead of matching field names.
type ChangeKind int

const (
	// BalanceChanged fires when Amount or OwnedIDs of a record changed.
	BalanceChanged ChangeKind = iota
	// MetadataChanged fires when name, symbol or decimals changed.
	MetadataChanged
	// Deleted fires when a record was removed from the store.
	Deleted
)

// TokenChange is one store change notification.
type TokenChange struct {
	Key  TokenKey
	Kind ChangeKind
}

// ExclusionKind classifies why a contract is excluded from detection candidacy.
type ExclusionKind int

const (
	// ExclusionDeleted marks contracts that were confirmed absent or invalid
	// while the network was reachable.
	ExclusionDeleted ExclusionKind = iota
	// ExclusionHidden marks contracts suppressed by the user.
	ExclusionHidden
	// ExclusionDelegate marks proxy/delegate contracts that are not holdings.
	ExclusionDelegate
)

// CommitKind tells the store what a commit record carries.
type CommitKind int

const (
	// CommitToken inserts or updates a token record.
	CommitToken CommitKind = iota
	// CommitDelegateContract records a delegate-contract exclusion.
	CommitDelegateContract
	// CommitDeletedContract records a deleted-contract exclusion.
	CommitDeletedContract
)

// CommitRecord is one unit of a detection batch. Batches are applied atomically:
// all token insertions and exclusion insertions from one run land together.
type CommitRecord struct {
	Kind            CommitKind
	Token           TokenRecord
	ContractAddress string
	ChainID         ChainID
}

// TokenCommit builds a commit record inserting the given token.
func TokenCommit(r TokenRecord) CommitRecord {
	return CommitRecord{Kind: CommitToken, Token: r, ContractAddress: r.ContractAddress, ChainID: r.ChainID}
}

// DelegateCommit builds a commit record marking a delegate contract.
func DelegateCommit(contract string, chain ChainID) CommitRecord {
	return CommitRecord{Kind: CommitDelegateContract, ContractAddress: contract, ChainID: chain}
}

// DeletedCommit builds a commit record marking a confirmed-invalid contract.
func DeletedCommit(contract string, chain ChainID) CommitRecord {
	return CommitRecord{Kind: CommitDeletedContract, ContractAddress: contract, ChainID: chain}
}
