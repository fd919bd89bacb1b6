package entity

import "fmt"

// CheckpointKey identifies one detection scan position.
type CheckpointKey struct {
	ChainID ChainID
	Wallet  string
	Class   TokenClass
}

// String renders the key in the chain_wallet_class form used by the file store.
func (k CheckpointKey) String() string {
	return fmt.Sprintf("%d_%s_%s", k.ChainID, k.Wallet, k.Class)
}

// DetectionCheckpoint records the last block successfully scanned for transacted
// token detection. It advances on successful scans and never decreases.
type DetectionCheckpoint struct {
	Key              CheckpointKey
	LastScannedBlock uint64
}
