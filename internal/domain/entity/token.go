package entity

import "math/big"

// ChainID identifies a blockchain network. Wallet state is partitioned per chain.
type ChainID uint64

// TokenType identifies the contract standard a token record was classified as.
type TokenType string

const (
	// TokenTypeNative represents the chain's native currency (ETH, BNB, ...).
	TokenTypeNative TokenType = "native"
	// TokenTypeERC20 represents fungible ERC-20 tokens.
	TokenTypeERC20 TokenType = "erc20"
	// TokenTypeERC721 represents non-fungible ERC-721 collections.
	TokenTypeERC721 TokenType = "erc721"
	// TokenTypeERC1155 represents ERC-1155 multi-token collections.
	TokenTypeERC1155 TokenType = "erc1155"
	// TokenTypeERC875 represents semi-fungible ERC-875 tokens.
	TokenTypeERC875 TokenType = "erc875"
	// TokenTypeERC721Tickets represents ticket-style ERC-721 contracts.
	TokenTypeERC721Tickets TokenType = "erc721Tickets"
)

// IsFungible reports whether balances of this type are a single scalar amount.
func (t TokenType) IsFungible() bool {
	return t == TokenTypeNative || t == TokenTypeERC20
}

// TokenClass partitions detection checkpoints: fungible ERC-20 history is scanned
// separately from everything else.
type TokenClass string

const (
	TokenClassERC20    TokenClass = "erc20"
	TokenClassNonERC20 TokenClass = "nonErc20"
)

// ZeroAddress represents the Ethereum zero address, used as the contract address
// of native-currency records.
const ZeroAddress = "0x0000000000000000000000000000000000000000"

// TokenKey is the (contract, chain) identity shared by records, snapshots and
// subscription cache entries.
type TokenKey struct {
	ContractAddress string
	ChainID         ChainID
}

// TokenRecord is the stored state of one holding on one chain.
// Fungible and native records carry Amount; non-fungible and ticket records carry
// the set of owned item identifiers in OwnedIDs and leave Amount nil.
type TokenRecord struct {
	ContractAddress string
	ChainID         ChainID
	Name            string
	Symbol          string
	Decimals        uint8
	Type            TokenType
	Amount          *big.Int
	OwnedIDs        []string
	Enabled         bool
}

// Key returns the (contract, chain) identity of the record.
func (r TokenRecord) Key() TokenKey {
	return TokenKey{ContractAddress: r.ContractAddress, ChainID: r.ChainID}
}

// RawBalance returns the balance as a comparable string: the scalar amount for
// fungible records, the owned-ID count for non-fungible ones.
func (r TokenRecord) RawBalance() string {
	if r.Type.IsFungible() {
		if r.Amount == nil {
			return "0"
		}
		return r.Amount.String()
	}
	return big.NewInt(int64(len(r.OwnedIDs))).String()
}

// HasBalance reports whether the record represents an actual holding.
func (r TokenRecord) HasBalance() bool {
	if r.Type.IsFungible() {
		return r.Amount != nil && r.Amount.Sign() > 0
	}
	return len(r.OwnedIDs) > 0
}
