package evm

import (
	"context"
	"fmt"
	"math/big"
	"strings"
	"sync"
	"time"

	ethereum "github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/ethclient"
	"github.com/ethereum/go-ethereum/rpc"
	"go.uber.org/zap"

	"wallet_aggregator/internal/config"
	"wallet_aggregator/internal/domain/entity"
	"wallet_aggregator/internal/port"
)

// Minimal ABI covering the read-only surface the classifier probes.
const probeABI = `[
{"constant":true,"inputs":[],"name":"name","outputs":[{"name":"","type":"string"}],"stateMutability":"view","type":"function"},
{"constant":true,"inputs":[],"name":"symbol","outputs":[{"name":"","type":"string"}],"stateMutability":"view","type":"function"},
{"constant":true,"inputs":[],"name":"decimals","outputs":[{"name":"","type":"uint8"}],"stateMutability":"view","type":"function"},
{"constant":true,"inputs":[{"name":"_owner","type":"address"}],"name":"balanceOf","outputs":[{"name":"balance","type":"uint256"}],"stateMutability":"view","type":"function"},
{"constant":true,"inputs":[{"name":"interfaceId","type":"bytes4"}],"name":"supportsInterface","outputs":[{"name":"","type":"bool"}],"stateMutability":"view","type":"function"},
{"constant":true,"inputs":[{"name":"_owner","type":"address"},{"name":"_index","type":"uint256"}],"name":"tokenOfOwnerByIndex","outputs":[{"name":"","type":"uint256"}],"stateMutability":"view","type":"function"}
]`

var (
	parsedProbeABI abi.ABI
	parseProbeOnce sync.Once
)

func probeABIParsed() abi.ABI {
	parseProbeOnce.Do(func() {
		parsed, err := abi.JSON(strings.NewReader(probeABI))
		if err != nil {
			panic(fmt.Sprintf("failed to parse probe ABI: %v", err))
		}
		parsedProbeABI = parsed
	})
	return parsedProbeABI
}

// ERC-165 interface identifiers.
var (
	ifaceERC721     = [4]byte{0x80, 0xac, 0x58, 0xcd}
	ifaceERC1155    = [4]byte{0xd9, 0xb6, 0x7a, 0x26}
	ifaceEnumerable = [4]byte{0x78, 0x0e, 0x9d, 0x63}
)

// EIP-1967 implementation slot; a nonzero value marks a delegate/proxy contract.
var eip1967ImplSlot = common.HexToHash("0x360894a13ba1a3210667c828492db98dca3e2076cc3735a920a3ca505d382bbc")

// maxEnumeratedOwnedIDs bounds the per-contract tokenOfOwnerByIndex walk.
const maxEnumeratedOwnedIDs = 64

// Classifier implements port.ContractClassifier over JSON-RPC batch calls.
// One ethclient per configured chain, dialed lazily with fallback endpoints.
type Classifier struct {
	logger      *zap.Logger
	callTimeout time.Duration

	mu       sync.Mutex
	networks map[entity.ChainID]config.NetworkNode
	clients  map[entity.ChainID]*ethclient.Client
}

// NewClassifier creates a classifier for the configured networks.
func NewClassifier(networks []config.NetworkNode, callTimeout time.Duration, logger *zap.Logger) *Classifier {
	byChain := make(map[entity.ChainID]config.NetworkNode, len(networks))
	for _, n := range networks {
		byChain[entity.ChainID(n.ChainID)] = n
	}
	return &Classifier{
		logger:      logger.Named("Classifier"),
		callTimeout: callTimeout,
		networks:    byChain,
		clients:     make(map[entity.ChainID]*ethclient.Client),
	}
}

func (c *Classifier) client(ctx context.Context, chain entity.ChainID) (*ethclient.Client, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if client, ok := c.clients[chain]; ok {
		return client, nil
	}
	netCfg, ok := c.networks[chain]
	if !ok {
		return nil, fmt.Errorf("no network configured for chain %d", chain)
	}

	rpcURLs := append([]string{netCfg.PrimaryRPCURL}, netCfg.FallbackRPCURLs...)
	var lastErr error
	for _, rpcURL := range rpcURLs {
		dialCtx, cancel := context.WithTimeout(ctx, c.callTimeout)
		client, err := ethclient.DialContext(dialCtx, rpcURL)
		cancel()
		if err == nil {
			c.clients[chain] = client
			return client, nil
		}
		lastErr = fmt.Errorf("failed to connect to RPC %s: %w", rpcURL, err)
	}
	return nil, fmt.Errorf("%w: all RPC connection attempts failed for chain %d: %v",
		port.ErrNetworkUnreachable, chain, lastErr)
}

// Classify implements port.ContractClassifier. It resolves the contract to a
// delegate marker, fungible metadata or non-fungible metadata, reporting
// transport failures as ErrNetworkUnreachable and non-token contracts as
// ErrNotAToken.
func (c *Classifier) Classify(ctx context.Context, contract string, chain entity.ChainID, wallet string) (port.Classification, error) {
	client, err := c.client(ctx, chain)
	if err != nil {
		return port.Classification{}, err
	}

	callCtx, cancel := context.WithTimeout(ctx, c.callTimeout)
	defer cancel()

	contractAddr := common.HexToAddress(contract)

	// Delegate contracts are not tokens regardless of what their implementation
	// answers, so the proxy slot is checked first.
	slot, err := client.StorageAt(callCtx, contractAddr, eip1967ImplSlot, nil)
	if err != nil {
		return port.Classification{}, fmt.Errorf("%w: storage probe for %s: %v", port.ErrNetworkUnreachable, contract, err)
	}
	if !allZero(slot) {
		return port.Classification{Kind: port.ClassifiedDelegate}, nil
	}

	probe, err := c.batchProbe(callCtx, client, contractAddr, common.HexToAddress(wallet))
	if err != nil {
		return port.Classification{}, fmt.Errorf("%w: probe batch for %s: %v", port.ErrNetworkUnreachable, contract, err)
	}

	switch {
	case probe.isERC721 || probe.isERC1155:
		tokenType := entity.TokenTypeERC721
		if probe.isERC1155 {
			tokenType = entity.TokenTypeERC1155
		}
		ownedIDs, err := c.enumerateOwnedIDs(callCtx, client, contractAddr, common.HexToAddress(wallet), probe)
		if err != nil {
			return port.Classification{}, err
		}
		return port.Classification{
			Kind:     port.ClassifiedNonFungible,
			Type:     tokenType,
			Name:     probe.name,
			Symbol:   probe.symbol,
			OwnedIDs: ownedIDs,
		}, nil
	case probe.hasDecimals && probe.symbol != "":
		return port.Classification{
			Kind:     port.ClassifiedFungible,
			Type:     entity.TokenTypeERC20,
			Name:     probe.name,
			Symbol:   probe.symbol,
			Decimals: probe.decimals,
			Amount:   probe.balance,
		}, nil
	default:
		return port.Classification{}, fmt.Errorf("%w: %s answered no supported standard", port.ErrNotAToken, contract)
	}
}

// BalanceOf implements port.ContractClassifier.
func (c *Classifier) BalanceOf(ctx context.Context, contract string, chain entity.ChainID, wallet string, tokenType entity.TokenType) (*big.Int, error) {
	if tokenType == entity.TokenTypeNative {
		return c.NativeBalance(ctx, chain, wallet)
	}

	client, err := c.client(ctx, chain)
	if err != nil {
		return nil, err
	}
	callCtx, cancel := context.WithTimeout(ctx, c.callTimeout)
	defer cancel()

	callData, err := probeABIParsed().Pack("balanceOf", common.HexToAddress(wallet))
	if err != nil {
		return nil, fmt.Errorf("failed to pack balanceOf call: %w", err)
	}
	contractAddr := common.HexToAddress(contract)
	raw, err := client.CallContract(callCtx, callMsg(contractAddr, callData), nil)
	if err != nil {
		return nil, fmt.Errorf("%w: balanceOf %s: %v", port.ErrNetworkUnreachable, contract, err)
	}
	if len(raw) == 0 {
		return big.NewInt(0), nil
	}
	unpacked, err := probeABIParsed().Unpack("balanceOf", raw)
	if err != nil || len(unpacked) == 0 {
		return nil, fmt.Errorf("%w: %s returned undecodable balanceOf data", port.ErrNotAToken, contract)
	}
	balance, ok := unpacked[0].(*big.Int)
	if !ok {
		return nil, fmt.Errorf("%w: %s balanceOf returned %T", port.ErrNotAToken, contract, unpacked[0])
	}
	return balance, nil
}

// NativeBalance implements port.ContractClassifier.
func (c *Classifier) NativeBalance(ctx context.Context, chain entity.ChainID, wallet string) (*big.Int, error) {
	client, err := c.client(ctx, chain)
	if err != nil {
		return nil, err
	}
	callCtx, cancel := context.WithTimeout(ctx, c.callTimeout)
	defer cancel()

	balance, err := client.BalanceAt(callCtx, common.HexToAddress(wallet), nil)
	if err != nil {
		return nil, fmt.Errorf("%w: eth_getBalance on chain %d: %v", port.ErrNetworkUnreachable, chain, err)
	}
	return balance, nil
}

// probeResult aggregates one batched metadata probe.
type probeResult struct {
	name        string
	symbol      string
	decimals    uint8
	hasDecimals bool
	balance     *big.Int
	isERC721    bool
	isERC1155   bool
	enumerable  bool
}

// batchProbe issues name/symbol/decimals/balanceOf/supportsInterface in one
// JSON-RPC batch. Per-element call errors are tolerated: a metadata getter that
// reverts simply leaves its field empty.
func (c *Classifier) batchProbe(ctx context.Context, client *ethclient.Client, contract, wallet common.Address) (probeResult, error) {
	parsed := probeABIParsed()

	type elem struct {
		method string
		args   []interface{}
	}
	elems := []elem{
		{method: "name"},
		{method: "symbol"},
		{method: "decimals"},
		{method: "balanceOf", args: []interface{}{wallet}},
		{method: "supportsInterface", args: []interface{}{ifaceERC721}},
		{method: "supportsInterface", args: []interface{}{ifaceERC1155}},
		{method: "supportsInterface", args: []interface{}{ifaceEnumerable}},
	}

	batch := make([]rpc.BatchElem, len(elems))
	for i, e := range elems {
		callData, err := parsed.Pack(e.method, e.args...)
		if err != nil {
			return probeResult{}, fmt.Errorf("failed to pack %s call: %w", e.method, err)
		}
		batch[i] = rpc.BatchElem{
			Method: "eth_call",
			Args: []interface{}{map[string]interface{}{
				"to":   contract,
				"data": hexutil.Bytes(callData),
			}, "latest"},
			Result: new(hexutil.Bytes),
		}
	}

	if err := client.Client().BatchCallContext(ctx, batch); err != nil {
		return probeResult{}, err
	}

	var result probeResult
	result.name = unpackString(parsed, "name", batch[0])
	result.symbol = unpackString(parsed, "symbol", batch[1])
	if dec, ok := unpackUint8(parsed, batch[2]); ok {
		result.decimals = dec
		result.hasDecimals = true
	}
	result.balance = unpackBigInt(parsed, batch[3])
	result.isERC721 = unpackBool(parsed, batch[4])
	result.isERC1155 = unpackBool(parsed, batch[5])
	result.enumerable = unpackBool(parsed, batch[6])
	return result, nil
}

// enumerateOwnedIDs walks tokenOfOwnerByIndex for enumerable ERC-721 contracts.
// Non-enumerable collections return an empty set, which the balance gate treats
// as "not held".
func (c *Classifier) enumerateOwnedIDs(ctx context.Context, client *ethclient.Client, contract, wallet common.Address, probe probeResult) ([]string, error) {
	if probe.balance == nil || probe.balance.Sign() == 0 {
		return nil, nil
	}
	if !probe.enumerable {
		c.logger.Debug("Collection is not enumerable, owned IDs unavailable",
			zap.String("contract", contract.Hex()))
		return nil, nil
	}

	parsed := probeABIParsed()
	count := int(probe.balance.Int64())
	if count > maxEnumeratedOwnedIDs {
		count = maxEnumeratedOwnedIDs
	}

	ids := make([]string, 0, count)
	for i := 0; i < count; i++ {
		callData, err := parsed.Pack("tokenOfOwnerByIndex", wallet, big.NewInt(int64(i)))
		if err != nil {
			return nil, fmt.Errorf("failed to pack tokenOfOwnerByIndex call: %w", err)
		}
		raw, err := client.CallContract(ctx, callMsg(contract, callData), nil)
		if err != nil {
			return nil, fmt.Errorf("%w: tokenOfOwnerByIndex on %s: %v", port.ErrNetworkUnreachable, contract.Hex(), err)
		}
		unpacked, err := parsed.Unpack("tokenOfOwnerByIndex", raw)
		if err != nil || len(unpacked) == 0 {
			break
		}
		if id, ok := unpacked[0].(*big.Int); ok {
			ids = append(ids, id.String())
		}
	}
	return ids, nil
}

func unpackString(parsed abi.ABI, method string, elem rpc.BatchElem) string {
	raw, ok := batchResultBytes(elem)
	if !ok {
		return ""
	}
	unpacked, err := parsed.Unpack(method, raw)
	if err != nil || len(unpacked) == 0 {
		return ""
	}
	s, _ := unpacked[0].(string)
	return s
}

func unpackUint8(parsed abi.ABI, elem rpc.BatchElem) (uint8, bool) {
	raw, ok := batchResultBytes(elem)
	if !ok {
		return 0, false
	}
	unpacked, err := parsed.Unpack("decimals", raw)
	if err != nil || len(unpacked) == 0 {
		return 0, false
	}
	dec, ok := unpacked[0].(uint8)
	return dec, ok
}

func unpackBigInt(parsed abi.ABI, elem rpc.BatchElem) *big.Int {
	raw, ok := batchResultBytes(elem)
	if !ok {
		return nil
	}
	unpacked, err := parsed.Unpack("balanceOf", raw)
	if err != nil || len(unpacked) == 0 {
		return nil
	}
	balance, _ := unpacked[0].(*big.Int)
	return balance
}

func unpackBool(parsed abi.ABI, elem rpc.BatchElem) bool {
	raw, ok := batchResultBytes(elem)
	if !ok {
		return false
	}
	unpacked, err := parsed.Unpack("supportsInterface", raw)
	if err != nil || len(unpacked) == 0 {
		return false
	}
	b, _ := unpacked[0].(bool)
	return b
}

func batchResultBytes(elem rpc.BatchElem) ([]byte, bool) {
	if elem.Error != nil {
		return nil, false
	}
	result, ok := elem.Result.(*hexutil.Bytes)
	if !ok || result == nil || len(*result) == 0 {
		return nil, false
	}
	return *result, true
}

func callMsg(to common.Address, data []byte) ethereum.CallMsg {
	return ethereum.CallMsg{To: &to, Data: data}
}

func allZero(b []byte) bool {
	for _, v := range b {
		if v != 0 {
			return false
		}
	}
	return true
}
