package evm

import (
	"context"
	"fmt"
	"math/big"
	"time"

	ethereum "github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"go.uber.org/zap"

	"wallet_aggregator/internal/domain/entity"
	"wallet_aggregator/internal/port"
)

// Event signatures watched by transacted-token detection.
var (
	topicTransfer       = common.HexToHash("0xddf252ad1be2c89b69c2b068fc378daa952ba7f163c4a11628f55a4df523b3ef")
	topicTransferSingle = common.HexToHash("0xc3d58168c5ae7397731d063d5bbf3d657854427343f4c083240f7aacaa2d0f62")
	topicTransferBatch  = common.HexToHash("0x4a39dc06d4c0dbc64b70af90fd698a233a518aa5d07e595d983b8c0526c8f7fb")
)

// HistoryProvider implements port.InteractionHistoryProvider over eth_getLogs.
// A transfer log touching the wallet on either side counts the emitting
// contract as interacted-with.
type HistoryProvider struct {
	classifier  *Classifier
	logger      *zap.Logger
	callTimeout time.Duration
}

// NewHistoryProvider creates a provider sharing the classifier's RPC clients.
func NewHistoryProvider(classifier *Classifier, callTimeout time.Duration, logger *zap.Logger) *HistoryProvider {
	return &HistoryProvider{
		classifier:  classifier,
		logger:      logger.Named("HistoryProvider"),
		callTimeout: callTimeout,
	}
}

// ContractsInteractedSince implements port.InteractionHistoryProvider.
func (p *HistoryProvider) ContractsInteractedSince(ctx context.Context, wallet string, chain entity.ChainID, startBlock uint64, class entity.TokenClass) (port.InteractionHistory, error) {
	client, err := p.classifier.client(ctx, chain)
	if err != nil {
		return port.InteractionHistory{}, err
	}

	callCtx, cancel := context.WithTimeout(ctx, p.callTimeout)
	defer cancel()

	head, err := client.BlockNumber(callCtx)
	if err != nil {
		return port.InteractionHistory{}, fmt.Errorf("%w: eth_blockNumber on chain %d: %v", port.ErrNetworkUnreachable, chain, err)
	}
	if startBlock > head {
		return port.InteractionHistory{MaxBlockSeen: head, HasMaxBlock: true}, nil
	}

	walletTopic := common.BytesToHash(common.HexToAddress(wallet).Bytes())
	contracts := make(map[string]struct{})

	// Sender and recipient sit at topic 1/2 for Transfer and 2/3 for the
	// ERC-1155 events, so each indexed position is a separate filter pass.
	for _, position := range []int{1, 2, 3} {
		logs, err := p.filterTransfers(callCtx, client, startBlock, head, walletTopic, position)
		if err != nil {
			return port.InteractionHistory{}, err
		}
		for _, lg := range logs {
			if !matchesClass(lg, class) {
				continue
			}
			contracts[lg.Address.Hex()] = struct{}{}
		}
	}

	out := port.InteractionHistory{
		Contracts:    make([]string, 0, len(contracts)),
		MaxBlockSeen: head,
		HasMaxBlock:  true,
	}
	for addr := range contracts {
		out.Contracts = append(out.Contracts, addr)
	}
	p.logger.Debug("History scan complete",
		zap.Uint64("chainID", uint64(chain)),
		zap.Uint64("fromBlock", startBlock),
		zap.Uint64("toBlock", head),
		zap.String("class", string(class)),
		zap.Int("contracts", len(out.Contracts)))
	return out, nil
}

func (p *HistoryProvider) filterTransfers(ctx context.Context, client logFilterer, fromBlock, toBlock uint64, wallet common.Hash, topicPosition int) ([]types.Log, error) {
	topics := [][]common.Hash{{topicTransfer, topicTransferSingle, topicTransferBatch}}
	for i := 1; i < topicPosition; i++ {
		topics = append(topics, nil)
	}
	topics = append(topics, []common.Hash{wallet})

	logs, err := client.FilterLogs(ctx, ethereum.FilterQuery{
		FromBlock: new(big.Int).SetUint64(fromBlock),
		ToBlock:   new(big.Int).SetUint64(toBlock),
		Topics:    topics,
	})
	if err != nil {
		return nil, fmt.Errorf("%w: eth_getLogs: %v", port.ErrNetworkUnreachable, err)
	}
	return logs, nil
}

// matchesClass assigns a log to a detection class: plain Transfer with an
// unindexed value is ERC-20, everything else (indexed tokenId, 1155 events)
// is nonErc20.
func matchesClass(lg types.Log, class entity.TokenClass) bool {
	isERC20 := lg.Topics[0] == topicTransfer && len(lg.Topics) == 3
	if class == entity.TokenClassERC20 {
		return isERC20
	}
	return !isERC20
}

type logFilterer interface {
	FilterLogs(ctx context.Context, q ethereum.FilterQuery) ([]types.Log, error)
}
