package restapi

import (
	"math/big"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"wallet_aggregator/internal/domain/entity"
	"wallet_aggregator/internal/pkg/utils"
	"wallet_aggregator/internal/service"
)

// tokenView is the JSON rendering of one token snapshot.
type tokenView struct {
	ContractAddress  string   `json:"contractAddress"`
	ChainID          uint64   `json:"chainId"`
	Name             string   `json:"name"`
	Symbol           string   `json:"symbol"`
	Type             string   `json:"type"`
	RawBalance       string   `json:"rawBalance"`
	FormattedBalance string   `json:"formattedBalance"`
	PriceUSD         *float64 `json:"priceUSD,omitempty"`
}

// balanceResponse is the JSON rendering of the aggregate wallet balance.
type balanceResponse struct {
	WalletAddress string      `json:"walletAddress"`
	TotalValueUSD float64     `json:"totalValueUSD"`
	Tokens        []tokenView `json:"tokens"`
}

// BalanceHandler serves the aggregator's imperative API over HTTP.
type BalanceHandler struct {
	aggregator *service.Aggregator
	logger     *zap.Logger
}

// NewBalanceHandler creates the handler.
func NewBalanceHandler(aggregator *service.Aggregator, logger *zap.Logger) *BalanceHandler {
	return &BalanceHandler{
		aggregator: aggregator,
		logger:     logger.Named("BalanceHandler"),
	}
}

// GetBalanceHandler returns the current aggregate wallet balance.
func (h *BalanceHandler) GetBalanceHandler(c *gin.Context) {
	balance := h.aggregator.CurrentBalance()
	c.JSON(http.StatusOK, renderBalance(balance))
}

// GetTokenBalanceHandler returns the view of one token on one chain.
func (h *BalanceHandler) GetTokenBalanceHandler(c *gin.Context) {
	chainID, err := strconv.ParseUint(c.Param("chain"), 10, 64)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid chain id"})
		return
	}
	contract := c.Param("contract")

	bundle, ok := h.aggregator.Bundle(entity.ChainID(chainID))
	if !ok {
		c.JSON(http.StatusNotFound, gin.H{"error": "chain has no active bundle"})
		return
	}
	record, ok := bundle.Store.TokenByContract(contract)
	if !ok || !record.Enabled {
		c.JSON(http.StatusNotFound, gin.H{"error": "token not enabled"})
		return
	}
	c.JSON(http.StatusOK, renderToken(entity.SnapshotFromRecord(record, nil)))
}

// ForceRefreshHandler triggers an immediate refresh. The scope query parameter
// selects native, tokens or all holdings.
func (h *BalanceHandler) ForceRefreshHandler(c *gin.Context) {
	scope := c.DefaultQuery("scope", "all")
	ctx := c.Request.Context()

	switch scope {
	case "native":
		h.aggregator.RefreshEthBalance(ctx)
	case "tokens":
		h.aggregator.RefreshTokenBalances(ctx)
	case "all":
		h.aggregator.RefreshAllBalances(ctx)
	default:
		c.JSON(http.StatusBadRequest, gin.H{"error": "scope must be native, tokens or all"})
		return
	}
	h.logger.Info("Forced refresh via API", zap.String("scope", scope))
	c.JSON(http.StatusOK, gin.H{"status": "refreshed", "scope": scope})
}

// GetChainsHandler lists the chains with an active bundle.
func (h *BalanceHandler) GetChainsHandler(c *gin.Context) {
	chains := h.aggregator.ActiveChains()
	ids := make([]uint64, 0, len(chains))
	for _, chain := range chains {
		ids = append(ids, uint64(chain))
	}
	c.JSON(http.StatusOK, gin.H{"chains": ids})
}

func renderBalance(balance entity.WalletBalance) balanceResponse {
	resp := balanceResponse{
		WalletAddress: balance.WalletAddress,
		TotalValueUSD: balance.TotalValueUSD(),
		Tokens:        make([]tokenView, 0, len(balance.Tokens)),
	}
	for _, snap := range balance.Tokens {
		resp.Tokens = append(resp.Tokens, renderToken(snap))
	}
	return resp
}

func renderToken(snap entity.AssignedTokenSnapshot) tokenView {
	view := tokenView{
		ContractAddress: snap.Key.ContractAddress,
		ChainID:         uint64(snap.Key.ChainID),
		Name:            snap.Name,
		Symbol:          snap.Symbol,
		Type:            string(snap.Type),
		RawBalance:      snap.RawBalance,
	}
	if snap.Type.IsFungible() {
		if amount, ok := parseRaw(snap.RawBalance); ok {
			if formatted, err := utils.FormatBigInt(amount, snap.Decimals); err == nil {
				view.FormattedBalance = formatted
			}
		}
	} else {
		view.FormattedBalance = snap.RawBalance
	}
	if snap.Ticker != nil {
		price := snap.Ticker.PriceUSD
		view.PriceUSD = &price
	}
	return view
}

func parseRaw(raw string) (*big.Int, bool) {
	return new(big.Int).SetString(raw, 10)
}
