package ticker

import (
	"fmt"
	"strconv"
	"strings"
	"sync"
	"time"

	jsoniter "github.com/json-iterator/go"
	"github.com/patrickmn/go-cache"
	"github.com/valyala/fasthttp"
	"go.uber.org/zap"

	"wallet_aggregator/internal/config"
	"wallet_aggregator/internal/domain/entity"
	"wallet_aggregator/internal/pkg/utils"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// pairData is the subset of the DEX Screener pair payload the source consumes.
type pairData struct {
	ChainID   string `json:"chainId"`
	PriceUSD  string `json:"priceUsd"`
	BaseToken struct {
		Address string `json:"address"`
	} `json:"baseToken"`
	PriceChange struct {
		H24 float64 `json:"h24"`
	} `json:"priceChange"`
}

// DexScreenerSource implements port.TickerSource backed by the DEX Screener
// token API. Prices live in a TTL cache; the aggregator pushes the set of
// tokens worth pricing through SetWatchlist.
type DexScreenerSource struct {
	client        *fasthttp.Client
	baseURL       string
	timeout       time.Duration
	logger        *zap.Logger
	maxPerRequest int
	prices        *cache.Cache
	chainSlugs    map[entity.ChainID]string

	mu        sync.Mutex
	watch     map[entity.TokenKey]struct{}
	callbacks []func()

	stopOnce sync.Once
	stop     chan struct{}
}

// NewDexScreenerSource creates the ticker source for the configured networks.
func NewDexScreenerSource(cfg config.DEXScreenerConfig, tickerCfg config.TickerConfig, networks []config.NetworkNode, logger *zap.Logger) *DexScreenerSource {
	slugs := make(map[entity.ChainID]string, len(networks))
	for _, n := range networks {
		if n.DEXScreenerID != "" {
			slugs[entity.ChainID(n.ChainID)] = n.DEXScreenerID
		}
	}
	return &DexScreenerSource{
		client:        &fasthttp.Client{},
		baseURL:       strings.TrimRight(cfg.BaseURL, "/"),
		timeout:       time.Duration(cfg.RequestTimeoutMillis) * time.Millisecond,
		logger:        logger.Named("DexScreenerSource"),
		maxPerRequest: tickerCfg.MaxTokensPerBatchRequest,
		prices:        cache.New(time.Duration(tickerCfg.CacheTTLMinutes)*time.Minute, 10*time.Minute),
		chainSlugs:    slugs,
		watch:         make(map[entity.TokenKey]struct{}),
		stop:          make(chan struct{}),
	}
}

// Ticker implements port.TickerSource.
func (s *DexScreenerSource) Ticker(key entity.TokenKey) (entity.TickerInfo, bool) {
	cached, ok := s.prices.Get(cacheKey(key))
	if !ok {
		return entity.TickerInfo{}, false
	}
	info, ok := cached.(entity.TickerInfo)
	return info, ok
}

// OnUpdate implements port.TickerSource.
func (s *DexScreenerSource) OnUpdate(fn func()) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.callbacks = append(s.callbacks, fn)
}

// SetWatchlist replaces the set of tokens the refresh loop prices.
func (s *DexScreenerSource) SetWatchlist(keys []entity.TokenKey) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.watch = make(map[entity.TokenKey]struct{}, len(keys))
	for _, key := range keys {
		s.watch[key] = struct{}{}
	}
}

// Start launches the periodic refresh loop.
func (s *DexScreenerSource) Start(interval time.Duration) {
	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		s.RefreshOnce()
		for {
			select {
			case <-ticker.C:
				s.RefreshOnce()
			case <-s.stop:
				return
			}
		}
	}()
}

// Stop terminates the refresh loop. Idempotent.
func (s *DexScreenerSource) Stop() {
	s.stopOnce.Do(func() { close(s.stop) })
}

// RefreshOnce fetches prices for the current watchlist and fires the update
// callbacks when anything was cached.
func (s *DexScreenerSource) RefreshOnce() {
	byChain := s.watchlistByChain()
	var updated int
	for chain, addresses := range byChain {
		slug, ok := s.chainSlugs[chain]
		if !ok {
			continue
		}
		for _, batch := range utils.BatchStrings(addresses, s.maxPerRequest) {
			pairs, err := s.fetchPairs(slug, batch)
			if err != nil {
				s.logger.Warn("Failed to fetch token pairs",
					zap.Uint64("chainID", uint64(chain)), zap.Error(err))
				continue
			}
			updated += s.cachePairs(chain, pairs)
		}
	}
	if updated == 0 {
		return
	}
	s.logger.Debug("Ticker refresh complete", zap.Int("updated", updated))

	s.mu.Lock()
	callbacks := append([]func(){}, s.callbacks...)
	s.mu.Unlock()
	for _, fn := range callbacks {
		fn()
	}
}

func (s *DexScreenerSource) watchlistByChain() map[entity.ChainID][]string {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make(map[entity.ChainID][]string)
	for key := range s.watch {
		if key.ContractAddress == entity.ZeroAddress {
			continue
		}
		out[key.ChainID] = append(out[key.ChainID], key.ContractAddress)
	}
	return out
}

func (s *DexScreenerSource) fetchPairs(chainSlug string, addresses []string) ([]pairData, error) {
	requestURL := fmt.Sprintf("%s/tokens/v1/%s/%s", s.baseURL, chainSlug, strings.Join(addresses, ","))

	req := fasthttp.AcquireRequest()
	defer fasthttp.ReleaseRequest(req)
	req.Header.SetMethod(fasthttp.MethodGet)
	req.SetRequestURI(requestURL)

	resp := fasthttp.AcquireResponse()
	defer fasthttp.ReleaseResponse(resp)

	if err := s.client.DoTimeout(req, resp, s.timeout); err != nil {
		return nil, fmt.Errorf("request to DEX Screener failed: %w", err)
	}
	if resp.StatusCode() != fasthttp.StatusOK {
		return nil, fmt.Errorf("DEX Screener returned status %d", resp.StatusCode())
	}

	var pairs []pairData
	if err := json.Unmarshal(resp.Body(), &pairs); err != nil {
		return nil, fmt.Errorf("failed to unmarshal DEX Screener response: %w", err)
	}
	return pairs, nil
}

func (s *DexScreenerSource) cachePairs(chain entity.ChainID, pairs []pairData) int {
	var cached int
	for _, pair := range pairs {
		price, err := strconv.ParseFloat(pair.PriceUSD, 64)
		if err != nil || price <= 0 {
			continue
		}
		key := entity.TokenKey{ContractAddress: pair.BaseToken.Address, ChainID: chain}
		s.prices.SetDefault(cacheKey(key), entity.TickerInfo{
			PriceUSD:     price,
			Change24Hour: pair.PriceChange.H24,
			Currency:     "USD",
		})
		cached++
	}
	return cached
}

func cacheKey(key entity.TokenKey) string {
	return fmt.Sprintf("%d_%s", key.ChainID, strings.ToLower(key.ContractAddress))
}
