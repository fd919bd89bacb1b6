package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func TestLoad(t *testing.T) {
	t.Run("full config", func(t *testing.T) {
		path := writeConfig(t, `
server:
  port: "9090"
wallet:
  address: "0x00000000000000000000000000000000000000aa"
  refreshIntervalSeconds: 30
  autoFetch: true
networks:
  - chainID: 1
    name: "Ethereum"
    nativeSymbol: "ETH"
    nativeDecimals: 18
    primaryRpcUrl: "https://eth.example.com"
    fallbackRpcUrls:
      - "https://eth-fallback.example.com"
    dexScreenerChainID: "ethereum"
    partnerTokens:
      - "0x0000000000000000000000000000000000000004"
detection:
  maxConcurrentProbes: 4
performance:
  maxConcurrentRoutines: 6
`)
		cfg, err := Load(path)
		require.NoError(t, err)

		assert.Equal(t, "9090", cfg.Server.Port)
		assert.Equal(t, 30, cfg.Wallet.RefreshIntervalSeconds)
		assert.True(t, cfg.Wallet.AutoFetch)
		require.Len(t, cfg.Networks, 1)
		assert.Equal(t, uint64(1), cfg.Networks[0].ChainID)
		assert.Equal(t, "ethereum", cfg.Networks[0].DEXScreenerID)
		assert.Len(t, cfg.Networks[0].PartnerTokens, 1)
		assert.Equal(t, 4, cfg.Detection.MaxConcurrentProbes)
		assert.Equal(t, 6, cfg.Performance.MaxConcurrentRoutines)
	})

	t.Run("defaults fill the gaps", func(t *testing.T) {
		path := writeConfig(t, `
wallet:
  address: "0x00000000000000000000000000000000000000aa"
`)
		cfg, err := Load(path)
		require.NoError(t, err)

		assert.Equal(t, "8080", cfg.Server.Port)
		assert.Equal(t, "info", cfg.Logging.Level)
		assert.Equal(t, 60, cfg.Wallet.RefreshIntervalSeconds)
		assert.Equal(t, "https://api.dexscreener.com", cfg.DEXScreener.BaseURL)
		assert.Equal(t, 30, cfg.TickerSvc.MaxTokensPerBatchRequest)
		assert.Equal(t, "data/checkpoints.json", cfg.Detection.CheckpointPath)
		assert.Equal(t, 8, cfg.Detection.MaxConcurrentProbes)
		assert.Equal(t, 10, cfg.Detection.RPCCallTimeoutSeconds)
		assert.Equal(t, 10, cfg.Performance.MaxConcurrentRoutines)
	})

	t.Run("missing wallet address fails", func(t *testing.T) {
		path := writeConfig(t, `
networks:
  - chainID: 1
    primaryRpcUrl: "https://eth.example.com"
`)
		_, err := Load(path)
		require.Error(t, err)
		assert.Contains(t, err.Error(), "wallet.address")
	})

	t.Run("network without chainID fails", func(t *testing.T) {
		path := writeConfig(t, `
wallet:
  address: "0x00000000000000000000000000000000000000aa"
networks:
  - name: "Broken"
    primaryRpcUrl: "https://broken.example.com"
`)
		_, err := Load(path)
		require.Error(t, err)
		assert.Contains(t, err.Error(), "chainID")
	})

	t.Run("network without RPC URL fails", func(t *testing.T) {
		path := writeConfig(t, `
wallet:
  address: "0x00000000000000000000000000000000000000aa"
networks:
  - chainID: 56
    name: "BNB Chain"
`)
		_, err := Load(path)
		require.Error(t, err)
		assert.Contains(t, err.Error(), "primaryRpcUrl")
	})

	t.Run("missing file fails", func(t *testing.T) {
		_, err := Load(filepath.Join(t.TempDir(), "absent.yml"))
		assert.Error(t, err)
	})

	t.Run("malformed yaml fails", func(t *testing.T) {
		path := writeConfig(t, "wallet: [broken")
		_, err := Load(path)
		assert.Error(t, err)
	})
}
