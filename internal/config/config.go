package config

import (
	"fmt"
	"os"

	"github.com/sirupsen/logrus"
	"gopkg.in/yaml.v3"
)

// Config holds the overall configuration for the application.
type Config struct {
	Server      ServerConfig      `yaml:"server"`
	Logging     LoggingConfig     `yaml:"logging"`
	Wallet      WalletConfig      `yaml:"wallet"`
	Networks    []NetworkNode     `yaml:"networks"`
	DEXScreener DEXScreenerConfig `yaml:"dexScreener"`
	TickerSvc   TickerConfig      `yaml:"tickerService"`
	Detection   DetectionConfig   `yaml:"detection"`
	Performance PerformanceConfig `yaml:"performance"`
}

// ServerConfig holds the HTTP server configuration.
type ServerConfig struct {
	Port         string `yaml:"port"`
	ReadTimeout  int    `yaml:"readTimeout"`
	WriteTimeout int    `yaml:"writeTimeout"`
}

// LoggingConfig holds logging-specific configuration.
type LoggingConfig struct {
	Level string `yaml:"level"`
}

// WalletConfig holds the tracked wallet and refresh behavior.
type WalletConfig struct {
	Address                string `yaml:"address"`
	RefreshIntervalSeconds int    `yaml:"refreshIntervalSeconds"`
	AutoFetch              bool   `yaml:"autoFetch"`
}

// NetworkNode holds the configuration for one blockchain network.
type NetworkNode struct {
	ChainID         uint64   `yaml:"chainID"`
	Name            string   `yaml:"name"`
	NativeSymbol    string   `yaml:"nativeSymbol"`
	NativeDecimals  uint8    `yaml:"nativeDecimals"`
	PrimaryRPCURL   string   `yaml:"primaryRpcUrl"`
	FallbackRPCURLs []string `yaml:"fallbackRpcUrls"`
	DEXScreenerID   string   `yaml:"dexScreenerChainID"`
	// PartnerTokens is the fixed allow-list probed by partner-token detection.
	PartnerTokens []string `yaml:"partnerTokens"`
}

// DEXScreenerConfig holds DEXScreener API specific configuration.
type DEXScreenerConfig struct {
	BaseURL              string `yaml:"baseURL"`
	RequestTimeoutMillis int64  `yaml:"requestTimeoutMillis"`
}

// TickerConfig holds configuration for the price ticker service.
type TickerConfig struct {
	MaxTokensPerBatchRequest int `yaml:"maxTokensPerBatchRequest"`
	CacheTTLMinutes          int `yaml:"cacheTTLMinutes"`
	RefreshIntervalSeconds   int `yaml:"refreshIntervalSeconds"`
}

// DetectionConfig holds configuration for the token auto-detection engine.
type DetectionConfig struct {
	CheckpointPath        string `yaml:"checkpointPath"`
	MaxConcurrentProbes   int    `yaml:"maxConcurrentProbes"`
	RPCCallTimeoutSeconds int    `yaml:"rpcCallTimeoutSeconds"`
}

// PerformanceConfig bounds the balance-refresh fan-out per chain. Detection has
// its own probe limit in DetectionConfig.
type PerformanceConfig struct {
	MaxConcurrentRoutines int `yaml:"maxConcurrentRoutines"`
}

// Load reads the YAML configuration file from the given path, applies defaults
// and validates network entries.
func Load(path string) (*Config, error) {
	logrus.Infof("Loading configuration from path: %s", path)

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file %s: %w", path, err)
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config data from %s: %w", path, err)
	}

	applyDefaults(&cfg)

	if cfg.Wallet.Address == "" {
		return nil, fmt.Errorf("config %s: wallet.address is required", path)
	}
	for i, network := range cfg.Networks {
		if network.ChainID == 0 {
			return nil, fmt.Errorf("config %s: networks[%d] is missing chainID", path, i)
		}
		if network.PrimaryRPCURL == "" {
			return nil, fmt.Errorf("config %s: network %s is missing primaryRpcUrl", path, network.Name)
		}
		if network.DEXScreenerID == "" {
			logrus.Warnf("Network %s has no dexScreenerChainID, token prices will be unavailable", network.Name)
		}
	}

	logrus.Infof("Configuration loaded: %d networks, refresh interval %ds",
		len(cfg.Networks), cfg.Wallet.RefreshIntervalSeconds)
	return &cfg, nil
}

func applyDefaults(cfg *Config) {
	if cfg.Server.Port == "" {
		cfg.Server.Port = "8080"
	}
	if cfg.Logging.Level == "" {
		cfg.Logging.Level = "info"
	}
	if cfg.Wallet.RefreshIntervalSeconds <= 0 {
		cfg.Wallet.RefreshIntervalSeconds = 60
	}
	if cfg.DEXScreener.BaseURL == "" {
		cfg.DEXScreener.BaseURL = "https://api.dexscreener.com"
	}
	if cfg.DEXScreener.RequestTimeoutMillis == 0 {
		cfg.DEXScreener.RequestTimeoutMillis = 10000
	}
	if cfg.TickerSvc.MaxTokensPerBatchRequest == 0 {
		cfg.TickerSvc.MaxTokensPerBatchRequest = 30 // DEXScreener limit
	}
	if cfg.TickerSvc.CacheTTLMinutes == 0 {
		cfg.TickerSvc.CacheTTLMinutes = 60
	}
	if cfg.TickerSvc.RefreshIntervalSeconds <= 0 {
		cfg.TickerSvc.RefreshIntervalSeconds = 300
	}
	if cfg.Detection.CheckpointPath == "" {
		cfg.Detection.CheckpointPath = "data/checkpoints.json"
	}
	if cfg.Detection.MaxConcurrentProbes <= 0 {
		cfg.Detection.MaxConcurrentProbes = 8
	}
	if cfg.Detection.RPCCallTimeoutSeconds <= 0 {
		cfg.Detection.RPCCallTimeoutSeconds = 10
	}
	if cfg.Performance.MaxConcurrentRoutines <= 0 {
		cfg.Performance.MaxConcurrentRoutines = 10
	}
}
