package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	"wallet_aggregator/internal/checkpoint"
	"wallet_aggregator/internal/client/evm"
	"wallet_aggregator/internal/client/ticker"
	"wallet_aggregator/internal/config"
	"wallet_aggregator/internal/domain/entity"
	"wallet_aggregator/internal/infrastructure/restapi"
	"wallet_aggregator/internal/pkg/logger"
	"wallet_aggregator/internal/service"
)

func main() {
	cfg, err := config.Load("config/config.yml")
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load configuration: %v\n", err)
		os.Exit(1)
	}

	zapLogger, err := logger.New(cfg.Logging.Level)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to initialize logger: %v\n", err)
		os.Exit(1)
	}
	defer zapLogger.Sync()
	logger.NewSlogBridge(zapLogger)

	checkpoints, err := checkpoint.NewFileStore(cfg.Detection.CheckpointPath)
	if err != nil {
		zapLogger.Fatal("Failed to open checkpoint store", zap.Error(err))
	}

	rpcTimeout := time.Duration(cfg.Detection.RPCCallTimeoutSeconds) * time.Second
	classifier := evm.NewClassifier(cfg.Networks, rpcTimeout, zapLogger)
	history := evm.NewHistoryProvider(classifier, rpcTimeout, zapLogger)

	tickerSource := ticker.NewDexScreenerSource(cfg.DEXScreener, cfg.TickerSvc, cfg.Networks, zapLogger)
	tickerSource.Start(time.Duration(cfg.TickerSvc.RefreshIntervalSeconds) * time.Second)
	defer tickerSource.Stop()

	aggregator := service.NewAggregator(cfg, classifier, tickerSource, history, checkpoints, zapLogger)

	chains := make([]entity.ChainID, 0, len(cfg.Networks))
	for _, network := range cfg.Networks {
		chains = append(chains, entity.ChainID(network.ChainID))
	}
	aggregator.UpdateServers(chains)
	aggregator.Start()
	defer aggregator.Stop()

	handler := restapi.NewBalanceHandler(aggregator, zapLogger)
	router := restapi.SetupRouter(handler)

	srv := &http.Server{
		Addr:         ":" + cfg.Server.Port,
		Handler:      router,
		ReadTimeout:  time.Duration(cfg.Server.ReadTimeout) * time.Second,
		WriteTimeout: time.Duration(cfg.Server.WriteTimeout) * time.Second,
	}

	go func() {
		zapLogger.Info("HTTP server listening", zap.String("addr", srv.Addr))
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			zapLogger.Fatal("HTTP server failed", zap.Error(err))
		}
	}()

	signalChan := make(chan os.Signal, 1)
	signal.Notify(signalChan, syscall.SIGINT, syscall.SIGTERM)
	<-signalChan

	zapLogger.Info("Shutdown signal received")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		zapLogger.Error("HTTP server shutdown failed", zap.Error(err))
	}
	zapLogger.Info("Wallet aggregator stopped")
}
