// Copyright 2025 Blink Labs Software
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package node

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/blinklabs-io/palmyra"
	"github.com/blinklabs-io/palmyra/archive"
	"github.com/blinklabs-io/palmyra/database"
	"github.com/blinklabs-io/palmyra/internal/config"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Options converts the loaded file and environment config into node options
func Options(cfg *config.Config, logger *slog.Logger) ([]palmyra.ConfigOptionFunc, error) {
	durations, err := cfg.ParseDurations()
	if err != nil {
		return nil, err
	}
	return []palmyra.ConfigOptionFunc{
		palmyra.WithLogger(logger),
		palmyra.WithNetwork(cfg.Network),
		palmyra.WithDatabasePath(cfg.DatabasePath),
		palmyra.WithDatabaseConfig(database.Config{
			Plugin:   cfg.Database.Plugin,
			Dsn:      cfg.Database.Dsn,
			Host:     cfg.Database.Host,
			Port:     cfg.Database.Port,
			User:     cfg.Database.User,
			Password: cfg.Database.Password,
			Database: cfg.Database.Name,
			SslMode:  cfg.Database.SslMode,
		}),
		palmyra.WithArchiveConfig(archive.Config{
			Plugin:          cfg.Archive.Plugin,
			Location:        cfg.Archive.Location,
			Region:          cfg.Archive.Region,
			Endpoint:        cfg.Archive.Endpoint,
			CredentialsFile: cfg.Archive.CredentialsFile,
		}),
		palmyra.WithUtxorpc(cfg.Utxorpc.URL, cfg.Utxorpc.Protocol),
		palmyra.WithUtxorpcAPIKey(cfg.Utxorpc.APIKeyHeader, cfg.Utxorpc.APIKey),
		palmyra.WithUtxorpcTimeout(durations.UtxorpcTimeout),
		palmyra.WithWalletKeyFile(cfg.WalletKeyFile),
		palmyra.WithScriptFiles(cfg.SingletonPolicyFile, cfg.ObjectEventFile),
		palmyra.WithProtocolParamsFile(cfg.ProtocolParamsFile),
		palmyra.WithDeployAddress(cfg.DeployAddress),
		palmyra.WithApiListenAddress(
			fmt.Sprintf("%s:%d", cfg.BindAddr, cfg.ApiPort),
		),
		palmyra.WithIpfs(cfg.IpfsURL, durations.IpfsTimeout),
		palmyra.WithRetryAttempts(cfg.RetryAttempts),
		palmyra.WithCommodityLovelace(cfg.CommodityLovelace),
		palmyra.WithSelector(
			cfg.MinLovelace,
			cfg.SelectorAttempts,
			durations.SelectorRetryDelay,
		),
		palmyra.WithMempoolTTL(durations.MempoolTTL),
		palmyra.WithJobTimeout(durations.JobTimeout),
		palmyra.WithTracing(cfg.Tracing),
		palmyra.WithTracingStdout(cfg.TracingStdout),
		palmyra.WithShutdownTimeout(durations.ShutdownTimeout),
	}, nil
}

func Run(cfg *config.Config, logger *slog.Logger) error {
	logger.Debug(
		fmt.Sprintf("config: %+v", redacted(cfg)),
		"component", "node",
	)
	opts, err := Options(cfg, logger)
	if err != nil {
		return err
	}
	shutdownTimeout := palmyra.DefaultShutdownTimeout
	if cfg.ShutdownTimeout != "" {
		shutdownTimeout, err = time.ParseDuration(cfg.ShutdownTimeout)
		if err != nil {
			return fmt.Errorf("invalid shutdown timeout: %w", err)
		}
	}
	p, err := palmyra.New(
		palmyra.NewConfig(
			append(
				opts,
				// Enable metrics with default prometheus registry
				palmyra.WithPrometheusRegistry(prometheus.DefaultRegisterer),
			)...,
		),
	)
	if err != nil {
		return err
	}
	// Metrics listener
	metricsMux := http.NewServeMux()
	metricsMux.Handle("/metrics", promhttp.Handler())
	metricsAddr := fmt.Sprintf("%s:%d", cfg.BindAddr, cfg.MetricsPort)
	logger.Info(
		"serving prometheus metrics on "+metricsAddr,
		"component",
		"node",
	)
	metricsServer := &http.Server{
		Addr:              metricsAddr,
		Handler:           metricsMux,
		ReadHeaderTimeout: 60 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       120 * time.Second,
	}
	metricsErr := make(chan error, 1)
	go func() {
		if err := metricsServer.ListenAndServe(); err != nil &&
			err != http.ErrServerClosed {
			metricsErr <- fmt.Errorf("failed to start metrics listener: %w", err)
		}
	}()
	// Wait for interrupt/termination signal
	signalCtx, signalCtxStop := signal.NotifyContext(
		context.Background(),
		syscall.SIGINT,
		syscall.SIGTERM,
	)
	defer signalCtxStop()

	// Run node in goroutine
	errChan := make(chan error, 1)
	go func() {
		//nolint:contextcheck
		errChan <- p.Run(signalCtx)
	}()

	var runErr error
	select {
	case <-signalCtx.Done():
		logger.Info("signal received, initiating graceful shutdown")
	case runErr = <-errChan:
		if runErr != nil {
			logger.Error("node error", "error", runErr)
		} else {
			logger.Info("node stopped")
		}
	case runErr = <-metricsErr:
		logger.Error("metrics server error", "error", runErr)
	}
	signalCtxStop()

	shutdownCtx, cancel := context.WithTimeout(
		context.Background(),
		shutdownTimeout,
	)
	defer cancel()
	if err := metricsServer.Shutdown(shutdownCtx); err != nil {
		logger.Error("metrics server shutdown error", "error", err)
	}
	if err := p.Stop(); err != nil {
		logger.Error("shutdown errors occurred", "error", err)
		if runErr == nil {
			runErr = err
		}
	}
	if runErr == nil {
		logger.Info("shutdown complete")
	}
	return runErr
}

// redacted returns a copy of cfg safe to log
func redacted(cfg *config.Config) config.Config {
	ret := *cfg
	if ret.Database.Password != "" {
		ret.Database.Password = "REDACTED"
	}
	if ret.Database.Dsn != "" {
		ret.Database.Dsn = "REDACTED"
	}
	if ret.Utxorpc.APIKey != "" {
		ret.Utxorpc.APIKey = "REDACTED"
	}
	return ret
}
