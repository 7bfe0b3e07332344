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
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	_ "net/http/pprof" // #nosec G108
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/blinklabs-io/vbank"
	"github.com/blinklabs-io/vbank/committee"
	"github.com/blinklabs-io/vbank/internal/config"
)

// Options builds the node options for a loaded config. Candidates and the
// local signer of every chain are served from the config file.
func Options(cfg *config.Config, logger *slog.Logger) ([]vbank.ConfigOptionFunc, error) {
	if len(cfg.Chains) == 0 {
		return nil, config.ErrNoChains
	}
	shutdownTimeout, err := parseDuration(cfg.ShutdownTimeout, 30*time.Second)
	if err != nil {
		return nil, fmt.Errorf("invalid shutdown timeout: %w", err)
	}
	backoffMax, err := parseDuration(cfg.OutboxBackoffMax, 0)
	if err != nil {
		return nil, fmt.Errorf("invalid outbox backoff: %w", err)
	}
	candidates := committee.NewStaticCandidateSource()
	opts := []vbank.ConfigOptionFunc{
		vbank.WithLogger(logger),
		vbank.WithDatabasePath(cfg.DatabasePath),
		vbank.WithBlobPlugin(cfg.BlobPlugin),
		vbank.WithMetadataPlugin(cfg.MetadataPlugin),
		vbank.WithShutdownTimeout(shutdownTimeout),
		vbank.WithOutboxBackoff(0, backoffMax),
		vbank.WithCandidateSource(candidates),
		// Enable metrics with default prometheus registry
		vbank.WithPrometheusRegistry(prometheus.DefaultRegisterer),
		vbank.WithTracing(cfg.TracingExporter != config.TracingNone),
		vbank.WithTracingStdout(cfg.TracingExporter == config.TracingStdout),
	}
	for _, chainCfg := range cfg.Chains {
		ledgerCfg, err := chainCfg.LedgerConfig()
		if err != nil {
			return nil, fmt.Errorf("chain %d: %w", chainCfg.ChainID, err)
		}
		list, err := chainCfg.CandidateList()
		if err != nil {
			return nil, fmt.Errorf("chain %d: %w", chainCfg.ChainID, err)
		}
		signer, err := chainCfg.SignIdentity()
		if err != nil {
			return nil, fmt.Errorf("chain %d: %w", chainCfg.ChainID, err)
		}
		candidates.SetCandidates(chainCfg.ChainID, list)
		candidates.SetLocalIdentity(chainCfg.ChainID, signer)
		opts = append(opts, vbank.WithChain(ledgerCfg))
	}
	return opts, nil
}

func parseDuration(s string, def time.Duration) (time.Duration, error) {
	if s == "" {
		return def, nil
	}
	return time.ParseDuration(s)
}

func Run(cfg *config.Config, logger *slog.Logger) error {
	logger.Debug(fmt.Sprintf("config: %+v", cfg), "component", "node")
	opts, err := Options(cfg, logger)
	if err != nil {
		return err
	}
	n, err := vbank.New(vbank.NewConfig(opts...))
	if err != nil {
		return err
	}
	shutdownTimeout, _ := parseDuration(cfg.ShutdownTimeout, 30*time.Second)
	// Metrics and debug listener
	metricsAddr := fmt.Sprintf("%s:%d", cfg.BindAddr, cfg.MetricsPort)
	http.Handle("/metrics", promhttp.Handler())
	logger.Info(
		"serving prometheus metrics on "+metricsAddr,
		"component", "node",
	)
	metricsServer := &http.Server{
		Addr:              metricsAddr,
		ReadHeaderTimeout: 60 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       120 * time.Second,
	}
	go func() {
		if err := metricsServer.ListenAndServe(); err != nil &&
			!errors.Is(err, http.ErrServerClosed) {
			logger.Error(
				fmt.Sprintf("failed to start metrics listener: %s", err),
				"component", "node",
			)
			os.Exit(1)
		}
	}()
	// Wait for interrupt/termination signal
	signalCtx, signalCtxStop := signal.NotifyContext(
		context.Background(),
		syscall.SIGINT,
		syscall.SIGTERM,
	)
	defer signalCtxStop()

	runErr := n.Run(signalCtx)
	if runErr != nil {
		logger.Error("node error", "error", runErr, "component", "node")
	} else {
		logger.Info("signal received, initiating graceful shutdown", "component", "node")
	}
	shutdownCtx, cancel := context.WithTimeout(
		context.Background(),
		shutdownTimeout,
	)
	defer cancel()
	if err := metricsServer.Shutdown(shutdownCtx); err != nil {
		logger.Error("metrics server shutdown error", "error", err, "component", "node")
	}
	if err := n.Stop(); err != nil {
		logger.Error("shutdown errors occurred", "error", err, "component", "node")
		return errors.Join(runErr, err)
	}
	if runErr == nil {
		logger.Info("shutdown complete", "component", "node")
	}
	return runErr
}
