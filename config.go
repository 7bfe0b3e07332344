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

package vbank

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/blinklabs-io/vbank/committee"
	"github.com/blinklabs-io/vbank/docking"
	"github.com/blinklabs-io/vbank/ledger"
)

type Config struct {
	promRegistry     prometheus.Registerer
	logger           *slog.Logger
	candidateSource  committee.CandidateSource
	verifier         committee.SignatureVerifier
	adapters         []docking.Adapter
	chains           []ledger.ChainConfig
	dataDir          string
	blobPlugin       string
	metadataPlugin   string
	outboxBackoffMin time.Duration
	outboxBackoffMax time.Duration
	shutdownTimeout  time.Duration
	tracing          bool
	tracingStdout    bool
}

// ConfigOptionFunc is a type that represents functions that modify the Connection config
type ConfigOptionFunc func(*Config)

// NewConfig creates a new vbank config with the specified options
func NewConfig(opts ...ConfigOptionFunc) Config {
	c := Config{
		// Default logger will throw away logs
		// We do this so we don't have to add guards around every log operation
		logger: slog.New(slog.NewJSONHandler(io.Discard, nil)),
	}
	for _, opt := range opts {
		opt(&c)
	}
	return c
}

func (c *Config) validate() error {
	if len(c.chains) == 0 {
		return errors.New("no chains configured")
	}
	seen := make(map[uint16]struct{}, len(c.chains))
	for _, chain := range c.chains {
		if chain.ChainID == 0 {
			return errors.New("chain id must not be zero")
		}
		if _, ok := seen[chain.ChainID]; ok {
			return fmt.Errorf("duplicate chain id: %d", chain.ChainID)
		}
		seen[chain.ChainID] = struct{}{}
		if len(chain.Seeds) == 0 {
			return fmt.Errorf("chain %d has no seed members", chain.ChainID)
		}
	}
	return nil
}

// WithLogger specifies the logger to use
func WithLogger(logger *slog.Logger) ConfigOptionFunc {
	return func(c *Config) {
		c.logger = logger
	}
}

// WithDatabasePath specifies the persistent data directory to use. Each chain
// stores its data in a subdirectory. The default is to store everything in memory.
func WithDatabasePath(dataDir string) ConfigOptionFunc {
	return func(c *Config) {
		c.dataDir = dataDir
	}
}

// WithBlobPlugin specifies the blob storage plugin to use.
func WithBlobPlugin(plugin string) ConfigOptionFunc {
	return func(c *Config) {
		c.blobPlugin = plugin
	}
}

// WithMetadataPlugin specifies the metadata storage plugin to use.
func WithMetadataPlugin(plugin string) ConfigOptionFunc {
	return func(c *Config) {
		c.metadataPlugin = plugin
	}
}

// WithPrometheusRegistry specifies a prometheus.Registerer instance to add metrics to
func WithPrometheusRegistry(registry prometheus.Registerer) ConfigOptionFunc {
	return func(c *Config) {
		c.promRegistry = registry
	}
}

// WithTracing enables tracing. By default, spans are submitted to a HTTP(s) OTLP collector
func WithTracing(tracing bool) ConfigOptionFunc {
	return func(c *Config) {
		c.tracing = tracing
	}
}

// WithTracingStdout enables tracing output to stdout. This also requires tracing to enabled separately. This is mostly useful for debugging
func WithTracingStdout(stdout bool) ConfigOptionFunc {
	return func(c *Config) {
		c.tracingStdout = stdout
	}
}

// WithShutdownTimeout specifies the timeout for graceful shutdown. The default is 30 seconds
func WithShutdownTimeout(timeout time.Duration) ConfigOptionFunc {
	return func(c *Config) {
		c.shutdownTimeout = timeout
	}
}

// WithChain adds a chain to process blocks for
func WithChain(chain ledger.ChainConfig) ConfigOptionFunc {
	return func(c *Config) {
		c.chains = append(c.chains, chain)
	}
}

// WithAdapter adds a docking adapter for an external chain
func WithAdapter(adapter docking.Adapter) ConfigOptionFunc {
	return func(c *Config) {
		c.adapters = append(c.adapters, adapter)
	}
}

// WithCandidateSource specifies where committee candidates and the local
// signing identity come from
func WithCandidateSource(source committee.CandidateSource) ConfigOptionFunc {
	return func(c *Config) {
		c.candidateSource = source
	}
}

// WithSignatureVerifier replaces the default secp256k1 signature verifier
func WithSignatureVerifier(verifier committee.SignatureVerifier) ConfigOptionFunc {
	return func(c *Config) {
		c.verifier = verifier
	}
}

// WithOutboxBackoff specifies the retry backoff range of the outbox consumers
func WithOutboxBackoff(minBackoff, maxBackoff time.Duration) ConfigOptionFunc {
	return func(c *Config) {
		c.outboxBackoffMin = minBackoff
		c.outboxBackoffMax = maxBackoff
	}
}
