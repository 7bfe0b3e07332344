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
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"strconv"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"go.opentelemetry.io/otel/trace"

	"github.com/blinklabs-io/vbank/committee"
	"github.com/blinklabs-io/vbank/database"
	"github.com/blinklabs-io/vbank/docking"
	"github.com/blinklabs-io/vbank/event"
	"github.com/blinklabs-io/vbank/ledger"
	"github.com/blinklabs-io/vbank/ledger/processors"
	"github.com/blinklabs-io/vbank/outbox"
	"github.com/blinklabs-io/vbank/txs"
)

var (
	ErrNotStarted     = errors.New("node not started")
	ErrAlreadyStarted = errors.New("node already started")
)

// chainRuntime is everything the node holds for one chain
type chainRuntime struct {
	db       *database.Database
	state    *ledger.ChainState
	consumer *outbox.Consumer
}

type Node struct {
	eventBus       *event.EventBus
	coordinator    *ledger.Coordinator
	adapters       *docking.Registry
	candidates     committee.CandidateSource
	tracerProvider trace.TracerProvider
	chains         map[uint16]*chainRuntime
	shutdownFuncs  []func(context.Context) error
	config         Config
	done           chan struct{}
	mu             sync.RWMutex
	shutdownOnce   sync.Once
	started        bool
}

func New(cfg Config) (*Node, error) {
	if err := cfg.validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	adapters := docking.NewRegistry()
	for _, a := range cfg.adapters {
		if err := adapters.Register(a); err != nil {
			return nil, fmt.Errorf("invalid configuration: %w", err)
		}
	}
	candidates := cfg.candidateSource
	if candidates == nil {
		candidates = committee.NewStaticCandidateSource()
	}
	n := &Node{
		config:     cfg,
		eventBus:   event.NewEventBus(cfg.promRegistry, cfg.logger),
		adapters:   adapters,
		candidates: candidates,
		chains:     make(map[uint16]*chainRuntime),
		done:       make(chan struct{}),
	}
	return n, nil
}

// Start opens the storage of every chain, loads its state and starts its
// outbox consumer. Blocks may be applied once Start returns.
func (n *Node) Start(ctx context.Context) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	if n.started {
		return ErrAlreadyStarted
	}
	if n.config.tracing {
		if err := n.setupTracing(ctx); err != nil {
			return err
		}
	}
	coord, err := ledger.NewCoordinator(ledger.CoordinatorConfig{
		EventBus:       n.eventBus,
		Logger:         n.config.logger,
		PromRegistry:   n.config.promRegistry,
		TracerProvider: n.tracerProvider,
		Processors:     processors.All(),
	})
	if err != nil {
		return err
	}
	n.coordinator = coord
	for _, chainCfg := range n.config.chains {
		rt, err := n.openChain(chainCfg)
		if err != nil {
			n.closeChains()
			return fmt.Errorf("chain %d: %w", chainCfg.ChainID, err)
		}
		n.chains[chainCfg.ChainID] = rt
	}
	// Consumers outlive the caller's context and are stopped by Stop
	consumerCtx := context.WithoutCancel(ctx)
	for _, id := range coord.ChainIDs() {
		if err := n.chains[id].consumer.Start(consumerCtx); err != nil {
			n.closeChains()
			return fmt.Errorf("chain %d: start outbox consumer: %w", id, err)
		}
	}
	n.started = true
	n.config.logger.Info(
		fmt.Sprintf("started with %d chain(s)", len(n.chains)),
		"component", "node",
	)
	return nil
}

func (n *Node) openChain(chainCfg ledger.ChainConfig) (*chainRuntime, error) {
	label := strconv.Itoa(int(chainCfg.ChainID))
	dbConfig := &database.Config{
		Logger:         n.config.logger,
		BlobPlugin:     n.config.blobPlugin,
		MetadataPlugin: n.config.metadataPlugin,
	}
	if n.config.dataDir != "" {
		dbConfig.DataDir = filepath.Join(n.config.dataDir, "chain-"+label)
	}
	if n.config.promRegistry != nil {
		dbConfig.PromRegistry = prometheus.WrapRegistererWith(
			prometheus.Labels{"chain": label},
			n.config.promRegistry,
		)
	}
	db, err := database.New(dbConfig)
	if err != nil {
		if db != nil {
			_ = db.Close()
		}
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	rt := &chainRuntime{db: db}
	rt.state, err = ledger.NewChainState(ledger.ChainStateConfig{
		Database:     db,
		Adapters:     n.adapters,
		Candidates:   n.candidates,
		Verifier:     n.config.verifier,
		Logger:       n.config.logger,
		PromRegistry: n.config.promRegistry,
		Config:       chainCfg,
	})
	if err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to load chain state: %w", err)
	}
	rt.consumer, err = outbox.NewConsumer(outbox.ConsumerConfig{
		Queue:      rt.state.Outbox(),
		Executor:   ledger.NewOutboxExecutor(rt.state),
		Logger:     n.config.logger,
		EventBus:   n.eventBus,
		Lock:       rt.state.ApplyLocker(),
		BackoffMin: n.config.outboxBackoffMin,
		BackoffMax: n.config.outboxBackoffMax,
	})
	if err != nil {
		_ = db.Close()
		return nil, err
	}
	if err := n.coordinator.AddChain(rt.state); err != nil {
		_ = db.Close()
		return nil, err
	}
	return rt, nil
}

func (n *Node) closeChains() {
	for id, rt := range n.chains {
		rt.consumer.Stop()
		if err := rt.db.Close(); err != nil {
			n.config.logger.Error(
				"failed to close database",
				"component", "node",
				"chain", id,
				"error", err,
			)
		}
		delete(n.chains, id)
	}
}

// Run starts the node and blocks until it is stopped or ctx is done
func (n *Node) Run(ctx context.Context) error {
	if err := n.Start(ctx); err != nil {
		return err
	}
	select {
	case <-n.done:
	case <-ctx.Done():
	}
	return nil
}

func (n *Node) running() (*ledger.Coordinator, error) {
	n.mu.RLock()
	defer n.mu.RUnlock()
	if !n.started {
		return nil, ErrNotStarted
	}
	return n.coordinator, nil
}

// ApplyBlock applies the valid transactions of a block on a chain. Invalid
// transactions are dropped and reported in the result.
func (n *Node) ApplyBlock(
	ctx context.Context,
	chainID uint16,
	header txs.BlockHeader,
	txList []*txs.Transaction,
	syncStatus txs.SyncStatus,
) (*ledger.ApplyResult, error) {
	coord, err := n.running()
	if err != nil {
		return nil, err
	}
	return coord.ApplyBlock(ctx, chainID, header, txList, syncStatus)
}

// RevertBlock rolls back the tip block of a chain and returns its header
func (n *Node) RevertBlock(ctx context.Context, chainID uint16) (*txs.BlockHeader, error) {
	coord, err := n.running()
	if err != nil {
		return nil, err
	}
	return coord.RevertBlock(ctx, chainID)
}

// ValidateBlock reports which transactions of a block would be rejected,
// without applying anything
func (n *Node) ValidateBlock(
	ctx context.Context,
	chainID uint16,
	header txs.BlockHeader,
	txList []*txs.Transaction,
) (ledger.ValidationReport, error) {
	coord, err := n.running()
	if err != nil {
		return ledger.ValidationReport{}, err
	}
	return coord.Validate(ctx, chainID, &header, txList)
}

// Resume accepts blocks again on a chain halted by a failed compensation
func (n *Node) Resume(ctx context.Context, chainID uint16) error {
	coord, err := n.running()
	if err != nil {
		return err
	}
	return coord.Resume(ctx, chainID)
}

// Chain returns the state of a chain, for inspection
func (n *Node) Chain(chainID uint16) (*ledger.ChainState, bool) {
	coord, err := n.running()
	if err != nil {
		return nil, false
	}
	return coord.Chain(chainID)
}

func (n *Node) EventBus() *event.EventBus {
	return n.eventBus
}

func (n *Node) Stop() error {
	var err error
	n.shutdownOnce.Do(func() {
		err = n.shutdown()
	})
	return err
}

func (n *Node) shutdown() error {
	shutdownTimeout := 30 * time.Second
	if n.config.shutdownTimeout > 0 {
		shutdownTimeout = n.config.shutdownTimeout
	}
	ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	n.mu.Lock()
	defer n.mu.Unlock()
	n.started = false

	var err error
	n.config.logger.Debug("starting graceful shutdown", "component", "node")

	// Phase 1: Stop outbox consumers so no external call is in flight
	n.config.logger.Debug("shutdown phase 1: stopping outbox consumers", "component", "node")
	for _, rt := range n.chains {
		rt.consumer.Stop()
	}

	// Phase 2: Close databases
	n.config.logger.Debug("shutdown phase 2: closing databases", "component", "node")
	for id, rt := range n.chains {
		if closeErr := rt.db.Close(); closeErr != nil {
			err = errors.Join(err, fmt.Errorf("chain %d database close: %w", id, closeErr))
		}
	}
	clear(n.chains)

	// Phase 3: Cleanup resources
	n.config.logger.Debug("shutdown phase 3: cleanup resources", "component", "node")
	for _, fn := range n.shutdownFuncs {
		if fnErr := fn(ctx); fnErr != nil {
			err = errors.Join(err, fmt.Errorf("shutdown function: %w", fnErr))
		}
	}
	n.shutdownFuncs = nil

	if n.eventBus != nil {
		n.eventBus.Stop()
	}

	n.config.logger.Debug("graceful shutdown complete", "component", "node")
	close(n.done)
	return err
}
