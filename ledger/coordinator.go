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

package ledger

import (
	"cmp"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"slices"
	"strconv"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/errgroup"

	"github.com/blinklabs-io/vbank/database"
	"github.com/blinklabs-io/vbank/database/models"
	"github.com/blinklabs-io/vbank/event"
	"github.com/blinklabs-io/vbank/txs"
)

const tracerName = "github.com/blinklabs-io/vbank/ledger"

var (
	ErrDuplicateProcessor = errors.New("processor already registered for kind")
	ErrChainRegistered    = errors.New("chain already registered")
)

type CoordinatorConfig struct {
	EventBus       *event.EventBus
	Logger         *slog.Logger
	PromRegistry   prometheus.Registerer
	TracerProvider trace.TracerProvider
	Processors     []Processor
}

// Coordinator applies and reverts blocks on the chains registered with it
type Coordinator struct {
	processors map[txs.Kind]Processor
	chains     map[uint16]*ChainState
	eventBus   *event.EventBus
	logger     *slog.Logger
	tracer     trace.Tracer
	metrics    coordinatorMetrics
	ordered    []Processor
	chainsMu   sync.RWMutex
}

// ValidationReport is the merged validation outcome of a block
type ValidationReport struct {
	Errors  map[txs.Hash]error
	Codes   map[txs.Kind]Code
	Invalid []*txs.Transaction
}

// Valid reports whether tx passed validation
func (r ValidationReport) Valid(tx *txs.Transaction) bool {
	_, ok := r.Errors[tx.Hash()]
	return !ok
}

// ApplyResult describes an applied block
type ApplyResult struct {
	Report  ValidationReport
	Applied []*txs.Transaction
	Header  txs.BlockHeader
}

func NewCoordinator(cfg CoordinatorConfig) (*Coordinator, error) {
	c := &Coordinator{
		processors: make(map[txs.Kind]Processor),
		chains:     make(map[uint16]*ChainState),
		eventBus:   cfg.EventBus,
		logger:     cfg.Logger,
	}
	if c.logger == nil {
		c.logger = slog.New(slog.NewJSONHandler(io.Discard, nil))
	}
	c.logger = c.logger.With("component", "ledger")
	tp := cfg.TracerProvider
	if tp == nil {
		tp = otel.GetTracerProvider()
	}
	c.tracer = tp.Tracer(tracerName)
	c.metrics.init(cfg.PromRegistry)
	for _, p := range cfg.Processors {
		if _, ok := c.processors[p.Kind()]; ok {
			return nil, fmt.Errorf("%w: %s", ErrDuplicateProcessor, p.Kind())
		}
		c.processors[p.Kind()] = p
		c.ordered = append(c.ordered, p)
	}
	// Highest priority commits first. Kind breaks ties so the order is stable.
	slices.SortStableFunc(c.ordered, func(a, b Processor) int {
		if r := cmp.Compare(b.Priority(), a.Priority()); r != 0 {
			return r
		}
		return cmp.Compare(a.Kind(), b.Kind())
	})
	return c, nil
}

// CommitOrder returns the transaction kinds in commit order
func (c *Coordinator) CommitOrder() []txs.Kind {
	ret := make([]txs.Kind, 0, len(c.ordered))
	for _, p := range c.ordered {
		ret = append(ret, p.Kind())
	}
	return ret
}

// AddChain registers a chain
func (c *Coordinator) AddChain(cs *ChainState) error {
	c.chainsMu.Lock()
	defer c.chainsMu.Unlock()
	if _, ok := c.chains[cs.ChainID()]; ok {
		return fmt.Errorf("%w: %d", ErrChainRegistered, cs.ChainID())
	}
	c.chains[cs.ChainID()] = cs
	if tip, ok := cs.Tip(); ok {
		c.metrics.tipHeight.WithLabelValues(chainLabel(cs.ChainID())).Set(float64(tip.Height))
	}
	return nil
}

// Chain returns the state of a registered chain
func (c *Coordinator) Chain(chainID uint16) (*ChainState, bool) {
	c.chainsMu.RLock()
	defer c.chainsMu.RUnlock()
	cs, ok := c.chains[chainID]
	return cs, ok
}

// ChainIDs returns the registered chains in ascending order
func (c *Coordinator) ChainIDs() []uint16 {
	c.chainsMu.RLock()
	defer c.chainsMu.RUnlock()
	ret := make([]uint16, 0, len(c.chains))
	for id := range c.chains {
		ret = append(ret, id)
	}
	slices.Sort(ret)
	return ret
}

func chainLabel(chainID uint16) string {
	return strconv.Itoa(int(chainID))
}

// groupByKind splits txList by kind, keeping block order within each kind
func groupByKind(txList []*txs.Transaction) map[txs.Kind][]*txs.Transaction {
	ret := make(map[txs.Kind][]*txs.Transaction)
	for _, tx := range txList {
		ret[tx.Type] = append(ret[tx.Type], tx)
	}
	return ret
}

// Validate checks a block's transactions against the current state of the
// chain without applying them. An unknown chain rejects every transaction.
func (c *Coordinator) Validate(
	ctx context.Context,
	chainID uint16,
	header *txs.BlockHeader,
	txList []*txs.Transaction,
) (ValidationReport, error) {
	cs, ok := c.Chain(chainID)
	if ok {
		cs.applyMu.Lock()
		defer cs.applyMu.Unlock()
	}
	return c.validate(ctx, cs, header, txList)
}

func (c *Coordinator) validate(
	ctx context.Context,
	cs *ChainState,
	header *txs.BlockHeader,
	txList []*txs.Transaction,
) (ValidationReport, error) {
	report := ValidationReport{
		Errors: make(map[txs.Hash]error),
		Codes:  make(map[txs.Kind]Code),
	}
	byKind := groupByKind(txList)
	kinds := make([]txs.Kind, 0, len(byKind))
	for kind := range byKind {
		kinds = append(kinds, kind)
	}
	slices.Sort(kinds)
	results := make([]ValidationResult, len(kinds))
	g, gctx := errgroup.WithContext(ctx)
	for i, kind := range kinds {
		batch := byKind[kind]
		p, ok := c.processors[kind]
		if !ok {
			results[i].RejectAll(
				batch,
				Reject(ErrUnsupportedType, "%s", kind),
			)
			continue
		}
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			results[i] = c.validateKind(p, cs, batch, byKind, header)
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return report, err
	}
	for i, kind := range kinds {
		res := results[i]
		if len(res.Invalid) == 0 {
			continue
		}
		report.Codes[kind] = res.Code
		for _, tx := range res.Invalid {
			report.Errors[tx.Hash()] = res.Errors[tx.Hash()]
		}
	}
	// Keep block order in the invalid list
	for _, tx := range txList {
		if _, ok := report.Errors[tx.Hash()]; ok {
			report.Invalid = append(report.Invalid, tx)
		}
	}
	return report, nil
}

// validateKind runs one processor's validation, turning a panic into the
// rejection of its whole batch
func (c *Coordinator) validateKind(
	p Processor,
	cs *ChainState,
	batch []*txs.Transaction,
	byKind map[txs.Kind][]*txs.Transaction,
	header *txs.BlockHeader,
) (res ValidationResult) {
	defer func() {
		if r := recover(); r != nil {
			c.logger.Error(
				"processor validation panicked",
				"kind", p.Kind().String(),
				"panic", r,
			)
			res = ValidationResult{}
			res.RejectAll(batch, Reject(ErrInternal, "validation panic: %v", r))
		}
	}()
	return p.Validate(cs, batch, byKind, header)
}

// ApplyBlock validates a block and commits its valid transactions in
// priority order. If a processor fails, the processors already committed
// are rolled back in reverse order and nothing of the block is stored.
func (c *Coordinator) ApplyBlock(
	ctx context.Context,
	chainID uint16,
	header txs.BlockHeader,
	txList []*txs.Transaction,
	syncStatus txs.SyncStatus,
) (*ApplyResult, error) {
	ctx, span := c.tracer.Start(
		ctx,
		"ledger.ApplyBlock",
		trace.WithAttributes(
			attribute.Int("chain", int(chainID)),
			attribute.Int64("height", int64(header.Height)), //nolint:gosec
			attribute.Int("txs", len(txList)),
		),
	)
	defer span.End()
	res, err := c.applyBlock(ctx, chainID, header, txList, syncStatus)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	return res, err
}

func (c *Coordinator) applyBlock(
	ctx context.Context,
	chainID uint16,
	header txs.BlockHeader,
	txList []*txs.Transaction,
	syncStatus txs.SyncStatus,
) (*ApplyResult, error) {
	cs, ok := c.Chain(chainID)
	if !ok {
		return nil, fmt.Errorf("%w: %d", ErrChainUnknown, chainID)
	}
	cs.applyMu.Lock()
	defer cs.applyMu.Unlock()
	if err := cs.Halted(); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrChainHalted, err)
	}
	if header.Height == 0 {
		return nil, fmt.Errorf("%w: height 0", ErrHeightMismatch)
	}
	if tip, ok := cs.Tip(); ok && header.Height != tip.Height+1 {
		return nil, fmt.Errorf(
			"%w: tip %d, block %d",
			ErrHeightMismatch,
			tip.Height,
			header.Height,
		)
	}
	label := chainLabel(chainID)
	start := time.Now()
	report, err := c.validate(ctx, cs, &header, txList)
	if err != nil {
		return nil, err
	}
	for _, tx := range report.Invalid {
		c.metrics.invalidTxs.WithLabelValues(
			label,
			CodeOf(report.Errors[tx.Hash()]).String(),
		).Inc()
	}
	accepted := make([]*txs.Transaction, 0, len(txList))
	for _, tx := range txList {
		if report.Valid(tx) {
			accepted = append(accepted, tx)
		}
	}
	byKind := groupByKind(accepted)

	txn := cs.db.Transaction(true)
	defer txn.Release()
	// Drop anything a previous failed attempt left behind
	cs.takePending()
	sagas := make([]*Saga, 0, len(c.ordered))
	for _, p := range c.ordered {
		batch := byKind[p.Kind()]
		if len(batch) == 0 {
			continue
		}
		saga, err := p.Commit(cs, batch, header, syncStatus, txn)
		if err != nil {
			err = fmt.Errorf("commit %s: %w", p.Kind(), err)
			return nil, c.compensate(cs, header.Height, sagas, txn, err)
		}
		sagas = append(sagas, saga)
	}
	tip := &models.Tip{Height: header.Height, Hash: header.Hash}
	if err := c.finishApply(cs, header, accepted, syncStatus, tip, txn); err != nil {
		return nil, c.compensate(cs, header.Height, sagas, txn, Storage(err))
	}
	if err := txn.Commit(); err != nil {
		return nil, c.storageLost(cs, header.Height, err)
	}
	cs.setTip(tip)
	c.metrics.tipHeight.WithLabelValues(label).Set(float64(header.Height))
	c.metrics.blocksApplied.WithLabelValues(label).Inc()
	c.metrics.applyLatency.WithLabelValues(label).Observe(time.Since(start).Seconds())
	c.publish(event.BlockAppliedEventType, event.BlockAppliedEvent{
		ChainID:    chainID,
		Height:     header.Height,
		Hash:       header.Hash,
		TxCount:    len(accepted),
		InvalidTxs: len(report.Invalid),
	})
	c.flushPending(cs)
	c.logger.Debug(
		fmt.Sprintf("applied block %d", header.Height),
		"chain", chainID,
		"txs", len(accepted),
		"invalid", len(report.Invalid),
	)
	return &ApplyResult{
		Report:  report,
		Applied: accepted,
		Header:  header,
	}, nil
}

// finishApply archives the block for rollback, advances the tip and prunes
// archived blocks past the rollback depth
func (c *Coordinator) finishApply(
	cs *ChainState,
	header txs.BlockHeader,
	accepted []*txs.Transaction,
	syncStatus txs.SyncStatus,
	tip *models.Tip,
	txn *database.Txn,
) error {
	blk, err := txs.NewBlock(header, accepted, syncStatus)
	if err != nil {
		return err
	}
	blkCbor, err := blk.Encode()
	if err != nil {
		return err
	}
	if err := cs.db.BlockArchive(header.Height, blkCbor, txn); err != nil {
		return fmt.Errorf("archive block: %w", err)
	}
	if err := cs.db.SetTip(tip, txn); err != nil {
		return fmt.Errorf("set tip: %w", err)
	}
	depth := cs.config.ArchiveDepth
	if header.Height > depth {
		if _, err := cs.db.BlockPruneBelow(header.Height-depth+1, txn); err != nil {
			return fmt.Errorf("prune block archive: %w", err)
		}
	}
	return nil
}

// compensate unwinds the sagas of the processors that already ran, in
// reverse order, and discards the storage transaction. When an inverse
// fails the chain is halted and in-memory state reloaded from storage.
func (c *Coordinator) compensate(
	cs *ChainState,
	height uint64,
	sagas []*Saga,
	txn *database.Txn,
	cause error,
) error {
	label := chainLabel(cs.ChainID())
	var undoErrs []error
	if errors.Is(cause, ErrCompensationFailed) {
		undoErrs = append(undoErrs, cause)
	}
	for i := len(sagas) - 1; i >= 0; i-- {
		if err := sagas[i].Unwind(txn); err != nil {
			undoErrs = append(undoErrs, err)
		}
	}
	if err := txn.Rollback(); err != nil {
		undoErrs = append(undoErrs, Storage(err))
	}
	cs.takePending()
	c.metrics.blocksFailed.WithLabelValues(label).Inc()
	if len(undoErrs) == 0 {
		c.metrics.compensations.WithLabelValues(label, "ok").Inc()
		c.logger.Warn(
			fmt.Sprintf("block %d failed, effects compensated", height),
			"chain", cs.ChainID(),
			"error", cause,
		)
		c.publish(event.BlockFailedEventType, event.BlockFailedEvent{
			Error:   cause,
			ChainID: cs.ChainID(),
			Height:  height,
		})
		return cause
	}
	c.metrics.compensations.WithLabelValues(label, "failed").Inc()
	return c.halt(cs, height, errors.Join(append([]error{cause}, undoErrs...)...))
}

// storageLost handles a failed storage commit. Nothing was stored, so the
// in-memory state is reloaded to match.
func (c *Coordinator) storageLost(cs *ChainState, height uint64, err error) error {
	cs.takePending()
	err = Storage(fmt.Errorf("commit block %d: %w", height, err))
	c.metrics.blocksFailed.WithLabelValues(chainLabel(cs.ChainID())).Inc()
	if reloadErr := cs.Reload(); reloadErr != nil {
		return c.halt(cs, height, errors.Join(err, reloadErr))
	}
	c.publish(event.BlockFailedEventType, event.BlockFailedEvent{
		Error:   err,
		ChainID: cs.ChainID(),
		Height:  height,
	})
	return err
}

// halt stops block processing on a chain until Resume
func (c *Coordinator) halt(cs *ChainState, height uint64, err error) error {
	if reloadErr := cs.Reload(); reloadErr != nil {
		err = errors.Join(err, reloadErr)
	}
	cs.setHalted(err)
	c.metrics.chainHalted.WithLabelValues(chainLabel(cs.ChainID())).Set(1)
	c.logger.Error(
		fmt.Sprintf("chain halted at block %d", height),
		"chain", cs.ChainID(),
		"error", err,
	)
	c.publish(event.ChainHaltedEventType, event.ChainHaltedEvent{
		Error:   err,
		ChainID: cs.ChainID(),
		Height:  height,
	})
	return fmt.Errorf("%w: %w", ErrChainHalted, err)
}

// RevertBlock rolls back the block at the tip of a chain. Processors are
// rolled back in ascending priority; if one fails, those already rolled back
// are committed again in forward order so the block stays fully applied.
func (c *Coordinator) RevertBlock(ctx context.Context, chainID uint16) (*txs.BlockHeader, error) {
	_, span := c.tracer.Start(
		ctx,
		"ledger.RevertBlock",
		trace.WithAttributes(attribute.Int("chain", int(chainID))),
	)
	defer span.End()
	header, err := c.revertBlock(chainID)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	return header, err
}

func (c *Coordinator) revertBlock(chainID uint16) (*txs.BlockHeader, error) {
	cs, ok := c.Chain(chainID)
	if !ok {
		return nil, fmt.Errorf("%w: %d", ErrChainUnknown, chainID)
	}
	cs.applyMu.Lock()
	defer cs.applyMu.Unlock()
	if err := cs.Halted(); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrChainHalted, err)
	}
	tip, ok := cs.Tip()
	if !ok || tip.Height == 0 {
		return nil, ErrNothingToRevert
	}
	txn := cs.db.Transaction(true)
	defer txn.Release()
	blkCbor, err := cs.db.BlockArchived(tip.Height, txn)
	if err != nil {
		if errors.Is(err, database.ErrBlockNotArchived) {
			return nil, fmt.Errorf("%w: block %d not archived", ErrNothingToRevert, tip.Height)
		}
		return nil, Storage(err)
	}
	blk, err := txs.DecodeBlock(blkCbor)
	if err != nil {
		return nil, err
	}
	txList, err := blk.Txs()
	if err != nil {
		return nil, err
	}
	byKind := groupByKind(txList)
	cs.takePending()
	sagas := make([]*Saga, 0, len(c.ordered))
	for i := len(c.ordered) - 1; i >= 0; i-- {
		p := c.ordered[i]
		batch := byKind[p.Kind()]
		if len(batch) == 0 {
			continue
		}
		saga, err := p.Rollback(cs, batch, blk.Header, txn)
		if err != nil {
			err = fmt.Errorf("rollback %s: %w", p.Kind(), err)
			return nil, c.compensate(cs, tip.Height, sagas, txn, err)
		}
		sagas = append(sagas, saga)
	}
	newTip := &models.Tip{Height: tip.Height - 1}
	if prev, err := cs.db.BlockArchived(newTip.Height, txn); err == nil {
		if prevBlk, err := txs.DecodeBlock(prev); err == nil {
			newTip.Hash = prevBlk.Header.Hash
		}
	}
	if err := cs.db.BlockUnarchive(tip.Height, txn); err != nil {
		return nil, c.compensate(cs, tip.Height, sagas, txn, Storage(err))
	}
	if err := cs.db.SetTip(newTip, txn); err != nil {
		return nil, c.compensate(cs, tip.Height, sagas, txn, Storage(err))
	}
	if err := txn.Commit(); err != nil {
		return nil, c.storageLost(cs, tip.Height, err)
	}
	cs.setTip(newTip)
	label := chainLabel(chainID)
	c.metrics.tipHeight.WithLabelValues(label).Set(float64(newTip.Height))
	c.metrics.blocksReverted.WithLabelValues(label).Inc()
	c.publish(event.BlockRevertedEventType, event.BlockRevertedEvent{
		ChainID: chainID,
		Height:  tip.Height,
		Hash:    tip.Hash,
	})
	c.flushPending(cs)
	c.logger.Info(
		fmt.Sprintf("chain rolled back, new tip at height %d", newTip.Height),
		"chain", chainID,
	)
	return &blk.Header, nil
}

// Resume reloads a halted chain from storage and accepts blocks again
func (c *Coordinator) Resume(_ context.Context, chainID uint16) error {
	cs, ok := c.Chain(chainID)
	if !ok {
		return fmt.Errorf("%w: %d", ErrChainUnknown, chainID)
	}
	cs.applyMu.Lock()
	defer cs.applyMu.Unlock()
	if err := cs.Reload(); err != nil {
		return fmt.Errorf("reload chain state: %w", err)
	}
	cs.setHalted(nil)
	c.metrics.chainHalted.WithLabelValues(chainLabel(chainID)).Set(0)
	c.logger.Info("chain resumed", "chain", chainID)
	return nil
}

func (c *Coordinator) publish(eventType event.EventType, data any) {
	if c.eventBus == nil {
		return
	}
	c.eventBus.Publish(eventType, event.NewEvent(eventType, data))
}

// flushPending publishes the events queued while committing and wakes the
// outbox consumer
func (c *Coordinator) flushPending(cs *ChainState) {
	events, notify := cs.takePending()
	for _, evt := range events {
		c.publish(evt.eventType, evt.data)
	}
	if notify {
		cs.outbox.Notify()
	}
}
