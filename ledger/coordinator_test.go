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

package ledger_test

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/blinklabs-io/vbank/database"
	"github.com/blinklabs-io/vbank/event"
	"github.com/blinklabs-io/vbank/internal/test/testutil"
	"github.com/blinklabs-io/vbank/ledger"
	"github.com/blinklabs-io/vbank/txs"
)

const testChainID uint16 = 1

var errCommit = errors.New("commit failed")

// fakeProcessor marks each committed transaction in node state, keyed by
// kind and time
type fakeProcessor struct {
	commitLog      *[]txs.Kind
	reject         map[int64]error
	kind           txs.Kind
	priority       int
	failCommit     bool
	failRollback   bool
	failRevert     bool
	panicValidate  bool
	rollbackCalled bool
}

func stateKey(tx *txs.Transaction) string {
	return fmt.Sprintf("fake-%d-%d", tx.Type, tx.Time)
}

func setState(cs *ledger.ChainState, key, value string) func(*database.Txn) error {
	return func(txn *database.Txn) error {
		return cs.DB().SetNodeState(key, value, txn)
	}
}

func (p *fakeProcessor) Kind() txs.Kind { return p.kind }

func (p *fakeProcessor) Priority() int { return p.priority }

func (p *fakeProcessor) Validate(
	cs *ledger.ChainState,
	batch []*txs.Transaction,
	_ map[txs.Kind][]*txs.Transaction,
	_ *txs.BlockHeader,
) ledger.ValidationResult {
	if p.panicValidate {
		panic("validate exploded")
	}
	return ledger.ValidateEach(cs, batch, func(tx *txs.Transaction) error {
		return p.reject[tx.Time]
	})
}

func (p *fakeProcessor) Commit(
	cs *ledger.ChainState,
	batch []*txs.Transaction,
	_ txs.BlockHeader,
	_ txs.SyncStatus,
	txn *database.Txn,
) (*ledger.Saga, error) {
	if p.commitLog != nil {
		*p.commitLog = append(*p.commitLog, p.kind)
	}
	return ledger.CommitEach(batch, txn, func(tx *txs.Transaction, saga *ledger.Saga) error {
		if p.failCommit {
			return errCommit
		}
		revert := setState(cs, stateKey(tx), "")
		if p.failRevert {
			revert = func(*database.Txn) error { return errors.New("revert stuck") }
		}
		return saga.Apply(txn, ledger.Effect{
			Name:   stateKey(tx),
			Apply:  setState(cs, stateKey(tx), "1"),
			Revert: revert,
		})
	})
}

func (p *fakeProcessor) Rollback(
	cs *ledger.ChainState,
	batch []*txs.Transaction,
	_ txs.BlockHeader,
	txn *database.Txn,
) (*ledger.Saga, error) {
	p.rollbackCalled = true
	return ledger.RollbackEach(batch, txn, func(tx *txs.Transaction, saga *ledger.Saga) error {
		if p.failRollback {
			return errors.New("rollback failed")
		}
		return saga.Apply(txn, ledger.Effect{
			Name:   stateKey(tx),
			Apply:  setState(cs, stateKey(tx), ""),
			Revert: setState(cs, stateKey(tx), "1"),
		})
	})
}

type coordinatorFixture struct {
	coord *ledger.Coordinator
	cs    *ledger.ChainState
	bus   *event.EventBus
}

func setupCoordinator(
	t *testing.T,
	cfg ledger.ChainConfig,
	procs ...ledger.Processor,
) *coordinatorFixture {
	t.Helper()
	bus := event.NewEventBus(nil, nil)
	t.Cleanup(bus.Stop)
	coord, err := ledger.NewCoordinator(ledger.CoordinatorConfig{
		EventBus:     bus,
		PromRegistry: prometheus.NewRegistry(),
		Processors:   procs,
	})
	require.NoError(t, err)
	cfg.ChainID = testChainID
	cs, err := ledger.NewChainState(ledger.ChainStateConfig{
		Database: testutil.NewTestDatabase(t),
		Config:   cfg,
	})
	require.NoError(t, err)
	require.NoError(t, coord.AddChain(cs))
	return &coordinatorFixture{coord: coord, cs: cs, bus: bus}
}

func (f *coordinatorFixture) apply(height uint64, txList ...*txs.Transaction) (*ledger.ApplyResult, error) {
	return f.coord.ApplyBlock(
		context.Background(),
		testChainID,
		testHeader(height),
		txList,
		txs.SyncStatusLive,
	)
}

func (f *coordinatorFixture) state(t *testing.T, tx *txs.Transaction) string {
	t.Helper()
	v, err := f.cs.DB().GetNodeState(stateKey(tx), nil)
	require.NoError(t, err)
	return v
}

func testHeader(height uint64) txs.BlockHeader {
	return txs.BlockHeader{
		Height: height,
		Time:   1_700_000_000 + int64(height), //nolint:gosec
		Hash:   []byte(fmt.Sprintf("block-%d", height)),
	}
}

func testTx(t *testing.T, kind txs.Kind, txTime int64) *txs.Transaction {
	t.Helper()
	tx, err := txs.New(kind, txTime, nil, nil, nil)
	require.NoError(t, err)
	return tx
}

func TestCoordinatorCommitOrder(t *testing.T) {
	var commitLog []txs.Kind
	procs := []ledger.Processor{
		&fakeProcessor{kind: txs.KindDeposit, priority: 5, commitLog: &commitLog},
		&fakeProcessor{kind: txs.KindChangeVirtualBank, priority: 100, commitLog: &commitLog},
		&fakeProcessor{kind: txs.KindWithdrawal, priority: 10, commitLog: &commitLog},
		&fakeProcessor{kind: txs.KindRecharge, priority: 10, commitLog: &commitLog},
	}
	f := setupCoordinator(t, ledger.ChainConfig{}, procs...)
	// Equal priorities fall back to kind order
	expected := []txs.Kind{
		txs.KindChangeVirtualBank,
		txs.KindWithdrawal,
		txs.KindRecharge,
		txs.KindDeposit,
	}
	assert.Equal(t, expected, f.coord.CommitOrder())

	_, err := f.apply(
		1,
		testTx(t, txs.KindDeposit, 1),
		testTx(t, txs.KindWithdrawal, 2),
		testTx(t, txs.KindChangeVirtualBank, 3),
		testTx(t, txs.KindRecharge, 4),
	)
	require.NoError(t, err)
	assert.Equal(t, expected, commitLog)
}

func TestCoordinatorDuplicateProcessor(t *testing.T) {
	_, err := ledger.NewCoordinator(ledger.CoordinatorConfig{
		Processors: []ledger.Processor{
			&fakeProcessor{kind: txs.KindDeposit},
			&fakeProcessor{kind: txs.KindDeposit},
		},
	})
	require.ErrorIs(t, err, ledger.ErrDuplicateProcessor)
}

func TestCoordinatorApplyThenRevert(t *testing.T) {
	f := setupCoordinator(
		t,
		ledger.ChainConfig{},
		&fakeProcessor{kind: txs.KindDeposit, priority: 5},
		&fakeProcessor{kind: txs.KindWithdrawal, priority: 10},
	)
	_, appliedCh := f.bus.Subscribe(event.BlockAppliedEventType)
	_, revertedCh := f.bus.Subscribe(event.BlockRevertedEventType)

	tx1 := testTx(t, txs.KindDeposit, 1)
	tx2 := testTx(t, txs.KindWithdrawal, 2)
	res, err := f.apply(1, tx1, tx2)
	require.NoError(t, err)
	assert.Len(t, res.Applied, 2)
	assert.Equal(t, "1", f.state(t, tx1))
	assert.Equal(t, "1", f.state(t, tx2))
	tip, ok := f.cs.Tip()
	require.True(t, ok)
	assert.Equal(t, uint64(1), tip.Height)
	evt := testutil.RequireReceive(t, appliedCh, time.Second, "block applied")
	applied, ok := evt.Data.(event.BlockAppliedEvent)
	require.True(t, ok)
	assert.Equal(t, 2, applied.TxCount)

	header, err := f.coord.RevertBlock(context.Background(), testChainID)
	require.NoError(t, err)
	assert.Equal(t, uint64(1), header.Height)
	assert.Empty(t, f.state(t, tx1))
	assert.Empty(t, f.state(t, tx2))
	tip, ok = f.cs.Tip()
	require.True(t, ok)
	assert.Equal(t, uint64(0), tip.Height)
	testutil.RequireReceive(t, revertedCh, time.Second, "block reverted")

	// The same height applies again after the revert
	_, err = f.apply(1, tx1)
	require.NoError(t, err)
}

func TestCoordinatorCompensatesFailedCommit(t *testing.T) {
	failing := &fakeProcessor{kind: txs.KindDeposit, priority: 5}
	f := setupCoordinator(
		t,
		ledger.ChainConfig{},
		&fakeProcessor{kind: txs.KindChangeVirtualBank, priority: 100},
		&fakeProcessor{kind: txs.KindWithdrawal, priority: 10},
		failing,
	)
	_, failedCh := f.bus.Subscribe(event.BlockFailedEventType)

	tx0 := testTx(t, txs.KindChangeVirtualBank, 1)
	_, err := f.apply(1, tx0)
	require.NoError(t, err)

	failing.failCommit = true
	tx1 := testTx(t, txs.KindChangeVirtualBank, 2)
	tx2 := testTx(t, txs.KindWithdrawal, 3)
	tx3 := testTx(t, txs.KindDeposit, 4)
	_, err = f.apply(2, tx1, tx2, tx3)
	require.ErrorIs(t, err, errCommit)
	require.NoError(t, f.cs.Halted())
	assert.Empty(t, f.state(t, tx1))
	assert.Empty(t, f.state(t, tx2))
	assert.Equal(t, "1", f.state(t, tx0))
	tip, _ := f.cs.Tip()
	assert.Equal(t, uint64(1), tip.Height)
	evt := testutil.RequireReceive(t, failedCh, time.Second, "block failed")
	failed, ok := evt.Data.(event.BlockFailedEvent)
	require.True(t, ok)
	assert.Equal(t, uint64(2), failed.Height)

	// Once the fault clears the same block applies
	failing.failCommit = false
	_, err = f.apply(2, tx1, tx2, tx3)
	require.NoError(t, err)
	assert.Equal(t, "1", f.state(t, tx3))
}

func TestCoordinatorHaltsWhenCompensationFails(t *testing.T) {
	stuck := &fakeProcessor{kind: txs.KindChangeVirtualBank, priority: 100, failRevert: true}
	failing := &fakeProcessor{kind: txs.KindDeposit, priority: 5, failCommit: true}
	f := setupCoordinator(t, ledger.ChainConfig{}, stuck, failing)
	_, haltedCh := f.bus.Subscribe(event.ChainHaltedEventType)

	tx1 := testTx(t, txs.KindChangeVirtualBank, 1)
	tx2 := testTx(t, txs.KindDeposit, 2)
	_, err := f.apply(1, tx1, tx2)
	require.ErrorIs(t, err, ledger.ErrChainHalted)
	require.ErrorIs(t, err, ledger.ErrCompensationFailed)
	require.Error(t, f.cs.Halted())
	testutil.RequireReceive(t, haltedCh, time.Second, "chain halted")
	// The storage transaction was discarded
	assert.Empty(t, f.state(t, tx1))

	_, err = f.apply(1, tx1)
	require.ErrorIs(t, err, ledger.ErrChainHalted)
	_, err = f.coord.RevertBlock(context.Background(), testChainID)
	require.ErrorIs(t, err, ledger.ErrChainHalted)

	require.NoError(t, f.coord.Resume(context.Background(), testChainID))
	require.NoError(t, f.cs.Halted())
	failing.failCommit = false
	_, err = f.apply(1, tx1, tx2)
	require.NoError(t, err)
}

func TestCoordinatorFailedRevertKeepsBlock(t *testing.T) {
	high := &fakeProcessor{kind: txs.KindChangeVirtualBank, priority: 100}
	low := &fakeProcessor{kind: txs.KindDeposit, priority: 5}
	f := setupCoordinator(t, ledger.ChainConfig{}, high, low)
	tx1 := testTx(t, txs.KindChangeVirtualBank, 1)
	tx2 := testTx(t, txs.KindDeposit, 2)
	_, err := f.apply(1, tx1, tx2)
	require.NoError(t, err)

	// Rollback runs lowest priority first, so the deposit is undone and
	// then restored when the change fails to roll back
	high.failRollback = true
	_, err = f.coord.RevertBlock(context.Background(), testChainID)
	require.Error(t, err)
	assert.True(t, low.rollbackCalled)
	require.NoError(t, f.cs.Halted())
	assert.Equal(t, "1", f.state(t, tx1))
	assert.Equal(t, "1", f.state(t, tx2))
	tip, _ := f.cs.Tip()
	assert.Equal(t, uint64(1), tip.Height)

	high.failRollback = false
	_, err = f.coord.RevertBlock(context.Background(), testChainID)
	require.NoError(t, err)
	assert.Empty(t, f.state(t, tx1))
	assert.Empty(t, f.state(t, tx2))
}

func TestCoordinatorHeightMismatch(t *testing.T) {
	f := setupCoordinator(t, ledger.ChainConfig{}, &fakeProcessor{kind: txs.KindDeposit})
	_, err := f.apply(0)
	require.ErrorIs(t, err, ledger.ErrHeightMismatch)
	_, err = f.apply(1)
	require.NoError(t, err)
	_, err = f.apply(3)
	require.ErrorIs(t, err, ledger.ErrHeightMismatch)
	_, err = f.apply(1)
	require.ErrorIs(t, err, ledger.ErrHeightMismatch)
	_, err = f.apply(2)
	require.NoError(t, err)
}

func TestCoordinatorUnknownChain(t *testing.T) {
	f := setupCoordinator(t, ledger.ChainConfig{}, &fakeProcessor{kind: txs.KindDeposit})
	tx := testTx(t, txs.KindDeposit, 1)
	_, err := f.coord.ApplyBlock(
		context.Background(),
		99,
		testHeader(1),
		[]*txs.Transaction{tx},
		txs.SyncStatusLive,
	)
	require.ErrorIs(t, err, ledger.ErrChainUnknown)
	_, err = f.coord.RevertBlock(context.Background(), 99)
	require.ErrorIs(t, err, ledger.ErrChainUnknown)

	report, err := f.coord.Validate(context.Background(), 99, nil, []*txs.Transaction{tx})
	require.NoError(t, err)
	require.Len(t, report.Invalid, 1)
	assert.Equal(t, ledger.CodeChainUnknown, ledger.CodeOf(report.Errors[tx.Hash()]))
}

func TestCoordinatorFiltersInvalidTransactions(t *testing.T) {
	f := setupCoordinator(
		t,
		ledger.ChainConfig{},
		&fakeProcessor{
			kind: txs.KindDeposit,
			reject: map[int64]error{
				2: ledger.Reject(ledger.ErrResourceMissing, "no such deposit"),
			},
		},
	)
	good := testTx(t, txs.KindDeposit, 1)
	bad := testTx(t, txs.KindDeposit, 2)
	unsupported := testTx(t, txs.KindVoteProposal, 3)
	res, err := f.apply(1, good, bad, unsupported)
	require.NoError(t, err)
	assert.Equal(t, []*txs.Transaction{good}, res.Applied)
	assert.Equal(t, []*txs.Transaction{bad, unsupported}, res.Report.Invalid)
	assert.Equal(t, ledger.CodeResourceMissing, res.Report.Codes[txs.KindDeposit])
	assert.Equal(t, ledger.CodeUnsupportedType, res.Report.Codes[txs.KindVoteProposal])
	assert.Equal(t, "1", f.state(t, good))
	assert.Empty(t, f.state(t, bad))
}

func TestCoordinatorValidatePanic(t *testing.T) {
	f := setupCoordinator(
		t,
		ledger.ChainConfig{},
		&fakeProcessor{kind: txs.KindDeposit, panicValidate: true},
		&fakeProcessor{kind: txs.KindWithdrawal},
	)
	tx1 := testTx(t, txs.KindDeposit, 1)
	tx2 := testTx(t, txs.KindWithdrawal, 2)
	report, err := f.coord.Validate(context.Background(), testChainID, nil, []*txs.Transaction{tx1, tx2})
	require.NoError(t, err)
	assert.False(t, report.Valid(tx1))
	assert.True(t, report.Valid(tx2))
	assert.Equal(t, ledger.CodeUnknownInternal, report.Codes[txs.KindDeposit])
}

func TestCoordinatorPrunesArchive(t *testing.T) {
	f := setupCoordinator(
		t,
		ledger.ChainConfig{ArchiveDepth: 2},
		&fakeProcessor{kind: txs.KindDeposit},
	)
	for h := uint64(1); h <= 3; h++ {
		_, err := f.apply(h, testTx(t, txs.KindDeposit, int64(h))) //nolint:gosec
		require.NoError(t, err)
	}
	_, err := f.cs.DB().BlockArchived(1, nil)
	require.ErrorIs(t, err, database.ErrBlockNotArchived)

	_, err = f.coord.RevertBlock(context.Background(), testChainID)
	require.NoError(t, err)
	tip, _ := f.cs.Tip()
	assert.Equal(t, uint64(2), tip.Height)
	assert.Equal(t, []byte("block-2"), tip.Hash)
	_, err = f.coord.RevertBlock(context.Background(), testChainID)
	require.NoError(t, err)
	tip, _ = f.cs.Tip()
	assert.Equal(t, uint64(1), tip.Height)
	// Block 1 was pruned, so it can no longer be reverted
	_, err = f.coord.RevertBlock(context.Background(), testChainID)
	require.ErrorIs(t, err, ledger.ErrNothingToRevert)
}
