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

package processors_test

import (
	"context"
	"math"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/blinklabs-io/vbank/database/models"
	"github.com/blinklabs-io/vbank/docking"
	"github.com/blinklabs-io/vbank/internal/test/testutil"
	"github.com/blinklabs-io/vbank/ledger"
	"github.com/blinklabs-io/vbank/ledger/processors"
	"github.com/blinklabs-io/vbank/outbox"
	"github.com/blinklabs-io/vbank/txs"
)

func (f *fixture) withdrawal(
	t *testing.T,
	k *testutil.Key,
	chainID uint16,
	to string,
	amount uint64,
	spent uint64,
) *txs.Transaction {
	t.Helper()
	return f.newTx(
		t,
		txs.KindWithdrawal,
		&txs.WithdrawalData{
			From:            k.Address,
			ExternalChainID: chainID,
			ExternalAddress: to,
			Asset:           testAsset,
			Amount:          amount,
		},
		&txs.CoinData{From: []txs.CoinFrom{{Address: k.Address, Asset: testAsset, Amount: spent}}},
		k,
	)
}

func (f *fixture) confirmWithdrawal(t *testing.T, wd txs.Hash, extHash string) *txs.Transaction {
	t.Helper()
	return f.newTx(
		t,
		txs.KindConfirmWithdrawal,
		&txs.ConfirmWithdrawalData{
			WithdrawalTxHash: wd,
			ExternalChainID:  testExtChain,
			ExternalTxHash:   extHash,
			ExternalHeight:   100,
		},
		nil,
		f.committeeKeys(t)...,
	)
}

func (f *fixture) recharge(t *testing.T, extHash string, amount uint64) *txs.Transaction {
	t.Helper()
	return f.newTx(
		t,
		txs.KindRecharge,
		&txs.RechargeData{
			ExternalChainID: testExtChain,
			ExternalTxHash:  extHash,
			To:              "vb1receiver",
			Asset:           testAsset,
			Amount:          amount,
		},
		&txs.CoinData{To: []txs.CoinTo{{Address: "vb1receiver", Asset: testAsset, Amount: amount}}},
		f.committeeKeys(t)...,
	)
}

func TestWithdrawal(t *testing.T) {
	f := setup(t)
	f.setLocal(t, f.seeds[0])
	user := testutil.NewKey(t, 50)

	good := f.withdrawal(t, user, testExtChain, "0xabcd", 40, 40)
	badAddr := f.withdrawal(t, user, testExtChain, "abcd", 40, 40)
	mismatch := f.withdrawal(t, user, testExtChain, "0xabcd", 40, 30)
	noChain := f.withdrawal(t, user, 9, "0xabcd", 40, 40)
	zero := f.withdrawal(t, user, testExtChain, "0xabcd", 0, 0)
	res := f.apply(t, good, badAddr, mismatch, noChain, zero)
	requireApplied(t, res, good)
	requireRejected(t, res, badAddr, ledger.ErrInvalidAddress)
	requireRejected(t, res, mismatch, ledger.ErrInvalidAmount)
	requireRejected(t, res, noChain, ledger.ErrResourceMissing)
	requireRejected(t, res, zero, ledger.ErrInvalidAmount)

	stored, err := f.cs.DB().GetWithdrawal(good.Hash().Bytes(), nil)
	require.NoError(t, err)
	assert.Equal(t, "0xabcd", stored.ExternalAddress)
	entry, err := f.cs.Outbox().Get(outbox.EntryKey(outbox.ActionWithdraw, good.Hash().String()), nil)
	require.NoError(t, err)
	assert.Equal(t, outbox.ActionWithdraw, entry.Action)

	f.revert(t)
	_, err = f.cs.DB().GetWithdrawal(good.Hash().Bytes(), nil)
	require.ErrorIs(t, err, models.ErrWithdrawalNotFound)
	assert.Equal(t, int64(0), f.outboxLen(t))
}

func TestWithdrawalNonMemberDoesNotEnqueue(t *testing.T) {
	f := setup(t)
	user := testutil.NewKey(t, 50)
	wd := f.withdrawal(t, user, testExtChain, "0xabcd", 40, 40)
	requireApplied(t, f.apply(t, wd), wd)
	assert.Equal(t, int64(0), f.outboxLen(t))
}

func TestConfirmWithdrawal(t *testing.T) {
	f := setup(t)
	f.setLocal(t, f.seeds[1])
	user := testutil.NewKey(t, 50)
	wd := f.withdrawal(t, user, testExtChain, "0xabcd", 40, 40)
	requireApplied(t, f.apply(t, wd), wd)
	require.Equal(t, int64(1), f.outboxLen(t))

	first := f.confirmWithdrawal(t, wd.Hash(), "0x01")
	dup := f.confirmWithdrawal(t, wd.Hash(), "0x02")
	missing := f.confirmWithdrawal(t, txs.Hash{0x42}, "0x03")
	res := f.apply(t, first, dup, missing)
	requireApplied(t, res, first)
	requireRejected(t, res, dup, ledger.ErrConflict)
	requireRejected(t, res, missing, ledger.ErrResourceMissing)
	rec, err := f.cs.DB().GetConfirmationRecord(processors.WithdrawalRecordKey(wd.Hash()), nil)
	require.NoError(t, err)
	assert.Equal(t, "0x01", rec.ExternalTxHash)
	// The withdraw entry stays queued next to the confirm entry
	assert.Equal(t, int64(2), f.outboxLen(t))

	late := f.confirmWithdrawal(t, wd.Hash(), "0x04")
	res = f.apply(t, late)
	requireRejected(t, res, late, ledger.ErrResourceTerminal)

	f.revert(t)
	f.revert(t)
	_, err = f.cs.DB().GetConfirmationRecord(processors.WithdrawalRecordKey(wd.Hash()), nil)
	require.ErrorIs(t, err, models.ErrConfirmationNotFound)
	assert.Equal(t, int64(1), f.outboxLen(t))
}

func TestConfirmWithdrawalWrongChain(t *testing.T) {
	f := setup(t)
	user := testutil.NewKey(t, 50)
	wd := f.withdrawal(t, user, testExtChain, "0xabcd", 40, 40)
	requireApplied(t, f.apply(t, wd), wd)
	wrong := f.newTx(
		t,
		txs.KindConfirmWithdrawal,
		&txs.ConfirmWithdrawalData{
			WithdrawalTxHash: wd.Hash(),
			ExternalChainID:  testExtChain + 1,
			ExternalTxHash:   "0x01",
		},
		nil,
		f.committeeKeys(t)...,
	)
	res := f.apply(t, wrong)
	requireRejected(t, res, wrong, ledger.ErrNotEligible)
}

func TestRecharge(t *testing.T) {
	f := setup(t)
	first := f.recharge(t, "0xaa", 10)
	dup := f.recharge(t, "0xaa", 10)
	res := f.apply(t, first, dup)
	requireApplied(t, res, first)
	requireRejected(t, res, dup, ledger.ErrConflict)

	again := f.recharge(t, "0xaa", 10)
	res = f.apply(t, again)
	requireRejected(t, res, again, ledger.ErrResourceTerminal)

	keys := f.committeeKeys(t)
	weak := f.newTx(
		t,
		txs.KindRecharge,
		&txs.RechargeData{
			ExternalChainID: testExtChain,
			ExternalTxHash:  "0xbb",
			To:              "vb1receiver",
			Asset:           testAsset,
			Amount:          10,
		},
		&txs.CoinData{To: []txs.CoinTo{{Address: "vb1receiver", Asset: testAsset, Amount: 10}}},
		keys[:2]...,
	)
	short := f.newTx(
		t,
		txs.KindRecharge,
		&txs.RechargeData{
			ExternalChainID: testExtChain,
			ExternalTxHash:  "0xcc",
			To:              "vb1receiver",
			Asset:           testAsset,
			Amount:          10,
		},
		&txs.CoinData{To: []txs.CoinTo{{Address: "vb1receiver", Asset: testAsset, Amount: 9}}},
		keys...,
	)
	res = f.apply(t, weak, short)
	requireRejected(t, res, weak, ledger.ErrSignatureQuorumFailed)
	requireRejected(t, res, short, ledger.ErrInvalidAmount)
	assert.Equal(t, ledger.CodeSignatureQuorumFailed, res.Report.Codes[txs.KindRecharge])
}

func TestExternalAmountsOutOfRange(t *testing.T) {
	f := setup(t)
	f.setLocal(t, f.seeds[0])
	user := testutil.NewKey(t, 50)

	highBit := f.withdrawal(t, user, testExtChain, "0xabcd", 1<<63, 1<<63)
	wrapped := f.newTx(
		t,
		txs.KindWithdrawal,
		&txs.WithdrawalData{
			From:            user.Address,
			ExternalChainID: testExtChain,
			ExternalAddress: "0xabcd",
			Asset:           testAsset,
			Amount:          5,
		},
		&txs.CoinData{From: []txs.CoinFrom{
			{Address: user.Address, Asset: testAsset, Amount: math.MaxUint64},
			{Address: user.Address, Asset: testAsset, Amount: 6},
		}},
		user,
	)
	bigRecharge := f.recharge(t, "0x01", 1<<63)
	wrappedRecharge := f.newTx(
		t,
		txs.KindRecharge,
		&txs.RechargeData{
			ExternalChainID: testExtChain,
			ExternalTxHash:  "0x02",
			To:              "vb1receiver",
			Asset:           testAsset,
			Amount:          9,
		},
		&txs.CoinData{To: []txs.CoinTo{
			{Address: "vb1receiver", Asset: testAsset, Amount: math.MaxUint64 - 5},
			{Address: "vb1receiver", Asset: testAsset, Amount: 15},
		}},
		f.committeeKeys(t)...,
	)
	good := f.withdrawal(t, user, testExtChain, "0xabcd", txs.MaxAmount, txs.MaxAmount)

	res := f.apply(t, highBit, wrapped, bigRecharge, wrappedRecharge, good)
	requireRejected(t, res, highBit, ledger.ErrInvalidAmount)
	requireRejected(t, res, wrapped, ledger.ErrInvalidAmount)
	requireRejected(t, res, bigRecharge, ledger.ErrInvalidAmount)
	requireRejected(t, res, wrappedRecharge, ledger.ErrInvalidAmount)
	requireApplied(t, res, good)
	stored, err := f.cs.DB().GetWithdrawal(good.Hash().Bytes(), nil)
	require.NoError(t, err)
	assert.Equal(t, txs.MaxAmount, stored.Amount)
}

func TestRevertWaitsForRunningConfirm(t *testing.T) {
	f := setup(t)
	f.setLocal(t, f.seeds[0])
	rc := f.recharge(t, "0xaa", 10)
	requireApplied(t, f.apply(t, rc), rc)
	require.Equal(t, int64(1), f.outboxLen(t))

	exec := ledger.NewOutboxExecutor(f.cs)
	started := make(chan struct{})
	release := make(chan struct{})
	blocking, err := outbox.NewConsumer(outbox.ConsumerConfig{
		Queue: f.cs.Outbox(),
		Lock:  f.cs.ApplyLocker(),
		Executor: outbox.ExecutorFunc(func(ctx context.Context, entry outbox.Entry) error {
			close(started)
			<-release
			return exec.Execute(ctx, entry)
		}),
	})
	require.NoError(t, err)
	processed := make(chan bool, 1)
	go func() {
		ok, err := blocking.ProcessOnce(context.Background())
		assert.NoError(t, err)
		processed <- ok
	}()
	testutil.RequireReceive(t, started, time.Second, "confirm entry not started")

	reverted := make(chan error, 1)
	go func() {
		_, err := f.coord.RevertBlock(context.Background(), testChainID)
		reverted <- err
	}()
	testutil.RequireNoReceive(t, reverted, 50*time.Millisecond, "revert ran during confirm")
	close(release)
	assert.True(t, testutil.RequireReceive(t, processed, time.Second, "confirm entry not done"))
	require.NoError(t, testutil.RequireReceive(t, reverted, time.Second, "revert not done"))
	f.height--
	assert.Equal(t, 1, f.adapter.CallCount("complete"))

	// The completed confirmation is undone through the outbox
	key := docking.Request{ExternalChainID: testExtChain, ExternalTxHash: "0xaa"}.HandshakeKey()
	entry, err := f.cs.Outbox().Get(outbox.EntryKey(outbox.ActionConfirmRollback, key), nil)
	require.NoError(t, err)
	assert.Equal(t, outbox.ActionConfirmRollback, entry.Action)
	c, err := outbox.NewConsumer(outbox.ConsumerConfig{
		Queue:    f.cs.Outbox(),
		Executor: exec,
		Lock:     f.cs.ApplyLocker(),
	})
	require.NoError(t, err)
	ok, err := c.ProcessOnce(context.Background())
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, 1, f.adapter.CallCount("rollback"))
	state, err := f.cs.Handshake().State(key, nil)
	require.NoError(t, err)
	assert.Equal(t, docking.StateRolledBack, state)
	assert.Equal(t, int64(0), f.outboxLen(t))
}
