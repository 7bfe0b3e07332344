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
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/blinklabs-io/vbank/database/models"
	"github.com/blinklabs-io/vbank/internal/test/testutil"
	"github.com/blinklabs-io/vbank/ledger"
	"github.com/blinklabs-io/vbank/ledger/processors"
	"github.com/blinklabs-io/vbank/outbox"
	"github.com/blinklabs-io/vbank/txs"
)

func (f *fixture) change(t *testing.T, in, out []string) *txs.Transaction {
	t.Helper()
	return f.newTx(
		t,
		txs.KindChangeVirtualBank,
		&txs.ChangeVirtualBankData{InAgents: in, OutAgents: out, EffectiveHeight: f.height},
		nil,
		f.committeeKeys(t)...,
	)
}

func (f *fixture) initChain(t *testing.T, chainID uint16) *txs.Transaction {
	t.Helper()
	return f.newTx(
		t,
		txs.KindInitializeHeterogeneous,
		&txs.InitializeHeterogeneousData{ExternalChainID: chainID},
		nil,
		f.seeds...,
	)
}

func TestChangeVirtualBankSameAgentConflict(t *testing.T) {
	f := setup(t)
	f.setCandidates(testutil.NewKeys(t, 11, 4)...)
	first := f.change(t, []string{"agent-0"}, nil)
	second := f.change(t, []string{"agent-0"}, nil)
	res := f.apply(t, first, second)
	requireApplied(t, res, first)
	requireRejected(t, res, second, ledger.ErrConflict)
	assert.Equal(t, 5, f.cs.Committee().Size())
	m, ok := f.cs.Committee().Member("agent-0")
	require.True(t, ok)
	assert.Equal(t, f.height, m.JoinHeight)
	assert.Equal(t, first.Hash().Bytes(), m.JoinTxHash)

	// Listing an agent on both sides is a conflict of its own
	both := f.change(t, []string{"agent-1"}, []string{"agent-1"})
	res = f.apply(t, both)
	requireRejected(t, res, both, ledger.ErrConflict)
}

func TestChangeVirtualBankEligibility(t *testing.T) {
	f := setup(t)
	keys := testutil.NewKeys(t, 11, 4)
	cands := f.setCandidates(keys...)

	unranked := f.change(t, []string{"agent-3"}, nil)
	unknown := f.change(t, []string{"agent-9"}, nil)
	seed := f.change(t, []string{"seed-0"}, nil)
	res := f.apply(t, unranked, unknown, seed)
	requireRejected(t, res, unranked, ledger.ErrNotEligible)
	requireRejected(t, res, unknown, ledger.ErrResourceMissing)
	requireRejected(t, res, seed, ledger.ErrNotEligible)

	fill := f.change(t, []string{"agent-0", "agent-1", "agent-2"}, nil)
	requireApplied(t, f.apply(t, fill), fill)
	assert.Equal(t, 3, f.cs.Committee().NonSeedCount())

	// agent-3 now outranks everyone but the committee is full
	cands[3].Stake = 5000
	f.candidates.SetCandidates(testChainID, cands)
	overCap := f.change(t, []string{"agent-3"}, nil)
	res = f.apply(t, overCap)
	requireRejected(t, res, overCap, ledger.ErrNotEligible)
	assert.Equal(t, 3, f.cs.Committee().NonSeedCount())

	// Seeds are never removed
	seedOut := f.change(t, nil, []string{"seed-1"})
	res = f.apply(t, seedOut)
	requireRejected(t, res, seedOut, ledger.ErrNotEligible)
	assert.True(t, f.cs.Committee().IsMember("seed-1"))

	// agent-2 dropped out of the top three and may leave while agent-3 joins
	swap := f.change(t, []string{"agent-3"}, []string{"agent-2"})
	requireApplied(t, f.apply(t, swap), swap)
	assert.True(t, f.cs.Committee().IsMember("agent-3"))
	assert.False(t, f.cs.Committee().IsMember("agent-2"))

	// A still ranked member leaves only when red-carded
	stillRanked := f.change(t, nil, []string{"agent-0"})
	res = f.apply(t, stillRanked)
	requireRejected(t, res, stillRanked, ledger.ErrNotEligible)
	f.candidates.SetRedCard(testChainID, "agent-0", true)
	redCard := f.change(t, nil, []string{"agent-0"})
	requireApplied(t, f.apply(t, redCard), redCard)
	assert.False(t, f.cs.Committee().IsMember("agent-0"))
	assert.Equal(t, 6, f.cs.Committee().Size())

	notMember := f.change(t, nil, []string{"agent-0"})
	res = f.apply(t, notMember)
	requireRejected(t, res, notMember, ledger.ErrResourceMissing)
}

func TestChangeVirtualBankQuorum(t *testing.T) {
	f := setup(t)
	f.setCandidates(testutil.NewKeys(t, 11, 1)...)
	// Two of four seeds is not more than two thirds
	tx := f.newTx(
		t,
		txs.KindChangeVirtualBank,
		&txs.ChangeVirtualBankData{InAgents: []string{"agent-0"}},
		nil,
		f.seeds[:2]...,
	)
	res := f.apply(t, tx)
	requireRejected(t, res, tx, ledger.ErrSignatureQuorumFailed)
	assert.Equal(t, ledger.CodeSignatureQuorumFailed, res.Report.Codes[txs.KindChangeVirtualBank])

	tx = f.newTx(
		t,
		txs.KindChangeVirtualBank,
		&txs.ChangeVirtualBankData{InAgents: []string{"agent-0"}},
		nil,
		f.seeds[:3]...,
	)
	requireApplied(t, f.apply(t, tx), tx)
}

func TestChangeVirtualBankLocalJoinAndRevert(t *testing.T) {
	f := setup(t)
	keys := testutil.NewKeys(t, 11, 2)
	f.setCandidates(keys...)
	f.setLocal(t, keys[0])
	require.False(t, f.cs.CurrentMember())

	init := f.initChain(t, testExtChain)
	requireApplied(t, f.apply(t, init), init)
	seed, ok := f.cs.Committee().Member("seed-0")
	require.True(t, ok)
	want, err := f.adapter.GenerateAddress(f.seeds[0].PublicKey)
	require.NoError(t, err)
	assert.Equal(t, want, seed.HeterogeneousAddresses[testExtChain])
	assert.False(t, f.cs.PendingReconcile())

	join := f.change(t, []string{"agent-0"}, nil)
	requireApplied(t, f.apply(t, join), join)
	assert.True(t, f.cs.CurrentMember())
	assert.True(t, f.cs.PendingReconcile())
	m, ok := f.cs.Committee().Member("agent-0")
	require.True(t, ok)
	want, err = f.adapter.GenerateAddress(keys[0].PublicKey)
	require.NoError(t, err)
	assert.Equal(t, want, m.HeterogeneousAddresses[testExtChain])
	entry, err := f.cs.Outbox().Get(outbox.EntryKey(outbox.ActionChangeBank, join.Hash().String()), nil)
	require.NoError(t, err)
	assert.True(t, entry.CurrentJoin)
	assert.True(t, entry.IsCurrentMember)

	f.revert(t)
	assert.False(t, f.cs.Committee().IsMember("agent-0"))
	assert.False(t, f.cs.CurrentMember())
	assert.False(t, f.cs.PendingReconcile())
	assert.Equal(t, int64(0), f.outboxLen(t))
	addrs, err := f.cs.DB().GetHeterogeneousAddresses(keys[0].Address, nil)
	require.NoError(t, err)
	assert.Empty(t, addrs)
}

func TestChangeVirtualBankLocalQuitAndRevert(t *testing.T) {
	f := setup(t)
	keys := testutil.NewKeys(t, 11, 2)
	cands := f.setCandidates(keys...)
	join := f.change(t, []string{"agent-0", "agent-1"}, nil)
	requireApplied(t, f.apply(t, join), join)
	f.setLocal(t, keys[1])
	require.True(t, f.cs.CurrentMember())
	require.NoError(t, f.cs.SetPendingReconcile(true, nil))

	f.candidates.SetCandidates(testChainID, cands[:1])
	quit := f.change(t, nil, []string{"agent-1"})
	requireApplied(t, f.apply(t, quit), quit)
	assert.False(t, f.cs.CurrentMember())
	assert.False(t, f.cs.PendingReconcile())
	// The departing node still owes its part of the external change
	entry, err := f.cs.Outbox().Get(outbox.EntryKey(outbox.ActionChangeBank, quit.Hash().String()), nil)
	require.NoError(t, err)
	assert.True(t, entry.CurrentQuit)

	f.revert(t)
	m, ok := f.cs.Committee().Member("agent-1")
	require.True(t, ok)
	assert.Equal(t, join.Hash().Bytes(), m.JoinTxHash)
	assert.True(t, f.cs.CurrentMember())
	assert.True(t, f.cs.PendingReconcile())
	assert.False(t, f.cs.Committee().Archived("agent-1"))
	f.requireStoredFlags(t, true, true)
}

// requireStoredFlags checks the persisted local flags match memory
func (f *fixture) requireStoredFlags(t *testing.T, member, pending bool) {
	t.Helper()
	require.NoError(t, f.cs.Reload())
	assert.Equal(t, member, f.cs.CurrentMember(), "current member")
	assert.Equal(t, pending, f.cs.PendingReconcile(), "pending reconcile")
}

func TestInitializeHeterogeneous(t *testing.T) {
	f := setup(t)
	unknown := f.initChain(t, 9)
	weak := f.newTx(
		t,
		txs.KindInitializeHeterogeneous,
		&txs.InitializeHeterogeneousData{ExternalChainID: testExtChain},
		nil,
		f.seeds[:2]...,
	)
	res := f.apply(t, unknown, weak)
	requireRejected(t, res, unknown, ledger.ErrResourceMissing)
	requireRejected(t, res, weak, ledger.ErrSignatureQuorumFailed)

	first := f.initChain(t, testExtChain)
	dup := f.initChain(t, testExtChain)
	res = f.apply(t, first, dup)
	requireApplied(t, res, first)
	requireRejected(t, res, dup, ledger.ErrConflict)
	for _, m := range f.cs.Committee().Members() {
		assert.Contains(t, m.HeterogeneousAddresses, testExtChain, m.AgentAddress)
	}

	again := f.initChain(t, testExtChain)
	res = f.apply(t, again)
	requireRejected(t, res, again, ledger.ErrResourceTerminal)

	f.revert(t)
	f.revert(t)
	_, err := f.cs.DB().GetExternalChain(testExtChain, nil)
	require.ErrorIs(t, err, models.ErrExternalChainNotFound)
	for _, m := range f.cs.Committee().Members() {
		assert.NotContains(t, m.HeterogeneousAddresses, testExtChain, m.AgentAddress)
	}
}

func TestInitializeHeterogeneousArmsReconcile(t *testing.T) {
	tests := []struct {
		name    string
		pending bool
	}{
		{name: "not pending before", pending: false},
		{name: "pending before", pending: true},
	}
	for _, test := range tests {
		t.Run(test.name, func(t *testing.T) {
			f := setup(t)
			f.setLocal(t, f.seeds[2])
			require.True(t, f.cs.CurrentMember())
			require.NoError(t, f.cs.SetPendingReconcile(test.pending, nil))
			init := f.initChain(t, testExtChain)
			requireApplied(t, f.apply(t, init), init)
			assert.True(t, f.cs.PendingReconcile())
			f.revert(t)
			assert.Equal(t, test.pending, f.cs.PendingReconcile())
			assert.True(t, f.cs.CurrentMember())
			f.requireStoredFlags(t, true, test.pending)
			_, err := f.cs.DB().GetExternalChain(testExtChain, nil)
			require.ErrorIs(t, err, models.ErrExternalChainNotFound)
		})
	}
}

func TestLocalFlagsRestoredAcrossBlocks(t *testing.T) {
	f := setup(t)
	keys := testutil.NewKeys(t, 11, 1)
	f.setCandidates(keys...)
	f.setLocal(t, keys[0])
	require.False(t, f.cs.CurrentMember())

	join := f.change(t, []string{"agent-0"}, nil)
	requireApplied(t, f.apply(t, join), join)
	require.True(t, f.cs.CurrentMember())
	require.NoError(t, f.cs.SetPendingReconcile(false, nil))

	init := f.newTx(
		t,
		txs.KindInitializeHeterogeneous,
		&txs.InitializeHeterogeneousData{ExternalChainID: testExtChain},
		nil,
		f.committeeKeys(t)...,
	)
	requireApplied(t, f.apply(t, init), init)
	assert.True(t, f.cs.PendingReconcile())

	f.revert(t)
	f.requireStoredFlags(t, true, false)
	f.revert(t)
	f.requireStoredFlags(t, false, false)
	name := "local_flags_undo:" + join.Hash().String()
	val, err := f.cs.DB().GetNodeState(name, nil)
	require.NoError(t, err)
	assert.Empty(t, val)
}

func TestConfirmChangeVirtualBank(t *testing.T) {
	f := setup(t)
	f.setLocal(t, f.seeds[0])
	f.setCandidates(testutil.NewKeys(t, 11, 1)...)
	join := f.change(t, []string{"agent-0"}, nil)
	requireApplied(t, f.apply(t, join), join)
	queued := f.outboxLen(t)

	confirm := func(change txs.Hash, ext ...txs.ExternalTx) *txs.Transaction {
		return f.newTx(
			t,
			txs.KindConfirmChangeVirtualBank,
			&txs.ConfirmChangeVirtualBankData{ChangeTxHash: change, ExternalTxs: ext},
			nil,
			f.committeeKeys(t)...,
		)
	}
	good := confirm(join.Hash(), txs.ExternalTx{ChainID: testExtChain, TxHash: "0xc1"})
	unknown := confirm(good.Hash(), txs.ExternalTx{ChainID: testExtChain, TxHash: "0xc2"})
	noAdapter := confirm(join.Hash(), txs.ExternalTx{ChainID: 9, TxHash: "0xc3"})
	empty := confirm(join.Hash())
	repeated := confirm(
		join.Hash(),
		txs.ExternalTx{ChainID: testExtChain, TxHash: "0xc5"},
		txs.ExternalTx{ChainID: testExtChain, TxHash: "0xc5"},
	)
	res := f.apply(t, good, unknown, noAdapter, empty, repeated)
	requireApplied(t, res, good)
	requireRejected(t, res, unknown, ledger.ErrResourceMissing)
	requireRejected(t, res, noAdapter, ledger.ErrResourceMissing)
	requireRejected(t, res, empty, ledger.ErrSerialization)
	requireRejected(t, res, repeated, ledger.ErrSerialization)
	_, err := f.cs.DB().GetConfirmationRecord(processors.ChangeRecordKey(join.Hash()), nil)
	require.NoError(t, err)
	assert.Equal(t, queued+1, f.outboxLen(t))

	again := confirm(join.Hash(), txs.ExternalTx{ChainID: testExtChain, TxHash: "0xc4"})
	res = f.apply(t, again)
	requireRejected(t, res, again, ledger.ErrResourceTerminal)
}
