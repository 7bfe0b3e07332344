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

package vbank_test

import (
	"context"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/blinklabs-io/vbank"
	"github.com/blinklabs-io/vbank/committee"
	"github.com/blinklabs-io/vbank/event"
	"github.com/blinklabs-io/vbank/internal/test/testutil"
	"github.com/blinklabs-io/vbank/ledger"
	"github.com/blinklabs-io/vbank/txs"
)

const (
	testChainID  uint16 = 1
	testExtChain uint16 = 7
	baseTime     int64  = 1_700_000_000
)

type testNode struct {
	node    *vbank.Node
	adapter *testutil.FakeAdapter
	seeds   []*testutil.Key
}

func newTestNode(t *testing.T, opts ...vbank.ConfigOptionFunc) *testNode {
	t.Helper()
	seeds := testutil.NewKeys(t, 1, 4)
	chain := ledger.ChainConfig{ChainID: testChainID}
	for i, k := range seeds {
		chain.Seeds = append(chain.Seeds, committee.Seed{
			AgentAddress:  "seed-" + string(rune('a'+i)),
			SignPublicKey: k.PublicKey,
		})
	}
	candidates := committee.NewStaticCandidateSource()
	candidates.SetLocalIdentity(testChainID, &committee.SignIdentity{
		Address:   seeds[0].Address,
		PublicKey: seeds[0].PublicKey,
	})
	adapter := testutil.NewFakeAdapter(testExtChain)
	opts = append([]vbank.ConfigOptionFunc{
		vbank.WithChain(chain),
		vbank.WithAdapter(adapter),
		vbank.WithCandidateSource(candidates),
		vbank.WithPrometheusRegistry(prometheus.NewRegistry()),
		vbank.WithOutboxBackoff(5*time.Millisecond, 20*time.Millisecond),
	}, opts...)
	n, err := vbank.New(vbank.NewConfig(opts...))
	require.NoError(t, err)
	t.Cleanup(func() {
		_ = n.Stop()
	})
	return &testNode{node: n, adapter: adapter, seeds: seeds}
}

func (tn *testNode) recharge(t *testing.T, extHash string, txTime int64) *txs.Transaction {
	t.Helper()
	tx, err := txs.New(
		txs.KindRecharge,
		txTime,
		&txs.RechargeData{
			ExternalChainID: testExtChain,
			ExternalTxHash:  extHash,
			To:              tn.seeds[0].Address,
			Asset:           txs.NewAssetRef(testChainID, 1),
			Amount:          10,
		},
		&txs.CoinData{To: []txs.CoinTo{{
			Address: tn.seeds[0].Address,
			Asset:   txs.NewAssetRef(testChainID, 1),
			Amount:  10,
		}}},
		nil,
	)
	require.NoError(t, err)
	testutil.Sign(tx, tn.seeds...)
	return tx
}

func header(height uint64) txs.BlockHeader {
	return txs.BlockHeader{
		Height: height,
		Time:   baseTime + int64(height), //nolint:gosec
		Hash:   []byte{byte(height)},
	}
}

func TestNewRequiresChains(t *testing.T) {
	_, err := vbank.New(vbank.NewConfig())
	require.Error(t, err)

	dup := ledger.ChainConfig{
		ChainID: 2,
		Seeds:   []committee.Seed{{AgentAddress: "a", SignPublicKey: []byte{2}}},
	}
	_, err = vbank.New(vbank.NewConfig(vbank.WithChain(dup), vbank.WithChain(dup)))
	require.Error(t, err)
}

func TestNodeNotStarted(t *testing.T) {
	tn := newTestNode(t)
	_, err := tn.node.ApplyBlock(t.Context(), testChainID, header(1), nil, txs.SyncStatusLive)
	require.ErrorIs(t, err, vbank.ErrNotStarted)
	_, err = tn.node.RevertBlock(t.Context(), testChainID)
	require.ErrorIs(t, err, vbank.ErrNotStarted)
	_, ok := tn.node.Chain(testChainID)
	assert.False(t, ok)
}

func TestNodeConfirmsThroughOutbox(t *testing.T) {
	tn := newTestNode(t)
	ctx := t.Context()
	require.NoError(t, tn.node.Start(ctx))
	require.ErrorIs(t, tn.node.Start(ctx), vbank.ErrAlreadyStarted)
	_, applied := tn.node.EventBus().Subscribe(event.BlockAppliedEventType)

	tx := tn.recharge(t, "0xfeed", baseTime)
	res, err := tn.node.ApplyBlock(ctx, testChainID, header(1), []*txs.Transaction{tx}, txs.SyncStatusLive)
	require.NoError(t, err)
	require.Empty(t, res.Report.Invalid)
	evt := testutil.RequireReceive(t, applied, 2*time.Second, "no block applied event")
	data, ok := evt.Data.(event.BlockAppliedEvent)
	require.True(t, ok)
	assert.Equal(t, uint64(1), data.Height)

	// The local node is a seed, so the handshake runs to completion
	testutil.WaitForCondition(t, func() bool {
		return tn.adapter.CallCount("complete") == 1
	}, 5*time.Second, "confirmation was not completed")
	cs, ok := tn.node.Chain(testChainID)
	require.True(t, ok)
	testutil.WaitForCondition(t, func() bool {
		n, err := cs.Outbox().Len()
		return err == nil && n == 0
	}, 5*time.Second, "outbox did not drain")

	report, err := tn.node.ValidateBlock(ctx, testChainID, header(2), []*txs.Transaction{tn.recharge(t, "0xfeed", baseTime+1)})
	require.NoError(t, err)
	require.Len(t, report.Invalid, 1)
	assert.Equal(t, ledger.CodeResourceTerminal, report.Codes[txs.KindRecharge])

	// Reverting a completed confirmation asks the external chain to undo it
	hdr, err := tn.node.RevertBlock(ctx, testChainID)
	require.NoError(t, err)
	assert.Equal(t, uint64(1), hdr.Height)
	testutil.WaitForCondition(t, func() bool {
		return tn.adapter.CallCount("rollback") == 1
	}, 5*time.Second, "confirmation was not rolled back")
	require.NoError(t, tn.node.Stop())
}

func TestNodeReopensPersistedState(t *testing.T) {
	dataDir := t.TempDir()
	tn := newTestNode(t, vbank.WithDatabasePath(dataDir))
	ctx := context.Background()
	require.NoError(t, tn.node.Start(ctx))
	tx := tn.recharge(t, "0xbeef", baseTime)
	res, err := tn.node.ApplyBlock(ctx, testChainID, header(1), []*txs.Transaction{tx}, txs.SyncStatusReplay)
	require.NoError(t, err)
	require.Empty(t, res.Report.Invalid)
	require.NoError(t, tn.node.Stop())

	again := newTestNode(t, vbank.WithDatabasePath(dataDir))
	require.NoError(t, again.node.Start(ctx))
	cs, ok := again.node.Chain(testChainID)
	require.True(t, ok)
	tip, ok := cs.Tip()
	require.True(t, ok)
	assert.Equal(t, uint64(1), tip.Height)
	assert.Equal(t, 4, cs.Committee().Size())
	// Replayed blocks never reach the external chain
	assert.Empty(t, tn.adapter.Calls())

	_, err = again.node.ApplyBlock(ctx, testChainID, header(1), nil, txs.SyncStatusLive)
	require.ErrorIs(t, err, ledger.ErrHeightMismatch)
}
