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
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/blinklabs-io/vbank/committee"
	"github.com/blinklabs-io/vbank/database"
	"github.com/blinklabs-io/vbank/database/types"
	"github.com/blinklabs-io/vbank/ledger"
	"github.com/blinklabs-io/vbank/txs"
)

func TestCodeOf(t *testing.T) {
	testDefs := []struct {
		err  error
		code ledger.Code
	}{
		{nil, ledger.CodeOK},
		{ledger.ErrChainUnknown, ledger.CodeChainUnknown},
		{ledger.Reject(ledger.ErrTimeSkew, "x"), ledger.CodeTimeSkew},
		{ledger.Reject(ledger.ErrConflict, "x"), ledger.CodeConflict},
		{ledger.Reject(ledger.ErrResourceMissing, "x"), ledger.CodeResourceMissing},
		{ledger.Reject(ledger.ErrResourceTerminal, "x"), ledger.CodeResourceTerminal},
		{committee.ErrQuorumNotMet, ledger.CodeSignatureQuorumFailed},
		{committee.ErrNotSigned, ledger.CodeSignatureQuorumFailed},
		{txs.ErrMalformedPayload, ledger.CodeSerializationError},
		{ledger.Storage(errors.New("disk")), ledger.CodeStorageFailure},
		{types.ErrDuplicateKey, ledger.CodeConflict},
		{errors.New("something else"), ledger.CodeUnknownInternal},
	}
	for _, td := range testDefs {
		assert.Equal(t, td.code, ledger.CodeOf(td.err), "%v", td.err)
	}
	assert.Nil(t, ledger.Storage(nil))
	assert.Equal(t, "resource_missing", ledger.CodeResourceMissing.String())
}

func TestSagaApplyGroupIsAtomic(t *testing.T) {
	var state []string
	push := func(name string) ledger.Effect {
		return ledger.Effect{
			Name: name,
			Apply: func(*database.Txn) error {
				state = append(state, name)
				return nil
			},
			Revert: func(*database.Txn) error {
				state = state[:len(state)-1]
				return nil
			},
		}
	}
	failing := ledger.Effect{
		Name:  "fail",
		Apply: func(*database.Txn) error { return errors.New("boom") },
	}
	saga := ledger.NewSaga()
	require.NoError(t, saga.Apply(nil, push("a")))
	err := saga.Apply(nil, push("b"), push("c"), failing)
	require.Error(t, err)
	assert.Equal(t, []string{"a"}, state, "partial group must be reverted")
	assert.Equal(t, []string{"a"}, saga.Names())

	require.NoError(t, saga.Apply(nil, push("d"), push("e")))
	require.NoError(t, saga.Unwind(nil))
	assert.Empty(t, state)
	assert.Equal(t, 0, saga.Len())
}

func TestSagaUnwindReportsFailedInverse(t *testing.T) {
	calls := 0
	saga := ledger.NewSaga()
	saga.Record(ledger.Effect{
		Name:   "first",
		Revert: func(*database.Txn) error { calls++; return nil },
	})
	saga.Record(ledger.Effect{
		Name:   "second",
		Revert: func(*database.Txn) error { calls++; return errors.New("stuck") },
	})
	err := saga.Unwind(nil)
	require.ErrorIs(t, err, ledger.ErrCompensationFailed)
	assert.Equal(t, 2, calls, "every inverse is attempted")
}

func TestConflictDetector(t *testing.T) {
	mk := func(n uint64) *txs.Transaction {
		tx, err := txs.New(txs.KindDeposit, int64(n), &txs.DepositData{Amount: n}, nil, nil) //nolint:gosec
		require.NoError(t, err)
		return tx
	}
	d := ledger.NewConflictDetector()
	tx1, tx2, tx3 := mk(1), mk(2), mk(3)
	require.NoError(t, d.Claim(tx1, ledger.Claim{Set: "in", Key: "a"}, ledger.Claim{Set: "in", Key: "b"}))
	err := d.Claim(tx2, ledger.Claim{Set: "in", Key: "c"}, ledger.Claim{Set: "in", Key: "b"})
	require.ErrorIs(t, err, ledger.ErrConflict)
	assert.False(t, d.Claimed("in", "c"), "rejected claims are not taken")
	// Same key in another set does not collide
	require.NoError(t, d.Claim(tx3, ledger.Claim{Set: "out", Key: "a"}))
	err = d.Claim(mk(4), ledger.Claim{Set: "x", Key: "k"}, ledger.Claim{Set: "x", Key: "k"})
	require.ErrorIs(t, err, ledger.ErrConflict)

	require.ErrorIs(t, ledger.Disjoint("in", []string{"a", "b"}, "out", []string{"b"}), ledger.ErrConflict)
	require.NoError(t, ledger.Disjoint("in", []string{"a"}, "out", []string{"b"}))
}

func TestCheckTime(t *testing.T) {
	header := &txs.BlockHeader{Height: 5, Time: 1000}
	testDefs := []struct {
		txTime int64
		ok     bool
	}{
		{1000, true},
		{940, true},
		{1060, true},
		{939, false},
		{1061, false},
	}
	for _, td := range testDefs {
		tx := &txs.Transaction{Type: txs.KindDeposit, Time: td.txTime}
		err := ledger.CheckTime(time.Minute, tx, header)
		if td.ok {
			require.NoError(t, err, "time %d", td.txTime)
		} else {
			require.ErrorIs(t, err, ledger.ErrTimeSkew, "time %d", td.txTime)
		}
	}
	require.NoError(t, ledger.CheckTime(time.Minute, &txs.Transaction{Time: 0}, nil))
}

func TestValidateEachRejectsBatchOnStorageFailure(t *testing.T) {
	batch := []*txs.Transaction{
		{Type: txs.KindDeposit, Time: 1},
		{Type: txs.KindDeposit, Time: 2},
		{Type: txs.KindDeposit, Time: 3},
	}
	res := ledger.ValidateEach(nil, batch, func(*txs.Transaction) error { return nil })
	assert.Len(t, res.Invalid, 3)
	assert.Equal(t, ledger.CodeChainUnknown, res.Code)
}
