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

package database_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/blinklabs-io/vbank/database"
	"github.com/blinklabs-io/vbank/database/models"
	"github.com/blinklabs-io/vbank/database/types"
)

func setupTestDB(t *testing.T) *database.Database {
	t.Helper()
	db, err := database.New(&database.Config{})
	require.NoError(t, err)
	t.Cleanup(func() {
		db.Close() //nolint:errcheck
	})
	return db
}

func TestNewUnknownPlugin(t *testing.T) {
	_, err := database.New(&database.Config{BlobPlugin: "nope"})
	require.Error(t, err)
}

func TestTxnCommitSpansStores(t *testing.T) {
	db := setupTestDB(t)

	txn := db.Transaction(true)
	require.NoError(t, db.BlockArchive(7, []byte("block-7"), txn))
	require.NoError(t, db.SetTip(&models.Tip{Height: 7, Hash: []byte{7}}, txn))
	require.NoError(t, txn.Commit())

	tip, err := db.GetTip(nil)
	require.NoError(t, err)
	assert.Equal(t, uint64(7), tip.Height)

	data, err := db.BlockArchived(7, nil)
	require.NoError(t, err)
	assert.Equal(t, []byte("block-7"), data)
}

func TestTxnRollbackSpansStores(t *testing.T) {
	db := setupTestDB(t)

	txn := db.Transaction(true)
	require.NoError(t, db.BlockArchive(3, []byte("block-3"), txn))
	require.NoError(t, db.SetTip(&models.Tip{Height: 3}, txn))
	require.NoError(t, txn.Rollback())

	_, err := db.GetTip(nil)
	require.ErrorIs(t, err, models.ErrTipNotFound)
	_, err = db.BlockArchived(3, nil)
	require.ErrorIs(t, err, database.ErrBlockNotArchived)
}

func TestTxnDoRollsBackOnError(t *testing.T) {
	db := setupTestDB(t)

	boom := assert.AnError
	err := db.Transaction(true).Do(func(txn *database.Txn) error {
		if err := db.SetNodeFlag("current_member", true, txn); err != nil {
			return err
		}
		return boom
	})
	require.ErrorIs(t, err, boom)

	flag, err := db.GetNodeFlag("current_member", nil)
	require.NoError(t, err)
	assert.False(t, flag)
}

func TestNotFoundWrappers(t *testing.T) {
	db := setupTestDB(t)
	hash := make([]byte, 32)

	_, err := db.GetDeposit(hash, nil)
	require.ErrorIs(t, err, models.ErrDepositNotFound)
	_, err = db.GetWithdrawal(hash, nil)
	require.ErrorIs(t, err, models.ErrWithdrawalNotFound)
	_, err = db.GetProposal(hash, nil)
	require.ErrorIs(t, err, models.ErrProposalNotFound)
	_, err = db.GetProposalVote(hash, "vb1x", nil)
	require.ErrorIs(t, err, models.ErrVoteNotFound)
	_, err = db.GetConfirmationRecord("wd:00", nil)
	require.ErrorIs(t, err, models.ErrConfirmationNotFound)
	_, err = db.GetExternalChain(1, nil)
	require.ErrorIs(t, err, models.ErrExternalChainNotFound)
	_, err = db.GetRemovedMember("vb1x", hash, nil)
	require.ErrorIs(t, err, models.ErrMemberNotFound)
	_, err = db.GetOutboxEntry("confirm:x", nil)
	require.ErrorIs(t, err, models.ErrOutboxEntryNotFound)
	_, err = db.GetHandshakeRecord("x", nil)
	require.ErrorIs(t, err, models.ErrHandshakeNotFound)
}

func TestNodeFlags(t *testing.T) {
	db := setupTestDB(t)

	require.NoError(t, db.SetNodeFlag("pending_reconcile", true, nil))
	flag, err := db.GetNodeFlag("pending_reconcile", nil)
	require.NoError(t, err)
	assert.True(t, flag)

	require.NoError(t, db.SetNodeFlag("pending_reconcile", false, nil))
	flag, err = db.GetNodeFlag("pending_reconcile", nil)
	require.NoError(t, err)
	assert.False(t, flag)
}

func TestBlockPruneBelow(t *testing.T) {
	db := setupTestDB(t)

	for h := uint64(1); h <= 5; h++ {
		require.NoError(t, db.BlockArchive(h, []byte{byte(h)}, nil))
	}
	txn := db.BlobTxn(true)
	removed, err := db.BlockPruneBelow(4, txn)
	require.NoError(t, err)
	assert.Equal(t, 3, removed)
	require.NoError(t, txn.Commit())

	for h := uint64(1); h <= 3; h++ {
		_, err := db.BlockArchived(h, nil)
		require.ErrorIs(t, err, database.ErrBlockNotArchived)
	}
	data, err := db.BlockArchived(4, nil)
	require.NoError(t, err)
	assert.Equal(t, []byte{4}, data)
}

func TestBlockUnarchiveRequiresTxn(t *testing.T) {
	db := setupTestDB(t)
	require.ErrorIs(t, db.BlockUnarchive(1, nil), types.ErrNilTxn)
}
