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

package processors

import (
	"github.com/blinklabs-io/vbank/committee"
	"github.com/blinklabs-io/vbank/database"
	"github.com/blinklabs-io/vbank/database/models"
	"github.com/blinklabs-io/vbank/ledger"
	"github.com/blinklabs-io/vbank/txs"
)

// ConfirmChangeVirtualBank records that a committee change was carried out
// on the external chains
type ConfirmChangeVirtualBank struct{}

func (p *ConfirmChangeVirtualBank) Kind() txs.Kind { return txs.KindConfirmChangeVirtualBank }

func (p *ConfirmChangeVirtualBank) Priority() int { return PriorityConfirmChangeVirtualBank }

func (p *ConfirmChangeVirtualBank) Validate(
	cs *ledger.ChainState,
	batch []*txs.Transaction,
	_ map[txs.Kind][]*txs.Transaction,
	header *txs.BlockHeader,
) ledger.ValidationResult {
	conflicts := ledger.NewConflictDetector()
	return ledger.ValidateEach(cs, batch, func(tx *txs.Transaction) error {
		data, err := txs.DecodePayload[txs.ConfirmChangeVirtualBankData](tx)
		if err != nil {
			return err
		}
		if !cs.Committee().ChangedBy(data.ChangeTxHash.Bytes()) {
			return ledger.Reject(ledger.ErrResourceMissing, "committee change %s", data.ChangeTxHash)
		}
		if len(data.ExternalTxs) == 0 {
			return ledger.Reject(ledger.ErrSerialization, "confirmation lists no external transactions")
		}
		seen := make(map[txs.ExternalTx]struct{}, len(data.ExternalTxs))
		for _, ext := range data.ExternalTxs {
			if _, ok := seen[ext]; ok {
				return ledger.Reject(
					ledger.ErrSerialization,
					"external transaction %s on chain %d listed twice",
					ext.TxHash,
					ext.ChainID,
				)
			}
			seen[ext] = struct{}{}
			if _, err := adapter(cs, ext.ChainID); err != nil {
				return err
			}
		}
		if err := checkUnconfirmed(cs, ChangeRecordKey(data.ChangeTxHash), nil); err != nil {
			return err
		}
		if err := checkQuorum(cs, tx, committee.SignerSetFullCommittee, header); err != nil {
			return err
		}
		return conflicts.Claim(tx, ledger.Claim{Set: "change", Key: data.ChangeTxHash.String()})
	})
}

func (p *ConfirmChangeVirtualBank) Commit(
	cs *ledger.ChainState,
	batch []*txs.Transaction,
	header txs.BlockHeader,
	syncStatus txs.SyncStatus,
	txn *database.Txn,
) (*ledger.Saga, error) {
	return ledger.CommitEach(batch, txn, func(tx *txs.Transaction, saga *ledger.Saga) error {
		data, err := txs.DecodePayload[txs.ConfirmChangeVirtualBankData](tx)
		if err != nil {
			return err
		}
		err = addRecord(cs, saga, txn, models.ConfirmationRecord{
			RecordKey:     ChangeRecordKey(data.ChangeTxHash),
			Kind:          uint16(txs.KindConfirmChangeVirtualBank),
			SourceTxHash:  data.ChangeTxHash.Bytes(),
			ConfirmTxHash: tx.Hash().Bytes(),
			Height:        header.Height,
		})
		if err != nil {
			return err
		}
		for _, ext := range data.ExternalTxs {
			if err := enqueueConfirm(cs, saga, txn, tx, header, syncStatus, ext.ChainID, ext.TxHash); err != nil {
				return err
			}
		}
		return nil
	})
}

func (p *ConfirmChangeVirtualBank) Rollback(
	cs *ledger.ChainState,
	batch []*txs.Transaction,
	header txs.BlockHeader,
	txn *database.Txn,
) (*ledger.Saga, error) {
	return ledger.RollbackEach(batch, txn, func(tx *txs.Transaction, saga *ledger.Saga) error {
		data, err := txs.DecodePayload[txs.ConfirmChangeVirtualBankData](tx)
		if err != nil {
			return err
		}
		for _, ext := range data.ExternalTxs {
			if err := retractConfirm(cs, saga, txn, tx, header, ext.ChainID, ext.TxHash); err != nil {
				return err
			}
		}
		return deleteRecord(cs, saga, txn, ChangeRecordKey(data.ChangeTxHash))
	})
}
