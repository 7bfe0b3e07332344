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
	"errors"
	"fmt"

	"github.com/blinklabs-io/vbank/committee"
	"github.com/blinklabs-io/vbank/database"
	"github.com/blinklabs-io/vbank/database/models"
	"github.com/blinklabs-io/vbank/ledger"
	"github.com/blinklabs-io/vbank/outbox"
	"github.com/blinklabs-io/vbank/txs"
)

// Withdrawal moves assets out to an address on an external chain. The payout
// itself is made by the committee members through the outbox.
type Withdrawal struct{}

func (p *Withdrawal) Kind() txs.Kind { return txs.KindWithdrawal }

func (p *Withdrawal) Priority() int { return PriorityWithdrawal }

func (p *Withdrawal) Validate(
	cs *ledger.ChainState,
	batch []*txs.Transaction,
	_ map[txs.Kind][]*txs.Transaction,
	header *txs.BlockHeader,
) ledger.ValidationResult {
	conflicts := ledger.NewConflictDetector()
	return ledger.ValidateEach(cs, batch, func(tx *txs.Transaction) error {
		if err := ledger.CheckTime(cs.Config().TimeSkew, tx, header); err != nil {
			return err
		}
		data, err := txs.DecodePayload[txs.WithdrawalData](tx)
		if err != nil {
			return err
		}
		ext, err := adapter(cs, data.ExternalChainID)
		if err != nil {
			return err
		}
		if !ext.ValidateAddress(data.ExternalAddress) {
			return ledger.Reject(
				ledger.ErrInvalidAddress,
				"%q on external chain %d",
				data.ExternalAddress,
				data.ExternalChainID,
			)
		}
		if err := checkAmount("withdrawal", data.Amount); err != nil {
			return err
		}
		spent, err := tx.CoinData.FromAmount(data.From, data.Asset)
		if err != nil {
			return ledger.Reject(ledger.ErrInvalidAmount, "coin data: %v", err)
		}
		if spent != data.Amount {
			return ledger.Reject(
				ledger.ErrInvalidAmount,
				"withdrawal of %d spends %d",
				data.Amount,
				spent,
			)
		}
		if err := checkOwner(cs, tx, data.From); err != nil {
			return err
		}
		if err := p.checkNew(cs, tx, nil); err != nil {
			return err
		}
		return claimTx(conflicts, tx)
	})
}

func (p *Withdrawal) checkNew(cs *ledger.ChainState, tx *txs.Transaction, txn *database.Txn) error {
	_, err := cs.DB().GetWithdrawal(tx.Hash().Bytes(), txn)
	switch {
	case err == nil:
		return ledger.Reject(ledger.ErrConflict, "withdrawal %s already recorded", tx.Hash())
	case errors.Is(err, models.ErrWithdrawalNotFound):
		return nil
	default:
		return ledger.Storage(err)
	}
}

func (p *Withdrawal) Commit(
	cs *ledger.ChainState,
	batch []*txs.Transaction,
	header txs.BlockHeader,
	syncStatus txs.SyncStatus,
	txn *database.Txn,
) (*ledger.Saga, error) {
	return ledger.CommitEach(batch, txn, func(tx *txs.Transaction, saga *ledger.Saga) error {
		data, err := txs.DecodePayload[txs.WithdrawalData](tx)
		if err != nil {
			return err
		}
		if err := p.checkNew(cs, tx, txn); err != nil {
			return err
		}
		err = saga.Apply(txn, withdrawalEffect(cs, models.Withdrawal{
			TxHash:          tx.Hash().Bytes(),
			FromAddress:     data.From,
			ExternalChainID: data.ExternalChainID,
			ExternalAddress: data.ExternalAddress,
			AssetChainID:    data.Asset.ChainID,
			AssetID:         data.Asset.AssetID,
			Amount:          data.Amount,
			BlockHeight:     header.Height,
		}))
		if err != nil {
			return err
		}
		if !cs.ShouldEnqueue(syncStatus, false) {
			return nil
		}
		return cs.Enqueue(saga, txn, outbox.Entry{
			Tx:              tx,
			Key:             outbox.EntryKey(outbox.ActionWithdraw, tx.Hash().String()),
			Header:          header,
			Height:          header.Height,
			ExternalChainID: data.ExternalChainID,
			Action:          outbox.ActionWithdraw,
			SyncStatus:      syncStatus,
			IsCurrentMember: cs.CurrentMember(),
		})
	})
}

func (p *Withdrawal) Rollback(
	cs *ledger.ChainState,
	batch []*txs.Transaction,
	_ txs.BlockHeader,
	txn *database.Txn,
) (*ledger.Saga, error) {
	return ledger.RollbackEach(batch, txn, func(tx *txs.Transaction, saga *ledger.Saga) error {
		w, err := cs.DB().GetWithdrawal(tx.Hash().Bytes(), txn)
		if err != nil {
			if errors.Is(err, models.ErrWithdrawalNotFound) {
				return ledger.Reject(ledger.ErrResourceMissing, "withdrawal %s", tx.Hash())
			}
			return ledger.Storage(err)
		}
		removed, err := cs.Dequeue(saga, txn, outbox.EntryKey(outbox.ActionWithdraw, tx.Hash().String()))
		if err != nil {
			return err
		}
		if !removed && cs.CurrentMember() {
			cs.Logger().Warn(
				"rolled back withdrawal may already be paid out",
				"component", "ledger",
				"tx", tx.Hash().String(),
				"external_chain", w.ExternalChainID,
			)
		}
		prev := *w
		prev.ID = 0
		return saga.Apply(txn, invertEffect(withdrawalEffect(cs, prev)))
	})
}

func withdrawalEffect(cs *ledger.ChainState, w models.Withdrawal) ledger.Effect {
	return ledger.Effect{
		Name: fmt.Sprintf("withdrawal:%x", w.TxHash),
		Apply: func(txn *database.Txn) error {
			rec := w
			return ledger.Storage(cs.DB().AddWithdrawal(&rec, txn))
		},
		Revert: func(txn *database.Txn) error {
			return ledger.Storage(cs.DB().DeleteWithdrawal(w.TxHash, txn))
		},
	}
}

// ConfirmWithdrawal records that the committee paid out a withdrawal
type ConfirmWithdrawal struct{}

func (p *ConfirmWithdrawal) Kind() txs.Kind { return txs.KindConfirmWithdrawal }

func (p *ConfirmWithdrawal) Priority() int { return PriorityConfirmWithdrawal }

func (p *ConfirmWithdrawal) Validate(
	cs *ledger.ChainState,
	batch []*txs.Transaction,
	_ map[txs.Kind][]*txs.Transaction,
	header *txs.BlockHeader,
) ledger.ValidationResult {
	conflicts := ledger.NewConflictDetector()
	return ledger.ValidateEach(cs, batch, func(tx *txs.Transaction) error {
		data, err := txs.DecodePayload[txs.ConfirmWithdrawalData](tx)
		if err != nil {
			return err
		}
		if err := p.check(cs, data, nil); err != nil {
			return err
		}
		if err := checkQuorum(cs, tx, committee.SignerSetFullCommittee, header); err != nil {
			return err
		}
		return conflicts.Claim(tx, ledger.Claim{Set: "withdrawal", Key: data.WithdrawalTxHash.String()})
	})
}

func (p *ConfirmWithdrawal) check(
	cs *ledger.ChainState,
	data *txs.ConfirmWithdrawalData,
	txn *database.Txn,
) error {
	w, err := cs.DB().GetWithdrawal(data.WithdrawalTxHash.Bytes(), txn)
	if err != nil {
		if errors.Is(err, models.ErrWithdrawalNotFound) {
			return ledger.Reject(ledger.ErrResourceMissing, "withdrawal %s", data.WithdrawalTxHash)
		}
		return ledger.Storage(err)
	}
	if w.ExternalChainID != data.ExternalChainID {
		return ledger.Reject(
			ledger.ErrNotEligible,
			"withdrawal %s pays out on chain %d, not %d",
			data.WithdrawalTxHash,
			w.ExternalChainID,
			data.ExternalChainID,
		)
	}
	return checkUnconfirmed(cs, WithdrawalRecordKey(data.WithdrawalTxHash), txn)
}

func (p *ConfirmWithdrawal) Commit(
	cs *ledger.ChainState,
	batch []*txs.Transaction,
	header txs.BlockHeader,
	syncStatus txs.SyncStatus,
	txn *database.Txn,
) (*ledger.Saga, error) {
	return ledger.CommitEach(batch, txn, func(tx *txs.Transaction, saga *ledger.Saga) error {
		data, err := txs.DecodePayload[txs.ConfirmWithdrawalData](tx)
		if err != nil {
			return err
		}
		if err := p.check(cs, data, txn); err != nil {
			return err
		}
		err = addRecord(cs, saga, txn, models.ConfirmationRecord{
			RecordKey:       WithdrawalRecordKey(data.WithdrawalTxHash),
			Kind:            uint16(txs.KindConfirmWithdrawal),
			ExternalChainID: data.ExternalChainID,
			ExternalTxHash:  data.ExternalTxHash,
			SourceTxHash:    data.WithdrawalTxHash.Bytes(),
			ConfirmTxHash:   tx.Hash().Bytes(),
			Height:          header.Height,
		})
		if err != nil {
			return err
		}
		return enqueueConfirm(cs, saga, txn, tx, header, syncStatus, data.ExternalChainID, data.ExternalTxHash)
	})
}

func (p *ConfirmWithdrawal) Rollback(
	cs *ledger.ChainState,
	batch []*txs.Transaction,
	header txs.BlockHeader,
	txn *database.Txn,
) (*ledger.Saga, error) {
	return ledger.RollbackEach(batch, txn, func(tx *txs.Transaction, saga *ledger.Saga) error {
		data, err := txs.DecodePayload[txs.ConfirmWithdrawalData](tx)
		if err != nil {
			return err
		}
		if err := retractConfirm(cs, saga, txn, tx, header, data.ExternalChainID, data.ExternalTxHash); err != nil {
			return err
		}
		return deleteRecord(cs, saga, txn, WithdrawalRecordKey(data.WithdrawalTxHash))
	})
}

// Recharge credits an inbound transfer observed on an external chain
type Recharge struct{}

func (p *Recharge) Kind() txs.Kind { return txs.KindRecharge }

func (p *Recharge) Priority() int { return PriorityRecharge }

func (p *Recharge) Validate(
	cs *ledger.ChainState,
	batch []*txs.Transaction,
	_ map[txs.Kind][]*txs.Transaction,
	header *txs.BlockHeader,
) ledger.ValidationResult {
	conflicts := ledger.NewConflictDetector()
	return ledger.ValidateEach(cs, batch, func(tx *txs.Transaction) error {
		data, err := txs.DecodePayload[txs.RechargeData](tx)
		if err != nil {
			return err
		}
		if _, err := adapter(cs, data.ExternalChainID); err != nil {
			return err
		}
		if err := checkAmount("recharge", data.Amount); err != nil {
			return err
		}
		got, err := tx.CoinData.ToAmount(data.To, data.Asset)
		if err != nil {
			return ledger.Reject(ledger.ErrInvalidAmount, "coin data: %v", err)
		}
		if got != data.Amount {
			return ledger.Reject(
				ledger.ErrInvalidAmount,
				"recharge of %d credits %d",
				data.Amount,
				got,
			)
		}
		key := ExternalRecordKey(data.ExternalChainID, data.ExternalTxHash)
		if err := checkUnconfirmed(cs, key, nil); err != nil {
			return err
		}
		if err := checkQuorum(cs, tx, committee.SignerSetFullCommittee, header); err != nil {
			return err
		}
		return conflicts.Claim(tx, ledger.Claim{Set: "external-tx", Key: key})
	})
}

func (p *Recharge) Commit(
	cs *ledger.ChainState,
	batch []*txs.Transaction,
	header txs.BlockHeader,
	syncStatus txs.SyncStatus,
	txn *database.Txn,
) (*ledger.Saga, error) {
	return ledger.CommitEach(batch, txn, func(tx *txs.Transaction, saga *ledger.Saga) error {
		data, err := txs.DecodePayload[txs.RechargeData](tx)
		if err != nil {
			return err
		}
		err = addRecord(cs, saga, txn, models.ConfirmationRecord{
			RecordKey:       ExternalRecordKey(data.ExternalChainID, data.ExternalTxHash),
			Kind:            uint16(txs.KindRecharge),
			ExternalChainID: data.ExternalChainID,
			ExternalTxHash:  data.ExternalTxHash,
			ConfirmTxHash:   tx.Hash().Bytes(),
			Height:          header.Height,
		})
		if err != nil {
			return err
		}
		return enqueueConfirm(cs, saga, txn, tx, header, syncStatus, data.ExternalChainID, data.ExternalTxHash)
	})
}

func (p *Recharge) Rollback(
	cs *ledger.ChainState,
	batch []*txs.Transaction,
	header txs.BlockHeader,
	txn *database.Txn,
) (*ledger.Saga, error) {
	return ledger.RollbackEach(batch, txn, func(tx *txs.Transaction, saga *ledger.Saga) error {
		data, err := txs.DecodePayload[txs.RechargeData](tx)
		if err != nil {
			return err
		}
		if err := retractConfirm(cs, saga, txn, tx, header, data.ExternalChainID, data.ExternalTxHash); err != nil {
			return err
		}
		return deleteRecord(cs, saga, txn, ExternalRecordKey(data.ExternalChainID, data.ExternalTxHash))
	})
}
