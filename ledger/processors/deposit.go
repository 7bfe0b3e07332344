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

	"github.com/blinklabs-io/vbank/database"
	"github.com/blinklabs-io/vbank/database/models"
	"github.com/blinklabs-io/vbank/ledger"
	"github.com/blinklabs-io/vbank/txs"
)

// Deposit stakes an amount of a configured asset
type Deposit struct{}

func (p *Deposit) Kind() txs.Kind { return txs.KindDeposit }

func (p *Deposit) Priority() int { return PriorityDeposit }

func (p *Deposit) Validate(
	cs *ledger.ChainState,
	batch []*txs.Transaction,
	_ map[txs.Kind][]*txs.Transaction,
	header *txs.BlockHeader,
) ledger.ValidationResult {
	conflicts := ledger.NewConflictDetector()
	// Amounts of the deposits accepted so far in this batch
	pending := make(map[txs.AssetRef]uint64)
	return ledger.ValidateEach(cs, batch, func(tx *txs.Transaction) error {
		if err := ledger.CheckTime(cs.Config().TimeSkew, tx, header); err != nil {
			return err
		}
		data, err := txs.DecodePayload[txs.DepositData](tx)
		if err != nil {
			return err
		}
		if err := checkOwner(cs, tx, data.Address); err != nil {
			return err
		}
		if err := p.checkState(cs, tx, data, pending[data.Asset], nil); err != nil {
			return err
		}
		if err := claimTx(conflicts, tx); err != nil {
			return err
		}
		pending[data.Asset] += data.Amount
		return nil
	})
}

// checkState checks the deposit against the staking config and the stored
// asset counter, with extra already staked earlier in the block
func (p *Deposit) checkState(
	cs *ledger.ChainState,
	tx *txs.Transaction,
	data *txs.DepositData,
	extra uint64,
	txn *database.Txn,
) error {
	asset, ok := cs.Config().StakingAsset(data.Asset)
	if !ok {
		return ledger.Reject(ledger.ErrNotEligible, "asset %s is not accepted for staking", data.Asset)
	}
	if err := checkAmount("deposit", data.Amount); err != nil {
		return err
	}
	if data.Amount < asset.MinDeposit {
		return ledger.Reject(
			ledger.ErrInvalidAmount,
			"deposit of %d below minimum %d",
			data.Amount,
			asset.MinDeposit,
		)
	}
	_, err := cs.DB().GetDeposit(tx.Hash().Bytes(), txn)
	switch {
	case err == nil:
		return ledger.Reject(ledger.ErrConflict, "deposit %s already recorded", tx.Hash())
	case !errors.Is(err, models.ErrDepositNotFound):
		return ledger.Storage(err)
	}
	staked, err := cs.DB().GetAssetStaked(data.Asset.ChainID, data.Asset.AssetID, txn)
	if err != nil {
		return ledger.Storage(err)
	}
	// The counter is checked even without a cap so it always fits the store
	total, err := addAmounts(staked, extra, data.Amount)
	if err != nil {
		return err
	}
	if asset.Cap != 0 && total > asset.Cap {
		return ledger.Reject(
			ledger.ErrLimitExceeded,
			"asset %s staked %d, cap %d",
			data.Asset,
			staked+extra,
			asset.Cap,
		)
	}
	return nil
}

func (p *Deposit) Commit(
	cs *ledger.ChainState,
	batch []*txs.Transaction,
	header txs.BlockHeader,
	_ txs.SyncStatus,
	txn *database.Txn,
) (*ledger.Saga, error) {
	return ledger.CommitEach(batch, txn, func(tx *txs.Transaction, saga *ledger.Saga) error {
		data, err := txs.DecodePayload[txs.DepositData](tx)
		if err != nil {
			return err
		}
		if err := p.checkState(cs, tx, data, 0, txn); err != nil {
			return err
		}
		staked, err := cs.DB().GetAssetStaked(data.Asset.ChainID, data.Asset.AssetID, txn)
		if err != nil {
			return ledger.Storage(err)
		}
		total, err := addAmounts(staked, data.Amount)
		if err != nil {
			return err
		}
		deposit := models.Deposit{
			TxHash:       tx.Hash().Bytes(),
			Address:      data.Address,
			AssetChainID: data.Asset.ChainID,
			AssetID:      data.Asset.AssetID,
			Amount:       data.Amount,
			Time:         tx.Time,
			BlockHeight:  header.Height,
			DelHeight:    models.DepositActive,
		}
		return saga.Apply(
			txn,
			addDepositEffect(cs, deposit),
			stakedEffect(cs, data.Asset, staked, total),
		)
	})
}

func (p *Deposit) Rollback(
	cs *ledger.ChainState,
	batch []*txs.Transaction,
	_ txs.BlockHeader,
	txn *database.Txn,
) (*ledger.Saga, error) {
	return ledger.RollbackEach(batch, txn, func(tx *txs.Transaction, saga *ledger.Saga) error {
		deposit, err := getDeposit(cs, tx.Hash().Bytes(), txn)
		if err != nil {
			return err
		}
		asset := txs.NewAssetRef(deposit.AssetChainID, deposit.AssetID)
		staked, err := cs.DB().GetAssetStaked(asset.ChainID, asset.AssetID, txn)
		if err != nil {
			return ledger.Storage(err)
		}
		if staked < deposit.Amount {
			return fmt.Errorf(
				"%w: asset %s staked %d below deposit %d",
				ledger.ErrInternal,
				asset,
				staked,
				deposit.Amount,
			)
		}
		prev := *deposit
		prev.ID = 0
		return saga.Apply(
			txn,
			stakedEffect(cs, asset, staked, staked-deposit.Amount),
			invertEffect(addDepositEffect(cs, prev)),
		)
	})
}

// CancelDeposit ends a deposit. The deposit is kept with its cancel height
// so the cancellation can be rolled back.
type CancelDeposit struct{}

func (p *CancelDeposit) Kind() txs.Kind { return txs.KindCancelDeposit }

func (p *CancelDeposit) Priority() int { return PriorityCancelDeposit }

func (p *CancelDeposit) Validate(
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
		data, err := txs.DecodePayload[txs.CancelDepositData](tx)
		if err != nil {
			return err
		}
		if _, err := p.activeDeposit(cs, data, nil); err != nil {
			return err
		}
		if err := checkOwner(cs, tx, data.Address); err != nil {
			return err
		}
		return conflicts.Claim(tx, ledger.Claim{Set: "deposit", Key: data.DepositTxHash.String()})
	})
}

// activeDeposit returns the deposit a cancellation refers to if it is still
// active and owned by the cancelling address
func (p *CancelDeposit) activeDeposit(
	cs *ledger.ChainState,
	data *txs.CancelDepositData,
	txn *database.Txn,
) (*models.Deposit, error) {
	deposit, err := getDeposit(cs, data.DepositTxHash.Bytes(), txn)
	if err != nil {
		return nil, err
	}
	if !deposit.Active() {
		return nil, ledger.Reject(
			ledger.ErrResourceTerminal,
			"deposit %s cancelled at height %d",
			data.DepositTxHash,
			deposit.DelHeight,
		)
	}
	if deposit.Address != data.Address {
		return nil, ledger.Reject(
			ledger.ErrNotEligible,
			"deposit %s does not belong to %s",
			data.DepositTxHash,
			data.Address,
		)
	}
	return deposit, nil
}

func (p *CancelDeposit) Commit(
	cs *ledger.ChainState,
	batch []*txs.Transaction,
	header txs.BlockHeader,
	_ txs.SyncStatus,
	txn *database.Txn,
) (*ledger.Saga, error) {
	return ledger.CommitEach(batch, txn, func(tx *txs.Transaction, saga *ledger.Saga) error {
		data, err := txs.DecodePayload[txs.CancelDepositData](tx)
		if err != nil {
			return err
		}
		deposit, err := p.activeDeposit(cs, data, txn)
		if err != nil {
			return err
		}
		asset := txs.NewAssetRef(deposit.AssetChainID, deposit.AssetID)
		staked, err := cs.DB().GetAssetStaked(asset.ChainID, asset.AssetID, txn)
		if err != nil {
			return ledger.Storage(err)
		}
		if staked < deposit.Amount {
			return fmt.Errorf(
				"%w: asset %s staked %d below deposit %d",
				ledger.ErrInternal,
				asset,
				staked,
				deposit.Amount,
			)
		}
		// Both halves apply or neither does
		return saga.Apply(
			txn,
			delHeightEffect(cs, deposit.TxHash, models.DepositActive, int64(header.Height)), //nolint:gosec
			stakedEffect(cs, asset, staked, staked-deposit.Amount),
		)
	})
}

func (p *CancelDeposit) Rollback(
	cs *ledger.ChainState,
	batch []*txs.Transaction,
	header txs.BlockHeader,
	txn *database.Txn,
) (*ledger.Saga, error) {
	return ledger.RollbackEach(batch, txn, func(tx *txs.Transaction, saga *ledger.Saga) error {
		data, err := txs.DecodePayload[txs.CancelDepositData](tx)
		if err != nil {
			return err
		}
		deposit, err := getDeposit(cs, data.DepositTxHash.Bytes(), txn)
		if err != nil {
			return err
		}
		height := int64(header.Height) //nolint:gosec
		if deposit.DelHeight != height {
			return fmt.Errorf(
				"%w: deposit %s cancelled at %d, not %d",
				ledger.ErrInternal,
				data.DepositTxHash,
				deposit.DelHeight,
				height,
			)
		}
		asset := txs.NewAssetRef(deposit.AssetChainID, deposit.AssetID)
		staked, err := cs.DB().GetAssetStaked(asset.ChainID, asset.AssetID, txn)
		if err != nil {
			return ledger.Storage(err)
		}
		total, err := addAmounts(staked, deposit.Amount)
		if err != nil {
			return err
		}
		return saga.Apply(
			txn,
			delHeightEffect(cs, deposit.TxHash, height, models.DepositActive),
			stakedEffect(cs, asset, staked, total),
		)
	})
}

func getDeposit(cs *ledger.ChainState, txHash []byte, txn *database.Txn) (*models.Deposit, error) {
	deposit, err := cs.DB().GetDeposit(txHash, txn)
	if err != nil {
		if errors.Is(err, models.ErrDepositNotFound) {
			return nil, ledger.Reject(ledger.ErrResourceMissing, "deposit %x", txHash)
		}
		return nil, ledger.Storage(err)
	}
	return deposit, nil
}

func addDepositEffect(cs *ledger.ChainState, deposit models.Deposit) ledger.Effect {
	return ledger.Effect{
		Name: fmt.Sprintf("deposit:%x", deposit.TxHash),
		Apply: func(txn *database.Txn) error {
			d := deposit
			return ledger.Storage(cs.DB().AddDeposit(&d, txn))
		},
		Revert: func(txn *database.Txn) error {
			return ledger.Storage(cs.DB().DeleteDeposit(deposit.TxHash, txn))
		},
	}
}

func delHeightEffect(cs *ledger.ChainState, txHash []byte, from, to int64) ledger.Effect {
	return ledger.Effect{
		Name: fmt.Sprintf("deposit-del-height:%x", txHash),
		Apply: func(txn *database.Txn) error {
			return ledger.Storage(cs.DB().SetDepositDelHeight(txHash, to, txn))
		},
		Revert: func(txn *database.Txn) error {
			return ledger.Storage(cs.DB().SetDepositDelHeight(txHash, from, txn))
		},
	}
}

func stakedEffect(cs *ledger.ChainState, asset txs.AssetRef, from, to uint64) ledger.Effect {
	return ledger.Effect{
		Name: "asset-staked:" + asset.String(),
		Apply: func(txn *database.Txn) error {
			return ledger.Storage(cs.DB().SetAssetStaked(asset.ChainID, asset.AssetID, to, txn))
		},
		Revert: func(txn *database.Txn) error {
			return ledger.Storage(cs.DB().SetAssetStaked(asset.ChainID, asset.AssetID, from, txn))
		},
	}
}

// invertEffect swaps the directions of an effect
func invertEffect(e ledger.Effect) ledger.Effect {
	return ledger.Effect{
		Name:   "undo-" + e.Name,
		Apply:  e.Revert,
		Revert: e.Apply,
	}
}
