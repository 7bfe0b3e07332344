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

package sqlite

import (
	"errors"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/blinklabs-io/vbank/database/models"
	"github.com/blinklabs-io/vbank/database/types"
)

// GetDeposit returns the deposit created by the given transaction
func (d *MetadataStoreSqlite) GetDeposit(
	txHash []byte,
	txn types.Txn,
) (*models.Deposit, error) {
	db, err := d.resolveDB(txn)
	if err != nil {
		return nil, err
	}
	var ret models.Deposit
	if result := db.Where("tx_hash = ?", txHash).First(&ret); result.Error != nil {
		if errors.Is(result.Error, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, result.Error
	}
	return &ret, nil
}

// GetActiveDeposits returns the uncancelled deposits of an address
func (d *MetadataStoreSqlite) GetActiveDeposits(
	addr string,
	txn types.Txn,
) ([]models.Deposit, error) {
	db, err := d.resolveDB(txn)
	if err != nil {
		return nil, err
	}
	var ret []models.Deposit
	result := db.Where("address = ? AND del_height = ?", addr, models.DepositActive).
		Order("id").
		Find(&ret)
	if result.Error != nil {
		return nil, result.Error
	}
	return ret, nil
}

func (d *MetadataStoreSqlite) AddDeposit(
	deposit *models.Deposit,
	txn types.Txn,
) error {
	db, err := d.resolveDB(txn)
	if err != nil {
		return err
	}
	return wrapCreateErr(db.Create(deposit).Error)
}

func (d *MetadataStoreSqlite) DeleteDeposit(
	txHash []byte,
	txn types.Txn,
) error {
	db, err := d.resolveDB(txn)
	if err != nil {
		return err
	}
	return db.Where("tx_hash = ?", txHash).Delete(&models.Deposit{}).Error
}

// SetDepositDelHeight marks a deposit cancelled at delHeight, or active again
// with models.DepositActive
func (d *MetadataStoreSqlite) SetDepositDelHeight(
	txHash []byte,
	delHeight int64,
	txn types.Txn,
) error {
	db, err := d.resolveDB(txn)
	if err != nil {
		return err
	}
	result := db.Model(&models.Deposit{}).
		Where("tx_hash = ?", txHash).
		Update("del_height", delHeight)
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return models.ErrDepositNotFound
	}
	return nil
}

// GetAssetStaked returns the staked total of an asset, zero when none
func (d *MetadataStoreSqlite) GetAssetStaked(
	chainID uint16,
	assetID uint16,
	txn types.Txn,
) (uint64, error) {
	db, err := d.resolveDB(txn)
	if err != nil {
		return 0, err
	}
	var ret models.AssetLimit
	result := db.Where("asset_chain_id = ? AND asset_id = ?", chainID, assetID).
		First(&ret)
	if result.Error != nil {
		if errors.Is(result.Error, gorm.ErrRecordNotFound) {
			return 0, nil
		}
		return 0, result.Error
	}
	return ret.Staked, nil
}

func (d *MetadataStoreSqlite) SetAssetStaked(
	chainID uint16,
	assetID uint16,
	staked uint64,
	txn types.Txn,
) error {
	db, err := d.resolveDB(txn)
	if err != nil {
		return err
	}
	rec := &models.AssetLimit{
		AssetChainID: chainID,
		AssetID:      assetID,
		Staked:       staked,
	}
	return db.Clauses(clause.OnConflict{
		Columns: []clause.Column{
			{Name: "asset_chain_id"},
			{Name: "asset_id"},
		},
		DoUpdates: clause.AssignmentColumns([]string{"staked"}),
	}).Create(rec).Error
}
