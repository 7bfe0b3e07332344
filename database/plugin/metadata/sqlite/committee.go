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

// GetCommitteeMembers returns the current members in insertion order
func (d *MetadataStoreSqlite) GetCommitteeMembers(
	txn types.Txn,
) ([]models.CommitteeMember, error) {
	db, err := d.resolveDB(txn)
	if err != nil {
		return nil, err
	}
	var ret []models.CommitteeMember
	if result := db.Order("position, id").Find(&ret); result.Error != nil {
		return nil, result.Error
	}
	return ret, nil
}

func (d *MetadataStoreSqlite) AddCommitteeMember(
	member *models.CommitteeMember,
	txn types.Txn,
) error {
	db, err := d.resolveDB(txn)
	if err != nil {
		return err
	}
	return wrapCreateErr(db.Create(member).Error)
}

func (d *MetadataStoreSqlite) DeleteCommitteeMember(
	agentAddress string,
	txn types.Txn,
) error {
	db, err := d.resolveDB(txn)
	if err != nil {
		return err
	}
	result := db.Where("agent_address = ?", agentAddress).
		Delete(&models.CommitteeMember{})
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return models.ErrMemberNotFound
	}
	return nil
}

// GetRemovedMembers returns the archive of removed members by removal height
func (d *MetadataStoreSqlite) GetRemovedMembers(
	txn types.Txn,
) ([]models.RemovedMember, error) {
	db, err := d.resolveDB(txn)
	if err != nil {
		return nil, err
	}
	var ret []models.RemovedMember
	if result := db.Order("removed_height, id").Find(&ret); result.Error != nil {
		return nil, result.Error
	}
	return ret, nil
}

func (d *MetadataStoreSqlite) GetRemovedMember(
	agentAddress string,
	removedTxHash []byte,
	txn types.Txn,
) (*models.RemovedMember, error) {
	db, err := d.resolveDB(txn)
	if err != nil {
		return nil, err
	}
	var ret models.RemovedMember
	result := db.Where(
		"agent_address = ? AND removed_tx_hash = ?",
		agentAddress,
		removedTxHash,
	).First(&ret)
	if result.Error != nil {
		if errors.Is(result.Error, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, result.Error
	}
	return &ret, nil
}

func (d *MetadataStoreSqlite) AddRemovedMember(
	member *models.RemovedMember,
	txn types.Txn,
) error {
	db, err := d.resolveDB(txn)
	if err != nil {
		return err
	}
	return wrapCreateErr(db.Create(member).Error)
}

func (d *MetadataStoreSqlite) DeleteRemovedMember(
	agentAddress string,
	removedTxHash []byte,
	txn types.Txn,
) error {
	db, err := d.resolveDB(txn)
	if err != nil {
		return err
	}
	return db.Where(
		"agent_address = ? AND removed_tx_hash = ?",
		agentAddress,
		removedTxHash,
	).Delete(&models.RemovedMember{}).Error
}

// GetHeterogeneousAddresses returns a member's external chain addresses
func (d *MetadataStoreSqlite) GetHeterogeneousAddresses(
	packingAddress string,
	txn types.Txn,
) ([]models.HeterogeneousAddress, error) {
	db, err := d.resolveDB(txn)
	if err != nil {
		return nil, err
	}
	var ret []models.HeterogeneousAddress
	result := db.Where("packing_address = ?", packingAddress).
		Order("external_chain_id").
		Find(&ret)
	if result.Error != nil {
		return nil, result.Error
	}
	return ret, nil
}

func (d *MetadataStoreSqlite) SetHeterogeneousAddress(
	addr *models.HeterogeneousAddress,
	txn types.Txn,
) error {
	db, err := d.resolveDB(txn)
	if err != nil {
		return err
	}
	return db.Clauses(clause.OnConflict{
		Columns: []clause.Column{
			{Name: "packing_address"},
			{Name: "external_chain_id"},
		},
		DoUpdates: clause.AssignmentColumns([]string{"address", "added_height"}),
	}).Create(addr).Error
}

func (d *MetadataStoreSqlite) DeleteHeterogeneousAddress(
	packingAddress string,
	externalChainID uint16,
	txn types.Txn,
) error {
	db, err := d.resolveDB(txn)
	if err != nil {
		return err
	}
	return db.Where(
		"packing_address = ? AND external_chain_id = ?",
		packingAddress,
		externalChainID,
	).Delete(&models.HeterogeneousAddress{}).Error
}

func (d *MetadataStoreSqlite) GetExternalChain(
	chainID uint16,
	txn types.Txn,
) (*models.ExternalChain, error) {
	db, err := d.resolveDB(txn)
	if err != nil {
		return nil, err
	}
	var ret models.ExternalChain
	if result := db.Where("chain_id = ?", chainID).First(&ret); result.Error != nil {
		if errors.Is(result.Error, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, result.Error
	}
	return &ret, nil
}

func (d *MetadataStoreSqlite) GetExternalChains(
	txn types.Txn,
) ([]models.ExternalChain, error) {
	db, err := d.resolveDB(txn)
	if err != nil {
		return nil, err
	}
	var ret []models.ExternalChain
	if result := db.Order("chain_id").Find(&ret); result.Error != nil {
		return nil, result.Error
	}
	return ret, nil
}

func (d *MetadataStoreSqlite) AddExternalChain(
	chain *models.ExternalChain,
	txn types.Txn,
) error {
	db, err := d.resolveDB(txn)
	if err != nil {
		return err
	}
	return wrapCreateErr(db.Create(chain).Error)
}

func (d *MetadataStoreSqlite) DeleteExternalChain(
	chainID uint16,
	txn types.Txn,
) error {
	db, err := d.resolveDB(txn)
	if err != nil {
		return err
	}
	return db.Where("chain_id = ?", chainID).Delete(&models.ExternalChain{}).Error
}
