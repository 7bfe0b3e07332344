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

const tipRowID = 1

// GetNodeState returns the stored value for a name, or an empty string
func (d *MetadataStoreSqlite) GetNodeState(
	name string,
	txn types.Txn,
) (string, error) {
	db, err := d.resolveDB(txn)
	if err != nil {
		return "", err
	}
	var ret models.NodeState
	if result := db.Where("name = ?", name).First(&ret); result.Error != nil {
		if errors.Is(result.Error, gorm.ErrRecordNotFound) {
			return "", nil
		}
		return "", result.Error
	}
	return ret.Value, nil
}

func (d *MetadataStoreSqlite) SetNodeState(
	name string,
	value string,
	txn types.Txn,
) error {
	db, err := d.resolveDB(txn)
	if err != nil {
		return err
	}
	return db.Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "name"}},
		DoUpdates: clause.AssignmentColumns([]string{"value"}),
	}).Create(&models.NodeState{Name: name, Value: value}).Error
}

func (d *MetadataStoreSqlite) DeleteNodeState(name string, txn types.Txn) error {
	db, err := d.resolveDB(txn)
	if err != nil {
		return err
	}
	return db.Where("name = ?", name).Delete(&models.NodeState{}).Error
}

func (d *MetadataStoreSqlite) GetTip(txn types.Txn) (*models.Tip, error) {
	db, err := d.resolveDB(txn)
	if err != nil {
		return nil, err
	}
	var ret models.Tip
	if result := db.First(&ret, tipRowID); result.Error != nil {
		if errors.Is(result.Error, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, result.Error
	}
	return &ret, nil
}

func (d *MetadataStoreSqlite) SetTip(tip *models.Tip, txn types.Txn) error {
	db, err := d.resolveDB(txn)
	if err != nil {
		return err
	}
	tmp := models.Tip{
		ID:     tipRowID,
		Height: tip.Height,
		Hash:   tip.Hash,
	}
	return db.Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "id"}},
		DoUpdates: clause.AssignmentColumns([]string{"height", "hash"}),
	}).Create(&tmp).Error
}
