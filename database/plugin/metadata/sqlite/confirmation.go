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

	"github.com/blinklabs-io/vbank/database/models"
	"github.com/blinklabs-io/vbank/database/types"
)

func (d *MetadataStoreSqlite) GetConfirmationRecord(
	recordKey string,
	txn types.Txn,
) (*models.ConfirmationRecord, error) {
	db, err := d.resolveDB(txn)
	if err != nil {
		return nil, err
	}
	var ret models.ConfirmationRecord
	if result := db.Where("record_key = ?", recordKey).First(&ret); result.Error != nil {
		if errors.Is(result.Error, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, result.Error
	}
	return &ret, nil
}

// AddConfirmationRecord inserts a record. A second insert for the same key
// fails with types.ErrDuplicateKey.
func (d *MetadataStoreSqlite) AddConfirmationRecord(
	record *models.ConfirmationRecord,
	txn types.Txn,
) error {
	db, err := d.resolveDB(txn)
	if err != nil {
		return err
	}
	return wrapCreateErr(db.Create(record).Error)
}

func (d *MetadataStoreSqlite) DeleteConfirmationRecord(
	recordKey string,
	txn types.Txn,
) error {
	db, err := d.resolveDB(txn)
	if err != nil {
		return err
	}
	return db.Where("record_key = ?", recordKey).
		Delete(&models.ConfirmationRecord{}).Error
}
