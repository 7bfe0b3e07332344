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

package database

import (
	"github.com/blinklabs-io/vbank/database/models"
)

// GetConfirmationRecord returns the record stored under key
func (d *Database) GetConfirmationRecord(
	key string,
	txn *Txn,
) (*models.ConfirmationRecord, error) {
	ret, err := d.metadata.GetConfirmationRecord(key, txn.Metadata())
	if err != nil {
		return nil, err
	}
	if ret == nil {
		return nil, models.ErrConfirmationNotFound
	}
	return ret, nil
}

// AddConfirmationRecord stores a write-once record. An existing key fails
// with types.ErrDuplicateKey.
func (d *Database) AddConfirmationRecord(
	record *models.ConfirmationRecord,
	txn *Txn,
) error {
	return d.metadata.AddConfirmationRecord(record, txn.Metadata())
}

func (d *Database) DeleteConfirmationRecord(key string, txn *Txn) error {
	return d.metadata.DeleteConfirmationRecord(key, txn.Metadata())
}
