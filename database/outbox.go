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

// AddOutboxEntry enqueues entry unless its key is already pending, and
// reports whether it was added
func (d *Database) AddOutboxEntry(entry *models.OutboxEntry, txn *Txn) (bool, error) {
	return d.metadata.AddOutboxEntry(entry, txn.Metadata())
}

func (d *Database) GetOutboxEntry(key string, txn *Txn) (*models.OutboxEntry, error) {
	ret, err := d.metadata.GetOutboxEntry(key, txn.Metadata())
	if err != nil {
		return nil, err
	}
	if ret == nil {
		return nil, models.ErrOutboxEntryNotFound
	}
	return ret, nil
}

// GetOutboxEntries returns pending entries in enqueue order
func (d *Database) GetOutboxEntries(limit int, txn *Txn) ([]models.OutboxEntry, error) {
	return d.metadata.GetOutboxEntries(limit, txn.Metadata())
}

func (d *Database) DeleteOutboxEntry(key string, txn *Txn) error {
	return d.metadata.DeleteOutboxEntry(key, txn.Metadata())
}

func (d *Database) UpdateOutboxEntryAttempt(
	key string,
	attempts uint32,
	lastError string,
	txn *Txn,
) error {
	return d.metadata.UpdateOutboxEntryAttempt(key, attempts, lastError, txn.Metadata())
}

func (d *Database) CountOutboxEntries(txn *Txn) (int64, error) {
	return d.metadata.CountOutboxEntries(txn.Metadata())
}

func (d *Database) GetHandshakeRecord(
	key string,
	txn *Txn,
) (*models.HandshakeRecord, error) {
	ret, err := d.metadata.GetHandshakeRecord(key, txn.Metadata())
	if err != nil {
		return nil, err
	}
	if ret == nil {
		return nil, models.ErrHandshakeNotFound
	}
	return ret, nil
}

func (d *Database) SetHandshakeRecord(record *models.HandshakeRecord, txn *Txn) error {
	return d.metadata.SetHandshakeRecord(record, txn.Metadata())
}
