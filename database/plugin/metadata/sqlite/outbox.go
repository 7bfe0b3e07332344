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
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/blinklabs-io/vbank/database/models"
	"github.com/blinklabs-io/vbank/database/types"
)

// AddOutboxEntry enqueues an entry unless one with the same key is already
// pending. It reports whether a row was inserted.
func (d *MetadataStoreSqlite) AddOutboxEntry(
	entry *models.OutboxEntry,
	txn types.Txn,
) (bool, error) {
	db, err := d.resolveDB(txn)
	if err != nil {
		return false, err
	}
	if entry.CreatedAt.IsZero() {
		entry.CreatedAt = time.Now()
	}
	result := db.Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "entry_key"}},
		DoNothing: true,
	}).Create(entry)
	if result.Error != nil {
		return false, result.Error
	}
	return result.RowsAffected > 0, nil
}

func (d *MetadataStoreSqlite) GetOutboxEntry(
	entryKey string,
	txn types.Txn,
) (*models.OutboxEntry, error) {
	db, err := d.resolveDB(txn)
	if err != nil {
		return nil, err
	}
	var ret models.OutboxEntry
	if result := db.Where("entry_key = ?", entryKey).First(&ret); result.Error != nil {
		if errors.Is(result.Error, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, result.Error
	}
	return &ret, nil
}

// GetOutboxEntries returns up to limit entries in enqueue order. A limit of
// zero or less returns every entry.
func (d *MetadataStoreSqlite) GetOutboxEntries(
	limit int,
	txn types.Txn,
) ([]models.OutboxEntry, error) {
	db, err := d.resolveDB(txn)
	if err != nil {
		return nil, err
	}
	query := db.Order("id")
	if limit > 0 {
		query = query.Limit(limit)
	}
	var ret []models.OutboxEntry
	if result := query.Find(&ret); result.Error != nil {
		return nil, result.Error
	}
	return ret, nil
}

func (d *MetadataStoreSqlite) DeleteOutboxEntry(
	entryKey string,
	txn types.Txn,
) error {
	db, err := d.resolveDB(txn)
	if err != nil {
		return err
	}
	return db.Where("entry_key = ?", entryKey).
		Delete(&models.OutboxEntry{}).Error
}

func (d *MetadataStoreSqlite) UpdateOutboxEntryAttempt(
	entryKey string,
	attempts uint32,
	lastError string,
	txn types.Txn,
) error {
	db, err := d.resolveDB(txn)
	if err != nil {
		return err
	}
	result := db.Model(&models.OutboxEntry{}).
		Where("entry_key = ?", entryKey).
		Updates(map[string]any{
			"attempts":   attempts,
			"last_error": lastError,
		})
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return models.ErrOutboxEntryNotFound
	}
	return nil
}

func (d *MetadataStoreSqlite) CountOutboxEntries(txn types.Txn) (int64, error) {
	db, err := d.resolveDB(txn)
	if err != nil {
		return 0, err
	}
	var count int64
	if result := db.Model(&models.OutboxEntry{}).Count(&count); result.Error != nil {
		return 0, result.Error
	}
	return count, nil
}

func (d *MetadataStoreSqlite) GetHandshakeRecord(
	handshakeKey string,
	txn types.Txn,
) (*models.HandshakeRecord, error) {
	db, err := d.resolveDB(txn)
	if err != nil {
		return nil, err
	}
	var ret models.HandshakeRecord
	result := db.Where("handshake_key = ?", handshakeKey).First(&ret)
	if result.Error != nil {
		if errors.Is(result.Error, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, result.Error
	}
	return &ret, nil
}

// SetHandshakeRecord inserts or updates the record for its key
func (d *MetadataStoreSqlite) SetHandshakeRecord(
	record *models.HandshakeRecord,
	txn types.Txn,
) error {
	db, err := d.resolveDB(txn)
	if err != nil {
		return err
	}
	record.UpdatedAt = time.Now()
	return db.Clauses(clause.OnConflict{
		Columns: []clause.Column{{Name: "handshake_key"}},
		DoUpdates: clause.AssignmentColumns([]string{
			"external_chain_id",
			"external_tx_hash",
			"local_key",
			"height",
			"state",
			"updated_at",
		}),
	}).Create(record).Error
}
