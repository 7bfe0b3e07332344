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

package outbox

import (
	"errors"
	"fmt"
	"io"
	"log/slog"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/blinklabs-io/vbank/database"
	"github.com/blinklabs-io/vbank/database/models"
)

type QueueConfig struct {
	Database     *database.Database
	Logger       *slog.Logger
	PromRegistry prometheus.Registerer
	ChainID      uint16
}

// Queue persists outbox entries in the metadata store. Writes go through the
// block's transaction so entries appear and disappear with the block.
type Queue struct {
	db      *database.Database
	logger  *slog.Logger
	metrics *outboxMetrics
	wake    chan struct{}
	chainID uint16
}

func NewQueue(cfg QueueConfig) (*Queue, error) {
	if cfg.Database == nil {
		return nil, errors.New("outbox queue requires a database")
	}
	q := &Queue{
		db:      cfg.Database,
		logger:  cfg.Logger,
		chainID: cfg.ChainID,
		wake:    make(chan struct{}, 1),
	}
	if q.logger == nil {
		q.logger = slog.New(slog.NewJSONHandler(io.Discard, nil))
	}
	if cfg.PromRegistry != nil {
		q.initMetrics(cfg.PromRegistry)
	}
	q.updateDepth()
	return q, nil
}

func (q *Queue) ChainID() uint16 {
	return q.chainID
}

// Enqueue adds entry unless an entry with the same key is pending, and
// reports whether it was added
func (q *Queue) Enqueue(entry Entry, txn *database.Txn) (bool, error) {
	if entry.Key == "" {
		return false, errors.New("outbox entry has no key")
	}
	m, err := entry.model()
	if err != nil {
		return false, fmt.Errorf("encode outbox entry: %w", err)
	}
	added, err := q.db.AddOutboxEntry(m, txn)
	if err != nil {
		return false, fmt.Errorf("enqueue outbox entry: %w", err)
	}
	return added, nil
}

// Remove deletes a pending entry. Removing a missing entry is not an error.
func (q *Queue) Remove(key string, txn *database.Txn) error {
	return q.db.DeleteOutboxEntry(key, txn)
}

// Get returns the pending entry with the given key
func (q *Queue) Get(key string, txn *database.Txn) (*Entry, error) {
	m, err := q.db.GetOutboxEntry(key, txn)
	if err != nil {
		return nil, err
	}
	e, err := entryFromModel(*m)
	if err != nil {
		return nil, err
	}
	return &e, nil
}

// Pending returns up to limit entries in enqueue order
func (q *Queue) Pending(limit int, txn *database.Txn) ([]Entry, error) {
	rows, err := q.db.GetOutboxEntries(limit, txn)
	if err != nil {
		return nil, err
	}
	ret := make([]Entry, 0, len(rows))
	for _, row := range rows {
		e, err := entryFromModel(row)
		if err != nil {
			return nil, err
		}
		ret = append(ret, e)
	}
	return ret, nil
}

// Len returns the number of pending entries
func (q *Queue) Len() (int64, error) {
	return q.db.CountOutboxEntries(nil)
}

// Notify wakes the consumer. Call it after the transaction that enqueued or
// removed entries has committed.
func (q *Queue) Notify() {
	q.updateDepth()
	select {
	case q.wake <- struct{}{}:
	default:
	}
}

func (q *Queue) updateDepth() {
	if q.metrics == nil {
		return
	}
	depth, err := q.Len()
	if err != nil {
		return
	}
	q.metrics.depth.Set(float64(depth))
}

// complete deletes the entry if it is still the same enqueued instance
func (q *Queue) complete(entry Entry) error {
	txn := q.db.MetadataTxn(true)
	return txn.Do(func(txn *database.Txn) error {
		current, err := q.db.GetOutboxEntry(entry.Key, txn)
		if err != nil {
			if errors.Is(err, models.ErrOutboxEntryNotFound) {
				return nil
			}
			return err
		}
		if current.ID != entry.ID {
			return nil
		}
		return q.db.DeleteOutboxEntry(entry.Key, txn)
	})
}

// recordFailure stores the attempt count and last error of an entry
func (q *Queue) recordFailure(entry Entry, attempts uint32, cause error) error {
	err := q.db.UpdateOutboxEntryAttempt(entry.Key, attempts, cause.Error(), nil)
	if errors.Is(err, models.ErrOutboxEntryNotFound) {
		return nil
	}
	return err
}
