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

// Package ledger applies blocks of typed transactions to chain state. Each
// transaction kind is handled by a Processor; the Coordinator runs them in
// priority order and compensates partial failures.
package ledger

import (
	"fmt"
	"time"

	"github.com/blinklabs-io/vbank/database"
	"github.com/blinklabs-io/vbank/txs"
)

// Processor validates, commits and rolls back the transactions of one kind.
//
// Validate must not write. Commit applies every transaction of the batch in
// order and returns the applied effects; on failure it undoes its own
// partial work and returns a nil saga. Rollback applies the exact inverse of
// a successful Commit and returns effects that restore the committed state.
type Processor interface {
	Kind() txs.Kind
	// Priority orders commits within a block, highest first
	Priority() int
	Validate(
		cs *ChainState,
		batch []*txs.Transaction,
		byKind map[txs.Kind][]*txs.Transaction,
		header *txs.BlockHeader,
	) ValidationResult
	Commit(
		cs *ChainState,
		batch []*txs.Transaction,
		header txs.BlockHeader,
		syncStatus txs.SyncStatus,
		txn *database.Txn,
	) (*Saga, error)
	Rollback(
		cs *ChainState,
		batch []*txs.Transaction,
		header txs.BlockHeader,
		txn *database.Txn,
	) (*Saga, error)
}

// ValidationResult lists the rejected transactions of a batch. Code is the
// code of the first rejection.
type ValidationResult struct {
	Errors  map[txs.Hash]error
	Invalid []*txs.Transaction
	Code    Code
}

func (r *ValidationResult) Reject(tx *txs.Transaction, err error) {
	if r.Errors == nil {
		r.Errors = make(map[txs.Hash]error)
	}
	if _, ok := r.Errors[tx.Hash()]; ok {
		return
	}
	r.Errors[tx.Hash()] = err
	r.Invalid = append(r.Invalid, tx)
	if r.Code == CodeOK {
		r.Code = CodeOf(err)
	}
}

// RejectAll rejects every transaction of the batch with err
func (r *ValidationResult) RejectAll(batch []*txs.Transaction, err error) {
	r.Code = CodeOf(err)
	for _, tx := range batch {
		r.Reject(tx, err)
	}
}

// IsInvalid reports whether tx was rejected
func (r *ValidationResult) IsInvalid(tx *txs.Transaction) bool {
	_, ok := r.Errors[tx.Hash()]
	return ok
}

// Merge adds the rejections of other
func (r *ValidationResult) Merge(other ValidationResult) {
	for _, tx := range other.Invalid {
		r.Reject(tx, other.Errors[tx.Hash()])
	}
	if r.Code == CodeOK {
		r.Code = other.Code
	}
}

// ValidateEach runs check on every transaction of the batch in order. A
// missing chain rejects the whole batch, as does a storage or internal
// failure on any transaction.
func ValidateEach(
	cs *ChainState,
	batch []*txs.Transaction,
	check func(tx *txs.Transaction) error,
) ValidationResult {
	var res ValidationResult
	if cs == nil {
		res.RejectAll(batch, ErrChainUnknown)
		return res
	}
	for _, tx := range batch {
		err := check(tx)
		if err == nil {
			continue
		}
		switch CodeOf(err) {
		case CodeStorageFailure, CodeUnknownInternal:
			res = ValidationResult{}
			res.RejectAll(batch, err)
			return res
		}
		res.Reject(tx, err)
	}
	return res
}

// CommitEach applies commit to every transaction of the batch in order,
// collecting effects in one saga. On failure the effects already applied are
// undone and the error returned.
func CommitEach(
	batch []*txs.Transaction,
	txn *database.Txn,
	commit func(tx *txs.Transaction, saga *Saga) error,
) (*Saga, error) {
	saga := NewSaga()
	for _, tx := range batch {
		if err := commit(tx, saga); err != nil {
			err = fmt.Errorf("transaction %s: %w", tx.Hash(), err)
			if undoErr := saga.Unwind(txn); undoErr != nil {
				return nil, fmt.Errorf("%w (after %w)", undoErr, err)
			}
			return nil, err
		}
	}
	return saga, nil
}

// RollbackEach is CommitEach for rollbacks. Transactions are undone in
// reverse order so each inverse sees the state its commit left behind.
func RollbackEach(
	batch []*txs.Transaction,
	txn *database.Txn,
	rollback func(tx *txs.Transaction, saga *Saga) error,
) (*Saga, error) {
	saga := NewSaga()
	for i := len(batch) - 1; i >= 0; i-- {
		tx := batch[i]
		if err := rollback(tx, saga); err != nil {
			err = fmt.Errorf("transaction %s: %w", tx.Hash(), err)
			if undoErr := saga.Unwind(txn); undoErr != nil {
				return nil, fmt.Errorf("%w (after %w)", undoErr, err)
			}
			return nil, err
		}
	}
	return saga, nil
}

// CheckTime rejects a transaction whose time is outside the window around
// the block time. Without a header there is nothing to check against.
func CheckTime(skew time.Duration, tx *txs.Transaction, header *txs.BlockHeader) error {
	if header == nil {
		return nil
	}
	window := int64(skew / time.Second)
	if tx.Time < header.Time-window || tx.Time > header.Time+window {
		return Reject(
			ErrTimeSkew,
			"tx time %d, block time %d, allowed skew %s",
			tx.Time,
			header.Time,
			skew,
		)
	}
	return nil
}
