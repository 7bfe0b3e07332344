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
	"errors"
	"fmt"
	"sync"

	"github.com/blinklabs-io/vbank/database/types"
)

type txnScope uint8

const (
	scopeBlob txnScope = 1 << iota
	scopeMetadata

	scopeAll = scopeBlob | scopeMetadata
)

// Txn spans the blob archive and the metadata store of one chain. On commit
// the archive goes first: the tip lives in the metadata store, so an archived
// block whose metadata failed to commit is overwritten when that height is
// applied again.
type Txn struct {
	db       *Database
	blob     types.Txn
	metadata types.Txn
	mu       sync.Mutex
	scope    txnScope
	done     bool
	write    bool
}

func newTxn(db *Database, scope txnScope, write bool) *Txn {
	t := &Txn{db: db, scope: scope, write: write}
	if scope&scopeBlob != 0 && db.Blob() != nil {
		t.blob = db.Blob().NewTransaction(write)
	}
	if scope&scopeMetadata != 0 && db.Metadata() != nil {
		t.metadata = db.Metadata().Transaction()
	}
	return t
}

func (t *Txn) DB() *Database {
	return t.db
}

// Metadata returns the metadata store transaction, nil when out of scope
func (t *Txn) Metadata() types.Txn {
	if t == nil {
		return nil
	}
	return t.metadata
}

// Blob returns the archive transaction, nil when out of scope
func (t *Txn) Blob() types.Txn {
	if t == nil {
		return nil
	}
	return t.blob
}

// Do runs fn and commits, or rolls back when fn fails
func (t *Txn) Do(fn func(*Txn) error) error {
	err := fn(t)
	if err != nil {
		if rbErr := t.Rollback(); rbErr != nil {
			return errors.Join(err, fmt.Errorf("rollback failed: %w", rbErr))
		}
		return err
	}
	if err := t.Commit(); err != nil {
		return fmt.Errorf("commit failed: %w", err)
	}
	return nil
}

func (t *Txn) Commit() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.done {
		return nil
	}
	if !t.write {
		return t.discard()
	}
	if t.blob == nil && t.metadata == nil {
		t.done = true
		return types.ErrNoStoreAvailable
	}
	t.done = true
	if t.blob != nil {
		if err := t.blob.Commit(); err != nil {
			if t.metadata != nil {
				_ = t.metadata.Rollback()
			}
			return fmt.Errorf("blob commit: %w", err)
		}
	}
	if t.metadata != nil {
		if err := t.metadata.Commit(); err != nil {
			_ = t.metadata.Rollback()
			if t.blob != nil {
				t.db.logger.Warn(
					"block archived without its metadata",
					"component", "database",
					"error", err,
				)
			}
			return fmt.Errorf("metadata commit: %w", err)
		}
	}
	return nil
}

func (t *Txn) Rollback() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.discard()
}

func (t *Txn) discard() error {
	if t.done {
		return nil
	}
	t.done = true
	var errs []error
	if t.blob != nil {
		if err := t.blob.Rollback(); err != nil {
			errs = append(errs, fmt.Errorf("blob rollback: %w", err))
		}
	}
	if t.metadata != nil {
		if err := t.metadata.Rollback(); err != nil {
			errs = append(errs, fmt.Errorf("metadata rollback: %w", err))
		}
	}
	return errors.Join(errs...)
}

// Release discards the transaction from a defer. Errors are only logged.
func (t *Txn) Release() {
	if err := t.Rollback(); err != nil {
		t.db.logger.Debug(
			"transaction release failed",
			"component", "database",
			"error", err,
			"scope", t.scope,
			"write", t.write,
		)
	}
}
