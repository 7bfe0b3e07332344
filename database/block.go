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

	"github.com/blinklabs-io/vbank/database/types"
)

// ErrBlockNotArchived is returned when no block is archived at a height
var ErrBlockNotArchived = errors.New("block not archived")

// BlockArchive stores the encoded block applied at height. With a nil txn the
// write runs in its own blob transaction.
func (d *Database) BlockArchive(height uint64, blockCbor []byte, txn *Txn) error {
	owned := false
	if txn == nil {
		txn = d.BlobTxn(true)
		owned = true
		defer txn.Rollback() //nolint:errcheck
	}
	blobTxn := txn.Blob()
	if blobTxn == nil {
		return types.ErrNilTxn
	}
	blob := txn.DB().Blob()
	if blob == nil {
		return types.ErrBlobStoreUnavailable
	}
	if err := blob.Set(blobTxn, types.BlockBlobKey(height), blockCbor); err != nil {
		return err
	}
	if owned {
		return txn.Commit()
	}
	return nil
}

// BlockArchived returns the encoded block archived at height
func (d *Database) BlockArchived(height uint64, txn *Txn) ([]byte, error) {
	if txn == nil {
		txn = d.BlobTxn(false)
		defer txn.Release()
	}
	blobTxn := txn.Blob()
	if blobTxn == nil {
		return nil, types.ErrNilTxn
	}
	blob := txn.DB().Blob()
	if blob == nil {
		return nil, types.ErrBlobStoreUnavailable
	}
	ret, err := blob.Get(blobTxn, types.BlockBlobKey(height))
	if err != nil {
		if errors.Is(err, types.ErrBlobKeyNotFound) {
			return nil, ErrBlockNotArchived
		}
		return nil, err
	}
	return ret, nil
}

// BlockUnarchive removes the block archived at height
func (d *Database) BlockUnarchive(height uint64, txn *Txn) error {
	if txn == nil {
		return types.ErrNilTxn
	}
	blobTxn := txn.Blob()
	if blobTxn == nil {
		return types.ErrNilTxn
	}
	blob := txn.DB().Blob()
	if blob == nil {
		return types.ErrBlobStoreUnavailable
	}
	return blob.Delete(blobTxn, types.BlockBlobKey(height))
}

// BlockPruneBelow removes archived blocks below height and returns how many
// were removed
func (d *Database) BlockPruneBelow(height uint64, txn *Txn) (int, error) {
	if txn == nil {
		return 0, types.ErrNilTxn
	}
	blobTxn := txn.Blob()
	if blobTxn == nil {
		return 0, types.ErrNilTxn
	}
	blob := txn.DB().Blob()
	if blob == nil {
		return 0, types.ErrBlobStoreUnavailable
	}
	prefix := []byte(types.BlockBlobKeyPrefix)
	iter := blob.NewIterator(blobTxn, types.BlobIteratorOptions{Prefix: prefix})
	var keys [][]byte
	for iter.Rewind(); iter.ValidForPrefix(prefix); iter.Next() {
		key := iter.Item().Key()
		keyHeight, ok := types.BlockBlobKeyHeight(key)
		if !ok {
			continue
		}
		if keyHeight >= height {
			break
		}
		keys = append(keys, key)
	}
	iterErr := iter.Err()
	iter.Close()
	if iterErr != nil {
		return 0, iterErr
	}
	for _, key := range keys {
		if err := blob.Delete(blobTxn, key); err != nil {
			return 0, err
		}
	}
	return len(keys), nil
}
