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

package ledger

import (
	"github.com/blinklabs-io/vbank/txs"
)

// Claim is a resource key a transaction takes within one key set
type Claim struct {
	Set string
	Key string
}

// ConflictDetector tracks the resource keys claimed by the transactions of
// one batch. The first transaction to claim a key wins.
type ConflictDetector struct {
	sets map[string]map[string]txs.Hash
}

func NewConflictDetector() *ConflictDetector {
	return &ConflictDetector{sets: make(map[string]map[string]txs.Hash)}
}

// Claim takes all of the given keys for tx, or none of them. It returns an
// ErrConflict error when a key is already claimed, including twice by tx
// itself.
func (d *ConflictDetector) Claim(tx *txs.Transaction, claims ...Claim) error {
	pending := make(map[Claim]struct{}, len(claims))
	for _, c := range claims {
		if owner, ok := d.sets[c.Set][c.Key]; ok {
			return Reject(
				ErrConflict,
				"%s %s already claimed by %s",
				c.Set,
				c.Key,
				owner,
			)
		}
		if _, ok := pending[c]; ok {
			return Reject(ErrConflict, "%s %s listed twice", c.Set, c.Key)
		}
		pending[c] = struct{}{}
	}
	h := tx.Hash()
	for c := range pending {
		set, ok := d.sets[c.Set]
		if !ok {
			set = make(map[string]txs.Hash)
			d.sets[c.Set] = set
		}
		set[c.Key] = h
	}
	return nil
}

// Claimed reports whether key is claimed in set
func (d *ConflictDetector) Claimed(set, key string) bool {
	_, ok := d.sets[set][key]
	return ok
}

// Disjoint returns an ErrConflict error when a key appears in both lists
func Disjoint(aName string, a []string, bName string, b []string) error {
	seen := make(map[string]struct{}, len(a))
	for _, k := range a {
		seen[k] = struct{}{}
	}
	for _, k := range b {
		if _, ok := seen[k]; ok {
			return Reject(
				ErrConflict,
				"%s listed in both %s and %s",
				k,
				aName,
				bName,
			)
		}
	}
	return nil
}
