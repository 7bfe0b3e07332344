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

// GetTip returns the last applied block, or models.ErrTipNotFound before the
// first block
func (d *Database) GetTip(txn *Txn) (*models.Tip, error) {
	tip, err := d.metadata.GetTip(txn.Metadata())
	if err != nil {
		return nil, err
	}
	if tip == nil {
		return nil, models.ErrTipNotFound
	}
	return tip, nil
}

// SetTip saves the current tip
func (d *Database) SetTip(tip *models.Tip, txn *Txn) error {
	return d.metadata.SetTip(tip, txn.Metadata())
}
