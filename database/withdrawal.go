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

func (d *Database) GetWithdrawal(
	txHash []byte,
	txn *Txn,
) (*models.Withdrawal, error) {
	ret, err := d.metadata.GetWithdrawal(txHash, txn.Metadata())
	if err != nil {
		return nil, err
	}
	if ret == nil {
		return nil, models.ErrWithdrawalNotFound
	}
	return ret, nil
}

func (d *Database) AddWithdrawal(withdrawal *models.Withdrawal, txn *Txn) error {
	return d.metadata.AddWithdrawal(withdrawal, txn.Metadata())
}

func (d *Database) DeleteWithdrawal(txHash []byte, txn *Txn) error {
	return d.metadata.DeleteWithdrawal(txHash, txn.Metadata())
}
