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

// GetDeposit returns the deposit created by txHash. A nil txn reads outside
// any transaction.
func (d *Database) GetDeposit(txHash []byte, txn *Txn) (*models.Deposit, error) {
	ret, err := d.metadata.GetDeposit(txHash, txn.Metadata())
	if err != nil {
		return nil, err
	}
	if ret == nil {
		return nil, models.ErrDepositNotFound
	}
	return ret, nil
}

func (d *Database) GetActiveDeposits(
	addr string,
	txn *Txn,
) ([]models.Deposit, error) {
	return d.metadata.GetActiveDeposits(addr, txn.Metadata())
}

func (d *Database) AddDeposit(deposit *models.Deposit, txn *Txn) error {
	return d.metadata.AddDeposit(deposit, txn.Metadata())
}

func (d *Database) DeleteDeposit(txHash []byte, txn *Txn) error {
	return d.metadata.DeleteDeposit(txHash, txn.Metadata())
}

// SetDepositDelHeight marks a deposit cancelled at delHeight. Passing
// models.DepositActive reactivates it.
func (d *Database) SetDepositDelHeight(
	txHash []byte,
	delHeight int64,
	txn *Txn,
) error {
	return d.metadata.SetDepositDelHeight(txHash, delHeight, txn.Metadata())
}

func (d *Database) GetAssetStaked(
	chainID uint16,
	assetID uint16,
	txn *Txn,
) (uint64, error) {
	return d.metadata.GetAssetStaked(chainID, assetID, txn.Metadata())
}

func (d *Database) SetAssetStaked(
	chainID uint16,
	assetID uint16,
	staked uint64,
	txn *Txn,
) error {
	return d.metadata.SetAssetStaked(chainID, assetID, staked, txn.Metadata())
}
