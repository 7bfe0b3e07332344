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

package models

// DepositActive is the DelHeight of a deposit that has not been cancelled
const DepositActive int64 = -1

// Deposit is a staked amount. DelHeight is the height of the cancelling
// block, or DepositActive.
type Deposit struct {
	ID           uint   `gorm:"primarykey"`
	TxHash       []byte `gorm:"uniqueIndex;size:32;not null"`
	Address      string `gorm:"index;not null"`
	AssetChainID uint16
	AssetID      uint16
	Amount       uint64
	Time         int64
	BlockHeight  uint64 `gorm:"index"`
	DelHeight    int64  `gorm:"index;not null"`
}

func (Deposit) TableName() string {
	return "deposit"
}

func (d *Deposit) Active() bool {
	return d.DelHeight == DepositActive
}

// AssetLimit tracks the total amount staked in one asset
type AssetLimit struct {
	ID           uint   `gorm:"primarykey"`
	AssetChainID uint16 `gorm:"uniqueIndex:idx_asset_limit_asset"`
	AssetID      uint16 `gorm:"uniqueIndex:idx_asset_limit_asset"`
	Staked       uint64
}

func (AssetLimit) TableName() string {
	return "asset_limit"
}
