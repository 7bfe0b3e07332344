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

// ConfirmationRecord is the write-once proof that an external action was
// confirmed on chain
type ConfirmationRecord struct {
	ID              uint   `gorm:"primarykey"`
	RecordKey       string `gorm:"uniqueIndex;not null"`
	Kind            uint16
	ExternalChainID uint16
	ExternalTxHash  string
	SourceTxHash    []byte
	ConfirmTxHash   []byte `gorm:"index;size:32"`
	Height          uint64 `gorm:"index"`
}

func (ConfirmationRecord) TableName() string {
	return "confirmation_record"
}
