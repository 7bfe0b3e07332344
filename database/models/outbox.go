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

import "time"

// OutboxEntry is a pending external side effect. ID order is enqueue order
// and EntryKey is the natural dedupe key.
type OutboxEntry struct {
	ID              uint   `gorm:"primarykey;autoIncrement"`
	EntryKey        string `gorm:"uniqueIndex;not null"`
	Action          uint8
	TxHash          []byte `gorm:"index;size:32"`
	Height          uint64
	Tx              []byte
	Header          []byte
	SyncStatus      uint8
	IsCurrentMember bool
	CurrentJoin     bool
	CurrentQuit     bool
	ExternalChainID uint16
	ExternalTxHash  string
	Attempts        uint32
	LastError       string
	CreatedAt       time.Time
}

func (OutboxEntry) TableName() string {
	return "outbox_entry"
}

// HandshakeRecord is this node's progress through an external confirmation
// handshake, and the run-once ledger for other external calls
type HandshakeRecord struct {
	ID              uint   `gorm:"primarykey"`
	HandshakeKey    string `gorm:"uniqueIndex;not null"`
	ExternalChainID uint16
	ExternalTxHash  string
	LocalKey        string
	Height          uint64
	State           uint8
	UpdatedAt       time.Time
}

func (HandshakeRecord) TableName() string {
	return "handshake_record"
}
