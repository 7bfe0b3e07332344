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

// CommitteeMember is a current member of the virtual bank. Position keeps
// insertion order stable across restarts.
type CommitteeMember struct {
	ID             uint   `gorm:"primarykey"`
	AgentAddress   string `gorm:"uniqueIndex;not null"`
	PackingAddress string `gorm:"uniqueIndex;not null"`
	RewardAddress  string
	SignPublicKey  []byte
	IsSeed         bool
	JoinHeight     uint64 `gorm:"index"`
	JoinTxHash     []byte
	Position       uint64 `gorm:"index"`
}

func (CommitteeMember) TableName() string {
	return "committee_member"
}

// RemovedMember archives a member removed by a committee change so that the
// change can be rolled back exactly and historical membership resolved
type RemovedMember struct {
	ID             uint   `gorm:"primarykey"`
	AgentAddress   string `gorm:"uniqueIndex:idx_removed_member;not null"`
	PackingAddress string `gorm:"index"`
	RewardAddress  string
	SignPublicKey  []byte
	JoinHeight     uint64
	JoinTxHash     []byte
	Position       uint64
	RemovedHeight  uint64 `gorm:"index"`
	RemovedTxHash  []byte `gorm:"uniqueIndex:idx_removed_member;size:32"`
}

func (RemovedMember) TableName() string {
	return "removed_member"
}

// HeterogeneousAddress is a member's address on an external chain
type HeterogeneousAddress struct {
	ID              uint   `gorm:"primarykey"`
	PackingAddress  string `gorm:"uniqueIndex:idx_heterogeneous_address;not null"`
	ExternalChainID uint16 `gorm:"uniqueIndex:idx_heterogeneous_address"`
	Address         string
	AddedHeight     uint64
}

func (HeterogeneousAddress) TableName() string {
	return "heterogeneous_address"
}

// ExternalChain records an external chain initialized for the committee
type ExternalChain struct {
	ID         uint   `gorm:"primarykey"`
	ChainID    uint16 `gorm:"uniqueIndex"`
	InitHeight uint64
	InitTxHash []byte
}

func (ExternalChain) TableName() string {
	return "external_chain"
}
