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

type ProposalStatus uint8

const (
	ProposalStatusVoting   ProposalStatus = 1
	ProposalStatusAdopted  ProposalStatus = 2
	ProposalStatusRejected ProposalStatus = 3
)

func (s ProposalStatus) String() string {
	switch s {
	case ProposalStatusVoting:
		return "voting"
	case ProposalStatusAdopted:
		return "adopted"
	case ProposalStatusRejected:
		return "rejected"
	default:
		return "unknown"
	}
}

// Proposal is a governance proposal. StatusTxHash is the vote that moved the
// proposal out of Voting.
type Proposal struct {
	ID              uint   `gorm:"primarykey"`
	TxHash          []byte `gorm:"uniqueIndex;size:32;not null"`
	Type            uint8  `gorm:"index"`
	Proposer        string
	TargetAddress   string `gorm:"index"`
	ExternalChainID uint16
	ExternalTxHash  string
	Content         string
	Height          uint64
	VoteEndHeight   uint64
	Status          ProposalStatus `gorm:"index"`
	StatusTxHash    []byte
	Favor           uint32
	Against         uint32
}

func (Proposal) TableName() string {
	return "proposal"
}

// ProposalVote is a member's vote on a proposal. Counted is false for a vote
// cast after the proposal closed within the same block.
type ProposalVote struct {
	ID             uint   `gorm:"primarykey"`
	ProposalTxHash []byte `gorm:"uniqueIndex:idx_proposal_vote;size:32;not null"`
	Voter          string `gorm:"uniqueIndex:idx_proposal_vote;not null"`
	Choice         uint8
	TxHash         []byte `gorm:"index;size:32"`
	Height         uint64
	Counted        bool
}

func (ProposalVote) TableName() string {
	return "proposal_vote"
}
