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

package committee

import (
	"maps"
	"slices"

	"github.com/blinklabs-io/vbank/database/models"
)

// Member is a committee ("virtual bank") member. HeterogeneousAddresses maps
// an external chain ID to the member's address on that chain.
type Member struct {
	AgentAddress           string
	PackingAddress         string
	RewardAddress          string
	SignPublicKey          []byte
	JoinTxHash             []byte
	HeterogeneousAddresses map[uint16]string
	JoinHeight             uint64
	Position               uint64
	IsSeed                 bool
}

func (m Member) clone() Member {
	ret := m
	ret.SignPublicKey = slices.Clone(m.SignPublicKey)
	ret.JoinTxHash = slices.Clone(m.JoinTxHash)
	ret.HeterogeneousAddresses = maps.Clone(m.HeterogeneousAddresses)
	if ret.HeterogeneousAddresses == nil {
		ret.HeterogeneousAddresses = make(map[uint16]string)
	}
	return ret
}

func (m Member) model() *models.CommitteeMember {
	return &models.CommitteeMember{
		AgentAddress:   m.AgentAddress,
		PackingAddress: m.PackingAddress,
		RewardAddress:  m.RewardAddress,
		SignPublicKey:  m.SignPublicKey,
		IsSeed:         m.IsSeed,
		JoinHeight:     m.JoinHeight,
		JoinTxHash:     m.JoinTxHash,
		Position:       m.Position,
	}
}

func memberFromModel(m models.CommitteeMember) Member {
	return Member{
		AgentAddress:           m.AgentAddress,
		PackingAddress:         m.PackingAddress,
		RewardAddress:          m.RewardAddress,
		SignPublicKey:          m.SignPublicKey,
		IsSeed:                 m.IsSeed,
		JoinHeight:             m.JoinHeight,
		JoinTxHash:             m.JoinTxHash,
		Position:               m.Position,
		HeterogeneousAddresses: make(map[uint16]string),
	}
}

// removedMember is an archived member kept for rollback and for resolving
// membership at earlier heights
type removedMember struct {
	member        Member
	removedHeight uint64
	removedTxHash []byte
}

func removedFromModel(m models.RemovedMember) removedMember {
	return removedMember{
		member: Member{
			AgentAddress:   m.AgentAddress,
			PackingAddress: m.PackingAddress,
			RewardAddress:  m.RewardAddress,
			SignPublicKey:  m.SignPublicKey,
			JoinHeight:     m.JoinHeight,
			JoinTxHash:     m.JoinTxHash,
			Position:       m.Position,
		},
		removedHeight: m.RemovedHeight,
		removedTxHash: m.RemovedTxHash,
	}
}

func (r removedMember) model() *models.RemovedMember {
	return &models.RemovedMember{
		AgentAddress:   r.member.AgentAddress,
		PackingAddress: r.member.PackingAddress,
		RewardAddress:  r.member.RewardAddress,
		SignPublicKey:  r.member.SignPublicKey,
		JoinHeight:     r.member.JoinHeight,
		JoinTxHash:     r.member.JoinTxHash,
		Position:       r.member.Position,
		RemovedHeight:  r.removedHeight,
		RemovedTxHash:  r.removedTxHash,
	}
}
