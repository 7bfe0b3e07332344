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

package txs

import "strconv"

// Kind identifies a transaction type
type Kind uint16

const (
	KindDeposit                  Kind = 1
	KindCancelDeposit            Kind = 2
	KindChangeVirtualBank        Kind = 3
	KindConfirmChangeVirtualBank Kind = 4
	KindInitializeHeterogeneous  Kind = 5
	KindWithdrawal               Kind = 6
	KindConfirmWithdrawal        Kind = 7
	KindRecharge                 Kind = 8
	KindProposal                 Kind = 9
	KindVoteProposal             Kind = 10
	KindConfirmProposal          Kind = 11
)

var kindNames = map[Kind]string{
	KindDeposit:                  "Deposit",
	KindCancelDeposit:            "CancelDeposit",
	KindChangeVirtualBank:        "ChangeVirtualBank",
	KindConfirmChangeVirtualBank: "ConfirmChangeVirtualBank",
	KindInitializeHeterogeneous:  "InitializeHeterogeneous",
	KindWithdrawal:               "Withdrawal",
	KindConfirmWithdrawal:        "ConfirmWithdrawal",
	KindRecharge:                 "Recharge",
	KindProposal:                 "Proposal",
	KindVoteProposal:             "VoteProposal",
	KindConfirmProposal:          "ConfirmProposal",
}

func (k Kind) String() string {
	if name, ok := kindNames[k]; ok {
		return name
	}
	return "Kind(" + strconv.Itoa(int(k)) + ")"
}

// SyncStatus tells processors whether a block is being replayed from history
// or applied live at the chain tip
type SyncStatus uint8

const (
	SyncStatusReplay SyncStatus = 0
	SyncStatusLive   SyncStatus = 1
)

func (s SyncStatus) String() string {
	if s == SyncStatusLive {
		return "live"
	}
	return "replay"
}

// ProposalType is the subject of a governance proposal
type ProposalType uint8

const (
	ProposalTypeExpel   ProposalType = 1
	ProposalTypeRefund  ProposalType = 2
	ProposalTypeUpgrade ProposalType = 3
	ProposalTypeOther   ProposalType = 4
)

// Valid reports whether t is a known proposal type
func (t ProposalType) Valid() bool {
	return t >= ProposalTypeExpel && t <= ProposalTypeOther
}

// VoteChoice is a committee member's position on a proposal
type VoteChoice uint8

const (
	VoteFavor   VoteChoice = 1
	VoteAgainst VoteChoice = 2
)

func (c VoteChoice) Valid() bool {
	return c == VoteFavor || c == VoteAgainst
}
