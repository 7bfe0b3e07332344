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

// DepositData stakes an amount of a configured asset
type DepositData struct {
	_       struct{} `cbor:",toarray"`
	Address string
	Asset   AssetRef
	Amount  uint64
}

// CancelDepositData withdraws a previous deposit
type CancelDepositData struct {
	_             struct{} `cbor:",toarray"`
	Address       string
	DepositTxHash Hash
}

// ChangeVirtualBankData adds and removes committee members. Candidate
// ranking is evaluated at EffectiveHeight.
type ChangeVirtualBankData struct {
	_               struct{} `cbor:",toarray"`
	InAgents        []string
	OutAgents       []string
	EffectiveHeight uint64
}

// ExternalTx references a transaction on an external chain
type ExternalTx struct {
	_       struct{} `cbor:",toarray"`
	ChainID uint16
	TxHash  string
}

// ConfirmChangeVirtualBankData attests that a committee change was carried
// out on the external chains
type ConfirmChangeVirtualBankData struct {
	_            struct{} `cbor:",toarray"`
	ChangeTxHash Hash
	ExternalTxs  []ExternalTx
}

// InitializeHeterogeneousData enables an external chain for the committee
type InitializeHeterogeneousData struct {
	_               struct{} `cbor:",toarray"`
	ExternalChainID uint16
}

// WithdrawalData requests a transfer out to an external chain address
type WithdrawalData struct {
	_               struct{} `cbor:",toarray"`
	From            string
	ExternalChainID uint16
	ExternalAddress string
	Asset           AssetRef
	Amount          uint64
}

// ConfirmWithdrawalData attests that a withdrawal was paid out externally
type ConfirmWithdrawalData struct {
	_                struct{} `cbor:",toarray"`
	WithdrawalTxHash Hash
	ExternalChainID  uint16
	ExternalTxHash   string
	ExternalHeight   uint64
}

// RechargeData credits an inbound transfer observed on an external chain
type RechargeData struct {
	_               struct{} `cbor:",toarray"`
	ExternalChainID uint16
	ExternalTxHash  string
	To              string
	Asset           AssetRef
	Amount          uint64
}

// ProposalData opens a committee vote
type ProposalData struct {
	_               struct{} `cbor:",toarray"`
	Type            ProposalType
	Proposer        string
	TargetAddress   string
	ExternalChainID uint16
	ExternalTxHash  string
	Content         string
}

// VoteProposalData is a committee member's vote. Voter is the member's
// packing address.
type VoteProposalData struct {
	_              struct{} `cbor:",toarray"`
	ProposalTxHash Hash
	Voter          string
	Choice         VoteChoice
}

// ConfirmProposalData attests that an adopted proposal was executed
type ConfirmProposalData struct {
	_               struct{} `cbor:",toarray"`
	ProposalTxHash  Hash
	ExternalChainID uint16
	ExternalTxHash  string
}
