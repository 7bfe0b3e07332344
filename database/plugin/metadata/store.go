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

package metadata

import (
	"fmt"

	"gorm.io/gorm"

	"github.com/blinklabs-io/vbank/database/models"
	"github.com/blinklabs-io/vbank/database/plugin"
	_ "github.com/blinklabs-io/vbank/database/plugin/metadata/sqlite"
	"github.com/blinklabs-io/vbank/database/types"
)

// MetadataStore is the relational half of the database. Lookups return a
// nil record and nil error when nothing matches.
type MetadataStore interface {
	plugin.Plugin

	// Database
	Close() error
	DB() *gorm.DB
	Transaction() types.Txn

	// Deposits
	GetDeposit([]byte, types.Txn) (*models.Deposit, error)
	GetActiveDeposits(string, types.Txn) ([]models.Deposit, error)
	AddDeposit(*models.Deposit, types.Txn) error
	DeleteDeposit([]byte, types.Txn) error
	SetDepositDelHeight([]byte, int64, types.Txn) error
	GetAssetStaked(uint16, uint16, types.Txn) (uint64, error)
	SetAssetStaked(uint16, uint16, uint64, types.Txn) error

	// Committee
	GetCommitteeMembers(types.Txn) ([]models.CommitteeMember, error)
	AddCommitteeMember(*models.CommitteeMember, types.Txn) error
	DeleteCommitteeMember(string, types.Txn) error
	GetRemovedMembers(types.Txn) ([]models.RemovedMember, error)
	GetRemovedMember(string, []byte, types.Txn) (*models.RemovedMember, error)
	AddRemovedMember(*models.RemovedMember, types.Txn) error
	DeleteRemovedMember(string, []byte, types.Txn) error
	GetHeterogeneousAddresses(string, types.Txn) ([]models.HeterogeneousAddress, error)
	SetHeterogeneousAddress(*models.HeterogeneousAddress, types.Txn) error
	DeleteHeterogeneousAddress(string, uint16, types.Txn) error
	GetExternalChain(uint16, types.Txn) (*models.ExternalChain, error)
	GetExternalChains(types.Txn) ([]models.ExternalChain, error)
	AddExternalChain(*models.ExternalChain, types.Txn) error
	DeleteExternalChain(uint16, types.Txn) error

	// Withdrawals
	GetWithdrawal([]byte, types.Txn) (*models.Withdrawal, error)
	AddWithdrawal(*models.Withdrawal, types.Txn) error
	DeleteWithdrawal([]byte, types.Txn) error

	// Proposals
	GetProposal([]byte, types.Txn) (*models.Proposal, error)
	GetProposalsByTarget(string, uint8, models.ProposalStatus, types.Txn) ([]models.Proposal, error)
	AddProposal(*models.Proposal, types.Txn) error
	UpdateProposal(*models.Proposal, types.Txn) error
	DeleteProposal([]byte, types.Txn) error
	GetProposalVote([]byte, string, types.Txn) (*models.ProposalVote, error)
	AddProposalVote(*models.ProposalVote, types.Txn) error
	DeleteProposalVote([]byte, string, types.Txn) error

	// Confirmations
	GetConfirmationRecord(string, types.Txn) (*models.ConfirmationRecord, error)
	AddConfirmationRecord(*models.ConfirmationRecord, types.Txn) error
	DeleteConfirmationRecord(string, types.Txn) error

	// Outbox
	AddOutboxEntry(*models.OutboxEntry, types.Txn) (bool, error)
	GetOutboxEntry(string, types.Txn) (*models.OutboxEntry, error)
	GetOutboxEntries(int, types.Txn) ([]models.OutboxEntry, error)
	DeleteOutboxEntry(string, types.Txn) error
	UpdateOutboxEntryAttempt(string, uint32, string, types.Txn) error
	CountOutboxEntries(types.Txn) (int64, error)
	GetHandshakeRecord(string, types.Txn) (*models.HandshakeRecord, error)
	SetHandshakeRecord(*models.HandshakeRecord, types.Txn) error

	// Node state
	GetNodeState(string, types.Txn) (string, error)
	SetNodeState(string, string, types.Txn) error
	DeleteNodeState(string, types.Txn) error
	GetTip(types.Txn) (*models.Tip, error)
	SetTip(*models.Tip, types.Txn) error
}

// New returns the started metadata plugin selected by name
func New(pluginName string, opts plugin.Options) (MetadataStore, error) {
	p, err := plugin.StartPlugin(plugin.PluginTypeMetadata, pluginName, opts)
	if err != nil {
		return nil, err
	}
	metadataStore, ok := p.(MetadataStore)
	if !ok {
		return nil, fmt.Errorf(
			"plugin '%s' does not implement MetadataStore interface",
			pluginName,
		)
	}
	return metadataStore, nil
}
