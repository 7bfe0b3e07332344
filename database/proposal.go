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

func (d *Database) GetProposal(txHash []byte, txn *Txn) (*models.Proposal, error) {
	ret, err := d.metadata.GetProposal(txHash, txn.Metadata())
	if err != nil {
		return nil, err
	}
	if ret == nil {
		return nil, models.ErrProposalNotFound
	}
	return ret, nil
}

// GetProposalsByTarget returns proposals of the given type and status that
// target an address
func (d *Database) GetProposalsByTarget(
	target string,
	proposalType uint8,
	status models.ProposalStatus,
	txn *Txn,
) ([]models.Proposal, error) {
	return d.metadata.GetProposalsByTarget(
		target,
		proposalType,
		status,
		txn.Metadata(),
	)
}

func (d *Database) AddProposal(proposal *models.Proposal, txn *Txn) error {
	return d.metadata.AddProposal(proposal, txn.Metadata())
}

func (d *Database) UpdateProposal(proposal *models.Proposal, txn *Txn) error {
	return d.metadata.UpdateProposal(proposal, txn.Metadata())
}

func (d *Database) DeleteProposal(txHash []byte, txn *Txn) error {
	return d.metadata.DeleteProposal(txHash, txn.Metadata())
}

func (d *Database) GetProposalVote(
	proposalTxHash []byte,
	voter string,
	txn *Txn,
) (*models.ProposalVote, error) {
	ret, err := d.metadata.GetProposalVote(proposalTxHash, voter, txn.Metadata())
	if err != nil {
		return nil, err
	}
	if ret == nil {
		return nil, models.ErrVoteNotFound
	}
	return ret, nil
}

func (d *Database) AddProposalVote(vote *models.ProposalVote, txn *Txn) error {
	return d.metadata.AddProposalVote(vote, txn.Metadata())
}

func (d *Database) DeleteProposalVote(
	proposalTxHash []byte,
	voter string,
	txn *Txn,
) error {
	return d.metadata.DeleteProposalVote(proposalTxHash, voter, txn.Metadata())
}
