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

package sqlite

import (
	"errors"

	"gorm.io/gorm"

	"github.com/blinklabs-io/vbank/database/models"
	"github.com/blinklabs-io/vbank/database/types"
)

func (d *MetadataStoreSqlite) GetProposal(
	txHash []byte,
	txn types.Txn,
) (*models.Proposal, error) {
	db, err := d.resolveDB(txn)
	if err != nil {
		return nil, err
	}
	var ret models.Proposal
	if result := db.Where("tx_hash = ?", txHash).First(&ret); result.Error != nil {
		if errors.Is(result.Error, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, result.Error
	}
	return &ret, nil
}

// GetProposalsByTarget returns proposals of a type and status aimed at an address
func (d *MetadataStoreSqlite) GetProposalsByTarget(
	target string,
	proposalType uint8,
	status models.ProposalStatus,
	txn types.Txn,
) ([]models.Proposal, error) {
	db, err := d.resolveDB(txn)
	if err != nil {
		return nil, err
	}
	var ret []models.Proposal
	result := db.Where(
		"target_address = ? AND type = ? AND status = ?",
		target,
		proposalType,
		status,
	).Order("id").Find(&ret)
	if result.Error != nil {
		return nil, result.Error
	}
	return ret, nil
}

func (d *MetadataStoreSqlite) AddProposal(
	proposal *models.Proposal,
	txn types.Txn,
) error {
	db, err := d.resolveDB(txn)
	if err != nil {
		return err
	}
	return wrapCreateErr(db.Create(proposal).Error)
}

// UpdateProposal saves the tally and status of an existing proposal
func (d *MetadataStoreSqlite) UpdateProposal(
	proposal *models.Proposal,
	txn types.Txn,
) error {
	db, err := d.resolveDB(txn)
	if err != nil {
		return err
	}
	result := db.Model(&models.Proposal{}).
		Where("tx_hash = ?", proposal.TxHash).
		Updates(map[string]any{
			"favor":          proposal.Favor,
			"against":        proposal.Against,
			"status":         proposal.Status,
			"status_tx_hash": proposal.StatusTxHash,
		})
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return models.ErrProposalNotFound
	}
	return nil
}

func (d *MetadataStoreSqlite) DeleteProposal(
	txHash []byte,
	txn types.Txn,
) error {
	db, err := d.resolveDB(txn)
	if err != nil {
		return err
	}
	return db.Where("tx_hash = ?", txHash).Delete(&models.Proposal{}).Error
}

func (d *MetadataStoreSqlite) GetProposalVote(
	proposalTxHash []byte,
	voter string,
	txn types.Txn,
) (*models.ProposalVote, error) {
	db, err := d.resolveDB(txn)
	if err != nil {
		return nil, err
	}
	var ret models.ProposalVote
	result := db.Where(
		"proposal_tx_hash = ? AND voter = ?",
		proposalTxHash,
		voter,
	).First(&ret)
	if result.Error != nil {
		if errors.Is(result.Error, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, result.Error
	}
	return &ret, nil
}

func (d *MetadataStoreSqlite) AddProposalVote(
	vote *models.ProposalVote,
	txn types.Txn,
) error {
	db, err := d.resolveDB(txn)
	if err != nil {
		return err
	}
	return wrapCreateErr(db.Create(vote).Error)
}

func (d *MetadataStoreSqlite) DeleteProposalVote(
	proposalTxHash []byte,
	voter string,
	txn types.Txn,
) error {
	db, err := d.resolveDB(txn)
	if err != nil {
		return err
	}
	return db.Where(
		"proposal_tx_hash = ? AND voter = ?",
		proposalTxHash,
		voter,
	).Delete(&models.ProposalVote{}).Error
}
