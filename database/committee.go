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

// GetCommitteeMembers returns the current committee members in join order
func (d *Database) GetCommitteeMembers(
	txn *Txn,
) ([]models.CommitteeMember, error) {
	return d.metadata.GetCommitteeMembers(txn.Metadata())
}

func (d *Database) AddCommitteeMember(
	member *models.CommitteeMember,
	txn *Txn,
) error {
	return d.metadata.AddCommitteeMember(member, txn.Metadata())
}

func (d *Database) DeleteCommitteeMember(agentAddress string, txn *Txn) error {
	return d.metadata.DeleteCommitteeMember(agentAddress, txn.Metadata())
}

func (d *Database) GetRemovedMembers(txn *Txn) ([]models.RemovedMember, error) {
	return d.metadata.GetRemovedMembers(txn.Metadata())
}

// GetRemovedMember returns the archived member removed by removedTxHash
func (d *Database) GetRemovedMember(
	agentAddress string,
	removedTxHash []byte,
	txn *Txn,
) (*models.RemovedMember, error) {
	ret, err := d.metadata.GetRemovedMember(
		agentAddress,
		removedTxHash,
		txn.Metadata(),
	)
	if err != nil {
		return nil, err
	}
	if ret == nil {
		return nil, models.ErrMemberNotFound
	}
	return ret, nil
}

func (d *Database) AddRemovedMember(
	member *models.RemovedMember,
	txn *Txn,
) error {
	return d.metadata.AddRemovedMember(member, txn.Metadata())
}

func (d *Database) DeleteRemovedMember(
	agentAddress string,
	removedTxHash []byte,
	txn *Txn,
) error {
	return d.metadata.DeleteRemovedMember(
		agentAddress,
		removedTxHash,
		txn.Metadata(),
	)
}

func (d *Database) GetHeterogeneousAddresses(
	packingAddress string,
	txn *Txn,
) ([]models.HeterogeneousAddress, error) {
	return d.metadata.GetHeterogeneousAddresses(packingAddress, txn.Metadata())
}

func (d *Database) SetHeterogeneousAddress(
	addr *models.HeterogeneousAddress,
	txn *Txn,
) error {
	return d.metadata.SetHeterogeneousAddress(addr, txn.Metadata())
}

func (d *Database) DeleteHeterogeneousAddress(
	packingAddress string,
	externalChainID uint16,
	txn *Txn,
) error {
	return d.metadata.DeleteHeterogeneousAddress(
		packingAddress,
		externalChainID,
		txn.Metadata(),
	)
}

func (d *Database) GetExternalChain(
	chainID uint16,
	txn *Txn,
) (*models.ExternalChain, error) {
	ret, err := d.metadata.GetExternalChain(chainID, txn.Metadata())
	if err != nil {
		return nil, err
	}
	if ret == nil {
		return nil, models.ErrExternalChainNotFound
	}
	return ret, nil
}

func (d *Database) GetExternalChains(txn *Txn) ([]models.ExternalChain, error) {
	return d.metadata.GetExternalChains(txn.Metadata())
}

func (d *Database) AddExternalChain(chain *models.ExternalChain, txn *Txn) error {
	return d.metadata.AddExternalChain(chain, txn.Metadata())
}

func (d *Database) DeleteExternalChain(chainID uint16, txn *Txn) error {
	return d.metadata.DeleteExternalChain(chainID, txn.Metadata())
}
