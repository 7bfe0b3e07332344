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

package processors

import (
	"bytes"
	"encoding/hex"
	"errors"

	"github.com/blinklabs-io/vbank/committee"
	"github.com/blinklabs-io/vbank/database"
	"github.com/blinklabs-io/vbank/database/models"
	"github.com/blinklabs-io/vbank/ledger"
	"github.com/blinklabs-io/vbank/txs"
)

// Proposal opens a committee vote
type Proposal struct{}

func (p *Proposal) Kind() txs.Kind { return txs.KindProposal }

func (p *Proposal) Priority() int { return PriorityProposal }

func (p *Proposal) Validate(
	cs *ledger.ChainState,
	batch []*txs.Transaction,
	_ map[txs.Kind][]*txs.Transaction,
	header *txs.BlockHeader,
) ledger.ValidationResult {
	conflicts := ledger.NewConflictDetector()
	return ledger.ValidateEach(cs, batch, func(tx *txs.Transaction) error {
		if err := ledger.CheckTime(cs.Config().TimeSkew, tx, header); err != nil {
			return err
		}
		data, err := txs.DecodePayload[txs.ProposalData](tx)
		if err != nil {
			return err
		}
		if !data.Type.Valid() {
			return ledger.Reject(ledger.ErrSerialization, "proposal type %d", data.Type)
		}
		switch data.Type {
		case txs.ProposalTypeExpel:
			m, ok := cs.Committee().Member(data.TargetAddress)
			if !ok {
				return ledger.Reject(ledger.ErrResourceMissing, "member %s", data.TargetAddress)
			}
			if m.IsSeed {
				return ledger.Reject(ledger.ErrNotEligible, "%s is a seed", data.TargetAddress)
			}
		case txs.ProposalTypeRefund:
			if _, err := adapter(cs, data.ExternalChainID); err != nil {
				return err
			}
			if data.ExternalTxHash == "" {
				return ledger.Reject(ledger.ErrSerialization, "refund without external transaction")
			}
		}
		if err := checkOwner(cs, tx, data.Proposer); err != nil {
			return err
		}
		if _, err := getProposal(cs, tx.Hash(), nil); err == nil {
			return ledger.Reject(ledger.ErrConflict, "proposal %s already recorded", tx.Hash())
		} else if !errors.Is(err, ledger.ErrResourceMissing) {
			return err
		}
		return claimTx(conflicts, tx)
	})
}

func (p *Proposal) Commit(
	cs *ledger.ChainState,
	batch []*txs.Transaction,
	header txs.BlockHeader,
	_ txs.SyncStatus,
	txn *database.Txn,
) (*ledger.Saga, error) {
	return ledger.CommitEach(batch, txn, func(tx *txs.Transaction, saga *ledger.Saga) error {
		data, err := txs.DecodePayload[txs.ProposalData](tx)
		if err != nil {
			return err
		}
		return saga.Apply(txn, addProposalEffect(cs, models.Proposal{
			TxHash:          tx.Hash().Bytes(),
			Type:            uint8(data.Type),
			Proposer:        data.Proposer,
			TargetAddress:   data.TargetAddress,
			ExternalChainID: data.ExternalChainID,
			ExternalTxHash:  data.ExternalTxHash,
			Content:         data.Content,
			Height:          header.Height,
			VoteEndHeight:   header.Height + cs.Config().ProposalVotingPeriod,
			Status:          models.ProposalStatusVoting,
		}))
	})
}

func (p *Proposal) Rollback(
	cs *ledger.ChainState,
	batch []*txs.Transaction,
	_ txs.BlockHeader,
	txn *database.Txn,
) (*ledger.Saga, error) {
	return ledger.RollbackEach(batch, txn, func(tx *txs.Transaction, saga *ledger.Saga) error {
		prop, err := getProposal(cs, tx.Hash(), txn)
		if err != nil {
			return err
		}
		prev := *prop
		prev.ID = 0
		return saga.Apply(txn, invertEffect(addProposalEffect(cs, prev)))
	})
}

func getProposal(cs *ledger.ChainState, hash txs.Hash, txn *database.Txn) (*models.Proposal, error) {
	prop, err := cs.DB().GetProposal(hash.Bytes(), txn)
	if err != nil {
		if errors.Is(err, models.ErrProposalNotFound) {
			return nil, ledger.Reject(ledger.ErrResourceMissing, "proposal %s", hash)
		}
		return nil, ledger.Storage(err)
	}
	return prop, nil
}

func addProposalEffect(cs *ledger.ChainState, prop models.Proposal) ledger.Effect {
	return ledger.Effect{
		Name: "proposal:" + hex.EncodeToString(prop.TxHash),
		Apply: func(txn *database.Txn) error {
			p := prop
			return ledger.Storage(cs.DB().AddProposal(&p, txn))
		},
		Revert: func(txn *database.Txn) error {
			return ledger.Storage(cs.DB().DeleteProposal(prop.TxHash, txn))
		},
	}
}

func updateProposalEffect(cs *ledger.ChainState, from, to models.Proposal) ledger.Effect {
	return ledger.Effect{
		Name: "proposal-tally:" + hex.EncodeToString(to.TxHash),
		Apply: func(txn *database.Txn) error {
			p := to
			return ledger.Storage(cs.DB().UpdateProposal(&p, txn))
		},
		Revert: func(txn *database.Txn) error {
			p := from
			return ledger.Storage(cs.DB().UpdateProposal(&p, txn))
		},
	}
}

// VoteProposal casts a committee member's vote. A proposal is adopted once
// more than two thirds of the committee vote in favor and rejected once a
// third or more vote against.
type VoteProposal struct{}

func (p *VoteProposal) Kind() txs.Kind { return txs.KindVoteProposal }

func (p *VoteProposal) Priority() int { return PriorityVoteProposal }

func (p *VoteProposal) Validate(
	cs *ledger.ChainState,
	batch []*txs.Transaction,
	_ map[txs.Kind][]*txs.Transaction,
	header *txs.BlockHeader,
) ledger.ValidationResult {
	conflicts := ledger.NewConflictDetector()
	return ledger.ValidateEach(cs, batch, func(tx *txs.Transaction) error {
		if err := ledger.CheckTime(cs.Config().TimeSkew, tx, header); err != nil {
			return err
		}
		data, err := txs.DecodePayload[txs.VoteProposalData](tx)
		if err != nil {
			return err
		}
		if !data.Choice.Valid() {
			return ledger.Reject(ledger.ErrSerialization, "vote choice %d", data.Choice)
		}
		prop, err := getProposal(cs, data.ProposalTxHash, nil)
		if err != nil {
			return err
		}
		if prop.Status != models.ProposalStatusVoting {
			return ledger.Reject(
				ledger.ErrResourceTerminal,
				"proposal %s is %s",
				data.ProposalTxHash,
				prop.Status,
			)
		}
		if header != nil && header.Height > prop.VoteEndHeight {
			return ledger.Reject(
				ledger.ErrResourceTerminal,
				"voting on %s ended at %d",
				data.ProposalTxHash,
				prop.VoteEndHeight,
			)
		}
		if !cs.Quorum().SnapshotFor(header).ContainsPacking(data.Voter) {
			return ledger.Reject(ledger.ErrNotEligible, "%s is not a committee member", data.Voter)
		}
		if err := checkOwner(cs, tx, data.Voter); err != nil {
			return err
		}
		_, err = cs.DB().GetProposalVote(data.ProposalTxHash.Bytes(), data.Voter, nil)
		switch {
		case err == nil:
			return ledger.Reject(
				ledger.ErrResourceTerminal,
				"%s already voted on %s",
				data.Voter,
				data.ProposalTxHash,
			)
		case !errors.Is(err, models.ErrVoteNotFound):
			return ledger.Storage(err)
		}
		return conflicts.Claim(tx, ledger.Claim{
			Set: "vote",
			Key: data.ProposalTxHash.String() + ":" + data.Voter,
		})
	})
}

func (p *VoteProposal) Commit(
	cs *ledger.ChainState,
	batch []*txs.Transaction,
	header txs.BlockHeader,
	_ txs.SyncStatus,
	txn *database.Txn,
) (*ledger.Saga, error) {
	size := cs.Quorum().SnapshotFor(&header).Size()
	return ledger.CommitEach(batch, txn, func(tx *txs.Transaction, saga *ledger.Saga) error {
		data, err := txs.DecodePayload[txs.VoteProposalData](tx)
		if err != nil {
			return err
		}
		prop, err := getProposal(cs, data.ProposalTxHash, txn)
		if err != nil {
			return err
		}
		vote := models.ProposalVote{
			ProposalTxHash: data.ProposalTxHash.Bytes(),
			Voter:          data.Voter,
			Choice:         uint8(data.Choice),
			TxHash:         tx.Hash().Bytes(),
			Height:         header.Height,
			Counted:        prop.Status == models.ProposalStatusVoting && header.Height <= prop.VoteEndHeight,
		}
		if err := saga.Apply(txn, addVoteEffect(cs, vote)); err != nil {
			return err
		}
		if !vote.Counted {
			return nil
		}
		next := tally(*prop, data.Choice, size, tx.Hash())
		return saga.Apply(txn, updateProposalEffect(cs, *prop, next))
	})
}

// tally counts one vote against a committee of size n
func tally(prop models.Proposal, choice txs.VoteChoice, n int, voteTxHash txs.Hash) models.Proposal {
	if choice == txs.VoteFavor {
		prop.Favor++
	} else {
		prop.Against++
	}
	switch {
	case 3*int(prop.Favor) > 2*n:
		prop.Status = models.ProposalStatusAdopted
	case 3*int(prop.Against) >= n:
		prop.Status = models.ProposalStatusRejected
	default:
		return prop
	}
	prop.StatusTxHash = voteTxHash.Bytes()
	return prop
}

func (p *VoteProposal) Rollback(
	cs *ledger.ChainState,
	batch []*txs.Transaction,
	_ txs.BlockHeader,
	txn *database.Txn,
) (*ledger.Saga, error) {
	return ledger.RollbackEach(batch, txn, func(tx *txs.Transaction, saga *ledger.Saga) error {
		data, err := txs.DecodePayload[txs.VoteProposalData](tx)
		if err != nil {
			return err
		}
		vote, err := cs.DB().GetProposalVote(data.ProposalTxHash.Bytes(), data.Voter, txn)
		if err != nil {
			if errors.Is(err, models.ErrVoteNotFound) {
				return ledger.Reject(ledger.ErrResourceMissing, "vote by %s on %s", data.Voter, data.ProposalTxHash)
			}
			return ledger.Storage(err)
		}
		if vote.Counted {
			prop, err := getProposal(cs, data.ProposalTxHash, txn)
			if err != nil {
				return err
			}
			prev := *prop
			if txs.VoteChoice(vote.Choice) == txs.VoteFavor {
				prev.Favor--
			} else {
				prev.Against--
			}
			if bytes.Equal(prop.StatusTxHash, tx.Hash().Bytes()) {
				prev.Status = models.ProposalStatusVoting
				prev.StatusTxHash = nil
			}
			if err := saga.Apply(txn, updateProposalEffect(cs, *prop, prev)); err != nil {
				return err
			}
		}
		prevVote := *vote
		prevVote.ID = 0
		return saga.Apply(txn, invertEffect(addVoteEffect(cs, prevVote)))
	})
}

func addVoteEffect(cs *ledger.ChainState, vote models.ProposalVote) ledger.Effect {
	return ledger.Effect{
		Name: "vote:" + vote.Voter,
		Apply: func(txn *database.Txn) error {
			v := vote
			return ledger.Storage(cs.DB().AddProposalVote(&v, txn))
		},
		Revert: func(txn *database.Txn) error {
			return ledger.Storage(cs.DB().DeleteProposalVote(vote.ProposalTxHash, vote.Voter, txn))
		},
	}
}

// ConfirmProposal records that an adopted proposal was executed. Refunds
// are confirmed with the external chain through the outbox.
type ConfirmProposal struct{}

func (p *ConfirmProposal) Kind() txs.Kind { return txs.KindConfirmProposal }

func (p *ConfirmProposal) Priority() int { return PriorityConfirmProposal }

func (p *ConfirmProposal) Validate(
	cs *ledger.ChainState,
	batch []*txs.Transaction,
	_ map[txs.Kind][]*txs.Transaction,
	header *txs.BlockHeader,
) ledger.ValidationResult {
	conflicts := ledger.NewConflictDetector()
	return ledger.ValidateEach(cs, batch, func(tx *txs.Transaction) error {
		data, err := txs.DecodePayload[txs.ConfirmProposalData](tx)
		if err != nil {
			return err
		}
		prop, err := getProposal(cs, data.ProposalTxHash, nil)
		if err != nil {
			return err
		}
		switch prop.Status {
		case models.ProposalStatusAdopted:
		case models.ProposalStatusRejected:
			return ledger.Reject(ledger.ErrResourceTerminal, "proposal %s was rejected", data.ProposalTxHash)
		default:
			return ledger.Reject(ledger.ErrNotEligible, "proposal %s is still %s", data.ProposalTxHash, prop.Status)
		}
		if refundExternal(prop, data) {
			if _, err := adapter(cs, data.ExternalChainID); err != nil {
				return err
			}
		}
		if err := checkUnconfirmed(cs, ProposalRecordKey(data.ProposalTxHash), nil); err != nil {
			return err
		}
		if err := checkQuorum(cs, tx, committee.SignerSetFullCommittee, header); err != nil {
			return err
		}
		return conflicts.Claim(tx, ledger.Claim{Set: "proposal", Key: data.ProposalTxHash.String()})
	})
}

// refundExternal reports whether confirming prop needs the external handshake
func refundExternal(prop *models.Proposal, data *txs.ConfirmProposalData) bool {
	return txs.ProposalType(prop.Type) == txs.ProposalTypeRefund && data.ExternalTxHash != ""
}

func (p *ConfirmProposal) Commit(
	cs *ledger.ChainState,
	batch []*txs.Transaction,
	header txs.BlockHeader,
	syncStatus txs.SyncStatus,
	txn *database.Txn,
) (*ledger.Saga, error) {
	return ledger.CommitEach(batch, txn, func(tx *txs.Transaction, saga *ledger.Saga) error {
		data, err := txs.DecodePayload[txs.ConfirmProposalData](tx)
		if err != nil {
			return err
		}
		prop, err := getProposal(cs, data.ProposalTxHash, txn)
		if err != nil {
			return err
		}
		err = addRecord(cs, saga, txn, models.ConfirmationRecord{
			RecordKey:       ProposalRecordKey(data.ProposalTxHash),
			Kind:            uint16(txs.KindConfirmProposal),
			ExternalChainID: data.ExternalChainID,
			ExternalTxHash:  data.ExternalTxHash,
			SourceTxHash:    data.ProposalTxHash.Bytes(),
			ConfirmTxHash:   tx.Hash().Bytes(),
			Height:          header.Height,
		})
		if err != nil || !refundExternal(prop, data) {
			return err
		}
		return enqueueConfirm(cs, saga, txn, tx, header, syncStatus, data.ExternalChainID, data.ExternalTxHash)
	})
}

func (p *ConfirmProposal) Rollback(
	cs *ledger.ChainState,
	batch []*txs.Transaction,
	header txs.BlockHeader,
	txn *database.Txn,
) (*ledger.Saga, error) {
	return ledger.RollbackEach(batch, txn, func(tx *txs.Transaction, saga *ledger.Saga) error {
		data, err := txs.DecodePayload[txs.ConfirmProposalData](tx)
		if err != nil {
			return err
		}
		prop, err := getProposal(cs, data.ProposalTxHash, txn)
		if err != nil {
			return err
		}
		if refundExternal(prop, data) {
			if err := retractConfirm(cs, saga, txn, tx, header, data.ExternalChainID, data.ExternalTxHash); err != nil {
				return err
			}
		}
		return deleteRecord(cs, saga, txn, ProposalRecordKey(data.ProposalTxHash))
	})
}
