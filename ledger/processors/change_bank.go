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
	"errors"
	"slices"

	"github.com/blinklabs-io/vbank/committee"
	"github.com/blinklabs-io/vbank/database"
	"github.com/blinklabs-io/vbank/database/models"
	"github.com/blinklabs-io/vbank/event"
	"github.com/blinklabs-io/vbank/ledger"
	"github.com/blinklabs-io/vbank/outbox"
	"github.com/blinklabs-io/vbank/txs"
)

// ChangeVirtualBank moves agents into and out of the committee.
//
// An in-agent must be a ranked non-seed candidate that is not yet a member,
// and the change must keep the non-seed membership within the configured
// cap. An out-agent must be a non-seed member that has dropped out of the
// ranking, unless it is red-carded or an adopted Expel proposal targets it.
type ChangeVirtualBank struct{}

func (p *ChangeVirtualBank) Kind() txs.Kind { return txs.KindChangeVirtualBank }

func (p *ChangeVirtualBank) Priority() int { return PriorityChangeVirtualBank }

func (p *ChangeVirtualBank) Validate(
	cs *ledger.ChainState,
	batch []*txs.Transaction,
	_ map[txs.Kind][]*txs.Transaction,
	header *txs.BlockHeader,
) ledger.ValidationResult {
	conflicts := ledger.NewConflictDetector()
	// Net non-seed membership change of the transactions accepted so far
	var delta int
	return ledger.ValidateEach(cs, batch, func(tx *txs.Transaction) error {
		if err := ledger.CheckTime(cs.Config().TimeSkew, tx, header); err != nil {
			return err
		}
		data, err := txs.DecodePayload[txs.ChangeVirtualBankData](tx)
		if err != nil {
			return err
		}
		if len(data.InAgents) == 0 && len(data.OutAgents) == 0 {
			return ledger.Reject(ledger.ErrSerialization, "change lists no agents")
		}
		if err := ledger.Disjoint("in", data.InAgents, "out", data.OutAgents); err != nil {
			return err
		}
		candidates, err := cs.CandidateList(data.EffectiveHeight)
		if err != nil {
			return ledger.Reject(ledger.ErrInternal, "candidate list: %v", err)
		}
		ranked := p.ranked(cs, candidates)
		for _, agent := range data.InAgents {
			if err := p.checkIn(cs, candidates, ranked, agent); err != nil {
				return err
			}
		}
		for _, agent := range data.OutAgents {
			if err := p.checkOut(cs, candidates, ranked, agent); err != nil {
				return err
			}
		}
		change := len(data.InAgents) - len(data.OutAgents)
		if limit := cs.Config().MaxBankMembers; cs.Committee().NonSeedCount()+delta+change > limit {
			return ledger.Reject(
				ledger.ErrNotEligible,
				"change would grow the committee past %d non-seed members",
				limit,
			)
		}
		claims := make([]ledger.Claim, 0, len(data.InAgents)+len(data.OutAgents))
		for _, agent := range slices.Concat(data.InAgents, data.OutAgents) {
			claims = append(claims, ledger.Claim{Set: "agent", Key: agent})
		}
		if err := conflicts.Claim(tx, claims...); err != nil {
			return err
		}
		if err := checkQuorum(cs, tx, committee.SignerSetFullCommittee, header); err != nil {
			return err
		}
		delta += change
		return nil
	})
}

// ranked returns the agents currently ranked into the committee
func (p *ChangeVirtualBank) ranked(
	cs *ledger.ChainState,
	candidates []committee.CandidateInfo,
) map[string]struct{} {
	top := committee.RankCandidates(
		candidates,
		cs.Committee().SeedAgents(),
		cs.Config().AddressPrefix,
		cs.Config().MaxBankMembers,
	)
	ret := make(map[string]struct{}, len(top))
	for _, c := range top {
		ret[c.AgentAddress] = struct{}{}
	}
	return ret
}

func (p *ChangeVirtualBank) checkIn(
	cs *ledger.ChainState,
	candidates []committee.CandidateInfo,
	ranked map[string]struct{},
	agent string,
) error {
	if _, ok := cs.Committee().SeedAgents()[agent]; ok {
		return ledger.Reject(ledger.ErrNotEligible, "%s is a seed", agent)
	}
	if cs.Committee().IsMember(agent) {
		return ledger.Reject(ledger.ErrNotEligible, "%s is already a member", agent)
	}
	if _, ok := committee.FindCandidate(candidates, agent); !ok {
		return ledger.Reject(ledger.ErrResourceMissing, "candidate %s", agent)
	}
	if _, ok := ranked[agent]; !ok {
		return ledger.Reject(ledger.ErrNotEligible, "%s is not ranked into the committee", agent)
	}
	return nil
}

func (p *ChangeVirtualBank) checkOut(
	cs *ledger.ChainState,
	candidates []committee.CandidateInfo,
	ranked map[string]struct{},
	agent string,
) error {
	m, ok := cs.Committee().Member(agent)
	if !ok {
		return ledger.Reject(ledger.ErrResourceMissing, "member %s", agent)
	}
	if m.IsSeed {
		return ledger.Reject(ledger.ErrNotEligible, "%s is a seed", agent)
	}
	if _, ok := ranked[agent]; !ok {
		return nil
	}
	if c, ok := committee.FindCandidate(candidates, agent); ok && c.RedCarded {
		return nil
	}
	expels, err := cs.DB().GetProposalsByTarget(
		agent,
		uint8(txs.ProposalTypeExpel),
		models.ProposalStatusAdopted,
		nil,
	)
	if err != nil {
		return ledger.Storage(err)
	}
	if len(expels) > 0 {
		return nil
	}
	return ledger.Reject(ledger.ErrNotEligible, "%s is still ranked into the committee", agent)
}

func (p *ChangeVirtualBank) Commit(
	cs *ledger.ChainState,
	batch []*txs.Transaction,
	header txs.BlockHeader,
	syncStatus txs.SyncStatus,
	txn *database.Txn,
) (*ledger.Saga, error) {
	local, err := cs.LocalIdentity()
	if err != nil {
		return nil, ledger.Reject(ledger.ErrInternal, "local identity: %v", err)
	}
	return ledger.CommitEach(batch, txn, func(tx *txs.Transaction, saga *ledger.Saga) error {
		data, err := txs.DecodePayload[txs.ChangeVirtualBankData](tx)
		if err != nil {
			return err
		}
		candidates, err := cs.CandidateList(data.EffectiveHeight)
		if err != nil {
			return ledger.Reject(ledger.ErrInternal, "candidate list: %v", err)
		}
		chains, err := cs.DB().GetExternalChains(txn)
		if err != nil {
			return ledger.Storage(err)
		}
		wasMember := cs.CurrentMember()
		var join, quit bool
		for _, agent := range data.OutAgents {
			m, ok := cs.Committee().Member(agent)
			if !ok {
				return ledger.Reject(ledger.ErrResourceMissing, "member %s", agent)
			}
			if err := saga.Apply(txn, removeMemberEffect(cs, agent, header.Height, tx.Hash().Bytes())); err != nil {
				return err
			}
			if local != nil && m.PackingAddress == local.Address {
				quit = true
			}
		}
		for _, agent := range data.InAgents {
			c, ok := committee.FindCandidate(candidates, agent)
			if !ok {
				return ledger.Reject(ledger.ErrResourceMissing, "candidate %s", agent)
			}
			m, err := p.newMember(cs, c, header.Height, tx.Hash().Bytes(), txn)
			if err != nil {
				return err
			}
			if err := saga.Apply(txn, addMemberEffect(cs, m)); err != nil {
				return err
			}
			for _, chain := range chains {
				ext, err := cs.Adapters().Get(chain.ChainID)
				if err != nil {
					// Addresses for an unsupported chain are derived once an
					// adapter is configured and the chain re-initialized
					continue
				}
				if err := assignAddress(cs, saga, txn, ext, m, header.Height); err != nil {
					return err
				}
			}
			if local != nil && c.PackingAddress == local.Address {
				join = true
			}
		}
		switch {
		case join:
			err = cs.ChangeLocalFlags(saga, txn, tx.Hash(), true, true)
		case quit:
			err = cs.ChangeLocalFlags(saga, txn, tx.Hash(), false, false)
		}
		if err != nil {
			return err
		}
		cs.Emit(event.CommitteeChangedEventType, event.CommitteeChangedEvent{
			ChainID: cs.ChainID(),
			Height:  header.Height,
			In:      data.InAgents,
			Out:     data.OutAgents,
			Size:    cs.Committee().Size(),
		})
		if !cs.ShouldEnqueue(syncStatus, wasMember) {
			return nil
		}
		return cs.Enqueue(saga, txn, outbox.Entry{
			Tx:              tx,
			Key:             outbox.EntryKey(outbox.ActionChangeBank, tx.Hash().String()),
			Header:          header,
			Height:          header.Height,
			Action:          outbox.ActionChangeBank,
			SyncStatus:      syncStatus,
			IsCurrentMember: cs.CurrentMember(),
			CurrentJoin:     join,
			CurrentQuit:     quit,
		})
	})
}

// newMember builds the member record for a joining candidate. Addresses kept
// from an earlier membership are carried so their rows survive a rollback.
func (p *ChangeVirtualBank) newMember(
	cs *ledger.ChainState,
	c committee.CandidateInfo,
	height uint64,
	txHash []byte,
	txn *database.Txn,
) (committee.Member, error) {
	m := committee.Member{
		AgentAddress:           c.AgentAddress,
		PackingAddress:         c.PackingAddress,
		RewardAddress:          c.RewardAddress,
		SignPublicKey:          c.SignPublicKey,
		JoinTxHash:             txHash,
		JoinHeight:             height,
		HeterogeneousAddresses: make(map[uint16]string),
	}
	addrs, err := cs.DB().GetHeterogeneousAddresses(c.PackingAddress, txn)
	if err != nil {
		return m, ledger.Storage(err)
	}
	for _, a := range addrs {
		m.HeterogeneousAddresses[a.ExternalChainID] = a.Address
	}
	return m, nil
}

func (p *ChangeVirtualBank) Rollback(
	cs *ledger.ChainState,
	batch []*txs.Transaction,
	header txs.BlockHeader,
	txn *database.Txn,
) (*ledger.Saga, error) {
	return ledger.RollbackEach(batch, txn, func(tx *txs.Transaction, saga *ledger.Saga) error {
		data, err := txs.DecodePayload[txs.ChangeVirtualBankData](tx)
		if err != nil {
			return err
		}
		key := outbox.EntryKey(outbox.ActionChangeBank, tx.Hash().String())
		removed, err := cs.Dequeue(saga, txn, key)
		if err != nil {
			return err
		}
		if !removed && cs.ShouldEnqueue(txs.SyncStatusLive, false) {
			cs.Logger().Warn(
				"rolled back committee change may already be applied externally",
				"component", "ledger",
				"tx", tx.Hash().String(),
			)
		}
		for _, agent := range slices.Backward(data.InAgents) {
			m, ok := cs.Committee().Member(agent)
			if !ok || !slices.Equal(m.JoinTxHash, tx.Hash().Bytes()) {
				return ledger.Reject(ledger.ErrResourceMissing, "member %s added by %s", agent, tx.Hash())
			}
			// Rows from an archived membership are rederived identically and kept
			if !cs.Committee().Archived(agent) {
				for chainID := range m.HeterogeneousAddresses {
					if err := clearAddress(cs, saga, txn, m, chainID); err != nil {
						return err
					}
				}
			}
			if err := saga.Apply(txn, invertEffect(addMemberEffect(cs, m))); err != nil {
				return err
			}
		}
		for _, agent := range slices.Backward(data.OutAgents) {
			err := saga.Apply(
				txn,
				invertEffect(removeMemberEffect(cs, agent, header.Height, tx.Hash().Bytes())),
			)
			if err != nil {
				return err
			}
		}
		if err := cs.RestoreLocalFlags(saga, txn, tx.Hash()); err != nil {
			return err
		}
		cs.Emit(event.CommitteeChangedEventType, event.CommitteeChangedEvent{
			ChainID:  cs.ChainID(),
			Height:   header.Height,
			In:       data.OutAgents,
			Out:      data.InAgents,
			Size:     cs.Committee().Size(),
			Reverted: true,
		})
		return nil
	})
}

func addMemberEffect(cs *ledger.ChainState, m committee.Member) ledger.Effect {
	return ledger.Effect{
		Name: "member-add:" + m.AgentAddress,
		Apply: func(txn *database.Txn) error {
			return registryErr(cs.Committee().AddMember(m, txn))
		},
		Revert: func(txn *database.Txn) error {
			return registryErr(cs.Committee().DeleteMember(m.AgentAddress, txn))
		},
	}
}

func removeMemberEffect(
	cs *ledger.ChainState,
	agent string,
	height uint64,
	txHash []byte,
) ledger.Effect {
	return ledger.Effect{
		Name: "member-remove:" + agent,
		Apply: func(txn *database.Txn) error {
			_, err := cs.Committee().RemoveMember(agent, height, txHash, txn)
			return registryErr(err)
		},
		Revert: func(txn *database.Txn) error {
			return registryErr(cs.Committee().RestoreMember(agent, txHash, txn))
		},
	}
}

// registryErr classifies a committee registry failure
func registryErr(err error) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, committee.ErrAlreadyMember),
		errors.Is(err, committee.ErrSeedImmutable),
		errors.Is(err, committee.ErrPackingMismatch):
		return ledger.Reject(ledger.ErrNotEligible, "%v", err)
	case errors.Is(err, committee.ErrNotMember),
		errors.Is(err, models.ErrMemberNotFound):
		return ledger.Reject(ledger.ErrResourceMissing, "%v", err)
	default:
		return ledger.Storage(err)
	}
}
