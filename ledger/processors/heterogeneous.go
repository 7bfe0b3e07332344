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
	"fmt"
	"strconv"

	"github.com/blinklabs-io/vbank/committee"
	"github.com/blinklabs-io/vbank/database"
	"github.com/blinklabs-io/vbank/database/models"
	"github.com/blinklabs-io/vbank/docking"
	"github.com/blinklabs-io/vbank/ledger"
	"github.com/blinklabs-io/vbank/txs"
)

// InitializeHeterogeneous registers an external chain and derives an address
// on it for every committee member. It must be signed by the seeds.
type InitializeHeterogeneous struct{}

func (p *InitializeHeterogeneous) Kind() txs.Kind { return txs.KindInitializeHeterogeneous }

func (p *InitializeHeterogeneous) Priority() int { return PriorityInitializeHeterogeneous }

func (p *InitializeHeterogeneous) Validate(
	cs *ledger.ChainState,
	batch []*txs.Transaction,
	_ map[txs.Kind][]*txs.Transaction,
	header *txs.BlockHeader,
) ledger.ValidationResult {
	conflicts := ledger.NewConflictDetector()
	return ledger.ValidateEach(cs, batch, func(tx *txs.Transaction) error {
		data, err := txs.DecodePayload[txs.InitializeHeterogeneousData](tx)
		if err != nil {
			return err
		}
		if _, err := adapter(cs, data.ExternalChainID); err != nil {
			return err
		}
		if err := checkUninitialized(cs, data.ExternalChainID, nil); err != nil {
			return err
		}
		if err := checkQuorum(cs, tx, committee.SignerSetSeedOnly, header); err != nil {
			return err
		}
		return conflicts.Claim(tx, ledger.Claim{
			Set: "external-chain",
			Key: strconv.FormatUint(uint64(data.ExternalChainID), 10),
		})
	})
}

func checkUninitialized(cs *ledger.ChainState, chainID uint16, txn *database.Txn) error {
	_, err := cs.DB().GetExternalChain(chainID, txn)
	switch {
	case err == nil:
		return ledger.Reject(ledger.ErrResourceTerminal, "external chain %d already initialized", chainID)
	case errors.Is(err, models.ErrExternalChainNotFound):
		return nil
	default:
		return ledger.Storage(err)
	}
}

func (p *InitializeHeterogeneous) Commit(
	cs *ledger.ChainState,
	batch []*txs.Transaction,
	header txs.BlockHeader,
	_ txs.SyncStatus,
	txn *database.Txn,
) (*ledger.Saga, error) {
	return ledger.CommitEach(batch, txn, func(tx *txs.Transaction, saga *ledger.Saga) error {
		data, err := txs.DecodePayload[txs.InitializeHeterogeneousData](tx)
		if err != nil {
			return err
		}
		ext, err := adapter(cs, data.ExternalChainID)
		if err != nil {
			return err
		}
		if err := checkUninitialized(cs, data.ExternalChainID, txn); err != nil {
			return err
		}
		err = saga.Apply(txn, externalChainEffect(cs, models.ExternalChain{
			ChainID:    data.ExternalChainID,
			InitHeight: header.Height,
			InitTxHash: tx.Hash().Bytes(),
		}))
		if err != nil {
			return err
		}
		for _, m := range cs.Committee().Members() {
			if err := assignAddress(cs, saga, txn, ext, m, header.Height); err != nil {
				return err
			}
		}
		if cs.CurrentMember() {
			// The new chain's multisig still has to be set up by this node
			return cs.ChangeLocalFlags(saga, txn, tx.Hash(), true, true)
		}
		return nil
	})
}

func (p *InitializeHeterogeneous) Rollback(
	cs *ledger.ChainState,
	batch []*txs.Transaction,
	_ txs.BlockHeader,
	txn *database.Txn,
) (*ledger.Saga, error) {
	return ledger.RollbackEach(batch, txn, func(tx *txs.Transaction, saga *ledger.Saga) error {
		data, err := txs.DecodePayload[txs.InitializeHeterogeneousData](tx)
		if err != nil {
			return err
		}
		chain, err := cs.DB().GetExternalChain(data.ExternalChainID, txn)
		if err != nil {
			if errors.Is(err, models.ErrExternalChainNotFound) {
				return ledger.Reject(ledger.ErrResourceMissing, "external chain %d", data.ExternalChainID)
			}
			return ledger.Storage(err)
		}
		for _, m := range cs.Committee().Members() {
			if err := clearAddress(cs, saga, txn, m, data.ExternalChainID); err != nil {
				return err
			}
		}
		prev := *chain
		prev.ID = 0
		if err := saga.Apply(txn, invertEffect(externalChainEffect(cs, prev))); err != nil {
			return err
		}
		return cs.RestoreLocalFlags(saga, txn, tx.Hash())
	})
}

func externalChainEffect(cs *ledger.ChainState, chain models.ExternalChain) ledger.Effect {
	return ledger.Effect{
		Name: fmt.Sprintf("external-chain:%d", chain.ChainID),
		Apply: func(txn *database.Txn) error {
			c := chain
			return ledger.Storage(cs.DB().AddExternalChain(&c, txn))
		},
		Revert: func(txn *database.Txn) error {
			return ledger.Storage(cs.DB().DeleteExternalChain(chain.ChainID, txn))
		},
	}
}

// assignAddress derives and stores a member's address on an external chain
func assignAddress(
	cs *ledger.ChainState,
	saga *ledger.Saga,
	txn *database.Txn,
	ext docking.Adapter,
	m committee.Member,
	height uint64,
) error {
	addr, err := ext.GenerateAddress(m.SignPublicKey)
	if err != nil {
		return ledger.Reject(
			ledger.ErrInternal,
			"derive address of %s on chain %d: %v",
			m.AgentAddress,
			ext.ChainID(),
			err,
		)
	}
	prev, hadPrev := m.HeterogeneousAddresses[ext.ChainID()]
	return saga.Apply(txn, ledger.Effect{
		Name: fmt.Sprintf("heterogeneous-address:%s:%d", m.AgentAddress, ext.ChainID()),
		Apply: func(txn *database.Txn) error {
			return ledger.Storage(cs.Committee().SetHeterogeneousAddress(
				m.AgentAddress, ext.ChainID(), addr, height, txn,
			))
		},
		Revert: func(txn *database.Txn) error {
			if hadPrev {
				return ledger.Storage(cs.Committee().SetHeterogeneousAddress(
					m.AgentAddress, ext.ChainID(), prev, height, txn,
				))
			}
			return ledger.Storage(cs.Committee().DeleteHeterogeneousAddress(
				m.AgentAddress, ext.ChainID(), txn,
			))
		},
	})
}

// clearAddress drops a member's address on an external chain, if it has one
func clearAddress(
	cs *ledger.ChainState,
	saga *ledger.Saga,
	txn *database.Txn,
	m committee.Member,
	chainID uint16,
) error {
	prev, ok := m.HeterogeneousAddresses[chainID]
	if !ok {
		return nil
	}
	return saga.Apply(txn, ledger.Effect{
		Name: fmt.Sprintf("heterogeneous-address-delete:%s:%d", m.AgentAddress, chainID),
		Apply: func(txn *database.Txn) error {
			return ledger.Storage(cs.Committee().DeleteHeterogeneousAddress(
				m.AgentAddress, chainID, txn,
			))
		},
		Revert: func(txn *database.Txn) error {
			return ledger.Storage(cs.Committee().SetHeterogeneousAddress(
				m.AgentAddress, chainID, prev, 0, txn,
			))
		},
	})
}
