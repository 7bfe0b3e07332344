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

// Package processors holds one ledger.Processor per transaction kind
package processors

import (
	"errors"
	"fmt"

	"github.com/blinklabs-io/vbank/committee"
	"github.com/blinklabs-io/vbank/database"
	"github.com/blinklabs-io/vbank/database/models"
	"github.com/blinklabs-io/vbank/database/types"
	"github.com/blinklabs-io/vbank/docking"
	"github.com/blinklabs-io/vbank/ledger"
	"github.com/blinklabs-io/vbank/outbox"
	"github.com/blinklabs-io/vbank/txs"
)

const (
	PriorityChangeVirtualBank        = 100
	PriorityInitializeHeterogeneous  = 90
	PriorityConfirmChangeVirtualBank = 80
	PriorityProposal                 = 60
	PriorityVoteProposal             = 50
	PriorityConfirmProposal          = 40
	PriorityRecharge                 = 30
	PriorityConfirmWithdrawal        = 20
	PriorityWithdrawal               = 10
	PriorityDeposit                  = 5
	PriorityCancelDeposit            = 0
)

// All returns a processor for every transaction kind
func All() []ledger.Processor {
	return []ledger.Processor{
		&ChangeVirtualBank{},
		&InitializeHeterogeneous{},
		&ConfirmChangeVirtualBank{},
		&Proposal{},
		&VoteProposal{},
		&ConfirmProposal{},
		&Recharge{},
		&ConfirmWithdrawal{},
		&Withdrawal{},
		&Deposit{},
		&CancelDeposit{},
	}
}

// Confirmation record keys
func ExternalRecordKey(chainID uint16, externalTxHash string) string {
	return fmt.Sprintf("ext:%d:%s", chainID, externalTxHash)
}

func WithdrawalRecordKey(withdrawalTxHash txs.Hash) string {
	return "wd:" + withdrawalTxHash.String()
}

func ChangeRecordKey(changeTxHash txs.Hash) string {
	return "chg:" + changeTxHash.String()
}

func ProposalRecordKey(proposalTxHash txs.Hash) string {
	return "prop:" + proposalTxHash.String()
}

func checkQuorum(
	cs *ledger.ChainState,
	tx *txs.Transaction,
	set committee.SignerSet,
	header *txs.BlockHeader,
) error {
	if err := cs.Quorum().Validate(tx, set, header); err != nil {
		return fmt.Errorf("%w: %w", ledger.ErrSignatureQuorumFailed, err)
	}
	return nil
}

func checkOwner(cs *ledger.ChainState, tx *txs.Transaction, addr string) error {
	return committee.VerifyOwner(
		cs.Quorum().Verifier(),
		cs.Config().AddressPrefix,
		tx,
		addr,
	)
}

// checkAmount rejects zero amounts and amounts the stores cannot hold
func checkAmount(what string, amount uint64) error {
	if amount == 0 {
		return ledger.Reject(ledger.ErrInvalidAmount, "zero %s", what)
	}
	if amount > txs.MaxAmount {
		return ledger.Reject(ledger.ErrInvalidAmount, "%s of %d above %d", what, amount, txs.MaxAmount)
	}
	return nil
}

// addAmounts is txs.AddAmounts with overflow reported as InvalidAmount
func addAmounts(amounts ...uint64) (uint64, error) {
	total, err := txs.AddAmounts(amounts...)
	if err != nil {
		return 0, ledger.Reject(ledger.ErrInvalidAmount, "%v", err)
	}
	return total, nil
}

// adapter returns the docking adapter of an external chain as a
// ResourceMissing rejection when none is registered
func adapter(cs *ledger.ChainState, chainID uint16) (docking.Adapter, error) {
	a, err := cs.Adapters().Get(chainID)
	if err != nil {
		return nil, ledger.Reject(ledger.ErrResourceMissing, "external chain %d: %v", chainID, err)
	}
	return a, nil
}

// recordExists reports whether a confirmation record is stored under key
func recordExists(cs *ledger.ChainState, key string, txn *database.Txn) (bool, error) {
	_, err := cs.DB().GetConfirmationRecord(key, txn)
	switch {
	case err == nil:
		return true, nil
	case errors.Is(err, models.ErrConfirmationNotFound):
		return false, nil
	default:
		return false, ledger.Storage(err)
	}
}

// checkUnconfirmed rejects an event whose confirmation record already exists
func checkUnconfirmed(cs *ledger.ChainState, key string, txn *database.Txn) error {
	exists, err := recordExists(cs, key, txn)
	if err != nil {
		return err
	}
	if exists {
		return ledger.Reject(ledger.ErrResourceTerminal, "%s already confirmed", key)
	}
	return nil
}

// addRecord stores a write-once confirmation record as a saga effect
func addRecord(
	cs *ledger.ChainState,
	saga *ledger.Saga,
	txn *database.Txn,
	rec models.ConfirmationRecord,
) error {
	return saga.Apply(txn, ledger.Effect{
		Name: "record:" + rec.RecordKey,
		Apply: func(txn *database.Txn) error {
			r := rec
			if err := cs.DB().AddConfirmationRecord(&r, txn); err != nil {
				if errors.Is(err, types.ErrDuplicateKey) {
					return ledger.Reject(
						ledger.ErrResourceTerminal,
						"%s already confirmed",
						rec.RecordKey,
					)
				}
				return ledger.Storage(err)
			}
			return nil
		},
		Revert: func(txn *database.Txn) error {
			return ledger.Storage(cs.DB().DeleteConfirmationRecord(rec.RecordKey, txn))
		},
	})
}

// deleteRecord removes a confirmation record as a saga effect
func deleteRecord(
	cs *ledger.ChainState,
	saga *ledger.Saga,
	txn *database.Txn,
	key string,
) error {
	rec, err := cs.DB().GetConfirmationRecord(key, txn)
	if err != nil {
		if errors.Is(err, models.ErrConfirmationNotFound) {
			return ledger.Reject(ledger.ErrResourceMissing, "confirmation %s", key)
		}
		return ledger.Storage(err)
	}
	prev := *rec
	prev.ID = 0
	return saga.Apply(txn, ledger.Effect{
		Name: "record-delete:" + key,
		Apply: func(txn *database.Txn) error {
			return ledger.Storage(cs.DB().DeleteConfirmationRecord(key, txn))
		},
		Revert: func(txn *database.Txn) error {
			r := prev
			return ledger.Storage(cs.DB().AddConfirmationRecord(&r, txn))
		},
	})
}

func confirmKey(chainID uint16, externalTxHash string) string {
	return docking.Request{
		ExternalChainID: chainID,
		ExternalTxHash:  externalTxHash,
	}.HandshakeKey()
}

// enqueueConfirm schedules the confirmation handshake for an external event
func enqueueConfirm(
	cs *ledger.ChainState,
	saga *ledger.Saga,
	txn *database.Txn,
	tx *txs.Transaction,
	header txs.BlockHeader,
	syncStatus txs.SyncStatus,
	chainID uint16,
	externalTxHash string,
) error {
	if !cs.ShouldEnqueue(syncStatus, false) {
		return nil
	}
	return cs.Enqueue(saga, txn, outbox.Entry{
		Tx:              tx,
		Key:             outbox.EntryKey(outbox.ActionConfirm, confirmKey(chainID, externalTxHash)),
		Header:          header,
		Height:          header.Height,
		ExternalChainID: chainID,
		ExternalTxHash:  externalTxHash,
		Action:          outbox.ActionConfirm,
		SyncStatus:      syncStatus,
		IsCurrentMember: cs.CurrentMember(),
	})
}

// retractConfirm undoes enqueueConfirm. A handshake still pending is dropped;
// one this node already started is rolled back on the external chain.
func retractConfirm(
	cs *ledger.ChainState,
	saga *ledger.Saga,
	txn *database.Txn,
	tx *txs.Transaction,
	header txs.BlockHeader,
	chainID uint16,
	externalTxHash string,
) error {
	key := confirmKey(chainID, externalTxHash)
	removed, err := cs.Dequeue(saga, txn, outbox.EntryKey(outbox.ActionConfirm, key))
	if err != nil || removed {
		return err
	}
	state, err := cs.Handshake().State(key, txn)
	if err != nil {
		return ledger.Storage(err)
	}
	if state == docking.StateUnseen || state == docking.StateRolledBack {
		return nil
	}
	return cs.Enqueue(saga, txn, outbox.Entry{
		Tx:              tx,
		Key:             outbox.EntryKey(outbox.ActionConfirmRollback, key),
		Header:          header,
		Height:          header.Height,
		ExternalChainID: chainID,
		ExternalTxHash:  externalTxHash,
		Action:          outbox.ActionConfirmRollback,
		SyncStatus:      txs.SyncStatusLive,
		IsCurrentMember: cs.CurrentMember(),
	})
}

// claimTx rejects a transaction that appears twice in one batch
func claimTx(conflicts *ledger.ConflictDetector, tx *txs.Transaction) error {
	return conflicts.Claim(tx, ledger.Claim{Set: "tx", Key: tx.Hash().String()})
}
