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

package ledger

import (
	"context"
	"errors"
	"fmt"

	"github.com/blinklabs-io/vbank/docking"
	"github.com/blinklabs-io/vbank/outbox"
	"github.com/blinklabs-io/vbank/txs"
)

// OutboxExecutor carries out the outbox entries of one chain against its
// docking adapters. Every step is recorded through the chain's handshake
// records, so an entry re-run after a crash does not repeat external calls.
type OutboxExecutor struct {
	cs *ChainState
}

func NewOutboxExecutor(cs *ChainState) *OutboxExecutor {
	return &OutboxExecutor{cs: cs}
}

// Execute implements outbox.Executor
func (e *OutboxExecutor) Execute(ctx context.Context, entry outbox.Entry) error {
	switch entry.Action {
	case outbox.ActionConfirm:
		return e.confirm(ctx, entry)
	case outbox.ActionConfirmRollback:
		return e.cs.handshake.Rollback(ctx, confirmRequest(entry), nil)
	case outbox.ActionChangeBank:
		return e.changeBank(ctx, entry)
	case outbox.ActionWithdraw:
		return e.withdraw(ctx, entry)
	default:
		// Retrying cannot help, so the entry is dropped
		e.cs.logger.Error(
			"dropping outbox entry with unknown action",
			"component", "outbox",
			"key", entry.Key,
			"action", entry.Action.String(),
		)
		return nil
	}
}

func confirmRequest(entry outbox.Entry) docking.Request {
	req := docking.Request{
		ExternalChainID: entry.ExternalChainID,
		ExternalTxHash:  entry.ExternalTxHash,
		Height:          entry.Height,
	}
	if entry.Tx != nil {
		req.LocalKey = entry.Tx.Hash().String()
		req.Remark = entry.Tx.Remark
	}
	return req
}

func (e *OutboxExecutor) confirm(ctx context.Context, entry outbox.Entry) error {
	req := confirmRequest(entry)
	if err := e.cs.handshake.Check(ctx, req, nil); err != nil {
		return err
	}
	_, err := e.cs.handshake.Complete(ctx, req, entry.IsCurrentMember, nil)
	return err
}

func (e *OutboxExecutor) changeBank(ctx context.Context, entry outbox.Entry) error {
	if entry.Tx == nil {
		return errors.New("change bank entry without transaction")
	}
	if !entry.IsCurrentMember && !entry.CurrentQuit {
		return nil
	}
	data, err := txs.DecodePayload[txs.ChangeVirtualBankData](entry.Tx)
	if err != nil {
		return err
	}
	chains, err := e.cs.db.GetExternalChains(nil)
	if err != nil {
		return err
	}
	txHash := entry.Tx.Hash().String()
	for _, chain := range chains {
		adapter, err := e.cs.adapters.Get(chain.ChainID)
		if err != nil {
			return err
		}
		changer, ok := adapter.(docking.ManagerChanger)
		if !ok {
			continue
		}
		change := docking.ManagerChange{
			Key:    fmt.Sprintf("chg:%s:%d", txHash, chain.ChainID),
			In:     data.InAgents,
			Out:    data.OutAgents,
			Height: entry.Height,
		}
		req := docking.Request{
			Key:             change.Key,
			ExternalChainID: chain.ChainID,
			LocalKey:        txHash,
			Height:          entry.Height,
		}
		_, err = e.cs.handshake.RunOnce(ctx, req, func(ctx context.Context) error {
			return changer.ChangeManagers(ctx, change)
		}, nil)
		if err != nil {
			return fmt.Errorf("change managers on chain %d: %w", chain.ChainID, err)
		}
	}
	if entry.CurrentJoin && e.cs.PendingReconcile() {
		if err := e.cs.SetPendingReconcile(false, nil); err != nil {
			return err
		}
	}
	return nil
}

func (e *OutboxExecutor) withdraw(ctx context.Context, entry outbox.Entry) error {
	if entry.Tx == nil {
		return errors.New("withdrawal entry without transaction")
	}
	if !entry.IsCurrentMember {
		return nil
	}
	data, err := txs.DecodePayload[txs.WithdrawalData](entry.Tx)
	if err != nil {
		return err
	}
	adapter, err := e.cs.adapters.Get(data.ExternalChainID)
	if err != nil {
		return err
	}
	sender, ok := adapter.(docking.WithdrawalSender)
	if !ok {
		e.cs.logger.Error(
			"dropping withdrawal for adapter without payout support",
			"component", "outbox",
			"key", entry.Key,
			"external_chain", data.ExternalChainID,
		)
		return nil
	}
	w := docking.Withdrawal{
		Key:    "wd:" + entry.Tx.Hash().String(),
		To:     data.ExternalAddress,
		Asset:  data.Asset,
		Amount: data.Amount,
		Height: entry.Height,
		TxHash: entry.Tx.Hash(),
	}
	req := docking.Request{
		Key:             w.Key,
		ExternalChainID: data.ExternalChainID,
		LocalKey:        entry.Tx.Hash().String(),
		Height:          entry.Height,
	}
	_, err = e.cs.handshake.RunOnce(ctx, req, func(ctx context.Context) error {
		return sender.SendWithdrawal(ctx, w)
	}, nil)
	return err
}
