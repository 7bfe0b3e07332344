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

// Package outbox is the durable queue of external side effects produced by
// block application, and the background consumer that drains it.
package outbox

import (
	"fmt"

	"github.com/blinklabs-io/vbank/database/models"
	"github.com/blinklabs-io/vbank/txs"
)

type Action uint8

const (
	ActionConfirm Action = iota + 1
	ActionConfirmRollback
	ActionChangeBank
	ActionWithdraw
)

func (a Action) String() string {
	switch a {
	case ActionConfirm:
		return "confirm"
	case ActionConfirmRollback:
		return "confirm-rollback"
	case ActionChangeBank:
		return "change-bank"
	case ActionWithdraw:
		return "withdraw"
	default:
		return fmt.Sprintf("action(%d)", uint8(a))
	}
}

// EntryKey is the natural dedupe key of an entry
func EntryKey(action Action, key string) string {
	return action.String() + ":" + key
}

// Entry is a pending external side effect together with the block context
// it was produced in. CurrentJoin and CurrentQuit are set when the local node
// joined or left the committee in the producing transaction.
type Entry struct {
	Tx              *txs.Transaction
	Key             string
	ExternalTxHash  string
	LastError       string
	Header          txs.BlockHeader
	ID              uint
	Height          uint64
	Attempts        uint32
	ExternalChainID uint16
	Action          Action
	SyncStatus      txs.SyncStatus
	IsCurrentMember bool
	CurrentJoin     bool
	CurrentQuit     bool
}

func (e *Entry) model() (*models.OutboxEntry, error) {
	ret := &models.OutboxEntry{
		EntryKey:        e.Key,
		Action:          uint8(e.Action),
		Height:          e.Height,
		SyncStatus:      uint8(e.SyncStatus),
		IsCurrentMember: e.IsCurrentMember,
		CurrentJoin:     e.CurrentJoin,
		CurrentQuit:     e.CurrentQuit,
		ExternalChainID: e.ExternalChainID,
		ExternalTxHash:  e.ExternalTxHash,
	}
	if e.Tx != nil {
		txBytes, err := e.Tx.Encode()
		if err != nil {
			return nil, err
		}
		ret.Tx = txBytes
		ret.TxHash = e.Tx.Hash().Bytes()
	}
	headerBytes, err := txs.EncodeHeader(e.Header)
	if err != nil {
		return nil, err
	}
	ret.Header = headerBytes
	return ret, nil
}

func entryFromModel(m models.OutboxEntry) (Entry, error) {
	ret := Entry{
		ID:              m.ID,
		Key:             m.EntryKey,
		Action:          Action(m.Action),
		Height:          m.Height,
		SyncStatus:      txs.SyncStatus(m.SyncStatus),
		IsCurrentMember: m.IsCurrentMember,
		CurrentJoin:     m.CurrentJoin,
		CurrentQuit:     m.CurrentQuit,
		ExternalChainID: m.ExternalChainID,
		ExternalTxHash:  m.ExternalTxHash,
		Attempts:        m.Attempts,
		LastError:       m.LastError,
	}
	if len(m.Tx) > 0 {
		tx, err := txs.Decode(m.Tx)
		if err != nil {
			return ret, fmt.Errorf("decode outbox transaction: %w", err)
		}
		ret.Tx = tx
	}
	if len(m.Header) > 0 {
		header, err := txs.DecodeHeader(m.Header)
		if err != nil {
			return ret, fmt.Errorf("decode outbox header: %w", err)
		}
		ret.Header = header
	}
	return ret, nil
}
