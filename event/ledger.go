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

package event

const (
	BlockAppliedEventType     EventType = "ledger.block_applied"
	BlockRevertedEventType    EventType = "ledger.block_reverted"
	BlockFailedEventType      EventType = "ledger.block_failed"
	ChainHaltedEventType      EventType = "ledger.chain_halted"
	CommitteeChangedEventType EventType = "committee.changed"
	OutboxEnqueuedEventType   EventType = "outbox.enqueued"
	OutboxCompletedEventType  EventType = "outbox.completed"
)

// BlockAppliedEvent is published after a block's storage transaction commits
type BlockAppliedEvent struct {
	ChainID    uint16
	Height     uint64
	Hash       []byte
	TxCount    int
	InvalidTxs int
}

// BlockRevertedEvent is published after an archived block is rolled back
type BlockRevertedEvent struct {
	ChainID uint16
	Height  uint64
	Hash    []byte
}

// BlockFailedEvent is published when a block fails to apply and its
// effects have been compensated
type BlockFailedEvent struct {
	Error   error
	ChainID uint16
	Height  uint64
}

// ChainHaltedEvent is published when compensation itself failed
type ChainHaltedEvent struct {
	Error   error
	ChainID uint16
	Height  uint64
}

// CommitteeChangedEvent describes a committee reconfiguration. Reverted is
// set when the change was rolled back.
type CommitteeChangedEvent struct {
	ChainID  uint16
	Height   uint64
	In       []string
	Out      []string
	Size     int
	Reverted bool
}

// OutboxEvent describes an outbox entry being enqueued or completed
type OutboxEvent struct {
	ChainID uint16
	Key     string
	Action  string
}
