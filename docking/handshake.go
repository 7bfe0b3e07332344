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

package docking

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"

	"github.com/blinklabs-io/vbank/database"
	"github.com/blinklabs-io/vbank/database/models"
)

// State is a node's progress through the confirmation handshake for one
// external event
type State uint8

const (
	StateUnseen State = iota
	StateChecked
	StateCompleted
	StateRolledBack
)

func (s State) String() string {
	switch s {
	case StateUnseen:
		return "unseen"
	case StateChecked:
		return "checked"
	case StateCompleted:
		return "completed"
	case StateRolledBack:
		return "rolled-back"
	default:
		return "unknown"
	}
}

// Request identifies an external event and the local context it is
// confirmed in
type Request struct {
	// Key overrides the default "<chain>:<hash>" handshake key, for events
	// keyed by a local hash such as a proposal
	Key             string
	ExternalTxHash  string
	LocalKey        string
	Remark          []byte
	Height          uint64
	ExternalChainID uint16
}

func (r Request) HandshakeKey() string {
	if r.Key != "" {
		return r.Key
	}
	return fmt.Sprintf("%d:%s", r.ExternalChainID, r.ExternalTxHash)
}

// Handshake drives adapters through check, complete and rollback, recording
// each step so that a retried step is not repeated against the adapter
type Handshake struct {
	db       *database.Database
	adapters *Registry
	logger   *slog.Logger
}

func NewHandshake(
	db *database.Database,
	adapters *Registry,
	logger *slog.Logger,
) *Handshake {
	if logger == nil {
		logger = slog.New(slog.NewJSONHandler(io.Discard, nil))
	}
	return &Handshake{db: db, adapters: adapters, logger: logger}
}

// State returns the recorded state for a handshake key
func (h *Handshake) State(key string, txn *database.Txn) (State, error) {
	rec, err := h.db.GetHandshakeRecord(key, txn)
	if err != nil {
		if errors.Is(err, models.ErrHandshakeNotFound) {
			return StateUnseen, nil
		}
		return StateUnseen, err
	}
	return State(rec.State), nil
}

func (h *Handshake) setState(req Request, state State, txn *database.Txn) error {
	return h.db.SetHandshakeRecord(&models.HandshakeRecord{
		HandshakeKey:    req.HandshakeKey(),
		ExternalChainID: req.ExternalChainID,
		ExternalTxHash:  req.ExternalTxHash,
		LocalKey:        req.LocalKey,
		Height:          req.Height,
		State:           uint8(state),
	}, txn)
}

// Check runs the adapter check unless the event is already checked or
// completed
func (h *Handshake) Check(ctx context.Context, req Request, txn *database.Txn) error {
	state, err := h.State(req.HandshakeKey(), txn)
	if err != nil {
		return err
	}
	if state == StateChecked || state == StateCompleted {
		return nil
	}
	adapter, err := h.adapters.Get(req.ExternalChainID)
	if err != nil {
		return err
	}
	if err := adapter.TxConfirmedCheck(
		ctx,
		req.ExternalTxHash,
		req.Height,
		req.LocalKey,
		req.Remark,
	); err != nil {
		return fmt.Errorf("confirmed check: %w", err)
	}
	return h.setState(req, StateChecked, txn)
}

// Complete runs the adapter completion once. It does nothing unless
// isCurrentMember is set, and returns whether the adapter was called.
func (h *Handshake) Complete(
	ctx context.Context,
	req Request,
	isCurrentMember bool,
	txn *database.Txn,
) (bool, error) {
	if !isCurrentMember {
		return false, nil
	}
	state, err := h.State(req.HandshakeKey(), txn)
	if err != nil {
		return false, err
	}
	if state == StateCompleted {
		return false, nil
	}
	if state != StateChecked {
		if err := h.Check(ctx, req, txn); err != nil {
			return false, err
		}
	}
	adapter, err := h.adapters.Get(req.ExternalChainID)
	if err != nil {
		return false, err
	}
	if err := adapter.TxConfirmedCompleted(
		ctx,
		req.ExternalTxHash,
		req.Height,
		req.LocalKey,
		req.Remark,
	); err != nil {
		return false, fmt.Errorf("confirmed completed: %w", err)
	}
	if err := h.setState(req, StateCompleted, txn); err != nil {
		return false, err
	}
	h.logger.Debug(
		"completed external confirmation",
		"component", "docking",
		"key", req.HandshakeKey(),
	)
	return true, nil
}

// Rollback reverses a completion this node performed. Events that were only
// checked are marked rolled back without calling the adapter.
func (h *Handshake) Rollback(ctx context.Context, req Request, txn *database.Txn) error {
	state, err := h.State(req.HandshakeKey(), txn)
	if err != nil {
		return err
	}
	switch state {
	case StateUnseen, StateRolledBack:
		return nil
	case StateCompleted:
		adapter, err := h.adapters.Get(req.ExternalChainID)
		if err != nil {
			return err
		}
		if err := adapter.TxConfirmedRollback(ctx, req.ExternalTxHash); err != nil {
			return fmt.Errorf("confirmed rollback: %w", err)
		}
	}
	return h.setState(req, StateRolledBack, txn)
}

// RunOnce runs fn unless key already completed and records completion. It
// reports whether fn ran.
func (h *Handshake) RunOnce(
	ctx context.Context,
	req Request,
	fn func(context.Context) error,
	txn *database.Txn,
) (bool, error) {
	state, err := h.State(req.HandshakeKey(), txn)
	if err != nil {
		return false, err
	}
	if state == StateCompleted {
		return false, nil
	}
	if err := fn(ctx); err != nil {
		return false, err
	}
	if err := h.setState(req, StateCompleted, txn); err != nil {
		return false, err
	}
	return true, nil
}
