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

// Package docking defines the interface to external chains ("heterogeneous
// chains") and drives the confirmation handshake against them.
package docking

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"sync"

	"github.com/blinklabs-io/vbank/txs"
)

var (
	ErrAdapterNotFound   = errors.New("no adapter for external chain")
	ErrAdapterRegistered = errors.New("adapter already registered for external chain")
	ErrUnsupported       = errors.New("operation not supported by adapter")
)

// Adapter is implemented once per external chain. Address methods are local
// computations; the TxConfirmed methods may call out to the external chain
// and are only invoked from the outbox consumer.
type Adapter interface {
	ChainID() uint16
	ValidateAddress(addr string) bool
	GenerateAddress(pubKey []byte) (string, error)
	TxConfirmedCheck(
		ctx context.Context,
		externalTxHash string,
		height uint64,
		localKey string,
		remark []byte,
	) error
	TxConfirmedCompleted(
		ctx context.Context,
		externalTxHash string,
		height uint64,
		localKey string,
		remark []byte,
	) error
	TxConfirmedRollback(ctx context.Context, externalTxHash string) error
}

// ManagerChange is a committee reconfiguration to carry out on an external
// chain's multisig
type ManagerChange struct {
	Key    string
	In     []string
	Out    []string
	Height uint64
}

// ManagerChanger is implemented by adapters that manage a committee multisig
type ManagerChanger interface {
	ChangeManagers(ctx context.Context, change ManagerChange) error
}

// Withdrawal is a payout to carry out on an external chain
type Withdrawal struct {
	Key    string
	To     string
	Asset  txs.AssetRef
	Amount uint64
	Height uint64
	TxHash txs.Hash
}

// WithdrawalSender is implemented by adapters that can pay out withdrawals
type WithdrawalSender interface {
	SendWithdrawal(ctx context.Context, w Withdrawal) error
}

// Registry maps external chain IDs to adapters
type Registry struct {
	adapters map[uint16]Adapter
	mu       sync.RWMutex
}

func NewRegistry() *Registry {
	return &Registry{adapters: make(map[uint16]Adapter)}
}

// Register adds an adapter. Each external chain has at most one.
func (r *Registry) Register(a Adapter) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.adapters[a.ChainID()]; ok {
		return fmt.Errorf("%w: %d", ErrAdapterRegistered, a.ChainID())
	}
	r.adapters[a.ChainID()] = a
	return nil
}

// Get returns the adapter for an external chain
func (r *Registry) Get(chainID uint16) (Adapter, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	a, ok := r.adapters[chainID]
	if !ok {
		return nil, fmt.Errorf("%w: %d", ErrAdapterNotFound, chainID)
	}
	return a, nil
}

func (r *Registry) Has(chainID uint16) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.adapters[chainID]
	return ok
}

// ChainIDs returns the registered external chain IDs in ascending order
func (r *Registry) ChainIDs() []uint16 {
	r.mu.RLock()
	defer r.mu.RUnlock()
	ret := make([]uint16, 0, len(r.adapters))
	for id := range r.adapters {
		ret = append(ret, id)
	}
	slices.Sort(ret)
	return ret
}
