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

// Package committee tracks the virtual bank committee of a chain: its
// members, their history, candidate ranking and quorum signature checks.
package committee

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"slices"
	"sync"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/blinklabs-io/vbank/address"
	"github.com/blinklabs-io/vbank/database"
	"github.com/blinklabs-io/vbank/database/models"
)

var (
	ErrAlreadyMember   = errors.New("agent is already a committee member")
	ErrNotMember       = errors.New("agent is not a committee member")
	ErrSeedImmutable   = errors.New("seed members cannot be removed")
	ErrPackingMismatch = errors.New("public key does not match packing address")
)

// Seed is a permanent committee member configured at genesis
type Seed struct {
	AgentAddress  string
	RewardAddress string
	SignPublicKey []byte
}

type RegistryConfig struct {
	Database      *database.Database
	Logger        *slog.Logger
	PromRegistry  prometheus.Registerer
	AddressPrefix string
	ChainID       uint16
}

// Registry is the in-memory view of a chain's committee backed by the
// metadata store. Every mutation writes through the given transaction.
type Registry struct {
	db      *database.Database
	logger  *slog.Logger
	metrics *registryMetrics
	members []*Member
	byAgent map[string]*Member
	byPack  map[string]*Member
	removed []removedMember
	prefix  string
	nextPos uint64
	mu      sync.RWMutex
	chainID uint16
}

// NewRegistry creates a registry and loads its state from the database
func NewRegistry(cfg RegistryConfig) (*Registry, error) {
	if cfg.Database == nil {
		return nil, errors.New("committee registry requires a database")
	}
	r := &Registry{
		db:      cfg.Database,
		logger:  cfg.Logger,
		prefix:  cfg.AddressPrefix,
		chainID: cfg.ChainID,
	}
	if r.logger == nil {
		r.logger = slog.New(slog.NewJSONHandler(io.Discard, nil))
	}
	if r.prefix == "" {
		r.prefix = address.DefaultPrefix
	}
	if cfg.PromRegistry != nil {
		r.initMetrics(cfg.PromRegistry)
	}
	if err := r.Load(nil); err != nil {
		return nil, err
	}
	return r, nil
}

func (r *Registry) ChainID() uint16 {
	return r.chainID
}

func (r *Registry) AddressPrefix() string {
	return r.prefix
}

// Load replaces the in-memory state with what is stored in the database
func (r *Registry) Load(txn *database.Txn) error {
	rows, err := r.db.GetCommitteeMembers(txn)
	if err != nil {
		return fmt.Errorf("load committee members: %w", err)
	}
	removedRows, err := r.db.GetRemovedMembers(txn)
	if err != nil {
		return fmt.Errorf("load removed members: %w", err)
	}
	members := make([]*Member, 0, len(rows))
	var nextPos uint64
	for _, row := range rows {
		m := memberFromModel(row)
		addrs, err := r.db.GetHeterogeneousAddresses(m.PackingAddress, txn)
		if err != nil {
			return fmt.Errorf("load heterogeneous addresses: %w", err)
		}
		for _, a := range addrs {
			m.HeterogeneousAddresses[a.ExternalChainID] = a.Address
		}
		members = append(members, &m)
		nextPos = max(nextPos, m.Position+1)
	}
	removed := make([]removedMember, 0, len(removedRows))
	for _, row := range removedRows {
		removed = append(removed, removedFromModel(row))
		nextPos = max(nextPos, row.Position+1)
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.members = members
	r.removed = removed
	r.nextPos = nextPos
	r.reindex()
	return nil
}

func (r *Registry) reindex() {
	slices.SortFunc(r.members, func(a, b *Member) int {
		switch {
		case a.Position < b.Position:
			return -1
		case a.Position > b.Position:
			return 1
		}
		return 0
	})
	r.byAgent = make(map[string]*Member, len(r.members))
	r.byPack = make(map[string]*Member, len(r.members))
	for _, m := range r.members {
		r.byAgent[m.AgentAddress] = m
		r.byPack[m.PackingAddress] = m
	}
	if r.metrics != nil {
		r.metrics.size.Set(float64(len(r.members)))
		r.metrics.nonSeed.Set(float64(r.nonSeedCountLocked()))
	}
}

// EnsureSeeds adds any configured seed that is not yet a member. Seeds join
// at height 0.
func (r *Registry) EnsureSeeds(seeds []Seed, txn *database.Txn) error {
	for _, seed := range seeds {
		packing, err := address.FromPublicKey(r.prefix, seed.SignPublicKey)
		if err != nil {
			return fmt.Errorf("seed %s: %w", seed.AgentAddress, err)
		}
		if existing, ok := r.Member(seed.AgentAddress); ok {
			if !existing.IsSeed {
				return fmt.Errorf(
					"seed %s is already a non-seed member",
					seed.AgentAddress,
				)
			}
			continue
		}
		m := Member{
			AgentAddress:   seed.AgentAddress,
			PackingAddress: packing,
			RewardAddress:  seed.RewardAddress,
			SignPublicKey:  seed.SignPublicKey,
			IsSeed:         true,
		}
		if err := r.AddMember(m, txn); err != nil {
			return err
		}
		r.logger.Info(
			"added seed committee member",
			"component", "committee",
			"chain", r.chainID,
			"agent", seed.AgentAddress,
		)
	}
	return nil
}

// Member returns the current member with the given agent address
func (r *Registry) Member(agent string) (Member, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	m, ok := r.byAgent[agent]
	if !ok {
		return Member{}, false
	}
	return m.clone(), true
}

// MemberByPacking returns the current member with the given packing address
func (r *Registry) MemberByPacking(packing string) (Member, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	m, ok := r.byPack[packing]
	if !ok {
		return Member{}, false
	}
	return m.clone(), true
}

func (r *Registry) IsMember(agent string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.byAgent[agent]
	return ok
}

// Members returns the current members in join order
func (r *Registry) Members() []Member {
	r.mu.RLock()
	defer r.mu.RUnlock()
	ret := make([]Member, 0, len(r.members))
	for _, m := range r.members {
		ret = append(ret, m.clone())
	}
	return ret
}

func (r *Registry) Size() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.members)
}

func (r *Registry) NonSeedCount() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.nonSeedCountLocked()
}

func (r *Registry) nonSeedCountLocked() int {
	count := 0
	for _, m := range r.members {
		if !m.IsSeed {
			count++
		}
	}
	return count
}

// SeedAgents returns the set of seed agent addresses
func (r *Registry) SeedAgents() map[string]struct{} {
	r.mu.RLock()
	defer r.mu.RUnlock()
	ret := make(map[string]struct{})
	for _, m := range r.members {
		if m.IsSeed {
			ret[m.AgentAddress] = struct{}{}
		}
	}
	return ret
}

// AddMember persists and inserts a new member. The member is appended to the
// join order unless it carries a nonzero Position.
func (r *Registry) AddMember(m Member, txn *database.Txn) error {
	if !address.MatchesPublicKey(r.prefix, m.PackingAddress, m.SignPublicKey) {
		return fmt.Errorf("%w: %s", ErrPackingMismatch, m.AgentAddress)
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.byAgent[m.AgentAddress]; ok {
		return fmt.Errorf("%w: %s", ErrAlreadyMember, m.AgentAddress)
	}
	m = m.clone()
	if m.Position == 0 {
		m.Position = r.nextPos
	}
	if err := r.db.AddCommitteeMember(m.model(), txn); err != nil {
		return fmt.Errorf("add committee member: %w", err)
	}
	r.nextPos = max(r.nextPos, m.Position+1)
	r.members = append(r.members, &m)
	r.reindex()
	return nil
}

// DeleteMember removes a member without archiving it. It is the inverse of
// AddMember.
func (r *Registry) DeleteMember(agent string, txn *database.Txn) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	m, ok := r.byAgent[agent]
	if !ok {
		return fmt.Errorf("%w: %s", ErrNotMember, agent)
	}
	if err := r.db.DeleteCommitteeMember(agent, txn); err != nil {
		return fmt.Errorf("delete committee member: %w", err)
	}
	r.members = slices.DeleteFunc(r.members, func(x *Member) bool {
		return x == m
	})
	r.reindex()
	return nil
}

// RemoveMember moves a member to the removal archive at height. Seeds are
// never removed.
func (r *Registry) RemoveMember(
	agent string,
	height uint64,
	txHash []byte,
	txn *database.Txn,
) (Member, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	m, ok := r.byAgent[agent]
	if !ok {
		return Member{}, fmt.Errorf("%w: %s", ErrNotMember, agent)
	}
	if m.IsSeed {
		return Member{}, fmt.Errorf("%w: %s", ErrSeedImmutable, agent)
	}
	archived := removedMember{
		member:        m.clone(),
		removedHeight: height,
		removedTxHash: slices.Clone(txHash),
	}
	if err := r.db.DeleteCommitteeMember(agent, txn); err != nil {
		return Member{}, fmt.Errorf("delete committee member: %w", err)
	}
	if err := r.db.AddRemovedMember(archived.model(), txn); err != nil {
		return Member{}, fmt.Errorf("archive committee member: %w", err)
	}
	r.removed = append(r.removed, archived)
	r.members = slices.DeleteFunc(r.members, func(x *Member) bool {
		return x == m
	})
	r.reindex()
	return archived.member.clone(), nil
}

// RestoreMember re-inserts a member removed by txHash with its original
// fields. It is the inverse of RemoveMember.
func (r *Registry) RestoreMember(
	agent string,
	txHash []byte,
	txn *database.Txn,
) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.byAgent[agent]; ok {
		return fmt.Errorf("%w: %s", ErrAlreadyMember, agent)
	}
	idx := slices.IndexFunc(r.removed, func(x removedMember) bool {
		return x.member.AgentAddress == agent &&
			bytes.Equal(x.removedTxHash, txHash)
	})
	if idx < 0 {
		return fmt.Errorf("%w: %s", models.ErrMemberNotFound, agent)
	}
	archived := r.removed[idx]
	if err := r.db.DeleteRemovedMember(agent, txHash, txn); err != nil {
		return fmt.Errorf("delete archived member: %w", err)
	}
	m := archived.member.clone()
	if err := r.db.AddCommitteeMember(m.model(), txn); err != nil {
		return fmt.Errorf("restore committee member: %w", err)
	}
	// External addresses outlive removal
	addrs, err := r.db.GetHeterogeneousAddresses(m.PackingAddress, txn)
	if err != nil {
		return fmt.Errorf("load heterogeneous addresses: %w", err)
	}
	for _, a := range addrs {
		m.HeterogeneousAddresses[a.ExternalChainID] = a.Address
	}
	r.removed = slices.Delete(r.removed, idx, idx+1)
	r.members = append(r.members, &m)
	r.reindex()
	return nil
}

// ChangedBy reports whether txHash added a current member or removed an
// archived one
func (r *Registry) ChangedBy(txHash []byte) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	for _, m := range r.members {
		if bytes.Equal(m.JoinTxHash, txHash) {
			return true
		}
	}
	for _, rm := range r.removed {
		if bytes.Equal(rm.removedTxHash, txHash) ||
			bytes.Equal(rm.member.JoinTxHash, txHash) {
			return true
		}
	}
	return false
}

// Archived reports whether agent left the committee earlier and can be
// restored from the removal archive
func (r *Registry) Archived(agent string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return slices.ContainsFunc(r.removed, func(x removedMember) bool {
		return x.member.AgentAddress == agent
	})
}

// SetHeterogeneousAddress records a member's address on an external chain
func (r *Registry) SetHeterogeneousAddress(
	agent string,
	externalChainID uint16,
	addr string,
	height uint64,
	txn *database.Txn,
) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	m, ok := r.byAgent[agent]
	if !ok {
		return fmt.Errorf("%w: %s", ErrNotMember, agent)
	}
	err := r.db.SetHeterogeneousAddress(&models.HeterogeneousAddress{
		PackingAddress:  m.PackingAddress,
		ExternalChainID: externalChainID,
		Address:         addr,
		AddedHeight:     height,
	}, txn)
	if err != nil {
		return fmt.Errorf("set heterogeneous address: %w", err)
	}
	if m.HeterogeneousAddresses == nil {
		m.HeterogeneousAddresses = make(map[uint16]string)
	}
	m.HeterogeneousAddresses[externalChainID] = addr
	return nil
}

// DeleteHeterogeneousAddress drops a member's external chain address
func (r *Registry) DeleteHeterogeneousAddress(
	agent string,
	externalChainID uint16,
	txn *database.Txn,
) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	m, ok := r.byAgent[agent]
	if !ok {
		return fmt.Errorf("%w: %s", ErrNotMember, agent)
	}
	if err := r.db.DeleteHeterogeneousAddress(m.PackingAddress, externalChainID, txn); err != nil {
		return fmt.Errorf("delete heterogeneous address: %w", err)
	}
	delete(m.HeterogeneousAddresses, externalChainID)
	return nil
}

// SnapshotAt returns the committee as it stood after the block at height
// was applied
func (r *Registry) SnapshotAt(height uint64) Snapshot {
	r.mu.RLock()
	defer r.mu.RUnlock()
	ret := Snapshot{Height: height}
	for _, m := range r.members {
		if m.JoinHeight <= height {
			ret.members = append(ret.members, m.clone())
		}
	}
	for _, rm := range r.removed {
		if rm.member.JoinHeight <= height && height < rm.removedHeight {
			ret.members = append(ret.members, rm.member.clone())
		}
	}
	slices.SortFunc(ret.members, func(a, b Member) int {
		switch {
		case a.Position < b.Position:
			return -1
		case a.Position > b.Position:
			return 1
		}
		return 0
	})
	return ret
}

// Current returns a snapshot of the current committee
func (r *Registry) Current() Snapshot {
	r.mu.RLock()
	defer r.mu.RUnlock()
	ret := Snapshot{Height: ^uint64(0)}
	for _, m := range r.members {
		ret.members = append(ret.members, m.clone())
	}
	return ret
}
