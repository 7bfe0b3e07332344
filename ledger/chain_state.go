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
	"errors"
	"fmt"
	"io"
	"log/slog"
	"slices"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/blinklabs-io/vbank/committee"
	"github.com/blinklabs-io/vbank/database"
	"github.com/blinklabs-io/vbank/database/models"
	"github.com/blinklabs-io/vbank/docking"
	"github.com/blinklabs-io/vbank/event"
	"github.com/blinklabs-io/vbank/outbox"
	"github.com/blinklabs-io/vbank/txs"
)

const (
	DefaultTimeSkew             = 1 * time.Hour
	DefaultMaxBankMembers       = 15
	DefaultProposalVotingPeriod = 1000
	DefaultArchiveDepth         = 1000

	flagCurrentMember    = "current_member"
	flagPendingReconcile = "pending_reconcile"
	// Prefix of the flags a transaction replaced, keyed by its hash
	flagUndoPrefix = "local_flags_undo:"
)

// StakingAsset is an asset accepted for deposits. Cap is the most that may
// be staked in total, zero for no cap.
type StakingAsset struct {
	Asset      txs.AssetRef
	MinDeposit uint64
	Cap        uint64
}

// ChainConfig is the per-chain protocol configuration
type ChainConfig struct {
	StakingAssets        []StakingAsset
	Seeds                []committee.Seed
	AddressPrefix        string
	TimeSkew             time.Duration
	MaxBankMembers       int
	ProposalVotingPeriod uint64
	ArchiveDepth         uint64
	ChainID              uint16
}

func (c *ChainConfig) applyDefaults() {
	if c.TimeSkew <= 0 {
		c.TimeSkew = DefaultTimeSkew
	}
	if c.MaxBankMembers <= 0 {
		c.MaxBankMembers = DefaultMaxBankMembers
	}
	if c.ProposalVotingPeriod == 0 {
		c.ProposalVotingPeriod = DefaultProposalVotingPeriod
	}
	if c.ArchiveDepth == 0 {
		c.ArchiveDepth = DefaultArchiveDepth
	}
}

// StakingAsset returns the staking configuration of an asset
func (c ChainConfig) StakingAsset(asset txs.AssetRef) (StakingAsset, bool) {
	idx := slices.IndexFunc(c.StakingAssets, func(a StakingAsset) bool {
		return a.Asset == asset
	})
	if idx < 0 {
		return StakingAsset{}, false
	}
	return c.StakingAssets[idx], true
}

type ChainStateConfig struct {
	Database     *database.Database
	Adapters     *docking.Registry
	Candidates   committee.CandidateSource
	Verifier     committee.SignatureVerifier
	Logger       *slog.Logger
	PromRegistry prometheus.Registerer
	Config       ChainConfig
}

type pendingEvent struct {
	data      any
	eventType event.EventType
}

// ChainState is everything a processor may read or mutate for one chain.
// Block application on a chain is serialized by the Coordinator.
type ChainState struct {
	db               *database.Database
	committee        *committee.Registry
	quorum           *committee.QuorumValidator
	adapters         *docking.Registry
	candidates       committee.CandidateSource
	handshake        *docking.Handshake
	outbox           *outbox.Queue
	logger           *slog.Logger
	tip              *models.Tip
	halted           error
	pending          []pendingEvent
	config           ChainConfig
	applyMu          sync.Mutex
	mu               sync.RWMutex
	notifyOutbox     bool
	currentMember    bool
	pendingReconcile bool
}

func NewChainState(cfg ChainStateConfig) (*ChainState, error) {
	if cfg.Database == nil {
		return nil, errors.New("chain state requires a database")
	}
	cfg.Config.applyDefaults()
	cs := &ChainState{
		config:     cfg.Config,
		db:         cfg.Database,
		adapters:   cfg.Adapters,
		candidates: cfg.Candidates,
		logger:     cfg.Logger,
	}
	if cs.logger == nil {
		cs.logger = slog.New(slog.NewJSONHandler(io.Discard, nil))
	}
	cs.logger = cs.logger.With("chain", cfg.Config.ChainID)
	if cs.adapters == nil {
		cs.adapters = docking.NewRegistry()
	}
	reg, err := committee.NewRegistry(committee.RegistryConfig{
		Database:      cfg.Database,
		Logger:        cs.logger,
		PromRegistry:  cfg.PromRegistry,
		AddressPrefix: cfg.Config.AddressPrefix,
		ChainID:       cfg.Config.ChainID,
	})
	if err != nil {
		return nil, fmt.Errorf("load committee: %w", err)
	}
	if err := reg.EnsureSeeds(cfg.Config.Seeds, nil); err != nil {
		return nil, fmt.Errorf("install seed members: %w", err)
	}
	cs.config.AddressPrefix = reg.AddressPrefix()
	cs.committee = reg
	cs.quorum = committee.NewQuorumValidator(reg, cfg.Verifier)
	cs.handshake = docking.NewHandshake(cfg.Database, cs.adapters, cs.logger)
	cs.outbox, err = outbox.NewQueue(outbox.QueueConfig{
		Database:     cfg.Database,
		Logger:       cs.logger,
		PromRegistry: cfg.PromRegistry,
		ChainID:      cfg.Config.ChainID,
	})
	if err != nil {
		return nil, err
	}
	if err := cs.loadLocal(); err != nil {
		return nil, err
	}
	return cs, nil
}

func (cs *ChainState) ChainID() uint16 {
	return cs.config.ChainID
}

func (cs *ChainState) Config() ChainConfig {
	return cs.config
}

func (cs *ChainState) DB() *database.Database {
	return cs.db
}

func (cs *ChainState) Committee() *committee.Registry {
	return cs.committee
}

func (cs *ChainState) Quorum() *committee.QuorumValidator {
	return cs.quorum
}

func (cs *ChainState) Adapters() *docking.Registry {
	return cs.adapters
}

func (cs *ChainState) Handshake() *docking.Handshake {
	return cs.handshake
}

func (cs *ChainState) Outbox() *outbox.Queue {
	return cs.outbox
}

func (cs *ChainState) Logger() *slog.Logger {
	return cs.logger
}

// CandidateList returns the consensus candidates at height. Without a
// candidate source there are none.
func (cs *ChainState) CandidateList(height uint64) ([]committee.CandidateInfo, error) {
	if cs.candidates == nil {
		return nil, nil
	}
	return cs.candidates.GetCandidateList(cs.config.ChainID, height)
}

// LocalIdentity returns this node's signing identity, or nil when it does
// not sign for the chain
func (cs *ChainState) LocalIdentity() (*committee.SignIdentity, error) {
	if cs.candidates == nil {
		return nil, nil
	}
	return cs.candidates.GetLocalSigningIdentity(cs.config.ChainID)
}

// Tip returns the last applied block, or false before the first block
func (cs *ChainState) Tip() (models.Tip, bool) {
	cs.mu.RLock()
	defer cs.mu.RUnlock()
	if cs.tip == nil {
		return models.Tip{}, false
	}
	return *cs.tip, true
}

func (cs *ChainState) setTip(tip *models.Tip) {
	cs.mu.Lock()
	defer cs.mu.Unlock()
	cs.tip = tip
}

// Halted returns the failure that halted the chain, if any
func (cs *ChainState) Halted() error {
	cs.mu.RLock()
	defer cs.mu.RUnlock()
	return cs.halted
}

func (cs *ChainState) setHalted(err error) {
	cs.mu.Lock()
	defer cs.mu.Unlock()
	cs.halted = err
}

// ApplyLocker returns the lock held while blocks are applied or reverted
func (cs *ChainState) ApplyLocker() sync.Locker {
	return &cs.applyMu
}

// CurrentMember reports whether this node is a committee member
func (cs *ChainState) CurrentMember() bool {
	cs.mu.RLock()
	defer cs.mu.RUnlock()
	return cs.currentMember
}

// PendingReconcile reports whether this node still owes external address
// registration after joining the committee
func (cs *ChainState) PendingReconcile() bool {
	cs.mu.RLock()
	defer cs.mu.RUnlock()
	return cs.pendingReconcile
}

// SetLocalFlags updates the local membership flags as a saga effect
func (cs *ChainState) SetLocalFlags(
	saga *Saga,
	txn *database.Txn,
	currentMember bool,
	pendingReconcile bool,
) error {
	cs.mu.RLock()
	prevMember, prevPending := cs.currentMember, cs.pendingReconcile
	cs.mu.RUnlock()
	return saga.Apply(txn, Effect{
		Name: "local-flags",
		Apply: func(txn *database.Txn) error {
			return cs.storeFlags(currentMember, pendingReconcile, txn)
		},
		Revert: func(txn *database.Txn) error {
			return cs.storeFlags(prevMember, prevPending, txn)
		},
	})
}

// ChangeLocalFlags sets the local flags on behalf of a transaction and
// stores the flags it replaced for RestoreLocalFlags
func (cs *ChainState) ChangeLocalFlags(
	saga *Saga,
	txn *database.Txn,
	txHash txs.Hash,
	currentMember bool,
	pendingReconcile bool,
) error {
	cs.mu.RLock()
	prev := encodeFlags(cs.currentMember, cs.pendingReconcile)
	cs.mu.RUnlock()
	name := flagUndoPrefix + txHash.String()
	err := saga.Apply(txn, Effect{
		Name: "local-flags-undo:" + txHash.String(),
		Apply: func(txn *database.Txn) error {
			return Storage(cs.db.SetNodeState(name, prev, txn))
		},
		Revert: func(txn *database.Txn) error {
			return Storage(cs.db.DeleteNodeState(name, txn))
		},
	})
	if err != nil {
		return err
	}
	return cs.SetLocalFlags(saga, txn, currentMember, pendingReconcile)
}

// RestoreLocalFlags puts back the local flags a transaction replaced through
// ChangeLocalFlags. It is a no-op for a transaction that changed none.
func (cs *ChainState) RestoreLocalFlags(saga *Saga, txn *database.Txn, txHash txs.Hash) error {
	name := flagUndoPrefix + txHash.String()
	val, err := cs.db.GetNodeState(name, txn)
	if err != nil {
		return Storage(err)
	}
	if val == "" {
		return nil
	}
	currentMember, pendingReconcile, err := decodeFlags(val)
	if err != nil {
		return fmt.Errorf("%w: local flags replaced by %s: %w", ErrInternal, txHash, err)
	}
	if err := cs.SetLocalFlags(saga, txn, currentMember, pendingReconcile); err != nil {
		return err
	}
	return saga.Apply(txn, Effect{
		Name: "local-flags-restore:" + txHash.String(),
		Apply: func(txn *database.Txn) error {
			return Storage(cs.db.DeleteNodeState(name, txn))
		},
		Revert: func(txn *database.Txn) error {
			return Storage(cs.db.SetNodeState(name, val, txn))
		},
	})
}

func encodeFlags(currentMember, pendingReconcile bool) string {
	return strconv.FormatBool(currentMember) + "," + strconv.FormatBool(pendingReconcile)
}

func decodeFlags(val string) (bool, bool, error) {
	memberStr, pendingStr, ok := strings.Cut(val, ",")
	if !ok {
		return false, false, fmt.Errorf("malformed flags %q", val)
	}
	member, err := strconv.ParseBool(memberStr)
	if err != nil {
		return false, false, err
	}
	pending, err := strconv.ParseBool(pendingStr)
	if err != nil {
		return false, false, err
	}
	return member, pending, nil
}

// SetPendingReconcile updates the reconcile flag outside of block
// application
func (cs *ChainState) SetPendingReconcile(pending bool, txn *database.Txn) error {
	if err := cs.db.SetNodeFlag(flagPendingReconcile, pending, txn); err != nil {
		return Storage(err)
	}
	cs.mu.Lock()
	cs.pendingReconcile = pending
	cs.mu.Unlock()
	return nil
}

func (cs *ChainState) storeFlags(
	currentMember bool,
	pendingReconcile bool,
	txn *database.Txn,
) error {
	if err := cs.db.SetNodeFlag(flagCurrentMember, currentMember, txn); err != nil {
		return Storage(err)
	}
	if err := cs.db.SetNodeFlag(flagPendingReconcile, pendingReconcile, txn); err != nil {
		return Storage(err)
	}
	cs.mu.Lock()
	cs.currentMember = currentMember
	cs.pendingReconcile = pendingReconcile
	cs.mu.Unlock()
	return nil
}

// loadLocal reads the tip and local flags. Without a stored membership flag
// it is derived from the committee.
func (cs *ChainState) loadLocal() error {
	var tip *models.Tip
	t, err := cs.db.GetTip(nil)
	switch {
	case err == nil:
		tip = t
	case errors.Is(err, models.ErrTipNotFound):
	default:
		return fmt.Errorf("load tip: %w", err)
	}
	member, err := cs.db.GetNodeState(flagCurrentMember, nil)
	if err != nil {
		return fmt.Errorf("load local flags: %w", err)
	}
	currentMember := member == "true"
	if member == "" {
		id, err := cs.LocalIdentity()
		if err != nil {
			return fmt.Errorf("load local identity: %w", err)
		}
		if id != nil {
			_, currentMember = cs.committee.MemberByPacking(id.Address)
		}
	}
	pendingReconcile, err := cs.db.GetNodeFlag(flagPendingReconcile, nil)
	if err != nil {
		return fmt.Errorf("load local flags: %w", err)
	}
	cs.mu.Lock()
	defer cs.mu.Unlock()
	cs.tip = tip
	cs.currentMember = currentMember
	cs.pendingReconcile = pendingReconcile
	return nil
}

// Reload replaces all in-memory state with what is in storage
func (cs *ChainState) Reload() error {
	if err := cs.committee.Load(nil); err != nil {
		return err
	}
	return cs.loadLocal()
}

// ShouldEnqueue reports whether external follow-up work is owed for a block
// applied with syncStatus by a node that is, or was before the block, a
// committee member
func (cs *ChainState) ShouldEnqueue(syncStatus txs.SyncStatus, wasMember bool) bool {
	if syncStatus != txs.SyncStatusLive {
		return false
	}
	return wasMember || cs.CurrentMember()
}

// Enqueue adds an outbox entry as a saga effect. An entry already pending
// under the same key is left alone and not removed on revert.
func (cs *ChainState) Enqueue(saga *Saga, txn *database.Txn, entry outbox.Entry) error {
	var added bool
	return saga.Apply(txn, Effect{
		Name: "outbox:" + entry.Key,
		Apply: func(txn *database.Txn) error {
			var err error
			added, err = cs.outbox.Enqueue(entry, txn)
			if err != nil {
				return Storage(err)
			}
			if added {
				cs.notifyOutbox = true
				cs.Emit(event.OutboxEnqueuedEventType, event.OutboxEvent{
					ChainID: cs.config.ChainID,
					Key:     entry.Key,
					Action:  entry.Action.String(),
				})
			}
			return nil
		},
		Revert: func(txn *database.Txn) error {
			if !added {
				return nil
			}
			return Storage(cs.outbox.Remove(entry.Key, txn))
		},
	})
}

// Dequeue removes a pending outbox entry as a saga effect and reports
// whether one was pending
func (cs *ChainState) Dequeue(saga *Saga, txn *database.Txn, key string) (bool, error) {
	prev, err := cs.outbox.Get(key, txn)
	if err != nil {
		if errors.Is(err, models.ErrOutboxEntryNotFound) {
			return false, nil
		}
		return false, Storage(err)
	}
	err = saga.Apply(txn, Effect{
		Name: "outbox-remove:" + key,
		Apply: func(txn *database.Txn) error {
			cs.notifyOutbox = true
			return Storage(cs.outbox.Remove(key, txn))
		},
		Revert: func(txn *database.Txn) error {
			_, err := cs.outbox.Enqueue(*prev, txn)
			return Storage(err)
		},
	})
	return err == nil, err
}

// Emit queues an event for publication once the block commits
func (cs *ChainState) Emit(eventType event.EventType, data any) {
	cs.pending = append(cs.pending, pendingEvent{eventType: eventType, data: data})
}

func (cs *ChainState) takePending() ([]pendingEvent, bool) {
	events, notify := cs.pending, cs.notifyOutbox
	cs.pending = nil
	cs.notifyOutbox = false
	return events, notify
}
