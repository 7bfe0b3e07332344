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

package committee

import (
	"cmp"
	"slices"
	"sync"

	"github.com/blinklabs-io/vbank/address"
)

// CandidateInfo is a consensus node that may join the committee. RedCarded
// marks a candidate punished for a protocol violation.
type CandidateInfo struct {
	AgentAddress   string
	PackingAddress string
	RewardAddress  string
	SignPublicKey  []byte
	Stake          uint64
	RedCarded      bool
}

// SignIdentity is the local node's signing identity on a chain
type SignIdentity struct {
	Address   string
	PublicKey []byte
}

// CandidateSource supplies consensus data the committee depends on
type CandidateSource interface {
	GetCandidateList(chainID uint16, height uint64) ([]CandidateInfo, error)
	// GetLocalSigningIdentity returns nil when this node does not sign
	GetLocalSigningIdentity(chainID uint16) (*SignIdentity, error)
}

// RankCandidates returns the top n candidates that are not seeds, are not
// red-carded and whose public key resolves to their packing address. Ties in
// stake are broken by agent address.
func RankCandidates(
	candidates []CandidateInfo,
	seeds map[string]struct{},
	prefix string,
	n int,
) []CandidateInfo {
	ret := make([]CandidateInfo, 0, len(candidates))
	for _, c := range candidates {
		if _, ok := seeds[c.AgentAddress]; ok {
			continue
		}
		if c.RedCarded {
			continue
		}
		if !address.MatchesPublicKey(prefix, c.PackingAddress, c.SignPublicKey) {
			continue
		}
		ret = append(ret, c)
	}
	slices.SortFunc(ret, func(a, b CandidateInfo) int {
		if c := cmp.Compare(b.Stake, a.Stake); c != 0 {
			return c
		}
		return cmp.Compare(a.AgentAddress, b.AgentAddress)
	})
	if n >= 0 && len(ret) > n {
		ret = ret[:n]
	}
	return ret
}

// FindCandidate returns the candidate with the given agent address
func FindCandidate(candidates []CandidateInfo, agent string) (CandidateInfo, bool) {
	idx := slices.IndexFunc(candidates, func(c CandidateInfo) bool {
		return c.AgentAddress == agent
	})
	if idx < 0 {
		return CandidateInfo{}, false
	}
	return candidates[idx], true
}

// StaticCandidateSource serves a fixed candidate list, for configured
// deployments and tests. The height argument is ignored.
type StaticCandidateSource struct {
	candidates map[uint16][]CandidateInfo
	local      map[uint16]*SignIdentity
	mu         sync.RWMutex
}

func NewStaticCandidateSource() *StaticCandidateSource {
	return &StaticCandidateSource{
		candidates: make(map[uint16][]CandidateInfo),
		local:      make(map[uint16]*SignIdentity),
	}
}

// SetCandidates replaces the candidate list of a chain
func (s *StaticCandidateSource) SetCandidates(chainID uint16, list []CandidateInfo) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.candidates[chainID] = slices.Clone(list)
}

// SetRedCard flags or clears red-card punishment on a candidate
func (s *StaticCandidateSource) SetRedCard(chainID uint16, agent string, redCarded bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i := range s.candidates[chainID] {
		if s.candidates[chainID][i].AgentAddress == agent {
			s.candidates[chainID][i].RedCarded = redCarded
		}
	}
}

func (s *StaticCandidateSource) SetLocalIdentity(chainID uint16, id *SignIdentity) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.local[chainID] = id
}

func (s *StaticCandidateSource) GetCandidateList(
	chainID uint16,
	_ uint64,
) ([]CandidateInfo, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return slices.Clone(s.candidates[chainID]), nil
}

func (s *StaticCandidateSource) GetLocalSigningIdentity(
	chainID uint16,
) (*SignIdentity, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.local[chainID], nil
}
