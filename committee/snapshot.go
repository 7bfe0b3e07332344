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

// SignerSet names which members must sign a committee transaction
type SignerSet uint8

const (
	SignerSetFullCommittee SignerSet = iota
	SignerSetSeedOnly
)

func (s SignerSet) String() string {
	switch s {
	case SignerSetFullCommittee:
		return "full-committee"
	case SignerSetSeedOnly:
		return "seed-only"
	default:
		return "unknown"
	}
}

// Snapshot is the committee at one height
type Snapshot struct {
	members []Member
	Height  uint64
}

func (s Snapshot) Members() []Member {
	return s.members
}

func (s Snapshot) Size() int {
	return len(s.members)
}

// Contains reports whether agent is a member in the snapshot
func (s Snapshot) Contains(agent string) bool {
	for _, m := range s.members {
		if m.AgentAddress == agent {
			return true
		}
	}
	return false
}

// ContainsPacking reports whether a member signs with the packing address
func (s Snapshot) ContainsPacking(packing string) bool {
	for _, m := range s.members {
		if m.PackingAddress == packing {
			return true
		}
	}
	return false
}

// PackingAddresses returns the signing addresses of the given signer set
func (s Snapshot) PackingAddresses(set SignerSet) map[string]struct{} {
	ret := make(map[string]struct{}, len(s.members))
	for _, m := range s.members {
		if set == SignerSetSeedOnly && !m.IsSeed {
			continue
		}
		ret[m.PackingAddress] = struct{}{}
	}
	return ret
}
