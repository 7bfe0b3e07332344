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

package types

import (
	"encoding/binary"
)

const (
	BlockBlobKeyPrefix = "bk"
)

func BlockBlobKeyUint64ToBytes(input uint64) []byte {
	ret := make([]byte, 8)
	binary.BigEndian.PutUint64(ret, input)
	return ret
}

// BlockBlobKey returns the archive key for the block applied at height.
// Keys sort by height.
func BlockBlobKey(height uint64) []byte {
	key := []byte(BlockBlobKeyPrefix)
	key = append(key, BlockBlobKeyUint64ToBytes(height)...)
	return key
}

// BlockBlobKeyHeight extracts the height from a block archive key
func BlockBlobKeyHeight(key []byte) (uint64, bool) {
	if len(key) != len(BlockBlobKeyPrefix)+8 {
		return 0, false
	}
	if string(key[:len(BlockBlobKeyPrefix)]) != BlockBlobKeyPrefix {
		return 0, false
	}
	return binary.BigEndian.Uint64(key[len(BlockBlobKeyPrefix):]), true
}
