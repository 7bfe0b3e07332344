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

package testutil

import (
	"testing"

	"github.com/decred/dcrd/dcrec/secp256k1/v4"
	"github.com/decred/dcrd/dcrec/secp256k1/v4/ecdsa"
	"github.com/stretchr/testify/require"

	"github.com/blinklabs-io/vbank/address"
	"github.com/blinklabs-io/vbank/txs"
)

// TestPrefix is the address prefix used by test chains
const TestPrefix = address.DefaultPrefix

// Key is a secp256k1 signing key for tests
type Key struct {
	priv *secp256k1.PrivateKey
	// PublicKey is the compressed public key
	PublicKey []byte
	Address   string
}

// NewKey derives a deterministic key from seed, which must be nonzero
func NewKey(t testing.TB, seed byte) *Key {
	t.Helper()
	require.NotZero(t, seed, "key seed must be nonzero")
	raw := make([]byte, 32)
	raw[31] = seed
	raw[0] = 0x11
	priv := secp256k1.PrivKeyFromBytes(raw)
	pub := priv.PubKey().SerializeCompressed()
	addr, err := address.FromPublicKey(TestPrefix, pub)
	require.NoError(t, err)
	return &Key{priv: priv, PublicKey: pub, Address: addr}
}

// NewKeys returns n distinct keys with seeds starting at first
func NewKeys(t testing.TB, first byte, n int) []*Key {
	t.Helper()
	ret := make([]*Key, 0, n)
	for i := range n {
		ret = append(ret, NewKey(t, first+byte(i))) //nolint:gosec
	}
	return ret
}

// SignDigest returns a DER signature over digest
func (k *Key) SignDigest(digest []byte) []byte {
	return ecdsa.Sign(k.priv, digest).Serialize()
}

// Sign adds a signature from each key to tx
func Sign(tx *txs.Transaction, keys ...*Key) {
	for _, k := range keys {
		tx.AddSignature(k.PublicKey, k.SignDigest(tx.SigningDigest()))
	}
}
