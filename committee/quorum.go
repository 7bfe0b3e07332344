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
	"errors"
	"fmt"

	"github.com/decred/dcrd/dcrec/secp256k1/v4"
	"github.com/decred/dcrd/dcrec/secp256k1/v4/ecdsa"

	"github.com/blinklabs-io/vbank/address"
	"github.com/blinklabs-io/vbank/txs"
)

var (
	ErrQuorumNotMet   = errors.New("signature quorum not met")
	ErrEmptySignerSet = errors.New("signer set is empty")
	ErrNotSigned      = errors.New("transaction not signed by owner")
)

// HasQuorum reports whether k signers out of n satisfy the Byzantine
// threshold, strictly more than two thirds
func HasQuorum(k, n int) bool {
	return n > 0 && 3*k > 2*n
}

// Threshold returns the smallest k for which HasQuorum(k, n) holds
func Threshold(n int) int {
	return 2*n/3 + 1
}

// SignatureVerifier checks a signature over a digest
type SignatureVerifier interface {
	Verify(pubKey []byte, digest []byte, sig []byte) bool
}

// Secp256k1Verifier verifies DER-encoded ECDSA signatures on secp256k1
type Secp256k1Verifier struct{}

func (Secp256k1Verifier) Verify(pubKey []byte, digest []byte, sig []byte) bool {
	pk, err := secp256k1.ParsePubKey(pubKey)
	if err != nil {
		return false
	}
	s, err := ecdsa.ParseDERSignature(sig)
	if err != nil {
		return false
	}
	return s.Verify(digest, pk)
}

// QuorumValidator checks committee signatures on transactions against the
// registry snapshot of the block being validated
type QuorumValidator struct {
	registry *Registry
	verifier SignatureVerifier
}

func NewQuorumValidator(
	registry *Registry,
	verifier SignatureVerifier,
) *QuorumValidator {
	if verifier == nil {
		verifier = Secp256k1Verifier{}
	}
	return &QuorumValidator{registry: registry, verifier: verifier}
}

func (q *QuorumValidator) Verifier() SignatureVerifier {
	return q.verifier
}

// SnapshotFor returns the committee a transaction in a block with the given
// header was produced under: the committee after the previous block. A nil
// header means the current committee.
func (q *QuorumValidator) SnapshotFor(header *txs.BlockHeader) Snapshot {
	if header == nil {
		return q.registry.Current()
	}
	if header.Height == 0 {
		return q.registry.SnapshotAt(0)
	}
	return q.registry.SnapshotAt(header.Height - 1)
}

// CountSigners returns the number of distinct addresses in allowed with a
// valid signature on tx
func (q *QuorumValidator) CountSigners(
	tx *txs.Transaction,
	allowed map[string]struct{},
) int {
	digest := tx.SigningDigest()
	seen := make(map[string]struct{})
	for _, entry := range tx.Signatures.Signatures {
		addr, err := address.FromPublicKey(q.registry.AddressPrefix(), entry.PublicKey)
		if err != nil {
			continue
		}
		if _, ok := allowed[addr]; !ok {
			continue
		}
		if _, ok := seen[addr]; ok {
			continue
		}
		if !q.verifier.Verify(entry.PublicKey, digest, entry.Signature) {
			continue
		}
		seen[addr] = struct{}{}
	}
	return len(seen)
}

// Validate checks that tx carries a quorum of signatures from the signer set
// at the header's height
func (q *QuorumValidator) Validate(
	tx *txs.Transaction,
	set SignerSet,
	header *txs.BlockHeader,
) error {
	allowed := q.SnapshotFor(header).PackingAddresses(set)
	n := len(allowed)
	if n == 0 {
		return fmt.Errorf("%w: %s", ErrEmptySignerSet, set)
	}
	k := q.CountSigners(tx, allowed)
	if !HasQuorum(k, n) {
		return fmt.Errorf(
			"%w: %d of %d %s signers, need %d",
			ErrQuorumNotMet,
			k,
			n,
			set,
			Threshold(n),
		)
	}
	return nil
}

// SignedBy reports whether tx carries a valid signature from the key behind
// addr
func SignedBy(
	verifier SignatureVerifier,
	prefix string,
	tx *txs.Transaction,
	addr string,
) bool {
	digest := tx.SigningDigest()
	for _, entry := range tx.Signatures.Signatures {
		if !address.MatchesPublicKey(prefix, addr, entry.PublicKey) {
			continue
		}
		if verifier.Verify(entry.PublicKey, digest, entry.Signature) {
			return true
		}
	}
	return false
}

// VerifyOwner returns ErrNotSigned unless tx is signed by addr
func VerifyOwner(
	verifier SignatureVerifier,
	prefix string,
	tx *txs.Transaction,
	addr string,
) error {
	if !SignedBy(verifier, prefix, tx, addr) {
		return fmt.Errorf("%w: %s", ErrNotSigned, addr)
	}
	return nil
}
