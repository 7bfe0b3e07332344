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

// Package address derives and validates the bech32 account addresses used
// for agents, packing (signing) identities and depositors.
package address

import (
	"errors"
	"fmt"

	"github.com/btcsuite/btcd/btcutil/bech32"
	"golang.org/x/crypto/blake2b"
)

// KeyHashSize is the size of the public key hash carried in an address
const KeyHashSize = 20

// DefaultPrefix is the human-readable part used when a chain does not configure one
const DefaultPrefix = "vb"

var (
	ErrInvalidAddress   = errors.New("invalid address")
	ErrPrefixMismatch   = errors.New("address prefix mismatch")
	ErrEmptyPublicKey   = errors.New("empty public key")
	ErrInvalidKeyHashSz = errors.New("invalid key hash size")
)

// KeyHash returns the blake2b-160 hash of a public key
func KeyHash(pubKey []byte) ([]byte, error) {
	if len(pubKey) == 0 {
		return nil, ErrEmptyPublicKey
	}
	h, err := blake2b.New(KeyHashSize, nil)
	if err != nil {
		return nil, err
	}
	h.Write(pubKey)
	return h.Sum(nil), nil
}

// FromKeyHash encodes a key hash as a bech32 address with the given prefix
func FromKeyHash(prefix string, keyHash []byte) (string, error) {
	if len(keyHash) != KeyHashSize {
		return "", fmt.Errorf("%w: %d", ErrInvalidKeyHashSz, len(keyHash))
	}
	conv, err := bech32.ConvertBits(keyHash, 8, 5, true)
	if err != nil {
		return "", err
	}
	return bech32.Encode(prefix, conv)
}

// FromPublicKey derives the address controlled by the given public key
func FromPublicKey(prefix string, pubKey []byte) (string, error) {
	keyHash, err := KeyHash(pubKey)
	if err != nil {
		return "", err
	}
	return FromKeyHash(prefix, keyHash)
}

// Decode returns the key hash carried by an address after checking its prefix
func Decode(prefix string, addr string) ([]byte, error) {
	hrp, data, err := bech32.Decode(addr)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidAddress, err)
	}
	if hrp != prefix {
		return nil, fmt.Errorf(
			"%w: expected %q, got %q",
			ErrPrefixMismatch,
			prefix,
			hrp,
		)
	}
	keyHash, err := bech32.ConvertBits(data, 5, 8, false)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidAddress, err)
	}
	if len(keyHash) != KeyHashSize {
		return nil, fmt.Errorf("%w: %w", ErrInvalidAddress, ErrInvalidKeyHashSz)
	}
	return keyHash, nil
}

// Validate checks that addr is a well-formed address for the given prefix
func Validate(prefix string, addr string) error {
	_, err := Decode(prefix, addr)
	return err
}

// MatchesPublicKey reports whether addr is derived from pubKey
func MatchesPublicKey(prefix string, addr string, pubKey []byte) bool {
	derived, err := FromPublicKey(prefix, pubKey)
	if err != nil {
		return false
	}
	return derived == addr
}
