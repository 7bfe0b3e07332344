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

// Package txs holds the transaction model shared by every processor: the
// immutable transaction envelope, block headers, coin data and the typed
// payloads carried in TxData.
package txs

import (
	"encoding/hex"
	"errors"
	"fmt"
	"math"
	"math/bits"
	"slices"
	"strconv"
	"strings"

	"golang.org/x/crypto/blake2b"
)

const (
	// HashSize is the size of a transaction hash
	HashSize = 32
	// MaxAmount is the largest amount or running total the stores can hold
	MaxAmount uint64 = math.MaxInt64
)

var (
	ErrMalformedTransaction = errors.New("malformed transaction")
	ErrMalformedPayload     = errors.New("malformed payload")
	ErrInvalidHash          = errors.New("invalid hash")
	ErrInvalidAssetRef      = errors.New("invalid asset reference")
	ErrAmountOverflow       = errors.New("amount overflow")
)

// Hash is a blake2b-256 transaction hash
type Hash [HashSize]byte

func (h Hash) String() string {
	return hex.EncodeToString(h[:])
}

func (h Hash) Bytes() []byte {
	return slices.Clone(h[:])
}

func (h Hash) IsZero() bool {
	return h == Hash{}
}

// ParseHash decodes a hex transaction hash
func ParseHash(s string) (Hash, error) {
	var ret Hash
	b, err := hex.DecodeString(s)
	if err != nil {
		return ret, fmt.Errorf("%w: %w", ErrInvalidHash, err)
	}
	if len(b) != HashSize {
		return ret, fmt.Errorf("%w: length %d", ErrInvalidHash, len(b))
	}
	copy(ret[:], b)
	return ret, nil
}

// HashFromBytes copies b into a Hash
func HashFromBytes(b []byte) (Hash, error) {
	var ret Hash
	if len(b) != HashSize {
		return ret, fmt.Errorf("%w: length %d", ErrInvalidHash, len(b))
	}
	copy(ret[:], b)
	return ret, nil
}

// AssetRef identifies an asset by its issuing chain and asset id
type AssetRef struct {
	_       struct{} `cbor:",toarray"`
	ChainID uint16
	AssetID uint16
}

func NewAssetRef(chainID, assetID uint16) AssetRef {
	return AssetRef{ChainID: chainID, AssetID: assetID}
}

func (a AssetRef) String() string {
	return fmt.Sprintf("%d-%d", a.ChainID, a.AssetID)
}

// ParseAssetRef parses the "<chain>-<asset>" form
func ParseAssetRef(s string) (AssetRef, error) {
	chainStr, assetStr, ok := strings.Cut(s, "-")
	if !ok {
		return AssetRef{}, fmt.Errorf("%w: %q", ErrInvalidAssetRef, s)
	}
	chainID, err := strconv.ParseUint(chainStr, 10, 16)
	if err != nil {
		return AssetRef{}, fmt.Errorf("%w: %q", ErrInvalidAssetRef, s)
	}
	assetID, err := strconv.ParseUint(assetStr, 10, 16)
	if err != nil {
		return AssetRef{}, fmt.Errorf("%w: %q", ErrInvalidAssetRef, s)
	}
	return NewAssetRef(uint16(chainID), uint16(assetID)), nil
}

type CoinFrom struct {
	_       struct{} `cbor:",toarray"`
	Address string
	Asset   AssetRef
	Amount  uint64
}

type CoinTo struct {
	_        struct{} `cbor:",toarray"`
	Address  string
	Asset    AssetRef
	Amount   uint64
	LockTime int64
}

// CoinData records the asset movement of a transaction
type CoinData struct {
	_    struct{} `cbor:",toarray"`
	From []CoinFrom
	To   []CoinTo
}

// AddAmounts sums amounts, failing when the total goes above MaxAmount
func AddAmounts(amounts ...uint64) (uint64, error) {
	var total uint64
	for _, a := range amounts {
		sum, carry := bits.Add64(total, a, 0)
		if carry != 0 || sum > MaxAmount {
			return 0, fmt.Errorf("%w: %d + %d", ErrAmountOverflow, total, a)
		}
		total = sum
	}
	return total, nil
}

// FromAmount sums the inputs spent by addr in the given asset
func (c *CoinData) FromAmount(addr string, asset AssetRef) (uint64, error) {
	if c == nil {
		return 0, nil
	}
	var total uint64
	for _, f := range c.From {
		if f.Address != addr || f.Asset != asset {
			continue
		}
		var err error
		if total, err = AddAmounts(total, f.Amount); err != nil {
			return 0, err
		}
	}
	return total, nil
}

// ToAmount sums the outputs paid to addr in the given asset
func (c *CoinData) ToAmount(addr string, asset AssetRef) (uint64, error) {
	if c == nil {
		return 0, nil
	}
	var total uint64
	for _, o := range c.To {
		if o.Address != addr || o.Asset != asset {
			continue
		}
		var err error
		if total, err = AddAmounts(total, o.Amount); err != nil {
			return 0, err
		}
	}
	return total, nil
}

// SignatureEntry is one signer's signature over the transaction hash
type SignatureEntry struct {
	_         struct{} `cbor:",toarray"`
	PublicKey []byte
	Signature []byte
}

// SignatureBundle is the set of signatures attached to a transaction
type SignatureBundle struct {
	_          struct{} `cbor:",toarray"`
	Signatures []SignatureEntry
}

func (b SignatureBundle) Len() int {
	return len(b.Signatures)
}

// BlockHeader carries the block context a transaction is applied under
type BlockHeader struct {
	_          struct{} `cbor:",toarray"`
	Height     uint64
	Time       int64
	Hash       []byte
	RoundIndex uint64
}

// txBody is the hashed portion of a transaction
type txBody struct {
	_        struct{} `cbor:",toarray"`
	Type     Kind
	Time     int64
	TxData   []byte
	CoinData *CoinData
	Remark   []byte
}

type txWire struct {
	_          struct{} `cbor:",toarray"`
	Body       txBody
	Signatures SignatureBundle
}

// Transaction is an immutable ledger transaction. Only the signature bundle
// may be extended after construction; it is not covered by the hash.
type Transaction struct {
	Type       Kind
	Time       int64
	TxData     []byte
	CoinData   *CoinData
	Remark     []byte
	Signatures SignatureBundle
	hash       Hash
}

// New builds a transaction with the CBOR encoding of payload as its TxData
func New(
	kind Kind,
	txTime int64,
	payload any,
	coinData *CoinData,
	remark []byte,
) (*Transaction, error) {
	var txData []byte
	if payload != nil {
		var err error
		txData, err = EncodePayload(payload)
		if err != nil {
			return nil, err
		}
	}
	tx := &Transaction{
		Type:     kind,
		Time:     txTime,
		TxData:   txData,
		CoinData: coinData,
		Remark:   remark,
	}
	h, err := tx.computeHash()
	if err != nil {
		return nil, err
	}
	tx.hash = h
	return tx, nil
}

func (t *Transaction) body() txBody {
	return txBody{
		Type:     t.Type,
		Time:     t.Time,
		TxData:   t.TxData,
		CoinData: t.CoinData,
		Remark:   t.Remark,
	}
}

func (t *Transaction) computeHash() (Hash, error) {
	data, err := encMode.Marshal(t.body())
	if err != nil {
		return Hash{}, fmt.Errorf("%w: %w", ErrMalformedTransaction, err)
	}
	return blake2b.Sum256(data), nil
}

// Hash returns the transaction hash
func (t *Transaction) Hash() Hash {
	if !t.hash.IsZero() {
		return t.hash
	}
	h, err := t.computeHash()
	if err != nil {
		return Hash{}
	}
	return h
}

// SigningDigest is the message every signer signs
func (t *Transaction) SigningDigest() []byte {
	h := t.Hash()
	return h[:]
}

// AddSignature appends a signature to the bundle
func (t *Transaction) AddSignature(pubKey []byte, sig []byte) {
	t.Signatures.Signatures = append(
		t.Signatures.Signatures,
		SignatureEntry{PublicKey: pubKey, Signature: sig},
	)
}

// Encode returns the canonical CBOR encoding of the transaction
func (t *Transaction) Encode() ([]byte, error) {
	return encMode.Marshal(txWire{Body: t.body(), Signatures: t.Signatures})
}

// Decode parses a CBOR-encoded transaction
func Decode(data []byte) (*Transaction, error) {
	var w txWire
	if err := decMode.Unmarshal(data, &w); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrMalformedTransaction, err)
	}
	tx := &Transaction{
		Type:       w.Body.Type,
		Time:       w.Body.Time,
		TxData:     w.Body.TxData,
		CoinData:   w.Body.CoinData,
		Remark:     w.Body.Remark,
		Signatures: w.Signatures,
	}
	h, err := tx.computeHash()
	if err != nil {
		return nil, err
	}
	tx.hash = h
	return tx, nil
}
