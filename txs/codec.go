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

package txs

import (
	"fmt"

	"github.com/fxamacker/cbor/v2"
)

var (
	encMode cbor.EncMode
	decMode cbor.DecMode
)

func init() {
	var err error
	encMode, err = cbor.CanonicalEncOptions().EncMode()
	if err != nil {
		panic(fmt.Sprintf("failed to create CBOR encoder: %s", err))
	}
	decMode, err = cbor.DecOptions{
		DupMapKey: cbor.DupMapKeyEnforcedAPF,
	}.DecMode()
	if err != nil {
		panic(fmt.Sprintf("failed to create CBOR decoder: %s", err))
	}
}

// EncodePayload returns the canonical CBOR encoding of a payload
func EncodePayload(v any) ([]byte, error) {
	data, err := encMode.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrMalformedPayload, err)
	}
	return data, nil
}

// DecodePayload decodes the TxData of tx into a new T
func DecodePayload[T any](tx *Transaction) (*T, error) {
	if tx == nil || len(tx.TxData) == 0 {
		return nil, fmt.Errorf("%w: empty tx data", ErrMalformedPayload)
	}
	ret := new(T)
	if err := decMode.Unmarshal(tx.TxData, ret); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrMalformedPayload, err)
	}
	return ret, nil
}

// Block is an applied block as archived for reorg rollback
type Block struct {
	_            struct{} `cbor:",toarray"`
	Header       BlockHeader
	Transactions [][]byte
	SyncStatus   SyncStatus
}

// NewBlock encodes the given transactions into an archivable block
func NewBlock(
	header BlockHeader,
	txList []*Transaction,
	syncStatus SyncStatus,
) (*Block, error) {
	b := &Block{
		Header:       header,
		Transactions: make([][]byte, 0, len(txList)),
		SyncStatus:   syncStatus,
	}
	for _, tx := range txList {
		data, err := tx.Encode()
		if err != nil {
			return nil, err
		}
		b.Transactions = append(b.Transactions, data)
	}
	return b, nil
}

// Txs decodes the archived transactions
func (b *Block) Txs() ([]*Transaction, error) {
	ret := make([]*Transaction, 0, len(b.Transactions))
	for _, data := range b.Transactions {
		tx, err := Decode(data)
		if err != nil {
			return nil, err
		}
		ret = append(ret, tx)
	}
	return ret, nil
}

func (b *Block) Encode() ([]byte, error) {
	return encMode.Marshal(b)
}

func DecodeBlock(data []byte) (*Block, error) {
	var b Block
	if err := decMode.Unmarshal(data, &b); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrMalformedTransaction, err)
	}
	return &b, nil
}

// EncodeHeader returns the CBOR encoding of a block header
func EncodeHeader(h BlockHeader) ([]byte, error) {
	return encMode.Marshal(h)
}

// DecodeHeader parses a CBOR-encoded block header
func DecodeHeader(data []byte) (BlockHeader, error) {
	var h BlockHeader
	if err := decMode.Unmarshal(data, &h); err != nil {
		return h, fmt.Errorf("%w: %w", ErrMalformedTransaction, err)
	}
	return h, nil
}
