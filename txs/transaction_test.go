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

package txs_test

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/blinklabs-io/vbank/txs"
)

func TestTransactionHashIgnoresSignatures(t *testing.T) {
	tx, err := txs.New(
		txs.KindDeposit,
		1700000000,
		&txs.DepositData{
			Address: "vb1abc",
			Asset:   txs.NewAssetRef(1, 1),
			Amount:  100,
		},
		nil,
		nil,
	)
	require.NoError(t, err)
	before := tx.Hash()
	require.False(t, before.IsZero())
	tx.AddSignature([]byte{0x01}, []byte{0x02})
	assert.Equal(t, before, tx.Hash())

	data, err := tx.Encode()
	require.NoError(t, err)
	decoded, err := txs.Decode(data)
	require.NoError(t, err)
	assert.Equal(t, before, decoded.Hash())
	assert.Equal(t, 1, decoded.Signatures.Len())

	payload, err := txs.DecodePayload[txs.DepositData](decoded)
	require.NoError(t, err)
	assert.Equal(t, uint64(100), payload.Amount)
	assert.Equal(t, "1-1", payload.Asset.String())
}

func TestTransactionHashDiffersByContent(t *testing.T) {
	a, err := txs.New(txs.KindDeposit, 1, &txs.DepositData{Amount: 1}, nil, nil)
	require.NoError(t, err)
	b, err := txs.New(txs.KindDeposit, 1, &txs.DepositData{Amount: 2}, nil, nil)
	require.NoError(t, err)
	c, err := txs.New(txs.KindCancelDeposit, 1, &txs.DepositData{Amount: 1}, nil, nil)
	require.NoError(t, err)
	assert.NotEqual(t, a.Hash(), b.Hash())
	assert.NotEqual(t, a.Hash(), c.Hash())
}

func TestDecodePayloadMalformed(t *testing.T) {
	tx := &txs.Transaction{Type: txs.KindDeposit, TxData: []byte{0xff, 0x00}}
	_, err := txs.DecodePayload[txs.DepositData](tx)
	require.ErrorIs(t, err, txs.ErrMalformedPayload)

	empty := &txs.Transaction{Type: txs.KindDeposit}
	_, err = txs.DecodePayload[txs.DepositData](empty)
	require.ErrorIs(t, err, txs.ErrMalformedPayload)
}

func TestParseAssetRef(t *testing.T) {
	ref, err := txs.ParseAssetRef("9-12")
	require.NoError(t, err)
	assert.Equal(t, txs.NewAssetRef(9, 12), ref)

	for _, bad := range []string{"", "9", "x-1", "1-70000"} {
		_, err := txs.ParseAssetRef(bad)
		require.ErrorIs(t, err, txs.ErrInvalidAssetRef, bad)
	}
}

func TestBlockArchiveRoundTrip(t *testing.T) {
	tx, err := txs.New(txs.KindRecharge, 5, &txs.RechargeData{
		ExternalChainID: 101,
		ExternalTxHash:  "0xabc",
		To:              "vb1xyz",
		Amount:          7,
	}, nil, nil)
	require.NoError(t, err)
	header := txs.BlockHeader{Height: 12, Time: 5, Hash: []byte{0x01}}
	blk, err := txs.NewBlock(header, []*txs.Transaction{tx}, txs.SyncStatusLive)
	require.NoError(t, err)
	data, err := blk.Encode()
	require.NoError(t, err)
	decoded, err := txs.DecodeBlock(data)
	require.NoError(t, err)
	assert.Equal(t, uint64(12), decoded.Header.Height)
	assert.Equal(t, txs.SyncStatusLive, decoded.SyncStatus)
	list, err := decoded.Txs()
	require.NoError(t, err)
	require.Len(t, list, 1)
	assert.Equal(t, tx.Hash(), list[0].Hash())
}

func TestKindString(t *testing.T) {
	assert.Equal(t, "ChangeVirtualBank", txs.KindChangeVirtualBank.String())
	assert.Equal(t, "Kind(999)", txs.Kind(999).String())
}

func TestAddAmounts(t *testing.T) {
	tests := []struct {
		name    string
		amounts []uint64
		want    uint64
		wantErr bool
	}{
		{name: "empty", want: 0},
		{name: "sum", amounts: []uint64{1, 2, 3}, want: 6},
		{name: "at max", amounts: []uint64{txs.MaxAmount - 1, 1}, want: txs.MaxAmount},
		{name: "above max", amounts: []uint64{txs.MaxAmount, 1}, wantErr: true},
		{name: "single above max", amounts: []uint64{1 << 63}, wantErr: true},
		{name: "wraps", amounts: []uint64{600, math.MaxUint64 - 100}, wantErr: true},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			got, err := txs.AddAmounts(tc.amounts...)
			if tc.wantErr {
				require.ErrorIs(t, err, txs.ErrAmountOverflow)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tc.want, got)
		})
	}
}

func TestCoinDataSumsOverflow(t *testing.T) {
	asset := txs.NewAssetRef(1, 1)
	coins := &txs.CoinData{
		From: []txs.CoinFrom{
			{Address: "vb1a", Asset: asset, Amount: math.MaxUint64},
			{Address: "vb1a", Asset: asset, Amount: 11},
		},
		To: []txs.CoinTo{
			{Address: "vb1b", Asset: asset, Amount: 4},
			{Address: "vb1b", Asset: asset, Amount: 6},
			{Address: "vb1c", Asset: asset, Amount: 1 << 63},
		},
	}
	_, err := coins.FromAmount("vb1a", asset)
	require.ErrorIs(t, err, txs.ErrAmountOverflow)
	got, err := coins.ToAmount("vb1b", asset)
	require.NoError(t, err)
	assert.Equal(t, uint64(10), got)
	_, err = coins.ToAmount("vb1c", asset)
	require.ErrorIs(t, err, txs.ErrAmountOverflow)

	var none *txs.CoinData
	got, err = none.FromAmount("vb1a", asset)
	require.NoError(t, err)
	assert.Zero(t, got)
}
