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

package outbox_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	promtestutil "github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"github.com/blinklabs-io/vbank/database"
	"github.com/blinklabs-io/vbank/internal/test/testutil"
	"github.com/blinklabs-io/vbank/outbox"
	"github.com/blinklabs-io/vbank/txs"
)

type recordingExecutor struct {
	mu       sync.Mutex
	keys     []string
	failures map[string]int
	hook     func(outbox.Entry)
	done     chan string
}

func newRecordingExecutor() *recordingExecutor {
	return &recordingExecutor{
		failures: make(map[string]int),
		done:     make(chan string, 16),
	}
}

func (r *recordingExecutor) Execute(_ context.Context, entry outbox.Entry) error {
	r.mu.Lock()
	if r.failures[entry.Key] > 0 {
		r.failures[entry.Key]--
		r.mu.Unlock()
		return errors.New("external chain unavailable")
	}
	r.keys = append(r.keys, entry.Key)
	hook := r.hook
	r.mu.Unlock()
	if hook != nil {
		hook(entry)
	}
	select {
	case r.done <- entry.Key:
	default:
	}
	return nil
}

func (r *recordingExecutor) executed() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.keys...)
}

func setupQueue(t *testing.T) (*database.Database, *outbox.Queue) {
	t.Helper()
	db := testutil.NewTestDatabase(t)
	q, err := outbox.NewQueue(outbox.QueueConfig{Database: db, ChainID: 1})
	require.NoError(t, err)
	return db, q
}

func testEntry(t *testing.T, action outbox.Action, key string) outbox.Entry {
	t.Helper()
	tx, err := txs.New(
		txs.KindRecharge,
		1700000000,
		&txs.RechargeData{ExternalChainID: 101, ExternalTxHash: key},
		nil,
		nil,
	)
	require.NoError(t, err)
	return outbox.Entry{
		Key:             outbox.EntryKey(action, key),
		Action:          action,
		Tx:              tx,
		Header:          txs.BlockHeader{Height: 7, Time: 1700000000},
		Height:          7,
		SyncStatus:      txs.SyncStatusLive,
		IsCurrentMember: true,
		ExternalChainID: 101,
		ExternalTxHash:  key,
	}
}

func TestQueueEnqueueDedupe(t *testing.T) {
	_, q := setupQueue(t)
	entry := testEntry(t, outbox.ActionConfirm, "0xaa")

	added, err := q.Enqueue(entry, nil)
	require.NoError(t, err)
	assert.True(t, added)
	added, err = q.Enqueue(entry, nil)
	require.NoError(t, err)
	assert.False(t, added, "same key must not be enqueued twice")

	// Different action, same external hash
	added, err = q.Enqueue(testEntry(t, outbox.ActionConfirmRollback, "0xaa"), nil)
	require.NoError(t, err)
	assert.True(t, added)

	n, err := q.Len()
	require.NoError(t, err)
	assert.Equal(t, int64(2), n)

	_, err = q.Enqueue(outbox.Entry{}, nil)
	require.Error(t, err)
}

func TestQueueEntryRoundTrip(t *testing.T) {
	_, q := setupQueue(t)
	entry := testEntry(t, outbox.ActionWithdraw, "0xbb")
	_, err := q.Enqueue(entry, nil)
	require.NoError(t, err)

	got, err := q.Get(entry.Key, nil)
	require.NoError(t, err)
	assert.Equal(t, outbox.ActionWithdraw, got.Action)
	assert.Equal(t, entry.Tx.Hash(), got.Tx.Hash())
	assert.Equal(t, uint64(7), got.Header.Height)
	assert.Equal(t, txs.SyncStatusLive, got.SyncStatus)
	assert.True(t, got.IsCurrentMember)
	assert.Equal(t, uint16(101), got.ExternalChainID)
	assert.NotZero(t, got.ID)
}

func TestQueueEnqueueFollowsTransaction(t *testing.T) {
	db, q := setupQueue(t)
	txn := db.Transaction(true)
	_, err := q.Enqueue(testEntry(t, outbox.ActionConfirm, "0x01"), txn)
	require.NoError(t, err)
	require.NoError(t, txn.Rollback())

	n, err := q.Len()
	require.NoError(t, err)
	assert.Equal(t, int64(0), n)
}

func TestConsumerProcessesInEnqueueOrder(t *testing.T) {
	_, q := setupQueue(t)
	keys := []string{"0x03", "0x01", "0x02"}
	for _, k := range keys {
		_, err := q.Enqueue(testEntry(t, outbox.ActionConfirm, k), nil)
		require.NoError(t, err)
	}
	exec := newRecordingExecutor()
	c, err := outbox.NewConsumer(outbox.ConsumerConfig{Queue: q, Executor: exec})
	require.NoError(t, err)

	for range keys {
		processed, err := c.ProcessOnce(context.Background())
		require.NoError(t, err)
		require.True(t, processed)
	}
	processed, err := c.ProcessOnce(context.Background())
	require.NoError(t, err)
	assert.False(t, processed)

	assert.Equal(t, []string{
		outbox.EntryKey(outbox.ActionConfirm, "0x03"),
		outbox.EntryKey(outbox.ActionConfirm, "0x01"),
		outbox.EntryKey(outbox.ActionConfirm, "0x02"),
	}, exec.executed())
}

func TestConsumerRetriesFailedHead(t *testing.T) {
	_, q := setupQueue(t)
	first := testEntry(t, outbox.ActionConfirm, "0x01")
	second := testEntry(t, outbox.ActionConfirm, "0x02")
	for _, e := range []outbox.Entry{first, second} {
		_, err := q.Enqueue(e, nil)
		require.NoError(t, err)
	}
	exec := newRecordingExecutor()
	exec.failures[first.Key] = 2
	c, err := outbox.NewConsumer(outbox.ConsumerConfig{Queue: q, Executor: exec})
	require.NoError(t, err)

	for i := range 2 {
		processed, err := c.ProcessOnce(context.Background())
		require.Error(t, err, "attempt %d", i)
		assert.False(t, processed)
	}
	stored, err := q.Get(first.Key, nil)
	require.NoError(t, err)
	assert.Equal(t, uint32(2), stored.Attempts)
	assert.Contains(t, stored.LastError, "unavailable")
	assert.Empty(t, exec.executed(), "later entries wait for the head")

	for range 2 {
		processed, err := c.ProcessOnce(context.Background())
		require.NoError(t, err)
		require.True(t, processed)
	}
	assert.Equal(t, []string{first.Key, second.Key}, exec.executed())
}

func TestConsumerSkipsEntryRemovedByRollback(t *testing.T) {
	_, q := setupQueue(t)
	entry := testEntry(t, outbox.ActionConfirm, "0x01")
	_, err := q.Enqueue(entry, nil)
	require.NoError(t, err)
	require.NoError(t, q.Remove(entry.Key, nil))

	exec := newRecordingExecutor()
	c, err := outbox.NewConsumer(outbox.ConsumerConfig{Queue: q, Executor: exec})
	require.NoError(t, err)
	processed, err := c.ProcessOnce(context.Background())
	require.NoError(t, err)
	assert.False(t, processed)
	assert.Empty(t, exec.executed())
}

func TestConsumerHoldsLockWhileExecuting(t *testing.T) {
	_, q := setupQueue(t)
	_, err := q.Enqueue(testEntry(t, outbox.ActionConfirm, "0x01"), nil)
	require.NoError(t, err)

	var lock sync.Mutex
	exec := newRecordingExecutor()
	exec.hook = func(outbox.Entry) {
		assert.False(t, lock.TryLock(), "lock free during execution")
	}
	c, err := outbox.NewConsumer(outbox.ConsumerConfig{Queue: q, Executor: exec, Lock: &lock})
	require.NoError(t, err)
	processed, err := c.ProcessOnce(context.Background())
	require.NoError(t, err)
	assert.True(t, processed)
	require.True(t, lock.TryLock(), "lock still held after completion")
	lock.Unlock()
}

func TestConsumerKeepsReenqueuedEntry(t *testing.T) {
	_, q := setupQueue(t)
	entry := testEntry(t, outbox.ActionConfirm, "0x01")
	_, err := q.Enqueue(entry, nil)
	require.NoError(t, err)

	exec := newRecordingExecutor()
	// A reorg removes and re-adds the entry while it is being executed
	exec.hook = func(e outbox.Entry) {
		exec.hook = nil
		require.NoError(t, q.Remove(e.Key, nil))
		_, err := q.Enqueue(testEntry(t, outbox.ActionConfirm, "0x02"), nil)
		require.NoError(t, err)
		_, err = q.Enqueue(entry, nil)
		require.NoError(t, err)
	}
	c, err := outbox.NewConsumer(outbox.ConsumerConfig{Queue: q, Executor: exec})
	require.NoError(t, err)

	processed, err := c.ProcessOnce(context.Background())
	require.NoError(t, err)
	assert.True(t, processed)

	stored, err := q.Get(entry.Key, nil)
	require.NoError(t, err, "re-enqueued entry must survive")
	assert.Equal(t, entry.Key, stored.Key)
}

func TestConsumerResumesAfterRestart(t *testing.T) {
	db, q := setupQueue(t)
	for _, k := range []string{"0x01", "0x02"} {
		_, err := q.Enqueue(testEntry(t, outbox.ActionConfirm, k), nil)
		require.NoError(t, err)
	}
	exec := newRecordingExecutor()
	exec.failures[outbox.EntryKey(outbox.ActionConfirm, "0x01")] = 1
	c, err := outbox.NewConsumer(outbox.ConsumerConfig{Queue: q, Executor: exec})
	require.NoError(t, err)
	_, err = c.ProcessOnce(context.Background())
	require.Error(t, err)

	// New queue and consumer over the same storage
	q2, err := outbox.NewQueue(outbox.QueueConfig{Database: db, ChainID: 1})
	require.NoError(t, err)
	c2, err := outbox.NewConsumer(outbox.ConsumerConfig{Queue: q2, Executor: exec})
	require.NoError(t, err)
	for range 2 {
		processed, err := c2.ProcessOnce(context.Background())
		require.NoError(t, err)
		require.True(t, processed)
	}
	assert.Equal(t, []string{
		outbox.EntryKey(outbox.ActionConfirm, "0x01"),
		outbox.EntryKey(outbox.ActionConfirm, "0x02"),
	}, exec.executed())
}

func TestConsumerStartStop(t *testing.T) {
	_, q := setupQueue(t)
	defer goleak.VerifyNone(t, goleak.IgnoreCurrent())

	exec := newRecordingExecutor()
	exec.failures[outbox.EntryKey(outbox.ActionConfirm, "0x01")] = 1
	c, err := outbox.NewConsumer(outbox.ConsumerConfig{
		Queue:        q,
		Executor:     exec,
		BackoffMin:   5 * time.Millisecond,
		BackoffMax:   20 * time.Millisecond,
		PollInterval: time.Hour,
	})
	require.NoError(t, err)
	require.NoError(t, c.Start(context.Background()))
	require.ErrorIs(t, c.Start(context.Background()), outbox.ErrConsumerRunning)
	assert.True(t, c.IsRunning())

	_, err = q.Enqueue(testEntry(t, outbox.ActionConfirm, "0x01"), nil)
	require.NoError(t, err)
	q.Notify()

	key := testutil.RequireReceive(t, exec.done, 2*time.Second, "entry executed")
	assert.Equal(t, outbox.EntryKey(outbox.ActionConfirm, "0x01"), key)
	testutil.WaitForCondition(t, func() bool {
		n, err := q.Len()
		return err == nil && n == 0
	}, 2*time.Second, "queue drained")

	c.Stop()
	assert.False(t, c.IsRunning())
	c.Stop()
}

func TestQueueMetrics(t *testing.T) {
	db := testutil.NewTestDatabase(t)
	reg := prometheus.NewRegistry()
	q, err := outbox.NewQueue(outbox.QueueConfig{
		Database:     db,
		ChainID:      3,
		PromRegistry: reg,
	})
	require.NoError(t, err)
	_, err = q.Enqueue(testEntry(t, outbox.ActionConfirm, "0x01"), nil)
	require.NoError(t, err)
	q.Notify()

	exec := newRecordingExecutor()
	c, err := outbox.NewConsumer(outbox.ConsumerConfig{Queue: q, Executor: exec})
	require.NoError(t, err)
	_, err = c.ProcessOnce(context.Background())
	require.NoError(t, err)

	count, err := promtestutil.GatherAndCount(
		reg,
		"vbank_outbox_depth",
		"vbank_outbox_attempts_total",
		"vbank_outbox_completed_total",
	)
	require.NoError(t, err)
	assert.Equal(t, 3, count)
}

func TestActionString(t *testing.T) {
	assert.Equal(t, "confirm", outbox.ActionConfirm.String())
	assert.Equal(t, "change-bank", outbox.ActionChangeBank.String())
	assert.Equal(t, "action(9)", outbox.Action(9).String())
	assert.Equal(t, "withdraw:0xab", outbox.EntryKey(outbox.ActionWithdraw, "0xab"))
}
