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

package event_test

import (
	"sync/atomic"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/blinklabs-io/vbank/event"
)

func TestEventBusSingleSubscriber(t *testing.T) {
	eb := event.NewEventBus(nil, nil)
	defer eb.Stop()
	_, subCh := eb.Subscribe(event.BlockAppliedEventType)
	eb.Publish(
		event.BlockAppliedEventType,
		event.NewEvent(
			event.BlockAppliedEventType,
			event.BlockAppliedEvent{ChainID: 1, Height: 42},
		),
	)
	select {
	case evt, ok := <-subCh:
		require.True(t, ok, "event channel closed unexpectedly")
		data, ok := evt.Data.(event.BlockAppliedEvent)
		require.True(t, ok, "unexpected event data type %T", evt.Data)
		assert.Equal(t, uint64(42), data.Height)
	case <-time.After(1 * time.Second):
		t.Fatal("timeout waiting for event")
	}
}

func TestEventBusMultipleSubscribers(t *testing.T) {
	eb := event.NewEventBus(nil, nil)
	defer eb.Stop()
	_, sub1Ch := eb.Subscribe(event.CommitteeChangedEventType)
	_, sub2Ch := eb.Subscribe(event.CommitteeChangedEventType)
	eb.Publish(
		event.CommitteeChangedEventType,
		event.NewEvent(event.CommitteeChangedEventType, 7),
	)
	for _, ch := range []<-chan event.Event{sub1Ch, sub2Ch} {
		select {
		case evt := <-ch:
			assert.Equal(t, 7, evt.Data)
		case <-time.After(1 * time.Second):
			t.Fatal("timeout waiting for event")
		}
	}
}

func TestEventBusUnsubscribe(t *testing.T) {
	eb := event.NewEventBus(nil, nil)
	defer eb.Stop()
	subId, subCh := eb.Subscribe(event.OutboxEnqueuedEventType)
	eb.Unsubscribe(event.OutboxEnqueuedEventType, subId)
	eb.Publish(
		event.OutboxEnqueuedEventType,
		event.NewEvent(event.OutboxEnqueuedEventType, nil),
	)
	select {
	case _, ok := <-subCh:
		assert.False(t, ok, "received event after unsubscribe")
	case <-time.After(1 * time.Second):
		t.Fatal("subscriber channel was not closed after Unsubscribe")
	}
	// Unknown ids are ignored
	eb.Unsubscribe(event.OutboxEnqueuedEventType, subId)
}

func TestEventBusStopAndReuse(t *testing.T) {
	eb := event.NewEventBus(nil, nil)
	_, subCh := eb.Subscribe(event.BlockRevertedEventType)
	eb.Stop()
	select {
	case _, ok := <-subCh:
		assert.False(t, ok)
	case <-time.After(1 * time.Second):
		t.Fatal("subscriber channel was not closed by Stop")
	}

	_, subCh = eb.Subscribe(event.BlockRevertedEventType)
	require.True(t, eb.PublishAsync(
		event.BlockRevertedEventType,
		event.NewEvent(event.BlockRevertedEventType, "again"),
	))
	select {
	case evt := <-subCh:
		assert.Equal(t, "again", evt.Data)
	case <-time.After(1 * time.Second):
		t.Fatal("timeout waiting for async event")
	}
	eb.Stop()
}

func TestSubscribeFuncPanicRecovery(t *testing.T) {
	eb := event.NewEventBus(nil, nil)
	defer eb.Stop()

	var received atomic.Int32
	eb.SubscribeFunc(event.ChainHaltedEventType, func(evt event.Event) {
		if received.Add(1) == 1 {
			panic("handler failure")
		}
	})
	eb.Publish(
		event.ChainHaltedEventType,
		event.NewEvent(event.ChainHaltedEventType, 1),
	)
	eb.Publish(
		event.ChainHaltedEventType,
		event.NewEvent(event.ChainHaltedEventType, 2),
	)
	require.Eventually(t, func() bool {
		return received.Load() >= 2
	}, 2*time.Second, 10*time.Millisecond)
}

func TestEventBusMetrics(t *testing.T) {
	reg := prometheus.NewRegistry()
	eb := event.NewEventBus(reg, nil)
	defer eb.Stop()
	subId, _ := eb.Subscribe(event.BlockAppliedEventType)
	eb.Publish(
		event.BlockAppliedEventType,
		event.NewEvent(event.BlockAppliedEventType, nil),
	)
	count, err := testutil.GatherAndCount(reg, "vbank_event_published_total")
	require.NoError(t, err)
	assert.Equal(t, 1, count)
	eb.Unsubscribe(event.BlockAppliedEventType, subId)
}
