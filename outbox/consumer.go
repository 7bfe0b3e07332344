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

package outbox

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"time"

	"github.com/blinklabs-io/vbank/event"
)

const (
	DefaultBackoffMin   = 500 * time.Millisecond
	DefaultBackoffMax   = 1 * time.Minute
	DefaultPollInterval = 5 * time.Second

	// caps the backoff exponent to avoid overflow
	backoffCap = 16
)

var ErrConsumerRunning = errors.New("outbox consumer already running")

// Executor performs the external side effect of an entry. It must record its
// own progress durably, as an entry may be executed again after a crash.
type Executor interface {
	Execute(ctx context.Context, entry Entry) error
}

type ExecutorFunc func(ctx context.Context, entry Entry) error

func (f ExecutorFunc) Execute(ctx context.Context, entry Entry) error {
	return f(ctx, entry)
}

type ConsumerConfig struct {
	Queue    *Queue
	Executor Executor
	Logger   *slog.Logger
	EventBus *event.EventBus
	// Lock is held from loading an entry until its outcome is recorded.
	// Rollbacks that remove entries must hold it too.
	Lock         sync.Locker
	BackoffMin   time.Duration
	BackoffMax   time.Duration
	PollInterval time.Duration
}

// Consumer drains a Queue in enqueue order. The head entry is retried until
// it succeeds or is removed by a rollback.
type Consumer struct {
	config    ConsumerConfig
	logger    *slog.Logger
	cancel    context.CancelFunc
	wg        sync.WaitGroup
	mu        sync.Mutex
	processMu sync.Mutex
	running   bool
}

func NewConsumer(cfg ConsumerConfig) (*Consumer, error) {
	if cfg.Queue == nil {
		return nil, errors.New("outbox consumer requires a queue")
	}
	if cfg.Executor == nil {
		return nil, errors.New("outbox consumer requires an executor")
	}
	if cfg.BackoffMin <= 0 {
		cfg.BackoffMin = DefaultBackoffMin
	}
	if cfg.BackoffMax < cfg.BackoffMin {
		cfg.BackoffMax = max(DefaultBackoffMax, cfg.BackoffMin)
	}
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = DefaultPollInterval
	}
	c := &Consumer{
		config: cfg,
		logger: cfg.Logger,
	}
	if c.logger == nil {
		c.logger = slog.New(slog.NewJSONHandler(io.Discard, nil))
	}
	c.logger = c.logger.With(
		"component", "outbox",
		"chain", cfg.Queue.ChainID(),
	)
	return c, nil
}

// Start runs the consumer loop until Stop is called or ctx is cancelled
func (c *Consumer) Start(ctx context.Context) error {
	c.mu.Lock()
	if c.running {
		c.mu.Unlock()
		return ErrConsumerRunning
	}
	c.running = true
	ctx, cancel := context.WithCancel(ctx)
	c.cancel = cancel
	c.wg.Add(1)
	c.mu.Unlock()
	c.logger.Debug("outbox consumer started")
	go c.run(ctx)
	return nil
}

// Stop blocks until the consumer loop has exited
func (c *Consumer) Stop() {
	c.mu.Lock()
	if !c.running {
		c.mu.Unlock()
		return
	}
	c.running = false
	if c.cancel != nil {
		c.cancel()
	}
	c.mu.Unlock()
	c.wg.Wait()
	c.logger.Debug("outbox consumer stopped")
}

func (c *Consumer) IsRunning() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.running
}

func (c *Consumer) run(ctx context.Context) {
	defer c.wg.Done()
	defer func() {
		c.mu.Lock()
		c.running = false
		c.mu.Unlock()
	}()
	consecutiveErrors := 0
	for {
		processed, err := c.ProcessOnce(ctx)
		if ctx.Err() != nil {
			return
		}
		var wait time.Duration
		switch {
		case err != nil:
			consecutiveErrors++
			wait = c.backoff(consecutiveErrors)
			c.logger.Debug(
				fmt.Sprintf(
					"outbox: backing off for %v after %d consecutive errors",
					wait,
					consecutiveErrors,
				),
			)
		case processed:
			consecutiveErrors = 0
			continue
		default:
			consecutiveErrors = 0
			wait = c.config.PollInterval
		}
		timer := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			timer.Stop()
			return
		case <-c.config.Queue.wake:
			// A rollback may have removed the failing head entry
			timer.Stop()
			consecutiveErrors = max(consecutiveErrors-1, 0)
		case <-timer.C:
		}
	}
}

// backoff returns the wait after the given number of consecutive failures
func (c *Consumer) backoff(consecutiveErrors int) time.Duration {
	if consecutiveErrors <= 0 {
		return c.config.BackoffMin
	}
	exponent := min(consecutiveErrors-1, backoffCap)
	return min(c.config.BackoffMin<<exponent, c.config.BackoffMax)
}

// ProcessOnce executes the head entry of the queue. It reports whether an
// entry was completed, and returns the executor error on failure.
func (c *Consumer) ProcessOnce(ctx context.Context) (bool, error) {
	c.processMu.Lock()
	defer c.processMu.Unlock()
	entry, processed, err := c.processHead(ctx)
	if err != nil || !processed {
		return false, err
	}
	if c.config.EventBus != nil {
		c.config.EventBus.Publish(
			event.OutboxCompletedEventType,
			event.NewEvent(
				event.OutboxCompletedEventType,
				event.OutboxEvent{
					ChainID: c.config.Queue.ChainID(),
					Key:     entry.Key,
					Action:  entry.Action.String(),
				},
			),
		)
	}
	return true, nil
}

func (c *Consumer) processHead(ctx context.Context) (Entry, bool, error) {
	if c.config.Lock != nil {
		c.config.Lock.Lock()
		defer c.config.Lock.Unlock()
	}
	q := c.config.Queue
	entries, err := q.Pending(1, nil)
	if err != nil {
		c.logger.Error(
			"failed to load outbox entries",
			"error", err,
		)
		return Entry{}, false, err
	}
	if len(entries) == 0 {
		return Entry{}, false, nil
	}
	entry := entries[0]
	if q.metrics != nil {
		q.metrics.attempts.Inc()
	}
	if err := c.config.Executor.Execute(ctx, entry); err != nil {
		if q.metrics != nil {
			q.metrics.failures.Inc()
		}
		attempts := entry.Attempts + 1
		c.logger.Warn(
			"outbox entry failed",
			"key", entry.Key,
			"action", entry.Action.String(),
			"attempts", attempts,
			"error", err,
		)
		if recErr := q.recordFailure(entry, attempts, err); recErr != nil {
			c.logger.Error(
				"failed to record outbox failure",
				"key", entry.Key,
				"error", recErr,
			)
		}
		return entry, false, fmt.Errorf("outbox entry %s: %w", entry.Key, err)
	}
	if err := q.complete(entry); err != nil {
		c.logger.Error(
			"failed to remove completed outbox entry",
			"key", entry.Key,
			"error", err,
		)
		return entry, false, err
	}
	q.updateDepth()
	if q.metrics != nil {
		q.metrics.completed.Inc()
	}
	c.logger.Debug(
		"outbox entry completed",
		"key", entry.Key,
		"action", entry.Action.String(),
	)
	return entry, true, nil
}
