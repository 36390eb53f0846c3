// Copyright 2025 Poiesic Systems
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


// Package pipeline runs a consume, transform, publish and commit loop
// for one stage of the document pipeline.
package pipeline

import (
	"context"
	"fmt"
	"hash/fnv"
	"log/slog"
	"runtime"
	"sync"
	"time"

	"github.com/panjf2000/ants/v2"
	"github.com/poiesic/docflow/broker"
	"github.com/poiesic/docflow/core"
	"github.com/poiesic/docflow/metrics"
	"github.com/poiesic/docflow/retry"
)

const (
	DefaultCommitBatch        = 100
	DefaultCheckpointInterval = 5 * time.Second
)

// Outcome is what a handler produced for one delivery.
type Outcome struct {
	Messages []broker.Message

	// AfterPublish, if set, runs once Messages are acknowledged and before
	// the delivery is committed. An error stops the runner.
	AfterPublish func(ctx context.Context) error
}

// Handler transforms one delivery into its outcome.
// Per-record faults must be expressed as output records; a returned error
// stops the runner and leaves the batch uncommitted.
type Handler func(ctx context.Context, d broker.Delivery) (Outcome, error)

// Emit is an Outcome carrying only msgs.
func Emit(msgs ...broker.Message) Outcome {
	return Outcome{Messages: msgs}
}

// Runner consumes deliveries in batches and processes them on lanes.
//
// Deliveries with the same key always land on the same lane and are
// handled one at a time in arrival order. Outputs are published in
// arrival order, and offsets are committed only after the publish
// succeeded.
type Runner struct {
	name        string
	subscriber  broker.Subscriber
	publisher   broker.Publisher
	handler     Handler
	pool        *ants.Pool
	parallelism int
	batchSize   int
	interval    time.Duration
	policy      retry.Policy
	metrics     *metrics.Metrics
	logger      *slog.Logger
}

// Option configures a Runner.
type Option func(*Runner) error

// WithParallelism sets the number of lanes.
// Default is runtime.NumCPU() / 2, with a minimum of 1.
func WithParallelism(n int) Option {
	return func(r *Runner) error {
		if n < 1 {
			n = 1
		}
		r.parallelism = n
		return nil
	}
}

// WithCommitBatch sets the maximum number of deliveries per batch.
func WithCommitBatch(n int) Option {
	return func(r *Runner) error {
		if n < 1 {
			return fmt.Errorf("%w: commit batch %d", ErrInvalidOption, n)
		}
		r.batchSize = n
		return nil
	}
}

// WithCheckpointInterval sets how long a poll waits to fill a batch.
func WithCheckpointInterval(d time.Duration) Option {
	return func(r *Runner) error {
		if d < 0 {
			return fmt.Errorf("%w: checkpoint interval %s", ErrInvalidOption, d)
		}
		r.interval = d
		return nil
	}
}

// WithRetryPolicy sets the policy for publish and commit calls.
func WithRetryPolicy(p retry.Policy) Option {
	return func(r *Runner) error {
		r.policy = p
		return nil
	}
}

// WithMetrics records batches and stage health.
func WithMetrics(m *metrics.Metrics) Option {
	return func(r *Runner) error {
		r.metrics = m
		return nil
	}
}

// WithLogger sets a custom logger.
// Default is slog.Default().
func WithLogger(logger *slog.Logger) Option {
	return func(r *Runner) error {
		if logger == nil {
			logger = slog.Default()
		}
		r.logger = logger
		return nil
	}
}

// NewRunner creates a Runner for the stage called name.
func NewRunner(name string, subscriber broker.Subscriber, publisher broker.Publisher, handler Handler, opts ...Option) (*Runner, error) {
	if subscriber == nil {
		return nil, ErrSubscriberRequired
	}
	if publisher == nil {
		return nil, ErrPublisherRequired
	}
	if handler == nil {
		return nil, ErrHandlerRequired
	}

	parallelism := runtime.NumCPU() / 2
	if parallelism < 1 {
		parallelism = 1
	}

	r := &Runner{
		name:        name,
		subscriber:  subscriber,
		publisher:   publisher,
		handler:     handler,
		parallelism: parallelism,
		batchSize:   DefaultCommitBatch,
		interval:    DefaultCheckpointInterval,
		policy:      retry.DefaultPolicy(),
		logger:      slog.Default(),
	}
	for _, opt := range opts {
		if err := opt(r); err != nil {
			return nil, err
		}
	}
	r.logger = r.logger.With("job", name)

	pool, err := ants.NewPool(r.parallelism)
	if err != nil {
		return nil, err
	}
	r.pool = pool
	return r, nil
}

// Run consumes until ctx is cancelled or a batch fails.
//
// On cancellation the in-flight batch is finished, published and committed
// on a context that is not cancelled, and Run returns nil.
func (r *Runner) Run(ctx context.Context) error {
	defer r.pool.Release()

	r.metrics.SetHealthy(r.name, true)
	r.logger.Info("stage started", "parallelism", r.parallelism, "commitBatch", r.batchSize)

	for {
		if ctx.Err() != nil {
			r.logger.Info("stage stopped")
			return nil
		}

		deliveries, err := r.subscriber.Poll(ctx, r.batchSize, r.interval)
		if len(deliveries) == 0 {
			if err == nil || ctx.Err() != nil {
				continue
			}
			if core.IsRetryable(err) {
				r.logger.Warn("poll failed, retrying", "err", err)
				r.metrics.Retry(r.name)
				sleep(ctx, r.policy.BaseDelay)
				continue
			}
			r.metrics.SetHealthy(r.name, false)
			return fmt.Errorf("%s: poll: %w", r.name, err)
		}

		if err := r.process(context.WithoutCancel(ctx), deliveries); err != nil {
			r.metrics.SetHealthy(r.name, false)
			return fmt.Errorf("%s: %w", r.name, err)
		}
	}
}

// process handles, publishes and commits one batch.
func (r *Runner) process(ctx context.Context, deliveries []broker.Delivery) error {
	started := time.Now()

	lanes := make([][]int, r.parallelism)
	for i, d := range deliveries {
		lane := Lane(d.Key, r.parallelism)
		lanes[lane] = append(lanes[lane], i)
	}

	outcomes := make([]Outcome, len(deliveries))
	var (
		wg       sync.WaitGroup
		errMu    sync.Mutex
		firstErr error
	)
	for _, lane := range lanes {
		if len(lane) == 0 {
			continue
		}
		wg.Add(1)
		err := r.pool.Submit(func() {
			defer wg.Done()
			for _, i := range lane {
				out, err := r.handler(ctx, deliveries[i])
				if err != nil {
					errMu.Lock()
					if firstErr == nil {
						firstErr = fmt.Errorf("handle %s/%d@%d: %w",
							deliveries[i].Topic, deliveries[i].Partition, deliveries[i].Offset, err)
					}
					errMu.Unlock()
					return
				}
				outcomes[i] = out
			}
		})
		if err != nil {
			wg.Done()
			errMu.Lock()
			if firstErr == nil {
				firstErr = fmt.Errorf("submit lane: %w", err)
			}
			errMu.Unlock()
		}
	}
	wg.Wait()
	if firstErr != nil {
		return firstErr
	}

	var msgs []broker.Message
	for _, out := range outcomes {
		msgs = append(msgs, out.Messages...)
	}

	policy := r.policy
	policy.OnRetry = func(attempt int, err error, delay time.Duration) {
		r.metrics.Retry(r.name)
	}

	if len(msgs) > 0 {
		if err := retry.Do(ctx, policy, func(ctx context.Context) error {
			return r.publisher.Publish(ctx, msgs...)
		}); err != nil {
			return fmt.Errorf("publish %d messages: %w", len(msgs), err)
		}
	}

	for _, out := range outcomes {
		if out.AfterPublish == nil {
			continue
		}
		if err := out.AfterPublish(ctx); err != nil {
			return fmt.Errorf("after publish: %w", err)
		}
	}

	if err := retry.Do(ctx, policy, func(ctx context.Context) error {
		return r.subscriber.Commit(ctx, deliveries...)
	}); err != nil {
		return fmt.Errorf("commit %d deliveries: %w", len(deliveries), err)
	}

	r.metrics.Batch(r.name, time.Since(started))
	r.logger.Debug("batch committed", "deliveries", len(deliveries), "published", len(msgs),
		"duration", time.Since(started))
	return nil
}

// Lane returns the lane of key among n lanes.
func Lane(key []byte, n int) int {
	if n <= 1 {
		return 0
	}
	h := fnv.New32a()
	h.Write(key)
	return int(h.Sum32() % uint32(n))
}

func sleep(ctx context.Context, d time.Duration) {
	if d <= 0 {
		return
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
	case <-timer.C:
	}
}
