package pipeline

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/poiesic/docflow/broker"
	"github.com/poiesic/docflow/broker/memory"
	"github.com/poiesic/docflow/core"
	"github.com/poiesic/docflow/metrics"
	"github.com/poiesic/docflow/retry"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakePublisher struct {
	PublishFunc func(ctx context.Context, msgs ...broker.Message) error
}

func (p *fakePublisher) Publish(ctx context.Context, msgs ...broker.Message) error {
	return p.PublishFunc(ctx, msgs...)
}

func (p *fakePublisher) Close() error { return nil }

func testPolicy() retry.Policy {
	return retry.Policy{MaxAttempts: 3, BaseDelay: time.Millisecond, MaxDelay: 2 * time.Millisecond}
}

func upperHandler(ctx context.Context, d broker.Delivery) (Outcome, error) {
	return Emit(broker.Message{Topic: "out", Key: d.Key, Value: []byte(strings.ToUpper(string(d.Value)))}), nil
}

func publishInputs(t *testing.T, b *memory.Broker, keys []string, perKey int) {
	t.Helper()
	for i := 0; i < perKey; i++ {
		for _, k := range keys {
			require.NoError(t, b.Publish(context.Background(), broker.Message{
				Topic: "in", Key: []byte(k), Value: []byte(fmt.Sprintf("%s-%03d", k, i)),
			}))
		}
	}
}

func runUntil(t *testing.T, r *Runner, done func() bool) error {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	errCh := make(chan error, 1)
	go func() { errCh <- r.Run(ctx) }()

	require.Eventually(t, done, 5*time.Second, 5*time.Millisecond)
	cancel()

	select {
	case err := <-errCh:
		return err
	case <-time.After(5 * time.Second):
		t.Fatal("runner did not stop")
		return nil
	}
}

func TestRunner_ProcessesAndCommits(t *testing.T) {
	b := memory.New(4)
	publishInputs(t, b, []string{"a", "b", "c"}, 5)

	m := metrics.New()
	r, err := NewRunner("upper", b.Subscribe("in", "g"), b, upperHandler,
		WithParallelism(3), WithCommitBatch(4), WithCheckpointInterval(time.Millisecond),
		WithRetryPolicy(testPolicy()), WithMetrics(m))
	require.NoError(t, err)

	err = runUntil(t, r, func() bool { return b.Committed("in", "g") == 15 })
	require.NoError(t, err)

	out := b.Messages("out")
	require.Len(t, out, 15)
	for _, msg := range out {
		assert.Equal(t, strings.ToUpper(string(msg.Key)), string(msg.Value[:1]))
	}
	_, healthy := m.Health()
	assert.True(t, healthy)
}

func TestRunner_PreservesPerKeyOrder(t *testing.T) {
	b := memory.New(2)
	keys := []string{"k1", "k2", "k3", "k4", "k5"}
	publishInputs(t, b, keys, 20)

	var (
		mu   sync.Mutex
		seen = map[string][]string{}
	)
	handler := func(ctx context.Context, d broker.Delivery) (Outcome, error) {
		mu.Lock()
		seen[string(d.Key)] = append(seen[string(d.Key)], string(d.Value))
		mu.Unlock()
		return upperHandler(ctx, d)
	}

	r, err := NewRunner("order", b.Subscribe("in", "g"), b, handler,
		WithParallelism(4), WithCommitBatch(7), WithCheckpointInterval(time.Millisecond),
		WithRetryPolicy(testPolicy()))
	require.NoError(t, err)

	require.NoError(t, runUntil(t, r, func() bool { return b.Committed("in", "g") == 100 }))

	for _, k := range keys {
		values := seen[k]
		require.Len(t, values, 20)
		for i, v := range values {
			assert.Equal(t, fmt.Sprintf("%s-%03d", k, i), v)
		}
	}

	// Outputs of a key stay in order on their partition
	byKey := map[string][]string{}
	for _, msg := range b.Messages("out") {
		byKey[string(msg.Key)] = append(byKey[string(msg.Key)], string(msg.Value))
	}
	for _, k := range keys {
		for i, v := range byKey[k] {
			assert.Equal(t, strings.ToUpper(fmt.Sprintf("%s-%03d", k, i)), v)
		}
	}
}

func TestRunner_HandlerErrorLeavesBatchUncommitted(t *testing.T) {
	b := memory.New(1)
	publishInputs(t, b, []string{"a"}, 3)

	handler := func(ctx context.Context, d broker.Delivery) (Outcome, error) {
		if string(d.Value) == "a-001" {
			return Outcome{}, core.Fatal(errors.New("storage unreachable"))
		}
		return upperHandler(ctx, d)
	}

	m := metrics.New()
	r, err := NewRunner("failing", b.Subscribe("in", "g"), b, handler,
		WithCommitBatch(10), WithCheckpointInterval(10*time.Millisecond),
		WithRetryPolicy(testPolicy()), WithMetrics(m))
	require.NoError(t, err)

	err = r.Run(context.Background())
	require.Error(t, err)
	assert.ErrorIs(t, err, core.ErrFatal)
	assert.Equal(t, int64(0), b.Committed("in", "g"))
	assert.Empty(t, b.Messages("out"))

	_, healthy := m.Health()
	assert.False(t, healthy)
}

func TestRunner_PublishFailureLeavesBatchUncommitted(t *testing.T) {
	b := memory.New(1)
	publishInputs(t, b, []string{"a"}, 2)

	var calls atomic.Int32
	pub := &fakePublisher{PublishFunc: func(ctx context.Context, msgs ...broker.Message) error {
		calls.Add(1)
		return core.Transient(errors.New("broker down"))
	}}

	r, err := NewRunner("pubfail", b.Subscribe("in", "g"), pub, upperHandler,
		WithCommitBatch(10), WithCheckpointInterval(10*time.Millisecond), WithRetryPolicy(testPolicy()))
	require.NoError(t, err)

	err = r.Run(context.Background())
	require.Error(t, err)
	assert.ErrorIs(t, err, retry.ErrAttemptsExhausted)
	assert.Equal(t, int32(3), calls.Load())
	assert.Equal(t, int64(0), b.Committed("in", "g"))
}

func TestRunner_RetriesTransientPublish(t *testing.T) {
	b := memory.New(1)
	publishInputs(t, b, []string{"a"}, 2)

	var calls atomic.Int32
	pub := &fakePublisher{PublishFunc: func(ctx context.Context, msgs ...broker.Message) error {
		if calls.Add(1) == 1 {
			return core.Transient(errors.New("leader election"))
		}
		return b.Publish(ctx, msgs...)
	}}

	r, err := NewRunner("pubretry", b.Subscribe("in", "g"), pub, upperHandler,
		WithCommitBatch(10), WithCheckpointInterval(10*time.Millisecond), WithRetryPolicy(testPolicy()))
	require.NoError(t, err)

	require.NoError(t, runUntil(t, r, func() bool { return b.Committed("in", "g") == 2 }))
	assert.Len(t, b.Messages("out"), 2)
}

func TestRunner_FinishesInFlightBatchOnShutdown(t *testing.T) {
	b := memory.New(1)
	publishInputs(t, b, []string{"a"}, 1)

	ctx, cancel := context.WithCancel(context.Background())
	handler := func(hctx context.Context, d broker.Delivery) (Outcome, error) {
		cancel()
		if err := hctx.Err(); err != nil {
			return Outcome{}, err
		}
		return upperHandler(hctx, d)
	}

	r, err := NewRunner("shutdown", b.Subscribe("in", "g"), b, handler,
		WithCommitBatch(10), WithCheckpointInterval(time.Millisecond), WithRetryPolicy(testPolicy()))
	require.NoError(t, err)

	require.NoError(t, r.Run(ctx))
	assert.Equal(t, int64(1), b.Committed("in", "g"))
	assert.Len(t, b.Messages("out"), 1)
}

func TestRunner_HandlerWithoutOutputStillCommits(t *testing.T) {
	b := memory.New(1)
	publishInputs(t, b, []string{"a"}, 3)

	drop := func(ctx context.Context, d broker.Delivery) (Outcome, error) { return Outcome{}, nil }
	r, err := NewRunner("drop", b.Subscribe("in", "g"), b, drop,
		WithCommitBatch(10), WithCheckpointInterval(time.Millisecond), WithRetryPolicy(testPolicy()))
	require.NoError(t, err)

	require.NoError(t, runUntil(t, r, func() bool { return b.Committed("in", "g") == 3 }))
	assert.Empty(t, b.Messages("out"))
}

func TestRunner_ResumesAfterCommittedOffsets(t *testing.T) {
	b := memory.New(1)
	publishInputs(t, b, []string{"a"}, 2)

	r1, err := NewRunner("first", b.Subscribe("in", "g"), b, upperHandler,
		WithCommitBatch(10), WithCheckpointInterval(time.Millisecond), WithRetryPolicy(testPolicy()))
	require.NoError(t, err)
	require.NoError(t, runUntil(t, r1, func() bool { return b.Committed("in", "g") == 2 }))

	publishInputs(t, b, []string{"a"}, 1)
	r2, err := NewRunner("second", b.Subscribe("in", "g"), b, upperHandler,
		WithCommitBatch(10), WithCheckpointInterval(time.Millisecond), WithRetryPolicy(testPolicy()))
	require.NoError(t, err)
	require.NoError(t, runUntil(t, r2, func() bool { return b.Committed("in", "g") == 3 }))

	assert.Len(t, b.Messages("out"), 3)
}

func TestRunner_AfterPublishRunsBeforeCommit(t *testing.T) {
	b := memory.New(1)
	publishInputs(t, b, []string{"a"}, 2)

	var (
		mu        sync.Mutex
		published []int
	)
	handler := func(ctx context.Context, d broker.Delivery) (Outcome, error) {
		out, _ := upperHandler(ctx, d)
		out.AfterPublish = func(ctx context.Context) error {
			mu.Lock()
			defer mu.Unlock()
			published = append(published, len(b.Messages("out")))
			assert.Equal(t, int64(0), b.Committed("in", "g"))
			return nil
		}
		return out, nil
	}

	r, err := NewRunner("after", b.Subscribe("in", "g"), b, handler,
		WithCommitBatch(2), WithCheckpointInterval(20*time.Millisecond), WithRetryPolicy(testPolicy()))
	require.NoError(t, err)
	require.NoError(t, runUntil(t, r, func() bool { return b.Committed("in", "g") == 2 }))

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, []int{2, 2}, published)
}

func TestRunner_AfterPublishErrorStopsRunner(t *testing.T) {
	b := memory.New(1)
	publishInputs(t, b, []string{"a"}, 1)

	handler := func(ctx context.Context, d broker.Delivery) (Outcome, error) {
		out, _ := upperHandler(ctx, d)
		out.AfterPublish = func(ctx context.Context) error { return errors.New("state store down") }
		return out, nil
	}

	r, err := NewRunner("afterfail", b.Subscribe("in", "g"), b, handler,
		WithCommitBatch(1), WithCheckpointInterval(time.Millisecond), WithRetryPolicy(testPolicy()))
	require.NoError(t, err)

	require.Error(t, r.Run(context.Background()))
	assert.Equal(t, int64(0), b.Committed("in", "g"))
}

func TestNewRunner_Validation(t *testing.T) {
	b := memory.New(1)
	sub := b.Subscribe("in", "g")

	_, err := NewRunner("x", nil, b, upperHandler)
	assert.ErrorIs(t, err, ErrSubscriberRequired)
	_, err = NewRunner("x", sub, nil, upperHandler)
	assert.ErrorIs(t, err, ErrPublisherRequired)
	_, err = NewRunner("x", sub, b, nil)
	assert.ErrorIs(t, err, ErrHandlerRequired)
	_, err = NewRunner("x", sub, b, upperHandler, WithCommitBatch(0))
	assert.ErrorIs(t, err, ErrInvalidOption)
	_, err = NewRunner("x", sub, b, upperHandler, WithCheckpointInterval(-time.Second))
	assert.ErrorIs(t, err, ErrInvalidOption)
}

func TestLane(t *testing.T) {
	assert.Equal(t, 0, Lane([]byte("anything"), 1))
	assert.Equal(t, 0, Lane(nil, 0))

	for _, key := range []string{"a", "file-1", "file-2", ""} {
		l := Lane([]byte(key), 8)
		assert.GreaterOrEqual(t, l, 0)
		assert.Less(t, l, 8)
		assert.Equal(t, l, Lane([]byte(key), 8))
	}
}
