// Package memory implements the broker interfaces as an in-process
// partitioned log. It keeps per-key ordering and per-group committed
// offsets like a real broker, and serves tests and single-process runs.
package memory

import (
	"context"
	"hash/fnv"
	"sync"
	"time"

	"github.com/poiesic/docflow/broker"
)

const DefaultPartitions = 4

type topicLog struct {
	partitions [][]broker.Message
	committed  map[string][]int64 // group -> next offset per partition
}

// Broker is an in-process partitioned message log.
type Broker struct {
	mu         sync.Mutex
	partitions int
	topics     map[string]*topicLog
	notify     chan struct{} // closed and replaced on every publish
	closed     bool
}

var _ broker.Publisher = (*Broker)(nil)

// New creates a Broker whose topics have the given number of partitions.
func New(partitions int) *Broker {
	if partitions < 1 {
		partitions = DefaultPartitions
	}
	return &Broker{
		partitions: partitions,
		topics:     make(map[string]*topicLog),
		notify:     make(chan struct{}),
	}
}

// topic returns the log of name, creating it. Must be called with lock held.
func (b *Broker) topic(name string) *topicLog {
	t, ok := b.topics[name]
	if !ok {
		t = &topicLog{
			partitions: make([][]broker.Message, b.partitions),
			committed:  make(map[string][]int64),
		}
		b.topics[name] = t
	}
	return t
}

func (b *Broker) partitionFor(key []byte) int {
	h := fnv.New32a()
	h.Write(key)
	return int(h.Sum32() % uint32(b.partitions))
}

// Publish appends msgs to their topics. Messages sharing a key go to the
// same partition in call order.
func (b *Broker) Publish(ctx context.Context, msgs ...broker.Message) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return broker.ErrClosed
	}

	now := time.Now()
	for _, m := range msgs {
		if m.Time.IsZero() {
			m.Time = now
		}
		t := b.topic(m.Topic)
		p := b.partitionFor(m.Key)
		t.partitions[p] = append(t.partitions[p], m)
	}

	close(b.notify)
	b.notify = make(chan struct{})
	return nil
}

// Messages returns every message published to topic, partition by partition.
func (b *Broker) Messages(topic string) []broker.Message {
	b.mu.Lock()
	defer b.mu.Unlock()

	var out []broker.Message
	if t, ok := b.topics[topic]; ok {
		for _, p := range t.partitions {
			out = append(out, p...)
		}
	}
	return out
}

// Committed returns the number of committed messages of group on topic.
func (b *Broker) Committed(topic, group string) int64 {
	b.mu.Lock()
	defer b.mu.Unlock()

	var n int64
	if t, ok := b.topics[topic]; ok {
		for _, off := range t.committed[group] {
			n += off
		}
	}
	return n
}

// Subscribe joins group on topic. The subscriber starts after the group's
// committed offsets. One active subscriber per group is supported.
func (b *Broker) Subscribe(topic, group string) *Subscriber {
	b.mu.Lock()
	defer b.mu.Unlock()

	t := b.topic(topic)
	committed, ok := t.committed[group]
	if !ok {
		committed = make([]int64, b.partitions)
		t.committed[group] = committed
	}

	return &Subscriber{
		broker:   b,
		topic:    topic,
		group:    group,
		position: append([]int64(nil), committed...),
	}
}

// Close rejects further publishes.
func (b *Broker) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.closed = true
	return nil
}

// Subscriber reads one topic for one consumer group.
type Subscriber struct {
	broker   *Broker
	topic    string
	group    string
	position []int64 // next offset to fetch per partition
	closed   bool
	next     int // partition to start the next poll from
}

var _ broker.Subscriber = (*Subscriber)(nil)

// collect gathers up to limit available deliveries. Must be called with the
// broker lock held.
func (s *Subscriber) collect(limit int) []broker.Delivery {
	t := s.broker.topic(s.topic)
	var out []broker.Delivery
	n := len(t.partitions)
	for i := 0; i < n && len(out) < limit; i++ {
		p := (s.next + i) % n
		for s.position[p] < int64(len(t.partitions[p])) && len(out) < limit {
			off := s.position[p]
			out = append(out, broker.Delivery{
				Message:   t.partitions[p][off],
				Partition: p,
				Offset:    off,
			})
			s.position[p]++
		}
	}
	s.next = (s.next + 1) % n
	return out
}

// Poll blocks until a delivery is available, then returns everything
// available up to limit, lingering up to wait for more.
func (s *Subscriber) Poll(ctx context.Context, limit int, wait time.Duration) ([]broker.Delivery, error) {
	if limit < 1 {
		limit = 1
	}

	var out []broker.Delivery
	var deadline <-chan time.Time
	for {
		s.broker.mu.Lock()
		if s.closed {
			s.broker.mu.Unlock()
			return nil, broker.ErrClosed
		}
		out = append(out, s.collect(limit-len(out))...)
		notify := s.broker.notify
		s.broker.mu.Unlock()

		if len(out) >= limit {
			return out, nil
		}
		if len(out) > 0 && deadline == nil {
			if wait <= 0 {
				return out, nil
			}
			timer := time.NewTimer(wait)
			defer timer.Stop()
			deadline = timer.C
		}

		select {
		case <-ctx.Done():
			if len(out) > 0 {
				return out, nil
			}
			return nil, ctx.Err()
		case <-deadline:
			return out, nil
		case <-notify:
		}
	}
}

// Commit advances the group's committed offsets past deliveries.
func (s *Subscriber) Commit(ctx context.Context, deliveries ...broker.Delivery) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	s.broker.mu.Lock()
	defer s.broker.mu.Unlock()
	if s.closed {
		return broker.ErrClosed
	}

	committed := s.broker.topic(s.topic).committed[s.group]
	for _, d := range deliveries {
		if d.Offset+1 > committed[d.Partition] {
			committed[d.Partition] = d.Offset + 1
		}
	}
	return nil
}

// Close stops the subscriber. Uncommitted deliveries are redelivered to
// the group's next subscriber.
func (s *Subscriber) Close() error {
	s.broker.mu.Lock()
	defer s.broker.mu.Unlock()
	s.closed = true
	return nil
}
