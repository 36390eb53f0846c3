package broker

import (
	"context"
	"time"
)

// Message is a keyed payload addressed to a topic.
type Message struct {
	Topic   string
	Key     []byte
	Value   []byte
	Headers map[string]string
	Time    time.Time
}

// Delivery is a consumed message with its position in the channel.
type Delivery struct {
	Message
	Partition int
	Offset    int64
}

// Publisher writes messages to the broker.
// Implementations must be thread-safe.
type Publisher interface {
	// Publish writes msgs and returns once the broker acknowledged all of them.
	// Messages sharing a key keep their relative order.
	Publish(ctx context.Context, msgs ...Message) error

	// Close flushes and releases the publisher.
	Close() error
}

// Subscriber consumes one topic as a member of a consumer group.
type Subscriber interface {
	// Poll blocks until at least one delivery is available or ctx is done,
	// then collects up to limit deliveries, waiting at most wait for more.
	Poll(ctx context.Context, limit int, wait time.Duration) ([]Delivery, error)

	// Commit records deliveries as processed for the consumer group.
	// A restarted subscriber resumes after the highest committed offset
	// of each partition.
	Commit(ctx context.Context, deliveries ...Delivery) error

	// Close leaves the consumer group and releases the subscriber.
	Close() error
}
