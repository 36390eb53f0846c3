// Package kafka implements the broker interfaces on Apache Kafka using
// segmentio/kafka-go.
//
// The publisher hashes message keys onto partitions and waits for all
// in-sync replicas. The subscriber reads as a consumer-group member and
// commits offsets explicitly, so an offset is committed only after the
// caller has finished with the delivery.
package kafka

import (
	"errors"
	"time"

	"github.com/google/uuid"
)

// Config holds the connection settings shared by publishers and subscribers.
type Config struct {
	// Brokers lists the bootstrap broker addresses (host:port)
	Brokers []string

	// ClientID identifies this process to the brokers.
	// A random id is generated if empty.
	ClientID string

	// WriteTimeout bounds a single produce request
	WriteTimeout time.Duration

	// BatchTimeout is how long the writer waits to fill a batch
	BatchTimeout time.Duration

	// MaxAttempts is how many times the writer tries a produce request
	MaxAttempts int

	// AutoCreateTopics lets the writer create missing topics
	AutoCreateTopics bool

	// MaxBytes caps a fetch response
	MaxBytes int
}

// DefaultConfig returns a Config for a local single-broker cluster.
func DefaultConfig() Config {
	return Config{
		Brokers:          []string{"localhost:9092"},
		WriteTimeout:     10 * time.Second,
		BatchTimeout:     10 * time.Millisecond,
		MaxAttempts:      3,
		AutoCreateTopics: true,
		MaxBytes:         10e6,
	}
}

func (c *Config) normalize() error {
	if len(c.Brokers) == 0 {
		return errors.New("kafka: at least one broker is required")
	}
	if c.ClientID == "" {
		c.ClientID = "docflow-" + uuid.NewString()[:8]
	}
	if c.MaxBytes <= 0 {
		c.MaxBytes = 10e6
	}
	return nil
}
