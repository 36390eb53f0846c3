package kafka

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/poiesic/docflow/broker"
	kafkago "github.com/segmentio/kafka-go"
)

// Subscriber reads one topic as a consumer-group member.
type Subscriber struct {
	reader *kafkago.Reader
	logger *slog.Logger
}

var _ broker.Subscriber = (*Subscriber)(nil)

// NewSubscriber joins group on topic. A group with no committed offsets
// starts from the earliest message.
func NewSubscriber(cfg Config, topic, group string, logger *slog.Logger) (*Subscriber, error) {
	if err := cfg.normalize(); err != nil {
		return nil, err
	}
	if topic == "" || group == "" {
		return nil, errors.New("kafka: topic and group are required")
	}
	if logger == nil {
		logger = slog.Default()
	}

	r := kafkago.NewReader(kafkago.ReaderConfig{
		Brokers:     cfg.Brokers,
		GroupID:     group,
		Topic:       topic,
		MinBytes:    1,
		MaxBytes:    cfg.MaxBytes,
		StartOffset: kafkago.FirstOffset,
		// Zero commits synchronously on CommitMessages
		CommitInterval: 0,
		Dialer: &kafkago.Dialer{
			ClientID:  cfg.ClientID,
			Timeout:   10 * time.Second,
			DualStack: true,
		},
	})

	return &Subscriber{
		reader: r,
		logger: logger.With("component", "kafka-subscriber", "topic", topic, "group", group),
	}, nil
}

// Poll blocks for the first message, then keeps fetching until limit
// messages are collected or wait elapses.
func (s *Subscriber) Poll(ctx context.Context, limit int, wait time.Duration) ([]broker.Delivery, error) {
	if limit < 1 {
		limit = 1
	}

	first, err := s.reader.FetchMessage(ctx)
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, classify(err)
	}
	out := []broker.Delivery{fromKafka(first)}

	if wait <= 0 {
		return out, nil
	}

	lingerCtx, cancel := context.WithTimeout(ctx, wait)
	defer cancel()
	for len(out) < limit {
		m, err := s.reader.FetchMessage(lingerCtx)
		if err != nil {
			// Deliveries already fetched stay in flight; the caller commits them.
			if lingerCtx.Err() == nil {
				s.logger.Warn("fetch failed while filling batch", "err", err)
			}
			break
		}
		out = append(out, fromKafka(m))
	}
	return out, nil
}

// Commit commits the offsets of deliveries for the group.
func (s *Subscriber) Commit(ctx context.Context, deliveries ...broker.Delivery) error {
	if len(deliveries) == 0 {
		return nil
	}

	msgs := make([]kafkago.Message, len(deliveries))
	for i, d := range deliveries {
		msgs[i] = kafkago.Message{Topic: d.Topic, Partition: d.Partition, Offset: d.Offset}
	}
	if err := s.reader.CommitMessages(ctx, msgs...); err != nil {
		return classify(err)
	}
	return nil
}

// Close leaves the group and closes the reader.
func (s *Subscriber) Close() error {
	return s.reader.Close()
}
