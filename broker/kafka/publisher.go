package kafka

import (
	"context"
	"log/slog"

	"github.com/poiesic/docflow/broker"
	kafkago "github.com/segmentio/kafka-go"
)

// Publisher writes messages with a key-hash balancer.
type Publisher struct {
	writer *kafkago.Writer
	logger *slog.Logger
}

var _ broker.Publisher = (*Publisher)(nil)

// NewPublisher creates a Publisher. Each message carries its own topic.
func NewPublisher(cfg Config, logger *slog.Logger) (*Publisher, error) {
	if err := cfg.normalize(); err != nil {
		return nil, err
	}
	if logger == nil {
		logger = slog.Default()
	}

	w := &kafkago.Writer{
		Addr:                   kafkago.TCP(cfg.Brokers...),
		Balancer:               &kafkago.Hash{},
		RequiredAcks:           kafkago.RequireAll,
		MaxAttempts:            cfg.MaxAttempts,
		BatchTimeout:           cfg.BatchTimeout,
		WriteTimeout:           cfg.WriteTimeout,
		AllowAutoTopicCreation: cfg.AutoCreateTopics,
		Transport:              &kafkago.Transport{ClientID: cfg.ClientID},
	}

	return &Publisher{
		writer: w,
		logger: logger.With("component", "kafka-publisher"),
	}, nil
}

// Publish writes msgs synchronously and returns after all are acknowledged.
func (p *Publisher) Publish(ctx context.Context, msgs ...broker.Message) error {
	if len(msgs) == 0 {
		return nil
	}

	out := make([]kafkago.Message, len(msgs))
	for i, m := range msgs {
		out[i] = toKafka(m)
	}

	if err := p.writer.WriteMessages(ctx, out...); err != nil {
		p.logger.Warn("publish failed", "messages", len(msgs), "err", err)
		return classify(err)
	}
	return nil
}

// Close flushes pending writes and closes the writer.
func (p *Publisher) Close() error {
	return p.writer.Close()
}

func toKafka(m broker.Message) kafkago.Message {
	headers := make([]kafkago.Header, 0, len(m.Headers))
	for k, v := range m.Headers {
		headers = append(headers, kafkago.Header{Key: k, Value: []byte(v)})
	}
	return kafkago.Message{
		Topic:   m.Topic,
		Key:     m.Key,
		Value:   m.Value,
		Headers: headers,
		Time:    m.Time,
	}
}

func fromKafka(m kafkago.Message) broker.Delivery {
	headers := make(map[string]string, len(m.Headers))
	for _, h := range m.Headers {
		headers[h.Key] = string(h.Value)
	}
	return broker.Delivery{
		Message: broker.Message{
			Topic:   m.Topic,
			Key:     m.Key,
			Value:   m.Value,
			Headers: headers,
			Time:    m.Time,
		},
		Partition: m.Partition,
		Offset:    m.Offset,
	}
}
