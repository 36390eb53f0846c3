package chunk

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/poiesic/docflow/broker"
	"github.com/poiesic/docflow/core"
	"github.com/poiesic/docflow/metrics"
	"github.com/poiesic/docflow/pipeline"
	"github.com/poiesic/docflow/retry"
	"github.com/poiesic/docflow/storage"
)

const (
	// Stage names the chunk stage in logs and metrics.
	Stage = "chunk"

	DefaultTopic = "drive-files-chunks"
)

// Job splits parsed documents into chunk records.
type Job struct {
	chunker Chunker
	store   storage.Store
	codec   *broker.Codec
	topic   string
	policy  retry.Policy
	metrics *metrics.Metrics
	logger  *slog.Logger
}

// Option configures a Job.
type Option func(*Job)

// WithChunker sets the window parameters.
func WithChunker(c Chunker) Option {
	return func(j *Job) { j.chunker = c }
}

// WithTopic sets the output topic.
func WithTopic(topic string) Option {
	return func(j *Job) { j.topic = topic }
}

// WithRetryPolicy sets the policy for storage reads.
func WithRetryPolicy(p retry.Policy) Option {
	return func(j *Job) { j.policy = p }
}

// WithMetrics sets the metrics sink.
func WithMetrics(m *metrics.Metrics) Option {
	return func(j *Job) { j.metrics = m }
}

// WithLogger sets the job logger.
func WithLogger(logger *slog.Logger) Option {
	return func(j *Job) { j.logger = logger }
}

// NewJob creates a chunk Job reading text from store.
func NewJob(store storage.Store, codec *broker.Codec, opts ...Option) (*Job, error) {
	if store == nil {
		return nil, ErrStoreRequired
	}
	if codec == nil {
		return nil, errors.New("codec is required")
	}
	j := &Job{
		chunker: Chunker{WindowSize: DefaultWindowSize, Overlap: DefaultOverlap},
		store:   store,
		codec:   codec,
		topic:   DefaultTopic,
		policy:  retry.DefaultPolicy(),
		logger:  slog.Default(),
	}
	for _, opt := range opts {
		opt(j)
	}
	if err := j.chunker.Validate(); err != nil {
		return nil, err
	}
	j.logger = j.logger.With("job", Stage)
	return j, nil
}

// Run consumes parsed records from subscriber until ctx is cancelled.
func (j *Job) Run(ctx context.Context, subscriber broker.Subscriber, publisher broker.Publisher, opts ...pipeline.Option) error {
	if subscriber == nil {
		return ErrSubscriberRequired
	}
	if publisher == nil {
		return ErrPublisherRequired
	}
	opts = append([]pipeline.Option{pipeline.WithLogger(j.logger), pipeline.WithMetrics(j.metrics)}, opts...)
	runner, err := pipeline.NewRunner(Stage, subscriber, publisher, j.Handle, opts...)
	if err != nil {
		return err
	}
	return runner.Run(ctx)
}

// Handle chunks one parsed record.
//
// Malformed records, records without a successful parse and records whose
// text is missing from storage produce no output. Other storage failures
// and encoding failures stop the job.
func (j *Job) Handle(ctx context.Context, d broker.Delivery) (pipeline.Outcome, error) {
	var rec core.ParsedFileRecord
	if err := j.codec.Decode(d, broker.SchemaParsedFileRecord, &rec); err != nil {
		j.logger.Warn("dropping malformed record", "partition", d.Partition, "offset", d.Offset, "err", err)
		j.metrics.Record(Stage, metrics.OutcomeDropped)
		return pipeline.Outcome{}, nil
	}
	if err := core.ValidateParsedFileRecord(&rec); err != nil {
		j.logger.Warn("dropping invalid record", "fileId", rec.FileID, "err", err)
		j.metrics.Record(Stage, metrics.OutcomeDropped)
		return pipeline.Outcome{}, nil
	}
	if rec.Status != core.ParseStatusSuccess {
		j.logger.Debug("ignoring unsuccessful parse", "fileId", rec.FileID, "status", rec.Status)
		j.metrics.Record(Stage, metrics.OutcomeIgnored)
		return pipeline.Outcome{}, nil
	}

	data, err := retry.Value(ctx, j.policy, func(ctx context.Context) ([]byte, error) {
		return j.store.Get(ctx, rec.StoragePath)
	})
	if errors.Is(err, storage.ErrNotFound) {
		j.logger.Warn("parsed text missing", "fileId", rec.FileID, "path", rec.StoragePath)
		j.metrics.Record(Stage, metrics.OutcomeFailed)
		return pipeline.Outcome{}, nil
	}
	if err != nil {
		return pipeline.Outcome{}, fmt.Errorf("load %s: %w", rec.StoragePath, err)
	}

	chunks := j.chunker.Chunk(rec, string(data))
	msgs := make([]broker.Message, 0, len(chunks))
	for _, ch := range chunks {
		msg, err := j.codec.Encode(j.topic, rec.FileID, broker.SchemaChunkRecord, ch)
		if err != nil {
			return pipeline.Outcome{}, err
		}
		msgs = append(msgs, msg)
	}

	summary := Stats(chunks)
	j.logger.Info("chunked file", "fileId", rec.FileID, "chunks", summary.Count,
		"avgLength", summary.AvgLength, "minLength", summary.MinLength, "maxLength", summary.MaxLength)
	j.metrics.Chunks(len(chunks))
	j.metrics.Record(Stage, metrics.OutcomePublished)
	return pipeline.Emit(msgs...), nil
}
