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


// Package parse downloads PDF files, extracts their text and publishes a
// reference to the stored text.
//
// Each (file id, revision) pair is parsed successfully at most once. The
// revision is recorded in the state store only after the result was
// published, so a crash between the two leads to a reparse and never to
// a lost result.
package parse

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"
	"unicode/utf8"

	"github.com/poiesic/docflow/broker"
	"github.com/poiesic/docflow/core"
	"github.com/poiesic/docflow/extract"
	"github.com/poiesic/docflow/metrics"
	"github.com/poiesic/docflow/pipeline"
	"github.com/poiesic/docflow/retry"
	"github.com/poiesic/docflow/state"
	"github.com/poiesic/docflow/storage"
)

const (
	// Stage names the parse stage in logs and metrics.
	Stage = "parse"

	DefaultTopic = "drive-files-parsed"
)

// Fetcher downloads the content of a remote file.
type Fetcher interface {
	Fetch(ctx context.Context, rec core.FileRecord) ([]byte, error)
}

// Job parses FileRecords into ParsedFileRecords.
type Job struct {
	fetcher     Fetcher
	extractor   extract.Extractor
	store       storage.Store
	revisions   state.RevisionStore
	codec       *broker.Codec
	topic       string
	emitSkipped bool
	policy      retry.Policy
	now         func() time.Time
	metrics     *metrics.Metrics
	logger      *slog.Logger

	mu      sync.Mutex
	pending map[string]time.Time // revisions published in the current batch, not yet marked
}

// Option configures a Job.
type Option func(*Job)

// WithTopic sets the output topic.
func WithTopic(topic string) Option {
	return func(j *Job) { j.topic = topic }
}

// WithEmitSkipped controls whether non-PDF files produce skipped records.
// Default is true.
func WithEmitSkipped(emit bool) Option {
	return func(j *Job) { j.emitSkipped = emit }
}

// WithRetryPolicy sets the policy for state and storage calls.
func WithRetryPolicy(p retry.Policy) Option {
	return func(j *Job) { j.policy = p }
}

// WithClock sets the clock stamping ParsedAt.
func WithClock(now func() time.Time) Option {
	return func(j *Job) { j.now = now }
}

// WithMetrics sets the metrics sink.
func WithMetrics(m *metrics.Metrics) Option {
	return func(j *Job) { j.metrics = m }
}

// WithLogger sets the job logger.
func WithLogger(logger *slog.Logger) Option {
	return func(j *Job) { j.logger = logger }
}

// NewJob creates a parse Job.
func NewJob(fetcher Fetcher, extractor extract.Extractor, store storage.Store,
	revisions state.RevisionStore, codec *broker.Codec, opts ...Option) (*Job, error) {
	switch {
	case fetcher == nil:
		return nil, ErrFetcherRequired
	case extractor == nil:
		return nil, ErrExtractorRequired
	case store == nil:
		return nil, ErrStoreRequired
	case revisions == nil:
		return nil, ErrRevisionsRequired
	case codec == nil:
		return nil, ErrCodecRequired
	}

	j := &Job{
		fetcher:     fetcher,
		extractor:   extractor,
		store:       store,
		revisions:   revisions,
		codec:       codec,
		topic:       DefaultTopic,
		emitSkipped: true,
		policy:      retry.DefaultPolicy(),
		now:         time.Now,
		logger:      slog.Default(),
		pending:     make(map[string]time.Time),
	}
	for _, opt := range opts {
		opt(j)
	}
	j.logger = j.logger.With("job", Stage)
	return j, nil
}

// Run consumes file records from subscriber until ctx is cancelled.
// A Job runs one stream at a time; Run must not be called concurrently.
func (j *Job) Run(ctx context.Context, subscriber broker.Subscriber, publisher broker.Publisher, opts ...pipeline.Option) error {
	// A batch that failed in an earlier run was never published, so its
	// revisions must be parsed again when they are redelivered.
	j.mu.Lock()
	j.pending = make(map[string]time.Time)
	j.mu.Unlock()

	opts = append([]pipeline.Option{pipeline.WithLogger(j.logger), pipeline.WithMetrics(j.metrics)}, opts...)
	runner, err := pipeline.NewRunner(Stage, subscriber, publisher, j.Handle, opts...)
	if err != nil {
		return err
	}
	return runner.Run(ctx)
}

// Handle parses one file record.
//
// Per-record problems become skipped or failed results. Only an
// unrecoverable fetch error, a storage failure, a state store failure or
// an encoding failure is returned as an error.
func (j *Job) Handle(ctx context.Context, d broker.Delivery) (pipeline.Outcome, error) {
	var rec core.FileRecord
	if err := j.codec.Decode(d, broker.SchemaFileRecord, &rec); err != nil {
		j.logger.Warn("dropping malformed record", "partition", d.Partition, "offset", d.Offset, "err", err)
		j.metrics.Record(Stage, metrics.OutcomeDropped)
		return pipeline.Outcome{}, nil
	}
	key := string(d.Key)
	logger := j.logger.With("fileId", rec.ID)

	if !rec.IsPDF() {
		if !j.emitSkipped {
			logger.Debug("dropping unsupported file", "mimeType", rec.MimeType)
			j.metrics.Record(Stage, metrics.OutcomeDropped)
			return pipeline.Outcome{}, nil
		}
		j.metrics.Record(Stage, metrics.OutcomeSkipped)
		return j.emit(key, j.result(rec, core.ParseStatusSkipped, fmt.Errorf("%w: %s", ErrUnsupportedType, rec.MimeType)), false)
	}

	if err := core.ValidateFileRecord(&rec); err != nil {
		logger.Warn("invalid file record", "err", err)
		j.metrics.Record(Stage, metrics.OutcomeFailed)
		return j.emit(key, j.result(rec, core.ParseStatusFailed, err), false)
	}

	revision := rec.ModifiedTime
	done, err := j.handled(ctx, rec.ID, revision)
	if err != nil {
		return pipeline.Outcome{}, err
	}
	if done {
		logger.Debug("revision already parsed", "revision", revision)
		j.metrics.Record(Stage, metrics.OutcomeDuplicate)
		return pipeline.Outcome{}, nil
	}

	data, err := j.fetcher.Fetch(ctx, rec)
	if err != nil {
		if errors.Is(err, core.ErrFatal) || ctx.Err() != nil {
			return pipeline.Outcome{}, fmt.Errorf("fetch %s: %w", rec.ID, err)
		}
		logger.Warn("download failed", "err", err)
		j.metrics.Record(Stage, metrics.OutcomeFailed)
		return j.emit(key, j.result(rec, core.ParseStatusFailed, err), false)
	}

	text, err := j.extractor.Extract(ctx, data)
	if err != nil {
		if ctx.Err() != nil {
			return pipeline.Outcome{}, err
		}
		logger.Warn("extraction failed", "err", err)
		j.metrics.Record(Stage, metrics.OutcomeFailed)
		return j.emit(key, j.result(rec, core.ParseStatusFailed, err), false)
	}
	if strings.TrimSpace(text) == "" {
		logger.Info("no extractable text")
		j.metrics.Record(Stage, metrics.OutcomeSkipped)
		return j.emit(key, j.result(rec, core.ParseStatusSkipped, ErrNoText), true)
	}

	path := storage.ParsedTextPath(rec.ID, revision)
	if err := retry.Do(ctx, j.policy, func(ctx context.Context) error {
		return j.store.Put(ctx, path, []byte(text))
	}); err != nil {
		return pipeline.Outcome{}, fmt.Errorf("store %s: %w", path, err)
	}

	res := j.result(rec, core.ParseStatusSuccess, nil)
	res.StoragePath = path
	res.TextLength = utf8.RuneCountInString(text)
	res.ContentHash = core.ContentHash(text)

	logger.Info("parsed file", "path", path, "textLength", res.TextLength)
	j.metrics.Record(Stage, metrics.OutcomePublished)
	return j.emit(key, res, true)
}

// handled reports whether revision of fileID was already parsed, either
// in an earlier batch or earlier in the current one.
func (j *Job) handled(ctx context.Context, fileID string, revision time.Time) (bool, error) {
	j.mu.Lock()
	pending, ok := j.pending[fileID]
	j.mu.Unlock()
	if ok && state.Processed(revision, pending) {
		return true, nil
	}

	var (
		last  time.Time
		found bool
	)
	err := retry.Do(ctx, j.policy, func(ctx context.Context) error {
		var err error
		last, found, err = j.revisions.LastRevision(ctx, fileID)
		return err
	})
	if err != nil {
		return false, fmt.Errorf("load revision of %s: %w", fileID, err)
	}
	return found && state.Processed(revision, last), nil
}

func (j *Job) result(rec core.FileRecord, status core.ParseStatus, cause error) core.ParsedFileRecord {
	res := core.ParsedFileRecord{
		FileID:            rec.ID,
		Name:              rec.Name,
		MimeType:          rec.MimeType,
		RevisionTimestamp: rec.ModifiedTime,
		Status:            status,
		ParsedAt:          j.now().UnixMilli(),
	}
	if cause != nil {
		res.Error = cause.Error()
	}
	return res
}

// emit encodes res. When mark is set, the revision is recorded once the
// result is published.
func (j *Job) emit(key string, res core.ParsedFileRecord, mark bool) (pipeline.Outcome, error) {
	if res.FileID != "" {
		key = res.FileID
	}
	msg, err := j.codec.Encode(j.topic, key, broker.SchemaParsedFileRecord, res)
	if err != nil {
		return pipeline.Outcome{}, err
	}
	out := pipeline.Emit(msg)
	if !mark {
		return out, nil
	}

	fileID, revision := res.FileID, res.RevisionTimestamp
	j.mu.Lock()
	if prev, ok := j.pending[fileID]; !ok || revision.After(prev) {
		j.pending[fileID] = revision
	}
	j.mu.Unlock()

	out.AfterPublish = func(ctx context.Context) error {
		err := retry.Do(ctx, j.policy, func(ctx context.Context) error {
			return j.revisions.MarkRevision(ctx, fileID, revision)
		})
		if err != nil {
			return fmt.Errorf("mark revision of %s: %w", fileID, err)
		}
		j.mu.Lock()
		if prev, ok := j.pending[fileID]; ok && !revision.Before(prev) {
			delete(j.pending, fileID)
		}
		j.mu.Unlock()
		return nil
	}
	return out, nil
}
