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


// Package ingest walks a remote file listing and publishes one FileRecord
// per file to the metadata channel, keyed by file id.
//
// Pages are published in listing order. The cursor is advanced and
// persisted only after every batch of a page was acknowledged, so a
// resumed run never skips a page but may republish the last one.
package ingest

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/poiesic/docflow/broker"
	"github.com/poiesic/docflow/core"
	"github.com/poiesic/docflow/metrics"
	"github.com/poiesic/docflow/retry"
	"github.com/poiesic/docflow/state"
)

const (
	// Stage names the ingest stage in logs and metrics.
	Stage = "ingest"

	DefaultTopic      = "drive-files"
	DefaultBatchSize  = 100
	DefaultCursorName = "ingest"
)

// Config holds configuration for an ingest run.
type Config struct {
	// BatchSize is the number of records per publish call
	BatchSize int

	// PageSize is the number of files requested per listing page.
	// Zero means BatchSize.
	PageSize int

	// MaxFiles stops the run after this many files. Zero means unbounded.
	MaxFiles int

	// StartPageToken is the listing position to start from.
	// Empty means the start of the listing, or the saved cursor with Resume.
	StartPageToken string

	// Resume loads the persisted cursor when StartPageToken is empty
	Resume bool

	// Topic is the metadata channel
	Topic string

	// CursorName identifies the persisted cursor
	CursorName string

	// ReportInterval is how often to report progress (number of files)
	ReportInterval int

	// Retry bounds the job-level retries of page fetches, publishes and
	// cursor writes
	Retry retry.Policy
}

// DefaultConfig returns a Config with sensible defaults.
func DefaultConfig() *Config {
	return &Config{
		BatchSize:      DefaultBatchSize,
		Topic:          DefaultTopic,
		CursorName:     DefaultCursorName,
		ReportInterval: 100,
		Retry:          retry.DefaultPolicy(),
	}
}

// Validate checks the configuration.
func (c *Config) Validate() error {
	if c.BatchSize < 1 {
		return fmt.Errorf("%w: batch size %d", ErrInvalidConfig, c.BatchSize)
	}
	if c.PageSize < 0 {
		return fmt.Errorf("%w: page size %d", ErrInvalidConfig, c.PageSize)
	}
	if c.MaxFiles < 0 {
		return fmt.Errorf("%w: max files %d", ErrInvalidConfig, c.MaxFiles)
	}
	if c.Topic == "" {
		return fmt.Errorf("%w: topic is required", ErrInvalidConfig)
	}
	return nil
}

// Result summarizes an ingest run.
type Result struct {
	// Processed counts files received from the listing
	Processed int

	// Published counts records acknowledged by the broker
	Published int

	// Failed counts records that could not be published
	Failed int

	// LastPageToken is where a resumed run continues: the page after the
	// last fully published one, or that page itself at the end of the listing
	LastPageToken string

	Status State
}

// Job is a single ingest run.
type Job struct {
	lister    Lister
	publisher broker.Publisher
	codec     *broker.Codec
	cursors   state.CursorStore
	config    *Config
	now       func() time.Time
	progress  io.Writer
	metrics   *metrics.Metrics
	logger    *slog.Logger
	state     atomic.Int32
}

// Option configures a Job.
type Option func(*Job)

// WithCursorStore persists the cursor after every page and enables Resume.
func WithCursorStore(cs state.CursorStore) Option {
	return func(j *Job) { j.cursors = cs }
}

// WithClock sets the clock stamping records and fallback keys.
func WithClock(now func() time.Time) Option {
	return func(j *Job) { j.now = now }
}

// WithProgress sets where progress lines are written.
func WithProgress(w io.Writer) Option {
	return func(j *Job) { j.progress = w }
}

// WithMetrics sets the metrics sink.
func WithMetrics(m *metrics.Metrics) Option {
	return func(j *Job) { j.metrics = m }
}

// WithLogger sets the job logger.
func WithLogger(logger *slog.Logger) Option {
	return func(j *Job) { j.logger = logger }
}

// NewJob creates an ingest Job. A nil config means DefaultConfig().
func NewJob(lister Lister, publisher broker.Publisher, codec *broker.Codec, config *Config, opts ...Option) (*Job, error) {
	switch {
	case lister == nil:
		return nil, ErrListerRequired
	case publisher == nil:
		return nil, ErrPublisherRequired
	case codec == nil:
		return nil, ErrCodecRequired
	}
	if config == nil {
		config = DefaultConfig()
	}
	if err := config.Validate(); err != nil {
		return nil, err
	}
	if config.CursorName == "" {
		config.CursorName = DefaultCursorName
	}
	if config.Retry.MaxAttempts == 0 {
		config.Retry = retry.DefaultPolicy()
	}

	j := &Job{
		lister:    lister,
		publisher: publisher,
		codec:     codec,
		config:    config,
		now:       time.Now,
		progress:  io.Discard,
		logger:    slog.Default(),
	}
	for _, opt := range opts {
		opt(j)
	}
	j.logger = j.logger.With("job", Stage)
	return j, nil
}

// Status returns the current state of the run.
func (j *Job) Status() State {
	return State(j.state.Load())
}

func (j *Job) setState(s State) {
	j.state.Store(int32(s))
}

// Run walks the listing and publishes every file.
//
// A cancelled ctx stops the run before the next page fetch; the page in
// flight is still published and checkpointed. The returned error is set
// only when the run ends in StateFailed.
func (j *Job) Run(ctx context.Context) (Result, error) {
	j.setState(StateInit)
	j.metrics.SetHealthy(Stage, true)

	token, err := j.startToken(ctx)
	if err != nil {
		return j.fail(Result{}, err)
	}
	res := Result{LastPageToken: token}

	pageSize := j.config.PageSize
	if pageSize == 0 {
		pageSize = j.config.BatchSize
	}
	walker := &pageWalker{
		lister:   j.lister,
		policy:   j.retryPolicy(),
		pageSize: pageSize,
		maxFiles: j.config.MaxFiles,
		onFetch:  func() { j.setState(StateFetchingPage) },
	}

	tracker := NewProgressTracker(j.progress, j.config.MaxFiles, j.config.ReportInterval)
	tracker.Start()
	j.logger.Info("ingest started", "pageToken", token, "batchSize", j.config.BatchSize,
		"pageSize", pageSize, "maxFiles", j.config.MaxFiles)

	err = walker.forEach(ctx, token, func(page listedPage) error {
		// The page in flight is finished even if ctx is cancelled
		pctx := context.WithoutCancel(ctx)
		return j.publishPage(pctx, page, &res, tracker)
	})
	tracker.Finish()

	if err != nil && ctx.Err() == nil {
		return j.fail(res, err)
	}
	if err != nil {
		j.logger.Info("ingest interrupted", "lastPageToken", res.LastPageToken)
	}

	j.setState(StateDone)
	res.Status = StateDone
	j.logger.Info("ingest complete", "processed", res.Processed, "published", res.Published,
		"lastPageToken", res.LastPageToken, "elapsed", tracker.Elapsed())
	return res, nil
}

// publishPage publishes page in batches and then checkpoints the cursor.
func (j *Job) publishPage(ctx context.Context, page listedPage, res *Result, tracker *ProgressTracker) error {
	j.setState(StateBatching)
	res.Processed += len(page.Files)

	batches, err := j.buildBatches(page.Files)
	if err != nil {
		res.Failed += len(page.Files)
		return err
	}

	j.setState(StatePublishing)
	for i, batch := range batches {
		err := retry.Do(ctx, j.retryPolicy(), func(ctx context.Context) error {
			return j.publisher.Publish(ctx, batch...)
		})
		if err != nil {
			for _, rest := range batches[i:] {
				res.Failed += len(rest)
				for range rest {
					j.metrics.Record(Stage, metrics.OutcomeFailed)
				}
			}
			return fmt.Errorf("publish batch of %d records: %w", len(batch), err)
		}
		res.Published += len(batch)
		tracker.Increment(len(batch))
		for range batch {
			j.metrics.Record(Stage, metrics.OutcomePublished)
		}
	}

	resume := page.Next
	if resume == "" || page.Truncated {
		resume = page.Token
	}
	if err := j.saveCursor(ctx, resume, res.Published); err != nil {
		return err
	}
	res.LastPageToken = resume
	return nil
}

// buildBatches encodes files into publish batches of BatchSize.
func (j *Job) buildBatches(files []core.FileRecord) ([][]broker.Message, error) {
	var batches [][]broker.Message
	for start := 0; start < len(files); start += j.config.BatchSize {
		end := min(start+j.config.BatchSize, len(files))

		stamp := j.now().UnixMilli()
		keys := newKeyer(j.now)
		batch := make([]broker.Message, 0, end-start)
		for _, rec := range files[start:end] {
			rec.Timestamp = stamp
			msg, err := j.codec.Encode(j.config.Topic, keys.key(rec.ID), broker.SchemaFileRecord, rec)
			if err != nil {
				return nil, err
			}
			batch = append(batch, msg)
		}
		batches = append(batches, batch)
	}
	return batches, nil
}

func (j *Job) startToken(ctx context.Context) (string, error) {
	if j.config.StartPageToken != "" || !j.config.Resume || j.cursors == nil {
		return j.config.StartPageToken, nil
	}

	cursor, err := retry.Value(ctx, j.retryPolicy(), func(ctx context.Context) (*core.PageCursor, error) {
		return j.cursors.LoadCursor(ctx, j.config.CursorName)
	})
	if err != nil {
		return "", fmt.Errorf("load cursor: %w", err)
	}
	if cursor == nil {
		return "", nil
	}
	j.logger.Info("resuming from saved cursor", "pageToken", cursor.PageToken, "updatedAt", cursor.UpdatedAt)
	return cursor.PageToken, nil
}

func (j *Job) saveCursor(ctx context.Context, token string, published int) error {
	if j.cursors == nil {
		return nil
	}
	cursor := &core.PageCursor{
		PageToken:      token,
		FilesProcessed: int64(published),
		UpdatedAt:      j.now(),
	}
	err := retry.Do(ctx, j.retryPolicy(), func(ctx context.Context) error {
		return j.cursors.SaveCursor(ctx, j.config.CursorName, cursor)
	})
	if err != nil {
		return fmt.Errorf("save cursor: %w", err)
	}
	return nil
}

func (j *Job) retryPolicy() retry.Policy {
	p := j.config.Retry
	p.OnRetry = func(attempt int, err error, delay time.Duration) {
		j.metrics.Retry(Stage)
		j.logger.Warn("retrying", "attempt", attempt, "delay", delay, "err", err)
	}
	return p
}

func (j *Job) fail(res Result, err error) (Result, error) {
	j.setState(StateFailed)
	j.metrics.SetHealthy(Stage, false)
	res.Status = StateFailed
	j.logger.Error("ingest failed", "err", err, "lastPageToken", res.LastPageToken)
	return res, err
}
