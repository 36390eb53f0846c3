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


// Package docflow wires the pipeline stages to the backends selected by a
// config.Config.
//
// A System opens the blob store, the state store and the broker once and
// hands them to the jobs it creates. Closing the System closes everything
// it opened.
package docflow

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/poiesic/docflow/broker"
	"github.com/poiesic/docflow/broker/kafka"
	"github.com/poiesic/docflow/broker/memory"
	"github.com/poiesic/docflow/chunk"
	"github.com/poiesic/docflow/config"
	"github.com/poiesic/docflow/drive"
	"github.com/poiesic/docflow/extract"
	"github.com/poiesic/docflow/ingest"
	"github.com/poiesic/docflow/metrics"
	"github.com/poiesic/docflow/parse"
	"github.com/poiesic/docflow/pipeline"
	"github.com/poiesic/docflow/state"
	stbadger "github.com/poiesic/docflow/state/badger"
	stredis "github.com/poiesic/docflow/state/redis"
	"github.com/poiesic/docflow/storage"
	"github.com/poiesic/docflow/storage/local"
	"github.com/poiesic/docflow/storage/s3"
)

// System holds the shared resources of the pipeline stages: storage, the
// state store, the broker, the codec and metrics. Close releases them.
type System struct {
	config  *config.Config
	store   storage.Store
	state   state.Store
	memory  *memory.Broker // nil unless the broker type is memory
	codec   *broker.Codec
	metrics *metrics.Metrics
	logger  *slog.Logger

	extractor extract.Extractor // PDF extractor from config if nil

	mu      sync.Mutex
	clients []closer // publishers and subscribers handed out
}

type closer interface {
	Close() error
}

// Option configures a System.
type Option func(*System)

// WithLogger sets the logger passed to every component.
func WithLogger(logger *slog.Logger) Option {
	return func(s *System) { s.logger = logger }
}

// WithMetrics sets the metrics shared by every job.
func WithMetrics(m *metrics.Metrics) Option {
	return func(s *System) { s.metrics = m }
}

// WithExtractor replaces the PDF extractor used by parse jobs.
func WithExtractor(e extract.Extractor) Option {
	return func(s *System) { s.extractor = e }
}

// Open validates cfg and opens the configured backends.
func Open(ctx context.Context, cfg *config.Config, opts ...Option) (*System, error) {
	if cfg == nil {
		cfg = config.DefaultConfig()
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	s := &System{
		config: cfg,
		logger: slog.Default(),
	}
	for _, opt := range opts {
		opt(s)
	}

	codec, err := broker.DefaultCodec()
	if err != nil {
		return nil, err
	}
	s.codec = codec

	store, err := OpenStorage(ctx, cfg.Storage)
	if err != nil {
		return nil, fmt.Errorf("open storage: %w", err)
	}
	s.store = store

	st, err := OpenState(ctx, cfg.State)
	if err != nil {
		store.Close()
		return nil, fmt.Errorf("open state: %w", err)
	}
	s.state = st

	if cfg.Broker.Type == config.BrokerMemory {
		s.memory = memory.New(cfg.Broker.Partitions)
	}

	s.logger.Info("docflow opened", "broker", cfg.Broker.Type,
		"storage", cfg.Storage.Type, "state", cfg.State.Type)
	return s, nil
}

// OpenStorage opens the blob store described by cfg.
func OpenStorage(ctx context.Context, cfg config.StorageConfig) (storage.Store, error) {
	switch cfg.Type {
	case config.StorageLocal:
		return local.New(cfg.Root)
	case config.StorageS3:
		return s3.New(ctx, s3.Config{
			Endpoint:  cfg.Endpoint,
			AccessKey: cfg.AccessKey,
			SecretKey: cfg.SecretKey,
			Bucket:    cfg.Bucket,
			UseSSL:    cfg.UseSSL,
			Prefix:    cfg.Prefix,
		})
	default:
		return nil, fmt.Errorf("%w: storage %q", config.ErrUnknownBackend, cfg.Type)
	}
}

// OpenState opens the revision and cursor store described by cfg.
// A badger store without a path lives in memory.
func OpenState(ctx context.Context, cfg config.StateConfig) (state.Store, error) {
	switch cfg.Type {
	case config.StateBadger:
		if cfg.Path == "" {
			return stbadger.NewMemoryStore()
		}
		return stbadger.Open(cfg.Path)
	case config.StateRedis:
		return stredis.New(ctx, stredis.Options{
			Addr:     cfg.RedisAddr,
			Password: cfg.RedisPassword,
			DB:       cfg.RedisDB,
			Prefix:   cfg.RedisPrefix,
		})
	default:
		return nil, fmt.Errorf("%w: state %q", config.ErrUnknownBackend, cfg.Type)
	}
}

// Config returns the configuration the System was opened with.
func (s *System) Config() *config.Config {
	return s.config
}

// Storage returns the text store.
func (s *System) Storage() storage.Store {
	return s.store
}

// State returns the cursor and revision store.
func (s *System) State() state.Store {
	return s.state
}

// Codec returns the schema codec shared by all stages.
func (s *System) Codec() *broker.Codec {
	return s.codec
}

// Publisher returns a publisher on the configured broker.
// The in-memory broker is shared by every publisher and subscriber of the System.
func (s *System) Publisher() (broker.Publisher, error) {
	if s.memory != nil {
		return s.memory, nil
	}
	pub, err := kafka.NewPublisher(s.kafkaConfig(), s.logger)
	if err != nil {
		return nil, err
	}
	s.track(pub)
	return pub, nil
}

// Subscriber joins group on topic.
func (s *System) Subscriber(topic, group string) (broker.Subscriber, error) {
	if s.memory != nil {
		sub := s.memory.Subscribe(topic, group)
		s.track(sub)
		return sub, nil
	}
	sub, err := kafka.NewSubscriber(s.kafkaConfig(), topic, group, s.logger)
	if err != nil {
		return nil, err
	}
	s.track(sub)
	return sub, nil
}

func (s *System) kafkaConfig() kafka.Config {
	cfg := kafka.DefaultConfig()
	cfg.Brokers = s.config.Broker.Brokers
	cfg.ClientID = s.config.Broker.ClientID
	return cfg
}

func (s *System) track(c closer) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.clients = append(s.clients, c)
}

// NewDriveClient creates a Drive client from the configured OAuth files.
func (s *System) NewDriveClient(ctx context.Context) (*drive.Client, error) {
	session, err := drive.LoadOAuthSession(s.config.Drive.CredentialsFile, s.config.Drive.TokenFile)
	if err != nil {
		return nil, err
	}
	opts := []drive.Option{
		drive.WithRetryPolicy(s.config.RetryPolicy()),
		drive.WithCallTimeout(s.config.Drive.CallTimeout),
		drive.WithMaxDownloadBytes(s.config.Drive.MaxDownloadBytes),
		drive.WithLogger(s.logger),
	}
	if s.config.Drive.Query != "" {
		opts = append(opts, drive.WithQuery(s.config.Drive.Query))
	}
	if s.config.Drive.Endpoint != "" {
		opts = append(opts, drive.WithEndpoint(s.config.Drive.Endpoint))
	}
	return drive.NewClient(ctx, session, opts...)
}

// NewIngestJob creates an ingest job publishing the listing of lister.
func (s *System) NewIngestJob(lister ingest.Lister, opts ...ingest.Option) (*ingest.Job, error) {
	pub, err := s.Publisher()
	if err != nil {
		return nil, err
	}
	opts = append([]ingest.Option{
		ingest.WithCursorStore(s.state),
		ingest.WithMetrics(s.metrics),
		ingest.WithLogger(s.logger),
	}, opts...)
	return ingest.NewJob(lister, pub, s.codec, s.config.IngestJobConfig(), opts...)
}

// NewParseJob creates a parse job downloading through fetcher.
func (s *System) NewParseJob(fetcher parse.Fetcher, opts ...parse.Option) (*parse.Job, error) {
	extractor := s.extractor
	if extractor == nil {
		pdfOpts := []extract.PDFOption{extract.WithLogger(s.logger)}
		if s.config.Parse.PDFPassword != "" {
			pdfOpts = append(pdfOpts, extract.WithPassword(s.config.Parse.PDFPassword))
		}
		extractor = extract.NewPDFExtractor(pdfOpts...)
	}

	opts = append([]parse.Option{
		parse.WithTopic(s.config.Parse.Topic),
		parse.WithEmitSkipped(s.config.Parse.EmitSkipped),
		parse.WithRetryPolicy(s.config.RetryPolicy()),
		parse.WithMetrics(s.metrics),
		parse.WithLogger(s.logger),
	}, opts...)
	return parse.NewJob(fetcher, extractor, s.store, s.state, s.codec, opts...)
}

// NewChunkJob creates a chunk job with the configured window.
func (s *System) NewChunkJob(opts ...chunk.Option) (*chunk.Job, error) {
	chunker, err := chunk.New(s.config.Chunk.WindowSize, s.config.Chunk.Overlap)
	if err != nil {
		return nil, err
	}
	opts = append([]chunk.Option{
		chunk.WithChunker(chunker),
		chunk.WithTopic(s.config.Chunk.Topic),
		chunk.WithRetryPolicy(s.config.RetryPolicy()),
		chunk.WithMetrics(s.metrics),
		chunk.WithLogger(s.logger),
	}, opts...)
	return chunk.NewJob(s.store, s.codec, opts...)
}

// RunParse consumes the metadata channel with job until ctx is cancelled.
func (s *System) RunParse(ctx context.Context, job *parse.Job) error {
	sub, pub, err := s.stream(s.config.Ingest.Topic, s.config.Parse.Group)
	if err != nil {
		return err
	}
	return job.Run(ctx, sub, pub, s.streamOptions(s.config.ParseStream())...)
}

// RunChunk consumes the parsed-reference channel with job until ctx is cancelled.
func (s *System) RunChunk(ctx context.Context, job *chunk.Job) error {
	sub, pub, err := s.stream(s.config.Parse.Topic, s.config.Chunk.Group)
	if err != nil {
		return err
	}
	return job.Run(ctx, sub, pub, s.streamOptions(s.config.ChunkStream())...)
}

func (s *System) stream(topic, group string) (broker.Subscriber, broker.Publisher, error) {
	sub, err := s.Subscriber(topic, group)
	if err != nil {
		return nil, nil, err
	}
	pub, err := s.Publisher()
	if err != nil {
		return nil, nil, err
	}
	return sub, pub, nil
}

func (s *System) streamOptions(sc config.StreamConfig) []pipeline.Option {
	return []pipeline.Option{
		pipeline.WithParallelism(sc.Parallelism),
		pipeline.WithCommitBatch(sc.CommitBatch),
		pipeline.WithCheckpointInterval(sc.CheckpointInterval),
		pipeline.WithRetryPolicy(s.config.RetryPolicy()),
	}
}

// Close closes the clients handed out, the broker, the state store and
// the blob store, in that order.
func (s *System) Close() error {
	s.mu.Lock()
	clients := s.clients
	s.clients = nil
	s.mu.Unlock()

	var errs []error
	for _, c := range clients {
		if err := c.Close(); err != nil {
			s.logger.Error("error closing broker client", "err", err)
			errs = append(errs, err)
		}
	}
	if s.memory != nil {
		if err := s.memory.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	if err := s.state.Close(); err != nil {
		s.logger.Error("error closing state store", "err", err)
		errs = append(errs, err)
	}
	if err := s.store.Close(); err != nil {
		s.logger.Error("error closing storage", "err", err)
		errs = append(errs, err)
	}
	return errors.Join(errs...)
}
