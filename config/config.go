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


// Package config holds the explicit configuration of a docflow process.
//
// A Config is built from DefaultConfig and functional options, typically
// mapped from command-line flags, and checked with Validate before any
// backend is opened.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/poiesic/docflow/chunk"
	"github.com/poiesic/docflow/ingest"
	"github.com/poiesic/docflow/parse"
	"github.com/poiesic/docflow/pipeline"
	"github.com/poiesic/docflow/retry"
)

// Backend types.
const (
	BrokerMemory = "memory"
	BrokerKafka  = "kafka"

	StorageLocal = "local"
	StorageS3    = "s3"

	StateBadger = "badger"
	StateRedis  = "redis"
)

// Config holds the configuration of every stage and backend.
type Config struct {
	Broker  BrokerConfig
	Storage StorageConfig
	State   StateConfig
	Drive   DriveConfig
	Ingest  IngestConfig
	Parse   ParseConfig
	Chunk   ChunkConfig
	Stream  StreamConfig
	Retry   RetryConfig
	Metrics MetricsConfig
}

// BrokerConfig selects the message broker.
type BrokerConfig struct {
	// Type is "memory" or "kafka"
	Type string

	// Brokers lists the Kafka bootstrap addresses
	Brokers []string

	// ClientID identifies this process to Kafka. Random if empty.
	ClientID string

	// Partitions is the partition count of the in-memory broker
	Partitions int
}

// StorageConfig selects the blob store holding extracted text.
type StorageConfig struct {
	// Type is "local" or "s3"
	Type string

	// Root is the directory of the local store
	Root string

	Endpoint  string
	AccessKey string
	SecretKey string
	Bucket    string
	UseSSL    bool
	Prefix    string
}

// StateConfig selects the revision and cursor store.
type StateConfig struct {
	// Type is "badger" or "redis"
	Type string

	// Path is the badger data directory. Empty means in-memory.
	Path string

	RedisAddr     string
	RedisPassword string
	RedisDB       int
	RedisPrefix   string
}

// DriveConfig configures the remote listing client.
type DriveConfig struct {
	// CredentialsFile is the OAuth client secret JSON
	CredentialsFile string

	// TokenFile holds the OAuth token; refreshed tokens are written back
	TokenFile string

	// Endpoint overrides the API base URL
	Endpoint string

	// Query filters the listing
	Query string

	// CallTimeout bounds a single API call
	CallTimeout time.Duration

	// MaxDownloadBytes caps a single download
	MaxDownloadBytes int64
}

// IngestConfig configures the ingest job.
type IngestConfig struct {
	Topic          string
	BatchSize      int
	PageSize       int
	MaxFiles       int
	StartPageToken string
	Resume         bool
	CursorName     string
	ReportInterval int
}

// ParseConfig configures the parse job.
type ParseConfig struct {
	Topic       string
	Group       string
	EmitSkipped bool
	PDFPassword string

	// Parallelism and CheckpointInterval override Stream when non-zero
	Parallelism        int
	CheckpointInterval time.Duration
}

// ChunkConfig configures the chunk job.
type ChunkConfig struct {
	Topic      string
	Group      string
	WindowSize int
	Overlap    int

	// Parallelism and CheckpointInterval override Stream when non-zero
	Parallelism        int
	CheckpointInterval time.Duration
}

// StreamConfig holds the consume loop settings shared by streaming stages.
type StreamConfig struct {
	Parallelism        int
	CommitBatch        int
	CheckpointInterval time.Duration
}

// RetryConfig bounds retries of external calls.
type RetryConfig struct {
	MaxAttempts int
	BaseDelay   time.Duration
	MaxDelay    time.Duration
	Jitter      float64
}

// MetricsConfig configures the metrics and health server.
type MetricsConfig struct {
	// Addr is the listen address. Empty disables the server.
	Addr string
}

// Option is a functional option for configuring a Config.
type Option func(*Config)

// WithBroker selects the broker type and Kafka bootstrap addresses.
func WithBroker(kind string, brokers ...string) Option {
	return func(c *Config) {
		c.Broker.Type = kind
		if len(brokers) > 0 {
			c.Broker.Brokers = brokers
		}
	}
}

// WithLocalStorage stores text under root on the local filesystem.
func WithLocalStorage(root string) Option {
	return func(c *Config) {
		c.Storage.Type = StorageLocal
		c.Storage.Root = root
	}
}

// WithS3Storage stores text in bucket on an S3-compatible endpoint.
func WithS3Storage(endpoint, bucket, accessKey, secretKey string) Option {
	return func(c *Config) {
		c.Storage.Type = StorageS3
		c.Storage.Endpoint = endpoint
		c.Storage.Bucket = bucket
		c.Storage.AccessKey = accessKey
		c.Storage.SecretKey = secretKey
	}
}

// WithBadgerState keeps revisions and cursors in a badger database at path.
func WithBadgerState(path string) Option {
	return func(c *Config) {
		c.State.Type = StateBadger
		c.State.Path = path
	}
}

// WithRedisState keeps revisions and cursors in Redis.
func WithRedisState(addr string) Option {
	return func(c *Config) {
		c.State.Type = StateRedis
		c.State.RedisAddr = addr
	}
}

// WithDriveCredentials sets the OAuth client secret and token files.
func WithDriveCredentials(credentialsFile, tokenFile string) Option {
	return func(c *Config) {
		c.Drive.CredentialsFile = credentialsFile
		c.Drive.TokenFile = tokenFile
	}
}

// WithBatchSize sets the ingest publish batch size.
func WithBatchSize(n int) Option {
	return func(c *Config) {
		c.Ingest.BatchSize = n
	}
}

// WithMaxFiles stops ingest after n files.
func WithMaxFiles(n int) Option {
	return func(c *Config) {
		c.Ingest.MaxFiles = n
	}
}

// WithStartPageToken starts ingest at token.
func WithStartPageToken(token string) Option {
	return func(c *Config) {
		c.Ingest.StartPageToken = token
	}
}

// WithWindow sets the chunk window and overlap.
func WithWindow(size, overlap int) Option {
	return func(c *Config) {
		c.Chunk.WindowSize = size
		c.Chunk.Overlap = overlap
	}
}

// WithParallelism sets the default lane count of streaming stages.
func WithParallelism(n int) Option {
	return func(c *Config) {
		c.Stream.Parallelism = n
	}
}

// WithCheckpointInterval sets the default checkpoint interval of streaming stages.
func WithCheckpointInterval(d time.Duration) Option {
	return func(c *Config) {
		c.Stream.CheckpointInterval = d
	}
}

// WithMetricsAddr serves metrics and health on addr.
func WithMetricsAddr(addr string) Option {
	return func(c *Config) {
		c.Metrics.Addr = addr
	}
}

// DefaultConfig returns a Config for a single local process: in-memory
// broker, local storage under ./data and badger state under ./data/state.
func DefaultConfig() *Config {
	policy := retry.DefaultPolicy()
	return &Config{
		Broker: BrokerConfig{
			Type:       BrokerMemory,
			Brokers:    []string{"localhost:9092"},
			Partitions: 4,
		},
		Storage: StorageConfig{
			Type:   StorageLocal,
			Root:   "./data/text",
			UseSSL: true,
		},
		State: StateConfig{
			Type:        StateBadger,
			Path:        "./data/state",
			RedisAddr:   "localhost:6379",
			RedisPrefix: "docflow",
		},
		Drive: DriveConfig{
			CredentialsFile:  "credentials.json",
			TokenFile:        "token.json",
			CallTimeout:      30 * time.Second,
			MaxDownloadBytes: 256 << 20,
		},
		Ingest: IngestConfig{
			Topic:          ingest.DefaultTopic,
			BatchSize:      ingest.DefaultBatchSize,
			CursorName:     ingest.DefaultCursorName,
			ReportInterval: 100,
		},
		Parse: ParseConfig{
			Topic:       parse.DefaultTopic,
			Group:       "docflow-parse",
			EmitSkipped: true,
		},
		Chunk: ChunkConfig{
			Topic:      chunk.DefaultTopic,
			Group:      "docflow-chunk",
			WindowSize: chunk.DefaultWindowSize,
			Overlap:    chunk.DefaultOverlap,
		},
		Stream: StreamConfig{
			Parallelism:        4,
			CommitBatch:        pipeline.DefaultCommitBatch,
			CheckpointInterval: pipeline.DefaultCheckpointInterval,
		},
		Retry: RetryConfig{
			MaxAttempts: policy.MaxAttempts,
			BaseDelay:   policy.BaseDelay,
			MaxDelay:    policy.MaxDelay,
			Jitter:      policy.Jitter,
		},
	}
}

// NewConfig creates a Config with the default values and applies opts.
func NewConfig(opts ...Option) *Config {
	cfg := DefaultConfig()
	for _, opt := range opts {
		opt(cfg)
	}
	return cfg
}

// RetryPolicy returns the retry policy described by the Retry section.
func (c *Config) RetryPolicy() retry.Policy {
	return retry.Policy{
		MaxAttempts: c.Retry.MaxAttempts,
		BaseDelay:   c.Retry.BaseDelay,
		MaxDelay:    c.Retry.MaxDelay,
		Jitter:      c.Retry.Jitter,
	}
}

// IngestJobConfig returns the ingest job configuration.
func (c *Config) IngestJobConfig() *ingest.Config {
	return &ingest.Config{
		BatchSize:      c.Ingest.BatchSize,
		PageSize:       c.Ingest.PageSize,
		MaxFiles:       c.Ingest.MaxFiles,
		StartPageToken: c.Ingest.StartPageToken,
		Resume:         c.Ingest.Resume,
		Topic:          c.Ingest.Topic,
		CursorName:     c.Ingest.CursorName,
		ReportInterval: c.Ingest.ReportInterval,
		Retry:          c.RetryPolicy(),
	}
}

// ParseStream returns the consume loop settings of the parse stage.
func (c *Config) ParseStream() StreamConfig {
	return c.Stream.override(c.Parse.Parallelism, c.Parse.CheckpointInterval)
}

// ChunkStream returns the consume loop settings of the chunk stage.
func (c *Config) ChunkStream() StreamConfig {
	return c.Stream.override(c.Chunk.Parallelism, c.Chunk.CheckpointInterval)
}

func (s StreamConfig) override(parallelism int, interval time.Duration) StreamConfig {
	if parallelism > 0 {
		s.Parallelism = parallelism
	}
	if interval > 0 {
		s.CheckpointInterval = interval
	}
	return s
}

// Validate checks that the configuration is complete and consistent.
func (c *Config) Validate() error {
	var problems []string
	add := func(format string, args ...any) {
		problems = append(problems, fmt.Sprintf(format, args...))
	}

	switch c.Broker.Type {
	case BrokerMemory:
	case BrokerKafka:
		if len(c.Broker.Brokers) == 0 {
			add("kafka requires at least one broker address")
		}
	default:
		return fmt.Errorf("%w: broker %q", ErrUnknownBackend, c.Broker.Type)
	}

	switch c.Storage.Type {
	case StorageLocal:
		if c.Storage.Root == "" {
			add("local storage requires a root directory")
		}
	case StorageS3:
		if c.Storage.Endpoint == "" {
			add("s3 storage requires an endpoint")
		}
		if c.Storage.Bucket == "" {
			add("s3 storage requires a bucket")
		}
	default:
		return fmt.Errorf("%w: storage %q", ErrUnknownBackend, c.Storage.Type)
	}

	switch c.State.Type {
	case StateBadger:
	case StateRedis:
		if c.State.RedisAddr == "" {
			add("redis state requires an address")
		}
	default:
		return fmt.Errorf("%w: state %q", ErrUnknownBackend, c.State.Type)
	}

	if c.Ingest.Topic == "" || c.Parse.Topic == "" || c.Chunk.Topic == "" {
		add("topics cannot be empty")
	}
	if c.Ingest.BatchSize < 1 {
		add("batch size must be positive, got %d", c.Ingest.BatchSize)
	}
	if c.Ingest.PageSize < 0 {
		add("page size cannot be negative, got %d", c.Ingest.PageSize)
	}
	if c.Ingest.MaxFiles < 0 {
		add("max files cannot be negative, got %d", c.Ingest.MaxFiles)
	}
	if c.Parse.Group == "" || c.Chunk.Group == "" {
		add("consumer groups cannot be empty")
	}
	if err := (chunk.Chunker{WindowSize: c.Chunk.WindowSize, Overlap: c.Chunk.Overlap}).Validate(); err != nil {
		add("%v", err)
	}
	if c.Stream.Parallelism < 1 {
		add("parallelism must be positive, got %d", c.Stream.Parallelism)
	}
	if c.Stream.CommitBatch < 1 {
		add("commit batch must be positive, got %d", c.Stream.CommitBatch)
	}
	if c.Stream.CheckpointInterval <= 0 {
		add("checkpoint interval must be positive")
	}
	if c.Parse.Parallelism < 0 || c.Chunk.Parallelism < 0 {
		add("stage parallelism cannot be negative")
	}
	if c.Retry.MaxAttempts < 1 {
		add("retry attempts must be positive, got %d", c.Retry.MaxAttempts)
	}
	if c.Retry.Jitter < 0 || c.Retry.Jitter > 1 {
		add("retry jitter must be between 0 and 1, got %g", c.Retry.Jitter)
	}
	if c.Drive.CallTimeout <= 0 {
		add("drive call timeout must be positive")
	}

	if len(problems) > 0 {
		return fmt.Errorf("%w: %s", ErrInvalidConfig, strings.Join(problems, "; "))
	}
	return nil
}
