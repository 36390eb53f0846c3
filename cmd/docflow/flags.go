package main

import (
	"github.com/poiesic/docflow/config"
	"github.com/urfave/cli/v2"
)

func env(name string) []string {
	return []string{"DOCFLOW_" + name}
}

func globalFlags() []cli.Flag {
	d := config.DefaultConfig()
	return []cli.Flag{
		&cli.StringFlag{
			Name:    "log-level",
			Aliases: []string{"l"},
			Usage:   "Set logging level (debug, info, warn, error)",
			Value:   "info",
			EnvVars: env("LOG_LEVEL"),
		},
		&cli.StringFlag{
			Name:    "broker",
			Usage:   "Message broker (memory, kafka)",
			Value:   d.Broker.Type,
			EnvVars: env("BROKER"),
		},
		&cli.StringSliceFlag{
			Name:    "kafka-brokers",
			Usage:   "Kafka bootstrap addresses",
			Value:   cli.NewStringSlice(d.Broker.Brokers...),
			EnvVars: env("KAFKA_BROKERS"),
		},
		&cli.StringFlag{
			Name:    "storage",
			Usage:   "Text storage backend (local, s3)",
			Value:   d.Storage.Type,
			EnvVars: env("STORAGE"),
		},
		&cli.StringFlag{
			Name:    "storage-root",
			Usage:   "Directory of the local text store",
			Value:   d.Storage.Root,
			EnvVars: env("STORAGE_ROOT"),
		},
		&cli.StringFlag{
			Name:    "s3-endpoint",
			Usage:   "S3-compatible endpoint (host:port)",
			EnvVars: env("S3_ENDPOINT"),
		},
		&cli.StringFlag{
			Name:    "s3-bucket",
			Usage:   "Bucket holding extracted text",
			EnvVars: env("S3_BUCKET"),
		},
		&cli.StringFlag{
			Name:    "s3-access-key",
			Usage:   "S3 access key",
			EnvVars: env("S3_ACCESS_KEY"),
		},
		&cli.StringFlag{
			Name:    "s3-secret-key",
			Usage:   "S3 secret key",
			EnvVars: env("S3_SECRET_KEY"),
		},
		&cli.BoolFlag{
			Name:    "s3-insecure",
			Usage:   "Connect to the S3 endpoint without TLS",
			EnvVars: env("S3_INSECURE"),
		},
		&cli.StringFlag{
			Name:    "state",
			Usage:   "Revision and cursor store (badger, redis)",
			Value:   d.State.Type,
			EnvVars: env("STATE"),
		},
		&cli.StringFlag{
			Name:    "state-path",
			Usage:   "BadgerDB directory; empty keeps state in memory",
			Value:   d.State.Path,
			EnvVars: env("STATE_PATH"),
		},
		&cli.StringFlag{
			Name:    "redis-addr",
			Usage:   "Redis address",
			Value:   d.State.RedisAddr,
			EnvVars: env("REDIS_ADDR"),
		},
		&cli.StringFlag{
			Name:    "redis-password",
			Usage:   "Redis password",
			EnvVars: env("REDIS_PASSWORD"),
		},
		&cli.StringFlag{
			Name:    "credentials",
			Usage:   "OAuth client secret JSON file",
			Value:   d.Drive.CredentialsFile,
			EnvVars: env("CREDENTIALS"),
		},
		&cli.StringFlag{
			Name:    "token",
			Usage:   "OAuth token file",
			Value:   d.Drive.TokenFile,
			EnvVars: env("TOKEN"),
		},
		&cli.StringFlag{
			Name:    "drive-query",
			Usage:   "Drive listing query",
			EnvVars: env("DRIVE_QUERY"),
		},
		&cli.DurationFlag{
			Name:    "call-timeout",
			Usage:   "Timeout of a single Drive API call",
			Value:   d.Drive.CallTimeout,
			EnvVars: env("CALL_TIMEOUT"),
		},
		&cli.IntFlag{
			Name:    "max-retries",
			Usage:   "Maximum attempts for failed external calls",
			Value:   d.Retry.MaxAttempts,
			EnvVars: env("MAX_RETRIES"),
		},
		&cli.DurationFlag{
			Name:    "retry-delay",
			Usage:   "Base delay for exponential backoff",
			Value:   d.Retry.BaseDelay,
			EnvVars: env("RETRY_DELAY"),
		},
		&cli.StringFlag{
			Name:    "metrics-addr",
			Usage:   "Serve /metrics and /healthz on this address",
			EnvVars: env("METRICS_ADDR"),
		},
	}
}

func ingestFlags() []cli.Flag {
	d := config.DefaultConfig()
	return []cli.Flag{
		&cli.IntFlag{
			Name:    "batch-size",
			Usage:   "Number of records per publish",
			Value:   d.Ingest.BatchSize,
			EnvVars: env("BATCH_SIZE"),
		},
		&cli.IntFlag{
			Name:    "page-size",
			Usage:   "Files requested per listing page (defaults to batch-size)",
			EnvVars: env("PAGE_SIZE"),
		},
		&cli.IntFlag{
			Name:    "max-files",
			Usage:   "Stop after this many files (0 for no limit)",
			EnvVars: env("MAX_FILES"),
		},
		&cli.StringFlag{
			Name:    "start-token",
			Usage:   "Listing page token to start from",
			EnvVars: env("START_TOKEN"),
		},
		&cli.BoolFlag{
			Name:    "resume",
			Usage:   "Continue from the saved cursor when no start token is given",
			EnvVars: env("RESUME"),
		},
		&cli.IntFlag{
			Name:  "report-interval",
			Usage: "Report progress every N files",
			Value: d.Ingest.ReportInterval,
		},
	}
}

func parseFlags() []cli.Flag {
	return []cli.Flag{
		&cli.BoolFlag{
			Name:    "emit-skipped",
			Usage:   "Publish skipped results for non-PDF files",
			Value:   true,
			EnvVars: env("EMIT_SKIPPED"),
		},
		&cli.StringFlag{
			Name:    "pdf-password",
			Usage:   "Password for encrypted PDFs",
			EnvVars: env("PDF_PASSWORD"),
		},
	}
}

func chunkFlags() []cli.Flag {
	d := config.DefaultConfig()
	return []cli.Flag{
		&cli.IntFlag{
			Name:    "window-size",
			Usage:   "Chunk window size in characters",
			Value:   d.Chunk.WindowSize,
			EnvVars: env("WINDOW_SIZE"),
		},
		&cli.IntFlag{
			Name:    "overlap",
			Usage:   "Characters shared by consecutive chunks",
			Value:   d.Chunk.Overlap,
			EnvVars: env("OVERLAP"),
		},
	}
}

func streamFlags() []cli.Flag {
	d := config.DefaultConfig()
	return []cli.Flag{
		&cli.IntFlag{
			Name:    "parallelism",
			Usage:   "Concurrent lanes per stage",
			Value:   d.Stream.Parallelism,
			EnvVars: env("PARALLELISM"),
		},
		&cli.IntFlag{
			Name:    "commit-batch",
			Usage:   "Deliveries processed per checkpoint",
			Value:   d.Stream.CommitBatch,
			EnvVars: env("COMMIT_BATCH"),
		},
		&cli.DurationFlag{
			Name:    "checkpoint-interval",
			Usage:   "Longest wait before a partial batch is checkpointed",
			Value:   d.Stream.CheckpointInterval,
			EnvVars: env("CHECKPOINT_INTERVAL"),
		},
	}
}

// buildConfig maps the flags visible from c onto a Config.
// Flags a command does not define keep their defaults.
func buildConfig(c *cli.Context) (*config.Config, error) {
	cfg := config.DefaultConfig()

	cfg.Broker.Type = c.String("broker")
	cfg.Broker.Brokers = c.StringSlice("kafka-brokers")
	cfg.Storage.Type = c.String("storage")
	cfg.Storage.Root = c.String("storage-root")
	cfg.Storage.Endpoint = c.String("s3-endpoint")
	cfg.Storage.Bucket = c.String("s3-bucket")
	cfg.Storage.AccessKey = c.String("s3-access-key")
	cfg.Storage.SecretKey = c.String("s3-secret-key")
	cfg.Storage.UseSSL = !c.Bool("s3-insecure")
	cfg.State.Type = c.String("state")
	cfg.State.Path = c.String("state-path")
	cfg.State.RedisAddr = c.String("redis-addr")
	cfg.State.RedisPassword = c.String("redis-password")
	cfg.Drive.CredentialsFile = c.String("credentials")
	cfg.Drive.TokenFile = c.String("token")
	cfg.Drive.Query = c.String("drive-query")
	cfg.Drive.CallTimeout = c.Duration("call-timeout")
	cfg.Retry.MaxAttempts = c.Int("max-retries")
	cfg.Retry.BaseDelay = c.Duration("retry-delay")
	cfg.Metrics.Addr = c.String("metrics-addr")

	if has(c, "batch-size") {
		cfg.Ingest.BatchSize = c.Int("batch-size")
		cfg.Ingest.PageSize = c.Int("page-size")
		cfg.Ingest.MaxFiles = c.Int("max-files")
		cfg.Ingest.StartPageToken = c.String("start-token")
		cfg.Ingest.Resume = c.Bool("resume")
		cfg.Ingest.ReportInterval = c.Int("report-interval")
	}
	if has(c, "emit-skipped") {
		cfg.Parse.EmitSkipped = c.Bool("emit-skipped")
		cfg.Parse.PDFPassword = c.String("pdf-password")
	}
	if has(c, "window-size") {
		cfg.Chunk.WindowSize = c.Int("window-size")
		cfg.Chunk.Overlap = c.Int("overlap")
	}
	if has(c, "parallelism") {
		cfg.Stream.Parallelism = c.Int("parallelism")
		cfg.Stream.CommitBatch = c.Int("commit-batch")
		cfg.Stream.CheckpointInterval = c.Duration("checkpoint-interval")
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// has reports whether the command of c defines the named flag.
func has(c *cli.Context, name string) bool {
	if c.Command == nil {
		return false
	}
	for _, f := range c.Command.Flags {
		for _, n := range f.Names() {
			if n == name {
				return true
			}
		}
	}
	return false
}

