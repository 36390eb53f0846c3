package main

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"time"

	"github.com/poiesic/docflow"
	"github.com/poiesic/docflow/config"
	"github.com/poiesic/docflow/ingest"
	"github.com/poiesic/docflow/metrics"
	"github.com/urfave/cli/v2"
	"golang.org/x/sync/errgroup"
)

// withSystem opens the configured backends and the optional metrics
// server, runs fn and closes everything again.
func withSystem(c *cli.Context, cfg *config.Config, fn func(ctx context.Context, sys *docflow.System) error) error {
	ctx := c.Context
	m := metrics.New()

	sys, err := docflow.Open(ctx, cfg, docflow.WithMetrics(m), docflow.WithLogger(slog.Default()))
	if err != nil {
		return fmt.Errorf("failed to open backends: %w", err)
	}
	defer func() {
		if err := sys.Close(); err != nil {
			slog.Error("error closing backends", "err", err)
		}
	}()

	if cfg.Metrics.Addr == "" {
		return fn(ctx, sys)
	}

	serverCtx, stopServer := context.WithCancel(ctx)
	serverErr := make(chan error, 1)
	go func() {
		serverErr <- metrics.NewServer(cfg.Metrics.Addr, m, slog.Default()).Run(serverCtx)
	}()

	err = fn(ctx, sys)
	stopServer()
	if serr := <-serverErr; serr != nil {
		slog.Error("metrics server failed", "err", serr)
	}
	return err
}

func warnMemoryBroker(cfg *config.Config) {
	if cfg.Broker.Type == config.BrokerMemory {
		slog.Warn("the in-memory broker lives only as long as this process; use the run command or --broker kafka")
	}
}

func ingestCommand(c *cli.Context) error {
	cfg, err := buildConfig(c)
	if err != nil {
		return err
	}
	warnMemoryBroker(cfg)

	return withSystem(c, cfg, func(ctx context.Context, sys *docflow.System) error {
		return runIngest(ctx, sys, c.App.ErrWriter)
	})
}

func runIngest(ctx context.Context, sys *docflow.System, progress io.Writer) error {
	client, err := sys.NewDriveClient(ctx)
	if err != nil {
		return fmt.Errorf("failed to create Drive client: %w", err)
	}
	job, err := sys.NewIngestJob(client, ingest.WithProgress(progress))
	if err != nil {
		return fmt.Errorf("failed to create ingest job: %w", err)
	}

	res, err := job.Run(ctx)
	fmt.Fprintf(progress, "Status: %s\nProcessed: %d\nPublished: %d\nFailed: %d\nLast page token: %q\n",
		res.Status, res.Processed, res.Published, res.Failed, res.LastPageToken)
	if err != nil {
		return fmt.Errorf("ingest failed: %w", err)
	}
	return nil
}

func parseCommand(c *cli.Context) error {
	cfg, err := buildConfig(c)
	if err != nil {
		return err
	}
	warnMemoryBroker(cfg)

	return withSystem(c, cfg, runParse)
}

func runParse(ctx context.Context, sys *docflow.System) error {
	client, err := sys.NewDriveClient(ctx)
	if err != nil {
		return fmt.Errorf("failed to create Drive client: %w", err)
	}
	job, err := sys.NewParseJob(client)
	if err != nil {
		return fmt.Errorf("failed to create parse job: %w", err)
	}
	if err := sys.RunParse(ctx, job); err != nil {
		return fmt.Errorf("parse failed: %w", err)
	}
	return nil
}

func chunkCommand(c *cli.Context) error {
	cfg, err := buildConfig(c)
	if err != nil {
		return err
	}
	warnMemoryBroker(cfg)

	return withSystem(c, cfg, runChunk)
}

func runChunk(ctx context.Context, sys *docflow.System) error {
	job, err := sys.NewChunkJob()
	if err != nil {
		return fmt.Errorf("failed to create chunk job: %w", err)
	}
	if err := sys.RunChunk(ctx, job); err != nil {
		return fmt.Errorf("chunk failed: %w", err)
	}
	return nil
}

// runCommand runs ingest once and keeps the streaming stages consuming
// until interrupted. A failure of any stage stops the others.
func runCommand(c *cli.Context) error {
	cfg, err := buildConfig(c)
	if err != nil {
		return err
	}

	return withSystem(c, cfg, func(ctx context.Context, sys *docflow.System) error {
		g, gctx := errgroup.WithContext(ctx)
		g.Go(func() error { return runParse(gctx, sys) })
		g.Go(func() error { return runChunk(gctx, sys) })
		g.Go(func() error {
			if err := runIngest(gctx, sys, c.App.ErrWriter); err != nil {
				return err
			}
			slog.Info("ingest finished; parse and chunk keep running until interrupted")
			return nil
		})
		return g.Wait()
	})
}

func statsCommand(c *cli.Context) error {
	cfg, err := buildConfig(c)
	if err != nil {
		return err
	}

	st, err := docflow.OpenState(c.Context, cfg.State)
	if err != nil {
		return fmt.Errorf("failed to open state: %w", err)
	}
	defer st.Close()

	out := c.App.Writer
	name := c.String("cursor-name")
	cursor, err := st.LoadCursor(c.Context, name)
	if err != nil {
		return fmt.Errorf("failed to load cursor: %w", err)
	}
	if cursor == nil {
		fmt.Fprintf(out, "Cursor %q: none\n", name)
	} else {
		fmt.Fprintf(out, "Cursor %q: page token %q, %d files, updated %s\n",
			name, cursor.PageToken, cursor.FilesProcessed, cursor.UpdatedAt.Format(time.RFC3339))
	}

	for _, id := range c.StringSlice("file") {
		rev, ok, err := st.LastRevision(c.Context, id)
		if err != nil {
			return fmt.Errorf("failed to load revision of %s: %w", id, err)
		}
		if !ok {
			fmt.Fprintf(out, "File %s: not processed\n", id)
			continue
		}
		fmt.Fprintf(out, "File %s: revision %s\n", id, rev.Format(time.RFC3339Nano))
	}
	return nil
}
