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


package main

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/joho/godotenv"
	"github.com/urfave/cli/v2"
)

func main() {
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		log.Printf("ignoring .env: %v", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := newApp().RunContext(ctx, os.Args); err != nil {
		log.Fatal(err)
	}
}

func newApp() *cli.App {
	return &cli.App{
		Name:   "docflow",
		Usage:  "Stream Drive documents through ingest, parse and chunk stages",
		Flags:  globalFlags(),
		Before: setupLogger,
		Commands: []*cli.Command{
			{
				Name:   "ingest",
				Usage:  "List Drive files and publish their metadata",
				Action: ingestCommand,
				Flags:  ingestFlags(),
			},
			{
				Name:   "parse",
				Usage:  "Download and extract PDFs from the metadata channel",
				Action: parseCommand,
				Flags:  append(parseFlags(), streamFlags()...),
			},
			{
				Name:   "chunk",
				Usage:  "Split extracted text into overlapping windows",
				Action: chunkCommand,
				Flags:  append(chunkFlags(), streamFlags()...),
			},
			{
				Name:   "run",
				Usage:  "Run all three stages in one process",
				Action: runCommand,
				Flags:  concat(ingestFlags(), parseFlags(), chunkFlags(), streamFlags()),
			},
			{
				Name:   "stats",
				Usage:  "Print the saved ingest cursor and stored file revisions",
				Action: statsCommand,
				Flags: []cli.Flag{
					&cli.StringFlag{
						Name:  "cursor-name",
						Usage: "Name of the ingest cursor",
						Value: "ingest",
					},
					&cli.StringSliceFlag{
						Name:  "file",
						Usage: "File id whose stored revision is printed (repeatable)",
					},
				},
			},
		},
	}
}

func setupLogger(c *cli.Context) error {
	levelStr := strings.ToLower(c.String("log-level"))

	var level slog.Level
	switch levelStr {
	case "debug":
		level = slog.LevelDebug
	case "info":
		level = slog.LevelInfo
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		return fmt.Errorf("invalid log level %q: must be one of debug, info, warn, error", levelStr)
	}

	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
		Level: level,
	}))
	slog.SetDefault(logger)

	return nil
}

func concat(groups ...[]cli.Flag) []cli.Flag {
	var out []cli.Flag
	for _, g := range groups {
		out = append(out, g...)
	}
	return out
}
