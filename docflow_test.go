package docflow

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/poiesic/docflow/broker"
	"github.com/poiesic/docflow/config"
	"github.com/poiesic/docflow/core"
	"github.com/poiesic/docflow/drive"
	"github.com/poiesic/docflow/ingest"
	"github.com/poiesic/docflow/metrics"
	"github.com/poiesic/docflow/storage"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeLister struct {
	files []core.FileRecord
}

func (l *fakeLister) ListPage(ctx context.Context, token string, size int) (drive.Page, error) {
	return drive.Page{Files: l.files}, nil
}

type fakeFetcher struct{}

func (fakeFetcher) Fetch(ctx context.Context, rec core.FileRecord) ([]byte, error) {
	return []byte("%PDF-1.4 " + rec.ID), nil
}

type fakeExtractor struct {
	text string
}

func (e fakeExtractor) Extract(ctx context.Context, data []byte) (string, error) {
	return e.text, nil
}

func testConfig(t *testing.T) *config.Config {
	cfg := config.NewConfig(
		config.WithLocalStorage(filepath.Join(t.TempDir(), "text")),
		config.WithBadgerState(""),
		config.WithWindow(100, 20),
		config.WithCheckpointInterval(10*time.Millisecond),
	)
	cfg.Retry.BaseDelay = time.Millisecond
	cfg.Retry.MaxDelay = 5 * time.Millisecond
	return cfg
}

func pdfRecord(id string) core.FileRecord {
	return core.FileRecord{
		ID:           id,
		Name:         id + ".pdf",
		MimeType:     core.MimeTypePDF,
		CreatedTime:  time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC),
		ModifiedTime: time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC),
		Parents:      []string{},
		Owners:       []core.Owner{},
	}
}

func TestOpen(t *testing.T) {
	t.Run("defaults to memory broker and local storage", func(t *testing.T) {
		sys, err := Open(context.Background(), testConfig(t))
		require.NoError(t, err)
		defer sys.Close()

		assert.NotNil(t, sys.Storage())
		assert.NotNil(t, sys.State())
		assert.NotNil(t, sys.Codec())
		assert.NotNil(t, sys.memory)
		assert.Equal(t, config.BrokerMemory, sys.Config().Broker.Type)
	})

	t.Run("persistent badger state", func(t *testing.T) {
		cfg := testConfig(t)
		cfg.State.Path = filepath.Join(t.TempDir(), "state")
		sys, err := Open(context.Background(), cfg)
		require.NoError(t, err)
		require.NoError(t, sys.Close())
	})

	t.Run("invalid config", func(t *testing.T) {
		cfg := testConfig(t)
		cfg.Ingest.BatchSize = 0
		sys, err := Open(context.Background(), cfg)
		assert.ErrorIs(t, err, config.ErrInvalidConfig)
		assert.Nil(t, sys)
	})

	t.Run("storage root is a file", func(t *testing.T) {
		file := filepath.Join(t.TempDir(), "not_a_dir")
		require.NoError(t, os.WriteFile(file, []byte("test"), 0644))

		cfg := testConfig(t)
		cfg.Storage.Root = file
		sys, err := Open(context.Background(), cfg)
		assert.Error(t, err)
		assert.Nil(t, sys)
	})
}

func TestOpenStorage_UnknownBackend(t *testing.T) {
	_, err := OpenStorage(context.Background(), config.StorageConfig{Type: "tape"})
	assert.ErrorIs(t, err, config.ErrUnknownBackend)

	_, err = OpenState(context.Background(), config.StateConfig{Type: "tape"})
	assert.ErrorIs(t, err, config.ErrUnknownBackend)
}

func TestSystem_EndToEnd(t *testing.T) {
	cfg := testConfig(t)
	m := metrics.New()
	text := strings.Repeat("The quick brown fox jumps over the lazy dog. ", 6)
	sys, err := Open(context.Background(), cfg, WithMetrics(m), WithExtractor(fakeExtractor{text: text}))
	require.NoError(t, err)
	defer sys.Close()

	ingestJob, err := sys.NewIngestJob(&fakeLister{files: []core.FileRecord{pdfRecord("a"), pdfRecord("b")}})
	require.NoError(t, err)
	res, err := ingestJob.Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, ingest.StateDone, res.Status)
	assert.Equal(t, 2, res.Published)

	parseJob, err := sys.NewParseJob(fakeFetcher{})
	require.NoError(t, err)
	chunkJob, err := sys.NewChunkJob()
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 2)
	go func() { done <- sys.RunParse(ctx, parseJob) }()
	go func() { done <- sys.RunChunk(ctx, chunkJob) }()

	require.Eventually(t, func() bool {
		return sys.memory.Committed(cfg.Parse.Topic, cfg.Chunk.Group) == 2
	}, 5*time.Second, 10*time.Millisecond)
	cancel()
	require.NoError(t, <-done)
	require.NoError(t, <-done)

	parsed := sys.memory.Messages(cfg.Parse.Topic)
	require.Len(t, parsed, 2)
	for _, msg := range parsed {
		var rec core.ParsedFileRecord
		require.NoError(t, sys.Codec().Decode(broker.Delivery{Message: msg}, broker.SchemaParsedFileRecord, &rec))
		assert.Equal(t, core.ParseStatusSuccess, rec.Status)
		assert.Equal(t, storage.ParsedTextPath(rec.FileID, rec.RevisionTimestamp), rec.StoragePath)

		stored, err := sys.Storage().Get(context.Background(), rec.StoragePath)
		require.NoError(t, err)
		assert.Equal(t, text, string(stored))
	}

	chunks := sys.memory.Messages(cfg.Chunk.Topic)
	require.NotEmpty(t, chunks)
	perFile := map[string]int{}
	for _, msg := range chunks {
		var rec core.ChunkRecord
		require.NoError(t, sys.Codec().Decode(broker.Delivery{Message: msg}, broker.SchemaChunkRecord, &rec))
		assert.Equal(t, rec.FileID, string(msg.Key))
		assert.Equal(t, perFile[rec.FileID], rec.ChunkIndex, "chunks of a file arrive in order")
		assert.Equal(t, 100, rec.WindowSize)
		perFile[rec.FileID]++
	}
	assert.Len(t, perFile, 2)
	assert.Equal(t, perFile["a"], perFile["b"])

	last, ok, err := sys.State().LastRevision(context.Background(), "a")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.True(t, last.Equal(pdfRecord("a").ModifiedTime))

	cursor, err := sys.State().LoadCursor(context.Background(), cfg.Ingest.CursorName)
	require.NoError(t, err)
	require.NotNil(t, cursor)
	assert.Equal(t, int64(2), cursor.FilesProcessed)
}
