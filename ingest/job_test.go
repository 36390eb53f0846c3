package ingest

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/poiesic/docflow/broker"
	"github.com/poiesic/docflow/broker/memory"
	"github.com/poiesic/docflow/core"
	"github.com/poiesic/docflow/drive"
	"github.com/poiesic/docflow/retry"
	"github.com/poiesic/docflow/state/badger"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var fixedNow = time.Date(2025, 3, 2, 8, 0, 0, 0, time.UTC)

func fixedClock() time.Time { return fixedNow }

// fakeLister serves pages keyed by the token they are requested with.
type fakeLister struct {
	mu           sync.Mutex
	pages        map[string]drive.Page
	sizes        []int
	tokens       []string
	ListPageFunc func(ctx context.Context, token string, size int) (drive.Page, error)
}

func (l *fakeLister) ListPage(ctx context.Context, token string, size int) (drive.Page, error) {
	l.mu.Lock()
	l.sizes = append(l.sizes, size)
	l.tokens = append(l.tokens, token)
	l.mu.Unlock()
	if l.ListPageFunc != nil {
		return l.ListPageFunc(ctx, token, size)
	}
	page, ok := l.pages[token]
	if !ok {
		return drive.Page{}, core.Invalid(fmt.Errorf("unknown token %q", token))
	}
	return page, nil
}

type fakePublisher struct {
	PublishFunc func(ctx context.Context, msgs ...broker.Message) error
}

func (p *fakePublisher) Publish(ctx context.Context, msgs ...broker.Message) error {
	return p.PublishFunc(ctx, msgs...)
}

func (p *fakePublisher) Close() error { return nil }

func file(id string) core.FileRecord {
	mod := time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)
	return core.FileRecord{
		ID:           id,
		Name:         id + ".pdf",
		MimeType:     core.MimeTypePDF,
		CreatedTime:  mod.Add(-time.Hour),
		ModifiedTime: mod,
		Parents:      []string{"root"},
		Owners:       []core.Owner{{Name: "Ada"}},
	}
}

func twoPages() map[string]drive.Page {
	return map[string]drive.Page{
		"":   {Files: []core.FileRecord{file("a"), file("b"), file("c")}, NextPageToken: "p2"},
		"p2": {Files: []core.FileRecord{file("d"), file("e")}},
	}
}

func testConfig() *Config {
	cfg := DefaultConfig()
	cfg.BatchSize = 2
	cfg.Retry = retry.Policy{MaxAttempts: 3, BaseDelay: time.Millisecond, MaxDelay: 2 * time.Millisecond}
	return cfg
}

func newTestJob(t *testing.T, lister Lister, pub broker.Publisher, cfg *Config, opts ...Option) *Job {
	t.Helper()
	codec, err := broker.DefaultCodec()
	require.NoError(t, err)
	opts = append([]Option{WithClock(fixedClock)}, opts...)
	job, err := NewJob(lister, pub, codec, cfg, opts...)
	require.NoError(t, err)
	return job
}

func keys(msgs []broker.Message) []string {
	out := make([]string, len(msgs))
	for i, m := range msgs {
		out[i] = string(m.Key)
	}
	return out
}

func TestJob_Run_PublishesAllPages(t *testing.T) {
	b := memory.New(1)
	lister := &fakeLister{pages: twoPages()}
	job := newTestJob(t, lister, b, testConfig())

	res, err := job.Run(context.Background())
	require.NoError(t, err)

	assert.Equal(t, StateDone, res.Status)
	assert.Equal(t, StateDone, job.Status())
	assert.Equal(t, 5, res.Processed)
	assert.Equal(t, 5, res.Published)
	assert.Zero(t, res.Failed)
	assert.Equal(t, "p2", res.LastPageToken)

	msgs := b.Messages(DefaultTopic)
	assert.Equal(t, []string{"a", "b", "c", "d", "e"}, keys(msgs))
	assert.Equal(t, []string{"", "p2"}, lister.tokens)
	assert.Equal(t, []int{2, 2}, lister.sizes)

	codec, err := broker.DefaultCodec()
	require.NoError(t, err)
	var rec core.FileRecord
	require.NoError(t, codec.Decode(broker.Delivery{Message: msgs[0]}, broker.SchemaFileRecord, &rec))
	assert.Equal(t, "a", rec.ID)
	assert.Equal(t, fixedNow.UnixMilli(), rec.Timestamp)
}

func TestJob_Run_BatchesWithinPage(t *testing.T) {
	var (
		mu      sync.Mutex
		batches [][]string
	)
	pub := &fakePublisher{PublishFunc: func(ctx context.Context, msgs ...broker.Message) error {
		mu.Lock()
		defer mu.Unlock()
		batches = append(batches, keys(msgs))
		return nil
	}}
	cfg := testConfig()
	cfg.PageSize = 10
	job := newTestJob(t, &fakeLister{pages: twoPages()}, pub, cfg)

	_, err := job.Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, [][]string{{"a", "b"}, {"c"}, {"d", "e"}}, batches)
}

func TestJob_Run_IsByteIdenticalOnRerun(t *testing.T) {
	run := func() []broker.Message {
		b := memory.New(1)
		job := newTestJob(t, &fakeLister{pages: twoPages()}, b, testConfig())
		_, err := job.Run(context.Background())
		require.NoError(t, err)
		return b.Messages(DefaultTopic)
	}

	first, second := run(), run()
	require.Len(t, second, len(first))
	for i := range first {
		assert.Equal(t, first[i].Key, second[i].Key)
		assert.Equal(t, first[i].Value, second[i].Value)
		assert.Equal(t, first[i].Headers, second[i].Headers)
	}
}

func TestJob_Run_FallbackKeysAreUniquePerBatch(t *testing.T) {
	b := memory.New(1)
	lister := &fakeLister{pages: map[string]drive.Page{
		"": {Files: []core.FileRecord{file(""), file("x"), file(""), file("")}},
	}}
	cfg := testConfig()
	cfg.BatchSize = 10
	job := newTestJob(t, lister, b, cfg)

	_, err := job.Run(context.Background())
	require.NoError(t, err)

	ms := fmt.Sprint(fixedNow.UnixMilli())
	assert.Equal(t, []string{"unknown_" + ms, "x", "unknown_" + ms + "_1", "unknown_" + ms + "_2"},
		keys(b.Messages(DefaultTopic)))
}

func TestJob_Run_RetriesTransientListingWithoutDuplicates(t *testing.T) {
	b := memory.New(1)
	pages := twoPages()
	failures := 0
	lister := &fakeLister{ListPageFunc: func(ctx context.Context, token string, size int) (drive.Page, error) {
		if token == "" && failures < 2 {
			failures++
			return drive.Page{}, core.Transient(errors.New("connection reset"))
		}
		return pages[token], nil
	}}
	job := newTestJob(t, lister, b, testConfig())

	res, err := job.Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, StateDone, res.Status)
	assert.Equal(t, 5, res.Published)
	assert.Equal(t, []string{"a", "b", "c", "d", "e"}, keys(b.Messages(DefaultTopic)))
	assert.Equal(t, []string{"", "", "", "p2"}, lister.tokens)
}

func TestJob_Run_FatalListingFails(t *testing.T) {
	lister := &fakeLister{ListPageFunc: func(ctx context.Context, token string, size int) (drive.Page, error) {
		return drive.Page{}, core.Fatal(drive.ErrCredentialsRevoked)
	}}
	job := newTestJob(t, lister, memory.New(1), testConfig())

	res, err := job.Run(context.Background())
	require.Error(t, err)
	assert.ErrorIs(t, err, drive.ErrCredentialsRevoked)
	assert.Equal(t, StateFailed, res.Status)
	assert.Equal(t, StateFailed, job.Status())
	assert.Len(t, lister.tokens, 1)
}

func TestJob_Run_MaxFilesCapsPageSize(t *testing.T) {
	b := memory.New(1)
	lister := &fakeLister{pages: twoPages()}
	cfg := testConfig()
	cfg.PageSize = 3
	cfg.MaxFiles = 4
	job := newTestJob(t, lister, b, cfg)

	res, err := job.Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 4, res.Published)
	assert.Equal(t, []int{3, 1}, lister.sizes)
	assert.Equal(t, []string{"a", "b", "c", "d"}, keys(b.Messages(DefaultTopic)))
	// The second page was cut short, so a resumed run starts over on it
	assert.Equal(t, "p2", res.LastPageToken)
}

func TestJob_Run_MaxFilesTruncatesOversizedPage(t *testing.T) {
	b := memory.New(1)
	cfg := testConfig()
	cfg.MaxFiles = 2
	job := newTestJob(t, &fakeLister{pages: twoPages()}, b, cfg)

	res, err := job.Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 2, res.Published)
	assert.Equal(t, []string{"a", "b"}, keys(b.Messages(DefaultTopic)))
	assert.Equal(t, "", res.LastPageToken)
}

func TestJob_Run_PublishFailureSurfacesLastToken(t *testing.T) {
	b := memory.New(1)
	pub := &fakePublisher{PublishFunc: func(ctx context.Context, msgs ...broker.Message) error {
		if string(msgs[0].Key) == "d" {
			return core.Transient(errors.New("broker unavailable"))
		}
		return b.Publish(ctx, msgs...)
	}}
	job := newTestJob(t, &fakeLister{pages: twoPages()}, pub, testConfig())

	res, err := job.Run(context.Background())
	require.Error(t, err)
	assert.ErrorIs(t, err, retry.ErrAttemptsExhausted)
	assert.Equal(t, StateFailed, res.Status)
	assert.Equal(t, "p2", res.LastPageToken)
	assert.Equal(t, 3, res.Published)
	assert.Equal(t, 2, res.Failed)
	assert.Equal(t, 5, res.Processed)
	assert.Equal(t, []string{"a", "b", "c"}, keys(b.Messages(DefaultTopic)))
}

func TestJob_Run_PersistsAndResumesCursor(t *testing.T) {
	cursors, err := badger.NewMemoryStore()
	require.NoError(t, err)
	defer cursors.Close()
	ctx := context.Background()

	// First run stops after the first page
	b := memory.New(1)
	cfg := testConfig()
	cfg.MaxFiles = 3
	cfg.PageSize = 3
	job := newTestJob(t, &fakeLister{pages: twoPages()}, b, cfg, WithCursorStore(cursors))
	res, err := job.Run(ctx)
	require.NoError(t, err)
	assert.Equal(t, "p2", res.LastPageToken)

	cursor, err := cursors.LoadCursor(ctx, DefaultCursorName)
	require.NoError(t, err)
	require.NotNil(t, cursor)
	assert.Equal(t, "p2", cursor.PageToken)
	assert.Equal(t, int64(3), cursor.FilesProcessed)
	assert.True(t, cursor.UpdatedAt.Equal(fixedNow))

	// Resumed run continues with the second page
	lister := &fakeLister{pages: twoPages()}
	resumed := testConfig()
	resumed.Resume = true
	job = newTestJob(t, lister, b, resumed, WithCursorStore(cursors))
	res, err = job.Run(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"p2"}, lister.tokens)
	assert.Equal(t, 2, res.Published)
	assert.Equal(t, []string{"a", "b", "c", "d", "e"}, keys(b.Messages(DefaultTopic)))
}

func TestJob_Run_StartTokenOverridesCursor(t *testing.T) {
	cursors, err := badger.NewMemoryStore()
	require.NoError(t, err)
	defer cursors.Close()
	require.NoError(t, cursors.SaveCursor(context.Background(), DefaultCursorName, &core.PageCursor{PageToken: ""}))

	lister := &fakeLister{pages: twoPages()}
	cfg := testConfig()
	cfg.Resume = true
	cfg.StartPageToken = "p2"
	job := newTestJob(t, lister, memory.New(1), cfg, WithCursorStore(cursors))

	_, err = job.Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []string{"p2"}, lister.tokens)
}

func TestJob_Run_CancelledBeforeStart(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	lister := &fakeLister{pages: twoPages()}
	job := newTestJob(t, lister, memory.New(1), testConfig())

	res, err := job.Run(ctx)
	require.NoError(t, err)
	assert.Equal(t, StateDone, res.Status)
	assert.Empty(t, lister.tokens)
}

func TestJob_Run_FinishesPageInFlightOnCancel(t *testing.T) {
	b := memory.New(1)
	ctx, cancel := context.WithCancel(context.Background())
	pages := twoPages()
	lister := &fakeLister{ListPageFunc: func(_ context.Context, token string, size int) (drive.Page, error) {
		cancel()
		return pages[token], nil
	}}
	job := newTestJob(t, lister, b, testConfig())

	res, err := job.Run(ctx)
	require.NoError(t, err)
	assert.Equal(t, 3, res.Published)
	assert.Equal(t, "p2", res.LastPageToken)
	assert.Len(t, lister.tokens, 1)
}

func TestJob_Run_ReportsProgress(t *testing.T) {
	var out strings.Builder
	cfg := testConfig()
	cfg.ReportInterval = 1
	job := newTestJob(t, &fakeLister{pages: twoPages()}, memory.New(1), cfg, WithProgress(&out))

	_, err := job.Run(context.Background())
	require.NoError(t, err)
	assert.Contains(t, out.String(), "Ingested: 5 files")
}

func TestNewJob_Validation(t *testing.T) {
	codec, err := broker.DefaultCodec()
	require.NoError(t, err)
	lister := &fakeLister{}
	b := memory.New(1)

	_, err = NewJob(nil, b, codec, nil)
	assert.ErrorIs(t, err, ErrListerRequired)
	_, err = NewJob(lister, nil, codec, nil)
	assert.ErrorIs(t, err, ErrPublisherRequired)
	_, err = NewJob(lister, b, nil, nil)
	assert.ErrorIs(t, err, ErrCodecRequired)

	bad := DefaultConfig()
	bad.BatchSize = 0
	_, err = NewJob(lister, b, codec, bad)
	assert.ErrorIs(t, err, ErrInvalidConfig)

	job, err := NewJob(lister, b, codec, nil)
	require.NoError(t, err)
	assert.Equal(t, StateInit, job.Status())
}
