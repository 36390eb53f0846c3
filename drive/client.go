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


// Package drive lists and downloads files from Google Drive.
//
// Every remote call runs under a retry.Policy. An expired credential
// triggers one session refresh per call; a session that cannot be
// refreshed stops the caller with a fatal error.
package drive

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/poiesic/docflow/core"
	"github.com/poiesic/docflow/retry"
	"golang.org/x/oauth2"
	drive "google.golang.org/api/drive/v3"
	"google.golang.org/api/option"
)

const (
	// DefaultQuery excludes trashed files from listings.
	DefaultQuery = "trashed = false"

	// DefaultOrderBy lists older files first so appended files land on later pages.
	DefaultOrderBy = "createdTime"

	// DefaultMaxDownloadBytes caps a single download.
	DefaultMaxDownloadBytes = 256 << 20

	listFields = "nextPageToken, files(id, name, mimeType, createdTime, modifiedTime, size, " +
		"webViewLink, webContentLink, parents, owners(displayName, emailAddress))"
)

// Page is one page of a file listing.
// An empty NextPageToken means the listing is exhausted.
type Page struct {
	Files         []core.FileRecord
	NextPageToken string
}

// Client is a retrying Drive API client.
type Client struct {
	service     *drive.Service
	session     Session
	policy      retry.Policy
	callTimeout time.Duration
	maxDownload int64
	query       string
	orderBy     string
	endpoint    string
	logger      *slog.Logger
}

// Option configures a Client.
type Option func(*Client)

// WithRetryPolicy sets the policy applied to each remote call.
func WithRetryPolicy(p retry.Policy) Option {
	return func(c *Client) { c.policy = p }
}

// WithCallTimeout bounds a single attempt of a remote call.
func WithCallTimeout(d time.Duration) Option {
	return func(c *Client) { c.callTimeout = d }
}

// WithMaxDownloadBytes caps the size of a downloaded file.
func WithMaxDownloadBytes(n int64) Option {
	return func(c *Client) { c.maxDownload = n }
}

// WithQuery sets the Drive search query used for listings.
func WithQuery(q string) Option {
	return func(c *Client) { c.query = q }
}

// WithOrderBy sets the listing sort order.
func WithOrderBy(orderBy string) Option {
	return func(c *Client) { c.orderBy = orderBy }
}

// WithEndpoint overrides the API base URL.
func WithEndpoint(url string) Option {
	return func(c *Client) { c.endpoint = url }
}

// WithLogger sets the client logger.
func WithLogger(logger *slog.Logger) Option {
	return func(c *Client) { c.logger = logger }
}

// NewClient creates a Client authenticated by session.
func NewClient(ctx context.Context, session Session, opts ...Option) (*Client, error) {
	if session == nil {
		return nil, errors.New("drive: session is required")
	}
	c := &Client{
		session:     session,
		policy:      retry.DefaultPolicy(),
		callTimeout: 60 * time.Second,
		maxDownload: DefaultMaxDownloadBytes,
		query:       DefaultQuery,
		orderBy:     DefaultOrderBy,
		logger:      slog.Default(),
	}
	for _, opt := range opts {
		opt(c)
	}
	c.logger = c.logger.With("component", "drive")

	hc := &http.Client{Transport: &oauth2.Transport{Source: session, Base: http.DefaultTransport}}
	svcOpts := []option.ClientOption{option.WithHTTPClient(hc)}
	if c.endpoint != "" {
		svcOpts = append(svcOpts, option.WithEndpoint(c.endpoint))
	}
	svc, err := drive.NewService(ctx, svcOpts...)
	if err != nil {
		return nil, fmt.Errorf("drive: create service: %w", err)
	}
	c.service = svc
	return c, nil
}

// ListPage fetches one page of file metadata starting at pageToken.
// An empty pageToken starts the listing from the beginning.
func (c *Client) ListPage(ctx context.Context, pageToken string, pageSize int) (Page, error) {
	var page Page
	err := c.call(ctx, "list files", func(ctx context.Context) error {
		call := c.service.Files.List().
			PageSize(int64(pageSize)).
			Fields(listFields).
			SupportsAllDrives(true).
			IncludeItemsFromAllDrives(true).
			Context(ctx)
		if c.query != "" {
			call = call.Q(c.query)
		}
		if c.orderBy != "" {
			call = call.OrderBy(c.orderBy)
		}
		if pageToken != "" {
			call = call.PageToken(pageToken)
		}

		list, err := call.Do()
		if err != nil {
			return err
		}

		files := make([]core.FileRecord, 0, len(list.Files))
		for _, f := range list.Files {
			files = append(files, toRecord(f))
		}
		page = Page{Files: files, NextPageToken: list.NextPageToken}
		return nil
	})
	return page, err
}

// Fetch downloads the content of rec. Google Docs are exported as PDF.
func (c *Client) Fetch(ctx context.Context, rec core.FileRecord) ([]byte, error) {
	var data []byte
	err := c.call(ctx, "fetch "+rec.ID, func(ctx context.Context) error {
		var (
			resp *http.Response
			err  error
		)
		if rec.MimeType == core.MimeTypeGoogleDoc {
			resp, err = c.service.Files.Export(rec.ID, core.MimeTypePDF).Context(ctx).Download()
		} else {
			resp, err = c.service.Files.Get(rec.ID).SupportsAllDrives(true).Context(ctx).Download()
		}
		if err != nil {
			return err
		}
		defer resp.Body.Close()

		body, err := io.ReadAll(io.LimitReader(resp.Body, c.maxDownload+1))
		if err != nil {
			return core.Transient(err)
		}
		if int64(len(body)) > c.maxDownload {
			return core.Invalid(fmt.Errorf("%w: %s", ErrFileTooLarge, rec.ID))
		}
		data = body
		return nil
	})
	return data, err
}

// call runs fn under the retry policy, refreshing the session at most once.
func (c *Client) call(ctx context.Context, op string, fn func(ctx context.Context) error) error {
	if !c.session.Valid() {
		if err := c.refresh(ctx); err != nil {
			return err
		}
	}

	refreshed := false
	for {
		err := retry.Do(ctx, c.policy, func(ctx context.Context) error {
			callCtx, cancel := context.WithTimeout(ctx, c.callTimeout)
			defer cancel()
			return classify(fn(callCtx))
		})
		if err == nil {
			return nil
		}
		if !errors.Is(err, core.ErrAuthExpired) {
			return fmt.Errorf("drive: %s: %w", op, err)
		}
		if refreshed {
			return core.Fatal(fmt.Errorf("drive: %s: %w: unauthorized after refresh: %v", op, ErrCredentialsRevoked, err))
		}
		refreshed = true
		if err := c.refresh(ctx); err != nil {
			return err
		}
	}
}

func (c *Client) refresh(ctx context.Context) error {
	c.logger.Info("refreshing session")
	if err := c.session.Refresh(ctx); err != nil {
		c.logger.Error("session refresh failed", "err", err)
		return core.Fatal(fmt.Errorf("drive: refresh session: %w: %v", ErrCredentialsRevoked, err))
	}
	return nil
}

func toRecord(f *drive.File) core.FileRecord {
	rec := core.FileRecord{
		ID:           f.Id,
		Name:         f.Name,
		MimeType:     f.MimeType,
		CreatedTime:  parseTime(f.CreatedTime),
		ModifiedTime: parseTime(f.ModifiedTime),
		Links:        core.Links{View: f.WebViewLink, Content: f.WebContentLink},
		Parents:      f.Parents,
		Owners:       make([]core.Owner, 0, len(f.Owners)),
	}
	if f.Size > 0 {
		size := f.Size
		rec.Size = &size
	}
	if rec.Parents == nil {
		rec.Parents = []string{}
	}
	for _, o := range f.Owners {
		rec.Owners = append(rec.Owners, core.Owner{Name: o.DisplayName, Email: o.EmailAddress})
	}
	return rec
}

func parseTime(s string) time.Time {
	if s == "" {
		return time.Time{}
	}
	t, err := time.Parse(time.RFC3339, s)
	if err != nil {
		return time.Time{}
	}
	return t.UTC()
}
