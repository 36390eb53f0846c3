package ingest

import (
	"context"
	"fmt"

	"github.com/poiesic/docflow/core"
	"github.com/poiesic/docflow/drive"
	"github.com/poiesic/docflow/retry"
)

// Lister fetches one page of a file listing.
type Lister interface {
	ListPage(ctx context.Context, pageToken string, pageSize int) (drive.Page, error)
}

// listedPage is one fetched page, cut to the run's file limit.
type listedPage struct {
	Token     string // token the page was fetched with
	Files     []core.FileRecord
	Next      string
	Truncated bool // files beyond the limit were dropped
}

// pageWalker follows page tokens until the listing or the file limit ends.
type pageWalker struct {
	lister   Lister
	policy   retry.Policy
	pageSize int
	maxFiles int
	onFetch  func()
}

// forEach calls fn for each page starting at token, in listing order.
// Iteration stops on the first error from fn or the lister.
// Context cancellation is checked before each fetch.
func (w *pageWalker) forEach(ctx context.Context, token string, fn func(listedPage) error) error {
	seen := 0
	for {
		if err := ctx.Err(); err != nil {
			return err
		}

		size := w.pageSize
		remaining := w.maxFiles - seen
		if w.maxFiles > 0 {
			if remaining <= 0 {
				return nil
			}
			size = min(size, remaining)
		}

		if w.onFetch != nil {
			w.onFetch()
		}
		page, err := retry.Value(ctx, w.policy, func(ctx context.Context) (drive.Page, error) {
			return w.lister.ListPage(ctx, token, size)
		})
		if err != nil {
			return fmt.Errorf("list page: %w", err)
		}

		listed := listedPage{Token: token, Files: page.Files, Next: page.NextPageToken}
		if w.maxFiles > 0 && len(listed.Files) > remaining {
			listed.Files = listed.Files[:remaining]
			listed.Truncated = true
		}
		seen += len(listed.Files)

		if err := fn(listed); err != nil {
			return err
		}
		if listed.Truncated || page.NextPageToken == "" {
			return nil
		}
		token = page.NextPageToken
	}
}
