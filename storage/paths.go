package storage

import (
	"fmt"
	"net/url"
	"path"
	"strings"
	"time"
)

// ParsedTextPrefix is the directory holding extracted text.
const ParsedTextPrefix = "parsed"

// ParsedTextPath returns the path of the extracted text of one file revision.
// The same (fileID, revision) always maps to the same path, so re-parsing a
// revision overwrites its text instead of duplicating it.
func ParsedTextPath(fileID string, revision time.Time) string {
	return path.Join(ParsedTextPrefix, escapeSegment(fileID), fmt.Sprintf("%d.txt", revision.UnixMilli()))
}

// escapeSegment escapes s for use as one path segment. Dot segments are
// percent-encoded so they cannot climb out of or collapse their parent.
func escapeSegment(s string) string {
	e := url.PathEscape(s)
	if e == "" || strings.Trim(e, ".") != "" {
		return e
	}
	return strings.ReplaceAll(e, ".", "%2E")
}

// ValidatePath checks that p is a relative, slash-separated path that stays
// inside the store root.
func ValidatePath(p string) error {
	if p == "" || strings.HasPrefix(p, "/") {
		return fmt.Errorf("%w: %q", ErrInvalidPath, p)
	}
	clean := path.Clean(p)
	if clean == "." || clean == ".." || strings.HasPrefix(clean, "../") {
		return fmt.Errorf("%w: %q", ErrInvalidPath, p)
	}
	return nil
}
