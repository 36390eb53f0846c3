package core

import (
	"encoding/hex"
	"strconv"
	"time"

	"github.com/go-crypt/x/blake2b"
)

// MIME types the parse stage treats as PDF content.
// Google Docs are exported to PDF when downloaded.
const (
	MimeTypePDF       = "application/pdf"
	MimeTypeGoogleDoc = "application/vnd.google-apps.document"
)

// Owner identifies a user owning a remote file.
type Owner struct {
	Name  string `json:"name"`
	Email string `json:"email,omitempty"`
}

// Links holds the browser and download links reported by the remote store.
type Links struct {
	View    string `json:"view,omitempty"`
	Content string `json:"content,omitempty"`
}

// FileRecord is the metadata of one remote file as published on the
// metadata channel. The ID is the message key.
type FileRecord struct {
	ID           string    `json:"id"`
	Name         string    `json:"name"`
	MimeType     string    `json:"mimeType"`
	CreatedTime  time.Time `json:"createdTime"`
	ModifiedTime time.Time `json:"modifiedTime"`
	Size         *int64    `json:"size,omitempty"`
	Links        Links     `json:"links"`
	Parents      []string  `json:"parents"`
	Owners       []Owner   `json:"owners"`
	Timestamp    int64     `json:"timestamp"` // Ingest time, epoch millis
}

// IsPDF reports whether the record's MIME type is handled by the parse stage.
func (r *FileRecord) IsPDF() bool {
	return IsPDF(r.MimeType)
}

// IsPDF reports whether mimeType denotes a PDF or a document exportable as one.
func IsPDF(mimeType string) bool {
	return mimeType == MimeTypePDF || mimeType == MimeTypeGoogleDoc
}

// ParseStatus is the outcome of parsing a single file revision.
type ParseStatus string

const (
	ParseStatusSuccess ParseStatus = "success"
	ParseStatusSkipped ParseStatus = "skipped"
	ParseStatusFailed  ParseStatus = "failed"
)

// ParsedFileRecord references the extracted text of one file revision.
// At most one successful record exists per (FileID, RevisionTimestamp).
type ParsedFileRecord struct {
	FileID            string      `json:"fileId"`
	Name              string      `json:"name,omitempty"`
	MimeType          string      `json:"mimeType,omitempty"`
	RevisionTimestamp time.Time   `json:"revisionTimestamp"`
	StoragePath       string      `json:"storagePath,omitempty"`
	TextLength        int         `json:"textLength"` // In characters
	ContentHash       string      `json:"contentHash,omitempty"`
	Status            ParseStatus `json:"status"`
	Error             string      `json:"error,omitempty"`
	ParsedAt          int64       `json:"parsedAt"` // Epoch millis
}

// ChunkRecord is one window of a file's extracted text.
// Offsets are character offsets into the stored text, end exclusive.
type ChunkRecord struct {
	FileID            string    `json:"fileId"`
	ChunkIndex        int       `json:"chunkIndex"`
	ChunkID           string    `json:"chunkId"`
	Text              string    `json:"text"`
	StartOffset       int       `json:"startOffset"`
	EndOffset         int       `json:"endOffset"`
	WindowSize        int       `json:"windowSize"`
	OverlapSize       int       `json:"overlapSize"`
	TotalChunks       int       `json:"totalChunks"`
	RevisionTimestamp time.Time `json:"revisionTimestamp"`
}

// ChunkID returns the identifier of the index-th chunk of a file.
func ChunkID(fileID string, index int) string {
	return fileID + "_chunk_" + strconv.Itoa(index)
}

// PageCursor is the resumable position of an ingest run.
// An empty PageToken means the start of the listing.
type PageCursor struct {
	PageToken      string
	FilesProcessed int64
	UpdatedAt      time.Time
}

// ContentHash returns a hex BLAKE2b-256 digest of text.
// Identical text always produces the identical digest.
func ContentHash(text string) string {
	h, _ := blake2b.New(32, nil)
	h.Write([]byte(text))
	return hex.EncodeToString(h.Sum(nil))
}
