package parse

import "errors"

var (
	// ErrUnsupportedType indicates a file that is not a PDF.
	ErrUnsupportedType = errors.New("unsupported mime type")

	// ErrNoText indicates a document without extractable text.
	ErrNoText = errors.New("no extractable text")

	// ErrFetcherRequired indicates a missing fetcher.
	ErrFetcherRequired = errors.New("fetcher is required")

	// ErrExtractorRequired indicates a missing extractor.
	ErrExtractorRequired = errors.New("extractor is required")

	// ErrStoreRequired indicates a missing text store.
	ErrStoreRequired = errors.New("store is required")

	// ErrRevisionsRequired indicates a missing revision store.
	ErrRevisionsRequired = errors.New("revision store is required")

	// ErrCodecRequired indicates a missing codec.
	ErrCodecRequired = errors.New("codec is required")
)
