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


// Package extract turns downloaded documents into plain text.
package extract

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/poiesic/docflow/core"
	"github.com/tmc/langchaingo/documentloaders"
)

var (
	// ErrEmptyDocument indicates a zero-length download.
	ErrEmptyDocument = errors.New("empty document")

	// ErrNotPDF indicates content without a PDF header.
	ErrNotPDF = errors.New("content is not a pdf")

	// ErrMalformedPDF indicates a PDF the parser could not read.
	ErrMalformedPDF = errors.New("malformed pdf")
)

var pdfMagic = []byte("%PDF-")

// Extractor converts document bytes into normalized text.
type Extractor interface {
	Extract(ctx context.Context, data []byte) (string, error)
}

// PDFExtractor extracts the text layer of PDF documents page by page.
type PDFExtractor struct {
	password string
	logger   *slog.Logger
}

var _ Extractor = (*PDFExtractor)(nil)

// PDFOption configures a PDFExtractor.
type PDFOption func(*PDFExtractor)

// WithPassword sets the password used to open encrypted documents.
func WithPassword(password string) PDFOption {
	return func(e *PDFExtractor) { e.password = password }
}

// WithLogger sets the extractor logger.
func WithLogger(logger *slog.Logger) PDFOption {
	return func(e *PDFExtractor) { e.logger = logger }
}

// NewPDFExtractor creates a PDFExtractor.
func NewPDFExtractor(opts ...PDFOption) *PDFExtractor {
	e := &PDFExtractor{logger: slog.Default()}
	for _, opt := range opts {
		opt(e)
	}
	e.logger = e.logger.With("component", "extract")
	return e
}

// Extract returns the normalized text of a PDF document. Pages are joined
// by a newline. A document without a text layer yields "".
//
// Content that is not a readable PDF is reported as core.ErrValidation.
func (e *PDFExtractor) Extract(ctx context.Context, data []byte) (text string, err error) {
	if len(data) == 0 {
		return "", core.Invalid(ErrEmptyDocument)
	}
	if !bytes.HasPrefix(bytes.TrimLeft(data, " \t\r\n"), pdfMagic) {
		return "", core.Invalid(ErrNotPDF)
	}

	// The underlying parser panics on some corrupt inputs
	defer func() {
		if r := recover(); r != nil {
			text = ""
			err = core.Invalid(fmt.Errorf("%w: %v", ErrMalformedPDF, r))
		}
	}()

	var opts []documentloaders.PDFOptions
	if e.password != "" {
		opts = append(opts, documentloaders.WithPassword(e.password))
	}
	loader := documentloaders.NewPDF(bytes.NewReader(data), int64(len(data)), opts...)
	docs, err := loader.Load(ctx)
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return "", ctxErr
		}
		return "", core.Invalid(fmt.Errorf("%w: %w", ErrMalformedPDF, err))
	}

	pages := make([]string, 0, len(docs))
	for _, doc := range docs {
		if page := Normalize(doc.PageContent); page != "" {
			pages = append(pages, page)
		}
	}
	e.logger.Debug("extracted pdf", "pages", len(docs), "textPages", len(pages))
	return strings.Join(pages, "\n"), nil
}
