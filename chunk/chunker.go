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


// Package chunk splits parsed text into overlapping windows.
package chunk

import (
	"fmt"
	"strings"
	"unicode"

	"github.com/poiesic/docflow/core"
)

// Default window parameters, in characters.
const (
	DefaultWindowSize = 1000
	DefaultOverlap    = 200
)

// Span is a window of text. Offsets are in characters, end exclusive.
type Span struct {
	Start int
	End   int
	Text  string
}

// Chunker cuts text into windows of at most WindowSize characters, each
// starting Overlap characters before the previous one ended. Window ends
// are pulled back to a nearby sentence boundary when one exists.
type Chunker struct {
	WindowSize int
	Overlap    int
}

// New creates a Chunker, requiring 0 <= overlap < windowSize.
func New(windowSize, overlap int) (Chunker, error) {
	c := Chunker{WindowSize: windowSize, Overlap: overlap}
	return c, c.Validate()
}

// Validate checks the window parameters.
func (c Chunker) Validate() error {
	if c.WindowSize <= 0 {
		return fmt.Errorf("%w: window size %d", ErrInvalidWindow, c.WindowSize)
	}
	if c.Overlap < 0 || c.Overlap >= c.WindowSize {
		return fmt.Errorf("%w: overlap %d with window size %d", ErrInvalidWindow, c.Overlap, c.WindowSize)
	}
	return nil
}

func (c Chunker) lookback() int {
	if c.Overlap > 0 {
		return c.Overlap
	}
	return c.WindowSize / 10
}

// Split returns the windows covering text in order.
// Every character of text falls in at least one window, and the result
// depends only on text and the chunker parameters.
// Whitespace-only text yields no windows.
func (c Chunker) Split(text string) []Span {
	if strings.TrimSpace(text) == "" {
		return nil
	}

	runes := []rune(text)
	n := len(runes)
	lookback := c.lookback()

	var spans []Span
	start, prevEnd := 0, 0
	for {
		end := min(start+c.WindowSize, n)
		if end < n {
			end = sentenceEnd(runes, max(start, prevEnd-1), end, lookback)
		}

		spans = append(spans, Span{Start: start, End: end, Text: string(runes[start:end])})
		if end == n {
			return spans
		}

		// A window pulled back to a boundary can leave no room for the
		// overlap; continue from its end instead.
		next := end - c.Overlap
		if next <= start {
			next = end
		}
		start, prevEnd = next, end
	}
}

// sentenceEnd searches at most lookback characters before end for a
// sentence terminal followed by whitespace and returns the offset just
// past it, or end if there is none. Only terminals after floor count.
// runes[end] must exist.
func sentenceEnd(runes []rune, floor, end, lookback int) int {
	for i := end - 1; i >= end-lookback && i > floor; i-- {
		if isTerminal(runes[i]) && unicode.IsSpace(runes[i+1]) {
			return i + 1
		}
	}
	return end
}

func isTerminal(r rune) bool {
	return r == '.' || r == '!' || r == '?'
}

// Chunk splits the text of rec into ChunkRecords.
func (c Chunker) Chunk(rec core.ParsedFileRecord, text string) []core.ChunkRecord {
	spans := c.Split(text)
	chunks := make([]core.ChunkRecord, len(spans))
	for i, s := range spans {
		chunks[i] = core.ChunkRecord{
			FileID:            rec.FileID,
			ChunkIndex:        i,
			ChunkID:           core.ChunkID(rec.FileID, i),
			Text:              s.Text,
			StartOffset:       s.Start,
			EndOffset:         s.End,
			WindowSize:        c.WindowSize,
			OverlapSize:       c.Overlap,
			TotalChunks:       len(spans),
			RevisionTimestamp: rec.RevisionTimestamp,
		}
	}
	return chunks
}

// Summary describes the chunk lengths of one document.
type Summary struct {
	Count     int
	AvgLength float64
	MinLength int
	MaxLength int
}

// Stats summarizes chunk lengths in characters.
func Stats(chunks []core.ChunkRecord) Summary {
	if len(chunks) == 0 {
		return Summary{}
	}
	s := Summary{Count: len(chunks), MinLength: -1}
	total := 0
	for _, ch := range chunks {
		l := ch.EndOffset - ch.StartOffset
		total += l
		if s.MinLength < 0 || l < s.MinLength {
			s.MinLength = l
		}
		if l > s.MaxLength {
			s.MaxLength = l
		}
	}
	s.AvgLength = float64(total) / float64(len(chunks))
	return s
}
