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


package core

import "fmt"

// ValidateFileRecord validates a FileRecord consumed by the parse stage.
//
// Validation rules:
//   - ID must not be empty
//   - ModifiedTime must be set (it is the revision timestamp)
//
// The returned error is classified as ErrValidation.
func ValidateFileRecord(record *FileRecord) error {
	if record == nil {
		return Invalid(fmt.Errorf("file record is nil"))
	}
	if record.ID == "" {
		return Invalid(ErrMissingID)
	}
	if record.ModifiedTime.IsZero() {
		return Invalid(fmt.Errorf("file %s: %w", record.ID, ErrMissingRevision))
	}
	return nil
}

// ValidateParsedFileRecord validates a ParsedFileRecord consumed by the chunk stage.
func ValidateParsedFileRecord(record *ParsedFileRecord) error {
	if record == nil {
		return Invalid(fmt.Errorf("parsed record is nil"))
	}
	if record.FileID == "" {
		return Invalid(ErrMissingID)
	}
	switch record.Status {
	case ParseStatusSuccess:
		if record.StoragePath == "" {
			return Invalid(fmt.Errorf("file %s: storage path cannot be empty", record.FileID))
		}
	case ParseStatusSkipped, ParseStatusFailed:
	default:
		return Invalid(fmt.Errorf("%w: %q", ErrInvalidStatus, record.Status))
	}
	return nil
}

// ValidateChunkRecord validates the range invariants of a single chunk.
func ValidateChunkRecord(record *ChunkRecord) error {
	if record == nil {
		return Invalid(fmt.Errorf("chunk record is nil"))
	}
	if record.FileID == "" {
		return Invalid(ErrMissingID)
	}
	if record.StartOffset < 0 || record.EndOffset <= record.StartOffset {
		return Invalid(fmt.Errorf("%w: [%d,%d)", ErrInvalidOffsets, record.StartOffset, record.EndOffset))
	}
	return nil
}
