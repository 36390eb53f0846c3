package core

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestValidateFileRecord(t *testing.T) {
	modified := time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)

	tests := []struct {
		name    string
		record  *FileRecord
		wantErr error
	}{
		{
			name:   "valid record",
			record: &FileRecord{ID: "f1", ModifiedTime: modified},
		},
		{
			name:    "nil record",
			record:  nil,
			wantErr: ErrValidation,
		},
		{
			name:    "missing id",
			record:  &FileRecord{ModifiedTime: modified},
			wantErr: ErrMissingID,
		},
		{
			name:    "missing modified time",
			record:  &FileRecord{ID: "f1"},
			wantErr: ErrMissingRevision,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ValidateFileRecord(tt.record)
			if tt.wantErr == nil {
				assert.NoError(t, err)
				return
			}
			assert.ErrorIs(t, err, tt.wantErr)
			assert.ErrorIs(t, err, ErrValidation)
		})
	}
}

func TestValidateParsedFileRecord(t *testing.T) {
	tests := []struct {
		name    string
		record  *ParsedFileRecord
		wantErr bool
	}{
		{"success with path", &ParsedFileRecord{FileID: "f1", Status: ParseStatusSuccess, StoragePath: "parsed/f1/1.txt"}, false},
		{"success without path", &ParsedFileRecord{FileID: "f1", Status: ParseStatusSuccess}, true},
		{"skipped", &ParsedFileRecord{FileID: "f1", Status: ParseStatusSkipped}, false},
		{"failed", &ParsedFileRecord{FileID: "f1", Status: ParseStatusFailed, Error: "boom"}, false},
		{"unknown status", &ParsedFileRecord{FileID: "f1", Status: "empty"}, true},
		{"missing id", &ParsedFileRecord{Status: ParseStatusSkipped}, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ValidateParsedFileRecord(tt.record)
			if tt.wantErr {
				assert.ErrorIs(t, err, ErrValidation)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestValidateChunkRecord(t *testing.T) {
	assert.NoError(t, ValidateChunkRecord(&ChunkRecord{FileID: "f1", StartOffset: 0, EndOffset: 10}))
	assert.ErrorIs(t, ValidateChunkRecord(&ChunkRecord{FileID: "f1", StartOffset: 5, EndOffset: 5}), ErrInvalidOffsets)
	assert.ErrorIs(t, ValidateChunkRecord(&ChunkRecord{FileID: "f1", StartOffset: -1, EndOffset: 5}), ErrInvalidOffsets)
	assert.ErrorIs(t, ValidateChunkRecord(&ChunkRecord{StartOffset: 0, EndOffset: 5}), ErrMissingID)
}
