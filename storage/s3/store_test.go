package s3

import (
	"context"
	"errors"
	"net/http"
	"testing"

	"github.com/minio/minio-go/v7"
	"github.com/poiesic/docflow/core"
	"github.com/poiesic/docflow/storage"
	"github.com/stretchr/testify/assert"
)

func TestClassify(t *testing.T) {
	tests := []struct {
		name  string
		err   error
		class error
	}{
		{"server error", minio.ErrorResponse{Code: "InternalError", StatusCode: http.StatusInternalServerError}, core.ErrTransientIO},
		{"slow down", minio.ErrorResponse{Code: "SlowDown", StatusCode: http.StatusServiceUnavailable}, core.ErrRateLimited},
		{"throttled", minio.ErrorResponse{StatusCode: http.StatusTooManyRequests}, core.ErrRateLimited},
		{"access denied", minio.ErrorResponse{Code: "AccessDenied", StatusCode: http.StatusForbidden}, core.ErrFatal},
		{"deadline", context.DeadlineExceeded, core.ErrTransientIO},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.ErrorIs(t, classify(tt.err), tt.class)
		})
	}
}

func TestClassify_Unknown(t *testing.T) {
	err := errors.New("weird")
	assert.Equal(t, err, classify(err))
	assert.NoError(t, classify(nil))
}

func TestIsNotFound(t *testing.T) {
	assert.True(t, isNotFound(minio.ErrorResponse{Code: "NoSuchKey", StatusCode: http.StatusNotFound}))
	assert.False(t, isNotFound(minio.ErrorResponse{Code: "NoSuchBucket", StatusCode: http.StatusNotFound}))
	assert.False(t, isNotFound(errors.New("other")))
}

func TestStore_KeyPrefix(t *testing.T) {
	s := &Store{bucket: "b", prefix: "docflow"}

	key, err := s.key("parsed/f1/1.txt")
	assert.NoError(t, err)
	assert.Equal(t, "docflow/parsed/f1/1.txt", key)

	_, err = s.key("../x")
	assert.ErrorIs(t, err, storage.ErrInvalidPath)
}
