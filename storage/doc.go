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


// Package storage provides the blob storage abstraction for docflow.
//
// A Store is a key-addressed byte-blob store. Paths are opaque strings
// chosen by producers; the parse stage writes extracted text under
// ParsedTextPath and the chunk stage reads it back.
//
// # Backends
//
//   - local: files under a root directory, written atomically
//     (temp file, fsync, rename)
//   - s3: objects in an S3-compatible bucket (minio-go client)
//
// Use in tests with a temporary directory:
//
//	store, err := local.New(t.TempDir())
//	if err != nil {
//	    t.Fatal(err)
//	}
//
// # Errors
//
// Get returns ErrNotFound for a missing path. Backend failures are
// classified with the core error classes so callers can retry them.
//
// # Thread Safety
//
// All Store implementations must be safe for concurrent use.
package storage
