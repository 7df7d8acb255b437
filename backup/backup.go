// Package backup uploads database snapshots to blob storage.
//
// This is a one-shot, caller-driven copy for disaster recovery, not
// replication: the store stays single-writer and local.
package backup

import (
	"context"
	"io"
)

// BlobStore receives named snapshot blobs.
type BlobStore interface {
	// Put writes the blob under name, replacing any existing blob of
	// the same name. size may be -1 when unknown.
	Put(ctx context.Context, name string, r io.Reader, size int64) error
}
