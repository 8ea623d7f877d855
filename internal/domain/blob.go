package domain

import (
	"context"
	"io"
	"time"
)

// BlobWriter uploads data to object storage.
type BlobWriter interface {
	Put(ctx context.Context, path string, data io.Reader, contentType string) error
	PutMultipart(ctx context.Context, path string, data io.Reader, partSize int64) error
}

// ArchiveResult counts what one archive run exported.
type ArchiveResult struct {
	Month       time.Time
	Trades      int64
	Resolutions int64
	// Skipped lists archive paths that already existed and were left alone.
	Skipped []string
}

// Archiver copies a month of the ledger to cold storage. The ledger itself
// is never pruned.
type Archiver interface {
	ArchiveMonth(ctx context.Context, month time.Time) (ArchiveResult, error)
}
