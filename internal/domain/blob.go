package domain

import (
	"context"
	"io"
)

// BlobWriter uploads objects to cold storage. Put is a single-shot upload;
// PutMultipart splits the payload into parts and should be preferred for
// payloads larger than a few megabytes.
type BlobWriter interface {
	Put(ctx context.Context, path string, data io.Reader, contentType string) error
	PutMultipart(ctx context.Context, path string, data io.Reader, partSize int64) error
}
