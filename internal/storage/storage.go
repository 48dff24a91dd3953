// Package storage resolves job sources to local files and delivers finished
// transcripts. It defines the Storage interface (port) and implementations
// for local disk and S3.
package storage

import (
	"context"
	"io"
	"strings"
)

// S3Scheme prefixes sources stored in S3, e.g. "s3://bucket/meetings/a.m4a".
const S3Scheme = "s3://"

// Storage defines the interface for source resolution and transcript delivery.
type Storage interface {
	// TempDir returns the directory holding temporary files.
	TempDir() string

	// SaveTemp saves data to a temporary file and returns the file path.
	// The name parameter is used as a hint for the filename.
	SaveTemp(ctx context.Context, name string, data io.Reader) (path string, err error)

	// Fetch makes source available as a local file. temp reports whether
	// the returned path is a temporary copy the caller must clean up.
	Fetch(ctx context.Context, source string) (path string, temp bool, err error)

	// CleanupTemp removes the specified temporary files.
	// It continues cleanup even if some files fail to delete.
	CleanupTemp(ctx context.Context, paths []string) error

	// Upload stores data under key and returns its URL.
	// Returns ErrS3NotConfigured if S3 is not configured.
	Upload(ctx context.Context, key string, data io.Reader) (url string, err error)
}

// IsRemote reports whether source refers to an object store.
func IsRemote(source string) bool {
	return strings.HasPrefix(source, S3Scheme)
}
