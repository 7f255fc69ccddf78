// Package storage writes exports and report archives to S3-compatible
// object stores.
package storage

import (
	"context"
	"errors"
	"time"
)

// ErrNotConfigured is returned by FromConfig when no object store is set up.
var ErrNotConfigured = errors.New("object storage not configured")

// Object describes one stored object.
type Object struct {
	Key          string    `json:"key"`
	Size         int64     `json:"size"`
	LastModified time.Time `json:"last_modified"`
}

// ObjectStorage is the subset of object store operations the exporter needs.
// Payloads are small JSON documents, so they travel as byte slices.
type ObjectStorage interface {
	Put(ctx context.Context, key string, body []byte, contentType string) error

	// List returns the objects under prefix sorted by key.
	List(ctx context.Context, prefix string) ([]Object, error)

	Delete(ctx context.Context, key string) error

	// URL returns a URL for key; it is only reachable if the bucket allows it.
	URL(key string) string
}
