package storage

import (
	"context"
	"strings"

	"github.com/timmy/slidefix/internal/config"
)

// Type selects the object store client.
type Type string

const (
	TypeR2           Type = "r2"
	TypeS3           Type = "s3"
	TypeS3Compatible Type = "s3compatible"
	TypeMinIO        Type = "minio"
)

// Config holds the connection settings shared by every store type.
type Config struct {
	Type      Type
	Endpoint  string
	AccessKey string
	SecretKey string
	UseSSL    bool
	Bucket    string
	Region    string
	PublicURL string // public prefix for R2.dev or a CDN
}

// Bucketed is implemented by stores that can create their bucket.
type Bucketed interface {
	EnsureBucket(ctx context.Context) error
}

// New creates the ObjectStorage for cfg.
// Parameters:
//   - cfg: connection settings; an empty Type is detected from the endpoint.
// Returns:
//   - ObjectStorage: the store client.
//   - error: non-nil if the client cannot be created.
func New(cfg *Config) (ObjectStorage, error) {
	if cfg.Type == "" {
		cfg.Type = detectType(cfg.Endpoint)
	}
	if cfg.Type == TypeMinIO {
		return NewMinIOStorage(cfg)
	}
	return NewS3Storage(cfg)
}

// FromConfig builds the store described by the application config.
// It returns ErrNotConfigured when exporting is disabled.
func FromConfig(c *config.StorageConfig) (ObjectStorage, error) {
	if !c.Enabled() {
		return nil, ErrNotConfigured
	}
	return New(&Config{
		Type:      Type(strings.ToLower(c.Type)),
		Endpoint:  c.Endpoint,
		AccessKey: c.AccessKey,
		SecretKey: c.SecretKey,
		UseSSL:    c.UseSSL,
		Bucket:    c.Bucket,
		Region:    c.Region,
		PublicURL: c.PublicURL,
	})
}

func detectType(endpoint string) Type {
	endpoint = strings.ToLower(endpoint)

	switch {
	case strings.Contains(endpoint, "r2.cloudflarestorage.com"):
		return TypeR2
	case strings.Contains(endpoint, "amazonaws.com"):
		return TypeS3
	default:
		return TypeS3Compatible
	}
}

func scheme(useSSL bool) string {
	if useSSL {
		return "https"
	}
	return "http"
}

// normalizeEndpoint strips the scheme and any path from endpoint.
func normalizeEndpoint(endpoint string) string {
	endpoint = strings.TrimPrefix(endpoint, "https://")
	endpoint = strings.TrimPrefix(endpoint, "http://")
	if idx := strings.Index(endpoint, "/"); idx != -1 {
		endpoint = endpoint[:idx]
	}
	return endpoint
}
