package storage

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/timmy/slidefix/internal/config"
)

func TestDetectType(t *testing.T) {
	tests := []struct {
		endpoint string
		want     Type
	}{
		{"https://abc.r2.cloudflarestorage.com", TypeR2},
		{"s3.eu-west-1.amazonaws.com", TypeS3},
		{"localhost:9000", TypeS3Compatible},
		{"", TypeS3Compatible},
	}
	for _, tt := range tests {
		t.Run(tt.endpoint, func(t *testing.T) {
			assert.Equal(t, tt.want, detectType(tt.endpoint))
		})
	}
}

func TestNormalizeEndpoint(t *testing.T) {
	assert.Equal(t, "minio:9000", normalizeEndpoint("http://minio:9000/"))
	assert.Equal(t, "abc.r2.cloudflarestorage.com", normalizeEndpoint("https://abc.r2.cloudflarestorage.com/bucket/x"))
	assert.Equal(t, "localhost:9000", normalizeEndpoint("localhost:9000"))
}

func TestFromConfigDisabled(t *testing.T) {
	_, err := FromConfig(&config.StorageConfig{Bucket: "exports"})
	assert.ErrorIs(t, err, ErrNotConfigured)

	_, err = FromConfig(&config.StorageConfig{Type: "minio"})
	assert.ErrorIs(t, err, ErrNotConfigured)
}

func TestNewSelectsClient(t *testing.T) {
	m, err := New(&Config{Type: TypeMinIO, Endpoint: "http://localhost:9000", Bucket: "exports", AccessKey: "k", SecretKey: "s"})
	require.NoError(t, err)
	require.IsType(t, &MinIOStorage{}, m)
	assert.Equal(t, "http://localhost:9000/exports/cache/a.json", m.URL("cache/a.json"))

	s, err := New(&Config{Endpoint: "https://abc.r2.cloudflarestorage.com", UseSSL: true, Bucket: "exports", AccessKey: "k", SecretKey: "s"})
	require.NoError(t, err)
	require.IsType(t, &S3Storage{}, s)
	assert.Equal(t, TypeR2, s.(*S3Storage).kind)
	assert.Equal(t, "https://abc.r2.cloudflarestorage.com/exports/r.json", s.URL("r.json"))

	pub, err := New(&Config{Type: TypeS3, Bucket: "exports", PublicURL: "https://cdn.example.com/", AccessKey: "k", SecretKey: "s"})
	require.NoError(t, err)
	assert.Equal(t, "https://cdn.example.com/r.json", pub.URL("r.json"))
}
