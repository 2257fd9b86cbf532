package storage

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestNewClientValidatesConfig(t *testing.T) {
	_, err := NewClient(Config{Endpoint: "localhost:9000"})
	require.ErrorContains(t, err, "bucket is required")

	_, err = NewClient(Config{Endpoint: "http://localhost:9000", Bucket: "images"})
	require.ErrorContains(t, err, "create minio client")

	c, err := NewClient(Config{
		Endpoint: "localhost:9000",
		Access:   "minio",
		Secret:   "minio123",
		Bucket:   "images",
	})
	require.NoError(t, err)
	require.Equal(t, "images", c.Bucket())
}
