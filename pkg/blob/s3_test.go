package blob

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestS3SignedURL(t *testing.T) {
	s, err := NewS3Store(context.Background(), S3Config{
		Endpoint:     "http://127.0.0.1:9000",
		Region:       "us-east-1",
		Bucket:       "repub",
		AccessKey:    "test",
		SecretKey:    "test",
		UsePathStyle: true,
		KeyPrefix:    "hosted",
		SignedURLTTL: 15 * time.Minute,
	})
	require.NoError(t, err)

	// Presigning is pure local computation, no bucket required.
	u, err := s.SignedURL(context.Background(), "alpha/1.0.0-abc.tar.gz")
	require.NoError(t, err)
	assert.Contains(t, u, "hosted/alpha/1.0.0-abc.tar.gz")
	assert.Contains(t, u, "X-Amz-Signature=")
	assert.Contains(t, u, "X-Amz-Expires=900")
}
