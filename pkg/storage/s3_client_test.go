package storage

import (
	"context"
	"io"
	"net/url"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAWSS3Client_PresignIsOffline(t *testing.T) {
	client, err := NewS3Client(context.Background(), S3Config{
		Region:          "us-east-1",
		Endpoint:        "http://localhost:9000",
		AccessKeyID:     "test-key",
		SecretAccessKey: "test-secret",
		ForcePathStyle:  true,
	})
	require.NoError(t, err)

	raw, err := client.GetPresignedURL(context.Background(), "digests", "2026/10/pipeline.csv", 15*time.Minute)
	require.NoError(t, err)

	u, err := url.Parse(raw)
	require.NoError(t, err)
	assert.Equal(t, "localhost:9000", u.Host)
	assert.Equal(t, "/digests/2026/10/pipeline.csv", u.Path)
	assert.Equal(t, "900", u.Query().Get("X-Amz-Expires"))
	assert.Contains(t, u.Query().Get("X-Amz-Credential"), "test-key")
}

func TestMemoryS3Client(t *testing.T) {
	ctx := context.Background()
	c := NewMemoryS3Client()

	require.NoError(t, c.Upload(ctx, "b", "k.csv", strings.NewReader("a,b\n")))
	assert.Equal(t, []string{"b/k.csv"}, c.Keys())

	rc, err := c.Download(ctx, "b", "k.csv")
	require.NoError(t, err)
	data, _ := io.ReadAll(rc)
	assert.Equal(t, "a,b\n", string(data))

	u, err := c.GetPresignedURL(ctx, "b", "k.csv", time.Minute)
	require.NoError(t, err)
	assert.Equal(t, "memory://b/k.csv", u)

	require.NoError(t, c.Delete(ctx, "b", "k.csv"))
	_, err = c.Download(ctx, "b", "k.csv")
	assert.ErrorIs(t, err, ErrObjectNotFound)
}

func TestContentTypeFor(t *testing.T) {
	assert.Equal(t, "text/csv", contentTypeFor("x.csv"))
	assert.Equal(t, "application/pdf", contentTypeFor("x.pdf"))
	assert.Equal(t, "application/octet-stream", contentTypeFor("x.bin"))
}
