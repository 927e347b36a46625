//go:build integration

package source

import (
	"context"
	"io"
	"testing"

	"github.com/cloo-solutions/filingsearch/internal/domain"
	"github.com/cloo-solutions/filingsearch/internal/storage"
	"github.com/cloo-solutions/filingsearch/internal/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestS3Source_Integration(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test")
	}
	ctx := context.Background()
	sc := testutil.NewS3Container(ctx, t)
	defer sc.Terminate(ctx)

	client, err := storage.NewS3Client(ctx, storage.S3ClientConfig{
		Endpoint:        sc.Endpoint(),
		Region:          "us-east-1",
		AccessKeyID:     sc.AccessKey,
		SecretAccessKey: sc.SecretKey,
		Bucket:          "filings",
		UsePathStyle:    true,
	})
	require.NoError(t, err)
	require.NoError(t, client.EnsureBucket(ctx))

	require.NoError(t, client.PutObject(ctx, "cpuc/A2401012/metadata.json", []byte(sampleMetadata), "application/json"))
	require.NoError(t, client.PutObject(ctx, "cpuc/A2401012/D1.pdf", []byte("%PDF-1.4"), "application/pdf"))

	src := NewS3(client, "cpuc")

	procs, err := src.Proceedings(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"A2401012"}, procs)

	docs, err := src.Documents(ctx, "A2401012")
	require.NoError(t, err)
	require.Len(t, docs, 2)
	assert.Equal(t, "cpuc/A2401012/D1.pdf", docs[0].Location)

	rc, err := src.Open(ctx, docs[0].Location)
	require.NoError(t, err)
	body, err := io.ReadAll(rc)
	rc.Close()
	require.NoError(t, err)
	assert.Equal(t, "%PDF-1.4", string(body))

	rec, err := src.ProceedingRecord(ctx, "A2401012")
	require.NoError(t, err)
	assert.Nil(t, rec)

	meta, err := client.HeadObject(ctx, "cpuc/A2401012/D1.pdf")
	require.NoError(t, err)
	assert.Equal(t, int64(8), meta.ContentLength)

	_, err = client.HeadObject(ctx, "cpuc/A2401012/D9.pdf")
	assert.ErrorIs(t, err, domain.ErrSourceNotFound)
}
