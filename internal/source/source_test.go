package source

import (
	"bytes"
	"context"
	"io"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/cloo-solutions/filingsearch/internal/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const sampleMetadata = `[
  {"document_id": "D1", "source_url": "http://docs.example.gov/D1.pdf", "title": "Opening Brief", "doc_type": "E-Filed: Brief", "filed_by": "Utility", "filing_date": "January 5, 2024"},
  {"document_id": "D2", "source_url": "https://docs.example.gov/D2.pdf", "proceeding_id": "A.24-01-012", "title": "Reply"}
]`

func writeFile(t *testing.T, path, body string) {
	t.Helper()
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
	require.NoError(t, os.WriteFile(path, []byte(body), 0o644))
}

func TestLocalDir(t *testing.T) {
	root := t.TempDir()
	writeFile(t, filepath.Join(root, "A2401012", metadataFile), sampleMetadata)
	writeFile(t, filepath.Join(root, "A2401012", "D1.pdf"), "%PDF-1.4")
	writeFile(t, filepath.Join(root, "A2401012", proceedingFile), `{"industry": "Energy", "current_status": "Closed"}`)
	writeFile(t, filepath.Join(root, "R2005003", metadataFile), `[]`)
	require.NoError(t, os.MkdirAll(filepath.Join(root, "empty"), 0o755))

	src, err := NewLocalDir(root)
	require.NoError(t, err)
	ctx := context.Background()

	procs, err := src.Proceedings(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"A2401012", "R2005003"}, procs)

	docs, err := src.Documents(ctx, "A2401012")
	require.NoError(t, err)
	require.Len(t, docs, 2)
	assert.Equal(t, "A2401012", docs[0].ProceedingNumber)
	assert.Equal(t, filepath.Join(root, "A2401012", "D1.pdf"), docs[0].Location)
	assert.Equal(t, "A.24-01-012", docs[1].ProceedingNumber)
	assert.Empty(t, docs[1].Location)

	rc, err := src.Open(ctx, docs[0].Location)
	require.NoError(t, err)
	b, _ := io.ReadAll(rc)
	rc.Close()
	assert.Equal(t, "%PDF-1.4", string(b))

	rec, err := src.ProceedingRecord(ctx, "A2401012")
	require.NoError(t, err)
	require.NotNil(t, rec)
	assert.Equal(t, "A2401012", rec.Number)
	assert.Equal(t, "Energy", rec.Industry)
	assert.Equal(t, "Closed", rec.Status)

	rec, err = src.ProceedingRecord(ctx, "R2005003")
	require.NoError(t, err)
	assert.Nil(t, rec)

	_, err = src.Open(ctx, filepath.Join(root, "nope.pdf"))
	assert.ErrorIs(t, err, domain.ErrSourceNotFound)
}

func TestLocalDir_PathLikeDocumentIDNotLocated(t *testing.T) {
	root := t.TempDir()
	writeFile(t, filepath.Join(root, "secret.pdf"), "outside")
	writeFile(t, filepath.Join(root, "P1", metadataFile),
		`[{"document_id": "../secret", "source_url": "https://x/1.pdf", "title": "Sneaky"}]`)

	src, err := NewLocalDir(root)
	require.NoError(t, err)

	docs, err := src.Documents(context.Background(), "P1")
	require.NoError(t, err)
	require.Len(t, docs, 1)
	assert.Empty(t, docs[0].Location)
	assert.Error(t, docs[0].Normalize().Validate())
}

func TestLocalDir_MalformedMetadata(t *testing.T) {
	root := t.TempDir()
	writeFile(t, filepath.Join(root, "P1", metadataFile), `{"not": "an array"}`)

	src, err := NewLocalDir(root)
	require.NoError(t, err)

	_, err = src.Documents(context.Background(), "P1")
	assert.Equal(t, domain.ErrCodeMalformedInput, domain.CodeOf(err))
}

func TestNewLocalDir_NotADirectory(t *testing.T) {
	file := filepath.Join(t.TempDir(), "f")
	writeFile(t, file, "x")

	_, err := NewLocalDir(file)
	assert.Error(t, err)
}

type fakeStore struct {
	objects map[string]string
}

func (f *fakeStore) Bucket() string { return "filings" }

func (f *fakeStore) GetObject(_ context.Context, key string) (io.ReadCloser, error) {
	body, ok := f.objects[key]
	if !ok {
		return nil, domain.ErrSourceNotFound
	}
	return io.NopCloser(bytes.NewBufferString(body)), nil
}

func (f *fakeStore) ListPrefixes(_ context.Context, prefix string) ([]string, error) {
	seen := map[string]bool{}
	var out []string
	for k := range f.objects {
		if !strings.HasPrefix(k, prefix) {
			continue
		}
		rest := strings.TrimPrefix(k, prefix)
		if i := strings.Index(rest, "/"); i >= 0 {
			p := prefix + rest[:i+1]
			if !seen[p] {
				seen[p] = true
				out = append(out, p)
			}
		}
	}
	return out, nil
}

func (f *fakeStore) ListKeys(_ context.Context, prefix string) ([]string, error) {
	var out []string
	for k := range f.objects {
		if strings.HasPrefix(k, prefix) {
			out = append(out, k)
		}
	}
	return out, nil
}

func TestS3Source(t *testing.T) {
	store := &fakeStore{objects: map[string]string{
		"scrapes/2024/A2401012/metadata.json":   sampleMetadata,
		"scrapes/2024/A2401012/D2.pdf":          "%PDF",
		"scrapes/2024/A2401012/proceeding.json": `{"category": "Application"}`,
		"scrapes/2024/R2005003/metadata.json":   `[]`,
		"other/X/metadata.json":                 `[]`,
	}}
	src := NewS3(store, "/scrapes/2024/")
	ctx := context.Background()

	assert.Equal(t, "s3://filings/scrapes/2024/", src.Name())

	procs, err := src.Proceedings(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"A2401012", "R2005003"}, procs)

	docs, err := src.Documents(ctx, "A2401012")
	require.NoError(t, err)
	require.Len(t, docs, 2)
	assert.Empty(t, docs[0].Location)
	assert.Equal(t, "scrapes/2024/A2401012/D2.pdf", docs[1].Location)

	rec, err := src.ProceedingRecord(ctx, "A2401012")
	require.NoError(t, err)
	assert.Equal(t, "Application", rec.Category)

	rec, err = src.ProceedingRecord(ctx, "R2005003")
	require.NoError(t, err)
	assert.Nil(t, rec)
}

func TestCleanText(t *testing.T) {
	assert.Equal(t, "line one\n\nline two", cleanText("  line one  \r\n\nline two\x00\t\n\n"))
	assert.Equal(t, "", cleanText(" \n\t "))
}
