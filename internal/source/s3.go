package source

import (
	"context"
	"errors"
	"fmt"
	"io"
	"path"
	"sort"
	"strings"

	"github.com/cloo-solutions/filingsearch/internal/domain"
)

// objectStore is the part of storage.S3Client the S3 source reads through.
type objectStore interface {
	Bucket() string
	GetObject(ctx context.Context, key string) (io.ReadCloser, error)
	ListPrefixes(ctx context.Context, prefix string) ([]string, error)
	ListKeys(ctx context.Context, prefix string) ([]string, error)
}

// S3 reads the scraper layout below a bucket prefix.
type S3 struct {
	store  objectStore
	prefix string
}

func NewS3(store objectStore, prefix string) *S3 {
	prefix = strings.Trim(prefix, "/")
	if prefix != "" {
		prefix += "/"
	}
	return &S3{store: store, prefix: prefix}
}

func (s *S3) Name() string { return "s3://" + s.store.Bucket() + "/" + s.prefix }

func (s *S3) Proceedings(ctx context.Context) ([]string, error) {
	prefixes, err := s.store.ListPrefixes(ctx, s.prefix)
	if err != nil {
		return nil, err
	}
	out := make([]string, 0, len(prefixes))
	for _, p := range prefixes {
		name := strings.TrimSuffix(strings.TrimPrefix(p, s.prefix), "/")
		if name != "" {
			out = append(out, name)
		}
	}
	sort.Strings(out)
	return out, nil
}

func (s *S3) key(proceeding, name string) string {
	return s.prefix + path.Join(proceeding, name)
}

func (s *S3) Documents(ctx context.Context, proceeding string) ([]domain.RawDocumentRef, error) {
	keys, err := s.store.ListKeys(ctx, s.prefix+proceeding+"/")
	if err != nil {
		return nil, err
	}
	present := make(map[string]bool, len(keys))
	for _, k := range keys {
		present[k] = true
	}

	body, err := s.store.GetObject(ctx, s.key(proceeding, metadataFile))
	if err != nil {
		return nil, fmt.Errorf("open metadata for %s: %w", proceeding, err)
	}
	defer body.Close()

	return decodeDocuments(body, proceeding, func(documentID string) string {
		k := s.key(proceeding, documentID+pdfExt)
		if present[k] {
			return k
		}
		return ""
	})
}

func (s *S3) ProceedingRecord(ctx context.Context, proceeding string) (*domain.ProceedingRecord, error) {
	body, err := s.store.GetObject(ctx, s.key(proceeding, proceedingFile))
	if errors.Is(err, domain.ErrSourceNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	defer body.Close()
	return decodeProceeding(body, proceeding)
}

func (s *S3) Open(ctx context.Context, location string) (io.ReadCloser, error) {
	return s.store.GetObject(ctx, location)
}
