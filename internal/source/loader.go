package source

import (
	"context"
	"errors"
	"fmt"

	"github.com/cloo-solutions/filingsearch/internal/domain"
)

// Content is a document's resolved text. Text is nil for metadata-only
// records.
type Content struct {
	Text   *string
	Origin string
}

// Loader resolves a record to text: the stored PDF first, then a download of
// source_url when allowed. A document with neither becomes metadata-only.
type Loader struct {
	src       Source
	fetcher   *Fetcher
	extractor Extractor
	maxBytes  int64
}

// NewLoader builds a Loader. fetcher may be nil to disable downloads.
func NewLoader(src Source, fetcher *Fetcher, extractor Extractor) *Loader {
	return &Loader{src: src, fetcher: fetcher, extractor: extractor, maxBytes: MaxPDFBytes}
}

// Load returns the failing stage alongside any error.
func (l *Loader) Load(ctx context.Context, ref domain.RawDocumentRef) (*Content, domain.Stage, error) {
	pdf, origin, err := l.read(ctx, ref)
	if err != nil {
		return nil, domain.StageFetch, err
	}
	if pdf == nil {
		return &Content{Origin: "metadata"}, "", nil
	}

	text, err := l.extractor.Extract(ctx, pdf)
	if errors.Is(err, domain.ErrEmptyText) {
		return &Content{Origin: origin}, "", nil
	}
	if err != nil {
		return nil, domain.StageExtract, err
	}
	return &Content{Text: &text, Origin: origin}, "", nil
}

func (l *Loader) read(ctx context.Context, ref domain.RawDocumentRef) ([]byte, string, error) {
	if ref.Location != "" {
		rc, err := l.src.Open(ctx, ref.Location)
		if err == nil {
			defer rc.Close()
			b, err := readPDF(rc, l.maxBytes)
			if err != nil {
				return nil, "", fmt.Errorf("read %s: %w", ref.Location, err)
			}
			return b, ref.Location, nil
		}
		if !errors.Is(err, domain.ErrSourceNotFound) {
			return nil, "", err
		}
	}
	if l.fetcher == nil || ref.SourceURL == "" {
		return nil, "", nil
	}
	b, err := l.fetcher.Fetch(ctx, ref.SourceURL)
	if err != nil {
		return nil, "", err
	}
	return b, ref.SourceURL, nil
}
