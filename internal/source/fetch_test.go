package source

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/cloo-solutions/filingsearch/internal/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testFetcher(srv *httptest.Server) *Fetcher {
	f := NewFetcher(FetcherConfig{Attempts: 3}, nil)
	f.client = srv.Client()
	f.initial = time.Millisecond
	return f
}

func TestFetcher_RetriesServerErrors(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewTLSServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) < 3 {
			w.WriteHeader(http.StatusBadGateway)
			return
		}
		_, _ = w.Write([]byte("%PDF-1.7"))
	}))
	defer srv.Close()

	body, err := testFetcher(srv).Fetch(context.Background(), srv.URL+"/doc.pdf")

	require.NoError(t, err)
	assert.Equal(t, "%PDF-1.7", string(body))
	assert.Equal(t, int32(3), calls.Load())
}

func TestFetcher_UpgradesToHTTPS(t *testing.T) {
	srv := httptest.NewTLSServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte("ok"))
	}))
	defer srv.Close()

	plain := "http://" + strings.TrimPrefix(srv.URL, "https://")
	body, err := testFetcher(srv).Fetch(context.Background(), plain)

	require.NoError(t, err)
	assert.Equal(t, "ok", string(body))
}

func TestFetcher_NotFoundIsPermanent(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewTLSServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		http.NotFound(w, r)
	}))
	defer srv.Close()

	_, err := testFetcher(srv).Fetch(context.Background(), srv.URL+"/missing.pdf")

	assert.ErrorIs(t, err, domain.ErrSourceNotFound)
	assert.Equal(t, int32(1), calls.Load())
}

func TestFetcher_ExhaustedIsTransient(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewTLSServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	_, err := testFetcher(srv).Fetch(context.Background(), srv.URL+"/doc.pdf")

	assert.ErrorIs(t, err, domain.ErrSourceUnavailable)
	assert.Equal(t, domain.ErrCodeTransient, domain.CodeOf(err))
	assert.Equal(t, int32(3), calls.Load())
}

type fakeExtractor struct {
	text string
	err  error
}

func (f fakeExtractor) Extract(context.Context, []byte) (string, error) {
	return f.text, f.err
}

func TestFetcher_OversizedPDFIsPermanent(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewTLSServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		_, _ = w.Write([]byte("%PDF-1.7 with a long body"))
	}))
	defer srv.Close()

	f := testFetcher(srv)
	f.maxBytes = 8
	_, err := f.Fetch(context.Background(), srv.URL+"/big.pdf")

	assert.ErrorIs(t, err, domain.ErrPDFTooLarge)
	assert.Equal(t, int32(1), calls.Load())
}

func TestLoader_OversizedStoredPDF(t *testing.T) {
	root := t.TempDir()
	writeFile(t, root+"/P1/metadata.json", `[]`)
	writeFile(t, root+"/P1/D1.pdf", "%PDF-1.7 with a long body")
	src, err := NewLocalDir(root)
	require.NoError(t, err)
	ref := domain.RawDocumentRef{DocumentID: "D1", SourceURL: "https://x/D1.pdf", Location: root + "/P1/D1.pdf"}

	l := NewLoader(src, nil, fakeExtractor{text: "unused"})
	l.maxBytes = 8
	_, stage, err := l.Load(context.Background(), ref)

	assert.ErrorIs(t, err, domain.ErrPDFTooLarge)
	assert.Equal(t, domain.StageFetch, stage)

	l.maxBytes = 64
	content, _, err := l.Load(context.Background(), ref)
	require.NoError(t, err)
	assert.Equal(t, "unused", *content.Text)
}

func TestLoader(t *testing.T) {
	root := t.TempDir()
	writeFile(t, root+"/P1/metadata.json", `[]`)
	writeFile(t, root+"/P1/D1.pdf", "%PDF")
	src, err := NewLocalDir(root)
	require.NoError(t, err)
	stored := domain.RawDocumentRef{DocumentID: "D1", SourceURL: "https://x/D1.pdf", Location: root + "/P1/D1.pdf"}
	remote := domain.RawDocumentRef{DocumentID: "D2", SourceURL: "https://x/D2.pdf"}

	tests := []struct {
		name      string
		ref       domain.RawDocumentRef
		extractor Extractor
		wantText  string
		wantNil   bool
		wantStage domain.Stage
		wantErr   error
	}{
		{name: "stored pdf", ref: stored, extractor: fakeExtractor{text: "body"}, wantText: "body"},
		{name: "no pdf and downloads disabled", ref: remote, extractor: fakeExtractor{text: "unused"}, wantNil: true},
		{name: "scanned pdf", ref: stored, extractor: fakeExtractor{err: domain.ErrEmptyText}, wantNil: true},
		{name: "malformed pdf", ref: stored, extractor: fakeExtractor{err: domain.Wrap(domain.ErrMalformedPDF, errors.New("bad xref"))},
			wantStage: domain.StageExtract, wantErr: domain.ErrMalformedPDF},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			content, stage, err := NewLoader(src, nil, tt.extractor).Load(context.Background(), tt.ref)
			assert.Equal(t, tt.wantStage, stage)
			if tt.wantErr != nil {
				assert.ErrorIs(t, err, tt.wantErr)
				return
			}
			require.NoError(t, err)
			if tt.wantNil {
				assert.Nil(t, content.Text)
				return
			}
			require.NotNil(t, content.Text)
			assert.Equal(t, tt.wantText, *content.Text)
		})
	}
}

func TestLoader_Downloads(t *testing.T) {
	srv := httptest.NewTLSServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte("%PDF"))
	}))
	defer srv.Close()

	src, err := NewLocalDir(t.TempDir())
	require.NoError(t, err)
	ref := domain.RawDocumentRef{DocumentID: "D2", SourceURL: srv.URL + "/D2.pdf"}

	content, _, err := NewLoader(src, testFetcher(srv), fakeExtractor{text: "downloaded"}).Load(context.Background(), ref)

	require.NoError(t, err)
	assert.Equal(t, "downloaded", *content.Text)
	assert.Equal(t, ref.SourceURL, content.Origin)
}
