//go:build integration

package repository

import (
	"context"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/cloo-solutions/filingsearch/internal/domain"
	"github.com/cloo-solutions/filingsearch/internal/testutil"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func setupStore(ctx context.Context, t *testing.T) (*Store, *pgxpool.Pool) {
	t.Helper()
	pc := testutil.NewPostgresContainer(ctx, t)
	t.Cleanup(func() { _ = pc.Terminate(ctx) })

	pool := testutil.NewTestPool(ctx, t, pc, true)
	t.Cleanup(pool.Close)

	return NewStore(pool), pool
}

func sampleRef() domain.RawDocumentRef {
	return domain.RawDocumentRef{
		DocumentID:       "doc-1",
		SourceURL:        "https://filings.example.gov/docs/1.pdf",
		ProceedingNumber: "r.20-05-003",
		Title:            "Opening Comments",
		DocType:          "Comments",
		FiledBy:          "Pacific Utility Co",
		FilingDate:       "March 3, 2021",
	}.Normalize()
}

func TestStore_SaveDocument_Idempotent(t *testing.T) {
	ctx := context.Background()
	store, pool := setupStore(ctx, t)

	ref := sampleRef()
	text := "The commission considers wildfire mitigation plans."
	chunks := []string{"wildfire mitigation plans", "rate design", "  "}

	first, err := store.SaveDocument(ctx, ref, &text, chunks)
	require.NoError(t, err)
	assert.True(t, first.Created)
	assert.Len(t, first.Chunks, 2)
	assert.Equal(t, 2, first.NewChunks)

	second, err := store.SaveDocument(ctx, ref, &text, chunks)
	require.NoError(t, err)
	assert.False(t, second.Created)
	assert.Equal(t, first.DocumentID, second.DocumentID)
	assert.Equal(t, 0, second.NewChunks)

	var docs, rows int
	require.NoError(t, pool.QueryRow(ctx, `SELECT count(*) FROM documents`).Scan(&docs))
	require.NoError(t, pool.QueryRow(ctx, `SELECT count(*) FROM doc_chunks`).Scan(&rows))
	assert.Equal(t, 1, docs)
	assert.Equal(t, 2, rows)

	id, n, found, err := store.Lookup(ctx, ref.SourceURL)
	require.NoError(t, err)
	assert.True(t, found)
	assert.Equal(t, first.DocumentID, id)
	assert.Equal(t, 2, n)

	stored, err := store.Chunks().ListByDocument(ctx, first.DocumentID)
	require.NoError(t, err)
	require.Len(t, stored, 2)
	assert.Equal(t, 0, stored[0].Index)
	assert.Equal(t, "rate design", stored[1].Text)
	assert.Equal(t, "r2005003", stored[1].Metadata.ProceedingNumber)
	require.NotNil(t, stored[1].Metadata.Year)
	assert.Equal(t, 2021, *stored[1].Metadata.Year)
}

func TestStore_SaveDocument_TruncatesLongFields(t *testing.T) {
	ctx := context.Background()
	store, _ := setupStore(ctx, t)

	ref := sampleRef()
	ref.FiledBy = strings.Repeat("Utility Reform Network ", 20)
	ref.Title = strings.Repeat("t", 900)

	res, err := store.SaveDocument(ctx, ref, nil, []string{ref.MetadataSummary()})
	require.NoError(t, err)

	doc, err := store.Documents().GetByID(ctx, res.DocumentID)
	require.NoError(t, err)
	assert.Len(t, []rune(doc.FiledBy), domain.MaxFiledByLen)
	assert.Len(t, []rune(doc.Title), domain.MaxTitleLen)
	assert.Nil(t, doc.Text)
	assert.True(t, doc.MetadataOnly())
}

func TestStore_SaveDocument_ConcurrentConverges(t *testing.T) {
	ctx := context.Background()
	store, pool := setupStore(ctx, t)

	ref := sampleRef()
	text := "concurrent body"

	var wg sync.WaitGroup
	ids := make([]int64, 8)
	errs := make([]error, 8)
	for i := range ids {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			res, err := store.SaveDocument(ctx, ref, &text, []string{"one", "two"})
			errs[i] = err
			if err == nil {
				ids[i] = res.DocumentID
			}
		}(i)
	}
	wg.Wait()

	for i := range ids {
		require.NoError(t, errs[i])
		assert.Equal(t, ids[0], ids[i])
	}

	var docs, procs, rows int
	require.NoError(t, pool.QueryRow(ctx, `SELECT count(*) FROM documents`).Scan(&docs))
	require.NoError(t, pool.QueryRow(ctx, `SELECT count(*) FROM proceedings`).Scan(&procs))
	require.NoError(t, pool.QueryRow(ctx, `SELECT count(*) FROM doc_chunks`).Scan(&rows))
	assert.Equal(t, 1, docs)
	assert.Equal(t, 1, procs)
	assert.Equal(t, 2, rows)
}

func TestStore_Lookup_NotFound(t *testing.T) {
	ctx := context.Background()
	store, _ := setupStore(ctx, t)

	_, _, found, err := store.Lookup(ctx, "https://nowhere.example/x.pdf")
	require.NoError(t, err)
	assert.False(t, found)

	_, err = store.Documents().GetByID(ctx, 404)
	assert.ErrorIs(t, err, domain.ErrDocumentNotFound)
}

func TestChunkRepository_CreatesTableLazily(t *testing.T) {
	ctx := context.Background()
	_, pool := setupStore(ctx, t)

	_, err := pool.Exec(ctx, `DROP TABLE doc_chunks`)
	require.NoError(t, err)

	store := NewStore(pool)
	_, n, found, err := store.Lookup(ctx, "https://filings.example.gov/docs/1.pdf")
	require.NoError(t, err)
	assert.False(t, found)
	assert.Zero(t, n)

	text := "body"
	res, err := store.SaveDocument(ctx, sampleRef(), &text, []string{"only chunk"})
	require.NoError(t, err)
	assert.Equal(t, 1, res.NewChunks)

	count, err := store.Chunks().CountByDocument(ctx, res.DocumentID)
	require.NoError(t, err)
	assert.Equal(t, 1, count)
}

func TestStore_SaveDocument_SingleConnectionPool(t *testing.T) {
	ctx := context.Background()
	_, pool := setupStore(ctx, t)
	_, err := pool.Exec(ctx, `DROP TABLE doc_chunks`)
	require.NoError(t, err)

	cfg, err := pgxpool.ParseConfig(pool.Config().ConnString())
	require.NoError(t, err)
	cfg.MaxConns = 1
	single, err := pgxpool.NewWithConfig(ctx, cfg)
	require.NoError(t, err)
	t.Cleanup(single.Close)

	timeout, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	text := "body"
	res, err := NewStore(single).SaveDocument(timeout, sampleRef(), &text, []string{"only chunk"})
	require.NoError(t, err)
	assert.Equal(t, 1, res.NewChunks)
}

func TestProceedingRepository_Upsert(t *testing.T) {
	ctx := context.Background()
	store, _ := setupStore(ctx, t)

	id, err := store.UpsertProceeding(ctx, "r2005003", domain.ProceedingFields{})
	require.NoError(t, err)

	p, err := store.Proceedings().GetByNumber(ctx, "r2005003")
	require.NoError(t, err)
	assert.Equal(t, id, p.ID)
	assert.Equal(t, domain.DefaultIndustry, p.Industry)
	assert.Equal(t, domain.DefaultStatus, p.Status)

	rec := domain.ProceedingRecord{Number: "r2005003", Industry: "Energy", Category: "Rulemaking"}
	again, err := store.UpsertProceeding(ctx, "r2005003", rec.Fields())
	require.NoError(t, err)
	assert.Equal(t, id, again)

	p, err = store.Proceedings().GetByNumber(ctx, "r2005003")
	require.NoError(t, err)
	assert.Equal(t, "Energy", p.Industry)
	assert.Equal(t, "Rulemaking", p.Category)
	assert.Equal(t, domain.DefaultStatus, p.Status)

	_, err = store.Proceedings().GetByNumber(ctx, "missing")
	assert.ErrorIs(t, err, domain.ErrProceedingNotFound)
}

func TestSearchRepository_KeywordWithDocumentFallback(t *testing.T) {
	ctx := context.Background()
	store, pool := setupStore(ctx, t)
	search := NewSearchRepository(pool)

	text := "Testimony on wildfire mitigation and undergrounding costs."
	res, err := store.SaveDocument(ctx, sampleRef(), &text, []string{"wildfire mitigation plans", "tariff schedules"})
	require.NoError(t, err)

	hits, err := search.SearchChunks(ctx, "wildfire", 10)
	require.NoError(t, err)
	require.Len(t, hits, 1)
	assert.Equal(t, res.DocumentID, hits[0].DocumentID)
	assert.Equal(t, 0, hits[0].ChunkIndex)
	assert.Equal(t, domain.SearchTypeKeyword, hits[0].SearchType)
	require.NotNil(t, hits[0].KeywordRank)
	assert.Greater(t, *hits[0].KeywordRank, float32(0))

	docs, err := search.SearchDocuments(ctx, "undergrounding", 10)
	require.NoError(t, err)
	require.Len(t, docs, 1)
	assert.Equal(t, domain.DocumentLevelChunk, docs[0].ChunkIndex)

	none, err := search.SearchChunks(ctx, "undergrounding", 10)
	require.NoError(t, err)
	assert.Empty(t, none)
}
