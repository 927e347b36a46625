package repository

import (
	"context"
	"fmt"

	"github.com/cloo-solutions/filingsearch/internal/domain"
	"github.com/jackc/pgx/v5/pgxpool"
)

// SaveResult describes the outcome of persisting one filing.
type SaveResult struct {
	ProceedingID int64
	DocumentID   int64
	Created      bool
	Chunks       []domain.ChunkRecord
	NewChunks    int
}

// Store is the relational store of record for proceedings, documents and
// chunks.
type Store struct {
	tx          *TxRunner
	proceedings *ProceedingRepository
	documents   *DocumentRepository
	chunks      *ChunkRepository
}

func NewStore(pool *pgxpool.Pool) *Store {
	return &Store{
		tx:          NewTxRunner(pool),
		proceedings: NewProceedingRepository(pool),
		documents:   NewDocumentRepository(pool),
		chunks:      NewChunkRepository(pool),
	}
}

// UpsertProceeding creates or refreshes a proceeding.
func (s *Store) UpsertProceeding(ctx context.Context, number string, fields domain.ProceedingFields) (int64, error) {
	return s.proceedings.Upsert(ctx, number, fields)
}

// Lookup reports whether a source URL is stored and how many chunks it has.
func (s *Store) Lookup(ctx context.Context, sourceURL string) (documentID int64, chunks int, found bool, err error) {
	return s.documents.Lookup(ctx, sourceURL)
}

// StoredChunks returns a document's chunks in index order.
func (s *Store) StoredChunks(ctx context.Context, documentID int64) ([]domain.ChunkRecord, error) {
	return s.chunks.ListByDocument(ctx, documentID)
}

// SaveDocument writes the proceeding reference, the document and its chunks
// in one transaction. Chunk texts are numbered from zero after blanks are
// dropped. Nothing is visible to other readers unless every step succeeds.
func (s *Store) SaveDocument(ctx context.Context, ref domain.RawDocumentRef, text *string, chunkTexts []string) (*SaveResult, error) {
	res := &SaveResult{}
	err := s.tx.WithTx(ctx, func(repos TxRepositories) error {
		procID, err := repos.Proceedings().Upsert(ctx, ref.ProceedingNumber, domain.ProceedingFields{})
		if err != nil {
			return err
		}
		res.ProceedingID = procID

		doc := ref.ToNewDocument(text)
		docID, created, err := repos.Documents().Upsert(ctx, procID, doc)
		if err != nil {
			return err
		}
		res.DocumentID = docID
		res.Created = created

		res.Chunks = domain.NewChunkRecords(docID, chunkTexts, ref.ChunkMetadata())
		res.NewChunks, err = repos.Chunks().InsertChunks(ctx, docID, res.Chunks)
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("save document %s: %w", ref.SourceURL, err)
	}
	return res, nil
}

// Documents exposes read access for callers outside the pipeline.
func (s *Store) Documents() *DocumentRepository {
	return s.documents
}

// Chunks exposes read access for callers outside the pipeline.
func (s *Store) Chunks() *ChunkRepository {
	return s.chunks
}

// Proceedings exposes read access for callers outside the pipeline.
func (s *Store) Proceedings() *ProceedingRepository {
	return s.proceedings
}
