// Package source reads scraper output: one directory per proceeding holding
// metadata.json, an optional proceeding.json and <document_id>.pdf files.
package source

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"strings"

	"github.com/cloo-solutions/filingsearch/internal/domain"
)

const (
	metadataFile   = "metadata.json"
	proceedingFile = "proceeding.json"
	pdfExt         = ".pdf"
)

// Source enumerates scraped proceedings and opens their stored PDFs.
type Source interface {
	// Name identifies the source in logs.
	Name() string
	// Proceedings lists proceeding keys in a stable order.
	Proceedings(ctx context.Context) ([]string, error)
	// Documents returns the proceeding's document records. Location is set
	// on records whose PDF is stored alongside the metadata.
	Documents(ctx context.Context, proceeding string) ([]domain.RawDocumentRef, error)
	// ProceedingRecord returns nil, nil when the proceeding has no proceeding.json.
	ProceedingRecord(ctx context.Context, proceeding string) (*domain.ProceedingRecord, error)
	// Open reads a stored PDF by location.
	Open(ctx context.Context, location string) (io.ReadCloser, error)
}

// decodeDocuments parses metadata.json. Records without a proceeding number
// inherit the directory's; locate maps a document id to its stored PDF.
func decodeDocuments(r io.Reader, proceeding string, locate func(documentID string) string) ([]domain.RawDocumentRef, error) {
	var refs []domain.RawDocumentRef
	if err := json.NewDecoder(r).Decode(&refs); err != nil {
		return nil, domain.NewDomainErrorWithCause(domain.ErrCodeMalformedInput,
			fmt.Sprintf("invalid %s for %s", metadataFile, proceeding), err)
	}
	for i := range refs {
		if strings.TrimSpace(refs[i].ProceedingNumber) == "" {
			refs[i].ProceedingNumber = proceeding
		}
		if domain.PlainDocumentID(refs[i].DocumentID) {
			refs[i].Location = locate(refs[i].DocumentID)
		}
	}
	return refs, nil
}

func decodeProceeding(r io.Reader, proceeding string) (*domain.ProceedingRecord, error) {
	var rec domain.ProceedingRecord
	if err := json.NewDecoder(r).Decode(&rec); err != nil {
		return nil, domain.NewDomainErrorWithCause(domain.ErrCodeMalformedInput,
			fmt.Sprintf("invalid %s for %s", proceedingFile, proceeding), err)
	}
	if strings.TrimSpace(rec.Number) == "" {
		rec.Number = proceeding
	}
	return &rec, nil
}
