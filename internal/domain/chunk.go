package domain

import (
	"fmt"

	"github.com/google/uuid"
)

// ChunkMetadata is stored alongside each chunk and copied into the vector payload.
type ChunkMetadata struct {
	ProceedingNumber string            `json:"proceeding_id"`
	SourceURL        string            `json:"source_url"`
	Title            string            `json:"title,omitempty"`
	DocType          string            `json:"doc_type,omitempty"`
	FiledBy          string            `json:"filed_by,omitempty"`
	FilingDate       string            `json:"filing_date,omitempty"`
	PublishedDate    string            `json:"published_date,omitempty"`
	Year             *int              `json:"year,omitempty"`
	Extra            map[string]string `json:"extra,omitempty"`
}

// ChunkRecord is a bounded segment of a document's text.
type ChunkRecord struct {
	DocumentID int64
	Index      int
	Text       string
	Metadata   ChunkMetadata
}

// PointID is the vector-store identity of the chunk.
func (c ChunkRecord) PointID() uuid.UUID {
	return PointID(c.DocumentID, c.Index)
}

// PointID derives a UUIDv5 from (document id, chunk index) so re-chunking
// with the same parameters reproduces the same ids.
func PointID(documentID int64, chunkIndex int) uuid.UUID {
	return uuid.NewSHA1(uuid.NameSpaceDNS, []byte(fmt.Sprintf("%d_%d", documentID, chunkIndex)))
}

// NewChunkRecords numbers texts contiguously from zero, dropping blanks.
func NewChunkRecords(documentID int64, texts []string, meta ChunkMetadata) []ChunkRecord {
	out := make([]ChunkRecord, 0, len(texts))
	for _, t := range texts {
		if isBlank(t) {
			continue
		}
		out = append(out, ChunkRecord{
			DocumentID: documentID,
			Index:      len(out),
			Text:       t,
			Metadata:   meta,
		})
	}
	return out
}

func isBlank(s string) bool {
	for _, r := range s {
		switch r {
		case ' ', '\t', '\n', '\r', '\f', '\v':
		default:
			return false
		}
	}
	return true
}
