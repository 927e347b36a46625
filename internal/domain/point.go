package domain

import "github.com/google/uuid"

// PointPayload is the metadata stored with a vector.
type PointPayload struct {
	DocumentID       int64  `json:"document_id"`
	ChunkIndex       int    `json:"chunk_index"`
	ProceedingNumber string `json:"proceeding_id"`
	SourceURL        string `json:"source_url"`
	PublishedDate    string `json:"published_date,omitempty"`
	Year             *int   `json:"year,omitempty"`
	Title            string `json:"title,omitempty"`
	DocType          string `json:"doc_type,omitempty"`
	FiledBy          string `json:"filed_by,omitempty"`
	Text             string `json:"text"`
}

// EmbeddingPoint is one vector index entry.
type EmbeddingPoint struct {
	ID      uuid.UUID
	Vector  []float32
	Payload PointPayload
}

// NewEmbeddingPoint builds the point for a chunk and its vector.
func NewEmbeddingPoint(c ChunkRecord, vector []float32) EmbeddingPoint {
	return EmbeddingPoint{
		ID:     c.PointID(),
		Vector: vector,
		Payload: PointPayload{
			DocumentID:       c.DocumentID,
			ChunkIndex:       c.Index,
			ProceedingNumber: c.Metadata.ProceedingNumber,
			SourceURL:        c.Metadata.SourceURL,
			PublishedDate:    c.Metadata.PublishedDate,
			Year:             c.Metadata.Year,
			Title:            c.Metadata.Title,
			DocType:          c.Metadata.DocType,
			FiledBy:          c.Metadata.FiledBy,
			Text:             c.Text,
		},
	}
}
