package domain

import (
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPointID_Deterministic(t *testing.T) {
	a := PointID(42, 3)
	b := PointID(42, 3)

	assert.Equal(t, a, b)
	assert.Equal(t, uuid.Version(5), a.Version())
	assert.NotEqual(t, a, PointID(42, 4))
	assert.NotEqual(t, a, PointID(43, 3))
	assert.Equal(t, uuid.NewSHA1(uuid.NameSpaceDNS, []byte("42_3")), a)
}

func TestNewChunkRecords_DropsBlankAndNumbersContiguously(t *testing.T) {
	meta := ChunkMetadata{ProceedingNumber: "A2401012", SourceURL: "https://x/y.pdf"}

	records := NewChunkRecords(7, []string{"first", "   ", "second", "\n\n", "third"}, meta)

	require.Len(t, records, 3)
	for i, r := range records {
		assert.Equal(t, i, r.Index)
		assert.Equal(t, int64(7), r.DocumentID)
		assert.Equal(t, meta, r.Metadata)
	}
	assert.Equal(t, "second", records[1].Text)
}

func TestNewEmbeddingPoint(t *testing.T) {
	year := 2024
	c := ChunkRecord{
		DocumentID: 9,
		Index:      2,
		Text:       "rate case testimony",
		Metadata:   ChunkMetadata{ProceedingNumber: "A2401012", SourceURL: "https://x/9.pdf", Year: &year},
	}

	p := NewEmbeddingPoint(c, []float32{0.1, 0.2})

	assert.Equal(t, c.PointID(), p.ID)
	assert.Equal(t, int64(9), p.Payload.DocumentID)
	assert.Equal(t, 2, p.Payload.ChunkIndex)
	assert.Equal(t, "rate case testimony", p.Payload.Text)
	assert.Equal(t, &year, p.Payload.Year)
}
