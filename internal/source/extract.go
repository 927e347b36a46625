package source

import (
	"bytes"
	"context"
	"strings"

	"code.sajari.com/docconv"
	"github.com/cloo-solutions/filingsearch/internal/domain"
)

// Extractor turns PDF bytes into plain text.
type Extractor interface {
	Extract(ctx context.Context, pdf []byte) (string, error)
}

// PDFExtractor extracts text with docconv, which shells out to poppler's
// pdftotext.
type PDFExtractor struct{}

func NewPDFExtractor() *PDFExtractor {
	return &PDFExtractor{}
}

// Extract returns domain.ErrMalformedPDF when the file cannot be parsed and
// domain.ErrEmptyText when it has no text layer.
func (e *PDFExtractor) Extract(ctx context.Context, pdf []byte) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	res, err := docconv.Convert(bytes.NewReader(pdf), "application/pdf", false)
	if err != nil {
		return "", domain.Wrap(domain.ErrMalformedPDF, err)
	}
	text := cleanText(res.Body)
	if text == "" {
		return "", domain.ErrEmptyText
	}
	return text, nil
}

// cleanText strips NUL bytes, which Postgres rejects in text columns, and
// trailing whitespace on every line.
func cleanText(s string) string {
	s = strings.ReplaceAll(s, "\x00", "")
	lines := strings.Split(s, "\n")
	for i, l := range lines {
		lines[i] = strings.TrimRight(l, " \t\r\f\v")
	}
	return strings.TrimSpace(strings.Join(lines, "\n"))
}
