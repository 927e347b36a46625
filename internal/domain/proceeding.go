package domain

import (
	"strings"
	"time"
	"unicode"
)

const (
	DefaultIndustry = "Unknown"
	DefaultStatus   = "Active"
)

// Proceeding is a regulatory docket grouping related filings.
type Proceeding struct {
	ID          int64
	Number      string
	FiledBy     string
	Industry    string
	FilingDate  string
	Category    string
	Status      string
	Description string
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

// ProceedingFields carries the attributes supplied by a metadata refresh.
// Nil fields are left untouched on update.
type ProceedingFields struct {
	FiledBy     *string
	Industry    *string
	FilingDate  *string
	Category    *string
	Status      *string
	Description *string
}

// NormalizeProceedingNumber keeps only letters and digits.
// "A.24-01-012" becomes "A2401012".
func NormalizeProceedingNumber(number string) string {
	var b strings.Builder
	b.Grow(len(number))
	for _, r := range number {
		if unicode.IsLetter(r) || unicode.IsDigit(r) {
			b.WriteRune(r)
		}
	}
	return b.String()
}
