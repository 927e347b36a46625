package domain

import (
	"regexp"
	"strconv"
	"strings"
	"time"
)

// Column widths of the documents and proceedings tables. Values longer than
// these are truncated before they are written.
const (
	MaxProceedingNumberLen = 32
	MaxDocTypeLen          = 100
	MaxFiledByLen          = 100
	MaxFilingDateLen       = 50
	MaxTitleLen            = 500
	MaxIndustryLen         = 100
	MaxCategoryLen         = 100
	MaxStatusLen           = 50
)

const eFiledPrefix = "E-Filed: "

// Document is a single filed artifact belonging to one proceeding.
type Document struct {
	ID           int64
	ProceedingID int64
	SourceURL    string
	Title        string
	DocType      string
	FiledBy      string
	FilingDate   string
	Year         *int
	Description  string
	Text         *string
	CreatedAt    time.Time
}

// MetadataOnly reports whether the document was stored without extracted text.
func (d *Document) MetadataOnly() bool {
	return d.Text == nil
}

// NewDocument is the input to a document upsert.
type NewDocument struct {
	SourceURL   string
	Title       string
	DocType     string
	FiledBy     string
	FilingDate  string
	Description string
	Text        *string
}

// Truncated returns a copy with every bounded string field cut to its
// column width.
func (d NewDocument) Truncated() NewDocument {
	d.Title = Truncate(d.Title, MaxTitleLen)
	d.DocType = Truncate(d.DocType, MaxDocTypeLen)
	d.FiledBy = Truncate(d.FiledBy, MaxFiledByLen)
	d.FilingDate = Truncate(d.FilingDate, MaxFilingDateLen)
	return d
}

// Year extracts the filing year.
func (d NewDocument) Year() *int {
	return ExtractYear(d.FilingDate)
}

// Truncate cuts s to at most max characters without splitting a rune.
func Truncate(s string, max int) string {
	if max <= 0 {
		return ""
	}
	n := 0
	for i := range s {
		if n == max {
			return s[:i]
		}
		n++
	}
	return s
}

var yearPattern = regexp.MustCompile(`(1[89]|20)\d{2}`)

// ExtractYear returns the four-digit year of a display date. The last four
// characters are tried first ("March 3, 2023"), then the last year-like
// match anywhere in the string.
func ExtractYear(filingDate string) *int {
	s := strings.TrimSpace(filingDate)
	if len(s) >= 4 {
		if y, err := strconv.Atoi(s[len(s)-4:]); err == nil && y >= 1800 && y <= 2100 {
			return &y
		}
	}
	matches := yearPattern.FindAllString(s, -1)
	if len(matches) == 0 {
		return nil
	}
	y, err := strconv.Atoi(matches[len(matches)-1])
	if err != nil {
		return nil
	}
	return &y
}

// NormalizeDocType strips the "E-Filed: " prefix the docket site puts on
// electronically filed documents.
func NormalizeDocType(docType string) string {
	return strings.TrimSpace(strings.TrimPrefix(strings.TrimSpace(docType), eFiledPrefix))
}

// NormalizeSourceURL trims whitespace and upgrades http to https.
func NormalizeSourceURL(u string) string {
	u = strings.TrimSpace(u)
	if strings.HasPrefix(u, "http://") {
		return "https://" + strings.TrimPrefix(u, "http://")
	}
	return u
}
