package domain

import (
	"fmt"
	"strings"
)

const certificateOfService = "(certificate of service)"

// RawDocumentRef is one scraped document record handed to the pipeline.
type RawDocumentRef struct {
	DocumentID       string            `json:"document_id"`
	SourceURL        string            `json:"source_url"`
	ProceedingNumber string            `json:"proceeding_id"`
	Title            string            `json:"title"`
	DocType          string            `json:"doc_type"`
	FiledBy          string            `json:"filed_by"`
	FilingDate       string            `json:"filing_date"`
	PublishedDate    string            `json:"published_date"`
	Description      string            `json:"description"`
	Location         string            `json:"-"`
	Extra            map[string]string `json:"-"`
}

// Key is the dedup identity within a run: the scraper's document id when
// present, else the normalized source URL.
func (r RawDocumentRef) Key() string {
	if r.DocumentID != "" {
		return r.DocumentID
	}
	return NormalizeSourceURL(r.SourceURL)
}

// Normalize applies the scraper clean-ups: proceeding number to
// alphanumerics, doc type prefix removal, https source URL.
func (r RawDocumentRef) Normalize() RawDocumentRef {
	r.ProceedingNumber = NormalizeProceedingNumber(r.ProceedingNumber)
	r.DocType = NormalizeDocType(r.DocType)
	r.SourceURL = NormalizeSourceURL(r.SourceURL)
	r.Title = strings.TrimSpace(r.Title)
	r.FiledBy = strings.TrimSpace(r.FiledBy)
	r.FilingDate = strings.TrimSpace(r.FilingDate)
	return r
}

// Validate checks the fields every record must carry.
func (r RawDocumentRef) Validate() error {
	if r.DocumentID == "" && r.SourceURL == "" {
		return NewDomainErrorWithCause(ErrCodeMalformedInput, "document record has no identity",
			fmt.Errorf("%w: document_id or source_url", ErrMissingRequiredField))
	}
	if r.SourceURL == "" {
		return NewDomainErrorWithCause(ErrCodeMalformedInput, "document record has no source url",
			fmt.Errorf("%w: source_url", ErrMissingRequiredField))
	}
	if r.ProceedingNumber == "" {
		return NewDomainErrorWithCause(ErrCodeMalformedInput, "document record has no proceeding",
			fmt.Errorf("%w: proceeding_id", ErrMissingRequiredField))
	}
	if r.DocumentID != "" && !PlainDocumentID(r.DocumentID) {
		return NewDomainErrorWithCause(ErrCodeMalformedInput, "document id is not a plain file name",
			fmt.Errorf("document_id %q", r.DocumentID))
	}
	return nil
}

// PlainDocumentID reports whether id can name a file inside a proceeding
// directory without leaving it.
func PlainDocumentID(id string) bool {
	if id == "" || id == "." || id == ".." {
		return false
	}
	return !strings.ContainsAny(id, "/\\\x00")
}

// IsCertificateOfService reports filings that only certify service and carry
// no substantive content.
func (r RawDocumentRef) IsCertificateOfService() bool {
	return strings.Contains(strings.ToLower(r.Title), certificateOfService)
}

// MetadataSummary is the single chunk stored for a document without a PDF.
func (r RawDocumentRef) MetadataSummary() string {
	return fmt.Sprintf("Document: %s\nType: %s\nFiled By: %s\nFiling Date: %s",
		r.Title, r.DocType, r.FiledBy, r.FilingDate)
}

// ToNewDocument converts the record into a store insert.
func (r RawDocumentRef) ToNewDocument(text *string) NewDocument {
	desc := r.Description
	if desc == "" && text == nil {
		desc = "Metadata-only record for " + r.Title
	}
	return NewDocument{
		SourceURL:   r.SourceURL,
		Title:       r.Title,
		DocType:     r.DocType,
		FiledBy:     r.FiledBy,
		FilingDate:  r.FilingDate,
		Description: desc,
		Text:        text,
	}
}

// ChunkMetadata copies the document attributes every chunk carries.
func (r RawDocumentRef) ChunkMetadata() ChunkMetadata {
	return ChunkMetadata{
		ProceedingNumber: r.ProceedingNumber,
		SourceURL:        r.SourceURL,
		Title:            r.Title,
		DocType:          r.DocType,
		FiledBy:          r.FiledBy,
		FilingDate:       r.FilingDate,
		PublishedDate:    r.PublishedDate,
		Year:             ExtractYear(r.FilingDate),
		Extra:            r.Extra,
	}
}

// ProceedingRecord is the scraped proceeding-level metadata.
type ProceedingRecord struct {
	Number      string `json:"proceeding_id"`
	FiledBy     string `json:"filed_by"`
	Industry    string `json:"industry"`
	FilingDate  string `json:"filing_date"`
	Category    string `json:"category"`
	Status      string `json:"current_status"`
	Description string `json:"description"`
}

// Fields converts non-empty attributes into an update set.
func (p ProceedingRecord) Fields() ProceedingFields {
	opt := func(s string, max int) *string {
		s = strings.TrimSpace(s)
		if s == "" {
			return nil
		}
		s = Truncate(s, max)
		return &s
	}
	return ProceedingFields{
		FiledBy:     opt(p.FiledBy, MaxFiledByLen),
		Industry:    opt(p.Industry, MaxIndustryLen),
		FilingDate:  opt(p.FilingDate, MaxFilingDateLen),
		Category:    opt(p.Category, MaxCategoryLen),
		Status:      opt(p.Status, MaxStatusLen),
		Description: opt(p.Description, 1<<20),
	}
}
