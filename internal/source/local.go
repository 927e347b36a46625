package source

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"sort"

	"github.com/cloo-solutions/filingsearch/internal/domain"
)

// LocalDir reads the scraper layout from a directory on disk.
type LocalDir struct {
	root string
}

func NewLocalDir(root string) (*LocalDir, error) {
	info, err := os.Stat(root)
	if err != nil {
		return nil, fmt.Errorf("source root %s: %w", root, err)
	}
	if !info.IsDir() {
		return nil, fmt.Errorf("source root %s is not a directory", root)
	}
	return &LocalDir{root: root}, nil
}

func (l *LocalDir) Name() string { return "dir:" + l.root }

// Proceedings lists subdirectories that contain a metadata.json.
func (l *LocalDir) Proceedings(ctx context.Context) ([]string, error) {
	entries, err := os.ReadDir(l.root)
	if err != nil {
		return nil, fmt.Errorf("read source root: %w", err)
	}
	var out []string
	for _, e := range entries {
		if !e.IsDir() {
			continue
		}
		if _, err := os.Stat(filepath.Join(l.root, e.Name(), metadataFile)); err == nil {
			out = append(out, e.Name())
		}
	}
	sort.Strings(out)
	return out, nil
}

func (l *LocalDir) Documents(ctx context.Context, proceeding string) ([]domain.RawDocumentRef, error) {
	dir := filepath.Join(l.root, proceeding)
	f, err := os.Open(filepath.Join(dir, metadataFile))
	if err != nil {
		return nil, fmt.Errorf("open metadata for %s: %w", proceeding, err)
	}
	defer f.Close()

	return decodeDocuments(f, proceeding, func(documentID string) string {
		path := filepath.Join(dir, documentID+pdfExt)
		if _, err := os.Stat(path); err == nil {
			return path
		}
		return ""
	})
}

func (l *LocalDir) ProceedingRecord(ctx context.Context, proceeding string) (*domain.ProceedingRecord, error) {
	f, err := os.Open(filepath.Join(l.root, proceeding, proceedingFile))
	if errors.Is(err, fs.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("open proceeding metadata for %s: %w", proceeding, err)
	}
	defer f.Close()
	return decodeProceeding(f, proceeding)
}

func (l *LocalDir) Open(ctx context.Context, location string) (io.ReadCloser, error) {
	f, err := os.Open(location)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, domain.Wrap(domain.ErrSourceNotFound, err)
	}
	return f, err
}
