// Package chunker splits extracted document text into bounded, overlapping
// word windows that respect paragraph boundaries where possible.
package chunker

import (
	"fmt"
	"iter"
	"regexp"
	"slices"
	"strings"

	"github.com/cloo-solutions/filingsearch/internal/domain"
)

// Config controls chunk sizing. Sizes are counted in whitespace-separated words.
type Config struct {
	MaxWords     int
	OverlapWords int
}

// DefaultConfig returns the sizing used for a 384-dim sentence encoder.
func DefaultConfig() Config {
	return Config{
		MaxWords:     500,
		OverlapWords: 50,
	}
}

// Validate checks that the window can always make progress.
func (c Config) Validate() error {
	if c.MaxWords <= 0 {
		return fmt.Errorf("%w: max words must be positive, got %d", domain.ErrInvalidChunkConfig, c.MaxWords)
	}
	if c.OverlapWords < 0 {
		return fmt.Errorf("%w: overlap must not be negative, got %d", domain.ErrInvalidChunkConfig, c.OverlapWords)
	}
	if c.OverlapWords >= c.MaxWords {
		return fmt.Errorf("%w: overlap %d must be smaller than max words %d", domain.ErrInvalidChunkConfig, c.OverlapWords, c.MaxWords)
	}
	return nil
}

// Chunker is stateless and safe for concurrent use.
type Chunker struct {
	cfg Config
}

// New returns a Chunker for cfg.
func New(cfg Config) (*Chunker, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &Chunker{cfg: cfg}, nil
}

// Config returns the chunker's sizing.
func (c *Chunker) Config() Config {
	return c.cfg
}

// Split is a convenience for one-off chunking.
func Split(text string, maxWords, overlapWords int) ([]string, error) {
	c, err := New(Config{MaxWords: maxWords, OverlapWords: overlapWords})
	if err != nil {
		return nil, err
	}
	return c.Split(text), nil
}

// Split collects Chunk into a slice.
func (c *Chunker) Split(text string) []string {
	return slices.Collect(c.Chunk(text))
}

// Chunk yields chunks of text in order. Every chunk has between 1 and
// MaxWords words. Paragraphs are packed whole while they fit; a chunk that
// follows a closed chunk starts with its last OverlapWords words unless that
// would overflow the next paragraph. Paragraphs longer than MaxWords are cut
// into windows of MaxWords stepping MaxWords-OverlapWords.
//
// The sequence can be ranged over any number of times.
func (c *Chunker) Chunk(text string) iter.Seq[string] {
	return func(yield func(string) bool) {
		w := &window{max: c.cfg.MaxWords, overlap: c.cfg.OverlapWords, yield: yield}
		for _, para := range paragraphs(text) {
			if !w.add(para) {
				return
			}
		}
		w.flush()
	}
}

type window struct {
	max     int
	overlap int
	yield   func(string) bool

	paras  [][]string
	words  int
	fresh  bool
	halted bool
}

func (w *window) add(para []string) bool {
	if w.words+len(para) <= w.max {
		w.push(para)
		return true
	}

	if w.fresh {
		if !w.emit() {
			return false
		}
		w.carry()
	}

	switch {
	case w.words+len(para) <= w.max:
		w.push(para)
	case len(para) <= w.max:
		w.reset()
		w.push(para)
	default:
		return w.forceSplit(para)
	}
	return true
}

// forceSplit windows the carried overlap followed by an oversized paragraph.
// The final partial window stays open so later paragraphs can join it.
func (w *window) forceSplit(para []string) bool {
	seq := append(w.flat(), para...)
	step := w.max - w.overlap
	start := 0
	for start+w.max < len(seq) {
		if !w.yield(strings.Join(seq[start:start+w.max], " ")) {
			w.halted = true
			return false
		}
		start += step
	}
	w.reset()
	w.push(seq[start:])
	return true
}

func (w *window) push(para []string) {
	w.paras = append(w.paras, para)
	w.words += len(para)
	w.fresh = true
}

func (w *window) reset() {
	w.paras = nil
	w.words = 0
	w.fresh = false
}

// carry seeds the next chunk with the tail of the one just emitted.
func (w *window) carry() {
	flat := w.flat()
	w.reset()
	if w.overlap == 0 || len(flat) == 0 {
		return
	}
	n := min(w.overlap, len(flat))
	tail := slices.Clone(flat[len(flat)-n:])
	w.paras = [][]string{tail}
	w.words = len(tail)
}

func (w *window) emit() bool {
	parts := make([]string, 0, len(w.paras))
	for _, p := range w.paras {
		parts = append(parts, strings.Join(p, " "))
	}
	if !w.yield(strings.Join(parts, "\n\n")) {
		w.halted = true
		return false
	}
	return true
}

func (w *window) flush() {
	if w.fresh && !w.halted {
		w.emit()
	}
}

func (w *window) flat() []string {
	out := make([]string, 0, w.words)
	for _, p := range w.paras {
		out = append(out, p...)
	}
	return out
}

var paragraphBreak = regexp.MustCompile(`\n[ \t\f\v]*\n`)

// paragraphs splits on blank lines and returns each paragraph's words,
// skipping paragraphs with none.
func paragraphs(text string) [][]string {
	text = strings.ReplaceAll(text, "\r\n", "\n")
	var out [][]string
	for _, p := range paragraphBreak.Split(text, -1) {
		words := strings.Fields(p)
		if len(words) == 0 {
			continue
		}
		out = append(out, words)
	}
	return out
}
