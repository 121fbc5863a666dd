package book

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"regexp"
	"strings"
	"time"
	"unicode"

	"golang.org/x/text/unicode/norm"
)

var nonSlug = regexp.MustCompile(`[^a-z0-9]+`)

// MaxSummarySize is the maximum stored summary size in bytes.
const MaxSummarySize = 16384

// Book is an immutable catalog record. Title is the unique key.
type Book struct {
	title           string
	summary         string
	themes          []string
	author          string
	embeddingSource string
}

// New validates and normalizes a record: title and summary are trimmed and
// required, themes are trimmed, lowercased and emptied of blanks.
func New(title, summary string, themes []string, author string) (Book, error) {
	title = strings.TrimSpace(title)
	summary = strings.TrimSpace(summary)
	if title == "" {
		return Book{}, fmt.Errorf("title is required")
	}
	if summary == "" {
		return Book{}, fmt.Errorf("summary is required")
	}
	if len(summary) > MaxSummarySize {
		return Book{}, fmt.Errorf("summary too large (max %d bytes)", MaxSummarySize)
	}

	norm := make([]string, 0, len(themes))
	for _, t := range themes {
		t = strings.ToLower(strings.TrimSpace(t))
		if t != "" {
			norm = append(norm, t)
		}
	}

	return Book{
		title:   title,
		summary: summary,
		themes:  norm,
		author:  strings.TrimSpace(author),
	}, nil
}

// Reconstruct creates a Book without validation (storage hydration).
func Reconstruct(title, summary string, themes []string, author, embeddingSource string) Book {
	return Book{
		title:           title,
		summary:         summary,
		themes:          append([]string(nil), themes...),
		author:          author,
		embeddingSource: embeddingSource,
	}
}

// WithEmbeddingSource returns a copy carrying the text that was embedded.
func (b Book) WithEmbeddingSource(src string) Book {
	b.themes = append([]string(nil), b.themes...)
	b.embeddingSource = src
	return b
}

// Title returns the unique title.
func (b Book) Title() string { return b.title }

// Summary returns the full stored summary.
func (b Book) Summary() string { return b.summary }

// Themes returns a copy of the ordered theme tags.
func (b Book) Themes() []string { return append([]string(nil), b.themes...) }

// Author returns the optional author.
func (b Book) Author() string { return b.author }

// EmbeddingSource returns the text the stored vector was computed from.
func (b Book) EmbeddingSource() string { return b.embeddingSource }

// ID returns the catalog id derived from the title.
func (b Book) ID() string { return IDOf(b.title) }

// Document renders the labelled form used when the whole record is embedded.
func (b Book) Document() string {
	return fmt.Sprintf("Title: %s\nSummary: %s\nThemes: %s", b.title, b.summary, strings.Join(b.themes, ", "))
}

// idHashLen is the number of hex digits of the title hash kept in an id.
const idHashLen = 12

// IDOf returns the storage id of a title: its slug plus a short hash of the
// case-folded title. Titles that differ only in case share an id, titles
// that differ in anything else do not, even when their slugs collide.
func IDOf(title string) string {
	sum := sha256.Sum256([]byte(strings.ToLower(strings.TrimSpace(title))))
	return Slug(title) + "-" + hex.EncodeToString(sum[:])[:idHashLen]
}

// Slug folds title to ASCII (NFKD, combining marks dropped), lowercases it and
// collapses every run of characters outside [a-z0-9] into a single "-".
// An empty result becomes "untitled".
func Slug(title string) string {
	var folded strings.Builder
	for _, r := range norm.NFKD.String(strings.TrimSpace(title)) {
		if unicode.Is(unicode.Mn, r) {
			continue
		}
		folded.WriteRune(unicode.ToLower(r))
	}
	s := nonSlug.ReplaceAllString(folded.String(), "-")
	s = strings.Trim(s, "-")
	if s == "" {
		return "untitled"
	}
	return s
}

// Candidate is a catalog record returned by similarity search.
type Candidate struct {
	Book  Book
	Score float64
}

// Record is a book with its embedding vector, as written by ingest.
type Record struct {
	Book   Book
	Vector []float32
}

// Generation describes one ingested catalog generation.
type Generation struct {
	ID             string
	EmbeddingModel string
	Count          int
	CreatedAt      time.Time
}
