package catalog

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/kailas-cloud/librarian/internal/db/redis"
	"github.com/kailas-cloud/librarian/internal/domain/book"
)

// Hash field names of a stored book.
const (
	fieldTitle   = "title"
	fieldSummary = "summary"
	fieldThemes  = "themes"
	fieldAuthor  = "author"
	fieldSource  = "source"
	fieldVector  = "embedding"

	themeSeparator = "|"
)

// Hash field names of a generation's meta record.
const (
	metaModel     = "embedding_model"
	metaCount     = "count"
	metaCreatedAt = "created_at"
)

var bookFields = []string{fieldTitle, fieldSummary, fieldThemes, fieldAuthor, fieldSource}

// recordToHash converts a record to a map for HSET.
func recordToHash(r book.Record) map[string]string {
	b := r.Book
	return map[string]string{
		fieldTitle:   b.Title(),
		fieldSummary: b.Summary(),
		fieldThemes:  strings.Join(b.Themes(), themeSeparator),
		fieldAuthor:  b.Author(),
		fieldSource:  b.EmbeddingSource(),
		fieldVector:  redis.VectorToBytes(r.Vector),
	}
}

// bookFromHash hydrates a Book from search result fields.
func bookFromHash(m map[string]string) (book.Book, error) {
	title := m[fieldTitle]
	if title == "" {
		return book.Book{}, fmt.Errorf("stored book without title")
	}
	var themes []string
	if raw := m[fieldThemes]; raw != "" {
		themes = strings.Split(raw, themeSeparator)
	}
	return book.Reconstruct(title, m[fieldSummary], themes, m[fieldAuthor], m[fieldSource]), nil
}

func metaToHash(m book.Generation) map[string]string {
	return map[string]string{
		metaModel:     m.EmbeddingModel,
		metaCount:     strconv.Itoa(m.Count),
		metaCreatedAt: strconv.FormatInt(m.CreatedAt.Unix(), 10),
	}
}

func metaFromHash(gen string, m map[string]string) (book.Generation, error) {
	count, err := strconv.Atoi(m[metaCount])
	if err != nil {
		return book.Generation{}, fmt.Errorf("invalid meta count: %w", err)
	}
	created, _ := strconv.ParseInt(m[metaCreatedAt], 10, 64)
	return book.Generation{
		ID:             gen,
		EmbeddingModel: m[metaModel],
		Count:          count,
		CreatedAt:      time.Unix(created, 0).UTC(),
	}, nil
}
