// Package catalog stores the book catalog in Redis/Valkey hashes behind an
// FT vector index. Every ingest writes a new generation and swaps a single
// active pointer, so readers never observe a half-written catalog.
package catalog

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/kailas-cloud/librarian/internal/db"
	"github.com/kailas-cloud/librarian/internal/domain"
	"github.com/kailas-cloud/librarian/internal/domain/book"
)

// store is the consumer interface for the catalog (ISP).
//
//nolint:interfacebloat // catalog repo needs hash, kv, index and search operations
type store interface {
	HSetMulti(ctx context.Context, items []db.HashSetItem) error
	HGetAll(ctx context.Context, key string) (map[string]string, error)
	Del(ctx context.Context, keys ...string) error
	Scan(ctx context.Context, pattern string) ([]string, error)
	Get(ctx context.Context, key string) ([]byte, error)
	Set(ctx context.Context, key string, value []byte) error
	CreateIndex(ctx context.Context, def *db.IndexDefinition) error
	DropIndex(ctx context.Context, name string) error
	SearchKNN(ctx context.Context, q *db.KNNQuery) (*db.SearchResult, error)
	SearchList(ctx context.Context, index string, offset, limit int, fields []string) (*db.SearchResult, error)
	SearchCount(ctx context.Context, index string) (int, error)
}

// HNSWConfig HNSW index parameters.
type HNSWConfig struct {
	M           int
	EFConstruct int
}

// Options configure the repository.
type Options struct {
	KeyPrefix string
	Model     domain.EmbeddingModel
	HNSW      HNSWConfig
}

// listing is the full, immutable content of one generation.
type listing struct {
	books   []book.Book
	byTitle map[string]book.Book
}

// Repo is the Redis-backed catalog.
type Repo struct {
	store  store
	prefix string
	model  domain.EmbeddingModel
	hnsw   HNSWConfig
	now    func() time.Time

	mu       sync.Mutex
	listings map[string]*listing
}

// New creates a catalog repository.
func New(s store, opts Options) *Repo {
	hnsw := HNSWConfig{M: 16, EFConstruct: 200}
	if opts.HNSW.M > 0 {
		hnsw.M = opts.HNSW.M
	}
	if opts.HNSW.EFConstruct > 0 {
		hnsw.EFConstruct = opts.HNSW.EFConstruct
	}
	return &Repo{
		store:    s,
		prefix:   opts.KeyPrefix,
		model:    opts.Model,
		hnsw:     hnsw,
		now:      time.Now,
		listings: make(map[string]*listing),
	}
}

func (r *Repo) activeKey() string            { return r.prefix + "catalog:active" }
func (r *Repo) metaKey(gen string) string    { return r.prefix + "catalog:meta:" + gen }
func (r *Repo) indexName(gen string) string  { return r.prefix + "books:" + gen }
func (r *Repo) keyPrefix(gen string) string  { return r.prefix + "book:" + gen + ":" }
func (r *Repo) bookKey(gen, id string) string { return r.keyPrefix(gen) + id }

// --- Write side (ingest) ---

// NewGeneration returns a fresh generation id.
func (r *Repo) NewGeneration() string {
	return "g" + strconv.FormatInt(r.now().UnixNano(), 10)
}

// Prepare creates the vector index of a generation.
func (r *Repo) Prepare(ctx context.Context, gen string) error {
	def, err := db.NewIndex(r.indexName(gen)).
		Prefix(r.keyPrefix(gen)).
		Tag(fieldThemes, themeSeparator).
		VectorHNSW(fieldVector, r.model.Dimensions, db.DistanceCosine, r.hnsw.M, r.hnsw.EFConstruct).
		Build()
	if err != nil {
		return fmt.Errorf("build index: %w", err)
	}
	if err := r.store.CreateIndex(ctx, def); err != nil {
		return fmt.Errorf("create index %s: %w", def.Name, err)
	}
	return nil
}

// Upsert writes records into a generation, keyed by book id.
func (r *Repo) Upsert(ctx context.Context, gen string, records []book.Record) error {
	if len(records) == 0 {
		return nil
	}
	items := make([]db.HashSetItem, 0, len(records))
	for _, rec := range records {
		if len(rec.Vector) != r.model.Dimensions {
			return fmt.Errorf("%q: got %d dims, expected %d: %w",
				rec.Book.Title(), len(rec.Vector), r.model.Dimensions, domain.ErrVectorDimMismatch)
		}
		items = append(items, db.HashSetItem{Key: r.bookKey(gen, rec.Book.ID()), Fields: recordToHash(rec)})
	}
	if err := r.store.HSetMulti(ctx, items); err != nil {
		return fmt.Errorf("hset books: %w", err)
	}
	return nil
}

// Activate records the generation's meta and swaps the active pointer.
// It returns the previously active generation ("" if none).
func (r *Repo) Activate(ctx context.Context, gen string, count int) (string, error) {
	prev, err := r.Active(ctx)
	if err != nil && !errors.Is(err, domain.ErrCatalogEmpty) {
		return "", err
	}

	meta := book.Generation{ID: gen, EmbeddingModel: r.model.Key(), Count: count, CreatedAt: r.now()}
	if err := r.store.HSetMulti(ctx, []db.HashSetItem{{Key: r.metaKey(gen), Fields: metaToHash(meta)}}); err != nil {
		return "", fmt.Errorf("write meta %s: %w", gen, err)
	}
	if err := r.store.Set(ctx, r.activeKey(), []byte(gen)); err != nil {
		return "", fmt.Errorf("swap active pointer: %w", err)
	}
	return prev, nil
}

// Drop removes a generation: index, book hashes and meta.
func (r *Repo) Drop(ctx context.Context, gen string) error {
	if gen == "" {
		return nil
	}
	if err := r.store.DropIndex(ctx, r.indexName(gen)); err != nil && !errors.Is(err, db.ErrIndexNotFound) {
		return fmt.Errorf("drop index %s: %w", gen, err)
	}

	keys, err := r.store.Scan(ctx, r.keyPrefix(gen)+"*")
	if err != nil {
		return fmt.Errorf("scan %s: %w", gen, err)
	}
	keys = append(keys, r.metaKey(gen))
	if err := r.store.Del(ctx, keys...); err != nil {
		return fmt.Errorf("delete %s: %w", gen, err)
	}

	r.mu.Lock()
	delete(r.listings, gen)
	r.mu.Unlock()
	return nil
}

// Generations lists every generation with a meta record, oldest first.
func (r *Repo) Generations(ctx context.Context) ([]string, error) {
	keys, err := r.store.Scan(ctx, r.metaKey("*"))
	if err != nil {
		return nil, fmt.Errorf("scan generations: %w", err)
	}
	gens := make([]string, 0, len(keys))
	for _, k := range keys {
		gens = append(gens, strings.TrimPrefix(k, r.metaKey("")))
	}
	// g<unix-nano> ids of equal length sort chronologically
	sort.Slice(gens, func(i, j int) bool {
		if len(gens[i]) != len(gens[j]) {
			return len(gens[i]) < len(gens[j])
		}
		return gens[i] < gens[j]
	})
	return gens, nil
}

// --- Read side (queries) ---

// Active returns the active generation or domain.ErrCatalogEmpty.
func (r *Repo) Active(ctx context.Context) (string, error) {
	data, err := r.store.Get(ctx, r.activeKey())
	if err != nil {
		if errors.Is(err, db.ErrKeyNotFound) {
			return "", domain.ErrCatalogEmpty
		}
		return "", fmt.Errorf("read active pointer: %w", err)
	}
	if len(data) == 0 {
		return "", domain.ErrCatalogEmpty
	}
	return string(data), nil
}

// Meta returns the active generation's meta record.
func (r *Repo) Meta(ctx context.Context) (book.Generation, error) {
	gen, err := r.Active(ctx)
	if err != nil {
		return book.Generation{}, err
	}
	m, err := r.store.HGetAll(ctx, r.metaKey(gen))
	if err != nil {
		if errors.Is(err, db.ErrKeyNotFound) {
			return book.Generation{}, domain.ErrCatalogEmpty
		}
		return book.Generation{}, fmt.Errorf("read meta %s: %w", gen, err)
	}
	return metaFromHash(gen, m)
}

// CheckModel verifies that the active catalog was embedded with the
// configured model. An empty catalog passes.
func (r *Repo) CheckModel(ctx context.Context) error {
	meta, err := r.Meta(ctx)
	if errors.Is(err, domain.ErrCatalogEmpty) {
		return nil
	}
	if err != nil {
		return err
	}
	if meta.EmbeddingModel != r.model.Key() {
		return fmt.Errorf("catalog %s built with %s, configured %s: %w",
			meta.ID, meta.EmbeddingModel, r.model.Key(), domain.ErrEmbeddingModelMismatch)
	}
	return nil
}

// Count returns the number of books in the active generation.
func (r *Repo) Count(ctx context.Context) (int, error) {
	gen, err := r.Active(ctx)
	if err != nil {
		return 0, err
	}
	n, err := r.store.SearchCount(ctx, r.indexName(gen))
	if err != nil {
		return 0, fmt.Errorf("count %s: %w", gen, err)
	}
	return n, nil
}

// Search returns up to k nearest books by cosine similarity, best first.
func (r *Repo) Search(ctx context.Context, vec []float32, k int) ([]book.Candidate, error) {
	if len(vec) != r.model.Dimensions {
		return nil, fmt.Errorf("query has %d dims, expected %d: %w", len(vec), r.model.Dimensions, domain.ErrVectorDimMismatch)
	}
	gen, err := r.Active(ctx)
	if err != nil {
		return nil, err
	}

	res, err := r.store.SearchKNN(ctx, &db.KNNQuery{
		IndexName:    r.indexName(gen),
		VectorField:  fieldVector,
		Vector:       vec,
		K:            k,
		ReturnFields: bookFields,
	})
	if err != nil {
		return nil, fmt.Errorf("knn search %s: %w", gen, err)
	}
	if len(res.Entries) == 0 {
		if n, err := r.store.SearchCount(ctx, r.indexName(gen)); err == nil && n == 0 {
			return nil, domain.ErrCatalogEmpty
		}
	}

	out := make([]book.Candidate, 0, len(res.Entries))
	for _, e := range res.Entries {
		b, err := bookFromHash(e.Fields)
		if err != nil {
			return nil, fmt.Errorf("parse %s: %w", e.Key, err)
		}
		out = append(out, book.Candidate{Book: b, Score: e.Score})
	}
	return out, nil
}

// Get returns the book with exactly this title.
func (r *Repo) Get(ctx context.Context, title string) (book.Book, error) {
	l, err := r.listing(ctx)
	if err != nil {
		return book.Book{}, err
	}
	b, ok := l.byTitle[title]
	if !ok {
		return book.Book{}, domain.ErrNotFound
	}
	return b, nil
}

// Titles lists every title of the active generation.
func (r *Repo) Titles(ctx context.Context) ([]string, error) {
	l, err := r.listing(ctx)
	if err != nil {
		return nil, err
	}
	out := make([]string, 0, len(l.books))
	for _, b := range l.books {
		out = append(out, b.Title())
	}
	return out, nil
}

// Authors lists the distinct non-empty authors of the active generation.
func (r *Repo) Authors(ctx context.Context) ([]string, error) {
	l, err := r.listing(ctx)
	if err != nil {
		return nil, err
	}
	seen := make(map[string]struct{})
	var out []string
	for _, b := range l.books {
		if a := b.Author(); a != "" {
			if _, dup := seen[a]; !dup {
				seen[a] = struct{}{}
				out = append(out, a)
			}
		}
	}
	return out, nil
}

// listing loads the active generation once; generations are immutable.
func (r *Repo) listing(ctx context.Context) (*listing, error) {
	gen, err := r.Active(ctx)
	if err != nil {
		return nil, err
	}

	r.mu.Lock()
	l, ok := r.listings[gen]
	r.mu.Unlock()
	if ok {
		return l, nil
	}

	n, err := r.store.SearchCount(ctx, r.indexName(gen))
	if err != nil {
		return nil, fmt.Errorf("count %s: %w", gen, err)
	}
	if n == 0 {
		return nil, domain.ErrCatalogEmpty
	}

	res, err := r.store.SearchList(ctx, r.indexName(gen), 0, n, bookFields)
	if err != nil {
		return nil, fmt.Errorf("list %s: %w", gen, err)
	}

	l = &listing{books: make([]book.Book, 0, len(res.Entries)), byTitle: make(map[string]book.Book, len(res.Entries))}
	for _, e := range res.Entries {
		b, err := bookFromHash(e.Fields)
		if err != nil {
			return nil, fmt.Errorf("parse %s: %w", e.Key, err)
		}
		l.books = append(l.books, b)
		l.byTitle[b.Title()] = b
	}
	sort.Slice(l.books, func(i, j int) bool { return l.books[i].Title() < l.books[j].Title() })

	r.mu.Lock()
	r.listings = map[string]*listing{gen: l}
	r.mu.Unlock()
	return l, nil
}
