// Package memory is an in-process catalog used by the memory database driver
// and by tests. It follows the same generation model as the Redis catalog:
// writes go to a staged generation, Activate swaps the pointer.
package memory

import (
	"context"
	"fmt"
	"math"
	"sort"
	"strconv"
	"sync"
	"time"

	"github.com/kailas-cloud/librarian/internal/domain"
	"github.com/kailas-cloud/librarian/internal/domain/book"
)

type generation struct {
	meta    book.Generation
	records map[string]book.Record // by book id
	sorted  []book.Book            // by title, built on activation
}

// Catalog is a concurrency-safe in-memory catalog.
type Catalog struct {
	model domain.EmbeddingModel
	now   func() time.Time

	mu          sync.RWMutex
	generations map[string]*generation
	active      string
	lastGen     int64
}

// New creates an empty catalog for the given embedding model.
func New(model domain.EmbeddingModel) *Catalog {
	return &Catalog{
		model:       model,
		now:         time.Now,
		generations: make(map[string]*generation),
	}
}

// NewGeneration returns a fresh, strictly increasing generation id.
func (c *Catalog) NewGeneration() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	n := c.now().UnixNano()
	if n <= c.lastGen {
		n = c.lastGen + 1
	}
	c.lastGen = n
	return "g" + strconv.FormatInt(n, 10)
}

// Prepare stages an empty generation.
func (c *Catalog) Prepare(_ context.Context, gen string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, ok := c.generations[gen]; ok {
		return fmt.Errorf("generation %s already exists", gen)
	}
	c.generations[gen] = &generation{records: make(map[string]book.Record)}
	return nil
}

// Upsert writes records into a staged generation.
func (c *Catalog) Upsert(_ context.Context, gen string, records []book.Record) error {
	for _, r := range records {
		if len(r.Vector) != c.model.Dimensions {
			return fmt.Errorf("%q: got %d dims, expected %d: %w",
				r.Book.Title(), len(r.Vector), c.model.Dimensions, domain.ErrVectorDimMismatch)
		}
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	g, ok := c.generations[gen]
	if !ok {
		return fmt.Errorf("generation %s: %w", gen, domain.ErrNotFound)
	}
	for _, r := range records {
		g.records[r.Book.ID()] = book.Record{Book: r.Book, Vector: append([]float32(nil), r.Vector...)}
	}
	return nil
}

// Activate makes gen the active generation and returns the previous one.
func (c *Catalog) Activate(_ context.Context, gen string, count int) (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	g, ok := c.generations[gen]
	if !ok {
		return "", fmt.Errorf("generation %s: %w", gen, domain.ErrNotFound)
	}

	g.meta = book.Generation{ID: gen, EmbeddingModel: c.model.Key(), Count: count, CreatedAt: c.now()}
	g.sorted = make([]book.Book, 0, len(g.records))
	for _, r := range g.records {
		g.sorted = append(g.sorted, r.Book)
	}
	sort.Slice(g.sorted, func(i, j int) bool { return g.sorted[i].Title() < g.sorted[j].Title() })

	prev := c.active
	c.active = gen
	return prev, nil
}

// Drop removes a generation. Dropping the active one empties the catalog.
func (c *Catalog) Drop(_ context.Context, gen string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.generations, gen)
	if c.active == gen {
		c.active = ""
	}
	return nil
}

// Generations lists known generations, oldest first.
func (c *Catalog) Generations(_ context.Context) ([]string, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make([]string, 0, len(c.generations))
	for id := range c.generations {
		out = append(out, id)
	}
	sort.Slice(out, func(i, j int) bool {
		if len(out[i]) != len(out[j]) {
			return len(out[i]) < len(out[j])
		}
		return out[i] < out[j]
	})
	return out, nil
}

// current returns the active generation under the read lock.
func (c *Catalog) current() (*generation, error) {
	if c.active == "" {
		return nil, domain.ErrCatalogEmpty
	}
	g, ok := c.generations[c.active]
	if !ok || len(g.sorted) == 0 {
		return nil, domain.ErrCatalogEmpty
	}
	return g, nil
}

// Active returns the active generation id.
func (c *Catalog) Active(_ context.Context) (string, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.active == "" {
		return "", domain.ErrCatalogEmpty
	}
	return c.active, nil
}

// Meta returns the active generation's meta record.
func (c *Catalog) Meta(_ context.Context) (book.Generation, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	g, ok := c.generations[c.active]
	if c.active == "" || !ok {
		return book.Generation{}, domain.ErrCatalogEmpty
	}
	return g.meta, nil
}

// CheckModel is a no-op: the memory catalog is always built with its own model.
func (c *Catalog) CheckModel(_ context.Context) error { return nil }

// Count returns the number of active books.
func (c *Catalog) Count(_ context.Context) (int, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	g, err := c.current()
	if err != nil {
		return 0, err
	}
	return len(g.sorted), nil
}

// Search returns up to k books by descending cosine similarity.
// Ties keep title order.
func (c *Catalog) Search(_ context.Context, vec []float32, k int) ([]book.Candidate, error) {
	if len(vec) != c.model.Dimensions {
		return nil, fmt.Errorf("query has %d dims, expected %d: %w", len(vec), c.model.Dimensions, domain.ErrVectorDimMismatch)
	}
	if k <= 0 {
		return nil, fmt.Errorf("k must be positive")
	}

	c.mu.RLock()
	defer c.mu.RUnlock()
	g, err := c.current()
	if err != nil {
		return nil, err
	}

	out := make([]book.Candidate, 0, len(g.sorted))
	for _, b := range g.sorted {
		r := g.records[b.ID()]
		out = append(out, book.Candidate{Book: b, Score: math.Max(0, Cosine(vec, r.Vector))})
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].Score > out[j].Score })
	if len(out) > k {
		out = out[:k]
	}
	return out, nil
}

// Get returns the active book with exactly this title.
func (c *Catalog) Get(_ context.Context, title string) (book.Book, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	g, err := c.current()
	if err != nil {
		return book.Book{}, err
	}
	r, ok := g.records[book.IDOf(title)]
	if !ok || r.Book.Title() != title {
		return book.Book{}, domain.ErrNotFound
	}
	return r.Book, nil
}

// Titles lists the active titles in lexical order.
func (c *Catalog) Titles(_ context.Context) ([]string, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	g, err := c.current()
	if err != nil {
		return nil, err
	}
	out := make([]string, 0, len(g.sorted))
	for _, b := range g.sorted {
		out = append(out, b.Title())
	}
	return out, nil
}

// Authors lists distinct non-empty authors of the active generation.
func (c *Catalog) Authors(_ context.Context) ([]string, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	g, err := c.current()
	if err != nil {
		return nil, err
	}
	seen := make(map[string]struct{})
	var out []string
	for _, b := range g.sorted {
		a := b.Author()
		if a == "" {
			continue
		}
		if _, ok := seen[a]; !ok {
			seen[a] = struct{}{}
			out = append(out, a)
		}
	}
	return out, nil
}

// Cosine returns the cosine similarity of a and b, 0 for a zero vector.
func Cosine(a, b []float32) float64 {
	var dot, na, nb float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		na += float64(a[i]) * float64(a[i])
		nb += float64(b[i]) * float64(b[i])
	}
	if na == 0 || nb == 0 {
		return 0
	}
	return dot / (math.Sqrt(na) * math.Sqrt(nb))
}
