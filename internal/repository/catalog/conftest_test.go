package catalog

import (
	"context"
	"math"
	"path"
	"sort"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/kailas-cloud/librarian/internal/db"
	"github.com/kailas-cloud/librarian/internal/db/redis"
	"github.com/kailas-cloud/librarian/internal/domain"
	"github.com/kailas-cloud/librarian/internal/domain/book"
)

const testDim = 3

var testModel = domain.EmbeddingModel{Name: "text-embedding-3-small", Dimensions: testDim}

// fakeStore is an in-memory implementation of the consumer interface.
type fakeStore struct {
	mu      sync.Mutex
	hashes  map[string]map[string]string
	kv      map[string][]byte
	indexes map[string]*db.IndexDefinition

	searchListCalls int
	searchErr       error
}

func newFakeStore() *fakeStore {
	return &fakeStore{
		hashes:  make(map[string]map[string]string),
		kv:      make(map[string][]byte),
		indexes: make(map[string]*db.IndexDefinition),
	}
}

func (f *fakeStore) HSetMulti(_ context.Context, items []db.HashSetItem) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, it := range items {
		h := f.hashes[it.Key]
		if h == nil {
			h = make(map[string]string)
			f.hashes[it.Key] = h
		}
		for k, v := range it.Fields {
			h[k] = v
		}
	}
	return nil
}

func (f *fakeStore) HGetAll(_ context.Context, key string) (map[string]string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	h, ok := f.hashes[key]
	if !ok {
		return nil, db.ErrKeyNotFound
	}
	out := make(map[string]string, len(h))
	for k, v := range h {
		out[k] = v
	}
	return out, nil
}

func (f *fakeStore) Del(_ context.Context, keys ...string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, k := range keys {
		delete(f.hashes, k)
		delete(f.kv, k)
	}
	return nil
}

func (f *fakeStore) Scan(_ context.Context, pattern string) ([]string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []string
	for k := range f.hashes {
		if ok, _ := path.Match(pattern, k); ok {
			out = append(out, k)
		}
	}
	sort.Strings(out)
	return out, nil
}

func (f *fakeStore) Get(_ context.Context, key string) ([]byte, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	v, ok := f.kv[key]
	if !ok {
		return nil, db.ErrKeyNotFound
	}
	return v, nil
}

func (f *fakeStore) Set(_ context.Context, key string, value []byte) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.kv[key] = value
	return nil
}

func (f *fakeStore) CreateIndex(_ context.Context, def *db.IndexDefinition) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := f.indexes[def.Name]; ok {
		return db.ErrIndexExists
	}
	f.indexes[def.Name] = def
	return nil
}

func (f *fakeStore) DropIndex(_ context.Context, name string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := f.indexes[name]; !ok {
		return db.ErrIndexNotFound
	}
	delete(f.indexes, name)
	return nil
}

// docs returns the hashes covered by an index, sorted by key.
func (f *fakeStore) docs(index string) ([]db.SearchEntry, error) {
	def, ok := f.indexes[index]
	if !ok {
		return nil, db.ErrIndexNotFound
	}
	var out []db.SearchEntry
	for k, h := range f.hashes {
		for _, p := range def.Prefixes {
			if strings.HasPrefix(k, p) {
				out = append(out, db.SearchEntry{Key: k, Fields: h})
				break
			}
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Key < out[j].Key })
	return out, nil
}

func (f *fakeStore) SearchKNN(_ context.Context, q *db.KNNQuery) (*db.SearchResult, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.searchErr != nil {
		return nil, f.searchErr
	}
	docs, err := f.docs(q.IndexName)
	if err != nil {
		return nil, err
	}
	for i := range docs {
		vec, err := redis.BytesToVector(docs[i].Fields[q.VectorField])
		if err != nil {
			return nil, err
		}
		docs[i].Score = cosine(q.Vector, vec)
	}
	sort.SliceStable(docs, func(i, j int) bool { return docs[i].Score > docs[j].Score })
	if len(docs) > q.K {
		docs = docs[:q.K]
	}
	return &db.SearchResult{Total: len(docs), Entries: docs}, nil
}

func (f *fakeStore) SearchList(_ context.Context, index string, offset, limit int, _ []string) (*db.SearchResult, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.searchListCalls++
	docs, err := f.docs(index)
	if err != nil {
		return nil, err
	}
	total := len(docs)
	if offset > len(docs) {
		offset = len(docs)
	}
	docs = docs[offset:]
	if len(docs) > limit {
		docs = docs[:limit]
	}
	return &db.SearchResult{Total: total, Entries: docs}, nil
}

func (f *fakeStore) SearchCount(_ context.Context, index string) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	docs, err := f.docs(index)
	if err != nil {
		return 0, err
	}
	return len(docs), nil
}

func cosine(a, b []float32) float64 {
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

func newTestRepo(t *testing.T, s store) *Repo {
	t.Helper()
	r := New(s, Options{KeyPrefix: "test:", Model: testModel})
	var tick int64
	r.now = func() time.Time {
		tick++
		return time.Unix(1700000000, tick)
	}
	return r
}

func rec(t *testing.T, title, author string, vec ...float32) book.Record {
	t.Helper()
	b, err := book.New(title, "Summary of "+title, []string{"Fantasy", "friendship"}, author)
	if err != nil {
		t.Fatalf("book.New: %v", err)
	}
	return book.Record{Book: b.WithEmbeddingSource(b.Summary()), Vector: vec}
}

// loadGeneration writes and activates a generation with the given records.
func loadGeneration(t *testing.T, r *Repo, records ...book.Record) string {
	t.Helper()
	ctx := context.Background()
	gen := r.NewGeneration()
	if err := r.Prepare(ctx, gen); err != nil {
		t.Fatalf("Prepare: %v", err)
	}
	if err := r.Upsert(ctx, gen, records); err != nil {
		t.Fatalf("Upsert: %v", err)
	}
	if _, err := r.Activate(ctx, gen, len(records)); err != nil {
		t.Fatalf("Activate: %v", err)
	}
	return gen
}
