package catalog

import (
	"context"
	"errors"
	"reflect"
	"testing"

	"github.com/kailas-cloud/librarian/internal/db"
	"github.com/kailas-cloud/librarian/internal/domain"
	"github.com/kailas-cloud/librarian/internal/domain/book"
)

func TestPrepare_IndexDefinition(t *testing.T) {
	s := newFakeStore()
	r := newTestRepo(t, s)

	if err := r.Prepare(context.Background(), "g1"); err != nil {
		t.Fatalf("Prepare: %v", err)
	}
	def, ok := s.indexes["test:books:g1"]
	if !ok {
		t.Fatal("index not created")
	}
	if !reflect.DeepEqual(def.Prefixes, []string{"test:book:g1:"}) {
		t.Errorf("prefixes = %v", def.Prefixes)
	}
	var vec *db.IndexField
	for i := range def.Fields {
		if def.Fields[i].Type == db.IndexFieldVector {
			vec = &def.Fields[i]
		}
	}
	if vec == nil {
		t.Fatal("no vector field")
	}
	if vec.VectorDim != testDim || vec.VectorDistance != db.DistanceCosine || vec.VectorAlgo != db.VectorHNSW {
		t.Errorf("vector field = %+v", vec)
	}
	if vec.VectorM != 16 || vec.VectorEFConstruct != 200 {
		t.Errorf("hnsw defaults = %d/%d", vec.VectorM, vec.VectorEFConstruct)
	}
}

func TestEmptyCatalog(t *testing.T) {
	r := newTestRepo(t, newFakeStore())
	ctx := context.Background()

	if _, err := r.Active(ctx); !errors.Is(err, domain.ErrCatalogEmpty) {
		t.Errorf("Active: expected ErrCatalogEmpty, got %v", err)
	}
	if _, err := r.Search(ctx, []float32{1, 0, 0}, 3); !errors.Is(err, domain.ErrCatalogEmpty) {
		t.Errorf("Search: expected ErrCatalogEmpty, got %v", err)
	}
	if _, err := r.Titles(ctx); !errors.Is(err, domain.ErrCatalogEmpty) {
		t.Errorf("Titles: expected ErrCatalogEmpty, got %v", err)
	}
	if err := r.CheckModel(ctx); err != nil {
		t.Errorf("CheckModel on empty catalog: %v", err)
	}
}

func TestActivatedGenerationWithoutBooksIsEmpty(t *testing.T) {
	r := newTestRepo(t, newFakeStore())
	loadGeneration(t, r)

	if _, err := r.Search(context.Background(), []float32{1, 0, 0}, 3); !errors.Is(err, domain.ErrCatalogEmpty) {
		t.Errorf("expected ErrCatalogEmpty, got %v", err)
	}
}

func TestSearch_OrderedBySimilarity(t *testing.T) {
	r := newTestRepo(t, newFakeStore())
	loadGeneration(t, r,
		rec(t, "The Hobbit", "J.R.R. Tolkien", 1, 0, 0),
		rec(t, "1984", "George Orwell", 0, 1, 0),
		rec(t, "Dune", "Frank Herbert", 0.7, 0.7, 0),
	)

	got, err := r.Search(context.Background(), []float32{1, 0.1, 0}, 2)
	if err != nil {
		t.Fatalf("Search: %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("expected 2 candidates, got %d", len(got))
	}
	if got[0].Book.Title() != "The Hobbit" || got[1].Book.Title() != "Dune" {
		t.Errorf("order = %q, %q", got[0].Book.Title(), got[1].Book.Title())
	}
	if got[0].Score < got[1].Score {
		t.Errorf("scores not descending: %v", got)
	}
	if got[0].Book.Author() != "J.R.R. Tolkien" {
		t.Errorf("author = %q", got[0].Book.Author())
	}
	if !reflect.DeepEqual(got[0].Book.Themes(), []string{"fantasy", "friendship"}) {
		t.Errorf("themes = %v", got[0].Book.Themes())
	}
}

func TestSearch_DimMismatch(t *testing.T) {
	r := newTestRepo(t, newFakeStore())
	if _, err := r.Search(context.Background(), []float32{1, 0}, 3); !errors.Is(err, domain.ErrVectorDimMismatch) {
		t.Errorf("expected ErrVectorDimMismatch, got %v", err)
	}
}

func TestUpsert_DimMismatch(t *testing.T) {
	s := newFakeStore()
	r := newTestRepo(t, s)
	err := r.Upsert(context.Background(), "g1", []book.Record{rec(t, "Dune", "", 1, 0)})
	if !errors.Is(err, domain.ErrVectorDimMismatch) {
		t.Errorf("expected ErrVectorDimMismatch, got %v", err)
	}
	if len(s.hashes) != 0 {
		t.Errorf("nothing should be written, got %d hashes", len(s.hashes))
	}
}

func TestActivate_SwapsGenerations(t *testing.T) {
	s := newFakeStore()
	r := newTestRepo(t, s)
	ctx := context.Background()

	first := loadGeneration(t, r, rec(t, "Dune", "Frank Herbert", 1, 0, 0))

	second := r.NewGeneration()
	if err := r.Prepare(ctx, second); err != nil {
		t.Fatal(err)
	}
	if err := r.Upsert(ctx, second, []book.Record{rec(t, "1984", "George Orwell", 0, 1, 0)}); err != nil {
		t.Fatal(err)
	}

	// до активации читатели видят старое поколение
	titles, err := r.Titles(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if !reflect.DeepEqual(titles, []string{"Dune"}) {
		t.Errorf("before swap titles = %v", titles)
	}

	prev, err := r.Activate(ctx, second, 1)
	if err != nil {
		t.Fatalf("Activate: %v", err)
	}
	if prev != first {
		t.Errorf("prev = %q, want %q", prev, first)
	}

	titles, err = r.Titles(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if !reflect.DeepEqual(titles, []string{"1984"}) {
		t.Errorf("after swap titles = %v", titles)
	}

	meta, err := r.Meta(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if meta.ID != second || meta.Count != 1 || meta.EmbeddingModel != testModel.Key() {
		t.Errorf("meta = %+v", meta)
	}
}

func TestDrop_RemovesEverything(t *testing.T) {
	s := newFakeStore()
	r := newTestRepo(t, s)
	ctx := context.Background()

	gen := loadGeneration(t, r,
		rec(t, "Dune", "Frank Herbert", 1, 0, 0),
		rec(t, "1984", "George Orwell", 0, 1, 0),
	)
	if err := r.Drop(ctx, gen); err != nil {
		t.Fatalf("Drop: %v", err)
	}
	if len(s.hashes) != 0 {
		t.Errorf("hashes left: %d", len(s.hashes))
	}
	if len(s.indexes) != 0 {
		t.Errorf("indexes left: %d", len(s.indexes))
	}
	// dropping twice is harmless
	if err := r.Drop(ctx, gen); err != nil {
		t.Errorf("second Drop: %v", err)
	}
}

func TestGenerations_Chronological(t *testing.T) {
	r := newTestRepo(t, newFakeStore())
	a := loadGeneration(t, r, rec(t, "Dune", "", 1, 0, 0))
	b := loadGeneration(t, r, rec(t, "Dune", "", 1, 0, 0))

	gens, err := r.Generations(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if !reflect.DeepEqual(gens, []string{a, b}) {
		t.Errorf("generations = %v, want [%s %s]", gens, a, b)
	}
}

func TestCheckModel_Mismatch(t *testing.T) {
	s := newFakeStore()
	r := newTestRepo(t, s)
	loadGeneration(t, r, rec(t, "Dune", "", 1, 0, 0))

	other := New(s, Options{KeyPrefix: "test:", Model: domain.EmbeddingModel{Name: "text-embedding-3-large", Dimensions: testDim}})
	if err := other.CheckModel(context.Background()); !errors.Is(err, domain.ErrEmbeddingModelMismatch) {
		t.Errorf("expected ErrEmbeddingModelMismatch, got %v", err)
	}
	if err := r.CheckModel(context.Background()); err != nil {
		t.Errorf("same model: %v", err)
	}
}

func TestListing_CachedPerGeneration(t *testing.T) {
	s := newFakeStore()
	r := newTestRepo(t, s)
	ctx := context.Background()
	loadGeneration(t, r,
		rec(t, "The Hobbit", "J.R.R. Tolkien", 1, 0, 0),
		rec(t, "The Silmarillion", "J.R.R. Tolkien", 0, 1, 0),
		rec(t, "Dune", "", 0, 0, 1),
	)

	authors, err := r.Authors(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if !reflect.DeepEqual(authors, []string{"J.R.R. Tolkien"}) {
		t.Errorf("authors = %v", authors)
	}

	b, err := r.Get(ctx, "Dune")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if b.Summary() != "Summary of Dune" || b.EmbeddingSource() != "Summary of Dune" {
		t.Errorf("book = %+v", b)
	}
	if _, err := r.Get(ctx, "dune"); !errors.Is(err, domain.ErrNotFound) {
		t.Errorf("Get is exact: expected ErrNotFound, got %v", err)
	}

	if s.searchListCalls != 1 {
		t.Errorf("expected one listing load, got %d", s.searchListCalls)
	}
}

func TestSearch_StoreError(t *testing.T) {
	s := newFakeStore()
	r := newTestRepo(t, s)
	loadGeneration(t, r, rec(t, "Dune", "", 1, 0, 0))
	s.searchErr = errors.New("connection reset")

	_, err := r.Search(context.Background(), []float32{1, 0, 0}, 1)
	if err == nil || errors.Is(err, domain.ErrCatalogEmpty) {
		t.Errorf("expected store error, got %v", err)
	}
}
