package db

// KNNQuery is the input for vector similarity search.
type KNNQuery struct {
	IndexName    string
	VectorField  string // defaults to "vector"
	Vector       []float32
	K            int
	ReturnFields []string
}

// SearchResult is the output of a search operation.
type SearchResult struct {
	Total   int
	Entries []SearchEntry
}

// SearchEntry is a single hit. For KNN searches Score is cosine similarity
// clamped to [0,1] (1 - distance).
type SearchEntry struct {
	Key    string
	Score  float64
	Fields map[string]string
}
