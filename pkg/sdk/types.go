package librarian

import (
	"time"

	"github.com/kailas-cloud/librarian/internal/domain"
	"github.com/kailas-cloud/librarian/internal/domain/book"
	domusage "github.com/kailas-cloud/librarian/internal/domain/usage"
	"github.com/kailas-cloud/librarian/internal/usecase/ingest"
)

// Book is a catalog entry to ingest.
type Book struct {
	Title   string
	Summary string
	Themes  []string
	Author  string
}

// Match is a catalog book returned by Search.
type Match struct {
	Title   string
	Summary string
	Themes  []string
	Author  string
	Score   float64 // cosine similarity, higher is closer
}

// ContextBook is a candidate the answer was composed from.
type ContextBook struct {
	Title  string
	Themes []string
}

// Language is the detected query language.
type Language struct {
	Code string // ISO 639-1
	Name string
}

// TokenUsage counts provider tokens spent on one call.
type TokenUsage struct {
	EmbeddingTokens  int
	GenerationTokens int
	Calls            int
}

// Recommendation is the outcome of Recommend.
// ChosenTitle is empty when the query was declined; Answer then carries
// the decline message in the query language.
type Recommendation struct {
	Query         string
	ChosenTitle   string
	Answer        string
	Context       []ContextBook
	Language      Language
	State         string
	DeclineReason string
	Usage         TokenUsage
}

// Declined reports whether no book was recommended.
func (r Recommendation) Declined() bool { return r.DeclineReason != "" }

// IngestOptions tunes a single ingest run.
type IngestOptions struct {
	// KeepOld keeps the previous generation after the swap.
	KeepOld bool
	// DryRun validates and deduplicates without embedding or writing.
	DryRun bool
}

// IngestReport summarizes an ingest run.
type IngestReport struct {
	Generation string
	Previous   string
	Read       int
	Skipped    int
	Duplicates int
	Ingested   int
	Tokens     int
	DryRun     bool
}

// UsagePeriod is the budget window of a usage report.
type UsagePeriod string

// UsagePeriod constants.
const (
	PeriodDay   UsagePeriod = "day"
	PeriodMonth UsagePeriod = "month"
)

// UsageReport is token consumption against the configured budget.
type UsageReport struct {
	Period          UsagePeriod
	PeriodStart     time.Time
	PeriodEnd       time.Time
	TokensUsed      int64
	TokensLimit     int64 // 0 = unlimited
	TokensRemaining int64
	Exhausted       bool
}

// HealthStatus represents the aggregated system health.
type HealthStatus struct {
	Status string            // "ok", "degraded", "error"
	Checks map[string]string // component -> "ok"/"error"/"empty"/"open"
}

func toRecords(books []Book) []ingest.RawRecord {
	out := make([]ingest.RawRecord, len(books))
	for i, b := range books {
		out[i] = ingest.RawRecord{Title: b.Title, Summary: b.Summary, Themes: b.Themes, Author: b.Author}
	}
	return out
}

func toMatches(cands []book.Candidate) []Match {
	out := make([]Match, len(cands))
	for i, c := range cands {
		out[i] = Match{
			Title:   c.Book.Title(),
			Summary: c.Book.Summary(),
			Themes:  c.Book.Themes(),
			Author:  c.Book.Author(),
			Score:   c.Score,
		}
	}
	return out
}

func toRecommendation(resp domain.Response, usage *domain.TokenUsage) Recommendation {
	rec := Recommendation{
		Query:         resp.Query,
		Answer:        resp.Answer,
		Context:       make([]ContextBook, len(resp.ContextUsed)),
		Language:      Language{Code: resp.Language.Code, Name: resp.Language.Name},
		State:         string(resp.State),
		DeclineReason: string(resp.DeclineReason),
	}
	if resp.ChosenTitle != nil {
		rec.ChosenTitle = *resp.ChosenTitle
	}
	for i, item := range resp.ContextUsed {
		rec.Context[i] = ContextBook{Title: item.Title, Themes: item.Themes}
	}
	if usage != nil {
		rec.Usage = TokenUsage{
			EmbeddingTokens:  usage.EmbeddingTokens,
			GenerationTokens: usage.GenerationTokens,
			Calls:            usage.Calls,
		}
	}
	return rec
}

func toIngestReport(rep ingest.Report) IngestReport {
	return IngestReport{
		Generation: rep.Generation,
		Previous:   rep.Previous,
		Read:       rep.Read,
		Skipped:    rep.Skipped,
		Duplicates: rep.Duplicates,
		Ingested:   rep.Ingested,
		Tokens:     rep.Tokens,
		DryRun:     rep.DryRun,
	}
}

func toUsageReport(r domusage.Report) UsageReport {
	return UsageReport{
		Period:          UsagePeriod(r.Period),
		PeriodStart:     r.PeriodStart,
		PeriodEnd:       r.PeriodEnd,
		TokensUsed:      r.TokensUsed,
		TokensLimit:     r.TokensLimit,
		TokensRemaining: r.TokensRemaining,
		Exhausted:       r.Exhausted,
	}
}
