package chi

import (
	"errors"
	"reflect"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"

	"github.com/kailas-cloud/librarian/internal/domain"
	"github.com/kailas-cloud/librarian/internal/domain/book"
	domusage "github.com/kailas-cloud/librarian/internal/domain/usage"
)

// ErrorCode is the machine-readable code of an error response.
type ErrorCode string

// Error codes.
const (
	CodeBadRequest          ErrorCode = "bad_request"
	CodeUnauthorized        ErrorCode = "unauthorized"
	CodeNotFound            ErrorCode = "not_found"
	CodeCatalogEmpty        ErrorCode = "catalog_empty"
	CodeModelMismatch       ErrorCode = "embedding_model_mismatch"
	CodeQuotaExceeded       ErrorCode = "quota_exceeded"
	CodeUpstreamUnavailable ErrorCode = "upstream_unavailable"
	CodeRateLimited         ErrorCode = "rate_limited"
	CodeInternal            ErrorCode = "internal_error"
)

// ErrorResponse is the body of every non-2xx JSON response.
type ErrorResponse struct {
	Code    ErrorCode `json:"code"`
	Message string    `json:"message"`
}

type recommendRequest struct {
	Query string `json:"query" validate:"required,max=2000"`
	K     int    `json:"k" validate:"gte=0"`
}

type speechRequest struct {
	Text  string `json:"text" validate:"required"`
	Voice string `json:"voice" validate:"omitempty,max=32"`
}

type searchParams struct {
	Q string `json:"q" validate:"required,max=2000"`
	K int    `json:"k" validate:"gte=0"`
}

// ContextItem is a candidate shown to the selector.
type ContextItem struct {
	Title  string   `json:"title"`
	Themes []string `json:"themes"`
}

// LanguageDTO is the detected query language.
type LanguageDTO struct {
	Code string `json:"code"`
	Name string `json:"name"`
}

// RecommendResponse is the body of POST /api/v1/recommend.
type RecommendResponse struct {
	Query         string        `json:"query"`
	ChosenTitle   *string       `json:"chosen_title"`
	Answer        string        `json:"answer"`
	ContextUsed   []ContextItem `json:"context_used"`
	Language      *LanguageDTO  `json:"language,omitempty"`
	State         string        `json:"state"`
	DeclineReason string        `json:"decline_reason,omitempty"`
}

// SearchResult is one row of the debug search.
type SearchResult struct {
	Title  string   `json:"title"`
	Score  float64  `json:"score"`
	Themes []string `json:"themes"`
}

// SearchResponse is the body of GET /api/v1/debug/search.
type SearchResponse struct {
	Query   string         `json:"query"`
	Results []SearchResult `json:"results"`
}

// UsageResponse is the body of GET /api/v1/usage.
type UsageResponse struct {
	Period          string    `json:"period"`
	PeriodStartAt   time.Time `json:"period_start_at"`
	PeriodEndAt     time.Time `json:"period_end_at"`
	TokensUsed      int64     `json:"tokens_used"`
	TokensLimit     int64     `json:"tokens_limit"`
	TokensRemaining int64     `json:"tokens_remaining"`
	IsExhausted     bool      `json:"is_exhausted"`
	Action          string    `json:"action,omitempty"`
}

// HealthResponse is the body of GET /health.
type HealthResponse struct {
	Status string            `json:"status"`
	Checks map[string]string `json:"checks"`
}

var validate = newValidator()

func newValidator() *validator.Validate {
	v := validator.New(validator.WithRequiredStructEnabled())
	v.RegisterTagNameFunc(func(f reflect.StructField) string {
		name, _, _ := strings.Cut(f.Tag.Get("json"), ",")
		if name == "-" {
			return ""
		}
		return name
	})
	return v
}

// validateStruct runs struct tags and reports the first failure as a malformed request.
func validateStruct(v any) error {
	err := validate.Struct(v)
	if err == nil {
		return nil
	}
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) || len(verrs) == 0 {
		return domain.NewMalformed("body", err.Error())
	}
	fe := verrs[0]
	switch fe.Tag() {
	case "required":
		return domain.NewMalformed(fe.Field(), "is required")
	case "max":
		return domain.NewMalformed(fe.Field(), "must be at most "+fe.Param()+" characters")
	case "gte":
		return domain.NewMalformed(fe.Field(), "must be >= "+fe.Param())
	default:
		return domain.NewMalformed(fe.Field(), "failed "+fe.Tag()+" validation")
	}
}

func responseToDTO(resp domain.Response) RecommendResponse {
	items := make([]ContextItem, 0, len(resp.ContextUsed))
	for _, c := range resp.ContextUsed {
		items = append(items, ContextItem{Title: c.Title, Themes: nonNil(c.Themes)})
	}
	out := RecommendResponse{
		Query:         resp.Query,
		ChosenTitle:   resp.ChosenTitle,
		Answer:        resp.Answer,
		ContextUsed:   items,
		State:         string(resp.State),
		DeclineReason: string(resp.DeclineReason),
	}
	if resp.Language.Code != "" {
		out.Language = &LanguageDTO{Code: resp.Language.Code, Name: resp.Language.Name}
	}
	return out
}

func candidatesToDTO(query string, cands []book.Candidate) SearchResponse {
	results := make([]SearchResult, 0, len(cands))
	for _, c := range cands {
		results = append(results, SearchResult{
			Title:  c.Book.Title(),
			Score:  c.Score,
			Themes: nonNil(c.Book.Themes()),
		})
	}
	return SearchResponse{Query: query, Results: results}
}

func usageToDTO(r domusage.Report) UsageResponse {
	return UsageResponse{
		Period:          string(r.Period),
		PeriodStartAt:   r.PeriodStart.UTC(),
		PeriodEndAt:     r.PeriodEnd.UTC(),
		TokensUsed:      r.TokensUsed,
		TokensLimit:     r.TokensLimit,
		TokensRemaining: r.TokensRemaining,
		IsExhausted:     r.Exhausted,
		Action:          r.Action,
	}
}

func nonNil(s []string) []string {
	if s == nil {
		return []string{}
	}
	return s
}
