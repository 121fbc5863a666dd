// Package selector picks one title from a closed candidate set.
package selector

import (
	"context"
	"fmt"
	"strings"

	"github.com/sashabaranov/go-openai/jsonschema"
	"go.uber.org/zap"

	"github.com/kailas-cloud/librarian/internal/domain"
	"github.com/kailas-cloud/librarian/internal/domain/book"
	"github.com/kailas-cloud/librarian/internal/llmjson"
	"github.com/kailas-cloud/librarian/internal/logger"
)

const instructions = "You are a helpful book recommender. " +
	"From the CONTEXT list, pick exactly one title (MUST be one from the list). " +
	"If nothing fits the USER QUERY, return an empty title.\n" +
	`Return ONLY JSON: {"title": <exact title or "">, "reason": <one or two sentences>}. ` +
	"Write the `reason` in %s."

type reply struct {
	Title  string `json:"title"`
	Reason string `json:"reason"`
}

// Service is the closed-world selector.
type Service struct {
	gen Generator
}

// New creates a Service.
func New(gen Generator) *Service {
	return &Service{gen: gen}
}

// Select asks the model for one title among cands. ok is false when nothing
// fits, the reply is unparseable, or the title is not byte-equal to a
// candidate title. With no candidates the model is not called.
func (s *Service) Select(
	ctx context.Context, query string, lang domain.Language, cands []book.Candidate,
) (domain.Choice, bool, error) {
	if len(cands) == 0 {
		return domain.Choice{}, false, nil
	}

	titles := make([]string, 0, len(cands))
	for _, c := range cands {
		titles = append(titles, c.Book.Title())
	}

	out, err := s.gen.Generate(ctx, domain.GenerateRequest{
		Operation:   "select",
		Prompt:      buildPrompt(query, lang, cands),
		Temperature: 0.2,
		MaxTokens:   500,
		Schema:      &domain.ResponseSchema{Name: "book_choice", Schema: choiceSchema(titles)},
	})
	if err != nil {
		return domain.Choice{}, false, fmt.Errorf("select: %w", err)
	}

	log := logger.FromContext(ctx)
	var r reply
	if err := llmjson.Decode(out.Text, &r); err != nil {
		log.Warn("Unparseable selection", zap.String("raw", out.Text), zap.Error(err))
		return domain.Choice{}, false, nil
	}

	// no trimming or case folding: the title must be one we showed
	for _, t := range titles {
		if r.Title != "" && r.Title == t {
			return domain.Choice{Title: t, Reason: strings.TrimSpace(r.Reason)}, true, nil
		}
	}
	if r.Title != "" {
		log.Warn("Selected title outside candidate set", zap.String("title", r.Title), zap.Strings("candidates", titles))
	}
	return domain.Choice{}, false, nil
}

// choiceSchema restricts title to the candidate titles or "".
func choiceSchema(titles []string) *jsonschema.Definition {
	enum := append(append([]string(nil), titles...), "")
	return &jsonschema.Definition{
		Type: jsonschema.Object,
		Properties: map[string]jsonschema.Definition{
			"title":  {Type: jsonschema.String, Enum: enum},
			"reason": {Type: jsonschema.String},
		},
		Required:             []string{"title", "reason"},
		AdditionalProperties: false,
	}
}

// buildPrompt renders the numbered context block the model scans.
func buildPrompt(query string, lang domain.Language, cands []book.Candidate) string {
	var b strings.Builder
	fmt.Fprintf(&b, instructions, lang.Name)
	fmt.Fprintf(&b, "\n\nUSER QUERY: %s\n\nCONTEXT:\n", query)
	for i, c := range cands {
		if i > 0 {
			b.WriteString("\n\n")
		}
		fmt.Fprintf(&b, "%d. Title: %s\n   Themes: %s\n   Summary: %s",
			i+1, c.Book.Title(), strings.Join(c.Book.Themes(), ", "), c.Book.Summary())
	}
	b.WriteString("\n\nReturn JSON only.")
	return b.String()
}
