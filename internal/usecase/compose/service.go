// Package compose renders recommendation answers and decline messages in the
// request language.
package compose

import (
	"context"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"github.com/kailas-cloud/librarian/internal/domain"
	"github.com/kailas-cloud/librarian/internal/domain/book"
	"github.com/kailas-cloud/librarian/internal/logger"
)

// MaxRationaleWords caps the model-written part of an answer.
const MaxRationaleWords = 80

const rationalePrompt = "Write a concise rationale in %s, at most %d words, explaining why the book " +
	"\"%s\" fits the USER QUERY. Mention the title once and tie it to the book's themes. " +
	"Do not retell the summary; it is appended separately. Return PLAIN TEXT only.\n\n" +
	"USER QUERY: %s\n\nTITLE: %s\nTHEMES: %s\nSELECTION NOTE: %s\n\nSUMMARY:\n%s"

const rewritePrompt = "Return the following message in %s.\n" +
	"Rules:\n" +
	"- Preserve ALL content and examples exactly; do NOT shorten or summarize.\n" +
	"- Keep punctuation and parenthetical examples intact.\n" +
	"- Do not add headings or extra labels. Return PLAIN TEXT only.\n\n" +
	"MESSAGE:\n%s"

// Service composes answers.
type Service struct {
	gen Generator
}

// New creates a Service.
func New(gen Generator) *Service {
	return &Service{gen: gen}
}

// Compose returns "{rationale}\n\n{summary}" where the summary is the stored
// text verbatim. If the rationale call fails, the selector's reason stands in
// for it; with no reason either, the error is returned.
func (s *Service) Compose(
	ctx context.Context, b book.Book, query string, lang domain.Language, reason string,
) (string, error) {
	out, err := s.gen.Generate(ctx, domain.GenerateRequest{
		Operation: "compose",
		Prompt: fmt.Sprintf(rationalePrompt,
			lang.Name, MaxRationaleWords, b.Title(),
			query, b.Title(), strings.Join(b.Themes(), ", "), reason, b.Summary()),
		Temperature: 0.4,
		MaxTokens:   300,
	})

	rationale := ""
	switch {
	case err == nil:
		rationale = out.Text
	case strings.TrimSpace(reason) != "":
		logger.FromContext(ctx).Warn("compose_degraded", zap.Error(err))
		rationale = reason
	default:
		return "", fmt.Errorf("compose: %w", err)
	}

	rationale = truncateWords(strings.TrimSpace(rationale), MaxRationaleWords)
	if rationale == "" {
		return b.Summary(), nil
	}
	return rationale + "\n\n" + b.Summary(), nil
}

// Decline returns the decline message for reason in lang. It never fails:
// upstream and quota declines, and failed rewrites, use the static apology.
func (s *Service) Decline(ctx context.Context, reason domain.DeclineReason, lang domain.Language, entity string) string {
	msg, ok := englishDecline(reason, entity)
	if !ok {
		return Apology(lang.Code)
	}
	if lang.Code == "" || lang.Code == "en" {
		return msg
	}

	out, err := s.gen.Generate(ctx, domain.GenerateRequest{
		Operation: "rewrite",
		Prompt:    fmt.Sprintf(rewritePrompt, lang.Name, msg),
		MaxTokens: 800,
	})
	if err != nil || strings.TrimSpace(out.Text) == "" {
		logger.FromContext(ctx).Warn("Decline rewrite failed",
			zap.String("language", lang.Code),
			zap.String("decline_reason", string(reason)),
			zap.Error(err),
		)
		return Apology(lang.Code)
	}
	return strings.TrimSpace(out.Text)
}

// truncateWords keeps at most n whitespace-separated words.
func truncateWords(s string, n int) string {
	words := strings.Fields(s)
	if len(words) <= n {
		return s
	}
	return strings.Join(words[:n], " ") + "…"
}
