package pipeline

import (
	"context"
	"strings"

	"github.com/kailas-cloud/librarian/internal/domain"
	"github.com/kailas-cloud/librarian/internal/domain/book"
)

type guardFunc func(ctx context.Context, qc *domain.QueryContext) domain.Verdict

func (f guardFunc) Evaluate(ctx context.Context, qc *domain.QueryContext) domain.Verdict {
	return f(ctx, qc)
}

func pass(context.Context, *domain.QueryContext) domain.Verdict { return domain.Continue() }

type stubDetector struct {
	lang domain.Language
}

func (d stubDetector) Detect(context.Context, string) domain.Language { return d.lang }
func (d stubDetector) Fallback() domain.Language                      { return english }

type stubRetriever struct {
	cands []book.Candidate
	err   error
	kErr  error
	calls int
}

func (r *stubRetriever) ResolveK(k int) (int, error) {
	if r.kErr != nil {
		return 0, r.kErr
	}
	if k == 0 {
		return 3, nil
	}
	return k, nil
}

func (r *stubRetriever) Retrieve(context.Context, string, int) ([]book.Candidate, error) {
	r.calls++
	return r.cands, r.err
}

type stubSelector struct {
	selectFn func(ctx context.Context, cands []book.Candidate) (domain.Choice, bool, error)
	calls    int
}

func (s *stubSelector) Select(ctx context.Context, _ string, _ domain.Language, cands []book.Candidate) (domain.Choice, bool, error) {
	s.calls++
	if s.selectFn != nil {
		return s.selectFn(ctx, cands)
	}
	return domain.Choice{Title: cands[0].Book.Title(), Reason: "first"}, true, nil
}

type stubComposer struct {
	err error
}

func (c *stubComposer) Compose(_ context.Context, b book.Book, _ string, _ domain.Language, reason string) (string, error) {
	if c.err != nil {
		return "", c.err
	}
	return reason + "\n\n" + b.Summary(), nil
}

func (c *stubComposer) Decline(_ context.Context, reason domain.DeclineReason, lang domain.Language, entity string) string {
	return strings.Join([]string{"decline", string(reason), lang.Code, entity}, ":")
}

var (
	english  = domain.Language{Code: "en", Name: "English"}
	romanian = domain.Language{Code: "ro", Name: "Romanian"}
)

const f451Summary = "Guy Montag, a fireman who burns books, begins to question a society that fears ideas."

func catalogCandidates() []book.Candidate {
	return []book.Candidate{
		{Book: book.Reconstruct("Fahrenheit 451", f451Summary, []string{"surveillance", "freedom"}, "Ray Bradbury", f451Summary), Score: 0.82},
		{Book: book.Reconstruct("1984", "Winston Smith lives under Big Brother.", []string{"totalitarianism"}, "George Orwell", ""), Score: 0.79},
	}
}

// harness wires the pipeline with passing stubs that tests override.
type harness struct {
	moderation guardFunc
	intent     guardFunc
	exact      guardFunc
	lang       domain.Language
	retriever  *stubRetriever
	selector   *stubSelector
	composer   *stubComposer
	cfg        Config
}

func newHarness() *harness {
	return &harness{
		moderation: pass,
		intent:     pass,
		exact:      pass,
		lang:       english,
		retriever:  &stubRetriever{cands: catalogCandidates()},
		selector:   &stubSelector{},
		composer:   &stubComposer{},
	}
}

func (h *harness) service() *Service {
	gates := Gates(h.moderation, stubDetector{lang: h.lang}, h.intent, h.exact)
	return New(gates, h.retriever, h.selector, h.composer, english, h.cfg)
}
