package guard

import (
	"context"
	"errors"
	"testing"

	"github.com/kailas-cloud/librarian/internal/domain"
	"github.com/kailas-cloud/librarian/internal/match"
)

// --- Mocks ---

type mockModerator struct {
	res domain.ModerationResult
	err error
}

func (m *mockModerator) Moderate(_ context.Context, _ string) (domain.ModerationResult, error) {
	return m.res, m.err
}

type mockClassifier struct {
	c   domain.Classification
	err error
}

func (m *mockClassifier) Classify(_ context.Context, _ string) (domain.Classification, error) {
	return m.c, m.err
}

type mockNames struct {
	titles      []string
	authors     []string
	err         error
	calls       int
	authorCalls int
}

func (m *mockNames) Titles(_ context.Context) ([]string, error) {
	m.calls++
	return m.titles, m.err
}

func (m *mockNames) Authors(_ context.Context) ([]string, error) {
	m.authorCalls++
	return m.authors, m.err
}

// --- Moderation ---

func TestModerationGuard(t *testing.T) {
	tests := []struct {
		name     string
		mod      *mockModerator
		failOpen bool
		want     domain.DeclineReason
		passed   bool
	}{
		{"clean", &mockModerator{}, false, domain.DeclineNone, true},
		{"flagged", &mockModerator{res: domain.ModerationResult{Flagged: true}}, false, domain.DeclineModeration, false},
		{"outage fails closed", &mockModerator{err: domain.ErrUpstreamUnavailable}, false, domain.DeclineUpstream, false},
		{"outage fails open", &mockModerator{err: domain.ErrUpstreamUnavailable}, true, domain.DeclineNone, true},
		{"quota never fails open", &mockModerator{err: domain.ErrEmbeddingQuotaExceeded}, true, domain.DeclineQuotaExceeded, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			qc := &domain.QueryContext{RawQuery: "q"}
			v := NewModeration(tt.mod, tt.failOpen).Evaluate(context.Background(), qc)
			if v.Decline != tt.want {
				t.Errorf("Decline = %q, expected %q", v.Decline, tt.want)
			}
			if qc.ModerationPassed != tt.passed {
				t.Errorf("ModerationPassed = %v, expected %v", qc.ModerationPassed, tt.passed)
			}
		})
	}
}

// --- Intent ---

func TestIntentGuard_BookRequest(t *testing.T) {
	c := domain.Classification{Intent: domain.IntentBookRequest, Reason: "theme"}
	qc := &domain.QueryContext{RawQuery: "something hopeful"}

	v := NewIntent(&mockClassifier{c: c}).Evaluate(context.Background(), qc)
	if !v.Passed() {
		t.Fatalf("expected pass, got %+v", v)
	}
	if !qc.IsBookIntent || qc.Classification.Reason != "theme" {
		t.Errorf("classification not stored: %+v", qc)
	}
}

func TestIntentGuard_OffTopic(t *testing.T) {
	for _, intent := range []domain.Intent{domain.IntentChitChat, domain.IntentOther} {
		qc := &domain.QueryContext{RawQuery: "hello there"}
		v := NewIntent(&mockClassifier{c: domain.Classification{Intent: intent}}).Evaluate(context.Background(), qc)
		if v.Decline != domain.DeclineOffTopic {
			t.Errorf("intent %q: Decline = %q", intent, v.Decline)
		}
		if qc.IsBookIntent {
			t.Errorf("intent %q must not be a book intent", intent)
		}
	}
}

func TestIntentGuard_Error(t *testing.T) {
	v := NewIntent(&mockClassifier{err: domain.ErrUpstreamUnavailable}).Evaluate(context.Background(), &domain.QueryContext{})
	if v.Decline != domain.DeclineUpstream || !errors.Is(v.Err, domain.ErrUpstreamUnavailable) {
		t.Errorf("unexpected verdict: %+v", v)
	}
}

// --- Exact match ---

func exactQC(text string, typ domain.EntityType, must bool) *domain.QueryContext {
	return &domain.QueryContext{Classification: domain.Classification{
		Intent:         domain.IntentBookRequest,
		Entity:         domain.Entity{Text: text, Type: typ},
		MustExactMatch: must,
	}}
}

func TestExactMatchGuard(t *testing.T) {
	names := &mockNames{
		titles:  []string{"The Hobbit", "Becoming"},
		authors: []string{"J.R.R. Tolkien", "Michelle Obama"},
	}
	g := NewExactMatch(names, match.New(match.DefaultThreshold))

	tests := []struct {
		name string
		qc   *domain.QueryContext
		want domain.DeclineReason
	}{
		{"present title", exactQC("the hobbit", domain.EntityTitle, true), domain.DeclineNone},
		{"present author by surname", exactQC("Tolkien", domain.EntityAuthor, true), domain.DeclineNone},
		{"present person", exactQC("Michelle Obama", domain.EntityPerson, true), domain.DeclineNone},
		{"absent person", exactQC("Barack Obama Sr.", domain.EntityPerson, true), domain.DeclineAbsentEntity},
		{"absent title", exactQC("Harry Potter", domain.EntityTitle, true), domain.DeclineAbsentEntity},
		{"not required", exactQC("Harry Potter", domain.EntityTitle, false), domain.DeclineNone},
		{"no entity", exactQC("", domain.EntityNone, true), domain.DeclineNone},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			v := g.Evaluate(context.Background(), tt.qc)
			if v.Decline != tt.want {
				t.Errorf("Decline = %q, expected %q", v.Decline, tt.want)
			}
			if tt.want == domain.DeclineAbsentEntity && v.Entity != tt.qc.Classification.Entity.Text {
				t.Errorf("Entity = %q, expected echo of %q", v.Entity, tt.qc.Classification.Entity.Text)
			}
		})
	}
}

// Сущность сверяется только со списком своего типа.
func TestExactMatchGuard_MatchesByEntityType(t *testing.T) {
	names := &mockNames{
		titles:  []string{"Becoming", "The Hobbit"},
		authors: []string{"Frank Herbert", "Michelle Obama"},
	}
	g := NewExactMatch(names, match.New(match.DefaultThreshold))

	tests := []struct {
		name string
		qc   *domain.QueryContext
		want domain.DeclineReason
	}{
		{"title equal to an author surname", exactQC("Herbert", domain.EntityTitle, true), domain.DeclineAbsentEntity},
		{"author equal to a title", exactQC("Becoming", domain.EntityAuthor, true), domain.DeclineAbsentEntity},
		{"author by surname", exactQC("Herbert", domain.EntityAuthor, true), domain.DeclineNone},
		{"person falls back to titles", exactQC("Hobbit", domain.EntityPerson, true), domain.DeclineNone},
		{"person among authors", exactQC("Michelle Obama", domain.EntityPerson, true), domain.DeclineNone},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if v := g.Evaluate(context.Background(), tt.qc); v.Decline != tt.want {
				t.Errorf("Decline = %q, expected %q", v.Decline, tt.want)
			}
		})
	}
}

func TestExactMatchGuard_TitleSkipsAuthors(t *testing.T) {
	names := &mockNames{titles: []string{"Dune"}, authors: []string{"Frank Herbert"}}
	g := NewExactMatch(names, match.New(0))

	if v := g.Evaluate(context.Background(), exactQC("Dune", domain.EntityTitle, true)); v.Decline != domain.DeclineNone {
		t.Fatalf("Decline = %q", v.Decline)
	}
	if names.authorCalls != 0 {
		t.Errorf("authors must not be read for a title, got %d calls", names.authorCalls)
	}
}

func TestExactMatchGuard_SkipsCatalogWhenNotRequired(t *testing.T) {
	names := &mockNames{}
	g := NewExactMatch(names, match.New(0))

	g.Evaluate(context.Background(), exactQC("Dune", domain.EntityTitle, false))
	if names.calls != 0 {
		t.Errorf("catalog must not be read, got %d calls", names.calls)
	}
}

func TestExactMatchGuard_CatalogErrors(t *testing.T) {
	empty := NewExactMatch(&mockNames{err: domain.ErrCatalogEmpty}, match.New(0))
	if v := empty.Evaluate(context.Background(), exactQC("Dune", domain.EntityTitle, true)); v.Decline != domain.DeclineAbsentEntity {
		t.Errorf("empty catalog: Decline = %q", v.Decline)
	}

	down := NewExactMatch(&mockNames{err: errors.New("conn refused")}, match.New(0))
	if v := down.Evaluate(context.Background(), exactQC("Dune", domain.EntityTitle, true)); v.Decline != domain.DeclineUpstream {
		t.Errorf("store error: Decline = %q", v.Decline)
	}
}
