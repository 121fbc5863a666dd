package pipeline

import (
	"context"
	"fmt"
	"regexp"
	"strings"
	"testing"

	"github.com/kailas-cloud/librarian/internal/catalog/memory"
	"github.com/kailas-cloud/librarian/internal/domain"
	"github.com/kailas-cloud/librarian/internal/domain/book"
	"github.com/kailas-cloud/librarian/internal/match"
	"github.com/kailas-cloud/librarian/internal/usecase/classify"
	"github.com/kailas-cloud/librarian/internal/usecase/compose"
	"github.com/kailas-cloud/librarian/internal/usecase/guard"
	langsvc "github.com/kailas-cloud/librarian/internal/usecase/language"
	"github.com/kailas-cloud/librarian/internal/usecase/retrieve"
	"github.com/kailas-cloud/librarian/internal/usecase/selector"
)

var e2eModel = domain.EmbeddingModel{Name: "text-embedding-3-small", Dimensions: 3}

// keywordEmbedder maps text onto three topical axes.
type keywordEmbedder struct{}

func (keywordEmbedder) Embed(_ context.Context, text string) (domain.EmbeddingResult, error) {
	text = strings.ToLower(text)
	axes := [][]string{
		{"dystopi", "surveillance", "freedom", "censorship", "distopie", "libertate"},
		{"dragon", "magic", "quest", "hobbit"},
		{"love", "romance", "marriage"},
	}
	vec := make([]float32, len(axes))
	for i, words := range axes {
		vec[i] = 0.05
		for _, w := range words {
			vec[i] += float32(strings.Count(text, w))
		}
	}
	return domain.EmbeddingResult{Embedding: vec, TotalTokens: len(strings.Fields(text))}, nil
}

type cleanModerator struct{}

func (cleanModerator) Moderate(context.Context, string) (domain.ModerationResult, error) {
	return domain.ModerationResult{}, nil
}

var firstTitle = regexp.MustCompile(`1\. Title: (.+)`)

// scriptedModel answers each generation operation deterministically.
type scriptedModel struct {
	pick       func(prompt string) string
	selections int
}

func (m *scriptedModel) Generate(_ context.Context, req domain.GenerateRequest) (domain.Generation, error) {
	p := req.Prompt
	switch req.Operation {
	case "language":
		if strings.Contains(p, "despre") {
			return domain.Generation{Text: "ro"}, nil
		}
		return domain.Generation{Text: "en"}, nil
	case "classify":
		switch {
		case strings.Contains(p, "weather"):
			return domain.Generation{Text: `{"intent":"chit_chat","named_entity":{"text":"","type":"none"},"must_exact_match":false,"reason":"small talk"}`}, nil
		case strings.Contains(p, "Book That Does Not Exist"):
			return domain.Generation{Text: `{"intent":"book_request","named_entity":{"text":"Book That Does Not Exist","type":"title"},"must_exact_match":true,"reason":"specific title"}`}, nil
		default:
			return domain.Generation{Text: `{"intent":"book_request","named_entity":{"text":"","type":"none"},"must_exact_match":false,"reason":"theme"}`}, nil
		}
	case "select":
		m.selections++
		title := m.pick(p)
		return domain.Generation{Text: fmt.Sprintf(`{"title":%q,"reason":"It matches the themes."}`, title)}, nil
	case "compose":
		return domain.Generation{Text: "This book speaks directly to your request."}, nil
	case "rewrite":
		return domain.Generation{Text: "[tradus] " + p[strings.Index(p, "MESSAGE:\n")+len("MESSAGE:\n"):]}, nil
	}
	return domain.Generation{}, fmt.Errorf("unexpected operation %q", req.Operation)
}

func pickTop(prompt string) string {
	if m := firstTitle.FindStringSubmatch(prompt); m != nil {
		return m[1]
	}
	return ""
}

func seedCatalog(t *testing.T) *memory.Catalog {
	t.Helper()
	ctx := context.Background()
	cat := memory.New(e2eModel)
	raw := []struct {
		title, summary, author string
		themes                 []string
	}{
		{"Fahrenheit 451", f451Summary, "Ray Bradbury", []string{"surveillance", "freedom", "censorship"}},
		{"The Hobbit", "Bilbo Baggins joins a quest with dwarves to reclaim a dragon's treasure.", "J.R.R. Tolkien", []string{"quest", "magic"}},
		{"Pride and Prejudice", "Elizabeth Bennet navigates love and marriage in Regency England.", "Jane Austen", []string{"love", "romance"}},
	}
	records := make([]book.Record, 0, len(raw))
	for _, r := range raw {
		b, err := book.New(r.title, r.summary, r.themes, r.author)
		if err != nil {
			t.Fatal(err)
		}
		b = b.WithEmbeddingSource(b.Summary())
		emb, _ := keywordEmbedder{}.Embed(ctx, strings.Join(r.themes, " "))
		records = append(records, book.Record{Book: b, Vector: emb.Embedding})
	}
	gen := cat.NewGeneration()
	if err := cat.Prepare(ctx, gen); err != nil {
		t.Fatal(err)
	}
	if err := cat.Upsert(ctx, gen, records); err != nil {
		t.Fatal(err)
	}
	if _, err := cat.Activate(ctx, gen, len(records)); err != nil {
		t.Fatal(err)
	}
	return cat
}

func newE2E(t *testing.T, model *scriptedModel) (*Service, *memory.Catalog) {
	t.Helper()
	cat := seedCatalog(t)
	lang, err := langsvc.New(model, "en")
	if err != nil {
		t.Fatal(err)
	}
	gates := Gates(
		guard.NewModeration(cleanModerator{}, false),
		lang,
		guard.NewIntent(classify.New(model)),
		guard.NewExactMatch(cat, match.New(match.DefaultThreshold)),
	)
	svc := New(gates,
		retrieve.New(keywordEmbedder{}, cat, retrieve.Config{}),
		selector.New(model),
		compose.New(model),
		lang.Fallback(),
		Config{},
	)
	return svc, cat
}

func TestE2E_ThemedMatch(t *testing.T) {
	svc, cat := newE2E(t, &scriptedModel{pick: pickTop})

	resp, err := svc.Resolve(context.Background(), Request{Query: "a dystopian story about surveillance and freedom"})
	if err != nil {
		t.Fatal(err)
	}
	if resp.ChosenTitle == nil || *resp.ChosenTitle != "Fahrenheit 451" {
		t.Fatalf("chosen = %v, answer = %q", resp.ChosenTitle, resp.Answer)
	}
	if !strings.Contains(resp.Answer, "This book speaks directly to your request.") || !strings.HasSuffix(resp.Answer, f451Summary) {
		t.Errorf("answer must hold rationale and stored summary: %q", resp.Answer)
	}
	if _, err := cat.Get(context.Background(), *resp.ChosenTitle); err != nil {
		t.Errorf("chosen title must exist in the catalog verbatim: %v", err)
	}
	if !resp.CheckInvariant() {
		t.Error("chosen title must be in context_used")
	}
}

func TestE2E_LanguageFidelity(t *testing.T) {
	svc, _ := newE2E(t, &scriptedModel{pick: func(string) string { return "" }})

	resp, err := svc.Resolve(context.Background(), Request{Query: "o poveste despre libertate"})
	if err != nil {
		t.Fatal(err)
	}
	if resp.Language.Code != "ro" {
		t.Errorf("language = %+v", resp.Language)
	}
	if !strings.HasPrefix(resp.Answer, "[tradus] ") {
		t.Errorf("decline not rewritten into the query language: %q", resp.Answer)
	}
}

func TestE2E_HallucinatedTitleDeclines(t *testing.T) {
	model := &scriptedModel{pick: func(string) string { return "Brave New World" }}
	svc, _ := newE2E(t, model)

	resp, err := svc.Resolve(context.Background(), Request{Query: "a dystopian story about surveillance"})
	if err != nil {
		t.Fatal(err)
	}
	if model.selections != 1 {
		t.Fatalf("selector calls = %d", model.selections)
	}
	if resp.ChosenTitle != nil || resp.DeclineReason != domain.DeclineNoFit {
		t.Errorf("hallucinated pick must decline: %+v", resp)
	}
}

func TestE2E_AbsentTitle(t *testing.T) {
	model := &scriptedModel{pick: pickTop}
	svc, _ := newE2E(t, model)

	resp, err := svc.Resolve(context.Background(), Request{Query: "Do you have 'Book That Does Not Exist' by Nobody?"})
	if err != nil {
		t.Fatal(err)
	}
	if resp.ChosenTitle != nil || resp.DeclineReason != domain.DeclineAbsentEntity {
		t.Errorf("unexpected response: %+v", resp)
	}
	if !strings.Contains(resp.Answer, "'Book That Does Not Exist'") {
		t.Errorf("entity not echoed: %q", resp.Answer)
	}
	if model.selections != 0 {
		t.Error("absent entity must not reach the selector")
	}
}

func TestE2E_OffTopicCarriesNoSummary(t *testing.T) {
	svc, _ := newE2E(t, &scriptedModel{pick: pickTop})

	resp, err := svc.Resolve(context.Background(), Request{Query: "what's the weather like?"})
	if err != nil {
		t.Fatal(err)
	}
	if resp.ChosenTitle != nil || strings.Contains(resp.Answer, f451Summary) {
		t.Errorf("unexpected response: %+v", resp)
	}
}
