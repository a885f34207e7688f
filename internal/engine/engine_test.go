package engine

import (
	"context"
	"errors"
	"fmt"
	"reflect"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/Yates-Labs/knowhow/internal/evidence"
	"github.com/Yates-Labs/knowhow/internal/graph"
	"github.com/Yates-Labs/knowhow/internal/narrative"
	"github.com/Yates-Labs/knowhow/internal/rag"
)

// mockStore implements graph.Store for testing
type mockStore struct {
	runFunc      func(ctx context.Context, template graph.TemplateID, params graph.Params) ([]graph.Row, error)
	entitiesFunc func(ctx context.Context) (graph.Entities, error)
	calls        atomic.Int32
}

func (m *mockStore) Run(ctx context.Context, template graph.TemplateID, params graph.Params) ([]graph.Row, error) {
	m.calls.Add(1)
	if m.runFunc != nil {
		return m.runFunc(ctx, template, params)
	}
	return nil, nil
}

func (m *mockStore) KnownEntities(ctx context.Context) (graph.Entities, error) {
	if m.entitiesFunc != nil {
		return m.entitiesFunc(ctx)
	}
	return graph.Entities{}, nil
}

func (m *mockStore) Close() error { return nil }

// mockIndex implements rag.Index for testing
type mockIndex struct {
	nearestFunc func(ctx context.Context, text string, k int) ([]rag.Match, error)
	calls       atomic.Int32
}

func (m *mockIndex) Nearest(ctx context.Context, text string, k int) ([]rag.Match, error) {
	m.calls.Add(1)
	if m.nearestFunc != nil {
		return m.nearestFunc(ctx, text, k)
	}
	return nil, nil
}

var march = time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC)

func knownEntities() *graph.Entities {
	return &graph.Entities{
		Contributors: []graph.ContributorName{{Handle: "jane", Name: "Jane"}},
		Technologies: []string{"gRPC", "React"},
	}
}

// grpcStore returns C1 for the gRPC changeset template only
func grpcStore() *mockStore {
	return &mockStore{
		runFunc: func(_ context.Context, template graph.TemplateID, params graph.Params) ([]graph.Row, error) {
			if template == graph.TemplateTechnologyChangesets && params.Technology == "gRPC" {
				return []graph.Row{{
					ChangesetID:       "C1",
					ContributorHandle: "jane",
					ContributorName:   "Jane",
					Title:             "Add gRPC retry logic",
					Snippet:           "Add gRPC retry logic",
					CreatedAt:         march,
					ScoreHint:         1.0,
					Technologies:      []string{"gRPC"},
				}}, nil
			}
			return nil, nil
		},
	}
}

func grpcIndex() *mockIndex {
	return &mockIndex{
		nearestFunc: func(_ context.Context, _ string, _ int) ([]rag.Match, error) {
			return []rag.Match{
				{ArtifactID: "C1", Score: 0.82, Snippet: "Title: Add gRPC retry logic"},
				{ArtifactID: "C2", Score: 0.75, Snippet: "Title: gRPC health checks"},
			}, nil
		},
	}
}

func newTestEngine(t *testing.T, config Config, store graph.Store, index rag.Index, llm narrative.LLM) *Engine {
	t.Helper()
	deps := Deps{
		Store:     store,
		Index:     index,
		LLM:       llm,
		LLMConfig: narrative.LLMConfig{Provider: narrative.ProviderMock, Model: "mock"},
		Entities:  knownEntities(),
	}
	eng, err := New(context.Background(), config, deps)
	if err != nil {
		t.Fatalf("failed to create engine: %v", err)
	}
	return eng
}

func TestEngine_Ask_GRPCScenario(t *testing.T) {
	llm := narrative.NewMockLLM("Jane added gRPC retry logic [E1]; see also [E2].")
	eng := newTestEngine(t, DefaultConfig(), grpcStore(), grpcIndex(), llm)

	result, err := eng.Ask(context.Background(), "Who worked on gRPC services?")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	items := result.Bundle.Items
	if len(items) != 2 {
		t.Fatalf("expected 2 evidence items, got %d: %+v", len(items), items)
	}
	if items[0].Key != "C1" || items[0].Score != 1.0 || items[0].Sources != evidence.Structured|evidence.Semantic {
		t.Errorf("unexpected first item: %+v", items[0])
	}
	if items[1].Key != "C2" || items[1].Score != 0.75 || items[1].Sources != evidence.Semantic {
		t.Errorf("unexpected second item: %+v", items[1])
	}

	if result.Answer == nil {
		t.Fatal("expected an answer")
	}
	if want := []string{"C1", "C2"}; !reflect.DeepEqual(result.Answer.CitedEvidenceIDs, want) {
		t.Errorf("cited = %v, want %v", result.Answer.CitedEvidenceIDs, want)
	}
	if llm.Calls() != 1 {
		t.Errorf("expected one model call, got %d", llm.Calls())
	}
	if result.Report.Degraded() {
		t.Errorf("unexpected failures: %+v", result.Report.Failures)
	}
}

func TestEngine_Ask_NoEvidence(t *testing.T) {
	tests := []struct {
		name  string
		store *mockStore
		index *mockIndex
	}{
		{
			name:  "both sources empty",
			store: &mockStore{},
			index: &mockIndex{},
		},
		{
			name: "both sources fail",
			store: &mockStore{runFunc: func(context.Context, graph.TemplateID, graph.Params) ([]graph.Row, error) {
				return nil, graph.ErrStoreUnavailable
			}},
			index: &mockIndex{nearestFunc: func(context.Context, string, int) ([]rag.Match, error) {
				return nil, rag.ErrIndexUnavailable
			}},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			llm := narrative.NewMockLLM("should not be called")
			eng := newTestEngine(t, DefaultConfig(), tt.store, tt.index, llm)

			result, err := eng.Ask(context.Background(), "Who worked on gRPC services?")
			if !errors.Is(err, ErrNoEvidenceAvailable) {
				t.Fatalf("expected ErrNoEvidenceAvailable, got %v", err)
			}
			if llm.Calls() != 0 {
				t.Error("model must not be called without evidence")
			}
			if result == nil || result.Answer != nil {
				t.Error("expected a partial result without an answer")
			}
		})
	}
}

func TestEngine_Ask_StructuredRetry(t *testing.T) {
	var attempts atomic.Int32
	store := &mockStore{runFunc: func(_ context.Context, template graph.TemplateID, _ graph.Params) ([]graph.Row, error) {
		if template != graph.TemplateTechnologyChangesets {
			return nil, nil
		}
		if attempts.Add(1) == 1 {
			return nil, fmt.Errorf("%w: connection reset", graph.ErrStoreUnavailable)
		}
		return []graph.Row{{ChangesetID: "C1", Title: "t", ScoreHint: 1}}, nil
	}}

	eng := newTestEngine(t, DefaultConfig(), store, &mockIndex{}, narrative.NewMockLLM("ok [E1]"))
	result, err := eng.Ask(context.Background(), "gRPC?")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if attempts.Load() != 2 {
		t.Errorf("expected 2 attempts, got %d", attempts.Load())
	}
	if result.Bundle.Len() != 1 || result.Report.Degraded() {
		t.Errorf("expected retried request to contribute, got %+v", result.Report)
	}
}

func TestEngine_Ask_RetryConfig(t *testing.T) {
	tests := []struct {
		name         string
		retries      int
		wantAttempts int32
	}{
		{"zero value uses default", 0, 2},
		{"explicit retries", 2, 3},
		{"disabled", NoRetry, 1},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var attempts atomic.Int32
			store := &mockStore{runFunc: func(_ context.Context, template graph.TemplateID, _ graph.Params) ([]graph.Row, error) {
				if template == graph.TemplateTechnologyChangesets {
					attempts.Add(1)
					return nil, graph.ErrStoreUnavailable
				}
				return nil, nil
			}}

			eng := newTestEngine(t, Config{StructuredRetries: tt.retries}, store, grpcIndex(), narrative.NewMockLLM("ok [E1]"))
			if _, err := eng.Ask(context.Background(), "gRPC?"); err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if attempts.Load() != tt.wantAttempts {
				t.Errorf("expected %d attempts, got %d", tt.wantAttempts, attempts.Load())
			}
		})
	}
}

func TestEngine_Ask_EnrichesSemanticOnlyMatches(t *testing.T) {
	var lookedUp []string
	var mu sync.Mutex
	store := grpcStore()
	base := store.runFunc
	store.runFunc = func(ctx context.Context, template graph.TemplateID, params graph.Params) ([]graph.Row, error) {
		if template != graph.TemplateChangesetsByID {
			return base(ctx, template, params)
		}
		mu.Lock()
		lookedUp = append(lookedUp, params.IDs...)
		mu.Unlock()
		return []graph.Row{{
			ChangesetID:       "C2",
			ContributorHandle: "bob",
			ContributorName:   "Bob",
			Title:             "gRPC health checks",
			URL:               "https://github.com/acme/api/pull/2",
			CreatedAt:         march,
			ScoreHint:         1.0,
			Technologies:      []string{"Go", "gRPC"},
		}}, nil
	}

	eng := newTestEngine(t, DefaultConfig(), store, grpcIndex(), narrative.NewMockLLM("Bob [E2]"))
	result, err := eng.Ask(context.Background(), "Who worked on gRPC services?")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if !reflect.DeepEqual(lookedUp, []string{"C2"}) {
		t.Errorf("expected only the semantic-only match to be looked up, got %v", lookedUp)
	}
	if result.Report.Enriched != 1 || result.Report.EnrichmentError != "" {
		t.Errorf("unexpected enrichment report: %+v", result.Report)
	}

	c2, ok := result.Bundle.Lookup("E2")
	if !ok {
		t.Fatalf("expected E2 in bundle: %+v", result.Bundle.Items)
	}
	if c2.Key != "C2" || c2.Sources != evidence.Semantic || c2.Score != 0.75 {
		t.Errorf("enrichment changed ranking fields: %+v", c2)
	}
	if c2.Title != "gRPC health checks" || c2.URL == "" || c2.Author != "Bob (@bob)" || len(c2.Technologies) != 2 {
		t.Errorf("expected graph metadata on the semantic item, got %+v", c2)
	}
}

func TestEngine_Ask_PartialFailureDegrades(t *testing.T) {
	store := &mockStore{runFunc: func(context.Context, graph.TemplateID, graph.Params) ([]graph.Row, error) {
		return nil, fmt.Errorf("%w: syntax error", graph.ErrQuery)
	}}
	index := grpcIndex()

	eng := newTestEngine(t, DefaultConfig(), store, index, narrative.NewMockLLM("ok [E1]"))
	result, err := eng.Ask(context.Background(), "Who worked on gRPC services?")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	structuredFailures := result.Report.FailuresFor(SourceStructured)
	if len(structuredFailures) != result.Report.StructuredRequests {
		t.Errorf("expected every structured request to fail, got %d of %d", len(structuredFailures), result.Report.StructuredRequests)
	}
	for _, f := range structuredFailures {
		if f.Attempts != 2 {
			t.Errorf("expected 2 attempts for %s, got %d", f.Request, f.Attempts)
		}
	}
	// one extra call looks up metadata for the semantic matches
	if int(store.calls.Load()) != 2*result.Report.StructuredRequests+1 {
		t.Errorf("expected each structured request to be retried once, got %d calls", store.calls.Load())
	}
	if result.Report.EnrichmentError == "" {
		t.Error("expected the failed metadata lookup to be reported")
	}
	if result.Bundle.Len() != 2 {
		t.Errorf("expected semantic evidence only, got %d items", result.Bundle.Len())
	}
}

func TestEngine_Ask_SemanticNotRetried(t *testing.T) {
	index := &mockIndex{nearestFunc: func(context.Context, string, int) ([]rag.Match, error) {
		return nil, rag.ErrIndexUnavailable
	}}

	eng := newTestEngine(t, DefaultConfig(), grpcStore(), index, narrative.NewMockLLM("ok [E1]"))
	result, err := eng.Ask(context.Background(), "Who worked on gRPC services?")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if int(index.calls.Load()) != result.Report.SemanticRequests {
		t.Errorf("expected one call per semantic request, got %d for %d", index.calls.Load(), result.Report.SemanticRequests)
	}
	for _, f := range result.Report.FailuresFor(SourceSemantic) {
		if f.Attempts != 1 {
			t.Errorf("semantic request %s was retried", f.Request)
		}
	}
	if result.Bundle.Len() != 1 || result.Bundle.Items[0].Sources != evidence.Structured {
		t.Errorf("expected structured-only evidence, got %+v", result.Bundle.Items)
	}
}

func TestEngine_Ask_StructuredTimeout(t *testing.T) {
	store := &mockStore{runFunc: func(ctx context.Context, _ graph.TemplateID, _ graph.Params) ([]graph.Row, error) {
		<-ctx.Done()
		return nil, fmt.Errorf("%w: %v", graph.ErrStoreUnavailable, ctx.Err())
	}}

	config := DefaultConfig()
	config.StructuredTimeout = 10 * time.Millisecond

	eng := newTestEngine(t, config, store, grpcIndex(), narrative.NewMockLLM("ok [E1]"))

	start := time.Now()
	result, err := eng.Ask(context.Background(), "Who worked on gRPC services?")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if elapsed := time.Since(start); elapsed > 5*time.Second {
		t.Errorf("timed-out calls blocked the question for %v", elapsed)
	}
	if len(result.Report.FailuresFor(SourceStructured)) == 0 {
		t.Error("expected timed-out structured requests to be reported")
	}
	if result.Answer == nil {
		t.Error("expected an answer from semantic evidence")
	}
}

func TestEngine_Ask_ModelFailures(t *testing.T) {
	t.Run("unavailable", func(t *testing.T) {
		llm := narrative.NewMockLLMWithError(fmt.Errorf("%w: 503", narrative.ErrModelUnavailable))
		eng := newTestEngine(t, DefaultConfig(), grpcStore(), grpcIndex(), llm)

		result, err := eng.Ask(context.Background(), "Who worked on gRPC services?")
		if !errors.Is(err, narrative.ErrModelUnavailable) {
			t.Fatalf("expected ErrModelUnavailable, got %v", err)
		}
		if result == nil || result.Bundle.Empty() {
			t.Error("expected the evidence to be returned alongside the failure")
		}
	})

	t.Run("timeout", func(t *testing.T) {
		llm := &narrative.MockLLM{GenerateFunc: func(ctx context.Context, _ string) (string, error) {
			<-ctx.Done()
			return "", ctx.Err()
		}}
		config := DefaultConfig()
		config.ModelTimeout = 10 * time.Millisecond
		eng := newTestEngine(t, config, grpcStore(), grpcIndex(), llm)

		if _, err := eng.Ask(context.Background(), "Who worked on gRPC services?"); !errors.Is(err, narrative.ErrModelUnavailable) {
			t.Fatalf("expected ErrModelUnavailable, got %v", err)
		}
	})

	t.Run("refusal", func(t *testing.T) {
		eng := newTestEngine(t, DefaultConfig(), grpcStore(), grpcIndex(), narrative.NewMockLLM("insufficient evidence"))

		result, err := eng.Ask(context.Background(), "Who worked on gRPC services?")
		if err != nil {
			t.Fatalf("refusal must not be an error: %v", err)
		}
		if !result.Answer.Refused || result.Answer.Text != "insufficient evidence" {
			t.Errorf("expected verbatim refusal, got %+v", result.Answer)
		}
	})
}

func TestEngine_Ask_EmptyQuestion(t *testing.T) {
	llm := narrative.NewMockLLM("x")
	eng := newTestEngine(t, DefaultConfig(), grpcStore(), grpcIndex(), llm)

	if _, err := eng.Ask(context.Background(), "  \t"); !errors.Is(err, ErrEmptyQuestion) {
		t.Errorf("expected ErrEmptyQuestion, got %v", err)
	}
	if llm.Calls() != 0 {
		t.Error("model must not be called for an empty question")
	}
}

func TestEngine_Ask_Concurrent(t *testing.T) {
	eng := newTestEngine(t, DefaultConfig(), grpcStore(), grpcIndex(), narrative.NewMockLLM(""))

	var wg sync.WaitGroup
	errs := make(chan error, 16)
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			result, err := eng.Ask(context.Background(), "Who worked on gRPC services?")
			if err != nil {
				errs <- err
				return
			}
			if result.Bundle.Len() != 2 {
				errs <- fmt.Errorf("unexpected bundle size %d", result.Bundle.Len())
			}
		}()
	}
	wg.Wait()
	close(errs)

	for err := range errs {
		t.Error(err)
	}
}

func TestNew(t *testing.T) {
	llm := narrative.NewMockLLM("x")

	if _, err := New(context.Background(), DefaultConfig(), Deps{Store: &mockStore{}}); !errors.Is(err, ErrInvalidConfig) {
		t.Errorf("expected ErrInvalidConfig without LLM, got %v", err)
	}
	if _, err := New(context.Background(), DefaultConfig(), Deps{LLM: llm}); !errors.Is(err, ErrInvalidConfig) {
		t.Errorf("expected ErrInvalidConfig without sources, got %v", err)
	}

	store := &mockStore{entitiesFunc: func(context.Context) (graph.Entities, error) {
		return *knownEntities(), nil
	}}
	eng, err := NewFromStores(context.Background(), DefaultConfig(), store, nil, llm, narrative.LLMConfig{})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if c, tech := eng.Entities(); c != 1 || tech != 2 {
		t.Errorf("expected entities loaded from store, got %d contributors and %d technologies", c, tech)
	}

	failing := &mockStore{entitiesFunc: func(context.Context) (graph.Entities, error) {
		return graph.Entities{}, graph.ErrStoreUnavailable
	}}
	eng, err = NewFromStores(context.Background(), DefaultConfig(), failing, &mockIndex{}, llm, narrative.LLMConfig{})
	if err != nil {
		t.Fatalf("entity load failure should degrade, got %v", err)
	}
	if plan := eng.Plan("Who worked on gRPC services?"); len(plan.Structured) != 0 || len(plan.Semantic) != 1 {
		t.Errorf("expected semantic-only plan, got %+v", plan)
	}
}
