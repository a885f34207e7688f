package planner

import (
	"testing"
	"time"

	"github.com/Yates-Labs/knowhow/internal/graph"
)

var fixedNow = time.Date(2024, 6, 15, 10, 30, 0, 0, time.UTC)

func testEntities() Entities {
	return NewEntities(graph.Entities{
		Contributors: []graph.ContributorName{
			{Handle: "jane", Name: "Jane Doe"},
			{Handle: "bsmith", Name: "Bob Smith"},
			{Handle: "doe"},
		},
		Technologies: []string{"gRPC", "React", "Go", "Next.js", "C++", "Protocol Buffers", "Protocol", "Vite"},
	})
}

func newTestPlanner() *Planner {
	return New(testEntities(), DefaultConfig(), func() time.Time { return fixedNow })
}

func hasRequest(plan Plan, template graph.TemplateID, match func(graph.Params) bool) bool {
	for _, r := range plan.Structured {
		if r.Template == template && match(r.Params) {
			return true
		}
	}
	return false
}

func TestPlan_ContributorAndTechnologyPair(t *testing.T) {
	plan := newTestPlanner().Plan("What has Jane Doe built with gRPC?")

	if len(plan.Contributors) != 1 || plan.Contributors[0] != "jane" {
		t.Fatalf("expected contributor jane, got %v", plan.Contributors)
	}
	if len(plan.Technologies) != 1 || plan.Technologies[0] != "gRPC" {
		t.Fatalf("expected technology gRPC, got %v", plan.Technologies)
	}

	pair := hasRequest(plan, graph.TemplateContributorTechnologyChangesets, func(p graph.Params) bool {
		return p.Contributor == "jane" && p.Technology == "gRPC"
	})
	if !pair {
		t.Errorf("expected a structured request carrying both contributor and technology, got %v", plan.Structured)
	}

	for _, r := range plan.Structured {
		if err := graph.Validate(r.Template, r.Params); err != nil {
			t.Errorf("planner emitted invalid request %s: %v", r, err)
		}
	}
}

func TestPlan_AlwaysHasFullQuestionSemanticQuery(t *testing.T) {
	tests := []string{
		"Who worked on gRPC services?",
		"who understands the billing pipeline",
		"What did jane do?",
	}

	for _, q := range tests {
		t.Run(q, func(t *testing.T) {
			plan := newTestPlanner().Plan(q)
			if len(plan.Semantic) == 0 {
				t.Fatal("expected at least one semantic request")
			}
			if plan.Semantic[0].Text != q || plan.Semantic[0].K != 8 {
				t.Errorf("expected full-question request with k=8, got %+v", plan.Semantic[0])
			}
		})
	}
}

func TestPlan_NoEntitiesDegradesToSemanticOnly(t *testing.T) {
	plan := newTestPlanner().Plan("who understands the billing pipeline")

	if len(plan.Structured) != 0 {
		t.Errorf("expected no structured requests, got %v", plan.Structured)
	}
	if len(plan.Semantic) != 1 {
		t.Errorf("expected only the fallback semantic request, got %v", plan.Semantic)
	}
}

func TestPlan_TechnologyEmission(t *testing.T) {
	plan := newTestPlanner().Plan("Who worked on gRPC services?")

	for _, tmpl := range []graph.TemplateID{graph.TemplateTechnologyChangesets, graph.TemplateTechnologyExperts} {
		if !hasRequest(plan, tmpl, func(p graph.Params) bool { return p.Technology == "gRPC" }) {
			t.Errorf("expected %s for gRPC", tmpl)
		}
	}
	if len(plan.Semantic) != 2 || plan.Semantic[1].Text != "gRPC" || plan.Semantic[1].K != 4 {
		t.Errorf("expected a per-technology sub-query, got %v", plan.Semantic)
	}
}

func TestPlan_EntityMatching(t *testing.T) {
	tests := []struct {
		name         string
		question     string
		contributors []string
		technologies []string
	}{
		{"case insensitive", "who knows GRPC", nil, []string{"gRPC"}},
		{"handle", "what has bsmith shipped", []string{"bsmith"}, nil},
		{"display name maps to handle", "Projects by Bob Smith", []string{"bsmith"}, nil},
		{"longest match wins over handle", "Jane Doe's work", []string{"jane"}, nil},
		{"longest technology wins", "Protocol Buffers experts", nil, []string{"Protocol Buffers"}},
		{"punctuated names", "Next.js or C++ people?", nil, []string{"Next.js", "C++"}},
		{"ambiguous word lowercase ignored", "how do I go about this", nil, nil},
		{"ambiguous word canonical casing", "who writes Go services", nil, []string{"Go"}},
		{"react as a verb", "How did the team react to the outage?", nil, nil},
		{"vite as a word", "we vite the release notes", nil, nil},
		{"whole tokens only", "who worked on reactive streams", nil, nil},
		{"question order", "React and gRPC", nil, []string{"React", "gRPC"}},
		{"duplicates collapse", "jane and Jane Doe", []string{"jane"}, nil},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			plan := newTestPlanner().Plan(tt.question)
			if !equalStrings(plan.Contributors, tt.contributors) {
				t.Errorf("contributors = %v, want %v", plan.Contributors, tt.contributors)
			}
			if !equalStrings(plan.Technologies, tt.technologies) {
				t.Errorf("technologies = %v, want %v", plan.Technologies, tt.technologies)
			}
		})
	}
}

func TestPlan_TimeRangeAppliedToRequests(t *testing.T) {
	plan := newTestPlanner().Plan("What did jane do in the last 3 months?")

	want := time.Date(2024, 3, 15, 0, 0, 0, 0, time.UTC)
	if !plan.TimeRange.Since.Equal(want) {
		t.Fatalf("expected since %v, got %v", want, plan.TimeRange.Since)
	}
	for _, r := range plan.Structured {
		if !r.Params.Since.Equal(want) {
			t.Errorf("request %s missing time range", r)
		}
	}
}

func TestPlan_PullRequestReference(t *testing.T) {
	plan := newTestPlanner().Plan("Who reviewed PR #42 and pull request 7 in 2023?")

	if len(plan.PullRequests) != 2 || plan.PullRequests[0] != 42 || plan.PullRequests[1] != 7 {
		t.Fatalf("unexpected pull requests: %v", plan.PullRequests)
	}
	if !hasRequest(plan, graph.TemplateChangesetByNumber, func(p graph.Params) bool {
		return p.Number == 42 && p.Since.IsZero() && p.Until.IsZero()
	}) {
		t.Errorf("expected unbounded changeset_by_number for 42, got %v", plan.Structured)
	}
}

func TestPlan_MaxStructured(t *testing.T) {
	cfg := DefaultConfig()
	cfg.MaxStructured = 3
	p := New(testEntities(), cfg, func() time.Time { return fixedNow })

	plan := p.Plan("jane, bsmith, gRPC and React")
	if len(plan.Structured) != 3 {
		t.Fatalf("expected 3 structured requests, got %d", len(plan.Structured))
	}
	for _, r := range plan.Structured {
		if r.Template != graph.TemplateContributorTechnologyChangesets {
			t.Errorf("expected pair requests to be kept first, got %s", r.Template)
		}
	}
}

func TestPlan_EmptyQuestion(t *testing.T) {
	plan := newTestPlanner().Plan("   ")
	if len(plan.Structured) != 0 || len(plan.Semantic) != 0 {
		t.Errorf("expected empty plan, got %+v", plan)
	}
}

func TestPlan_Deterministic(t *testing.T) {
	p := newTestPlanner()
	q := "Has Jane Doe or bsmith touched React, gRPC or C++ since 2023?"

	first := p.Plan(q)
	for i := 0; i < 10; i++ {
		next := p.Plan(q)
		if len(next.Structured) != len(first.Structured) {
			t.Fatalf("plan size changed between runs")
		}
		for j := range next.Structured {
			if next.Structured[j].String() != first.Structured[j].String() {
				t.Fatalf("plan order changed: %s vs %s", next.Structured[j], first.Structured[j])
			}
		}
	}
}

func TestEntities_Counts(t *testing.T) {
	c, tech := testEntities().Counts()
	if c != 3 || tech != 8 {
		t.Errorf("expected 3 contributors and 8 technologies, got %d and %d", c, tech)
	}
}

func equalStrings(a, b []string) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}
