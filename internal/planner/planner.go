// Package planner turns a natural-language question into structured and
// semantic retrieval requests. Planning is a pure function of the question,
// the known-entity snapshot and the clock; it performs no I/O.
package planner

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/Yates-Labs/knowhow/internal/graph"
)

// StructuredRequest is one template query against the relationship store
type StructuredRequest struct {
	Template graph.TemplateID `json:"template"`
	Params   graph.Params     `json:"params"`
}

func (r StructuredRequest) String() string {
	var parts []string
	if r.Params.Contributor != "" {
		parts = append(parts, "contributor="+r.Params.Contributor)
	}
	if r.Params.Technology != "" {
		parts = append(parts, "technology="+r.Params.Technology)
	}
	if r.Params.Number > 0 {
		parts = append(parts, "number="+strconv.Itoa(r.Params.Number))
	}
	if !r.Params.Since.IsZero() {
		parts = append(parts, "since="+r.Params.Since.Format("2006-01-02"))
	}
	if !r.Params.Until.IsZero() {
		parts = append(parts, "until="+r.Params.Until.Format("2006-01-02"))
	}
	return fmt.Sprintf("%s(%s)", r.Template, strings.Join(parts, ", "))
}

// SemanticRequest is one nearest-neighbor query against the embedding index
type SemanticRequest struct {
	Text string `json:"text"`
	K    int    `json:"k"`
}

func (r SemanticRequest) String() string {
	return fmt.Sprintf("nearest(%q, k=%d)", r.Text, r.K)
}

// Plan is the full retrieval plan for one question
type Plan struct {
	Question     string              `json:"question"`
	Contributors []string            `json:"contributors,omitempty"` // handles, in question order
	Technologies []string            `json:"technologies,omitempty"` // canonical names, in question order
	PullRequests []int               `json:"pull_requests,omitempty"`
	TimeRange    TimeRange           `json:"time_range"`
	Structured   []StructuredRequest `json:"structured,omitempty"`
	Semantic     []SemanticRequest   `json:"semantic"`
}

// Config controls request fan-out
type Config struct {
	// SemanticK is the result count of the full-question semantic query
	SemanticK int

	// TechnologyK is the result count of each per-technology sub-query (0 disables them)
	TechnologyK int

	// StructuredLimit is the row limit passed to every template
	StructuredLimit int

	// MaxStructured caps the number of structured requests per plan
	MaxStructured int
}

// DefaultConfig returns the default fan-out
func DefaultConfig() Config {
	return Config{
		SemanticK:       8,
		TechnologyK:     4,
		StructuredLimit: graph.DefaultLimit,
		MaxStructured:   16,
	}
}

// Planner builds retrieval plans. It is immutable and safe for concurrent use.
type Planner struct {
	entities Entities
	config   Config
	now      func() time.Time
}

// New creates a planner over a known-entity snapshot.
// A nil clock means time.Now.
func New(entities Entities, config Config, now func() time.Time) *Planner {
	defaults := DefaultConfig()
	if config.SemanticK <= 0 {
		config.SemanticK = defaults.SemanticK
	}
	if config.TechnologyK < 0 {
		config.TechnologyK = 0
	}
	if config.StructuredLimit <= 0 {
		config.StructuredLimit = defaults.StructuredLimit
	}
	if config.MaxStructured <= 0 {
		config.MaxStructured = defaults.MaxStructured
	}
	if now == nil {
		now = time.Now
	}
	return &Planner{entities: entities, config: config, now: now}
}

var rePullRequest = regexp.MustCompile(`(?i)\b(?:pr|pull\s+request|pull)\s*#?\s*(\d{1,7})\b`)

// Plan decides which queries to run for a question. Questions without
// recognizable entities still get the full-question semantic query.
// A blank question yields an empty plan.
func (p *Planner) Plan(question string) Plan {
	question = strings.TrimSpace(question)
	plan := Plan{Question: question}
	if question == "" {
		return plan
	}

	plan.TimeRange = ParseTimeRange(question, p.now())

	seen := make(map[string]bool)
	for _, m := range p.entities.find(question) {
		key := fmt.Sprintf("%d:%s", m.kind, m.Canonical)
		if seen[key] {
			continue
		}
		seen[key] = true
		if m.IsContributor() {
			plan.Contributors = append(plan.Contributors, m.Canonical)
		} else {
			plan.Technologies = append(plan.Technologies, m.Canonical)
		}
	}

	seenPR := make(map[int]bool)
	for _, m := range rePullRequest.FindAllStringSubmatch(question, -1) {
		n, err := strconv.Atoi(m[1])
		if err != nil || n <= 0 || seenPR[n] {
			continue
		}
		seenPR[n] = true
		plan.PullRequests = append(plan.PullRequests, n)
	}

	plan.Structured = p.structuredRequests(plan)
	plan.Semantic = p.semanticRequests(plan)
	return plan
}

func (p *Planner) structuredRequests(plan Plan) []StructuredRequest {
	base := graph.Params{
		Since: plan.TimeRange.Since,
		Until: plan.TimeRange.Until,
		Limit: p.config.StructuredLimit,
	}

	var reqs []StructuredRequest
	add := func(template graph.TemplateID, params graph.Params) {
		if len(reqs) < p.config.MaxStructured {
			reqs = append(reqs, StructuredRequest{Template: template, Params: params})
		}
	}

	for _, n := range plan.PullRequests {
		params := base
		params.Number = n
		params.Since, params.Until = time.Time{}, time.Time{}
		add(graph.TemplateChangesetByNumber, params)
	}

	for _, c := range plan.Contributors {
		for _, t := range plan.Technologies {
			params := base
			params.Contributor, params.Technology = c, t
			add(graph.TemplateContributorTechnologyChangesets, params)
		}
	}

	for _, c := range plan.Contributors {
		params := base
		params.Contributor = c
		add(graph.TemplateContributorChangesets, params)
		add(graph.TemplateContributorExpertise, params)
	}

	for _, t := range plan.Technologies {
		params := base
		params.Technology = t
		add(graph.TemplateTechnologyChangesets, params)
		add(graph.TemplateTechnologyExperts, params)
	}

	return reqs
}

func (p *Planner) semanticRequests(plan Plan) []SemanticRequest {
	reqs := []SemanticRequest{{Text: plan.Question, K: p.config.SemanticK}}
	if p.config.TechnologyK == 0 {
		return reqs
	}
	for _, t := range plan.Technologies {
		if strings.EqualFold(t, plan.Question) {
			continue
		}
		reqs = append(reqs, SemanticRequest{Text: t, K: p.config.TechnologyK})
	}
	return reqs
}
