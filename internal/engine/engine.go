// Package engine runs the question pipeline: plan, retrieve from the
// relationship store and the embedding index concurrently, aggregate the
// evidence, then synthesize a cited answer with a single model call.
package engine

import (
	"context"
	"errors"
	"fmt"
	"log"
	"strings"
	"sync"
	"time"

	"github.com/sourcegraph/conc"

	"github.com/Yates-Labs/knowhow/internal/evidence"
	"github.com/Yates-Labs/knowhow/internal/graph"
	"github.com/Yates-Labs/knowhow/internal/narrative"
	"github.com/Yates-Labs/knowhow/internal/planner"
	"github.com/Yates-Labs/knowhow/internal/rag"
)

// Config holds pipeline tuning
type Config struct {
	Planner planner.Config
	Budget  evidence.Budget

	// Per-call timeouts
	StructuredTimeout time.Duration
	SemanticTimeout   time.Duration
	ModelTimeout      time.Duration

	// StructuredRetries is the number of extra attempts per structured request.
	// Zero uses the default of one retry; NoRetry disables retrying.
	StructuredRetries int
}

// NoRetry disables structured retries in Config.StructuredRetries
const NoRetry = -1

// DefaultConfig returns sensible pipeline defaults
func DefaultConfig() Config {
	return Config{
		Planner:           planner.DefaultConfig(),
		Budget:            evidence.DefaultBudget(),
		StructuredTimeout: 5 * time.Second,
		SemanticTimeout:   10 * time.Second,
		ModelTimeout:      60 * time.Second,
		StructuredRetries: 1,
	}
}

// Deps are the collaborators of an engine. Store or Index may be nil,
// in which case that retrieval path contributes nothing.
type Deps struct {
	Store     graph.Store
	Index     rag.Index
	LLM       narrative.LLM
	LLMConfig narrative.LLMConfig

	// Entities is the known-name snapshot. When nil it is loaded once from Store.
	Entities *graph.Entities

	// Now is the planner clock (defaults to time.Now)
	Now func() time.Time
}

// Engine answers questions. It holds no per-question state and is safe
// for concurrent use.
type Engine struct {
	config      Config
	store       graph.Store
	index       rag.Index
	planner     *planner.Planner
	synthesizer *narrative.Synthesizer
	entities    planner.Entities
}

// New builds an engine. The known-entity snapshot is fixed for its lifetime;
// build a new engine to pick up store changes.
func New(ctx context.Context, config Config, deps Deps) (*Engine, error) {
	if deps.LLM == nil {
		return nil, fmt.Errorf("%w: LLM is required", ErrInvalidConfig)
	}
	if deps.Store == nil && deps.Index == nil {
		return nil, fmt.Errorf("%w: at least one of store or index is required", ErrInvalidConfig)
	}
	config = config.withDefaults()

	var known graph.Entities
	switch {
	case deps.Entities != nil:
		known = *deps.Entities
	case deps.Store != nil:
		loadCtx, cancel := context.WithTimeout(ctx, config.StructuredTimeout)
		defer cancel()
		var err error
		known, err = deps.Store.KnownEntities(loadCtx)
		if err != nil {
			// entity extraction degrades to semantic-only planning
			log.Printf("[Engine] Warning: failed to load known entities: %v", err)
		}
	}

	entities := planner.NewEntities(known)
	contributors, technologies := entities.Counts()
	log.Printf("[Engine] Loaded %d contributors and %d technologies", contributors, technologies)

	return &Engine{
		config:      config,
		store:       deps.Store,
		index:       deps.Index,
		planner:     planner.New(entities, config.Planner, deps.Now),
		synthesizer: narrative.NewSynthesizer(deps.LLM, deps.LLMConfig),
		entities:    entities,
	}, nil
}

// NewFromStores builds an engine whose entity snapshot is read from the store
func NewFromStores(ctx context.Context, config Config, store graph.Store, index rag.Index, llm narrative.LLM, llmConfig narrative.LLMConfig) (*Engine, error) {
	return New(ctx, config, Deps{Store: store, Index: index, LLM: llm, LLMConfig: llmConfig})
}

func (c Config) withDefaults() Config {
	d := DefaultConfig()
	if c.StructuredTimeout <= 0 {
		c.StructuredTimeout = d.StructuredTimeout
	}
	if c.SemanticTimeout <= 0 {
		c.SemanticTimeout = d.SemanticTimeout
	}
	if c.ModelTimeout <= 0 {
		c.ModelTimeout = d.ModelTimeout
	}
	switch {
	case c.StructuredRetries == 0:
		c.StructuredRetries = d.StructuredRetries
	case c.StructuredRetries < 0:
		c.StructuredRetries = 0
	}
	return c
}

// Entities returns the known-entity snapshot counts
func (e *Engine) Entities() (contributors, technologies int) {
	return e.entities.Counts()
}

// Plan exposes the retrieval plan for a question without executing it
func (e *Engine) Plan(question string) planner.Plan {
	return e.planner.Plan(question)
}

// Ask answers one question. Per-source failures degrade the evidence
// instead of failing the question. When no evidence survives, Ask returns
// ErrNoEvidenceAvailable with the partial Result and never calls the model.
// Model failures wrap narrative.ErrModelUnavailable; refusals come back as
// an Answer with Refused set.
func (e *Engine) Ask(ctx context.Context, question string) (*Result, error) {
	question = strings.TrimSpace(question)
	if question == "" {
		return nil, ErrEmptyQuestion
	}

	start := time.Now()
	plan := e.planner.Plan(question)
	result := &Result{Plan: plan}
	result.Report.StructuredRequests = len(plan.Structured)
	result.Report.SemanticRequests = len(plan.Semantic)

	log.Printf("[Engine] Stage 1: Planned %d structured and %d semantic requests (range: %s)",
		len(plan.Structured), len(plan.Semantic), plan.TimeRange)

	var (
		rows     []graph.Row
		matches  []rag.Match
		failures failureLog
	)

	var wg conc.WaitGroup
	wg.Go(func() { rows = e.runStructured(ctx, plan.Structured, &failures) })
	wg.Go(func() { matches = e.runSemantic(ctx, plan.Semantic, &failures) })
	wg.Wait()

	result.Report.StructuredRows = len(rows)
	result.Report.SemanticMatches = len(matches)
	result.Report.Failures = failures.sorted()
	result.Report.RetrievalDuration = time.Since(start)
	log.Printf("[Engine] Stage 2: Retrieved %d rows and %d matches (%d failed requests)",
		len(rows), len(matches), len(result.Report.Failures))

	metadata, err := e.lookupSemanticOnly(ctx, rows, matches)
	if err != nil {
		// semantic items keep the index metadata
		log.Printf("[Engine] Warning: failed to enrich semantic matches: %v", err)
		result.Report.EnrichmentError = err.Error()
	}
	result.Report.Enriched = len(metadata)

	result.Bundle = evidence.AggregateWithMetadata(rows, matches, metadata, e.config.Budget)
	log.Printf("[Engine] Stage 3: Aggregated %d evidence items (%d dropped by budget)",
		result.Bundle.Len(), result.Bundle.Dropped)

	if result.Bundle.Empty() {
		result.Report.TotalDuration = time.Since(start)
		return result, ErrNoEvidenceAvailable
	}

	modelCtx, cancel := context.WithTimeout(ctx, e.config.ModelTimeout)
	defer cancel()

	modelStart := time.Now()
	answer, err := e.synthesizer.Synthesize(modelCtx, question, result.Bundle)
	result.Report.ModelDuration = time.Since(modelStart)
	result.Report.TotalDuration = time.Since(start)
	if err != nil {
		log.Printf("[Engine] Stage 4: Synthesis failed: %v", err)
		return result, err
	}

	result.Answer = answer
	log.Printf("[Engine] Stage 4: Synthesized answer (%d citations, refused=%t)", len(answer.Citations), answer.Refused)
	return result, nil
}

// runStructured executes structured requests in order, retrying each once
func (e *Engine) runStructured(ctx context.Context, reqs []planner.StructuredRequest, failures *failureLog) []graph.Row {
	if e.store == nil || len(reqs) == 0 {
		return nil
	}

	var rows []graph.Row
	for _, req := range reqs {
		var (
			got []graph.Row
			err error
		)
		attempts := 0
		for attempts <= e.config.StructuredRetries {
			attempts++
			got, err = e.runOne(ctx, req)
			if err == nil || !retryable(err) || ctx.Err() != nil {
				break
			}
		}
		if err != nil {
			log.Printf("[Engine] Excluding structured request %s after %d attempt(s): %v", req, attempts, err)
			failures.add(RequestFailure{Source: SourceStructured, Request: req.String(), Attempts: attempts, Error: err.Error()})
			continue
		}
		rows = append(rows, got...)
	}
	return rows
}

func (e *Engine) runOne(ctx context.Context, req planner.StructuredRequest) ([]graph.Row, error) {
	callCtx, cancel := context.WithTimeout(ctx, e.config.StructuredTimeout)
	defer cancel()
	return e.store.Run(callCtx, req.Template, req.Params)
}

// runSemantic executes semantic requests without retry
func (e *Engine) runSemantic(ctx context.Context, reqs []planner.SemanticRequest, failures *failureLog) []rag.Match {
	if e.index == nil || len(reqs) == 0 {
		return nil
	}

	var matches []rag.Match
	for _, req := range reqs {
		callCtx, cancel := context.WithTimeout(ctx, e.config.SemanticTimeout)
		got, err := e.index.Nearest(callCtx, req.Text, req.K)
		cancel()
		if err != nil {
			log.Printf("[Engine] Excluding semantic request %s: %v", req, err)
			failures.add(RequestFailure{Source: SourceSemantic, Request: req.String(), Attempts: 1, Error: err.Error()})
			continue
		}
		matches = append(matches, got...)
	}
	return matches
}

// lookupSemanticOnly fetches graph rows for matches that no structured
// request returned, so their items carry titles, links and technologies.
func (e *Engine) lookupSemanticOnly(ctx context.Context, rows []graph.Row, matches []rag.Match) ([]graph.Row, error) {
	if e.store == nil || len(matches) == 0 {
		return nil, nil
	}

	seen := make(map[string]bool, len(rows)+len(matches))
	for _, row := range rows {
		seen[row.ChangesetID] = true
	}
	var ids []string
	for _, match := range matches {
		if match.ArtifactID == "" || seen[match.ArtifactID] {
			continue
		}
		seen[match.ArtifactID] = true
		ids = append(ids, match.ArtifactID)
		if len(ids) == graph.MaxLimit {
			break
		}
	}
	if len(ids) == 0 {
		return nil, nil
	}

	callCtx, cancel := context.WithTimeout(ctx, e.config.StructuredTimeout)
	defer cancel()
	return e.store.Run(callCtx, graph.TemplateChangesetsByID, graph.Params{IDs: ids, Limit: len(ids)})
}

func retryable(err error) bool {
	return errors.Is(err, graph.ErrStoreUnavailable) ||
		errors.Is(err, graph.ErrQuery) ||
		errors.Is(err, context.DeadlineExceeded)
}

// failureLog collects failures from both retrieval goroutines
type failureLog struct {
	mu      sync.Mutex
	entries []RequestFailure
}

func (l *failureLog) add(f RequestFailure) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.entries = append(l.entries, f)
}

// sorted returns structured failures first, each group in plan order
func (l *failureLog) sorted() []RequestFailure {
	l.mu.Lock()
	defer l.mu.Unlock()

	var out []RequestFailure
	for _, source := range []Source{SourceStructured, SourceSemantic} {
		for _, f := range l.entries {
			if f.Source == source {
				out = append(out, f)
			}
		}
	}
	return out
}
