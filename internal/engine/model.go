package engine

import (
	"errors"
	"time"

	"github.com/Yates-Labs/knowhow/internal/evidence"
	"github.com/Yates-Labs/knowhow/internal/narrative"
	"github.com/Yates-Labs/knowhow/internal/planner"
)

var (
	// ErrEmptyQuestion is returned for blank input
	ErrEmptyQuestion = errors.New("question is empty")

	// ErrNoEvidenceAvailable means neither source contributed evidence; the model was not called
	ErrNoEvidenceAvailable = errors.New("no evidence available")

	ErrInvalidConfig = errors.New("invalid engine configuration")
)

// Source names a retrieval path in a Report
type Source string

const (
	SourceStructured Source = "structured"
	SourceSemantic   Source = "semantic"
)

// RequestFailure records a planned request whose contribution was excluded
type RequestFailure struct {
	Source   Source `json:"source"`
	Request  string `json:"request"`
	Attempts int    `json:"attempts"`
	Error    string `json:"error"`
}

// Report describes how a question was served
type Report struct {
	StructuredRequests int `json:"structured_requests"`
	SemanticRequests   int `json:"semantic_requests"`
	StructuredRows     int `json:"structured_rows"`
	SemanticMatches    int `json:"semantic_matches"`

	Failures []RequestFailure `json:"failures,omitempty"`

	// Enriched counts semantic-only matches that received graph metadata
	Enriched        int    `json:"enriched"`
	EnrichmentError string `json:"enrichment_error,omitempty"`

	RetrievalDuration time.Duration `json:"retrieval_duration"`
	ModelDuration     time.Duration `json:"model_duration,omitempty"`
	TotalDuration     time.Duration `json:"total_duration"`
}

// Degraded reports whether any planned request was excluded
func (r Report) Degraded() bool {
	return len(r.Failures) > 0
}

// FailuresFor returns the failures of one source
func (r Report) FailuresFor(source Source) []RequestFailure {
	var out []RequestFailure
	for _, f := range r.Failures {
		if f.Source == source {
			out = append(out, f)
		}
	}
	return out
}

// Result is everything the engine produced for one question.
// Answer is nil when retrieval found nothing or the model failed.
type Result struct {
	Answer *narrative.Answer `json:"answer,omitempty"`
	Plan   planner.Plan      `json:"plan"`
	Bundle evidence.Bundle   `json:"bundle"`
	Report Report            `json:"report"`
}
