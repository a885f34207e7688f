package narrative

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/Yates-Labs/knowhow/internal/evidence"
)

// Citation links a marker in the answer text to an evidence item
type Citation struct {
	Ref string `json:"ref"`
	Key string `json:"key"`
}

// Answer is the synthesized response to one question
type Answer struct {
	ID       string `json:"id"`
	Question string `json:"question"`

	// Text is the model output verbatim, including refusals
	Text string `json:"text"`

	// Citations are the valid markers in order of first appearance
	Citations []Citation `json:"citations"`

	// CitedEvidenceIDs are the evidence keys behind Citations
	CitedEvidenceIDs []string `json:"cited_evidence_ids"`

	Refused bool `json:"refused"`

	Model       string        `json:"model"`
	Provider    string        `json:"provider"`
	GeneratedAt time.Time     `json:"generated_at"`
	Latency     time.Duration `json:"latency"`
}

// Err returns ErrModelRefusal for refused answers and nil otherwise
func (a *Answer) Err() error {
	if a != nil && a.Refused {
		return ErrModelRefusal
	}
	return nil
}

// Synthesizer produces cited answers from evidence using an LLM.
// It makes exactly one model call per question.
type Synthesizer struct {
	llm    LLM
	config LLMConfig
	now    func() time.Time
}

// NewSynthesizer creates a synthesizer with the given LLM implementation.
func NewSynthesizer(llm LLM, config LLMConfig) *Synthesizer {
	return &Synthesizer{llm: llm, config: config.Resolved(), now: time.Now}
}

// Synthesize renders the grounding prompt and invokes the model once.
// Provider failures wrap ErrModelUnavailable. Refusals are not errors:
// they come back as an Answer with Refused set and the verbatim text.
func (s *Synthesizer) Synthesize(ctx context.Context, question string, bundle evidence.Bundle) (*Answer, error) {
	if s.llm == nil {
		return nil, fmt.Errorf("%w: LLM is required", ErrInvalidConfig)
	}

	prompt, err := AssembleAnswerPrompt(question, bundle)
	if err != nil {
		return nil, err
	}

	start := s.now()
	text, err := s.llm.Generate(ctx, prompt)
	latency := s.now().Sub(start)

	answer := &Answer{
		ID:          uuid.NewString(),
		Question:    strings.TrimSpace(question),
		Model:       s.config.Model,
		Provider:    s.config.Provider,
		GeneratedAt: s.now(),
		Latency:     latency,
	}

	if err != nil {
		var refusal *RefusalError
		if errors.As(err, &refusal) {
			answer.Text = refusal.Text
			answer.Refused = true
			return answer, nil
		}
		if errors.Is(err, ErrModelUnavailable) || errors.Is(err, ErrInvalidConfig) {
			return nil, err
		}
		return nil, fmt.Errorf("%w: %w", ErrModelUnavailable, err)
	}

	answer.Text = strings.TrimSpace(text)
	if answer.Text == "" {
		return nil, fmt.Errorf("%w: empty response", ErrModelUnavailable)
	}
	if isInsufficientEvidence(answer.Text) {
		answer.Refused = true
		return answer, nil
	}

	answer.Citations = ParseCitations(answer.Text, bundle)
	for _, c := range answer.Citations {
		answer.CitedEvidenceIDs = append(answer.CitedEvidenceIDs, c.Key)
	}
	return answer, nil
}

var (
	reCitationGroup = regexp.MustCompile(`\[\s*([Ee]\d+(?:\s*,\s*[Ee]\d+)*)\s*\]`)
	reCitationRef   = regexp.MustCompile(`[Ee]\d+`)
)

// ParseCitations extracts [E#] markers that resolve to bundle items.
// Unknown refs are dropped; the rest are deduplicated in order of first appearance.
func ParseCitations(text string, bundle evidence.Bundle) []Citation {
	var citations []Citation
	seen := make(map[string]bool)

	for _, group := range reCitationGroup.FindAllStringSubmatch(text, -1) {
		for _, ref := range reCitationRef.FindAllString(group[1], -1) {
			ref = strings.ToUpper(ref)
			if seen[ref] {
				continue
			}
			item, ok := bundle.Lookup(ref)
			if !ok {
				continue
			}
			seen[ref] = true
			citations = append(citations, Citation{Ref: item.Ref, Key: item.Key})
		}
	}
	return citations
}

// isInsufficientEvidence reports whether the reply is the prompt's decline phrase
func isInsufficientEvidence(text string) bool {
	t := strings.ToLower(strings.TrimSpace(text))
	t = strings.Trim(t, "\"'`*. ")
	return strings.HasPrefix(t, InsufficientEvidence)
}
