package planner

import (
	"sort"
	"strings"
	"unicode"

	"github.com/Yates-Labs/knowhow/internal/graph"
)

// ambiguousTechnologies are names that double as common English words.
// They only match when the question uses the canonical casing.
var ambiguousTechnologies = map[string]bool{
	"Go":      true,
	"Rust":    true,
	"Swift":   true,
	"Express": true,
	"Flask":   true,
	"Ruby":    true,
	"Java":    true,
	"React":   true,
	"Vite":    true,
}

type entityKind uint8

const (
	kindContributor entityKind = iota
	kindTechnology
)

// term is one matchable surface form of an entity
type term struct {
	tokens    []string // lowercased
	canonical string   // handle for contributors, name for technologies
	surface   string   // original casing, used for case-sensitive terms
	kind      entityKind
	exactCase bool
}

// Entities is an immutable snapshot of the names the planner can recognize.
// Build a new snapshot to pick up store changes.
type Entities struct {
	terms        []term
	contributors int
	technologies int
}

// NewEntities indexes contributor handles, display names and technology names
func NewEntities(known graph.Entities) Entities {
	type termKey struct {
		kind      entityKind
		text      string
		canonical string
	}

	var e Entities
	seen := make(map[termKey]bool)

	add := func(t term) {
		if len(t.tokens) == 0 {
			return
		}
		key := termKey{t.kind, strings.Join(t.tokens, " "), t.canonical}
		if seen[key] {
			return
		}
		seen[key] = true
		e.terms = append(e.terms, t)
	}

	for _, c := range known.Contributors {
		handle := strings.TrimSpace(c.Handle)
		if handle == "" {
			continue
		}
		e.contributors++
		add(term{tokens: tokenize(handle), canonical: handle, surface: handle, kind: kindContributor})
		if name := strings.TrimSpace(c.Name); name != "" {
			add(term{tokens: tokenize(name), canonical: handle, surface: name, kind: kindContributor})
		}
	}

	for _, tech := range known.Technologies {
		tech = strings.TrimSpace(tech)
		if tech == "" {
			continue
		}
		e.technologies++
		add(term{
			tokens:    tokenize(tech),
			canonical: tech,
			surface:   tech,
			kind:      kindTechnology,
			exactCase: ambiguousTechnologies[tech],
		})
	}

	// longer terms first so overlapping matches resolve to the longest
	sort.SliceStable(e.terms, func(i, j int) bool {
		return len(e.terms[i].tokens) > len(e.terms[j].tokens)
	})

	return e
}

// Counts reports how many contributors and technologies the snapshot knows
func (e Entities) Counts() (contributors, technologies int) {
	return e.contributors, e.technologies
}

// Match is an entity recognized in a question
type Match struct {
	Canonical string
	Surface   string // text as written in the question
	Start     int    // token offset
	Length    int    // token count
	kind      entityKind
}

// IsContributor reports whether the match names a contributor
func (m Match) IsContributor() bool { return m.kind == kindContributor }

// IsTechnology reports whether the match names a technology
func (m Match) IsTechnology() bool { return m.kind == kindTechnology }

// find returns non-overlapping entity matches ordered by position.
// On overlap the longest term wins; equal lengths keep the earlier start.
func (e Entities) find(question string) []Match {
	raw := rawTokens(question)
	if len(raw) == 0 {
		return nil
	}
	lower := make([]string, len(raw))
	for i, tok := range raw {
		lower[i] = strings.ToLower(tok)
	}

	var candidates []Match
	for _, t := range e.terms {
		n := len(t.tokens)
		for start := 0; start+n <= len(lower); start++ {
			if !tokensEqual(lower[start:start+n], t.tokens) {
				continue
			}
			surface := strings.Join(raw[start:start+n], " ")
			if t.exactCase && surface != strings.Join(rawTokens(t.surface), " ") {
				continue
			}
			candidates = append(candidates, Match{
				Canonical: t.canonical,
				Surface:   surface,
				Start:     start,
				Length:    n,
				kind:      t.kind,
			})
		}
	}

	sort.SliceStable(candidates, func(i, j int) bool {
		if candidates[i].Length != candidates[j].Length {
			return candidates[i].Length > candidates[j].Length
		}
		if candidates[i].Start != candidates[j].Start {
			return candidates[i].Start < candidates[j].Start
		}
		if candidates[i].kind != candidates[j].kind {
			return candidates[i].kind < candidates[j].kind
		}
		return candidates[i].Canonical < candidates[j].Canonical
	})

	taken := make([]bool, len(lower))
	var matches []Match
	for _, c := range candidates {
		free := true
		for i := c.Start; i < c.Start+c.Length; i++ {
			if taken[i] {
				free = false
				break
			}
		}
		if !free {
			continue
		}
		for i := c.Start; i < c.Start+c.Length; i++ {
			taken[i] = true
		}
		matches = append(matches, c)
	}

	sort.SliceStable(matches, func(i, j int) bool { return matches[i].Start < matches[j].Start })
	return matches
}

// rawTokens splits text into words, keeping the punctuation that appears
// inside technology names (Next.js, C++, C#, socket.io) and handles (jane-doe).
func rawTokens(text string) []string {
	fields := strings.FieldsFunc(text, func(r rune) bool {
		if unicode.IsLetter(r) || unicode.IsDigit(r) {
			return false
		}
		switch r {
		case '+', '#', '.', '-', '_':
			return false
		}
		return true
	})

	tokens := fields[:0]
	for _, f := range fields {
		f = strings.Trim(f, ".-_")
		if f != "" {
			tokens = append(tokens, f)
		}
	}
	return tokens
}

func tokenize(text string) []string {
	raw := rawTokens(text)
	for i := range raw {
		raw[i] = strings.ToLower(raw[i])
	}
	return raw
}

func tokensEqual(a, b []string) bool {
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
