// Package evidence merges structured rows and semantic matches into one
// ranked, deduplicated and size-bounded bundle.
package evidence

import (
	"strings"
	"time"
)

// SourceKind records which retrieval path produced an item
type SourceKind uint8

const (
	Structured SourceKind = 1 << iota
	Semantic
)

// Has reports whether k includes every bit of other
func (k SourceKind) Has(other SourceKind) bool {
	return k&other == other
}

func (k SourceKind) String() string {
	switch k {
	case Structured:
		return "structured"
	case Semantic:
		return "semantic"
	case Structured | Semantic:
		return "structured+semantic"
	default:
		return "none"
	}
}

// MarshalText renders the kind as its string form
func (k SourceKind) MarshalText() ([]byte, error) {
	return []byte(k.String()), nil
}

// ContributorKeyPrefix marks keys of contributor-level items
const ContributorKeyPrefix = "contributor:"

// Item is one normalized unit of evidence
type Item struct {
	Key          string     `json:"key"`
	Ref          string     `json:"ref"`
	Sources      SourceKind `json:"sources"`
	Score        float64    `json:"score"`
	Title        string     `json:"title,omitempty"`
	Snippet      string     `json:"snippet"`
	Author       string     `json:"author,omitempty"`
	URL          string     `json:"url,omitempty"`
	Timestamp    time.Time  `json:"timestamp,omitempty"`
	Technologies []string   `json:"technologies,omitempty"`
}

// IsContributor reports whether the item describes a contributor rather than a changeset
func (i Item) IsContributor() bool {
	return strings.HasPrefix(i.Key, ContributorKeyPrefix)
}

func (i Item) size() int {
	return len(i.Title) + len(i.Snippet)
}

// Bundle is the ordered evidence handed to the synthesizer
type Bundle struct {
	Items     []Item `json:"items"`
	Dropped   int    `json:"dropped,omitempty"` // merged items cut by the budget
	TotalSize int    `json:"total_size"`
}

// Empty reports whether the bundle carries no evidence
func (b Bundle) Empty() bool {
	return len(b.Items) == 0
}

// Len returns the number of items
func (b Bundle) Len() int {
	return len(b.Items)
}

// Lookup resolves a citation ref such as "E2" to its item
func (b Bundle) Lookup(ref string) (Item, bool) {
	for _, item := range b.Items {
		if strings.EqualFold(item.Ref, ref) {
			return item, true
		}
	}
	return Item{}, false
}

// Keys returns item keys in bundle order
func (b Bundle) Keys() []string {
	keys := make([]string, len(b.Items))
	for i, item := range b.Items {
		keys[i] = item.Key
	}
	return keys
}

// Budget bounds the bundle size
type Budget struct {
	// MaxItems caps the number of items
	MaxItems int

	// MaxChars caps the summed title and snippet length across items
	MaxChars int

	// MaxSnippetChars clips each snippet at normalization
	MaxSnippetChars int
}

// DefaultBudget returns the default bundle bounds
func DefaultBudget() Budget {
	return Budget{
		MaxItems:        12,
		MaxChars:        6000,
		MaxSnippetChars: 600,
	}
}

func (b Budget) withDefaults() Budget {
	d := DefaultBudget()
	if b.MaxItems <= 0 {
		b.MaxItems = d.MaxItems
	}
	if b.MaxChars <= 0 {
		b.MaxChars = d.MaxChars
	}
	if b.MaxSnippetChars <= 0 {
		b.MaxSnippetChars = d.MaxSnippetChars
	}
	return b
}
