package evidence

import (
	"sort"
	"strconv"
	"strings"
	"unicode/utf8"

	"github.com/Yates-Labs/knowhow/internal/graph"
	"github.com/Yates-Labs/knowhow/internal/rag"
)

// Aggregate normalizes, merges, ranks and truncates evidence from both
// retrieval paths. It is pure: identical inputs give identical bundles.
func Aggregate(structured []graph.Row, semantic []rag.Match, budget Budget) Bundle {
	return AggregateWithMetadata(structured, semantic, nil, budget)
}

// AggregateWithMetadata is Aggregate with graph rows describing semantic-only
// hits. Metadata rows fill in title, author, URL, timestamp and technologies
// of matching items but never add items or change their source or score.
func AggregateWithMetadata(structured []graph.Row, semantic []rag.Match, metadata []graph.Row, budget Budget) Bundle {
	budget = budget.withDefaults()

	merged := make(map[string]*Item)
	var order []string

	merge := func(item Item) {
		if item.Key == "" {
			return
		}
		existing, ok := merged[item.Key]
		if !ok {
			copied := item
			merged[item.Key] = &copied
			order = append(order, item.Key)
			return
		}
		mergeInto(existing, item)
	}

	for _, row := range structured {
		merge(fromRow(row, budget.MaxSnippetChars))
	}
	for _, match := range semantic {
		merge(fromMatch(match, budget.MaxSnippetChars))
	}
	for _, row := range metadata {
		if item, ok := merged[row.ChangesetID]; ok && row.ChangesetID != "" {
			enrich(item, fromRow(row, budget.MaxSnippetChars))
		}
	}

	items := make([]Item, 0, len(order))
	for _, key := range order {
		items = append(items, *merged[key])
	}
	sort.SliceStable(items, func(i, j int) bool { return ranksBefore(items[i], items[j]) })

	return truncate(items, budget)
}

func fromRow(row graph.Row, maxSnippet int) Item {
	key := row.ChangesetID
	if key == "" && row.ContributorHandle != "" {
		key = ContributorKeyPrefix + row.ContributorHandle
	}
	author := row.ContributorHandle
	if row.ContributorName != "" {
		author = row.ContributorName + " (@" + row.ContributorHandle + ")"
	}
	return Item{
		Key:          key,
		Sources:      Structured,
		Score:        row.ScoreHint,
		Title:        strings.TrimSpace(row.Title),
		Snippet:      clip(strings.TrimSpace(row.Snippet), maxSnippet),
		Author:       author,
		URL:          row.URL,
		Timestamp:    row.CreatedAt,
		Technologies: append([]string(nil), row.Technologies...),
	}
}

func fromMatch(match rag.Match, maxSnippet int) Item {
	return Item{
		Key:       match.ArtifactID,
		Sources:   Semantic,
		Score:     match.Score,
		Snippet:   clip(strings.TrimSpace(match.Snippet), maxSnippet),
		Author:    match.Author,
		Timestamp: match.CreatedAt,
	}
}

// mergeInto folds src into dst. Structured metadata wins; the score is the max.
func mergeInto(dst *Item, src Item) {
	if src.Score > dst.Score {
		dst.Score = src.Score
	}

	srcPreferred := src.Sources.Has(Structured) && !dst.Sources.Has(Structured)
	dst.Sources |= src.Sources

	pick := func(cur, other string) string {
		if cur == "" || (srcPreferred && other != "") {
			return other
		}
		return cur
	}
	dst.Title = pick(dst.Title, src.Title)
	dst.Snippet = pick(dst.Snippet, src.Snippet)
	dst.Author = pick(dst.Author, src.Author)
	dst.URL = pick(dst.URL, src.URL)

	if dst.Timestamp.IsZero() || (srcPreferred && !src.Timestamp.IsZero()) {
		dst.Timestamp = src.Timestamp
	}
	for _, tech := range src.Technologies {
		if !contains(dst.Technologies, tech) {
			dst.Technologies = append(dst.Technologies, tech)
		}
	}
}

// enrich copies graph metadata onto a semantic-only item. The matched
// snippet is kept; it is what the embedding index ranked.
func enrich(dst *Item, meta Item) {
	if dst.Sources.Has(Structured) {
		return
	}
	if meta.Title != "" {
		dst.Title = meta.Title
	}
	if meta.Author != "" {
		dst.Author = meta.Author
	}
	if meta.URL != "" {
		dst.URL = meta.URL
	}
	if dst.Snippet == "" {
		dst.Snippet = meta.Snippet
	}
	if !meta.Timestamp.IsZero() {
		dst.Timestamp = meta.Timestamp
	}
	for _, tech := range meta.Technologies {
		if !contains(dst.Technologies, tech) {
			dst.Technologies = append(dst.Technologies, tech)
		}
	}
}

// ranksBefore orders by score, then recency, then structured first, then key
func ranksBefore(a, b Item) bool {
	if a.Score != b.Score {
		return a.Score > b.Score
	}
	if !a.Timestamp.Equal(b.Timestamp) {
		return a.Timestamp.After(b.Timestamp)
	}
	as, bs := a.Sources.Has(Structured), b.Sources.Has(Structured)
	if as != bs {
		return as
	}
	return a.Key < b.Key
}

func truncate(items []Item, budget Budget) Bundle {
	var bundle Bundle
	for _, item := range items {
		if len(bundle.Items) >= budget.MaxItems {
			break
		}
		size := item.size()
		if bundle.TotalSize+size > budget.MaxChars {
			if len(bundle.Items) > 0 {
				break
			}
			item = clipToBudget(item, budget.MaxChars)
			size = item.size()
		}
		item.Ref = "E" + strconv.Itoa(len(bundle.Items)+1)
		bundle.Items = append(bundle.Items, item)
		bundle.TotalSize += size
	}
	bundle.Dropped = len(items) - len(bundle.Items)
	return bundle
}

// clipToBudget shrinks an oversized leading item to fit maxChars
func clipToBudget(item Item, maxChars int) Item {
	item.Title = clip(item.Title, maxChars)
	item.Snippet = clip(item.Snippet, maxChars-len(item.Title))
	return item
}

// clip truncates s to at most n bytes without splitting a rune
func clip(s string, n int) string {
	if n <= 0 {
		return ""
	}
	if len(s) <= n {
		return s
	}
	for n > 0 && !utf8.RuneStart(s[n]) {
		n--
	}
	return s[:n]
}

func contains(list []string, s string) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}
