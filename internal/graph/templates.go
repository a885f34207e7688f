package graph

import (
	"fmt"
	"strings"
)

// TemplateID names a parameterized structured query
type TemplateID string

const (
	TemplateContributorChangesets           TemplateID = "contributor_changesets"
	TemplateTechnologyChangesets            TemplateID = "technology_changesets"
	TemplateContributorTechnologyChangesets TemplateID = "contributor_technology_changesets"
	TemplateTechnologyExperts               TemplateID = "technology_experts"
	TemplateContributorExpertise            TemplateID = "contributor_expertise"
	TemplateChangesetByNumber               TemplateID = "changeset_by_number"

	// TemplateChangesetsByID looks up changesets by id. The engine uses it to
	// attach graph metadata to hits found only by the embedding index.
	TemplateChangesetsByID TemplateID = "changesets_by_id"
)

const (
	// DefaultLimit caps rows per template when Params.Limit is unset
	DefaultLimit = 10

	// MaxLimit is the upper bound accepted for Params.Limit
	MaxLimit = 100
)

// Score hints attached to structured rows. Exact graph relationships on a
// changeset are the strongest evidence; contributor summaries rank just below.
const (
	ScoreChangeset = 1.0
	ScoreExperts   = 0.95
	ScoreExpertise = 0.9
)

type requirement uint8

const (
	needsContributor requirement = 1 << iota
	needsTechnology
	needsNumber
	needsIDs
)

var templateRequirements = map[TemplateID]requirement{
	TemplateContributorChangesets:           needsContributor,
	TemplateTechnologyChangesets:            needsTechnology,
	TemplateContributorTechnologyChangesets: needsContributor | needsTechnology,
	TemplateTechnologyExperts:               needsTechnology,
	TemplateContributorExpertise:            needsContributor,
	TemplateChangesetByNumber:               needsNumber,
	TemplateChangesetsByID:                  needsIDs,
}

// Templates returns every supported template id in a stable order
func Templates() []TemplateID {
	return []TemplateID{
		TemplateContributorChangesets,
		TemplateTechnologyChangesets,
		TemplateContributorTechnologyChangesets,
		TemplateTechnologyExperts,
		TemplateContributorExpertise,
		TemplateChangesetByNumber,
		TemplateChangesetsByID,
	}
}

// Validate checks that params carry everything the template needs.
// Errors wrap ErrQuery.
func Validate(template TemplateID, params Params) error {
	req, ok := templateRequirements[template]
	if !ok {
		return fmt.Errorf("%w: unknown template %q", ErrQuery, template)
	}
	if req&needsContributor != 0 && strings.TrimSpace(params.Contributor) == "" {
		return fmt.Errorf("%w: template %s requires a contributor", ErrQuery, template)
	}
	if req&needsTechnology != 0 && strings.TrimSpace(params.Technology) == "" {
		return fmt.Errorf("%w: template %s requires a technology", ErrQuery, template)
	}
	if req&needsNumber != 0 && params.Number <= 0 {
		return fmt.Errorf("%w: template %s requires a positive number", ErrQuery, template)
	}
	if req&needsIDs != 0 && (len(params.IDs) == 0 || len(params.IDs) > MaxLimit) {
		return fmt.Errorf("%w: template %s requires between 1 and %d ids, got %d", ErrQuery, template, MaxLimit, len(params.IDs))
	}
	if params.Limit < 0 || params.Limit > MaxLimit {
		return fmt.Errorf("%w: limit must be between 0 and %d, got %d", ErrQuery, MaxLimit, params.Limit)
	}
	if !params.Since.IsZero() && !params.Until.IsZero() && !params.Since.Before(params.Until) {
		return fmt.Errorf("%w: empty time range %s..%s", ErrQuery, params.Since.Format("2006-01-02"), params.Until.Format("2006-01-02"))
	}
	return nil
}

func (p Params) limit() int {
	if p.Limit <= 0 {
		return DefaultLimit
	}
	return p.Limit
}

// Query text is written with ? placeholders and rebound per dialect.
const changesetColumns = `c.id, c.author_handle, COALESCE(p.name, ''), c.title, c.body, c.url, c.created_at`

const contributorMatch = `(LOWER(c.author_handle) = LOWER(?) OR LOWER(p.name) = LOWER(?))`

const timeWindow = `c.created_at >= ? AND c.created_at < ?`

var (
	queryContributorChangesets = `SELECT ` + changesetColumns + `
FROM changesets c
LEFT JOIN contributors p ON p.handle = c.author_handle
WHERE ` + contributorMatch + ` AND ` + timeWindow + `
ORDER BY c.created_at DESC, c.id
LIMIT ?`

	queryTechnologyChangesets = `SELECT DISTINCT ` + changesetColumns + `
FROM changesets c
JOIN changeset_files cf ON cf.changeset_id = c.id
JOIN file_technologies ft ON ft.file_id = cf.file_id
LEFT JOIN contributors p ON p.handle = c.author_handle
WHERE LOWER(ft.technology) = LOWER(?) AND ` + timeWindow + `
ORDER BY c.created_at DESC, c.id
LIMIT ?`

	queryContributorTechnologyChangesets = `SELECT DISTINCT ` + changesetColumns + `
FROM changesets c
JOIN changeset_files cf ON cf.changeset_id = c.id
JOIN file_technologies ft ON ft.file_id = cf.file_id
LEFT JOIN contributors p ON p.handle = c.author_handle
WHERE ` + contributorMatch + ` AND LOWER(ft.technology) = LOWER(?) AND ` + timeWindow + `
ORDER BY c.created_at DESC, c.id
LIMIT ?`

	queryChangesetByNumber = `SELECT ` + changesetColumns + `
FROM changesets c
LEFT JOIN contributors p ON p.handle = c.author_handle
WHERE c.kind = 'pull_request' AND c.number = ?
ORDER BY c.created_at DESC, c.id
LIMIT ?`

	queryTechnologyExperts = `SELECT c.author_handle, COALESCE(p.name, ''), COUNT(DISTINCT c.id) AS n, MAX(c.created_at)
FROM changesets c
JOIN changeset_files cf ON cf.changeset_id = c.id
JOIN file_technologies ft ON ft.file_id = cf.file_id
LEFT JOIN contributors p ON p.handle = c.author_handle
WHERE LOWER(ft.technology) = LOWER(?) AND ` + timeWindow + `
GROUP BY c.author_handle, p.name
ORDER BY n DESC, c.author_handle
LIMIT ?`

	queryContributorLookup = `SELECT handle, name, changeset_count, additions, deletions, last_active
FROM contributors
WHERE LOWER(handle) = LOWER(?) OR LOWER(name) = LOWER(?)
ORDER BY handle
LIMIT 1`

	queryContributorTechnologies = `SELECT ft.technology, COUNT(DISTINCT c.id) AS n
FROM changesets c
JOIN changeset_files cf ON cf.changeset_id = c.id
JOIN file_technologies ft ON ft.file_id = cf.file_id
WHERE c.author_handle = ? AND ` + timeWindow + `
GROUP BY ft.technology
ORDER BY n DESC, ft.technology
LIMIT ?`

	queryKnownContributors = `SELECT handle, name FROM contributors ORDER BY handle`

	queryKnownTechnologies = `SELECT name FROM technologies ORDER BY name`
)

// changesetTechnologiesQuery builds the IN-list lookup of technology tags for changesets
func changesetTechnologiesQuery(n int) string {
	return `SELECT DISTINCT cf.changeset_id, ft.technology
FROM changeset_files cf
JOIN file_technologies ft ON ft.file_id = cf.file_id
WHERE cf.changeset_id IN (` + placeholders(n) + `)
ORDER BY cf.changeset_id, ft.technology`
}

// changesetsByIDQuery builds the IN-list lookup of changesets by id
func changesetsByIDQuery(n int) string {
	return `SELECT ` + changesetColumns + `
FROM changesets c
LEFT JOIN contributors p ON p.handle = c.author_handle
WHERE c.id IN (` + placeholders(n) + `)
ORDER BY c.created_at DESC, c.id`
}

func placeholders(n int) string {
	if n <= 0 {
		return ""
	}
	return strings.TrimSuffix(strings.Repeat("?, ", n), ", ")
}
