package graph

import (
	"context"
	"database/sql"
	"database/sql/driver"
	"errors"
	"fmt"
	"log"
	"math"
	"net"
	"strconv"
	"strings"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib" // registers the "pgx" driver
	_ "modernc.org/sqlite"             // registers the "sqlite" driver
)

const (
	DriverPostgres = "pgx"
	DriverSQLite   = "sqlite"
)

// SQLConfig holds connection settings for the SQL-backed store
type SQLConfig struct {
	// Driver is "pgx" for PostgreSQL or "sqlite" for an embedded database
	Driver string

	// DSN is the connection string or, for sqlite, the database file path
	DSN string

	// MaxOpenConns bounds the connection pool (0 = driver default)
	MaxOpenConns int

	// ConnectTimeout bounds the initial ping
	ConnectTimeout time.Duration
}

// DefaultSQLConfig returns an embedded sqlite configuration
func DefaultSQLConfig() SQLConfig {
	return SQLConfig{
		Driver:         DriverSQLite,
		DSN:            "knowhow.db",
		ConnectTimeout: 5 * time.Second,
	}
}

// SQLStore implements Store and Loader over database/sql
type SQLStore struct {
	db     *sql.DB
	driver string
}

// OpenSQL opens and pings the database described by cfg.
// Connection failures wrap ErrStoreUnavailable.
func OpenSQL(ctx context.Context, cfg SQLConfig) (*SQLStore, error) {
	switch cfg.Driver {
	case DriverPostgres, DriverSQLite:
	case "":
		cfg.Driver = DriverSQLite
	default:
		return nil, fmt.Errorf("%w: unsupported driver %q", ErrStoreUnavailable, cfg.Driver)
	}
	if strings.TrimSpace(cfg.DSN) == "" {
		return nil, fmt.Errorf("%w: DSN cannot be empty", ErrStoreUnavailable)
	}

	db, err := sql.Open(cfg.Driver, strings.TrimSpace(cfg.DSN))
	if err != nil {
		return nil, fmt.Errorf("%w: failed to open %s database: %v", ErrStoreUnavailable, cfg.Driver, err)
	}

	if cfg.Driver == DriverSQLite {
		// each sqlite connection to :memory: is a separate database
		db.SetMaxOpenConns(1)
	} else if cfg.MaxOpenConns > 0 {
		db.SetMaxOpenConns(cfg.MaxOpenConns)
	}

	timeout := cfg.ConnectTimeout
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	pingCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	if err := db.PingContext(pingCtx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("%w: failed to connect: %v", ErrStoreUnavailable, err)
	}

	return &SQLStore{db: db, driver: cfg.Driver}, nil
}

// NewSQLStore wraps an existing connection pool
func NewSQLStore(db *sql.DB, driver string) (*SQLStore, error) {
	if db == nil {
		return nil, fmt.Errorf("db cannot be nil")
	}
	if driver != DriverPostgres && driver != DriverSQLite {
		return nil, fmt.Errorf("unsupported driver %q", driver)
	}
	return &SQLStore{db: db, driver: driver}, nil
}

// Close closes the connection pool
func (s *SQLStore) Close() error {
	if s.db != nil {
		return s.db.Close()
	}
	return nil
}

// EnsureSchema creates tables and indexes if they do not exist
func (s *SQLStore) EnsureSchema(ctx context.Context) error {
	for _, stmt := range schemaStatements {
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return s.classify(fmt.Errorf("failed to create schema: %w", err))
		}
	}
	return nil
}

// Run executes a template. Invalid parameters and SQL errors wrap ErrQuery;
// connection failures and timeouts wrap ErrStoreUnavailable.
func (s *SQLStore) Run(ctx context.Context, template TemplateID, params Params) ([]Row, error) {
	if err := Validate(template, params); err != nil {
		return nil, err
	}

	since, until := timeBounds(params)
	limit := params.limit()

	var (
		rows []Row
		err  error
	)

	switch template {
	case TemplateContributorChangesets:
		rows, err = s.changesetRows(ctx, queryContributorChangesets,
			params.Contributor, params.Contributor, since, until, limit)
	case TemplateTechnologyChangesets:
		rows, err = s.changesetRows(ctx, queryTechnologyChangesets,
			params.Technology, since, until, limit)
	case TemplateContributorTechnologyChangesets:
		rows, err = s.changesetRows(ctx, queryContributorTechnologyChangesets,
			params.Contributor, params.Contributor, params.Technology, since, until, limit)
	case TemplateChangesetByNumber:
		rows, err = s.changesetRows(ctx, queryChangesetByNumber, params.Number, limit)
	case TemplateChangesetsByID:
		args := make([]any, len(params.IDs))
		for i, id := range params.IDs {
			args[i] = id
		}
		rows, err = s.changesetRows(ctx, changesetsByIDQuery(len(args)), args...)
	case TemplateTechnologyExperts:
		rows, err = s.technologyExperts(ctx, params.Technology, since, until, limit)
	case TemplateContributorExpertise:
		rows, err = s.contributorExpertise(ctx, params.Contributor, since, until, limit)
	}
	if err != nil {
		return nil, s.classify(fmt.Errorf("template %s: %w", template, err))
	}

	return rows, nil
}

// KnownEntities lists contributor and technology names for the planner
func (s *SQLStore) KnownEntities(ctx context.Context) (Entities, error) {
	var entities Entities

	rows, err := s.db.QueryContext(ctx, s.rebind(queryKnownContributors))
	if err != nil {
		return Entities{}, s.classify(fmt.Errorf("failed to list contributors: %w", err))
	}
	for rows.Next() {
		var c ContributorName
		if err := rows.Scan(&c.Handle, &c.Name); err != nil {
			rows.Close()
			return Entities{}, s.classify(fmt.Errorf("failed to scan contributor: %w", err))
		}
		entities.Contributors = append(entities.Contributors, c)
	}
	err = rows.Err()
	rows.Close()
	if err != nil {
		return Entities{}, s.classify(err)
	}

	rows, err = s.db.QueryContext(ctx, s.rebind(queryKnownTechnologies))
	if err != nil {
		return Entities{}, s.classify(fmt.Errorf("failed to list technologies: %w", err))
	}
	defer rows.Close()
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return Entities{}, s.classify(fmt.Errorf("failed to scan technology: %w", err))
		}
		entities.Technologies = append(entities.Technologies, name)
	}
	if err := rows.Err(); err != nil {
		return Entities{}, s.classify(err)
	}

	return entities, nil
}

func (s *SQLStore) changesetRows(ctx context.Context, query string, args ...any) ([]Row, error) {
	rs, err := s.db.QueryContext(ctx, s.rebind(query), args...)
	if err != nil {
		return nil, err
	}

	var rows []Row
	for rs.Next() {
		var (
			r         Row
			body      string
			createdAt int64
		)
		if err := rs.Scan(&r.ChangesetID, &r.ContributorHandle, &r.ContributorName, &r.Title, &body, &r.URL, &createdAt); err != nil {
			rs.Close()
			return nil, err
		}
		r.Snippet = changesetSnippet(r.Title, body)
		r.CreatedAt = time.Unix(createdAt, 0).UTC()
		r.ScoreHint = ScoreChangeset
		rows = append(rows, r)
	}
	err = rs.Err()
	rs.Close()
	if err != nil {
		return nil, err
	}

	// tags are fetched after the cursor closes; sqlite runs on one connection
	if err := s.attachTechnologies(ctx, rows); err != nil {
		return nil, err
	}
	return rows, nil
}

func (s *SQLStore) attachTechnologies(ctx context.Context, rows []Row) error {
	if len(rows) == 0 {
		return nil
	}

	args := make([]any, len(rows))
	index := make(map[string][]int, len(rows))
	for i, r := range rows {
		args[i] = r.ChangesetID
		index[r.ChangesetID] = append(index[r.ChangesetID], i)
	}

	rs, err := s.db.QueryContext(ctx, s.rebind(changesetTechnologiesQuery(len(args))), args...)
	if err != nil {
		return err
	}
	defer rs.Close()

	for rs.Next() {
		var id, tech string
		if err := rs.Scan(&id, &tech); err != nil {
			return err
		}
		for _, i := range index[id] {
			rows[i].Technologies = append(rows[i].Technologies, tech)
		}
	}
	return rs.Err()
}

func (s *SQLStore) technologyExperts(ctx context.Context, technology string, since, until int64, limit int) ([]Row, error) {
	rs, err := s.db.QueryContext(ctx, s.rebind(queryTechnologyExperts), technology, since, until, limit)
	if err != nil {
		return nil, err
	}
	defer rs.Close()

	var rows []Row
	for rs.Next() {
		var (
			handle, name string
			count        int
			lastActive   int64
		)
		if err := rs.Scan(&handle, &name, &count, &lastActive); err != nil {
			return nil, err
		}
		rows = append(rows, Row{
			ContributorHandle: handle,
			ContributorName:   name,
			Title:             fmt.Sprintf("%s is an active %s contributor", displayName(handle, name), technology),
			Snippet:           fmt.Sprintf("%s authored %d changeset(s) touching %s files, most recently on %s.", displayName(handle, name), count, technology, time.Unix(lastActive, 0).UTC().Format("2006-01-02")),
			CreatedAt:         time.Unix(lastActive, 0).UTC(),
			ScoreHint:         ScoreExperts,
			Technologies:      []string{technology},
		})
	}
	return rows, rs.Err()
}

func (s *SQLStore) contributorExpertise(ctx context.Context, contributor string, since, until int64, limit int) ([]Row, error) {
	var (
		handle, name         string
		count, adds, deletes int
		lastActive           int64
	)
	err := s.db.QueryRowContext(ctx, s.rebind(queryContributorLookup), contributor, contributor).
		Scan(&handle, &name, &count, &adds, &deletes, &lastActive)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	rs, err := s.db.QueryContext(ctx, s.rebind(queryContributorTechnologies), handle, since, until, limit)
	if err != nil {
		return nil, err
	}
	defer rs.Close()

	var (
		techs []string
		parts []string
	)
	for rs.Next() {
		var (
			tech string
			n    int
		)
		if err := rs.Scan(&tech, &n); err != nil {
			return nil, err
		}
		techs = append(techs, tech)
		parts = append(parts, fmt.Sprintf("%s (%d)", tech, n))
	}
	if err := rs.Err(); err != nil {
		return nil, err
	}

	var snippet strings.Builder
	fmt.Fprintf(&snippet, "%s authored %d changeset(s), +%d/-%d lines, last active %s.",
		displayName(handle, name), count, adds, deletes, time.Unix(lastActive, 0).UTC().Format("2006-01-02"))
	if len(parts) > 0 {
		snippet.WriteString(" Technologies: ")
		snippet.WriteString(strings.Join(parts, ", "))
		snippet.WriteString(".")
	}

	return []Row{{
		ContributorHandle: handle,
		ContributorName:   name,
		Title:             "Expertise of " + displayName(handle, name),
		Snippet:           snippet.String(),
		CreatedAt:         time.Unix(lastActive, 0).UTC(),
		ScoreHint:         ScoreExpertise,
		Technologies:      techs,
	}}, nil
}

// rebind rewrites ? placeholders to $n for PostgreSQL
func (s *SQLStore) rebind(query string) string {
	if s.driver != DriverPostgres {
		return query
	}
	return Rebind(query)
}

// Rebind converts ? placeholders into PostgreSQL positional parameters.
// Placeholders inside single-quoted literals are left alone.
func Rebind(query string) string {
	var (
		b       strings.Builder
		n       int
		inQuote bool
	)
	b.Grow(len(query) + 8)
	for _, r := range query {
		switch {
		case r == '\'':
			inQuote = !inQuote
			b.WriteRune(r)
		case r == '?' && !inQuote:
			n++
			b.WriteByte('$')
			b.WriteString(strconv.Itoa(n))
		default:
			b.WriteRune(r)
		}
	}
	return b.String()
}

// classify maps driver errors onto ErrStoreUnavailable or ErrQuery
func (s *SQLStore) classify(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, ErrQuery) || errors.Is(err, ErrStoreUnavailable) {
		return err
	}

	var netErr net.Error
	if errors.Is(err, context.DeadlineExceeded) ||
		errors.Is(err, context.Canceled) ||
		errors.Is(err, driver.ErrBadConn) ||
		errors.Is(err, sql.ErrConnDone) ||
		errors.As(err, &netErr) {
		log.Printf("[Graph] store unavailable: %v", err)
		return fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}
	return fmt.Errorf("%w: %v", ErrQuery, err)
}

func timeBounds(p Params) (int64, int64) {
	var since, until int64 = 0, math.MaxInt64
	if !p.Since.IsZero() {
		since = p.Since.Unix()
	}
	if !p.Until.IsZero() {
		until = p.Until.Unix()
	}
	return since, until
}

func changesetSnippet(title, body string) string {
	if body = strings.TrimSpace(body); body != "" {
		return body
	}
	return title
}

func displayName(handle, name string) string {
	if name == "" || strings.EqualFold(name, handle) {
		return "@" + handle
	}
	return fmt.Sprintf("%s (@%s)", name, handle)
}
