// Package storage renders queries against a SQLite copy of the dataset.
//
// The store holds one table per entity type plus a join table for
// institution types. Filter produces the same pages as the in-memory
// backend; both evaluate the clause list built by package query.
package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	_ "github.com/ncruces/go-sqlite3/driver"
	_ "github.com/ncruces/go-sqlite3/embed"

	"github.com/The-Academic-Observatory/coki-oa-web-sub000/pkg/core"
	"github.com/The-Academic-Observatory/coki-oa-web-sub000/pkg/dataset"
	"github.com/The-Academic-Observatory/coki-oa-web-sub000/pkg/db"
	"github.com/The-Academic-Observatory/coki-oa-web-sub000/pkg/log"
	"github.com/The-Academic-Observatory/coki-oa-web-sub000/pkg/query"
	"github.com/The-Academic-Observatory/coki-oa-web-sub000/pkg/search"
)

var logger = log.ForService("storage")

const entityColumns = `id, name, logo, region, subregion, country_code, country_name,
	institution_types, acronyms,
	n_outputs, n_outputs_open, p_outputs_open,
	n_outputs_publisher_open, n_outputs_other_platform_open, n_outputs_closed,
	p_outputs_publisher_open, p_outputs_other_platform_open, p_outputs_closed`

// Store is a SQLite backed search.Backend.
type Store struct {
	db      *sql.DB
	timeout time.Duration
}

// OpenDB opens the SQLite database at path with the connection pragmas
// used by the store. It does not touch the schema.
func OpenDB(ctx context.Context, path string) (*sql.DB, error) {
	sqlDB, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}

	pragmas := []string{
		"PRAGMA journal_mode = WAL",
		"PRAGMA synchronous = NORMAL",
		"PRAGMA busy_timeout = 5000",
		"PRAGMA foreign_keys = ON",
		"PRAGMA cache_size = -16000",
		"PRAGMA temp_store = memory",
	}
	for _, pragma := range pragmas {
		if _, err := sqlDB.ExecContext(ctx, pragma); err != nil {
			sqlDB.Close()
			return nil, fmt.Errorf("applying pragma %q: %w", pragma, err)
		}
	}
	return sqlDB, nil
}

// Open opens (creating if needed) the database at path and applies any
// pending migrations. Each Filter call is bounded by timeout when it is
// positive.
func Open(ctx context.Context, path string, timeout time.Duration) (*Store, error) {
	sqlDB, err := OpenDB(ctx, path)
	if err != nil {
		return nil, err
	}

	if err := db.InitializeDatabase(ctx, sqlDB); err != nil {
		sqlDB.Close()
		return nil, fmt.Errorf("initializing schema: %w", err)
	}

	return &Store{db: sqlDB, timeout: timeout}, nil
}

// Close closes the database.
func (s *Store) Close() error {
	return s.db.Close()
}

// DB returns the underlying database connection for migrations
func (s *Store) DB() *sql.DB {
	return s.db
}

// Import replaces the stored entities with the contents of ds in a single
// transaction.
func (s *Store) Import(ctx context.Context, ds *dataset.Dataset, source string) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("beginning transaction: %w", err)
	}

	committed := false
	defer func() {
		if !committed {
			if err := tx.Rollback(); err != nil {
				logger.Warnf("failed to rollback import: %v", err)
			}
		}
	}()

	for _, stmt := range []string{
		"DELETE FROM institution_type",
		"DELETE FROM institution",
		"DELETE FROM country",
	} {
		if _, err := tx.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("clearing tables: %w", err)
		}
	}

	for _, kind := range core.EntityTypes {
		if err := insertCollection(ctx, tx, ds.Collection(kind)); err != nil {
			return err
		}
	}

	_, err = tx.ExecContext(ctx, `
		INSERT OR REPLACE INTO import_metadata (id, imported_at, countries, institutions, source)
		VALUES (1, ?, ?, ?, ?)
	`, time.Now().UTC(), ds.Countries.Len(), ds.Institutions.Len(), source)
	if err != nil {
		return fmt.Errorf("recording import: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("committing import: %w", err)
	}
	committed = true

	logger.Infof("imported %d countries and %d institutions", ds.Countries.Len(), ds.Institutions.Len())
	return nil
}

func insertCollection(ctx context.Context, tx *sql.Tx, c *core.Collection) error {
	table := tables[c.Type()]
	stmt, err := tx.PrepareContext(ctx, `INSERT INTO `+table+` (position, `+entityColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return fmt.Errorf("preparing %s insert: %w", table, err)
	}
	defer func() {
		if err := stmt.Close(); err != nil {
			logger.Warnf("failed to close statement: %v", err)
		}
	}()

	typeStmt, err := tx.PrepareContext(ctx, "INSERT OR IGNORE INTO institution_type (institution_id, type) VALUES (?, ?)")
	if err != nil {
		return fmt.Errorf("preparing institution_type insert: %w", err)
	}
	defer func() {
		if err := typeStmt.Close(); err != nil {
			logger.Warnf("failed to close statement: %v", err)
		}
	}()

	for pos, e := range c.All() {
		types, err := json.Marshal(nonNil(e.InstitutionTypes))
		if err != nil {
			return fmt.Errorf("encoding institution types of %s: %w", e.ID, err)
		}
		acronyms, err := json.Marshal(nonNil(e.Acronyms))
		if err != nil {
			return fmt.Errorf("encoding acronyms of %s: %w", e.ID, err)
		}

		st := e.Stats
		_, err = stmt.ExecContext(ctx,
			pos, e.ID, e.Name, e.Logo, e.Region, e.Subregion, e.CountryCode, e.CountryName,
			string(types), string(acronyms),
			st.NOutputs, st.NOutputsOpen, st.POutputsOpen,
			st.NOutputsPublisherOpen, st.NOutputsOtherPlatformOpen, st.NOutputsClosed,
			st.POutputsPublisherOpen, st.POutputsOtherPlatformOpen, st.POutputsClosed,
		)
		if err != nil {
			return fmt.Errorf("inserting %s %s: %w", c.Type(), e.ID, err)
		}

		if c.Type() != core.Institution {
			continue
		}
		for _, t := range e.InstitutionTypes {
			if _, err := typeStmt.ExecContext(ctx, e.ID, t); err != nil {
				return fmt.Errorf("inserting type %q of %s: %w", t, e.ID, err)
			}
		}
	}
	return nil
}

func nonNil(s []string) []string {
	if s == nil {
		return []string{}
	}
	return s
}

// Count returns the number of stored entities of kind.
func (s *Store) Count(ctx context.Context, kind core.EntityType) (int, error) {
	table, ok := tables[kind]
	if !ok {
		return 0, fmt.Errorf("unknown entity type %q", kind)
	}
	var n int
	if err := s.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM "+table).Scan(&n); err != nil {
		return 0, fmt.Errorf("counting %s: %w", table, err)
	}
	return n, nil
}

// Filter implements search.Backend with one aggregate query and one page
// query. Database failures wrap search.ErrTransient.
func (s *Store) Filter(ctx context.Context, kind core.EntityType, q query.Query, ps query.PageSettings) (*search.Page, error) {
	table, ok := tables[kind]
	if !ok {
		return nil, &query.ValidationError{Param: "entity_type", Value: string(kind), Reason: "unknown collection"}
	}
	where, args, err := Where(table, q.Clauses(kind))
	if err != nil {
		return nil, err
	}
	order, err := orderBy(ps)
	if err != nil {
		return nil, err
	}

	if s.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.timeout)
		defer cancel()
	}

	page := &search.Page{}
	if err := s.aggregate(ctx, table, where, args, page); err != nil {
		return nil, transient(table, err)
	}

	if ps.Limit <= 0 || page.Total == 0 || ps.Page > (page.Total-1)/ps.Limit {
		page.Items = []core.Entity{}
		return page, nil
	}

	stmt := "SELECT " + entityColumns + " FROM " + table + " WHERE " + where +
		" ORDER BY " + order + " LIMIT ? OFFSET ?"
	logger.Debugf("query: %s %v", strings.Join(strings.Fields(stmt), " "), args)

	rows, err := s.db.QueryContext(ctx, stmt, append(args, ps.Limit, ps.Page*ps.Limit)...)
	if err != nil {
		return nil, transient(table, err)
	}
	defer func() {
		if err := rows.Close(); err != nil {
			logger.Warnf("failed to close rows: %v", err)
		}
	}()

	for rows.Next() {
		e, err := scanEntity(rows, kind)
		if err != nil {
			return nil, transient(table, err)
		}
		page.Items = append(page.Items, e)
	}
	if err := rows.Err(); err != nil {
		return nil, transient(table, err)
	}
	return page, nil
}

func (s *Store) aggregate(ctx context.Context, table, where string, args []any, page *search.Page) error {
	var (
		lo, hi       core.Bounds
		loN, loO, hN sql.NullInt64
		hO           sql.NullInt64
		loP, hP      sql.NullFloat64
	)
	err := s.db.QueryRowContext(ctx, `SELECT COUNT(*),
		MIN(n_outputs), MIN(n_outputs_open), MIN(p_outputs_open),
		MAX(n_outputs), MAX(n_outputs_open), MAX(p_outputs_open)
		FROM `+table+` WHERE `+where, args...).Scan(&page.Total, &loN, &loO, &loP, &hN, &hO, &hP)
	if err != nil {
		return err
	}
	if page.Total == 0 {
		return nil
	}
	lo = core.Bounds{NOutputs: loN.Int64, NOutputsOpen: loO.Int64, POutputsOpen: loP.Float64}
	hi = core.Bounds{NOutputs: hN.Int64, NOutputsOpen: hO.Int64, POutputsOpen: hP.Float64}
	page.Min, page.Max = &lo, &hi
	return nil
}

type scanner interface {
	Scan(dest ...any) error
}

func scanEntity(row scanner, kind core.EntityType) (core.Entity, error) {
	e := core.Entity{EntityType: kind}
	var types, acronyms string
	st := &e.Stats
	err := row.Scan(
		&e.ID, &e.Name, &e.Logo, &e.Region, &e.Subregion, &e.CountryCode, &e.CountryName,
		&types, &acronyms,
		&st.NOutputs, &st.NOutputsOpen, &st.POutputsOpen,
		&st.NOutputsPublisherOpen, &st.NOutputsOtherPlatformOpen, &st.NOutputsClosed,
		&st.POutputsPublisherOpen, &st.POutputsOtherPlatformOpen, &st.POutputsClosed,
	)
	if err != nil {
		return core.Entity{}, fmt.Errorf("scanning row: %w", err)
	}
	if err := json.Unmarshal([]byte(types), &e.InstitutionTypes); err != nil {
		return core.Entity{}, fmt.Errorf("decoding institution types of %s: %w", e.ID, err)
	}
	if err := json.Unmarshal([]byte(acronyms), &e.Acronyms); err != nil {
		return core.Entity{}, fmt.Errorf("decoding acronyms of %s: %w", e.ID, err)
	}
	if len(e.InstitutionTypes) == 0 {
		e.InstitutionTypes = nil
	}
	if len(e.Acronyms) == 0 {
		e.Acronyms = nil
	}
	return e, nil
}

// transient marks a database failure as retryable. Context cancellation by
// the caller is passed through unchanged.
func transient(table string, err error) error {
	if errors.Is(err, context.Canceled) {
		return fmt.Errorf("querying %s: %w", table, err)
	}
	return fmt.Errorf("querying %s: %w: %w", table, search.ErrTransient, err)
}

// ImportInfo describes the last successful import.
type ImportInfo struct {
	ImportedAt   time.Time
	Countries    int
	Institutions int
	Source       string
}

// LastImport returns the metadata recorded by Import, or nil when the
// database has never been populated.
func (s *Store) LastImport(ctx context.Context) (*ImportInfo, error) {
	var (
		info       ImportInfo
		importedAt string
	)
	err := s.db.QueryRowContext(ctx, `
		SELECT imported_at, countries, institutions, source FROM import_metadata WHERE id = 1
	`).Scan(&importedAt, &info.Countries, &info.Institutions, &info.Source)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("reading import metadata: %w", err)
	}
	if info.ImportedAt, err = time.Parse(time.RFC3339Nano, importedAt); err != nil {
		return nil, fmt.Errorf("parsing import time %q: %w", importedAt, err)
	}
	return &info, nil
}
