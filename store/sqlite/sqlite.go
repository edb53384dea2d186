/*
Package sqlite provides the SQLite-backed core.Store implementation.

PURPOSE:
  Implements the full persistence surface (indicators, derived
  definitions, data points, access levels, grants, tables, audit log)
  on SQLite. The same SQL shape applies to PostgreSQL with minor
  dialect changes.

MOST-RECENT-WINS:
  data_points is insert-only with a monotonically increasing seq; reads
  take the highest seq per (indicator, period). Older rows are
  superseded, never deleted, so historical imports with duplicate keys
  keep working.

APPEND-ONLY AUDIT:
  change_events has no UPDATE or DELETE statements. Payloads are stored
  as JSON.

WAL MODE:
  The database is opened with WAL for better read concurrency and
  crash recovery, and foreign keys enabled.

USAGE:
  st, err := sqlite.New("./data/indicators.db")
  if err != nil {
      log.Fatal(err)
  }
  defer st.Close()

SEE ALSO:
  - core/store.go: Interface definitions
  - core/store/memory.go: In-memory implementation for tests
*/
package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"github.com/warp/indicator-engine/core"
)

// Store implements core.Store using SQLite.
type Store struct {
	db *sql.DB
	ops
}

// New opens (or creates) the database at path and migrates the schema.
// Use ":memory:" for an in-memory database.
func New(path string) (*Store, error) {
	db, err := sql.Open("sqlite3", path+"?_foreign_keys=on&_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	// A single writer connection sidesteps SQLITE_BUSY between the
	// pool's connections; WAL still allows concurrent readers.
	db.SetMaxOpenConns(1)

	s := &Store{db: db, ops: ops{q: db}}
	if err := s.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to migrate database: %w", err)
	}
	return s, nil
}

// Close closes the database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

func (s *Store) migrate() error {
	schema := `
	CREATE TABLE IF NOT EXISTS indicators (
		id          TEXT PRIMARY KEY,
		code        TEXT NOT NULL UNIQUE,
		name        TEXT NOT NULL,
		description TEXT NOT NULL DEFAULT '',
		source      TEXT NOT NULL DEFAULT '',
		unit        TEXT NOT NULL DEFAULT '',
		category    TEXT NOT NULL DEFAULT '',
		country     TEXT NOT NULL DEFAULT '',
		region      TEXT NOT NULL DEFAULT '',
		is_custom   INTEGER NOT NULL DEFAULT 0,
		frequency   TEXT NOT NULL DEFAULT 'CUSTOM'
	);

	CREATE TABLE IF NOT EXISTS derived_definitions (
		indicator_id TEXT PRIMARY KEY REFERENCES indicators(id),
		formula      TEXT NOT NULL
	);

	CREATE TABLE IF NOT EXISTS derived_bases (
		indicator_id TEXT NOT NULL REFERENCES derived_definitions(indicator_id) ON DELETE CASCADE,
		base_id      TEXT NOT NULL,
		position     INTEGER NOT NULL,
		PRIMARY KEY (indicator_id, base_id)
	);

	-- Insert-only; highest seq per (indicator_id, period) is authoritative.
	CREATE TABLE IF NOT EXISTS data_points (
		seq          INTEGER PRIMARY KEY AUTOINCREMENT,
		indicator_id TEXT NOT NULL,
		period       TEXT NOT NULL,
		value        TEXT,
		is_estimate  INTEGER NOT NULL DEFAULT 0
	);
	CREATE INDEX IF NOT EXISTS idx_data_points_key ON data_points(indicator_id, period, seq);

	CREATE TABLE IF NOT EXISTS access_levels (
		indicator_id TEXT PRIMARY KEY,
		level        TEXT NOT NULL
	);

	CREATE TABLE IF NOT EXISTS grants (
		user_id      TEXT NOT NULL,
		indicator_id TEXT NOT NULL,
		can_view     INTEGER NOT NULL DEFAULT 0,
		can_edit     INTEGER NOT NULL DEFAULT 0,
		can_delete   INTEGER NOT NULL DEFAULT 0,
		PRIMARY KEY (user_id, indicator_id)
	);

	CREATE TABLE IF NOT EXISTS tables (
		id          TEXT PRIMARY KEY,
		name        TEXT NOT NULL,
		description TEXT NOT NULL DEFAULT ''
	);

	CREATE TABLE IF NOT EXISTS table_indicators (
		table_id     TEXT NOT NULL REFERENCES tables(id) ON DELETE CASCADE,
		indicator_id TEXT NOT NULL,
		position     INTEGER NOT NULL,
		PRIMARY KEY (table_id, indicator_id)
	);

	-- Append-only audit log. No UPDATE, no DELETE.
	CREATE TABLE IF NOT EXISTS change_events (
		seq          INTEGER PRIMARY KEY AUTOINCREMENT,
		id           TEXT NOT NULL UNIQUE,
		indicator_id TEXT NOT NULL,
		actor        TEXT NOT NULL DEFAULT '',
		kind         TEXT NOT NULL,
		ts           TEXT NOT NULL,
		changes      TEXT NOT NULL DEFAULT '[]',
		details      TEXT NOT NULL DEFAULT '{}'
	);
	CREATE INDEX IF NOT EXISTS idx_change_events_indicator ON change_events(indicator_id, ts, seq);
	`
	_, err := s.db.Exec(schema)
	return err
}

// WithTx executes fn within a database transaction.
func (s *Store) WithTx(ctx context.Context, fn func(core.Store) error) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	view := &txView{ops: ops{q: tx}}
	if err := fn(view); err != nil {
		if rbErr := tx.Rollback(); rbErr != nil {
			return errors.Join(err, rbErr)
		}
		return err
	}
	return tx.Commit()
}

// txView is the store surface inside a transaction. A nested WithTx
// joins the enclosing transaction.
type txView struct {
	ops
}

func (v *txView) WithTx(_ context.Context, fn func(core.Store) error) error {
	return fn(v)
}

// =============================================================================
// OPERATIONS - Shared between Store and txView
// =============================================================================

type queryer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

type ops struct {
	q queryer
}

// -----------------------------------------------------------------------------
// Indicators
// -----------------------------------------------------------------------------

const indicatorCols = "id, code, name, description, source, unit, category, country, region, is_custom, frequency"

func scanIndicator(row interface{ Scan(...any) error }) (*core.Indicator, error) {
	var ind core.Indicator
	var isCustom int
	err := row.Scan(&ind.ID, &ind.Code, &ind.Name, &ind.Description, &ind.Source,
		&ind.Unit, &ind.Category, &ind.Country, &ind.Region, &isCustom, &ind.Frequency)
	if err != nil {
		return nil, err
	}
	ind.IsCustom = isCustom != 0
	return &ind, nil
}

func (o ops) GetIndicator(ctx context.Context, id core.IndicatorID) (*core.Indicator, error) {
	ind, err := scanIndicator(o.q.QueryRowContext(ctx,
		"SELECT "+indicatorCols+" FROM indicators WHERE id = ?", id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, &core.NotFoundError{Kind: "indicator", Key: string(id)}
		}
		return nil, err
	}
	return ind, nil
}

func (o ops) GetIndicatorByCode(ctx context.Context, code core.Code) (*core.Indicator, error) {
	ind, err := scanIndicator(o.q.QueryRowContext(ctx,
		"SELECT "+indicatorCols+" FROM indicators WHERE code = ?", code))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, &core.NotFoundError{Kind: "code", Key: string(code)}
		}
		return nil, err
	}
	return ind, nil
}

func (o ops) PutIndicator(ctx context.Context, ind *core.Indicator) error {
	_, err := o.q.ExecContext(ctx, `
		INSERT INTO indicators (`+indicatorCols+`) VALUES (?,?,?,?,?,?,?,?,?,?,?)
		ON CONFLICT(id) DO UPDATE SET
			code=excluded.code, name=excluded.name, description=excluded.description,
			source=excluded.source, unit=excluded.unit, category=excluded.category,
			country=excluded.country, region=excluded.region,
			is_custom=excluded.is_custom, frequency=excluded.frequency`,
		ind.ID, ind.Code, ind.Name, ind.Description, ind.Source, ind.Unit,
		ind.Category, ind.Country, ind.Region, boolInt(ind.IsCustom), ind.Frequency)
	return err
}

func (o ops) DeleteIndicator(ctx context.Context, id core.IndicatorID) error {
	res, err := o.q.ExecContext(ctx, "DELETE FROM indicators WHERE id = ?", id)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return &core.NotFoundError{Kind: "indicator", Key: string(id)}
	}
	return nil
}

func (o ops) ListIndicators(ctx context.Context) ([]*core.Indicator, error) {
	rows, err := o.q.QueryContext(ctx, "SELECT "+indicatorCols+" FROM indicators ORDER BY id")
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*core.Indicator
	for rows.Next() {
		ind, err := scanIndicator(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, ind)
	}
	return out, rows.Err()
}

// -----------------------------------------------------------------------------
// Derived definitions
// -----------------------------------------------------------------------------

func (o ops) GetDefinition(ctx context.Context, id core.IndicatorID) (*core.DerivedDefinition, error) {
	var formula string
	err := o.q.QueryRowContext(ctx,
		"SELECT formula FROM derived_definitions WHERE indicator_id = ?", id).Scan(&formula)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, &core.NotFoundError{Kind: "definition", Key: string(id)}
	}
	if err != nil {
		return nil, err
	}

	bases, err := o.baseIDs(ctx, id)
	if err != nil {
		return nil, err
	}
	return &core.DerivedDefinition{IndicatorID: id, Formula: formula, BaseIDs: bases}, nil
}

func (o ops) baseIDs(ctx context.Context, id core.IndicatorID) ([]core.IndicatorID, error) {
	rows, err := o.q.QueryContext(ctx,
		"SELECT base_id FROM derived_bases WHERE indicator_id = ? ORDER BY position", id)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []core.IndicatorID
	for rows.Next() {
		var b core.IndicatorID
		if err := rows.Scan(&b); err != nil {
			return nil, err
		}
		out = append(out, b)
	}
	return out, rows.Err()
}

func (o ops) PutDefinition(ctx context.Context, def *core.DerivedDefinition) error {
	_, err := o.q.ExecContext(ctx, `
		INSERT INTO derived_definitions (indicator_id, formula) VALUES (?, ?)
		ON CONFLICT(indicator_id) DO UPDATE SET formula = excluded.formula`,
		def.IndicatorID, def.Formula)
	if err != nil {
		return err
	}
	if _, err := o.q.ExecContext(ctx,
		"DELETE FROM derived_bases WHERE indicator_id = ?", def.IndicatorID); err != nil {
		return err
	}
	for i, base := range def.BaseIDs {
		if _, err := o.q.ExecContext(ctx,
			"INSERT INTO derived_bases (indicator_id, base_id, position) VALUES (?, ?, ?)",
			def.IndicatorID, base, i); err != nil {
			return err
		}
	}
	return nil
}

func (o ops) DeleteDefinition(ctx context.Context, id core.IndicatorID) error {
	res, err := o.q.ExecContext(ctx, "DELETE FROM derived_definitions WHERE indicator_id = ?", id)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return &core.NotFoundError{Kind: "definition", Key: string(id)}
	}
	return nil
}

func (o ops) ListDefinitions(ctx context.Context) ([]*core.DerivedDefinition, error) {
	rows, err := o.q.QueryContext(ctx,
		"SELECT indicator_id, formula FROM derived_definitions ORDER BY indicator_id")
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*core.DerivedDefinition
	for rows.Next() {
		var def core.DerivedDefinition
		if err := rows.Scan(&def.IndicatorID, &def.Formula); err != nil {
			return nil, err
		}
		out = append(out, &def)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	for _, def := range out {
		bases, err := o.baseIDs(ctx, def.IndicatorID)
		if err != nil {
			return nil, err
		}
		def.BaseIDs = bases
	}
	return out, nil
}

// -----------------------------------------------------------------------------
// Data points
// -----------------------------------------------------------------------------

func (o ops) GetDataPoint(ctx context.Context, id core.IndicatorID, period core.Period) (*core.DataPoint, error) {
	var (
		val sql.NullString
		est int
	)
	err := o.q.QueryRowContext(ctx, `
		SELECT value, is_estimate FROM data_points
		WHERE indicator_id = ? AND period = ?
		ORDER BY seq DESC LIMIT 1`, id, period).Scan(&val, &est)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, &core.NotFoundError{Kind: "data point", Key: string(id) + "/" + string(period)}
	}
	if err != nil {
		return nil, err
	}
	return &core.DataPoint{
		IndicatorID: id,
		Period:      period,
		Value:       nullableValue(val),
		IsEstimate:  est != 0,
	}, nil
}

func (o ops) PutDataPoint(ctx context.Context, p *core.DataPoint) error {
	var val any
	if p.Value.Valid {
		val = p.Value.Dec.String()
	}
	_, err := o.q.ExecContext(ctx, `
		INSERT INTO data_points (indicator_id, period, value, is_estimate)
		VALUES (?, ?, ?, ?)`,
		p.IndicatorID, p.Period, val, boolInt(p.IsEstimate))
	return err
}

func (o ops) ListDataPoints(ctx context.Context, id core.IndicatorID) ([]*core.DataPoint, error) {
	rows, err := o.q.QueryContext(ctx, `
		SELECT period, value, is_estimate FROM data_points
		WHERE seq IN (
			SELECT MAX(seq) FROM data_points WHERE indicator_id = ? GROUP BY period
		)
		ORDER BY period`, id)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*core.DataPoint
	for rows.Next() {
		var (
			p   core.DataPoint
			val sql.NullString
			est int
		)
		if err := rows.Scan(&p.Period, &val, &est); err != nil {
			return nil, err
		}
		p.IndicatorID = id
		p.Value = nullableValue(val)
		p.IsEstimate = est != 0
		out = append(out, &p)
	}
	return out, rows.Err()
}

func (o ops) ListPeriods(ctx context.Context, ids []core.IndicatorID) ([]core.Period, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	query := "SELECT DISTINCT period FROM data_points WHERE indicator_id IN (?" +
		repeat(",?", len(ids)-1) + ") ORDER BY period"
	args := make([]any, len(ids))
	for i, id := range ids {
		args[i] = id
	}

	rows, err := o.q.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []core.Period
	for rows.Next() {
		var p core.Period
		if err := rows.Scan(&p); err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

// -----------------------------------------------------------------------------
// Access levels and grants
// -----------------------------------------------------------------------------

func (o ops) GetLevel(ctx context.Context, id core.IndicatorID) (core.AccessLevel, error) {
	var level core.AccessLevel
	err := o.q.QueryRowContext(ctx,
		"SELECT level FROM access_levels WHERE indicator_id = ?", id).Scan(&level)
	if errors.Is(err, sql.ErrNoRows) {
		return "", &core.NotFoundError{Kind: "access level", Key: string(id)}
	}
	return level, err
}

func (o ops) SetLevel(ctx context.Context, id core.IndicatorID, level core.AccessLevel) error {
	_, err := o.q.ExecContext(ctx, `
		INSERT INTO access_levels (indicator_id, level) VALUES (?, ?)
		ON CONFLICT(indicator_id) DO UPDATE SET level = excluded.level`,
		id, level)
	return err
}

func (o ops) GetGrant(ctx context.Context, user core.UserID, id core.IndicatorID) (*core.Grant, error) {
	g := &core.Grant{UserID: user, IndicatorID: id}
	var view, edit, del int
	err := o.q.QueryRowContext(ctx, `
		SELECT can_view, can_edit, can_delete FROM grants
		WHERE user_id = ? AND indicator_id = ?`, user, id).Scan(&view, &edit, &del)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, &core.NotFoundError{Kind: "grant", Key: string(user) + "/" + string(id)}
	}
	if err != nil {
		return nil, err
	}
	g.CanView, g.CanEdit, g.CanDelete = view != 0, edit != 0, del != 0
	return g, nil
}

func (o ops) SetGrant(ctx context.Context, g *core.Grant) error {
	_, err := o.q.ExecContext(ctx, `
		INSERT INTO grants (user_id, indicator_id, can_view, can_edit, can_delete)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(user_id, indicator_id) DO UPDATE SET
			can_view = excluded.can_view,
			can_edit = excluded.can_edit,
			can_delete = excluded.can_delete`,
		g.UserID, g.IndicatorID, boolInt(g.CanView), boolInt(g.CanEdit), boolInt(g.CanDelete))
	return err
}

func (o ops) ListGrantsByUser(ctx context.Context, user core.UserID) ([]*core.Grant, error) {
	rows, err := o.q.QueryContext(ctx, `
		SELECT indicator_id, can_view, can_edit, can_delete FROM grants
		WHERE user_id = ? ORDER BY indicator_id`, user)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*core.Grant
	for rows.Next() {
		g := &core.Grant{UserID: user}
		var view, edit, del int
		if err := rows.Scan(&g.IndicatorID, &view, &edit, &del); err != nil {
			return nil, err
		}
		g.CanView, g.CanEdit, g.CanDelete = view != 0, edit != 0, del != 0
		out = append(out, g)
	}
	return out, rows.Err()
}

// -----------------------------------------------------------------------------
// Tables
// -----------------------------------------------------------------------------

func (o ops) GetTable(ctx context.Context, id core.TableID) (*core.Table, error) {
	t := &core.Table{ID: id}
	err := o.q.QueryRowContext(ctx,
		"SELECT name, description FROM tables WHERE id = ?", id).Scan(&t.Name, &t.Description)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, &core.NotFoundError{Kind: "table", Key: string(id)}
	}
	if err != nil {
		return nil, err
	}
	t.IndicatorIDs, err = o.tableMembers(ctx, id)
	return t, err
}

func (o ops) tableMembers(ctx context.Context, id core.TableID) ([]core.IndicatorID, error) {
	rows, err := o.q.QueryContext(ctx,
		"SELECT indicator_id FROM table_indicators WHERE table_id = ? ORDER BY position", id)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []core.IndicatorID
	for rows.Next() {
		var m core.IndicatorID
		if err := rows.Scan(&m); err != nil {
			return nil, err
		}
		out = append(out, m)
	}
	return out, rows.Err()
}

func (o ops) PutTable(ctx context.Context, t *core.Table) error {
	_, err := o.q.ExecContext(ctx, `
		INSERT INTO tables (id, name, description) VALUES (?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET name = excluded.name, description = excluded.description`,
		t.ID, t.Name, t.Description)
	if err != nil {
		return err
	}
	if _, err := o.q.ExecContext(ctx,
		"DELETE FROM table_indicators WHERE table_id = ?", t.ID); err != nil {
		return err
	}
	for i, m := range t.IndicatorIDs {
		if _, err := o.q.ExecContext(ctx,
			"INSERT INTO table_indicators (table_id, indicator_id, position) VALUES (?, ?, ?)",
			t.ID, m, i); err != nil {
			return err
		}
	}
	return nil
}

func (o ops) DeleteTable(ctx context.Context, id core.TableID) error {
	res, err := o.q.ExecContext(ctx, "DELETE FROM tables WHERE id = ?", id)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return &core.NotFoundError{Kind: "table", Key: string(id)}
	}
	return nil
}

func (o ops) ListTables(ctx context.Context) ([]*core.Table, error) {
	rows, err := o.q.QueryContext(ctx, "SELECT id, name, description FROM tables ORDER BY id")
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*core.Table
	for rows.Next() {
		var t core.Table
		if err := rows.Scan(&t.ID, &t.Name, &t.Description); err != nil {
			return nil, err
		}
		out = append(out, &t)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	for _, t := range out {
		t.IndicatorIDs, err = o.tableMembers(ctx, t.ID)
		if err != nil {
			return nil, err
		}
	}
	return out, nil
}

// -----------------------------------------------------------------------------
// Audit log
// -----------------------------------------------------------------------------

func (o ops) AppendEvent(ctx context.Context, ev *core.ChangeEvent) error {
	changes, err := json.Marshal(ev.Changes)
	if err != nil {
		return err
	}
	details := []byte("{}")
	if ev.Details != nil {
		details, err = json.Marshal(ev.Details)
		if err != nil {
			return err
		}
	}
	_, err = o.q.ExecContext(ctx, `
		INSERT INTO change_events (id, indicator_id, actor, kind, ts, changes, details)
		VALUES (?, ?, ?, ?, ?, ?, ?)`,
		ev.ID, ev.IndicatorID, ev.Actor, ev.Kind,
		ev.Timestamp.UTC().Format(time.RFC3339Nano), string(changes), string(details))
	return err
}

func (o ops) EventsByIndicator(ctx context.Context, id core.IndicatorID, kinds []core.EventKind) ([]*core.ChangeEvent, error) {
	query := "SELECT id, actor, kind, ts, changes, details FROM change_events WHERE indicator_id = ?"
	args := []any{id}
	if len(kinds) > 0 {
		query += " AND kind IN (?" + repeat(",?", len(kinds)-1) + ")"
		for _, k := range kinds {
			args = append(args, k)
		}
	}
	// Appends are chronological, so seq alone orders events. RFC3339Nano
	// strings truncate trailing zeros and do not sort lexicographically
	// within a second.
	query += " ORDER BY seq"

	rows, err := o.q.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*core.ChangeEvent
	for rows.Next() {
		ev := &core.ChangeEvent{IndicatorID: id}
		var ts, changes, details string
		if err := rows.Scan(&ev.ID, &ev.Actor, &ev.Kind, &ts, &changes, &details); err != nil {
			return nil, err
		}
		ev.Timestamp, err = time.Parse(time.RFC3339Nano, ts)
		if err != nil {
			return nil, fmt.Errorf("bad event timestamp %q: %w", ts, err)
		}
		if err := json.Unmarshal([]byte(changes), &ev.Changes); err != nil {
			return nil, err
		}
		if err := json.Unmarshal([]byte(details), &ev.Details); err != nil {
			return nil, err
		}
		out = append(out, ev)
	}
	return out, rows.Err()
}

// =============================================================================
// HELPERS
// =============================================================================

func boolInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

func nullableValue(s sql.NullString) core.Value {
	if !s.Valid {
		return core.Null()
	}
	return core.ParseValue(s.String)
}

func repeat(s string, n int) string {
	out := ""
	for i := 0; i < n; i++ {
		out += s
	}
	return out
}
