/*
store.go - Persistence interfaces for indicators, data, access, and audit

PURPOSE:
  Defines the interface between the engine and the database. The engine
  only requires key-value-style access keyed by indicator and
  (indicator, period), plus an append-only audit log and a transaction
  boundary for atomic recompute steps.

KEY INTERFACES:
  IndicatorStore: Indicator and DerivedDefinition records
  DataStore:      DataPoints; the most recently written row per
                  (indicator, period) is authoritative
  AccessStore:    AccessLevels and per-user Grants
  TableStore:     Named indicator groups
  AuditLog:       Append-only ChangeEvents (no update, no delete)
  Store:          All of the above plus WithTx

ATOMICITY:
  WithTx is the boundary the engine relies on: one derived indicator's
  recompute step (its DataPoint writes plus its single ChangeEvent)
  either commits together or not at all.

IMPLEMENTATIONS:
  - store/sqlite:      Production SQLite
  - core/store/memory: In-memory for tests and development

SEE ALSO:
  - engine.go: Wraps recompute steps in WithTx
  - history.go: Replays AuditLog events
*/
package core

import "context"

// =============================================================================
// INDICATORS
// =============================================================================

type IndicatorStore interface {
	GetIndicator(ctx context.Context, id IndicatorID) (*Indicator, error)
	GetIndicatorByCode(ctx context.Context, code Code) (*Indicator, error)
	PutIndicator(ctx context.Context, ind *Indicator) error
	DeleteIndicator(ctx context.Context, id IndicatorID) error
	ListIndicators(ctx context.Context) ([]*Indicator, error)

	GetDefinition(ctx context.Context, id IndicatorID) (*DerivedDefinition, error)
	PutDefinition(ctx context.Context, def *DerivedDefinition) error
	DeleteDefinition(ctx context.Context, id IndicatorID) error
	ListDefinitions(ctx context.Context) ([]*DerivedDefinition, error)
}

// =============================================================================
// DATA POINTS
// =============================================================================

type DataStore interface {
	// GetDataPoint returns the authoritative (most recently written)
	// row for the key, or ErrNotFound if none exists.
	GetDataPoint(ctx context.Context, id IndicatorID, period Period) (*DataPoint, error)

	// PutDataPoint writes a row. An existing row for the same key is
	// superseded, never deleted.
	PutDataPoint(ctx context.Context, p *DataPoint) error

	// ListDataPoints returns the authoritative row per period, ordered
	// by period label.
	ListDataPoints(ctx context.Context, id IndicatorID) ([]*DataPoint, error)

	// ListPeriods returns the distinct union of period labels across
	// the given indicators, ordered.
	ListPeriods(ctx context.Context, ids []IndicatorID) ([]Period, error)
}

// =============================================================================
// ACCESS CONTROL
// =============================================================================

type AccessStore interface {
	// GetLevel returns ErrNotFound when no level has been initialized
	// for the indicator yet; the evaluator lazily defaults it.
	GetLevel(ctx context.Context, id IndicatorID) (AccessLevel, error)
	SetLevel(ctx context.Context, id IndicatorID, level AccessLevel) error

	GetGrant(ctx context.Context, user UserID, id IndicatorID) (*Grant, error)
	SetGrant(ctx context.Context, g *Grant) error
	ListGrantsByUser(ctx context.Context, user UserID) ([]*Grant, error)
}

// =============================================================================
// TABLES
// =============================================================================

type TableStore interface {
	GetTable(ctx context.Context, id TableID) (*Table, error)
	PutTable(ctx context.Context, t *Table) error
	DeleteTable(ctx context.Context, id TableID) error
	ListTables(ctx context.Context) ([]*Table, error)
}

// =============================================================================
// AUDIT LOG - Append-only
// =============================================================================

// AuditLog is the system of record for history reconstruction.
// IMPORTANT: append-only. No update, no delete. Ever.
type AuditLog interface {
	AppendEvent(ctx context.Context, ev *ChangeEvent) error

	// EventsByIndicator returns events of the given kinds (all kinds if
	// empty), ordered by timestamp ascending, append order breaking
	// ties.
	EventsByIndicator(ctx context.Context, id IndicatorID, kinds []EventKind) ([]*ChangeEvent, error)
}

// =============================================================================
// STORE - Composed persistence surface
// =============================================================================

type Store interface {
	IndicatorStore
	DataStore
	AccessStore
	TableStore
	AuditLog

	// WithTx executes fn atomically. If fn returns an error, none of
	// its writes are visible. Nested calls join the outer transaction.
	WithTx(ctx context.Context, fn func(Store) error) error
}
