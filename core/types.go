/*
Package core provides the indicator computation and access-control engine.

PURPOSE:
  This package contains the domain types and algorithms for managing
  coded statistical time series ("indicators"), derived indicators
  computed from other indicators via formulas, fine-grained access
  control, and a replayable audit trail of every value change.

KEY CONCEPTS IN THIS FILE (types.go):
  - Indicator: A named, coded time series
  - DataPoint: One (indicator, period) observation with a nullable value
  - DerivedDefinition: Formula + base set for a computed indicator
  - ChangeEvent: An immutable audit record of a batch of changes
  - Actor/User: Who is performing an operation (or the system itself)

DESIGN PRINCIPLES:
  1. Immutability: ChangeEvents are never modified, only appended
  2. Precision: Values use decimal.Decimal; change detection compares
     at exactly 5 decimal places
  3. Type Safety: Strong typing for IDs prevents mixing indicator,
     user, and table identifiers
  4. Auditability: Every value change is traceable to an event

USAGE:
  ind := &core.Indicator{ID: "ind-gdp", Code: "GDP", Name: "GDP"}
  point := &core.DataPoint{
      IndicatorID: ind.ID,
      Period:      "2023",
      Value:       core.ValueFromFloat(1000),
  }

SEE ALSO:
  - value.go: Nullable decimal value with the 5-decimal comparison rule
  - engine.go: Write and propagation operations
  - access.go: Permission evaluation
*/
package core

import (
	"time"
)

// =============================================================================
// IDENTIFIERS
// =============================================================================

type IndicatorID string
type UserID string
type TableID string
type EventID string

// Code is an indicator's unique mnemonic, used as the `@CODE` reference
// token inside formulas.
type Code string

// Period is an opaque, ordered string label identifying one point in a
// time series (e.g. "2023", "2023-Q1", "04-2023"). The engine never
// interprets it beyond lexicographic ordering for display.
type Period string

// Clock supplies event timestamps. Injected for deterministic tests.
type Clock func() time.Time

// =============================================================================
// INDICATOR - A named, coded time series
// =============================================================================

// Frequency describes how often a series is observed. Informational
// metadata only; the engine treats periods as opaque labels.
type Frequency string

const (
	FreqDaily     Frequency = "DAILY"
	FreqWeekly    Frequency = "WEEKLY"
	FreqMonthly   Frequency = "MONTHLY"
	FreqQuarterly Frequency = "QUARTERLY"
	FreqAnnual    Frequency = "ANNUAL"
	FreqCustom    Frequency = "CUSTOM"
)

type Indicator struct {
	ID          IndicatorID
	Code        Code
	Name        string
	Description string
	Source      string
	Unit        string
	Category    string

	// Exactly one of Country or Region may be set.
	Country string
	Region  string

	// IsCustom marks a derived indicator backed by a DerivedDefinition.
	IsCustom  bool
	Frequency Frequency
}

// Validate checks structural invariants that hold for every indicator.
func (i *Indicator) Validate() error {
	if i.ID == "" {
		return &NotFoundError{Kind: "indicator", Key: "(empty id)"}
	}
	if i.Code == "" {
		return &FormulaError{Formula: "", Message: "indicator code must not be empty"}
	}
	if i.Country != "" && i.Region != "" {
		return ErrCountryAndRegion
	}
	return nil
}

// =============================================================================
// DATA POINT - One observation of one indicator
// =============================================================================

// DataPoint is logically keyed by (IndicatorID, Period). Stores may hold
// superseded rows for the same key; the most recently written row is
// authoritative.
type DataPoint struct {
	IndicatorID IndicatorID
	Period      Period
	Value       Value
	IsEstimate  bool
}

// =============================================================================
// DERIVED DEFINITION - Formula backing a custom indicator
// =============================================================================

// DerivedDefinition is one-to-one with an Indicator where IsCustom is
// true. BaseIDs always equals the set of codes referenced by Formula,
// resolved to indicator IDs at definition time. Redefining the formula
// replaces the set atomically.
type DerivedDefinition struct {
	IndicatorID IndicatorID
	Formula     string
	BaseIDs     []IndicatorID
}

// =============================================================================
// TABLE - Named group of indicators
// =============================================================================

type Table struct {
	ID           TableID
	Name         string
	Description  string
	IndicatorIDs []IndicatorID
}

// =============================================================================
// USER / ACTOR
// =============================================================================

// User is the identity the (external) authentication layer resolves for
// a request token. OrgMember is precomputed by the identity provider.
type User struct {
	ID          UserID
	Email       string
	IsSuperuser bool
	OrgMember   bool
}

// Actor is who an operation runs as. Only SystemActor bypasses
// permission checks; a user actor with a nil User is an anonymous
// caller and goes through the evaluator like any other user.
type Actor struct {
	User   *User
	System bool
}

// SystemActor returns the system identity used for ingestion and for
// propagation cascades.
func SystemActor() Actor { return Actor{System: true} }

// UserActor wraps a resolved user. A nil user is anonymous, not the
// system.
func UserActor(u *User) Actor { return Actor{User: u} }

func (a Actor) IsSystem() bool { return a.System }

// ActorID returns the user ID, or "" for the system actor.
func (a Actor) ActorID() UserID {
	if a.User == nil {
		return ""
	}
	return a.User.ID
}

// =============================================================================
// CHANGE EVENT - Immutable audit record
// =============================================================================

type EventKind string

const (
	KindDataUpdate      EventKind = "DATA_UPDATE"
	KindIndicatorEdit   EventKind = "INDICATOR_EDIT"
	KindIndicatorCreate EventKind = "INDICATOR_CREATE"
	KindIndicatorDelete EventKind = "INDICATOR_DELETE"
	KindFormulaUpdate   EventKind = "FORMULA_UPDATE"
)

// ValueChange records one period's transition inside a DATA_UPDATE
// event. Old and New are Value.String() renderings ("None" for null),
// which is exactly the format ValueHistory and Restore replay.
type ValueChange struct {
	Period Period `json:"period"`
	Old    string `json:"old_value"`
	New    string `json:"new_value"`
}

// ChangeEvent is append-only and never mutated. One event covers one
// logical batch of changes for one indicator (e.g. one propagation pass
// over a derived indicator emits a single event, not one per period).
type ChangeEvent struct {
	ID          EventID
	IndicatorID IndicatorID

	// Actor is empty for system-initiated changes (ingestion, cascades).
	Actor UserID

	Kind      EventKind
	Timestamp time.Time

	// Changes is the ordered payload for DATA_UPDATE events.
	Changes []ValueChange

	// Details carries the payload for non-data events (edited fields,
	// old/new formula, restore parameters).
	Details map[string]string
}

// Editor returns the display identity for history views.
func (e *ChangeEvent) Editor() string {
	if e.Actor == "" {
		return "system"
	}
	return string(e.Actor)
}
