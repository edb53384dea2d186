/*
errors.go - Centralized error types for the indicator engine

PURPOSE:
  All error types in one place for consistency and discoverability.
  Callers match with errors.Is / errors.As; the API layer maps these
  onto HTTP status codes.

ERROR CATEGORIES:
  1. Lookup errors      - missing indicators, users, grants
  2. Permission errors  - the access evaluator said no
  3. Formula errors     - unparseable expressions, dependency cycles
  4. Propagation errors - a recompute step failed to commit

USAGE:
  if errors.Is(err, core.ErrCycleDetected) {
      // reject the formula edit, prior edges are untouched
  }

SEE ALSO:
  - engine.go: Uses these errors
  - access.go: Produces PermissionError
*/
package core

import (
	"errors"
	"fmt"
)

// =============================================================================
// SENTINEL ERRORS - Use with errors.Is()
// =============================================================================

var (
	// ErrNotFound is returned when an indicator, user, table, or grant
	// does not exist.
	ErrNotFound = errors.New("not found")

	// ErrPermissionDenied is returned when the access evaluator rejects
	// an operation. No writes are applied.
	ErrPermissionDenied = errors.New("permission denied")

	// ErrCycleDetected is returned when a formula would make a derived
	// indicator transitively depend on itself. The prior edge set is
	// left unchanged.
	ErrCycleDetected = errors.New("dependency cycle detected")

	// ErrInvalidFormula is returned for an unparseable expression.
	ErrInvalidFormula = errors.New("invalid formula")

	// ErrIndicatorInUse is returned when deleting an indicator that is
	// still a base of some derived indicator.
	ErrIndicatorInUse = errors.New("indicator is a dependency of a derived indicator")

	// ErrCountryAndRegion is returned when an indicator carries both a
	// country and a region; exactly one may be set.
	ErrCountryAndRegion = errors.New("indicator may have a country or a region, not both")

	// ErrPropagationFailed is returned when a recompute step could not
	// be committed. Steps already committed remain; the failing step
	// left no partial writes.
	ErrPropagationFailed = errors.New("propagation failed")
)

// =============================================================================
// STRUCTURED ERRORS - Carry additional context
// =============================================================================

// NotFoundError identifies what was missing.
type NotFoundError struct {
	Kind string // "indicator", "code", "user", "table", "grant", "event"
	Key  string
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("%s %q not found", e.Kind, e.Key)
}

func (e *NotFoundError) Unwrap() error { return ErrNotFound }

// PermissionError reports which check failed.
type PermissionError struct {
	UserID      UserID
	IndicatorID IndicatorID
	Action      Action
}

func (e *PermissionError) Error() string {
	return fmt.Sprintf("user %q may not %s indicator %q", e.UserID, e.Action, e.IndicatorID)
}

func (e *PermissionError) Unwrap() error { return ErrPermissionDenied }

// CycleError reports the indicator whose formula closed a cycle and the
// base through which the cycle was reached.
type CycleError struct {
	IndicatorID IndicatorID
	Through     IndicatorID
}

func (e *CycleError) Error() string {
	return fmt.Sprintf("formula for %q would depend on itself through %q", e.IndicatorID, e.Through)
}

func (e *CycleError) Unwrap() error { return ErrCycleDetected }

// FormulaError reports where parsing failed.
type FormulaError struct {
	Formula  string
	Position int
	Message  string
}

func (e *FormulaError) Error() string {
	return fmt.Sprintf("invalid formula at offset %d: %s", e.Position, e.Message)
}

func (e *FormulaError) Unwrap() error { return ErrInvalidFormula }

// PropagationError reports which recompute step aborted. Writes for
// that step were rolled back; earlier steps stand.
type PropagationError struct {
	IndicatorID IndicatorID
	Err         error
}

func (e *PropagationError) Error() string {
	return fmt.Sprintf("recompute of %q aborted: %v", e.IndicatorID, e.Err)
}

func (e *PropagationError) Unwrap() error { return ErrPropagationFailed }

// =============================================================================
// ERROR HELPERS
// =============================================================================

// IsNotFound reports whether the error indicates a missing record.
func IsNotFound(err error) bool { return errors.Is(err, ErrNotFound) }

// IsClientError reports whether the error is due to invalid caller
// input rather than an internal failure.
func IsClientError(err error) bool {
	return errors.Is(err, ErrInvalidFormula) ||
		errors.Is(err, ErrCycleDetected) ||
		errors.Is(err, ErrCountryAndRegion) ||
		errors.Is(err, ErrIndicatorInUse)
}
