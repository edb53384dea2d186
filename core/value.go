/*
value.go - Nullable decimal values and the 5-decimal comparison rule

PURPOSE:
  Indicator values are nullable decimals. Null means "no value" (a base
  observation that was never reported, or a derived value that cannot be
  computed). Change detection everywhere in the engine uses one rule:
  two values are unchanged iff they render identically at 5 decimal
  places, matching the storage precision.

STRING FORM:
  Value.String() produces the canonical audit-trail rendering:
    null     -> "None"
    11.1111111 -> "11.11111"
  ParseValue inverts it, so ChangeEvent payloads round-trip through
  history reconstruction and restore.

SEE ALSO:
  - types.go: DataPoint and ValueChange
  - history.go: Restore parses these strings back
*/
package core

import (
	"strings"

	"github.com/shopspring/decimal"
)

// ValuePrecision is the storage precision: values compare equal iff
// they round-format identically at this many decimal places.
const ValuePrecision = 5

// NullString is the canonical rendering of a null value in audit
// payloads and restore entries.
const NullString = "None"

// =============================================================================
// VALUE - A nullable decimal
// =============================================================================

type Value struct {
	Dec   decimal.Decimal
	Valid bool
}

// Null returns the null value.
func Null() Value { return Value{} }

// NewValue wraps a decimal as a non-null value.
func NewValue(d decimal.Decimal) Value { return Value{Dec: d, Valid: true} }

// ValueFromFloat wraps a float as a non-null value.
func ValueFromFloat(f float64) Value {
	return Value{Dec: decimal.NewFromFloat(f), Valid: true}
}

// ParseValue parses the canonical string form. "None", the empty
// string, and unparseable input all map to null; restore treats a
// malformed entry the same as an explicit null rather than failing the
// whole batch.
func ParseValue(s string) Value {
	s = strings.TrimSpace(s)
	if s == "" || s == NullString {
		return Null()
	}
	d, err := decimal.NewFromString(s)
	if err != nil {
		return Null()
	}
	return NewValue(d)
}

func (v Value) IsNull() bool { return !v.Valid }

// Float returns the float64 rendering for formula arithmetic. Null
// yields (0, false).
func (v Value) Float() (float64, bool) {
	if !v.Valid {
		return 0, false
	}
	return v.Dec.InexactFloat64(), true
}

// String renders the value at storage precision, or "None" for null.
func (v Value) String() string {
	if !v.Valid {
		return NullString
	}
	return v.Dec.StringFixed(ValuePrecision)
}

// Equal applies the 5-decimal-place rule. Two nulls are equal; a null
// and a non-null are not; otherwise the fixed renderings must match.
func (v Value) Equal(o Value) bool {
	if !v.Valid || !o.Valid {
		return v.Valid == o.Valid
	}
	return v.Dec.StringFixed(ValuePrecision) == o.Dec.StringFixed(ValuePrecision)
}
