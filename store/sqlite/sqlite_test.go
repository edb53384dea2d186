package sqlite_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/warp/indicator-engine/core"
	"github.com/warp/indicator-engine/store/sqlite"
)

// =============================================================================
// TEST SETUP
// =============================================================================

func newTestStore(t *testing.T) *sqlite.Store {
	t.Helper()
	st, err := sqlite.New(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() })
	return st
}

func putIndicator(t *testing.T, st *sqlite.Store, id, code string) {
	t.Helper()
	require.NoError(t, st.PutIndicator(context.Background(), &core.Indicator{
		ID:   core.IndicatorID(id),
		Code: core.Code(code),
		Name: code,
	}))
}

// =============================================================================
// INDICATORS
// =============================================================================

func TestSQLite_Indicator_RoundTrip(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()

	in := &core.Indicator{
		ID:          "ind-gdp",
		Code:        "GDP",
		Name:        "Gross Domestic Product",
		Description: "Annual GDP",
		Source:      "CyStat",
		Unit:        "EUR millions",
		Category:    "National Accounts",
		Country:     "CY",
		IsCustom:    false,
		Frequency:   core.FreqAnnual,
	}
	require.NoError(t, st.PutIndicator(ctx, in))

	got, err := st.GetIndicator(ctx, "ind-gdp")
	require.NoError(t, err)
	assert.Equal(t, in, got)

	byCode, err := st.GetIndicatorByCode(ctx, "GDP")
	require.NoError(t, err)
	assert.Equal(t, in.ID, byCode.ID)

	_, err = st.GetIndicator(ctx, "missing")
	assert.True(t, core.IsNotFound(err))
}

func TestSQLite_Indicator_UpsertAndDelete(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()
	putIndicator(t, st, "ind-a", "A")

	upd := &core.Indicator{ID: "ind-a", Code: "A2", Name: "renamed", IsCustom: true}
	require.NoError(t, st.PutIndicator(ctx, upd))

	got, err := st.GetIndicator(ctx, "ind-a")
	require.NoError(t, err)
	assert.Equal(t, core.Code("A2"), got.Code)
	assert.True(t, got.IsCustom)

	_, err = st.GetIndicatorByCode(ctx, "A")
	assert.True(t, core.IsNotFound(err), "old code should be released")

	require.NoError(t, st.DeleteIndicator(ctx, "ind-a"))
	err = st.DeleteIndicator(ctx, "ind-a")
	assert.True(t, core.IsNotFound(err))
}

// =============================================================================
// DERIVED DEFINITIONS
// =============================================================================

func TestSQLite_Definition_PreservesBaseOrder(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()
	putIndicator(t, st, "ind-d", "D")

	def := &core.DerivedDefinition{
		IndicatorID: "ind-d",
		Formula:     "@C + @A - @B",
		BaseIDs:     []core.IndicatorID{"ind-c", "ind-a", "ind-b"},
	}
	require.NoError(t, st.PutDefinition(ctx, def))

	got, err := st.GetDefinition(ctx, "ind-d")
	require.NoError(t, err)
	assert.Equal(t, def, got)

	// Replacing swaps the base set wholesale.
	def.Formula = "@A"
	def.BaseIDs = []core.IndicatorID{"ind-a"}
	require.NoError(t, st.PutDefinition(ctx, def))

	got, err = st.GetDefinition(ctx, "ind-d")
	require.NoError(t, err)
	assert.Equal(t, []core.IndicatorID{"ind-a"}, got.BaseIDs)

	defs, err := st.ListDefinitions(ctx)
	require.NoError(t, err)
	require.Len(t, defs, 1)
	assert.Equal(t, def.Formula, defs[0].Formula)
}

// =============================================================================
// DATA POINTS - Most recent wins
// =============================================================================

func TestSQLite_DataPoints_MostRecentWriteWins(t *testing.T) {
	// GIVEN: Two writes for the same (indicator, period)
	// THEN: Reads return the later row; the earlier row is superseded,
	//       not deleted

	st := newTestStore(t)
	ctx := context.Background()

	first := &core.DataPoint{IndicatorID: "ind-a", Period: "2023", Value: core.ValueFromFloat(1)}
	second := &core.DataPoint{IndicatorID: "ind-a", Period: "2023", Value: core.ValueFromFloat(2), IsEstimate: true}
	require.NoError(t, st.PutDataPoint(ctx, first))
	require.NoError(t, st.PutDataPoint(ctx, second))

	got, err := st.GetDataPoint(ctx, "ind-a", "2023")
	require.NoError(t, err)
	assert.Equal(t, "2.00000", got.Value.String())
	assert.True(t, got.IsEstimate)

	points, err := st.ListDataPoints(ctx, "ind-a")
	require.NoError(t, err)
	require.Len(t, points, 1, "one authoritative row per period")
	assert.Equal(t, "2.00000", points[0].Value.String())
}

func TestSQLite_DataPoints_NullValue(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, st.PutDataPoint(ctx, &core.DataPoint{
		IndicatorID: "ind-a", Period: "2023", Value: core.Null(),
	}))
	got, err := st.GetDataPoint(ctx, "ind-a", "2023")
	require.NoError(t, err)
	assert.True(t, got.Value.IsNull())
}

func TestSQLite_ListPeriods_UnionAcrossIndicators(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()

	for _, p := range []struct {
		id     core.IndicatorID
		period core.Period
	}{
		{"ind-a", "2022"}, {"ind-a", "2023"}, {"ind-b", "2023"}, {"ind-b", "2024"}, {"ind-c", "1999"},
	} {
		require.NoError(t, st.PutDataPoint(ctx, &core.DataPoint{
			IndicatorID: p.id, Period: p.period, Value: core.ValueFromFloat(1),
		}))
	}

	periods, err := st.ListPeriods(ctx, []core.IndicatorID{"ind-a", "ind-b"})
	require.NoError(t, err)
	assert.Equal(t, []core.Period{"2022", "2023", "2024"}, periods)

	periods, err = st.ListPeriods(ctx, nil)
	require.NoError(t, err)
	assert.Empty(t, periods)
}

// =============================================================================
// ACCESS LEVELS AND GRANTS
// =============================================================================

func TestSQLite_Levels_And_Grants(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()

	_, err := st.GetLevel(ctx, "ind-a")
	assert.True(t, core.IsNotFound(err))

	require.NoError(t, st.SetLevel(ctx, "ind-a", core.LevelRestricted))
	level, err := st.GetLevel(ctx, "ind-a")
	require.NoError(t, err)
	assert.Equal(t, core.LevelRestricted, level)

	g := &core.Grant{UserID: "maria", IndicatorID: "ind-a", CanView: true, CanEdit: true}
	require.NoError(t, st.SetGrant(ctx, g))

	got, err := st.GetGrant(ctx, "maria", "ind-a")
	require.NoError(t, err)
	assert.Equal(t, g, got)

	// Upsert revokes edit.
	g.CanEdit = false
	require.NoError(t, st.SetGrant(ctx, g))
	got, err = st.GetGrant(ctx, "maria", "ind-a")
	require.NoError(t, err)
	assert.False(t, got.CanEdit)

	grants, err := st.ListGrantsByUser(ctx, "maria")
	require.NoError(t, err)
	assert.Len(t, grants, 1)
}

// =============================================================================
// TABLES
// =============================================================================

func TestSQLite_Table_MemberOrderPreserved(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()

	tab := &core.Table{
		ID:           "tbl-macro",
		Name:         "Macro",
		Description:  "Macroeconomic indicators",
		IndicatorIDs: []core.IndicatorID{"ind-z", "ind-a", "ind-m"},
	}
	require.NoError(t, st.PutTable(ctx, tab))

	got, err := st.GetTable(ctx, "tbl-macro")
	require.NoError(t, err)
	assert.Equal(t, tab, got)

	require.NoError(t, st.DeleteTable(ctx, "tbl-macro"))
	_, err = st.GetTable(ctx, "tbl-macro")
	assert.True(t, core.IsNotFound(err))
}

// =============================================================================
// AUDIT LOG
// =============================================================================

func TestSQLite_Events_OrderAndFilter(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()
	base := time.Date(2024, time.March, 1, 12, 0, 0, 0, time.UTC)

	events := []*core.ChangeEvent{
		{ID: "ev-1", IndicatorID: "ind-a", Kind: core.KindIndicatorCreate, Timestamp: base,
			Details: map[string]string{"name": "A"}},
		{ID: "ev-2", IndicatorID: "ind-a", Actor: "maria", Kind: core.KindDataUpdate, Timestamp: base.Add(time.Minute),
			Changes: []core.ValueChange{{Period: "2023", Old: "None", New: "1.00000"}}},
		{ID: "ev-3", IndicatorID: "ind-b", Kind: core.KindDataUpdate, Timestamp: base.Add(2 * time.Minute)},
		{ID: "ev-4", IndicatorID: "ind-a", Kind: core.KindDataUpdate, Timestamp: base.Add(3 * time.Minute),
			Changes: []core.ValueChange{{Period: "2023", Old: "1.00000", New: "2.00000"}}},
	}
	for _, ev := range events {
		require.NoError(t, st.AppendEvent(ctx, ev))
	}

	got, err := st.EventsByIndicator(ctx, "ind-a", nil)
	require.NoError(t, err)
	require.Len(t, got, 3)
	assert.Equal(t, core.EventID("ev-1"), got[0].ID)
	assert.Equal(t, core.EventID("ev-4"), got[2].ID)
	assert.Equal(t, "maria", got[1].Editor())
	assert.Equal(t, events[1].Changes, got[1].Changes)
	assert.True(t, got[0].Timestamp.Equal(base))

	updates, err := st.EventsByIndicator(ctx, "ind-a", []core.EventKind{core.KindDataUpdate})
	require.NoError(t, err)
	assert.Len(t, updates, 2)
}

func TestSQLite_Events_SubSecondTimestamps_KeepAppendOrder(t *testing.T) {
	// An exact-second timestamp renders with no fractional part, which
	// sorts after a same-second fractional one as a string ('Z' > '.').
	// Reads must follow append order regardless.

	st := newTestStore(t)
	ctx := context.Background()
	base := time.Date(2024, time.March, 1, 12, 0, 0, 0, time.UTC)

	require.NoError(t, st.AppendEvent(ctx, &core.ChangeEvent{
		ID: "ev-whole", IndicatorID: "ind-a", Kind: core.KindDataUpdate, Timestamp: base,
	}))
	require.NoError(t, st.AppendEvent(ctx, &core.ChangeEvent{
		ID: "ev-frac", IndicatorID: "ind-a", Kind: core.KindDataUpdate, Timestamp: base.Add(time.Microsecond),
	}))

	got, err := st.EventsByIndicator(ctx, "ind-a", nil)
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, core.EventID("ev-whole"), got[0].ID)
	assert.Equal(t, core.EventID("ev-frac"), got[1].ID)
}

// =============================================================================
// TRANSACTIONS
// =============================================================================

func TestSQLite_WithTx_RollsBackOnError(t *testing.T) {
	// GIVEN: A transaction writing a data point and an event
	// WHEN: The closure fails afterwards
	// THEN: Neither write is visible

	st := newTestStore(t)
	ctx := context.Background()
	boom := errors.New("boom")

	err := st.WithTx(ctx, func(tx core.Store) error {
		if err := tx.PutDataPoint(ctx, &core.DataPoint{
			IndicatorID: "ind-a", Period: "2023", Value: core.ValueFromFloat(1),
		}); err != nil {
			return err
		}
		if err := tx.AppendEvent(ctx, &core.ChangeEvent{
			ID: "ev-1", IndicatorID: "ind-a", Kind: core.KindDataUpdate, Timestamp: time.Now(),
		}); err != nil {
			return err
		}
		return boom
	})
	assert.ErrorIs(t, err, boom)

	_, err = st.GetDataPoint(ctx, "ind-a", "2023")
	assert.True(t, core.IsNotFound(err))
	events, err := st.EventsByIndicator(ctx, "ind-a", nil)
	require.NoError(t, err)
	assert.Empty(t, events)
}

func TestSQLite_WithTx_NestedJoinsOuter(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()
	boom := errors.New("boom")

	err := st.WithTx(ctx, func(tx core.Store) error {
		if err := tx.WithTx(ctx, func(inner core.Store) error {
			return inner.PutDataPoint(ctx, &core.DataPoint{
				IndicatorID: "ind-a", Period: "2023", Value: core.ValueFromFloat(1),
			})
		}); err != nil {
			return err
		}
		return boom
	})
	assert.ErrorIs(t, err, boom)

	_, err = st.GetDataPoint(ctx, "ind-a", "2023")
	assert.True(t, core.IsNotFound(err), "inner writes roll back with the outer tx")
}

func TestSQLite_WithTx_CommitsOnSuccess(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()

	err := st.WithTx(ctx, func(tx core.Store) error {
		return tx.PutDataPoint(ctx, &core.DataPoint{
			IndicatorID: "ind-a", Period: "2023", Value: core.ValueFromFloat(1),
		})
	})
	require.NoError(t, err)

	got, err := st.GetDataPoint(ctx, "ind-a", "2023")
	require.NoError(t, err)
	assert.Equal(t, "1.00000", got.Value.String())
}
