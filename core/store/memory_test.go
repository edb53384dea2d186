package store_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/warp/indicator-engine/core"
	"github.com/warp/indicator-engine/core/store"
)

func TestMemory_WithTx_RollsBackEverything(t *testing.T) {
	// GIVEN: A transaction touching data, levels, and the audit log
	// WHEN: The closure fails at the end
	// THEN: The store is byte-for-byte back to its pre-transaction state

	mem := store.NewMemory()
	ctx := context.Background()
	require.NoError(t, mem.PutIndicator(ctx, &core.Indicator{ID: "ind-a", Code: "A"}))
	require.NoError(t, mem.SetLevel(ctx, "ind-a", core.LevelPublic))

	boom := errors.New("boom")
	err := mem.WithTx(ctx, func(tx core.Store) error {
		if err := tx.PutDataPoint(ctx, &core.DataPoint{
			IndicatorID: "ind-a", Period: "2023", Value: core.ValueFromFloat(1),
		}); err != nil {
			return err
		}
		if err := tx.SetLevel(ctx, "ind-a", core.LevelRestricted); err != nil {
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

	_, err = mem.GetDataPoint(ctx, "ind-a", "2023")
	assert.True(t, core.IsNotFound(err))
	level, err := mem.GetLevel(ctx, "ind-a")
	require.NoError(t, err)
	assert.Equal(t, core.LevelPublic, level)
	events, err := mem.EventsByIndicator(ctx, "ind-a", nil)
	require.NoError(t, err)
	assert.Empty(t, events)
}

func TestMemory_WithTx_NestedJoinsOuter(t *testing.T) {
	mem := store.NewMemory()
	ctx := context.Background()
	boom := errors.New("boom")

	err := mem.WithTx(ctx, func(tx core.Store) error {
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

	_, err = mem.GetDataPoint(ctx, "ind-a", "2023")
	assert.True(t, core.IsNotFound(err), "inner writes roll back with the outer tx")
}

func TestMemory_GetReturnsCopies(t *testing.T) {
	// Mutating a returned record must not leak into the store.
	mem := store.NewMemory()
	ctx := context.Background()
	require.NoError(t, mem.PutIndicator(ctx, &core.Indicator{ID: "ind-a", Code: "A", Name: "original"}))

	got, err := mem.GetIndicator(ctx, "ind-a")
	require.NoError(t, err)
	got.Name = "mutated"

	again, err := mem.GetIndicator(ctx, "ind-a")
	require.NoError(t, err)
	assert.Equal(t, "original", again.Name)
}
