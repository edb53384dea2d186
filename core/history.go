/*
history.go - Audit-log replay and restore

PURPOSE:
  Reconstructs point-in-time views of an indicator's data from the
  append-only audit log, and restores values to a prior state.

VALUE HISTORY:
  An explicit snapshot-fold over DATA_UPDATE events in reverse
  chronological order. The fold starts from the live data points; each
  event, walking backward, renders its touched periods as
  "old -> new" (with the editor who made the change) and then peels the
  transition off, carrying the old side into the next-older snapshot.
  Untouched periods inherit the value from the next-more-recent
  snapshot. The result: for every historical timestamp, a full picture
  of what every period's value was immediately after that event.

RESTORE:
  Takes the entry list a snapshot produced. "original" selects the left
  side of each "old -> new" transition, "changed" the right side; a
  plain value restores as-is; "None" is an explicit null target
  (distinct from not providing the period at all). Writes go through
  the usual 5-decimal comparison, emit one DATA_UPDATE event, and
  trigger propagation so dependents stay consistent.

SEE ALSO:
  - engine.go: Emits the events replayed here
  - access.go: Timeline is view-gated
*/
package core

import (
	"context"
	"sort"
	"strings"
	"time"
)

// =============================================================================
// RECONSTRUCTOR
// =============================================================================

type Reconstructor struct {
	Store  Store
	Access *AccessEvaluator
	Engine *Engine
}

func NewReconstructor(store Store, access *AccessEvaluator, engine *Engine) *Reconstructor {
	return &Reconstructor{Store: store, Access: access, Engine: engine}
}

// =============================================================================
// TIMELINE
// =============================================================================

// Timeline returns the indicator's audit events in chronological order,
// gated on the requesting user's view permission. Data updates and
// metadata edits are always included; formula updates only for custom
// indicators.
func (r *Reconstructor) Timeline(ctx context.Context, id IndicatorID, user *User) ([]*ChangeEvent, error) {
	ind, err := r.Store.GetIndicator(ctx, id)
	if err != nil {
		return nil, err
	}
	if err := r.Access.Require(ctx, user, id, ActionView); err != nil {
		return nil, err
	}

	kinds := []EventKind{KindDataUpdate, KindIndicatorEdit}
	if ind.IsCustom {
		kinds = append(kinds, KindFormulaUpdate)
	}
	return r.Store.EventsByIndicator(ctx, id, kinds)
}

// =============================================================================
// VALUE HISTORY - Backward snapshot-fold
// =============================================================================

// HistoryRow is one period's display entry in a snapshot. Value is
// either a plain value string or an "old -> new" transition; Editor is
// set only on periods this snapshot's event touched.
type HistoryRow struct {
	Period Period `json:"period"`
	Value  string `json:"value"`
	Editor string `json:"user,omitempty"`
}

// HistorySnapshot is the full per-period picture immediately after one
// DATA_UPDATE event.
type HistorySnapshot struct {
	Timestamp time.Time    `json:"timestamp"`
	EventID   EventID      `json:"event_id"`
	Rows      []HistoryRow `json:"rows"`
}

// ValueHistory replays the indicator's DATA_UPDATE events from most
// recent to oldest into per-timestamp snapshots, newest first.
func (r *Reconstructor) ValueHistory(ctx context.Context, id IndicatorID) ([]HistorySnapshot, error) {
	events, err := r.Store.EventsByIndicator(ctx, id, []EventKind{KindDataUpdate})
	if err != nil {
		return nil, err
	}
	if len(events) == 0 {
		return nil, nil
	}

	live, err := r.Store.ListDataPoints(ctx, id)
	if err != nil {
		return nil, err
	}

	// Display order: every period that is live now or was ever touched.
	current := map[Period]string{}
	periodSeen := map[Period]struct{}{}
	for _, p := range live {
		current[p.Period] = p.Value.String()
		periodSeen[p.Period] = struct{}{}
	}
	for _, ev := range events {
		for _, ch := range ev.Changes {
			periodSeen[ch.Period] = struct{}{}
		}
	}
	periods := make([]Period, 0, len(periodSeen))
	for p := range periodSeen {
		periods = append(periods, p)
	}
	sort.Slice(periods, func(i, j int) bool { return periods[i] < periods[j] })

	snapshots := make([]HistorySnapshot, 0, len(events))
	for i := len(events) - 1; i >= 0; i-- {
		ev := events[i]
		touched := make(map[Period]ValueChange, len(ev.Changes))
		for _, ch := range ev.Changes {
			touched[ch.Period] = ch
		}

		rows := make([]HistoryRow, 0, len(periods))
		for _, p := range periods {
			if ch, ok := touched[p]; ok {
				rows = append(rows, HistoryRow{
					Period: p,
					Value:  ch.Old + " -> " + ch.New,
					Editor: ev.Editor(),
				})
				continue
			}
			val, ok := current[p]
			if !ok {
				val = NullString
			}
			rows = append(rows, HistoryRow{Period: p, Value: val})
		}
		snapshots = append(snapshots, HistorySnapshot{Timestamp: ev.Timestamp, EventID: ev.ID, Rows: rows})

		// Peel the transition: older snapshots see the old side.
		for p, ch := range touched {
			current[p] = ch.Old
		}
	}
	return snapshots, nil
}

// =============================================================================
// RESTORE
// =============================================================================

type RestoreTarget string

const (
	RestoreOriginal RestoreTarget = "original"
	RestoreChanged  RestoreTarget = "changed"
)

// RestoreEntry is one period's target, in the format ValueHistory
// produced: either a plain value string or an "old -> new" transition.
type RestoreEntry struct {
	Period Period `json:"period"`
	Value  string `json:"value"`
}

// Restore rolls the indicator's values to the chosen side of the
// supplied history entries. Periods not listed are untouched; an
// explicit "None" restores to null. Changes are recorded as one
// DATA_UPDATE event and propagated to dependents. The timestamp
// identifies the snapshot being restored and is kept in the event
// details for the audit trail.
func (r *Reconstructor) Restore(ctx context.Context, id IndicatorID, timestamp time.Time, target RestoreTarget, entries []RestoreEntry, actor Actor) ([]*ChangeEvent, error) {
	if _, err := r.Store.GetIndicator(ctx, id); err != nil {
		return nil, err
	}
	if !actor.IsSystem() {
		if err := r.Access.Require(ctx, actor.User, id, ActionEdit); err != nil {
			return nil, err
		}
	}

	var (
		event   *ChangeEvent
		changed []Period
	)
	err := r.Store.WithTx(ctx, func(tx Store) error {
		var changes []ValueChange
		for _, entry := range entries {
			if entry.Period == "" || entry.Value == "" {
				continue
			}
			next := resolveTarget(entry.Value, target)

			old := currentValue(ctx, tx, id, entry.Period)
			if old.Equal(next) {
				continue
			}
			if err := tx.PutDataPoint(ctx, &DataPoint{
				IndicatorID: id,
				Period:      entry.Period,
				Value:       next,
			}); err != nil {
				return err
			}
			changes = append(changes, ValueChange{Period: entry.Period, Old: old.String(), New: next.String()})
			changed = append(changed, entry.Period)
		}
		if len(changes) == 0 {
			return nil
		}
		event = r.Engine.newEvent(id, actor, KindDataUpdate)
		event.Changes = changes
		event.Details = map[string]string{
			"restored_to":       string(target),
			"restore_timestamp": timestamp.UTC().Format(time.RFC3339Nano),
		}
		return tx.AppendEvent(ctx, event)
	})
	if err != nil {
		return nil, err
	}
	if event == nil {
		return nil, nil
	}

	cascade, err := r.Engine.Propagate(ctx, id, changed, SystemActor())
	return append([]*ChangeEvent{event}, cascade...), err
}

// resolveTarget picks the numeric target out of a history value string.
func resolveTarget(value string, target RestoreTarget) Value {
	if left, right, ok := strings.Cut(value, "->"); ok {
		if target == RestoreOriginal {
			return ParseValue(left)
		}
		return ParseValue(right)
	}
	return ParseValue(value)
}
