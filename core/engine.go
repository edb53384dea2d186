/*
engine.go - Write operations and dependency propagation

PURPOSE:
  The computation engine. Every value write funnels through here:
  direct user edits, trusted ingestion, formula definition, and restore.
  After any base change, affected derived indicators are recomputed in
  dependency order and every recorded change is appended to the audit
  log in the exact shape the history reconstructor replays.

PROPAGATION:
  propagate(root, periods) walks TransitiveDependents(root). For each
  affected derived indicator it recomputes the periods whose bases
  changed, compares old and new at 5 decimal places, and - if anything
  changed - writes the new points and exactly ONE DATA_UPDATE event for
  that indicator, atomically. That indicator's change set then feeds the
  indicators depending on it.

PERMISSIONS:
  Only the directly edited indicator is permission-checked, and only
  for user actors. Cascaded recomputation and ingestion run as the
  system actor and are logged with an empty actor ID.

FAILURE SEMANTICS:
  A null formula result is not an error; it writes a null value when
  that differs from the stored one. A store failure aborts the
  in-progress recompute step without committing any of its writes or
  its event; committed steps stand, and the caller receives a
  PropagationError.

SEE ALSO:
  - graph.go: Affected-set traversal and cycle rejection
  - formula.go: Evaluation and null propagation
  - history.go: Replays the events emitted here
*/
package core

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// =============================================================================
// ENGINE
// =============================================================================

type Engine struct {
	Store  Store
	Graph  *Graph
	Access *AccessEvaluator
	Clock  Clock
	Log    *zap.Logger
}

func NewEngine(store Store, graph *Graph, access *AccessEvaluator) *Engine {
	return &Engine{
		Store:  store,
		Graph:  graph,
		Access: access,
		Clock:  time.Now,
		Log:    zap.NewNop(),
	}
}

// DataPointInput is one period's incoming observation.
type DataPointInput struct {
	Period     Period
	Value      Value
	IsEstimate bool
}

func (e *Engine) now() time.Time { return e.Clock() }

func (e *Engine) newEvent(id IndicatorID, actor Actor, kind EventKind) *ChangeEvent {
	return &ChangeEvent{
		ID:          EventID(uuid.NewString()),
		IndicatorID: id,
		Actor:       actor.ActorID(),
		Kind:        kind,
		Timestamp:   e.now(),
	}
}

// =============================================================================
// DATA WRITES
// =============================================================================

// WriteDataPoints writes a batch of observations for one indicator,
// records a single DATA_UPDATE event for the periods whose value
// actually changed, and propagates to dependents. User actors must pass
// the edit check on this indicator; ingestion passes SystemActor.
//
// The returned events are the direct event (if any) followed by the
// propagation events in dependency order.
func (e *Engine) WriteDataPoints(ctx context.Context, id IndicatorID, entries []DataPointInput, actor Actor) ([]*ChangeEvent, error) {
	if _, err := e.Store.GetIndicator(ctx, id); err != nil {
		return nil, err
	}
	if !actor.IsSystem() {
		if err := e.Access.Require(ctx, actor.User, id, ActionEdit); err != nil {
			return nil, err
		}
	}

	var (
		event   *ChangeEvent
		changed []Period
	)
	err := e.Store.WithTx(ctx, func(tx Store) error {
		var changes []ValueChange
		for _, in := range entries {
			old := currentValue(ctx, tx, id, in.Period)
			if err := tx.PutDataPoint(ctx, &DataPoint{
				IndicatorID: id,
				Period:      in.Period,
				Value:       in.Value,
				IsEstimate:  in.IsEstimate,
			}); err != nil {
				return err
			}
			if !old.Equal(in.Value) {
				changes = append(changes, ValueChange{Period: in.Period, Old: old.String(), New: in.Value.String()})
				changed = append(changed, in.Period)
			}
		}
		if len(changes) == 0 {
			return nil
		}
		event = e.newEvent(id, actor, KindDataUpdate)
		event.Changes = changes
		return tx.AppendEvent(ctx, event)
	})
	if err != nil {
		return nil, err
	}
	if event == nil {
		return nil, nil
	}

	e.Log.Debug("data points written",
		zap.String("indicator", string(id)),
		zap.Int("changed_periods", len(changed)),
		zap.String("actor", string(actor.ActorID())))

	cascade, err := e.Propagate(ctx, id, changed, SystemActor())
	if err != nil {
		return append([]*ChangeEvent{event}, cascade...), err
	}
	return append([]*ChangeEvent{event}, cascade...), nil
}

// =============================================================================
// PROPAGATION
// =============================================================================

// Propagate recomputes every derived indicator transitively affected by
// a change to root for the given periods. It returns the DATA_UPDATE
// events emitted, one per affected indicator that actually changed.
func (e *Engine) Propagate(ctx context.Context, root IndicatorID, periods []Period, actor Actor) ([]*ChangeEvent, error) {
	if len(periods) == 0 {
		return nil, nil
	}

	changed := map[IndicatorID]map[Period]struct{}{root: periodSet(periods)}
	var events []*ChangeEvent

	for _, id := range e.Graph.TransitiveDependents(root) {
		def, err := e.Store.GetDefinition(ctx, id)
		if err != nil {
			if IsNotFound(err) {
				// Edge without a stored definition; nothing to recompute.
				continue
			}
			return events, &PropagationError{IndicatorID: id, Err: err}
		}

		// Relevant periods: union of the change sets of this
		// indicator's bases.
		relevant := map[Period]struct{}{}
		for _, base := range def.BaseIDs {
			for p := range changed[base] {
				relevant[p] = struct{}{}
			}
		}
		if len(relevant) == 0 {
			continue
		}

		event, touched, err := e.recomputeStep(ctx, def, sortedPeriods(relevant), actor)
		if err != nil {
			return events, &PropagationError{IndicatorID: id, Err: err}
		}
		if event != nil {
			events = append(events, event)
			changed[id] = periodSet(touched)
		}
	}
	return events, nil
}

// recomputeStep re-evaluates one derived indicator over the given
// periods. All writes and the (single) event commit atomically; a nil
// event means nothing changed.
func (e *Engine) recomputeStep(ctx context.Context, def *DerivedDefinition, periods []Period, actor Actor) (*ChangeEvent, []Period, error) {
	expr, err := ParseFormula(def.Formula)
	if err != nil {
		// A stored formula that no longer parses is a data bug, not a
		// propagation failure; skip with a warning.
		e.Log.Warn("stored formula unparseable, skipping recompute",
			zap.String("indicator", string(def.IndicatorID)),
			zap.Error(err))
		return nil, nil, nil
	}

	codeOf := make(map[IndicatorID]Code, len(def.BaseIDs))
	for _, baseID := range def.BaseIDs {
		base, err := e.Store.GetIndicator(ctx, baseID)
		if err != nil {
			return nil, nil, fmt.Errorf("resolving base %q: %w", baseID, err)
		}
		codeOf[baseID] = base.Code
	}

	var (
		event   *ChangeEvent
		touched []Period
	)
	err = e.Store.WithTx(ctx, func(tx Store) error {
		var changes []ValueChange
		for _, period := range periods {
			values := make(map[Code]Value, len(def.BaseIDs))
			for _, baseID := range def.BaseIDs {
				values[codeOf[baseID]] = currentValue(ctx, tx, baseID, period)
			}
			next := expr.Eval(values)

			old := currentValue(ctx, tx, def.IndicatorID, period)
			if old.Equal(next) {
				continue
			}
			if err := tx.PutDataPoint(ctx, &DataPoint{
				IndicatorID: def.IndicatorID,
				Period:      period,
				Value:       next,
			}); err != nil {
				return err
			}
			changes = append(changes, ValueChange{Period: period, Old: old.String(), New: next.String()})
			touched = append(touched, period)
		}
		if len(changes) == 0 {
			return nil
		}
		event = e.newEvent(def.IndicatorID, actor, KindDataUpdate)
		event.Changes = changes
		return tx.AppendEvent(ctx, event)
	})
	if err != nil {
		return nil, nil, err
	}
	return event, touched, nil
}

// =============================================================================
// FORMULA DEFINITION
// =============================================================================

// SetFormula creates or replaces the derived definition of an
// indicator. The referenced codes are resolved to indicator IDs
// (unknown code -> ErrNotFound), the dependency edges are swapped
// atomically with a cycle check, a FORMULA_UPDATE event is recorded,
// and the indicator's values are computed over every period its bases
// cover, then propagated onward.
func (e *Engine) SetFormula(ctx context.Context, id IndicatorID, formula string, actor Actor) ([]*ChangeEvent, error) {
	ind, err := e.Store.GetIndicator(ctx, id)
	if err != nil {
		return nil, err
	}
	if !actor.IsSystem() {
		if err := e.Access.Require(ctx, actor.User, id, ActionEdit); err != nil {
			return nil, err
		}
	}

	expr, err := ParseFormula(formula)
	if err != nil {
		return nil, err
	}

	codes := expr.Codes()
	baseIDs := make([]IndicatorID, 0, len(codes))
	baseCodes := make([]string, 0, len(codes))
	for _, code := range codes {
		base, err := e.Store.GetIndicatorByCode(ctx, code)
		if err != nil {
			if IsNotFound(err) {
				return nil, &NotFoundError{Kind: "code", Key: string(code)}
			}
			return nil, err
		}
		baseIDs = append(baseIDs, base.ID)
		baseCodes = append(baseCodes, string(code))
	}

	oldFormula := NullString
	oldBases := e.Graph.Bases(id)
	if old, err := e.Store.GetDefinition(ctx, id); err == nil {
		oldFormula = old.Formula
	} else if !IsNotFound(err) {
		return nil, err
	}

	// Cycle check and edge swap happen before any persistence; on a
	// store failure below the prior edges are put back.
	if err := e.Graph.SetEdges(id, baseIDs); err != nil {
		return nil, err
	}

	def := &DerivedDefinition{IndicatorID: id, Formula: formula, BaseIDs: baseIDs}
	formulaEvent := e.newEvent(id, actor, KindFormulaUpdate)
	formulaEvent.Details = map[string]string{
		"old_formula":     oldFormula,
		"new_formula":     formula,
		"base_indicators": joinCodes(baseCodes),
	}

	err = e.Store.WithTx(ctx, func(tx Store) error {
		if err := tx.PutDefinition(ctx, def); err != nil {
			return err
		}
		if !ind.IsCustom {
			ind.IsCustom = true
			if err := tx.PutIndicator(ctx, ind); err != nil {
				return err
			}
		}
		return tx.AppendEvent(ctx, formulaEvent)
	})
	if err != nil {
		// Roll the graph back to the previous edge set.
		if gerr := e.Graph.SetEdges(id, oldBases); gerr != nil {
			e.Log.Error("failed to restore dependency edges", zap.String("indicator", string(id)), zap.Error(gerr))
		}
		return nil, err
	}

	e.Log.Info("formula updated",
		zap.String("indicator", string(id)),
		zap.String("formula", formula),
		zap.Int("bases", len(baseIDs)))

	events := []*ChangeEvent{formulaEvent}

	// Initial computation over every period the bases cover.
	periods, err := e.Store.ListPeriods(ctx, baseIDs)
	if err != nil {
		return events, &PropagationError{IndicatorID: id, Err: err}
	}
	if len(periods) == 0 {
		return events, nil
	}
	initial, touched, err := e.recomputeStep(ctx, def, periods, actor)
	if err != nil {
		return events, &PropagationError{IndicatorID: id, Err: err}
	}
	if initial == nil {
		return events, nil
	}
	events = append(events, initial)

	cascade, err := e.Propagate(ctx, id, touched, SystemActor())
	events = append(events, cascade...)
	return events, err
}

// =============================================================================
// INDICATOR LIFECYCLE
// =============================================================================

// CreateIndicator registers a new indicator, initializes its access
// level to PUBLIC, and records an INDICATOR_CREATE event.
func (e *Engine) CreateIndicator(ctx context.Context, ind *Indicator, actor Actor) error {
	if err := ind.Validate(); err != nil {
		return err
	}
	if existing, err := e.Store.GetIndicatorByCode(ctx, ind.Code); err == nil && existing.ID != ind.ID {
		return fmt.Errorf("indicator code %q already in use by %q", ind.Code, existing.ID)
	} else if err != nil && !IsNotFound(err) {
		return err
	}

	event := e.newEvent(ind.ID, actor, KindIndicatorCreate)
	event.Details = map[string]string{"name": ind.Name, "code": string(ind.Code)}

	return e.Store.WithTx(ctx, func(tx Store) error {
		if err := tx.PutIndicator(ctx, ind); err != nil {
			return err
		}
		if err := tx.SetLevel(ctx, ind.ID, LevelPublic); err != nil {
			return err
		}
		return tx.AppendEvent(ctx, event)
	})
}

// UpdateIndicator replaces an indicator's metadata and records an
// INDICATOR_EDIT event carrying the changed fields as "old -> new".
func (e *Engine) UpdateIndicator(ctx context.Context, updated *Indicator, actor Actor) error {
	current, err := e.Store.GetIndicator(ctx, updated.ID)
	if err != nil {
		return err
	}
	if !actor.IsSystem() {
		if err := e.Access.Require(ctx, actor.User, updated.ID, ActionEdit); err != nil {
			return err
		}
	}
	if err := updated.Validate(); err != nil {
		return err
	}

	diff := fieldDiff(current, updated)
	if len(diff) == 0 {
		return nil
	}
	event := e.newEvent(updated.ID, actor, KindIndicatorEdit)
	event.Details = diff

	return e.Store.WithTx(ctx, func(tx Store) error {
		if err := tx.PutIndicator(ctx, updated); err != nil {
			return err
		}
		return tx.AppendEvent(ctx, event)
	})
}

// DeleteIndicator removes an indicator and its derived definition. The
// call is rejected while any derived indicator still references it, so
// no formula can be left pointing at a non-existent base.
func (e *Engine) DeleteIndicator(ctx context.Context, id IndicatorID, actor Actor) error {
	ind, err := e.Store.GetIndicator(ctx, id)
	if err != nil {
		return err
	}
	if !actor.IsSystem() {
		if err := e.Access.Require(ctx, actor.User, id, ActionDelete); err != nil {
			return err
		}
	}
	if e.Graph.HasDependents(id) {
		return fmt.Errorf("cannot delete %q: %w", id, ErrIndicatorInUse)
	}

	event := e.newEvent(id, actor, KindIndicatorDelete)
	event.Details = map[string]string{"name": ind.Name, "code": string(ind.Code)}

	err = e.Store.WithTx(ctx, func(tx Store) error {
		if err := tx.AppendEvent(ctx, event); err != nil {
			return err
		}
		if err := tx.DeleteDefinition(ctx, id); err != nil && !IsNotFound(err) {
			return err
		}
		return tx.DeleteIndicator(ctx, id)
	})
	if err != nil {
		return err
	}
	e.Graph.Remove(id)
	return nil
}

// =============================================================================
// PERMISSION MANAGEMENT
// =============================================================================

// SetAccessLevel changes an indicator's access level. The actor must
// hold edit permission under the indicator's current level.
func (e *Engine) SetAccessLevel(ctx context.Context, id IndicatorID, level AccessLevel, actor Actor) error {
	if !ValidLevel(level) {
		return fmt.Errorf("unknown access level %q", level)
	}
	if _, err := e.Store.GetIndicator(ctx, id); err != nil {
		return err
	}
	if !actor.IsSystem() {
		if err := e.Access.Require(ctx, actor.User, id, ActionEdit); err != nil {
			return err
		}
	}
	return e.Store.SetLevel(ctx, id, level)
}

// SetGrant sets a user's per-indicator permission triple. Grants only
// take effect while the indicator's level is RESTRICTED.
func (e *Engine) SetGrant(ctx context.Context, grant *Grant, actor Actor) error {
	if _, err := e.Store.GetIndicator(ctx, grant.IndicatorID); err != nil {
		return err
	}
	if !actor.IsSystem() {
		if err := e.Access.Require(ctx, actor.User, grant.IndicatorID, ActionEdit); err != nil {
			return err
		}
	}
	return e.Store.SetGrant(ctx, grant)
}

// =============================================================================
// HELPERS
// =============================================================================

// currentValue reads the authoritative value for (id, period), null if
// no row exists.
func currentValue(ctx context.Context, s Store, id IndicatorID, period Period) Value {
	p, err := s.GetDataPoint(ctx, id, period)
	if err != nil {
		return Null()
	}
	return p.Value
}

func periodSet(periods []Period) map[Period]struct{} {
	set := make(map[Period]struct{}, len(periods))
	for _, p := range periods {
		set[p] = struct{}{}
	}
	return set
}

func sortedPeriods(set map[Period]struct{}) []Period {
	out := make([]Period, 0, len(set))
	for p := range set {
		out = append(out, p)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

func joinCodes(codes []string) string {
	out := ""
	for i, c := range codes {
		if i > 0 {
			out += ","
		}
		out += c
	}
	return out
}

func fieldDiff(prev, next *Indicator) map[string]string {
	diff := map[string]string{}
	add := func(field, o, n string) {
		if o != n {
			diff[field] = o + " -> " + n
		}
	}
	add("code", string(prev.Code), string(next.Code))
	add("name", prev.Name, next.Name)
	add("description", prev.Description, next.Description)
	add("source", prev.Source, next.Source)
	add("unit", prev.Unit, next.Unit)
	add("category", prev.Category, next.Category)
	add("country", prev.Country, next.Country)
	add("region", prev.Region, next.Region)
	add("frequency", string(prev.Frequency), string(next.Frequency))
	return diff
}
