// Package store provides the in-memory core.Store implementation used
// for tests and development.
package store

import (
	"context"
	"sort"
	"sync"

	"github.com/warp/indicator-engine/core"
)

// =============================================================================
// MEMORY STORE
// =============================================================================

type Memory struct {
	mu          sync.RWMutex
	indicators  map[core.IndicatorID]core.Indicator
	byCode      map[core.Code]core.IndicatorID
	definitions map[core.IndicatorID]core.DerivedDefinition
	data        map[dataKey]core.DataPoint
	levels      map[core.IndicatorID]core.AccessLevel
	grants      map[grantKey]core.Grant
	tables      map[core.TableID]core.Table
	events      []core.ChangeEvent
}

type dataKey struct {
	ID     core.IndicatorID
	Period core.Period
}

type grantKey struct {
	User core.UserID
	ID   core.IndicatorID
}

func NewMemory() *Memory {
	return &Memory{
		indicators:  make(map[core.IndicatorID]core.Indicator),
		byCode:      make(map[core.Code]core.IndicatorID),
		definitions: make(map[core.IndicatorID]core.DerivedDefinition),
		data:        make(map[dataKey]core.DataPoint),
		levels:      make(map[core.IndicatorID]core.AccessLevel),
		grants:      make(map[grantKey]core.Grant),
		tables:      make(map[core.TableID]core.Table),
	}
}

// =============================================================================
// INDICATORS
// =============================================================================

func (m *Memory) GetIndicator(_ context.Context, id core.IndicatorID) (*core.Indicator, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.getIndicatorLocked(id)
}

func (m *Memory) getIndicatorLocked(id core.IndicatorID) (*core.Indicator, error) {
	ind, ok := m.indicators[id]
	if !ok {
		return nil, &core.NotFoundError{Kind: "indicator", Key: string(id)}
	}
	out := ind
	return &out, nil
}

func (m *Memory) GetIndicatorByCode(_ context.Context, code core.Code) (*core.Indicator, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.getIndicatorByCodeLocked(code)
}

func (m *Memory) getIndicatorByCodeLocked(code core.Code) (*core.Indicator, error) {
	id, ok := m.byCode[code]
	if !ok {
		return nil, &core.NotFoundError{Kind: "code", Key: string(code)}
	}
	return m.getIndicatorLocked(id)
}

func (m *Memory) PutIndicator(_ context.Context, ind *core.Indicator) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.putIndicatorLocked(ind)
}

func (m *Memory) putIndicatorLocked(ind *core.Indicator) error {
	if prev, ok := m.indicators[ind.ID]; ok && prev.Code != ind.Code {
		delete(m.byCode, prev.Code)
	}
	m.indicators[ind.ID] = *ind
	m.byCode[ind.Code] = ind.ID
	return nil
}

func (m *Memory) DeleteIndicator(_ context.Context, id core.IndicatorID) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.deleteIndicatorLocked(id)
}

func (m *Memory) deleteIndicatorLocked(id core.IndicatorID) error {
	ind, ok := m.indicators[id]
	if !ok {
		return &core.NotFoundError{Kind: "indicator", Key: string(id)}
	}
	delete(m.byCode, ind.Code)
	delete(m.indicators, id)
	return nil
}

func (m *Memory) ListIndicators(_ context.Context) ([]*core.Indicator, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.listIndicatorsLocked()
}

func (m *Memory) listIndicatorsLocked() ([]*core.Indicator, error) {
	out := make([]*core.Indicator, 0, len(m.indicators))
	for _, ind := range m.indicators {
		c := ind
		out = append(out, &c)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

// =============================================================================
// DERIVED DEFINITIONS
// =============================================================================

func (m *Memory) GetDefinition(_ context.Context, id core.IndicatorID) (*core.DerivedDefinition, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.getDefinitionLocked(id)
}

func (m *Memory) getDefinitionLocked(id core.IndicatorID) (*core.DerivedDefinition, error) {
	def, ok := m.definitions[id]
	if !ok {
		return nil, &core.NotFoundError{Kind: "definition", Key: string(id)}
	}
	return copyDefinition(def), nil
}

func (m *Memory) PutDefinition(_ context.Context, def *core.DerivedDefinition) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.putDefinitionLocked(def)
}

func (m *Memory) putDefinitionLocked(def *core.DerivedDefinition) error {
	m.definitions[def.IndicatorID] = *copyDefinition(*def)
	return nil
}

func (m *Memory) DeleteDefinition(_ context.Context, id core.IndicatorID) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.deleteDefinitionLocked(id)
}

func (m *Memory) deleteDefinitionLocked(id core.IndicatorID) error {
	if _, ok := m.definitions[id]; !ok {
		return &core.NotFoundError{Kind: "definition", Key: string(id)}
	}
	delete(m.definitions, id)
	return nil
}

func (m *Memory) ListDefinitions(_ context.Context) ([]*core.DerivedDefinition, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.listDefinitionsLocked()
}

func (m *Memory) listDefinitionsLocked() ([]*core.DerivedDefinition, error) {
	out := make([]*core.DerivedDefinition, 0, len(m.definitions))
	for _, def := range m.definitions {
		out = append(out, copyDefinition(def))
	}
	sort.Slice(out, func(i, j int) bool { return out[i].IndicatorID < out[j].IndicatorID })
	return out, nil
}

// =============================================================================
// DATA POINTS
// =============================================================================

func (m *Memory) GetDataPoint(_ context.Context, id core.IndicatorID, period core.Period) (*core.DataPoint, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.getDataPointLocked(id, period)
}

func (m *Memory) getDataPointLocked(id core.IndicatorID, period core.Period) (*core.DataPoint, error) {
	p, ok := m.data[dataKey{ID: id, Period: period}]
	if !ok {
		return nil, &core.NotFoundError{Kind: "data point", Key: string(id) + "/" + string(period)}
	}
	out := p
	return &out, nil
}

// putDataPointLocked overwrites in place: the map always holds the most
// recently written (authoritative) row per key.
func (m *Memory) PutDataPoint(_ context.Context, p *core.DataPoint) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.putDataPointLocked(p)
}

func (m *Memory) putDataPointLocked(p *core.DataPoint) error {
	m.data[dataKey{ID: p.IndicatorID, Period: p.Period}] = *p
	return nil
}

func (m *Memory) ListDataPoints(_ context.Context, id core.IndicatorID) ([]*core.DataPoint, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.listDataPointsLocked(id)
}

func (m *Memory) listDataPointsLocked(id core.IndicatorID) ([]*core.DataPoint, error) {
	var out []*core.DataPoint
	for k, p := range m.data {
		if k.ID == id {
			c := p
			out = append(out, &c)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Period < out[j].Period })
	return out, nil
}

func (m *Memory) ListPeriods(_ context.Context, ids []core.IndicatorID) ([]core.Period, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.listPeriodsLocked(ids)
}

func (m *Memory) listPeriodsLocked(ids []core.IndicatorID) ([]core.Period, error) {
	want := make(map[core.IndicatorID]struct{}, len(ids))
	for _, id := range ids {
		want[id] = struct{}{}
	}
	seen := map[core.Period]struct{}{}
	for k := range m.data {
		if _, ok := want[k.ID]; ok {
			seen[k.Period] = struct{}{}
		}
	}
	out := make([]core.Period, 0, len(seen))
	for p := range seen {
		out = append(out, p)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out, nil
}

// =============================================================================
// ACCESS LEVELS AND GRANTS
// =============================================================================

func (m *Memory) GetLevel(_ context.Context, id core.IndicatorID) (core.AccessLevel, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.getLevelLocked(id)
}

func (m *Memory) getLevelLocked(id core.IndicatorID) (core.AccessLevel, error) {
	level, ok := m.levels[id]
	if !ok {
		return "", &core.NotFoundError{Kind: "access level", Key: string(id)}
	}
	return level, nil
}

func (m *Memory) SetLevel(_ context.Context, id core.IndicatorID, level core.AccessLevel) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.setLevelLocked(id, level)
}

func (m *Memory) setLevelLocked(id core.IndicatorID, level core.AccessLevel) error {
	m.levels[id] = level
	return nil
}

func (m *Memory) GetGrant(_ context.Context, user core.UserID, id core.IndicatorID) (*core.Grant, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.getGrantLocked(user, id)
}

func (m *Memory) getGrantLocked(user core.UserID, id core.IndicatorID) (*core.Grant, error) {
	g, ok := m.grants[grantKey{User: user, ID: id}]
	if !ok {
		return nil, &core.NotFoundError{Kind: "grant", Key: string(user) + "/" + string(id)}
	}
	out := g
	return &out, nil
}

func (m *Memory) SetGrant(_ context.Context, g *core.Grant) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.setGrantLocked(g)
}

func (m *Memory) setGrantLocked(g *core.Grant) error {
	m.grants[grantKey{User: g.UserID, ID: g.IndicatorID}] = *g
	return nil
}

func (m *Memory) ListGrantsByUser(_ context.Context, user core.UserID) ([]*core.Grant, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.listGrantsByUserLocked(user)
}

func (m *Memory) listGrantsByUserLocked(user core.UserID) ([]*core.Grant, error) {
	var out []*core.Grant
	for k, g := range m.grants {
		if k.User == user {
			c := g
			out = append(out, &c)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].IndicatorID < out[j].IndicatorID })
	return out, nil
}

// =============================================================================
// TABLES
// =============================================================================

func (m *Memory) GetTable(_ context.Context, id core.TableID) (*core.Table, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.getTableLocked(id)
}

func (m *Memory) getTableLocked(id core.TableID) (*core.Table, error) {
	t, ok := m.tables[id]
	if !ok {
		return nil, &core.NotFoundError{Kind: "table", Key: string(id)}
	}
	return copyTable(t), nil
}

func (m *Memory) PutTable(_ context.Context, t *core.Table) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.putTableLocked(t)
}

func (m *Memory) putTableLocked(t *core.Table) error {
	m.tables[t.ID] = *copyTable(*t)
	return nil
}

func (m *Memory) DeleteTable(_ context.Context, id core.TableID) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.deleteTableLocked(id)
}

func (m *Memory) deleteTableLocked(id core.TableID) error {
	if _, ok := m.tables[id]; !ok {
		return &core.NotFoundError{Kind: "table", Key: string(id)}
	}
	delete(m.tables, id)
	return nil
}

func (m *Memory) ListTables(_ context.Context) ([]*core.Table, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.listTablesLocked()
}

func (m *Memory) listTablesLocked() ([]*core.Table, error) {
	out := make([]*core.Table, 0, len(m.tables))
	for _, t := range m.tables {
		out = append(out, copyTable(t))
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

// =============================================================================
// AUDIT LOG
// =============================================================================

// AppendEvent adds a change event. Append-only: no update, no delete.
func (m *Memory) AppendEvent(_ context.Context, ev *core.ChangeEvent) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.appendEventLocked(ev)
}

func (m *Memory) appendEventLocked(ev *core.ChangeEvent) error {
	m.events = append(m.events, *copyEvent(*ev))
	return nil
}

func (m *Memory) EventsByIndicator(_ context.Context, id core.IndicatorID, kinds []core.EventKind) ([]*core.ChangeEvent, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.eventsByIndicatorLocked(id, kinds)
}

func (m *Memory) eventsByIndicatorLocked(id core.IndicatorID, kinds []core.EventKind) ([]*core.ChangeEvent, error) {
	wanted := func(k core.EventKind) bool {
		if len(kinds) == 0 {
			return true
		}
		for _, w := range kinds {
			if w == k {
				return true
			}
		}
		return false
	}

	var out []*core.ChangeEvent
	for _, ev := range m.events {
		if ev.IndicatorID == id && wanted(ev.Kind) {
			out = append(out, copyEvent(ev))
		}
	}
	// Events are appended in timestamp order already; keep append order
	// as the tiebreaker.
	sort.SliceStable(out, func(i, j int) bool { return out[i].Timestamp.Before(out[j].Timestamp) })
	return out, nil
}

// =============================================================================
// TRANSACTIONS - Snapshot and rollback
// =============================================================================

// WithTx executes fn atomically. The memory store simulates this with a
// full snapshot taken under the write lock, restored if fn fails.
func (m *Memory) WithTx(_ context.Context, fn func(core.Store) error) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	snap := m.snapshot()
	if err := fn(&memView{m: m}); err != nil {
		m.restore(snap)
		return err
	}
	return nil
}

type memorySnapshot struct {
	indicators  map[core.IndicatorID]core.Indicator
	byCode      map[core.Code]core.IndicatorID
	definitions map[core.IndicatorID]core.DerivedDefinition
	data        map[dataKey]core.DataPoint
	levels      map[core.IndicatorID]core.AccessLevel
	grants      map[grantKey]core.Grant
	tables      map[core.TableID]core.Table
	events      []core.ChangeEvent
}

func (m *Memory) snapshot() memorySnapshot {
	return memorySnapshot{
		indicators:  copyMap(m.indicators),
		byCode:      copyMap(m.byCode),
		definitions: copyMap(m.definitions),
		data:        copyMap(m.data),
		levels:      copyMap(m.levels),
		grants:      copyMap(m.grants),
		tables:      copyMap(m.tables),
		events:      append([]core.ChangeEvent(nil), m.events...),
	}
}

func (m *Memory) restore(s memorySnapshot) {
	m.indicators = s.indicators
	m.byCode = s.byCode
	m.definitions = s.definitions
	m.data = s.data
	m.levels = s.levels
	m.grants = s.grants
	m.tables = s.tables
	m.events = s.events
}

// memView exposes the store inside WithTx without re-locking.
type memView struct {
	m *Memory
}

func (v *memView) GetIndicator(_ context.Context, id core.IndicatorID) (*core.Indicator, error) {
	return v.m.getIndicatorLocked(id)
}
func (v *memView) GetIndicatorByCode(_ context.Context, code core.Code) (*core.Indicator, error) {
	return v.m.getIndicatorByCodeLocked(code)
}
func (v *memView) PutIndicator(_ context.Context, ind *core.Indicator) error {
	return v.m.putIndicatorLocked(ind)
}
func (v *memView) DeleteIndicator(_ context.Context, id core.IndicatorID) error {
	return v.m.deleteIndicatorLocked(id)
}
func (v *memView) ListIndicators(_ context.Context) ([]*core.Indicator, error) {
	return v.m.listIndicatorsLocked()
}
func (v *memView) GetDefinition(_ context.Context, id core.IndicatorID) (*core.DerivedDefinition, error) {
	return v.m.getDefinitionLocked(id)
}
func (v *memView) PutDefinition(_ context.Context, def *core.DerivedDefinition) error {
	return v.m.putDefinitionLocked(def)
}
func (v *memView) DeleteDefinition(_ context.Context, id core.IndicatorID) error {
	return v.m.deleteDefinitionLocked(id)
}
func (v *memView) ListDefinitions(_ context.Context) ([]*core.DerivedDefinition, error) {
	return v.m.listDefinitionsLocked()
}
func (v *memView) GetDataPoint(_ context.Context, id core.IndicatorID, period core.Period) (*core.DataPoint, error) {
	return v.m.getDataPointLocked(id, period)
}
func (v *memView) PutDataPoint(_ context.Context, p *core.DataPoint) error {
	return v.m.putDataPointLocked(p)
}
func (v *memView) ListDataPoints(_ context.Context, id core.IndicatorID) ([]*core.DataPoint, error) {
	return v.m.listDataPointsLocked(id)
}
func (v *memView) ListPeriods(_ context.Context, ids []core.IndicatorID) ([]core.Period, error) {
	return v.m.listPeriodsLocked(ids)
}
func (v *memView) GetLevel(_ context.Context, id core.IndicatorID) (core.AccessLevel, error) {
	return v.m.getLevelLocked(id)
}
func (v *memView) SetLevel(_ context.Context, id core.IndicatorID, level core.AccessLevel) error {
	return v.m.setLevelLocked(id, level)
}
func (v *memView) GetGrant(_ context.Context, user core.UserID, id core.IndicatorID) (*core.Grant, error) {
	return v.m.getGrantLocked(user, id)
}
func (v *memView) SetGrant(_ context.Context, g *core.Grant) error {
	return v.m.setGrantLocked(g)
}
func (v *memView) ListGrantsByUser(_ context.Context, user core.UserID) ([]*core.Grant, error) {
	return v.m.listGrantsByUserLocked(user)
}
func (v *memView) GetTable(_ context.Context, id core.TableID) (*core.Table, error) {
	return v.m.getTableLocked(id)
}
func (v *memView) PutTable(_ context.Context, t *core.Table) error {
	return v.m.putTableLocked(t)
}
func (v *memView) DeleteTable(_ context.Context, id core.TableID) error {
	return v.m.deleteTableLocked(id)
}
func (v *memView) ListTables(_ context.Context) ([]*core.Table, error) {
	return v.m.listTablesLocked()
}
func (v *memView) AppendEvent(_ context.Context, ev *core.ChangeEvent) error {
	return v.m.appendEventLocked(ev)
}
func (v *memView) EventsByIndicator(_ context.Context, id core.IndicatorID, kinds []core.EventKind) ([]*core.ChangeEvent, error) {
	return v.m.eventsByIndicatorLocked(id, kinds)
}

// WithTx on a view joins the enclosing transaction.
func (v *memView) WithTx(_ context.Context, fn func(core.Store) error) error {
	return fn(v)
}

// =============================================================================
// COPY HELPERS
// =============================================================================

func copyMap[K comparable, V any](src map[K]V) map[K]V {
	dst := make(map[K]V, len(src))
	for k, v := range src {
		dst[k] = v
	}
	return dst
}

func copyDefinition(def core.DerivedDefinition) *core.DerivedDefinition {
	out := def
	out.BaseIDs = append([]core.IndicatorID(nil), def.BaseIDs...)
	return &out
}

func copyTable(t core.Table) *core.Table {
	out := t
	out.IndicatorIDs = append([]core.IndicatorID(nil), t.IndicatorIDs...)
	return &out
}

func copyEvent(ev core.ChangeEvent) *core.ChangeEvent {
	out := ev
	out.Changes = append([]core.ValueChange(nil), ev.Changes...)
	if ev.Details != nil {
		out.Details = make(map[string]string, len(ev.Details))
		for k, v := range ev.Details {
			out.Details[k] = v
		}
	}
	return &out
}
