package api_test

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/warp/indicator-engine/api"
	"github.com/warp/indicator-engine/core"
	"github.com/warp/indicator-engine/core/store"
)

// =============================================================================
// TEST SETUP
// =============================================================================

const adminEmail = "admin@ucy.ac.cy"

type apiFixture struct {
	store  *store.Memory
	engine *core.Engine
	router http.Handler
}

func newAPIFixture(t *testing.T) *apiFixture {
	t.Helper()
	mem := store.NewMemory()
	graph := core.NewGraph()
	access := core.NewAccessEvaluator(mem, graph)
	engine := core.NewEngine(mem, graph, access)
	recon := core.NewReconstructor(mem, access, engine)
	identity := api.NewHeaderIdentity("ucy.ac.cy", adminEmail)
	handler := api.NewHandler(mem, engine, access, recon, nil, identity, zap.NewNop())
	return &apiFixture{store: mem, engine: engine, router: api.NewRouter(handler)}
}

// do performs a request as the given user email ("" for anonymous).
func (f *apiFixture) do(t *testing.T, method, path, email string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	if email != "" {
		req.Header.Set("X-User-Email", email)
	}
	rec := httptest.NewRecorder()
	f.router.ServeHTTP(rec, req)
	return rec
}

func decodeJSON[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var out T
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&out))
	return out
}

func (f *apiFixture) createIndicator(t *testing.T, id, code string) {
	t.Helper()
	rec := f.do(t, http.MethodPost, "/api/indicators", adminEmail, map[string]any{
		"id": id, "code": code, "name": code,
	})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
}

func (f *apiFixture) writeValue(t *testing.T, id, period, value string) {
	t.Helper()
	rec := f.do(t, http.MethodPost, "/api/indicators/"+id+"/data", adminEmail, map[string]any{
		"points": []map[string]any{{"period": period, "value": value}},
	})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
}

// =============================================================================
// INDICATOR ENDPOINTS
// =============================================================================

func TestAPI_CreateAndGetIndicator(t *testing.T) {
	f := newAPIFixture(t)
	f.createIndicator(t, "ind-gdp", "GDP")
	f.writeValue(t, "ind-gdp", "2023", "1000")

	rec := f.do(t, http.MethodGet, "/api/indicators/ind-gdp", "", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	body := decodeJSON[struct {
		ID          string `json:"id"`
		Code        string `json:"code"`
		AccessLevel string `json:"access_level"`
		Data        []struct {
			Period string `json:"period"`
			Value  string `json:"value"`
		} `json:"data"`
	}](t, rec)
	assert.Equal(t, "GDP", body.Code)
	assert.Equal(t, "public", body.AccessLevel)
	require.Len(t, body.Data, 1)
	assert.Equal(t, "1000.00000", body.Data[0].Value)
}

func TestAPI_GetIndicator_NotFound(t *testing.T) {
	f := newAPIFixture(t)
	rec := f.do(t, http.MethodGet, "/api/indicators/nope", "", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestAPI_CreateIndicator_RequiresIdentity(t *testing.T) {
	f := newAPIFixture(t)
	rec := f.do(t, http.MethodPost, "/api/indicators", "", map[string]any{
		"id": "ind-a", "code": "A", "name": "A",
	})
	assert.Equal(t, http.StatusForbidden, rec.Code)
}

func TestAPI_ListIndicators_FiltersByAccess(t *testing.T) {
	// GIVEN: A public and an organization-level indicator
	// THEN: Outsiders see one, members see both

	f := newAPIFixture(t)
	f.createIndicator(t, "ind-open", "OPEN")
	f.createIndicator(t, "ind-org", "ORG")
	require.NoError(t, f.store.SetLevel(context.Background(), "ind-org", core.LevelOrganization))

	outside := decodeJSON[[]map[string]any](t, f.do(t, http.MethodGet, "/api/indicators", "omar@example.com", nil))
	assert.Len(t, outside, 1)

	member := decodeJSON[[]map[string]any](t, f.do(t, http.MethodGet, "/api/indicators", "maria@ucy.ac.cy", nil))
	assert.Len(t, member, 2)
}

func TestAPI_DeleteIndicator_InUse_Conflict(t *testing.T) {
	f := newAPIFixture(t)
	f.createIndicator(t, "ind-a", "A")
	f.createIndicator(t, "ind-b", "B")

	rec := f.do(t, http.MethodPost, "/api/indicators/ind-b/formula", adminEmail,
		map[string]any{"formula": "@A * 2"})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	rec = f.do(t, http.MethodDelete, "/api/indicators/ind-a", adminEmail, nil)
	assert.Equal(t, http.StatusConflict, rec.Code)

	rec = f.do(t, http.MethodDelete, "/api/indicators/ind-b", adminEmail, nil)
	assert.Equal(t, http.StatusNoContent, rec.Code)
}

// =============================================================================
// DATA AND FORMULAS
// =============================================================================

func TestAPI_WriteData_ReturnsCascadeEvents(t *testing.T) {
	f := newAPIFixture(t)
	f.createIndicator(t, "ind-gdp", "GDP")
	f.createIndicator(t, "ind-growth", "GROWTH")
	f.writeValue(t, "ind-gdp", "2023", "1000")

	rec := f.do(t, http.MethodPost, "/api/indicators/ind-growth/formula", adminEmail,
		map[string]any{"formula": "(@GDP - 900) / 900 * 100"})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	rec = f.do(t, http.MethodPost, "/api/indicators/ind-gdp/data", adminEmail, map[string]any{
		"points": []map[string]any{{"period": "2023", "value": "1100"}},
	})
	require.Equal(t, http.StatusOK, rec.Code)

	events := decodeJSON[[]api.EventDTO](t, rec)
	require.Len(t, events, 2)
	assert.Equal(t, "ind-gdp", events[0].IndicatorID)
	assert.Equal(t, "ind-growth", events[1].IndicatorID)
	require.Len(t, events[1].Changes, 1)
	assert.Equal(t, "11.11111", events[1].Changes[0].Old)
	assert.Equal(t, "22.22222", events[1].Changes[0].New)
	assert.Equal(t, "system", events[1].User)
}

func TestAPI_SetFormula_Cycle_BadRequest(t *testing.T) {
	f := newAPIFixture(t)
	f.createIndicator(t, "ind-a", "A")
	f.createIndicator(t, "ind-b", "B")

	rec := f.do(t, http.MethodPost, "/api/indicators/ind-b/formula", adminEmail,
		map[string]any{"formula": "@A"})
	require.Equal(t, http.StatusOK, rec.Code)

	rec = f.do(t, http.MethodPost, "/api/indicators/ind-a/formula", adminEmail,
		map[string]any{"formula": "@B"})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestAPI_SetFormula_UnknownCode_NotFound(t *testing.T) {
	f := newAPIFixture(t)
	f.createIndicator(t, "ind-a", "A")

	rec := f.do(t, http.MethodPost, "/api/indicators/ind-a/formula", adminEmail,
		map[string]any{"formula": "@NOPE"})
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

// =============================================================================
// HISTORY AND RESTORE
// =============================================================================

func TestAPI_HistoryAndRestore_RoundTrip(t *testing.T) {
	// The history endpoint's rows feed straight back into restore.

	f := newAPIFixture(t)
	f.createIndicator(t, "ind-gdp", "GDP")
	f.writeValue(t, "ind-gdp", "2023", "200")
	f.writeValue(t, "ind-gdp", "2023", "250")

	rec := f.do(t, http.MethodGet, "/api/indicators/ind-gdp/history", adminEmail, nil)
	require.Equal(t, http.StatusOK, rec.Code)

	snapshots := decodeJSON[[]struct {
		Timestamp string `json:"timestamp"`
		Rows      []struct {
			Period string `json:"period"`
			Value  string `json:"value"`
		} `json:"rows"`
	}](t, rec)
	require.Len(t, snapshots, 2)
	assert.Equal(t, "200.00000 -> 250.00000", snapshots[0].Rows[0].Value)

	rec = f.do(t, http.MethodPost, "/api/indicators/ind-gdp/restore", adminEmail, map[string]any{
		"timestamp": snapshots[0].Timestamp,
		"target":    "original",
		"entries":   []map[string]any{{"period": "2023", "value": snapshots[0].Rows[0].Value}},
	})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	point, err := f.store.GetDataPoint(context.Background(), "ind-gdp", "2023")
	require.NoError(t, err)
	assert.Equal(t, "200.00000", point.Value.String())
}

func TestAPI_Restore_BadTarget(t *testing.T) {
	f := newAPIFixture(t)
	f.createIndicator(t, "ind-gdp", "GDP")

	rec := f.do(t, http.MethodPost, "/api/indicators/ind-gdp/restore", adminEmail, map[string]any{
		"timestamp": "2024-01-01T00:00:00Z",
		"target":    "sideways",
	})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

// =============================================================================
// ACCESS MANAGEMENT
// =============================================================================

func TestAPI_AccessLevel_GatesReads(t *testing.T) {
	f := newAPIFixture(t)
	f.createIndicator(t, "ind-a", "A")

	rec := f.do(t, http.MethodPost, "/api/indicators/ind-a/access", adminEmail,
		map[string]any{"level": "restricted"})
	require.Equal(t, http.StatusNoContent, rec.Code)

	rec = f.do(t, http.MethodGet, "/api/indicators/ind-a", "omar@example.com", nil)
	assert.Equal(t, http.StatusForbidden, rec.Code)

	rec = f.do(t, http.MethodPost, "/api/indicators/ind-a/grants", adminEmail, map[string]any{
		"user_id": "omar@example.com", "can_view": true,
	})
	require.Equal(t, http.StatusNoContent, rec.Code)

	rec = f.do(t, http.MethodGet, "/api/indicators/ind-a", "omar@example.com", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestAPI_AnonymousMutations_Forbidden(t *testing.T) {
	// GIVEN: A restricted indicator with no grants
	// WHEN: Requests with no X-User-Email header hit each mutating endpoint
	// THEN: Every one is denied and nothing is written

	f := newAPIFixture(t)
	f.createIndicator(t, "ind-a", "A")
	f.createIndicator(t, "ind-b", "B")
	rec := f.do(t, http.MethodPost, "/api/indicators/ind-a/access", adminEmail,
		map[string]any{"level": "restricted"})
	require.Equal(t, http.StatusNoContent, rec.Code)

	calls := []struct {
		name   string
		method string
		path   string
		body   any
	}{
		{"write data", http.MethodPost, "/api/indicators/ind-a/data",
			map[string]any{"points": []map[string]any{{"period": "2023", "value": "42"}}}},
		{"set formula", http.MethodPost, "/api/indicators/ind-a/formula",
			map[string]any{"formula": "@B * 2"}},
		{"restore", http.MethodPost, "/api/indicators/ind-a/restore",
			map[string]any{"timestamp": "2024-01-01T00:00:00Z", "target": "original",
				"entries": []map[string]any{{"period": "2023", "value": "1.00000"}}}},
		{"update metadata", http.MethodPut, "/api/indicators/ind-a",
			map[string]any{"code": "A", "name": "renamed"}},
		{"delete", http.MethodDelete, "/api/indicators/ind-a", nil},
		{"set access level", http.MethodPost, "/api/indicators/ind-a/access",
			map[string]any{"level": "unrestricted"}},
		{"set grant", http.MethodPost, "/api/indicators/ind-a/grants",
			map[string]any{"user_id": "omar@example.com", "can_view": true}},
	}
	for _, c := range calls {
		t.Run(c.name, func(t *testing.T) {
			rec := f.do(t, c.method, c.path, "", c.body)
			assert.Equal(t, http.StatusForbidden, rec.Code, rec.Body.String())
		})
	}

	// Nothing leaked through: no data, no audit trail, level unchanged.
	_, err := f.store.GetDataPoint(context.Background(), "ind-a", "2023")
	assert.True(t, core.IsNotFound(err))
	events, err := f.store.EventsByIndicator(context.Background(), "ind-a",
		[]core.EventKind{core.KindDataUpdate})
	require.NoError(t, err)
	assert.Empty(t, events)
	level, err := f.store.GetLevel(context.Background(), "ind-a")
	require.NoError(t, err)
	assert.Equal(t, core.LevelRestricted, level)
}

func TestAPI_AccessLevel_Invalid(t *testing.T) {
	f := newAPIFixture(t)
	f.createIndicator(t, "ind-a", "A")

	rec := f.do(t, http.MethodPost, "/api/indicators/ind-a/access", adminEmail,
		map[string]any{"level": "secret"})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

// =============================================================================
// TABLES
// =============================================================================

func TestAPI_Tables_CRUD(t *testing.T) {
	f := newAPIFixture(t)
	f.createIndicator(t, "ind-a", "A")
	f.createIndicator(t, "ind-b", "B")

	rec := f.do(t, http.MethodPost, "/api/tables", adminEmail, map[string]any{
		"id": "tbl-1", "name": "Macro", "indicators": []string{"ind-a", "ind-b"},
	})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	rec = f.do(t, http.MethodGet, "/api/tables/tbl-1", "", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	table := decodeJSON[struct {
		Name    string `json:"name"`
		Members []struct {
			Code string `json:"code"`
		} `json:"members"`
	}](t, rec)
	assert.Equal(t, "Macro", table.Name)
	assert.Len(t, table.Members, 2)

	rec = f.do(t, http.MethodPost, "/api/tables", adminEmail, map[string]any{
		"id": "tbl-2", "name": "Bad", "indicators": []string{"missing"},
	})
	assert.Equal(t, http.StatusNotFound, rec.Code, "unknown member rejected")

	rec = f.do(t, http.MethodDelete, "/api/tables/tbl-1", adminEmail, nil)
	assert.Equal(t, http.StatusNoContent, rec.Code)
}
