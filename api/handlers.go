/*
handlers.go - HTTP API handlers for the indicator engine

PURPOSE:
  Exposes the indicator engine via REST API. Handles HTTP
  request/response, JSON serialization, identity resolution, and
  delegates to the core engine.

ENDPOINTS:
  Indicators:
    GET    /api/indicators                    List viewable indicators
    POST   /api/indicators                    Create indicator
    GET    /api/indicators/{id}               Indicator with current data
    PUT    /api/indicators/{id}               Update metadata
    DELETE /api/indicators/{id}               Delete (rejected while in use)
    POST   /api/indicators/{id}/data          Write values
    POST   /api/indicators/{id}/formula       Define/replace formula
    GET    /api/indicators/{id}/timeline      Audit events
    GET    /api/indicators/{id}/history       Reconstructed value history
    POST   /api/indicators/{id}/restore       Roll back to a snapshot
    POST   /api/indicators/{id}/access        Set access level
    POST   /api/indicators/{id}/grants        Set a user grant

  Tables:
    GET    /api/tables                        List reachable tables
    POST   /api/tables                        Create/replace table
    GET    /api/tables/{id}                   Table with member indicators
    DELETE /api/tables/{id}                   Delete table

  Ingestion:
    GET    /api/ingest/runs                   Recent ingestion runs
    POST   /api/ingest/run                    Trigger a cycle now

ERROR HANDLING:
  Errors are returned as JSON with appropriate HTTP status:
  - 400: Validation errors, bad formulas, cycles
  - 403: Access denied by the permission evaluator
  - 404: Unknown indicator/table/code
  - 409: Deleting an indicator another formula depends on
  - 500: Internal errors

SEE ALSO:
  - dto.go: Request/response data structures
  - identity.go: Who the request runs as
  - server.go: Router setup and middleware
*/
package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/warp/indicator-engine/core"
	"github.com/warp/indicator-engine/ingest"
)

// =============================================================================
// HANDLER CONTEXT
// =============================================================================

// Handler holds all dependencies for HTTP handlers.
type Handler struct {
	Store    core.Store
	Engine   *core.Engine
	Access   *core.AccessEvaluator
	Recon    *core.Reconstructor
	Runner   *ingest.Runner
	Identity IdentityProvider
	Log      *zap.Logger
}

// NewHandler wires the handler; Runner may be nil when ingestion is
// disabled.
func NewHandler(store core.Store, engine *core.Engine, access *core.AccessEvaluator, recon *core.Reconstructor, runner *ingest.Runner, identity IdentityProvider, log *zap.Logger) *Handler {
	if log == nil {
		log = zap.NewNop()
	}
	if identity == nil {
		identity = &StaticIdentity{}
	}
	return &Handler{
		Store:    store,
		Engine:   engine,
		Access:   access,
		Recon:    recon,
		Runner:   runner,
		Identity: identity,
		Log:      log,
	}
}

func (h *Handler) user(r *http.Request) (*core.User, bool) {
	user, err := h.Identity.UserFromRequest(r)
	if err != nil {
		return nil, false
	}
	return user, true
}

// =============================================================================
// INDICATOR HANDLERS
// =============================================================================

// ListIndicators returns the indicators the requesting user may view.
func (h *Handler) ListIndicators(w http.ResponseWriter, r *http.Request) {
	user, ok := h.user(r)
	if !ok {
		writeError(w, http.StatusUnauthorized, "identity resolution failed", nil)
		return
	}

	indicators, err := h.Access.AccessibleIndicators(r.Context(), user)
	if err != nil {
		h.fail(w, "list indicators", err)
		return
	}

	dtos := make([]IndicatorDTO, len(indicators))
	for i, ind := range indicators {
		dtos[i] = indicatorDTO(ind)
	}
	writeJSON(w, http.StatusOK, dtos)
}

// CreateIndicator registers a new indicator.
func (h *Handler) CreateIndicator(w http.ResponseWriter, r *http.Request) {
	user, _ := h.user(r)
	if user == nil {
		writeError(w, http.StatusForbidden, "authentication required", nil)
		return
	}

	var req CreateIndicatorRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body", err)
		return
	}

	ind := req.toIndicator()
	if err := h.Engine.CreateIndicator(r.Context(), ind, core.UserActor(user)); err != nil {
		h.fail(w, "create indicator", err)
		return
	}
	writeJSON(w, http.StatusCreated, indicatorDTO(ind))
}

// GetIndicator returns one indicator with its access level, formula (if
// derived), and current data points.
func (h *Handler) GetIndicator(w http.ResponseWriter, r *http.Request) {
	id := core.IndicatorID(chi.URLParam(r, "id"))
	user, _ := h.user(r)

	ind, err := h.Store.GetIndicator(r.Context(), id)
	if err != nil {
		h.fail(w, "get indicator", err)
		return
	}
	if err := h.Access.Require(r.Context(), user, id, core.ActionView); err != nil {
		h.fail(w, "get indicator", err)
		return
	}

	dto := indicatorDTO(ind)
	if level, err := h.Store.GetLevel(r.Context(), id); err == nil {
		dto.AccessLevel = string(level)
	}
	if ind.IsCustom {
		if def, err := h.Store.GetDefinition(r.Context(), id); err == nil {
			dto.Formula = def.Formula
		}
	}

	points, err := h.Store.ListDataPoints(r.Context(), id)
	if err != nil {
		h.fail(w, "get indicator", err)
		return
	}
	data := make([]DataPointDTO, len(points))
	for i, p := range points {
		data[i] = DataPointDTO{Period: string(p.Period), Value: p.Value.String(), IsEstimate: p.IsEstimate}
	}

	writeJSON(w, http.StatusOK, struct {
		IndicatorDTO
		Data []DataPointDTO `json:"data"`
	}{dto, data})
}

// UpdateIndicator replaces an indicator's metadata.
func (h *Handler) UpdateIndicator(w http.ResponseWriter, r *http.Request) {
	id := core.IndicatorID(chi.URLParam(r, "id"))
	user, _ := h.user(r)

	var req CreateIndicatorRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body", err)
		return
	}
	req.ID = string(id)

	current, err := h.Store.GetIndicator(r.Context(), id)
	if err != nil {
		h.fail(w, "update indicator", err)
		return
	}
	updated := req.toIndicator()
	updated.IsCustom = current.IsCustom

	if err := h.Engine.UpdateIndicator(r.Context(), updated, core.UserActor(user)); err != nil {
		h.fail(w, "update indicator", err)
		return
	}
	writeJSON(w, http.StatusOK, indicatorDTO(updated))
}

// DeleteIndicator removes an indicator unless a formula depends on it.
func (h *Handler) DeleteIndicator(w http.ResponseWriter, r *http.Request) {
	id := core.IndicatorID(chi.URLParam(r, "id"))
	user, _ := h.user(r)

	if err := h.Engine.DeleteIndicator(r.Context(), id, core.UserActor(user)); err != nil {
		h.fail(w, "delete indicator", err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// =============================================================================
// DATA HANDLERS
// =============================================================================

// WriteData writes a batch of values and returns the audit events it
// produced, cascades included.
func (h *Handler) WriteData(w http.ResponseWriter, r *http.Request) {
	id := core.IndicatorID(chi.URLParam(r, "id"))
	user, _ := h.user(r)

	var req WriteDataRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body", err)
		return
	}
	if len(req.Points) == 0 {
		writeError(w, http.StatusBadRequest, "no points given", nil)
		return
	}

	entries := make([]core.DataPointInput, len(req.Points))
	for i, p := range req.Points {
		if p.Period == "" {
			writeError(w, http.StatusBadRequest, "point with empty period", nil)
			return
		}
		entries[i] = core.DataPointInput{
			Period:     core.Period(p.Period),
			Value:      core.ParseValue(p.Value),
			IsEstimate: p.IsEstimate,
		}
	}

	events, err := h.Engine.WriteDataPoints(r.Context(), id, entries, core.UserActor(user))
	if err != nil {
		h.fail(w, "write data", err)
		return
	}
	writeJSON(w, http.StatusOK, eventDTOs(events))
}

// SetFormula defines or replaces a derived indicator's formula.
func (h *Handler) SetFormula(w http.ResponseWriter, r *http.Request) {
	id := core.IndicatorID(chi.URLParam(r, "id"))
	user, _ := h.user(r)

	var req FormulaRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body", err)
		return
	}

	events, err := h.Engine.SetFormula(r.Context(), id, req.Formula, core.UserActor(user))
	if err != nil {
		h.fail(w, "set formula", err)
		return
	}
	writeJSON(w, http.StatusOK, eventDTOs(events))
}

// =============================================================================
// HISTORY HANDLERS
// =============================================================================

// Timeline returns the indicator's audit events, oldest first.
func (h *Handler) Timeline(w http.ResponseWriter, r *http.Request) {
	id := core.IndicatorID(chi.URLParam(r, "id"))
	user, _ := h.user(r)

	events, err := h.Recon.Timeline(r.Context(), id, user)
	if err != nil {
		h.fail(w, "timeline", err)
		return
	}
	writeJSON(w, http.StatusOK, eventDTOs(events))
}

// ValueHistory returns the reconstructed per-snapshot value history,
// newest first.
func (h *Handler) ValueHistory(w http.ResponseWriter, r *http.Request) {
	id := core.IndicatorID(chi.URLParam(r, "id"))
	user, _ := h.user(r)

	if err := h.Access.Require(r.Context(), user, id, core.ActionView); err != nil {
		h.fail(w, "value history", err)
		return
	}
	snapshots, err := h.Recon.ValueHistory(r.Context(), id)
	if err != nil {
		h.fail(w, "value history", err)
		return
	}
	writeJSON(w, http.StatusOK, snapshots)
}

// Restore rolls values back to one side of a history snapshot.
func (h *Handler) Restore(w http.ResponseWriter, r *http.Request) {
	id := core.IndicatorID(chi.URLParam(r, "id"))
	user, _ := h.user(r)

	var req RestoreRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body", err)
		return
	}
	target := core.RestoreTarget(req.Target)
	if target != core.RestoreOriginal && target != core.RestoreChanged {
		writeError(w, http.StatusBadRequest, "target must be \"original\" or \"changed\"", nil)
		return
	}
	ts, err := time.Parse(time.RFC3339Nano, req.Timestamp)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid timestamp (use RFC 3339)", err)
		return
	}

	events, err := h.Recon.Restore(r.Context(), id, ts, target, req.Entries, core.UserActor(user))
	if err != nil {
		h.fail(w, "restore", err)
		return
	}
	writeJSON(w, http.StatusOK, eventDTOs(events))
}

// =============================================================================
// ACCESS HANDLERS
// =============================================================================

// SetAccessLevel changes an indicator's access level.
func (h *Handler) SetAccessLevel(w http.ResponseWriter, r *http.Request) {
	id := core.IndicatorID(chi.URLParam(r, "id"))
	user, _ := h.user(r)

	var req SetLevelRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body", err)
		return
	}
	if !core.ValidLevel(core.AccessLevel(req.Level)) {
		writeError(w, http.StatusBadRequest, "unknown access level", nil)
		return
	}

	if err := h.Engine.SetAccessLevel(r.Context(), id, core.AccessLevel(req.Level), core.UserActor(user)); err != nil {
		h.fail(w, "set access level", err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// SetGrant sets one user's permission triple on a restricted indicator.
func (h *Handler) SetGrant(w http.ResponseWriter, r *http.Request) {
	id := core.IndicatorID(chi.URLParam(r, "id"))
	user, _ := h.user(r)

	var req SetGrantRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body", err)
		return
	}
	if req.UserID == "" {
		writeError(w, http.StatusBadRequest, "user_id required", nil)
		return
	}

	grant := &core.Grant{
		UserID:      core.UserID(req.UserID),
		IndicatorID: id,
		CanView:     req.CanView,
		CanEdit:     req.CanEdit,
		CanDelete:   req.CanDelete,
	}
	if err := h.Engine.SetGrant(r.Context(), grant, core.UserActor(user)); err != nil {
		h.fail(w, "set grant", err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// =============================================================================
// TABLE HANDLERS
// =============================================================================

// ListTables returns tables with at least one viewable member.
func (h *Handler) ListTables(w http.ResponseWriter, r *http.Request) {
	user, _ := h.user(r)

	tables, err := h.Access.AccessibleTables(r.Context(), user)
	if err != nil {
		h.fail(w, "list tables", err)
		return
	}
	dtos := make([]TableDTO, len(tables))
	for i, t := range tables {
		dtos[i] = tableDTO(t)
	}
	writeJSON(w, http.StatusOK, dtos)
}

// SaveTable creates or replaces a table.
func (h *Handler) SaveTable(w http.ResponseWriter, r *http.Request) {
	user, _ := h.user(r)
	if user == nil {
		writeError(w, http.StatusForbidden, "authentication required", nil)
		return
	}

	var req SaveTableRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body", err)
		return
	}
	if req.ID == "" || req.Name == "" {
		writeError(w, http.StatusBadRequest, "id and name required", nil)
		return
	}

	ids := make([]core.IndicatorID, len(req.Indicators))
	for i, raw := range req.Indicators {
		id := core.IndicatorID(raw)
		if _, err := h.Store.GetIndicator(r.Context(), id); err != nil {
			h.fail(w, "save table", err)
			return
		}
		ids[i] = id
	}

	table := &core.Table{
		ID:           core.TableID(req.ID),
		Name:         req.Name,
		Description:  req.Description,
		IndicatorIDs: ids,
	}
	if err := h.Store.PutTable(r.Context(), table); err != nil {
		h.fail(w, "save table", err)
		return
	}
	writeJSON(w, http.StatusOK, tableDTO(table))
}

// GetTable returns a table with its member indicators; the strict check
// requires view on every member.
func (h *Handler) GetTable(w http.ResponseWriter, r *http.Request) {
	id := core.TableID(chi.URLParam(r, "id"))
	user, _ := h.user(r)

	table, err := h.Store.GetTable(r.Context(), id)
	if err != nil {
		h.fail(w, "get table", err)
		return
	}
	ok, err := h.Access.CanViewTable(r.Context(), user, table)
	if err != nil {
		h.fail(w, "get table", err)
		return
	}
	if !ok {
		writeError(w, http.StatusForbidden, "access denied", nil)
		return
	}

	members := make([]IndicatorDTO, 0, len(table.IndicatorIDs))
	for _, indID := range table.IndicatorIDs {
		ind, err := h.Store.GetIndicator(r.Context(), indID)
		if err != nil {
			if core.IsNotFound(err) {
				continue
			}
			h.fail(w, "get table", err)
			return
		}
		members = append(members, indicatorDTO(ind))
	}

	writeJSON(w, http.StatusOK, struct {
		TableDTO
		Members []IndicatorDTO `json:"members"`
	}{tableDTO(table), members})
}

// DeleteTable removes a table. Member indicators are untouched.
func (h *Handler) DeleteTable(w http.ResponseWriter, r *http.Request) {
	id := core.TableID(chi.URLParam(r, "id"))
	user, _ := h.user(r)
	if user == nil {
		writeError(w, http.StatusForbidden, "authentication required", nil)
		return
	}

	if err := h.Store.DeleteTable(r.Context(), id); err != nil {
		h.fail(w, "delete table", err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// =============================================================================
// INGESTION HANDLERS
// =============================================================================

// ListIngestRuns returns recent ingestion runs, newest first.
func (h *Handler) ListIngestRuns(w http.ResponseWriter, r *http.Request) {
	if h.Runner == nil {
		writeJSON(w, http.StatusOK, []ingest.Run{})
		return
	}
	writeJSON(w, http.StatusOK, h.Runner.Runs())
}

// TriggerIngest runs one ingestion cycle synchronously.
func (h *Handler) TriggerIngest(w http.ResponseWriter, r *http.Request) {
	user, _ := h.user(r)
	if user == nil || !user.IsSuperuser {
		writeError(w, http.StatusForbidden, "superuser required", nil)
		return
	}
	if h.Runner == nil {
		writeError(w, http.StatusNotFound, "ingestion disabled", nil)
		return
	}
	writeJSON(w, http.StatusOK, h.Runner.RunOnce(r.Context()))
}

// =============================================================================
// RESPONSE HELPERS
// =============================================================================

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(body)
}

func writeError(w http.ResponseWriter, status int, msg string, err error) {
	resp := ErrorResponse{Error: msg}
	if err != nil {
		resp.Detail = err.Error()
	}
	writeJSON(w, status, resp)
}

// fail maps a core error to an HTTP status.
func (h *Handler) fail(w http.ResponseWriter, op string, err error) {
	switch {
	case core.IsNotFound(err):
		writeError(w, http.StatusNotFound, "not found", err)
	case errors.Is(err, core.ErrPermissionDenied):
		writeError(w, http.StatusForbidden, "access denied", err)
	case errors.Is(err, core.ErrIndicatorInUse):
		writeError(w, http.StatusConflict, "indicator in use", err)
	case core.IsClientError(err):
		writeError(w, http.StatusBadRequest, "invalid request", err)
	default:
		h.Log.Error("request failed", zap.String("op", op), zap.Error(err))
		writeError(w, http.StatusInternalServerError, "internal error", err)
	}
}
