/*
dto.go - Data Transfer Objects for API requests and responses

PURPOSE:
  Defines the JSON structures for API communication. These types
  decouple the internal domain model from the external API contract.

NAMING CONVENTION:
  - *DTO: Response types returned to clients
  - *Request: Request body types from clients

VALUE RENDERING:
  Values cross the wire as strings, fixed at 5 decimal places, with
  "None" for null. This matches the audit-log rendering, so history
  entries round-trip through the restore endpoint unchanged.

SEE ALSO:
  - handlers.go: Uses these types
  - core/value.go: The rendering rule
*/
package api

import (
	"time"

	"github.com/warp/indicator-engine/core"
)

// =============================================================================
// INDICATORS
// =============================================================================

// IndicatorDTO represents an indicator in API responses.
type IndicatorDTO struct {
	ID          string `json:"id"`
	Code        string `json:"code"`
	Name        string `json:"name"`
	Description string `json:"description,omitempty"`
	Source      string `json:"source,omitempty"`
	Unit        string `json:"unit,omitempty"`
	Category    string `json:"category,omitempty"`
	Country     string `json:"country,omitempty"`
	Region      string `json:"region,omitempty"`
	IsCustom    bool   `json:"is_custom"`
	Frequency   string `json:"frequency,omitempty"`
	AccessLevel string `json:"access_level,omitempty"`
	Formula     string `json:"formula,omitempty"`
}

func indicatorDTO(ind *core.Indicator) IndicatorDTO {
	return IndicatorDTO{
		ID:          string(ind.ID),
		Code:        string(ind.Code),
		Name:        ind.Name,
		Description: ind.Description,
		Source:      ind.Source,
		Unit:        ind.Unit,
		Category:    ind.Category,
		Country:     ind.Country,
		Region:      ind.Region,
		IsCustom:    ind.IsCustom,
		Frequency:   string(ind.Frequency),
	}
}

// CreateIndicatorRequest is the request to register an indicator.
type CreateIndicatorRequest struct {
	ID          string `json:"id"`
	Code        string `json:"code"`
	Name        string `json:"name"`
	Description string `json:"description"`
	Source      string `json:"source"`
	Unit        string `json:"unit"`
	Category    string `json:"category"`
	Country     string `json:"country"`
	Region      string `json:"region"`
	Frequency   string `json:"frequency"`
}

func (req *CreateIndicatorRequest) toIndicator() *core.Indicator {
	return &core.Indicator{
		ID:          core.IndicatorID(req.ID),
		Code:        core.Code(req.Code),
		Name:        req.Name,
		Description: req.Description,
		Source:      req.Source,
		Unit:        req.Unit,
		Category:    req.Category,
		Country:     req.Country,
		Region:      req.Region,
		Frequency:   core.Frequency(req.Frequency),
	}
}

// =============================================================================
// DATA POINTS
// =============================================================================

// DataPointDTO is one period's value; Value is the 5-decimal string
// rendering, "None" for null.
type DataPointDTO struct {
	Period     string `json:"period"`
	Value      string `json:"value"`
	IsEstimate bool   `json:"is_estimate,omitempty"`
}

// WriteDataRequest is a batch of values to write for one indicator.
type WriteDataRequest struct {
	Points []DataPointDTO `json:"points"`
}

// FormulaRequest sets a derived indicator's formula.
type FormulaRequest struct {
	Formula string `json:"formula"`
}

// =============================================================================
// EVENTS / HISTORY
// =============================================================================

// EventDTO represents one audit event.
type EventDTO struct {
	ID          string             `json:"id"`
	IndicatorID string             `json:"indicator_id"`
	User        string             `json:"user"`
	Kind        string             `json:"kind"`
	Timestamp   string             `json:"timestamp"`
	Changes     []core.ValueChange `json:"changes,omitempty"`
	Details     map[string]string  `json:"details,omitempty"`
}

func eventDTO(ev *core.ChangeEvent) EventDTO {
	return EventDTO{
		ID:          string(ev.ID),
		IndicatorID: string(ev.IndicatorID),
		User:        ev.Editor(),
		Kind:        string(ev.Kind),
		Timestamp:   ev.Timestamp.UTC().Format(time.RFC3339Nano),
		Changes:     ev.Changes,
		Details:     ev.Details,
	}
}

func eventDTOs(events []*core.ChangeEvent) []EventDTO {
	out := make([]EventDTO, len(events))
	for i, ev := range events {
		out[i] = eventDTO(ev)
	}
	return out
}

// RestoreRequest rolls values back to one side of a history snapshot.
type RestoreRequest struct {
	Timestamp string              `json:"timestamp"`
	Target    string              `json:"target"` // "original" or "changed"
	Entries   []core.RestoreEntry `json:"entries"`
}

// =============================================================================
// ACCESS
// =============================================================================

// SetLevelRequest changes an indicator's access level.
type SetLevelRequest struct {
	Level string `json:"level"`
}

// SetGrantRequest sets one user's permission triple on an indicator.
type SetGrantRequest struct {
	UserID    string `json:"user_id"`
	CanView   bool   `json:"can_view"`
	CanEdit   bool   `json:"can_edit"`
	CanDelete bool   `json:"can_delete"`
}

// =============================================================================
// TABLES
// =============================================================================

// TableDTO represents a named indicator group.
type TableDTO struct {
	ID          string   `json:"id"`
	Name        string   `json:"name"`
	Description string   `json:"description,omitempty"`
	Indicators  []string `json:"indicators"`
}

func tableDTO(t *core.Table) TableDTO {
	ids := make([]string, len(t.IndicatorIDs))
	for i, id := range t.IndicatorIDs {
		ids[i] = string(id)
	}
	return TableDTO{
		ID:          string(t.ID),
		Name:        t.Name,
		Description: t.Description,
		Indicators:  ids,
	}
}

// SaveTableRequest creates or replaces a table.
type SaveTableRequest struct {
	ID          string   `json:"id"`
	Name        string   `json:"name"`
	Description string   `json:"description"`
	Indicators  []string `json:"indicators"`
}

// =============================================================================
// ERRORS
// =============================================================================

// ErrorResponse is the uniform error body.
type ErrorResponse struct {
	Error  string `json:"error"`
	Detail string `json:"detail,omitempty"`
}
