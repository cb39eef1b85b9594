// Package v1 implements the /api/v1 HTTP handlers.
package v1

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/fleetaudit/fleetaudit/pkg/audit"
	"github.com/fleetaudit/fleetaudit/pkg/server/api"
	"github.com/fleetaudit/fleetaudit/pkg/storage"
)

// ListAuditsQuery holds the validated query parameters for the list endpoint.
type ListAuditsQuery struct {
	Status string
	Domain string
	Limit  int
	SortBy string
	Order  string
}

// ParseListAuditsQuery parses and validates query parameters for
// GET /api/v1/audits.
func ParseListAuditsQuery(r *http.Request, maxLimit int) (ListAuditsQuery, error) {
	q := ListAuditsQuery{
		Status: r.URL.Query().Get("status"),
		Domain: r.URL.Query().Get("domain"),
		SortBy: r.URL.Query().Get("sort"),
		Order:  r.URL.Query().Get("order"),
	}

	if q.Status != "" && !storage.AuditStatus(q.Status).IsValid() {
		return q, fmt.Errorf("invalid status %q", q.Status)
	}
	switch q.Order {
	case "", "asc", "desc":
	default:
		return q, fmt.Errorf("invalid order %q", q.Order)
	}

	if raw := r.URL.Query().Get("limit"); raw != "" {
		limit, err := strconv.Atoi(raw)
		if err != nil || limit < 1 {
			return q, fmt.Errorf("invalid limit %q", raw)
		}
		if maxLimit > 0 && limit > maxLimit {
			limit = maxLimit
		}
		q.Limit = limit
	}
	return q, nil
}

// ListAuditsHandler handles GET /api/v1/audits
//
// Query parameters:
//   - status: filter by run status (running, completed, failed)
//   - domain: filter runs that covered a domain
//   - limit: maximum results (capped by server config)
//   - sort: "time" (default) or "severity"
//   - order: "desc" (default) or "asc"
//
// Response format:
//
//	{
//	  "audits": [
//	    {"id": "...", "status": "completed", "start_time": "...", "targets": 12, "findings": 3}
//	  ],
//	  "total": 2
//	}
func ListAuditsHandler(deps *api.Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		query, qerr := ParseListAuditsQuery(r, deps.Config.MaxListLimit)
		if qerr != nil {
			api.WriteJSONError(w, http.StatusBadRequest, "Bad Request", "INVALID_QUERY", qerr.Error())
			return
		}

		if deps.Storage == nil {
			api.WriteError(w, r, errors.New("no storage backend configured"))
			return
		}

		filter := storage.AuditFilter{
			Status:    query.Status,
			Domain:    query.Domain,
			Limit:     query.Limit,
			SortBy:    query.SortBy,
			SortOrder: query.Order,
		}
		audits, err := deps.Storage.Audits().List(r.Context(), filter)
		if err != nil {
			api.WriteError(w, r, err)
			return
		}

		summaries := make([]api.AuditSummary, 0, len(audits))
		for _, a := range audits {
			summaries = append(summaries, api.AuditSummary{
				ID:        a.ID,
				StartTime: a.StartedAt.Format(time.RFC3339),
				Status:    a.Status,
				Domains:   a.Domains,
				Targets:   a.TargetCount,
				Findings:  a.FindingCount.Total(),
			})
		}

		api.WriteJSON(w, http.StatusOK, map[string]any{
			"audits": summaries,
			"total":  len(summaries),
		})
	}
}

// GetAuditHandler handles GET /api/v1/audits/{id}
//
// Returns full run details including finding counts by severity.
// Returns 404 if the run is unknown.
func GetAuditHandler(deps *api.Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id := r.PathValue("id")
		if id == "" {
			api.WriteJSONError(w, http.StatusBadRequest, "Bad Request", "AUDIT_ID_REQUIRED", "audit id is required")
			return
		}
		if deps.Storage == nil {
			api.WriteError(w, r, errors.New("no storage backend configured"))
			return
		}

		metadata, err := deps.Storage.Audits().Get(r.Context(), id)
		if err != nil {
			api.WriteError(w, r, err)
			return
		}

		api.WriteJSON(w, http.StatusOK, auditDetailFromMetadata(metadata))
	}
}

// TriggerAuditHandler handles POST /api/v1/audits
//
// Request body (optional):
//
//	{"domains": ["corp.example.com"], "battery": ["connectivity", "services"]}
//
// Starts an audit run in the background and returns 202 with the run ID.
// Returns 409 if a run is already in progress.
func TriggerAuditHandler(deps *api.Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if deps.Trigger == nil {
			api.WriteError(w, r, errors.New("no audit trigger configured"))
			return
		}

		var params audit.Params
		if r.Body != nil && r.ContentLength != 0 {
			if err := json.NewDecoder(r.Body).Decode(&params); err != nil {
				api.WriteJSONError(w, http.StatusBadRequest, "Bad Request", "INVALID_BODY", err.Error())
				return
			}
		}

		runID, err := deps.Trigger(r.Context(), params)
		if err != nil {
			api.WriteError(w, r, err)
			return
		}

		api.WriteJSON(w, http.StatusAccepted, map[string]any{
			"id":     runID,
			"status": string(storage.StatusRunning),
		})
	}
}

func auditDetailFromMetadata(metadata *storage.AuditMetadata) *api.AuditDetail {
	results := map[string]any{
		"targets":           metadata.TargetCount,
		"unreachable":       metadata.UnreachableCount,
		"findings":          metadata.FindingCount.Total(),
		"findings_critical": metadata.FindingCount.Critical,
		"findings_high":     metadata.FindingCount.High,
		"findings_medium":   metadata.FindingCount.Medium,
		"findings_low":      metadata.FindingCount.Low,
		"findings_info":     metadata.FindingCount.Info,
		"health_percent":    metadata.HealthPercent,
		"duration_seconds":  metadata.Duration,
	}
	if metadata.ErrorMessage != "" {
		results["error"] = metadata.ErrorMessage
	}

	detail := &api.AuditDetail{
		ID:        metadata.ID,
		StartTime: metadata.StartedAt.Format(time.RFC3339),
		Status:    metadata.Status,
		Domains:   metadata.Domains,
		Results:   results,
	}
	if !metadata.CompletedAt.IsZero() {
		detail.EndTime = metadata.CompletedAt.Format(time.RFC3339)
	}
	return detail
}
