package admin

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog/log"

	"github.com/pgstrict/pgstrict/analyzer"
	"github.com/pgstrict/pgstrict/audit"
	"github.com/pgstrict/pgstrict/inspect"
	"github.com/pgstrict/pgstrict/notify"
	"github.com/pgstrict/pgstrict/policy"
)

// ViolationSpool is the slice of the audit pipeline the admin surface reads.
type ViolationSpool interface {
	ReadLatest(limit int) ([]audit.Event, error)
	PendingEvents() (int, error)
}

// AdminHandlers handles the admin API endpoints. The enforcement surface
// delegates to the same inspector the proxy answers pg_strict_*() calls
// with, so the two cannot drift apart.
type AdminHandlers struct {
	inspector *inspect.Inspector
	store     *policy.Store
	cache     *analyzer.Cache
	spool     ViolationSpool
	hub       *notify.Hub
}

// NewAdminHandlers creates a new AdminHandlers instance
func NewAdminHandlers(inspector *inspect.Inspector, store *policy.Store, cache *analyzer.Cache) *AdminHandlers {
	return &AdminHandlers{
		inspector: inspector,
		store:     store,
		cache:     cache,
	}
}

// WithSpool serves recent violations and spool depth from the audit spool.
// Without it the violations endpoint reports the pipeline as disabled.
func (h *AdminHandlers) WithSpool(spool ViolationSpool) *AdminHandlers {
	h.spool = spool
	return h
}

// WithHub includes dropped-signal counts in the stats snapshot.
func (h *AdminHandlers) WithHub(hub *notify.Hub) *AdminHandlers {
	h.hub = hub
	return h
}

// handleConfigReport returns the enforcement settings report
func (h *AdminHandlers) handleConfigReport(w http.ResponseWriter, r *http.Request) {
	writeJSONResponse(w, h.inspector.ConfigReport(), false, "")
}

type modeWriteRequest struct {
	Mode string `json:"mode"`
}

// handleConfigWrite applies a mode token to one setting. Rejected tokens
// answer 400 with the same warning text the SQL surface produces.
func (h *AdminHandlers) handleConfigWrite(w http.ResponseWriter, r *http.Request) {
	setting := chi.URLParam(r, "setting")
	op, ok := policy.OperationForSetting(setting)
	if !ok {
		writeErrorResponse(w, http.StatusNotFound, fmt.Sprintf("unknown setting '%s'", setting))
		return
	}

	var req modeWriteRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeErrorResponse(w, http.StatusBadRequest, "invalid request body")
		return
	}

	if !h.store.SetToken(op, req.Mode) {
		writeErrorResponse(w, http.StatusBadRequest, policy.InvalidModeMessage(req.Mode))
		return
	}

	writeJSONResponse(w, map[string]interface{}{
		"setting": policy.ShortSettingFor(op),
		"mode":    h.store.Get(op).String(),
	}, false, "")
}

type checkRequest struct {
	Query         string `json:"query"`
	StatementKind string `json:"statement_kind"`
}

// handleCheck answers whether every statement of the requested kind in the
// query carries a row filter
func (h *AdminHandlers) handleCheck(w http.ResponseWriter, r *http.Request) {
	var req checkRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeErrorResponse(w, http.StatusBadRequest, "invalid request body")
		return
	}

	writeJSONResponse(w, map[string]interface{}{
		"has_where_clause": h.inspector.CheckWhereClause(req.Query, req.StatementKind),
	}, false, "")
}

type validateRequest struct {
	Query string `json:"query"`
}

// handleValidate runs the fatal validation for one operation kind. Failures
// answer 422 carrying the exact validation message.
func (h *AdminHandlers) handleValidate(w http.ResponseWriter, r *http.Request) {
	operation := chi.URLParam(r, "operation")
	op, ok := analyzer.ParseOperation(operation)
	if !ok {
		writeErrorResponse(w, http.StatusNotFound, fmt.Sprintf("unknown operation '%s'", operation))
		return
	}

	var req validateRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeErrorResponse(w, http.StatusBadRequest, "invalid request body")
		return
	}

	var err error
	if op == analyzer.OperationDelete {
		err = h.inspector.ValidateDelete(req.Query)
	} else {
		err = h.inspector.ValidateUpdate(req.Query)
	}
	if err != nil {
		writeErrorResponse(w, http.StatusUnprocessableEntity, err.Error())
		return
	}

	writeJSONResponse(w, map[string]interface{}{"valid": true}, false, "")
}

// handleHealthz is the unauthenticated liveness check
func (h *AdminHandlers) handleHealthz(w http.ResponseWriter, r *http.Request) {
	writeJSONResponse(w, map[string]interface{}{
		"healthy": true,
		"version": inspect.Version(),
	}, false, "")
}

// writeJSONResponse writes a successful JSON response
func writeJSONResponse(w http.ResponseWriter, data interface{}, hasMore bool, lastKey string) {
	response := map[string]interface{}{
		"data": data,
	}

	if hasMore || lastKey != "" {
		response["has_more"] = hasMore
		if lastKey != "" {
			response["last_key"] = lastKey
		}
	}

	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(response); err != nil {
		log.Error().Err(err).Msg("Failed to encode JSON response")
	}
}

// writeErrorResponse writes an error JSON response
func writeErrorResponse(w http.ResponseWriter, status int, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	response := map[string]interface{}{
		"error": message,
	}
	if err := json.NewEncoder(w).Encode(response); err != nil {
		log.Error().Err(err).Msg("Failed to encode error response")
	}
}

// parseLimit parses limit parameter with defaults
func parseLimit(r *http.Request) (int, error) {
	limitStr := r.URL.Query().Get("limit")
	if limitStr == "" {
		return 100, nil // default
	}

	limit, err := strconv.Atoi(limitStr)
	if err != nil {
		return 0, fmt.Errorf("invalid limit parameter: %w", err)
	}

	if limit < 1 {
		return 0, fmt.Errorf("limit must be positive")
	}

	if limit > 1000 {
		return 0, fmt.Errorf("limit cannot exceed 1000")
	}

	return limit, nil
}
