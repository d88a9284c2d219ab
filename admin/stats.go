package admin

import "net/http"

// handleViolations returns the most recent spooled audit events
func (h *AdminHandlers) handleViolations(w http.ResponseWriter, r *http.Request) {
	if h.spool == nil {
		writeErrorResponse(w, http.StatusNotFound, "audit pipeline is disabled")
		return
	}

	limit, err := parseLimit(r)
	if err != nil {
		writeErrorResponse(w, http.StatusBadRequest, err.Error())
		return
	}

	events, err := h.spool.ReadLatest(limit)
	if err != nil {
		writeErrorResponse(w, http.StatusInternalServerError, err.Error())
		return
	}

	writeJSONResponse(w, events, false, "")
}

// handleStats returns a counters snapshot
func (h *AdminHandlers) handleStats(w http.ResponseWriter, r *http.Request) {
	update, del := h.store.Modes()

	response := map[string]interface{}{
		"modes": map[string]string{
			"require_where_on_update": update.String(),
			"require_where_on_delete": del.String(),
		},
		"analysis_cache_entries": h.cache.Entries(),
	}

	if h.hub != nil {
		response["violation_signals_dropped"] = h.hub.Dropped()
	}

	if h.spool != nil {
		pending, err := h.spool.PendingEvents()
		if err != nil {
			writeErrorResponse(w, http.StatusInternalServerError, err.Error())
			return
		}
		response["audit_events_pending"] = pending
	}

	writeJSONResponse(w, response, false, "")
}
