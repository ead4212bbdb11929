package httpapi

import (
	"net/http"
	"strconv"
	"time"

	"github.com/google/uuid"

	"github.com/nextlevelbuilder/goswarm/internal/delegation"
	"github.com/nextlevelbuilder/goswarm/internal/store"
)

// DelegationsHandler serves in-flight delegations and settled history.
type DelegationsHandler struct {
	engine  *delegation.Engine
	history store.DelegationStore
	token   string
}

func NewDelegationsHandler(engine *delegation.Engine, history store.DelegationStore, token string) *DelegationsHandler {
	return &DelegationsHandler{engine: engine, history: history, token: token}
}

func (h *DelegationsHandler) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("GET /v1/delegations", h.authMiddleware(h.handleList))
	mux.HandleFunc("GET /v1/delegations/active", h.authMiddleware(h.handleActive))
	mux.HandleFunc("GET /v1/delegations/{id}", h.authMiddleware(h.handleGet))
}

func (h *DelegationsHandler) authMiddleware(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if h.token != "" {
			if extractBearerToken(r) != h.token {
				writeJSON(w, http.StatusUnauthorized, map[string]string{"error": "unauthorized"})
				return
			}
		}
		next(w, r)
	}
}

func (h *DelegationsHandler) handleList(w http.ResponseWriter, r *http.Request) {
	if h.history == nil {
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{"error": "delegation history not available"})
		return
	}

	opts := store.DelegationListOpts{
		Limit:  50,
		Offset: 0,
	}

	if v := r.URL.Query().Get("from_agent"); v != "" {
		opts.FromAgent = v
	}
	if v := r.URL.Query().Get("to_agent"); v != "" {
		opts.ToAgent = v
	}
	if v := r.URL.Query().Get("status"); v != "" {
		opts.Status = v
	}
	if v := r.URL.Query().Get("since"); v != "" {
		since, err := time.Parse(time.RFC3339, v)
		if err != nil {
			writeJSON(w, http.StatusBadRequest, map[string]string{"error": "since must be RFC3339"})
			return
		}
		opts.Since = &since
	}
	if v := r.URL.Query().Get("limit"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 && n <= 200 {
			opts.Limit = n
		}
	}
	if v := r.URL.Query().Get("offset"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n >= 0 {
			opts.Offset = n
		}
	}

	records, total, err := h.history.ListDelegations(r.Context(), opts)
	if err != nil {
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": err.Error()})
		return
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"records": records,
		"total":   total,
		"limit":   opts.Limit,
		"offset":  opts.Offset,
	})
}

func (h *DelegationsHandler) handleActive(w http.ResponseWriter, r *http.Request) {
	if h.engine == nil {
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{"error": "delegation engine not available"})
		return
	}

	active := h.engine.ActiveDelegations()
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"delegations": active,
		"count":       len(active),
	})
}

func (h *DelegationsHandler) handleGet(w http.ResponseWriter, r *http.Request) {
	if h.history == nil {
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{"error": "delegation history not available"})
		return
	}

	id, err := uuid.Parse(r.PathValue("id"))
	if err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid id"})
		return
	}

	record, err := h.history.GetDelegation(r.Context(), id)
	if err != nil {
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": err.Error()})
		return
	}
	if record == nil {
		writeJSON(w, http.StatusNotFound, map[string]string{"error": "delegation not found"})
		return
	}

	writeJSON(w, http.StatusOK, record)
}
