// Copyright 2024-2026 Aiku AI

package relay

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"
)

// maxRequestBodySize is the maximum accepted admin request body (1 MB).
const maxRequestBodySize = 1 << 20

// API serves the administrative operations over HTTP. Slash commands or any
// other front end can drive the engine through it.
type API struct {
	engine *Engine
	log    zerolog.Logger
}

// NewAPI creates the admin API for an engine.
func NewAPI(engine *Engine, log zerolog.Logger) *API {
	return &API{
		engine: engine,
		log:    log.With().Str("component", "admin_api").Logger(),
	}
}

// Handler returns the routed handler, including /metrics.
func (a *API) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("POST /api/tenants/{tenant}/setup", a.handleSetup)
	mux.HandleFunc("GET /api/tenants/{tenant}/relays", a.handleListRelays)
	mux.HandleFunc("POST /api/tenants/{tenant}/relays", a.handleStartRelay)
	mux.HandleFunc("DELETE /api/tenants/{tenant}/relays/{source}", a.handleStopRelay)
	mux.HandleFunc("POST /api/tenants/{tenant}/copies", a.handleStartCopy)
	mux.HandleFunc("GET /api/tenants/{tenant}/copies/{id}", a.handleCopyStatus)
	mux.HandleFunc("POST /api/tenants/{tenant}/messages/{message}/copy", a.handleCopyMessage)
	mux.HandleFunc("POST /api/tenants/{tenant}/test-error", a.handleTestError)
	mux.HandleFunc("POST /api/tenants/{tenant}/info", a.handleInfo)
	mux.Handle("GET /metrics", promhttp.Handler())
	return mux
}

type setupRequest struct {
	ErrorChannel string `json:"error_channel"`
}

type startRelayRequest struct {
	Source string `json:"source"`
	Target string `json:"target"`
	Delay  int    `json:"delay"`
}

type copyMessageRequest struct {
	Target string `json:"target"`
}

type infoRequest struct {
	RequestedBy string `json:"requested_by"`
}

func (a *API) handleSetup(w http.ResponseWriter, r *http.Request) {
	var req setupRequest
	if !a.decode(w, r, &req) {
		return
	}
	tenantID := r.PathValue("tenant")
	if err := a.engine.Setup(r.Context(), tenantID, req.ErrorChannel); err != nil {
		a.writeError(w, err)
		return
	}
	a.writeJSON(w, http.StatusCreated, map[string]string{"status": "setup complete"})
}

func (a *API) handleListRelays(w http.ResponseWriter, r *http.Request) {
	relays, err := a.engine.Relays(r.PathValue("tenant"))
	if err != nil {
		a.writeError(w, err)
		return
	}
	a.writeJSON(w, http.StatusOK, map[string]any{"count": len(relays), "relays": relays})
}

func (a *API) handleStartRelay(w http.ResponseWriter, r *http.Request) {
	var req startRelayRequest
	if !a.decode(w, r, &req) {
		return
	}
	rule, err := a.engine.StartRelay(r.Context(), r.PathValue("tenant"), req.Source, req.Target, req.Delay)
	if err != nil {
		a.writeError(w, err)
		return
	}
	a.writeJSON(w, http.StatusCreated, rule)
}

func (a *API) handleStopRelay(w http.ResponseWriter, r *http.Request) {
	if err := a.engine.StopRelay(r.PathValue("tenant"), r.PathValue("source")); err != nil {
		a.writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (a *API) handleStartCopy(w http.ResponseWriter, r *http.Request) {
	var req CopyRequest
	if !a.decode(w, r, &req) {
		return
	}
	req.TenantID = r.PathValue("tenant")
	job, err := a.engine.StartCopy(r.Context(), req)
	if err != nil {
		a.writeError(w, err)
		return
	}
	a.writeJSON(w, http.StatusAccepted, job.Status())
}

func (a *API) handleCopyStatus(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(r.PathValue("id"))
	if err != nil {
		a.writeError(w, ErrJobNotFound)
		return
	}
	job, ok := a.engine.CopyJob(id)
	if !ok || job.Request.TenantID != r.PathValue("tenant") {
		a.writeError(w, ErrJobNotFound)
		return
	}
	a.writeJSON(w, http.StatusOK, job.Status())
}

func (a *API) handleCopyMessage(w http.ResponseWriter, r *http.Request) {
	var req copyMessageRequest
	if !a.decode(w, r, &req) {
		return
	}
	// Sent parts cannot be recalled, so the copy outlives the request.
	ctx := context.WithoutCancel(r.Context())
	parts, err := a.engine.CopyMessage(ctx, r.PathValue("tenant"), r.PathValue("message"), req.Target)
	if err != nil {
		a.writeError(w, err)
		return
	}
	a.writeJSON(w, http.StatusOK, map[string]int{"parts": parts})
}

func (a *API) handleTestError(w http.ResponseWriter, r *http.Request) {
	if err := a.engine.TestErrorChannel(r.Context(), r.PathValue("tenant")); err != nil {
		a.writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (a *API) handleInfo(w http.ResponseWriter, r *http.Request) {
	var req infoRequest
	if !a.decode(w, r, &req) {
		return
	}
	if err := a.engine.SendInfo(r.Context(), r.PathValue("tenant"), req.RequestedBy); err != nil {
		a.writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// decode reads an optional JSON body into v. An empty body leaves v as is.
func (a *API) decode(w http.ResponseWriter, r *http.Request, v any) bool {
	if r.Body == nil || r.ContentLength == 0 {
		return true
	}
	r.Body = http.MaxBytesReader(w, r.Body, maxRequestBodySize)
	defer r.Body.Close()
	body, err := io.ReadAll(r.Body)
	if err != nil {
		http.Error(w, "request body too large", http.StatusRequestEntityTooLarge)
		return false
	}
	if len(body) == 0 {
		return true
	}
	if err := json.Unmarshal(body, v); err != nil {
		http.Error(w, "invalid JSON", http.StatusBadRequest)
		return false
	}
	return true
}

func statusFor(err error) int {
	switch {
	case errors.Is(err, ErrNotSetUp),
		errors.Is(err, ErrRelayNotFound),
		errors.Is(err, ErrChannelNotFound),
		errors.Is(err, ErrNoErrorChannel),
		errors.Is(err, ErrJobNotFound):
		return http.StatusNotFound
	case errors.Is(err, ErrAlreadySetUp),
		errors.Is(err, ErrRelayExists):
		return http.StatusConflict
	case errors.Is(err, ErrInvalidDelay),
		errors.Is(err, ErrInvalidTenant),
		errors.Is(err, ErrSameChannel):
		return http.StatusBadRequest
	case errors.Is(err, ErrShuttingDown):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

func (a *API) writeError(w http.ResponseWriter, err error) {
	status := statusFor(err)
	if status == http.StatusInternalServerError {
		a.log.Error().Err(err).Msg("Admin request failed")
	}
	a.writeJSON(w, status, map[string]string{"error": err.Error()})
}

func (a *API) writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		a.log.Warn().Err(err).Msg("Failed to write admin response")
	}
}
