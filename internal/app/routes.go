package app

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"net/http"
	"regexp"
	"strconv"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/centralino-ai/centralino/internal/config"
	"github.com/centralino-ai/centralino/internal/health"
	"github.com/centralino-ai/centralino/internal/observe"
	"github.com/centralino-ai/centralino/internal/transcripts"
)

// routes builds the full HTTP surface: carrier webhooks, dashboard
// websocket, read-only analytics and transcript APIs, the live config API,
// health, and metrics.
func (a *App) routes() http.Handler {
	mux := http.NewServeMux()

	// Carrier.
	mux.HandleFunc("POST /twilio/voice", a.handler.VoiceWebhook)
	mux.HandleFunc("GET /twilio/stream", a.handler.StreamHTTP)

	// Dashboard.
	mux.Handle("GET /dashboard/ws", a.hub)
	mux.HandleFunc("GET /api/dashboard/status", a.handleDashboardStatus)
	mux.HandleFunc("POST /api/test-call", a.handleTestCall)

	// Call history.
	mux.HandleFunc("GET /api/calls", a.handleListCalls)
	mux.HandleFunc("GET /api/calls/{id}", a.handleGetCall)
	mux.HandleFunc("GET /api/analytics", a.handleAggregate)
	mux.HandleFunc("GET /api/transcripts", a.handleListTranscripts)
	mux.HandleFunc("GET /api/transcripts/{id}", a.handleGetTranscript)

	// Live configuration.
	mux.HandleFunc("GET /api/config", a.handleGetParams)
	mux.HandleFunc("POST /api/config", a.handleSetParam)
	mux.HandleFunc("GET /api/config/history", a.handleParamHistory)
	mux.HandleFunc("GET /api/config/schema", a.handleParamSchema)

	// Operational.
	checker := health.New(
		health.DiskChecker("analytics", a.cfg.Paths.AnalyticsRoot),
		health.DiskChecker("transcripts", a.cfg.Paths.TranscriptsRoot),
	)
	checker.Register(mux)
	mux.Handle("GET /metrics", promhttp.Handler())

	return observe.Middleware(a.metrics)(mux)
}

func (a *App) handleDashboardStatus(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, a.hub.CurrentStatus())
}

// handleTestCall runs a scripted dashboard broadcast so operators can
// verify their websocket wiring. The simulation takes a few seconds; the
// response carries the TEST- call id once the script has played out.
func (a *App) handleTestCall(w http.ResponseWriter, r *http.Request) {
	callID := a.hub.SimulateCall(r.Context())
	writeJSON(w, http.StatusOK, map[string]string{"call_id": callID})
}

func (a *App) handleListCalls(w http.ResponseWriter, r *http.Request) {
	limit := queryInt(r, "limit", 50)
	listings, err := a.calls.ListCalls(limit)
	if err != nil {
		httpError(w, http.StatusInternalServerError, err)
		return
	}
	writeJSON(w, http.StatusOK, listings)
}

// callIDPattern: the path id is joined into store paths, so anything that
// could escape the data roots is rejected before the lookup.
var callIDPattern = regexp.MustCompile(`^[A-Za-z0-9_-]+$`)

func callID(r *http.Request) (string, error) {
	id := r.PathValue("id")
	if !callIDPattern.MatchString(id) {
		return "", fmt.Errorf("invalid call id %q", id)
	}
	return id, nil
}

func (a *App) handleGetCall(w http.ResponseWriter, r *http.Request) {
	id, err := callID(r)
	if err != nil {
		httpError(w, http.StatusBadRequest, err)
		return
	}
	detail, err := a.calls.GetCall(id)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			httpError(w, http.StatusNotFound, err)
			return
		}
		httpError(w, http.StatusInternalServerError, err)
		return
	}
	writeJSON(w, http.StatusOK, detail)
}

func (a *App) handleAggregate(w http.ResponseWriter, _ *http.Request) {
	stats, err := a.calls.Aggregate()
	if err != nil {
		httpError(w, http.StatusInternalServerError, err)
		return
	}
	writeJSON(w, http.StatusOK, stats)
}

func (a *App) handleListTranscripts(w http.ResponseWriter, r *http.Request) {
	limit := queryInt(r, "limit", 50)
	offset := queryInt(r, "offset", 0)
	listings, total, err := a.transcripts.List(limit, offset)
	if err != nil {
		httpError(w, http.StatusInternalServerError, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"total": total,
		"calls": listings,
	})
}

func (a *App) handleGetTranscript(w http.ResponseWriter, r *http.Request) {
	id, err := callID(r)
	if err != nil {
		httpError(w, http.StatusBadRequest, err)
		return
	}
	rec, err := a.transcripts.Get(id)
	if err != nil {
		if errors.Is(err, transcripts.ErrNotFound) {
			httpError(w, http.StatusNotFound, err)
			return
		}
		httpError(w, http.StatusInternalServerError, err)
		return
	}
	writeJSON(w, http.StatusOK, rec)
}

func (a *App) handleGetParams(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, a.params.Params())
}

// setParamRequest is one live parameter change from the dashboard or an
// operator script.
type setParamRequest struct {
	Parameter string `json:"parameter"`
	Value     any    `json:"value"`
	Source    string `json:"source"`
}

func (a *App) handleSetParam(w http.ResponseWriter, r *http.Request) {
	var req setParamRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		httpError(w, http.StatusBadRequest, err)
		return
	}
	if req.Source == "" {
		req.Source = "api"
	}
	change, err := a.params.Set(req.Parameter, req.Value, req.Source)
	if err != nil {
		switch {
		case errors.Is(err, config.ErrUnknownParam):
			httpError(w, http.StatusNotFound, err)
		case errors.Is(err, config.ErrInvalidValue):
			httpError(w, http.StatusBadRequest, err)
		default:
			httpError(w, http.StatusInternalServerError, err)
		}
		return
	}
	writeJSON(w, http.StatusOK, change)
}

func (a *App) handleParamHistory(w http.ResponseWriter, r *http.Request) {
	limit := queryInt(r, "limit", 50)
	changes, err := a.params.History(limit)
	if err != nil {
		httpError(w, http.StatusInternalServerError, err)
		return
	}
	if changes == nil {
		changes = []config.Change{}
	}
	writeJSON(w, http.StatusOK, changes)
}

func (a *App) handleParamSchema(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, config.AdjustableParams())
}

func queryInt(r *http.Request, key string, def int) int {
	raw := r.URL.Query().Get(key)
	if raw == "" {
		return def
	}
	n, err := strconv.Atoi(raw)
	if err != nil {
		return def
	}
	return n
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Debug("response encode failed", "err", err)
	}
}

func httpError(w http.ResponseWriter, status int, err error) {
	writeJSON(w, status, map[string]string{"error": err.Error()})
}
