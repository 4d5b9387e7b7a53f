// Package sbi implements the status/admin HTTP server of the DDIL
// controller. It exposes the read-only status snapshot to monitoring and
// reporting collaborators, plus a small set of administrative operations.
//
// Exposed endpoints:
//
//	GET    /ddil/v1/status                    - full status snapshot
//	GET    /ddil/v1/paths                     - all configured paths
//	GET    /ddil/v1/paths/{mode}              - one path
//	POST   /ddil/v1/paths/{mode}/enable       - enable a path
//	POST   /ddil/v1/paths/{mode}/disable      - disable a path
//	POST   /ddil/v1/handover                  - force a handover
//	GET    /ddil/v1/handovers                 - handover history
//	GET    /ddil/v1/handovers/statistics      - handover summary
//	GET    /ddil/v1/cache/statistics          - cache counters
//	GET    /ddil/v1/cache/readiness           - autonomy readiness
//	GET    /healthz                           - supervisor liveness
//	GET    /metrics                           - Prometheus export (optional)
package sbi

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/edgefleet/ddil/internal/cache"
	"github.com/edgefleet/ddil/internal/controller"
	"github.com/edgefleet/ddil/internal/handover"
	"github.com/edgefleet/ddil/internal/logger"
	"github.com/edgefleet/ddil/internal/model"
)

// StatusServer serves the DDIL status/admin HTTP APIs.
type StatusServer struct {
	ddilController    controller.Controller
	handoverManager   handover.Manager
	cacheManager      cache.Manager
	metricsGatherer   prometheus.Gatherer
	maxRequestBodyLen int64

	httpServer *http.Server
}

// NewStatusServer creates a status server. metricsGatherer may be nil, in
// which case /metrics is not registered.
func NewStatusServer(
	ddilController controller.Controller,
	handoverManager handover.Manager,
	cacheManager cache.Manager,
	metricsGatherer prometheus.Gatherer,
) *StatusServer {
	return &StatusServer{
		ddilController:    ddilController,
		handoverManager:   handoverManager,
		cacheManager:      cacheManager,
		metricsGatherer:   metricsGatherer,
		maxRequestBodyLen: 1 << 20, // 1 MiB
	}
}

// Routes registers the handlers on the given mux.
func (server *StatusServer) Routes(mux *http.ServeMux) {
	mux.HandleFunc("/ddil/v1/status", server.handleStatus)
	mux.HandleFunc("/ddil/v1/paths", server.handlePaths)
	mux.HandleFunc("/ddil/v1/paths/", server.handlePathWithMode)
	mux.HandleFunc("/ddil/v1/handover", server.handleForceHandover)
	mux.HandleFunc("/ddil/v1/handovers", server.handleHandoverHistory)
	mux.HandleFunc("/ddil/v1/handovers/statistics", server.handleHandoverStatistics)
	mux.HandleFunc("/ddil/v1/cache/statistics", server.handleCacheStatistics)
	mux.HandleFunc("/ddil/v1/cache/readiness", server.handleCacheReadiness)
	mux.HandleFunc("/healthz", server.handleHealthz)

	if server.metricsGatherer != nil {
		mux.Handle("/metrics", promhttp.HandlerFor(server.metricsGatherer, promhttp.HandlerOpts{}))
	}
}

// Serve starts the HTTP server on listenAddr and blocks until Shutdown or a
// listener error.
func (server *StatusServer) Serve(listenAddr string) error {
	mux := http.NewServeMux()
	server.Routes(mux)

	server.httpServer = &http.Server{
		Addr:         listenAddr,
		Handler:      mux,
		ReadTimeout:  5 * time.Second,
		WriteTimeout: 10 * time.Second,
	}

	logger.SbiLog.Infof("starting status server on %s", listenAddr)
	return server.httpServer.ListenAndServe()
}

// Shutdown gracefully stops the HTTP server.
func (server *StatusServer) Shutdown(ctx context.Context) error {
	if server.httpServer == nil {
		return nil
	}
	return server.httpServer.Shutdown(ctx)
}

// -----------------------------------------------------------------------------
// Handlers
// -----------------------------------------------------------------------------

func (server *StatusServer) handleStatus(responseWriter http.ResponseWriter, request *http.Request) {
	if request.Method != http.MethodGet {
		http.Error(responseWriter, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	writeJSON(responseWriter, http.StatusOK, server.ddilController.GetStatus())
}

func (server *StatusServer) handlePaths(responseWriter http.ResponseWriter, request *http.Request) {
	if request.Method != http.MethodGet {
		http.Error(responseWriter, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	writeJSON(responseWriter, http.StatusOK, server.ddilController.GetPaths())
}

// handlePathWithMode handles GET /ddil/v1/paths/{mode} and
// POST /ddil/v1/paths/{mode}/enable | /disable.
func (server *StatusServer) handlePathWithMode(
	responseWriter http.ResponseWriter,
	request *http.Request,
) {
	remainder := strings.TrimPrefix(request.URL.Path, "/ddil/v1/paths/")
	segments := strings.Split(strings.Trim(remainder, "/"), "/")

	switch {
	case len(segments) == 1 && segments[0] != "":
		if request.Method != http.MethodGet {
			http.Error(responseWriter, "method not allowed", http.StatusMethodNotAllowed)
			return
		}
		server.handleGetPath(responseWriter, model.PathMode(segments[0]))

	case len(segments) == 2:
		if request.Method != http.MethodPost {
			http.Error(responseWriter, "method not allowed", http.StatusMethodNotAllowed)
			return
		}
		server.handleTogglePath(responseWriter, model.PathMode(segments[0]), segments[1])

	default:
		http.Error(responseWriter, "bad request", http.StatusBadRequest)
	}
}

func (server *StatusServer) handleGetPath(responseWriter http.ResponseWriter, mode model.PathMode) {
	path, exists := server.ddilController.GetPath(mode)
	if !exists {
		http.Error(responseWriter, fmt.Sprintf("unknown path mode %q", mode), http.StatusNotFound)
		return
	}
	writeJSON(responseWriter, http.StatusOK, path)
}

func (server *StatusServer) handleTogglePath(
	responseWriter http.ResponseWriter,
	mode model.PathMode,
	action string,
) {
	var toggleError error
	switch action {
	case "enable":
		toggleError = server.ddilController.EnablePath(mode)
	case "disable":
		toggleError = server.ddilController.DisablePath(mode)
	default:
		http.Error(responseWriter, fmt.Sprintf("unknown action %q", action), http.StatusBadRequest)
		return
	}

	if toggleError != nil {
		logger.SbiLog.Warnf("path toggle failed mode=%s action=%s: %v", mode, action, toggleError)
		http.Error(responseWriter, toggleError.Error(), http.StatusNotFound)
		return
	}
	responseWriter.WriteHeader(http.StatusNoContent)
}

// forceHandoverRequest is the body of POST /ddil/v1/handover.
type forceHandoverRequest struct {
	Target   model.PathMode         `json:"target"`
	Strategy model.HandoverStrategy `json:"strategy,omitempty"`
}

func (server *StatusServer) handleForceHandover(
	responseWriter http.ResponseWriter,
	request *http.Request,
) {
	if request.Method != http.MethodPost {
		http.Error(responseWriter, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	bodyReader := http.MaxBytesReader(responseWriter, request.Body, server.maxRequestBodyLen)
	var handoverRequest forceHandoverRequest
	if decodeError := json.NewDecoder(bodyReader).Decode(&handoverRequest); decodeError != nil {
		http.Error(responseWriter, "bad request", http.StatusBadRequest)
		return
	}
	if handoverRequest.Target == "" {
		http.Error(responseWriter, "target is required", http.StatusBadRequest)
		return
	}
	if handoverRequest.Strategy != "" && !model.IsKnownStrategy(handoverRequest.Strategy) {
		http.Error(responseWriter,
			fmt.Sprintf("unknown strategy %q", handoverRequest.Strategy), http.StatusBadRequest)
		return
	}

	record, executeError := server.ddilController.ForceHandover(
		request.Context(), handoverRequest.Target, handoverRequest.Strategy)
	if executeError != nil {
		logger.SbiLog.Warnf("forced handover failed target=%s: %v",
			handoverRequest.Target, executeError)
		http.Error(responseWriter, executeError.Error(), http.StatusConflict)
		return
	}

	writeJSON(responseWriter, http.StatusOK, record)
}

func (server *StatusServer) handleHandoverHistory(
	responseWriter http.ResponseWriter,
	request *http.Request,
) {
	if request.Method != http.MethodGet {
		http.Error(responseWriter, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	writeJSON(responseWriter, http.StatusOK, server.handoverManager.History())
}

func (server *StatusServer) handleHandoverStatistics(
	responseWriter http.ResponseWriter,
	request *http.Request,
) {
	if request.Method != http.MethodGet {
		http.Error(responseWriter, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	writeJSON(responseWriter, http.StatusOK, server.handoverManager.Statistics())
}

func (server *StatusServer) handleCacheStatistics(
	responseWriter http.ResponseWriter,
	request *http.Request,
) {
	if request.Method != http.MethodGet {
		http.Error(responseWriter, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	writeJSON(responseWriter, http.StatusOK, server.cacheManager.Statistics())
}

func (server *StatusServer) handleCacheReadiness(
	responseWriter http.ResponseWriter,
	request *http.Request,
) {
	if request.Method != http.MethodGet {
		http.Error(responseWriter, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	writeJSON(responseWriter, http.StatusOK, server.cacheManager.Readiness(0, 0))
}

func (server *StatusServer) handleHealthz(responseWriter http.ResponseWriter, request *http.Request) {
	if request.Method != http.MethodGet {
		http.Error(responseWriter, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	health := server.ddilController.GetHealth()
	statusCode := http.StatusOK
	if !health.Healthy {
		statusCode = http.StatusServiceUnavailable
	}
	writeJSON(responseWriter, statusCode, health)
}

// writeJSON serializes a payload with the proper content type.
func writeJSON(responseWriter http.ResponseWriter, statusCode int, payload interface{}) {
	responseWriter.Header().Set("Content-Type", "application/json")
	responseWriter.WriteHeader(statusCode)
	if encodeError := json.NewEncoder(responseWriter).Encode(payload); encodeError != nil {
		logger.SbiLog.Warnf("failed to encode response: %v", encodeError)
	}
}
