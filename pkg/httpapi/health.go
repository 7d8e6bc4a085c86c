package httpapi

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/taskmesh/runtime/pkg/metrics"
	"github.com/taskmesh/runtime/pkg/scheduler"
	"github.com/taskmesh/runtime/pkg/storage"
)

// HealthServer exposes /healthz, /readyz, and /metrics over plain HTTP, the
// ambient surface every deployment needs regardless of which Scheduler or
// Store transport is configured.
type HealthServer struct {
	scheduler scheduler.Scheduler
	store     storage.Store
	mux       *http.ServeMux
}

// NewHealthServer creates a new health check HTTP server. Either dependency
// may be nil, in which case its readiness check reports "not configured".
func NewHealthServer(sched scheduler.Scheduler, store storage.Store) *HealthServer {
	mux := http.NewServeMux()
	hs := &HealthServer{
		scheduler: sched,
		store:     store,
		mux:       mux,
	}

	mux.HandleFunc("/healthz", hs.healthHandler)
	mux.HandleFunc("/readyz", hs.readyHandler)
	mux.Handle("/metrics", metrics.Handler())

	return hs
}

// Start starts the health check HTTP server. It blocks until the server
// stops or errors.
func (hs *HealthServer) Start(addr string) error {
	server := &http.Server{
		Addr:         addr,
		Handler:      hs.mux,
		ReadTimeout:  5 * time.Second,
		WriteTimeout: 10 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	return server.ListenAndServe()
}

// HealthResponse is the /healthz liveness response.
type HealthResponse struct {
	Status    string    `json:"status"`
	Timestamp time.Time `json:"timestamp"`
}

// ReadyResponse is the /readyz readiness response.
type ReadyResponse struct {
	Status    string            `json:"status"`
	Timestamp time.Time         `json:"timestamp"`
	Checks    map[string]string `json:"checks"`
	Message   string            `json:"message,omitempty"`
}

// healthHandler is a liveness check: it returns 200 as long as the process
// is alive, regardless of dependency state.
func (hs *HealthServer) healthHandler(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	response := HealthResponse{Status: "healthy", Timestamp: time.Now()}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	_ = json.NewEncoder(w).Encode(response)
}

// readyHandler pings the Scheduler transport and the Store backend; the
// process is ready only if both respond.
func (hs *HealthServer) readyHandler(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()

	checks := make(map[string]string)
	ready := true
	var message string

	if hs.scheduler != nil {
		if err := hs.scheduler.Ping(ctx); err != nil {
			checks["scheduler"] = "error: " + err.Error()
			ready = false
			message = "scheduler transport unreachable"
		} else {
			checks["scheduler"] = "ok"
		}
	} else {
		checks["scheduler"] = "not configured"
		ready = false
	}

	if hs.store != nil {
		if err := hs.store.Ping(ctx); err != nil {
			checks["storage"] = "error: " + err.Error()
			ready = false
			if message == "" {
				message = "storage backend unreachable"
			}
		} else {
			checks["storage"] = "ok"
		}
	} else {
		checks["storage"] = "not configured"
		ready = false
	}

	status := "ready"
	statusCode := http.StatusOK
	if !ready {
		status = "not ready"
		statusCode = http.StatusServiceUnavailable
	}

	response := ReadyResponse{
		Status:    status,
		Timestamp: time.Now(),
		Checks:    checks,
		Message:   message,
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	_ = json.NewEncoder(w).Encode(response)
}

// GetHandler returns the HTTP handler for embedding in other servers.
func (hs *HealthServer) GetHandler() http.Handler {
	return hs.mux
}
