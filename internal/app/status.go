package app

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/vk/pipegrid/internal/job"
)

// healthHandler answers liveness probes while a run is in flight.
func (a *App) healthHandler(w http.ResponseWriter, r *http.Request) {
	a.logger.Debug("Health check endpoint hit.", "remote_addr", r.RemoteAddr, "path", r.URL.Path)
	w.WriteHeader(http.StatusOK)
	fmt.Fprintln(w, "OK")
}

// jobsHandler serves a snapshot of every job's state and stage ledger.
func (a *App) jobsHandler(w http.ResponseWriter, r *http.Request) {
	snapshots := make([]job.Snapshot, 0, len(a.jobs))
	for _, j := range a.jobs {
		snapshots = append(snapshots, j.Snapshot())
	}

	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(snapshots); err != nil {
		a.logger.Error("Failed to encode job snapshots.", "error", err)
	}
}

// startStatusServer runs the status HTTP server in the background.
func (a *App) startStatusServer(port int) {
	a.logger.Debug("Configuring status server.")

	r := chi.NewRouter()
	r.Get("/health", a.healthHandler)
	r.Get("/api/jobs", a.jobsHandler)

	addr := fmt.Sprintf(":%d", port)
	a.httpServer = &http.Server{
		Addr:    addr,
		Handler: r,
	}

	go func() {
		a.logger.Info("🩺 Status server starting", "address", fmt.Sprintf("http://localhost%s/health", addr))
		if err := a.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			a.logger.Error("Status server failed unexpectedly", "error", err)
		}
	}()
}

// closeStatusServer shuts the status server down gracefully.
func (a *App) closeStatusServer() {
	if a.httpServer == nil {
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	a.logger.Debug("Shutting down status server...")
	if err := a.httpServer.Shutdown(ctx); err != nil {
		a.logger.Error("Status server shutdown failed", "error", err)
	}
}
