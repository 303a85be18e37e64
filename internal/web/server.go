// Package web serves the operational surface: a small status page, a JSON
// status endpoint, a liveness probe, and the Prometheus metrics.
package web

import (
	"context"
	"encoding/json"
	"fmt"
	"html/template"
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"

	"github.com/nhle/ticketwatch/internal/driver"
)

// Server exposes the daemon's status over HTTP.
type Server struct {
	runner *driver.Runner
	logger zerolog.Logger
	http   *http.Server
}

// New creates the status server listening on addr.
func New(addr string, runner *driver.Runner, logger zerolog.Logger) *Server {
	s := &Server{
		runner: runner,
		logger: logger.With().Str("component", "web").Logger(),
	}

	r := mux.NewRouter()
	r.HandleFunc("/", s.handleIndex).Methods(http.MethodGet)
	r.HandleFunc("/status", s.handleStatus).Methods(http.MethodGet)
	r.HandleFunc("/healthz", s.handleHealthz).Methods(http.MethodGet)
	r.HandleFunc("/sync", s.handleSync).Methods(http.MethodPost)
	r.Handle("/metrics", promhttp.Handler()).Methods(http.MethodGet)

	s.http = &http.Server{
		Addr:              addr,
		Handler:           r,
		ReadHeaderTimeout: 5 * time.Second,
	}
	return s
}

// Start runs the listener in a goroutine. Listen failures after startup are
// fatal to the process via the returned channel.
func (s *Server) Start() <-chan error {
	errCh := make(chan error, 1)
	go func() {
		s.logger.Info().Str("addr", s.http.Addr).Msg("status server listening")
		if err := s.http.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()
	return errCh
}

// Shutdown stops the listener gracefully.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.http.Shutdown(ctx)
}

var indexTmpl = template.Must(template.New("index").Parse(`<!DOCTYPE html>
<html>
<head><title>ticketwatch</title></head>
<body>
  <h1>ticketwatch</h1>
  <p>State: <strong>{{.State}}</strong></p>
  <p>Total cycles: {{.TotalCycles}}</p>
  {{if not .LastRun.IsZero}}<p>Last run: {{.LastRun.Format "2006-01-02 15:04:05"}}</p>{{end}}
  {{if .LastError}}<p>Last error: <code>{{.LastError}}</code></p>{{end}}
  {{if .AuthExpired}}<p><strong>Authentication expired — re-run setup.</strong></p>{{end}}
  <p><a href="/status">status</a> · <a href="/metrics">metrics</a></p>
</body>
</html>
`))

func (s *Server) handleIndex(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	if err := indexTmpl.Execute(w, s.runner.Status()); err != nil {
		s.logger.Error().Err(err).Msg("rendering index")
	}
}

func (s *Server) handleStatus(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(s.runner.Status()); err != nil {
		s.logger.Error().Err(err).Msg("encoding status")
	}
}

func (s *Server) handleHealthz(w http.ResponseWriter, _ *http.Request) {
	w.WriteHeader(http.StatusOK)
	fmt.Fprintln(w, "ok")
}

// handleSync triggers an immediate reconciliation cycle.
func (s *Server) handleSync(w http.ResponseWriter, _ *http.Request) {
	s.runner.TriggerNow()
	w.WriteHeader(http.StatusAccepted)
	fmt.Fprintln(w, "sync triggered")
}
