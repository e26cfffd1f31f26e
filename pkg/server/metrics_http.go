package server

import (
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/julienschmidt/httprouter"
)

// newHTTPRouter exposes /metrics in Prometheus text exposition format,
// /healthz, and the WebSocket transport at /ws.
func (s *Server) newHTTPRouter() *httprouter.Router {
	router := httprouter.New()
	router.GET("/metrics", s.handleMetrics)
	router.GET("/healthz", s.handleHealth)
	router.GET("/ws", s.handleWebSocket)
	return router
}

// startHTTP binds the HTTP listener. It is a no-op when HTTPAddr is empty.
func (s *Server) startHTTP() error {
	addr := s.cfg.HTTPAddr
	if addr == "" {
		return nil // HTTP endpoint disabled
	}

	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("server: listen http: %w", err)
	}
	srv := &http.Server{
		Handler:           s.newHTTPRouter(),
		ReadHeaderTimeout: 5 * time.Second,
	}
	s.mu.Lock()
	s.httpLn = ln
	s.httpSrv = srv
	s.mu.Unlock()

	slog.Info("HTTP listening", "addr", ln.Addr().String(), "paths", "/metrics /healthz /ws")
	s.group.Go(func() error {
		if err := srv.Serve(ln); err != nil && err != http.ErrServerClosed {
			return fmt.Errorf("server: http: %w", err)
		}
		return nil
	})
	return nil
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request, _ httprouter.Params) {
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ok\n"))
}

// handleMetrics writes all metrics in Prometheus text exposition format.
func (s *Server) handleMetrics(w http.ResponseWriter, _ *http.Request, _ httprouter.Params) {
	m := s.metrics
	uptime := time.Since(m.startTime).Seconds()

	w.Header().Set("Content-Type", "text/plain; version=0.0.4; charset=utf-8")

	// Write errors to http.ResponseWriter are non-actionable; suppress errcheck.
	write := func(name, help, mtype string, value int64) {
		_, _ = fmt.Fprintf(w, "# HELP %s %s\n", name, help)
		_, _ = fmt.Fprintf(w, "# TYPE %s %s\n", name, mtype)
		_, _ = fmt.Fprintf(w, "%s %d\n", name, value)
	}
	writeFloat := func(name, help, mtype string, value float64) {
		_, _ = fmt.Fprintf(w, "# HELP %s %s\n", name, help)
		_, _ = fmt.Fprintf(w, "# TYPE %s %s\n", name, mtype)
		_, _ = fmt.Fprintf(w, "%s %f\n", name, value)
	}

	writeFloat("gomsg_uptime_seconds", "Server uptime in seconds.", "gauge", uptime)

	write("gomsg_connections_active", "Current active connections.", "gauge",
		m.ActiveConnections.Load())
	write("gomsg_connections_queued", "Connections waiting for a worker slot.", "gauge",
		m.QueuedConnections.Load())
	write("gomsg_connections_total", "Lifetime connections accepted.", "counter",
		m.TotalConnections.Load())
	write("gomsg_disconnects_total", "Total client disconnects.", "counter",
		m.TotalDisconnects.Load())
	write("gomsg_sessions_authenticated", "Distinct usernames holding an authenticated session.", "gauge",
		int64(s.registry.Count()))

	write("gomsg_auth_success_total", "Successful LOGIN attempts.", "counter",
		m.SuccessfulAuths.Load())
	write("gomsg_auth_failed_total", "Failed LOGIN attempts.", "counter",
		m.FailedAuths.Load())
	write("gomsg_evictions_total", "Sessions evicted after their account was removed.", "counter",
		m.Evictions.Load())

	write("gomsg_commands_total", "Commands dispatched.", "counter",
		m.CommandsTotal.Load())
	write("gomsg_commands_denied_total", "Commands rejected by authorization or argument checks.", "counter",
		m.CommandsDenied.Load())
	write("gomsg_commands_failed_total", "Commands that hit a repository error.", "counter",
		m.CommandsFailed.Load())
	write("gomsg_commands_unknown_total", "Commands with an unknown verb.", "counter",
		m.UnknownCommands.Load())

	write("gomsg_messages_sent_total", "Messages stored.", "counter",
		m.MessagesSent.Load())
	write("gomsg_users_created_total", "Users created.", "counter",
		m.UsersCreated.Load())
	write("gomsg_users_updated_total", "Users updated.", "counter",
		m.UsersUpdated.Load())
	write("gomsg_users_deleted_total", "Users deleted.", "counter",
		m.UsersDeleted.Load())

	writeFloat("gomsg_lock_wait_seconds_total", "Time spent waiting for the dispatch lock.", "counter",
		time.Duration(m.LockWaitNanos.Load()).Seconds())
	writeFloat("gomsg_lock_hold_seconds_total", "Time the dispatch lock was held.", "counter",
		time.Duration(m.LockHoldNanos.Load()).Seconds())
}
