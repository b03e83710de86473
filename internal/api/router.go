package api

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
)

// buildRouter creates the HTTP router with all routes and middleware.
func (s *Server) buildRouter() http.Handler {
	r := chi.NewRouter()

	// Global middleware
	r.Use(s.requestIDMiddleware)
	r.Use(s.loggingMiddleware)
	r.Use(s.recoveryMiddleware)
	r.Use(s.bodySizeLimitMiddleware)

	r.Route("/api/v1", func(r chi.Router) {
		r.Get("/health", s.handleHealth)
		r.Get("/status", s.handleStatus)
		r.Get("/metrics", s.handleMetrics)

		// Mutating routes
		r.Group(func(r chi.Router) {
			r.Use(s.authMiddleware)
			r.Post("/publish", s.handlePublish)
		})
	})

	r.NotFound(func(w http.ResponseWriter, _ *http.Request) {
		writeNotFound(w, "route not found")
	})
	r.MethodNotAllowed(func(w http.ResponseWriter, _ *http.Request) {
		writeError(w, http.StatusMethodNotAllowed, ErrCodeMethodNotAllow, "method not allowed")
	})

	return r
}

// handleHealth reports liveness of the process, independent of the broker.
func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status":  "ok",
		"version": s.version,
	})
}

// StatusResponse is the body of GET /api/v1/status.
type StatusResponse struct {
	ClientID         string   `json:"client_id"`
	State            string   `json:"state"`
	Connected        bool     `json:"connected"`
	QueueLen         int      `json:"queue_len"`
	QueueMaxSize     int      `json:"queue_max_size"`
	DropPolicy       string   `json:"drop_policy"`
	DrainingComplete bool     `json:"draining_complete"`
	Subscriptions    []string `json:"subscriptions"`
	BackoffMS        int64    `json:"backoff_ms"`
}

func (s *Server) handleStatus(w http.ResponseWriter, _ *http.Request) {
	st := s.session.Status()
	subs := st.Subscriptions
	if subs == nil {
		subs = []string{}
	}
	writeJSON(w, http.StatusOK, StatusResponse{
		ClientID:         st.ClientID,
		State:            st.State,
		Connected:        s.session.IsConnected(),
		QueueLen:         st.QueueLen,
		QueueMaxSize:     st.QueueMaxSize,
		DropPolicy:       st.DropPolicy,
		DrainingComplete: st.DrainingComplete,
		Subscriptions:    subs,
		BackoffMS:        st.Backoff.Milliseconds(),
	})
}

// uptime returns whole seconds since New.
func (s *Server) uptime() int64 {
	return int64(time.Since(s.startTime).Seconds())
}
