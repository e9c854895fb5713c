// Package adminapi exposes a tiny read-only HTTP surface for operators:
// GET /status and GET /healthz. It uses a plain chi router, since this
// runtime has no session CRUD to expose — only a point-in-time
// snapshot of identity and link state.
package adminapi

import (
	"encoding/json"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/lfed/federate/internal/clock"
	"github.com/lfed/federate/internal/federate"
	"github.com/lfed/federate/internal/identity"
)

// Server is the admin HTTP server. It holds the chi router and references
// into the running federate.Runtime it reports on.
type Server struct {
	Router   *chi.Mux
	Identity identity.Identity
	Runtime  *federate.Runtime
	Logger   *slog.Logger

	server *http.Server
}

// NewServer creates an admin Server with /status and /healthz registered.
func NewServer(id identity.Identity, rt *federate.Runtime, logger *slog.Logger) *Server {
	s := &Server{
		Router:   chi.NewRouter(),
		Identity: id,
		Runtime:  rt,
		Logger:   logger,
	}

	s.Router.Use(middleware.RequestID)
	s.Router.Use(middleware.Recoverer)

	s.Router.Get("/healthz", s.handleHealthz)
	s.Router.Get("/status", s.handleStatus)

	return s
}

// ListenAndServe starts the admin HTTP server on addr. It blocks until the
// server stops or errors; callers typically run it in its own goroutine.
func (s *Server) ListenAndServe(addr string) error {
	s.server = &http.Server{
		Addr:    addr,
		Handler: s.Router,
	}
	return s.server.ListenAndServe()
}

// Close shuts down the admin HTTP server. Safe to call even if
// ListenAndServe was never called.
func (s *Server) Close() error {
	if s.server == nil {
		return nil
	}
	return s.server.Close()
}

// healthzResponse is the body of GET /healthz.
type healthzResponse struct {
	Status string `json:"status"`
}

// handleHealthz responds 200 with {"status":"ok"} unconditionally — this
// runtime has no external dependency (database, cache) whose outage would
// make the process itself unhealthy; RTI/peer connectivity is reported via
// /status instead.
func (s *Server) handleHealthz(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, healthzResponse{Status: "ok"})
}

// statusResponse is the body of GET /status: identity, granted tag, and
// peer link state.
type statusResponse struct {
	FedID        uint16   `json:"fed_id"`
	FederationID string   `json:"federation_id"`
	GrantedTag   int64    `json:"granted_tag"`
	TagPending   bool     `json:"tag_pending"`
	StopRequest  bool     `json:"stop_requested"`
	Inbound      []uint16 `json:"inbound_peers"`
	Outbound     []uint16 `json:"outbound_peers"`
}

// handleStatus reports a point-in-time snapshot of this federate's
// identity, time state, and peer link set.
func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	resp := statusResponse{
		FedID:        s.Identity.FedID,
		FederationID: s.Identity.FederationID,
	}

	var state clock.TimeState
	if c := s.Runtime.Coordinator(); c != nil {
		state = c.State()
	}
	resp.GrantedTag = int64(state.GrantedTag)
	resp.TagPending = state.TagPending
	resp.StopRequest = state.StopRequested

	snap := s.Runtime.PeerLinks().Snapshot()
	resp.Inbound = snap.InboundFeds
	resp.Outbound = snap.OutboundFeds

	writeJSON(w, http.StatusOK, resp)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
