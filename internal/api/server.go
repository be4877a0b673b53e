package api

import (
	"encoding/json"
	"errors"
	"log"
	"net"
	"net/http"
	"strconv"
	"time"

	"SiteSpectra/internal/compact"
	"SiteSpectra/internal/config"
	"SiteSpectra/internal/ingest"
	"SiteSpectra/internal/model"
	"SiteSpectra/internal/query"

	"github.com/gorilla/mux"
)

// Server wires the ingestion pipeline, the query layer and the
// compaction trigger into one HTTP surface.
type Server struct {
	cfg       config.APIConfig
	pipeline  *ingest.Pipeline
	querier   *query.Querier
	compactor *compact.Compactor
	limiter   *callerLimiter
	allow     *allowList
}

// NewServer creates the API server. It fails when the operator
// allow-list is empty, so a misconfigured deployment never exposes the
// query surface.
func NewServer(cfg config.APIConfig, pipeline *ingest.Pipeline, querier *query.Querier, compactor *compact.Compactor) (*Server, error) {
	allow, err := newAllowList(cfg.AccessTokens)
	if err != nil {
		return nil, err
	}
	return &Server{
		cfg:       cfg,
		pipeline:  pipeline,
		querier:   querier,
		compactor: compactor,
		limiter:   newCallerLimiter(cfg.RateLimit),
		allow:     allow,
	}, nil
}

// Router builds the route table. The event endpoint is public; every
// stats and admin route requires an allow-listed bearer token.
func (s *Server) Router() *mux.Router {
	r := mux.NewRouter()
	r.HandleFunc("/api/v1/event", s.handleIngest).Methods("POST")
	r.HandleFunc("/api/v1/stats/summary", s.authed(s.handleSummary)).Methods("GET")
	r.HandleFunc("/api/v1/stats/timeseries", s.authed(s.handleTimeseries)).Methods("GET")
	r.HandleFunc("/api/v1/stats/live", s.authed(s.handleLive)).Methods("GET")
	r.HandleFunc("/api/v1/stats/top", s.authed(s.handleTop)).Methods("GET")
	r.HandleFunc("/api/v1/admin/compact", s.authed(s.handleCompact)).Methods("POST")
	return r
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		log.Printf("Error encoding response: %v", err)
	}
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

// clientAddr picks the rate-limiting key for a request.
func clientAddr(r *http.Request) string {
	if fwd := r.Header.Get("X-Forwarded-For"); fwd != "" {
		return fwd
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}

// authed wraps a handler with the bearer-token allow-list check.
func (s *Server) authed(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if _, err := s.allow.caller(r); err != nil {
			if errors.Is(err, model.ErrForbidden) {
				writeError(w, http.StatusForbidden, "forbidden")
			} else {
				writeError(w, http.StatusUnauthorized, "unauthorized")
			}
			return
		}
		next(w, r)
	}
}

func (s *Server) handleIngest(w http.ResponseWriter, r *http.Request) {
	if !s.limiter.allow(clientAddr(r)) {
		writeError(w, http.StatusTooManyRequests, model.ErrRateLimited.Error())
		return
	}

	r.Body = http.MaxBytesReader(w, r.Body, s.cfg.MaxBodyBytes)
	var req ingest.Request
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "failed to decode event payload")
		return
	}

	_, err := s.pipeline.Ingest(r.Context(), &req)
	switch {
	case err == nil:
		// Bot traffic lands here too: dropped events acknowledge as
		// success so clients never retry what they cannot distinguish.
		writeJSON(w, http.StatusAccepted, map[string]string{"status": "ok"})
	case errors.Is(err, model.ErrInvalidPath), errors.Is(err, model.ErrInvalidTimestamp):
		writeError(w, http.StatusBadRequest, err.Error())
	default:
		log.Printf("Error ingesting event for site %q: %v", req.Site, err)
		writeError(w, http.StatusInternalServerError, "internal error")
	}
}

// statsParams pulls the common query parameters. The window string
// falls back to the documented 24h default when absent or unparseable.
func statsParams(r *http.Request) (site string, window time.Duration, path string) {
	q := r.URL.Query()
	return q.Get("site"), query.ParseWindow(q.Get("window")), q.Get("path")
}

func (s *Server) handleSummary(w http.ResponseWriter, r *http.Request) {
	site, window, path := statsParams(r)
	if site == "" {
		writeError(w, http.StatusBadRequest, "site is required")
		return
	}
	summary, err := s.querier.Summary(r.Context(), site, window, path)
	if err != nil {
		log.Printf("Error querying summary for site %q: %v", site, err)
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}
	writeJSON(w, http.StatusOK, summary)
}

func (s *Server) handleTimeseries(w http.ResponseWriter, r *http.Request) {
	site, window, path := statsParams(r)
	if site == "" {
		writeError(w, http.StatusBadRequest, "site is required")
		return
	}
	var g model.Granularity
	switch r.URL.Query().Get("granularity") {
	case "minute":
		g = model.GranularityMinute
	case "hour":
		g = model.GranularityHour
	case "day":
		g = model.GranularityDay
	case "":
		// auto-selected from the window
	default:
		writeError(w, http.StatusBadRequest, "granularity must be minute, hour or day")
		return
	}

	ts, err := s.querier.Timeseries(r.Context(), site, window, path, g)
	if err != nil {
		log.Printf("Error querying timeseries for site %q: %v", site, err)
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}
	writeJSON(w, http.StatusOK, ts)
}

func (s *Server) handleLive(w http.ResponseWriter, r *http.Request) {
	site, window, path := statsParams(r)
	if site == "" {
		writeError(w, http.StatusBadRequest, "site is required")
		return
	}
	live, err := s.querier.Live(r.Context(), site, window, path)
	if err != nil {
		log.Printf("Error querying live stats for site %q: %v", site, err)
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}
	writeJSON(w, http.StatusOK, live)
}

func (s *Server) handleTop(w http.ResponseWriter, r *http.Request) {
	site, window, path := statsParams(r)
	if site == "" {
		writeError(w, http.StatusBadRequest, "site is required")
		return
	}
	limit := 10
	if raw := r.URL.Query().Get("limit"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed <= 0 {
			writeError(w, http.StatusBadRequest, "limit must be a positive integer")
			return
		}
		limit = parsed
	}
	top, err := s.querier.Top(r.Context(), site, window, path, limit)
	if err != nil {
		log.Printf("Error querying top paths for site %q: %v", site, err)
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"site": site, "paths": top})
}

// handleCompact lets an operator or external scheduler trigger both
// compaction passes, optionally overriding the minute cutoff.
func (s *Server) handleCompact(w http.ResponseWriter, r *http.Request) {
	var cutoff time.Duration
	if raw := r.URL.Query().Get("cutoff"); raw != "" {
		parsed, err := time.ParseDuration(raw)
		if err != nil || parsed <= 0 {
			writeError(w, http.StatusBadRequest, "cutoff must be a positive duration")
			return
		}
		cutoff = parsed
	}
	s.compactor.RunOnce(r.Context(), cutoff)
	writeJSON(w, http.StatusAccepted, map[string]string{"status": "ok"})
}
