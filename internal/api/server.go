// Package api serves the obstacle tracking state over HTTP: JSON views of
// the live container, detection ingestion, per-obstacle charts, and store
// administration.
package api

import (
	"fmt"
	"log"
	"net/http"
	"strconv"
	"time"

	"github.com/banshee-data/foresight/internal/httputil"
	"github.com/banshee-data/foresight/internal/obstacledb"
	"github.com/banshee-data/foresight/internal/pipeline"
	"github.com/banshee-data/foresight/internal/units"
	"github.com/banshee-data/foresight/internal/version"
)

// ANSI escape codes for cyan and reset
const colorCyan = "\033[36m"
const colorReset = "\033[0m"
const colorYellow = "\033[33m"
const colorBoldGreen = "\033[1;32m"
const colorBoldRed = "\033[1;31m"

type Server struct {
	runtime *pipeline.Runtime
	store   *obstacledb.DB // nil when feature persistence is disabled
	units   string
	started time.Time
}

// NewServer wires the API over a pipeline runtime. store may be nil; the
// endpoints that need it respond 503.
func NewServer(rt *pipeline.Runtime, store *obstacledb.DB, displayUnits string) *Server {
	if !units.IsValid(displayUnits) {
		displayUnits = units.MPS
	}
	return &Server{
		runtime: rt,
		store:   store,
		units:   displayUnits,
		started: time.Now(),
	}
}

type loggingResponseWriter struct {
	http.ResponseWriter
	statusCode int
}

func (lrw *loggingResponseWriter) WriteHeader(code int) {
	lrw.statusCode = code
	lrw.ResponseWriter.WriteHeader(code)
}

func (lrw *loggingResponseWriter) Flush() {
	if flusher, ok := lrw.ResponseWriter.(http.Flusher); ok {
		flusher.Flush()
	}
}

func statusCodeColor(statusCode int) string {
	switch {
	case statusCode >= 200 && statusCode < 300:
		return colorBoldGreen + strconv.Itoa(statusCode) + colorReset
	case statusCode >= 300 && statusCode < 400:
		return colorYellow + strconv.Itoa(statusCode) + colorReset
	case statusCode >= 400:
		return colorBoldRed + strconv.Itoa(statusCode) + colorReset
	default:
		return strconv.Itoa(statusCode)
	}
}

// LoggingMiddleware logs method, path, query, status, and duration
func LoggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		lrw := &loggingResponseWriter{w, http.StatusOK}
		next.ServeHTTP(lrw, r)
		log.Printf(
			"[%s] %s %s%s%s %vms",
			statusCodeColor(lrw.statusCode), r.Method,
			colorCyan, r.RequestURI, colorReset,
			float64(time.Since(start).Nanoseconds())/1e6,
		)
	})
}

func (s *Server) ServeMux() *http.ServeMux {
	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", s.handleHealthz)
	mux.HandleFunc("/api/config", s.handleConfig)
	mux.HandleFunc("/api/stats", s.handleStats)
	mux.HandleFunc("/api/detections", s.handleIngestDetections)
	mux.HandleFunc("/api/obstacles", s.handleObstacles)
	mux.HandleFunc("/api/obstacles/", s.handleObstacles)
	mux.HandleFunc("/api/db/backup", s.handleBackup)
	return mux
}

// resolveUnits picks the display units for a request: the ?units= query
// parameter when present, otherwise the server default.
func (s *Server) resolveUnits(r *http.Request) (string, error) {
	u := r.URL.Query().Get("units")
	if u == "" {
		return s.units, nil
	}
	if !units.IsValid(u) {
		return "", fmt.Errorf("invalid units %q (valid: %s)", u, units.GetValidUnitsString())
	}
	return u, nil
}

func (s *Server) handleHealthz(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		httputil.MethodNotAllowed(w)
		return
	}
	httputil.WriteJSONOK(w, map[string]string{
		"status":  "ok",
		"version": version.String(),
	})
}

func (s *Server) handleConfig(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		httputil.MethodNotAllowed(w)
		return
	}
	httputil.WriteJSONOK(w, map[string]interface{}{
		"units":      s.units,
		"lane_count": s.runtime.Layout.Count,
		"lane_width": s.runtime.Layout.Width,
		"persisting": s.store != nil,
	})
}

// StatsResponse reports container counters plus the live tracked count.
type StatsResponse struct {
	Tracked    int    `json:"tracked"`
	Accepted   uint64 `json:"accepted"`
	Rejected   uint64 `json:"rejected"`
	Evicted    uint64 `json:"evicted"`
	UptimeSecs int64  `json:"uptime_secs"`
}

func (s *Server) handleStats(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		httputil.MethodNotAllowed(w)
		return
	}
	stats := s.runtime.Container.Stats()
	httputil.WriteJSONOK(w, StatsResponse{
		Tracked:    s.runtime.Container.Len(),
		Accepted:   stats.Accepted,
		Rejected:   stats.Rejected,
		Evicted:    stats.Evicted,
		UptimeSecs: int64(time.Since(s.started).Seconds()),
	})
}
