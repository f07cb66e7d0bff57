package api

import (
	"fmt"
	"net/http"
	"sort"
	"strconv"
	"strings"

	"github.com/banshee-data/foresight/internal/httputil"
	"github.com/banshee-data/foresight/internal/obstacle"
	"github.com/banshee-data/foresight/internal/units"
)

// handleObstacles is the dispatcher for /api/obstacles/* endpoints. It
// parses the URL path and hands off to the appropriate sub-handler.
func (s *Server) handleObstacles(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		httputil.MethodNotAllowed(w)
		return
	}

	idStr, subPath := parseObstaclePath(r.URL.Path)

	// Handle /api/obstacles (list tracked obstacles)
	if idStr == "" {
		s.handleListObstacles(w, r)
		return
	}

	id, err := strconv.Atoi(idStr)
	if err != nil {
		httputil.BadRequest(w, fmt.Sprintf("invalid obstacle id %q", idStr))
		return
	}
	o, ok := s.runtime.Container.Obstacle(id)
	if !ok {
		httputil.NotFound(w, fmt.Sprintf("obstacle %d not tracked", id))
		return
	}

	switch subPath {
	case "":
		s.handleGetObstacle(w, r, o)
	case "features":
		s.handleObstacleFeatures(w, r, o)
	case "summary":
		s.handleObstacleSummary(w, r, o)
	case "trajectory":
		s.handleTrajectoryChart(w, r, o)
	case "trajectory.png":
		s.handleTrajectoryPNG(w, r, o)
	default:
		httputil.NotFound(w, "endpoint not found")
	}
}

// parseObstaclePath extracts the obstacle id and remaining path segment
// from /api/obstacles/{id}/...
func parseObstaclePath(path string) (idStr string, subPath string) {
	trimmed := strings.TrimPrefix(path, "/api/obstacles/")
	if trimmed == path {
		// No prefix match: the bare list endpoint.
		return "", ""
	}
	parts := strings.SplitN(trimmed, "/", 2)
	idStr = parts[0]
	if len(parts) > 1 {
		subPath = parts[1]
	}
	return
}

// ObstacleView is one row of the list endpoint: identity plus the scalar
// kinematics of the newest feature, speed in the requested units.
type ObstacleView struct {
	ID          int           `json:"id"`
	Type        obstacle.Type `json:"type"`
	HistorySize int           `json:"history_size"`
	Timestamp   float64       `json:"timestamp"`
	Speed       float64       `json:"speed"`
	Heading     float64       `json:"heading"`
	Lanes       []string      `json:"lanes,omitempty"`
	Units       string        `json:"units"`
}

func (s *Server) handleListObstacles(w http.ResponseWriter, r *http.Request) {
	u, err := s.resolveUnits(r)
	if err != nil {
		httputil.BadRequest(w, err.Error())
		return
	}

	ids := s.runtime.Container.IDs()
	sort.Ints(ids)

	views := make([]ObstacleView, 0, len(ids))
	for _, id := range ids {
		o, ok := s.runtime.Container.Obstacle(id)
		if !ok || o.HistorySize() == 0 {
			// Created but never fed a valid detection; nothing to show.
			continue
		}
		f := o.LatestFeature()
		views = append(views, ObstacleView{
			ID:          o.ID(),
			Type:        o.Type(),
			HistorySize: o.HistorySize(),
			Timestamp:   f.Timestamp,
			Speed:       units.ConvertSpeed(f.Speed, u),
			Heading:     f.VelocityHeading,
			Lanes:       o.LaneIDs(),
			Units:       u,
		})
	}

	httputil.WriteJSONOK(w, views)
}

// ObstacleDetail is the single-obstacle endpoint payload: identity plus the
// full newest feature. Vector fields stay in SI units; the scalar speed
// and acceleration magnitude honour the requested units.
type ObstacleDetail struct {
	ID          int              `json:"id"`
	Type        obstacle.Type    `json:"type"`
	HistorySize int              `json:"history_size"`
	Lanes       []string         `json:"lanes,omitempty"`
	Units       string           `json:"units"`
	Feature     obstacle.Feature `json:"feature"`
}

func (s *Server) handleGetObstacle(w http.ResponseWriter, r *http.Request, o *obstacle.Obstacle) {
	u, err := s.resolveUnits(r)
	if err != nil {
		httputil.BadRequest(w, err.Error())
		return
	}
	if o.HistorySize() == 0 {
		httputil.NotFound(w, fmt.Sprintf("obstacle %d has no features yet", o.ID()))
		return
	}

	httputil.WriteJSONOK(w, ObstacleDetail{
		ID:          o.ID(),
		Type:        o.Type(),
		HistorySize: o.HistorySize(),
		Lanes:       o.LaneIDs(),
		Units:       u,
		Feature:     convertFeature(o.LatestFeature(), u),
	})
}

// FeatureHistoryResponse wraps the feature history of one obstacle.
type FeatureHistoryResponse struct {
	ID       int                `json:"id"`
	Type     obstacle.Type      `json:"type"`
	Units    string             `json:"units"`
	Count    int                `json:"count"`
	Features []obstacle.Feature `json:"features"`
}

func (s *Server) handleObstacleFeatures(w http.ResponseWriter, r *http.Request, o *obstacle.Obstacle) {
	u, err := s.resolveUnits(r)
	if err != nil {
		httputil.BadRequest(w, err.Error())
		return
	}

	limit := 0 // no cap
	if l := r.URL.Query().Get("limit"); l != "" {
		parsed, err := strconv.Atoi(l)
		if err != nil || parsed < 1 {
			httputil.BadRequest(w, "invalid 'limit' parameter")
			return
		}
		limit = parsed
	}

	features := o.Features(limit)
	for i := range features {
		features[i] = convertFeature(features[i], u)
	}

	httputil.WriteJSONOK(w, FeatureHistoryResponse{
		ID:       o.ID(),
		Type:     o.Type(),
		Units:    u,
		Count:    len(features),
		Features: features,
	})
}

// SummaryResponse wraps an obstacle trajectory summary with its identity
// and the units its speed fields are expressed in.
type SummaryResponse struct {
	ID      int              `json:"id"`
	Type    obstacle.Type    `json:"type"`
	Units   string           `json:"units"`
	Summary obstacle.Summary `json:"summary"`
}

func (s *Server) handleObstacleSummary(w http.ResponseWriter, r *http.Request, o *obstacle.Obstacle) {
	u, err := s.resolveUnits(r)
	if err != nil {
		httputil.BadRequest(w, err.Error())
		return
	}

	sum := o.Summary()
	sum.SpeedMean = units.ConvertSpeed(sum.SpeedMean, u)
	sum.SpeedPeak = units.ConvertSpeed(sum.SpeedPeak, u)
	sum.SpeedP50 = units.ConvertSpeed(sum.SpeedP50, u)
	sum.SpeedP85 = units.ConvertSpeed(sum.SpeedP85, u)
	sum.SpeedP95 = units.ConvertSpeed(sum.SpeedP95, u)
	sum.AccelMean = units.ConvertAcceleration(sum.AccelMean, u)

	httputil.WriteJSONOK(w, SummaryResponse{
		ID:      o.ID(),
		Type:    o.Type(),
		Units:   u,
		Summary: sum,
	})
}

// convertFeature returns a copy of f with its scalar speed fields in the
// requested units. Vector fields are left in SI so geometry stays exact.
func convertFeature(f obstacle.Feature, u string) obstacle.Feature {
	f.Speed = units.ConvertSpeed(f.Speed, u)
	f.AccMagnitude = units.ConvertAcceleration(f.AccMagnitude, u)
	return f
}
