package api

import (
	"net/http"

	"github.com/banshee-data/foresight/internal/httputil"
	"github.com/banshee-data/foresight/internal/obstacle"
)

// handleIngestDetections accepts one DetectionFrame as the POST body and
// pushes it through the pipeline. The response is the per-frame accept and
// reject tally; individual rejections never fail the request.
func (s *Server) handleIngestDetections(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		httputil.MethodNotAllowed(w)
		return
	}

	var frame obstacle.DetectionFrame
	if err := httputil.DecodeJSON(r, &frame); err != nil {
		httputil.BadRequest(w, err.Error())
		return
	}

	stats := s.runtime.IngestFrame(frame)
	httputil.WriteJSONOK(w, stats)
}
