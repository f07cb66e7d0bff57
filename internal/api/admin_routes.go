package api

import (
	"compress/gzip"
	"fmt"
	"net/http"
	"time"

	"github.com/banshee-data/foresight/internal/httputil"
	"github.com/banshee-data/foresight/internal/monitoring"
)

// handleBackup streams a gzipped sqlite snapshot of the feature store.
// Responds 503 when the daemon runs without persistence.
func (s *Server) handleBackup(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		httputil.MethodNotAllowed(w)
		return
	}
	if s.store == nil {
		httputil.WriteJSONError(w, http.StatusServiceUnavailable, "feature store disabled")
		return
	}

	filename := fmt.Sprintf("foresight-backup-%d.db.gz", time.Now().Unix())
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%s", filename))
	w.Header().Set("Content-Type", "application/octet-stream")
	w.Header().Set("Content-Encoding", "gzip")

	gzipWriter := gzip.NewWriter(w)
	defer gzipWriter.Close()

	// Headers are already on the wire; a failure here can only be logged.
	if err := s.store.Backup(gzipWriter); err != nil {
		monitoring.Logf("failed to stream backup: %v", err)
	}
}
