package api

import (
	"fmt"
	"net/http"
	"time"

	"go.uber.org/zap"

	"github.com/patrickwarner/adscan/internal/middleware"
	"github.com/patrickwarner/adscan/internal/pipeline"
	"github.com/patrickwarner/adscan/internal/streamjson"
)

// handleStreamExtractMultiple emits results in completion order inside the
// streaming JSON envelope, with comment heartbeats while the pipe is idle.
func (s *Server) handleStreamExtractMultiple(w http.ResponseWriter, r *http.Request) {
	ids, terms, _, ok := s.preparedBatch(w, r, s.batch)
	if !ok {
		return
	}

	flusher, _ := w.(http.Flusher)
	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("X-Accel-Buffering", "no")
	w.WriteHeader(http.StatusOK)

	writer := streamjson.NewWriter(w, flusher)
	if err := writer.Start(); err != nil {
		return
	}

	logger := middleware.LoggerFromRequest(r, s.logger)
	results := s.batch.ResolveStream(r.Context(), ids, terms)
	ticker := time.NewTicker(s.cfg.HeartbeatInterval / 4)
	defer ticker.Stop()

	var succeeded, failed int
	for {
		select {
		case res, open := <-results:
			if !open {
				if err := writer.Close(map[string]any{
					"successCount": succeeded,
					"errorCount":   failed,
				}); err != nil {
					logger.Debug("stream close", zap.Error(err))
				}
				return
			}
			if res.Success {
				succeeded++
			} else {
				failed++
			}
			if err := writer.WriteResult(res); err != nil {
				// The client went away; in-flight bundles are cancelled with
				// the request context when this handler returns.
				logger.Debug("stream write", zap.Error(err))
				return
			}
		case <-ticker.C:
			sent, err := writer.Heartbeat(s.cfg.HeartbeatInterval)
			if err != nil {
				logger.Debug("stream heartbeat", zap.Error(err))
				return
			}
			if sent {
				s.metrics.IncrementStreamHeartbeat()
			}
		case <-r.Context().Done():
			return
		}
	}
}

// handleStreamExportCSV streams CSV rows as bundles complete. Heartbeats are
// comment lines, which CSV consumers that honour '#' prefixes skip.
func (s *Server) handleStreamExportCSV(w http.ResponseWriter, r *http.Request) {
	ids, terms, _, ok := s.preparedBatch(w, r, s.csvBatch)
	if !ok {
		return
	}

	flusher, _ := w.(http.Flusher)
	w.Header().Set("Content-Type", "text/csv")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Content-Disposition", `attachment; filename="app-ads-results.csv"`)
	w.WriteHeader(http.StatusOK)

	writer := pipeline.NewCSVStreamWriter(w, flusher)
	if err := writer.Header(); err != nil {
		return
	}

	logger := middleware.LoggerFromRequest(r, s.logger)
	results := s.csvBatch.ResolveStream(r.Context(), ids, terms)
	ticker := time.NewTicker(s.cfg.HeartbeatInterval / 4)
	defer ticker.Stop()

	last := time.Now()
	for {
		select {
		case res, open := <-results:
			if !open {
				if err := writer.Trailer(); err != nil {
					logger.Debug("csv stream close", zap.Error(err))
				}
				return
			}
			if err := writer.Row(res); err != nil {
				logger.Debug("csv stream write", zap.Error(err))
				return
			}
			last = time.Now()
		case <-ticker.C:
			if time.Since(last) < s.cfg.HeartbeatInterval {
				continue
			}
			if _, err := fmt.Fprintln(w, "# heartbeat"); err != nil {
				return
			}
			if flusher != nil {
				flusher.Flush()
			}
			s.metrics.IncrementStreamHeartbeat()
			last = time.Now()
		case <-r.Context().Done():
			return
		}
	}
}
