package server

// This file contains the server-sent events stream of a run's output.

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/qaflow/qaflow/apperr"
)

// handleStream relays a run's events as server-sent events until the
// finished event has been sent or the client goes away. Leaving early does
// not stop the run.
func (s *Server) handleStream(w http.ResponseWriter, r *http.Request) {
	runID := chi.URLParam(r, "runID")

	flusher, ok := w.(http.Flusher)
	if !ok {
		s.writeError(w, r, apperr.New(apperr.CodeStorageFailure, "streaming not supported"))
		return
	}

	run, err := s.cfg.Coordinator.Subscribe(runID)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	drained := false
	defer func() {
		s.cfg.Coordinator.Release(runID, drained)
	}()

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no") // Disable nginx buffering
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	ctx := r.Context()
	for {
		waitCtx, cancel := context.WithTimeout(ctx, s.cfg.KeepAlive)
		ev, err := run.Events.Next(waitCtx)
		cancel()
		if err != nil {
			if ctx.Err() != nil {
				s.logger.Debug().Str("run_id", runID).Msg("Stream client disconnected")
				return
			}
			// Idle: keep proxies from closing the connection
			if _, err := fmt.Fprint(w, ": keep-alive\n\n"); err != nil {
				return
			}
			flusher.Flush()
			continue
		}

		// Next consumed the finished event, so the run is over even if
		// writing it fails
		drained = ev.Finished()

		data, err := json.Marshal(ev)
		if err != nil {
			s.logger.Warn().Err(err).Str("run_id", runID).Msg("Failed to encode run event")
			if drained {
				return
			}
			continue
		}
		if _, err := fmt.Fprintf(w, "event: message\ndata: %s\n\n", data); err != nil {
			s.logger.Debug().Err(err).Str("run_id", runID).Msg("Failed to write run event")
			return
		}
		flusher.Flush()

		if drained {
			return
		}
	}
}
