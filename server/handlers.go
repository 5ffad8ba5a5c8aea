package server

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"os"

	"github.com/go-chi/chi/v5"
	"github.com/qaflow/qaflow/apperr"
	"github.com/qaflow/qaflow/runs"
)

// maxBodyBytes bounds request bodies; test code is the largest payload.
const maxBodyBytes = 8 << 20

func (s *Server) handleHealthz(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleStartRun(w http.ResponseWriter, r *http.Request) {
	var req runs.StartRequest
	if err := decodeBody(w, r, &req); err != nil {
		s.writeError(w, r, err)
		return
	}
	runID, err := s.cfg.Coordinator.StartRun(r.Context(), req)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"run_id": runID})
}

func (s *Server) handleRunMany(w http.ResponseWriter, r *http.Request) {
	var req runs.RunManyRequest
	if err := decodeBody(w, r, &req); err != nil {
		s.writeError(w, r, err)
		return
	}
	runID, err := s.cfg.Coordinator.RunMany(r.Context(), chi.URLParam(r, "name"), req)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"run_id": runID})
}

func (s *Server) handleReport(w http.ResponseWriter, r *http.Request) {
	data, err := s.cfg.Catalog.GetReport()
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	w.Header().Set("Content-Type", "text/markdown; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	w.Write(data)
}

func (s *Server) handleArtifacts(w http.ResponseWriter, r *http.Request) {
	names, err := s.cfg.Catalog.ListArtifacts()
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, names)
}

func (s *Server) handleOutputs(w http.ResponseWriter, r *http.Request) {
	path, err := s.cfg.Layout.OutputPath(chi.URLParam(r, "*"))
	if err != nil {
		s.writeError(w, r, apperr.New(apperr.CodeNotFound, "Not found"))
		return
	}
	info, err := os.Stat(path)
	if err != nil || !info.Mode().IsRegular() {
		s.writeError(w, r, apperr.New(apperr.CodeNotFound, "Not found"))
		return
	}
	http.ServeFile(w, r, path)
}

func (s *Server) handleListTests(w http.ResponseWriter, r *http.Request) {
	entries, err := s.cfg.Catalog.ListTests()
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, entries)
}

func (s *Server) handleGetTest(w http.ResponseWriter, r *http.Request) {
	detail, err := s.cfg.Catalog.GetTest(chi.URLParam(r, "name"))
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, detail)
}

func (s *Server) handleSaveTestCode(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Code *string `json:"code"`
	}
	if err := decodeBody(w, r, &body); err != nil {
		s.writeError(w, r, err)
		return
	}
	if body.Code == nil {
		s.writeError(w, r, apperr.New(apperr.CodeMissingField, `Missing "code" in body.`))
		return
	}
	res, err := s.cfg.Catalog.SaveTestCode(chi.URLParam(r, "name"), *body.Code)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

func (s *Server) handleScenarios(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	scenarios, err := s.cfg.Scenarios.GetOrCreate(r.Context(),
		chi.URLParam(r, "name"),
		q.Get("application_url"),
		q.Get("test_description"),
	)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, scenarios)
}

func (s *Server) handleRunTest(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Spec   string `json:"spec"`
		Headed bool   `json:"headed"`
	}
	if err := decodeBody(w, r, &req); err != nil {
		s.writeError(w, r, err)
		return
	}
	res, err := s.cfg.Runner.Run(r.Context(), req.Spec, req.Headed)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

func decodeBody(w http.ResponseWriter, r *http.Request, v any) error {
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		if errors.Is(err, io.EOF) {
			return apperr.New(apperr.CodeMissingField, "Missing request body.")
		}
		return apperr.Wrap(apperr.CodeInvalidInput, err, "Invalid JSON body")
	}
	return nil
}

func statusFor(code apperr.Code) int {
	switch code {
	case apperr.CodeMissingField, apperr.CodeInvalidInput:
		return http.StatusBadRequest
	case apperr.CodeNotFound:
		return http.StatusNotFound
	case apperr.CodeToolUnavailable:
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

func (s *Server) writeError(w http.ResponseWriter, r *http.Request, err error) {
	status := statusFor(apperr.CodeOf(err))
	if status >= http.StatusInternalServerError {
		s.logger.Error().Err(err).Str("path", r.URL.Path).Int("status", status).Msg("Request failed")
	} else {
		s.logger.Debug().Err(err).Str("path", r.URL.Path).Int("status", status).Msg("Request rejected")
	}
	writeJSON(w, status, map[string]string{"detail": err.Error()})
}

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}
