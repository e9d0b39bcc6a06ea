package api

import (
	"encoding/json"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"gocausal/app"
	"gocausal/domain/core"
	"gocausal/internal/errors"
)

// PredictRequest is the body of POST /api/forests/{id}/predict
type PredictRequest struct {
	X        [][]float64 `json:"x"`
	Variance bool        `json:"variance"`
}

type errorBody struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleFit(w http.ResponseWriter, r *http.Request) {
	var req app.FitRequest
	if !decodeBody(w, r, &req) {
		return
	}
	summary, err := s.service.Fit(r.Context(), req)
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, summary)
}

func (s *Server) handleList(w http.ResponseWriter, r *http.Request) {
	limit := 0
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			s.writeError(w, errors.InvalidInput("limit must be a non-negative integer"))
			return
		}
		limit = n
	}
	records, err := s.service.List(r.Context(), limit)
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, records)
}

func (s *Server) handleGet(w http.ResponseWriter, r *http.Request) {
	id, ok := s.modelID(w, r)
	if !ok {
		return
	}
	summary, err := s.service.Get(r.Context(), id)
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, summary)
}

func (s *Server) handleDelete(w http.ResponseWriter, r *http.Request) {
	id, ok := s.modelID(w, r)
	if !ok {
		return
	}
	if err := s.service.Delete(r.Context(), id); err != nil {
		s.writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handlePredict(w http.ResponseWriter, r *http.Request) {
	id, ok := s.modelID(w, r)
	if !ok {
		return
	}
	var req PredictRequest
	if !decodeBody(w, r, &req) {
		return
	}
	if len(req.X) == 0 {
		s.writeError(w, errors.InvalidInput("x must contain at least one row"))
		return
	}
	result, err := s.service.Predict(r.Context(), id, req.X, req.Variance)
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

func (s *Server) modelID(w http.ResponseWriter, r *http.Request) (core.ModelID, bool) {
	id, err := core.ParseModelID(chi.URLParam(r, "id"))
	if err != nil {
		s.writeError(w, errors.InvalidInput(err.Error()))
		return "", false
	}
	return id, true
}

func decodeBody(w http.ResponseWriter, r *http.Request, dst interface{}) bool {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]errorBody{
			"error": {Code: errors.CodeInvalidInput, Message: "invalid request body: " + err.Error()},
		})
		return false
	}
	return true
}

// writeError maps AppError codes onto HTTP statuses
func (s *Server) writeError(w http.ResponseWriter, err error) {
	code := errors.GetCode(err)
	status := http.StatusInternalServerError
	switch code {
	case errors.CodeInvalidInput, errors.CodeConfigInvalid:
		status = http.StatusBadRequest
	case errors.CodeNotFound:
		status = http.StatusNotFound
	case errors.CodeNotFitted:
		status = http.StatusConflict
	case errors.CodeEstimationError:
		status = http.StatusUnprocessableEntity
	}
	if status == http.StatusInternalServerError {
		s.logger.Error("request failed: %v", err)
	}
	writeJSON(w, status, map[string]errorBody{"error": {Code: code, Message: err.Error()}})
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}
