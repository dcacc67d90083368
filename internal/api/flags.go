package api

import (
	"net/http"
	"regexp"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"
)

var validFlagName = regexp.MustCompile(`^[a-zA-Z0-9_.-]{1,64}$`)

type flagResponse struct {
	Name  string `json:"name"`
	Value bool   `json:"value"`
	Found bool   `json:"found"`
}

type flagRequest struct {
	Value *bool `json:"value"`
}

func (s *Server) getFlag(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "name")
	if !validFlagName.MatchString(name) {
		writeError(w, http.StatusBadRequest, "invalid flag name")
		return
	}
	value, found, err := s.flags.Get(r.Context(), name)
	if err != nil {
		s.logger.Error("flag read failed", zap.String("flag", name), zap.Error(err))
		writeError(w, http.StatusInternalServerError, "flag read failed")
		return
	}
	writeJSON(w, http.StatusOK, flagResponse{Name: name, Value: value, Found: found})
}

func (s *Server) putFlag(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "name")
	if !validFlagName.MatchString(name) {
		writeError(w, http.StatusBadRequest, "invalid flag name")
		return
	}
	var req flagRequest
	if err := decodeJSON(w, r, &req); err != nil || req.Value == nil {
		writeError(w, http.StatusBadRequest, "body must be {\"value\": true|false}")
		return
	}
	if err := s.flags.Set(r.Context(), name, *req.Value); err != nil {
		s.logger.Error("flag write failed", zap.String("flag", name), zap.Error(err))
		writeError(w, http.StatusInternalServerError, "flag write failed")
		return
	}
	writeJSON(w, http.StatusOK, flagResponse{Name: name, Value: *req.Value, Found: true})
}
