package api

import (
	"context"
	"errors"
	"net/http"
	"net/url"
	"strings"

	"go.uber.org/zap"

	"github.com/JakeFAU/artifact-loader/internal/artifact"
	"github.com/JakeFAU/artifact-loader/internal/discovery"
	"github.com/JakeFAU/artifact-loader/internal/loader"
)

type discoverRequest struct {
	URL  string         `json:"url"`
	Mode discovery.Mode `json:"mode"`
}

type extractRequest struct {
	HTML    string `json:"html"`
	BaseURL string `json:"base_url"`
}

type artifactsResponse struct {
	URL       string              `json:"url,omitempty"`
	Mode      discovery.Mode      `json:"mode,omitempty"`
	Count     int                 `json:"count"`
	Artifacts []artifact.Artifact `json:"artifacts"`
}

func (s *Server) discoverArtifacts(w http.ResponseWriter, r *http.Request) {
	var req discoverRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON")
		return
	}
	if req.Mode == "" {
		req.Mode = discovery.ModeHTML
	}
	if !req.Mode.Valid() {
		writeError(w, http.StatusBadRequest, "mode must be html or json")
		return
	}
	if err := validateAbsoluteURL(req.URL); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	var (
		arts []artifact.Artifact
		err  error
	)
	if req.Mode == discovery.ModeJSON {
		arts, err = s.loader.FromJSONURL(r.Context(), req.URL)
	} else {
		arts, err = s.loader.FromHTMLURL(r.Context(), req.URL)
	}
	if err != nil {
		s.writeLoadError(w, req.URL, err)
		return
	}
	writeJSON(w, http.StatusOK, artifactsResponse{URL: req.URL, Mode: req.Mode, Count: len(arts), Artifacts: arts})
}

func (s *Server) extractArtifacts(w http.ResponseWriter, r *http.Request) {
	var req extractRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON")
		return
	}
	if strings.TrimSpace(req.HTML) == "" {
		writeError(w, http.StatusBadRequest, "html required")
		return
	}
	if err := validateAbsoluteURL(req.BaseURL); err != nil {
		writeError(w, http.StatusBadRequest, "base_url: "+err.Error())
		return
	}
	arts, err := s.loader.FromHTML(r.Context(), strings.NewReader(req.HTML), req.BaseURL)
	if err != nil {
		s.writeLoadError(w, req.BaseURL, err)
		return
	}
	writeJSON(w, http.StatusOK, artifactsResponse{URL: req.BaseURL, Count: len(arts), Artifacts: arts})
}

// writeLoadError maps the loader failure taxonomy onto HTTP statuses.
func (s *Server) writeLoadError(w http.ResponseWriter, target string, err error) {
	var (
		fetchErr  *loader.FetchError
		parseErr  *loader.ParseError
		decodeErr *artifact.DecodeError
	)
	status := http.StatusInternalServerError
	switch {
	case errors.As(err, &fetchErr):
		status = http.StatusBadGateway
	case errors.As(err, &parseErr), errors.As(err, &decodeErr):
		status = http.StatusUnprocessableEntity
	case errors.Is(err, context.DeadlineExceeded):
		status = http.StatusGatewayTimeout
	}
	s.logger.Warn("artifact load failed",
		zap.String("target", target),
		zap.Int("status", status),
		zap.Error(err),
	)
	writeError(w, status, err.Error())
}

func validateAbsoluteURL(raw string) error {
	if raw == "" {
		return errors.New("url required")
	}
	u, err := url.Parse(raw)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return errors.New("url must be an absolute http(s) URL")
	}
	return nil
}
