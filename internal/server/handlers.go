/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package server

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/friendsincode/objgate/internal/failure"
	"github.com/friendsincode/objgate/internal/fetch"
)

const maxRequestBody = 1 << 16

type uploadRequest struct {
	Key string `json:"key"`
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleImage(w http.ResponseWriter, r *http.Request) {
	d, err := fetch.ParseDescriptor(chi.URLParam(r, "x"), chi.URLParam(r, "y"))
	if err != nil {
		s.writeFailure(w, r, err)
		return
	}

	res, err := s.engine.Import(r.Context(), d, r.URL.Query().Get("forward"))
	if err != nil {
		s.writeFailure(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

func (s *Server) handleUpload(w http.ResponseWriter, r *http.Request) {
	var req uploadRequest
	dec := json.NewDecoder(io.LimitReader(r.Body, maxRequestBody))
	dec.DisallowUnknownFields()
	if err := dec.Decode(&req); err != nil {
		s.writeFailure(w, r, failure.InvalidInput("decode request", "body must be {\"key\": string}"))
		return
	}
	if req.Key == "" {
		s.writeFailure(w, r, failure.InvalidInput("decode request", "key is required"))
		return
	}

	res, err := s.engine.UploadKey(r.Context(), req.Key)
	if err != nil {
		s.writeFailure(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"key": res.Key, "bytes": res.Bytes})
}

func (s *Server) handleDownload(w http.ResponseWriter, r *http.Request) {
	key := r.URL.Query().Get("key")
	if key == "" {
		s.writeFailure(w, r, failure.InvalidInput("decode request", "key query parameter is required"))
		return
	}

	res, err := s.engine.DownloadKey(r.Context(), key)
	if err != nil {
		s.writeFailure(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

func (s *Server) handleList(w http.ResponseWriter, r *http.Request) {
	listing, err := s.engine.List(r.Context())
	if err != nil {
		s.writeFailure(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, listing)
}

// writeFailure resolves err through the taxonomy. Server errors are logged
// with their full chain; the response carries only the resolved message.
func (s *Server) writeFailure(w http.ResponseWriter, r *http.Request, err error) {
	outcome, msg := failure.Resolve(err)
	if outcome == failure.ServerError {
		var fe *failure.Error
		event := s.logger.Error().Str("path", r.URL.Path)
		if errors.As(err, &fe) {
			event = event.Str("kind", fe.Kind.String())
		}
		event.Err(err).Msg("request failed")
	}
	writeJSON(w, outcome.HTTPStatus(), map[string]string{"message": msg})
}

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}
