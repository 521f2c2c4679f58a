package server

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"

	"go.uber.org/zap"

	"github.com/hyperjump/kioku/internal/indexer"
	"github.com/hyperjump/kioku/internal/models"
	"github.com/hyperjump/kioku/internal/search"
	"github.com/hyperjump/kioku/internal/vector"
)

// Error codes returned in the "code" field of error responses.
const (
	CodeBadRequest         = "bad_request"
	CodeInvalidQuery       = "invalid_query"
	CodeIndexNotFound      = "index_not_found"
	CodeVaultNotFound      = "vault_not_found"
	CodeEmptyVault         = "empty_vault"
	CodeKeywordUnavailable = "keyword_unavailable"
	CodeInternal           = "internal"
)

// ErrorResponse is the body of every non-2xx response.
type ErrorResponse struct {
	Error string `json:"error"`
	Code  string `json:"code"`
}

// IndexRequest is the body of POST /api/v1/index. An empty body is allowed.
type IndexRequest struct {
	Force bool `json:"force"`
}

func (s *Server) handleSearch(w http.ResponseWriter, r *http.Request) {
	var query models.SearchQuery
	if err := json.NewDecoder(r.Body).Decode(&query); err != nil {
		s.respondError(w, http.StatusBadRequest, CodeBadRequest, "invalid request body")
		return
	}
	s.logger.Debug("search request", zap.String("query", query.Query), zap.Int("top_k", query.TopK), zap.String("mode", query.Mode))
	response, err := s.engine.Search(r.Context(), &query)
	if err != nil {
		s.respondFailure(w, "search failed", err)
		return
	}
	s.respondJSON(w, http.StatusOK, response)
}

func (s *Server) handleIndex(w http.ResponseWriter, r *http.Request) {
	var req IndexRequest
	if r.ContentLength != 0 {
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			s.respondError(w, http.StatusBadRequest, CodeBadRequest, "invalid request body")
			return
		}
	}
	s.logger.Debug("index request", zap.String("vault", s.vault), zap.Bool("force", req.Force))
	// indexing outlives a dropped client connection
	stats, err := s.indexer.IndexVault(context.WithoutCancel(r.Context()), s.vault, req.Force)
	if err != nil {
		s.respondFailure(w, "indexing failed", err)
		return
	}
	s.respondJSON(w, http.StatusOK, stats)
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	status, err := s.store.Stats(r.Context())
	if err != nil {
		s.respondFailure(w, "status failed", err)
		return
	}
	s.respondJSON(w, http.StatusOK, status)
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	s.respondJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// statusFor maps a domain error to an HTTP status and error code.
func statusFor(err error) (int, string) {
	switch {
	case errors.Is(err, search.ErrInvalidQuery):
		return http.StatusBadRequest, CodeInvalidQuery
	case errors.Is(err, vector.ErrIndexNotFound):
		return http.StatusNotFound, CodeIndexNotFound
	case errors.Is(err, indexer.ErrDirectoryNotFound):
		return http.StatusNotFound, CodeVaultNotFound
	case errors.Is(err, vector.ErrEmptyInsert):
		return http.StatusUnprocessableEntity, CodeEmptyVault
	case errors.Is(err, search.ErrKeywordUnavailable):
		return http.StatusNotImplemented, CodeKeywordUnavailable
	default:
		return http.StatusInternalServerError, CodeInternal
	}
}

func (s *Server) respondFailure(w http.ResponseWriter, msg string, err error) {
	status, code := statusFor(err)
	if status >= http.StatusInternalServerError {
		s.logger.Error(msg, zap.Error(err))
	} else {
		s.logger.Debug(msg, zap.String("code", code), zap.Error(err))
	}
	s.respondError(w, status, code, err.Error())
}

func (s *Server) respondJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}

func (s *Server) respondError(w http.ResponseWriter, status int, code, message string) {
	s.respondJSON(w, status, ErrorResponse{Error: message, Code: code})
}
