package server

import (
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"strings"

	"pdfreader/internal/servicetoken"
	"pdfreader/internal/util"
	"pdfreader/services/outline/internal/app"
)

// Config wires required dependencies for the HTTP server.
type Config struct {
	App                         *app.App
	InternalJWTKeyID            string
	InternalJWTPublicKeyPath    string
	InternalJWTPublicKeyPEM     []byte
	InternalJWTVerifyPublicKeys map[string]string
}

// Server exposes the internal outline job API.
type Server struct {
	app          *app.App
	internalAuth *servicetoken.Verifier
	mux          *http.ServeMux
}

// New constructs the server with routes configured.
func New(cfg Config) (*Server, error) {
	if cfg.App == nil {
		return nil, errors.New("app is required")
	}
	verifier, err := servicetoken.NewVerifier(servicetoken.VerifierOptions{
		PublicKeyPath:      strings.TrimSpace(cfg.InternalJWTPublicKeyPath),
		PublicKeyPEM:       cfg.InternalJWTPublicKeyPEM,
		VerifyPublicKeyMap: cfg.InternalJWTVerifyPublicKeys,
		DefaultKeyID:       cfg.InternalJWTKeyID,
		Audience:           servicetoken.AudienceOutline,
		AllowedIssuers:     []string{servicetoken.IssuerReader},
		Leeway:             servicetoken.DefaultLeeway,
	})
	if err != nil {
		return nil, err
	}
	s := &Server{
		app:          cfg.App,
		internalAuth: verifier,
		mux:          http.NewServeMux(),
	}
	s.routes()
	return s, nil
}

// Router returns the configured handler.
func (s *Server) Router() http.Handler {
	return util.WithRequestID(util.WithRequestLog("outline", util.WithSecurityHeaders(s.mux)))
}

func (s *Server) routes() {
	s.mux.HandleFunc("/healthz", s.handleHealth)
	s.mux.Handle("/internal/outline/jobs", servicetoken.Require(s.internalAuth, http.HandlerFunc(s.handleJobs)))
	s.mux.Handle("/internal/outline/jobs/", servicetoken.Require(s.internalAuth, http.HandlerFunc(s.handleJobByID)))
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

type jobRequest struct {
	DocumentID string `json:"documentId"`
}

func (s *Server) handleJobs(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w)
		return
	}
	var req jobRequest
	if err := json.NewDecoder(io.LimitReader(r.Body, 1<<20)).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	job, err := s.app.Enqueue(r.Context(), req.DocumentID)
	switch {
	case errors.Is(err, app.ErrDocumentNotFound):
		writeError(w, http.StatusNotFound, "document not found")
		return
	case errors.Is(err, app.ErrDocumentIDRequired):
		writeError(w, http.StatusBadRequest, err.Error())
		return
	case err != nil:
		slog.Error("enqueue outline job", "document_id", req.DocumentID, "err", err)
		writeError(w, http.StatusInternalServerError, "enqueue failed")
		return
	}
	writeJSON(w, http.StatusAccepted, job)
}

func (s *Server) handleJobByID(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w)
		return
	}
	id := strings.TrimPrefix(r.URL.Path, "/internal/outline/jobs/")
	if id == "" || strings.Contains(id, "/") {
		writeError(w, http.StatusNotFound, "not found")
		return
	}
	job, ok, err := s.app.GetJob(r.Context(), id)
	if err != nil {
		slog.Error("get outline job", "job_id", id, "err", err)
		writeError(w, http.StatusInternalServerError, "job lookup failed")
		return
	}
	if !ok {
		writeError(w, http.StatusNotFound, "job not found")
		return
	}
	writeJSON(w, http.StatusOK, job)
}

func methodNotAllowed(w http.ResponseWriter) {
	writeError(w, http.StatusMethodNotAllowed, "method not allowed")
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

type errorResponse struct {
	Error     string `json:"error"`
	Code      string `json:"code"`
	RequestID string `json:"requestId,omitempty"`
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, errorResponse{
		Error:     msg,
		Code:      errorCodeForOutline(status, msg),
		RequestID: strings.TrimSpace(w.Header().Get(util.RequestIDHeader)),
	})
}

func errorCodeForOutline(status int, msg string) string {
	switch strings.ToLower(strings.TrimSpace(msg)) {
	case "document not found":
		return "DOCUMENT_NOT_FOUND"
	case "job not found":
		return "OUTLINE_JOB_NOT_FOUND"
	case "documentid required", "invalid json body":
		return "OUTLINE_INVALID_REQUEST"
	case "method not allowed":
		return "SYSTEM_METHOD_NOT_ALLOWED"
	case "not found":
		return "SYSTEM_NOT_FOUND"
	}
	switch status {
	case http.StatusBadRequest:
		return "OUTLINE_INVALID_REQUEST"
	case http.StatusNotFound:
		return "SYSTEM_NOT_FOUND"
	default:
		if status >= http.StatusInternalServerError {
			return "SYSTEM_INTERNAL_ERROR"
		}
		return "REQUEST_ERROR"
	}
}
