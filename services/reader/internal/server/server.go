package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"math"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"

	"pdfreader/internal/ratelimit"
	"pdfreader/internal/usertoken"
	"pdfreader/internal/util"
	"pdfreader/pkg/usage"
	"pdfreader/services/reader/internal/app"
	"pdfreader/services/reader/internal/security"
)

const (
	defaultChatRateLimit   = 30
	defaultShareRateLimit  = 30
	defaultUploadRateLimit = 20
	rateWindow             = time.Minute
	maxJSONBody            = 1 << 20
)

// Config wires required dependencies for the HTTP server.
type Config struct {
	App            *app.App
	TokenVerifier  *usertoken.Verifier
	RedisAddr      string
	RedisPassword  string
	ChatRateLimit  int
	ShareRateLimit int
	// UploadRateLimit bounds upload-url and document creation calls.
	UploadRateLimit int
	TrustedProxies  *util.TrustedProxies
}

// Server exposes the public reader API.
type Server struct {
	app            *app.App
	tokenVerifier  *usertoken.Verifier
	mux            *http.ServeMux
	chatLimiter    *ratelimit.FixedWindowLimiter
	shareLimiter   *ratelimit.FixedWindowLimiter
	uploadLimiter  *ratelimit.FixedWindowLimiter
	alerter        *security.Alerter
	trustedProxies *util.TrustedProxies
}

// New constructs the server with routes configured.
func New(cfg Config) (*Server, error) {
	if cfg.App == nil {
		return nil, errors.New("app is required")
	}
	if cfg.TokenVerifier == nil {
		return nil, errors.New("token verifier is required")
	}
	if strings.TrimSpace(cfg.RedisAddr) == "" {
		return nil, errors.New("redis addr is required")
	}
	counter := ratelimit.NewCounter(redis.NewClient(&redis.Options{Addr: cfg.RedisAddr, Password: cfg.RedisPassword}))
	newLimiter := func(name string, limit, fallback int) (*ratelimit.FixedWindowLimiter, error) {
		if limit <= 0 {
			limit = fallback
		}
		limiter, err := ratelimit.NewFixedWindowLimiter(counter, "pdfreader:reader:ratelimit:"+name, limit, rateWindow)
		if err != nil {
			return nil, fmt.Errorf("init %s limiter: %w", name, err)
		}
		return limiter, nil
	}
	chatLimiter, err := newLimiter("chat", cfg.ChatRateLimit, defaultChatRateLimit)
	if err != nil {
		return nil, err
	}
	shareLimiter, err := newLimiter("share", cfg.ShareRateLimit, defaultShareRateLimit)
	if err != nil {
		return nil, err
	}
	uploadLimiter, err := newLimiter("upload", cfg.UploadRateLimit, defaultUploadRateLimit)
	if err != nil {
		return nil, err
	}
	s := &Server{
		app:            cfg.App,
		tokenVerifier:  cfg.TokenVerifier,
		mux:            http.NewServeMux(),
		chatLimiter:    chatLimiter,
		shareLimiter:   shareLimiter,
		uploadLimiter:  uploadLimiter,
		alerter:        security.NewAlerter(counter, "pdfreader:reader:alerts"),
		trustedProxies: cfg.TrustedProxies,
	}
	s.routes()
	return s, nil
}

// Router returns the configured handler.
func (s *Server) Router() http.Handler {
	return util.WithRequestID(util.WithRequestLog("reader", util.WithSecurityHeaders(util.WithCORS(s.mux))))
}

func (s *Server) routes() {
	s.mux.HandleFunc("/healthz", s.handleHealth)

	// documents
	s.mux.Handle("/api/documents", s.withUser(s.handleDocuments))
	s.mux.Handle("/api/documents/upload-url", s.withUser(s.handleUploadURL))
	s.mux.Handle("/api/documents/", s.withUser(s.handleDocumentByID))

	// threads
	s.mux.Handle("/api/threads/", s.withUser(s.handleThreadByID))

	// plans and usage
	s.mux.Handle("/api/usage", s.withUser(s.handleUsage))
	s.mux.Handle("/api/plan", s.withUser(s.handlePlan))
	s.mux.Handle("/api/plans", s.withUser(s.handlePlans))

	// sharing
	s.mux.Handle("/api/shares/", s.withUser(s.handleShareByToken))
	s.mux.HandleFunc("/api/shared/", s.handleShared)
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

type userHandler func(http.ResponseWriter, *http.Request, string)

func (s *Server) withUser(next userHandler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		token, ok := bearerToken(r)
		if !ok {
			writeError(w, http.StatusUnauthorized, "unauthorized")
			return
		}
		identity, err := s.tokenVerifier.Verify(r.Context(), token)
		if err != nil {
			s.audit(r, "user_token", "denied", "reason", err.Error())
			writeError(w, http.StatusUnauthorized, "unauthorized")
			return
		}
		next(w, r, identity.UserID)
	})
}

func (s *Server) handleDocuments(w http.ResponseWriter, r *http.Request, userID string) {
	switch r.Method {
	case http.MethodGet:
		limit := queryInt(r, "limit")
		offset := queryInt(r, "offset")
		docs, err := s.app.ListDocuments(userID, limit, offset)
		if err != nil {
			s.writeAppError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"items": docs, "count": len(docs)})
	case http.MethodPost:
		if !s.allowRate(w, r, s.uploadLimiter, "upload|"+userID) {
			return
		}
		var req app.CreateDocumentInput
		if !decodeJSON(w, r, &req) {
			return
		}
		doc, err := s.app.CreateDocument(r.Context(), userID, req)
		if err != nil {
			s.writeAppError(w, r, err)
			return
		}
		writeJSON(w, http.StatusCreated, doc)
	default:
		methodNotAllowed(w)
	}
}

type uploadURLRequest struct {
	Filename  string `json:"filename"`
	SizeBytes int64  `json:"sizeBytes"`
}

func (s *Server) handleUploadURL(w http.ResponseWriter, r *http.Request, userID string) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w)
		return
	}
	if !s.allowRate(w, r, s.uploadLimiter, "upload|"+userID) {
		return
	}
	var req uploadURLRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	up, err := s.app.CreateUploadURL(r.Context(), userID, req.Filename, req.SizeBytes)
	if err != nil {
		s.writeAppError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, up)
}

// /api/documents/{id}[/download|/outline|/shares|/threads]
func (s *Server) handleDocumentByID(w http.ResponseWriter, r *http.Request, userID string) {
	path := strings.TrimPrefix(r.URL.Path, "/api/documents/")
	parts := strings.SplitN(path, "/", 2)
	id := parts[0]
	if id == "" {
		notFound(w, "not found")
		return
	}
	if len(parts) == 2 {
		switch parts[1] {
		case "download":
			s.handleDownload(w, r, userID, id)
		case "outline":
			s.handleOutline(w, r, userID, id)
		case "shares":
			s.handleDocumentShares(w, r, userID, id)
		case "threads":
			s.handleDocumentThreads(w, r, userID, id)
		default:
			notFound(w, "not found")
		}
		return
	}
	switch r.Method {
	case http.MethodGet:
		doc, err := s.app.GetDocument(userID, id)
		if err != nil {
			s.writeAppError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, doc)
	case http.MethodDelete:
		if err := s.app.DeleteDocument(r.Context(), userID, id); err != nil {
			s.writeAppError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]string{"status": "deleted"})
	default:
		methodNotAllowed(w)
	}
}

func (s *Server) handleDownload(w http.ResponseWriter, r *http.Request, userID, id string) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w)
		return
	}
	link, err := s.app.GetDownloadURL(r.Context(), userID, id)
	if err != nil {
		s.writeAppError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, link)
}

func (s *Server) handleOutline(w http.ResponseWriter, r *http.Request, userID, id string) {
	switch r.Method {
	case http.MethodGet:
		view, err := s.app.GetOutline(userID, id)
		if err != nil {
			s.writeAppError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, view)
	case http.MethodPost:
		doc, err := s.app.RequestOutline(r.Context(), userID, id)
		if err != nil {
			s.writeAppError(w, r, err)
			return
		}
		writeJSON(w, http.StatusAccepted, doc)
	default:
		methodNotAllowed(w)
	}
}

func (s *Server) handleDocumentShares(w http.ResponseWriter, r *http.Request, userID, id string) {
	switch r.Method {
	case http.MethodGet:
		links, err := s.app.ListShares(userID, id)
		if err != nil {
			s.writeAppError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"items": links, "count": len(links)})
	case http.MethodPost:
		var req app.CreateShareInput
		if !decodeJSON(w, r, &req) {
			return
		}
		link, err := s.app.CreateShare(userID, id, req)
		if err != nil {
			s.writeAppError(w, r, err)
			return
		}
		s.audit(r, "share_create", "success", "document_id", id, "password", link.HasPassword)
		writeJSON(w, http.StatusCreated, link)
	default:
		methodNotAllowed(w)
	}
}

type createThreadRequest struct {
	Title string `json:"title"`
}

func (s *Server) handleDocumentThreads(w http.ResponseWriter, r *http.Request, userID, id string) {
	switch r.Method {
	case http.MethodGet:
		threads, err := s.app.ListThreads(userID, id)
		if err != nil {
			s.writeAppError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"items": threads, "count": len(threads)})
	case http.MethodPost:
		var req createThreadRequest
		if r.ContentLength != 0 && !decodeJSON(w, r, &req) {
			return
		}
		thread, err := s.app.CreateThread(userID, id, req.Title)
		if err != nil {
			s.writeAppError(w, r, err)
			return
		}
		writeJSON(w, http.StatusCreated, thread)
	default:
		methodNotAllowed(w)
	}
}

// /api/threads/{id} or /api/threads/{id}/messages
func (s *Server) handleThreadByID(w http.ResponseWriter, r *http.Request, userID string) {
	path := strings.TrimPrefix(r.URL.Path, "/api/threads/")
	parts := strings.SplitN(path, "/", 2)
	id := parts[0]
	if id == "" {
		notFound(w, "not found")
		return
	}
	if len(parts) == 2 {
		if parts[1] != "messages" {
			notFound(w, "not found")
			return
		}
		switch r.Method {
		case http.MethodGet:
			msgs, err := s.app.ListMessages(userID, id, queryInt(r, "limit"))
			if err != nil {
				s.writeAppError(w, r, err)
				return
			}
			writeJSON(w, http.StatusOK, map[string]any{"items": msgs, "count": len(msgs)})
		case http.MethodPost:
			s.handleAsk(w, r, userID, id)
		default:
			methodNotAllowed(w)
		}
		return
	}
	switch r.Method {
	case http.MethodGet:
		thread, err := s.app.GetThread(userID, id)
		if err != nil {
			s.writeAppError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, thread)
	case http.MethodDelete:
		if err := s.app.DeleteThread(userID, id); err != nil {
			s.writeAppError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]string{"status": "deleted"})
	default:
		methodNotAllowed(w)
	}
}

func (s *Server) handleUsage(w http.ResponseWriter, r *http.Request, userID string) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w)
		return
	}
	summary, err := s.app.Usage(userID)
	if err != nil {
		s.writeAppError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, summary)
}

type setPlanRequest struct {
	PlanType string `json:"planType"`
	Trial    bool   `json:"trial"`
}

func (s *Server) handlePlan(w http.ResponseWriter, r *http.Request, userID string) {
	if r.Method != http.MethodPut {
		methodNotAllowed(w)
		return
	}
	var req setPlanRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	plan, err := s.app.SetPlan(r.Context(), userID, req.PlanType, req.Trial)
	if err != nil {
		s.writeAppError(w, r, err)
		return
	}
	s.audit(r, "plan_change", "success", "plan_type", plan.PlanType, "status", string(plan.Status))
	writeJSON(w, http.StatusOK, plan)
}

func (s *Server) handlePlans(w http.ResponseWriter, r *http.Request, _ string) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w)
		return
	}
	plans, err := s.app.Plans()
	if err != nil {
		s.writeAppError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"items": plans, "count": len(plans)})
}

func (s *Server) handleShareByToken(w http.ResponseWriter, r *http.Request, userID string) {
	token := strings.TrimPrefix(r.URL.Path, "/api/shares/")
	if token == "" || strings.Contains(token, "/") {
		notFound(w, "not found")
		return
	}
	if r.Method != http.MethodDelete {
		methodNotAllowed(w)
		return
	}
	if err := s.app.RevokeShare(userID, token); err != nil {
		s.writeAppError(w, r, err)
		return
	}
	s.audit(r, "share_revoke", "success")
	writeJSON(w, http.StatusOK, map[string]string{"status": "revoked"})
}

// handleShared resolves a public link. The password travels in a header so
// it stays out of access logs.
func (s *Server) handleShared(w http.ResponseWriter, r *http.Request) {
	token := strings.TrimPrefix(r.URL.Path, "/api/shared/")
	if token == "" || strings.Contains(token, "/") {
		notFound(w, "not found")
		return
	}
	if r.Method != http.MethodGet {
		methodNotAllowed(w)
		return
	}
	if !s.allowRate(w, r, s.shareLimiter, "shared|"+s.clientIP(r)) {
		return
	}
	shared, err := s.app.ResolveShare(r.Context(), token, r.Header.Get("X-Share-Password"))
	switch {
	case errors.Is(err, app.ErrSharePassword):
		s.audit(r, "share_resolve", "denied", "reason", "password")
	case errors.Is(err, app.ErrShareNotFound):
		s.audit(r, "share_resolve", "denied", "reason", "not_found")
	case err == nil:
		s.audit(r, "share_resolve", "success", "document_id", shared.Document.ID)
	}
	if err != nil {
		s.writeAppError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, shared)
}

func (s *Server) audit(r *http.Request, event, outcome string, attrs ...any) {
	attrs = append([]any{"path", r.URL.Path, "method", r.Method}, attrs...)
	if outcome == "success" {
		logAttrs := append([]any{"event", event, "outcome", outcome, "client_ip", s.clientIP(r)}, attrs...)
		util.LoggerFromContext(r.Context()).Info("security_event", logAttrs...)
		return
	}
	ip := s.clientIP(r)
	util.LogSecurityEvent(r.Context(), event, outcome, ip, attrs...)
	alert, err := s.alerter.Observe(r.Context(), event, auditReason(attrs), ip)
	if err != nil {
		util.LoggerFromContext(r.Context()).Warn("security alert counter failed", "event", event, "err", err)
		return
	}
	if alert.Triggered {
		util.LoggerFromContext(r.Context()).Error("security_alert",
			"event", event, "client_ip", ip, "count", alert.Count,
			"threshold", alert.Threshold, "window", alert.Window.String())
	}
}

func auditReason(attrs []any) string {
	for i := 0; i+1 < len(attrs); i += 2 {
		if k, _ := attrs[i].(string); k == "reason" {
			v, _ := attrs[i+1].(string)
			return v
		}
	}
	return ""
}

func (s *Server) allowRate(w http.ResponseWriter, r *http.Request, limiter *ratelimit.FixedWindowLimiter, key string) bool {
	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()
	d, err := limiter.Check(ctx, key)
	if err != nil {
		util.LoggerFromContext(r.Context()).Error("rate limiter unavailable", "key", key, "err", err)
	}
	w.Header().Set("X-RateLimit-Limit", strconv.Itoa(d.Limit))
	w.Header().Set("X-RateLimit-Remaining", strconv.Itoa(d.Remaining))
	if d.Allowed {
		return true
	}
	s.audit(r, "rate_limit", "denied", "key", key)
	retry := int(math.Ceil(d.RetryAfter.Seconds()))
	w.Header().Set("Retry-After", strconv.Itoa(max(retry, 1)))
	writeError(w, http.StatusTooManyRequests, "too many requests")
	return false
}

func (s *Server) clientIP(r *http.Request) string {
	return util.ClientIP(r, s.trustedProxies)
}

// writeAppError maps app errors onto HTTP responses.
func (s *Server) writeAppError(w http.ResponseWriter, r *http.Request, err error) {
	var quotaErr *app.QuotaError
	var inputErr *app.InputError
	switch {
	case errors.As(err, &quotaErr):
		writeQuotaError(w, quotaErr)
	case errors.As(err, &inputErr):
		writeError(w, http.StatusBadRequest, inputErr.Message)
	case errors.Is(err, app.ErrEmptyMessage):
		writeError(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, app.ErrDocumentNotFound), errors.Is(err, app.ErrThreadNotFound), errors.Is(err, app.ErrShareNotFound):
		notFound(w, err.Error())
	case errors.Is(err, app.ErrForbidden):
		writeError(w, http.StatusForbidden, "forbidden")
	case errors.Is(err, app.ErrDocumentExists):
		writeError(w, http.StatusConflict, err.Error())
	case errors.Is(err, app.ErrSharePassword):
		writeError(w, http.StatusUnauthorized, err.Error())
	case errors.Is(err, app.ErrOutlineUnavailable):
		writeError(w, http.StatusBadGateway, app.ErrOutlineUnavailable.Error())
	default:
		util.LoggerFromContext(r.Context()).Error("request failed", "path", r.URL.Path, "err", err)
		writeError(w, http.StatusInternalServerError, "internal error")
	}
}

func methodNotAllowed(w http.ResponseWriter) {
	writeError(w, http.StatusMethodNotAllowed, "method not allowed")
}

func notFound(w http.ResponseWriter, msg string) {
	writeError(w, http.StatusNotFound, msg)
}

func decodeJSON(w http.ResponseWriter, r *http.Request, dst any) bool {
	if err := json.NewDecoder(io.LimitReader(r.Body, maxJSONBody)).Decode(dst); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return false
	}
	return true
}

func queryInt(r *http.Request, key string) int {
	n, err := strconv.Atoi(strings.TrimSpace(r.URL.Query().Get(key)))
	if err != nil {
		return 0
	}
	return n
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

type errorResponse struct {
	Error     string                    `json:"error"`
	Code      string                    `json:"code"`
	RequestID string                    `json:"requestId,omitempty"`
	Quota     *usage.QuotaExceededError `json:"quota,omitempty"`
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, errorResponse{
		Error:     msg,
		Code:      errorCodeForReader(status, msg),
		RequestID: strings.TrimSpace(w.Header().Get(util.RequestIDHeader)),
	})
}

func writeQuotaError(w http.ResponseWriter, err *app.QuotaError) {
	writeJSON(w, http.StatusPaymentRequired, errorResponse{
		Error:     err.Error(),
		Code:      "QUOTA_EXCEEDED",
		RequestID: strings.TrimSpace(w.Header().Get(util.RequestIDHeader)),
		Quota:     err.Decision.Exceeded,
	})
}

func errorCodeForReader(status int, msg string) string {
	message := strings.ToLower(strings.TrimSpace(msg))
	switch {
	case message == "unauthorized":
		return "AUTH_INVALID_TOKEN"
	case message == "forbidden":
		return "READER_FORBIDDEN"
	case message == "document not found":
		return "DOCUMENT_NOT_FOUND"
	case message == "document already registered":
		return "DOCUMENT_ALREADY_EXISTS"
	case message == "thread not found":
		return "THREAD_NOT_FOUND"
	case message == "share link not found":
		return "SHARE_NOT_FOUND"
	case message == "share password required":
		return "SHARE_PASSWORD_REQUIRED"
	case message == "file too large":
		return "DOCUMENT_FILE_TOO_LARGE"
	case strings.Contains(message, "unsupported file type"):
		return "DOCUMENT_UNSUPPORTED_FILE_TYPE"
	case message == "uploaded file not found":
		return "DOCUMENT_UPLOAD_MISSING"
	case message == "message content required":
		return "CHAT_EMPTY_MESSAGE"
	case message == "unknown plan type":
		return "PLAN_UNKNOWN"
	case message == "invalid json body":
		return "READER_INVALID_REQUEST"
	case message == "too many requests":
		return "SYSTEM_RATE_LIMITED"
	case message == "outline service unavailable":
		return "OUTLINE_UNAVAILABLE"
	case message == "method not allowed":
		return "SYSTEM_METHOD_NOT_ALLOWED"
	case message == "not found":
		return "SYSTEM_NOT_FOUND"
	}

	switch status {
	case http.StatusBadRequest:
		return "READER_INVALID_REQUEST"
	case http.StatusUnauthorized:
		return "AUTH_INVALID_TOKEN"
	case http.StatusForbidden:
		return "READER_FORBIDDEN"
	case http.StatusNotFound:
		return "SYSTEM_NOT_FOUND"
	case http.StatusMethodNotAllowed:
		return "SYSTEM_METHOD_NOT_ALLOWED"
	case http.StatusTooManyRequests:
		return "SYSTEM_RATE_LIMITED"
	default:
		if status >= http.StatusInternalServerError {
			return "SYSTEM_INTERNAL_ERROR"
		}
		return "REQUEST_ERROR"
	}
}

func bearerToken(r *http.Request) (string, bool) {
	authHeader := r.Header.Get("Authorization")
	if !strings.HasPrefix(authHeader, "Bearer ") {
		return "", false
	}
	token := strings.TrimSpace(strings.TrimPrefix(authHeader, "Bearer "))
	if token == "" {
		return "", false
	}
	return token, true
}
