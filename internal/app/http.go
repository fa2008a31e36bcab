package app

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/gnanamtech85-ops/photo-proofing-app/internal/auth"
	"github.com/gnanamtech85-ops/photo-proofing-app/internal/logging"
	"github.com/gnanamtech85-ops/photo-proofing-app/internal/metrics"
	"github.com/gnanamtech85-ops/photo-proofing-app/internal/ratelimit"
	"github.com/gnanamtech85-ops/photo-proofing-app/internal/rbac"
	"github.com/gnanamtech85-ops/photo-proofing-app/internal/store"
	"github.com/gnanamtech85-ops/photo-proofing-app/internal/util"
)

type ServerOptions struct {
	CORSOrigin string
	// Limiter guards the client mutation endpoints. Nil disables limiting.
	Limiter   ratelimit.Limiter
	WebSocket http.Handler
	Metrics   *metrics.Metrics
	Logger    logging.Logger
}

type HTTPServer struct {
	service    *Service
	corsOrigin string
	limiter    ratelimit.Limiter
	websocket  http.Handler
	metrics    *metrics.Metrics
	log        logging.Logger
}

func NewHTTPServer(service *Service, opts ServerOptions) *HTTPServer {
	s := &HTTPServer{
		service:    service,
		corsOrigin: opts.CORSOrigin,
		limiter:    opts.Limiter,
		websocket:  opts.WebSocket,
		metrics:    opts.Metrics,
		log:        opts.Logger,
	}
	if s.log == nil {
		s.log = logging.Nop()
	}
	return s
}

func (s *HTTPServer) Handler() http.Handler {
	r := chi.NewRouter()
	r.Use(s.withMiddleware)
	r.NotFound(func(w http.ResponseWriter, r *http.Request) {
		writeError(w, http.StatusNotFound, "NOT_FOUND", "Not found", nil)
	})
	r.MethodNotAllowed(func(w http.ResponseWriter, r *http.Request) {
		writeError(w, http.StatusMethodNotAllowed, "METHOD_NOT_ALLOWED", "Method not allowed", nil)
	})

	if s.metrics != nil {
		r.Handle("/metrics", s.metrics.Handler())
	}
	if s.websocket != nil {
		r.Handle("/ws", s.websocket)
	}

	r.Route("/api", func(r chi.Router) {
		r.Get("/health", s.handleHealth)
		r.Get("/ready", s.handleReady)
		r.Get("/client/gallery/{shareLink}", s.handleClientGallery)

		r.Route("/selections", func(r chi.Router) {
			r.Group(func(r chi.Router) {
				r.Use(s.rateLimited)
				r.Post("/toggle", s.handleToggleSelection)
				r.Post("/select-all", s.handleSelectAll)
				r.Post("/deselect-all", s.handleDeselectAll)
				r.Post("/favorite", s.handleToggleFavorite)
			})
			r.Get("/", s.handleClientSelections)
			r.Get("/favorites", s.handleClientFavorites)

			r.Group(func(r chi.Router) {
				r.Use(s.requireAdmin(rbac.ActionModerate))
				r.Put("/{selectionID}/approve", s.handleApprove)
				r.Put("/{selectionID}/reject", s.handleReject)
				r.Post("/bulk-approve", s.handleBulkApprove)
				r.Post("/bulk-reject", s.handleBulkReject)
			})
			r.With(s.requireAdmin(rbac.ActionReview)).Get("/gallery/{galleryID}", s.handleGallerySelections)
		})

		r.Group(func(r chi.Router) {
			r.Use(s.requireAdmin(rbac.ActionNotify))
			r.Get("/notifications", s.handleNotifications)
			r.Put("/notifications/read-all", s.handleMarkAllRead)
			r.Put("/notifications/{notificationID}/read", s.handleMarkRead)
		})

		r.Group(func(r chi.Router) {
			r.Use(s.requireAdmin(rbac.ActionReview))
			r.Get("/stats", s.handleStats)
			r.Get("/galleries/{galleryID}/counts", s.handleGalleryCounts)
			r.Get("/galleries/{galleryID}/access-log", s.handleAccessLog)
		})
	})
	return r
}

func (s *HTTPServer) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status":    "ok",
		"timestamp": time.Now().UTC().Format(time.RFC3339),
		"version":   Version,
	})
}

func (s *HTTPServer) handleReady(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()

	status := "ready"
	statusCode := http.StatusOK
	checks := map[string]any{
		"database": map[string]any{"status": "ok"},
	}
	if err := s.service.Ping(ctx); err != nil {
		status = "not_ready"
		statusCode = http.StatusServiceUnavailable
		checks["database"] = map[string]any{
			"status": "error",
			"error":  err.Error(),
		}
	}
	writeJSON(w, statusCode, map[string]any{
		"ok":     status == "ready",
		"status": status,
		"checks": checks,
	})
}

func (s *HTTPServer) handleClientGallery(w http.ResponseWriter, r *http.Request) {
	query := r.URL.Query()
	password := query.Get("password")
	if password == "" {
		password = r.Header.Get("X-Gallery-Password")
	}
	result, err := s.service.ClientGallery(r.Context(), chi.URLParam(r, "shareLink"), password, query.Get("client_identifier"))
	s.respond(w, r, http.StatusOK, result, err)
}

func (s *HTTPServer) handleToggleSelection(w http.ResponseWriter, r *http.Request) {
	var body SelectionInput
	if !s.decode(w, r, &body) {
		return
	}
	result, err := s.service.ToggleSelection(r.Context(), body)
	s.respond(w, r, http.StatusOK, result, err)
}

func (s *HTTPServer) handleSelectAll(w http.ResponseWriter, r *http.Request) {
	var body GalleryClientInput
	if !s.decode(w, r, &body) {
		return
	}
	result, err := s.service.SelectAll(r.Context(), body)
	s.respond(w, r, http.StatusOK, result, err)
}

func (s *HTTPServer) handleDeselectAll(w http.ResponseWriter, r *http.Request) {
	var body GalleryClientInput
	if !s.decode(w, r, &body) {
		return
	}
	result, err := s.service.DeselectAll(r.Context(), body)
	s.respond(w, r, http.StatusOK, result, err)
}

func (s *HTTPServer) handleToggleFavorite(w http.ResponseWriter, r *http.Request) {
	var body SelectionInput
	if !s.decode(w, r, &body) {
		return
	}
	result, err := s.service.ToggleFavorite(r.Context(), body)
	s.respond(w, r, http.StatusOK, result, err)
}

func (s *HTTPServer) handleClientSelections(w http.ResponseWriter, r *http.Request) {
	galleryID, clientID := clientQuery(r)
	result, err := s.service.ClientSelections(r.Context(), galleryID, clientID)
	s.respond(w, r, http.StatusOK, result, err)
}

func (s *HTTPServer) handleClientFavorites(w http.ResponseWriter, r *http.Request) {
	galleryID, clientID := clientQuery(r)
	result, err := s.service.ClientFavorites(r.Context(), galleryID, clientID)
	s.respond(w, r, http.StatusOK, result, err)
}

func clientQuery(r *http.Request) (ID, string) {
	query := r.URL.Query()
	galleryID, _ := parseID(query.Get("gallery_id"))
	return ID(galleryID), query.Get("client_identifier")
}

func (s *HTTPServer) handleApprove(w http.ResponseWriter, r *http.Request) {
	selectionID, ok := s.pathID(w, r, "selectionID", "Selection ID required")
	if !ok {
		return
	}
	result, err := s.service.Approve(r.Context(), adminFrom(r.Context()), selectionID)
	s.respond(w, r, http.StatusOK, result, err)
}

func (s *HTTPServer) handleReject(w http.ResponseWriter, r *http.Request) {
	selectionID, ok := s.pathID(w, r, "selectionID", "Selection ID required")
	if !ok {
		return
	}
	result, err := s.service.Reject(r.Context(), adminFrom(r.Context()), selectionID)
	s.respond(w, r, http.StatusOK, result, err)
}

func (s *HTTPServer) handleBulkApprove(w http.ResponseWriter, r *http.Request) {
	var body BulkStatusInput
	if !s.decode(w, r, &body) {
		return
	}
	result, err := s.service.BulkApprove(r.Context(), adminFrom(r.Context()), body)
	s.respond(w, r, http.StatusOK, result, err)
}

func (s *HTTPServer) handleBulkReject(w http.ResponseWriter, r *http.Request) {
	var body BulkStatusInput
	if !s.decode(w, r, &body) {
		return
	}
	result, err := s.service.BulkReject(r.Context(), adminFrom(r.Context()), body)
	s.respond(w, r, http.StatusOK, result, err)
}

func (s *HTTPServer) handleGallerySelections(w http.ResponseWriter, r *http.Request) {
	galleryID, ok := s.pathID(w, r, "galleryID", "Gallery ID required")
	if !ok {
		return
	}
	result, err := s.service.GallerySelections(r.Context(), adminFrom(r.Context()), galleryID)
	s.respond(w, r, http.StatusOK, result, err)
}

func (s *HTTPServer) handleNotifications(w http.ResponseWriter, r *http.Request) {
	result, err := s.service.Notifications(r.Context(), adminFrom(r.Context()))
	s.respond(w, r, http.StatusOK, result, err)
}

func (s *HTTPServer) handleMarkRead(w http.ResponseWriter, r *http.Request) {
	notificationID, ok := s.pathID(w, r, "notificationID", "Notification ID required")
	if !ok {
		return
	}
	result, err := s.service.MarkNotificationRead(r.Context(), adminFrom(r.Context()), notificationID)
	s.respond(w, r, http.StatusOK, result, err)
}

func (s *HTTPServer) handleMarkAllRead(w http.ResponseWriter, r *http.Request) {
	result, err := s.service.MarkAllNotificationsRead(r.Context(), adminFrom(r.Context()))
	s.respond(w, r, http.StatusOK, result, err)
}

func (s *HTTPServer) handleStats(w http.ResponseWriter, r *http.Request) {
	result, err := s.service.Stats(r.Context(), adminFrom(r.Context()))
	s.respond(w, r, http.StatusOK, result, err)
}

func (s *HTTPServer) handleGalleryCounts(w http.ResponseWriter, r *http.Request) {
	galleryID, ok := s.pathID(w, r, "galleryID", "Gallery ID required")
	if !ok {
		return
	}
	result, err := s.service.GalleryCounts(r.Context(), adminFrom(r.Context()), galleryID)
	s.respond(w, r, http.StatusOK, result, err)
}

func (s *HTTPServer) handleAccessLog(w http.ResponseWriter, r *http.Request) {
	galleryID, ok := s.pathID(w, r, "galleryID", "Gallery ID required")
	if !ok {
		return
	}
	result, err := s.service.AccessLog(r.Context(), adminFrom(r.Context()), galleryID)
	s.respond(w, r, http.StatusOK, result, err)
}

func (s *HTTPServer) decode(w http.ResponseWriter, r *http.Request, target any) bool {
	if err := decodeBody(r, target); err != nil {
		writeError(w, http.StatusBadRequest, "VALIDATION_ERROR", err.Error(), nil)
		return false
	}
	return true
}

func (s *HTTPServer) pathID(w http.ResponseWriter, r *http.Request, param, message string) (int64, bool) {
	id, ok := parseID(chi.URLParam(r, param))
	if !ok {
		writeError(w, http.StatusBadRequest, "VALIDATION_ERROR", message, nil)
		return 0, false
	}
	return id, true
}

// respond writes result, or the mapped error. Unexpected errors are logged
// here so handlers stay one line.
func (s *HTTPServer) respond(w http.ResponseWriter, r *http.Request, status int, result any, err error) {
	if err != nil {
		status, code, message, details := mapError(err)
		if status >= http.StatusInternalServerError {
			s.log.Error(r.Context(), "request failed", "request_id", requestIDFrom(r.Context()), "path", r.URL.Path, "error", err)
		}
		var domainErr *DomainError
		if errors.As(err, &domainErr) && len(domainErr.Fields) > 0 {
			writeErrorFields(w, status, code, message, details, domainErr.Fields)
			return
		}
		writeError(w, status, code, message, details)
		return
	}
	writeJSON(w, status, result)
}

type adminKey struct{}

func adminFrom(ctx context.Context) Admin {
	admin, _ := ctx.Value(adminKey{}).(Admin)
	return admin
}

func (s *HTTPServer) requireAdmin(action rbac.Action) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			token := bearerToken(r)
			if token == "" {
				writeError(w, http.StatusUnauthorized, "UNAUTHORIZED", "Unauthorized", nil)
				return
			}
			admin, err := s.service.AdminFromToken(token)
			if err != nil {
				writeError(w, http.StatusUnauthorized, "UNAUTHORIZED", "Unauthorized", nil)
				return
			}
			if !s.service.Can(admin, action) {
				writeError(w, http.StatusForbidden, "FORBIDDEN", "Forbidden", nil)
				return
			}
			next.ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), adminKey{}, admin)))
		})
	}
}

// rateLimited keys on the remote address. A failing limiter backend lets
// the request through.
func (s *HTTPServer) rateLimited(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if s.limiter == nil {
			next.ServeHTTP(w, r)
			return
		}
		allowed, err := s.limiter.Allow(r.Context(), remoteHost(r))
		if err != nil {
			s.log.Warn(r.Context(), "rate limiter unavailable", "request_id", requestIDFrom(r.Context()), "error", err)
			next.ServeHTTP(w, r)
			return
		}
		if !allowed {
			w.Header().Set("Retry-After", "60")
			writeError(w, http.StatusTooManyRequests, "RATE_LIMITED", "Too many requests", nil)
			return
		}
		next.ServeHTTP(w, r)
	})
}

func remoteHost(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}

func (s *HTTPServer) withMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		requestID := r.Header.Get("X-Request-ID")
		if requestID == "" {
			requestID = util.NewID("req")
		}
		ctx := context.WithValue(r.Context(), requestIDKey{}, requestID)
		r = r.WithContext(ctx)

		started := time.Now()
		writer := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		setCORSHeaders(writer.Header(), s.corsOrigin)
		writer.Header().Set("X-Request-ID", requestID)

		if r.Method == http.MethodOptions {
			writer.WriteHeader(http.StatusNoContent)
		} else {
			s.metrics.RequestStarted()
			next.ServeHTTP(writer, r)
			route := ""
			if rctx := chi.RouteContext(r.Context()); rctx != nil {
				route = rctx.RoutePattern()
			}
			s.metrics.RequestFinished(r.Method, route, writer.status, time.Since(started))
		}

		s.log.Info(ctx, "http request",
			"request_id", requestID,
			"method", r.Method,
			"path", r.URL.Path,
			"status", writer.status,
			"duration_ms", time.Since(started).Milliseconds(),
		)
	})
}

type requestIDKey struct{}

func requestIDFrom(ctx context.Context) string {
	id, _ := ctx.Value(requestIDKey{}).(string)
	return id
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(status int) {
	r.status = status
	r.ResponseWriter.WriteHeader(status)
}

// Hijack lets the websocket upgrader take over the connection.
func (r *statusRecorder) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	hijacker, ok := r.ResponseWriter.(http.Hijacker)
	if !ok {
		return nil, nil, fmt.Errorf("response writer does not support hijacking")
	}
	r.status = http.StatusSwitchingProtocols
	return hijacker.Hijack()
}

func (r *statusRecorder) Unwrap() http.ResponseWriter {
	return r.ResponseWriter
}

func setCORSHeaders(header http.Header, corsOrigin string) {
	header.Set("Access-Control-Allow-Origin", corsOrigin)
	header.Set("Access-Control-Allow-Headers", "Content-Type, Authorization, X-Request-ID")
	header.Set("Access-Control-Allow-Methods", "GET,POST,PUT,DELETE,OPTIONS")
	header.Set("Cache-Control", "no-store")
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func writeError(w http.ResponseWriter, status int, code, message string, details any) {
	writeErrorFields(w, status, code, message, details, nil)
}

func writeErrorFields(w http.ResponseWriter, status int, code, message string, details any, fields map[string]any) {
	response := make(map[string]any, len(fields)+3)
	for k, v := range fields {
		response[k] = v
	}
	response["code"] = code
	response["error"] = message
	if details != nil {
		response["details"] = details
	}
	writeJSON(w, status, response)
}

// decodeBody treats an empty body as an empty object so the service's own
// validation produces the error.
func decodeBody(r *http.Request, target any) error {
	if r.Body == nil {
		return nil
	}
	defer r.Body.Close()
	decoder := json.NewDecoder(r.Body)
	if err := decoder.Decode(target); err != nil {
		if errors.Is(err, io.EOF) || errors.Is(err, http.ErrBodyReadAfterClose) {
			return nil
		}
		return fmt.Errorf("invalid JSON body")
	}
	return nil
}

func bearerToken(r *http.Request) string {
	header := strings.TrimSpace(r.Header.Get("Authorization"))
	if !strings.HasPrefix(header, "Bearer ") {
		return ""
	}
	return strings.TrimSpace(strings.TrimPrefix(header, "Bearer "))
}

func mapError(err error) (status int, code, message string, details any) {
	var domainErr *DomainError
	if errors.As(err, &domainErr) {
		return domainErr.Status, domainErr.Code, domainErr.Message, domainErr.Details
	}
	if errors.Is(err, store.ErrNotFound) {
		return http.StatusNotFound, "NOT_FOUND", "Not found", nil
	}
	if errors.Is(err, auth.ErrInvalidToken) || errors.Is(err, auth.ErrExpiredToken) {
		return http.StatusUnauthorized, "UNAUTHORIZED", "Unauthorized", nil
	}
	return http.StatusInternalServerError, "SERVER_ERROR", "Server error", nil
}
