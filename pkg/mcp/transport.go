package mcp

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/mark3labs/mcp-go/server"

	"github.com/rendis/mediamcp/internal/logging"
	"github.com/rendis/mediamcp/internal/session"
	"github.com/rendis/mediamcp/internal/tenant"
	"github.com/rendis/mediamcp/pkg/schema"
)

// HTTPOptions configures the SSE transport.
type HTTPOptions struct {
	// BaseURL prefixes the message endpoint advertised to clients.
	BaseURL string
	// KeepAlive enables SSE keep-alive pings when positive.
	KeepAlive time.Duration
}

// HTTPHandler serves the SSE transport on /sse and /message, plus /healthz
// and, when metrics are configured, /metrics.
func (s *MediaServer) HTTPHandler(opts HTTPOptions) http.Handler {
	var sseOpts []server.SSEOption
	if opts.BaseURL != "" {
		sseOpts = append(sseOpts, server.WithBaseURL(opts.BaseURL))
	}
	if opts.KeepAlive > 0 {
		sseOpts = append(sseOpts, server.WithKeepAliveInterval(opts.KeepAlive))
	}
	sse := server.NewSSEServer(s.mcpServer, sseOpts...)

	mux := http.NewServeMux()
	mux.Handle("/sse", s.tenantMiddleware(sse.SSEHandler()))
	mux.Handle("/message", sse.MessageHandler())
	mux.HandleFunc("/healthz", s.handleHealth)
	if s.metrics != nil {
		mux.Handle("/metrics", s.metrics.Handler())
	}
	return mux
}

// tenantMiddleware turns the request headers into a tenant session that
// lives as long as the SSE connection. Requests with invalid metadata are
// rejected with 401 before any session exists; admission failures get 403.
func (s *MediaServer) tenantMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		md := make(map[string]string, len(r.Header))
		for k := range r.Header {
			md[k] = r.Header.Get(k)
		}

		cfg, err := tenant.Extract(md, s.tenant)
		if err != nil {
			s.logger.WarnContext(r.Context(), "header validation failed", slog.String("error", err.Error()))
			s.rejected(schema.ErrCodeConfig)
			writeError(w, http.StatusUnauthorized, err)
			return
		}
		if err := s.admit(r.Context(), cfg); err != nil {
			code := schema.CodeOf(err)
			status := http.StatusInternalServerError
			if code == schema.ErrCodeAdmission {
				status = http.StatusForbidden
			}
			s.logger.WarnContext(r.Context(), "tenant not admitted",
				slog.String("access_key", cfg.AccessKey),
				slog.String("error", err.Error()),
			)
			s.rejected(code)
			writeError(w, status, err)
			return
		}

		id, err := s.sessions.Create(cfg)
		if err != nil {
			writeError(w, http.StatusServiceUnavailable, err)
			return
		}
		ctx := session.WithID(r.Context(), id)
		logger := logging.LogWith(ctx, s.logger)
		logger.Info("sse connection opened",
			slog.String("remote", r.RemoteAddr),
			slog.Any("tenant", cfg.Redacted()),
		)
		defer func() {
			s.sessions.Remove(id)
			s.bindings.RemoveTenant(id)
			logger.Info("sse connection closed")
		}()

		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func (s *MediaServer) handleHealth(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(map[string]any{
		"status":   "ok",
		"version":  s.version,
		"sessions": s.sessions.Count(),
	})
}

// writeError writes {"error": message, "code": code}.
func writeError(w http.ResponseWriter, status int, err error) {
	body := map[string]string{"error": err.Error()}
	var serr *schema.Error
	if errors.As(err, &serr) {
		body["error"] = serr.Message
		body["code"] = serr.Code
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}
