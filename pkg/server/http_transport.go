package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/julienschmidt/httprouter"
	"github.com/justinas/alice"
	mcpserver "github.com/mark3labs/mcp-go/server"
	"github.com/rs/cors"
	"golang.org/x/time/rate"

	"github.com/NERVsystems/overpassmap/pkg/core"
	"github.com/NERVsystems/overpassmap/pkg/filter"
	"github.com/NERVsystems/overpassmap/pkg/monitoring"
	"github.com/NERVsystems/overpassmap/pkg/pipeline"
	"github.com/NERVsystems/overpassmap/pkg/render"
	"github.com/NERVsystems/overpassmap/pkg/render/geojson"
	"github.com/NERVsystems/overpassmap/pkg/render/leaflet"
	"github.com/NERVsystems/overpassmap/pkg/version"
)

// iconRoute is where IconDir is served.
const iconRoute = "/icons/"

// usageMessage is shown on the map page when no query string is given.
const usageMessage = "Add filters to the URL, for example ?amenity=drinking_water&_place=Berlin"

// HTTPTransportConfig holds configuration for the web surface
type HTTPTransportConfig struct {
	Addr           string   `json:"addr"`             // HTTP server address (e.g., ":7082")
	BaseURL        string   `json:"base_url"`         // Base URL advertised to SSE clients
	AuthType       string   `json:"auth_type"`        // MCP endpoint auth: "bearer", "basic", "none"
	AuthToken      string   `json:"auth_token"`       // Token, or "user:pass" for basic auth
	SSEEndpoint    string   `json:"sse_endpoint"`     // SSE endpoint path (default: "/sse")
	MsgEndpoint    string   `json:"msg_endpoint"`     // Message endpoint path (default: "/message")
	RateLimit      float64  `json:"rate_limit"`       // Requests per second per IP (0 = disabled)
	RateBurst      int      `json:"rate_burst"`       // Burst size for rate limiter
	MaxRequestSize int64    `json:"max_request_size"` // Maximum request body size in bytes
	MaxHeaderBytes int      `json:"max_header_bytes"` // Maximum header size in bytes
	AllowedOrigins []string `json:"allowed_origins"`  // CORS origins for the JSON API
	Title          string   `json:"title"`            // Map page title
	IconURL        string   `json:"icon_url"`         // Marker icon pattern containing "{icon}", empty for the stock marker
	IconDir        string   `json:"icon_dir"`         // Directory served under /icons/
	TLSCertFile    string   `json:"tls_cert_file"`
	TLSKeyFile     string   `json:"tls_key_file"`
}

// DefaultHTTPTransportConfig returns sensible defaults
func DefaultHTTPTransportConfig() HTTPTransportConfig {
	return HTTPTransportConfig{
		Addr:           ":7082",
		AuthType:       AuthNone,
		SSEEndpoint:    "/sse",
		MsgEndpoint:    "/message",
		RateLimit:      10,
		RateBurst:      20,
		MaxRequestSize: 1 << 20,
		MaxHeaderBytes: 1 << 20,
		AllowedOrigins: []string{"*"},
		Title:          "Overpass map",
	}
}

// HTTPTransport serves the map page, the JSON API and, when an MCP server is
// given, the MCP SSE transport.
type HTTPTransport struct {
	config        HTTPTransportConfig
	logger        *slog.Logger
	pipeline      *pipeline.Pipeline
	sseServer     *mcpserver.SSEServer
	router        *httprouter.Router
	handler       http.Handler
	httpSrv       *http.Server
	rateLimiter   *RateLimiter
	healthChecker *monitoring.HealthChecker
	mu            sync.RWMutex
}

// NewHTTPTransport creates a new HTTP transport. mcpServer may be nil, in
// which case the SSE endpoints are not mounted.
func NewHTTPTransport(p *pipeline.Pipeline, mcpServer *mcpserver.MCPServer, config HTTPTransportConfig, logger *slog.Logger) *HTTPTransport {
	if logger == nil {
		logger = slog.Default()
	}
	if config.SSEEndpoint == "" {
		config.SSEEndpoint = "/sse"
	}
	if config.MsgEndpoint == "" {
		config.MsgEndpoint = "/message"
	}
	if config.IconDir != "" && config.IconURL == "" {
		config.IconURL = iconRoute + "{icon}.png"
	}

	if config.AuthType != AuthNone && config.AuthToken != "" {
		if err := ValidateAuthToken(config.AuthToken); err != nil {
			logger.Warn("weak authentication token detected", "error", err.Error())
		}
	}

	t := &HTTPTransport{
		config:   config,
		logger:   logger,
		pipeline: p,
		router:   httprouter.New(),
	}

	if mcpServer != nil {
		t.sseServer = mcpserver.NewSSEServer(
			mcpServer,
			mcpserver.WithSSEEndpoint(config.SSEEndpoint),
			mcpserver.WithMessageEndpoint(config.MsgEndpoint),
			mcpserver.WithBaseURL(config.BaseURL),
		)
	}

	t.setupRoutes()
	t.handler = t.buildChain()
	return t
}

// SetHealthChecker sets the health checker for the HTTP transport
func (t *HTTPTransport) SetHealthChecker(hc *monitoring.HealthChecker) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.healthChecker = hc
}

func (t *HTTPTransport) setupRoutes() {
	r := t.router

	r.GET("/", t.handleMap)
	r.GET("/map", t.handleMap)

	r.GET("/api/features", t.handleFeatures)
	r.GET("/api/query", t.handleQuery)
	r.GET("/api/info", t.handleInfo)

	r.HandlerFunc(http.MethodGet, "/health", t.handleHealth)
	r.HandlerFunc(http.MethodGet, "/ready", t.handleReady)
	r.HandlerFunc(http.MethodGet, "/live", t.handleLive)

	if t.config.IconDir != "" {
		r.ServeFiles(iconRoute+"*filepath", http.Dir(t.config.IconDir))
	}

	if t.sseServer != nil {
		r.Handler(http.MethodGet, t.config.SSEEndpoint, t.authMiddleware(t.sseServer.SSEHandler()))
		r.Handler(http.MethodPost, t.config.MsgEndpoint, t.authMiddleware(t.sseServer.MessageHandler()))
	}
}

// buildChain wraps the router in the middleware stack.
func (t *HTTPTransport) buildChain() http.Handler {
	corsHandler := cors.New(cors.Options{
		AllowedOrigins: t.config.AllowedOrigins,
		AllowedMethods: []string{http.MethodGet, http.MethodPost, http.MethodOptions},
		AllowedHeaders: []string{"Accept", "Authorization", "Content-Type", "X-Request-ID"},
		ExposedHeaders: []string{"X-Request-ID"},
		MaxAge:         300,
	})

	chain := alice.New(
		RecoverMiddleware(t.logger),
		LoggingMiddleware(t.logger),
		TracingMiddleware(),
		SecurityHeaders,
		corsHandler.Handler,
	)
	if t.config.MaxRequestSize > 0 {
		chain = chain.Append(RequestSizeLimiter(t.config.MaxRequestSize))
	}
	if t.config.RateLimit > 0 {
		t.rateLimiter = NewRateLimiter(rate.Limit(t.config.RateLimit), t.config.RateBurst)
		chain = chain.Append(t.rateLimiter.Middleware)
	}
	return chain.Then(t.router)
}

// Handler returns the fully wrapped HTTP handler.
func (t *HTTPTransport) Handler() http.Handler {
	return t.handler
}

// authMiddleware protects the MCP endpoints
func (t *HTTPTransport) authMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ok, reason := authenticate(r, t.config.AuthType, t.config.AuthToken)
		if ok {
			next.ServeHTTP(w, r)
			return
		}

		t.logger.Warn("authentication failed",
			"remote_addr", getIP(r),
			"path", r.URL.Path,
			"auth_type", t.config.AuthType,
			"error", reason)

		if t.config.AuthType == AuthBasic {
			w.Header().Set("WWW-Authenticate", `Basic realm="overpassmap"`)
		} else {
			w.Header().Set("WWW-Authenticate", "Bearer")
		}
		t.writeJSONRPCError(w, http.StatusUnauthorized, -32001, "Authentication required")
	})
}

// parseModel reads the filter model from the raw query so criteria keep
// the order the user wrote them in.
func parseModel(r *http.Request) (filter.Model, error) {
	return filter.ParseQuery(r.URL.RawQuery)
}

func (t *HTTPTransport) handleMap(w http.ResponseWriter, r *http.Request, _ httprouter.Params) {
	page := leaflet.NewPage(t.config.Title, t.config.IconURL)
	status := http.StatusOK

	if r.URL.RawQuery == "" {
		page.SetMessage(usageMessage)
	} else if model, err := parseModel(r); err != nil {
		status = core.HTTPStatus(err)
		page.SetMessage(core.UserMessage(err))
	} else if _, err := t.pipeline.Run(r.Context(), model, page); err != nil {
		status = core.HTTPStatus(err)
		page.SetMessage(core.UserMessage(err))
		t.logger.Info("map request failed",
			"request_id", RequestID(r.Context()),
			"code", core.CodeOf(err),
			"error", err)
	}

	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.WriteHeader(status)
	if _, err := page.WriteTo(w); err != nil {
		t.logger.Error("failed to write map page", "error", err)
	}
}

func (t *HTTPTransport) handleFeatures(w http.ResponseWriter, r *http.Request, _ httprouter.Params) {
	model, err := parseModel(r)
	if err != nil {
		t.writeError(w, r, err)
		return
	}

	collector := geojson.NewCollector()
	if _, err := t.pipeline.Run(r.Context(), model, collector); err != nil {
		t.writeError(w, r, err)
		return
	}

	body, err := collector.MarshalJSON()
	if err != nil {
		t.writeError(w, r, core.NewError(core.ErrInternalError, "failed to encode features").WithCause(err))
		return
	}
	w.Header().Set("Content-Type", "application/geo+json")
	if _, err := w.Write(body); err != nil {
		t.logger.Error("failed to write features", "error", err)
	}
}

func (t *HTTPTransport) handleQuery(w http.ResponseWriter, r *http.Request, _ httprouter.Params) {
	model, err := parseModel(r)
	if err != nil {
		t.writeError(w, r, err)
		return
	}

	q, err := t.pipeline.Prepare(r.Context(), model)
	if err != nil {
		t.writeError(w, r, err)
		return
	}

	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.Header().Set("X-Area-ID", fmt.Sprint(q.AreaID))
	if _, err := w.Write([]byte(q.Text)); err != nil {
		t.logger.Error("failed to write query", "error", err)
	}
}

func (t *HTTPTransport) handleInfo(w http.ResponseWriter, r *http.Request, _ httprouter.Params) {
	mcp := map[string]interface{}{"enabled": t.sseServer != nil}
	if t.sseServer != nil {
		mcp["auth_required"] = t.config.AuthType != AuthNone
		mcp["sse"] = t.config.BaseURL + t.config.SSEEndpoint
		mcp["message"] = t.config.BaseURL + t.config.MsgEndpoint
	}

	writeJSON(w, t.logger, http.StatusOK, map[string]interface{}{
		"service":  "overpassmap",
		"version":  version.BuildVersion,
		"basemaps": render.Basemaps(),
		"endpoints": map[string]string{
			"map":      "/map",
			"features": "/api/features",
			"query":    "/api/query",
		},
		"mcp": mcp,
	})
}

// writeError serves a pipeline error as JSON with the mapped status code.
func (t *HTTPTransport) writeError(w http.ResponseWriter, r *http.Request, err error) {
	status := core.HTTPStatus(err)
	var e *core.Error
	if !errors.As(err, &e) {
		e = core.NewError(core.ErrInternalError, "internal error")
	}
	if status >= http.StatusInternalServerError {
		t.logger.Error("request failed", "request_id", RequestID(r.Context()), "code", e.Code, "error", err)
	} else {
		t.logger.Info("request rejected", "request_id", RequestID(r.Context()), "code", e.Code, "error", err)
	}

	body := *e
	if errors.Is(err, core.PlaceNotFound) || errors.Is(err, core.EmptyResult) {
		body.Message = core.UserMessage(err)
	}
	writeJSON(w, t.logger, status, map[string]interface{}{"error": body})
}

func writeJSON(w http.ResponseWriter, logger *slog.Logger, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		logger.Error("failed to encode JSON response", "error", err)
	}
}

func (t *HTTPTransport) health() *monitoring.HealthChecker {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.healthChecker
}

func (t *HTTPTransport) handleHealth(w http.ResponseWriter, r *http.Request) {
	if hc := t.health(); hc != nil {
		hc.HealthHandler()(w, r)
		return
	}
	writeJSON(w, t.logger, http.StatusOK, map[string]interface{}{"status": "ok"})
}

func (t *HTTPTransport) handleReady(w http.ResponseWriter, r *http.Request) {
	if hc := t.health(); hc != nil {
		hc.ReadinessHandler()(w, r)
		return
	}
	writeJSON(w, t.logger, http.StatusOK, map[string]interface{}{"ready": true, "status": "ok"})
}

func (t *HTTPTransport) handleLive(w http.ResponseWriter, r *http.Request) {
	if hc := t.health(); hc != nil {
		hc.LivenessHandler()(w, r)
		return
	}
	writeJSON(w, t.logger, http.StatusOK, map[string]interface{}{"alive": true})
}

// writeJSONRPCError writes a JSON-RPC error response
func (t *HTTPTransport) writeJSONRPCError(w http.ResponseWriter, status, code int, message string) {
	writeJSON(w, t.logger, status, map[string]interface{}{
		"jsonrpc": "2.0",
		"id":      nil,
		"error": map[string]interface{}{
			"code":    code,
			"message": message,
		},
	})
}

// Start begins serving HTTP requests. It blocks until the server stops.
func (t *HTTPTransport) Start() error {
	t.mu.Lock()
	if t.httpSrv != nil {
		t.mu.Unlock()
		return core.NewError(core.ErrInternalError, "HTTP transport already started").
			WithGuidance("Stop the running transport before starting it again.")
	}

	t.httpSrv = &http.Server{
		Addr:              t.config.Addr,
		Handler:           t.handler,
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       30 * time.Second,
		IdleTimeout:       120 * time.Second,
		MaxHeaderBytes:    t.config.MaxHeaderBytes,
	}
	srv := t.httpSrv
	t.mu.Unlock()

	useTLS := t.config.TLSCertFile != "" && t.config.TLSKeyFile != ""
	t.logger.Info("starting HTTP transport",
		"addr", t.config.Addr,
		"mcp", t.sseServer != nil,
		"sse_endpoint", t.config.SSEEndpoint,
		"message_endpoint", t.config.MsgEndpoint,
		"auth_type", t.config.AuthType,
		"tls_enabled", useTLS)

	var err error
	if useTLS {
		err = srv.ListenAndServeTLS(t.config.TLSCertFile, t.config.TLSKeyFile)
	} else {
		err = srv.ListenAndServe()
	}
	if errors.Is(err, http.ErrServerClosed) {
		return nil
	}
	return err
}

// Shutdown gracefully stops the HTTP transport
func (t *HTTPTransport) Shutdown(ctx context.Context) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.rateLimiter != nil {
		t.rateLimiter.Stop()
	}
	if t.httpSrv == nil {
		return nil
	}

	t.logger.Info("shutting down HTTP transport")

	if t.sseServer != nil {
		if err := t.sseServer.Shutdown(ctx); err != nil {
			t.logger.Error("failed to shutdown SSE server", "error", err)
		}
	}

	err := t.httpSrv.Shutdown(ctx)
	t.httpSrv = nil
	return err
}

// GetConfig returns the transport configuration
func (t *HTTPTransport) GetConfig() HTTPTransportConfig {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.config
}
