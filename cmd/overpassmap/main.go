package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"golang.org/x/sync/errgroup"

	"github.com/NERVsystems/overpassmap/pkg/geocode"
	"github.com/NERVsystems/overpassmap/pkg/geometry"
	"github.com/NERVsystems/overpassmap/pkg/monitoring"
	"github.com/NERVsystems/overpassmap/pkg/osm"
	"github.com/NERVsystems/overpassmap/pkg/overpass"
	"github.com/NERVsystems/overpassmap/pkg/pipeline"
	"github.com/NERVsystems/overpassmap/pkg/server"
	"github.com/NERVsystems/overpassmap/pkg/tracing"
	ver "github.com/NERVsystems/overpassmap/pkg/version"
)

var (
	showVersionFlag bool
	debug           bool
	userAgent       string

	// HTTP flags
	httpAddr      string
	httpBaseURL   string
	httpAuthType  string
	httpAuthToken string
	iconURL       string
	iconDir       string

	// MCP flags
	enableMCP bool
	mcpStdio  bool

	// Monitoring flags
	enableMonitoring bool
	monitoringAddr   string

	// Upstream services
	nominatimURL     string
	overpassURL      string
	nominatimRPS     float64
	nominatimBurst   int
	queryTimeout     int
	geocodeCacheSize int
	skipDangling     bool

	// One-shot rendering
	renderQuery string
	outPath     string
)

func init() {
	flag.BoolVar(&showVersionFlag, "version", false, "Display version information")
	flag.BoolVar(&debug, "debug", false, "Enable debug logging")
	flag.StringVar(&userAgent, "user-agent", osm.DefaultUserAgent, "User-Agent string for Nominatim and Overpass requests")

	flag.StringVar(&httpAddr, "http-addr", ":7082", "HTTP server address")
	flag.StringVar(&httpBaseURL, "http-base-url", "", "Base URL announced to SSE clients")
	flag.StringVar(&httpAuthType, "http-auth-type", server.AuthNone, "MCP authentication type: none, bearer, basic")
	flag.StringVar(&httpAuthToken, "http-auth-token", "", "MCP authentication token (user:pass for basic)")
	flag.StringVar(&iconURL, "icon-url", "", "Icon URL template, {icon} is replaced by the icon name; empty uses Leaflet's stock marker")
	flag.StringVar(&iconDir, "icon-dir", "", "Directory of <name>.png marker icons served under /icons/")

	flag.BoolVar(&enableMCP, "enable-mcp", true, "Expose the MCP tools over SSE on the HTTP server")
	flag.BoolVar(&mcpStdio, "mcp-stdio", false, "Serve MCP over stdin/stdout instead of starting the HTTP server")

	flag.BoolVar(&enableMonitoring, "enable-monitoring", true, "Enable Prometheus metrics and upstream health checks")
	flag.StringVar(&monitoringAddr, "monitoring-addr", ":9090", "Monitoring server address")

	flag.StringVar(&nominatimURL, "nominatim-url", osm.NominatimBaseURL, "Nominatim base URL")
	flag.StringVar(&overpassURL, "overpass-url", osm.OverpassBaseURL, "Overpass interpreter URL")
	flag.Float64Var(&nominatimRPS, "nominatim-rps", 1.0, "Nominatim rate limit in requests per second")
	flag.IntVar(&nominatimBurst, "nominatim-burst", 1, "Nominatim rate limit burst size")
	flag.IntVar(&queryTimeout, "query-timeout", overpass.DefaultTimeout, "Overpass server-side timeout in seconds")
	flag.IntVar(&geocodeCacheSize, "geocode-cache-size", geocode.DefaultCacheSize, "Number of resolved places to cache, 0 disables the cache")
	flag.BoolVar(&skipDangling, "skip-dangling", false, "Drop ways that reference missing nodes instead of failing")

	flag.StringVar(&renderQuery, "render", "", "Render a filter query such as 'amenity=cafe&_place=Berlin' to HTML and exit")
	flag.StringVar(&outPath, "out", "map.html", "Output file for -render, - for stdout")
}

func main() {
	flag.Parse()

	if showVersionFlag {
		fmt.Println(ver.String())
		return
	}

	logLevel := slog.LevelInfo
	if debug {
		logLevel = slog.LevelDebug
	}
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
		Level: logLevel,
	}))
	slog.SetDefault(logger)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	shutdownTracing, err := tracing.InitTracing(ctx, ver.BuildVersion)
	if err != nil {
		logger.Error("failed to initialize tracing", "error", err)
	} else {
		defer func() {
			if err := shutdownTracing(context.Background()); err != nil {
				logger.Error("error shutting down tracing", "error", err)
			}
		}()
		if endpoint := os.Getenv("OTLP_ENDPOINT"); endpoint != "" {
			logger.Info("OpenTelemetry tracing enabled", "endpoint", endpoint)
		}
	}

	configureOSM()
	p := newPipeline(logger)

	if renderQuery != "" {
		if err := renderToFile(ctx, p, renderQuery, outPath, iconURL); err != nil {
			logger.Error("render failed", "error", err)
			os.Exit(1)
		}
		logger.Info("map written", "path", outPath)
		return
	}

	logger.Info("starting overpass map server",
		"version", ver.BuildVersion,
		"log_level", logLevel.String(),
		"user_agent", osm.GetUserAgent(),
		"nominatim_url", nominatimURL,
		"overpass_url", overpassURL,
		"nominatim_rps", nominatimRPS,
		"nominatim_burst", nominatimBurst,
		"mcp_enabled", enableMCP,
		"mcp_stdio", mcpStdio,
		"monitoring_enabled", enableMonitoring)

	if err := serve(ctx, p, logger); err != nil {
		logger.Error("server error", "error", err)
		os.Exit(1)
	}
	logger.Info("server stopped")
}

func configureOSM() {
	osm.SetUserAgent(userAgent)
	osm.SetNominatimHost(nominatimURL)
	osm.UpdateNominatimRateLimits(nominatimRPS, nominatimBurst)

	if !enableMonitoring {
		return
	}
	osm.SetMonitoringHooks(&osm.MonitoringHooks{
		OnResponse: func(service, operation string, duration time.Duration, success bool) {
			monitoring.RecordExternalServiceRequest(service, operation, duration, success)
		},
		OnRateLimit: func(service string, waitTime time.Duration) {
			monitoring.RecordRateLimitWait(service, waitTime)
		},
		OnError: func(service, errorType string) {
			monitoring.RecordError(service, errorType)
		},
	})
}

func newPipeline(logger *slog.Logger) *pipeline.Pipeline {
	return &pipeline.Pipeline{
		Resolver: geocode.NewResolver(nominatimURL,
			geocode.WithCacheSize(geocodeCacheSize),
			geocode.WithLogger(logger.With("component", "geocode"))),
		Fetcher:       overpass.NewClient(overpassURL, overpass.WithLogger(logger.With("component", "overpass"))),
		Reconstructor: geometry.Reconstructor{SkipDangling: skipDangling},
		Builder:       overpass.NewQueryBuilder().WithTimeout(queryTimeout),
		Logger:        logger.With("component", "pipeline"),
	}
}

// serve runs either the stdio MCP server or the HTTP and metrics servers
// until ctx is canceled.
func serve(ctx context.Context, p *pipeline.Pipeline, logger *slog.Logger) error {
	srv, err := server.NewServer(p, logger)
	if err != nil {
		return fmt.Errorf("create MCP server: %w", err)
	}

	if mcpStdio {
		logger.Info("transport_enabled", "type", "stdio")
		return srv.RunWithContext(ctx)
	}

	config := server.DefaultHTTPTransportConfig()
	config.Addr = httpAddr
	config.BaseURL = httpBaseURL
	config.AuthType = httpAuthType
	config.AuthToken = httpAuthToken
	config.IconURL = iconURL
	config.IconDir = iconDir
	if config.AuthType != server.AuthNone {
		if err := server.ValidateAuthToken(config.AuthToken); err != nil {
			return err
		}
	}

	mcpServer := srv.GetMCPServer()
	if !enableMCP {
		mcpServer = nil
	}
	transport := server.NewHTTPTransport(p, mcpServer, config, logger)

	g, ctx := errgroup.WithContext(ctx)

	if enableMonitoring {
		healthChecker := monitoring.NewHealthChecker(monitoring.ServiceName, ver.BuildVersion)
		defer healthChecker.Shutdown()
		transport.SetHealthChecker(healthChecker)
		stopMonitors := startExternalServiceMonitoring(healthChecker, logger)
		defer stopMonitors()

		mux := http.NewServeMux()
		mux.Handle("/metrics", promhttp.Handler())
		metricsServer := &http.Server{
			Addr:              monitoringAddr,
			Handler:           mux,
			ReadHeaderTimeout: 30 * time.Second,
		}
		g.Go(func() error {
			logger.Info("starting Prometheus metrics server", "addr", monitoringAddr)
			if err := metricsServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return fmt.Errorf("metrics server: %w", err)
			}
			return nil
		})
		g.Go(func() error {
			<-ctx.Done()
			return shutdownWithTimeout(metricsServer.Shutdown)
		})
	}

	g.Go(func() error {
		logger.Info("starting HTTP server", "addr", config.Addr, "mcp", mcpServer != nil)
		return transport.Start()
	})
	g.Go(func() error {
		<-ctx.Done()
		logger.Info("shutdown signal received")
		return shutdownWithTimeout(transport.Shutdown)
	})

	return g.Wait()
}

func shutdownWithTimeout(shutdown func(context.Context) error) error {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	return shutdown(ctx)
}

// startExternalServiceMonitoring polls Nominatim and Overpass and returns a
// function that stops the monitors.
func startExternalServiceMonitoring(healthChecker *monitoring.HealthChecker, logger *slog.Logger) func() {
	monitors := []*monitoring.ConnectionMonitor{
		monitoring.NewConnectionMonitor("nominatim", healthChecker, func() error {
			return osm.CheckNominatimHealth(nominatimURL)
		}, 30*time.Second),
		monitoring.NewConnectionMonitor("overpass", healthChecker, func() error {
			return osm.CheckOverpassHealth(overpassURL)
		}, 30*time.Second),
	}
	for _, m := range monitors {
		m.Start()
	}

	logger.Info("started external service monitoring",
		"services", []string{"nominatim", "overpass"},
		"check_interval", "30s")

	return func() {
		for _, m := range monitors {
			m.Stop()
		}
	}
}
