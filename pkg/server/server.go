// Package server exposes the overpass map pipeline over HTTP and MCP.
package server

import (
	"context"
	"io"
	"log/slog"
	"sync"
	"sync/atomic"

	mcpserver "github.com/mark3labs/mcp-go/server"

	"github.com/NERVsystems/overpassmap/pkg/monitoring"
	"github.com/NERVsystems/overpassmap/pkg/pipeline"
	"github.com/NERVsystems/overpassmap/pkg/tools"
	"github.com/NERVsystems/overpassmap/pkg/version"
)

// ServerName is the name of the MCP server
const ServerName = "overpassmap"

// activeSessions counts MCP client sessions across all servers in the process.
var activeSessions atomic.Int64

// sessionHooks keeps the active connection gauge in step with session
// registration on any transport.
func sessionHooks(logger *slog.Logger) *mcpserver.Hooks {
	hooks := &mcpserver.Hooks{}
	hooks.AddOnRegisterSession(func(ctx context.Context, session mcpserver.ClientSession) {
		n := activeSessions.Add(1)
		monitoring.UpdateActiveConnections("mcp", "session", int(n))
		logger.Debug("mcp session registered", "session_id", session.SessionID(), "active", n)
	})
	hooks.AddOnUnregisterSession(func(ctx context.Context, session mcpserver.ClientSession) {
		n := activeSessions.Add(-1)
		monitoring.UpdateActiveConnections("mcp", "session", int(n))
		logger.Debug("mcp session unregistered", "session_id", session.SessionID(), "active", n)
	})
	return hooks
}

// Server encapsulates the MCP server with the overpass map tools.
type Server struct {
	srv          *mcpserver.MCPServer
	logger       *slog.Logger
	stopCh       chan struct{}
	doneCh       chan struct{}
	running      bool
	mu           sync.Mutex
	once         sync.Once // stopCh is closed once
	ctxCancel    context.CancelFunc
	ctxGoroutine sync.Once // one context watcher per server
}

// NewServer creates an MCP server whose tools run on p.
func NewServer(p *pipeline.Pipeline, logger *slog.Logger) (*Server, error) {
	if logger == nil {
		logger = slog.Default()
	}
	logger.Info("initializing MCP server",
		"name", ServerName,
		"version", version.BuildVersion)

	srv := mcpserver.NewMCPServer(
		ServerName,
		version.BuildVersion,
		mcpserver.WithToolCapabilities(false),
		mcpserver.WithRecovery(),
		mcpserver.WithHooks(sessionHooks(logger)),
	)

	tools.NewRegistry(logger, p).RegisterAll(srv)

	return &Server{
		srv:    srv,
		logger: logger,
		stopCh: make(chan struct{}),
		doneCh: make(chan struct{}),
	}, nil
}

// Run serves MCP over stdin/stdout and blocks until the server is stopped
// or stdin is closed.
func (s *Server) Run() error {
	s.mu.Lock()
	if s.running {
		s.mu.Unlock()
		return nil
	}
	s.running = true
	s.mu.Unlock()

	go func() {
		defer close(s.doneCh)
		err := mcpserver.ServeStdio(s.srv)
		if err != nil && err != io.EOF {
			s.logger.Error("server error", "error", err)
		}
		s.Shutdown()
	}()

	<-s.stopCh

	s.mu.Lock()
	s.running = false
	s.mu.Unlock()

	<-s.doneCh
	return nil
}

// RunWithContext runs the server until ctx is canceled.
func (s *Server) RunWithContext(ctx context.Context) error {
	s.ctxGoroutine.Do(func() {
		derived, cancel := context.WithCancel(ctx)
		s.ctxCancel = cancel

		go func() {
			select {
			case <-derived.Done():
				s.Shutdown()
			case <-s.stopCh:
			}
		}()
	})

	return s.Run()
}

// Shutdown initiates a graceful shutdown of the server.
// It does not block and returns immediately.
func (s *Server) Shutdown() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.running {
		return
	}

	s.once.Do(func() {
		close(s.stopCh)
	})

	if s.ctxCancel != nil {
		s.ctxCancel()
	}
}

// WaitForShutdown blocks until the server has fully shut down.
func (s *Server) WaitForShutdown() {
	<-s.doneCh
}

// GetMCPServer returns the underlying MCP server instance for HTTP transport
func (s *Server) GetMCPServer() *mcpserver.MCPServer {
	return s.srv
}
