package tools

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"

	"github.com/mark3labs/mcp-go/mcp"
	mcpserver "github.com/mark3labs/mcp-go/server"
	"github.com/prometheus/client_golang/prometheus/testutil"

	"github.com/NERVsystems/overpassmap/pkg/monitoring"
	"github.com/NERVsystems/overpassmap/pkg/version"
)

func TestGetToolNames(t *testing.T) {
	r := NewRegistry(nil, nil)
	want := []string{"get_version", "overpass_map", "overpass_query", "resolve_area"}

	got := r.GetToolNames()
	if len(got) != len(want) {
		t.Fatalf("GetToolNames() = %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("tool %d = %q, want %q", i, got[i], want[i])
		}
	}

	for _, def := range r.GetToolDefinitions() {
		if def.Tool.Name != def.Name {
			t.Errorf("definition %q wraps tool %q", def.Name, def.Tool.Name)
		}
		if def.Handler == nil {
			t.Errorf("definition %q has no handler", def.Name)
		}
	}
}

func TestRegisterAll(t *testing.T) {
	srv := mcpserver.NewMCPServer("test-server", "1.0.0", mcpserver.WithToolCapabilities(false))
	r := NewRegistry(slog.New(slog.NewTextHandler(io.Discard, nil)), nil)

	// AddTool panics on malformed definitions.
	r.RegisterAll(srv)
}

func TestHandleGetVersion(t *testing.T) {
	result, err := HandleGetVersion(context.Background(), newRequest("get_version", nil))
	if err != nil {
		t.Fatalf("HandleGetVersion: %v", err)
	}
	assertSuccess(t, result, "get_version should succeed")

	var info VersionInfo
	if err := decodeResult(result, &info); err != nil {
		t.Fatalf("parse result: %v", err)
	}
	if info.Version != version.BuildVersion {
		t.Errorf("Version = %q, want %q", info.Version, version.BuildVersion)
	}
	if info.GoVersion == "" {
		t.Error("GoVersion is empty")
	}
}

func TestWrapWithTracingRecordsOutcome(t *testing.T) {
	monitoring.MCPRequestsTotal.Reset()
	r := NewRegistry(slog.New(slog.NewTextHandler(io.Discard, nil)), nil)

	tests := []struct {
		name    string
		handler func(context.Context, mcp.CallToolRequest) (*mcp.CallToolResult, error)
		status  string
		wantErr bool
	}{
		{
			name: "ok",
			handler: func(context.Context, mcp.CallToolRequest) (*mcp.CallToolResult, error) {
				return mcp.NewToolResultText("{}"), nil
			},
			status: "success",
		},
		{
			name: "error result",
			handler: func(context.Context, mcp.CallToolRequest) (*mcp.CallToolResult, error) {
				return ErrorResponse("bad input"), nil
			},
			status: "error",
		},
		{
			name: "handler error",
			handler: func(context.Context, mcp.CallToolRequest) (*mcp.CallToolResult, error) {
				return nil, errors.New("boom")
			},
			status:  "error",
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tool := "test_" + tt.name
			_, err := r.wrapWithTracing(tool, tt.handler)(context.Background(), newRequest(tool, nil))
			if (err != nil) != tt.wantErr {
				t.Fatalf("err = %v, wantErr %v", err, tt.wantErr)
			}
			if got := testutil.ToFloat64(monitoring.MCPRequestsTotal.WithLabelValues(tool, tt.status)); got != 1 {
				t.Errorf("%s/%s count = %v, want 1", tool, tt.status, got)
			}
		})
	}
}
