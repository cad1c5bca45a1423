package tools

import (
	"context"
	"log/slog"

	"github.com/mark3labs/mcp-go/mcp"

	"github.com/NERVsystems/overpassmap/pkg/version"
)

// VersionInfo represents version information for the service
type VersionInfo struct {
	Version   string `json:"version"`
	GoVersion string `json:"go_version,omitempty"`
	Commit    string `json:"commit,omitempty"`
	BuildDate string `json:"build_date,omitempty"`
}

// GetVersionTool returns a tool definition for retrieving version information
func GetVersionTool() mcp.Tool {
	return mcp.NewTool("get_version",
		mcp.WithDescription("Get the version and build information of the overpass map service"),
	)
}

func getVersion(ctx context.Context, _ struct{}, _ *slog.Logger) (interface{}, error) {
	info := version.Info()
	return VersionInfo{
		Version:   info["version"],
		GoVersion: info["go_version"],
		Commit:    info["commit"],
		BuildDate: info["build_date"],
	}, nil
}

// HandleGetVersion implements version information retrieval
var HandleGetVersion = WithParsedInput[struct{}]("get_version", getVersion)
