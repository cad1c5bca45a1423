package tools

import (
	"encoding/json"
	"testing"

	"github.com/mark3labs/mcp-go/mcp"
)

// resultText returns the first text block of a tool result.
func resultText(result *mcp.CallToolResult) string {
	if result == nil {
		return ""
	}
	for _, c := range result.Content {
		if text, ok := c.(mcp.TextContent); ok {
			return text.Text
		}
	}
	return ""
}

func assertError(t *testing.T, result *mcp.CallToolResult, message string) {
	t.Helper()
	if result == nil || !result.IsError {
		t.Errorf("%s, got %s", message, resultText(result))
	}
}

func assertSuccess(t *testing.T, result *mcp.CallToolResult, message string) {
	t.Helper()
	if result == nil {
		t.Fatalf("%s: nil result", message)
	}
	if result.IsError {
		t.Errorf("%s: %s", message, resultText(result))
	}
}

func decodeResult(result *mcp.CallToolResult, out any) error {
	return json.Unmarshal([]byte(resultText(result)), out)
}
