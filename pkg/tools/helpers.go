// Package tools exposes the overpass map pipeline as MCP tools.
package tools

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"

	"github.com/mark3labs/mcp-go/mcp"

	"github.com/NERVsystems/overpassmap/pkg/core"
)

// ErrorResponse builds an error result from a plain message.
func ErrorResponse(message string) *mcp.CallToolResult {
	return core.NewError(core.ErrInvalidInput, message).ToMCPResult()
}

// InputParser is a generic function to parse request arguments into a strongly typed struct
func InputParser[T any](req mcp.CallToolRequest) (T, *mcp.CallToolResult, error) {
	var input T

	inputJSON, err := json.Marshal(req.Params.Arguments)
	if err != nil {
		return input, ErrorResponse(fmt.Sprintf("Invalid input format: %v", err)), err
	}

	if err := json.Unmarshal(inputJSON, &input); err != nil {
		return input, ErrorResponse(fmt.Sprintf("Failed to parse input: %v", err)), err
	}

	return input, nil, nil
}

// WithParsedInput is a higher-order function that handles request parsing and error handling.
// Errors carrying a core.Error are returned with their code and guidance intact.
func WithParsedInput[T any](
	handlerName string,
	handler func(ctx context.Context, input T, logger *slog.Logger) (interface{}, error),
) func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		logger := slog.Default().With("tool", handlerName)

		input, errResult, err := InputParser[T](req)
		if err != nil {
			logger.Error("failed to parse input", "error", err)
			return errResult, nil
		}

		result, err := handler(ctx, input, logger)
		if err != nil {
			var e *core.Error
			if errors.As(err, &e) {
				logger.Info("tool returned error", "code", e.Code, "error", err)
				return e.ToMCPResult(), nil
			}
			logger.Error("handler error", "error", err)
			return core.NewError(core.ErrInternalError, fmt.Sprintf("Failed to process request: %v", err)).ToMCPResult(), nil
		}

		resultBytes, err := json.Marshal(result)
		if err != nil {
			logger.Error("failed to marshal result", "error", err)
			return core.NewError(core.ErrInternalError, "Failed to generate result").ToMCPResult(), nil
		}

		return mcp.NewToolResultText(string(resultBytes)), nil
	}
}
