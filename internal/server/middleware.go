package server

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/modelcontextprotocol/go-sdk/mcp"
)

// maxArgLogLen is the maximum length for logged arguments before truncation.
const maxArgLogLen = 200

// slowCallThreshold is the duration above which requests are logged at WARN.
const slowCallThreshold = 5 * time.Second

// LoggingMiddleware logs every MCP request with its timing. Tool calls are
// tagged with the tool name and the dialog or finding they act on. A tool
// that reported a failure in its result is logged at WARN.
func LoggingMiddleware(logger *slog.Logger) mcp.Middleware {
	return func(next mcp.MethodHandler) mcp.MethodHandler {
		return func(ctx context.Context, method string, req mcp.Request) (mcp.Result, error) {
			start := time.Now()
			result, err := next(ctx, method, req)
			duration := time.Since(start)

			attrs := []any{"method", method, "duration_ms", duration.Milliseconds()}
			attrs = append(attrs, requestAttrs(req)...)

			switch {
			case err != nil:
				attrs = append(attrs, "error", err.Error())
				logger.Error("request failed", attrs...)
			case toolFailed(result):
				logger.Warn("tool reported failure", attrs...)
			case duration > slowCallThreshold:
				logger.Warn("slow request", attrs...)
			default:
				logger.Debug("request completed", attrs...)
			}
			return result, err
		}
	}
}

// toolScope holds the ids a tool call may carry in its arguments.
type toolScope struct {
	DialogID  int64 `json:"dialog_id"`
	FindingID int64 `json:"finding_id"`
}

// requestAttrs returns log attributes for req. Tool calls log the tool name and
// scope ids; other requests log their truncated params.
func requestAttrs(req mcp.Request) []any {
	if req == nil {
		return nil
	}
	params := req.GetParams()
	if params == nil {
		return nil
	}

	call, ok := params.(*mcp.CallToolParamsRaw)
	if !ok {
		return []any{"params", truncate(fmt.Sprintf("%+v", params), maxArgLogLen)}
	}

	attrs := []any{"tool", call.Name}
	var scope toolScope
	if len(call.Arguments) > 0 && json.Unmarshal(call.Arguments, &scope) == nil {
		if scope.DialogID != 0 {
			attrs = append(attrs, "dialog_id", scope.DialogID)
		}
		if scope.FindingID != 0 {
			attrs = append(attrs, "finding_id", scope.FindingID)
		}
	}
	if len(call.Arguments) > 0 {
		attrs = append(attrs, "args", truncate(string(call.Arguments), maxArgLogLen))
	}
	return attrs
}

func toolFailed(result mcp.Result) bool {
	r, ok := result.(*mcp.CallToolResult)
	return ok && r != nil && r.IsError
}

// truncate shortens a string to maxLen, adding "..." if truncated.
func truncate(s string, maxLen int) string {
	if len(s) <= maxLen {
		return s
	}
	if maxLen < 3 {
		return s[:maxLen]
	}
	return s[:maxLen-3] + "..."
}
