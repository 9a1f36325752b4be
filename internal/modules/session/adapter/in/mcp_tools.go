package in

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	sessiondto "dwell/internal/modules/session/dto"
	sessionin "dwell/internal/modules/session/port/in"
	apperrors "dwell/internal/platform/errors"
)

// RegisterMCPTools adds the read-only session tools.
func RegisterMCPTools(s *server.MCPServer, usecase sessionin.Usecase) {
	s.AddTool(activeSessionTool(), activeSessionHandler(usecase))
	s.AddTool(sessionHistoryTool(), sessionHistoryHandler(usecase))
}

func activeSessionTool() mcp.Tool {
	return mcp.NewTool("active_session",
		mcp.WithDescription("Show the current focus or problem-solving session, if any."),
	)
}

func activeSessionHandler(usecase sessionin.Usecase) server.ToolHandlerFunc {
	return func(ctx context.Context, _ mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		out, err := usecase.Active(ctx)
		if errors.Is(err, apperrors.ErrNoActiveSession) {
			return mcp.NewToolResultText("No active session."), nil
		}
		if err != nil {
			return mcp.NewToolResultError(err.Error()), nil
		}
		return mcp.NewToolResultText(FormatSession(out)), nil
	}
}

func sessionHistoryTool() mcp.Tool {
	return mcp.NewTool("session_history",
		mcp.WithDescription("List recent sessions, newest first."),
		mcp.WithNumber("limit",
			mcp.Description("Maximum number of sessions. Defaults to 10."),
		),
	)
}

func sessionHistoryHandler(usecase sessionin.Usecase) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		records, err := usecase.History(ctx, req.GetInt("limit", 10))
		if err != nil {
			return mcp.NewToolResultError(err.Error()), nil
		}
		if len(records) == 0 {
			return mcp.NewToolResultText("No sessions."), nil
		}
		var sb strings.Builder
		for _, r := range records {
			sb.WriteString(FormatSession(r))
		}
		return mcp.NewToolResultText(sb.String()), nil
	}
}

// FormatSession renders one session as a single line.
func FormatSession(out sessiondto.SessionOutput) string {
	remote := out.SessionID
	if remote == "" {
		remote = "unsynced"
	}
	started := time.UnixMilli(out.StartTime).UTC().Format(time.RFC3339)
	line := fmt.Sprintf("%s  %-8s %-11s started %s elapsed %s", out.LocalID, out.Type, out.Status, started, out.Elapsed.Round(time.Second))
	if out.Remaining > 0 {
		line += fmt.Sprintf(" remaining %s", out.Remaining.Round(time.Second))
	}
	return line + "  [" + remote + "]\n"
}
