package in

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"dwell/internal/modules/syncer/dto"
	syncerin "dwell/internal/modules/syncer/port/in"
)

// RegisterMCPTools adds the sync tools.
func RegisterMCPTools(s *server.MCPServer, usecase syncerin.Usecase) {
	s.AddTool(syncStatusTool(), syncStatusHandler(usecase))
	s.AddTool(syncNowTool(), syncNowHandler(usecase))
}

func syncStatusTool() mcp.Tool {
	return mcp.NewTool("sync_status",
		mcp.WithDescription("Show whether the recorder daemon is running and how the last sync went."),
	)
}

func syncStatusHandler(usecase syncerin.Usecase) server.ToolHandlerFunc {
	return func(ctx context.Context, _ mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		status, err := usecase.Status(ctx)
		if err != nil {
			return mcp.NewToolResultError(err.Error()), nil
		}
		return mcp.NewToolResultText(FormatStatus(status)), nil
	}
}

func syncNowTool() mcp.Tool {
	return mcp.NewTool("sync_now",
		mcp.WithDescription("Send buffered activity and session changes to the server now."),
	)
}

func syncNowHandler(usecase syncerin.Usecase) server.ToolHandlerFunc {
	return func(ctx context.Context, _ mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		result, err := usecase.SyncNow(ctx)
		text := FormatResult(result)
		if err != nil {
			return mcp.NewToolResultError(text + err.Error()), nil
		}
		return mcp.NewToolResultText(text), nil
	}
}

// FormatResult renders one dispatch summary.
func FormatResult(r dto.Result) string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "intervals: %d synced, %d failed, %d dropped, %d deferred, %d duplicate\n",
		r.Synced, r.Failed, r.Dropped, r.Deferred, r.Suppressed)
	fmt.Fprintf(&sb, "sessions: %d synced, %d failed, %d dropped, %d deferred\n",
		r.Sessions, r.SessionsFailed, r.SessionsDropped, r.SessionsDeferred)
	for _, id := range r.Conflicts {
		fmt.Fprintf(&sb, "interrupted %s: another session is active on the server\n", id)
	}
	return sb.String()
}

func FormatStatus(s dto.DaemonStatus) string {
	var sb strings.Builder
	if s.Online {
		fmt.Fprintf(&sb, "daemon: running (pid %d, since %s)\n", s.PID, stamp(s.StartedAt))
	} else {
		sb.WriteString("daemon: not running\n")
	}
	if s.CurrentDomain != "" {
		fmt.Fprintf(&sb, "recording: %s since %s\n", s.CurrentDomain, stamp(s.CurrentSince))
	}
	if s.Sync.Runs == 0 {
		sb.WriteString("last sync: never\n")
		return sb.String()
	}
	fmt.Fprintf(&sb, "last sync: %s\n", stamp(s.Sync.LastRunAt))
	sb.WriteString(FormatResult(s.Sync.LastResult))
	if s.Sync.BackingOff > 0 {
		fmt.Fprintf(&sb, "backing off: %d, next retry %s\n", s.Sync.BackingOff, stamp(s.Sync.NextRetry))
	}
	if s.Sync.LastError != "" {
		fmt.Fprintf(&sb, "error: %s\n", s.Sync.LastError)
	}
	return sb.String()
}

func stamp(ms int64) string {
	if ms == 0 {
		return "-"
	}
	return time.UnixMilli(ms).Local().Format(time.DateTime)
}
