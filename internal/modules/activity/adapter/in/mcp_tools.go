package in

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"dwell/internal/modules/activity/dto"
	activityin "dwell/internal/modules/activity/port/in"
)

// RegisterMCPTools adds the read-only activity tools.
func RegisterMCPTools(s *server.MCPServer, usecase activityin.Usecase) {
	s.AddTool(todayTool(), todayHandler(usecase))
}

func todayTool() mcp.Tool {
	return mcp.NewTool("today",
		mcp.WithDescription("Time spent per domain for a local day. Defaults to today in the configured timezone."),
		mcp.WithString("date",
			mcp.Description("Local date as YYYY-MM-DD. Omit for today."),
		),
	)
}

func todayHandler(usecase activityin.Usecase) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		out, err := usecase.Today(ctx, dto.DayInput{LocalDate: req.GetString("date", "")})
		if err != nil {
			return mcp.NewToolResultError(err.Error()), nil
		}
		return mcp.NewToolResultText(FormatDay(out)), nil
	}
}

// FormatDay renders a day summary as aligned text.
func FormatDay(out dto.DayOutput) string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "%s total %s\n", out.LocalDate, time.Duration(out.TotalTime)*time.Millisecond)
	if len(out.Aggregates) == 0 {
		sb.WriteString("no activity\n")
		return sb.String()
	}
	for _, a := range out.Aggregates {
		fmt.Fprintf(&sb, "%-32s %-14s %s\n", a.Domain, a.Category, time.Duration(a.TotalTime)*time.Millisecond)
	}
	return sb.String()
}
