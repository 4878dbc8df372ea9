// Package mcp exposes the diary over the Model Context Protocol so an
// assistant can browse entries and check pipeline health. The server
// is read-only; all writes stay with the daemon loop.
package mcp

import (
	"context"
	"encoding/json"
	"fmt"
	"os"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/tkhr/chronicle/internal/artifact"
	"github.com/tkhr/chronicle/internal/task"
)

// TaskLister is the read side of the task queue.
type TaskLister interface {
	All() ([]task.Task, error)
}

type Deps struct {
	Layout artifact.Layout
	Tasks  TaskLister
}

// NewServer creates an MCP server with the chronicle tools registered.
func NewServer(deps Deps) *server.MCPServer {
	s := server.NewMCPServer(
		"chronicle",
		"1.0.0",
		server.WithToolCapabilities(true),
		server.WithInstructions("chronicle — automated diary built from recorded sessions: daily summaries, narrative chapters, and illustrations."),
		server.WithRecovery(),
	)

	s.AddTool(
		mcp.NewTool("list_entries",
			mcp.WithDescription("List diary dates and which artifacts (summary, chapter, photo) each has."),
		),
		mcpListEntries(deps),
	)

	s.AddTool(
		mcp.NewTool("read_entry",
			mcp.WithDescription("Read the summary and narrative chapter for one diary date."),
			mcp.WithString("date", mcp.Description("Date key in YYYYMMDD form"), mcp.Required()),
		),
		mcpReadEntry(deps),
	)

	s.AddTool(
		mcp.NewTool("pipeline_status",
			mcp.WithDescription("Report task queue counts and any failed tasks with their errors."),
		),
		mcpPipelineStatus(deps),
	)

	return s
}

// ServeStdio blocks serving the MCP protocol on stdin/stdout.
func ServeStdio(s *server.MCPServer) error {
	return server.ServeStdio(s)
}

func mcpListEntries(deps Deps) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		dates, err := deps.Layout.SummaryDates()
		if err != nil {
			return mcpError(fmt.Sprintf("failed to list entries: %v", err)), nil
		}

		type entry struct {
			Date       string `json:"date"`
			HasSummary bool   `json:"has_summary"`
			HasChapter bool   `json:"has_chapter"`
			HasPhoto   bool   `json:"has_photo"`
		}

		entries := make([]entry, len(dates))
		for i, d := range dates {
			entries[i] = entry{
				Date:       d,
				HasSummary: true,
				HasChapter: artifact.Exists(deps.Layout.ChapterPath(d)),
				HasPhoto:   artifact.Exists(deps.Layout.PhotoPath(d)),
			}
		}

		b, err := json.Marshal(entries)
		if err != nil {
			return mcpError(fmt.Sprintf("failed to marshal entries: %v", err)), nil
		}
		return mcpText(string(b)), nil
	}
}

func mcpReadEntry(deps Deps) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		date, err := req.RequireString("date")
		if err != nil {
			return mcpError("date is required"), nil
		}
		if !artifact.IsDateKey(date) {
			return mcpError("date must be YYYYMMDD"), nil
		}

		out := map[string]string{"date": date}
		if data, err := os.ReadFile(deps.Layout.SummaryPath(date)); err == nil {
			out["summary"] = string(data)
		}
		if data, err := os.ReadFile(deps.Layout.ChapterPath(date)); err == nil {
			out["chapter"] = string(data)
		}
		if len(out) == 1 {
			return mcpError(fmt.Sprintf("no entry for %s", date)), nil
		}

		b, err := json.Marshal(out)
		if err != nil {
			return mcpError(fmt.Sprintf("failed to marshal entry: %v", err)), nil
		}
		return mcpText(string(b)), nil
	}
}

func mcpPipelineStatus(deps Deps) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		tasks, err := deps.Tasks.All()
		if err != nil {
			return mcpError(fmt.Sprintf("failed to list tasks: %v", err)), nil
		}

		type failedTask struct {
			ID    string `json:"id"`
			Type  string `json:"type"`
			Error string `json:"error"`
		}
		counts := map[string]int{}
		var failed []failedTask
		for _, t := range tasks {
			counts[t.Status]++
			if t.Status == task.StatusFailed {
				failed = append(failed, failedTask{ID: t.ID, Type: t.Type, Error: t.Error})
			}
		}

		b, err := json.Marshal(map[string]any{
			"task_counts": counts,
			"failed":      failed,
		})
		if err != nil {
			return mcpError(fmt.Sprintf("failed to marshal status: %v", err)), nil
		}
		return mcpText(string(b)), nil
	}
}

func mcpText(text string) *mcp.CallToolResult {
	return &mcp.CallToolResult{
		Content: []mcp.Content{
			mcp.TextContent{Type: "text", Text: text},
		},
	}
}

func mcpError(msg string) *mcp.CallToolResult {
	return &mcp.CallToolResult{
		Content: []mcp.Content{
			mcp.TextContent{Type: "text", Text: msg},
		},
		IsError: true,
	}
}
