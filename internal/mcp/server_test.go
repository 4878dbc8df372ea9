package mcp

import (
	"context"
	"encoding/json"
	"path/filepath"
	"strings"
	"testing"

	"github.com/mark3labs/mcp-go/mcp"

	"github.com/tkhr/chronicle/internal/artifact"
	"github.com/tkhr/chronicle/internal/task"
)

func newTestDeps(t *testing.T) (Deps, *task.Store, artifact.Layout) {
	t.Helper()
	layout := artifact.NewLayout(t.TempDir())
	if err := layout.EnsureDirs(); err != nil {
		t.Fatal(err)
	}
	store := task.NewStore(filepath.Join(t.TempDir(), "tasks.json"))
	return Deps{Layout: layout, Tasks: store}, store, layout
}

func toolText(t *testing.T, result *mcp.CallToolResult) string {
	t.Helper()
	if len(result.Content) == 0 {
		t.Fatal("no content in result")
	}
	tc, ok := result.Content[0].(mcp.TextContent)
	if !ok {
		t.Fatalf("expected TextContent, got %T", result.Content[0])
	}
	return tc.Text
}

func makeCallToolRequest(name string, args map[string]interface{}) mcp.CallToolRequest {
	return mcp.CallToolRequest{
		Params: mcp.CallToolParams{
			Name:      name,
			Arguments: args,
		},
	}
}

func TestMCPTool_ListEntries(t *testing.T) {
	deps, _, layout := newTestDeps(t)
	handler := mcpListEntries(deps)

	if err := artifact.WriteFile(layout.SummaryPath("20250101"), []byte("summary")); err != nil {
		t.Fatal(err)
	}
	if err := artifact.WriteFile(layout.ChapterPath("20250101"), []byte("chapter")); err != nil {
		t.Fatal(err)
	}

	result, err := handler(context.Background(), makeCallToolRequest("list_entries", nil))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if result.IsError {
		t.Fatalf("unexpected tool error: %s", toolText(t, result))
	}

	var entries []struct {
		Date       string `json:"date"`
		HasChapter bool   `json:"has_chapter"`
		HasPhoto   bool   `json:"has_photo"`
	}
	if err := json.Unmarshal([]byte(toolText(t, result)), &entries); err != nil {
		t.Fatal(err)
	}
	if len(entries) != 1 {
		t.Fatalf("entries = %d, want 1", len(entries))
	}
	if entries[0].Date != "20250101" || !entries[0].HasChapter || entries[0].HasPhoto {
		t.Fatalf("entry = %+v", entries[0])
	}
}

func TestMCPTool_ReadEntry(t *testing.T) {
	deps, _, layout := newTestDeps(t)
	handler := mcpReadEntry(deps)

	if err := artifact.WriteFile(layout.SummaryPath("20250102"), []byte("a quiet day")); err != nil {
		t.Fatal(err)
	}

	result, err := handler(context.Background(), makeCallToolRequest("read_entry", map[string]interface{}{
		"date": "20250102",
	}))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if result.IsError {
		t.Fatalf("unexpected tool error: %s", toolText(t, result))
	}

	var entry map[string]string
	if err := json.Unmarshal([]byte(toolText(t, result)), &entry); err != nil {
		t.Fatal(err)
	}
	if entry["summary"] != "a quiet day" {
		t.Fatalf("summary = %q", entry["summary"])
	}
}

func TestMCPTool_ReadEntryValidation(t *testing.T) {
	deps, _, _ := newTestDeps(t)
	handler := mcpReadEntry(deps)

	result, err := handler(context.Background(), makeCallToolRequest("read_entry", map[string]interface{}{
		"date": "not-a-date",
	}))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !result.IsError {
		t.Fatal("expected tool error for malformed date")
	}

	result, err = handler(context.Background(), makeCallToolRequest("read_entry", map[string]interface{}{
		"date": "20990101",
	}))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !result.IsError {
		t.Fatal("expected tool error for missing entry")
	}
}

func TestMCPTool_PipelineStatus(t *testing.T) {
	deps, store, _ := newTestDeps(t)
	handler := mcpPipelineStatus(deps)

	added, err := store.Add(task.Task{Type: task.TypeProcessSession, FilePaths: []string{"a.wav"}})
	if err != nil {
		t.Fatal(err)
	}
	if err := store.UpdateStatus(added.ID, task.StatusFailed, "transcribing a.wav: connection refused"); err != nil {
		t.Fatal(err)
	}

	result, err := handler(context.Background(), makeCallToolRequest("pipeline_status", nil))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if result.IsError {
		t.Fatalf("unexpected tool error: %s", toolText(t, result))
	}

	text := toolText(t, result)
	if !strings.Contains(text, "connection refused") {
		t.Fatalf("status lacks failure detail: %s", text)
	}

	var got struct {
		TaskCounts map[string]int `json:"task_counts"`
	}
	if err := json.Unmarshal([]byte(text), &got); err != nil {
		t.Fatal(err)
	}
	if got.TaskCounts[task.StatusFailed] != 1 {
		t.Fatalf("task counts = %v", got.TaskCounts)
	}
}
