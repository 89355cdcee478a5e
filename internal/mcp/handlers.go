// Package mcp exposes the note index over MCP stdio so agents can query
// synced notes, open tasks, and sync history. All tools are read-only;
// sync passes run only through the CLI.
package mcp

import (
	"context"
	"database/sql"
	"encoding/json"
	"time"

	"github.com/mark3labs/mcp-go/mcp"

	"inksync/internal/config"
	"inksync/internal/db"
	"inksync/internal/errors"
)

// Handlers holds dependencies for MCP tool handlers.
type Handlers struct {
	db  *sql.DB
	cfg *config.Config
}

// NewHandlers creates a new Handlers instance.
func NewHandlers(db *sql.DB, cfg *config.Config) *Handlers {
	return &Handlers{db: db, cfg: cfg}
}

// Request types for each tool

// SearchRequest represents the arguments for note_search.
type SearchRequest struct {
	Query string `json:"query"`
	Limit int    `json:"limit,omitempty"`
}

// GetRequest represents the arguments for note_get.
type GetRequest struct {
	ID     string `json:"id,omitempty"`
	FileID string `json:"file_id,omitempty"`
}

// TasksRequest represents the arguments for tasks_open.
type TasksRequest struct {
	Limit int `json:"limit,omitempty"`
}

// HistoryRequest represents the arguments for sync_history.
type HistoryRequest struct {
	Limit int `json:"limit,omitempty"`
}

// Response shapes. Timestamps go out as RFC3339 strings.

type noteResult struct {
	ID          string   `json:"id"`
	FileID      string   `json:"file_id"`
	FileName    string   `json:"file_name"`
	NotePath    string   `json:"note_path"`
	Summary     string   `json:"summary,omitempty"`
	Tags        []string `json:"tags,omitempty"`
	ScannedAt   string   `json:"scanned_at"`
	ProcessedAt string   `json:"processed_at"`
}

type taskResult struct {
	ID        int64  `json:"id"`
	NoteID    string `json:"note_id"`
	Text      string `json:"text"`
	Done      bool   `json:"done"`
	CreatedAt string `json:"created_at"`
}

type runResult struct {
	ID         string            `json:"id"`
	StartedAt  string            `json:"started_at"`
	FinishedAt string            `json:"finished_at"`
	Listed     int               `json:"listed"`
	Skipped    int               `json:"skipped"`
	Succeeded  int               `json:"succeeded"`
	Failed     int               `json:"failed"`
	Deleted    int               `json:"deleted"`
	Failures   map[string]string `json:"failures,omitempty"`
}

func toNoteResult(n *db.Note) noteResult {
	return noteResult{
		ID:          n.ID,
		FileID:      n.FileID,
		FileName:    n.FileName,
		NotePath:    n.NotePath,
		Summary:     n.Summary,
		Tags:        n.Tags,
		ScannedAt:   formatUnix(n.ScannedAt),
		ProcessedAt: formatUnix(n.ProcessedAt),
	}
}

func toRunResult(r *db.Run) runResult {
	return runResult{
		ID:         r.ID,
		StartedAt:  formatUnix(r.StartedAt),
		FinishedAt: formatUnix(r.FinishedAt),
		Listed:     r.Listed,
		Skipped:    r.Skipped,
		Succeeded:  r.Succeeded,
		Failed:     r.Failed,
		Deleted:    r.Deleted,
		Failures:   r.Failures,
	}
}

func formatUnix(secs int64) string {
	return time.Unix(secs, 0).UTC().Format(time.RFC3339)
}

// Handler implementations

// HandleSearch handles the note_search tool call.
func (h *Handlers) HandleSearch(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	input, err := decode[SearchRequest](req)
	if err != nil {
		return errorResult(errors.NewInvalidRequest(err.Error())), nil
	}
	if input.Query == "" {
		return errorResult(errors.NewInvalidRequest("query is required")), nil
	}

	notes, err := db.SearchNotes(h.db, input.Query, input.Limit)
	if err != nil {
		return errorResult(err), nil
	}

	results := make([]noteResult, len(notes))
	for i, n := range notes {
		results[i] = toNoteResult(n)
	}
	return successResult(map[string]any{"notes": results, "count": len(results)})
}

// HandleGet handles the note_get tool call.
func (h *Handlers) HandleGet(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	input, err := decode[GetRequest](req)
	if err != nil {
		return errorResult(errors.NewInvalidRequest(err.Error())), nil
	}

	var note *db.Note
	switch {
	case input.ID != "":
		note, err = db.GetNote(h.db, input.ID)
	case input.FileID != "":
		note, err = db.GetNoteByFileID(h.db, input.FileID)
	default:
		return errorResult(errors.NewInvalidRequest("id or file_id is required")), nil
	}
	if err != nil {
		return errorResult(err), nil
	}

	return successResult(toNoteResult(note))
}

// HandleTasksOpen handles the tasks_open tool call.
func (h *Handlers) HandleTasksOpen(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	input, err := decode[TasksRequest](req)
	if err != nil {
		return errorResult(errors.NewInvalidRequest(err.Error())), nil
	}

	tasks, err := db.OpenTasks(h.db, input.Limit)
	if err != nil {
		return errorResult(err), nil
	}

	results := make([]taskResult, len(tasks))
	for i, task := range tasks {
		results[i] = taskResult{
			ID:        task.ID,
			NoteID:    task.NoteID,
			Text:      task.Text,
			Done:      task.Done,
			CreatedAt: formatUnix(task.CreatedAt),
		}
	}
	return successResult(map[string]any{"tasks": results, "count": len(results)})
}

// HandleStatus handles the sync_status tool call. Alongside the latest
// run it reports the sync settings in effect, so a client can tell
// which folder is monitored and whether the retention sweep is armed.
func (h *Handlers) HandleStatus(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	run, err := db.LatestRun(h.db)
	if err != nil {
		return errorResult(err), nil
	}
	return successResult(map[string]any{
		"run":            toRunResult(run),
		"drive_folder":   h.cfg.DriveFolder,
		"retention_days": h.cfg.RetentionDays,
	})
}

// HandleHistory handles the sync_history tool call.
func (h *Handlers) HandleHistory(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	input, err := decode[HistoryRequest](req)
	if err != nil {
		return errorResult(errors.NewInvalidRequest(err.Error())), nil
	}

	runs, err := db.ListRuns(h.db, input.Limit)
	if err != nil {
		return errorResult(err), nil
	}

	results := make([]runResult, len(runs))
	for i, r := range runs {
		results[i] = toRunResult(r)
	}
	return successResult(map[string]any{"runs": results, "count": len(results)})
}

// Result helpers

// errorResult creates an MCP error result from any error.
// Uses IsError: true so MCP clients recognize failures properly.
// Note: Internal error details are not exposed to prevent leaking sensitive info.
func errorResult(err error) *mcp.CallToolResult {
	var payload map[string]any

	if syncErr, ok := err.(*errors.SyncError); ok {
		errorObj := map[string]any{
			"code":    syncErr.Code,
			"message": syncErr.Message,
			"status":  syncErr.Status,
		}
		// Only include details for non-internal errors to avoid leaking
		// sensitive info like file paths or SQL errors
		if syncErr.Code != errors.ErrInternal && syncErr.Details != nil {
			errorObj["details"] = syncErr.Details
		}
		payload = map[string]any{"error": errorObj}
	} else {
		payload = map[string]any{
			"error": map[string]any{
				"code":    "INTERNAL",
				"message": "an internal error occurred",
				"status":  500,
			},
		}
	}

	content, _ := json.Marshal(payload)
	return &mcp.CallToolResult{
		Content: []mcp.Content{mcp.TextContent{Type: "text", Text: string(content)}},
		IsError: true,
	}
}

// successResult creates an MCP success result from any data.
func successResult(data any) (*mcp.CallToolResult, error) {
	return mcp.NewToolResultJSON(data)
}
