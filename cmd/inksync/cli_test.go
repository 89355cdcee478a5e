package main

import (
	"bytes"
	"database/sql"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/urfave/cli/v2"

	"inksync/internal/config"
	"inksync/internal/db"
	syncer "inksync/internal/sync"
)

// setupTestDB creates a temporary database for testing.
func setupTestDB(t *testing.T) (*sql.DB, func()) {
	t.Helper()
	tmpDir := t.TempDir()
	database, err := db.Init(tmpDir)
	if err != nil {
		t.Fatalf("failed to init test db: %v", err)
	}
	cleanup := func() {
		database.Close()
	}
	return database, cleanup
}

// testConfig returns a config with paths rooted in a temp dir.
func testConfig(t *testing.T) *config.Config {
	t.Helper()
	tmpDir := t.TempDir()
	cfg := config.DefaultConfig()
	cfg.VaultPath = filepath.Join(tmpDir, "vault")
	cfg.TempDir = filepath.Join(tmpDir, "tmp")
	cfg.ProcessedPath = filepath.Join(tmpDir, "processed.txt")
	return cfg
}

// runApp runs the CLI app with stdout captured.
func runApp(t *testing.T, app *cli.App, args ...string) (string, error) {
	t.Helper()

	oldStdout := os.Stdout
	r, w, err := os.Pipe()
	if err != nil {
		t.Fatalf("failed to create pipe: %v", err)
	}
	os.Stdout = w

	runErr := app.Run(append([]string{"inksync"}, args...))

	w.Close()
	var buf bytes.Buffer
	_, _ = buf.ReadFrom(r)
	os.Stdout = oldStdout

	return buf.String(), runErr
}

func seedRun(t *testing.T, database *sql.DB, id string, startedAt int64, failures map[string]string) {
	t.Helper()
	err := db.InsertRun(database, &db.Run{
		ID:         id,
		StartedAt:  startedAt,
		FinishedAt: startedAt + 30,
		Listed:     4,
		Skipped:    1,
		Succeeded:  2,
		Failed:     len(failures),
		Deleted:    1,
		Failures:   failures,
	})
	if err != nil {
		t.Fatalf("failed to seed run: %v", err)
	}
}

func seedNote(t *testing.T, database *sql.DB, id, fileID, summary string) {
	t.Helper()
	err := db.InsertNote(database, &db.Note{
		ID:          id,
		FileID:      fileID,
		FileName:    fileID + ".pdf",
		NotePath:    "/vault/" + id + ".md",
		Summary:     summary,
		Tags:        []string{"test"},
		ScannedAt:   1755680000,
		ProcessedAt: 1755680100,
	})
	if err != nil {
		t.Fatalf("failed to seed note: %v", err)
	}
}

// TestCLIStatus tests the status command.
func TestCLIStatus(t *testing.T) {
	database, cleanup := setupTestDB(t)
	defer cleanup()

	seedRun(t, database, "run-1", 1755680000, nil)
	seedRun(t, database, "run-2", 1755683600, map[string]string{"drive-9": "download timed out"})

	app := newCLIApp(database, testConfig(t), t.TempDir())

	out, err := runApp(t, app, "status")
	if err != nil {
		t.Fatalf("status command failed: %v", err)
	}

	var output runOutput
	if err := json.Unmarshal([]byte(out), &output); err != nil {
		t.Fatalf("failed to parse output: %v\nOutput: %s", err, out)
	}
	if output.ID != "run-2" {
		t.Errorf("expected latest run run-2, got %s", output.ID)
	}
	if output.Failures["drive-9"] != "download timed out" {
		t.Errorf("expected failure reason, got %v", output.Failures)
	}
}

// TestCLIStatusEmpty tests status with no recorded runs.
func TestCLIStatusEmpty(t *testing.T) {
	database, cleanup := setupTestDB(t)
	defer cleanup()

	app := newCLIApp(database, testConfig(t), t.TempDir())

	if _, err := runApp(t, app, "status"); err == nil {
		t.Error("expected error when no runs recorded, got nil")
	}
}

// TestCLIHistory tests the history command.
func TestCLIHistory(t *testing.T) {
	database, cleanup := setupTestDB(t)
	defer cleanup()

	seedRun(t, database, "run-1", 1755680000, nil)
	seedRun(t, database, "run-2", 1755683600, nil)
	seedRun(t, database, "run-3", 1755687200, nil)

	app := newCLIApp(database, testConfig(t), t.TempDir())

	out, err := runApp(t, app, "history", "--limit=2")
	if err != nil {
		t.Fatalf("history command failed: %v", err)
	}

	var output struct {
		Runs  []runOutput `json:"runs"`
		Count int         `json:"count"`
	}
	if err := json.Unmarshal([]byte(out), &output); err != nil {
		t.Fatalf("failed to parse output: %v", err)
	}
	if output.Count != 2 {
		t.Errorf("expected count=2, got %d", output.Count)
	}
	if len(output.Runs) != 2 || output.Runs[0].ID != "run-3" {
		t.Errorf("expected newest-first runs, got %+v", output.Runs)
	}
}

// TestCLISearch tests the search command.
func TestCLISearch(t *testing.T) {
	database, cleanup := setupTestDB(t)
	defer cleanup()

	seedNote(t, database, "note-1", "drive-1", "Kitchen renovation planning")
	seedNote(t, database, "note-2", "drive-2", "Quarterly report draft")

	app := newCLIApp(database, testConfig(t), t.TempDir())

	out, err := runApp(t, app, "search", "renovation")
	if err != nil {
		t.Fatalf("search command failed: %v", err)
	}

	var output struct {
		Notes []noteOutput `json:"notes"`
		Count int          `json:"count"`
	}
	if err := json.Unmarshal([]byte(out), &output); err != nil {
		t.Fatalf("failed to parse output: %v", err)
	}
	if output.Count != 1 || output.Notes[0].ID != "note-1" {
		t.Errorf("expected one match for note-1, got %+v", output.Notes)
	}
}

// TestCLISearchRequiresQuery tests search without a query argument.
func TestCLISearchRequiresQuery(t *testing.T) {
	database, cleanup := setupTestDB(t)
	defer cleanup()

	app := newCLIApp(database, testConfig(t), t.TempDir())

	if _, err := runApp(t, app, "search"); err == nil {
		t.Error("expected error for missing query, got nil")
	}
}

// TestCLIReprocess tests the reprocess command.
func TestCLIReprocess(t *testing.T) {
	database, cleanup := setupTestDB(t)
	defer cleanup()
	cfg := testConfig(t)

	store, err := syncer.OpenFileStore(cfg.ProcessedPath, nil)
	if err != nil {
		t.Fatalf("failed to open processed store: %v", err)
	}
	if err := store.Add("drive-1"); err != nil {
		t.Fatalf("failed to add id: %v", err)
	}
	store.Close()

	app := newCLIApp(database, cfg, t.TempDir())

	out, err := runApp(t, app, "reprocess", "drive-1")
	if err != nil {
		t.Fatalf("reprocess command failed: %v", err)
	}

	var output struct {
		FileID  string `json:"file_id"`
		Removed bool   `json:"removed"`
	}
	if err := json.Unmarshal([]byte(out), &output); err != nil {
		t.Fatalf("failed to parse output: %v", err)
	}
	if output.FileID != "drive-1" || !output.Removed {
		t.Errorf("expected drive-1 removed, got %+v", output)
	}

	// The id must actually be gone from the store.
	reopened, err := syncer.OpenFileStore(cfg.ProcessedPath, nil)
	if err != nil {
		t.Fatalf("failed to reopen processed store: %v", err)
	}
	defer reopened.Close()
	if reopened.Contains("drive-1") {
		t.Error("expected drive-1 removed from processed store")
	}
}

// TestCLIReprocessNotFound tests reprocess with an unknown id.
func TestCLIReprocessNotFound(t *testing.T) {
	database, cleanup := setupTestDB(t)
	defer cleanup()

	app := newCLIApp(database, testConfig(t), t.TempDir())

	if _, err := runApp(t, app, "reprocess", "nonexistent"); err == nil {
		t.Error("expected error for unknown id, got nil")
	}
}

// TestCLITracker tests the tracker command.
func TestCLITracker(t *testing.T) {
	database, cleanup := setupTestDB(t)
	defer cleanup()
	cfg := testConfig(t)

	seedNote(t, database, "note-1", "drive-1", "Summary")
	err := db.ReplaceTasks(database, "note-1", []db.Task{
		{NoteID: "note-1", Text: "call the contractor", Done: false, CreatedAt: 100},
		{NoteID: "note-1", Text: "send the report", Done: true, CreatedAt: 90},
	})
	if err != nil {
		t.Fatalf("failed to seed tasks: %v", err)
	}

	app := newCLIApp(database, cfg, t.TempDir())

	out, err := runApp(t, app, "tracker")
	if err != nil {
		t.Fatalf("tracker command failed: %v", err)
	}

	var output struct {
		Tracker string `json:"tracker"`
	}
	if err := json.Unmarshal([]byte(out), &output); err != nil {
		t.Fatalf("failed to parse output: %v", err)
	}

	content, err := os.ReadFile(output.Tracker)
	if err != nil {
		t.Fatalf("failed to read tracker: %v", err)
	}
	if !bytes.Contains(content, []byte("- [ ] call the contractor")) {
		t.Error("expected open task in tracker")
	}
	if !bytes.Contains(content, []byte("- [x] send the report")) {
		t.Error("expected completed task in tracker")
	}
}

// TestCLITrackerRequiresVault tests tracker without a configured vault.
func TestCLITrackerRequiresVault(t *testing.T) {
	database, cleanup := setupTestDB(t)
	defer cleanup()
	cfg := testConfig(t)
	cfg.VaultPath = ""

	app := newCLIApp(database, cfg, t.TempDir())

	if _, err := runApp(t, app, "tracker"); err == nil {
		t.Error("expected error for missing vault path, got nil")
	}
}

// TestCLIWeeklyEmptyWeek tests weekly with no notes this week.
func TestCLIWeeklyEmptyWeek(t *testing.T) {
	database, cleanup := setupTestDB(t)
	defer cleanup()

	app := newCLIApp(database, testConfig(t), t.TempDir())

	out, err := runApp(t, app, "weekly")
	if err != nil {
		t.Fatalf("weekly command failed: %v", err)
	}

	var output struct {
		WeekStart string `json:"week_start"`
		Notes     int    `json:"notes"`
		Path      string `json:"path"`
	}
	if err := json.Unmarshal([]byte(out), &output); err != nil {
		t.Fatalf("failed to parse output: %v", err)
	}
	if output.Notes != 0 {
		t.Errorf("expected 0 notes, got %d", output.Notes)
	}
	if output.Path != "" {
		t.Errorf("expected no summary written, got %s", output.Path)
	}
}

// TestCLIWeeklyDisabled tests weekly when disabled in analysis.yaml.
func TestCLIWeeklyDisabled(t *testing.T) {
	database, cleanup := setupTestDB(t)
	defer cleanup()

	baseDir := t.TempDir()
	yaml := []byte("weekly:\n  enabled: false\n")
	if err := os.WriteFile(filepath.Join(baseDir, "analysis.yaml"), yaml, 0600); err != nil {
		t.Fatalf("failed to write analysis.yaml: %v", err)
	}

	app := newCLIApp(database, testConfig(t), baseDir)

	if _, err := runApp(t, app, "weekly"); err == nil {
		t.Error("expected error when weekly summaries disabled, got nil")
	}
}

// TestStartOfWeek tests the startOfWeek helper.
func TestStartOfWeek(t *testing.T) {
	tests := []struct {
		name     string
		now      string
		expected string
	}{
		{name: "wednesday", now: "2026-08-19T15:30:00Z", expected: "2026-08-17"},
		{name: "monday", now: "2026-08-17T00:00:01Z", expected: "2026-08-17"},
		{name: "sunday", now: "2026-08-23T23:59:00Z", expected: "2026-08-17"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			now, err := time.Parse(time.RFC3339, tt.now)
			if err != nil {
				t.Fatalf("bad test time: %v", err)
			}
			got := startOfWeek(now)
			if got.Format("2006-01-02") != tt.expected {
				t.Errorf("expected %s, got %s", tt.expected, got.Format("2006-01-02"))
			}
			if got.Hour() != 0 || got.Minute() != 0 {
				t.Errorf("expected midnight, got %v", got)
			}
		})
	}
}

// TestAnalysisFromNoteFile tests section recovery from a written note.
func TestAnalysisFromNoteFile(t *testing.T) {
	note := `---
created: 2026-08-20 09:30:00
source: inksync
type: handwritten-note
tags: #home
---

# Scanned Note - August 20, 2026

## Summary

Planning the kitchen renovation.

---

## Tasks & Action Items

- [ ] Call the contractor

---

## Key Themes & Topics

*No major themes identified*

---

## Questions & Open Items

- Which tiles to order?
`
	path := filepath.Join(t.TempDir(), "note.md")
	if err := os.WriteFile(path, []byte(note), 0600); err != nil {
		t.Fatalf("failed to write note: %v", err)
	}

	a, err := analysisFromNoteFile(path)
	if err != nil {
		t.Fatalf("analysisFromNoteFile failed: %v", err)
	}

	if a.Summary != "Planning the kitchen renovation." {
		t.Errorf("Summary = %q", a.Summary)
	}
	if a.Tasks != "- [ ] Call the contractor" {
		t.Errorf("Tasks = %q", a.Tasks)
	}
	if a.Themes != "" {
		t.Errorf("placeholder section should be empty, got %q", a.Themes)
	}
	if a.Questions != "- Which tiles to order?" {
		t.Errorf("Questions = %q", a.Questions)
	}
}

// TestAnalysisFromNoteFileMissing tests a note path that no longer exists.
func TestAnalysisFromNoteFileMissing(t *testing.T) {
	if _, err := analysisFromNoteFile(filepath.Join(t.TempDir(), "gone.md")); err == nil {
		t.Error("expected error for missing note file, got nil")
	}
}

// TestIsCLIMode tests the isCLIMode function.
func TestIsCLIMode(t *testing.T) {
	tests := []struct {
		name     string
		args     []string
		expected bool
	}{
		{
			name:     "no args",
			args:     []string{"inksync"},
			expected: false,
		},
		{
			name:     "sync command",
			args:     []string{"inksync", "sync"},
			expected: true,
		},
		{
			name:     "status command",
			args:     []string{"inksync", "status"},
			expected: true,
		},
		{
			name:     "web command",
			args:     []string{"inksync", "web"},
			expected: true,
		},
		{
			name:     "help flag",
			args:     []string{"inksync", "--help"},
			expected: true,
		},
		{
			name:     "version flag",
			args:     []string{"inksync", "--version"},
			expected: true,
		},
		{
			name:     "unknown arg defaults to MCP",
			args:     []string{"inksync", "--unknown"},
			expected: false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			// Save and restore os.Args
			oldArgs := os.Args
			defer func() { os.Args = oldArgs }()

			os.Args = tt.args
			result := isCLIMode()

			if result != tt.expected {
				t.Errorf("expected %v, got %v", tt.expected, result)
			}
		})
	}
}

// TestIsHelpOrVersion tests the isHelpOrVersion function.
func TestIsHelpOrVersion(t *testing.T) {
	tests := []struct {
		name     string
		args     []string
		expected bool
	}{
		{
			name:     "no args",
			args:     []string{"inksync"},
			expected: false,
		},
		{
			name:     "help flag",
			args:     []string{"inksync", "--help"},
			expected: true,
		},
		{
			name:     "short help flag",
			args:     []string{"inksync", "-h"},
			expected: true,
		},
		{
			name:     "version flag",
			args:     []string{"inksync", "--version"},
			expected: true,
		},
		{
			name:     "help subcommand",
			args:     []string{"inksync", "help"},
			expected: true,
		},
		{
			name:     "sync command is not help",
			args:     []string{"inksync", "sync"},
			expected: false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			oldArgs := os.Args
			defer func() { os.Args = oldArgs }()

			os.Args = tt.args
			result := isHelpOrVersion()

			if result != tt.expected {
				t.Errorf("expected %v, got %v", tt.expected, result)
			}
		})
	}
}
