package web

import (
	"database/sql"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"inksync/internal/config"
	"inksync/internal/db"
)

func testServer(t *testing.T) (*httptest.Server, *sql.DB) {
	t.Helper()

	database, err := db.Init(t.TempDir())
	if err != nil {
		t.Fatalf("init db: %v", err)
	}
	t.Cleanup(func() { database.Close() })

	srv := NewServer(database, config.DefaultConfig(), "test", "127.0.0.1", 0)
	ts := httptest.NewServer(srv.Handler)
	t.Cleanup(ts.Close)
	return ts, database
}

func get(t *testing.T, url string) (*http.Response, string) {
	t.Helper()
	resp, err := http.Get(url)
	if err != nil {
		t.Fatalf("GET %s failed: %v", url, err)
	}
	defer resp.Body.Close()
	var sb strings.Builder
	buf := make([]byte, 4096)
	for {
		n, err := resp.Body.Read(buf)
		sb.Write(buf[:n])
		if err != nil {
			break
		}
	}
	return resp, sb.String()
}

func seedNote(t *testing.T, database *sql.DB, id, fileID, summary, notePath string) {
	t.Helper()
	err := db.InsertNote(database, &db.Note{
		ID:          id,
		FileID:      fileID,
		FileName:    fileID + ".pdf",
		NotePath:    notePath,
		Summary:     summary,
		Tags:        []string{"test"},
		ScannedAt:   1755680000,
		ProcessedAt: 1755680100,
	})
	if err != nil {
		t.Fatalf("seed note: %v", err)
	}
}

func TestRootRedirectsToNotes(t *testing.T) {
	ts, _ := testServer(t)

	client := &http.Client{
		CheckRedirect: func(req *http.Request, via []*http.Request) error {
			return http.ErrUseLastResponse
		},
	}
	resp, err := client.Get(ts.URL + "/")
	if err != nil {
		t.Fatalf("GET / failed: %v", err)
	}
	resp.Body.Close()

	if resp.StatusCode != http.StatusFound {
		t.Errorf("status = %d, want 302", resp.StatusCode)
	}
	if got := resp.Header.Get("Location"); got != "/notes" {
		t.Errorf("Location = %q, want /notes", got)
	}
}

func TestNotesPage(t *testing.T) {
	ts, database := testServer(t)
	seedNote(t, database, "note-1", "drive-1", "Renovation planning", "/nowhere.md")

	resp, body := get(t, ts.URL+"/notes")
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d", resp.StatusCode)
	}
	for _, want := range []string{"Renovation planning", "drive-1.pdf", "/notes/note-1", "#test"} {
		if !strings.Contains(body, want) {
			t.Errorf("page missing %q", want)
		}
	}
}

func TestNotesPage_Empty(t *testing.T) {
	ts, _ := testServer(t)

	resp, body := get(t, ts.URL+"/notes")
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d", resp.StatusCode)
	}
	if !strings.Contains(body, "No notes synced yet") {
		t.Error("empty state missing")
	}
}

func TestDetailPage(t *testing.T) {
	ts, database := testServer(t)

	notePath := filepath.Join(t.TempDir(), "note.md")
	if err := os.WriteFile(notePath, []byte("# Heading\n\nBody **bold** text."), 0600); err != nil {
		t.Fatalf("write note: %v", err)
	}
	seedNote(t, database, "note-1", "drive-1", "Summary", notePath)

	if err := db.ReplaceTasks(database, "note-1", []db.Task{
		{NoteID: "note-1", Text: "open item", Done: false, CreatedAt: 100},
	}); err != nil {
		t.Fatalf("seed tasks: %v", err)
	}

	resp, body := get(t, ts.URL+"/notes/note-1")
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d", resp.StatusCode)
	}
	// Markdown is rendered, not echoed.
	if !strings.Contains(body, "<strong>bold</strong>") {
		t.Error("markdown body should be rendered to HTML")
	}
	if !strings.Contains(body, "open item") {
		t.Error("tasks missing from detail page")
	}
}

func TestDetailPage_MissingVaultFileFallsBack(t *testing.T) {
	ts, database := testServer(t)
	seedNote(t, database, "note-1", "drive-1", "Fallback summary", "/does/not/exist.md")

	resp, body := get(t, ts.URL+"/notes/note-1")
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d", resp.StatusCode)
	}
	if !strings.Contains(body, "Fallback summary") {
		t.Error("summary fallback missing")
	}
}

func TestDetailPage_NotFound(t *testing.T) {
	ts, _ := testServer(t)

	resp, _ := get(t, ts.URL+"/notes/missing")
	if resp.StatusCode != http.StatusNotFound {
		t.Errorf("status = %d, want 404", resp.StatusCode)
	}
}

func TestDetailPage_NotFoundJSON(t *testing.T) {
	ts, _ := testServer(t)

	req, _ := http.NewRequest(http.MethodGet, ts.URL+"/notes/missing", nil)
	req.Header.Set("Accept", "application/json")
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("GET failed: %v", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusNotFound {
		t.Errorf("status = %d, want 404", resp.StatusCode)
	}
	if ct := resp.Header.Get("Content-Type"); !strings.Contains(ct, "application/json") {
		t.Errorf("Content-Type = %q, want JSON", ct)
	}
}

func TestSearchPage(t *testing.T) {
	ts, database := testServer(t)
	seedNote(t, database, "note-1", "drive-1", "Kitchen renovation", "/nowhere.md")
	seedNote(t, database, "note-2", "drive-2", "Quarterly report", "/nowhere.md")

	_, body := get(t, ts.URL+"/notes/search?q=renovation")
	if !strings.Contains(body, "Kitchen renovation") {
		t.Error("matching note missing")
	}
	if strings.Contains(body, "Quarterly report") {
		t.Error("non-matching note present")
	}

	_, body = get(t, ts.URL+"/notes/search?q=zzznothing")
	if !strings.Contains(body, "No notes match") {
		t.Error("no-results state missing")
	}
}

func TestRunsPage(t *testing.T) {
	ts, database := testServer(t)

	err := db.InsertRun(database, &db.Run{
		ID:        "run-1",
		StartedAt: 1755680000,
		Listed:    5,
		Skipped:   2,
		Succeeded: 2,
		Failed:    1,
		Deleted:   3,
		Failures:  map[string]string{"drive-9": "download timed out"},
	})
	if err != nil {
		t.Fatalf("seed run: %v", err)
	}

	resp, body := get(t, ts.URL+"/runs")
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d", resp.StatusCode)
	}
	for _, want := range []string{"drive-9", "download timed out", "2025-08-20"} {
		if !strings.Contains(body, want) {
			t.Errorf("runs page missing %q", want)
		}
	}
}

func TestSecurityHeaders(t *testing.T) {
	ts, _ := testServer(t)

	resp, _ := get(t, ts.URL+"/notes")
	if got := resp.Header.Get("X-Frame-Options"); got != "DENY" {
		t.Errorf("X-Frame-Options = %q", got)
	}
	if got := resp.Header.Get("X-Content-Type-Options"); got != "nosniff" {
		t.Errorf("X-Content-Type-Options = %q", got)
	}
	if resp.Header.Get("Content-Security-Policy") == "" {
		t.Error("Content-Security-Policy missing")
	}
}

func TestStaticAssets(t *testing.T) {
	ts, _ := testServer(t)

	resp, body := get(t, ts.URL+"/static/style.css")
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d", resp.StatusCode)
	}
	if !strings.Contains(body, "--accent") {
		t.Error("stylesheet content missing")
	}
}
