package web

import (
	"database/sql"
	"net/http"
	"os"
	"strconv"

	"inksync/internal/config"
	"inksync/internal/db"
	"inksync/internal/errors"
)

// Handlers contains HTTP route handlers for the status UI.
type Handlers struct {
	db       *sql.DB
	cfg      *config.Config
	renderer *Renderer
}

// HandleNotes handles GET /notes — the recent notes list.
func (h *Handlers) HandleNotes(w http.ResponseWriter, r *http.Request) {
	notes, err := db.RecentNotes(h.db, parseIntParam(r, "limit", 50))
	if err != nil {
		h.renderer.renderError(w, r, err)
		return
	}

	h.renderer.renderPage(w, r, "notes", NotesPageData{
		PageData: PageData{
			Title:   "Notes",
			Version: h.renderer.version,
			Nav:     "notes",
		},
		Notes: notes,
	})
}

// HandleSearch handles GET /notes/search — search over the note index.
func (h *Handlers) HandleSearch(w http.ResponseWriter, r *http.Request) {
	query := r.URL.Query().Get("q")

	data := SearchPageData{
		PageData: PageData{
			Title:   "Search",
			Version: h.renderer.version,
			Nav:     "search",
		},
		Query:    query,
		HasQuery: query != "",
	}

	if query != "" {
		notes, err := db.SearchNotes(h.db, query, parseIntParam(r, "limit", 50))
		if err != nil {
			h.renderer.renderError(w, r, err)
			return
		}
		data.Notes = notes
	}

	h.renderer.renderPage(w, r, "search", data)
}

// HandleDetail handles GET /notes/{id} — a single note with its tasks and
// the rendered markdown body read from the vault.
func (h *Handlers) HandleDetail(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	if id == "" {
		h.renderer.renderError(w, r, errors.NewInvalidRequest("note ID is required"))
		return
	}

	note, err := db.GetNote(h.db, id)
	if err != nil {
		h.renderer.renderError(w, r, err)
		return
	}

	tasks, err := db.TasksForNote(h.db, note.ID)
	if err != nil {
		h.renderer.renderError(w, r, err)
		return
	}

	// The vault file is the source of truth for the body; if it was moved
	// or deleted out from under the index, fall back to the summary.
	body := note.Summary
	if data, err := os.ReadFile(note.NotePath); err == nil {
		body = string(data)
	}

	h.renderer.renderPage(w, r, "detail", DetailPageData{
		PageData: PageData{
			Title:   note.FileName,
			Version: h.renderer.version,
			Nav:     "notes",
		},
		Note:         note,
		Tasks:        tasks,
		RenderedHTML: renderMarkdown(body),
	})
}

// HandleRuns handles GET /runs — sync pass history.
func (h *Handlers) HandleRuns(w http.ResponseWriter, r *http.Request) {
	runs, err := db.ListRuns(h.db, parseIntParam(r, "limit", 50))
	if err != nil {
		h.renderer.renderError(w, r, err)
		return
	}

	h.renderer.renderPage(w, r, "runs", RunsPageData{
		PageData: PageData{
			Title:   "Sync Runs",
			Version: h.renderer.version,
			Nav:     "runs",
		},
		Runs: runs,
	})
}

// parseIntParam parses an integer query parameter with a default value.
func parseIntParam(r *http.Request, name string, defaultVal int) int {
	s := r.URL.Query().Get(name)
	if s == "" {
		return defaultVal
	}
	v, err := strconv.Atoi(s)
	if err != nil {
		return defaultVal
	}
	return v
}
