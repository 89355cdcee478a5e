package db

import (
	"database/sql"
	"encoding/json"
	"strings"
	"time"

	"inksync/internal/errors"
)

// Note is one row of the note index.
type Note struct {
	ID          string
	FileID      string
	FileName    string
	NotePath    string
	Summary     string
	Tags        []string
	ScannedAt   int64
	ProcessedAt int64
}

// Task is one parsed action item from a note's analysis.
type Task struct {
	ID        int64
	NoteID    string
	Text      string
	Done      bool
	CreatedAt int64
}

// Run is one recorded sync pass.
type Run struct {
	ID         string
	StartedAt  int64
	FinishedAt int64
	Listed     int
	Skipped    int
	Succeeded  int
	Failed     int
	Deleted    int
	Failures   map[string]string // file id -> reason
}

// InsertNote stores a note index row. A duplicate file_id is a conflict.
func InsertNote(db *sql.DB, n *Note) error {
	var tagsJSON sql.NullString
	if len(n.Tags) > 0 {
		data, err := json.Marshal(n.Tags)
		if err != nil {
			return errors.NewInternal(err)
		}
		tagsJSON = sql.NullString{String: string(data), Valid: true}
	}

	query := `
		INSERT INTO notes (id, file_id, file_name, note_path, summary, tags_json, scanned_at, processed_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	`
	_, err := db.Exec(query,
		n.ID, n.FileID, n.FileName, n.NotePath,
		toNullString(n.Summary), tagsJSON, n.ScannedAt, n.ProcessedAt,
	)
	if err != nil {
		if isUniqueConstraintError(err) {
			return &errors.SyncError{
				Code:    "UNIQUE_CONSTRAINT",
				Status:  409,
				Message: "note already indexed for file " + n.FileID,
			}
		}
		return errors.NewInternal(err)
	}
	return nil
}

// UpsertNote stores a note index row, replacing any existing row for the
// same file_id. Reprocessing a file overwrites its note, so the index
// must follow rather than conflict.
func UpsertNote(db *sql.DB, n *Note) error {
	var tagsJSON sql.NullString
	if len(n.Tags) > 0 {
		data, err := json.Marshal(n.Tags)
		if err != nil {
			return errors.NewInternal(err)
		}
		tagsJSON = sql.NullString{String: string(data), Valid: true}
	}

	query := `
		INSERT INTO notes (id, file_id, file_name, note_path, summary, tags_json, scanned_at, processed_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(file_id) DO UPDATE SET
			file_name = excluded.file_name,
			note_path = excluded.note_path,
			summary = excluded.summary,
			tags_json = excluded.tags_json,
			scanned_at = excluded.scanned_at,
			processed_at = excluded.processed_at
	`
	_, err := db.Exec(query,
		n.ID, n.FileID, n.FileName, n.NotePath,
		toNullString(n.Summary), tagsJSON, n.ScannedAt, n.ProcessedAt,
	)
	if err != nil {
		return errors.NewInternal(err)
	}
	return nil
}

// GetNote retrieves a note by its ULID.
func GetNote(db *sql.DB, id string) (*Note, error) {
	row := db.QueryRow(`
		SELECT id, file_id, file_name, note_path, summary, tags_json, scanned_at, processed_at
		FROM notes WHERE id = ?
	`, id)
	n, err := scanNote(row)
	if err == sql.ErrNoRows {
		return nil, errors.NewNotFound(id)
	}
	if err != nil {
		return nil, errors.NewInternal(err)
	}
	return n, nil
}

// GetNoteByFileID retrieves a note by the remote file id it was built from.
func GetNoteByFileID(db *sql.DB, fileID string) (*Note, error) {
	row := db.QueryRow(`
		SELECT id, file_id, file_name, note_path, summary, tags_json, scanned_at, processed_at
		FROM notes WHERE file_id = ?
	`, fileID)
	n, err := scanNote(row)
	if err == sql.ErrNoRows {
		return nil, errors.NewNotFound(fileID)
	}
	if err != nil {
		return nil, errors.NewInternal(err)
	}
	return n, nil
}

// SearchNotes returns notes whose summary, file name, or tags contain the
// query, newest scan first.
func SearchNotes(db *sql.DB, query string, limit int) ([]*Note, error) {
	if limit <= 0 {
		limit = 20
	}
	like := "%" + escapeLike(query) + "%"
	rows, err := db.Query(`
		SELECT id, file_id, file_name, note_path, summary, tags_json, scanned_at, processed_at
		FROM notes
		WHERE summary LIKE ? ESCAPE '\' OR file_name LIKE ? ESCAPE '\' OR tags_json LIKE ? ESCAPE '\'
		ORDER BY scanned_at DESC
		LIMIT ?
	`, like, like, like, limit)
	if err != nil {
		return nil, errors.NewInternal(err)
	}
	defer rows.Close()
	return collectNotes(rows)
}

// RecentNotes returns the newest notes by scan time.
func RecentNotes(db *sql.DB, limit int) ([]*Note, error) {
	if limit <= 0 {
		limit = 20
	}
	rows, err := db.Query(`
		SELECT id, file_id, file_name, note_path, summary, tags_json, scanned_at, processed_at
		FROM notes
		ORDER BY scanned_at DESC
		LIMIT ?
	`, limit)
	if err != nil {
		return nil, errors.NewInternal(err)
	}
	defer rows.Close()
	return collectNotes(rows)
}

// NotesSince returns notes scanned at or after the given time, oldest first.
func NotesSince(db *sql.DB, since time.Time) ([]*Note, error) {
	rows, err := db.Query(`
		SELECT id, file_id, file_name, note_path, summary, tags_json, scanned_at, processed_at
		FROM notes
		WHERE scanned_at >= ?
		ORDER BY scanned_at ASC
	`, since.Unix())
	if err != nil {
		return nil, errors.NewInternal(err)
	}
	defer rows.Close()
	return collectNotes(rows)
}

// ReplaceTasks deletes and re-inserts the tasks parsed from one note.
func ReplaceTasks(db *sql.DB, noteID string, tasks []Task) error {
	tx, err := db.Begin()
	if err != nil {
		return errors.NewInternal(err)
	}
	defer tx.Rollback()

	if _, err := tx.Exec(`DELETE FROM tasks WHERE note_id = ?`, noteID); err != nil {
		return errors.NewInternal(err)
	}
	for _, task := range tasks {
		_, err := tx.Exec(
			`INSERT INTO tasks (note_id, text, done, created_at) VALUES (?, ?, ?, ?)`,
			noteID, task.Text, boolToInt(task.Done), task.CreatedAt,
		)
		if err != nil {
			return errors.NewInternal(err)
		}
	}

	if err := tx.Commit(); err != nil {
		return errors.NewInternal(err)
	}
	return nil
}

// OpenTasks returns undone tasks, newest first.
func OpenTasks(db *sql.DB, limit int) ([]*Task, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := db.Query(`
		SELECT id, note_id, text, done, created_at
		FROM tasks
		WHERE done = 0
		ORDER BY created_at DESC
		LIMIT ?
	`, limit)
	if err != nil {
		return nil, errors.NewInternal(err)
	}
	defer rows.Close()
	return collectTasks(rows)
}

// TasksForNote returns the tasks attached to one note, open first.
func TasksForNote(db *sql.DB, noteID string) ([]*Task, error) {
	rows, err := db.Query(`
		SELECT id, note_id, text, done, created_at
		FROM tasks
		WHERE note_id = ?
		ORDER BY done ASC, created_at DESC
	`, noteID)
	if err != nil {
		return nil, errors.NewInternal(err)
	}
	defer rows.Close()
	return collectTasks(rows)
}

// DoneTasks returns completed tasks, newest first.
func DoneTasks(db *sql.DB, limit int) ([]*Task, error) {
	if limit <= 0 {
		limit = 10
	}
	rows, err := db.Query(`
		SELECT id, note_id, text, done, created_at
		FROM tasks
		WHERE done = 1
		ORDER BY created_at DESC
		LIMIT ?
	`, limit)
	if err != nil {
		return nil, errors.NewInternal(err)
	}
	defer rows.Close()
	return collectTasks(rows)
}

// InsertRun records a completed sync pass.
func InsertRun(db *sql.DB, r *Run) error {
	var failuresJSON sql.NullString
	if len(r.Failures) > 0 {
		data, err := json.Marshal(r.Failures)
		if err != nil {
			return errors.NewInternal(err)
		}
		failuresJSON = sql.NullString{String: string(data), Valid: true}
	}

	_, err := db.Exec(`
		INSERT INTO runs (id, started_at, finished_at, listed, skipped, succeeded, failed, deleted, failures_json)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, r.ID, r.StartedAt, r.FinishedAt, r.Listed, r.Skipped, r.Succeeded, r.Failed, r.Deleted, failuresJSON)
	if err != nil {
		return errors.NewInternal(err)
	}
	return nil
}

// LatestRun returns the most recent run, or NOT_FOUND if none recorded.
func LatestRun(db *sql.DB) (*Run, error) {
	row := db.QueryRow(`
		SELECT id, started_at, finished_at, listed, skipped, succeeded, failed, deleted, failures_json
		FROM runs ORDER BY started_at DESC LIMIT 1
	`)
	r, err := scanRun(row)
	if err == sql.ErrNoRows {
		return nil, errors.NewNotFound("no sync runs recorded")
	}
	if err != nil {
		return nil, errors.NewInternal(err)
	}
	return r, nil
}

// ListRuns returns run history, newest first.
func ListRuns(db *sql.DB, limit int) ([]*Run, error) {
	if limit <= 0 {
		limit = 20
	}
	rows, err := db.Query(`
		SELECT id, started_at, finished_at, listed, skipped, succeeded, failed, deleted, failures_json
		FROM runs ORDER BY started_at DESC LIMIT ?
	`, limit)
	if err != nil {
		return nil, errors.NewInternal(err)
	}
	defer rows.Close()

	var runs []*Run
	for rows.Next() {
		r, err := scanRun(rows)
		if err != nil {
			return nil, errors.NewInternal(err)
		}
		runs = append(runs, r)
	}
	if err := rows.Err(); err != nil {
		return nil, errors.NewInternal(err)
	}
	return runs, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanNote(row rowScanner) (*Note, error) {
	var n Note
	var summary, tagsJSON sql.NullString
	err := row.Scan(&n.ID, &n.FileID, &n.FileName, &n.NotePath, &summary, &tagsJSON, &n.ScannedAt, &n.ProcessedAt)
	if err != nil {
		return nil, err
	}
	n.Summary = summary.String
	if tagsJSON.Valid && tagsJSON.String != "" {
		if err := json.Unmarshal([]byte(tagsJSON.String), &n.Tags); err != nil {
			return nil, err
		}
	}
	return &n, nil
}

func collectNotes(rows *sql.Rows) ([]*Note, error) {
	var notes []*Note
	for rows.Next() {
		n, err := scanNote(rows)
		if err != nil {
			return nil, errors.NewInternal(err)
		}
		notes = append(notes, n)
	}
	if err := rows.Err(); err != nil {
		return nil, errors.NewInternal(err)
	}
	return notes, nil
}

func collectTasks(rows *sql.Rows) ([]*Task, error) {
	var tasks []*Task
	for rows.Next() {
		var task Task
		var done int
		if err := rows.Scan(&task.ID, &task.NoteID, &task.Text, &done, &task.CreatedAt); err != nil {
			return nil, errors.NewInternal(err)
		}
		task.Done = done != 0
		tasks = append(tasks, &task)
	}
	if err := rows.Err(); err != nil {
		return nil, errors.NewInternal(err)
	}
	return tasks, nil
}

func scanRun(row rowScanner) (*Run, error) {
	var r Run
	var failuresJSON sql.NullString
	err := row.Scan(&r.ID, &r.StartedAt, &r.FinishedAt, &r.Listed, &r.Skipped, &r.Succeeded, &r.Failed, &r.Deleted, &failuresJSON)
	if err != nil {
		return nil, err
	}
	if failuresJSON.Valid && failuresJSON.String != "" {
		if err := json.Unmarshal([]byte(failuresJSON.String), &r.Failures); err != nil {
			return nil, err
		}
	}
	return &r, nil
}

func toNullString(s string) sql.NullString {
	if s == "" {
		return sql.NullString{}
	}
	return sql.NullString{String: s, Valid: true}
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

// escapeLike escapes LIKE wildcards in user-provided search text.
func escapeLike(s string) string {
	s = strings.ReplaceAll(s, `\`, `\\`)
	s = strings.ReplaceAll(s, `%`, `\%`)
	s = strings.ReplaceAll(s, `_`, `\_`)
	return s
}

// isUniqueConstraintError checks if the error is a SQLite UNIQUE constraint violation.
func isUniqueConstraintError(err error) bool {
	if err == nil {
		return false
	}
	// SQLite returns "UNIQUE constraint failed: ..." for unique violations
	return strings.Contains(err.Error(), "UNIQUE constraint failed")
}
