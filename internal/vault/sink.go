package vault

import (
	"context"
	"crypto/rand"
	"database/sql"
	"io"
	"log/slog"
	"time"

	"github.com/oklog/ulid/v2"

	"inksync/internal/db"
	syncer "inksync/internal/sync"
)

// Sink implements sync.Sink: notes go to the vault, their index rows and
// parsed tasks to the database, and the aggregate views are refreshed
// after each write.
type Sink struct {
	writer   *Writer
	database *sql.DB
	logger   *slog.Logger
	now      func() time.Time
}

// NewSink wires a vault writer and the note index together.
func NewSink(writer *Writer, database *sql.DB, logger *slog.Logger) *Sink {
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	return &Sink{
		writer:   writer,
		database: database,
		logger:   logger,
		now:      time.Now,
	}
}

// Write implements sync.Sink. The note lands in the vault first, then
// the index row; a reprocessed file overwrites both.
func (s *Sink) Write(_ context.Context, analysis *syncer.Analysis, file syncer.RemoteFile, docPath string) (string, error) {
	ts := file.CreatedAt
	if ts.IsZero() {
		ts = s.now()
	}

	notePath, err := s.writer.WriteNote(analysis, file, docPath, ts)
	if err != nil {
		return "", err
	}

	note := &db.Note{
		ID:          ulid.MustNew(ulid.Timestamp(s.now()), rand.Reader).String(),
		FileID:      file.ID,
		FileName:    file.Name,
		NotePath:    notePath,
		Summary:     analysis.Summary,
		Tags:        analysis.Tags,
		ScannedAt:   ts.Unix(),
		ProcessedAt: s.now().Unix(),
	}
	if err := db.UpsertNote(s.database, note); err != nil {
		return "", err
	}

	// The upsert keeps the original row id on overwrite; re-read so the
	// tasks attach to the right note.
	stored, err := db.GetNoteByFileID(s.database, file.ID)
	if err != nil {
		return "", err
	}

	tasks := make([]db.Task, 0)
	for _, item := range ParseTasks(analysis.Tasks) {
		tasks = append(tasks, db.Task{
			NoteID:    stored.ID,
			Text:      item.Text,
			Done:      item.Done,
			CreatedAt: s.now().Unix(),
		})
	}
	if err := db.ReplaceTasks(s.database, stored.ID, tasks); err != nil {
		return "", err
	}

	return notePath, nil
}

// UpdateAggregates implements sync.Sink: the task tracker is rebuilt and
// the note linked into its week's list.
func (s *Sink) UpdateAggregates(_ context.Context, _ *syncer.Analysis, file syncer.RemoteFile, notePath string) error {
	if err := s.writer.RefreshTracker(s.database, s.now()); err != nil {
		return err
	}

	ts := file.CreatedAt
	if ts.IsZero() {
		ts = s.now()
	}
	return s.writer.AppendWeekNote(notePath, ts)
}
