package vault

import (
	"database/sql"
	"fmt"
	"strings"
	"time"

	"inksync/internal/db"
)

const trackerTaskLimit = 200

// RefreshTracker regenerates the task tracker from the task index. The
// tracker is derived state: rebuilt wholesale, never edited in place.
func (w *Writer) RefreshTracker(database *sql.DB, now time.Time) error {
	open, err := db.OpenTasks(database, trackerTaskLimit)
	if err != nil {
		return err
	}
	done, err := db.DoneTasks(database, 10)
	if err != nil {
		return err
	}

	content := buildTrackerContent(open, done, now)
	if err := writeFileAtomic(w.TrackerPath(), []byte(content)); err != nil {
		return err
	}
	w.logger.Debug("task tracker refreshed", "open", len(open), "done", len(done))
	return nil
}

func buildTrackerContent(open, done []*db.Task, now time.Time) string {
	var sb strings.Builder
	sb.WriteString("---\n")
	fmt.Fprintf(&sb, "updated: %s\n", now.Format("2006-01-02 15:04:05"))
	sb.WriteString("type: task-tracker\n")
	sb.WriteString("tags: #tasks #tracking\n")
	sb.WriteString("---\n\n")
	sb.WriteString("# Task Tracker\n\nAuto-updated from handwritten notes.\n\n")

	fmt.Fprintf(&sb, "## Open Tasks (%d)\n\n", len(open))
	for _, task := range open {
		fmt.Fprintf(&sb, "- [ ] %s\n", task.Text)
	}

	fmt.Fprintf(&sb, "\n## Recently Completed (%d)\n\n", len(done))
	for _, task := range done {
		fmt.Fprintf(&sb, "- [x] %s\n", task.Text)
	}

	fmt.Fprintf(&sb, "\n---\n\n*Last updated: %s*\n", now.Format("2006-01-02 15:04:05"))
	return sb.String()
}
