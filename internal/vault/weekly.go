package vault

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"
)

// weekName formats the ISO-week stem shared by the summary and the
// per-week note list, e.g. "2026-08-week-34". The year comes from
// ISOWeek and the month from the week's Monday, so every day of a week
// maps to the same stem even across a calendar year boundary.
func weekName(ts time.Time) string {
	monday := ts.AddDate(0, 0, -((int(ts.Weekday()) + 6) % 7))
	year, week := ts.ISOWeek()
	return fmt.Sprintf("%d-%02d-week-%02d", year, int(monday.Month()), week)
}

// WeeklySummaryPath returns where the rollup for the week containing ts
// lives.
func (w *Writer) WeeklySummaryPath(ts time.Time) string {
	return filepath.Join(w.insightsDir(), weekName(ts)+".md")
}

func (w *Writer) weekNotesPath(ts time.Time) string {
	return filepath.Join(w.insightsDir(), weekName(ts)+"-notes.md")
}

// WriteWeeklySummary writes the rollup document for the week starting at
// weekStart.
func (w *Writer) WriteWeeklySummary(weekStart time.Time, summary string, now time.Time) (string, error) {
	year, week := weekStart.ISOWeek()
	path := w.WeeklySummaryPath(weekStart)

	var sb strings.Builder
	sb.WriteString("---\n")
	fmt.Fprintf(&sb, "created: %s\n", now.Format("2006-01-02 15:04:05"))
	sb.WriteString("type: weekly-summary\n")
	fmt.Fprintf(&sb, "week-start: %s\n", weekStart.Format("2006-01-02"))
	sb.WriteString("tags: #weekly-summary #insights\n")
	sb.WriteString("---\n\n")
	fmt.Fprintf(&sb, "# Weekly Summary - Week %d, %d\n\n", week, year)
	fmt.Fprintf(&sb, "Week of %s\n\n---\n\n", weekStart.Format("January 2, 2006"))
	sb.WriteString(strings.TrimSpace(summary))
	sb.WriteString("\n")

	if err := writeFileAtomic(path, []byte(sb.String())); err != nil {
		return "", err
	}
	w.logger.Info("weekly summary written", "path", path)
	return path, nil
}

// AppendWeekNote records a processed note in the current week's note
// list, creating the list on first use. Duplicate links from a
// reprocessed file are skipped.
func (w *Writer) AppendWeekNote(notePath string, ts time.Time) error {
	path := w.weekNotesPath(ts)
	link := fmt.Sprintf("- [[%s]]\n", strings.TrimSuffix(filepath.Base(notePath), ".md"))

	existing, err := os.ReadFile(path)
	switch {
	case os.IsNotExist(err):
		year, week := ts.ISOWeek()
		header := fmt.Sprintf("# Notes - Week %d, %d\n\n", week, year)
		existing = []byte(header)
	case err != nil:
		return fmt.Errorf("read week note list: %w", err)
	}

	if strings.Contains(string(existing), link) {
		return nil
	}
	return writeFileAtomic(path, append(existing, link...))
}
