// Package vault renders analyzed notes into a markdown vault and keeps
// the aggregate views (task tracker, weekly rollups) in step with the
// note index.
package vault

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	syncer "inksync/internal/sync"
)

// Directory layout inside the vault. Everything lives under one
// top-level folder so the vault's own notes stay untouched.
const (
	rootDirName     = "Inksync"
	scansDirName    = "Scans"
	pdfsDirName     = "PDFs"
	insightsDirName = "Insights"
	trackerFileName = "Task-Tracker.md"
)

// Writer owns the vault directory tree and note formatting.
type Writer struct {
	vaultPath string
	logger    *slog.Logger
}

// NewWriter creates the vault directory structure if needed.
func NewWriter(vaultPath string, logger *slog.Logger) (*Writer, error) {
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	w := &Writer{vaultPath: vaultPath, logger: logger}
	for _, dir := range []string{w.scansDir(), w.pdfsDir(), w.insightsDir()} {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, fmt.Errorf("create vault directory %s: %w", dir, err)
		}
	}
	return w, nil
}

func (w *Writer) rootDir() string     { return filepath.Join(w.vaultPath, rootDirName) }
func (w *Writer) scansDir() string    { return filepath.Join(w.rootDir(), scansDirName) }
func (w *Writer) pdfsDir() string     { return filepath.Join(w.rootDir(), pdfsDirName) }
func (w *Writer) insightsDir() string { return filepath.Join(w.rootDir(), insightsDirName) }

// TrackerPath returns the task tracker location.
func (w *Writer) TrackerPath() string { return filepath.Join(w.rootDir(), trackerFileName) }

// WriteNote renders one analyzed scan into the vault: the PDF is copied
// into PDFs/ and the markdown note written to Scans/, both named by the
// scan timestamp. The note write is atomic; a failure leaves no partial
// file behind.
func (w *Writer) WriteNote(analysis *syncer.Analysis, file syncer.RemoteFile, docPath string, ts time.Time) (string, error) {
	noteName := ts.Format("2006-01-02-150405")
	notePath := filepath.Join(w.scansDir(), noteName+".md")
	pdfDest := filepath.Join(w.pdfsDir(), noteName+".pdf")

	if err := copyFile(docPath, pdfDest); err != nil {
		return "", fmt.Errorf("copy pdf into vault: %w", err)
	}

	pdfRelative, err := filepath.Rel(w.scansDir(), pdfDest)
	if err != nil {
		pdfRelative = pdfDest
	}

	content := buildNoteContent(analysis, pdfRelative, ts)
	if err := writeFileAtomic(notePath, []byte(content)); err != nil {
		os.Remove(pdfDest)
		return "", err
	}

	w.logger.Info("note written to vault", "note", notePath, "file_id", file.ID)
	return notePath, nil
}

// buildNoteContent renders the note markdown: frontmatter, summary, the
// embedded scan, then each analysis section with a placeholder line when
// empty so the note shape is stable.
func buildNoteContent(analysis *syncer.Analysis, pdfRelative string, ts time.Time) string {
	tagStr := hashTags(analysis.Tags)

	var sb strings.Builder
	sb.WriteString("---\n")
	fmt.Fprintf(&sb, "created: %s\n", ts.Format("2006-01-02 15:04:05"))
	sb.WriteString("source: inksync\n")
	sb.WriteString("type: handwritten-note\n")
	fmt.Fprintf(&sb, "tags: %s\n", tagStr)
	sb.WriteString("---\n\n")

	fmt.Fprintf(&sb, "# Scanned Note - %s\n\n", ts.Format("January 2, 2006"))

	sb.WriteString("## Summary\n\n")
	sb.WriteString(orPlaceholder(analysis.Summary, "*No summary available*"))
	sb.WriteString("\n\n## PDF Scan\n\n")
	fmt.Fprintf(&sb, "![[%s]]\n", pdfRelative)

	writeSection(&sb, "Tasks & Action Items", analysis.Tasks, "*No tasks identified*")
	writeSection(&sb, "Key Themes & Topics", analysis.Themes, "*No major themes identified*")
	writeSection(&sb, "Questions & Open Items", analysis.Questions, "*No open questions*")
	writeSection(&sb, "Insights & Observations", analysis.Insights, "*No additional insights*")
	writeSection(&sb, "Metadata", analysis.Metadata, "")

	sb.WriteString("\n---\n\n## Original OCR Text\n\n```\n")
	sb.WriteString(analysis.OriginalText)
	sb.WriteString("\n```\n")

	if tagStr != "" {
		fmt.Fprintf(&sb, "\n**Tags:** %s\n", tagStr)
	}
	return sb.String()
}

func writeSection(sb *strings.Builder, title, body, placeholder string) {
	sb.WriteString("\n---\n\n## " + title + "\n\n")
	sb.WriteString(orPlaceholder(body, placeholder))
	sb.WriteString("\n")
}

func orPlaceholder(body, placeholder string) string {
	if strings.TrimSpace(body) == "" {
		return placeholder
	}
	return strings.TrimSpace(body)
}

func hashTags(tags []string) string {
	if len(tags) == 0 {
		return ""
	}
	parts := make([]string, len(tags))
	for i, tag := range tags {
		parts[i] = "#" + tag
	}
	return strings.Join(parts, " ")
}

// writeFileAtomic writes via a temp file in the target directory and
// renames into place.
func writeFileAtomic(path string, data []byte) error {
	tempPath := path + ".tmp"
	f, err := os.OpenFile(tempPath, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0644)
	if err != nil {
		return fmt.Errorf("create note file: %w", err)
	}
	if _, err := f.Write(data); err != nil {
		f.Close()
		os.Remove(tempPath)
		return fmt.Errorf("write note file: %w", err)
	}
	if err := f.Sync(); err != nil {
		f.Close()
		os.Remove(tempPath)
		return fmt.Errorf("sync note file: %w", err)
	}
	if err := f.Close(); err != nil {
		os.Remove(tempPath)
		return fmt.Errorf("close note file: %w", err)
	}
	if err := os.Rename(tempPath, path); err != nil {
		os.Remove(tempPath)
		return fmt.Errorf("finalize note file: %w", err)
	}
	return nil
}

func copyFile(src, dest string) error {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()

	out, err := os.OpenFile(dest+".tmp", os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0644)
	if err != nil {
		return err
	}
	if _, err := io.Copy(out, in); err != nil {
		out.Close()
		os.Remove(dest + ".tmp")
		return err
	}
	if err := out.Close(); err != nil {
		os.Remove(dest + ".tmp")
		return err
	}
	if err := os.Rename(dest+".tmp", dest); err != nil {
		os.Remove(dest + ".tmp")
		return err
	}
	return nil
}
