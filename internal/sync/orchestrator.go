package sync

import (
	"context"
	"crypto/rand"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/oklog/ulid/v2"

	apperrors "inksync/internal/errors"
)

// Options configures a sync pass.
type Options struct {
	// Folder is the monitored remote folder name.
	Folder string

	// RetentionDays is the age past which remote files are swept after a
	// pass. Zero or negative disables the sweep.
	RetentionDays int

	// MinTextChars is the minimum useful extracted-text length. Shorter
	// extractions are replaced with a filename placeholder; the file is
	// still analyzed and written.
	MinTextChars int

	// TempDir holds in-flight downloads.
	TempDir string

	// Timeout bounds each remote call (download, analysis, sweep).
	Timeout time.Duration
}

// Orchestrator runs sync passes. It owns pass-level state only; durable
// processed-state belongs to the injected ProcessedStore.
type Orchestrator struct {
	source    Source
	extractor Extractor
	analyzer  Analyzer
	sink      Sink
	processed ProcessedStore
	opts      Options
	logger    *slog.Logger
	now       func() time.Time
}

// New creates an Orchestrator. A nil logger discards output.
func New(source Source, extractor Extractor, analyzer Analyzer, sink Sink, processed ProcessedStore, opts Options, logger *slog.Logger) *Orchestrator {
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	if opts.Timeout <= 0 {
		opts.Timeout = 2 * time.Minute
	}
	return &Orchestrator{
		source:    source,
		extractor: extractor,
		analyzer:  analyzer,
		sink:      sink,
		processed: processed,
		opts:      opts,
		logger:    logger,
		now:       time.Now,
	}
}

// RunPass performs one complete pass: list, process the work set with
// per-file isolation, then sweep remote files past the retention window.
// A listing failure is pass-fatal and returns an error alongside the
// partial outcome; per-file and sweep failures never do.
//
// Passes must not run concurrently against the same processed store; the
// caller is responsible for serializing invocations.
func (o *Orchestrator) RunPass(ctx context.Context) (*Outcome, error) {
	start := o.now()
	outcome := &Outcome{
		RunID:     ulid.MustNew(ulid.Timestamp(start), rand.Reader).String(),
		StartedAt: start,
	}

	listCtx, cancel := context.WithTimeout(ctx, o.opts.Timeout)
	files, err := o.source.List(listCtx, o.opts.Folder)
	cancel()
	if err != nil {
		outcome.FinishedAt = o.now()
		return outcome, apperrors.NewListingFailed(o.opts.Folder, err)
	}
	outcome.Listed = len(files)
	o.logger.Info("listed remote folder", "run_id", outcome.RunID,
		"folder", o.opts.Folder, "files", len(files))

	// Work set: listed files not yet processed, in listing order.
	for _, file := range files {
		if o.processed.Contains(file.ID) {
			outcome.Skipped++
			continue
		}

		if err := o.processFile(ctx, file); err != nil {
			o.logger.Error("file processing failed",
				"file_id", file.ID, "name", file.Name, "error", err)
			outcome.Failures = append(outcome.Failures, Failure{
				FileID: file.ID,
				Name:   file.Name,
				Reason: err.Error(),
			})
			continue
		}

		// Durably mark before moving on, so a crash here loses at most
		// the in-flight file. A failed mark leaves the id unprocessed;
		// the next pass re-runs the pipeline and the sink must tolerate
		// the resulting overwrite.
		if err := o.processed.Add(file.ID); err != nil {
			o.logger.Error("failed to mark file processed; it will be reprocessed next pass",
				"file_id", file.ID, "error", err)
			outcome.Failures = append(outcome.Failures, Failure{
				FileID: file.ID,
				Name:   file.Name,
				Reason: fmt.Sprintf("processed-store write failed: %v", err),
			})
			continue
		}

		outcome.Succeeded++
		o.logger.Info("file processed", "file_id", file.ID, "name", file.Name)
	}

	// Retention sweep runs regardless of per-file outcomes: retention is
	// a storage-management policy, not a processing-completeness
	// guarantee. A failed file past the cutoff is still deleted.
	if o.opts.RetentionDays > 0 {
		cutoff := start.AddDate(0, 0, -o.opts.RetentionDays)
		sweepCtx, cancel := context.WithTimeout(ctx, o.opts.Timeout)
		deleted, err := o.source.DeleteOlderThan(sweepCtx, o.opts.Folder, cutoff)
		cancel()
		if err != nil {
			o.logger.Error("retention sweep failed", "error", err)
		}
		outcome.Deleted = deleted
		if len(deleted) > 0 {
			o.logger.Info("retention sweep deleted remote files",
				"count", len(deleted), "cutoff", cutoff)
		}
	}

	outcome.FinishedAt = o.now()
	o.logger.Info("pass complete", "run_id", outcome.RunID,
		"listed", outcome.Listed, "skipped", outcome.Skipped,
		"succeeded", outcome.Succeeded, "failed", outcome.Failed(),
		"deleted", len(outcome.Deleted))
	return outcome, nil
}

// processFile runs the per-file pipeline: download, extract, analyze,
// write. Any error is returned for the caller to record; the id is left
// unprocessed so a later pass retries the whole pipeline from scratch.
func (o *Orchestrator) processFile(ctx context.Context, file RemoteFile) error {
	if err := os.MkdirAll(o.opts.TempDir, 0700); err != nil {
		return apperrors.NewInternal(err)
	}
	docPath := filepath.Join(o.opts.TempDir, tempName(file, o.now()))

	downloadCtx, cancel := context.WithTimeout(ctx, o.opts.Timeout)
	err := o.source.Download(downloadCtx, file.ID, docPath)
	cancel()
	if err != nil {
		return apperrors.NewDownloadFailed(file.ID, err)
	}
	defer os.Remove(docPath)

	data, err := os.ReadFile(docPath)
	if err != nil {
		return apperrors.NewDownloadFailed(file.ID, err)
	}

	text, err := o.safeExtract(data)
	if err != nil {
		return err
	}
	if len(strings.TrimSpace(text)) < o.opts.MinTextChars {
		o.logger.Warn("extraction below useful threshold, using placeholder",
			"file_id", file.ID, "name", file.Name, "chars", len(strings.TrimSpace(text)))
		text = placeholderText(file.Name)
	}

	analyzeCtx, cancel := context.WithTimeout(ctx, o.opts.Timeout)
	analysis, err := o.analyzer.Analyze(analyzeCtx, text, file.Name)
	cancel()
	if err != nil {
		return apperrors.NewAnalysisFailed(file.ID, err)
	}
	if analysis == nil {
		return apperrors.NewAnalysisFailed(file.ID, fmt.Errorf("analyzer returned no result"))
	}

	writeCtx, cancel := context.WithTimeout(ctx, o.opts.Timeout)
	defer cancel()
	notePath, err := o.sink.Write(writeCtx, analysis, file, docPath)
	if err != nil {
		return apperrors.NewNoteWrite(file.ID, err)
	}
	if err := o.sink.UpdateAggregates(writeCtx, analysis, file, notePath); err != nil {
		return apperrors.NewNoteWrite(file.ID, err)
	}

	o.logger.Info("note written", "file_id", file.ID, "note", notePath)
	return nil
}

// safeExtract guards against a misbehaving extractor. The Extractor
// contract says it never fails, but a panic here must stay a per-file
// error, not abort the pass.
func (o *Orchestrator) safeExtract(data []byte) (text string, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = apperrors.NewInternal(fmt.Errorf("extractor panic: %v", r))
		}
	}()
	return o.extractor.Extract(data), nil
}

// tempName derives a collision-free local filename for an in-flight
// download: a fresh ULID plus the remote id.
func tempName(file RemoteFile, now time.Time) string {
	id := ulid.MustNew(ulid.Timestamp(now), rand.Reader).String()
	return id + "-" + sanitizeName(file.ID) + ".pdf"
}

// sanitizeName keeps only filesystem-safe characters from a remote id.
func sanitizeName(s string) string {
	var b strings.Builder
	for _, r := range s {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '-', r == '_':
			b.WriteRune(r)
		default:
			b.WriteRune('_')
		}
	}
	return b.String()
}

// placeholderText stands in for scans with no extractable text. The file
// still gets an analyzed, tracked note, just with minimal context.
func placeholderText(filename string) string {
	return fmt.Sprintf("Scanned note: %s\n\nNote: text extraction produced no usable content. Review the attached document manually.", filename)
}
