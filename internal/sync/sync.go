// Package sync drives one end-to-end pass over a remote scan folder:
// list, filter against the processed set, download → extract → analyze →
// write per file with failure isolation, then sweep remote files past the
// retention window. All collaborators are injected so the orchestrator can
// be exercised with fakes.
package sync

import (
	"context"
	"time"
)

// RemoteFile is one entry in the remote folder listing. ID is the sole
// join key between remote state and the local processed set.
type RemoteFile struct {
	ID         string    `json:"id"`
	Name       string    `json:"name"`
	CreatedAt  time.Time `json:"created_at"`
	ModifiedAt time.Time `json:"modified_at"`
	SizeBytes  int64     `json:"size_bytes"`
}

// Analysis is the structured output of content analysis for one file.
// Section fields are always present (empty string, never absent) so
// downstream formatting never branches on missing keys.
type Analysis struct {
	FullText     string   `json:"full_text"`
	OriginalText string   `json:"original_text"`
	Tasks        string   `json:"tasks"`
	Themes       string   `json:"themes"`
	Questions    string   `json:"questions"`
	Insights     string   `json:"insights"`
	Tags         []string `json:"tags"`
	Summary      string   `json:"summary"`
	Metadata     string   `json:"metadata"`
}

// Failure records one isolated per-file error.
type Failure struct {
	FileID string `json:"file_id"`
	Name   string `json:"name"`
	Reason string `json:"reason"`
}

// Outcome is the aggregate report of one sync pass.
type Outcome struct {
	RunID      string    `json:"run_id"`
	StartedAt  time.Time `json:"started_at"`
	FinishedAt time.Time `json:"finished_at"`
	Listed     int       `json:"listed"`
	Skipped    int       `json:"skipped"`
	Succeeded  int       `json:"succeeded"`
	Failures   []Failure `json:"failures,omitempty"`
	Deleted    []string  `json:"deleted,omitempty"`
}

// Failed returns the number of per-file failures.
func (o *Outcome) Failed() int {
	return len(o.Failures)
}

// Source lists, downloads, and deletes files in the monitored remote
// folder. List must surface auth/network failures as errors, distinct
// from an empty folder.
type Source interface {
	List(ctx context.Context, folder string) ([]RemoteFile, error)
	Download(ctx context.Context, fileID, destPath string) error

	// DeleteOlderThan removes remote files created before cutoff and
	// returns the ids actually deleted; a partial result with nil error
	// is valid when individual deletes fail.
	DeleteOlderThan(ctx context.Context, folder string, cutoff time.Time) ([]string, error)
}

// Extractor produces best-effort plain text from a downloaded document.
// It returns "" on any internal failure and never returns an error.
type Extractor interface {
	Extract(data []byte) string
}

// Analyzer turns extracted text into a structured analysis. It may fail
// (rate limit, malformed response); the orchestrator treats that as a
// per-file error.
type Analyzer interface {
	Analyze(ctx context.Context, text, filename string) (*Analysis, error)
}

// Sink writes the formatted note and maintains the aggregate views.
// Write must be atomic: no partial note may remain on failure.
type Sink interface {
	Write(ctx context.Context, analysis *Analysis, file RemoteFile, docPath string) (notePath string, err error)
	UpdateAggregates(ctx context.Context, analysis *Analysis, file RemoteFile, notePath string) error
}

// ProcessedStore is the durable record of remote file ids that have been
// fully handled. Add must persist before returning; duplicate adds are
// no-ops.
type ProcessedStore interface {
	Contains(id string) bool
	Add(id string) error
}
