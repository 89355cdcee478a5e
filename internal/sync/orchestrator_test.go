package sync

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

type fakeSource struct {
	files       []RemoteFile
	listErr     error
	downloadErr map[string]error
	deleted     []string
	deleteErr   error
	sweepCalled bool
	gotCutoff   time.Time
}

func (s *fakeSource) List(_ context.Context, _ string) ([]RemoteFile, error) {
	if s.listErr != nil {
		return nil, s.listErr
	}
	return s.files, nil
}

func (s *fakeSource) Download(_ context.Context, fileID, destPath string) error {
	if err := s.downloadErr[fileID]; err != nil {
		return err
	}
	return os.WriteFile(destPath, []byte("%PDF-1.4 fake content for "+fileID), 0600)
}

func (s *fakeSource) DeleteOlderThan(_ context.Context, _ string, cutoff time.Time) ([]string, error) {
	s.sweepCalled = true
	s.gotCutoff = cutoff
	if s.deleteErr != nil {
		return nil, s.deleteErr
	}
	var deleted []string
	for _, f := range s.files {
		if f.CreatedAt.Before(cutoff) {
			deleted = append(deleted, f.ID)
		}
	}
	s.deleted = deleted
	return deleted, nil
}

type fakeExtractor struct {
	text    string
	panics  bool
	samples [][]byte
}

func (e *fakeExtractor) Extract(data []byte) string {
	if e.panics {
		panic("extractor bug")
	}
	e.samples = append(e.samples, data)
	return e.text
}

type fakeAnalyzer struct {
	failOn map[string]bool // by filename
	texts  []string
}

func (a *fakeAnalyzer) Analyze(_ context.Context, text, filename string) (*Analysis, error) {
	if a.failOn[filename] {
		return nil, fmt.Errorf("model overloaded")
	}
	a.texts = append(a.texts, text)
	return &Analysis{
		FullText:     "## Summary\nok",
		OriginalText: text,
		Summary:      "ok",
		Tags:         []string{"test"},
	}, nil
}

type fakeSink struct {
	writeErrOn map[string]error // by file id
	written    []string         // file ids
	aggregates []string         // file ids
	docPaths   []string
}

func (s *fakeSink) Write(_ context.Context, _ *Analysis, file RemoteFile, docPath string) (string, error) {
	if err := s.writeErrOn[file.ID]; err != nil {
		return "", err
	}
	s.written = append(s.written, file.ID)
	s.docPaths = append(s.docPaths, docPath)
	return "/vault/Scans/" + file.ID + ".md", nil
}

func (s *fakeSink) UpdateAggregates(_ context.Context, _ *Analysis, file RemoteFile, _ string) error {
	s.aggregates = append(s.aggregates, file.ID)
	return nil
}

type memStore struct {
	ids      map[string]bool
	addCalls []string
	addErr   error
}

func newMemStore(ids ...string) *memStore {
	s := &memStore{ids: make(map[string]bool)}
	for _, id := range ids {
		s.ids[id] = true
	}
	return s
}

func (s *memStore) Contains(id string) bool { return s.ids[id] }

func (s *memStore) Add(id string) error {
	s.addCalls = append(s.addCalls, id)
	if s.addErr != nil {
		return s.addErr
	}
	s.ids[id] = true
	return nil
}

func remoteFile(id string, age time.Duration) RemoteFile {
	created := time.Date(2026, 8, 24, 12, 0, 0, 0, time.UTC).Add(-age)
	return RemoteFile{
		ID:         id,
		Name:       id + ".pdf",
		CreatedAt:  created,
		ModifiedAt: created,
		SizeBytes:  1024,
	}
}

type harness struct {
	source    *fakeSource
	extractor *fakeExtractor
	analyzer  *fakeAnalyzer
	sink      *fakeSink
	store     *memStore
	orch      *Orchestrator
}

func newHarness(t *testing.T, files []RemoteFile) *harness {
	t.Helper()
	h := &harness{
		source:    &fakeSource{files: files, downloadErr: map[string]error{}},
		extractor: &fakeExtractor{text: "A page of handwritten notes with plenty of extracted text."},
		analyzer:  &fakeAnalyzer{failOn: map[string]bool{}},
		sink:      &fakeSink{writeErrOn: map[string]error{}},
		store:     newMemStore(),
	}
	h.orch = New(h.source, h.extractor, h.analyzer, h.sink, h.store, Options{
		Folder:        "Scans",
		RetentionDays: 30,
		MinTextChars:  20,
		TempDir:       filepath.Join(t.TempDir(), "tmp"),
		Timeout:       5 * time.Second,
	}, nil)
	h.orch.now = func() time.Time {
		return time.Date(2026, 8, 24, 12, 0, 0, 0, time.UTC)
	}
	return h
}

func TestRunPass_RoundTrip(t *testing.T) {
	files := []RemoteFile{
		remoteFile("drive-1", time.Hour),
		remoteFile("drive-2", 2*time.Hour),
		remoteFile("drive-3", 3*time.Hour),
	}
	h := newHarness(t, files)

	outcome, err := h.orch.RunPass(context.Background())
	if err != nil {
		t.Fatalf("RunPass failed: %v", err)
	}

	if outcome.Listed != 3 || outcome.Succeeded != 3 || outcome.Failed() != 0 || outcome.Skipped != 0 {
		t.Errorf("outcome = listed %d, succeeded %d, failed %d, skipped %d; want 3/3/0/0",
			outcome.Listed, outcome.Succeeded, outcome.Failed(), outcome.Skipped)
	}
	for _, f := range files {
		if !h.store.Contains(f.ID) {
			t.Errorf("store missing %s after successful pass", f.ID)
		}
	}
	if len(h.store.addCalls) != 3 {
		t.Errorf("Add called %d times, want 3", len(h.store.addCalls))
	}
	if len(h.sink.aggregates) != 3 {
		t.Errorf("UpdateAggregates called %d times, want 3", len(h.sink.aggregates))
	}
	if outcome.RunID == "" {
		t.Error("RunID should be set")
	}
}

func TestRunPass_Idempotent(t *testing.T) {
	files := []RemoteFile{remoteFile("drive-1", time.Hour), remoteFile("drive-2", time.Hour)}
	h := newHarness(t, files)

	if _, err := h.orch.RunPass(context.Background()); err != nil {
		t.Fatalf("first pass failed: %v", err)
	}

	second, err := h.orch.RunPass(context.Background())
	if err != nil {
		t.Fatalf("second pass failed: %v", err)
	}
	if second.Succeeded != 0 || second.Failed() != 0 || second.Skipped != 2 {
		t.Errorf("second pass = succeeded %d, failed %d, skipped %d; want 0/0/2",
			second.Succeeded, second.Failed(), second.Skipped)
	}
	if len(h.sink.written) != 2 {
		t.Errorf("sink wrote %d notes across both passes, want 2", len(h.sink.written))
	}
}

func TestRunPass_ListingFailureIsFatal(t *testing.T) {
	h := newHarness(t, nil)
	h.source.listErr = fmt.Errorf("401 invalid credentials")

	outcome, err := h.orch.RunPass(context.Background())
	if err == nil {
		t.Fatal("RunPass should fail when listing fails")
	}
	if outcome.Succeeded != 0 || outcome.Listed != 0 {
		t.Errorf("outcome after fatal listing = %+v, want zero progress", outcome)
	}
	if len(h.store.addCalls) != 0 {
		t.Error("no ids may be marked processed after a fatal listing")
	}
}

func TestRunPass_FailureIsolation(t *testing.T) {
	files := []RemoteFile{
		remoteFile("drive-1", time.Hour),
		remoteFile("drive-2", time.Hour),
		remoteFile("drive-3", time.Hour),
	}
	h := newHarness(t, files)
	h.analyzer.failOn["drive-2.pdf"] = true

	outcome, err := h.orch.RunPass(context.Background())
	if err != nil {
		t.Fatalf("RunPass failed: %v", err)
	}

	if outcome.Succeeded != 2 || outcome.Failed() != 1 {
		t.Errorf("outcome = succeeded %d, failed %d; want 2/1", outcome.Succeeded, outcome.Failed())
	}
	if outcome.Failures[0].FileID != "drive-2" {
		t.Errorf("failed id = %q, want drive-2", outcome.Failures[0].FileID)
	}
	if !strings.Contains(outcome.Failures[0].Reason, "ANALYSIS_FAILED") {
		t.Errorf("failure reason = %q, want analysis failure", outcome.Failures[0].Reason)
	}
	if h.store.Contains("drive-2") {
		t.Error("failed file must not be marked processed")
	}
	if !h.store.Contains("drive-1") || !h.store.Contains("drive-3") {
		t.Error("files around the failure should still be marked processed")
	}
}

func TestRunPass_DownloadFailureIsolated(t *testing.T) {
	files := []RemoteFile{remoteFile("drive-1", time.Hour), remoteFile("drive-2", time.Hour)}
	h := newHarness(t, files)
	h.source.downloadErr["drive-1"] = fmt.Errorf("network reset")

	outcome, err := h.orch.RunPass(context.Background())
	if err != nil {
		t.Fatalf("RunPass failed: %v", err)
	}
	if outcome.Succeeded != 1 || outcome.Failed() != 1 {
		t.Errorf("outcome = succeeded %d, failed %d; want 1/1", outcome.Succeeded, outcome.Failed())
	}
	if h.store.Contains("drive-1") {
		t.Error("file with failed download must stay unprocessed")
	}
}

func TestRunPass_NoteWriteFailureIsolated(t *testing.T) {
	files := []RemoteFile{remoteFile("drive-1", time.Hour)}
	h := newHarness(t, files)
	h.sink.writeErrOn["drive-1"] = fmt.Errorf("disk full")

	outcome, err := h.orch.RunPass(context.Background())
	if err != nil {
		t.Fatalf("RunPass failed: %v", err)
	}
	if outcome.Failed() != 1 || h.store.Contains("drive-1") {
		t.Error("write failure must leave the id unprocessed")
	}
}

func TestRunPass_ExtractorPanicIsolated(t *testing.T) {
	files := []RemoteFile{remoteFile("drive-1", time.Hour)}
	h := newHarness(t, files)
	h.extractor.panics = true

	outcome, err := h.orch.RunPass(context.Background())
	if err != nil {
		t.Fatalf("RunPass failed: %v", err)
	}
	if outcome.Failed() != 1 {
		t.Errorf("failed = %d, want 1", outcome.Failed())
	}
	if h.store.Contains("drive-1") {
		t.Error("file must stay unprocessed after extractor panic")
	}
}

func TestRunPass_DegradeOnEmptyText(t *testing.T) {
	files := []RemoteFile{remoteFile("drive-1", time.Hour)}
	h := newHarness(t, files)
	h.extractor.text = ""

	outcome, err := h.orch.RunPass(context.Background())
	if err != nil {
		t.Fatalf("RunPass failed: %v", err)
	}
	if outcome.Succeeded != 1 {
		t.Errorf("succeeded = %d, want 1 (degrade, not skip)", outcome.Succeeded)
	}
	if len(h.sink.written) != 1 {
		t.Error("a note must still be written for an empty extraction")
	}
	if len(h.analyzer.texts) != 1 || !strings.Contains(h.analyzer.texts[0], "drive-1.pdf") {
		t.Errorf("analyzer should receive the filename placeholder, got %q", h.analyzer.texts)
	}
}

func TestRunPass_AddOnlyAfterFullSuccess(t *testing.T) {
	files := []RemoteFile{remoteFile("drive-1", time.Hour)}
	h := newHarness(t, files)
	h.sink.writeErrOn["drive-1"] = fmt.Errorf("rejected")

	if _, err := h.orch.RunPass(context.Background()); err != nil {
		t.Fatalf("RunPass failed: %v", err)
	}
	if len(h.store.addCalls) != 0 {
		t.Errorf("Add called %d times for a failed file, want 0", len(h.store.addCalls))
	}

	// Fix the sink; the next pass retries and marks exactly once.
	delete(h.sink.writeErrOn, "drive-1")
	if _, err := h.orch.RunPass(context.Background()); err != nil {
		t.Fatalf("second pass failed: %v", err)
	}
	if len(h.store.addCalls) != 1 || h.store.addCalls[0] != "drive-1" {
		t.Errorf("addCalls = %v, want exactly one for drive-1", h.store.addCalls)
	}
}

func TestRunPass_ProcessedStoreAddFailure(t *testing.T) {
	files := []RemoteFile{remoteFile("drive-1", time.Hour)}
	h := newHarness(t, files)
	h.store.addErr = fmt.Errorf("disk full")

	outcome, err := h.orch.RunPass(context.Background())
	if err != nil {
		t.Fatalf("RunPass failed: %v", err)
	}
	if outcome.Succeeded != 0 || outcome.Failed() != 1 {
		t.Errorf("outcome = succeeded %d, failed %d; want 0/1", outcome.Succeeded, outcome.Failed())
	}
}

func TestRunPass_RetentionIndependentOfOutcome(t *testing.T) {
	// drive-old failed processing but is past the 30-day window; the
	// sweep still deletes it.
	files := []RemoteFile{
		remoteFile("drive-old", 45*24*time.Hour),
		remoteFile("drive-new", time.Hour),
	}
	h := newHarness(t, files)
	h.analyzer.failOn["drive-old.pdf"] = true

	outcome, err := h.orch.RunPass(context.Background())
	if err != nil {
		t.Fatalf("RunPass failed: %v", err)
	}

	if !h.source.sweepCalled {
		t.Fatal("sweep must run after the work loop")
	}
	wantCutoff := h.orch.now().AddDate(0, 0, -30)
	if !h.source.gotCutoff.Equal(wantCutoff) {
		t.Errorf("cutoff = %v, want %v", h.source.gotCutoff, wantCutoff)
	}
	if len(outcome.Deleted) != 1 || outcome.Deleted[0] != "drive-old" {
		t.Errorf("deleted = %v, want [drive-old]", outcome.Deleted)
	}
	if outcome.Failed() != 1 {
		t.Errorf("failed = %d, want 1", outcome.Failed())
	}
}

func TestRunPass_SweepDisabled(t *testing.T) {
	files := []RemoteFile{remoteFile("drive-old", 90*24*time.Hour)}
	h := newHarness(t, files)
	h.orch.opts.RetentionDays = 0

	if _, err := h.orch.RunPass(context.Background()); err != nil {
		t.Fatalf("RunPass failed: %v", err)
	}
	if h.source.sweepCalled {
		t.Error("sweep must not run with retention disabled")
	}
}

func TestRunPass_SweepFailureNonFatal(t *testing.T) {
	files := []RemoteFile{remoteFile("drive-1", time.Hour)}
	h := newHarness(t, files)
	h.source.deleteErr = fmt.Errorf("backend unavailable")

	outcome, err := h.orch.RunPass(context.Background())
	if err != nil {
		t.Fatalf("sweep failure must not fail the pass: %v", err)
	}
	if outcome.Succeeded != 1 {
		t.Errorf("succeeded = %d, want 1", outcome.Succeeded)
	}
}

func TestRunPass_TempFilesCleanedUp(t *testing.T) {
	files := []RemoteFile{remoteFile("drive-1", time.Hour), remoteFile("drive-2", time.Hour)}
	h := newHarness(t, files)
	h.sink.writeErrOn["drive-2"] = fmt.Errorf("rejected")

	if _, err := h.orch.RunPass(context.Background()); err != nil {
		t.Fatalf("RunPass failed: %v", err)
	}

	entries, err := os.ReadDir(h.orch.opts.TempDir)
	if err != nil {
		t.Fatalf("ReadDir failed: %v", err)
	}
	if len(entries) != 0 {
		t.Errorf("%d temp files left behind, want 0", len(entries))
	}
}

func TestRunPass_TempNamesCollisionFree(t *testing.T) {
	now := time.Now()
	a := tempName(RemoteFile{ID: "same-id"}, now)
	b := tempName(RemoteFile{ID: "same-id"}, now)
	if a == b {
		t.Errorf("temp names for the same file must differ, both %q", a)
	}
	if !strings.Contains(a, "same-id") {
		t.Errorf("temp name %q should embed the remote id", a)
	}
}
