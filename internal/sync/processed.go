package sync

import (
	"bufio"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	apperrors "inksync/internal/errors"
)

// FileStore is a flat-file ProcessedStore: one opaque id per line, append
// order preserved, safe to hand-edit (removing a line forces reprocessing
// on the next pass). It is a single-writer store; running two passes
// against the same file concurrently is unsupported.
type FileStore struct {
	path   string
	ids    map[string]bool
	file   *os.File
	logger *slog.Logger
}

// OpenFileStore loads the processed set from path. A missing file is an
// empty set. Malformed lines are skipped and logged, never fatal.
func OpenFileStore(path string, logger *slog.Logger) (*FileStore, error) {
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}

	s := &FileStore{
		path:   path,
		ids:    make(map[string]bool),
		logger: logger,
	}

	if err := s.load(); err != nil {
		return nil, err
	}

	if err := os.MkdirAll(filepath.Dir(path), 0700); err != nil {
		return nil, fmt.Errorf("failed to create processed-store directory: %w", err)
	}
	f, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0600)
	if err != nil {
		return nil, fmt.Errorf("failed to open processed store: %w", err)
	}
	s.file = f

	return s, nil
}

func (s *FileStore) load() error {
	f, err := os.Open(s.path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("failed to read processed store: %w", err)
	}
	defer f.Close()

	lineNo := 0
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		lineNo++
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		if !validID(line) {
			s.logger.Warn("skipping malformed processed-store line",
				"path", s.path, "line", lineNo)
			continue
		}
		s.ids[line] = true
	}
	if err := scanner.Err(); err != nil {
		return fmt.Errorf("failed to scan processed store: %w", err)
	}
	return nil
}

// Contains reports whether id has been fully processed.
func (s *FileStore) Contains(id string) bool {
	return s.ids[id]
}

// Len returns the number of processed ids.
func (s *FileStore) Len() int {
	return len(s.ids)
}

// Add durably appends id to the store. The write is flushed with fsync
// before Add returns, so a crash immediately after is equivalent to the
// id having been added. Adding an id twice is a no-op.
func (s *FileStore) Add(id string) error {
	if !validID(id) {
		return apperrors.NewInvalidRequest(fmt.Sprintf("invalid file id %q", id))
	}
	if s.ids[id] {
		return nil
	}

	if _, err := s.file.WriteString(id + "\n"); err != nil {
		return fmt.Errorf("failed to append to processed store: %w", err)
	}
	if err := s.file.Sync(); err != nil {
		return fmt.Errorf("failed to flush processed store: %w", err)
	}

	s.ids[id] = true
	return nil
}

// Remove drops id from the store, forcing reprocessing on the next pass.
// The backing file is rewritten atomically (temp file + rename).
func (s *FileStore) Remove(id string) error {
	if !s.ids[id] {
		return apperrors.NewNotFound(id)
	}

	// Preserve on-disk insertion order for the surviving ids.
	survivors, err := s.diskOrder(id)
	if err != nil {
		return err
	}

	tempPath := s.path + ".tmp"
	f, err := os.OpenFile(tempPath, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0600)
	if err != nil {
		return fmt.Errorf("failed to create temp processed store: %w", err)
	}
	for _, survivor := range survivors {
		if _, err := f.WriteString(survivor + "\n"); err != nil {
			f.Close()
			os.Remove(tempPath)
			return fmt.Errorf("failed to write temp processed store: %w", err)
		}
	}
	if err := f.Sync(); err != nil {
		f.Close()
		os.Remove(tempPath)
		return fmt.Errorf("failed to flush temp processed store: %w", err)
	}
	if err := f.Close(); err != nil {
		os.Remove(tempPath)
		return fmt.Errorf("failed to close temp processed store: %w", err)
	}
	if err := os.Rename(tempPath, s.path); err != nil {
		os.Remove(tempPath)
		return fmt.Errorf("failed to replace processed store: %w", err)
	}

	// Reopen the append handle against the new inode.
	s.file.Close()
	f, err = os.OpenFile(s.path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0600)
	if err != nil {
		return fmt.Errorf("failed to reopen processed store: %w", err)
	}
	s.file = f

	delete(s.ids, id)
	return nil
}

// diskOrder returns the well-formed ids currently on disk, minus the one
// being removed, in file order.
func (s *FileStore) diskOrder(excluded string) ([]string, error) {
	f, err := os.Open(s.path)
	if err != nil {
		return nil, fmt.Errorf("failed to read processed store: %w", err)
	}
	defer f.Close()

	var out []string
	seen := make(map[string]bool)
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || line == excluded || !validID(line) || seen[line] {
			continue
		}
		seen[line] = true
		out = append(out, line)
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("failed to scan processed store: %w", err)
	}
	return out, nil
}

// Close releases the append handle.
func (s *FileStore) Close() error {
	if s.file == nil {
		return nil
	}
	return s.file.Close()
}

// validID rejects lines that cannot be opaque file ids: embedded
// whitespace or control characters indicate a corrupt or hand-mangled
// entry.
func validID(id string) bool {
	if id == "" {
		return false
	}
	for _, r := range id {
		if r <= ' ' || r == 0x7f {
			return false
		}
	}
	return true
}
