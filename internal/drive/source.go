package drive

import (
	"context"
	"sync"
	"time"

	syncer "inksync/internal/sync"
)

// Source adapts Client to the orchestrator's Source interface: the
// orchestrator speaks folder names, the Drive API speaks folder ids.
// Resolution happens on first use and is cached for the process.
type Source struct {
	client *Client

	mu        sync.Mutex
	folderIDs map[string]string
}

// NewSource wraps a Client as a sync.Source.
func NewSource(client *Client) *Source {
	return &Source{
		client:    client,
		folderIDs: make(map[string]string),
	}
}

// List implements sync.Source.
func (s *Source) List(ctx context.Context, folder string) ([]syncer.RemoteFile, error) {
	id, err := s.folderID(ctx, folder)
	if err != nil {
		return nil, err
	}
	return s.client.List(ctx, id)
}

// Download implements sync.Source.
func (s *Source) Download(ctx context.Context, fileID, destPath string) error {
	return s.client.Download(ctx, fileID, destPath)
}

// DeleteOlderThan implements sync.Source.
func (s *Source) DeleteOlderThan(ctx context.Context, folder string, cutoff time.Time) ([]string, error) {
	id, err := s.folderID(ctx, folder)
	if err != nil {
		return nil, err
	}
	return s.client.DeleteOlderThan(ctx, id, cutoff)
}

func (s *Source) folderID(ctx context.Context, folder string) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if id, ok := s.folderIDs[folder]; ok {
		return id, nil
	}
	id, err := s.client.FindFolder(ctx, folder)
	if err != nil {
		return "", err
	}
	s.folderIDs[folder] = id
	return id, nil
}
