// Package drive is the Google Drive v3 adapter behind the sync Source
// interface: folder lookup, PDF listing, media download, and age-based
// deletion, over plain REST.
package drive

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	apperrors "inksync/internal/errors"
	syncer "inksync/internal/sync"
)

const defaultBaseURL = "https://www.googleapis.com/drive/v3"

// APIError is a non-2xx Drive API response.
type APIError struct {
	StatusCode int
	Message    string
}

func (e *APIError) Error() string {
	if e.Message != "" {
		return fmt.Sprintf("drive api %d: %s", e.StatusCode, e.Message)
	}
	return fmt.Sprintf("drive api %d", e.StatusCode)
}

// Client talks to the Drive API. It implements sync.Source given a
// folder id resolved once via FindFolder.
type Client struct {
	baseURL    string
	tokens     TokenSource
	httpClient *http.Client
	maxRetries int
	baseDelay  time.Duration
	maxDelay   time.Duration
	logger     *slog.Logger
}

// NewClient creates a Drive client. A nil httpClient gets a 30s timeout;
// a nil logger discards output.
func NewClient(tokens TokenSource, httpClient *http.Client, logger *slog.Logger) *Client {
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 30 * time.Second}
	}
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	return &Client{
		baseURL:    defaultBaseURL,
		tokens:     tokens,
		httpClient: httpClient,
		maxRetries: 3,
		baseDelay:  200 * time.Millisecond,
		maxDelay:   5 * time.Second,
		logger:     logger,
	}
}

// SetBaseURL overrides the API endpoint. Tests point this at a local
// httptest server.
func (c *Client) SetBaseURL(base string) {
	c.baseURL = strings.TrimRight(base, "/")
}

// FindFolder resolves a folder name to its id. A missing folder is
// NOT_FOUND, distinct from transport errors.
func (c *Client) FindFolder(ctx context.Context, name string) (string, error) {
	q := fmt.Sprintf("name='%s' and mimeType='application/vnd.google-apps.folder' and trashed=false",
		escapeQuery(name))
	params := url.Values{
		"q":      {q},
		"spaces": {"drive"},
		"fields": {"files(id, name)"},
	}

	var body fileList
	if err := c.getJSON(ctx, "/files?"+params.Encode(), &body); err != nil {
		return "", err
	}
	if len(body.Files) == 0 {
		return "", apperrors.NewNotFound("folder " + name)
	}
	return body.Files[0].ID, nil
}

// List returns the PDF files in a folder, in the order the API returns
// them (createdTime descending). An empty folder is an empty slice, not
// an error.
func (c *Client) List(ctx context.Context, folderID string) ([]syncer.RemoteFile, error) {
	q := fmt.Sprintf("'%s' in parents and mimeType='application/pdf' and trashed=false",
		escapeQuery(folderID))

	var files []syncer.RemoteFile
	pageToken := ""
	for {
		params := url.Values{
			"q":       {q},
			"spaces":  {"drive"},
			"fields":  {"nextPageToken, files(id, name, createdTime, modifiedTime, size)"},
			"orderBy": {"createdTime desc"},
		}
		if pageToken != "" {
			params.Set("pageToken", pageToken)
		}

		var body fileList
		if err := c.getJSON(ctx, "/files?"+params.Encode(), &body); err != nil {
			return nil, err
		}
		for _, f := range body.Files {
			files = append(files, f.toRemoteFile())
		}
		if body.NextPageToken == "" {
			return files, nil
		}
		pageToken = body.NextPageToken
	}
}

// Download fetches a file's content to destPath. The destination is
// written via a temp file and renamed so an interrupted download never
// leaves a partial file at destPath.
func (c *Client) Download(ctx context.Context, fileID, destPath string) error {
	resp, err := c.do(ctx, http.MethodGet, "/files/"+url.PathEscape(fileID)+"?alt=media", nil)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if err := os.MkdirAll(filepath.Dir(destPath), 0700); err != nil {
		return fmt.Errorf("create download directory: %w", err)
	}
	tempPath := destPath + ".part"
	f, err := os.OpenFile(tempPath, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0600)
	if err != nil {
		return fmt.Errorf("create download file: %w", err)
	}
	if _, err := io.Copy(f, resp.Body); err != nil {
		f.Close()
		os.Remove(tempPath)
		return fmt.Errorf("write download: %w", err)
	}
	if err := f.Close(); err != nil {
		os.Remove(tempPath)
		return fmt.Errorf("close download: %w", err)
	}
	if err := os.Rename(tempPath, destPath); err != nil {
		os.Remove(tempPath)
		return fmt.Errorf("finalize download: %w", err)
	}
	return nil
}

// DeleteOlderThan deletes files in the folder created before cutoff and
// returns the ids actually deleted. Individual delete failures are
// logged and skipped; the sweep continues.
func (c *Client) DeleteOlderThan(ctx context.Context, folderID string, cutoff time.Time) ([]string, error) {
	q := fmt.Sprintf("'%s' in parents and createdTime < '%s' and trashed=false",
		escapeQuery(folderID), cutoff.UTC().Format(time.RFC3339))
	params := url.Values{
		"q":      {q},
		"spaces": {"drive"},
		"fields": {"files(id, name, createdTime)"},
	}

	var body fileList
	if err := c.getJSON(ctx, "/files?"+params.Encode(), &body); err != nil {
		return nil, err
	}

	var deleted []string
	for _, f := range body.Files {
		if err := c.delete(ctx, f.ID); err != nil {
			c.logger.Error("retention delete failed", "file_id", f.ID, "name", f.Name, "error", err)
			continue
		}
		c.logger.Info("deleted aged remote file", "file_id", f.ID, "name", f.Name, "created", f.CreatedTime)
		deleted = append(deleted, f.ID)
	}
	return deleted, nil
}

func (c *Client) delete(ctx context.Context, fileID string) error {
	resp, err := c.do(ctx, http.MethodDelete, "/files/"+url.PathEscape(fileID), nil)
	if err != nil {
		return err
	}
	resp.Body.Close()
	return nil
}

func (c *Client) getJSON(ctx context.Context, path string, out any) error {
	resp, err := c.do(ctx, http.MethodGet, path, nil)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode drive response: %w", err)
	}
	return nil
}

// do issues one API request with auth, retrying transient failures
// (429, 5xx, transport errors) with exponential backoff. A Retry-After
// header sets the next delay instead. The response body is open on
// success; the caller closes it.
func (c *Client) do(ctx context.Context, method, path string, body io.Reader) (*http.Response, error) {
	var lastErr error
	delay := c.baseDelay

	for attempt := 0; attempt <= c.maxRetries; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-time.After(delay):
			}
			delay *= 2
			if delay > c.maxDelay {
				delay = c.maxDelay
			}
		}

		token, err := c.tokens.Token(ctx)
		if err != nil {
			return nil, err
		}

		req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
		if err != nil {
			return nil, fmt.Errorf("build drive request: %w", err)
		}
		req.Header.Set("Authorization", "Bearer "+token)

		resp, err := c.httpClient.Do(req)
		if err != nil {
			lastErr = err
			continue
		}

		switch {
		case resp.StatusCode >= 200 && resp.StatusCode < 300:
			return resp, nil
		case resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden:
			resp.Body.Close()
			return nil, apperrors.NewUnauthorized("google drive", &APIError{StatusCode: resp.StatusCode})
		case resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500:
			lastErr = apiError(resp)
			if ra := retryAfterFrom(resp); ra > 0 {
				delay = ra
			}
			resp.Body.Close()
			continue
		default:
			err := apiError(resp)
			resp.Body.Close()
			return nil, err
		}
	}
	return nil, fmt.Errorf("drive request failed after %d attempts: %w", c.maxRetries+1, lastErr)
}

// retryAfterFrom reads a seconds-valued Retry-After header, 0 when
// absent or unparseable.
func retryAfterFrom(resp *http.Response) time.Duration {
	secs, err := strconv.Atoi(resp.Header.Get("Retry-After"))
	if err != nil || secs <= 0 {
		return 0
	}
	return time.Duration(secs) * time.Second
}

// apiError extracts the error message from a Drive error payload.
func apiError(resp *http.Response) error {
	var body struct {
		Error struct {
			Message string `json:"message"`
		} `json:"error"`
	}
	_ = json.NewDecoder(io.LimitReader(resp.Body, 64<<10)).Decode(&body)
	return &APIError{StatusCode: resp.StatusCode, Message: body.Error.Message}
}

// escapeQuery escapes single quotes and backslashes in Drive query values.
func escapeQuery(s string) string {
	s = strings.ReplaceAll(s, `\`, `\\`)
	return strings.ReplaceAll(s, `'`, `\'`)
}

type fileList struct {
	NextPageToken string     `json:"nextPageToken"`
	Files         []fileMeta `json:"files"`
}

type fileMeta struct {
	ID           string `json:"id"`
	Name         string `json:"name"`
	CreatedTime  string `json:"createdTime"`
	ModifiedTime string `json:"modifiedTime"`
	Size         string `json:"size"`
}

func (f fileMeta) toRemoteFile() syncer.RemoteFile {
	created, _ := time.Parse(time.RFC3339, f.CreatedTime)
	modified, _ := time.Parse(time.RFC3339, f.ModifiedTime)
	size, _ := strconv.ParseInt(f.Size, 10, 64)
	return syncer.RemoteFile{
		ID:         f.ID,
		Name:       f.Name,
		CreatedAt:  created,
		ModifiedAt: modified,
		SizeBytes:  size,
	}
}
