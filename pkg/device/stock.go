package device

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"
)

const (
	// stockRequestTimeout bounds the small metadata operations. Uploads are
	// governed by the caller's context instead: a large file on a ~150 KB/s
	// link legitimately takes minutes.
	stockRequestTimeout = 10 * time.Second
)

// StockClient speaks the factory firmware dialect: GET /list for listings
// and /edit for everything else (POST upload, PUT create, DELETE remove).
// The firmware has no move/rename and no status endpoint.
type StockClient struct {
	baseURL string
	http    *http.Client
}

// NewStockClient creates a client for the stock firmware at host.
func NewStockClient(host string) *StockClient {
	return &StockClient{
		baseURL: "http://" + host,
		http:    &http.Client{},
	}
}

func (c *StockClient) Label() string            { return "Stock firmware" }
func (c *StockClient) BaseURL() string          { return c.baseURL }
func (c *StockClient) SupportsMoveRename() bool { return false }

// stockEntry is the firmware's listing element: type is "file" or "dir",
// size is only present for files.
type stockEntry struct {
	Type string `json:"type"`
	Name string `json:"name"`
	Size int64  `json:"size"`
}

// ListFiles fetches GET /list?dir=<dir>.
func (c *StockClient) ListFiles(ctx context.Context, dir string) ([]FileEntry, error) {
	dir = joinDevicePath(dir)

	ctx, cancel := context.WithTimeout(ctx, stockRequestTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/list?dir="+url.QueryEscape(dir), nil)
	if err != nil {
		return nil, fmt.Errorf("failed to build list request: %w", err)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, classifyTransport(err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, c.rejectionError(resp)
	}

	var raw []stockEntry
	if err := json.NewDecoder(resp.Body).Decode(&raw); err != nil {
		return nil, fmt.Errorf("%w: failed to decode listing for %s: %v", ErrMalformedResponse, dir, err)
	}

	entries := make([]FileEntry, 0, len(raw))
	for _, e := range raw {
		entries = append(entries, FileEntry{
			Name:  e.Name,
			Path:  joinDevicePath(dir, e.Name),
			IsDir: e.Type == "dir",
			Size:  e.Size,
		})
	}
	return entries, nil
}

// CreateFolder issues PUT /edit with the folder path. The firmware answers
// "FILE EXISTS" when the path is already taken.
func (c *StockClient) CreateFolder(ctx context.Context, name, parent string) error {
	return c.editForm(ctx, http.MethodPut, joinDevicePath(parent, name))
}

// DeleteFile issues DELETE /edit with the file path.
func (c *StockClient) DeleteFile(ctx context.Context, filePath string) error {
	return c.editForm(ctx, http.MethodDelete, joinDevicePath(filePath))
}

// DeleteFolder issues DELETE /edit with the folder path. The firmware
// refuses non-empty folders with "DIR NOT EMPTY".
func (c *StockClient) DeleteFolder(ctx context.Context, folderPath string) error {
	return c.editForm(ctx, http.MethodDelete, joinDevicePath(folderPath))
}

// MoveFile is not available on the stock firmware.
func (c *StockClient) MoveFile(ctx context.Context, filePath, destination string) error {
	return fmt.Errorf("%w: stock firmware cannot move files", ErrDeviceRejected)
}

// RenameFile is not available on the stock firmware.
func (c *StockClient) RenameFile(ctx context.Context, filePath, newName string) error {
	return fmt.Errorf("%w: stock firmware cannot rename files", ErrDeviceRejected)
}

// EnsureFolder walks the path segments, listing and creating as needed.
func (c *StockClient) EnsureFolder(ctx context.Context, folderPath string) error {
	return ensureFolder(ctx, c, folderPath)
}

// UploadFile streams a multipart POST to /edit. The firmware takes the
// target path from the file part's filename. Connection loss is retried
// once immediately; any other failure propagates.
func (c *StockClient) UploadFile(ctx context.Context, data []byte, filename, folder string, onProgress ProgressFunc) error {
	if onProgress != nil {
		onProgress(0)
	}

	var lastErr error
	for attempt := 1; attempt <= uploadAttempts; attempt++ {
		lastErr = c.uploadOnce(ctx, data, filename, folder, onProgress)
		if lastErr == nil {
			if onProgress != nil {
				onProgress(1)
			}
			return nil
		}
		if !IsTransient(lastErr) || ctx.Err() != nil {
			return lastErr
		}
	}
	return lastErr
}

func (c *StockClient) uploadOnce(ctx context.Context, data []byte, filename, folder string, onProgress ProgressFunc) error {
	devicePath := joinDevicePath(folder, filename)
	body, contentType, err := buildMultipart("data", devicePath, data, nil)
	if err != nil {
		return err
	}

	total := int64(body.Len())
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/edit", newProgressReader(body, total, onProgress))
	if err != nil {
		return fmt.Errorf("failed to build upload request: %w", err)
	}
	req.Header.Set("Content-Type", contentType)
	req.ContentLength = total

	resp, err := c.http.Do(req)
	if err != nil {
		return classifyTransport(err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusCreated {
		return c.rejectionError(resp)
	}
	return nil
}

// FetchStatus returns (nil, nil): the stock firmware has no status endpoint.
func (c *StockClient) FetchStatus(ctx context.Context) (*DeviceStatus, error) {
	return nil, nil
}

// CheckReachability probes GET /. Any HTTP answer counts as alive; the
// stock firmware serves an odd status on the root page depending on the
// operating mode, so the status code is deliberately ignored.
func (c *StockClient) CheckReachability(ctx context.Context) bool {
	ctx, cancel := context.WithTimeout(ctx, stockRequestTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/", nil)
	if err != nil {
		return false
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return false
	}
	io.Copy(io.Discard, io.LimitReader(resp.Body, 1024))
	resp.Body.Close()
	return true
}

// editForm sends a form-encoded request to /edit, the firmware's shared
// mutation endpoint.
func (c *StockClient) editForm(ctx context.Context, method, devicePath string) error {
	ctx, cancel := context.WithTimeout(ctx, stockRequestTimeout)
	defer cancel()

	form := url.Values{"path": {devicePath}}
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+"/edit", strings.NewReader(form.Encode()))
	if err != nil {
		return fmt.Errorf("failed to build %s request: %w", method, err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := c.http.Do(req)
	if err != nil {
		return classifyTransport(err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return c.rejectionError(resp)
	}
	return nil
}

// rejectionError maps a non-2xx /edit or /list response onto the taxonomy
// using the firmware's terse uppercase error strings.
func (c *StockClient) rejectionError(resp *http.Response) error {
	body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
	text := strings.ToUpper(strings.TrimSpace(string(body)))

	switch {
	case strings.Contains(text, "NOT EMPTY"):
		return fmt.Errorf("%w: %s", ErrFolderNotEmpty, text)
	case strings.Contains(text, "EXISTS"):
		return fmt.Errorf("%w: %s", ErrAlreadyExists, text)
	default:
		return fmt.Errorf("%w: status %d: %s", ErrDeviceRejected, resp.StatusCode, text)
	}
}
