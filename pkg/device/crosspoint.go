package device

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"
)

const crosspointRequestTimeout = 10 * time.Second

// CrosspointClient speaks the alternate community firmware dialect:
// /api/files, /upload, /mkdir, /delete, plus optional /api/status, /move
// and /rename. It is the only dialect that supports move/rename.
type CrosspointClient struct {
	baseURL string
	http    *http.Client
}

// NewCrosspointClient creates a client for the crosspoint firmware at host.
func NewCrosspointClient(host string) *CrosspointClient {
	return &CrosspointClient{
		baseURL: "http://" + host,
		http:    &http.Client{},
	}
}

func (c *CrosspointClient) Label() string            { return "Crosspoint firmware" }
func (c *CrosspointClient) BaseURL() string          { return c.baseURL }
func (c *CrosspointClient) SupportsMoveRename() bool { return true }

type crosspointListing struct {
	Files []crosspointEntry `json:"files"`
}

type crosspointEntry struct {
	Name        string `json:"name"`
	Path        string `json:"path"`
	IsDirectory bool   `json:"isDirectory"`
	Size        int64  `json:"size"`
}

// ListFiles fetches GET /api/files?path=<dir>.
func (c *CrosspointClient) ListFiles(ctx context.Context, dir string) ([]FileEntry, error) {
	dir = joinDevicePath(dir)

	ctx, cancel := context.WithTimeout(ctx, crosspointRequestTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/api/files?path="+url.QueryEscape(dir), nil)
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

	var listing crosspointListing
	if err := json.NewDecoder(resp.Body).Decode(&listing); err != nil {
		return nil, fmt.Errorf("%w: failed to decode listing for %s: %v", ErrMalformedResponse, dir, err)
	}

	entries := make([]FileEntry, 0, len(listing.Files))
	for _, e := range listing.Files {
		entryPath := e.Path
		if entryPath == "" {
			entryPath = joinDevicePath(dir, e.Name)
		}
		entries = append(entries, FileEntry{
			Name:  e.Name,
			Path:  joinDevicePath(entryPath),
			IsDir: e.IsDirectory,
			Size:  e.Size,
		})
	}
	return entries, nil
}

// CreateFolder issues POST /mkdir. The firmware answers 409 when the folder
// is already present.
func (c *CrosspointClient) CreateFolder(ctx context.Context, name, parent string) error {
	return c.postJSON(ctx, "/mkdir", map[string]string{"path": joinDevicePath(parent, name)})
}

// DeleteFile issues POST /delete with the file path.
func (c *CrosspointClient) DeleteFile(ctx context.Context, filePath string) error {
	return c.postJSON(ctx, "/delete", map[string]string{"path": joinDevicePath(filePath)})
}

// DeleteFolder issues POST /delete with the folder path. The firmware
// refuses non-empty folders with 409 "directory not empty".
func (c *CrosspointClient) DeleteFolder(ctx context.Context, folderPath string) error {
	return c.postJSON(ctx, "/delete", map[string]string{"path": joinDevicePath(folderPath)})
}

// MoveFile issues POST /move.
func (c *CrosspointClient) MoveFile(ctx context.Context, filePath, destination string) error {
	return c.postJSON(ctx, "/move", map[string]string{
		"path":        joinDevicePath(filePath),
		"destination": joinDevicePath(destination),
	})
}

// RenameFile issues POST /rename.
func (c *CrosspointClient) RenameFile(ctx context.Context, filePath, newName string) error {
	return c.postJSON(ctx, "/rename", map[string]string{
		"path": joinDevicePath(filePath),
		"name": newName,
	})
}

// EnsureFolder walks the path segments, listing and creating as needed.
func (c *CrosspointClient) EnsureFolder(ctx context.Context, folderPath string) error {
	return ensureFolder(ctx, c, folderPath)
}

// UploadFile streams a multipart POST to /upload with the destination
// folder as a form field. Connection loss is retried once immediately; any
// other failure propagates.
func (c *CrosspointClient) UploadFile(ctx context.Context, data []byte, filename, folder string, onProgress ProgressFunc) error {
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

func (c *CrosspointClient) uploadOnce(ctx context.Context, data []byte, filename, folder string, onProgress ProgressFunc) error {
	body, contentType, err := buildMultipart("file", filename, data, map[string]string{
		"path": joinDevicePath(folder),
	})
	if err != nil {
		return err
	}

	total := int64(body.Len())
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/upload", newProgressReader(body, total, onProgress))
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

type crosspointStatus struct {
	UptimeSeconds int64  `json:"uptime"`
	RSSI          int    `json:"rssi"`
	Firmware      string `json:"firmware"`
	Mode          string `json:"mode"`
}

// FetchStatus fetches GET /api/status. Older crosspoint builds lack the
// endpoint; a 404 is reported as (nil, nil), not an error.
func (c *CrosspointClient) FetchStatus(ctx context.Context) (*DeviceStatus, error) {
	ctx, cancel := context.WithTimeout(ctx, crosspointRequestTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/api/status", nil)
	if err != nil {
		return nil, fmt.Errorf("failed to build status request: %w", err)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, classifyTransport(err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotFound {
		return nil, nil
	}
	if resp.StatusCode != http.StatusOK {
		return nil, c.rejectionError(resp)
	}

	var raw crosspointStatus
	if err := json.NewDecoder(resp.Body).Decode(&raw); err != nil {
		return nil, fmt.Errorf("%w: failed to decode status: %v", ErrMalformedResponse, err)
	}
	return &DeviceStatus{
		Uptime:         time.Duration(raw.UptimeSeconds) * time.Second,
		SignalStrength: raw.RSSI,
		Firmware:       raw.Firmware,
		Mode:           raw.Mode,
	}, nil
}

// CheckReachability probes GET /api/status. Any HTTP answer counts as
// alive, including 404 from builds without the endpoint.
func (c *CrosspointClient) CheckReachability(ctx context.Context) bool {
	ctx, cancel := context.WithTimeout(ctx, crosspointRequestTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/api/status", nil)
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

// postJSON sends a small JSON command and maps the response.
func (c *CrosspointClient) postJSON(ctx context.Context, endpoint string, payload map[string]string) error {
	ctx, cancel := context.WithTimeout(ctx, crosspointRequestTimeout)
	defer cancel()

	encoded, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("failed to encode %s payload: %w", endpoint, err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+endpoint, bytes.NewReader(encoded))
	if err != nil {
		return fmt.Errorf("failed to build %s request: %w", endpoint, err)
	}
	req.Header.Set("Content-Type", "application/json")

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

// rejectionError maps a non-2xx response onto the taxonomy. The crosspoint
// firmware uses 409 for both "exists" and "not empty" and distinguishes
// them in the error body.
func (c *CrosspointClient) rejectionError(resp *http.Response) error {
	body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
	text := strings.ToLower(strings.TrimSpace(string(body)))

	if resp.StatusCode == http.StatusConflict {
		if strings.Contains(text, "not empty") {
			return fmt.Errorf("%w: %s", ErrFolderNotEmpty, text)
		}
		return fmt.Errorf("%w: %s", ErrAlreadyExists, text)
	}
	return fmt.Errorf("%w: status %d: %s", ErrDeviceRejected, resp.StatusCode, text)
}
