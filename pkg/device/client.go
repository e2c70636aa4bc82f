package device

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"mime/multipart"
	"path"
	"strings"
)

// uploadAttempts is the client-level retry for connection loss mid-upload,
// shared by both dialects. The embedded HTTP stack drops connections under
// load; one immediate re-attempt usually lands. Higher-level batch retry
// (if any) is layered by the send queue, not here.
const uploadAttempts = 2

// ProgressFunc receives the upload completion fraction in [0, 1].
// It is invoked at least at start and completion.
type ProgressFunc func(fraction float64)

// Client is the uniform file-operation contract both firmware dialects
// satisfy. Downstream components hold it as an opaque handle selected once
// at discovery time; the only allowed capability branch is
// SupportsMoveRename.
type Client interface {
	// Label returns the human-readable dialect name for user display.
	Label() string
	// BaseURL returns the plain-HTTP base the client talks to.
	BaseURL() string
	// SupportsMoveRename reports whether MoveFile/RenameFile are implemented.
	SupportsMoveRename() bool

	// ListFiles returns the entries of a device directory, fresh on every call.
	ListFiles(ctx context.Context, dir string) ([]FileEntry, error)
	// CreateFolder creates a folder under parent. Not guaranteed idempotent:
	// dialects that detect the duplicate return ErrAlreadyExists.
	CreateFolder(ctx context.Context, name, parent string) error
	// DeleteFile removes a single file.
	DeleteFile(ctx context.Context, filePath string) error
	// DeleteFolder removes a folder. Dialects that refuse non-empty deletion
	// return ErrFolderNotEmpty; the recursive delete engine works around it.
	DeleteFolder(ctx context.Context, folderPath string) error
	// MoveFile moves a file to another folder. Only valid when
	// SupportsMoveRename is true.
	MoveFile(ctx context.Context, filePath, destination string) error
	// RenameFile renames a file in place. Only valid when SupportsMoveRename
	// is true.
	RenameFile(ctx context.Context, filePath, newName string) error
	// EnsureFolder makes sure every segment of folderPath exists, creating
	// missing ones. Safe to call redundantly; concurrent or repeated calls
	// converge to "folder exists".
	EnsureFolder(ctx context.Context, folderPath string) error
	// UploadFile streams data as a multipart body into folder under filename.
	UploadFile(ctx context.Context, data []byte, filename, folder string, onProgress ProgressFunc) error
	// FetchStatus returns the device status snapshot, or (nil, nil) when the
	// dialect has no status endpoint. Absence of support is not an error.
	FetchStatus(ctx context.Context) (*DeviceStatus, error)
	// CheckReachability is the cheapest possible liveness probe. It has no
	// side effects and tolerates firmware-specific quirks (any HTTP answer
	// counts as alive).
	CheckReachability(ctx context.Context) bool
}

// joinDevicePath joins device path segments with forward slashes and a
// leading slash, collapsing duplicates. Device filesystems are slash-rooted
// regardless of the host OS.
func joinDevicePath(segments ...string) string {
	joined := path.Join(segments...)
	if !strings.HasPrefix(joined, "/") {
		joined = "/" + joined
	}
	return joined
}

// splitDevicePath returns the parent directory and the final segment of a
// device path. The parent of a top-level entry is "/".
func splitDevicePath(p string) (parent, name string) {
	parent, name = path.Split(strings.TrimSuffix(joinDevicePath(p), "/"))
	parent = strings.TrimSuffix(parent, "/")
	if parent == "" {
		parent = "/"
	}
	return parent, name
}

// ensureFolder is the composite EnsureFolder shared by both dialects: walk
// the path segment by segment, list the parent, create what is missing.
// A CreateFolder race that reports ErrAlreadyExists is resolved by
// re-listing: if the folder is there now, whichever code path reported it,
// the outcome is success.
func ensureFolder(ctx context.Context, c Client, folderPath string) error {
	folderPath = joinDevicePath(folderPath)
	if folderPath == "/" {
		return nil
	}

	parent := "/"
	for _, segment := range strings.Split(strings.Trim(folderPath, "/"), "/") {
		entries, err := c.ListFiles(ctx, parent)
		if err != nil {
			return fmt.Errorf("failed to list %s: %w", parent, err)
		}

		if !containsFolder(entries, segment) {
			if err := c.CreateFolder(ctx, segment, parent); err != nil {
				// Re-list to settle the race: the folder may have appeared
				// between our listing and the create call.
				entries, listErr := c.ListFiles(ctx, parent)
				if listErr != nil || !containsFolder(entries, segment) {
					return fmt.Errorf("failed to create folder %s in %s: %w", segment, parent, err)
				}
			}
		}
		parent = joinDevicePath(parent, segment)
	}
	return nil
}

func containsFolder(entries []FileEntry, name string) bool {
	for _, e := range entries {
		if e.IsDir && e.Name == name {
			return true
		}
	}
	return false
}

// buildMultipart assembles a multipart/form-data body with the artifact as a
// file part plus optional plain fields. Returns the body and content type.
func buildMultipart(fieldName, filename string, data []byte, fields map[string]string) (*bytes.Buffer, string, error) {
	body := &bytes.Buffer{}
	writer := multipart.NewWriter(body)
	for key, value := range fields {
		if err := writer.WriteField(key, value); err != nil {
			return nil, "", fmt.Errorf("failed to write form field %s: %w", key, err)
		}
	}
	part, err := writer.CreateFormFile(fieldName, filename)
	if err != nil {
		return nil, "", fmt.Errorf("failed to create file part: %w", err)
	}
	if _, err := part.Write(data); err != nil {
		return nil, "", fmt.Errorf("failed to write file part: %w", err)
	}
	if err := writer.Close(); err != nil {
		return nil, "", fmt.Errorf("failed to finalize multipart body: %w", err)
	}
	return body, writer.FormDataContentType(), nil
}

// progressReader reports consumed bytes of the request body as an upload
// fraction. The transport reads the body as it writes to the socket, which
// is as close to wire progress as a client can observe.
type progressReader struct {
	r          io.Reader
	total      int64
	read       int64
	onProgress ProgressFunc
}

func newProgressReader(r io.Reader, total int64, onProgress ProgressFunc) *progressReader {
	return &progressReader{r: r, total: total, onProgress: onProgress}
}

func (p *progressReader) Read(buf []byte) (int, error) {
	n, err := p.r.Read(buf)
	if n > 0 {
		p.read += int64(n)
		if p.onProgress != nil && p.total > 0 {
			fraction := float64(p.read) / float64(p.total)
			if fraction > 1 {
				fraction = 1
			}
			p.onProgress(fraction)
		}
	}
	return n, err
}
