package device

import (
	"context"
	"io"
	"mime"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newStockTestClient(t *testing.T, handler http.Handler) *StockClient {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	return NewStockClient(strings.TrimPrefix(srv.URL, "http://"))
}

func TestStockClient_ListFiles(t *testing.T) {
	c := newStockTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/list", r.URL.Path)
		assert.Equal(t, "/Articles", r.URL.Query().Get("dir"))
		io.WriteString(w, `[{"type":"file","name":"a.epub","size":1234},{"type":"dir","name":"old"}]`)
	}))

	entries, err := c.ListFiles(context.Background(), "/Articles")
	require.NoError(t, err)
	require.Len(t, entries, 2)

	assert.Equal(t, "a.epub", entries[0].Name)
	assert.Equal(t, "/Articles/a.epub", entries[0].Path)
	assert.False(t, entries[0].IsDir)
	assert.Equal(t, int64(1234), entries[0].Size)

	assert.Equal(t, "/Articles/old", entries[1].Path)
	assert.True(t, entries[1].IsDir)
}

func TestStockClient_ListFilesMalformed(t *testing.T) {
	c := newStockTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		io.WriteString(w, `<html>not json</html>`)
	}))

	_, err := c.ListFiles(context.Background(), "/")
	assert.ErrorIs(t, err, ErrMalformedResponse)
}

func TestStockClient_Upload(t *testing.T) {
	var gotMethod, gotPath, gotField, gotFilename string
	var gotBody []byte

	// The firmware takes the destination path from the part's filename, so
	// the assertion must see the raw Content-Disposition directive. Go's
	// FormFile/FileName would basename it server-side and hide a regression.
	c := newStockTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotMethod, gotPath = r.Method, r.URL.Path
		mr, err := r.MultipartReader()
		require.NoError(t, err)
		part, err := mr.NextPart()
		require.NoError(t, err)
		_, params, err := mime.ParseMediaType(part.Header.Get("Content-Disposition"))
		require.NoError(t, err)
		gotField = params["name"]
		gotFilename = params["filename"]
		gotBody, _ = io.ReadAll(part)
	}))

	var last float64
	err := c.UploadFile(context.Background(), []byte("payload"), "a.epub", "/Articles", func(p float64) { last = p })
	require.NoError(t, err)

	assert.Equal(t, http.MethodPost, gotMethod)
	assert.Equal(t, "/edit", gotPath)
	assert.Equal(t, "data", gotField)
	assert.Equal(t, "/Articles/a.epub", gotFilename)
	assert.Equal(t, []byte("payload"), gotBody)
	assert.Equal(t, 1.0, last)
}

func TestStockClient_UploadRetriesConnectionLoss(t *testing.T) {
	attempts := 0
	c := newStockTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		attempts++
		if attempts == 1 {
			// Drop the connection mid-request the way the firmware does
			// under load.
			conn, _, err := w.(http.Hijacker).Hijack()
			require.NoError(t, err)
			conn.Close()
			return
		}
		w.WriteHeader(http.StatusOK)
	}))

	err := c.UploadFile(context.Background(), []byte("payload"), "a.epub", "/Articles", nil)
	require.NoError(t, err)
	assert.Equal(t, 2, attempts)
}

func TestStockClient_UploadDoesNotRetryRejection(t *testing.T) {
	attempts := 0
	c := newStockTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		attempts++
		w.WriteHeader(http.StatusInsufficientStorage)
		io.WriteString(w, "FS FULL")
	}))

	err := c.UploadFile(context.Background(), []byte("payload"), "a.epub", "/Articles", nil)
	assert.ErrorIs(t, err, ErrDeviceRejected)
	assert.Equal(t, 1, attempts)
}

func TestStockClient_DeleteFolderNotEmpty(t *testing.T) {
	c := newStockTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
		io.WriteString(w, "DIR NOT EMPTY")
	}))

	err := c.DeleteFolder(context.Background(), "/Articles")
	assert.ErrorIs(t, err, ErrFolderNotEmpty)
}

func TestStockClient_CreateFolderExists(t *testing.T) {
	c := newStockTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPut, r.Method)
		w.WriteHeader(http.StatusInternalServerError)
		io.WriteString(w, "FILE EXISTS")
	}))

	err := c.CreateFolder(context.Background(), "Articles", "/")
	assert.ErrorIs(t, err, ErrAlreadyExists)
}

func TestStockClient_DeleteFileSendsFormPath(t *testing.T) {
	var gotMethod string
	var gotForm url.Values

	// ParseForm ignores the body on DELETE, so decode the raw bytes.
	c := newStockTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotMethod = r.Method
		body, err := io.ReadAll(r.Body)
		require.NoError(t, err)
		gotForm, err = url.ParseQuery(string(body))
		require.NoError(t, err)
	}))

	require.NoError(t, c.DeleteFile(context.Background(), "/Articles/a.epub"))
	assert.Equal(t, http.MethodDelete, gotMethod)
	assert.Equal(t, "/Articles/a.epub", gotForm.Get("path"))
}

func TestStockClient_RejectionFallsBackToDeviceRejected(t *testing.T) {
	c := newStockTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
		io.WriteString(w, "BAD ARGS")
	}))

	err := c.DeleteFile(context.Background(), "/a.epub")
	assert.ErrorIs(t, err, ErrDeviceRejected)
}

func TestStockClient_MoveRenameUnsupported(t *testing.T) {
	c := NewStockClient("192.0.2.1")

	assert.False(t, c.SupportsMoveRename())
	assert.ErrorIs(t, c.MoveFile(context.Background(), "/a", "/b"), ErrDeviceRejected)
	assert.ErrorIs(t, c.RenameFile(context.Background(), "/a", "b"), ErrDeviceRejected)
}

func TestStockClient_FetchStatusUnsupported(t *testing.T) {
	c := NewStockClient("192.0.2.1")
	status, err := c.FetchStatus(context.Background())
	assert.NoError(t, err)
	assert.Nil(t, status)
}

func TestStockClient_CheckReachabilityIgnoresStatusCode(t *testing.T) {
	c := newStockTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	assert.True(t, c.CheckReachability(context.Background()))
}

func TestStockClient_TransportErrorIsTransient(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	host := strings.TrimPrefix(srv.URL, "http://")
	srv.Close()

	c := NewStockClient(host)
	_, err := c.ListFiles(context.Background(), "/")
	assert.True(t, IsTransient(err))
	assert.False(t, c.CheckReachability(context.Background()))
}

func TestStockClient_EnsureFolderCreatesMissingSegments(t *testing.T) {
	var created []string
	c := newStockTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch {
		case r.URL.Path == "/list":
			io.WriteString(w, `[]`)
		case r.Method == http.MethodPut:
			require.NoError(t, r.ParseForm())
			created = append(created, r.PostFormValue("path"))
		}
	}))

	require.NoError(t, c.EnsureFolder(context.Background(), "/Articles/2026"))
	assert.Equal(t, []string{"/Articles", "/Articles/2026"}, created)
}

func TestStockClient_EnsureFolderSkipsExisting(t *testing.T) {
	creates := 0
	c := newStockTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch {
		case r.URL.Path == "/list":
			io.WriteString(w, `[{"type":"dir","name":"Articles"}]`)
		case r.Method == http.MethodPut:
			creates++
		}
	}))

	require.NoError(t, c.EnsureFolder(context.Background(), "/Articles"))
	assert.Zero(t, creates)
}
