package api

import (
	"context"
	"encoding/json"
	"io"
	"log"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"inkpost/internal/core"
)

func testLogger() *log.Logger {
	return log.New(io.Discard, "", 0)
}

func newTestServer(t *testing.T, opts ...ServerOption) *Server {
	t.Helper()
	return NewServer(0, testLogger(), core.NewJobManager(nil), opts...)
}

func doRequest(s *Server, method, path, body string) *httptest.ResponseRecorder {
	var reader io.Reader
	if body != "" {
		reader = strings.NewReader(body)
	}
	req := httptest.NewRequest(method, path, reader)
	rec := httptest.NewRecorder()
	s.mux.ServeHTTP(rec, req)
	return rec
}

func decodeResponse(t *testing.T, rec *httptest.ResponseRecorder) APIResponse {
	t.Helper()
	var resp APIResponse
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&resp))
	return resp
}

func TestHandleHealth(t *testing.T) {
	s := newTestServer(t)

	rec := doRequest(s, http.MethodGet, "/api/health", "")
	require.Equal(t, http.StatusOK, rec.Code)

	resp := decodeResponse(t, rec)
	assert.True(t, resp.Success)

	data := resp.Data.(map[string]interface{})
	assert.Equal(t, "ok", data["status"])
	assert.Equal(t, "inkpost-api", data["service"])
}

func TestHandleDevice(t *testing.T) {
	s := newTestServer(t, WithDeviceProvider(func() interface{} {
		return map[string]interface{}{"connected": true, "label": "Stock firmware"}
	}))

	rec := doRequest(s, http.MethodGet, "/api/device", "")
	require.Equal(t, http.StatusOK, rec.Code)

	resp := decodeResponse(t, rec)
	data := resp.Data.(map[string]interface{})
	assert.Equal(t, true, data["connected"])
}

func TestHandleDevice_NotConfigured(t *testing.T) {
	s := newTestServer(t)

	rec := doRequest(s, http.MethodGet, "/api/device", "")
	assert.Equal(t, http.StatusNotImplemented, rec.Code)

	resp := decodeResponse(t, rec)
	assert.False(t, resp.Success)
	assert.Equal(t, "not_implemented", resp.Error.Code)
}

func TestHandleDiscover_MethodAndOutcome(t *testing.T) {
	discovered := false
	s := newTestServer(t, WithDeviceOps(
		func(ctx context.Context) (interface{}, error) {
			discovered = true
			return map[string]string{"label": "Crosspoint firmware"}, nil
		},
		func() error { return nil },
		func(ctx context.Context) (interface{}, error) { return nil, nil },
		func(ctx context.Context, path string) (interface{}, error) { return nil, nil },
	))

	rec := doRequest(s, http.MethodGet, "/api/device/discover", "")
	assert.Equal(t, http.StatusMethodNotAllowed, rec.Code)
	assert.False(t, discovered)

	rec = doRequest(s, http.MethodPost, "/api/device/discover", "")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.True(t, discovered)
}

func TestHandleDeviceFiles_DefaultsToRoot(t *testing.T) {
	var gotPath string
	s := newTestServer(t, WithDeviceOps(
		func(ctx context.Context) (interface{}, error) { return nil, nil },
		func() error { return nil },
		func(ctx context.Context) (interface{}, error) { return nil, nil },
		func(ctx context.Context, path string) (interface{}, error) {
			gotPath = path
			return []string{}, nil
		},
	))

	doRequest(s, http.MethodGet, "/api/device/files", "")
	assert.Equal(t, "/", gotPath)

	doRequest(s, http.MethodGet, "/api/device/files?path=/Articles", "")
	assert.Equal(t, "/Articles", gotPath)
}

func TestHandleSendAll(t *testing.T) {
	s := newTestServer(t, WithQueueOps(
		func() (interface{}, error) { return nil, nil },
		func() (interface{}, error) { return nil, nil },
		func() (string, error) { return "queue.sendall-123", nil },
		func(id string) error { return nil },
		func(id string) error { return nil },
		func() error { return nil },
	))

	rec := doRequest(s, http.MethodPost, "/api/queue/sendall", "")
	require.Equal(t, http.StatusAccepted, rec.Code)

	resp := decodeResponse(t, rec)
	data := resp.Data.(map[string]interface{})
	assert.Equal(t, "queue.sendall-123", data["jobId"])
}

func TestHandleSendAll_Conflict(t *testing.T) {
	s := newTestServer(t, WithQueueOps(
		func() (interface{}, error) { return nil, nil },
		func() (interface{}, error) { return nil, nil },
		func() (string, error) { return "", assert.AnError },
		func(id string) error { return nil },
		func(id string) error { return nil },
		func() error { return nil },
	))

	rec := doRequest(s, http.MethodPost, "/api/queue/sendall", "")
	assert.Equal(t, http.StatusConflict, rec.Code)

	resp := decodeResponse(t, rec)
	assert.False(t, resp.Success)
	assert.Equal(t, "sendall_failed", resp.Error.Code)
}

func TestHandleQueueItem_Routing(t *testing.T) {
	var removed, sent string
	s := newTestServer(t, WithQueueOps(
		func() (interface{}, error) { return nil, nil },
		func() (interface{}, error) { return nil, nil },
		func() (string, error) { return "", nil },
		func(id string) error { sent = id; return nil },
		func(id string) error { removed = id; return nil },
		func() error { return nil },
	))

	rec := doRequest(s, http.MethodDelete, "/api/queue/item-1", "")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "item-1", removed)

	rec = doRequest(s, http.MethodPost, "/api/queue/item-2/send", "")
	assert.Equal(t, http.StatusAccepted, rec.Code)
	assert.Equal(t, "item-2", sent)

	rec = doRequest(s, http.MethodPost, "/api/queue/item-3", "")
	assert.Equal(t, http.StatusMethodNotAllowed, rec.Code)
}

func TestHandleDelete(t *testing.T) {
	var gotPath string
	s := newTestServer(t, WithDeleteOps(
		func(ctx context.Context, path string) (int, error) { return 0, nil },
		func(path string) (string, error) {
			gotPath = path
			return "device.delete-456", nil
		},
	))

	rec := doRequest(s, http.MethodPost, "/api/delete", `{"path":"/Annotations"}`)
	require.Equal(t, http.StatusAccepted, rec.Code)
	assert.Equal(t, "/Annotations", gotPath)

	resp := decodeResponse(t, rec)
	data := resp.Data.(map[string]interface{})
	assert.Equal(t, "device.delete-456", data["jobId"])
}

func TestHandleDelete_RequiresPath(t *testing.T) {
	s := newTestServer(t, WithDeleteOps(
		func(ctx context.Context, path string) (int, error) { return 0, nil },
		func(path string) (string, error) { return "", nil },
	))

	rec := doRequest(s, http.MethodPost, "/api/delete", `{}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = doRequest(s, http.MethodPost, "/api/delete", `not json`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestHandleDeleteCount(t *testing.T) {
	s := newTestServer(t, WithDeleteOps(
		func(ctx context.Context, path string) (int, error) { return 42, nil },
		func(path string) (string, error) { return "", nil },
	))

	rec := doRequest(s, http.MethodGet, "/api/delete/count", "")
	assert.Equal(t, http.StatusBadRequest, rec.Code, "path parameter is required")

	rec = doRequest(s, http.MethodGet, "/api/delete/count?path=/Annotations", "")
	require.Equal(t, http.StatusOK, rec.Code)

	resp := decodeResponse(t, rec)
	data := resp.Data.(map[string]interface{})
	assert.Equal(t, float64(42), data["count"])
}

func TestHandleJobs_ListsStartedJob(t *testing.T) {
	jobs := core.NewJobManager(nil)
	s := NewServer(0, testLogger(), jobs)

	jobID, _, err := jobs.StartJob(context.Background(), core.JobTypeSendAll, "Sending", nil)
	require.NoError(t, err)

	rec := doRequest(s, http.MethodGet, "/api/jobs", "")
	require.Equal(t, http.StatusOK, rec.Code)

	resp := decodeResponse(t, rec)
	data := resp.Data.(map[string]interface{})
	assert.Equal(t, jobID, data["activeJob"])

	rec = doRequest(s, http.MethodGet, "/api/jobs/"+jobID, "")
	assert.Equal(t, http.StatusOK, rec.Code)

	rec = doRequest(s, http.MethodGet, "/api/jobs/no-such-job", "")
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestHandleLogs_PassesQueryThrough(t *testing.T) {
	var gotLimit int
	var gotCategory string
	s := newTestServer(t, WithLogsProvider(func(limit int, category string) interface{} {
		gotLimit, gotCategory = limit, category
		return []string{}
	}))

	doRequest(s, http.MethodGet, "/api/logs", "")
	assert.Equal(t, 50, gotLimit)
	assert.Empty(t, gotCategory)

	doRequest(s, http.MethodGet, "/api/logs?limit=10&category=queue", "")
	assert.Equal(t, 10, gotLimit)
	assert.Equal(t, "queue", gotCategory)
}
