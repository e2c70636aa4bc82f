package services

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"inkpost/pkg/device"
)

// busyProbeClient records the session busy flag at the moment each device
// call runs, via callbacks the test wires to the service's session.
type busyProbeClient struct {
	onList   func()
	onStatus func()
}

func (c *busyProbeClient) Label() string            { return "probe" }
func (c *busyProbeClient) BaseURL() string          { return "http://192.0.2.1" }
func (c *busyProbeClient) SupportsMoveRename() bool { return false }

func (c *busyProbeClient) ListFiles(ctx context.Context, dir string) ([]device.FileEntry, error) {
	if c.onList != nil {
		c.onList()
	}
	return nil, nil
}

func (c *busyProbeClient) CreateFolder(ctx context.Context, name, parent string) error { return nil }
func (c *busyProbeClient) DeleteFile(ctx context.Context, filePath string) error       { return nil }
func (c *busyProbeClient) DeleteFolder(ctx context.Context, folderPath string) error   { return nil }
func (c *busyProbeClient) MoveFile(ctx context.Context, filePath, destination string) error {
	return nil
}
func (c *busyProbeClient) RenameFile(ctx context.Context, filePath, newName string) error { return nil }
func (c *busyProbeClient) EnsureFolder(ctx context.Context, folderPath string) error      { return nil }
func (c *busyProbeClient) UploadFile(ctx context.Context, data []byte, filename, folder string, onProgress device.ProgressFunc) error {
	return nil
}

func (c *busyProbeClient) FetchStatus(ctx context.Context) (*device.DeviceStatus, error) {
	if c.onStatus != nil {
		c.onStatus()
	}
	return nil, nil
}

func (c *busyProbeClient) CheckReachability(ctx context.Context) bool { return true }

func newTestDeviceService(t *testing.T, client device.Client) *DeviceService {
	t.Helper()
	logger := testLogger()
	s := NewDeviceService(context.Background(), logger, device.DiscoveryConfig{}, NewLogService(logger))
	s.Session().Attach(client, client.Label())
	return s
}

func TestDeviceService_ListFilesMarksSessionBusy(t *testing.T) {
	client := &busyProbeClient{}
	s := newTestDeviceService(t, client)

	busyDuring := false
	client.onList = func() { busyDuring = s.Session().Busy() }

	_, err := s.ListFiles(context.Background(), "/Articles")
	require.NoError(t, err)
	assert.True(t, busyDuring)
	assert.False(t, s.Session().Busy())
}

func TestDeviceService_FetchStatusMarksSessionBusy(t *testing.T) {
	client := &busyProbeClient{}
	s := newTestDeviceService(t, client)

	busyDuring := false
	client.onStatus = func() { busyDuring = s.Session().Busy() }

	_, err := s.FetchDeviceStatus(context.Background())
	require.NoError(t, err)
	assert.True(t, busyDuring)
	assert.False(t, s.Session().Busy())
}
