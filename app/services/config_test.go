package services

import (
	"io"
	"log"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"inkpost/pkg/device"
)

func testLogger() *log.Logger {
	return log.New(io.Discard, "", 0)
}

func newTestConfigService(t *testing.T) *ConfigService {
	t.Helper()
	dir := t.TempDir()
	return &ConfigService{
		configPath: filepath.Join(dir, "config.yaml"),
		logger:     testLogger(),
		config:     defaultConfig(dir),
	}
}

func TestConfigService_Defaults(t *testing.T) {
	s := newTestConfigService(t)

	require.NoError(t, s.Load())
	config := s.GetConfig()

	assert.Equal(t, 8475, config.APIPort)
	assert.Equal(t, device.DialectAuto, config.Device.Dialect)
	assert.True(t, config.Device.AutoFallback)
	assert.Equal(t, "/Articles", config.QueueFolder)
}

func TestConfigService_SaveLoadRoundTrip(t *testing.T) {
	s := newTestConfigService(t)

	require.NoError(t, s.SetDialect(device.DialectCrosspoint))
	require.NoError(t, s.SetCustomAddress("10.0.0.9"))

	reloaded := &ConfigService{
		configPath: s.configPath,
		logger:     testLogger(),
		config:     defaultConfig(filepath.Dir(s.configPath)),
	}
	require.NoError(t, reloaded.Load())

	config := reloaded.GetConfig()
	assert.Equal(t, string(device.DialectCrosspoint), config.Device.Dialect)
	assert.Equal(t, "10.0.0.9", config.Device.CustomAddress)
}

func TestConfigService_PartialFileKeepsDefaults(t *testing.T) {
	s := newTestConfigService(t)
	require.NoError(t, os.WriteFile(s.configPath, []byte("apiPort: 9000\n"), 0644))

	require.NoError(t, s.Load())
	config := s.GetConfig()

	assert.Equal(t, 9000, config.APIPort)
	assert.Equal(t, device.DialectAuto, config.Device.Dialect, "unset fields keep defaults")
	assert.Equal(t, "/Articles", config.QueueFolder)
	assert.NotEmpty(t, config.DataDir)
}

func TestConfigService_MalformedFileFails(t *testing.T) {
	s := newTestConfigService(t)
	require.NoError(t, os.WriteFile(s.configPath, []byte("{not yaml :::"), 0644))
	assert.Error(t, s.Load())
}

func TestConfigService_DerivedPaths(t *testing.T) {
	s := newTestConfigService(t)
	config := s.GetConfig()

	assert.Equal(t, filepath.Join(config.DataDir, "queue.db"), s.QueueDBPath())
	assert.Equal(t, filepath.Join(config.DataDir, "artifacts"), s.BlobDir())
}
