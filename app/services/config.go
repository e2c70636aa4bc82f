package services

import (
	"fmt"
	"log"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"

	"inkpost/pkg/device"
	"inkpost/pkg/queue"
)

// ConfigService manages the on-disk application configuration under
// ~/.inkpost/. Missing file means defaults; a malformed file is an error.
type ConfigService struct {
	configPath string
	logger     *log.Logger
	config     *Config
}

// Config is the application configuration.
type Config struct {
	// APIPort is the local HTTP API listen port for `inkpost serve`.
	APIPort int `yaml:"apiPort" json:"apiPort"`

	// Device controls discovery: dialect pin, custom address, fallback sweep.
	Device device.DiscoveryConfig `yaml:"device" json:"device"`

	// QueueFolder is the device folder queued items are sent to when the
	// item itself carries none.
	QueueFolder string `yaml:"queueFolder" json:"queueFolder"`

	// DataDir holds the queue database and staged artifact payloads.
	// Defaults to ~/.inkpost.
	DataDir string `yaml:"dataDir" json:"dataDir"`
}

// NewConfigService loads (or defaults) the configuration and ensures the
// data directory exists.
func NewConfigService(logger *log.Logger) (*ConfigService, error) {
	homeDir, err := os.UserHomeDir()
	if err != nil {
		return nil, fmt.Errorf("failed to get home directory: %w", err)
	}

	configDir := filepath.Join(homeDir, ".inkpost")
	configPath := filepath.Join(configDir, "config.yaml")

	if err := os.MkdirAll(configDir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create config directory: %w", err)
	}

	service := &ConfigService{
		configPath: configPath,
		logger:     logger,
		config:     defaultConfig(configDir),
	}

	if err := service.Load(); err != nil {
		return nil, err
	}
	return service, nil
}

func defaultConfig(dataDir string) *Config {
	return &Config{
		APIPort: 8475,
		Device: device.DiscoveryConfig{
			Dialect:      device.DialectAuto,
			AutoFallback: true,
		},
		QueueFolder: queue.DefaultFolder,
		DataDir:     dataDir,
	}
}

// Load reads the configuration from disk. A missing file keeps the
// defaults; fields absent from the file keep their default values too.
func (s *ConfigService) Load() error {
	s.logger.Printf("[ConfigService] Load: Loading config from %s", s.configPath)

	data, err := os.ReadFile(s.configPath)
	if err != nil {
		if os.IsNotExist(err) {
			s.logger.Printf("[ConfigService] Load: Config file does not exist, using defaults")
			return nil
		}
		return fmt.Errorf("failed to read config file: %w", err)
	}

	config := defaultConfig(filepath.Dir(s.configPath))
	if err := yaml.Unmarshal(data, config); err != nil {
		return fmt.Errorf("failed to parse config file: %w", err)
	}
	if config.QueueFolder == "" {
		config.QueueFolder = queue.DefaultFolder
	}
	if config.DataDir == "" {
		config.DataDir = filepath.Dir(s.configPath)
	}

	s.config = config
	s.logger.Printf("[ConfigService] Load: Config loaded: dialect=%s folder=%s", config.Device.Dialect, config.QueueFolder)
	return nil
}

// Save writes the configuration to disk.
func (s *ConfigService) Save() error {
	s.logger.Printf("[ConfigService] Save: Saving config to %s", s.configPath)

	data, err := yaml.Marshal(s.config)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	if err := os.WriteFile(s.configPath, data, 0644); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}

	s.logger.Printf("[ConfigService] Save: Config saved successfully")
	return nil
}

// GetConfig returns the current configuration.
func (s *ConfigService) GetConfig() Config {
	if s.config == nil {
		return Config{}
	}
	return *s.config
}

// SetDialect pins the discovery dialect and saves the config.
func (s *ConfigService) SetDialect(dialect device.Dialect) error {
	s.logger.Printf("[ConfigService] SetDialect: dialect=%s", dialect)

	s.config.Device.Dialect = string(dialect)
	return s.Save()
}

// SetCustomAddress sets the custom device address and saves the config.
func (s *ConfigService) SetCustomAddress(address string) error {
	s.logger.Printf("[ConfigService] SetCustomAddress: address=%s", address)

	s.config.Device.CustomAddress = address
	return s.Save()
}

// QueueDBPath is the path of the send queue database.
func (s *ConfigService) QueueDBPath() string {
	return filepath.Join(s.config.DataDir, "queue.db")
}

// BlobDir is the directory holding staged artifact payloads.
func (s *ConfigService) BlobDir() string {
	return filepath.Join(s.config.DataDir, "artifacts")
}
