package services

import (
	"context"
	"errors"
	"fmt"
	"log"

	"inkpost/pkg/device"
)

// DeviceService owns the device connection: it runs discovery sweeps,
// holds the session other services read the client from, and keeps a
// health monitor ticking while connected.
type DeviceService struct {
	ctx        context.Context
	logger     *log.Logger
	discoverer *device.Discoverer
	session    *device.Session
	monitor    *device.Monitor
	events     *LogService
}

// NewDeviceService creates a DeviceService for the given discovery config.
func NewDeviceService(ctx context.Context, logger *log.Logger, config device.DiscoveryConfig, events *LogService) *DeviceService {
	session := device.NewSession()
	s := &DeviceService{
		ctx:        ctx,
		logger:     logger,
		discoverer: device.NewDiscoverer(config, logger),
		session:    session,
		events:     events,
	}
	s.monitor = device.NewMonitor(session, logger)
	s.monitor.OnDisconnect(s.onHealthLost)
	return s
}

// Session exposes the shared session for the transfer and queue services.
func (s *DeviceService) Session() *device.Session {
	return s.session
}

// DeviceInfo is the connection snapshot shown by the CLI and the API.
type DeviceInfo struct {
	Connected bool   `json:"connected"`
	Label     string `json:"label,omitempty"`
	Dialect   string `json:"dialect,omitempty"`
	BaseURL   string `json:"baseUrl,omitempty"`
	Busy      bool   `json:"busy"`
}

// Discover runs a discovery sweep and attaches the found client to the
// session. Re-discovery while connected replaces the session client.
func (s *DeviceService) Discover(ctx context.Context) (DeviceInfo, error) {
	s.logger.Printf("[DeviceService] Discover: Starting sweep")

	client, label, err := s.discoverer.Discover(ctx)
	if err != nil {
		if errors.Is(err, device.ErrNoDevice) {
			s.events.Warn(CategoryDevice, "No device found on any candidate address")
		}
		return DeviceInfo{}, fmt.Errorf("failed to discover device: %w", err)
	}

	s.session.Attach(client, label)
	s.monitor.Start(s.ctx)
	s.events.Info(CategoryDevice, fmt.Sprintf("Connected to %s", label))
	s.logger.Printf("[DeviceService] Discover: Connected to %s at %s", label, client.BaseURL())

	return s.snapshot(), nil
}

// Disconnect detaches the session. It refuses while an upload is in
// flight so a transfer is never cut mid-file.
func (s *DeviceService) Disconnect() error {
	s.logger.Printf("[DeviceService] Disconnect: Requested")

	if err := s.session.Disconnect(); err != nil {
		return err
	}
	s.monitor.Stop()
	s.events.Info(CategoryDevice, "Disconnected")
	return nil
}

// Status returns the connection snapshot.
func (s *DeviceService) Status() DeviceInfo {
	return s.snapshot()
}

// FetchDeviceStatus asks the connected device for its status report.
// Dialects without a status endpoint return (nil, nil). The busy counter
// covers the call so the health monitor never pings alongside it.
func (s *DeviceService) FetchDeviceStatus(ctx context.Context) (*device.DeviceStatus, error) {
	client, err := s.session.Client()
	if err != nil {
		return nil, err
	}
	s.session.BeginOp()
	defer s.session.EndOp()
	return client.FetchStatus(ctx)
}

// ListFiles lists a device folder through the session client. The busy
// counter covers the call so the health monitor never pings alongside it.
func (s *DeviceService) ListFiles(ctx context.Context, folderPath string) ([]device.FileEntry, error) {
	client, err := s.session.Client()
	if err != nil {
		return nil, err
	}
	s.session.BeginOp()
	defer s.session.EndOp()
	return client.ListFiles(ctx, folderPath)
}

func (s *DeviceService) snapshot() DeviceInfo {
	client, err := s.session.Client()
	if err != nil {
		return DeviceInfo{}
	}
	return DeviceInfo{
		Connected: true,
		Label:     s.session.Label(),
		Dialect:   dialectOf(client),
		BaseURL:   client.BaseURL(),
		Busy:      s.session.Busy(),
	}
}

func dialectOf(client device.Client) string {
	if client.SupportsMoveRename() {
		return string(device.DialectCrosspoint)
	}
	return string(device.DialectStock)
}

// onHealthLost runs when the health monitor sees a failed ping. The
// monitor has already marked the session disconnected.
func (s *DeviceService) onHealthLost() {
	s.logger.Printf("[DeviceService] Health check failed, connection dropped")
	s.events.Warn(CategoryDevice, "Device stopped answering, disconnected")
}
