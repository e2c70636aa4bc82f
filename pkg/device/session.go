package device

import (
	"fmt"
	"sync"
)

// Session is the single owner of the active device connection. All
// components read and mutate connection state through it: the health
// monitor consults the busy counter before pinging, the transfer engine
// sets the uploading flag, and disconnects are refused mid-upload because
// the device cannot serve a teardown and a multipart upload at once.
//
// There is exactly one Session per app lifetime segment; the device itself
// is the only shared mutable resource behind it.
type Session struct {
	mu        sync.Mutex
	client    Client
	label     string
	connected bool
	uploading bool
	busy      int
}

// NewSession returns an empty, disconnected session.
func NewSession() *Session {
	return &Session{}
}

// Attach installs the client chosen by discovery and marks the session
// connected. Any previous client is discarded.
func (s *Session) Attach(client Client, label string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.client = client
	s.label = label
	s.connected = true
}

// Client returns the active client, or ErrNotConnected.
func (s *Session) Client() (Client, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.connected || s.client == nil {
		return nil, ErrNotConnected
	}
	return s.client, nil
}

// Connected reports whether a client is attached.
func (s *Session) Connected() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.connected
}

// Label returns the dialect label of the active client, or "".
func (s *Session) Label() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.connected {
		return ""
	}
	return s.label
}

// Disconnect clears the active client. It is refused while an upload is in
// flight: a connected-but-uploading device must never be torn down.
func (s *Session) Disconnect() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.uploading {
		return fmt.Errorf("%w: cannot disconnect during an upload", ErrUploadInProgress)
	}
	s.client = nil
	s.label = ""
	s.connected = false
	return nil
}

// MarkDisconnected clears the client unconditionally. Used by the health
// monitor when a ping fails: the device is already gone, there is nothing
// left to protect.
func (s *Session) MarkDisconnected() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.client = nil
	s.label = ""
	s.connected = false
}

// BeginOp increments the busy counter. Every device-bound operation
// (transfer, delete, list, move) brackets itself with BeginOp/EndOp so the
// health monitor can yield instead of pinging into a busy device.
func (s *Session) BeginOp() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.busy++
}

// EndOp decrements the busy counter.
func (s *Session) EndOp() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.busy > 0 {
		s.busy--
	}
}

// Busy reports whether any device-bound operation is in flight.
func (s *Session) Busy() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.busy > 0
}

// BeginUpload sets the uploading flag. A second concurrent upload request
// is rejected with ErrUploadInProgress rather than queued: uploads are
// always explicitly sequenced by their callers.
func (s *Session) BeginUpload() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.uploading {
		return ErrUploadInProgress
	}
	s.uploading = true
	return nil
}

// EndUpload clears the uploading flag.
func (s *Session) EndUpload() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.uploading = false
}

// Uploading reports whether an upload is in flight.
func (s *Session) Uploading() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.uploading
}
