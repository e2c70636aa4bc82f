package device

import (
	"context"
	"errors"
	"net"
)

// Error taxonomy shared by both dialect clients. Callers classify with
// errors.Is; raw HTTP details stay wrapped underneath and are only logged,
// never shown to the user.
var (
	// ErrUnreachable means no response at all (connection refused, reset, DNS).
	ErrUnreachable = errors.New("device unreachable")
	// ErrTimeout means the device accepted the connection but never answered.
	ErrTimeout = errors.New("device timed out")
	// ErrDeviceRejected means a 4xx/5xx with a device-specific body.
	ErrDeviceRejected = errors.New("device rejected the request")
	// ErrMalformedResponse means the body could not be parsed.
	ErrMalformedResponse = errors.New("malformed device response")
	// ErrFolderNotEmpty is returned by dialects that refuse non-empty deletes.
	ErrFolderNotEmpty = errors.New("folder not empty")
	// ErrAlreadyExists is returned on folder creation when the dialect reports it.
	ErrAlreadyExists = errors.New("already exists")
	// ErrUploadInProgress rejects an overlapping upload request.
	ErrUploadInProgress = errors.New("upload already in progress")
	// ErrNotConnected means no client is attached to the session.
	ErrNotConnected = errors.New("not connected to a device")
	// ErrNoDevice is returned by discovery when every candidate failed.
	ErrNoDevice = errors.New("no device found")
)

// IsTransient reports whether err is worth retrying. Only the connection
// level classes qualify; everything else propagates immediately.
func IsTransient(err error) bool {
	return errors.Is(err, ErrUnreachable) || errors.Is(err, ErrTimeout)
}

// classifyTransport maps a transport-level error from net/http onto the
// taxonomy. Context cancellation is passed through untouched so callers can
// tell a user abort from a dead device.
func classifyTransport(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, context.Canceled) {
		return err
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return errors.Join(ErrTimeout, err)
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return errors.Join(ErrTimeout, err)
	}
	return errors.Join(ErrUnreachable, err)
}
