package device

import "time"

// Dialect identifies one of the supported firmware HTTP APIs.
type Dialect string

const (
	// DialectStock is the factory firmware ("/list" + "/edit" endpoints).
	DialectStock Dialect = "stock"
	// DialectCrosspoint is the alternate community firmware ("/api/..." endpoints).
	DialectCrosspoint Dialect = "crosspoint"
)

// Default addresses for each dialect. The crosspoint firmware advertises an
// mDNS name; some hotspot stacks fail to resolve it, so the literal IP is
// kept as a second candidate.
const (
	StockDefaultAddress       = "192.168.3.3"
	CrosspointDefaultAddress  = "crosspoint.local"
	CrosspointFallbackAddress = "192.168.4.1"
)

// Address is a resolved (dialect, host) pair produced by discovery.
// It is derived from user configuration on every sweep and never persisted.
type Address struct {
	Dialect Dialect
	Host    string
}

// FileEntry describes one entry of a device directory listing.
// Listings are produced fresh on every call; the device can rewrite its own
// filesystem between calls (log rotation, library reindexing), so entries
// must not be cached beyond the operation that requested them.
type FileEntry struct {
	Name  string `json:"name"`
	Path  string `json:"path"`
	IsDir bool   `json:"isDir"`
	Size  int64  `json:"size"`
}

// DeviceStatus is the optional status snapshot the crosspoint firmware
// exposes. The stock firmware has no status endpoint.
type DeviceStatus struct {
	Uptime         time.Duration `json:"uptime"`
	SignalStrength int           `json:"signalStrength"` // RSSI in dBm, negative
	Firmware       string        `json:"firmware"`
	Mode           string        `json:"mode"`
}
