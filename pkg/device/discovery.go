package device

import (
	"context"
	"fmt"
	"log"
	"time"

	"golang.org/x/sync/singleflight"
)

// DialectAuto asks discovery to sweep every known dialect.
const DialectAuto = "auto"

// DiscoveryConfig describes what the user asked discovery to try.
// Dialect pins the sweep to one dialect; "auto" tries all known dialects.
// CustomAddress, when set, is probed first; with AutoFallback disabled it
// is the only thing probed.
type DiscoveryConfig struct {
	Dialect       string `yaml:"dialect"`       // "auto", "stock" or "crosspoint"
	CustomAddress string `yaml:"customAddress"` // optional host/IP override
	AutoFallback  bool   `yaml:"autoFallback"`  // try default addresses after a failed custom probe
}

// Discoverer probes candidate (dialect, address) pairs in priority order and
// returns the first client that answers a liveness probe. It performs no
// retries of its own and remembers nothing across sweeps; re-discovery is a
// full fresh sweep.
type Discoverer struct {
	config       DiscoveryConfig
	probeTimeout time.Duration
	logger       *log.Logger
	group        singleflight.Group

	// newClient is swappable for tests.
	newClient func(dialect Dialect, host string) Client
}

// discoveryResult pairs the client with its user-facing label.
type discoveryResult struct {
	client Client
	label  string
}

const defaultProbeTimeout = 3 * time.Second

// NewDiscoverer creates a Discoverer for the given configuration.
func NewDiscoverer(config DiscoveryConfig, logger *log.Logger) *Discoverer {
	return &Discoverer{
		config:       config,
		probeTimeout: defaultProbeTimeout,
		logger:       logger,
		newClient:    newDialectClient,
	}
}

func newDialectClient(dialect Dialect, host string) Client {
	if dialect == DialectStock {
		return NewStockClient(host)
	}
	return NewCrosspointClient(host)
}

// Discover runs the candidate sweep and returns the first reachable client
// plus its label. Concurrent callers are coalesced into one sweep; a manual
// refresh arriving while a sweep runs shares its outcome.
func (d *Discoverer) Discover(ctx context.Context) (Client, string, error) {
	v, err, _ := d.group.Do("discover", func() (interface{}, error) {
		return d.sweep(ctx)
	})
	if err != nil {
		return nil, "", err
	}
	res := v.(*discoveryResult)
	return res.client, res.label, nil
}

func (d *Discoverer) sweep(ctx context.Context) (*discoveryResult, error) {
	candidates := d.candidates()
	if len(candidates) == 0 {
		return nil, fmt.Errorf("%w: no candidate addresses for dialect %q", ErrNoDevice, d.config.Dialect)
	}

	for _, addr := range candidates {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}

		client := d.newClient(addr.Dialect, addr.Host)
		d.logger.Printf("[Discovery] Probing %s at %s", addr.Dialect, addr.Host)

		probeCtx, cancel := context.WithTimeout(ctx, d.probeTimeout)
		reachable := client.CheckReachability(probeCtx)
		cancel()

		if reachable {
			d.logger.Printf("[Discovery] Found %s at %s", client.Label(), addr.Host)
			return &discoveryResult{client: client, label: client.Label()}, nil
		}
		// A failed probe advances immediately to the next candidate.
	}

	return nil, ErrNoDevice
}

// candidates builds the sweep in priority order: the explicit custom
// address first when set, then each known dialect's default addresses.
func (d *Discoverer) candidates() []Address {
	var out []Address

	if d.config.CustomAddress != "" {
		switch Dialect(d.config.Dialect) {
		case DialectStock:
			out = append(out, Address{DialectStock, d.config.CustomAddress})
		case DialectCrosspoint:
			out = append(out, Address{DialectCrosspoint, d.config.CustomAddress})
		default:
			// Unknown wire dialect at the custom address: try both.
			out = append(out,
				Address{DialectCrosspoint, d.config.CustomAddress},
				Address{DialectStock, d.config.CustomAddress},
			)
		}
		if !d.config.AutoFallback {
			return out
		}
	}

	switch Dialect(d.config.Dialect) {
	case DialectStock:
		out = append(out, Address{DialectStock, StockDefaultAddress})
	case DialectCrosspoint:
		out = append(out,
			Address{DialectCrosspoint, CrosspointDefaultAddress},
			Address{DialectCrosspoint, CrosspointFallbackAddress},
		)
	default:
		out = append(out,
			Address{DialectStock, StockDefaultAddress},
			Address{DialectCrosspoint, CrosspointDefaultAddress},
			Address{DialectCrosspoint, CrosspointFallbackAddress},
		)
	}
	return out
}
