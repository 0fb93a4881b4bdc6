// Package connectivity answers whether the remote catalog is currently
// reachable.
package connectivity

import (
	"context"
	"net"
	"net/url"
	"time"

	"github.com/go-faster/errors"
	"go.uber.org/zap"

	"github.com/xenking/storefront/pkg/health"
)

// Oracle reports whether a network path to the catalog is usable.
type Oracle interface {
	Online(ctx context.Context) bool
}

// Static is an Oracle with a fixed answer.
type Static bool

// Online implements Oracle.
func (s Static) Online(context.Context) bool { return bool(s) }

// Dial is an Oracle that opens a TCP connection to Addr on every query.
type Dial struct {
	Addr    string
	Timeout time.Duration
}

// Online implements Oracle.
func (d Dial) Online(ctx context.Context) bool {
	timeout := d.Timeout
	if timeout <= 0 {
		timeout = 3 * time.Second
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	return health.DialCheck(d.Addr)(ctx) == nil
}

// Monitor is an Oracle backed by a background probe. Online returns the
// probe's last settled verdict without blocking.
type Monitor struct {
	probe *health.Probe
	lg    *zap.Logger
}

// NewMonitor creates a Monitor that dials addr. The target is considered
// offline after failures consecutive failed probes.
func NewMonitor(addr string, timeout time.Duration, failures int, lg *zap.Logger) *Monitor {
	if lg == nil {
		lg = zap.NewNop()
	}
	return &Monitor{
		probe: health.NewProbe("catalog-upstream", timeout, health.DialCheck(addr),
			health.WithThresholds(failures, 1),
		),
		lg: lg,
	}
}

// Probe returns the underlying probe, e.g. to expose it on /readyz.
func (m *Monitor) Probe() *health.Probe { return m.probe }

// Online implements Oracle.
func (m *Monitor) Online(context.Context) bool { return m.probe.Healthy() }

// Run probes every interval until ctx is done.
func (m *Monitor) Run(ctx context.Context, interval time.Duration) {
	m.probe.Loop(ctx, interval, func(healthy bool, err error) {
		if healthy {
			m.lg.Info("Catalog upstream reachable")
			return
		}
		m.lg.Warn("Catalog upstream unreachable, serving from cache", zap.Error(err))
	})
}

// AddrFromURL returns the host:port to dial for a catalog base URL.
func AddrFromURL(raw string) (string, error) {
	u, err := url.Parse(raw)
	if err != nil {
		return "", errors.Wrap(err, "parse url")
	}
	if u.Hostname() == "" {
		return "", errors.Errorf("url %q has no host", raw)
	}
	port := u.Port()
	if port == "" {
		switch u.Scheme {
		case "http":
			port = "80"
		case "https":
			port = "443"
		default:
			return "", errors.Errorf("unsupported scheme %q", u.Scheme)
		}
	}
	return net.JoinHostPort(u.Hostname(), port), nil
}
