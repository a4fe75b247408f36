package natmap

import (
	"time"

	"go.uber.org/zap"
)

// DefaultDiscoveryTimeout bounds DiscoverGateway when no timeout is given.
const DefaultDiscoveryTimeout = 10 * time.Second

// Backend selects a discovery mechanism.
type Backend string

const (
	BackendUPnPIGD1 Backend = "upnp-igd1"
	BackendUPnPIGD2 Backend = "upnp-igd2"
	BackendNATPMP   Backend = "nat-pmp"
)

// AllBackends lists every backend in the order they are started.
var AllBackends = []Backend{BackendUPnPIGD1, BackendUPnPIGD2, BackendNATPMP}

type options struct {
	logger   *zap.Logger
	ports    PortSource
	timeout  time.Duration
	backends []Backend
}

// Option configures an Allocator or DiscoverGateway.
type Option func(*options)

func defaultOptions() options {
	return options{
		logger:   zap.NewNop(),
		ports:    RandomPorts,
		timeout:  DefaultDiscoveryTimeout,
		backends: AllBackends,
	}
}

func applyOptions(opts []Option) options {
	o := defaultOptions()
	for _, opt := range opts {
		opt(&o)
	}
	return o
}

// WithLogger sets the logger. A nil logger is ignored.
func WithLogger(l *zap.Logger) Option {
	return func(o *options) {
		if l != nil {
			o.logger = l
		}
	}
}

// WithPortSource replaces the random external port source.
func WithPortSource(src PortSource) Option {
	return func(o *options) {
		if src != nil {
			o.ports = src
		}
	}
}

// WithTimeout bounds gateway discovery.
func WithTimeout(d time.Duration) Option {
	return func(o *options) {
		if d > 0 {
			o.timeout = d
		}
	}
}

// WithBackends restricts discovery to the given backends.
func WithBackends(backends ...Backend) Option {
	return func(o *options) {
		if len(backends) > 0 {
			o.backends = backends
		}
	}
}
