package natmap

import (
	"context"
	"fmt"
	"math"
	"net"
	"time"

	"github.com/jackpal/gateway"
	natpmp "github.com/jackpal/go-nat-pmp"
	"go.uber.org/zap"
)

var (
	_ NAT = (*natpmpNAT)(nil)
)

// NAT-PMP treats a zero lifetime as a deletion, so an unlimited lease is
// requested as the recommended two hours instead.
const defaultNATPMPLifetime = 2 * time.Hour

// natpmpClient is the subset of *natpmp.Client used here.
type natpmpClient interface {
	GetExternalAddress() (*natpmp.GetExternalAddressResult, error)
	AddPortMapping(protocol string, internalPort, requestedExternalPort int, lifetime int) (*natpmp.AddPortMappingResult, error)
}

// defaultGateway finds the LAN gateway that may speak NAT-PMP.
var defaultGateway = gateway.DiscoverGateway

// discoverNATPMP returns at once; the route lookup and the external address
// request both run in the background.
func discoverNATPMP(ctx context.Context, o options) <-chan NAT {
	res := make(chan NAT, 1)
	go discoverNATPMPWithAddr(ctx, o, res)
	return res
}

func discoverNATPMPWithAddr(ctx context.Context, o options, c chan NAT) {
	defer close(c)

	ip, err := defaultGateway()
	if err != nil {
		o.logger.Debug("default gateway lookup failed", zap.Error(err))
		return
	}
	if ctx.Err() != nil {
		return
	}

	client := natpmp.NewClient(ip)
	if _, err := client.GetExternalAddress(); err != nil {
		o.logger.Debug("nat-pmp gateway did not answer", zap.Stringer("gateway", ip), zap.Error(err))
		return
	}
	if ctx.Err() != nil {
		return
	}

	c <- newNATPMPNAT(client, ip, o)
}

func newNATPMPNAT(c natpmpClient, gw net.IP, o options) *natpmpNAT {
	return &natpmpNAT{
		c:       c,
		gateway: gw,
		ports:   o.ports,
		logger:  o.logger.With(zap.String("nat", "NAT-PMP")),
	}
}

type natpmpNAT struct {
	c       natpmpClient
	gateway net.IP
	ports   PortSource
	logger  *zap.Logger
}

func (n *natpmpNAT) GetDeviceAddress() (addr net.IP, err error) {
	return n.gateway, nil
}

func (n *natpmpNAT) GetInternalAddress() (addr net.IP, err error) {
	return internalAddressFor(n.gateway)
}

// AddPortMapping asks for externalPort, but the gateway may grant another
// one; the granted port is returned.
func (n *natpmpNAT) AddPortMapping(ctx context.Context, protocol Protocol, externalPort, internalPort int, description string, lease time.Duration) (int, error) {
	if internalPort == 0 {
		return 0, ErrInternalPortZeroInvalid
	}
	if internalPort < 0 || internalPort > 65535 || externalPort < 0 || externalPort > 65535 {
		return 0, fmt.Errorf("port out of range: external %d, internal %d", externalPort, internalPort)
	}
	if err := ctx.Err(); err != nil {
		return 0, err
	}

	if externalPort == 0 {
		externalPort = int(n.ports.Port())
	}
	if lease <= 0 {
		lease = defaultNATPMPLifetime
	}

	lifetime := int(min(int64(leaseSeconds(lease)), math.MaxInt))
	res, err := n.c.AddPortMapping(protocol.lower(), internalPort, externalPort, lifetime)
	if err != nil {
		return 0, &TransportError{Action: "AddPortMapping", Err: err}
	}

	n.logger.Debug("port mapping added",
		zap.Int("requested_port", externalPort),
		zap.Uint16("external_port", res.MappedExternalPort),
		zap.Uint32("lifetime", res.PortMappingLifetimeInSeconds))

	return int(res.MappedExternalPort), nil
}

func (n *natpmpNAT) AddAnyPortMapping(ctx context.Context, protocol Protocol, internalPort int, description string, lease time.Duration) (int, error) {
	return n.AddPortMapping(ctx, protocol, 0, internalPort, description, lease)
}

func (n *natpmpNAT) Type() string {
	return "NAT-PMP"
}
