// Package natmap allocates external port mappings on NAT gateways.
//
// UPnP Internet Gateway Devices are driven through an Allocator, which uses
// AddAnyPortMapping when the gateway offers it and otherwise retries
// AddPortMapping with random external ports. NAT-PMP gateways pick external
// ports themselves.
package natmap

import (
	"context"
	"fmt"
	"math"
	"net"
	"net/netip"
	"time"

	"go.uber.org/zap"
)

// NAT is a gateway able to forward an external port to this host.
type NAT interface {
	// Type returns the kind of NAT port mapping service that is used
	Type() string

	// GetDeviceAddress returns the internal address of the gateway device.
	GetDeviceAddress() (addr net.IP, err error)

	// GetInternalAddress returns the address of the local host.
	GetInternalAddress() (addr net.IP, err error)

	// AddPortMapping maps externalPort on the gateway to internalPort on the
	// local host and returns the external port in use. An externalPort of 0
	// lets the gateway or the allocator choose one.
	AddPortMapping(ctx context.Context, protocol Protocol, externalPort, internalPort int, description string, lease time.Duration) (mappedExternalPort int, err error)

	// AddAnyPortMapping maps some free external port to internalPort.
	AddAnyPortMapping(ctx context.Context, protocol Protocol, internalPort int, description string, lease time.Duration) (mappedExternalPort int, err error)
}

// DiscoverGateway attempts to find a gateway device. The first backend to
// answer wins.
func DiscoverGateway(ctx context.Context, opts ...Option) (NAT, error) {
	o := applyOptions(opts)

	ctx, cancel := context.WithTimeout(ctx, o.timeout)
	defer cancel()

	found := make(chan NAT, len(o.backends))
	for _, b := range o.backends {
		switch b {
		case BackendUPnPIGD1:
			go forward(ctx, discoverUPNPIG1(ctx, o), found)
		case BackendUPnPIGD2:
			go forward(ctx, discoverUPNPIG2(ctx, o), found)
		case BackendNATPMP:
			go forward(ctx, discoverNATPMP(ctx, o), found)
		default:
			return nil, fmt.Errorf("unknown backend %q", b)
		}
	}

	select {
	case nat := <-found:
		o.logger.Debug("gateway found", zap.String("type", nat.Type()))
		return nat, nil
	case <-ctx.Done():
		return nil, ErrNoNATFound
	}
}

func forward(ctx context.Context, in <-chan NAT, out chan<- NAT) {
	select {
	case nat, ok := <-in:
		if ok {
			out <- nat
		}
	case <-ctx.Done():
	}
}

// internalAddressFor returns the address of the local interface on the same
// subnet as gw.
func internalAddressFor(gw net.IP) (net.IP, error) {
	ifaces, err := net.Interfaces()
	if err != nil {
		return nil, err
	}

	for _, iface := range ifaces {
		addrs, err := iface.Addrs()
		if err != nil {
			return nil, err
		}

		for _, addr := range addrs {
			switch x := addr.(type) {
			case *net.IPNet:
				if x.Contains(gw) {
					return x.IP, nil
				}
			}
		}
	}

	return nil, ErrNoInternalAddress
}

func toAddrPort(ip net.IP, port int) (netip.AddrPort, error) {
	if port < 0 || port > 65535 {
		return netip.AddrPort{}, fmt.Errorf("port %d out of range", port)
	}
	addr, ok := netip.AddrFromSlice(ip)
	if !ok {
		return netip.AddrPort{}, fmt.Errorf("invalid address %v", ip)
	}
	return netip.AddrPortFrom(addr.Unmap(), uint16(port)), nil
}

// leaseSeconds converts lease to whole seconds, clamped to the uint32 range
// of the lease duration fields.
func leaseSeconds(lease time.Duration) uint32 {
	if lease <= 0 {
		return 0
	}
	secs := lease / time.Second
	if secs > math.MaxUint32 {
		return math.MaxUint32
	}
	return uint32(secs)
}
