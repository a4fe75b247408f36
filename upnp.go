package natmap

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/netip"
	"time"

	"github.com/huin/goupnp"
	"github.com/huin/goupnp/dcps/internetgateway1"
	"github.com/huin/goupnp/dcps/internetgateway2"
	"go.uber.org/zap"
)

var (
	_ NAT = (*upnpNAT)(nil)
)

var errNATDisabled = errors.New("NAT disabled on connection service")

// wanConnection is what every goupnp WAN connection client offers.
type wanConnection interface {
	PortMapper
	GetNATRSIPStatusCtx(ctx context.Context) (NewRSIPAvailable bool, NewNATEnabled bool, err error)
}

type upnpService struct {
	typ       string
	newClient func(goupnp.ServiceClient) wanConnection
}

// Connection services able to map ports, keyed by service type.
var (
	igd1Services = map[string]upnpService{
		internetgateway1.URN_WANIPConnection_1: {"UPNP (IG1-IP1)", func(sc goupnp.ServiceClient) wanConnection {
			return &internetgateway1.WANIPConnection1{ServiceClient: sc}
		}},
		internetgateway1.URN_WANPPPConnection_1: {"UPNP (IG1-PPP1)", func(sc goupnp.ServiceClient) wanConnection {
			return &internetgateway1.WANPPPConnection1{ServiceClient: sc}
		}},
	}
	igd2Services = map[string]upnpService{
		internetgateway2.URN_WANIPConnection_1: {"UPNP (IG2-IP1)", func(sc goupnp.ServiceClient) wanConnection {
			return &internetgateway2.WANIPConnection1{ServiceClient: sc}
		}},
		internetgateway2.URN_WANIPConnection_2: {"UPNP (IG2-IP2)", func(sc goupnp.ServiceClient) wanConnection {
			return &internetgateway2.WANIPConnection2{ServiceClient: sc}
		}},
		internetgateway2.URN_WANPPPConnection_1: {"UPNP (IG2-PPP1)", func(sc goupnp.ServiceClient) wanConnection {
			return &internetgateway2.WANPPPConnection1{ServiceClient: sc}
		}},
	}
)

func discoverUPNPIG1(ctx context.Context, o options) <-chan NAT {
	return discoverUPNP(ctx, o, internetgateway1.URN_WANConnectionDevice_1, igd1Services)
}

func discoverUPNPIG2(ctx context.Context, o options) <-chan NAT {
	return discoverUPNP(ctx, o, internetgateway2.URN_WANConnectionDevice_2, igd2Services)
}

func discoverUPNP(ctx context.Context, o options, deviceURN string, services map[string]upnpService) <-chan NAT {
	res := make(chan NAT, 1)
	go func() {
		defer close(res)

		// find devices
		devs, err := goupnp.DiscoverDevicesCtx(ctx, deviceURN)
		if err != nil {
			o.logger.Debug("upnp discovery failed", zap.String("urn", deviceURN), zap.Error(err))
			return
		}

		for _, dev := range devs {
			if dev.Root == nil {
				continue
			}

			var nat NAT
			dev.Root.Device.VisitServices(func(srv *goupnp.Service) {
				svc, ok := services[srv.ServiceType]
				if !ok || nat != nil {
					return
				}
				n, err := newUPNPNAT(ctx, o, dev.Root, srv, svc)
				if err != nil {
					o.logger.Debug("skipping upnp service",
						zap.String("service", srv.ServiceType),
						zap.Error(err))
					return
				}
				nat = n
			})
			if nat != nil {
				res <- nat
				return
			}
		}
	}()
	return res
}

func newUPNPNAT(ctx context.Context, o options, root *goupnp.RootDevice, srv *goupnp.Service, svc upnpService) (*upnpNAT, error) {
	client := svc.newClient(goupnp.ServiceClient{
		SOAPClient: srv.NewSOAPClient(),
		RootDevice: root,
		Service:    srv,
	})

	_, isNat, err := client.GetNATRSIPStatusCtx(ctx)
	if err != nil {
		return nil, gatewayError("GetNATRSIPStatus", err)
	}
	if !isNat {
		return nil, fmt.Errorf("%s: %w", srv.ServiceType, errNATDisabled)
	}

	schema := ActionSet{}
	if doc, err := srv.RequestSCPDCtx(ctx); err != nil {
		o.logger.Debug("service description unavailable, assuming AddPortMapping only",
			zap.String("service", srv.ServiceType),
			zap.Error(err))
	} else {
		schema = ActionSetFromSCPD(doc)
	}

	logger := o.logger.With(zap.String("nat", svc.typ))
	return &upnpNAT{
		alloc:      NewAllocator(schema, client, WithLogger(logger), WithPortSource(o.ports)),
		typ:        svc.typ,
		rootDevice: root,
	}, nil
}

type upnpNAT struct {
	alloc      *Allocator
	typ        string
	rootDevice *goupnp.RootDevice
}

func (u *upnpNAT) AddPortMapping(ctx context.Context, protocol Protocol, externalPort, internalPort int, description string, lease time.Duration) (int, error) {
	if externalPort == 0 {
		return u.AddAnyPortMapping(ctx, protocol, internalPort, description, lease)
	}
	if externalPort < 0 || externalPort > 65535 {
		return 0, fmt.Errorf("external port %d out of range", externalPort)
	}

	local, err := u.localAddr(internalPort)
	if err != nil {
		return 0, err
	}
	if err := u.alloc.AddPort(ctx, protocol, uint16(externalPort), local, leaseSeconds(lease), description); err != nil {
		return 0, err
	}
	return externalPort, nil
}

func (u *upnpNAT) AddAnyPortMapping(ctx context.Context, protocol Protocol, internalPort int, description string, lease time.Duration) (int, error) {
	local, err := u.localAddr(internalPort)
	if err != nil {
		return 0, err
	}
	port, err := u.alloc.AddAnyPort(ctx, protocol, local, leaseSeconds(lease), description)
	if err != nil {
		return 0, err
	}
	return int(port), nil
}

func (u *upnpNAT) localAddr(internalPort int) (netip.AddrPort, error) {
	if internalPort == 0 {
		return netip.AddrPort{}, ErrInternalPortZeroInvalid
	}
	ip, err := u.GetInternalAddress()
	if err != nil {
		return netip.AddrPort{}, err
	}
	return toAddrPort(ip, internalPort)
}

func (u *upnpNAT) GetDeviceAddress() (net.IP, error) {
	addr, err := net.ResolveUDPAddr("udp4", u.rootDevice.URLBase.Host)
	if err != nil {
		return nil, err
	}

	return addr.IP, nil
}

func (u *upnpNAT) GetInternalAddress() (net.IP, error) {
	devAddr, err := u.GetDeviceAddress()
	if err != nil {
		return nil, err
	}

	return internalAddressFor(devAddr)
}

func (u *upnpNAT) Type() string { return u.typ }
