package natmap

import (
	"context"
	"errors"

	"github.com/huin/goupnp/dcps/internetgateway1"
	"github.com/huin/goupnp/dcps/internetgateway2"
	"github.com/huin/goupnp/soap"
)

// PortMapper is the AddPortMapping action of a goupnp WAN connection client.
type PortMapper interface {
	AddPortMappingCtx(
		ctx context.Context,
		NewRemoteHost string,
		NewExternalPort uint16,
		NewProtocol string,
		NewInternalPort uint16,
		NewInternalClient string,
		NewEnabled bool,
		NewPortMappingDescription string,
		NewLeaseDuration uint32,
	) error
}

// AnyPortMapper is the AddAnyPortMapping action, offered by
// WANIPConnection:2 clients.
type AnyPortMapper interface {
	AddAnyPortMappingCtx(
		ctx context.Context,
		NewRemoteHost string,
		NewExternalPort uint16,
		NewProtocol string,
		NewInternalPort uint16,
		NewInternalClient string,
		NewEnabled bool,
		NewPortMappingDescription string,
		NewLeaseDuration uint32,
	) (NewReservedPort uint16, err error)
}

var (
	_ PortMapper    = (*internetgateway1.WANIPConnection1)(nil)
	_ PortMapper    = (*internetgateway1.WANPPPConnection1)(nil)
	_ PortMapper    = (*internetgateway2.WANIPConnection1)(nil)
	_ PortMapper    = (*internetgateway2.WANPPPConnection1)(nil)
	_ AnyPortMapper = (*internetgateway2.WANIPConnection2)(nil)
)

// gatewayError converts the result of a SOAP action into *GatewayError for
// UPnP faults or *TransportError for anything else.
func gatewayError(action string, err error) error {
	if err == nil {
		return nil
	}

	var fault *soap.SOAPFaultError
	if errors.As(err, &fault) {
		code := fault.Detail.UPnPError.Errorcode
		desc := fault.Detail.UPnPError.ErrorDescription
		if desc == "" {
			desc = fault.FaultString
		}
		return &GatewayError{
			Action:      action,
			Code:        code,
			Description: desc,
			Class:       ClassifyFault(code),
		}
	}

	return &TransportError{Action: action, Err: err}
}
