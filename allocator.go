package natmap

import (
	"context"
	"errors"
	"fmt"
	"net/netip"

	"go.uber.org/zap"
)

// MaxAttempts is the number of random external ports tried with
// AddPortMapping before giving up.
const MaxAttempts = 20

// Allocator obtains external port mappings from a single UPnP IGD
// connection service. It keeps no state between calls and is safe for
// concurrent use; the gateway arbitrates races between callers.
type Allocator struct {
	schema Schema
	client PortMapper
	ports  PortSource
	logger *zap.Logger
}

// NewAllocator returns an Allocator that maps ports through client and
// consults schema to pick between AddAnyPortMapping and AddPortMapping.
// AddAnyPortMapping is only used when client also implements AnyPortMapper.
func NewAllocator(schema Schema, client PortMapper, opts ...Option) *Allocator {
	o := applyOptions(opts)
	return &Allocator{
		schema: schema,
		client: client,
		ports:  o.ports,
		logger: o.logger,
	}
}

// AddAnyPort maps some free external port to local and returns it.
//
// If the gateway advertises AddAnyPortMapping a single request is made and
// the gateway picks the port. Otherwise up to MaxAttempts random ports are
// tried with AddPortMapping. A gateway that demands equal internal and
// external ports gets exactly one more request using local's port.
func (a *Allocator) AddAnyPort(ctx context.Context, proto Protocol, local netip.AddrPort, lease uint32, description string) (uint16, error) {
	if local.Port() == 0 {
		return 0, ErrInternalPortZeroInvalid
	}

	if anyClient, ok := a.client.(AnyPortMapper); ok && a.schema.HasAction(ActionAddAnyPortMapping) {
		return a.addAnyPortMapping(ctx, anyClient, proto, local, lease, description)
	}
	return a.retryAddRandomPort(ctx, proto, local, lease, description)
}

// AddPort maps external to local with a single AddPortMapping request.
func (a *Allocator) AddPort(ctx context.Context, proto Protocol, external uint16, local netip.AddrPort, lease uint32, description string) error {
	if local.Port() == 0 {
		return ErrInternalPortZeroInvalid
	}

	err := a.client.AddPortMappingCtx(ctx, "", external, string(proto), local.Port(), local.Addr().String(), true, description, lease)
	return gatewayError(ActionAddPortMapping, err)
}

func (a *Allocator) addAnyPortMapping(ctx context.Context, client AnyPortMapper, proto Protocol, local netip.AddrPort, lease uint32, description string) (uint16, error) {
	candidate := a.ports.Port()

	a.logger.Debug("requesting any port mapping",
		zap.String("action", ActionAddAnyPortMapping),
		zap.Uint16("external_port", candidate),
		zap.Stringer("local", local))

	port, err := client.AddAnyPortMappingCtx(ctx, "", candidate, string(proto), local.Port(), local.Addr().String(), true, description, lease)
	if err != nil {
		return 0, anyPortError(gatewayError(ActionAddAnyPortMapping, err))
	}
	return port, nil
}

// anyPortError translates retryable faults from AddAnyPortMapping, which is
// never retried, into the errors the fallback loop would have produced.
func anyPortError(err error) error {
	var gwErr *GatewayError
	if !errors.As(err, &gwErr) {
		return err
	}
	if gwErr.Class == FaultConflict {
		return fmt.Errorf("%w: %w", ErrNoPortsAvailable, gwErr)
	}
	return gwErr
}

func (a *Allocator) retryAddRandomPort(ctx context.Context, proto Protocol, local netip.AddrPort, lease uint32, description string) (uint16, error) {
	var lastErr error
	for attempt := 1; attempt <= MaxAttempts; attempt++ {
		candidate := a.ports.Port()

		err := a.AddPort(ctx, proto, candidate, local, lease, description)
		if err == nil {
			a.logger.Debug("port mapping added",
				zap.Uint16("external_port", candidate),
				zap.Int("attempt", attempt))
			return candidate, nil
		}

		var gwErr *GatewayError
		if !errors.As(err, &gwErr) {
			return 0, err
		}

		switch gwErr.Class {
		case FaultConflict:
			a.logger.Debug("external port in use, retrying",
				zap.Uint16("external_port", candidate),
				zap.Int("attempt", attempt),
				zap.String("fault", FaultName(gwErr.Code)))
			lastErr = gwErr
		case FaultSamePortRequired:
			a.logger.Debug("gateway requires matching ports",
				zap.Uint16("internal_port", local.Port()))
			return a.addSamePort(ctx, proto, local, lease, description)
		default:
			return 0, gwErr
		}
	}

	return 0, fmt.Errorf("%w after %d attempts: %w", ErrNoPortsAvailable, MaxAttempts, lastErr)
}

// addSamePort tries local's own port as the external port. Its failure is
// final, whatever the fault.
func (a *Allocator) addSamePort(ctx context.Context, proto Protocol, local netip.AddrPort, lease uint32, description string) (uint16, error) {
	if err := a.AddPort(ctx, proto, local.Port(), local, lease, description); err != nil {
		return 0, err
	}
	return local.Port(), nil
}
