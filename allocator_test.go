package natmap

import (
	"context"
	"errors"
	"net/netip"
	"net/url"
	"testing"

	"github.com/huin/goupnp"
	"github.com/huin/goupnp/dcps/internetgateway1"
	"github.com/huin/goupnp/soap"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type sentRequest struct {
	action       string
	externalPort uint16
	internalPort uint16
	client       string
}

// scriptedClient answers each request with the next reply in its script.
// A nil reply is success; an int is a UPnP fault code; any other error is
// returned as is. Requests beyond the script repeat the last reply.
type scriptedClient struct {
	replies  []interface{}
	reserved uint16
	sent     []sentRequest
}

func (c *scriptedClient) AddPortMappingCtx(_ context.Context, _ string, externalPort uint16, _ string, internalPort uint16, client string, _ bool, _ string, _ uint32) error {
	return c.reply(ActionAddPortMapping, externalPort, internalPort, client)
}

func (c *scriptedClient) AddAnyPortMappingCtx(_ context.Context, _ string, externalPort uint16, _ string, internalPort uint16, client string, _ bool, _ string, _ uint32) (uint16, error) {
	if err := c.reply(ActionAddAnyPortMapping, externalPort, internalPort, client); err != nil {
		return 0, err
	}
	return c.reserved, nil
}

func (c *scriptedClient) reply(action string, externalPort, internalPort uint16, client string) error {
	c.sent = append(c.sent, sentRequest{
		action:       action,
		externalPort: externalPort,
		internalPort: internalPort,
		client:       client,
	})

	switch r := nextReply(c.replies, len(c.sent)).(type) {
	case nil:
		return nil
	case int:
		return fault(r)
	case error:
		return r
	default:
		panic("unexpected reply")
	}
}

// nextReply picks the reply to the n-th request, repeating the last one.
func nextReply(replies []interface{}, n int) interface{} {
	if len(replies) == 0 {
		return nil
	}
	if n > len(replies) {
		n = len(replies)
	}
	return replies[n-1]
}

// addPortMappingOnly hides AddAnyPortMappingCtx, like the IGD1 clients.
type addPortMappingOnly struct{ PortMapper }

func fault(code int) *soap.SOAPFaultError {
	f := &soap.SOAPFaultError{FaultCode: "s:Client", FaultString: "UPnPError"}
	f.Detail.UPnPError.Errorcode = code
	return f
}

// sequentialPorts hands out 40000, 40001, ...
func sequentialPorts() PortSource {
	next := uint16(40000)
	return PortSourceFunc(func() uint16 {
		p := next
		next++
		return p
	})
}

var testLocal = netip.MustParseAddrPort("192.168.1.10:8080")

func newTestAllocator(schema Schema, c PortMapper) *Allocator {
	return NewAllocator(schema, c, WithPortSource(sequentialPorts()))
}

func TestAddAnyPort_InternalPortZero(t *testing.T) {
	for name, schema := range map[string]Schema{
		"any port":    NewActionSet(ActionAddAnyPortMapping, ActionAddPortMapping),
		"add mapping": NewActionSet(ActionAddPortMapping),
		"empty":       NewActionSet(),
	} {
		t.Run(name, func(t *testing.T) {
			p := &scriptedClient{}
			a := newTestAllocator(schema, p)

			_, err := a.AddAnyPort(context.Background(), TCP, netip.MustParseAddrPort("192.168.1.10:0"), 0, "test")
			require.ErrorIs(t, err, ErrInternalPortZeroInvalid)
			assert.Empty(t, p.sent)
		})
	}
}

func TestAddAnyPort_AnyPortMapping(t *testing.T) {
	p := &scriptedClient{reserved: 51234}
	a := newTestAllocator(NewActionSet(ActionAddAnyPortMapping), p)

	port, err := a.AddAnyPort(context.Background(), UDP, testLocal, 3600, "test")
	require.NoError(t, err)
	assert.Equal(t, uint16(51234), port)
	require.Len(t, p.sent, 1)
	assert.Equal(t, ActionAddAnyPortMapping, p.sent[0].action)
	assert.Equal(t, uint16(40000), p.sent[0].externalPort)
	assert.Equal(t, uint16(8080), p.sent[0].internalPort)
	assert.Equal(t, "192.168.1.10", p.sent[0].client)
}

func TestAddAnyPort_AnyPortMappingFaults(t *testing.T) {
	tests := []struct {
		name    string
		code    int
		wantIs  error
		wantCls FaultClass
	}{
		{"conflict", FaultConflictInMappingEntry, ErrNoPortsAvailable, FaultConflict},
		{"no port maps", FaultNoPortMapsAvailable, ErrNoPortsAvailable, FaultFatal},
		{"same port", FaultSamePortValuesRequired, nil, FaultSamePortRequired},
		{"not supported", FaultInvalidAction, ErrActionNotSupported, FaultNotSupported},
		{"not authorized", FaultActionNotAuthorized, nil, FaultFatal},
		{"unknown", 899, nil, FaultFatal},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := &scriptedClient{replies: []interface{}{tt.code}}
			a := newTestAllocator(NewActionSet(ActionAddAnyPortMapping, ActionAddPortMapping), p)

			_, err := a.AddAnyPort(context.Background(), TCP, testLocal, 0, "test")
			require.Error(t, err)
			assert.Len(t, p.sent, 1)

			var gwErr *GatewayError
			require.ErrorAs(t, err, &gwErr)
			assert.Equal(t, tt.code, gwErr.Code)
			assert.Equal(t, tt.wantCls, gwErr.Class)
			if tt.wantIs != nil {
				assert.ErrorIs(t, err, tt.wantIs)
			}
		})
	}
}

func TestAddAnyPort_AnyPortMappingNeedsCapableClient(t *testing.T) {
	c := &scriptedClient{reserved: 51234}
	a := newTestAllocator(NewActionSet(ActionAddAnyPortMapping, ActionAddPortMapping), addPortMappingOnly{c})

	port, err := a.AddAnyPort(context.Background(), TCP, testLocal, 0, "test")
	require.NoError(t, err)
	assert.Equal(t, uint16(40000), port)
	require.Len(t, c.sent, 1)
	assert.Equal(t, ActionAddPortMapping, c.sent[0].action)
}

func TestAddAnyPort_AddPortMappingWhenNotAdvertised(t *testing.T) {
	c := &scriptedClient{reserved: 51234}
	a := newTestAllocator(NewActionSet(ActionAddPortMapping), c)

	port, err := a.AddAnyPort(context.Background(), TCP, testLocal, 0, "test")
	require.NoError(t, err)
	assert.Equal(t, uint16(40000), port)
	require.Len(t, c.sent, 1)
	assert.Equal(t, ActionAddPortMapping, c.sent[0].action)
}

func TestAddAnyPort_FallbackAlwaysConflict(t *testing.T) {
	p := &scriptedClient{replies: []interface{}{FaultConflictInMappingEntry}}
	a := newTestAllocator(NewActionSet(ActionAddPortMapping), p)

	_, err := a.AddAnyPort(context.Background(), TCP, testLocal, 0, "test")
	require.ErrorIs(t, err, ErrNoPortsAvailable)
	require.Len(t, p.sent, MaxAttempts)
	for i, req := range p.sent {
		assert.Equal(t, ActionAddPortMapping, req.action)
		assert.Equal(t, uint16(40000+i), req.externalPort)
	}
}

func TestAddAnyPort_FallbackSucceedsAfterConflicts(t *testing.T) {
	c := FaultConflictInMappingEntry
	p := &scriptedClient{replies: []interface{}{c, c, c, nil}}
	a := newTestAllocator(NewActionSet(ActionAddPortMapping), p)

	port, err := a.AddAnyPort(context.Background(), TCP, testLocal, 0, "test")
	require.NoError(t, err)
	require.Len(t, p.sent, 4)
	assert.Equal(t, p.sent[3].externalPort, port)
	assert.Equal(t, uint16(40003), port)
}

func TestAddAnyPort_SamePortRequired(t *testing.T) {
	tests := []struct {
		name    string
		second  interface{}
		wantErr bool
	}{
		{"success", nil, false},
		{"conflict is final", FaultConflictInMappingEntry, true},
		{"fatal", FaultActionFailed, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := &scriptedClient{replies: []interface{}{FaultSamePortValuesRequired, tt.second, nil}}
			a := newTestAllocator(NewActionSet(), p)

			port, err := a.AddAnyPort(context.Background(), TCP, testLocal, 0, "test")
			require.Len(t, p.sent, 2)
			assert.Equal(t, uint16(40000), p.sent[0].externalPort)
			assert.Equal(t, testLocal.Port(), p.sent[1].externalPort)

			if !tt.wantErr {
				require.NoError(t, err)
				assert.Equal(t, testLocal.Port(), port)
				return
			}
			var gwErr *GatewayError
			require.ErrorAs(t, err, &gwErr)
			assert.Equal(t, tt.second, gwErr.Code)
			assert.NotErrorIs(t, err, ErrNoPortsAvailable)
		})
	}
}

func TestAddAnyPort_SamePortAfterConflicts(t *testing.T) {
	c := FaultConflictInMappingEntry
	p := &scriptedClient{replies: []interface{}{c, c, FaultSamePortValuesRequired, nil}}
	a := newTestAllocator(NewActionSet(), p)

	port, err := a.AddAnyPort(context.Background(), UDP, testLocal, 0, "test")
	require.NoError(t, err)
	assert.Equal(t, testLocal.Port(), port)
	assert.Len(t, p.sent, 4)
}

func TestAddAnyPort_FallbackFatal(t *testing.T) {
	transportErr := errors.New("connection refused")
	tests := []struct {
		name  string
		reply interface{}
		check func(t *testing.T, err error)
	}{
		{"unknown fault", 899, func(t *testing.T, err error) {
			var gwErr *GatewayError
			require.ErrorAs(t, err, &gwErr)
			assert.Equal(t, FaultFatal, gwErr.Class)
		}},
		{"not supported", FaultOptionalActionNotImplemented, func(t *testing.T, err error) {
			assert.ErrorIs(t, err, ErrActionNotSupported)
		}},
		{"transport", transportErr, func(t *testing.T, err error) {
			var tErr *TransportError
			require.ErrorAs(t, err, &tErr)
			assert.ErrorIs(t, err, transportErr)
		}},
		{"context", context.Canceled, func(t *testing.T, err error) {
			assert.ErrorIs(t, err, context.Canceled)
		}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := &scriptedClient{replies: []interface{}{FaultConflictInMappingEntry, tt.reply}}
			a := newTestAllocator(NewActionSet(ActionAddPortMapping), p)

			_, err := a.AddAnyPort(context.Background(), TCP, testLocal, 0, "test")
			require.Error(t, err)
			assert.Len(t, p.sent, 2)
			assert.NotErrorIs(t, err, ErrNoPortsAvailable)
			tt.check(t, err)
		})
	}
}

func TestAddAnyPort_RandomCandidatesNotDeduplicated(t *testing.T) {
	// A source stuck on one value must be used as is.
	p := &scriptedClient{replies: []interface{}{FaultConflictInMappingEntry}}
	a := NewAllocator(NewActionSet(), p, WithPortSource(PortSourceFunc(func() uint16 { return 45000 })))

	_, err := a.AddAnyPort(context.Background(), TCP, testLocal, 0, "test")
	require.ErrorIs(t, err, ErrNoPortsAvailable)
	require.Len(t, p.sent, MaxAttempts)
	for _, req := range p.sent {
		assert.Equal(t, uint16(45000), req.externalPort)
	}
}

func TestAddAnyPort_DefaultSourceInRange(t *testing.T) {
	p := &scriptedClient{replies: []interface{}{FaultConflictInMappingEntry}}
	a := NewAllocator(NewActionSet(), p)

	_, err := a.AddAnyPort(context.Background(), TCP, testLocal, 0, "test")
	require.ErrorIs(t, err, ErrNoPortsAvailable)
	for _, req := range p.sent {
		assert.GreaterOrEqual(t, int(req.externalPort), minRandomPort)
		assert.Less(t, int(req.externalPort), maxRandomPort)
	}
}

func TestAddPort(t *testing.T) {
	p := &scriptedClient{}
	a := newTestAllocator(NewActionSet(), p)

	require.NoError(t, a.AddPort(context.Background(), TCP, 9000, testLocal, 60, "test"))
	require.Len(t, p.sent, 1)
	assert.Equal(t, uint16(9000), p.sent[0].externalPort)

	err := a.AddPort(context.Background(), TCP, 9000, netip.MustParseAddrPort("192.168.1.10:0"), 60, "test")
	assert.ErrorIs(t, err, ErrInternalPortZeroInvalid)
	assert.Len(t, p.sent, 1)
}

func newSOAPAllocator(t *testing.T, g *fakeGateway) *Allocator {
	t.Helper()
	srv := g.start(t)

	ctl, err := url.Parse(srv.URL + "/ctl")
	require.NoError(t, err)
	client := &internetgateway1.WANIPConnection1{ServiceClient: goupnp.ServiceClient{
		SOAPClient: soap.NewSOAPClient(*ctl),
	}}
	return newTestAllocator(NewActionSet(ActionAddPortMapping), client)
}

func TestAddAnyPort_OverSOAP(t *testing.T) {
	c := FaultConflictInMappingEntry
	g := &fakeGateway{serviceURN: internetgateway1.URN_WANIPConnection_1, replies: []interface{}{c, c, nil}}
	a := newSOAPAllocator(t, g)

	port, err := a.AddAnyPort(context.Background(), TCP, testLocal, 3600, "test")
	require.NoError(t, err)
	assert.Equal(t, uint16(40002), port)

	sent := g.requests()
	require.Len(t, sent, 3)
	for i, req := range sent {
		assert.Equal(t, ActionAddPortMapping, req.action)
		assert.Equal(t, uint16(40000+i), req.externalPort)
		assert.Equal(t, testLocal.Port(), req.internalPort)
		assert.Equal(t, "192.168.1.10", req.client)
	}
}

func TestAddAnyPort_OverSOAPSamePortFault(t *testing.T) {
	g := &fakeGateway{
		serviceURN: internetgateway1.URN_WANIPConnection_1,
		replies:    []interface{}{FaultSamePortValuesRequired, FaultActionFailed},
	}
	a := newSOAPAllocator(t, g)

	_, err := a.AddAnyPort(context.Background(), TCP, testLocal, 3600, "test")
	var gwErr *GatewayError
	require.ErrorAs(t, err, &gwErr)
	assert.Equal(t, FaultActionFailed, gwErr.Code)
	assert.Equal(t, "ActionFailed", gwErr.Description)

	sent := g.requests()
	require.Len(t, sent, 2)
	assert.Equal(t, testLocal.Port(), sent[1].externalPort)
}
