package natmap

import (
	"errors"
	"fmt"
)

var (
	ErrInternalPortZeroInvalid = errors.New("internal port zero is invalid")
	ErrNoPortsAvailable        = errors.New("no external ports available")
	ErrActionNotSupported      = errors.New("action not supported by gateway")
	ErrInvalidProtocol         = errors.New("invalid protocol")
	ErrNoInternalAddress       = errors.New("no internal address")
	ErrNoNATFound              = errors.New("no NAT found")
)

// FaultClass tells the allocator how to react to a gateway fault.
type FaultClass int

const (
	// FaultFatal stops the allocation and is reported to the caller.
	FaultFatal FaultClass = iota
	// FaultConflict means the external port is already mapped; try another one.
	FaultConflict
	// FaultSamePortRequired means the gateway only accepts external == internal.
	FaultSamePortRequired
	// FaultNotSupported means the gateway does not know the action.
	FaultNotSupported
)

func (c FaultClass) String() string {
	switch c {
	case FaultConflict:
		return "conflict"
	case FaultSamePortRequired:
		return "same-port-required"
	case FaultNotSupported:
		return "not-supported"
	default:
		return "fatal"
	}
}

// UPnP and WANIPConnection/WANPPPConnection fault codes.
const (
	FaultInvalidAction                    = 401
	FaultInvalidArgs                      = 402
	FaultActionFailed                     = 501
	FaultOptionalActionNotImplemented     = 602
	FaultStringArgumentTooLong            = 605
	FaultActionNotAuthorized              = 606
	FaultNoSuchEntryInArray               = 714
	FaultWildCardNotPermittedInSrcIP      = 715
	FaultWildCardNotPermittedInExtPort    = 716
	FaultConflictInMappingEntry           = 718
	FaultSamePortValuesRequired           = 724
	FaultOnlyPermanentLeasesSupported     = 725
	FaultRemoteHostOnlySupportsWildcard   = 726
	FaultExternalPortOnlySupportsWildcard = 727
	FaultNoPortMapsAvailable              = 728
	FaultConflictWithOtherMechanisms      = 729
	FaultWildCardNotPermittedInIntPort    = 732
)

var faultNames = map[int]string{
	FaultInvalidAction:                    "InvalidAction",
	FaultInvalidArgs:                      "InvalidArgs",
	FaultActionFailed:                     "ActionFailed",
	FaultOptionalActionNotImplemented:     "OptionalActionNotImplemented",
	FaultStringArgumentTooLong:            "StringArgumentTooLong",
	FaultActionNotAuthorized:              "ActionNotAuthorized",
	FaultNoSuchEntryInArray:               "NoSuchEntryInArray",
	FaultWildCardNotPermittedInSrcIP:      "WildCardNotPermittedInSrcIP",
	FaultWildCardNotPermittedInExtPort:    "WildCardNotPermittedInExtPort",
	FaultConflictInMappingEntry:           "ConflictInMappingEntry",
	FaultSamePortValuesRequired:           "SamePortValuesRequired",
	FaultOnlyPermanentLeasesSupported:     "OnlyPermanentLeasesSupported",
	FaultRemoteHostOnlySupportsWildcard:   "RemoteHostOnlySupportsWildcard",
	FaultExternalPortOnlySupportsWildcard: "ExternalPortOnlySupportsWildcard",
	FaultNoPortMapsAvailable:              "NoPortMapsAvailable",
	FaultConflictWithOtherMechanisms:      "ConflictWithOtherMechanisms",
	FaultWildCardNotPermittedInIntPort:    "WildCardNotPermittedInIntPort",
}

// FaultName returns the symbolic name of a UPnP fault code, or "Unknown".
func FaultName(code int) string {
	if name, ok := faultNames[code]; ok {
		return name
	}
	return "Unknown"
}

// ClassifyFault maps a gateway fault code onto the allocator's retry vocabulary.
// Codes it does not recognize are fatal.
func ClassifyFault(code int) FaultClass {
	switch code {
	case FaultConflictInMappingEntry:
		return FaultConflict
	case FaultSamePortValuesRequired:
		return FaultSamePortRequired
	case FaultInvalidAction, FaultOptionalActionNotImplemented:
		return FaultNotSupported
	case FaultInvalidArgs,
		FaultActionFailed,
		FaultStringArgumentTooLong,
		FaultActionNotAuthorized,
		FaultNoSuchEntryInArray,
		FaultWildCardNotPermittedInSrcIP,
		FaultWildCardNotPermittedInExtPort,
		FaultOnlyPermanentLeasesSupported,
		FaultRemoteHostOnlySupportsWildcard,
		FaultExternalPortOnlySupportsWildcard,
		FaultNoPortMapsAvailable,
		FaultConflictWithOtherMechanisms,
		FaultWildCardNotPermittedInIntPort:
		return FaultFatal
	default:
		return FaultFatal
	}
}

// GatewayError is a fault returned by the gateway for a SOAP action.
type GatewayError struct {
	Action      string
	Code        int
	Description string
	Class       FaultClass
}

func (e *GatewayError) Error() string {
	msg := fmt.Sprintf("%s: gateway fault %d (%s)", e.Action, e.Code, FaultName(e.Code))
	if e.Description != "" {
		msg += ": " + e.Description
	}
	return msg
}

// Is reports not-supported faults as ErrActionNotSupported and the
// NoPortMapsAvailable fault as ErrNoPortsAvailable.
func (e *GatewayError) Is(target error) bool {
	switch target {
	case ErrActionNotSupported:
		return e.Class == FaultNotSupported
	case ErrNoPortsAvailable:
		return e.Code == FaultNoPortMapsAvailable
	}
	return false
}

// TransportError is a failure to deliver a request or read its response.
type TransportError struct {
	Action string
	Err    error
}

func (e *TransportError) Error() string {
	return e.Action + ": transport: " + e.Err.Error()
}

func (e *TransportError) Unwrap() error { return e.Err }
