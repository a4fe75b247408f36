package natmap

import (
	"fmt"
	"math/rand/v2"
	"strings"
)

// Protocol is the transport protocol of a port mapping.
type Protocol string

const (
	TCP Protocol = "TCP"
	UDP Protocol = "UDP"
)

// ParseProtocol accepts "tcp" or "udp" in any case.
func ParseProtocol(s string) (Protocol, error) {
	switch strings.ToUpper(s) {
	case "TCP":
		return TCP, nil
	case "UDP":
		return UDP, nil
	default:
		return "", fmt.Errorf("%w: %q", ErrInvalidProtocol, s)
	}
}

func (p Protocol) String() string { return string(p) }

// natpmp wants lowercase protocol names.
func (p Protocol) lower() string { return strings.ToLower(string(p)) }

// Candidate external ports are drawn from [minRandomPort, maxRandomPort).
const (
	minRandomPort = 32768
	maxRandomPort = 65535
)

// PortSource yields candidate external ports.
type PortSource interface {
	Port() uint16
}

// PortSourceFunc adapts a function to PortSource.
type PortSourceFunc func() uint16

func (f PortSourceFunc) Port() uint16 { return f() }

// RandomPorts draws each port independently and uniformly from the dynamic range.
var RandomPorts PortSource = PortSourceFunc(randomPort)

func randomPort() uint16 {
	return uint16(minRandomPort + rand.IntN(maxRandomPort-minRandomPort))
}
