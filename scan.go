package natmap

import (
	"time"

	"github.com/koron/go-ssdp"
)

// Search targets for Internet Gateway Devices.
const (
	IGD1SearchTarget = "urn:schemas-upnp-org:device:InternetGatewayDevice:1"
	IGD2SearchTarget = "urn:schemas-upnp-org:device:InternetGatewayDevice:2"
)

// Advertisement is an SSDP search response from a gateway.
type Advertisement struct {
	Type     string
	USN      string
	Location string
	Server   string
}

// ScanGateways sends SSDP searches for IGDv1 and IGDv2 devices and collects
// the responses received within wait. Duplicate USNs are reported once.
func ScanGateways(wait time.Duration) ([]Advertisement, error) {
	waitSec := int(wait / time.Second)
	if waitSec < 1 {
		waitSec = 1
	}

	seen := make(map[string]struct{})
	var ads []Advertisement
	for _, st := range []string{IGD1SearchTarget, IGD2SearchTarget} {
		services, err := ssdp.Search(st, waitSec, "")
		if err != nil {
			return nil, err
		}
		ads = appendAdvertisements(ads, seen, services)
	}
	return ads, nil
}

func appendAdvertisements(ads []Advertisement, seen map[string]struct{}, services []ssdp.Service) []Advertisement {
	for _, srv := range services {
		key := srv.Type + "|" + srv.USN
		if _, ok := seen[key]; ok {
			continue
		}
		seen[key] = struct{}{}
		ads = append(ads, Advertisement{
			Type:     srv.Type,
			USN:      srv.USN,
			Location: srv.Location,
			Server:   srv.Server,
		})
	}
	return ads
}
