package config

import (
	"net"
	"strings"
)

var cgnatBlock = mustCIDR("100.64.0.0/10")

// virtualPrefixes are interface name fragments used by VPN and tunnel adapters.
var virtualPrefixes = []string{"tun", "tap", "wg", "ppp", "warp", "utun"}

// ShouldForceRelay checks if the system is likely behind a restrictive VPN or CGNAT.
// Mesh calls to every participant tend to fail there without TURN.
func ShouldForceRelay() bool {
	interfaces, err := net.Interfaces()
	if err != nil {
		return false
	}

	for _, iface := range interfaces {
		if iface.Flags&net.FlagUp == 0 || iface.Flags&net.FlagLoopback != 0 {
			continue
		}
		if isVirtualInterface(iface.Name) {
			return true
		}

		addrs, err := iface.Addrs()
		if err != nil {
			continue
		}
		for _, addr := range addrs {
			if inCGNAT(addr) {
				return true
			}
		}
	}

	return false
}

func isVirtualInterface(name string) bool {
	name = strings.ToLower(name)
	for _, p := range virtualPrefixes {
		if strings.Contains(name, p) {
			return true
		}
	}
	return false
}

func inCGNAT(addr net.Addr) bool {
	var ip net.IP
	switch v := addr.(type) {
	case *net.IPNet:
		ip = v.IP
	case *net.IPAddr:
		ip = v.IP
	}
	return ip != nil && cgnatBlock.Contains(ip)
}

func mustCIDR(s string) *net.IPNet {
	_, block, err := net.ParseCIDR(s)
	if err != nil {
		panic(err)
	}
	return block
}
