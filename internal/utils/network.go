package utils

import (
	"net"
	"strings"
)

// cgnatBlock is 100.64.0.0/10, used by carrier-grade NAT, Tailscale and
// Cloudflare WARP. Direct peer-to-peer paths rarely work from behind it.
var cgnatBlock = &net.IPNet{IP: net.IPv4(100, 64, 0, 0), Mask: net.CIDRMask(10, 32)}

var tunnelNameHints = []string{"tun", "tap", "wg", "ppp", "warp", "utun"}

// ShouldForceRelay reports whether this host looks like it sits behind a VPN
// or CGNAT, in which case calls should go through TURN.
func ShouldForceRelay() bool {
	interfaces, err := net.Interfaces()
	if err != nil {
		return false
	}

	for _, iface := range interfaces {
		if iface.Flags&net.FlagUp == 0 || iface.Flags&net.FlagLoopback != 0 {
			continue
		}

		addrs, err := iface.Addrs()
		if err != nil {
			addrs = nil
		}
		if restrictedInterface(iface.Name, interfaceIPs(addrs)) {
			return true
		}
	}
	return false
}

func restrictedInterface(name string, ips []net.IP) bool {
	lower := strings.ToLower(name)
	for _, hint := range tunnelNameHints {
		if strings.Contains(lower, hint) {
			return true
		}
	}
	for _, ip := range ips {
		if cgnatBlock.Contains(ip) {
			return true
		}
	}
	return false
}

func interfaceIPs(addrs []net.Addr) []net.IP {
	ips := make([]net.IP, 0, len(addrs))
	for _, addr := range addrs {
		switch v := addr.(type) {
		case *net.IPNet:
			ips = append(ips, v.IP)
		case *net.IPAddr:
			ips = append(ips, v.IP)
		}
	}
	return ips
}
