package collector

import (
	"net"
	"strings"
)

// wirelessPrefixes match interface names used for Wi-Fi on Linux, macOS
// and Windows.
var wirelessPrefixes = []string{"wl", "wi-fi", "wifi", "wireless", "wlan"}

// listInterfaces is replaced in tests.
var listInterfaces = net.Interfaces

func collectNetwork() ([]NetworkNIC, error) {
	ifaces, err := listInterfaces()
	if err != nil {
		return nil, err
	}

	var out []NetworkNIC
	for _, ifc := range ifaces {
		if ifc.Flags&net.FlagUp == 0 || ifc.Flags&net.FlagLoopback != 0 || len(ifc.HardwareAddr) == 0 {
			continue
		}
		addrs, err := ifc.Addrs()
		if err != nil {
			continue
		}
		ip := firstIPv4(addrs)
		if ip == "" {
			continue
		}
		out = append(out, NetworkNIC{
			Name:     ifc.Name,
			MAC:      strings.ToUpper(ifc.HardwareAddr.String()),
			IPv4:     ip,
			Wireless: isWireless(ifc.Name),
		})
	}
	return out, nil
}

func firstIPv4(addrs []net.Addr) string {
	for _, a := range addrs {
		var ip net.IP
		switch v := a.(type) {
		case *net.IPNet:
			ip = v.IP
		case *net.IPAddr:
			ip = v.IP
		}
		if v4 := ip.To4(); v4 != nil && !v4.IsLinkLocalUnicast() {
			return v4.String()
		}
	}
	return ""
}

func isWireless(name string) bool {
	lower := strings.ToLower(name)
	for _, p := range wirelessPrefixes {
		if strings.HasPrefix(lower, p) {
			return true
		}
	}
	return false
}
