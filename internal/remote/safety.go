package remote

import (
	"net"
	"strings"
)

// ReasonHostNotSafe is the stable reason reported when a probe target
// resolves to a private, loopback or link-local address.
const ReasonHostNotSafe = "remote_host_not_safe"

// HostIsPublic reports whether host is safe to probe: it must not be a
// loopback, private-range or link-local address. Hostnames are resolved; a
// resolution failure is treated as not public so the safety gate fails
// closed.
func HostIsPublic(host string) bool {
	host = strings.Trim(host, "[]")

	if ip := net.ParseIP(host); ip != nil {
		return ipIsPublic(ip)
	}

	if strings.EqualFold(host, "localhost") {
		return false
	}

	ips, err := net.LookupIP(host)
	if err != nil || len(ips) == 0 {
		return false
	}
	for _, ip := range ips {
		if !ipIsPublic(ip) {
			return false
		}
	}
	return true
}

func ipIsPublic(ip net.IP) bool {
	return !(ip.IsLoopback() || ip.IsPrivate() || ip.IsLinkLocalUnicast() ||
		ip.IsLinkLocalMulticast() || ip.IsUnspecified())
}
