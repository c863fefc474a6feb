package utils

import (
	"fmt"
	rndm "math/rand"
	"net"
	"net/http"
	"strings"
)

// --- Random String and ID Generators ---

var codeRunes = []rune("ABCDEFGHIJKLMNOPQRSTUVWXYZ0123456789")

// GenerateCode creates a random upper-case alphanumeric string of length n,
// suitable for codes people read aloud or type.
func GenerateCode(n int) string {
	b := make([]rune, n)
	for i := range b {
		b[i] = codeRunes[rndm.Intn(len(codeRunes))]
	}
	return string(b)
}

// ParseTrustedProxies reads a comma separated list of IPs and CIDRs.
func ParseTrustedProxies(list string) ([]*net.IPNet, error) {
	var nets []*net.IPNet
	for _, item := range strings.Split(list, ",") {
		item = strings.TrimSpace(item)
		if item == "" {
			continue
		}
		if !strings.Contains(item, "/") {
			ip := net.ParseIP(item)
			if ip == nil {
				return nil, fmt.Errorf("invalid proxy address %q", item)
			}
			bits := 8 * net.IPv6len
			if ip4 := ip.To4(); ip4 != nil {
				ip, bits = ip4, 8*net.IPv4len
			}
			nets = append(nets, &net.IPNet{IP: ip, Mask: net.CIDRMask(bits, bits)})
			continue
		}
		_, n, err := net.ParseCIDR(item)
		if err != nil {
			return nil, fmt.Errorf("invalid proxy range %q: %w", item, err)
		}
		nets = append(nets, n)
	}
	return nets, nil
}

func trusted(ip string, proxies []*net.IPNet) bool {
	parsed := net.ParseIP(ip)
	if parsed == nil {
		return false
	}
	for _, n := range proxies {
		if n.Contains(parsed) {
			return true
		}
	}
	return false
}

// ClientIP returns the remote host of a request without the port.
// X-Forwarded-For is only read when the peer is one of the trusted proxies;
// the client is then the rightmost hop that is not itself a trusted proxy.
func ClientIP(r *http.Request, proxies []*net.IPNet) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		host = r.RemoteAddr
	}
	if !trusted(host, proxies) {
		return host
	}
	hops := strings.Split(r.Header.Get("X-Forwarded-For"), ",")
	for i := len(hops) - 1; i >= 0; i-- {
		hop := strings.TrimSpace(hops[i])
		if hop == "" {
			continue
		}
		if !trusted(hop, proxies) {
			return hop
		}
	}
	return host
}
