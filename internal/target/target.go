// Package target validates the scan-target grammar the gateway
// accepts: RFC1918 IPv4 addresses and CIDRs, loopback addresses, and
// hostnames ending in the ".lab.internal" sentinel suffix.
package target

import (
	"errors"
	"fmt"
	"net/netip"
	"strings"
)

// Kind classifies a validated target.
type Kind int

const (
	KindIP Kind = iota
	KindCIDR
	KindHost
)

// Validated is the result of a successful Validate call.
type Validated struct {
	Kind    Kind
	Raw     string
	Addr    netip.Addr   // set for KindIP
	Prefix  netip.Prefix // set for KindCIDR
	Host    string       // set for KindHost
	AddrCnt uint64       // host count, set for KindCIDR
}

// ErrInvalidTarget is returned (wrapped) for any grammar violation.
var ErrInvalidTarget = errors.New("target: does not match the allowed address space")

const labSuffix = ".lab.internal"

// maxCIDRHosts bounds a network-mapper-class CIDR to 1024 addresses.
const maxCIDRHosts = 1024

// Validate parses raw and enforces the target grammar.
// enforceHostCap applies the network-mapper-only 1024-host CIDR limit.
func Validate(raw string, enforceHostCap bool) (Validated, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return Validated{}, fmt.Errorf("%w: empty target", ErrInvalidTarget)
	}

	if strings.Contains(raw, "/") {
		prefix, err := netip.ParsePrefix(raw)
		if err != nil {
			return Validated{}, fmt.Errorf("%w: invalid CIDR %q: %v", ErrInvalidTarget, raw, err)
		}
		if !prefix.Addr().Is4() {
			return Validated{}, fmt.Errorf("%w: only IPv4 CIDRs are allowed", ErrInvalidTarget)
		}
		network := prefix.Masked()
		if !isPrivateOrLoopback(network.Addr()) {
			return Validated{}, fmt.Errorf("%w: CIDR %q is not in a private or loopback range", ErrInvalidTarget, raw)
		}
		hostBits := 32 - network.Bits()
		count := uint64(1) << uint(hostBits)
		if enforceHostCap && count > maxCIDRHosts {
			return Validated{}, fmt.Errorf("%w: CIDR %q spans %d addresses, exceeds the %d-host cap for this tool", ErrInvalidTarget, raw, count, maxCIDRHosts)
		}
		return Validated{Kind: KindCIDR, Raw: raw, Prefix: network, AddrCnt: count}, nil
	}

	if addr, err := netip.ParseAddr(raw); err == nil {
		if !addr.Is4() {
			return Validated{}, fmt.Errorf("%w: only IPv4 addresses are allowed", ErrInvalidTarget)
		}
		if !isPrivateOrLoopback(addr) {
			return Validated{}, fmt.Errorf("%w: address %q is not in RFC1918 or loopback space", ErrInvalidTarget, raw)
		}
		return Validated{Kind: KindIP, Raw: raw, Addr: addr}, nil
	}

	if strings.HasSuffix(strings.ToLower(raw), labSuffix) && len(raw) > len(labSuffix) {
		return Validated{Kind: KindHost, Raw: raw, Host: raw}, nil
	}

	return Validated{}, fmt.Errorf("%w: %q must be an RFC1918 IPv4 address, a private IPv4 CIDR, loopback, or a hostname ending in %q", ErrInvalidTarget, raw, labSuffix)
}

// isPrivateOrLoopback reports whether addr falls in 10/8, 172.16/12,
// 192.168/16, or 127/8.
func isPrivateOrLoopback(addr netip.Addr) bool {
	if addr.IsLoopback() {
		return true
	}
	if !addr.Is4() {
		return false
	}
	b := addr.As4()
	switch {
	case b[0] == 10:
		return true
	case b[0] == 172 && b[1] >= 16 && b[1] <= 31:
		return true
	case b[0] == 192 && b[1] == 168:
		return true
	default:
		return false
	}
}

// RecoverySuggestion returns the human-readable hint every validation
// error carries.
func RecoverySuggestion() string {
	return "target must be an RFC1918 IPv4 address (10/8, 172.16/12, 192.168/16), a private IPv4 CIDR, a loopback address, or a hostname ending in \"" + labSuffix + "\""
}

// IsURLTarget reports whether raw begins with an http(s) scheme, as
// required for URL-mode tools (e.g. sqlmap).
func IsURLTarget(raw string) bool {
	lower := strings.ToLower(raw)
	return strings.HasPrefix(lower, "http://") || strings.HasPrefix(lower, "https://")
}

// StripURLScheme returns everything after the http(s):// scheme (any
// port or path stays attached) so it can be re-validated against the
// address grammar, along with the scheme. A target without a scheme is
// returned unchanged with an empty scheme.
func StripURLScheme(raw string) (scheme, rest string) {
	lower := strings.ToLower(raw)
	if strings.HasPrefix(lower, "https://") {
		return "https", raw[len("https://"):]
	}
	if strings.HasPrefix(lower, "http://") {
		return "http", raw[len("http://"):]
	}
	return "", raw
}
