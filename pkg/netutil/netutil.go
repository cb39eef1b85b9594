// Package netutil provides helpers for recognizing when an audit target refers
// to the auditing host itself and for canonicalizing endpoint names.
//
// A directory-service endpoint can be named many ways: short NetBIOS-style
// name, fully qualified form, loopback literal, or one of the host's own
// interface addresses. Identity comparison must treat all of these aliases as
// equivalent to "self" so that local acquisition paths are used instead of
// remote sessions against our own machine.
package netutil

import (
	"net"
	"os"
	"strings"
)

// CanonicalHost lowercases and trims a host name and strips a trailing dot.
func CanonicalHost(host string) string {
	return strings.TrimSuffix(strings.ToLower(strings.TrimSpace(host)), ".")
}

// ShortName returns the first label of a host name: "dc01.corp.example.com"
// becomes "dc01". Already-short names pass through unchanged.
func ShortName(host string) string {
	host = CanonicalHost(host)
	if i := strings.IndexByte(host, '.'); i > 0 {
		return host[:i]
	}
	return host
}

// localAliases collects every name and address the running host answers to:
// hostname, its short form, loopback literals, and all interface addresses.
// Failures while enumerating interfaces are ignored; the fixed aliases are
// always present.
func localAliases() map[string]struct{} {
	aliases := map[string]struct{}{
		"localhost": {},
		"127.0.0.1": {},
		"::1":       {},
	}

	if hn, err := os.Hostname(); err == nil {
		hn = CanonicalHost(hn)
		aliases[hn] = struct{}{}
		aliases[ShortName(hn)] = struct{}{}
	}

	addrs, err := net.InterfaceAddrs()
	if err != nil {
		return aliases
	}
	for _, addr := range addrs {
		var ip net.IP
		switch v := addr.(type) {
		case *net.IPNet:
			ip = v.IP
		case *net.IPAddr:
			ip = v.IP
		}
		if ip != nil {
			aliases[ip.String()] = struct{}{}
		}
	}
	return aliases
}

// IsLocalHost reports whether the given host names the machine this process is
// running on, under any recognized alias: short name, fully qualified name,
// loopback literal, or a local interface address.
func IsLocalHost(host string) bool {
	host = CanonicalHost(host)
	if host == "" {
		return false
	}

	// The alias set carries both the full hostname and its short form, so a
	// short target still matches a fully qualified local hostname. A fully
	// qualified target must match exactly: sharing a first label with us does
	// not make another domain's endpoint local.
	aliases := localAliases()
	if _, ok := aliases[host]; ok {
		return true
	}
	if ip := net.ParseIP(host); ip != nil && ip.IsLoopback() {
		return true
	}
	return false
}
