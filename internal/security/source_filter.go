// Package security guards the listener's inbound path: link-local
// source validation per RFC 6762 §11 and per-source query rate
// limiting against multicast storms.
package security

import (
	"net"
	"sync"
)

// SourceFilter validates packet source addresses before they are
// parsed. mDNS is link-local scope, so a source must be either a
// link-local address (169.254.0.0/16, fe80::/10), a loopback address,
// or on the same subnet as one of this host's interfaces. Interface subnets are
// snapshotted at construction and refreshable via Reload.
type SourceFilter struct {
	mu      sync.RWMutex
	subnets []*net.IPNet
}

// NewSourceFilter builds a filter from the host's current interface
// addresses. Enumeration failure yields a filter that admits only
// link-local and loopback sources.
func NewSourceFilter() *SourceFilter {
	f := &SourceFilter{}
	f.Reload()
	return f
}

// Reload re-snapshots the host's interface subnets.
func (f *SourceFilter) Reload() {
	var subnets []*net.IPNet
	ifaces, err := net.Interfaces()
	if err == nil {
		for _, iface := range ifaces {
			if iface.Flags&net.FlagUp == 0 {
				continue
			}
			addrs, err := iface.Addrs()
			if err != nil {
				continue
			}
			for _, addr := range addrs {
				if ipnet, ok := addr.(*net.IPNet); ok {
					subnets = append(subnets, ipnet)
				}
			}
		}
	}

	f.mu.Lock()
	f.subnets = subnets
	f.mu.Unlock()
}

// Allowed reports whether a packet from ip may be processed.
func (f *SourceFilter) Allowed(ip net.IP) bool {
	if ip == nil {
		return false
	}
	if ip.IsLinkLocalUnicast() || ip.IsLoopback() {
		return true
	}

	f.mu.RLock()
	defer f.mu.RUnlock()
	for _, subnet := range f.subnets {
		if subnet.Contains(ip) {
			return true
		}
	}
	return false
}
