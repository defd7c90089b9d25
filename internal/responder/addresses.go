package responder

import "net"

// LocalAddresses enumerates this host's non-loopback IPv4 and IPv6
// interface addresses, link-local included: mDNS is a link-local
// protocol, and on hosts whose only IPv6 presence is fe80:: the AAAA
// answer must still carry something reachable. Called fresh on every
// A/AAAA response build so replies track interface changes (DHCP
// renewal, VPN connect or disconnect) without requiring a restart.
func LocalAddresses() (v4, v6 []net.IP, err error) {
	ifaces, err := net.Interfaces()
	if err != nil {
		return nil, nil, err
	}

	for _, iface := range ifaces {
		if iface.Flags&net.FlagUp == 0 || iface.Flags&net.FlagLoopback != 0 {
			continue
		}
		addrs, err := iface.Addrs()
		if err != nil {
			continue
		}
		for _, addr := range addrs {
			ipNet, ok := addr.(*net.IPNet)
			if !ok {
				continue
			}
			ip := ipNet.IP
			if ip.IsLoopback() {
				continue
			}
			if v4addr := ip.To4(); v4addr != nil {
				v4 = append(v4, v4addr)
			} else if v6addr := ip.To16(); v6addr != nil {
				v6 = append(v6, v6addr)
			}
		}
	}
	return v4, v6, nil
}
