package listener

import (
	"context"
	"fmt"
	"net"

	"golang.org/x/net/ipv4"
	"golang.org/x/net/ipv6"

	"github.com/pebblemesh/beacon/internal/errors"
)

// Port is the mDNS well-known port, RFC 6762 §5.
const Port = 5353

var (
	ipv4Group = &net.UDPAddr{IP: net.IPv4(224, 0, 0, 251), Port: Port}
	ipv6Group = &net.UDPAddr{IP: net.ParseIP("ff02::fb"), Port: Port}
)

// createIPv4Socket binds 0.0.0.0:5353, joins 224.0.0.251 on every
// up+multicast interface, and sets TTL=255 per RFC 6762 §11.
func createIPv4Socket() (*ipv4.PacketConn, error) {
	lc := net.ListenConfig{Control: PlatformControl}
	conn, err := lc.ListenPacket(context.Background(), "udp4", fmt.Sprintf("0.0.0.0:%d", Port))
	if err != nil {
		return nil, &errors.NetworkError{Operation: "listen udp4", Err: err, Details: fmt.Sprintf("bind 0.0.0.0:%d", Port)}
	}

	p := ipv4.NewPacketConn(conn)

	ifaces, err := net.Interfaces()
	if err != nil {
		_ = conn.Close()
		return nil, &errors.NetworkError{Operation: "enumerate interfaces", Err: err}
	}

	joined := 0
	for _, iface := range ifaces {
		if iface.Flags&net.FlagUp == 0 || iface.Flags&net.FlagMulticast == 0 {
			continue
		}
		ifaceCopy := iface
		if err := p.JoinGroup(&ifaceCopy, ipv4Group); err == nil {
			joined++
		}
	}
	if joined == 0 {
		_ = conn.Close()
		return nil, &errors.NetworkError{Operation: "join multicast group", Err: fmt.Errorf("no usable interface"), Details: "224.0.0.251"}
	}

	if err := p.SetMulticastTTL(255); err != nil {
		_ = conn.Close()
		return nil, &errors.NetworkError{Operation: "set multicast ttl", Err: err}
	}
	if err := p.SetMulticastLoopback(false); err != nil {
		_ = conn.Close()
		return nil, &errors.NetworkError{Operation: "set multicast loopback", Err: err}
	}

	return p, nil
}

// createIPv6Socket binds [::]:5353, joins ff02::fb on every up+multicast
// interface, and sets hop limit 255.
func createIPv6Socket() (*ipv6.PacketConn, error) {
	lc := net.ListenConfig{Control: PlatformControl}
	conn, err := lc.ListenPacket(context.Background(), "udp6", fmt.Sprintf("[::]:%d", Port))
	if err != nil {
		return nil, &errors.NetworkError{Operation: "listen udp6", Err: err, Details: fmt.Sprintf("bind [::]:%d", Port)}
	}

	p := ipv6.NewPacketConn(conn)

	ifaces, err := net.Interfaces()
	if err != nil {
		_ = conn.Close()
		return nil, &errors.NetworkError{Operation: "enumerate interfaces", Err: err}
	}

	joined := 0
	for _, iface := range ifaces {
		if iface.Flags&net.FlagUp == 0 || iface.Flags&net.FlagMulticast == 0 {
			continue
		}
		ifaceCopy := iface
		if err := p.JoinGroup(&ifaceCopy, ipv6Group); err == nil {
			joined++
		}
	}
	if joined == 0 {
		_ = conn.Close()
		return nil, &errors.NetworkError{Operation: "join multicast group", Err: fmt.Errorf("no usable interface"), Details: "ff02::fb"}
	}

	if err := p.SetHopLimit(255); err != nil {
		_ = conn.Close()
		return nil, &errors.NetworkError{Operation: "set hop limit", Err: err}
	}
	if err := p.SetMulticastLoopback(false); err != nil {
		_ = conn.Close()
		return nil, &errors.NetworkError{Operation: "set multicast loopback", Err: err}
	}

	return p, nil
}
