// Package listener implements the dual-stack multicast I/O loop: socket
// construction, the receive loop, a worker pool that dispatches parsed
// messages to the tracker or the responder, and outbound unicast/
// multicast sends.
package listener

import (
	"context"
	"fmt"
	"log/slog"
	"net"
	"runtime"
	"sync"
	"sync/atomic"
	"time"

	"github.com/miekg/dns"
	"golang.org/x/net/ipv4"
	"golang.org/x/net/ipv6"

	"github.com/pebblemesh/beacon/internal/errors"
	"github.com/pebblemesh/beacon/internal/registry"
	"github.com/pebblemesh/beacon/internal/responder"
	"github.com/pebblemesh/beacon/internal/security"
	"github.com/pebblemesh/beacon/internal/tracker"
	"github.com/pebblemesh/beacon/internal/types"
)

const (
	maxPacketSize = 1472
	queueCapacity = 50

	// unicastResponseBit is the top bit of a question's qclass (RFC 6762
	// §18.12) signaling the querier prefers a unicast reply.
	unicastResponseBit uint16 = 1 << 15
)

type packet struct {
	addr net.Addr
	data []byte
	buf  *[]byte
}

// Option configures a Listener at construction time.
type Option func(*Listener)

// WithLogger overrides the Listener's default slog.Logger.
func WithLogger(l *slog.Logger) Option {
	return func(ls *Listener) { ls.log = l }
}

// WithSourceFilter replaces the default link-local source filter. A nil
// filter disables source validation entirely.
func WithSourceFilter(f *security.SourceFilter) Option {
	return func(ls *Listener) { ls.filter = f }
}

// WithRateLimiter replaces the default per-source query rate limiter. A
// nil limiter disables rate limiting entirely.
func WithRateLimiter(rl *security.RateLimiter) Option {
	return func(ls *Listener) { ls.limiter = rl }
}

// Listener owns the IPv4 and IPv6 multicast sockets and dispatches
// inbound traffic to the Tracker (responses) or the Responder (queries).
type Listener struct {
	registry  *registry.Registry
	responder *responder.Responder
	tracker   *tracker.Tracker
	log       *slog.Logger
	filter    *security.SourceFilter
	limiter   *security.RateLimiter

	ipv4conn *ipv4.PacketConn
	ipv6conn *ipv6.PacketConn

	queue chan packet

	ctx      context.Context
	cancel   context.CancelFunc
	wg       sync.WaitGroup
	families atomic.Int32
	broken   atomic.Int32
}

// New constructs a Listener. At least one of the IPv4/IPv6 sockets must
// bind successfully; otherwise it returns a NetworkError.
func New(reg *registry.Registry, resp *responder.Responder, trk *tracker.Tracker, opts ...Option) (*Listener, error) {
	l := &Listener{
		registry:  reg,
		responder: resp,
		tracker:   trk,
		log:       slog.Default(),
		filter:    security.NewSourceFilter(),
		limiter:   security.NewRateLimiter(security.DefaultRateThreshold, security.DefaultRateCooldown, security.DefaultRateEntries),
		queue:     make(chan packet, queueCapacity),
	}
	for _, opt := range opts {
		opt(l)
	}
	l.ctx, l.cancel = context.WithCancel(context.Background())

	v4conn, err4 := createIPv4Socket()
	if err4 != nil {
		l.log.Warn("ipv4 multicast socket unavailable", "error", err4)
	}
	v6conn, err6 := createIPv6Socket()
	if err6 != nil {
		l.log.Warn("ipv6 multicast socket unavailable", "error", err6)
	}
	if err4 != nil && err6 != nil {
		l.cancel()
		return nil, &errors.NetworkError{
			Operation: "create listener",
			Err:       err4,
			Details:   "Failed to create both IPv4 and IPv6 sockets",
		}
	}
	l.ipv4conn = v4conn
	l.ipv6conn = v6conn

	if l.ipv4conn != nil {
		l.families.Add(1)
		l.wg.Add(1)
		go l.recv4()
	}
	if l.ipv6conn != nil {
		l.families.Add(1)
		l.wg.Add(1)
		go l.recv6()
	}
	workers := runtime.NumCPU()
	for i := 0; i < workers; i++ {
		l.wg.Add(1)
		go l.worker()
	}

	return l, nil
}

// Close stops the receive loop and worker pool and releases both
// sockets.
func (l *Listener) Close() error {
	l.cancel()
	if l.ipv4conn != nil {
		_ = l.ipv4conn.Close()
	}
	if l.ipv6conn != nil {
		_ = l.ipv6conn.Close()
	}
	l.wg.Wait()
	return nil
}

func (l *Listener) recv4() {
	defer l.wg.Done()
	buf := make([]byte, maxPacketSize)
	for {
		n, _, peer, err := l.ipv4conn.ReadFrom(buf)
		if err != nil {
			if l.ctxDone() {
				return
			}
			if ne, ok := err.(net.Error); ok && ne.Timeout() {
				continue
			}
			l.recvBroken("ipv4", err)
			return
		}
		l.enqueue(peer, buf[:n])
	}
}

func (l *Listener) recv6() {
	defer l.wg.Done()
	buf := make([]byte, maxPacketSize)
	for {
		n, _, peer, err := l.ipv6conn.ReadFrom(buf)
		if err != nil {
			if l.ctxDone() {
				return
			}
			if ne, ok := err.(net.Error); ok && ne.Timeout() {
				continue
			}
			l.recvBroken("ipv6", err)
			return
		}
		l.enqueue(peer, buf[:n])
	}
}

// recvBroken marks one family's receive loop dead. When the last one
// goes, the node can no longer hear the network at all.
func (l *Listener) recvBroken(family string, err error) {
	l.log.Warn("receive loop broken, stopping", "family", family, "error", err)
	if l.broken.Add(1) == l.families.Load() {
		l.log.Error("all receive loops broken, inbound traffic stopped")
	}
}

// enqueue copies the datagram into a pooled buffer and hands it to the
// worker pool. A full queue drops the datagram; UDP is lossy and a
// burst beyond the queue's capacity is treated the same as link loss.
func (l *Listener) enqueue(peer net.Addr, data []byte) {
	bufPtr := getBuffer()
	cp := (*bufPtr)[:len(data)]
	copy(cp, data)
	select {
	case l.queue <- packet{addr: peer, data: cp, buf: bufPtr}:
	default:
		putBuffer(bufPtr)
	}
}

func (l *Listener) ctxDone() bool {
	select {
	case <-l.ctx.Done():
		return true
	default:
		return false
	}
}

func (l *Listener) worker() {
	defer l.wg.Done()
	for {
		select {
		case <-l.ctx.Done():
			return
		case pkt, ok := <-l.queue:
			if !ok {
				return
			}
			l.handlePacket(pkt)
			if pkt.buf != nil {
				putBuffer(pkt.buf)
			}
		}
	}
}

func (l *Listener) handlePacket(pkt packet) {
	peerIP := peerIPOf(pkt.addr)
	if l.filter != nil && !l.filter.Allowed(peerIP) {
		l.log.Debug("dropping packet from off-link source", "peer", pkt.addr)
		return
	}

	msg := new(dns.Msg)
	if err := msg.Unpack(pkt.data); err != nil {
		l.log.Warn("failed to unpack mdns packet", "peer", pkt.addr, "error", err)
		return
	}
	if msg.Response {
		l.handleResponse(msg)
		return
	}
	if l.limiter != nil && peerIP != nil && !l.limiter.Allow(peerIP.String(), time.Now()) {
		l.log.Debug("dropping query from rate-limited source", "peer", pkt.addr)
		return
	}
	// Ignore queries carrying an authoritative section; this node never
	// originates those and has nothing useful to say about them.
	if len(msg.Ns) > 0 {
		return
	}
	l.handleQuery(msg, pkt.addr)
}

func peerIPOf(addr net.Addr) net.IP {
	if udp, ok := addr.(*net.UDPAddr); ok {
		return udp.IP
	}
	return nil
}

// handleResponse delivers every IN-class answer/additional record to
// whichever in-flight query's sink is tracking its fingerprint.
func (l *Listener) handleResponse(msg *dns.Msg) {
	now := time.Now()
	l.deliverRecords(msg.Answer, now)
	l.deliverRecords(msg.Extra, now)
}

func (l *Listener) deliverRecords(rrs []dns.RR, now time.Time) {
	for _, rr := range rrs {
		if rr.Header().Class != dns.ClassINET {
			continue
		}
		fp, resp, ttl, ok := types.PrepareTriplet(rr, now)
		if !ok {
			continue
		}
		sink, found := l.tracker.Get(fp)
		if !found {
			continue
		}
		respCopy := resp
		select {
		case sink <- tracker.Result{Response: &respCopy, TTL: ttl}:
		default:
			l.log.Warn("tracker sink full, dropping response", "fingerprint", fp)
		}
	}
}

// handleQuery partitions the inbound questions by the mDNS QU bit and
// answers each partition independently.
func (l *Listener) handleQuery(msg *dns.Msg, peer net.Addr) {
	var unicastQs, multicastQs []dns.Question
	for _, q := range msg.Question {
		if q.Qclass&unicastResponseBit != 0 {
			unicastQs = append(unicastQs, q)
		} else {
			multicastQs = append(multicastQs, q)
		}
	}

	if len(unicastQs) > 0 {
		l.respond(unicastQs, msg, peer, true)
	}
	if len(multicastQs) > 0 {
		l.respond(multicastQs, msg, peer, false)
	}
}

func (l *Listener) respond(questions []dns.Question, query *dns.Msg, peer net.Addr, unicast bool) {
	resp := l.responder.Build(questions)
	if len(resp.Answer) == 0 {
		return
	}

	suppressAgainstQuery(resp, query, unicast)
	if len(resp.Answer) == 0 {
		return
	}

	resp.Response = true
	resp.Id = query.Id

	data, ok := serializePacket(resp, maxPacketSize)
	if !ok {
		l.log.Warn("reply exceeds max packet size even after trimming, dropping")
		return
	}

	if unicast {
		if err := l.Send(peer, data); err != nil {
			l.log.Warn("failed to send unicast reply", "peer", peer, "error", err)
		}
		return
	}
	l.sendMulticast(data)
}

// suppressAgainstQuery runs known-answer suppression (§9 "suppression
// scope ambiguity"): it only fires when resp carries both Answer and
// Extra records, and checks each section against a different part of
// the inbound query depending on whether the reply is unicast or
// multicast.
func suppressAgainstQuery(resp, query *dns.Msg, unicast bool) {
	if len(resp.Answer) == 0 || len(resp.Extra) == 0 {
		return
	}
	resp.Answer = responder.SuppressKnownAnswers(resp.Answer, query.Answer)
	if unicast {
		resp.Extra = responder.SuppressKnownAnswers(resp.Extra, query.Answer)
	} else {
		resp.Extra = responder.SuppressKnownAnswers(resp.Extra, query.Extra)
	}
}

func (l *Listener) sendMulticast(data []byte) {
	if l.ipv4conn != nil {
		if _, err := l.ipv4conn.WriteTo(data, nil, ipv4Group); err != nil {
			l.log.Warn("multicast ipv4 send failed", "error", err)
		}
	}
	if l.ipv6conn != nil {
		if _, err := l.ipv6conn.WriteTo(data, nil, ipv6Group); err != nil {
			l.log.Warn("multicast ipv6 send failed", "error", err)
		}
	}
}

// Send transmits data to addr, picking the socket matching addr's
// address family.
func (l *Listener) Send(addr net.Addr, data []byte) error {
	udpAddr, ok := addr.(*net.UDPAddr)
	if !ok {
		return &errors.NetworkError{Operation: "send", Err: fmt.Errorf("unsupported address type %T", addr)}
	}

	if udpAddr.IP.To4() != nil {
		if l.ipv4conn == nil {
			return &errors.NetworkError{Operation: "send", Err: fmt.Errorf("ipv4 socket unavailable")}
		}
		_, err := l.ipv4conn.WriteTo(data, nil, udpAddr)
		return err
	}

	if l.ipv6conn == nil {
		return &errors.NetworkError{Operation: "send", Err: fmt.Errorf("ipv6 socket unavailable")}
	}
	_, err := l.ipv6conn.WriteTo(data, nil, udpAddr)
	return err
}

// SendMulticast broadcasts data on both multicast groups, logging
// per-family failures rather than returning them; callers (the
// Querier) proceed whether or not either family accepted the send.
func (l *Listener) SendMulticast(data []byte) {
	l.sendMulticast(data)
}

// SerializePacket is the exported form of serializePacket, shared with
// the querier package so outgoing queries apply the same packet-size
// reduction as outgoing replies.
func SerializePacket(msg *dns.Msg, max int) ([]byte, bool) {
	return serializePacket(msg, max)
}

// serializePacket packs msg, trimming Extra then Answer records (LIFO)
// until the wire form fits within max bytes. Returns ok=false if no
// records remain and it still doesn't fit.
func serializePacket(msg *dns.Msg, max int) ([]byte, bool) {
	for {
		buf, err := msg.Pack()
		if err == nil && len(buf) <= max {
			return buf, true
		}
		if len(msg.Extra) > 0 {
			msg.Extra = msg.Extra[:len(msg.Extra)-1]
			continue
		}
		if len(msg.Answer) > 0 {
			msg.Answer = msg.Answer[:len(msg.Answer)-1]
			continue
		}
		return nil, false
	}
}
