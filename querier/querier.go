// Package querier implements the cache/tracker-backed mDNS query path:
// a short-circuit on cached answers, at-most-one-in-flight semantics per
// fingerprint, known-answers-as-cache in the outgoing query, dual-stack
// send, and a periodic background refresh of near-expiry records.
package querier

import (
	"context"
	"log/slog"
	"math"
	"math/rand"
	"time"

	"github.com/miekg/dns"

	"github.com/pebblemesh/beacon/internal/cache"
	"github.com/pebblemesh/beacon/internal/errors"
	"github.com/pebblemesh/beacon/internal/listener"
	"github.com/pebblemesh/beacon/internal/tracker"
	"github.com/pebblemesh/beacon/internal/types"
)

const (
	maxPacketSize   = 1472
	sinkBufferDepth = 16
	refreshInterval = 60 * time.Second
	refreshDuration = 5 * time.Second
)

// Querier issues mDNS queries and runs the background refresh loop that
// keeps cached records warm.
type Querier struct {
	cache    *cache.Cache
	tracker  *tracker.Tracker
	listener *listener.Listener
	log      *slog.Logger
}

// New returns a Querier backed by c, trk, and l.
func New(c *cache.Cache, trk *tracker.Tracker, l *listener.Listener, opts ...Option) *Querier {
	q := &Querier{cache: c, tracker: trk, listener: l, log: slog.Default()}
	for _, opt := range opts {
		opt(q)
	}
	return q
}

// StartRefreshLoop launches the periodic refresh goroutine and returns
// immediately; the goroutine exits once ctx is cancelled.
func (q *Querier) StartRefreshLoop(ctx context.Context) {
	go q.refreshLoop(ctx)
}

// Query implements the six-step contract: cache short-circuit, at-most-
// one-in-flight tracking, known-answers-bearing outgoing query, dual-
// stack send, and a drain loop that feeds the cache from the tracker
// sink until d elapses or ctx is done.
func (q *Querier) Query(ctx context.Context, fp types.Fingerprint, d time.Duration, bypassCache bool) ([]types.Response, error) {
	if !bypassCache {
		if cached := q.cache.Get(fp); len(cached) > 0 {
			return cached, nil
		}
	}

	sink := make(tracker.Sink, sinkBufferDepth)
	if err := q.tracker.Insert(fp, sink); err != nil {
		// Another query for this fingerprint is already in flight.
		return []types.Response{}, nil
	}
	defer q.tracker.Remove(fp)

	now := time.Now()
	msg := buildQuery(fp, q.cache.Get(fp), now)
	data, ok := listener.SerializePacket(msg, maxPacketSize)
	if !ok {
		return nil, &errors.WireFormatError{
			Operation: "serialize query",
			Message:   "query does not fit within the maximum packet size even after trimming known answers",
		}
	}

	timeoutCtx, cancel := context.WithTimeout(ctx, d)
	defer cancel()

	q.listener.SendMulticast(data)

	for {
		select {
		case <-timeoutCtx.Done():
			return q.cache.Get(fp), nil
		case result := <-sink:
			if result.Response == nil {
				return q.cache.Get(fp), nil
			}
			q.cache.Insert(fp, *result.Response, result.TTL)
		}
	}
}

// buildQuery prepares a single-question query for fp, carrying every
// currently cached response as a known answer with its remaining TTL.
func buildQuery(fp types.Fingerprint, known []types.Response, now time.Time) *dns.Msg {
	msg := new(dns.Msg)
	msg.Question = []dns.Question{{
		Name:   dns.Fqdn(fp.Name),
		Qtype:  fp.Type,
		Qclass: dns.ClassINET,
	}}

	for _, resp := range known {
		ttl := resp.RemainingTTL(now)
		if rr := knownAnswerRR(fp, resp.Inner, ttl); rr != nil {
			msg.Answer = append(msg.Answer, rr)
		}
	}
	return msg
}

func knownAnswerRR(fp types.Fingerprint, inner types.ResponseInner, ttl uint32) dns.RR {
	hdr := dns.RR_Header{Name: dns.Fqdn(fp.Name), Rrtype: fp.Type, Class: dns.ClassINET, Ttl: ttl}

	switch v := inner.(type) {
	case types.PTR:
		return &dns.PTR{Hdr: hdr, Ptr: dns.Fqdn(v.Target)}
	case types.SRV:
		return &dns.SRV{Hdr: hdr, Priority: 0, Weight: 0, Port: v.Port, Target: dns.Fqdn(v.Target)}
	case types.TXT:
		return &dns.TXT{Hdr: hdr, Txt: v.List()}
	case types.A:
		return &dns.A{Hdr: hdr, A: v.IPv4()}
	case types.AAAA:
		return &dns.AAAA{Hdr: hdr, AAAA: v.IPv6()}
	default:
		return nil
	}
}

// refreshDue reports whether a record with remaining seconds left of an
// original ttl has crossed the randomized refresh threshold. The
// per-record threshold spreads refreshes out so nodes that learned a
// record at the same instant don't all re-query in the same tick.
func refreshDue(remaining, ttl uint32, thresholdPct float64) bool {
	return remaining <= uint32(math.Round(float64(ttl)*thresholdPct))
}

func (q *Querier) refreshLoop(ctx context.Context) {
	ticker := time.NewTicker(refreshInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			q.refreshDueRecords(ctx)
		}
	}
}

// refreshDueRecords scans the cache for records past their randomized
// refresh threshold and issues a bypass-cache query for each distinct
// fingerprint found due.
func (q *Querier) refreshDueRecords(ctx context.Context) {
	now := time.Now()
	queued := make(map[types.Fingerprint]bool)

	q.cache.Iter(func(fp types.Fingerprint, resp types.Response, ttl uint32) bool {
		if queued[fp] {
			return true
		}
		thresholdPct := 0.85 + rand.Float64()*0.10
		if refreshDue(resp.RemainingTTL(now), ttl, thresholdPct) {
			queued[fp] = true
		}
		return true
	})

	if len(queued) == 0 {
		return
	}
	for fp := range queued {
		go func(fp types.Fingerprint) {
			if _, err := q.Query(ctx, fp, refreshDuration, true); err != nil {
				q.log.Warn("refresh query failed", "fingerprint", fp, "error", err)
			}
		}(fp)
	}
}
