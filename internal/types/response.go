package types

import (
	"net"
	"time"
)

// ResponseInner is the tagged-variant payload of a learned record. The
// concrete types below (PTR, SRV, TXT, A, AAAA) are each comparable, so
// two ResponseInner values with identical payloads compare equal with
// ==. Response.SamePayload relies on this to match responses regardless
// of their expiry, which is what the cache uses to coalesce repeated
// inserts instead of duplicating them.
type ResponseInner interface {
	isResponseInner()
}

// PTR is the payload of a learned PTR record: the target instance name.
type PTR struct{ Target string }

// SRV is the payload of a learned SRV record.
type SRV struct {
	Port   uint16
	Target string
}

// TXT is the payload of a learned TXT record: an ordered list of "k=v"
// attribute strings. Keys without a value are dropped during
// normalization (see PrepareTriplet), never stored here.
type TXT struct{ Strings txtKey }

// txtKey is a comparable stand-in for []string: TXT needs to satisfy
// Go's comparable-struct-field requirement so Response (and therefore
// ResponseInner) can be compared with ==. Strings are joined with a
// separator that cannot appear in a "k=v" attribute string.
type txtKey string

// NewTXT builds a TXT payload from an ordered list of "k=v" strings.
func NewTXT(strs []string) TXT {
	return TXT{Strings: txtKey(joinTXT(strs))}
}

// List returns the ordered "k=v" attribute list.
func (t TXT) List() []string {
	if t.Strings == "" {
		return nil
	}
	return splitTXT(string(t.Strings))
}

const txtSep = "\x00"

func joinTXT(strs []string) string {
	out := ""
	for i, s := range strs {
		if i > 0 {
			out += txtSep
		}
		out += s
	}
	return out
}

func splitTXT(s string) []string {
	var out []string
	start := 0
	for i := 0; i < len(s); i++ {
		if s[i] == txtSep[0] {
			out = append(out, s[start:i])
			start = i + 1
		}
	}
	out = append(out, s[start:])
	return out
}

// A is the payload of a learned A record.
type A struct{ Addr [4]byte }

// AAAA is the payload of a learned AAAA record.
type AAAA struct{ Addr [16]byte }

func (PTR) isResponseInner()  {}
func (SRV) isResponseInner()  {}
func (TXT) isResponseInner()  {}
func (A) isResponseInner()    {}
func (AAAA) isResponseInner() {}

// IPv4 returns the net.IP form of an A payload.
func (a A) IPv4() net.IP { return net.IP(a.Addr[:]) }

// IPv6 returns the net.IP form of an AAAA payload.
func (a AAAA) IPv6() net.IP { return net.IP(a.Addr[:]) }

// AFromIP builds an A payload from a net.IP, zero-valuing on a non-IPv4 input.
func AFromIP(ip net.IP) A {
	var out A
	if v4 := ip.To4(); v4 != nil {
		copy(out.Addr[:], v4)
	}
	return out
}

// AAAAFromIP builds an AAAA payload from a net.IP, zero-valuing on an
// invalid input; an IPv4 input is stored in its IPv4-mapped IPv6 form.
func AAAAFromIP(ip net.IP) AAAA {
	var out AAAA
	if v6 := ip.To16(); v6 != nil {
		copy(out.Addr[:], v6)
	}
	return out
}

// Response is a learned record: its payload and the wall-clock instant
// it expires at. Equality/hashing for cache coalescing purposes must use
// Inner only (see SamePayload).
type Response struct {
	Inner  ResponseInner
	EndsAt time.Time
}

// SamePayload reports whether r and other carry the same ResponseInner
// value, ignoring EndsAt. Two responses with identical payloads but
// different expirations are considered duplicates by the cache.
func (r Response) SamePayload(other Response) bool {
	return r.Inner == other.Inner
}

// RemainingTTL returns the number of whole seconds until EndsAt, clamped
// to zero (never negative).
func (r Response) RemainingTTL(now time.Time) uint32 {
	d := r.EndsAt.Sub(now)
	if d <= 0 {
		return 0
	}
	return uint32(d.Seconds())
}
