package types

import (
	"strings"
	"time"

	"github.com/miekg/dns"
)

// PrepareTriplet maps a single DNS resource record of class IN to the
// (Fingerprint, Response, ttl) triplet the cache and tracker use, iff
// its rdata is one of PTR/SRV/TXT/A/AAAA. Records of any other class or
// rdata type yield ok=false.
//
// now is the instant EndsAt is computed relative to (now + ttl seconds).
func PrepareTriplet(rr dns.RR, now time.Time) (fp Fingerprint, resp Response, ttl uint32, ok bool) {
	hdr := rr.Header()
	if hdr.Class != dns.ClassINET {
		return Fingerprint{}, Response{}, 0, false
	}

	var inner ResponseInner
	switch v := rr.(type) {
	case *dns.PTR:
		inner = PTR{Target: trimFQDN(v.Ptr)}
	case *dns.SRV:
		inner = SRV{Port: v.Port, Target: trimFQDN(v.Target)}
	case *dns.TXT:
		inner = NewTXT(normalizeTXT(v.Txt))
	case *dns.A:
		inner = AFromIP(v.A)
	case *dns.AAAA:
		inner = AAAAFromIP(v.AAAA)
	default:
		return Fingerprint{}, Response{}, 0, false
	}

	fp = Fingerprint{Name: trimFQDN(hdr.Name), Type: hdr.Rrtype}
	ttl = hdr.Ttl
	resp = Response{Inner: inner, EndsAt: now.Add(time.Duration(ttl) * time.Second)}
	return fp, resp, ttl, true
}

// normalizeTXT drops TXT entries missing the "=" separator; a bare key
// with no value carries no attribute.
func normalizeTXT(strs []string) []string {
	out := make([]string, 0, len(strs))
	for _, s := range strs {
		if strings.Contains(s, "=") {
			out = append(out, s)
		}
	}
	return out
}

// trimFQDN strips the trailing root dot the wire codec adds to fully
// qualified names, so our names stay in the "foo.local" form used
// throughout the rest of the node.
func trimFQDN(s string) string {
	return strings.TrimSuffix(s, ".")
}
