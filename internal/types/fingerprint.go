package types

import "github.com/miekg/dns"

// Fingerprint is the (name, type) pair used as the key for both the
// cache and the tracker. It is comparable, so it can be used directly
// as a map key.
type Fingerprint struct {
	Name string
	Type uint16
}

// Supported query/record types, aliased from the wire codec's constants
// so callers never need to import miekg/dns directly for this.
const (
	TypePTR  = dns.TypePTR
	TypeSRV  = dns.TypeSRV
	TypeTXT  = dns.TypeTXT
	TypeA    = dns.TypeA
	TypeAAAA = dns.TypeAAAA
)
