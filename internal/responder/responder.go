// Package responder builds mDNS replies from the Registry and implements
// RFC 6762 §7.1 known-answer suppression.
package responder

import (
	"net"
	"sort"
	"time"

	"github.com/miekg/dns"

	"github.com/pebblemesh/beacon/internal/registry"
	"github.com/pebblemesh/beacon/internal/types"
)

// DefaultTTL is the TTL, in seconds, every record this responder
// advertises carries.
const DefaultTTL uint32 = 120

// ServiceEnumName is the DNS-SD meta-query name (RFC 6763 §9): a PTR
// query for it enumerates the service types this node advertises.
const ServiceEnumName = "_services._dns-sd._udp.local"

// Responder answers inbound questions using the instances registered in
// its Registry.
type Responder struct {
	registry *registry.Registry
}

// New returns a Responder backed by reg.
func New(reg *registry.Registry) *Responder {
	return &Responder{registry: reg}
}

// Build constructs a reply message answering questions: PTR questions
// enumerate registered instances (answers) plus their
// SRV/TXT (additionals); SRV questions answer with the instance's
// location plus A/AAAA additionals; TXT questions answer with metadata
// (nothing if empty); A/AAAA questions answer with every local address
// of the matching family. Unresolvable registry lookups are silently
// omitted, never surfaced as an error.
func (r *Responder) Build(questions []dns.Question) *dns.Msg {
	msg := new(dns.Msg)
	msg.Response = true

	for _, q := range questions {
		name := trimFQDN(q.Name)
		switch q.Qtype {
		case dns.TypePTR:
			r.answerPTR(msg, name)
		case dns.TypeSRV:
			r.answerSRV(msg, name)
		case dns.TypeTXT:
			r.answerTXT(msg, name)
		case dns.TypeA:
			r.answerAddresses(msg, dns.TypeA)
		case dns.TypeAAAA:
			r.answerAddresses(msg, dns.TypeAAAA)
		}
	}

	return msg
}

func (r *Responder) answerPTR(msg *dns.Msg, serviceType string) {
	if serviceType == ServiceEnumName {
		r.answerServiceEnum(msg)
		return
	}

	instances, err := r.registry.Instances(serviceType)
	if err != nil {
		return
	}
	for _, inst := range instances {
		msg.Answer = append(msg.Answer, &dns.PTR{
			Hdr: dns.RR_Header{Name: dns.Fqdn(serviceType), Rrtype: dns.TypePTR, Class: dns.ClassINET, Ttl: DefaultTTL},
			Ptr: dns.Fqdn(inst.Name),
		})
		msg.Extra = append(msg.Extra, srvRecord(inst))
		if txt := txtRecord(inst); txt != nil {
			msg.Extra = append(msg.Extra, txt)
		}
	}
}

// answerServiceEnum lists every service type with at least one
// registered instance, one PTR per type.
func (r *Responder) answerServiceEnum(msg *dns.Msg) {
	for _, st := range r.registry.ServiceTypes() {
		msg.Answer = append(msg.Answer, &dns.PTR{
			Hdr: dns.RR_Header{Name: dns.Fqdn(ServiceEnumName), Rrtype: dns.TypePTR, Class: dns.ClassINET, Ttl: DefaultTTL},
			Ptr: dns.Fqdn(st),
		})
	}
}

func (r *Responder) answerSRV(msg *dns.Msg, instanceName string) {
	inst, err := r.registry.Instance(instanceName)
	if err != nil {
		return
	}
	msg.Answer = append(msg.Answer, srvRecord(inst))

	v4, v6, err := LocalAddresses()
	if err != nil {
		return
	}
	for _, ip := range v4 {
		msg.Extra = append(msg.Extra, aRecord(ip))
	}
	for _, ip := range v6 {
		msg.Extra = append(msg.Extra, aaaaRecord(ip))
	}
}

func (r *Responder) answerTXT(msg *dns.Msg, instanceName string) {
	inst, err := r.registry.Instance(instanceName)
	if err != nil {
		return
	}
	if txt := txtRecord(inst); txt != nil {
		msg.Answer = append(msg.Answer, txt)
	}
}

func (r *Responder) answerAddresses(msg *dns.Msg, qtype uint16) {
	v4, v6, err := LocalAddresses()
	if err != nil {
		return
	}
	if qtype == dns.TypeA {
		for _, ip := range v4 {
			msg.Answer = append(msg.Answer, aRecord(ip))
		}
		return
	}
	for _, ip := range v6 {
		msg.Answer = append(msg.Answer, aaaaRecord(ip))
	}
}

func srvRecord(inst types.Instance) *dns.SRV {
	return &dns.SRV{
		Hdr:      dns.RR_Header{Name: dns.Fqdn(inst.Name), Rrtype: dns.TypeSRV, Class: dns.ClassINET, Ttl: DefaultTTL},
		Priority: 0,
		Weight:   0,
		Port:     uint16(inst.Port),
		Target:   dns.Fqdn(LocalHostname()),
	}
}

// txtRecord returns nil when the instance carries no metadata. A TXT
// question for a metadata-less instance is ignored rather than answered
// with an empty record.
func txtRecord(inst types.Instance) *dns.TXT {
	if len(inst.Metadata) == 0 {
		return nil
	}
	keys := make([]string, 0, len(inst.Metadata))
	for k := range inst.Metadata {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	strs := make([]string, 0, len(keys))
	for _, k := range keys {
		strs = append(strs, k+"="+inst.Metadata[k])
	}
	return &dns.TXT{
		Hdr: dns.RR_Header{Name: dns.Fqdn(inst.Name), Rrtype: dns.TypeTXT, Class: dns.ClassINET, Ttl: DefaultTTL},
		Txt: strs,
	}
}

func aRecord(ip net.IP) *dns.A {
	return &dns.A{
		Hdr: dns.RR_Header{Name: dns.Fqdn(LocalHostname()), Rrtype: dns.TypeA, Class: dns.ClassINET, Ttl: DefaultTTL},
		A:   ip,
	}
}

func aaaaRecord(ip net.IP) *dns.AAAA {
	return &dns.AAAA{
		Hdr:  dns.RR_Header{Name: dns.Fqdn(LocalHostname()), Rrtype: dns.TypeAAAA, Class: dns.ClassINET, Ttl: DefaultTTL},
		AAAA: ip,
	}
}

// SuppressKnownAnswers drops any proposed record for which known
// contains a record sharing the same (fingerprint, inner payload) and
// whose TTL is at least half the proposed TTL, per RFC 6762 §7.1. Records
// that don't map to a (fingerprint, inner) triplet are never suppressed.
func SuppressKnownAnswers(proposed, known []dns.RR) []dns.RR {
	now := time.Now()

	knownTriplets := make([]struct {
		fp    types.Fingerprint
		inner types.ResponseInner
		ttl   uint32
	}, 0, len(known))
	for _, k := range known {
		fp, resp, ttl, ok := types.PrepareTriplet(k, now)
		if !ok {
			continue
		}
		knownTriplets = append(knownTriplets, struct {
			fp    types.Fingerprint
			inner types.ResponseInner
			ttl   uint32
		}{fp, resp.Inner, ttl})
	}

	out := make([]dns.RR, 0, len(proposed))
	for _, p := range proposed {
		fpP, respP, ttlP, okP := types.PrepareTriplet(p, now)
		if !okP {
			out = append(out, p)
			continue
		}
		suppressed := false
		for _, kt := range knownTriplets {
			if kt.fp == fpP && kt.inner == respP.Inner && kt.ttl >= ttlP/2 {
				suppressed = true
				break
			}
		}
		if !suppressed {
			out = append(out, p)
		}
	}
	return out
}

func trimFQDN(s string) string {
	if len(s) > 0 && s[len(s)-1] == '.' {
		return s[:len(s)-1]
	}
	return s
}
