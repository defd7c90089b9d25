// Package node is the public façade of the beacon mDNS/DNS-SD node: it
// wires the registry, responder, tracker, cache, listener, and querier
// together and exposes the four operations a caller needs: register,
// unregister, discover a service type, and resolve an instance.
package node

import (
	"context"
	"log/slog"
	"net"
	"strings"
	"time"

	"github.com/pebblemesh/beacon/internal/cache"
	"github.com/pebblemesh/beacon/internal/listener"
	"github.com/pebblemesh/beacon/internal/registry"
	"github.com/pebblemesh/beacon/internal/responder"
	"github.com/pebblemesh/beacon/internal/tracker"
	"github.com/pebblemesh/beacon/internal/types"
	"github.com/pebblemesh/beacon/querier"
)

// Cache sizing for learned records: a key idles out after 40s without
// traffic, at most 200 fingerprints are held, each with at most two
// distinct payloads, and nothing outlives the 120s advertised TTL.
const (
	cacheIdle      = 40 * time.Second
	cacheCapacity  = 200
	cacheMaxPerKey = 2
	cacheTTL       = 120 * time.Second
)

// Instance aliases the core instance type so callers outside this
// module can register services without reaching into internal packages.
type Instance = types.Instance

// ServiceEnumName is the DNS-SD meta-query name (RFC 6763 §9): pass it
// to GetDevices to enumerate the service types advertised on the link.
const ServiceEnumName = responder.ServiceEnumName

// Device is a fully resolved service instance.
type Device struct {
	Name     string
	Host     string
	Port     uint16
	Addrs    []net.IP
	Metadata map[string]string
}

// Node is a running discovery node: it advertises registered instances
// and answers/issues multicast queries until Close.
type Node struct {
	registry *registry.Registry
	cache    *cache.Cache
	tracker  *tracker.Tracker
	listener *listener.Listener
	querier  *querier.Querier
	log      *slog.Logger
	cancel   context.CancelFunc
}

// New constructs and starts a Node: sockets are bound, the receive loop
// and worker pool spin up, and the background cache refresh begins.
func New(opts ...Option) (*Node, error) {
	n := &Node{log: slog.Default()}
	for _, opt := range opts {
		opt(n)
	}

	n.registry = registry.New()
	n.tracker = tracker.New()
	n.cache = cache.New(cache.Config{
		Idle:            cacheIdle,
		Capacity:        cacheCapacity,
		MaxValuesPerKey: cacheMaxPerKey,
		TTL:             cacheTTL,
	})

	resp := responder.New(n.registry)

	l, err := listener.New(n.registry, resp, n.tracker, listener.WithLogger(n.log))
	if err != nil {
		n.cache.Close()
		return nil, err
	}
	n.listener = l
	n.querier = querier.New(n.cache, n.tracker, n.listener, querier.WithLogger(n.log))

	ctx, cancel := context.WithCancel(context.Background())
	n.cancel = cancel
	n.querier.StartRefreshLoop(ctx)

	return n, nil
}

// Close stops the refresh loop, the receive loop and worker pool, and
// the cache janitor.
func (n *Node) Close() error {
	n.cancel()
	err := n.listener.Close()
	n.cache.Close()
	return err
}

// RegisterDevice starts advertising instance. Idempotent.
func (n *Node) RegisterDevice(instance types.Instance) error {
	return n.registry.Register(instance)
}

// UnregisterDevice stops advertising instance.
func (n *Node) UnregisterDevice(instance types.Instance) error {
	return n.registry.Unregister(instance)
}

// GetDevices issues a PTR query for serviceType and returns the
// instance names discovered within d.
func (n *Node) GetDevices(ctx context.Context, serviceType string, d time.Duration) ([]string, error) {
	fp := types.Fingerprint{Name: serviceType, Type: types.TypePTR}
	responses, err := n.querier.Query(ctx, fp, d, false)
	if err != nil {
		return nil, err
	}
	return collectPTRNames(responses), nil
}

// ResolveDevice resolves instanceName into a Device by issuing SRV,
// TXT, A, and AAAA queries sequentially, splitting d between them. SRV
// and both address lookups are required; a missing TXT just leaves the
// metadata empty. Returns ok=false when resolution is incomplete.
func (n *Node) ResolveDevice(ctx context.Context, instanceName string, d time.Duration) (*Device, bool) {
	srvD, txtD, aD, aaaaD := splitResolveBudget(d)

	srvs, err := n.querier.Query(ctx, types.Fingerprint{Name: instanceName, Type: types.TypeSRV}, srvD, false)
	if err != nil {
		return nil, false
	}
	srv, ok := firstSRV(srvs)
	if !ok {
		return nil, false
	}

	txts, err := n.querier.Query(ctx, types.Fingerprint{Name: instanceName, Type: types.TypeTXT}, txtD, false)
	if err != nil {
		return nil, false
	}
	metadata := collectMetadata(txts)

	as, err := n.querier.Query(ctx, types.Fingerprint{Name: srv.Target, Type: types.TypeA}, aD, false)
	if err != nil {
		return nil, false
	}
	aaaas, err := n.querier.Query(ctx, types.Fingerprint{Name: srv.Target, Type: types.TypeAAAA}, aaaaD, false)
	if err != nil {
		return nil, false
	}

	addrs := collectAddrs(as, aaaas)
	if len(collectA(as)) == 0 || len(collectAAAA(aaaas)) == 0 {
		return nil, false
	}

	return &Device{
		Name:     instanceName,
		Host:     srv.Target,
		Port:     srv.Port,
		Addrs:    addrs,
		Metadata: metadata,
	}, true
}

// splitResolveBudget divides d 20/30/25/25 across SRV/TXT/A/AAAA.
func splitResolveBudget(d time.Duration) (srv, txt, a, aaaa time.Duration) {
	srv = d * 20 / 100
	txt = d * 30 / 100
	a = d * 25 / 100
	aaaa = d * 25 / 100
	return srv, txt, a, aaaa
}

func collectPTRNames(responses []types.Response) []string {
	names := make([]string, 0, len(responses))
	for _, r := range responses {
		if ptr, ok := r.Inner.(types.PTR); ok {
			names = append(names, ptr.Target)
		}
	}
	return names
}

func firstSRV(responses []types.Response) (types.SRV, bool) {
	for _, r := range responses {
		if srv, ok := r.Inner.(types.SRV); ok {
			return srv, true
		}
	}
	return types.SRV{}, false
}

// collectMetadata parses "k=v" attribute strings into a map, keeping
// only entries with exactly one "=" separator.
func collectMetadata(responses []types.Response) map[string]string {
	metadata := make(map[string]string)
	for _, r := range responses {
		txt, ok := r.Inner.(types.TXT)
		if !ok {
			continue
		}
		for _, s := range txt.List() {
			if strings.Count(s, "=") != 1 {
				continue
			}
			k, v, _ := strings.Cut(s, "=")
			metadata[k] = v
		}
	}
	return metadata
}

func collectA(responses []types.Response) []net.IP {
	var out []net.IP
	for _, r := range responses {
		if a, ok := r.Inner.(types.A); ok {
			out = append(out, a.IPv4())
		}
	}
	return out
}

func collectAAAA(responses []types.Response) []net.IP {
	var out []net.IP
	for _, r := range responses {
		if aaaa, ok := r.Inner.(types.AAAA); ok {
			out = append(out, aaaa.IPv6())
		}
	}
	return out
}

func collectAddrs(as, aaaas []types.Response) []net.IP {
	v4 := collectA(as)
	return append(v4, collectAAAA(aaaas)...)
}
