package querier_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pebblemesh/beacon/internal/cache"
	"github.com/pebblemesh/beacon/internal/listener"
	"github.com/pebblemesh/beacon/internal/registry"
	"github.com/pebblemesh/beacon/internal/responder"
	"github.com/pebblemesh/beacon/internal/tracker"
	"github.com/pebblemesh/beacon/internal/types"
	"github.com/pebblemesh/beacon/querier"
)

func newTestQuerier(t *testing.T) (*querier.Querier, *cache.Cache, func()) {
	t.Helper()

	reg := registry.New()
	resp := responder.New(reg)
	trk := tracker.New()
	c := cache.New(cache.Config{Idle: 40 * time.Second, Capacity: 200, MaxValuesPerKey: 2, TTL: 120 * time.Second})

	l, err := listener.New(reg, resp, trk)
	require.NoError(t, err)

	q := querier.New(c, trk, l)
	cleanup := func() {
		c.Close()
		_ = l.Close()
	}
	return q, c, cleanup
}

func TestQuery_CacheShortCircuit(t *testing.T) {
	q, c, cleanup := newTestQuerier(t)
	defer cleanup()

	fp := types.Fingerprint{Name: "printer._ipp._tcp.local", Type: types.TypeSRV}
	resp := types.Response{Inner: types.SRV{Port: 631, Target: "host.local"}, EndsAt: time.Now().Add(time.Minute)}
	c.Insert(fp, resp, 120)

	got, err := q.Query(context.Background(), fp, time.Second, false)
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, resp.Inner, got[0].Inner)
}

func TestQuery_BypassCacheIgnoresShortCircuit(t *testing.T) {
	q, c, cleanup := newTestQuerier(t)
	defer cleanup()

	fp := types.Fingerprint{Name: "nobody._ipp._tcp.local", Type: types.TypeSRV}
	resp := types.Response{Inner: types.SRV{Port: 631, Target: "host.local"}, EndsAt: time.Now().Add(time.Minute)}
	c.Insert(fp, resp, 120)

	got, err := q.Query(context.Background(), fp, 150*time.Millisecond, true)
	require.NoError(t, err)
	// No real responder is listening, so the outgoing multicast query
	// yields nothing new; the timeout drain still returns whatever the
	// cache held when the wait ended, which includes our seeded entry.
	require.Len(t, got, 1)
}

func TestQuery_TimesOutWithNoResponders(t *testing.T) {
	q, _, cleanup := newTestQuerier(t)
	defer cleanup()

	fp := types.Fingerprint{Name: "nobody._ipp._tcp.local", Type: types.TypeSRV}

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()

	start := time.Now()
	got, err := q.Query(ctx, fp, 150*time.Millisecond, true)
	require.NoError(t, err)
	assert.Empty(t, got)
	assert.GreaterOrEqual(t, time.Since(start), 150*time.Millisecond)
}

func TestQuery_SecondCallerSeesEmptyWhileInFlight(t *testing.T) {
	q, _, cleanup := newTestQuerier(t)
	defer cleanup()

	fp := types.Fingerprint{Name: "nobody._ipp._tcp.local", Type: types.TypeSRV}

	done := make(chan struct{})
	go func() {
		defer close(done)
		_, _ = q.Query(context.Background(), fp, 300*time.Millisecond, true)
	}()

	time.Sleep(50 * time.Millisecond) // let the first query register its tracker entry

	got, err := q.Query(context.Background(), fp, 300*time.Millisecond, true)
	require.NoError(t, err)
	assert.Empty(t, got)

	<-done
}
