package listener

import (
	"log/slog"
	"testing"
	"time"

	"github.com/miekg/dns"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pebblemesh/beacon/internal/tracker"
	"github.com/pebblemesh/beacon/internal/types"
)

func ptrRR(name, target string, ttl uint32) *dns.PTR {
	return &dns.PTR{
		Hdr: dns.RR_Header{Name: dns.Fqdn(name), Rrtype: dns.TypePTR, Class: dns.ClassINET, Ttl: ttl},
		Ptr: dns.Fqdn(target),
	}
}

func TestSerializePacket_FitsWithinBudget(t *testing.T) {
	msg := new(dns.Msg)
	msg.Answer = []dns.RR{ptrRR("_ipp._tcp.local", "a._ipp._tcp.local", 120)}

	data, ok := serializePacket(msg, maxPacketSize)
	require.True(t, ok)
	assert.LessOrEqual(t, len(data), maxPacketSize)
}

func TestSerializePacket_TrimsExtraBeforeAnswer(t *testing.T) {
	msg := new(dns.Msg)
	msg.Answer = []dns.RR{ptrRR("_ipp._tcp.local", "a._ipp._tcp.local", 120)}
	for i := 0; i < 200; i++ {
		msg.Extra = append(msg.Extra, ptrRR("_ipp._tcp.local", "pad._ipp._tcp.local", 120))
	}

	data, ok := serializePacket(msg, 200)
	require.True(t, ok)
	assert.LessOrEqual(t, len(data), 200)
	assert.Len(t, msg.Answer, 1, "answer section must survive as long as trimming extras suffices")
}

func TestSerializePacket_GivesUpWhenNothingLeftToTrim(t *testing.T) {
	msg := new(dns.Msg)
	msg.Answer = []dns.RR{ptrRR("_ipp._tcp.local", "a-very-long-target-name-padded-out-for-size._ipp._tcp.local", 120)}

	_, ok := serializePacket(msg, 10)
	assert.False(t, ok)
}

func TestSuppressAgainstQuery_NoOpWhenExtraEmpty(t *testing.T) {
	resp := new(dns.Msg)
	resp.Answer = []dns.RR{ptrRR("_ipp._tcp.local", "a._ipp._tcp.local", 120)}
	query := new(dns.Msg)

	suppressAgainstQuery(resp, query, false)
	assert.Len(t, resp.Answer, 1, "suppression only runs when both Answer and Extra are non-empty")
}

func TestSuppressAgainstQuery_MulticastChecksExtraAgainstQueryExtra(t *testing.T) {
	resp := new(dns.Msg)
	resp.Answer = []dns.RR{ptrRR("_ipp._tcp.local", "a._ipp._tcp.local", 120)}
	resp.Extra = []dns.RR{ptrRR("other.local", "x.local", 120)}

	query := new(dns.Msg)
	query.Answer = []dns.RR{ptrRR("other.local", "x.local", 120)} // would suppress Extra if checked here
	query.Extra = nil                                             // but multicast checks Extra against query.Extra, which is empty

	suppressAgainstQuery(resp, query, false)
	assert.Len(t, resp.Extra, 1, "multicast replies check Extra against query.Extra, not query.Answer")
}

func TestSuppressAgainstQuery_UnicastChecksBothSectionsAgainstQueryAnswer(t *testing.T) {
	resp := new(dns.Msg)
	resp.Answer = []dns.RR{ptrRR("_ipp._tcp.local", "a._ipp._tcp.local", 120)}
	resp.Extra = []dns.RR{ptrRR("other.local", "x.local", 120)}

	query := new(dns.Msg)
	query.Answer = []dns.RR{ptrRR("other.local", "x.local", 120)}

	suppressAgainstQuery(resp, query, true)
	assert.Empty(t, resp.Extra, "unicast replies check Extra against query.Answer too")
}

func TestDeliverRecords_DeliversToTrackedSink(t *testing.T) {
	l := &Listener{tracker: tracker.New(), log: slog.Default()}
	fp := types.Fingerprint{Name: "_ipp._tcp.local", Type: types.TypePTR}
	sink := make(tracker.Sink, 1)
	require.NoError(t, l.tracker.Insert(fp, sink))

	l.deliverRecords([]dns.RR{ptrRR("_ipp._tcp.local", "a._ipp._tcp.local", 120)}, time.Now())

	select {
	case result := <-sink:
		require.NotNil(t, result.Response)
		assert.Equal(t, uint32(120), result.TTL)
	default:
		t.Fatal("expected a result on the tracked sink")
	}
}

func TestDeliverRecords_IgnoresUntrackedFingerprint(t *testing.T) {
	l := &Listener{tracker: tracker.New(), log: slog.Default()}
	l.deliverRecords([]dns.RR{ptrRR("_ipp._tcp.local", "a._ipp._tcp.local", 120)}, time.Now())
	// No panic, nothing tracked: nothing to assert beyond "did not crash".
}
