package liveness

import (
	"context"
	"net"
	"testing"
	"time"

	"github.com/miekg/dns"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/leakscan/internal/model"
	"github.com/sells-group/leakscan/internal/resilience"
)

// startDNSServer runs an authoritative-style test resolver on a loopback port.
func startDNSServer(t *testing.T) string {
	t.Helper()
	pc, err := net.ListenPacket("udp", "127.0.0.1:0")
	require.NoError(t, err)

	handler := dns.HandlerFunc(func(w dns.ResponseWriter, r *dns.Msg) {
		m := new(dns.Msg)
		m.SetReply(r)
		switch r.Question[0].Name {
		case "live.com.":
			m.Answer = append(m.Answer, &dns.A{
				Hdr: dns.RR_Header{Name: "live.com.", Rrtype: dns.TypeA, Class: dns.ClassINET, Ttl: 60},
				A:   net.ParseIP("192.0.2.10"),
			})
		case "mxonly.com.":
			// NOERROR with an empty answer section.
		case "gone.com.":
			m.Rcode = dns.RcodeNameError
		case "broken.com.":
			m.Rcode = dns.RcodeServerFailure
		case "refused.com.":
			m.Rcode = dns.RcodeRefused
		case "slow.com.":
			return
		}
		_ = w.WriteMsg(m)
	})

	started := make(chan struct{})
	srv := &dns.Server{PacketConn: pc, Handler: handler, NotifyStartedFunc: func() { close(started) }}
	go func() { _ = srv.ActivateAndServe() }()
	<-started
	t.Cleanup(func() { _ = srv.Shutdown() })
	return pc.LocalAddr().String()
}

func TestDNSSignal_Outcomes(t *testing.T) {
	addr := startDNSServer(t)
	sig := NewDNSSignal([]string{addr}, 500*time.Millisecond)

	tests := []struct {
		domain string
		want   model.Outcome
	}{
		{"live.com", model.OutcomePresent},
		{"mxonly.com", model.OutcomePresent},
		{"gone.com", model.OutcomeAbsent},
	}
	for _, tt := range tests {
		t.Run(tt.domain, func(t *testing.T) {
			got, err := sig.Check(context.Background(), tt.domain)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestDNSSignal_ServfailIsTransient(t *testing.T) {
	addr := startDNSServer(t)
	sig := NewDNSSignal([]string{addr}, 500*time.Millisecond)

	got, err := sig.Check(context.Background(), "broken.com")
	require.Error(t, err)
	assert.Equal(t, model.OutcomeError, got)
	assert.True(t, resilience.IsTransient(err))
}

func TestDNSSignal_RefusedIsError(t *testing.T) {
	addr := startDNSServer(t)
	sig := NewDNSSignal([]string{addr}, 500*time.Millisecond)

	got, err := sig.Check(context.Background(), "refused.com")
	require.Error(t, err)
	assert.Equal(t, model.OutcomeError, got)
	assert.Contains(t, err.Error(), "REFUSED")
}

func TestDNSSignal_TimeoutClassifiesUnknown(t *testing.T) {
	addr := startDNSServer(t)
	sig := NewDNSSignal([]string{addr}, 50*time.Millisecond)

	got, err := sig.Check(context.Background(), "slow.com")
	require.Error(t, err)
	assert.Equal(t, model.OutcomeError, got)

	c := NewClassifier([]Signal{sig}, Options{Retry: fastRetry()})
	ev := c.Classify(context.Background(), "slow.com")
	assert.Equal(t, model.VerdictUnknown, ev.Verdict)
}

func TestDNSSignal_PortDefaulted(t *testing.T) {
	sig := NewDNSSignal([]string{"192.0.2.53"}, time.Second)
	assert.Equal(t, []string{"192.0.2.53:53"}, sig.servers)
	assert.Equal(t, time.Second, sig.Timeout())
}
