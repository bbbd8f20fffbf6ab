package liveness

import (
	"context"
	"net"
	"time"

	"github.com/miekg/dns"
	"github.com/rotisserie/eris"

	"github.com/sells-group/leakscan/internal/model"
	"github.com/sells-group/leakscan/internal/resilience"
)

var fallbackResolvers = []string{"1.1.1.1:53", "8.8.8.8:53"}

// DNSSignal asks recursive resolvers for the domain's A record. NXDOMAIN
// means absent and NOERROR (with or without answers) means present.
type DNSSignal struct {
	servers []string
	client  *dns.Client
	timeout time.Duration
}

// NewDNSSignal creates a DNSSignal. Servers without a port get :53. With no
// servers the system resolv.conf is used, then public resolvers.
func NewDNSSignal(servers []string, timeout time.Duration) *DNSSignal {
	if timeout <= 0 {
		timeout = 3 * time.Second
	}
	if len(servers) == 0 {
		servers = systemResolvers()
	}
	addrs := make([]string, 0, len(servers))
	for _, s := range servers {
		if _, _, err := net.SplitHostPort(s); err != nil {
			s = net.JoinHostPort(s, "53")
		}
		addrs = append(addrs, s)
	}
	return &DNSSignal{
		servers: addrs,
		client:  &dns.Client{Net: "udp", Timeout: timeout},
		timeout: timeout,
	}
}

func systemResolvers() []string {
	conf, err := dns.ClientConfigFromFile("/etc/resolv.conf")
	if err != nil || len(conf.Servers) == 0 {
		return fallbackResolvers
	}
	out := make([]string, len(conf.Servers))
	for i, s := range conf.Servers {
		out[i] = net.JoinHostPort(s, conf.Port)
	}
	return out
}

func (s *DNSSignal) Name() string { return SignalDNS }

// Timeout covers one pass over every configured server.
func (s *DNSSignal) Timeout() time.Duration {
	return s.timeout * time.Duration(len(s.servers))
}

func (s *DNSSignal) Check(ctx context.Context, domain string) (model.Outcome, error) {
	m := new(dns.Msg)
	m.SetQuestion(dns.Fqdn(domain), dns.TypeA)
	m.RecursionDesired = true

	var lastErr error
	for _, server := range s.servers {
		r, _, err := s.client.ExchangeContext(ctx, m, server)
		if err != nil {
			if ctx.Err() != nil {
				return model.OutcomeError, eris.Wrapf(ctx.Err(), "dns: query %s", domain)
			}
			lastErr = eris.Wrapf(err, "dns: query %s via %s", domain, server)
			continue
		}
		switch r.Rcode {
		case dns.RcodeNameError:
			return model.OutcomeAbsent, nil
		case dns.RcodeSuccess:
			return model.OutcomePresent, nil
		case dns.RcodeServerFailure:
			lastErr = resilience.NewTransientError(
				eris.Errorf("dns: %s: SERVFAIL from %s", domain, server), 0)
		default:
			lastErr = eris.Errorf("dns: %s: %s from %s", domain, dns.RcodeToString[r.Rcode], server)
		}
	}
	if lastErr == nil {
		lastErr = eris.New("dns: no resolvers configured")
	}
	return model.OutcomeError, lastErr
}
