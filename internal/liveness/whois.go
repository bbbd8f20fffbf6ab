package liveness

import (
	"context"
	"strings"
	"time"

	"github.com/likexian/whois"
	"github.com/rotisserie/eris"

	"github.com/sells-group/leakscan/internal/model"
)

// WhoisClient performs a raw WHOIS lookup.
type WhoisClient interface {
	Whois(domain string, servers ...string) (string, error)
}

// Markers are matched case-insensitively against the raw response.
var (
	whoisAvailableMarkers = []string{
		"no match for",
		"not found",
		"no data found",
		"no entries found",
		"status: free",
		"status: available",
		"domain not found",
		"is available for registration",
		"no object found",
	}
	whoisRegisteredMarkers = []string{
		"creation date:",
		"created:",
		"registered on:",
		"registrar:",
		"registry domain id:",
		"domain status:",
	}
)

// WhoisSignal reads raw WHOIS text for not-found or registration markers.
type WhoisSignal struct {
	client  WhoisClient
	timeout time.Duration
}

// NewWhoisSignal creates a WhoisSignal using likexian/whois.
func NewWhoisSignal(timeout time.Duration) *WhoisSignal {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return NewWhoisSignalWithClient(whois.NewClient().SetTimeout(timeout), timeout)
}

// NewWhoisSignalWithClient creates a WhoisSignal over an arbitrary client.
func NewWhoisSignalWithClient(client WhoisClient, timeout time.Duration) *WhoisSignal {
	return &WhoisSignal{client: client, timeout: timeout}
}

func (s *WhoisSignal) Name() string { return SignalWhois }

func (s *WhoisSignal) Timeout() time.Duration { return s.timeout }

type whoisReply struct {
	text string
	err  error
}

func (s *WhoisSignal) Check(ctx context.Context, domain string) (model.Outcome, error) {
	// The client has no context support; abandon the lookup on cancellation.
	done := make(chan whoisReply, 1)
	go func() {
		text, err := s.client.Whois(domain)
		done <- whoisReply{text: text, err: err}
	}()

	var reply whoisReply
	select {
	case <-ctx.Done():
		return model.OutcomeError, eris.Wrapf(ctx.Err(), "whois: %s", domain)
	case reply = <-done:
	}
	if reply.err != nil {
		return model.OutcomeError, eris.Wrapf(reply.err, "whois: %s", domain)
	}
	outcome := ParseWhois(reply.text)
	if outcome == model.OutcomeError {
		return outcome, eris.Wrapf(ErrUndecided, "whois: %s", domain)
	}
	return outcome, nil
}

// ParseWhois classifies a raw WHOIS response. Registration markers win over
// not-found markers since some registries echo both.
func ParseWhois(text string) model.Outcome {
	lower := strings.ToLower(text)
	for _, m := range whoisRegisteredMarkers {
		if strings.Contains(lower, m) {
			return model.OutcomePresent
		}
	}
	for _, m := range whoisAvailableMarkers {
		if strings.Contains(lower, m) {
			return model.OutcomeAbsent
		}
	}
	return model.OutcomeError
}
