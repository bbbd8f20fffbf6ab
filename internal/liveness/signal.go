// Package liveness decides whether a domain is likely unregistered by
// consulting independent signals in precedence order.
package liveness

import (
	"context"
	"time"

	"github.com/rotisserie/eris"

	"github.com/sells-group/leakscan/internal/model"
)

// Signal names accepted in liveness.order and verify.order.
const (
	SignalDNS       = "dns"
	SignalHTTP      = "http"
	SignalRegistrar = "registrar"
	SignalWhois     = "whois"
)

var (
	// ErrUnsupportedTLD is returned by signals that cannot answer for the
	// domain's public suffix. It is never retried.
	ErrUnsupportedTLD = eris.New("liveness: unsupported tld")

	// ErrUndecided is returned when a signal answered but its answer was not
	// definitive.
	ErrUndecided = eris.New("liveness: signal undecided")
)

// Signal is one independent opinion about a domain. Check returns
// OutcomePresent or OutcomeAbsent with a nil error, or OutcomeError with the
// reason it could not decide.
type Signal interface {
	Name() string
	Check(ctx context.Context, domain string) (model.Outcome, error)
}

// bounded is implemented by signals that carry their own per-attempt timeout.
type bounded interface {
	Timeout() time.Duration
}

// Attempt records one signal consultation.
type Attempt struct {
	Signal  string        `json:"signal"`
	Outcome model.Outcome `json:"outcome"`
	Err     string        `json:"error,omitempty"`
}

// Evaluation is the classifier's answer for a domain.
type Evaluation struct {
	Domain    string        `json:"domain"`
	Verdict   model.Verdict `json:"verdict"`
	DecidedBy string        `json:"decided_by,omitempty"`
	Attempts  []Attempt     `json:"attempts,omitempty"`
	Cached    bool          `json:"cached,omitempty"`
}
