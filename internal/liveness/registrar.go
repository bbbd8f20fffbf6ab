package liveness

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/rotisserie/eris"
	"golang.org/x/time/rate"

	"github.com/sells-group/leakscan/internal/model"
	"github.com/sells-group/leakscan/internal/resilience"
)

// RegistrarOptions configures a RegistrarSignal.
type RegistrarOptions struct {
	BaseURL string
	APIKey  string
	Timeout time.Duration
	// RatePerSec caps request rate. Zero means unlimited.
	RatePerSec float64
	// SupportedTLDs restricts the suffixes the API is asked about. Empty
	// means every suffix is supported.
	SupportedTLDs []string
}

// RegistrarSignal queries a registrar availability API of the form
// GET {base}/check?domain=<domain> answering {"result":"available"} or
// {"result":"registered"}.
type RegistrarSignal struct {
	baseURL string
	apiKey  string
	client  *http.Client
	limiter *rate.Limiter
	tlds    map[string]bool
	timeout time.Duration
}

type registrarResponse struct {
	Result string `json:"result"`
}

// NewRegistrarSignal creates a RegistrarSignal.
func NewRegistrarSignal(opts RegistrarOptions) *RegistrarSignal {
	if opts.Timeout <= 0 {
		opts.Timeout = 15 * time.Second
	}
	s := &RegistrarSignal{
		baseURL: strings.TrimRight(opts.BaseURL, "/"),
		apiKey:  opts.APIKey,
		client:  &http.Client{Timeout: opts.Timeout},
		timeout: opts.Timeout,
	}
	if opts.RatePerSec > 0 {
		s.limiter = rate.NewLimiter(rate.Limit(opts.RatePerSec), 1)
	}
	if len(opts.SupportedTLDs) > 0 {
		s.tlds = make(map[string]bool, len(opts.SupportedTLDs))
		for _, t := range opts.SupportedTLDs {
			s.tlds[strings.ToLower(strings.TrimPrefix(t, "."))] = true
		}
	}
	return s
}

func (s *RegistrarSignal) Name() string { return SignalRegistrar }

func (s *RegistrarSignal) Timeout() time.Duration { return s.timeout }

// Supports reports whether the API is asked about domain's suffix.
func (s *RegistrarSignal) Supports(domain string) bool {
	if s.tlds == nil {
		return true
	}
	i := strings.IndexByte(domain, '.')
	return i >= 0 && s.tlds[domain[i+1:]]
}

func (s *RegistrarSignal) Check(ctx context.Context, domain string) (model.Outcome, error) {
	if !s.Supports(domain) {
		return model.OutcomeError, eris.Wrapf(ErrUnsupportedTLD, "registrar: %s", domain)
	}
	if s.limiter != nil {
		if err := s.limiter.Wait(ctx); err != nil {
			return model.OutcomeError, eris.Wrap(err, "registrar: rate limit wait")
		}
	}

	endpoint := fmt.Sprintf("%s/check?domain=%s", s.baseURL, url.QueryEscape(domain))
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return model.OutcomeError, eris.Wrapf(err, "registrar: build request for %s", domain)
	}
	if s.apiKey != "" {
		req.Header.Set("apikey", s.apiKey)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := s.client.Do(req)
	if err != nil {
		return model.OutcomeError, eris.Wrapf(err, "registrar: check %s", domain)
	}
	defer resp.Body.Close() //nolint:errcheck

	if resp.StatusCode != http.StatusOK {
		err := eris.Errorf("registrar: check %s: status %d", domain, resp.StatusCode)
		if resilience.IsTransientHTTPStatus(resp.StatusCode) {
			return model.OutcomeError, resilience.NewTransientError(err, resp.StatusCode)
		}
		return model.OutcomeError, err
	}

	var body registrarResponse
	if err := json.NewDecoder(io.LimitReader(resp.Body, 64<<10)).Decode(&body); err != nil {
		return model.OutcomeError, eris.Wrapf(err, "registrar: decode response for %s", domain)
	}
	switch strings.ToLower(strings.TrimSpace(body.Result)) {
	case "available":
		return model.OutcomeAbsent, nil
	case "registered":
		return model.OutcomePresent, nil
	default:
		return model.OutcomeError, eris.Errorf("registrar: %s: unexpected result %q", domain, body.Result)
	}
}
