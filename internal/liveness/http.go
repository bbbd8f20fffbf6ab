package liveness

import (
	"context"
	"errors"
	"io"
	"net"
	"net/http"
	"time"

	"github.com/rotisserie/eris"

	"github.com/sells-group/leakscan/internal/model"
)

// HTTPOptions configures an HTTPSignal.
type HTTPOptions struct {
	Timeout time.Duration
	// UnreachableStatuses are response codes read as "nobody is serving this
	// domain". Every other status means reachable.
	UnreachableStatuses []int
	// ConnectFailureUnreachable treats transport failures as absent instead
	// of erroring.
	ConnectFailureUnreachable bool
	UserAgent                 string
	// URLFor builds the probe URL. Defaults to http://<domain>/.
	URLFor func(domain string) string
}

// HTTPSignal issues a GET without following redirects.
type HTTPSignal struct {
	client        *http.Client
	unreachable   map[int]bool
	connectAbsent bool
	userAgent     string
	urlFor        func(string) string
	timeout       time.Duration
}

// NewHTTPSignal creates an HTTPSignal.
func NewHTTPSignal(opts HTTPOptions) *HTTPSignal {
	if opts.Timeout <= 0 {
		opts.Timeout = 5 * time.Second
	}
	if opts.URLFor == nil {
		opts.URLFor = func(domain string) string { return "http://" + domain + "/" }
	}
	statuses := opts.UnreachableStatuses
	if statuses == nil {
		statuses = []int{http.StatusNotFound, http.StatusGone, http.StatusBadGateway, http.StatusServiceUnavailable}
	}
	unreachable := make(map[int]bool, len(statuses))
	for _, code := range statuses {
		unreachable[code] = true
	}
	return &HTTPSignal{
		client: &http.Client{
			Timeout: opts.Timeout,
			CheckRedirect: func(*http.Request, []*http.Request) error {
				return http.ErrUseLastResponse
			},
		},
		unreachable:   unreachable,
		connectAbsent: opts.ConnectFailureUnreachable,
		userAgent:     opts.UserAgent,
		urlFor:        opts.URLFor,
		timeout:       opts.Timeout,
	}
}

func (s *HTTPSignal) Name() string { return SignalHTTP }

func (s *HTTPSignal) Timeout() time.Duration { return s.timeout }

func (s *HTTPSignal) Check(ctx context.Context, domain string) (model.Outcome, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, s.urlFor(domain), nil)
	if err != nil {
		return model.OutcomeError, eris.Wrapf(err, "http: build request for %s", domain)
	}
	if s.userAgent != "" {
		req.Header.Set("User-Agent", s.userAgent)
	}

	resp, err := s.client.Do(req)
	if err != nil {
		if s.connectAbsent && ctx.Err() == nil && !isTimeout(err) {
			return model.OutcomeAbsent, nil
		}
		return model.OutcomeError, eris.Wrapf(err, "http: get %s", domain)
	}
	defer resp.Body.Close() //nolint:errcheck
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 4<<10))

	if s.unreachable[resp.StatusCode] {
		return model.OutcomeAbsent, nil
	}
	return model.OutcomePresent, nil
}

func isTimeout(err error) bool {
	var netErr net.Error
	return errors.As(err, &netErr) && netErr.Timeout()
}
