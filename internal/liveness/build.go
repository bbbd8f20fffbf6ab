package liveness

import (
	"time"

	"github.com/rotisserie/eris"

	"github.com/sells-group/leakscan/internal/config"
	"github.com/sells-group/leakscan/internal/resilience"
)

func millis(ms int) time.Duration {
	return time.Duration(ms) * time.Millisecond
}

// BuildSignals creates the signals named in order, highest precedence first.
func BuildSignals(cfg config.LivenessConfig, order []string) ([]Signal, error) {
	if len(order) == 0 {
		return nil, eris.New("liveness: empty signal order")
	}
	seen := make(map[string]bool, len(order))
	signals := make([]Signal, 0, len(order))
	for _, name := range order {
		if seen[name] {
			return nil, eris.Errorf("liveness: signal %q listed twice", name)
		}
		seen[name] = true

		switch name {
		case SignalDNS:
			signals = append(signals, NewDNSSignal(cfg.DNS.Servers, millis(cfg.DNS.TimeoutMs)))
		case SignalHTTP:
			signals = append(signals, NewHTTPSignal(HTTPOptions{
				Timeout:                   millis(cfg.HTTP.TimeoutMs),
				UnreachableStatuses:       cfg.HTTP.UnreachableStatuses,
				ConnectFailureUnreachable: cfg.HTTP.ConnectFailureUnreachable,
				UserAgent:                 cfg.HTTP.UserAgent,
			}))
		case SignalRegistrar:
			if cfg.Registrar.APIKey == "" {
				return nil, eris.New("liveness: registrar signal requires liveness.registrar.api_key")
			}
			signals = append(signals, NewRegistrarSignal(RegistrarOptions{
				BaseURL:       cfg.Registrar.BaseURL,
				APIKey:        cfg.Registrar.APIKey,
				Timeout:       millis(cfg.Registrar.TimeoutMs),
				RatePerSec:    cfg.Registrar.RatePerSec,
				SupportedTLDs: cfg.Registrar.SupportedTLDs,
			}))
		case SignalWhois:
			signals = append(signals, NewWhoisSignal(millis(cfg.Whois.TimeoutMs)))
		default:
			return nil, eris.Errorf("liveness: unknown signal %q", name)
		}
	}
	return signals, nil
}

// New builds a Classifier for the given signal order from the full config.
func New(cfg *config.Config, order []string) (*Classifier, error) {
	signals, err := BuildSignals(cfg.Liveness, order)
	if err != nil {
		return nil, err
	}
	r := cfg.Retry
	return NewClassifier(signals, Options{
		Retry:    resilience.FromRetryConfig(r.MaxAttempts, r.InitialBackoffMs, r.MaxBackoffMs, r.Multiplier, r.JitterFraction),
		Breakers: resilience.NewBreakers(resilience.FromCircuitConfig(cfg.Circuit.FailureThreshold, cfg.Circuit.ResetTimeoutSecs)),
		CacheTTL: time.Duration(cfg.Liveness.VerdictCacheTTLSecs) * time.Second,
	}), nil
}
