package liveness

import (
	"context"
	"time"

	"github.com/patrickmn/go-cache"
	"go.uber.org/zap"

	"github.com/sells-group/leakscan/internal/model"
	"github.com/sells-group/leakscan/internal/resilience"
)

// Options tunes a Classifier.
type Options struct {
	Retry resilience.RetryConfig
	// Breakers holds one circuit per signal name. Nil disables circuits.
	Breakers *resilience.Breakers
	// CacheTTL memoises definitive verdicts per domain. Zero disables it.
	CacheTTL time.Duration
}

// Classifier maps a domain to a verdict. The first signal in precedence order
// that returns a definitive outcome decides; if every signal errors the
// verdict is Unknown. Classify is safe for concurrent use.
type Classifier struct {
	signals  []Signal
	retry    resilience.RetryConfig
	breakers *resilience.Breakers
	memo     *cache.Cache
	log      *zap.Logger
}

// NewClassifier creates a Classifier over signals, highest precedence first.
func NewClassifier(signals []Signal, opts Options) *Classifier {
	c := &Classifier{
		signals:  signals,
		retry:    opts.Retry,
		breakers: opts.Breakers,
		log:      zap.L().With(zap.String("component", "liveness")),
	}
	if opts.CacheTTL > 0 {
		c.memo = cache.New(opts.CacheTTL, 2*opts.CacheTTL)
	}
	return c
}

// Signals returns the signal names in precedence order.
func (c *Classifier) Signals() []string {
	names := make([]string, len(c.signals))
	for i, s := range c.signals {
		names[i] = s.Name()
	}
	return names
}

// OpenCircuits names the signals whose breakers are currently not closed.
func (c *Classifier) OpenCircuits() []string {
	if c.breakers == nil {
		return nil
	}
	return c.breakers.Open()
}

// Classify never returns an error: failures of individual signals are
// recorded in the evaluation and resolve to Unknown when nothing decides.
func (c *Classifier) Classify(ctx context.Context, domain string) Evaluation {
	if c.memo != nil {
		if v, ok := c.memo.Get(domain); ok {
			ev := v.(Evaluation)
			ev.Cached = true
			return ev
		}
	}

	ev := Evaluation{Domain: domain, Verdict: model.VerdictUnknown}
	for _, sig := range c.signals {
		outcome, err := c.check(ctx, sig, domain)
		att := Attempt{Signal: sig.Name(), Outcome: outcome}
		if err != nil {
			att.Outcome = model.OutcomeError
			att.Err = err.Error()
			ev.Attempts = append(ev.Attempts, att)
			c.log.Debug("signal error",
				zap.String("domain", domain),
				zap.String("signal", sig.Name()),
				zap.Error(err),
			)
			continue
		}
		ev.Attempts = append(ev.Attempts, att)
		ev.Verdict = outcome.Verdict()
		ev.DecidedBy = sig.Name()
		break
	}

	if ev.Verdict != model.VerdictUnknown && c.memo != nil {
		c.memo.SetDefault(domain, ev)
	}
	return ev
}

func (c *Classifier) check(ctx context.Context, sig Signal, domain string) (model.Outcome, error) {
	cfg := c.retry
	if b, ok := sig.(bounded); ok && b.Timeout() > 0 {
		cfg = cfg.WithAttemptTimeout(b.Timeout())
	}
	if cfg.OnRetry == nil {
		cfg.OnRetry = resilience.RetryLogger("liveness", sig.Name())
	}

	call := func(ctx context.Context) (model.Outcome, error) {
		o, err := sig.Check(ctx, domain)
		if err == nil && o == model.OutcomeError {
			err = ErrUndecided
		}
		return o, err
	}

	var cb *resilience.CircuitBreaker
	if c.breakers != nil {
		cb = c.breakers.Get(sig.Name())
	}
	return resilience.DoVal(ctx, cfg, func(ctx context.Context) (model.Outcome, error) {
		if cb == nil {
			return call(ctx)
		}
		return resilience.ExecuteVal(ctx, cb, call)
	})
}
