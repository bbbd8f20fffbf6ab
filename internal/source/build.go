package source

import (
	"time"

	"github.com/rotisserie/eris"

	"github.com/sells-group/leakscan/internal/config"
	"github.com/sells-group/leakscan/internal/fetcher"
	"github.com/sells-group/leakscan/internal/resilience"
)

// New builds the provider selected by source.kind.
func New(cfg *config.Config) (Provider, error) {
	src := cfg.Source
	m := Mapping{IDField: src.IDField, TextFields: src.TextFields}
	switch src.Kind {
	case "", "dir":
		if src.Dir == "" {
			return nil, eris.New("source: source.dir is required for kind dir")
		}
		return NewDirProvider(src.Dir, m), nil
	case "http":
		r := cfg.Retry
		f := fetcher.NewHTTPFetcher(fetcher.HTTPOptions{
			UserAgent: src.UserAgent,
			Timeout:   time.Duration(src.TimeoutSecs) * time.Second,
			Retry:     resilience.FromRetryConfig(r.MaxAttempts, r.InitialBackoffMs, r.MaxBackoffMs, r.Multiplier, r.JitterFraction),
		})
		return NewHTTPProvider(HTTPOptions{
			BaseURLs:     src.BaseURLs,
			ShardIDs:     src.ShardIDs,
			ShardPattern: src.ShardPattern,
			ShardCount:   src.ShardCount,
			Format:       src.Format,
			Mapping:      m,
		}, f)
	default:
		return nil, eris.Errorf("source: unknown kind %q", src.Kind)
	}
}
