package main

import (
	"context"
	"slices"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/leakscan/internal/domain"
	"github.com/sells-group/leakscan/internal/extract"
	"github.com/sells-group/leakscan/internal/liveness"
	"github.com/sells-group/leakscan/internal/notify"
	"github.com/sells-group/leakscan/internal/scan"
	"github.com/sells-group/leakscan/internal/sink"
	"github.com/sells-group/leakscan/internal/source"
	"github.com/sells-group/leakscan/internal/store"
)

func initStore(ctx context.Context) (store.Store, error) {
	switch cfg.Store.Driver {
	case "sqlite":
		dsn := cfg.Store.DatabaseURL
		if dsn == "" {
			dsn = "leakscan.db"
		}
		return store.NewSQLite(dsn)
	case "postgres":
		return store.NewPostgres(ctx, cfg.Store.DatabaseURL, &store.PoolConfig{
			MaxConns: cfg.Store.MaxConns,
			MinConns: cfg.Store.MinConns,
		})
	default:
		return nil, eris.Errorf("unsupported store driver: %s", cfg.Store.Driver)
	}
}

// openStore opens and migrates the configured store. Callers close it.
func openStore(ctx context.Context) (store.Store, error) {
	st, err := initStore(ctx)
	if err != nil {
		return nil, err
	}
	if err := st.Migrate(ctx); err != nil {
		_ = st.Close()
		return nil, eris.Wrap(err, "migrate store")
	}
	return st, nil
}

// scanEnv holds everything the scan and verify commands need.
type scanEnv struct {
	Store      store.Store
	Controller *scan.Controller
	Verifier   *scan.Verifier
	Classifier *liveness.Classifier
}

// Close releases resources held by the environment and reports signals
// whose circuits were left open by the run.
func (e *scanEnv) Close() {
	if e.Classifier != nil {
		if open := e.Classifier.OpenCircuits(); len(open) > 0 {
			zap.L().Warn("signals disabled by open circuit", zap.Strings("signals", open))
		}
	}
	if e.Store != nil {
		_ = e.Store.Close()
	}
}

// initScan builds the scan controller from config. Callers should defer
// env.Close().
func initScan(ctx context.Context) (*scanEnv, error) {
	st, err := openStore(ctx)
	if err != nil {
		return nil, err
	}

	bl, err := domain.LoadBlocklist(cfg.Blocklist.Path, cfg.Blocklist.Extra...)
	if err != nil {
		_ = st.Close()
		return nil, err
	}
	src, err := source.New(cfg)
	if err != nil {
		_ = st.Close()
		return nil, err
	}
	cls, err := liveness.New(cfg, cfg.Liveness.Order)
	if err != nil {
		_ = st.Close()
		return nil, err
	}

	n := notify.New(cfg.Notify)
	ctrl := scan.NewController(cfg.Scan, st, src,
		extract.New(cfg.Scan.Extractor),
		bl,
		cls,
		sink.New(st, n),
		n,
	)

	zap.L().Info("scan initialised",
		zap.String("scan", cfg.Scan.Name),
		zap.String("source", cfg.Source.Kind),
		zap.Strings("signals", cls.Signals()),
		zap.String("blocklist_version", bl.Version()),
		zap.Int("blocklist_entries", bl.Len()),
	)
	return &scanEnv{Store: st, Controller: ctrl, Classifier: cls}, nil
}

// initVerify builds the re-verification pass from config.
func initVerify(ctx context.Context) (*scanEnv, error) {
	st, err := openStore(ctx)
	if err != nil {
		return nil, err
	}

	order := verifyOrder(cfg.Verify.Order, cfg.Liveness.Registrar.APIKey != "")
	cls, err := liveness.New(cfg, order)
	if err != nil {
		_ = st.Close()
		return nil, err
	}

	ver := scan.NewVerifier(st, cls, sink.New(st, notify.New(cfg.Notify)))
	return &scanEnv{Store: st, Verifier: ver, Classifier: cls}, nil
}

// verifyOrder drops the registrar signal when no API key is configured so
// the default order still works without one.
func verifyOrder(order []string, haveRegistrarKey bool) []string {
	if haveRegistrarKey || !slices.Contains(order, liveness.SignalRegistrar) {
		return order
	}
	zap.L().Warn("registrar signal skipped: liveness.registrar.api_key is not set")
	return slices.DeleteFunc(slices.Clone(order), func(s string) bool {
		return s == liveness.SignalRegistrar
	})
}
