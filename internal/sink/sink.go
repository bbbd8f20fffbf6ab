// Package sink records discovered domains and announces new finds.
package sink

import (
	"context"
	"fmt"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/leakscan/internal/model"
	"github.com/sells-group/leakscan/internal/notify"
	"github.com/sells-group/leakscan/internal/store"
)

// ResultSink writes result records through a ResultStore. Recording the same
// (domain, source item) twice leaves one record.
type ResultSink struct {
	store    store.ResultStore
	notifier notify.Notifier
	log      *zap.Logger
}

// New creates a ResultSink. A nil notifier discards events.
func New(st store.ResultStore, n notify.Notifier) *ResultSink {
	if n == nil {
		n = notify.Nop{}
	}
	return &ResultSink{
		store:    st,
		notifier: n,
		log:      zap.L().With(zap.String("component", "sink")),
	}
}

// Record upserts rec and reports whether it was new. A new Likely-Available
// record triggers a domain_found event; notifier failures are logged only.
func (s *ResultSink) Record(ctx context.Context, rec model.ResultRecord) (bool, error) {
	inserted, err := s.store.UpsertResult(ctx, rec)
	if err != nil {
		return false, eris.Wrapf(err, "sink: record %s", rec.Domain)
	}
	if !inserted {
		s.log.Debug("result already recorded",
			zap.String("domain", rec.Domain),
			zap.String("item_id", rec.SourceItemID),
		)
		return false, nil
	}

	s.log.Info("result recorded",
		zap.String("domain", rec.Domain),
		zap.String("item_id", rec.SourceItemID),
		zap.String("verdict", string(rec.Verdict)),
		zap.String("decided_by", rec.DecidedBy),
	)
	if rec.Verdict == model.VerdictLikelyAvailable {
		s.announce(ctx, notify.KindDomainFound, rec)
	}
	return true, nil
}

// Announce sends a domain_found event for rec without touching the store.
func (s *ResultSink) Announce(ctx context.Context, rec model.ResultRecord) {
	s.announce(ctx, notify.KindDomainFound, rec)
}

func (s *ResultSink) announce(ctx context.Context, kind notify.Kind, rec model.ResultRecord) {
	msg := fmt.Sprintf("%s looks unregistered (seen in %s)", rec.Domain, rec.SourceItemID)
	ev := notify.NewEvent(kind, msg, map[string]any{
		"domain":         rec.Domain,
		"source_item_id": rec.SourceItemID,
		"raw_url":        rec.RawURL,
		"verdict":        rec.Verdict,
		"decided_by":     rec.DecidedBy,
	})
	if err := s.notifier.Notify(ctx, ev); err != nil {
		s.log.Warn("notification failed",
			zap.String("domain", rec.Domain),
			zap.String("kind", string(kind)),
			zap.Error(err),
		)
	}
}
