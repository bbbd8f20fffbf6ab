package scan

import (
	"context"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/leakscan/internal/model"
	"github.com/sells-group/leakscan/internal/store"
)

// Announcer publishes a domain_found event for an existing record.
type Announcer interface {
	Announce(ctx context.Context, rec model.ResultRecord)
}

// VerifyOptions bounds one re-verification pass.
type VerifyOptions struct {
	Limit int
	// PruneRegistered deletes records that now classify as registered
	// instead of keeping them with the new verdict.
	PruneRegistered bool
}

// Verifier re-classifies stored Likely-Available and Unknown results, oldest
// verification first.
type Verifier struct {
	results    store.ResultStore
	classifier Classifier
	announcer  Announcer
	log        *zap.Logger
	now        func() time.Time
}

// NewVerifier creates a Verifier. announcer may be nil.
func NewVerifier(results store.ResultStore, cls Classifier, announcer Announcer) *Verifier {
	return &Verifier{
		results:    results,
		classifier: cls,
		announcer:  announcer,
		log:        zap.L().With(zap.String("component", "verify")),
		now:        time.Now,
	}
}

// Run performs one pass. An Unknown evaluation never overwrites the stored
// verdict. Cancellation lets the record in flight finish and then ends the
// pass with the work done so far.
func (v *Verifier) Run(ctx context.Context, opts VerifyOptions) (*model.VerifySummary, error) {
	recs, err := v.results.ListResults(ctx, store.ResultFilter{
		Verdicts:   []model.Verdict{model.VerdictLikelyAvailable, model.VerdictUnknown},
		Limit:      opts.Limit,
		StaleFirst: true,
	})
	if err != nil {
		return nil, eris.Wrap(err, "verify: list results")
	}

	sum := &model.VerifySummary{}
	for _, rec := range recs {
		if ctx.Err() != nil {
			v.log.Info("verify cancelled", zap.Int("checked", sum.Checked))
			break
		}
		if err := v.verifyOne(context.WithoutCancel(ctx), rec, opts, sum); err != nil {
			return sum, err
		}
	}

	v.log.Info("verify finished",
		zap.Int("checked", sum.Checked),
		zap.Int("available", sum.Available),
		zap.Int("upgraded", sum.Upgraded),
		zap.Int("taken", sum.Taken),
		zap.Int("pruned", sum.Pruned),
		zap.Int("unknown", sum.Unknown),
	)
	return sum, nil
}

func (v *Verifier) verifyOne(ctx context.Context, rec model.ResultRecord, opts VerifyOptions, sum *model.VerifySummary) error {
	ev := v.classifier.Classify(ctx, rec.Domain)
	sum.Checked++
	key := rec.Key()
	log := v.log.With(zap.String("domain", rec.Domain), zap.String("item_id", rec.SourceItemID))

	switch ev.Verdict {
	case model.VerdictUnknown:
		sum.Unknown++
		log.Debug("still undecided", zap.String("stored", string(rec.Verdict)))
		return nil

	case model.VerdictLikelyAvailable:
		sum.Available++
		if err := v.results.UpdateVerdict(ctx, key, ev.Verdict, ev.DecidedBy, v.now().UTC()); err != nil {
			return eris.Wrapf(err, "verify: update %s", rec.Domain)
		}
		if rec.Verdict == model.VerdictUnknown {
			sum.Upgraded++
			log.Info("upgraded to likely available", zap.String("decided_by", ev.DecidedBy))
			if v.announcer != nil {
				rec.Verdict = ev.Verdict
				rec.DecidedBy = ev.DecidedBy
				v.announcer.Announce(ctx, rec)
			}
		}
		return nil

	default:
		sum.Taken++
		if opts.PruneRegistered {
			if err := v.results.DeleteResult(ctx, key); err != nil {
				return eris.Wrapf(err, "verify: prune %s", rec.Domain)
			}
			sum.Pruned++
			log.Info("pruned registered domain", zap.String("decided_by", ev.DecidedBy))
			return nil
		}
		if err := v.results.UpdateVerdict(ctx, key, ev.Verdict, ev.DecidedBy, v.now().UTC()); err != nil {
			return eris.Wrapf(err, "verify: update %s", rec.Domain)
		}
		log.Info("domain now registered", zap.String("decided_by", ev.DecidedBy))
		return nil
	}
}
