// Package scan drives bounded, resumable scans over a shard-partitioned item
// space and re-verifies what earlier scans found.
//
// A run walks one shard strictly in order. After every item the dedup ledger
// is written and then the cursor is saved, so a crash loses at most the item
// in flight and that item is reprocessed, never skipped. Crossing a shard
// boundary takes two runs: the first saves shard_complete, the next rolls
// over to the following shard id.
package scan

import (
	"context"
	"fmt"
	"slices"
	"time"

	"github.com/google/uuid"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/sells-group/leakscan/internal/config"
	"github.com/sells-group/leakscan/internal/extract"
	"github.com/sells-group/leakscan/internal/liveness"
	"github.com/sells-group/leakscan/internal/model"
	"github.com/sells-group/leakscan/internal/notify"
	"github.com/sells-group/leakscan/internal/source"
	"github.com/sells-group/leakscan/internal/store"
)

// Candidate modes.
const (
	ModeFirst = "first"
	ModeAll   = "all"
)

// Classifier produces a liveness verdict for a canonical domain.
type Classifier interface {
	Classify(ctx context.Context, domain string) liveness.Evaluation
}

// Filter decides whether a canonical domain is worth classifying.
type Filter interface {
	Keep(domain string) bool
}

// Recorder persists a result record and reports whether it was new.
type Recorder interface {
	Record(ctx context.Context, rec model.ResultRecord) (bool, error)
}

// Controller runs one bounded scan at a time. It assumes it is the only
// active controller for its scan name.
type Controller struct {
	cfg        config.ScanConfig
	store      store.Store
	source     source.Provider
	extractor  extract.Extractor
	filter     Filter
	classifier Classifier
	sink       Recorder
	notifier   notify.Notifier
	log        *zap.Logger
	now        func() time.Time
}

// NewController wires a Controller. A nil notifier discards run summaries.
func NewController(
	cfg config.ScanConfig,
	st store.Store,
	src source.Provider,
	ext extract.Extractor,
	filter Filter,
	cls Classifier,
	sk Recorder,
	n notify.Notifier,
) *Controller {
	if cfg.Name == "" {
		cfg.Name = "default"
	}
	if cfg.CandidateMode == "" {
		cfg.CandidateMode = ModeAll
	}
	if cfg.ClassifyConcurrency <= 0 {
		cfg.ClassifyConcurrency = 1
	}
	if n == nil {
		n = notify.Nop{}
	}
	return &Controller{
		cfg:        cfg,
		store:      st,
		source:     src,
		extractor:  ext,
		filter:     filter,
		classifier: cls,
		sink:       sk,
		notifier:   n,
		log:        zap.L().With(zap.String("component", "scan"), zap.String("scan", cfg.Name)),
		now:        time.Now,
	}
}

// Budget returns the limits applied to each run.
func (c *Controller) Budget() model.RunBudget {
	return model.RunBudget{
		MaxItems:           c.cfg.MaxItems,
		MaxPositiveDomains: c.cfg.MaxPositiveDomains,
		MaxRuntime:         c.cfg.MaxRuntime(),
	}
}

// run carries the mutable state of one invocation.
type run struct {
	sum       *model.RunSummary
	start     time.Time
	processed int
}

// Run executes one bounded run. Budget exhaustion, shard completion, an
// unavailable shard and cancellation all end the run normally with the
// matching StopReason. An error is returned only when state could not be
// read or persisted; the cursor is never moved past unsaved work.
func (c *Controller) Run(ctx context.Context) (*model.RunSummary, error) {
	r := &run{
		start: c.now(),
		sum: &model.RunSummary{
			RunID: uuid.NewString(),
			Scan:  c.cfg.Name,
		},
	}
	r.sum.StartedAt = r.start.UTC()
	log := c.log.With(zap.String("run_id", r.sum.RunID))

	cursor, err := c.store.LoadCursor(ctx, c.cfg.Name)
	if err != nil {
		return c.finish(ctx, r, model.StopFailed, eris.Wrap(err, "scan: load cursor"))
	}

	shardID, offset, stop := c.resolve(ctx, cursor)
	r.sum.ShardID = shardID
	r.sum.StartOffset = offset
	r.sum.EndOffset = offset
	if stop != "" {
		return c.finish(ctx, r, stop, nil)
	}

	items, err := c.source.GetShard(ctx, shardID)
	if err != nil {
		if ctx.Err() != nil {
			return c.finish(ctx, r, model.StopCancelled, nil)
		}
		log.Warn("shard unavailable, cursor left in place",
			zap.String("shard_id", shardID),
			zap.Error(err),
		)
		return c.finish(ctx, r, model.StopSourceUnavailable, nil)
	}
	if offset > len(items) {
		log.Warn("cursor beyond shard end, treating shard as complete",
			zap.String("shard_id", shardID),
			zap.Int("offset", offset),
			zap.Int("shard_len", len(items)),
		)
		offset = len(items)
	}

	log.Info("scanning shard",
		zap.String("shard_id", shardID),
		zap.Int("offset", offset),
		zap.Int("shard_len", len(items)),
	)

	begin := offset
	for offset < len(items) {
		if reason := c.budgetHit(r); reason != "" {
			return c.stopAt(ctx, r, shardID, offset, reason)
		}
		if ctx.Err() != nil {
			return c.stopAt(ctx, r, shardID, offset, model.StopCancelled)
		}

		// The item in flight is finished even if ctx is cancelled meanwhile.
		if err := c.processItem(context.WithoutCancel(ctx), r, items[offset]); err != nil {
			return c.finish(ctx, r, model.StopFailed, eris.Wrapf(err, "scan: item %s at %s:%d", items[offset].ID, shardID, offset))
		}

		offset++
		next := model.ShardCursor{ShardID: shardID, Offset: offset, ShardComplete: offset == len(items)}
		if err := c.save(ctx, r, next); err != nil {
			return c.finish(ctx, r, model.StopFailed, err)
		}
	}

	// Empty shards and cursors already at the end never entered the loop.
	if offset == begin {
		if err := c.save(ctx, r, model.ShardCursor{ShardID: shardID, Offset: offset, ShardComplete: true}); err != nil {
			return c.finish(ctx, r, model.StopFailed, err)
		}
	}
	return c.finish(ctx, r, model.StopShardComplete, nil)
}

// resolve picks the shard and offset for this run from the saved cursor.
// A non-empty StopReason means there is nothing to scan now.
func (c *Controller) resolve(ctx context.Context, cursor model.ShardCursor) (string, int, model.StopReason) {
	if cursor.ShardID != "" && !cursor.ShardComplete {
		return cursor.ShardID, cursor.Offset, ""
	}

	ids, err := c.source.ListShardIDs(ctx)
	if err != nil {
		c.log.Warn("list shards failed", zap.Error(err))
		return cursor.ShardID, cursor.Offset, model.StopSourceUnavailable
	}

	if cursor.ShardID == "" {
		if len(ids) == 0 {
			return "", 0, model.StopExhausted
		}
		return ids[0], 0, ""
	}

	i := slices.Index(ids, cursor.ShardID)
	if i < 0 {
		c.log.Warn("checkpointed shard no longer listed", zap.String("shard_id", cursor.ShardID))
		return cursor.ShardID, cursor.Offset, model.StopSourceUnavailable
	}
	if i+1 >= len(ids) {
		return cursor.ShardID, cursor.Offset, model.StopExhausted
	}
	c.log.Info("rolling over to next shard",
		zap.String("from", cursor.ShardID),
		zap.String("to", ids[i+1]),
	)
	return ids[i+1], 0, ""
}

func (c *Controller) budgetHit(r *run) model.StopReason {
	switch {
	case c.cfg.MaxItems > 0 && r.processed >= c.cfg.MaxItems:
		return model.StopBudgetItems
	case c.cfg.MaxPositiveDomains > 0 && r.sum.PositiveDomains >= c.cfg.MaxPositiveDomains:
		return model.StopBudgetPositive
	case c.cfg.MaxRuntimeSecs > 0 && c.now().Sub(r.start) >= c.cfg.MaxRuntime():
		return model.StopBudgetRuntime
	}
	return ""
}

// stopAt persists the cursor at offset, which has not been processed yet.
func (c *Controller) stopAt(ctx context.Context, r *run, shardID string, offset int, reason model.StopReason) (*model.RunSummary, error) {
	if err := c.save(ctx, r, model.ShardCursor{ShardID: shardID, Offset: offset}); err != nil {
		return c.finish(ctx, r, model.StopFailed, err)
	}
	return c.finish(ctx, r, reason, nil)
}

func (c *Controller) save(ctx context.Context, r *run, cursor model.ShardCursor) error {
	cursor.UpdatedAt = c.now().UTC()
	if err := c.store.SaveCursor(context.WithoutCancel(ctx), c.cfg.Name, cursor); err != nil {
		return eris.Wrap(err, "scan: save cursor")
	}
	r.sum.ShardID = cursor.ShardID
	r.sum.EndOffset = cursor.Offset
	return nil
}

// processItem runs one item through extraction, filtering, classification
// and recording, then marks it processed. Items already in the ledger are
// skipped and do not count against max_items.
func (c *Controller) processItem(ctx context.Context, r *run, item model.Item) error {
	done, err := c.store.IsProcessed(ctx, item.ID)
	if err != nil {
		return eris.Wrap(err, "check ledger")
	}
	if done {
		r.sum.ItemsSkipped++
		return nil
	}

	cands := c.candidates(item.Text)
	evals := c.classify(ctx, cands)
	for i, ev := range evals {
		r.sum.CandidatesChecked++
		rec := model.ResultRecord{
			Domain:       cands[i].CanonicalDomain,
			SourceItemID: item.ID,
			RawURL:       cands[i].RawText,
			Verdict:      ev.Verdict,
			DecidedBy:    ev.DecidedBy,
			DiscoveredAt: c.now().UTC(),
		}

		switch ev.Verdict {
		case model.VerdictLikelyAvailable:
			r.sum.PositiveDomains++
		case model.VerdictUnknown:
			r.sum.UnknownDomains++
			if !c.cfg.RecordUnknown {
				continue
			}
		default:
			continue
		}
		if _, err := c.sink.Record(ctx, rec); err != nil {
			return err
		}
	}

	if err := c.store.MarkProcessed(ctx, item.ID); err != nil {
		return eris.Wrap(err, "mark processed")
	}
	r.processed++
	r.sum.ItemsScanned++
	return nil
}

// candidates extracts, filters and, in first mode, truncates.
func (c *Controller) candidates(text string) []model.Candidate {
	var out []model.Candidate
	for _, cand := range c.extractor.Extract(text) {
		if c.filter != nil && !c.filter.Keep(cand.CanonicalDomain) {
			continue
		}
		out = append(out, cand)
		if c.cfg.CandidateMode == ModeFirst {
			break
		}
	}
	return out
}

// classify evaluates candidates with bounded parallelism. Results keep the
// candidate order.
func (c *Controller) classify(ctx context.Context, cands []model.Candidate) []liveness.Evaluation {
	evals := make([]liveness.Evaluation, len(cands))
	if len(cands) <= 1 || c.cfg.ClassifyConcurrency <= 1 {
		for i, cand := range cands {
			evals[i] = c.classifier.Classify(ctx, cand.CanonicalDomain)
		}
		return evals
	}

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(c.cfg.ClassifyConcurrency)
	for i, cand := range cands {
		g.Go(func() error {
			evals[i] = c.classifier.Classify(gctx, cand.CanonicalDomain)
			return nil
		})
	}
	_ = g.Wait()
	return evals
}

// finish stamps the summary, appends it to run history and announces it.
// History and notification failures are logged, never returned.
func (c *Controller) finish(ctx context.Context, r *run, reason model.StopReason, runErr error) (*model.RunSummary, error) {
	sum := r.sum
	sum.StopReason = reason
	sum.Duration = c.now().Sub(r.start)

	bg := context.WithoutCancel(ctx)
	log := c.log.With(zap.String("run_id", sum.RunID))
	if err := c.store.SaveRun(bg, *sum); err != nil {
		log.Warn("save run history failed", zap.Error(err))
	}

	msg := fmt.Sprintf("scan %s stopped (%s): %d items scanned, %d positive domains",
		sum.Scan, sum.StopReason, sum.ItemsScanned, sum.PositiveDomains)
	if err := c.notifier.Notify(bg, notify.NewEvent(notify.KindRunSummary, msg, sum)); err != nil {
		log.Warn("run summary notification failed", zap.Error(err))
	}

	fields := []zap.Field{
		zap.String("stop_reason", string(sum.StopReason)),
		zap.String("shard_id", sum.ShardID),
		zap.Int("start_offset", sum.StartOffset),
		zap.Int("end_offset", sum.EndOffset),
		zap.Int("items_scanned", sum.ItemsScanned),
		zap.Int("items_skipped", sum.ItemsSkipped),
		zap.Int("candidates_checked", sum.CandidatesChecked),
		zap.Int("positive_domains", sum.PositiveDomains),
		zap.Int("unknown_domains", sum.UnknownDomains),
		zap.Duration("duration", sum.Duration),
	}
	if runErr != nil {
		log.Error("run failed", append(fields, zap.Error(runErr))...)
		return sum, runErr
	}
	log.Info("run finished", fields...)
	return sum, nil
}
