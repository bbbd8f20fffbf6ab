// Package store persists scan state: the per-scan checkpoint, the dedup ledger
// of processed items, discovered result records and run history.
package store

import (
	"context"
	"time"

	"github.com/sells-group/leakscan/internal/model"
)

// ResultFilter specifies criteria for listing result records.
type ResultFilter struct {
	Verdicts []model.Verdict `json:"verdicts,omitempty"`
	Limit    int             `json:"limit,omitempty"`
	Offset   int             `json:"offset,omitempty"`
	// StaleFirst orders by verified_at ascending with never-verified records
	// first. The default order is newest discovery first.
	StaleFirst bool `json:"stale_first,omitempty"`
}

// CheckpointStore persists one cursor per scan name.
type CheckpointStore interface {
	// LoadCursor returns the zero cursor when the scan has never saved one.
	LoadCursor(ctx context.Context, scan string) (model.ShardCursor, error)
	SaveCursor(ctx context.Context, scan string, cursor model.ShardCursor) error
	DeleteCursor(ctx context.Context, scan string) error
}

// Ledger records source items that have been fully processed.
type Ledger interface {
	IsProcessed(ctx context.Context, itemID string) (bool, error)
	// MarkProcessed is idempotent.
	MarkProcessed(ctx context.Context, itemID string) error
	// ImportProcessed bulk-loads ids and returns how many were new.
	ImportProcessed(ctx context.Context, itemIDs []string) (int64, error)
	CountProcessed(ctx context.Context) (int64, error)
}

// ResultStore holds result records keyed by (domain, source item).
type ResultStore interface {
	// UpsertResult inserts rec unless its key already exists, in which case the
	// stored record is left untouched. It reports whether a row was inserted.
	UpsertResult(ctx context.Context, rec model.ResultRecord) (bool, error)
	// GetResult returns nil when the key is absent.
	GetResult(ctx context.Context, key model.ResultKey) (*model.ResultRecord, error)
	ListResults(ctx context.Context, filter ResultFilter) ([]model.ResultRecord, error)
	UpdateVerdict(ctx context.Context, key model.ResultKey, verdict model.Verdict, decidedBy string, verifiedAt time.Time) error
	DeleteResult(ctx context.Context, key model.ResultKey) error
	CountResults(ctx context.Context) (map[model.Verdict]int64, error)
}

// RunStore keeps the history of finished runs.
type RunStore interface {
	SaveRun(ctx context.Context, summary model.RunSummary) error
	ListRuns(ctx context.Context, limit int) ([]model.RunSummary, error)
}

// Store is the full persistence backend.
type Store interface {
	CheckpointStore
	Ledger
	ResultStore
	RunStore

	Migrate(ctx context.Context) error
	Close() error
}

const defaultListLimit = 100

func listLimit(n int) int {
	if n <= 0 {
		return defaultListLimit
	}
	return n
}

func verdictStrings(vs []model.Verdict) []string {
	out := make([]string, len(vs))
	for i, v := range vs {
		out[i] = string(v)
	}
	return out
}

// cleanIDs drops blank ids and duplicates, preserving order.
func cleanIDs(ids []string) []string {
	seen := make(map[string]struct{}, len(ids))
	out := make([]string, 0, len(ids))
	for _, id := range ids {
		if id == "" {
			continue
		}
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}
		out = append(out, id)
	}
	return out
}
