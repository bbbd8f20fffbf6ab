package model

import "time"

// StopReason records why a run ended.
type StopReason string

const (
	StopExhausted         StopReason = "exhausted"
	StopShardComplete     StopReason = "shard_complete"
	StopBudgetItems       StopReason = "budget_items"
	StopBudgetPositive    StopReason = "budget_positive"
	StopBudgetRuntime     StopReason = "budget_runtime"
	StopCancelled         StopReason = "cancelled"
	StopSourceUnavailable StopReason = "source_unavailable"
	StopFailed            StopReason = "failed"
)

// BudgetHit reports whether the run ended because a budget was exhausted.
func (r StopReason) BudgetHit() bool {
	return r == StopBudgetItems || r == StopBudgetPositive || r == StopBudgetRuntime
}

// RunBudget bounds a single run. Zero values mean unlimited.
type RunBudget struct {
	MaxItems           int           `json:"max_items"`
	MaxPositiveDomains int           `json:"max_positive_domains"`
	MaxRuntime         time.Duration `json:"max_runtime"`
}

// RunSummary is the observable outcome of one run.
type RunSummary struct {
	RunID             string        `json:"run_id"`
	Scan              string        `json:"scan"`
	ShardID           string        `json:"shard_id"`
	StartOffset       int           `json:"start_offset"`
	EndOffset         int           `json:"end_offset"`
	ItemsScanned      int           `json:"items_scanned"`
	ItemsSkipped      int           `json:"items_skipped"`
	CandidatesChecked int           `json:"candidates_checked"`
	PositiveDomains   int           `json:"positive_domains"`
	UnknownDomains    int           `json:"unknown_domains"`
	StopReason        StopReason    `json:"stop_reason"`
	StartedAt         time.Time     `json:"started_at"`
	Duration          time.Duration `json:"duration"`
}

// VerifySummary is the observable outcome of one re-verification pass.
type VerifySummary struct {
	Checked   int `json:"checked"`
	Available int `json:"available"`
	Upgraded  int `json:"upgraded"`
	Taken     int `json:"taken"`
	Pruned    int `json:"pruned"`
	Unknown   int `json:"unknown"`
}
