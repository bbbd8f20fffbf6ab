package model

import "time"

// ResultRecord is a discovered (domain, source item) pair. It is keyed by
// Domain and SourceItemID.
type ResultRecord struct {
	Domain       string     `json:"domain"`
	SourceItemID string     `json:"source_item_id"`
	RawURL       string     `json:"raw_url,omitempty"`
	Verdict      Verdict    `json:"verdict"`
	DecidedBy    string     `json:"decided_by,omitempty"`
	DiscoveredAt time.Time  `json:"discovered_at"`
	VerifiedAt   *time.Time `json:"verified_at,omitempty"`
}

// ResultKey identifies a ResultRecord.
type ResultKey struct {
	Domain       string `json:"domain"`
	SourceItemID string `json:"source_item_id"`
}

// Key returns the record's upsert key.
func (r ResultRecord) Key() ResultKey {
	return ResultKey{Domain: r.Domain, SourceItemID: r.SourceItemID}
}
