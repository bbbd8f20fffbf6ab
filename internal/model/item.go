package model

import "time"

// Item is one source entry: an opaque identifier and the free text to mine.
type Item struct {
	ID   string `json:"id"`
	Text string `json:"text"`
}

// ProcessedItem is a dedup ledger entry.
type ProcessedItem struct {
	ItemID      string    `json:"item_id"`
	ProcessedAt time.Time `json:"processed_at"`
}

// Candidate is a domain extracted from item text.
type Candidate struct {
	RawText         string `json:"raw_text"`
	CanonicalDomain string `json:"canonical_domain"`
}
